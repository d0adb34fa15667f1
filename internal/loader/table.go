package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/reserve-cli/internal/period"
)

// RowError locates a bad cell. Line is 1-based and counts the header.
type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("loader: line %d, column %s: %v", e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// table indexes data rows by the lower-cased names in the header row.
type table struct {
	cols map[string]int
	rows [][]string
}

func newTable(rows [][]string, required ...string) (*table, error) {
	if len(rows) == 0 {
		return nil, eris.New("loader: no header row")
	}
	t := &table{cols: make(map[string]int, len(rows[0])), rows: rows[1:]}
	for i, name := range rows[0] {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := t.cols[name]; !dup {
			t.cols[name] = i
		}
	}

	var missing []string
	for _, name := range required {
		if _, ok := t.cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("loader: missing column(s): %s", strings.Join(missing, ", "))
	}
	return t, nil
}

// each calls fn for every non-blank data row with its 1-based file line.
func (t *table) each(fn func(line int, row []string) error) error {
	for i, row := range t.rows {
		if blank(row) {
			continue
		}
		if err := fn(i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (t *table) str(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// required returns the cell or a *RowError when it is empty.
func (t *table) required(line int, row []string, col string) (string, error) {
	v := t.str(row, col)
	if v == "" {
		return "", &RowError{Line: line, Column: col, Err: eris.New("value is required")}
	}
	return v, nil
}

// dec parses the cell. An empty optional cell is zero.
func (t *table) dec(line int, row []string, col string, optional bool) (decimal.Decimal, error) {
	v := t.str(row, col)
	if v == "" {
		if optional {
			return decimal.Zero, nil
		}
		return decimal.Zero, &RowError{Line: line, Column: col, Err: eris.New("value is required")}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
	if err != nil {
		return decimal.Zero, &RowError{Line: line, Column: col, Err: err}
	}
	return d, nil
}

func (t *table) integer(line int, row []string, col string) (int, error) {
	v, err := t.required(line, row, col)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &RowError{Line: line, Column: col, Err: err}
	}
	return n, nil
}

// month parses the cell as a year-month and returns it in canonical form.
func (t *table) month(line int, row []string, col string) (string, error) {
	v, err := t.required(line, row, col)
	if err != nil {
		return "", err
	}
	ym, err := period.Parse(v)
	if err != nil {
		return "", &RowError{Line: line, Column: col, Err: err}
	}
	return ym.String(), nil
}
