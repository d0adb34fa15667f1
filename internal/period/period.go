// Package period provides the year-month value used for valuation months,
// accident months and curve keys.
package period

import (
	"fmt"
	"strconv"
	"strings"
)

// YearMonth is a calendar month. The zero value is not a valid month.
type YearMonth struct {
	Year  int
	Month int
}

// ParseError reports a value that is not a valid year-month string.
type ParseError struct {
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("period: cannot parse %q as a year-month (expected YYYYMM or YYYY-MM, e.g. 202308)", e.Value)
}

// Parse accepts "YYYYMM" and "YYYY-MM".
func Parse(s string) (YearMonth, error) {
	v := strings.TrimSpace(s)
	var ys, ms string
	switch {
	case len(v) == 6:
		ys, ms = v[:4], v[4:]
	case len(v) == 7 && v[4] == '-':
		ys, ms = v[:4], v[5:]
	default:
		return YearMonth{}, &ParseError{Value: s}
	}
	if !digits(ys) || !digits(ms) {
		return YearMonth{}, &ParseError{Value: s}
	}

	y, err := strconv.Atoi(ys)
	if err != nil || y < 1 {
		return YearMonth{}, &ParseError{Value: s}
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 1 || m > 12 {
		return YearMonth{}, &ParseError{Value: s}
	}
	return YearMonth{Year: y, Month: m}, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParse is Parse for literals known to be valid; it panics otherwise.
func MustParse(s string) YearMonth {
	ym, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ym
}

// String renders the canonical "YYYYMM" form.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d%02d", ym.Year, ym.Month)
}

// IsZero reports whether ym is the zero value.
func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

// AddMonths shifts ym by n months (n may be negative).
func (ym YearMonth) AddMonths(n int) YearMonth {
	idx := ym.index() + n
	return YearMonth{Year: idx / 12, Month: idx%12 + 1}
}

// Previous returns the month before ym.
func (ym YearMonth) Previous() YearMonth {
	return ym.AddMonths(-1)
}

// SameYear reports whether ym and other fall in the same calendar year.
func (ym YearMonth) SameYear(other YearMonth) bool {
	return ym.Year == other.Year
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.index() < other.index()
}

func (ym YearMonth) index() int {
	return ym.Year*12 + ym.Month - 1
}

// MonthsBetween counts the months from start to end with start itself
// counted as period 1: MonthsBetween(202401, 202401) == 1,
// MonthsBetween(202401, 202403) == 3. The result is <= 0 when end
// precedes start.
func MonthsBetween(start, end YearMonth) int {
	return end.index() - start.index() + 1
}

// MonthsBetweenStrings parses both values and returns MonthsBetween.
func MonthsBetweenStrings(start, end string) (int, error) {
	s, err := Parse(start)
	if err != nil {
		return 0, err
	}
	e, err := Parse(end)
	if err != nil {
		return 0, err
	}
	return MonthsBetween(s, e), nil
}
