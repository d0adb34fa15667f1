package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reserve-cli/internal/model"
)

// Kind names the table a file feeds.
type Kind string

const (
	KindAssumptions Kind = "assumptions"
	KindFactors     Kind = "factors"
	KindRates       Kind = "rates"
	KindClaims      Kind = "claims"
)

// Kinds lists every loadable kind.
var Kinds = []Kind{KindAssumptions, KindFactors, KindRates, KindClaims}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", eris.Errorf("loader: unknown kind %q (want assumptions, factors, rates or claims)", s)
}

// Options controls how a file is read.
type Options struct {
	// Sheet selects an XLSX worksheet by name; the first sheet otherwise.
	Sheet string
	// Delimiter overrides the CSV separator. Files ending in .tsv default to tab.
	Delimiter rune
}

// Batch holds the parsed rows of one file. Only the slice matching Kind is set.
type Batch struct {
	Kind        Kind
	Assumptions []model.Assumption
	Factors     []model.DevelopmentFactor
	Rates       []model.DiscountRate
	Claims      []model.ClaimGroup
}

// Len returns the number of parsed rows.
func (b *Batch) Len() int {
	switch b.Kind {
	case KindAssumptions:
		return len(b.Assumptions)
	case KindFactors:
		return len(b.Factors)
	case KindRates:
		return len(b.Rates)
	case KindClaims:
		return len(b.Claims)
	default:
		return 0
	}
}

// ReadFile reads path as CSV (.csv, .tsv, .txt) or XLSX (.xlsx) and parses
// it as kind.
func ReadFile(ctx context.Context, path string, kind Kind, opts Options) (*Batch, error) {
	rows, err := readRows(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	b, err := Parse(kind, rows)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: %s", filepath.Base(path))
	}
	return b, nil
}

func readRows(ctx context.Context, path string, opts Options) ([][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet})
	case ".csv", ".tsv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "loader: open file")
		}
		defer f.Close() //nolint:errcheck

		csvOpts := CSVOptions{Delimiter: opts.Delimiter, Comment: '#'}
		if csvOpts.Delimiter == 0 && ext == ".tsv" {
			csvOpts.Delimiter = '\t'
		}
		return ReadCSV(ctx, f, csvOpts)
	default:
		return nil, eris.Errorf("loader: unsupported file type %q", ext)
	}
}

// Parse converts header-led rows into a Batch of kind.
func Parse(kind Kind, rows [][]string) (*Batch, error) {
	b := &Batch{Kind: kind}
	var err error
	switch kind {
	case KindAssumptions:
		b.Assumptions, err = ParseAssumptions(rows)
	case KindFactors:
		b.Factors, err = ParseFactors(rows)
	case KindRates:
		b.Rates, err = ParseRates(rows)
	case KindClaims:
		b.Claims, err = ParseClaimGroups(rows)
	default:
		return nil, eris.Errorf("loader: unknown kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Writer is the subset of the store a Batch is written to.
type Writer interface {
	InsertAssumptions(ctx context.Context, rows []model.Assumption) error
	InsertDevelopmentFactors(ctx context.Context, rows []model.DevelopmentFactor) error
	InsertDiscountRates(ctx context.Context, rows []model.DiscountRate) error
	InsertClaimGroups(ctx context.Context, groups []model.ClaimGroup) error
}

// Write appends b to the table for its kind and returns the row count.
func Write(ctx context.Context, w Writer, b *Batch) (int, error) {
	log := zap.L().With(zap.String("component", "loader"), zap.String("kind", string(b.Kind)))
	if b.Len() == 0 {
		log.Warn("nothing to load")
		return 0, nil
	}

	var err error
	switch b.Kind {
	case KindAssumptions:
		err = w.InsertAssumptions(ctx, b.Assumptions)
	case KindFactors:
		err = w.InsertDevelopmentFactors(ctx, b.Factors)
	case KindRates:
		err = w.InsertDiscountRates(ctx, b.Rates)
	case KindClaims:
		err = w.InsertClaimGroups(ctx, b.Claims)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "loader: write %s", b.Kind)
	}

	log.Info("rows loaded", zap.Int("rows", b.Len()))
	return b.Len(), nil
}
