// Package store persists valuation inputs and results. PostgresStore is the
// production backend; SQLiteStore serves local runs and tests.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/valuation"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing valuation runs.
type RunFilter struct {
	Status    model.RunStatus `json:"status,omitempty"`
	ValMethod string          `json:"val_method,omitempty"`
	ValMonth  string          `json:"val_month,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// RunTotals is what a completed run records in the run log.
type RunTotals struct {
	GroupsValuated int64
	DecidedRows    int64
}

// Store defines the persistence interface for valuation runs.
type Store interface {
	valuation.Store

	// Single-row lookups for explain. unitID and accidentMonth identify
	// the claim group within (valMonth, valMethod).
	GetClaimGroup(ctx context.Context, valMonth, valMethod, accidentMonth, unitID string) (*model.ClaimGroup, error)
	GetResult(ctx context.Context, valMonth, valMethod, accidentMonth, unitID string) (*model.UnsettledResult, error)

	// Reference and staging loads
	InsertAssumptions(ctx context.Context, rows []model.Assumption) error
	InsertDevelopmentFactors(ctx context.Context, rows []model.DevelopmentFactor) error
	InsertDiscountRates(ctx context.Context, rows []model.DiscountRate) error
	InsertClaimGroups(ctx context.Context, groups []model.ClaimGroup) error

	// Run log
	StartRun(ctx context.Context, valMonth, valMethod string) (int64, error)
	CompleteRun(ctx context.Context, runID int64, totals RunTotals) error
	FailRun(ctx context.Context, runID int64, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ValuationRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
