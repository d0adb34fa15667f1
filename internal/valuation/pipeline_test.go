package valuation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/reserve-cli/internal/model"
)

// memStore is an in-memory Store keyed like the result table.
type memStore struct {
	mu          sync.Mutex
	ref         ReferenceData
	groups      []model.ClaimGroup
	results     []model.UnsettledResult
	readErrAt   int64 // fail reads after this cursor when > 0
	insertCalls int
	deleteCalls int
	pageSizes   []int
}

func (m *memStore) LoadAssumptions(_ context.Context, _ string) ([]model.Assumption, error) {
	return m.ref.Assumptions, nil
}

func (m *memStore) LoadDevelopmentFactors(context.Context) ([]model.DevelopmentFactor, error) {
	return m.ref.Factors, nil
}

func (m *memStore) LoadDiscountRates(context.Context) ([]model.DiscountRate, error) {
	return m.ref.Rates, nil
}

func (m *memStore) LoadPriorOpenResults(_ context.Context, valMonth, valMethod string) ([]model.UnsettledResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.UnsettledResult
	for _, r := range m.results {
		if r.ValMonth == valMonth && r.ValMethod == valMethod && !r.Decided {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ReadClaimGroups(_ context.Context, valMonth, valMethod string, afterID int64, limit int) ([]model.ClaimGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErrAt > 0 && afterID >= m.readErrAt {
		return nil, eris.New("connection reset")
	}
	var out []model.ClaimGroup
	for _, g := range m.groups {
		if g.ValMonth == valMonth && g.ValMethod == valMethod && g.ID > afterID {
			out = append(out, g)
			if len(out) == limit {
				break
			}
		}
	}
	m.pageSizes = append(m.pageSizes, len(out))
	return out, nil
}

func (m *memStore) DeleteResults(_ context.Context, valMonth, valMethod string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	kept := m.results[:0]
	var n int64
	for _, r := range m.results {
		if r.ValMonth == valMonth && r.ValMethod == valMethod {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.results = kept
	return n, nil
}

func (m *memStore) InsertResults(_ context.Context, rows []model.UnsettledResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	m.results = append(m.results, rows...)
	return int64(len(rows)), nil
}

func (m *memStore) monthRows(valMonth string) []model.UnsettledResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.UnsettledResult
	for _, r := range m.results {
		if r.ValMonth == valMonth {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func newMemStore(groups int) *memStore {
	m := &memStore{ref: testReference()}
	for i := 1; i <= groups; i++ {
		m.groups = append(m.groups, model.ClaimGroup{
			ID:            int64(i),
			ValMonth:      "202401",
			ValMethod:     "BEL",
			AccidentMonth: "202312",
			ClassCode:     "A1",
			UnitID:        fmt.Sprintf("U%03d", i),
			CaseAmt:       d("101"),
		})
	}
	return m
}

func TestPipeline_PagesAndWorkers(t *testing.T) {
	m := newMemStore(25)

	var transitions []string
	p := NewPipeline(m, Options{
		PageSize:  10,
		Workers:   3,
		CreatedBy: "test",
		OnState:   func(_, to State) { transitions = append(transitions, to.String()) },
	})
	res, err := p.Run(context.Background(), "BEL", "2024-01")
	require.NoError(t, err)

	assert.Equal(t, "202401", res.ValMonth)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, int64(25), res.GroupsValuated)
	assert.Equal(t, int64(0), res.DecidedRows)
	assert.Equal(t, int64(25), res.RowsWritten)
	assert.Equal(t, []int{10, 10, 5, 0}, m.pageSizes)
	assert.Equal(t, StateDone, p.State())
	assert.Equal(t, []string{"idle", "caches_loading", "paging", "reconciling", "done"}, transitions)

	rows := m.monthRows("202401")
	require.Len(t, rows, 25)
	for _, r := range rows {
		assert.Equal(t, "test", r.CreatedBy)
		assertDec(t, "100", r.PVCurrent.Case)
	}
}

func TestPipeline_PriorRollForwardAndDecided(t *testing.T) {
	m := newMemStore(3)
	// U001 and U002 continue; GONE disappears this month.
	m.results = []model.UnsettledResult{
		priorRow("202312", "U001"),
		priorRow("202312", "U002"),
		priorRow("202312", "GONE"),
	}

	res, err := NewPipeline(m, Options{PageSize: 2, Workers: 2}).Run(context.Background(), "BEL", "202401")
	require.NoError(t, err)
	assert.Equal(t, 3, res.PriorOpen)
	assert.Equal(t, int64(3), res.GroupsValuated)
	assert.Equal(t, int64(1), res.DecidedRows)
	assert.Equal(t, int64(4), res.RowsWritten)

	rows := m.monthRows("202401")
	require.Len(t, rows, 4)
	byUnit := map[string]model.UnsettledResult{}
	for _, r := range rows {
		byUnit[r.UnitID] = r
	}
	assert.True(t, byUnit["GONE"].Decided)
	assertDec(t, "-50", byUnit["GONE"].ClaimLiabilityChange)
	assertDec(t, "50", byUnit["U001"].ClaimLiabilityChange)
	assertDec(t, "50", byUnit["U002"].ClaimLiabilityChange)
	assertDec(t, "100", byUnit["U003"].ClaimLiabilityChange)
}

func TestPipeline_AllPriorsMatchedAcrossPages(t *testing.T) {
	m := newMemStore(40)
	for i := 1; i <= 40; i++ {
		m.results = append(m.results, priorRow("202312", fmt.Sprintf("U%03d", i)))
	}

	res, err := NewPipeline(m, Options{PageSize: 3, Workers: 8}).Run(context.Background(), "BEL", "202401")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.DecidedRows, "decided transitions must wait for every page")
	assert.Equal(t, int64(40), res.RowsWritten)
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	m := newMemStore(12)
	m.results = []model.UnsettledResult{priorRow("202312", "U001"), priorRow("202312", "GONE")}

	p := NewPipeline(m, Options{PageSize: 5, Workers: 2})
	_, err := p.Run(context.Background(), "BEL", "202401")
	require.NoError(t, err)
	first := m.monthRows("202401")

	res, err := p.Run(context.Background(), "BEL", "202401")
	require.NoError(t, err)
	second := m.monthRows("202401")

	assert.Equal(t, int64(13), res.Deleted)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Key(), second[i].Key())
		assert.Equal(t, first[i].Decided, second[i].Decided)
		assert.True(t, first[i].ClaimLiabilityChange.Equal(second[i].ClaimLiabilityChange))
		assert.True(t, first[i].OCIChange.Equal(second[i].OCIChange))
		if !first[i].Decided {
			assert.Equal(t, first[i].ID, second[i].ID, "open row ids are stable")
		}
	}
	assert.Len(t, m.monthRows("202312"), 2, "prior month untouched")
}

func TestPipeline_ConfigurationErrorFails(t *testing.T) {
	m := newMemStore(5)
	m.groups[3].ClassCode = "NOPE"

	p := NewPipeline(m, Options{PageSize: 2, Workers: 2})
	_, err := p.Run(context.Background(), "BEL", "202401")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "claim group id 4")
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, 1, m.deleteCalls, "delete runs before any insert")
}

func TestPipeline_FailureLogClassifiesError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	undo := zap.ReplaceGlobals(zap.New(core))
	defer undo()

	m := newMemStore(3)
	m.groups[1].ClassCode = "NOPE"
	_, err := NewPipeline(m, Options{PageSize: 2, Workers: 1}).Run(context.Background(), "BEL", "202401")
	require.Error(t, err)

	m = newMemStore(3)
	m.readErrAt = 2
	_, err = NewPipeline(m, Options{PageSize: 2, Workers: 1}).Run(context.Background(), "BEL", "202401")
	require.Error(t, err)

	failed := logs.FilterMessage("valuation run failed").AllUntimed()
	require.Len(t, failed, 2)
	assert.Equal(t, true, failed[0].ContextMap()["configuration_error"])
	assert.Equal(t, false, failed[1].ContextMap()["configuration_error"])
}

func TestPipeline_ReadErrorFails(t *testing.T) {
	m := newMemStore(10)
	m.readErrAt = 4

	_, err := NewPipeline(m, Options{PageSize: 4, Workers: 1}).Run(context.Background(), "BEL", "202401")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "after id 4")
}

func TestPipeline_BadMonth(t *testing.T) {
	m := newMemStore(1)
	_, err := NewPipeline(m, Options{}).Run(context.Background(), "BEL", "24-01")
	require.Error(t, err)
	assert.Equal(t, 0, m.deleteCalls)
}

func TestPipeline_EmptyStaging(t *testing.T) {
	m := newMemStore(0)
	res, err := NewPipeline(m, Options{PagesPerSecond: 1000}).Run(context.Background(), "BEL", "202401")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pages)
	assert.Equal(t, int64(0), res.RowsWritten)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "reconciling", StateReconciling.String())
}
