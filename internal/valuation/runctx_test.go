package valuation

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
)

func TestNewRunContext_Indexes(t *testing.T) {
	ref := testReference()
	ref.Assumptions = append(ref.Assumptions,
		model.Assumption{ValMethod: "BEL", ValMonth: "202401", ClassCode: "A1", LicRA: d("0.9")},
		model.Assumption{ValMethod: "PAA", ValMonth: "202401", ClassCode: "B2", LicRA: d("0.1")},
	)
	// out of order on purpose
	ref.Factors = []model.DevelopmentFactor{
		{ClassCode: "A1", MonthID: 3, PaidRatio: d("0.2")},
		{ClassCode: "A1", MonthID: 1, PaidRatio: d("0.5")},
		{ClassCode: "A1", MonthID: 2, PaidRatio: d("0.3")},
	}
	rc := NewRunContext(period.MustParse("202401"), "BEL", ref)

	assert.Equal(t, "202312", rc.PrevMonth.String())
	assertDec(t, "0.035", rc.Assumption("A1").LicRA, "first duplicate wins")
	assert.True(t, rc.Assumption("B2").LicRA.IsZero(), "other method filtered out")

	f, err := rc.Factors("A1")
	require.NoError(t, err)
	require.Len(t, f, 3)
	assertDec(t, "0.5", f[0])
	assertDec(t, "0.3", f[1])
	assertDec(t, "0.2", f[2])

	assert.NotNil(t, rc.Curve("202401"))
	assert.Nil(t, rc.Curve("209912"))

	stats := rc.Stats()
	assert.Equal(t, 1, stats.Assumptions)
	assert.Equal(t, 1, stats.FactorClasses)
	assert.Equal(t, 2, stats.Curves)
	assert.Equal(t, 0, stats.PriorOpen)
}

func TestPriorSet_TakeOnceUnderContention(t *testing.T) {
	ps := NewPriorSet([]model.UnsettledResult{priorRow("202312", "U1")})
	key := model.MatchKey("202312", "202312", "U1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := ps.Take(key); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Empty(t, ps.Remaining())

	_, ok := ps.Peek(key)
	assert.True(t, ok, "peek still sees the snapshot")
}

func TestPriorSet_DuplicatesAndMisses(t *testing.T) {
	first := priorRow("202312", "U1")
	second := priorRow("202312", "U1")
	second.RA = d("0.99")
	ps := NewPriorSet([]model.UnsettledResult{first, second, priorRow("202311", "U2")})

	assert.Equal(t, 2, ps.Len())

	_, ok := ps.Take("nope")
	assert.False(t, ok)

	r, ok := ps.Take(model.MatchKey("202312", "202312", "U1"))
	require.True(t, ok)
	assertDec(t, "0.03", r.RA)

	rest := ps.Remaining()
	require.Len(t, rest, 1)
	assert.Equal(t, "U2", rest[0].UnitID)
}
