package valuation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ds(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = d(v)
	}
	return out
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func flatCurve(month string, rate string, terms int) *Curve {
	rates := make(map[int]decimal.Decimal, terms+1)
	for i := 0; i <= terms; i++ {
		rates[i] = d(rate)
	}
	return NewCurve(month, rates)
}

func TestDiscount_ZeroAmountShortCircuits(t *testing.T) {
	for _, mode := range []Mode{ModeCurrent, ModeAccidentLocked} {
		pv, err := Discount(decimal.Zero, ds("0.05", "0.95"), nil, 1, mode)
		require.NoError(t, err)
		assert.True(t, pv.IsZero())
	}
}

func TestDiscount_ZeroRateScenario(t *testing.T) {
	curve := flatCurve("202401", "0.00", 12)
	factors := ds("0.05", "0.95")

	pv, steps, err := DiscountTrace(d("100"), factors, curve, 1, ModeCurrent)
	require.NoError(t, err)
	assertDec(t, "100.0000000000", pv)
	require.Len(t, steps, 1)
	assertDec(t, "100", steps[0].CashFlow)
	assertDec(t, "1", steps[0].DiscountFactor)

	pv, steps, err = DiscountTrace(d("100"), factors, curve, 0, ModeCurrent)
	require.NoError(t, err)
	assertDec(t, "100.0000000000", pv)
	require.Len(t, steps, 2)
	assertDec(t, "5", steps[0].PresentValue)
	assertDec(t, "95", steps[1].PresentValue)
	assert.Equal(t, 1, steps[1].FirstTerm)
	assert.Equal(t, 2, steps[1].LastTerm)
}

func TestDiscount_FullyDevelopedTail(t *testing.T) {
	curve := NewCurve("202401", map[int]decimal.Decimal{1: d("0.01"), 3: d("0.02")})
	factors := ds("0.05", "0.95")

	pv, err := Discount(d("100"), factors, curve, 3, ModeCurrent)
	require.NoError(t, err)
	assertDec(t, "99.0099009901", pv)

	pv, steps, err := DiscountTrace(d("100"), factors, curve, 3, ModeAccidentLocked)
	require.NoError(t, err)
	assertDec(t, "98.0392156863", pv)
	require.Len(t, steps, 1)
	assertDec(t, "1", steps[0].Factor)
	assert.Equal(t, 3, steps[0].FirstTerm)
}

func TestDiscount_Modes(t *testing.T) {
	factors := ds("0.2", "0.3", "0.5")
	accident := NewCurve("202312", map[int]decimal.Decimal{1: d("0.01"), 2: d("0.02")})
	current := NewCurve("202401", map[int]decimal.Decimal{1: d("0.03"), 2: d("0.04")})

	pv, err := Discount(d("80"), factors, accident, 1, ModeAccidentLocked)
	require.NoError(t, err)
	assertDec(t, "78.2372354882", pv)

	pv, steps, err := DiscountTrace(d("80"), factors, current, 1, ModeCurrent)
	require.NoError(t, err)
	assertDec(t, "75.8028379387", pv)
	assertDec(t, "1.0712", steps[1].DiscountFactor)
}

func TestDiscount_SequentialRounding(t *testing.T) {
	// Rounding each compounding step gives 1.0000000002; rounding only the
	// final product would give 1.0000000001.
	curve := NewCurve("202401", map[int]decimal.Decimal{1: d("0.00000000005"), 2: d("0.00000000005")})

	pv, steps, err := DiscountTrace(d("1"), ds("0", "1"), curve, 0, ModeCurrent)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assertDec(t, "1.0000000001", steps[0].DiscountFactor)
	assertDec(t, "1.0000000002", steps[1].DiscountFactor)
	assertDec(t, "0.9999999998", pv)
}

func TestDiscount_ZeroSumWindow(t *testing.T) {
	pv, err := Discount(d("100"), ds("1", "0", "0"), nil, 1, ModeCurrent)
	require.NoError(t, err)
	assert.True(t, pv.IsZero())
}

func TestDiscount_MissingRate(t *testing.T) {
	curve := NewCurve("202401", map[int]decimal.Decimal{1: d("0")})

	_, err := Discount(d("100"), ds("0.5", "0.5"), curve, 0, ModeCurrent)
	require.Error(t, err)

	var mr *MissingRateError
	require.True(t, errors.As(err, &mr))
	assert.Equal(t, 2, mr.Period)
	assert.Equal(t, "202401", mr.Curve)
	assert.Contains(t, err.Error(), "period: 2")
	assert.True(t, IsConfigurationError(err))
}

func TestDiscount_MissingCurve(t *testing.T) {
	_, err := Discount(d("100"), ds("0.5", "0.5"), nil, 1, ModeAccidentLocked)
	var mr *MissingRateError
	require.True(t, errors.As(err, &mr))
	assert.Equal(t, 1, mr.Period)
}

func TestDiscount_NegativeOffset(t *testing.T) {
	_, err := Discount(d("100"), ds("1"), flatCurve("202401", "0", 3), -1, ModeCurrent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNegativeOffset))
}

func TestAccrueForward(t *testing.T) {
	curve := NewCurve("202312", map[int]decimal.Decimal{2: d("0.01")})

	got, err := AccrueForward(d("100"), curve, 2)
	require.NoError(t, err)
	assertDec(t, "101", got)

	got, err = AccrueForward(decimal.Zero, nil, 2)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = AccrueForward(d("1"), curve, 3)
	assert.True(t, IsConfigurationError(err))
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "current", ModeCurrent.String())
	assert.Equal(t, "accident_locked", ModeAccidentLocked.String())
	assert.Equal(t, "unknown", Mode(0).String())
}
