// Package valuation computes present values of unsettled claim cash flows
// and rolls the liability forward from one valuation month to the next.
package valuation

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every intermediate amount is
// rounded to (half away from zero).
const Scale = 10

var one = decimal.NewFromInt(1)

// Mode selects where on the curve the first cash flow is discounted from.
type Mode int

const (
	// ModeCurrent discounts from the valuation date using the curve
	// published at the valuation month, starting at term 1.
	ModeCurrent Mode = iota + 1
	// ModeAccidentLocked discounts with the curve frozen at the accident
	// month, starting at term n.
	ModeAccidentLocked
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeCurrent:
		return "current"
	case ModeAccidentLocked:
		return "accident_locked"
	default:
		return "unknown"
	}
}

// startTerm is the first curve term used for the first remaining cash flow.
func (m Mode) startTerm(n int) int {
	if m == ModeAccidentLocked {
		return n
	}
	return 1
}

// Curve is a monthly forward-rate curve indexed by 1-based term-month.
// A nil *Curve has no rates.
type Curve struct {
	month string
	rates map[int]decimal.Decimal
}

// NewCurve wraps rates for the curve published at month.
func NewCurve(month string, rates map[int]decimal.Decimal) *Curve {
	return &Curve{month: month, rates: rates}
}

// Month returns the valuation month the curve belongs to.
func (c *Curve) Month() string {
	if c == nil {
		return ""
	}
	return c.month
}

// Len returns the number of terms on the curve.
func (c *Curve) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rates)
}

// Rate returns the forward rate for term, or a *MissingRateError.
func (c *Curve) Rate(term int) (decimal.Decimal, error) {
	if c != nil {
		if r, ok := c.rates[term]; ok {
			return r, nil
		}
	}
	return decimal.Zero, &MissingRateError{Curve: c.Month(), Period: term}
}

// Step is the computation for one remaining development period.
type Step struct {
	Period         int             `yaml:"period"`
	Factor         decimal.Decimal `yaml:"factor"`
	CashFlow       decimal.Decimal `yaml:"cash_flow"`
	FirstTerm      int             `yaml:"first_term"`
	LastTerm       int             `yaml:"last_term"`
	DiscountFactor decimal.Decimal `yaml:"discount_factor"`
	PresentValue   decimal.Decimal `yaml:"present_value"`
}

// Discount returns the present value of lossAmount paid out along the part of
// factors not yet elapsed after n periods, discounted on curve.
//
// A zero lossAmount returns zero without touching the curve. When n is past
// the end of factors the remaining window is a single period with factor 1.
// A zero-sum window returns zero. Every cash flow, compounding step and
// period PV is rounded to Scale digits; the compounding is rounded after each
// multiplication, not only at the end.
func Discount(lossAmount decimal.Decimal, factors []decimal.Decimal, curve *Curve, n int, mode Mode) (decimal.Decimal, error) {
	return discount(lossAmount, factors, curve, n, mode, nil)
}

// DiscountTrace is Discount that also returns the per-period steps.
func DiscountTrace(lossAmount decimal.Decimal, factors []decimal.Decimal, curve *Curve, n int, mode Mode) (decimal.Decimal, []Step, error) {
	var steps []Step
	pv, err := discount(lossAmount, factors, curve, n, mode, func(s Step) {
		steps = append(steps, s)
	})
	if err != nil {
		return decimal.Zero, nil, err
	}
	return pv, steps, nil
}

func discount(lossAmount decimal.Decimal, factors []decimal.Decimal, curve *Curve, n int, mode Mode, sink func(Step)) (decimal.Decimal, error) {
	if lossAmount.IsZero() {
		return decimal.Zero, nil
	}
	if n < 0 {
		return decimal.Zero, eris.Wrapf(ErrNegativeOffset, "valuation: development offset %d", n)
	}

	remaining := []decimal.Decimal{one}
	if n < len(factors) {
		remaining = factors[n:]
	}

	sum := decimal.Zero
	for _, f := range remaining {
		sum = sum.Add(f)
	}
	if sum.IsZero() {
		return decimal.Zero, nil
	}

	start := mode.startTerm(n)
	total := decimal.Zero
	df := one
	for i, f := range remaining {
		cashFlow := lossAmount.Mul(f).DivRound(sum, Scale)

		// df for period i is df(i-1) * (1 + rate[start+i]), rounded at each step.
		rate, err := curve.Rate(start + i)
		if err != nil {
			return decimal.Zero, err
		}
		df = df.Mul(one.Add(rate)).Round(Scale)
		if df.IsZero() {
			return decimal.Zero, eris.Errorf("valuation: zero discount factor at term %d of curve %s", start+i, curve.Month())
		}

		pv := cashFlow.DivRound(df, Scale)
		total = total.Add(pv)

		if sink != nil {
			sink(Step{
				Period:         i + 1,
				Factor:         f,
				CashFlow:       cashFlow,
				FirstTerm:      start,
				LastTerm:       start + i,
				DiscountFactor: df,
				PresentValue:   pv,
			})
		}
	}
	return total, nil
}

// AccrueForward advances pv by one period at the curve's rate for term n.
// A zero pv needs no rate.
func AccrueForward(pv decimal.Decimal, curve *Curve, n int) (decimal.Decimal, error) {
	if pv.IsZero() {
		return decimal.Zero, nil
	}
	rate, err := curve.Rate(n)
	if err != nil {
		return decimal.Zero, err
	}
	return pv.Mul(one.Add(rate)).Round(Scale), nil
}
