package valuation

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
)

// Explanation is a traced recomputation of one claim group.
type Explanation struct {
	ValMonth      string                 `yaml:"val_month"`
	ValMethod     string                 `yaml:"val_method"`
	UnitID        string                 `yaml:"unit_id"`
	AccidentMonth string                 `yaml:"accident_month"`
	ClassCode     string                 `yaml:"class_code"`
	Periods       int                    `yaml:"n"`
	Factors       []string               `yaml:"factors"`
	PriorMatched  bool                   `yaml:"prior_matched"`
	Components    []Component            `yaml:"components"`
	Result        *model.UnsettledResult `yaml:"-"`
	Diffs         []FieldDiff            `yaml:"diffs,omitempty"`
}

// Component traces one reserve component in one discount mode.
type Component struct {
	Name   string     `yaml:"name"`
	Mode   string     `yaml:"mode"`
	Amount string     `yaml:"amount"`
	Curve  string     `yaml:"curve"`
	PV     string     `yaml:"pv"`
	Steps  []StepView `yaml:"steps,omitempty"`
}

// StepView is a Step rendered with fixed-scale strings.
type StepView struct {
	Period         int    `yaml:"period"`
	Factor         string `yaml:"factor"`
	CashFlow       string `yaml:"cash_flow"`
	Terms          string `yaml:"terms"`
	DiscountFactor string `yaml:"discount_factor"`
	PresentValue   string `yaml:"present_value"`
}

// FieldDiff is a mismatch between a recomputed and a stored value.
type FieldDiff struct {
	Field      string `yaml:"field"`
	Recomputed string `yaml:"recomputed"`
	Stored     string `yaml:"stored"`
	Difference string `yaml:"difference,omitempty"`
}

// Explain recomputes g with full discount traces. The final Valuate call
// consumes g's prior match, so use a fresh RunContext per explanation.
func Explain(rc *RunContext, g *model.ClaimGroup) (*Explanation, error) {
	accident, err := period.Parse(g.AccidentMonth)
	if err != nil {
		return nil, eris.Wrap(err, "explain: accident month")
	}
	factors, err := rc.Factors(g.ClassCode)
	if err != nil {
		return nil, err
	}
	n := period.MonthsBetween(accident, rc.ValMonth)

	key := model.MatchKey(rc.PrevMonth.String(), accident.String(), g.UnitID)
	_, matched := rc.prior.Peek(key)

	ex := &Explanation{
		ValMonth:      rc.ValMonth.String(),
		ValMethod:     rc.ValMethod,
		UnitID:        g.UnitID,
		AccidentMonth: accident.String(),
		ClassCode:     g.ClassCode,
		Periods:       n,
		PriorMatched:  matched,
	}
	for _, f := range factors {
		ex.Factors = append(ex.Factors, f.String())
	}

	amounts := []struct {
		name string
		amt  decimal.Decimal
	}{
		{"ulae", g.ULAEAmt},
		{"ibnr", g.IBNRAmt},
		{"case", g.CaseAmt},
	}
	curves := []struct {
		mode  Mode
		curve *Curve
	}{
		{ModeCurrent, rc.Curve(rc.ValMonth.String())},
		{ModeAccidentLocked, rc.Curve(accident.String())},
	}
	for _, c := range curves {
		for _, a := range amounts {
			pv, steps, err := DiscountTrace(a.amt, factors, c.curve, n, c.mode)
			if err != nil {
				return nil, eris.Wrapf(err, "explain: %s %s", a.name, c.mode)
			}
			comp := Component{
				Name:   a.name,
				Mode:   c.mode.String(),
				Amount: a.amt.String(),
				Curve:  c.curve.Month(),
				PV:     pv.StringFixed(Scale),
			}
			for _, s := range steps {
				comp.Steps = append(comp.Steps, StepView{
					Period:         s.Period,
					Factor:         s.Factor.String(),
					CashFlow:       s.CashFlow.StringFixed(Scale),
					Terms:          termRange(s.FirstTerm, s.LastTerm),
					DiscountFactor: s.DiscountFactor.StringFixed(Scale),
					PresentValue:   s.PresentValue.StringFixed(Scale),
				})
			}
			ex.Components = append(ex.Components, comp)
		}
	}

	ex.Result, err = Valuate(rc, g)
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func termRange(first, last int) string {
	return strconv.Itoa(first) + ".." + strconv.Itoa(last)
}

type fieldPair struct {
	name string
	a, b decimal.Decimal
}

func triplet(names [3]string, a, b model.PresentValues) []fieldPair {
	return []fieldPair{
		{names[0], a.ULAE, b.ULAE},
		{names[1], a.IBNR, b.IBNR},
		{names[2], a.Case, b.Case},
	}
}

// Compare lists the fields where recomputed and stored differ: risk
// adjustment, raw amounts, every present value triplet including the prior
// carry-forward, the deltas and the decided/current flags.
func Compare(recomputed, stored *model.UnsettledResult) []FieldDiff {
	fields := []fieldPair{
		{"ra", recomputed.RA, stored.RA},
		{"case_amt", recomputed.CaseAmt, stored.CaseAmt},
		{"ibnr_amt", recomputed.IBNRAmt, stored.IBNRAmt},
		{"ulae_amt", recomputed.ULAEAmt, stored.ULAEAmt},
	}
	fields = append(fields, triplet([3]string{"pv_ulae_current", "pv_ibnr_current", "pv_case_current"},
		recomputed.PVCurrent, stored.PVCurrent)...)
	fields = append(fields, triplet([3]string{"pv_ulae_accident", "pv_ibnr_accident", "pv_case_accident"},
		recomputed.PVAccident, stored.PVAccident)...)
	fields = append(fields, triplet([3]string{"uale_amt_ifie_accident", "ibnr_amt_ifie_accident", "case_amt_ifie_accident"},
		recomputed.AccruedForward, stored.AccruedForward)...)
	fields = append(fields, triplet([3]string{"pv_last_ulae_current", "pv_last_ibnr_current", "pv_last_case_current"},
		recomputed.PriorPVCurrent, stored.PriorPVCurrent)...)
	fields = append(fields, triplet([3]string{"pv_last_ulae_accident", "pv_last_ibnr_accident", "pv_last_case_accident"},
		recomputed.PriorPVAccident, stored.PriorPVAccident)...)
	fields = append(fields, triplet([3]string{"pv_last_ulae_amt", "pv_last_ibnr_amt", "pv_last_case_amt"},
		recomputed.PriorAccruedForward, stored.PriorAccruedForward)...)
	fields = append(fields,
		fieldPair{"paid_claim_change", recomputed.ClaimLiabilityChange, stored.ClaimLiabilityChange},
		fieldPair{"service_fee_change", recomputed.ServiceFeeChange, stored.ServiceFeeChange},
		fieldPair{"paid_claim_ifie", recomputed.InterestAccretion, stored.InterestAccretion},
		fieldPair{"oci_change", recomputed.OCIChange, stored.OCIChange},
	)

	var diffs []FieldDiff
	for _, f := range fields {
		if f.a.Equal(f.b) {
			continue
		}
		diffs = append(diffs, FieldDiff{
			Field:      f.name,
			Recomputed: f.a.StringFixed(Scale),
			Stored:     f.b.StringFixed(Scale),
			Difference: f.a.Sub(f.b).StringFixed(Scale),
		})
	}

	flags := []struct {
		name string
		a, b bool
	}{
		{"decided_flag", recomputed.Decided, stored.Decided},
		{"current_flag", recomputed.CurrentYear, stored.CurrentYear},
	}
	for _, f := range flags {
		if f.a != f.b {
			diffs = append(diffs, FieldDiff{
				Field:      f.name,
				Recomputed: model.Flag(f.a),
				Stored:     model.Flag(f.b),
			})
		}
	}
	return diffs
}
