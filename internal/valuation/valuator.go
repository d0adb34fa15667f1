package valuation

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
)

// Valuate computes the open result row of g for the run described by rc and
// consumes g's match in the prior-period set.
//
// A missing assumption yields a zero risk adjustment and a missing prior
// match yields zero prior values; neither is an error. A missing development
// pattern or a missing curve rate is.
func Valuate(rc *RunContext, g *model.ClaimGroup) (*model.UnsettledResult, error) {
	n, err := period.MonthsBetweenStrings(g.AccidentMonth, rc.ValMonth.String())
	if err != nil {
		return nil, eris.Wrapf(err, "valuation: claim group %d accident month", g.ID)
	}
	accident := rc.ValMonth.AddMonths(1 - n)

	assumption := rc.Assumption(g.ClassCode)

	prior := &model.UnsettledResult{}
	if p, ok := rc.prior.Take(model.MatchKey(rc.PrevMonth.String(), accident.String(), g.UnitID)); ok {
		prior = p
	}

	factors, err := rc.Factors(g.ClassCode)
	if err != nil {
		return nil, err
	}

	if n < 1 {
		return nil, eris.Wrapf(ErrNegativeOffset, "valuation: accident %s, valuation %s", accident, rc.ValMonth)
	}

	current := rc.Curve(rc.ValMonth.String())
	locked := rc.Curve(accident.String())

	pvCurrent, err := presentValues(g, factors, current, n, ModeCurrent)
	if err != nil {
		return nil, err
	}
	pvAccident, err := presentValues(g, factors, locked, n, ModeAccidentLocked)
	if err != nil {
		return nil, err
	}

	accrued, err := accrueAll(pvAccident, locked, n)
	if err != nil {
		return nil, err
	}

	r := &model.UnsettledResult{
		ID:            openRowID(rc.ValMonth.String(), rc.ValMethod, g.ID),
		SourceID:      g.ID,
		ValMonth:      rc.ValMonth.String(),
		ValMethod:     rc.ValMethod,
		AccidentMonth: accident.String(),
		ClassCode:     g.ClassCode,
		UnitID:        g.UnitID,
		Routing:       g.Routing,
		RA:            assumption.LicRA,

		CaseAmt: g.CaseAmt,
		IBNRAmt: g.IBNRAmt,
		ULAEAmt: g.ULAEAmt,

		PVCurrent:      pvCurrent,
		PVAccident:     pvAccident,
		AccruedForward: accrued,

		PriorPVCurrent:      prior.PVCurrent,
		PriorPVAccident:     prior.PVAccident,
		PriorAccruedForward: prior.AccruedForward,

		Decided:     false,
		CurrentYear: accident.SameYear(rc.ValMonth),
	}
	r.Deltas = openDeltas(r)
	return r, nil
}

func presentValues(g *model.ClaimGroup, factors []decimal.Decimal, curve *Curve, n int, mode Mode) (model.PresentValues, error) {
	var pv model.PresentValues
	var err error
	if pv.ULAE, err = Discount(g.ULAEAmt, factors, curve, n, mode); err != nil {
		return pv, eris.Wrapf(err, "valuation: ulae %s pv for unit %s", mode, g.UnitID)
	}
	if pv.IBNR, err = Discount(g.IBNRAmt, factors, curve, n, mode); err != nil {
		return pv, eris.Wrapf(err, "valuation: ibnr %s pv for unit %s", mode, g.UnitID)
	}
	if pv.Case, err = Discount(g.CaseAmt, factors, curve, n, mode); err != nil {
		return pv, eris.Wrapf(err, "valuation: case %s pv for unit %s", mode, g.UnitID)
	}
	return pv, nil
}

func accrueAll(pv model.PresentValues, curve *Curve, n int) (model.PresentValues, error) {
	var out model.PresentValues
	var err error
	if out.ULAE, err = AccrueForward(pv.ULAE, curve, n); err != nil {
		return out, eris.Wrap(err, "valuation: accrue ulae")
	}
	if out.IBNR, err = AccrueForward(pv.IBNR, curve, n); err != nil {
		return out, eris.Wrap(err, "valuation: accrue ibnr")
	}
	if out.Case, err = AccrueForward(pv.Case, curve, n); err != nil {
		return out, eris.Wrap(err, "valuation: accrue case")
	}
	return out, nil
}

// openDeltas rolls an open row forward from its prior values:
//
//	claim liability change = current PVs - prior current PVs
//	service fee change     = locked PVs - prior accrued-forward
//	interest accretion     = prior accrued-forward - prior locked PVs
//	OCI change             = claim liability change - locked PVs + prior locked PVs
func openDeltas(r *model.UnsettledResult) model.Deltas {
	current := r.PVCurrent.Sum()
	locked := r.PVAccident.Sum()
	priorCurrent := r.PriorPVCurrent.Sum()
	priorLocked := r.PriorPVAccident.Sum()
	priorAccrued := r.PriorAccruedForward.Sum()

	claim := current.Sub(priorCurrent).Round(Scale)
	return model.Deltas{
		ClaimLiabilityChange: claim,
		ServiceFeeChange:     locked.Sub(priorAccrued).Round(Scale),
		InterestAccretion:    priorAccrued.Sub(priorLocked).Round(Scale),
		OCIChange:            claim.Sub(locked).Add(priorLocked).Round(Scale),
	}
}
