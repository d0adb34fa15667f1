package valuation

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
)

// ResolveDecided turns every prior open row that no claim group of this run
// matched into a closing row: prior values move to the prior fields, current
// amounts and PVs are zero, and decided is set. It must run after all
// valuations of the run have finished.
func ResolveDecided(rc *RunContext, ids IDGenerator) ([]model.UnsettledResult, error) {
	remaining := rc.prior.Remaining()
	out := make([]model.UnsettledResult, 0, len(remaining))

	for _, p := range remaining {
		accident, err := period.Parse(p.AccidentMonth)
		if err != nil {
			return nil, eris.Wrapf(err, "valuation: decided transition for unit %s", p.UnitID)
		}

		r := model.UnsettledResult{
			ID:            ids.NewID(),
			ValMonth:      rc.ValMonth.String(),
			ValMethod:     rc.ValMethod,
			AccidentMonth: accident.String(),
			ClassCode:     p.ClassCode,
			UnitID:        p.UnitID,
			Routing:       p.Routing,
			RA:            p.RA,

			CaseAmt: decimal.Zero,
			IBNRAmt: decimal.Zero,
			ULAEAmt: decimal.Zero,

			PVCurrent:      zeroPV(),
			PVAccident:     zeroPV(),
			AccruedForward: zeroPV(),

			PriorPVCurrent:      p.PVCurrent,
			PriorPVAccident:     p.PVAccident,
			PriorAccruedForward: p.AccruedForward,

			Decided:     true,
			CurrentYear: accident.SameYear(rc.ValMonth),
		}
		r.Deltas = decidedDeltas(&r)
		out = append(out, r)
	}
	return out, nil
}

func zeroPV() model.PresentValues {
	return model.PresentValues{ULAE: decimal.Zero, IBNR: decimal.Zero, Case: decimal.Zero}
}

// decidedDeltas closes a row that has only prior values:
//
//	claim liability change = -prior current PVs
//	service fee change     = -prior accrued-forward
//	interest accretion     = prior accrued-forward - prior locked PVs
//	OCI change             = prior locked PVs - prior current PVs
func decidedDeltas(r *model.UnsettledResult) model.Deltas {
	priorCurrent := r.PriorPVCurrent.Sum()
	priorLocked := r.PriorPVAccident.Sum()
	priorAccrued := r.PriorAccruedForward.Sum()

	return model.Deltas{
		ClaimLiabilityChange: priorCurrent.Round(Scale).Neg(),
		ServiceFeeChange:     priorAccrued.Round(Scale).Neg(),
		InterestAccretion:    priorAccrued.Sub(priorLocked).Round(Scale),
		OCIChange:            priorLocked.Sub(priorCurrent).Round(Scale),
	}
}
