package loader

import (
	"github.com/sells-group/reserve-cli/internal/model"
)

var routingColumns = []string{
	"risk_code", "com_code", "business_nature", "car_kind_code",
	"use_nature_code", "group_id", "rein_type", "rein_system_code",
}

// ParseAssumptions reads rows with columns val_method, val_month, class_code
// and lic_ra. The first row is the header.
func ParseAssumptions(rows [][]string) ([]model.Assumption, error) {
	t, err := newTable(rows, "val_method", "val_month", "class_code", "lic_ra")
	if err != nil {
		return nil, err
	}

	var out []model.Assumption
	err = t.each(func(line int, row []string) error {
		var a model.Assumption
		var err error
		if a.ValMethod, err = t.required(line, row, "val_method"); err != nil {
			return err
		}
		if a.ValMonth, err = t.month(line, row, "val_month"); err != nil {
			return err
		}
		if a.ClassCode, err = t.required(line, row, "class_code"); err != nil {
			return err
		}
		if a.LicRA, err = t.dec(line, row, "lic_ra", false); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// ParseFactors reads rows with columns class_code, month_id and paid_ratio.
func ParseFactors(rows [][]string) ([]model.DevelopmentFactor, error) {
	t, err := newTable(rows, "class_code", "month_id", "paid_ratio")
	if err != nil {
		return nil, err
	}

	var out []model.DevelopmentFactor
	err = t.each(func(line int, row []string) error {
		var f model.DevelopmentFactor
		var err error
		if f.ClassCode, err = t.required(line, row, "class_code"); err != nil {
			return err
		}
		if f.MonthID, err = t.integer(line, row, "month_id"); err != nil {
			return err
		}
		if f.PaidRatio, err = t.dec(line, row, "paid_ratio", false); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// ParseRates reads rows with columns val_month, term_month and
// forward_disrate_value.
func ParseRates(rows [][]string) ([]model.DiscountRate, error) {
	t, err := newTable(rows, "val_month", "term_month", "forward_disrate_value")
	if err != nil {
		return nil, err
	}

	var out []model.DiscountRate
	err = t.each(func(line int, row []string) error {
		var r model.DiscountRate
		var err error
		if r.ValMonth, err = t.month(line, row, "val_month"); err != nil {
			return err
		}
		if r.TermMonth, err = t.integer(line, row, "term_month"); err != nil {
			return err
		}
		if r.ForwardRate, err = t.dec(line, row, "forward_disrate_value", false); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// ParseClaimGroups reads staged claim groups. Amount columns may be blank
// (zero); routing columns are optional.
func ParseClaimGroups(rows [][]string) ([]model.ClaimGroup, error) {
	t, err := newTable(rows, "val_month", "val_method", "accident_month", "class_code", "unit_id")
	if err != nil {
		return nil, err
	}

	var out []model.ClaimGroup
	err = t.each(func(line int, row []string) error {
		var g model.ClaimGroup
		var err error
		if g.ValMonth, err = t.month(line, row, "val_month"); err != nil {
			return err
		}
		if g.ValMethod, err = t.required(line, row, "val_method"); err != nil {
			return err
		}
		if g.AccidentMonth, err = t.month(line, row, "accident_month"); err != nil {
			return err
		}
		if g.ClassCode, err = t.required(line, row, "class_code"); err != nil {
			return err
		}
		if g.UnitID, err = t.required(line, row, "unit_id"); err != nil {
			return err
		}
		if g.CaseAmt, err = t.dec(line, row, "case_amt", true); err != nil {
			return err
		}
		if g.IBNRAmt, err = t.dec(line, row, "ibnr_amt", true); err != nil {
			return err
		}
		if g.ULAEAmt, err = t.dec(line, row, "ulae_amt", true); err != nil {
			return err
		}

		routing := []*string{
			&g.RiskCode, &g.ComCode, &g.BusinessNature, &g.CarKindCode,
			&g.UseNatureCode, &g.GroupID, &g.ReinType, &g.ReinSystemCode,
		}
		for i, col := range routingColumns {
			*routing[i] = t.str(row, col)
		}
		out = append(out, g)
		return nil
	})
	return out, err
}
