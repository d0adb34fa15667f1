package store

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/reserve-cli/internal/db"
	"github.com/sells-group/reserve-cli/internal/model"
)

// Table names shared by both backends.
const (
	tableAssumptions = "conf_measure_actuarial_assumption"
	tableFactors     = "conf_measure_claim_model_new"
	tableRates       = "conf_measure_month_disrate"
	tableStaging     = "int_t_pp_jl_unsettled_group"
	tableResults     = "measure_cx_unsettled"
	tableRuns        = "valuation_run"
)

var routingColumns = []string{
	"risk_code", "com_code", "business_nature", "car_kind_code",
	"use_nature_code", "group_id", "rein_type", "rein_system_code",
}

func routingFields(r *model.Routing) []*string {
	return []*string{
		&r.RiskCode, &r.ComCode, &r.BusinessNature, &r.CarKindCode,
		&r.UseNatureCode, &r.GroupID, &r.ReinType, &r.ReinSystemCode,
	}
}

var claimGroupTextColumns = append([]string{
	"val_month", "val_method", "accident_month", "class_code", "unit_id",
}, routingColumns...)

func claimGroupText(g *model.ClaimGroup) []*string {
	return append([]*string{
		&g.ValMonth, &g.ValMethod, &g.AccidentMonth, &g.ClassCode, &g.UnitID,
	}, routingFields(&g.Routing)...)
}

var claimGroupNumericColumns = []string{"case_amt", "ibnr_amt", "ulae_amt"}

func claimGroupNumerics(g *model.ClaimGroup) []*decimal.Decimal {
	return []*decimal.Decimal{&g.CaseAmt, &g.IBNRAmt, &g.ULAEAmt}
}

var resultTextColumns = append([]string{
	"val_month", "val_method", "accident_month", "class_code", "unit_id",
}, routingColumns...)

func resultText(r *model.UnsettledResult) []*string {
	return append([]*string{
		&r.ValMonth, &r.ValMethod, &r.AccidentMonth, &r.ClassCode, &r.UnitID,
	}, routingFields(&r.Routing)...)
}

var resultNumericColumns = []string{
	"ra",
	"case_amt", "ibnr_amt", "ulae_amt",
	"pv_ulae_current", "pv_ibnr_current", "pv_case_current",
	"pv_ulae_accident", "pv_ibnr_accident", "pv_case_accident",
	"uale_amt_ifie_accident", "ibnr_amt_ifie_accident", "case_amt_ifie_accident",
	"pv_last_ulae_current", "pv_last_ibnr_current", "pv_last_case_current",
	"pv_last_ulae_accident", "pv_last_ibnr_accident", "pv_last_case_accident",
	"pv_last_ulae_amt", "pv_last_ibnr_amt", "pv_last_case_amt",
	"paid_claim_change", "service_fee_change", "paid_claim_ifie", "oci_change",
}

func resultNumerics(r *model.UnsettledResult) []*decimal.Decimal {
	return []*decimal.Decimal{
		&r.RA,
		&r.CaseAmt, &r.IBNRAmt, &r.ULAEAmt,
		&r.PVCurrent.ULAE, &r.PVCurrent.IBNR, &r.PVCurrent.Case,
		&r.PVAccident.ULAE, &r.PVAccident.IBNR, &r.PVAccident.Case,
		&r.AccruedForward.ULAE, &r.AccruedForward.IBNR, &r.AccruedForward.Case,
		&r.PriorPVCurrent.ULAE, &r.PriorPVCurrent.IBNR, &r.PriorPVCurrent.Case,
		&r.PriorPVAccident.ULAE, &r.PriorPVAccident.IBNR, &r.PriorPVAccident.Case,
		&r.PriorAccruedForward.ULAE, &r.PriorAccruedForward.IBNR, &r.PriorAccruedForward.Case,
		&r.ClaimLiabilityChange, &r.ServiceFeeChange, &r.InterestAccretion, &r.OCIChange,
	}
}

var resultTrailingColumns = []string{"decided_flag", "current_flag", "source_id", "create_by"}

// resultInsertColumns is the COPY / INSERT column order of resultValues.
var resultInsertColumns = func() []string {
	cols := []string{"id"}
	cols = append(cols, resultTextColumns...)
	cols = append(cols, resultNumericColumns...)
	cols = append(cols, resultTrailingColumns...)
	return append(cols, "update_by", "create_time", "update_time")
}()

// resultValues lays r out in resultInsertColumns order. num encodes decimals
// for the backend.
func resultValues(r *model.UnsettledResult, num func(decimal.Decimal) any) []any {
	vals := make([]any, 0, len(resultInsertColumns))
	vals = append(vals, r.ID)
	for _, p := range resultText(r) {
		vals = append(vals, *p)
	}
	for _, p := range resultNumerics(r) {
		vals = append(vals, num(*p))
	}
	return append(vals,
		model.Flag(r.Decided), model.Flag(r.CurrentYear), r.SourceID, r.CreatedBy,
		r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	)
}

// projection renders a SELECT list: text columns default to the empty string,
// numeric columns go through numExpr.
func projection(lead []string, text, numeric, trailing []string, numExpr func(string) string) string {
	parts := make([]string, 0, len(lead)+len(text)+len(numeric)+len(trailing))
	parts = append(parts, lead...)
	for _, c := range text {
		parts = append(parts, "COALESCE("+c+", '')")
	}
	for _, c := range numeric {
		parts = append(parts, numExpr(c))
	}
	parts = append(parts, trailing...)
	return strings.Join(parts, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

// scanResult reads a row laid out by resultProjection.
func scanResult(sc scanner) (*model.UnsettledResult, error) {
	r := &model.UnsettledResult{}
	nums := make([]string, len(resultNumericColumns))
	var decided, current string

	dest := []any{&r.ID}
	for _, p := range resultText(r) {
		dest = append(dest, p)
	}
	for i := range nums {
		dest = append(dest, &nums[i])
	}
	dest = append(dest, &decided, &current, &r.SourceID, &r.CreatedBy)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	for i, p := range resultNumerics(r) {
		d, err := db.ParseDecimal(resultNumericColumns[i], nums[i])
		if err != nil {
			return nil, err
		}
		*p = d
	}
	r.Decided = decided == "1"
	r.CurrentYear = current == "1"
	return r, nil
}

func resultProjection(numExpr func(string) string) string {
	return projection([]string{"id"}, resultTextColumns, resultNumericColumns, []string{
		"COALESCE(decided_flag, '0')", "COALESCE(current_flag, '0')",
		"COALESCE(source_id, 0)", "COALESCE(create_by, '')",
	}, numExpr)
}

// scanClaimGroup reads a row laid out by claimGroupProjection.
func scanClaimGroup(sc scanner) (model.ClaimGroup, error) {
	var g model.ClaimGroup
	nums := make([]string, len(claimGroupNumericColumns))

	dest := []any{&g.ID}
	for _, p := range claimGroupText(&g) {
		dest = append(dest, p)
	}
	for i := range nums {
		dest = append(dest, &nums[i])
	}
	if err := sc.Scan(dest...); err != nil {
		return g, err
	}

	for i, p := range claimGroupNumerics(&g) {
		d, err := db.ParseDecimal(claimGroupNumericColumns[i], nums[i])
		if err != nil {
			return g, err
		}
		*p = d
	}
	return g, nil
}

func claimGroupProjection(numExpr func(string) string) string {
	return projection([]string{"id"}, claimGroupTextColumns, claimGroupNumericColumns, nil, numExpr)
}
