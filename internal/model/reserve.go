// Package model defines the data types that flow through an unsettled-claims
// valuation run.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Assumption is one actuarial assumption row, keyed by valuation method,
// valuation month and class code.
type Assumption struct {
	ValMethod string          `json:"val_method"`
	ValMonth  string          `json:"val_month"`
	ClassCode string          `json:"class_code"`
	LicRA     decimal.Decimal `json:"lic_ra"`
}

// DevelopmentFactor is one element of a class code's claim payment pattern.
// MonthID orders the pattern by development month since accident.
type DevelopmentFactor struct {
	ClassCode string          `json:"class_code"`
	MonthID   int             `json:"month_id"`
	PaidRatio decimal.Decimal `json:"paid_ratio"`
}

// DiscountRate is the single-period forward rate for one term-month of the
// curve published at ValMonth.
type DiscountRate struct {
	ValMonth    string          `json:"val_month"`
	TermMonth   int             `json:"term_month"`
	ForwardRate decimal.Decimal `json:"forward_disrate_value"`
}

// Routing carries the classification attributes of a claim group. They are
// copied to results unchanged.
type Routing struct {
	RiskCode       string `json:"risk_code"`
	ComCode        string `json:"com_code"`
	BusinessNature string `json:"business_nature"`
	CarKindCode    string `json:"car_kind_code"`
	UseNatureCode  string `json:"use_nature_code"`
	GroupID        string `json:"group_id"`
	ReinType       string `json:"rein_type"`
	ReinSystemCode string `json:"rein_system_code"`
}

// ClaimGroup is a raw unsettled claim group from the staging table for one
// valuation month and method.
type ClaimGroup struct {
	ID            int64           `json:"id"`
	ValMonth      string          `json:"val_month"`
	ValMethod     string          `json:"val_method"`
	AccidentMonth string          `json:"accident_month"`
	ClassCode     string          `json:"class_code"`
	UnitID        string          `json:"unit_id"`
	CaseAmt       decimal.Decimal `json:"case_amt"`
	IBNRAmt       decimal.Decimal `json:"ibnr_amt"`
	ULAEAmt       decimal.Decimal `json:"ulae_amt"`
	Routing
}

// PresentValues holds one present value per reserve component.
type PresentValues struct {
	ULAE decimal.Decimal `json:"ulae" yaml:"ulae"`
	IBNR decimal.Decimal `json:"ibnr" yaml:"ibnr"`
	Case decimal.Decimal `json:"case" yaml:"case"`
}

// Sum adds the three components.
func (p PresentValues) Sum() decimal.Decimal {
	return p.ULAE.Add(p.IBNR).Add(p.Case)
}

// Deltas are the four roll-forward accounting entries.
type Deltas struct {
	ClaimLiabilityChange decimal.Decimal `json:"paid_claim_change" yaml:"claim_liability_change"`
	ServiceFeeChange     decimal.Decimal `json:"service_fee_change" yaml:"service_fee_change"`
	InterestAccretion    decimal.Decimal `json:"paid_claim_ifie" yaml:"interest_accretion"`
	OCIChange            decimal.Decimal `json:"oci_change" yaml:"oci_change"`
}

// UnsettledResult is one output row for (valuation month, valuation method,
// claim group).
type UnsettledResult struct {
	ID            string `json:"id"`
	SourceID      int64  `json:"source_id,omitempty"`
	ValMonth      string `json:"val_month"`
	ValMethod     string `json:"val_method"`
	AccidentMonth string `json:"accident_month"`
	ClassCode     string `json:"class_code"`
	UnitID        string `json:"unit_id"`
	Routing

	RA decimal.Decimal `json:"ra"`

	CaseAmt decimal.Decimal `json:"case_amt"`
	IBNRAmt decimal.Decimal `json:"ibnr_amt"`
	ULAEAmt decimal.Decimal `json:"ulae_amt"`

	// PVs at this valuation date on the current curve and on the curve
	// locked at the accident month.
	PVCurrent  PresentValues `json:"pv_current"`
	PVAccident PresentValues `json:"pv_accident"`
	// PVAccident advanced one period at the locked rate.
	AccruedForward PresentValues `json:"amt_ifie_accident"`

	PriorPVCurrent      PresentValues `json:"pv_last_current"`
	PriorPVAccident     PresentValues `json:"pv_last_accident"`
	PriorAccruedForward PresentValues `json:"pv_last_amt"`

	Deltas

	Decided     bool `json:"decided_flag"`
	CurrentYear bool `json:"current_flag"`

	CreatedBy string    `json:"create_by"`
	CreatedAt time.Time `json:"create_time"`
	UpdatedAt time.Time `json:"update_time"`
}

// MatchKey builds the composite key that links a claim group to its result
// row of an earlier valuation month.
func MatchKey(valMonth, accidentMonth, unitID string) string {
	return valMonth + "_" + accidentMonth + "_" + unitID
}

// Key returns the MatchKey of the row itself.
func (r *UnsettledResult) Key() string {
	return MatchKey(r.ValMonth, r.AccidentMonth, r.UnitID)
}

// Flag renders a boolean as the "0"/"1" string stored in flag columns.
func Flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// RunStatus is the lifecycle state recorded in the valuation run log.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ValuationRun is one row of the valuation run log.
type ValuationRun struct {
	ID             int64      `json:"id"`
	ValMonth       string     `json:"val_month"`
	ValMethod      string     `json:"val_method"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	GroupsValuated int64      `json:"groups_valuated"`
	DecidedRows    int64      `json:"decided_rows"`
	Error          string     `json:"error,omitempty"`
}
