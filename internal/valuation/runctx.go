package valuation

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
)

// RunContext holds the lookup tables for one valuation run. It is built once
// from bulk reads, is read-only afterwards except for the PriorSet consumed
// markers, and is dropped when the run returns.
type RunContext struct {
	ValMonth  period.YearMonth
	ValMethod string
	PrevMonth period.YearMonth

	assumptions map[string]model.Assumption  // val_month|class_code
	factors     map[string][]decimal.Decimal // class_code
	curves      map[string]*Curve            // val_month
	prior       *PriorSet
}

// ReferenceData is the raw material a RunContext is built from.
type ReferenceData struct {
	Assumptions []model.Assumption
	Factors     []model.DevelopmentFactor
	Rates       []model.DiscountRate
	PriorOpen   []model.UnsettledResult
}

// NewRunContext indexes ref for a run of method at valMonth. Duplicate keys
// keep the first row seen.
func NewRunContext(valMonth period.YearMonth, method string, ref ReferenceData) *RunContext {
	rc := &RunContext{
		ValMonth:    valMonth,
		ValMethod:   method,
		PrevMonth:   valMonth.Previous(),
		assumptions: make(map[string]model.Assumption, len(ref.Assumptions)),
		factors:     make(map[string][]decimal.Decimal),
		curves:      make(map[string]*Curve),
	}

	for _, a := range ref.Assumptions {
		if method != "" && a.ValMethod != "" && a.ValMethod != method {
			continue
		}
		k := a.ValMonth + "|" + a.ClassCode
		if _, ok := rc.assumptions[k]; !ok {
			rc.assumptions[k] = a
		}
	}

	byClass := make(map[string][]model.DevelopmentFactor)
	for _, f := range ref.Factors {
		byClass[f.ClassCode] = append(byClass[f.ClassCode], f)
	}
	for class, rows := range byClass {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].MonthID < rows[j].MonthID })
		arr := make([]decimal.Decimal, len(rows))
		for i, r := range rows {
			arr[i] = r.PaidRatio
		}
		rc.factors[class] = arr
	}

	byMonth := make(map[string]map[int]decimal.Decimal)
	for _, r := range ref.Rates {
		m, ok := byMonth[r.ValMonth]
		if !ok {
			m = make(map[int]decimal.Decimal)
			byMonth[r.ValMonth] = m
		}
		if _, dup := m[r.TermMonth]; !dup {
			m[r.TermMonth] = r.ForwardRate
		}
	}
	for month, rates := range byMonth {
		rc.curves[month] = NewCurve(month, rates)
	}

	rc.prior = NewPriorSet(ref.PriorOpen)
	return rc
}

// Assumption returns the assumption for classCode at the run's valuation
// month, or the zero Assumption when none is configured.
func (rc *RunContext) Assumption(classCode string) model.Assumption {
	return rc.assumptions[rc.ValMonth.String()+"|"+classCode]
}

// Factors returns the development pattern of classCode.
func (rc *RunContext) Factors(classCode string) ([]decimal.Decimal, error) {
	f, ok := rc.factors[classCode]
	if !ok {
		return nil, &MissingFactorsError{ClassCode: classCode}
	}
	return f, nil
}

// Curve returns the curve published at month; nil if none was loaded.
func (rc *RunContext) Curve(month string) *Curve {
	return rc.curves[month]
}

// Prior returns the prior-period pending set.
func (rc *RunContext) Prior() *PriorSet {
	return rc.prior
}

// Stats summarises what the context holds.
type Stats struct {
	Assumptions   int
	FactorClasses int
	Curves        int
	PriorOpen     int
}

// Stats reports the sizes of the lookup tables.
func (rc *RunContext) Stats() Stats {
	return Stats{
		Assumptions:   len(rc.assumptions),
		FactorClasses: len(rc.factors),
		Curves:        len(rc.curves),
		PriorOpen:     rc.prior.Len(),
	}
}

// PriorSet is the prior period's open results: an immutable snapshot keyed
// by model.MatchKey plus a concurrent consumed marker. Each key can be taken
// once.
type PriorSet struct {
	rows     map[string]*model.UnsettledResult
	consumed sync.Map
}

// NewPriorSet indexes rows by their own key; duplicates keep the first row.
func NewPriorSet(rows []model.UnsettledResult) *PriorSet {
	ps := &PriorSet{rows: make(map[string]*model.UnsettledResult, len(rows))}
	for i := range rows {
		k := rows[i].Key()
		if _, ok := ps.rows[k]; !ok {
			ps.rows[k] = &rows[i]
		}
	}
	return ps
}

// Take returns the row for key and marks it consumed. Only the first caller
// for a key receives the row.
func (ps *PriorSet) Take(key string) (*model.UnsettledResult, bool) {
	r, ok := ps.rows[key]
	if !ok {
		return nil, false
	}
	if _, loaded := ps.consumed.LoadOrStore(key, struct{}{}); loaded {
		return nil, false
	}
	return r, true
}

// Peek returns the row for key without consuming it.
func (ps *PriorSet) Peek(key string) (*model.UnsettledResult, bool) {
	r, ok := ps.rows[key]
	return r, ok
}

// Len returns the snapshot size.
func (ps *PriorSet) Len() int {
	return len(ps.rows)
}

// Remaining returns the rows never taken, ordered by key. Call it only after
// every Take has completed.
func (ps *PriorSet) Remaining() []*model.UnsettledResult {
	keys := make([]string, 0, len(ps.rows))
	for k := range ps.rows {
		if _, taken := ps.consumed.Load(k); !taken {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]*model.UnsettledResult, len(keys))
	for i, k := range keys {
		out[i] = ps.rows[k]
	}
	return out
}
