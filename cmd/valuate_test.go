package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
	"github.com/sells-group/reserve-cli/internal/valuation"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func explainFixture(t *testing.T) *valuation.Explanation {
	t.Helper()
	ref := valuation.ReferenceData{
		Assumptions: []model.Assumption{
			{ValMethod: "BEL", ValMonth: "202401", ClassCode: "A1", LicRA: d("0.035")},
		},
		Factors: []model.DevelopmentFactor{
			{ClassCode: "A1", MonthID: 1, PaidRatio: d("0.05")},
			{ClassCode: "A1", MonthID: 2, PaidRatio: d("0.95")},
		},
	}
	for term := 0; term <= 24; term++ {
		ref.Rates = append(ref.Rates,
			model.DiscountRate{ValMonth: "202401", TermMonth: term, ForwardRate: d("0.01")},
			model.DiscountRate{ValMonth: "202312", TermMonth: term, ForwardRate: d("0.02")},
		)
	}
	rc := valuation.NewRunContext(period.MustParse("202401"), "BEL", ref)

	ex, err := valuation.Explain(rc, &model.ClaimGroup{
		ValMonth: "202401", ValMethod: "BEL", AccidentMonth: "202312",
		ClassCode: "A1", UnitID: "U1", CaseAmt: d("101"),
	})
	require.NoError(t, err)
	return ex
}

func decodeReport(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestWriteExplainReport_NoStoredRow(t *testing.T) {
	ex := explainFixture(t)

	var buf bytes.Buffer
	require.NoError(t, writeExplainReport(&buf, ex, nil))

	report := decodeReport(t, &buf)
	assert.Equal(t, "U1", report["unit_id"])
	assert.Equal(t, 2, report["n"], "accident month counts as period 1")
	assert.Equal(t, false, report["prior_matched"])
	assert.Nil(t, report["stored"])
	assert.NotContains(t, report, "diffs")

	components, ok := report["components"].([]any)
	require.True(t, ok)
	assert.Len(t, components, 6, "three amounts on two curves")

	recomputed, ok := report["recomputed"].(map[string]any)
	require.True(t, ok)
	pv, ok := recomputed["pv_current"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "100.0000000000", pv["case"])
	pv, ok = recomputed["pv_accident"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "99.0196078431", pv["case"])
}

func TestWriteExplainReport_WithDiffs(t *testing.T) {
	ex := explainFixture(t)

	stored := *ex.Result
	stored.PVCurrent.Case = d("100.5")
	ex.Diffs = valuation.Compare(ex.Result, &stored)
	require.Len(t, ex.Diffs, 1)

	var buf bytes.Buffer
	require.NoError(t, writeExplainReport(&buf, ex, &stored))

	report := decodeReport(t, &buf)
	storedView, ok := report["stored"].(map[string]any)
	require.True(t, ok)
	pv, ok := storedView["pv_current"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "100.5000000000", pv["case"])

	diffs, ok := report["diffs"].([]any)
	require.True(t, ok)
	require.Len(t, diffs, 1)
	diff := diffs[0].(map[string]any)
	assert.Equal(t, "pv_case_current", diff["field"])
	assert.Equal(t, "-0.5000000000", diff["difference"])
}

func TestFormatRunSummary(t *testing.T) {
	res := &valuation.RunResult{
		ValMonth:       "202401",
		ValMethod:      "BEL",
		Deleted:        4,
		Pages:          2,
		GroupsValuated: 125000,
		DecidedRows:    1,
		RowsWritten:    4,
		PriorOpen:      3,
		Elapsed:        1234567 * time.Microsecond,
	}

	var buf bytes.Buffer
	formatRunSummary(&buf, res)

	output := buf.String()
	assert.Contains(t, output, "BEL 202401")
	assert.Contains(t, output, "Claim groups valuated:")
	assert.Contains(t, output, "125,000")
	assert.Contains(t, output, "Decided rows:")
	assert.Contains(t, output, "1.235s")
}
