package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/reserve-cli/internal/metrics"
	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
	"github.com/sells-group/reserve-cli/internal/store"
	"github.com/sells-group/reserve-cli/internal/valuation"
)

var valuateCmd = &cobra.Command{
	Use:   "valuate",
	Short: "Run or inspect an unsettled-claims valuation",
}

// -- valuate run --

var valuateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Valuate every staged claim group for a method and month",
	Long:  "Replaces the results for (method, month) with freshly valuated rows and settles prior-month groups that no longer appear.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("valuate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		method, _ := cmd.Flags().GetString("method")
		month, _ := cmd.Flags().GetString("month")
		ym, err := period.Parse(month)
		if err != nil {
			return eris.Wrap(err, "valuate: --month")
		}

		if cfg.Metrics.Addr != "" {
			metrics.Init(nil)
			stop := serveMetrics(cfg.Metrics.Addr)
			defer stop()
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		log := zap.L().With(
			zap.String("component", "valuate"),
			zap.String("val_method", method),
			zap.String("val_month", ym.String()),
		)

		runID, err := st.StartRun(ctx, ym.String(), method)
		if err != nil {
			return eris.Wrap(err, "valuate: record run start")
		}

		p := valuation.NewPipeline(st, valuation.Options{
			PageSize:       cfg.Valuation.PageSize,
			Workers:        cfg.Valuation.Workers,
			PagesPerSecond: cfg.Valuation.PagesPerSecond,
			CreatedBy:      cfg.Valuation.CreatedBy,
		})

		res, err := p.Run(ctx, method, ym.String())
		if err != nil {
			if ferr := st.FailRun(ctx, runID, err.Error()); ferr != nil {
				log.Error("record run failure", zap.Int64("run_id", runID), zap.Error(ferr))
			}
			return err
		}

		totals := store.RunTotals{GroupsValuated: res.GroupsValuated, DecidedRows: res.DecidedRows}
		if err := st.CompleteRun(ctx, runID, totals); err != nil {
			log.Error("record run completion", zap.Int64("run_id", runID), zap.Error(err))
		}

		formatRunSummary(os.Stdout, res)
		return nil
	},
}

// -- valuate explain --

var valuateExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Recompute one claim group with full traces and compare to the stored row",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("explain"); err != nil {
			return err
		}
		ctx := cmd.Context()

		method, _ := cmd.Flags().GetString("method")
		month, _ := cmd.Flags().GetString("month")
		unit, _ := cmd.Flags().GetString("unit")
		accidentFlag, _ := cmd.Flags().GetString("accident")

		ym, err := period.Parse(month)
		if err != nil {
			return eris.Wrap(err, "explain: --month")
		}
		accident, err := period.Parse(accidentFlag)
		if err != nil {
			return eris.Wrap(err, "explain: --accident")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := st.GetClaimGroup(ctx, ym.String(), method, accident.String(), unit)
		if err != nil {
			return eris.Wrapf(err, "explain: claim group %s/%s", accident, unit)
		}

		rc, err := valuation.NewPipeline(st, valuation.Options{}).LoadRunContext(ctx, ym, method)
		if err != nil {
			return err
		}

		ex, err := valuation.Explain(rc, g)
		if err != nil {
			return err
		}

		stored, err := st.GetResult(ctx, ym.String(), method, accident.String(), unit)
		switch {
		case errors.Is(err, store.ErrNotFound):
			stored = nil
		case err != nil:
			return eris.Wrap(err, "explain: stored result")
		default:
			ex.Diffs = valuation.Compare(ex.Result, stored)
		}

		if err := writeExplainReport(os.Stdout, ex, stored); err != nil {
			return err
		}
		if len(ex.Diffs) > 0 {
			return eris.Errorf("explain: %d field(s) differ from the stored result", len(ex.Diffs))
		}
		return nil
	},
}

func init() {
	valuateRunCmd.Flags().String("method", "", "valuation method (e.g. BEL, PAA)")
	valuateRunCmd.Flags().String("month", "", "valuation month (YYYYMM)")
	_ = valuateRunCmd.MarkFlagRequired("method")
	_ = valuateRunCmd.MarkFlagRequired("month")

	valuateExplainCmd.Flags().String("method", "", "valuation method")
	valuateExplainCmd.Flags().String("month", "", "valuation month (YYYYMM)")
	valuateExplainCmd.Flags().String("unit", "", "claim group unit id")
	valuateExplainCmd.Flags().String("accident", "", "accident month (YYYYMM)")
	for _, f := range []string{"method", "month", "unit", "accident"} {
		_ = valuateExplainCmd.MarkFlagRequired(f)
	}

	valuateCmd.AddCommand(valuateRunCmd)
	valuateCmd.AddCommand(valuateExplainCmd)
	rootCmd.AddCommand(valuateCmd)
}

// formatRunSummary writes the totals of a finished run to w. Counts are
// grouped by thousands.
func formatRunSummary(out io.Writer, res *valuation.RunResult) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Valuation:\t%s %s\n", res.ValMethod, res.ValMonth)
	_, _ = p.Fprintf(w, "Replaced rows:\t%d\n", res.Deleted)
	_, _ = p.Fprintf(w, "Pages:\t%d\n", res.Pages)
	_, _ = p.Fprintf(w, "Claim groups valuated:\t%d\n", res.GroupsValuated)
	_, _ = p.Fprintf(w, "Prior open rows:\t%d\n", res.PriorOpen)
	_, _ = p.Fprintf(w, "Decided rows:\t%d\n", res.DecidedRows)
	_, _ = p.Fprintf(w, "Rows written:\t%d\n", res.RowsWritten)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", res.Elapsed.Round(time.Millisecond))
	_ = w.Flush()
}

// explainReport is the YAML document printed by valuate explain.
type explainReport struct {
	valuation.Explanation `yaml:",inline"`

	Recomputed resultView  `yaml:"recomputed"`
	Stored     *resultView `yaml:"stored"`
}

// resultView is the printable form of a result row.
type resultView struct {
	ID                  string            `yaml:"id"`
	Decided             bool              `yaml:"decided"`
	CurrentYear         bool              `yaml:"current_year"`
	RA                  string            `yaml:"ra"`
	PVCurrent           map[string]string `yaml:"pv_current"`
	PVAccident          map[string]string `yaml:"pv_accident"`
	AccruedForward      map[string]string `yaml:"accrued_forward"`
	PriorPVCurrent      map[string]string `yaml:"prior_pv_current"`
	PriorPVAccident     map[string]string `yaml:"prior_pv_accident"`
	PriorAccruedForward map[string]string `yaml:"prior_accrued_forward"`
	Deltas              map[string]string `yaml:"deltas"`
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(valuation.Scale)
}

func pvView(p model.PresentValues) map[string]string {
	return map[string]string{
		"ulae": fixed(p.ULAE),
		"ibnr": fixed(p.IBNR),
		"case": fixed(p.Case),
	}
}

func newResultView(r *model.UnsettledResult) resultView {
	return resultView{
		ID:                  r.ID,
		Decided:             r.Decided,
		CurrentYear:         r.CurrentYear,
		RA:                  r.RA.String(),
		PVCurrent:           pvView(r.PVCurrent),
		PVAccident:          pvView(r.PVAccident),
		AccruedForward:      pvView(r.AccruedForward),
		PriorPVCurrent:      pvView(r.PriorPVCurrent),
		PriorPVAccident:     pvView(r.PriorPVAccident),
		PriorAccruedForward: pvView(r.PriorAccruedForward),
		Deltas: map[string]string{
			"claim_liability_change": fixed(r.ClaimLiabilityChange),
			"service_fee_change":     fixed(r.ServiceFeeChange),
			"interest_accretion":     fixed(r.InterestAccretion),
			"oci_change":             fixed(r.OCIChange),
		},
	}
}

// writeExplainReport renders ex and the stored row (nil when none exists)
// as YAML.
func writeExplainReport(out io.Writer, ex *valuation.Explanation, stored *model.UnsettledResult) error {
	report := explainReport{
		Explanation: *ex,
		Recomputed:  newResultView(ex.Result),
	}
	if stored != nil {
		v := newResultView(stored)
		report.Stored = &v
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return eris.Wrap(err, "explain: encode report")
	}
	return eris.Wrap(enc.Close(), "explain: flush report")
}
