package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
	"github.com/sells-group/reserve-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List valuation runs",
	Long:  "Lists the valuation run log, newest first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		ctx := cmd.Context()

		filter, err := runFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs, time.Now())
		return nil
	},
}

func init() {
	runsCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsCmd.Flags().String("method", "", "filter by valuation method")
	runsCmd.Flags().String("month", "", "filter by valuation month (YYYYMM)")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}

func runFilterFromFlags(cmd *cobra.Command) (store.RunFilter, error) {
	status, _ := cmd.Flags().GetString("status")
	method, _ := cmd.Flags().GetString("method")
	month, _ := cmd.Flags().GetString("month")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.RunFilter{
		Status:    model.RunStatus(status),
		ValMethod: method,
		Limit:     limit,
	}
	switch filter.Status {
	case "", model.RunStatusRunning, model.RunStatusComplete, model.RunStatusFailed:
	default:
		return filter, eris.Errorf("runs: unknown status %q", status)
	}
	if month != "" {
		ym, err := period.Parse(month)
		if err != nil {
			return filter, eris.Wrap(err, "runs: --month")
		}
		filter.ValMonth = ym.String()
	}
	return filter, nil
}

// formatRunsList writes a tabular list of runs to w. Runs still in progress
// show their elapsed time relative to now.
func formatRunsList(out io.Writer, runs []model.ValuationRun, now time.Time) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMONTH\tMETHOD\tSTATUS\tGROUPS\tDECIDED\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t------\t-------\t-------\t--------\t-----")

	for _, r := range runs {
		end := now
		if r.CompletedAt != nil {
			end = *r.CompletedAt
		}
		dur := end.Sub(r.StartedAt).Round(time.Second).String()

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.ValMonth,
			r.ValMethod,
			r.Status,
			p.Sprintf("%d", r.GroupsValuated),
			p.Sprintf("%d", r.DecidedRows),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncateError(r.Error),
		)
	}
	_ = w.Flush()
}

// truncateError shortens an error message for a single table cell.
func truncateError(msg string) string {
	if len(msg) > 40 {
		return msg[:37] + "..."
	}
	return msg
}
