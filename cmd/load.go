package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/reserve-cli/internal/loader"
)

var loadCmd = &cobra.Command{
	Use:   "load <file>...",
	Short: "Load reference data or staged claim groups from CSV/XLSX files",
	Long: `Appends the rows of each file to the table selected by --kind:
  assumptions  val_method, val_month, class_code, lic_ra
  factors      class_code, month_id, paid_ratio
  rates        val_month, term_month, forward_disrate_value
  claims       val_month, val_method, accident_month, class_code, unit_id,
               case_amt, ibnr_amt, ulae_amt and optional routing columns

The first row of every file is the header. Every file is parsed before
anything is written.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("load"); err != nil {
			return err
		}
		ctx := cmd.Context()

		kindFlag, _ := cmd.Flags().GetString("kind")
		kind, err := loader.ParseKind(kindFlag)
		if err != nil {
			return err
		}
		opts, err := loadOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		batches := make([]*loader.Batch, 0, len(args))
		for _, path := range args {
			b, err := loader.ReadFile(ctx, path, kind, opts)
			if err != nil {
				return err
			}
			batches = append(batches, b)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		total := 0
		for i, b := range batches {
			n, err := loader.Write(ctx, st, b)
			if err != nil {
				return eris.Wrapf(err, "load %s", args[i])
			}
			total += n
		}

		fmt.Printf("loaded %d %s row(s) from %d file(s)\n", total, kind, len(args))
		return nil
	},
}

func init() {
	loadCmd.Flags().String("kind", "", "target table: assumptions, factors, rates or claims")
	loadCmd.Flags().String("sheet", "", "XLSX worksheet name (default: first sheet)")
	loadCmd.Flags().String("delimiter", "", "CSV field separator (default ',' or tab for .tsv)")
	_ = loadCmd.MarkFlagRequired("kind")
	rootCmd.AddCommand(loadCmd)
}

func loadOptionsFromFlags(cmd *cobra.Command) (loader.Options, error) {
	sheet, _ := cmd.Flags().GetString("sheet")
	delim, _ := cmd.Flags().GetString("delimiter")

	opts := loader.Options{Sheet: sheet}
	if delim == `\t` {
		delim = "\t"
	}
	if delim != "" {
		if utf8.RuneCountInString(delim) != 1 {
			return opts, eris.Errorf("load: --delimiter must be a single character, got %q", delim)
		}
		opts.Delimiter, _ = utf8.DecodeRuneInString(delim)
	}
	return opts, nil
}
