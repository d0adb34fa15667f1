package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/store"
	"github.com/sells-group/reserve-cli/internal/valuation"
)

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

// sqliteEnv points the CLI at a fresh SQLite file and returns its path.
func sqliteEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reserve.db")
	t.Setenv("RESERVE_STORE_DRIVER", "sqlite")
	t.Setenv("RESERVE_STORE_DATABASE_URL", path)
	t.Setenv("RESERVE_LOG_LEVEL", "error")
	t.Setenv("RESERVE_VALUATION_PAGE_SIZE", "2")
	return path
}

func withStore(t *testing.T, path string, fn func(st *store.SQLiteStore)) {
	t.Helper()
	st, err := store.NewSQLite(path)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	fn(st)
}

func seedJanuary(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InsertAssumptions(ctx, []model.Assumption{
		{ValMethod: "BEL", ValMonth: "202401", ClassCode: "A1", LicRA: d("0.035")},
	}))
	require.NoError(t, st.InsertDevelopmentFactors(ctx, []model.DevelopmentFactor{
		{ClassCode: "A1", MonthID: 1, PaidRatio: d("0.05")},
		{ClassCode: "A1", MonthID: 2, PaidRatio: d("0.95")},
	}))
	var rates []model.DiscountRate
	for term := 0; term <= 24; term++ {
		rates = append(rates,
			model.DiscountRate{ValMonth: "202312", TermMonth: term, ForwardRate: d("0.02")},
			model.DiscountRate{ValMonth: "202401", TermMonth: term, ForwardRate: d("0.01")},
		)
	}
	require.NoError(t, st.InsertDiscountRates(ctx, rates))

	var groups []model.ClaimGroup
	for _, unit := range []string{"U1", "U2", "U3"} {
		groups = append(groups, model.ClaimGroup{
			ValMonth: "202401", ValMethod: "BEL", AccidentMonth: "202312",
			ClassCode: "A1", UnitID: unit, CaseAmt: d("101"),
		})
	}
	// No curve is published for 202402.
	groups = append(groups, model.ClaimGroup{
		ValMonth: "202402", ValMethod: "BEL", AccidentMonth: "202312",
		ClassCode: "A1", UnitID: "U1", CaseAmt: d("90"),
	})
	require.NoError(t, st.InsertClaimGroups(ctx, groups))
}

func TestCLI_MigrateValuateExplainRuns(t *testing.T) {
	path := sqliteEnv(t)

	require.NoError(t, execute("migrate"))
	require.NoError(t, execute("migrate"), "migrate is idempotent")
	withStore(t, path, func(st *store.SQLiteStore) { seedJanuary(t, st) })

	require.NoError(t, execute("valuate", "run", "--method", "BEL", "--month", "2024-01"))

	withStore(t, path, func(st *store.SQLiteStore) {
		r, err := st.GetResult(context.Background(), "202401", "BEL", "202312", "U2")
		require.NoError(t, err)
		assert.True(t, r.PVCurrent.Case.Equal(d("100")))
		assert.Equal(t, "reserve-cli", r.CreatedBy)
	})

	require.NoError(t, execute("valuate", "explain",
		"--method", "BEL", "--month", "202401", "--unit", "U2", "--accident", "202312"))

	err := execute("valuate", "explain",
		"--method", "BEL", "--month", "202401", "--unit", "missing", "--accident", "202312")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = execute("valuate", "run", "--method", "BEL", "--month", "202402")
	require.Error(t, err)
	assert.True(t, valuation.IsConfigurationError(err), err.Error())

	require.NoError(t, execute("runs", "--limit", "10"))

	withStore(t, path, func(st *store.SQLiteStore) {
		runs, err := st.ListRuns(context.Background(), store.RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, model.RunStatusFailed, runs[0].Status)
		assert.NotEmpty(t, runs[0].Error)
		assert.Equal(t, model.RunStatusComplete, runs[1].Status)
		assert.Equal(t, int64(3), runs[1].GroupsValuated)
	})
}

func TestCLI_ValuateRejectsBadMonth(t *testing.T) {
	sqliteEnv(t)

	err := execute("valuate", "run", "--method", "BEL", "--month", "2024/01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--month")
}

func TestCLI_UnsupportedDriver(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("RESERVE_STORE_DRIVER", "mysql")

	err := execute("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestCLI_LoadThenValuate(t *testing.T) {
	path := sqliteEnv(t)
	dir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	var rates strings.Builder
	rates.WriteString("val_month,term_month,forward_disrate_value\n")
	for term := 0; term <= 24; term++ {
		fmt.Fprintf(&rates, "202312,%d,0.02\n202401,%d,0.01\n", term, term)
	}

	require.NoError(t, execute("load", "--kind", "assumptions",
		write("assumptions.csv", "val_method,val_month,class_code,lic_ra\nBEL,2024-01,A1,0.035\n")))
	require.NoError(t, execute("load", "--kind", "factors",
		write("factors.tsv", "class_code\tmonth_id\tpaid_ratio\nA1\t1\t0.05\nA1\t2\t0.95\n")))
	require.NoError(t, execute("load", "--kind", "rates", write("rates.csv", rates.String())))
	require.NoError(t, execute("load", "--kind", "claims",
		write("claims.csv", "val_month,val_method,accident_month,class_code,unit_id,case_amt,com_code\n"+
			"202401,BEL,202312,A1,U1,101,C01\n")))

	err := execute("load", "--kind", "claims", write("broken.csv", "val_month,val_method\n202401,BEL\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit_id")

	require.NoError(t, execute("valuate", "run", "--method", "BEL", "--month", "202401"))

	withStore(t, path, func(st *store.SQLiteStore) {
		r, err := st.GetResult(context.Background(), "202401", "BEL", "202312", "U1")
		require.NoError(t, err)
		assert.True(t, r.PVCurrent.Case.Equal(d("100")))
		assert.True(t, r.PVAccident.Case.Equal(d("99.0196078431")))
		assert.Equal(t, "C01", r.ComCode)
		assert.Equal(t, "0.035", r.RA.String())
	})
}

func TestLoadOptionsFromFlags(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		c := &cobra.Command{}
		c.Flags().String("sheet", "", "")
		c.Flags().String("delimiter", "", "")
		require.NoError(t, c.Flags().Parse(args))
		return c
	}

	opts, err := loadOptionsFromFlags(newCmd("--sheet", "curves", "--delimiter", ";"))
	require.NoError(t, err)
	assert.Equal(t, "curves", opts.Sheet)
	assert.Equal(t, ';', opts.Delimiter)

	opts, err = loadOptionsFromFlags(newCmd("--delimiter", `\t`))
	require.NoError(t, err)
	assert.Equal(t, '\t', opts.Delimiter)

	_, err = loadOptionsFromFlags(newCmd("--delimiter", "||"))
	require.Error(t, err)
}
