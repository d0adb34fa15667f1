package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/reserve-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Decimals are stored
// as TEXT so they round-trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Page workers write concurrently; SQLite takes one writer at a time.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS conf_measure_actuarial_assumption (
	val_method TEXT NOT NULL,
	val_month  TEXT NOT NULL,
	class_code TEXT NOT NULL,
	lic_ra     TEXT
);

CREATE TABLE IF NOT EXISTS conf_measure_claim_model_new (
	class_code TEXT NOT NULL,
	month_id   INTEGER NOT NULL,
	paid_ratio TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conf_measure_month_disrate (
	val_month             TEXT NOT NULL,
	term_month            INTEGER NOT NULL,
	forward_disrate_value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS int_t_pp_jl_unsettled_group (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	val_month        TEXT NOT NULL,
	val_method       TEXT NOT NULL,
	accident_month   TEXT NOT NULL,
	class_code       TEXT NOT NULL,
	unit_id          TEXT NOT NULL,
	risk_code        TEXT,
	com_code         TEXT,
	business_nature  TEXT,
	car_kind_code    TEXT,
	use_nature_code  TEXT,
	group_id         TEXT,
	rein_type        TEXT,
	rein_system_code TEXT,
	case_amt         TEXT,
	ibnr_amt         TEXT,
	ulae_amt         TEXT
);

CREATE TABLE IF NOT EXISTS valuation_run (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	val_month       TEXT NOT NULL,
	val_method      TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME,
	groups_valuated INTEGER NOT NULL DEFAULT 0,
	decided_rows    INTEGER NOT NULL DEFAULT 0,
	error           TEXT
);

CREATE INDEX IF NOT EXISTS idx_staging_cursor ON int_t_pp_jl_unsettled_group(val_month, val_method, id);
CREATE INDEX IF NOT EXISTS idx_valuation_run_started ON valuation_run(started_at);
`

// sqliteResultTable is generated from the shared column lists so the result
// table cannot drift from resultValues.
func sqliteResultTable() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS measure_cx_unsettled (\n\tid TEXT PRIMARY KEY")
	for _, c := range resultTextColumns {
		b.WriteString(",\n\t" + c + " TEXT")
	}
	for _, c := range resultNumericColumns {
		b.WriteString(",\n\t" + c + " TEXT")
	}
	b.WriteString(`,
	decided_flag TEXT NOT NULL DEFAULT '0',
	current_flag TEXT NOT NULL DEFAULT '0',
	source_id    INTEGER,
	create_by    TEXT,
	update_by    TEXT,
	create_time  DATETIME,
	update_time  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_result_month_method ON measure_cx_unsettled(val_month, val_method, decided_flag);
`)
	return b.String()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	_, err := s.db.ExecContext(ctx, sqliteResultTable())
	return eris.Wrap(err, "sqlite: migrate results")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteNumericText(col string) string {
	return "COALESCE(" + col + ", '0')"
}

func sqliteNumeric(d decimal.Decimal) any {
	return d.String()
}

func (s *SQLiteStore) LoadAssumptions(ctx context.Context, valMethod string) ([]model.Assumption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT val_method, val_month, class_code, COALESCE(lic_ra, '0')
		 FROM conf_measure_actuarial_assumption WHERE val_method = ?`,
		valMethod,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load assumptions")
	}
	defer rows.Close()

	var out []model.Assumption
	for rows.Next() {
		var a model.Assumption
		var ra string
		if err := rows.Scan(&a.ValMethod, &a.ValMonth, &a.ClassCode, &ra); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assumption")
		}
		if a.LicRA, err = decimal.NewFromString(ra); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse lic_ra")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load assumptions iterate")
}

func (s *SQLiteStore) LoadDevelopmentFactors(ctx context.Context) ([]model.DevelopmentFactor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class_code, month_id, paid_ratio FROM conf_measure_claim_model_new ORDER BY class_code, month_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load development factors")
	}
	defer rows.Close()

	var out []model.DevelopmentFactor
	for rows.Next() {
		var f model.DevelopmentFactor
		var ratio string
		if err := rows.Scan(&f.ClassCode, &f.MonthID, &ratio); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan development factor")
		}
		if f.PaidRatio, err = decimal.NewFromString(ratio); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse paid_ratio")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load development factors iterate")
}

func (s *SQLiteStore) LoadDiscountRates(ctx context.Context) ([]model.DiscountRate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT val_month, term_month, forward_disrate_value FROM conf_measure_month_disrate ORDER BY val_month, term_month`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load discount rates")
	}
	defer rows.Close()

	var out []model.DiscountRate
	for rows.Next() {
		var r model.DiscountRate
		var rate string
		if err := rows.Scan(&r.ValMonth, &r.TermMonth, &rate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan discount rate")
		}
		if r.ForwardRate, err = decimal.NewFromString(rate); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse forward_disrate_value")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load discount rates iterate")
}

func (s *SQLiteStore) LoadPriorOpenResults(ctx context.Context, valMonth, valMethod string) ([]model.UnsettledResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultProjection(sqliteNumericText)+`
		 FROM measure_cx_unsettled
		 WHERE val_month = ? AND val_method = ? AND decided_flag = '0'`,
		valMonth, valMethod,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load open results for %s", valMonth)
	}
	defer rows.Close()

	var out []model.UnsettledResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load open results iterate")
}

func (s *SQLiteStore) ReadClaimGroups(ctx context.Context, valMonth, valMethod string, afterID int64, limit int) ([]model.ClaimGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimGroupProjection(sqliteNumericText)+`
		 FROM int_t_pp_jl_unsettled_group
		 WHERE val_month = ? AND val_method = ? AND id > ?
		 ORDER BY id LIMIT ?`,
		valMonth, valMethod, afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read claim groups after %d", afterID)
	}
	defer rows.Close()

	var out []model.ClaimGroup
	for rows.Next() {
		g, err := scanClaimGroup(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claim group")
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: read claim groups iterate")
}

func (s *SQLiteStore) DeleteResults(ctx context.Context, valMonth, valMethod string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM measure_cx_unsettled WHERE val_month = ? AND val_method = ?`,
		valMonth, valMethod,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete results %s/%s", valMonth, valMethod)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// InsertResults writes rows in one transaction, stamping create and update
// times.
func (s *SQLiteStore) InsertResults(ctx context.Context, rows []model.UnsettledResult) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	values := make([][]any, len(rows))
	for i := range rows {
		rows[i].CreatedAt, rows[i].UpdatedAt = now, now
		values[i] = resultValues(&rows[i], sqliteNumeric)
	}
	return s.insertAll(ctx, "measure_cx_unsettled", resultInsertColumns, values)
}

// insertAll runs one prepared INSERT per row inside a transaction.
func (s *SQLiteStore) insertAll(ctx context.Context, table string, columns []string, values [][]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: begin insert %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+table+` (`+strings.Join(columns, ", ")+`) VALUES (`+placeholders+`)`)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close()

	for i, v := range values {
		if _, err := stmt.ExecContext(ctx, v...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert %s row %d", table, i)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: commit insert %s", table)
	}
	return int64(len(values)), nil
}

// InsertAssumptions loads assumption rows. Used to seed local databases.
func (s *SQLiteStore) InsertAssumptions(ctx context.Context, rows []model.Assumption) error {
	values := make([][]any, len(rows))
	for i, a := range rows {
		values[i] = []any{a.ValMethod, a.ValMonth, a.ClassCode, a.LicRA.String()}
	}
	_, err := s.insertAll(ctx, "conf_measure_actuarial_assumption",
		[]string{"val_method", "val_month", "class_code", "lic_ra"}, values)
	return err
}

// InsertDevelopmentFactors loads claim payment pattern rows.
func (s *SQLiteStore) InsertDevelopmentFactors(ctx context.Context, rows []model.DevelopmentFactor) error {
	values := make([][]any, len(rows))
	for i, f := range rows {
		values[i] = []any{f.ClassCode, f.MonthID, f.PaidRatio.String()}
	}
	_, err := s.insertAll(ctx, "conf_measure_claim_model_new",
		[]string{"class_code", "month_id", "paid_ratio"}, values)
	return err
}

// InsertDiscountRates loads monthly forward rate rows.
func (s *SQLiteStore) InsertDiscountRates(ctx context.Context, rows []model.DiscountRate) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{r.ValMonth, r.TermMonth, r.ForwardRate.String()}
	}
	_, err := s.insertAll(ctx, "conf_measure_month_disrate",
		[]string{"val_month", "term_month", "forward_disrate_value"}, values)
	return err
}

// InsertClaimGroups stages raw claim groups. A zero ID lets SQLite assign one.
func (s *SQLiteStore) InsertClaimGroups(ctx context.Context, groups []model.ClaimGroup) error {
	cols := append([]string{"id"}, claimGroupTextColumns...)
	cols = append(cols, claimGroupNumericColumns...)

	values := make([][]any, len(groups))
	for i := range groups {
		g := &groups[i]
		var id any
		if g.ID > 0 {
			id = g.ID
		}
		v := []any{id}
		for _, p := range claimGroupText(g) {
			v = append(v, *p)
		}
		for _, p := range claimGroupNumerics(g) {
			v = append(v, p.String())
		}
		values[i] = v
	}
	_, err := s.insertAll(ctx, "int_t_pp_jl_unsettled_group", cols, values)
	return err
}

func (s *SQLiteStore) GetClaimGroup(ctx context.Context, valMonth, valMethod, accidentMonth, unitID string) (*model.ClaimGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimGroupProjection(sqliteNumericText)+`
		 FROM int_t_pp_jl_unsettled_group
		 WHERE val_month = ? AND val_method = ? AND accident_month = ? AND unit_id = ?
		 ORDER BY id LIMIT 1`,
		valMonth, valMethod, accidentMonth, unitID,
	)
	g, err := scanClaimGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: claim group %s", model.MatchKey(valMonth, accidentMonth, unitID))
		}
		return nil, eris.Wrap(err, "sqlite: get claim group")
	}
	return &g, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, valMonth, valMethod, accidentMonth, unitID string) (*model.UnsettledResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resultProjection(sqliteNumericText)+`
		 FROM measure_cx_unsettled
		 WHERE val_month = ? AND val_method = ? AND accident_month = ? AND unit_id = ?
		 ORDER BY decided_flag LIMIT 1`,
		valMonth, valMethod, accidentMonth, unitID,
	)
	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: result %s", model.MatchKey(valMonth, accidentMonth, unitID))
		}
		return nil, eris.Wrap(err, "sqlite: get result")
	}
	return r, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, valMonth, valMethod string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO valuation_run (val_month, val_method, status, started_at) VALUES (?, ?, 'running', ?)`,
		valMonth, valMethod, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start run %s/%s", valMonth, valMethod)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: run id")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID int64, totals RunTotals) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE valuation_run SET status = 'complete', completed_at = ?, groups_valuated = ?, decided_rows = ? WHERE id = ?`,
		time.Now().UTC(), totals.GroupsValuated, totals.DecidedRows, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %d", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE valuation_run SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %d", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ValuationRun, error) {
	query := `SELECT id, val_month, val_method, status, started_at, completed_at, groups_valuated, decided_rows, error
		FROM valuation_run WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ValMethod != "" {
		query += ` AND val_method = ?`
		args = append(args, filter.ValMethod)
	}
	if filter.ValMonth != "" {
		query += ` AND val_month = ?`
		args = append(args, filter.ValMonth)
	}
	query += ` ORDER BY started_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ValuationRun
	for rows.Next() {
		var r model.ValuationRun
		var status string
		var completedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.ValMonth, &r.ValMethod, &status, &r.StartedAt,
			&completedAt, &r.GroupsValuated, &r.DecidedRows, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, strconv.FormatInt(id, 10))
	}
	return nil
}
