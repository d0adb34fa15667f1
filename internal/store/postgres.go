package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/reserve-cli/internal/db"
	"github.com/sells-group/reserve-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	schema  string
	staging string
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Schemas names where the tables live. Empty means the search path.
type Schemas struct {
	// Measure holds reference data, results and the run log.
	Measure string
	// Staging holds the raw claim groups.
	Staging string
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, schemas Schemas) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := NewPostgresFromPool(pool, schemas)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool, schemas Schemas) *PostgresStore {
	return &PostgresStore{pool: pool, schema: schemas.Measure, staging: schemas.Staging}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func qualify(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func (s *PostgresStore) t(table string) string {
	if table == tableStaging {
		return qualify(s.staging, table)
	}
	return qualify(s.schema, table)
}

// pgNumericText reads a numeric column as its exact decimal text.
func pgNumericText(col string) string {
	return "COALESCE(" + col + ", 0)::text"
}

func pgNumeric(d decimal.Decimal) any {
	return db.Numeric(d)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS %[1]s (
	val_method TEXT NOT NULL,
	val_month  TEXT NOT NULL,
	class_code TEXT NOT NULL,
	lic_ra     NUMERIC
);

CREATE TABLE IF NOT EXISTS %[2]s (
	class_code TEXT NOT NULL,
	month_id   INTEGER NOT NULL,
	paid_ratio NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS %[3]s (
	val_month             TEXT NOT NULL,
	term_month            INTEGER NOT NULL,
	forward_disrate_value NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS %[4]s (
	id               BIGSERIAL PRIMARY KEY,
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
	case_amt         NUMERIC,
	ibnr_amt         NUMERIC,
	ulae_amt         NUMERIC
);

CREATE TABLE IF NOT EXISTS %[5]s (
	id                     TEXT PRIMARY KEY,
	val_month              TEXT NOT NULL,
	val_method             TEXT NOT NULL,
	accident_month         TEXT NOT NULL,
	class_code             TEXT NOT NULL,
	unit_id                TEXT NOT NULL,
	risk_code              TEXT,
	com_code               TEXT,
	business_nature        TEXT,
	car_kind_code          TEXT,
	use_nature_code        TEXT,
	group_id               TEXT,
	rein_type              TEXT,
	rein_system_code       TEXT,
	ra                     NUMERIC,
	case_amt               NUMERIC,
	ibnr_amt               NUMERIC,
	ulae_amt               NUMERIC,
	pv_ulae_current        NUMERIC,
	pv_ibnr_current        NUMERIC,
	pv_case_current        NUMERIC,
	pv_ulae_accident       NUMERIC,
	pv_ibnr_accident       NUMERIC,
	pv_case_accident       NUMERIC,
	uale_amt_ifie_accident NUMERIC,
	ibnr_amt_ifie_accident NUMERIC,
	case_amt_ifie_accident NUMERIC,
	pv_last_ulae_current   NUMERIC,
	pv_last_ibnr_current   NUMERIC,
	pv_last_case_current   NUMERIC,
	pv_last_ulae_accident  NUMERIC,
	pv_last_ibnr_accident  NUMERIC,
	pv_last_case_accident  NUMERIC,
	pv_last_ulae_amt       NUMERIC,
	pv_last_ibnr_amt       NUMERIC,
	pv_last_case_amt       NUMERIC,
	paid_claim_change      NUMERIC,
	service_fee_change     NUMERIC,
	paid_claim_ifie        NUMERIC,
	oci_change             NUMERIC,
	decided_flag           TEXT NOT NULL DEFAULT '0',
	current_flag           TEXT NOT NULL DEFAULT '0',
	source_id              BIGINT,
	create_by              TEXT,
	update_by              TEXT,
	create_time            TIMESTAMPTZ NOT NULL DEFAULT now(),
	update_time            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[6]s (
	id              BIGSERIAL PRIMARY KEY,
	val_month       TEXT NOT NULL,
	val_method      TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ,
	groups_valuated BIGINT NOT NULL DEFAULT 0,
	decided_rows    BIGINT NOT NULL DEFAULT 0,
	error           TEXT
);

CREATE INDEX IF NOT EXISTS idx_assumption_method ON %[1]s (val_method);
CREATE INDEX IF NOT EXISTS idx_staging_cursor ON %[4]s (val_month, val_method, id);
CREATE INDEX IF NOT EXISTS idx_result_month_method ON %[5]s (val_month, val_method, decided_flag);
CREATE INDEX IF NOT EXISTS idx_result_unit ON %[5]s (val_month, val_method, unit_id);
CREATE INDEX IF NOT EXISTS idx_valuation_run_started ON %[6]s (started_at DESC);
`

// Migrate creates the schemas and tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, schema := range []string{s.schema, s.staging} {
		if schema == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return eris.Wrapf(err, "postgres: create schema %s", schema)
		}
	}
	ddl := fmt.Sprintf(postgresMigration,
		s.t(tableAssumptions), s.t(tableFactors), s.t(tableRates),
		s.t(tableStaging), s.t(tableResults), s.t(tableRuns),
	)
	_, err := s.pool.Exec(ctx, ddl)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadAssumptions(ctx context.Context, valMethod string) ([]model.Assumption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT val_method, val_month, class_code, `+pgNumericText("lic_ra")+`
		 FROM `+s.t(tableAssumptions)+` WHERE val_method = $1`,
		valMethod,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load assumptions")
	}
	defer rows.Close()

	var out []model.Assumption
	for rows.Next() {
		var a model.Assumption
		var ra string
		if err := rows.Scan(&a.ValMethod, &a.ValMonth, &a.ClassCode, &ra); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assumption")
		}
		if a.LicRA, err = db.ParseDecimal("lic_ra", ra); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load assumptions iterate")
}

func (s *PostgresStore) LoadDevelopmentFactors(ctx context.Context) ([]model.DevelopmentFactor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT class_code, month_id, `+pgNumericText("paid_ratio")+`
		 FROM `+s.t(tableFactors)+` ORDER BY class_code, month_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load development factors")
	}
	defer rows.Close()

	var out []model.DevelopmentFactor
	for rows.Next() {
		var f model.DevelopmentFactor
		var ratio string
		if err := rows.Scan(&f.ClassCode, &f.MonthID, &ratio); err != nil {
			return nil, eris.Wrap(err, "postgres: scan development factor")
		}
		if f.PaidRatio, err = db.ParseDecimal("paid_ratio", ratio); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load development factors iterate")
}

func (s *PostgresStore) LoadDiscountRates(ctx context.Context) ([]model.DiscountRate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT val_month, term_month, `+pgNumericText("forward_disrate_value")+`
		 FROM `+s.t(tableRates)+` ORDER BY val_month, term_month`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load discount rates")
	}
	defer rows.Close()

	var out []model.DiscountRate
	for rows.Next() {
		var r model.DiscountRate
		var rate string
		if err := rows.Scan(&r.ValMonth, &r.TermMonth, &rate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan discount rate")
		}
		if r.ForwardRate, err = db.ParseDecimal("forward_disrate_value", rate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load discount rates iterate")
}

func (s *PostgresStore) LoadPriorOpenResults(ctx context.Context, valMonth, valMethod string) ([]model.UnsettledResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultProjection(pgNumericText)+`
		 FROM `+s.t(tableResults)+`
		 WHERE val_month = $1 AND val_method = $2 AND decided_flag = '0'`,
		valMonth, valMethod,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load open results for %s", valMonth)
	}
	defer rows.Close()

	var out []model.UnsettledResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load open results iterate")
}

func (s *PostgresStore) ReadClaimGroups(ctx context.Context, valMonth, valMethod string, afterID int64, limit int) ([]model.ClaimGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+claimGroupProjection(pgNumericText)+`
		 FROM `+s.t(tableStaging)+`
		 WHERE val_month = $1 AND val_method = $2 AND id > $3
		 ORDER BY id LIMIT $4`,
		valMonth, valMethod, afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read claim groups after %d", afterID)
	}
	defer rows.Close()

	out := make([]model.ClaimGroup, 0, limit)
	for rows.Next() {
		g, err := scanClaimGroup(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim group")
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "postgres: read claim groups iterate")
}

func (s *PostgresStore) DeleteResults(ctx context.Context, valMonth, valMethod string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.t(tableResults)+` WHERE val_month = $1 AND val_method = $2`,
		valMonth, valMethod,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete results %s/%s", valMonth, valMethod)
	}
	return tag.RowsAffected(), nil
}

// InsertResults COPYs rows into the result table, stamping create and update
// times.
func (s *PostgresStore) InsertResults(ctx context.Context, rows []model.UnsettledResult) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	values := make([][]any, len(rows))
	for i := range rows {
		rows[i].CreatedAt, rows[i].UpdatedAt = now, now
		values[i] = resultValues(&rows[i], pgNumeric)
	}
	return db.CopyFromSchema(ctx, s.pool, s.schema, tableResults, resultInsertColumns, values)
}

// InsertAssumptions COPYs actuarial assumption rows.
func (s *PostgresStore) InsertAssumptions(ctx context.Context, rows []model.Assumption) error {
	values := make([][]any, len(rows))
	for i, a := range rows {
		values[i] = []any{a.ValMethod, a.ValMonth, a.ClassCode, pgNumeric(a.LicRA)}
	}
	_, err := db.CopyFromSchema(ctx, s.pool, s.schema, tableAssumptions,
		[]string{"val_method", "val_month", "class_code", "lic_ra"}, values)
	return err
}

// InsertDevelopmentFactors COPYs claim payment pattern rows.
func (s *PostgresStore) InsertDevelopmentFactors(ctx context.Context, rows []model.DevelopmentFactor) error {
	values := make([][]any, len(rows))
	for i, f := range rows {
		values[i] = []any{f.ClassCode, int32(f.MonthID), pgNumeric(f.PaidRatio)}
	}
	_, err := db.CopyFromSchema(ctx, s.pool, s.schema, tableFactors,
		[]string{"class_code", "month_id", "paid_ratio"}, values)
	return err
}

// InsertDiscountRates COPYs monthly forward rate rows.
func (s *PostgresStore) InsertDiscountRates(ctx context.Context, rows []model.DiscountRate) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{r.ValMonth, int32(r.TermMonth), pgNumeric(r.ForwardRate)}
	}
	_, err := db.CopyFromSchema(ctx, s.pool, s.schema, tableRates,
		[]string{"val_month", "term_month", "forward_disrate_value"}, values)
	return err
}

// InsertClaimGroups COPYs raw claim groups into the staging table. IDs come
// from the table's sequence.
func (s *PostgresStore) InsertClaimGroups(ctx context.Context, groups []model.ClaimGroup) error {
	cols := append(append([]string{}, claimGroupTextColumns...), claimGroupNumericColumns...)

	values := make([][]any, len(groups))
	for i := range groups {
		g := &groups[i]
		v := make([]any, 0, len(cols))
		for _, p := range claimGroupText(g) {
			v = append(v, *p)
		}
		for _, p := range claimGroupNumerics(g) {
			v = append(v, pgNumeric(*p))
		}
		values[i] = v
	}
	_, err := db.CopyFromSchema(ctx, s.pool, s.staging, tableStaging, cols, values)
	return err
}

func (s *PostgresStore) GetClaimGroup(ctx context.Context, valMonth, valMethod, accidentMonth, unitID string) (*model.ClaimGroup, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+claimGroupProjection(pgNumericText)+`
		 FROM `+s.t(tableStaging)+`
		 WHERE val_month = $1 AND val_method = $2 AND accident_month = $3 AND unit_id = $4
		 ORDER BY id LIMIT 1`,
		valMonth, valMethod, accidentMonth, unitID,
	)
	g, err := scanClaimGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: claim group %s", model.MatchKey(valMonth, accidentMonth, unitID))
		}
		return nil, eris.Wrap(err, "postgres: get claim group")
	}
	return &g, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, valMonth, valMethod, accidentMonth, unitID string) (*model.UnsettledResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultProjection(pgNumericText)+`
		 FROM `+s.t(tableResults)+`
		 WHERE val_month = $1 AND val_method = $2 AND accident_month = $3 AND unit_id = $4
		 ORDER BY decided_flag LIMIT 1`,
		valMonth, valMethod, accidentMonth, unitID,
	)
	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: result %s", model.MatchKey(valMonth, accidentMonth, unitID))
		}
		return nil, eris.Wrap(err, "postgres: get result")
	}
	return r, nil
}

// StartRun records the beginning of a valuation run and returns its ID.
func (s *PostgresStore) StartRun(ctx context.Context, valMonth, valMethod string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.t(tableRuns)+` (val_month, val_method, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		valMonth, valMethod,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start run %s/%s", valMonth, valMethod)
	}
	return id, nil
}

// CompleteRun marks a run as successfully completed.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID int64, totals RunTotals) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t(tableRuns)+`
		 SET status = 'complete', completed_at = now(), groups_valuated = $1, decided_rows = $2
		 WHERE id = $3`,
		totals.GroupsValuated, totals.DecidedRows, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %d", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %d", runID)
	}
	return nil
}

// FailRun marks a run as failed with an error message.
func (s *PostgresStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t(tableRuns)+`
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %d", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %d", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ValuationRun, error) {
	query := `SELECT id, val_month, val_method, status, started_at, completed_at, groups_valuated, decided_rows, error
		FROM ` + s.t(tableRuns) + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ValMethod != "" {
		query += fmt.Sprintf(` AND val_method = $%d`, argIdx)
		args = append(args, filter.ValMethod)
		argIdx++
	}
	if filter.ValMonth != "" {
		query += fmt.Sprintf(` AND val_month = $%d`, argIdx)
		args = append(args, filter.ValMonth)
		argIdx++
	}
	query += ` ORDER BY started_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ValuationRun
	for rows.Next() {
		var r model.ValuationRun
		var errStr *string
		if err := rows.Scan(&r.ID, &r.ValMonth, &r.ValMethod, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.GroupsValuated, &r.DecidedRows, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
