package valuation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/reserve-cli/internal/metrics"
	"github.com/sells-group/reserve-cli/internal/model"
	"github.com/sells-group/reserve-cli/internal/period"
)

// DefaultPageSize is the cursor page size used when Options.PageSize is unset.
const DefaultPageSize = 100000

// Store is the persistence collaborator the pipeline reads reference data and
// claim groups from and writes results to.
type Store interface {
	LoadAssumptions(ctx context.Context, valMethod string) ([]model.Assumption, error)
	LoadDevelopmentFactors(ctx context.Context) ([]model.DevelopmentFactor, error)
	LoadDiscountRates(ctx context.Context) ([]model.DiscountRate, error)
	// LoadPriorOpenResults returns the undecided result rows of valMonth.
	LoadPriorOpenResults(ctx context.Context, valMonth, valMethod string) ([]model.UnsettledResult, error)
	// ReadClaimGroups returns up to limit staging rows with id > afterID,
	// ordered by id.
	ReadClaimGroups(ctx context.Context, valMonth, valMethod string, afterID int64, limit int) ([]model.ClaimGroup, error)
	DeleteResults(ctx context.Context, valMonth, valMethod string) (int64, error)
	InsertResults(ctx context.Context, rows []model.UnsettledResult) (int64, error)
}

// State is a stage of a run.
type State int

const (
	StateIdle State = iota
	StateCachesLoading
	StatePaging
	StateReconciling
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCachesLoading:
		return "caches_loading"
	case StatePaging:
		return "paging"
	case StateReconciling:
		return "reconciling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Pipeline.
type Options struct {
	PageSize       int
	Workers        int
	PagesPerSecond float64 // 0 = unlimited
	CreatedBy      string
	IDs            IDGenerator
	// OnState, if set, is called on every state transition.
	OnState func(from, to State)
}

// RunResult summarises a successful run.
type RunResult struct {
	ValMonth       string        `json:"val_month"`
	ValMethod      string        `json:"val_method"`
	Deleted        int64         `json:"deleted"`
	Pages          int           `json:"pages"`
	GroupsValuated int64         `json:"groups_valuated"`
	DecidedRows    int64         `json:"decided_rows"`
	RowsWritten    int64         `json:"rows_written"`
	PriorOpen      int           `json:"prior_open"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Pipeline drives one valuation run: reference-data preload, cursor-paged
// valuation of claim groups, decided transitions.
type Pipeline struct {
	store Store
	opts  Options

	mu    sync.Mutex
	state State
}

// NewPipeline creates a pipeline over store.
func NewPipeline(store Store, opts Options) *Pipeline {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	return &Pipeline{store: store, opts: opts}
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()
	if p.opts.OnState != nil {
		p.opts.OnState(from, to)
	}
}

// Run valuates every claim group staged for (valMethod, valMonth), replacing
// any results already stored for that key. Rows written before a failure
// stay in place; running again regenerates them.
func (p *Pipeline) Run(ctx context.Context, valMethod, valMonth string) (*RunResult, error) {
	start := time.Now()
	log := zap.L().With(
		zap.String("component", "valuation.pipeline"),
		zap.String("val_method", valMethod),
		zap.String("val_month", valMonth),
	)

	p.setState(StateIdle)
	res, err := p.run(ctx, log, valMethod, valMonth)
	elapsed := time.Since(start)
	metrics.ObserveRun(elapsed, err)

	if err != nil {
		p.setState(StateFailed)
		log.Error("valuation run failed",
			zap.Error(err),
			zap.Bool("configuration_error", IsConfigurationError(err)),
			zap.Duration("elapsed", elapsed),
		)
		return nil, err
	}

	res.Elapsed = elapsed
	p.setState(StateDone)
	log.Info("valuation run complete",
		zap.Int("pages", res.Pages),
		zap.Int64("groups_valuated", res.GroupsValuated),
		zap.Int64("decided_rows", res.DecidedRows),
		zap.Int64("rows_written", res.RowsWritten),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, valMethod, valMonth string) (*RunResult, error) {
	ym, err := period.Parse(valMonth)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: valuation month")
	}

	p.setState(StateCachesLoading)
	loadStart := time.Now()
	rc, err := p.LoadRunContext(ctx, ym, valMethod)
	if err != nil {
		return nil, err
	}
	stats := rc.Stats()
	log.Info("reference data loaded",
		zap.Int("assumptions", stats.Assumptions),
		zap.Int("factor_classes", stats.FactorClasses),
		zap.Int("curves", stats.Curves),
		zap.Int("prior_open", stats.PriorOpen),
		zap.Duration("elapsed", time.Since(loadStart)),
	)

	res := &RunResult{ValMonth: ym.String(), ValMethod: valMethod, PriorOpen: stats.PriorOpen}

	p.setState(StatePaging)
	res.Deleted, err = p.store.DeleteResults(ctx, ym.String(), valMethod)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: delete existing results")
	}

	var groups, written atomic.Int64
	res.Pages, err = p.page(ctx, log, rc, &groups, &written)
	if err != nil {
		return nil, err
	}
	res.GroupsValuated = groups.Load()

	// Every page worker has returned, so every Take is visible here.
	p.setState(StateReconciling)
	decided, err := ResolveDecided(rc, p.opts.IDs)
	if err != nil {
		return nil, err
	}
	p.stamp(decided)
	n, err := p.store.InsertResults(ctx, decided)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: insert decided transitions")
	}
	metrics.ObserveDecided(int64(len(decided)), n)
	log.Info("decided transitions written", zap.Int("rows", len(decided)))

	res.DecidedRows = int64(len(decided))
	res.RowsWritten = written.Load() + n
	return res, nil
}

// LoadRunContext bulk-reads the reference data for a run and indexes it.
func (p *Pipeline) LoadRunContext(ctx context.Context, valMonth period.YearMonth, valMethod string) (*RunContext, error) {
	var ref ReferenceData

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ref.Assumptions, err = p.store.LoadAssumptions(gctx, valMethod)
		return eris.Wrap(err, "pipeline: load actuarial assumptions")
	})
	g.Go(func() error {
		var err error
		ref.Factors, err = p.store.LoadDevelopmentFactors(gctx)
		return eris.Wrap(err, "pipeline: load development factors")
	})
	g.Go(func() error {
		var err error
		ref.Rates, err = p.store.LoadDiscountRates(gctx)
		return eris.Wrap(err, "pipeline: load discount rates")
	})
	g.Go(func() error {
		var err error
		ref.PriorOpen, err = p.store.LoadPriorOpenResults(gctx, valMonth.Previous().String(), valMethod)
		return eris.Wrap(err, "pipeline: load prior open results")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewRunContext(valMonth, valMethod, ref), nil
}

// page reads claim groups page by page and hands each page to a worker.
// It returns only after every worker has finished.
func (p *Pipeline) page(ctx context.Context, log *zap.Logger, rc *RunContext, groups, written *atomic.Int64) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	var limiter *rate.Limiter
	if p.opts.PagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.opts.PagesPerSecond), 1)
	}

	var (
		cursor  int64
		pages   int
		readErr error
	)
	for {
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				readErr = eris.Wrap(err, "pipeline: wait for page slot")
				break
			}
		}

		batch, err := p.store.ReadClaimGroups(gctx, rc.ValMonth.String(), rc.ValMethod, cursor, p.opts.PageSize)
		if err != nil {
			readErr = eris.Wrapf(err, "pipeline: read claim groups after id %d", cursor)
			break
		}
		if len(batch) == 0 {
			break
		}

		pages++
		cursor = batch[len(batch)-1].ID
		pageNo := pages
		g.Go(func() error {
			return p.processPage(gctx, log, rc, pageNo, batch, groups, written)
		})
	}

	// Worker errors take precedence: a failed worker cancels gctx, which
	// surfaces in the reader as a secondary error.
	if err := g.Wait(); err != nil {
		return pages, err
	}
	if readErr != nil {
		return pages, readErr
	}
	return pages, nil
}

func (p *Pipeline) processPage(ctx context.Context, log *zap.Logger, rc *RunContext, pageNo int, batch []model.ClaimGroup, groups, written *atomic.Int64) error {
	start := time.Now()

	results := make([]model.UnsettledResult, 0, len(batch))
	for i := range batch {
		r, err := Valuate(rc, &batch[i])
		if err != nil {
			return eris.Wrapf(err, "pipeline: page %d, claim group id %d (unit %s, class %s)",
				pageNo, batch[i].ID, batch[i].UnitID, batch[i].ClassCode)
		}
		results = append(results, *r)
	}
	p.stamp(results)

	n, err := p.store.InsertResults(ctx, results)
	if err != nil {
		return eris.Wrapf(err, "pipeline: insert results for page %d", pageNo)
	}

	groups.Add(int64(len(batch)))
	written.Add(n)
	elapsed := time.Since(start)
	metrics.ObservePage(elapsed, int64(len(batch)), n)
	log.Debug("page processed",
		zap.Int("page", pageNo),
		zap.Int("rows", len(batch)),
		zap.Int64("cursor", batch[len(batch)-1].ID),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (p *Pipeline) stamp(rows []model.UnsettledResult) {
	if p.opts.CreatedBy == "" {
		return
	}
	for i := range rows {
		rows[i].CreatedBy = p.opts.CreatedBy
	}
}
