package reindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/tsearch/checkpoint"
	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqlast"
	"github.com/hupe1980/tsearch/sqldb"
	"github.com/hupe1980/tsearch/typemap"
)

// Source describes the index being read.
type Source struct {
	DB       sqldb.Execer
	Master   string
	Registry *field.Registry
	Types    *typemap.TypeMap
}

// Options configures a Reindexer.
type Options struct {
	// DateField names the DateTime field holding the modification date.
	DateField string
	// Step is the number of rows per step. Defaults to 1000.
	Step int
	// Delay is the pause between steps. Defaults to 500ms.
	Delay time.Duration
	// EstimateEvery is the number of steps between two recounts of the
	// remaining rows. Defaults to 10.
	EstimateEvery int
	// Since restricts a fresh run to rows changed after it. It is ignored
	// when a saved state is resumed.
	Since time.Time
	// Forever keeps following new rows after catching up.
	Forever bool
	// Name keys the saved state. Defaults to "reindex".
	Name string
	// Store persists the cursor. Defaults to checkpoint.Nop.
	Store checkpoint.Store
	// Parallelism bounds concurrent indexing within a step. Defaults to 1.
	Parallelism int
	// Rate limits indexed objects per second. Zero means unlimited.
	Rate float64
	// OnStep is called after every saved step.
	OnStep func(Progress)
	Logger *slog.Logger
}

// Reindexer copies the index of one configuration into another.
type Reindexer struct {
	src      Source
	target   *indexer.Indexer
	loader   source.Loader
	date     field.Field
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
	sessions int
}

// New validates the setup and returns a Reindexer. The target indexer must
// write to tables disjoint from the source ones.
func New(src Source, target *indexer.Indexer, loader source.Loader, opts Options) (*Reindexer, error) {
	if loader == nil {
		return nil, field.Configf("reindex needs an object loader")
	}
	if opts.DateField == "" {
		return nil, field.Configf("reindex needs a date field")
	}
	date, err := src.Registry.Field(opts.DateField)
	if err != nil {
		return nil, err
	}
	if date.Kind() != field.KindDateTime {
		return nil, field.Configf("date field %q must be a datetime field, got %s", opts.DateField, date.Kind())
	}
	if err := CheckTables(src.Types, target.Types()); err != nil {
		return nil, err
	}

	if opts.Step <= 0 {
		opts.Step = 1000
	}
	if opts.Delay <= 0 {
		opts.Delay = 500 * time.Millisecond
	}
	if opts.EstimateEvery <= 0 {
		opts.EstimateEvery = 10
	}
	if opts.Name == "" {
		opts.Name = "reindex"
	}
	if opts.Store == nil {
		opts.Store = checkpoint.Nop{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.Parallelism)
	}

	return &Reindexer{
		src:     src,
		target:  target,
		loader:  loader,
		date:    date,
		opts:    opts,
		limiter: limiter,
		logger:  opts.Logger.With("name", opts.Name),
	}, nil
}

// CheckTables fails when the two type maps share a table.
func CheckTables(old, new *typemap.TypeMap) error {
	var shared []string
	for _, t := range new.AllTables() {
		if slices.Contains(old.AllTables(), t) {
			shared = append(shared, t)
		}
	}
	if len(shared) > 0 {
		return field.Configf("new and old table names conflict: %v", shared)
	}
	return nil
}

// Run resumes (or starts) the reindex and returns when it caught up, or
// when ctx is cancelled. The state is saved after every step.
func (r *Reindexer) Run(ctx context.Context) (Progress, error) {
	st, err := r.load(ctx)
	if err != nil {
		return Progress{}, err
	}

	for {
		start := time.Now()
		nb, err := r.Step(ctx, st)
		if err != nil {
			return progressOf(st, r.sessions), err
		}
		st.Elapsed += time.Since(start)
		r.sessions++

		if err := r.account(ctx, st); err != nil {
			return progressOf(st, r.sessions), err
		}
		if err := r.opts.Store.Save(ctx, r.opts.Name, st); err != nil {
			return progressOf(st, r.sessions), fmt.Errorf("reindex: save state: %w", err)
		}

		p := progressOf(st, r.sessions)
		r.report(ctx, p)

		if nb < r.opts.Step-1 && !r.opts.Forever {
			return p, nil
		}

		timer := time.NewTimer(r.opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return p, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Reindexer) load(ctx context.Context) (*checkpoint.State, error) {
	st, err := r.opts.Store.Load(ctx, r.opts.Name)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		st = &checkpoint.State{}
		if !r.opts.Since.IsZero() {
			since := r.opts.Since
			st.Since = &since
		}
	case err != nil:
		return nil, fmt.Errorf("reindex: load state: %w", err)
	default:
		if !r.opts.Since.IsZero() {
			r.logger.WarnContext(ctx, "resuming saved state, ignoring since")
		}
		r.logger.InfoContext(ctx, "resuming", "done", st.Done, "remaining", st.Remaining)
	}

	if !st.Counted {
		n, err := r.Count(ctx, st.Since)
		if err != nil {
			return nil, err
		}
		st.Initial, st.Remaining, st.Counted = n, n, true
	}
	return st, nil
}

// Count returns the number of indexed rows changed at or after since.
func (r *Reindexer) Count(ctx context.Context, since *time.Time) (int64, error) {
	stmt := "SELECT COUNT(*) FROM " + r.src.Master
	var args []any
	if since != nil {
		stmt += " WHERE " + r.date.DataColumn() + " >= $1"
		args = append(args, *since)
	}

	var n int64
	if err := r.src.DB.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("reindex: count: %w", err)
	}
	return n, nil
}

type item struct {
	ref  source.Ref
	date sql.NullTime
}

// StepStatement renders the query selecting the next rows after st.
func (r *Reindexer) StepStatement(st *checkpoint.State) sqlast.Fragment {
	col := r.date.DataColumn()
	var conds []sqlast.Fragment
	if st.Since != nil {
		conds = append(conds, sqlast.New(col+" >= ?", *st.Since))
	}
	if st.Last != nil {
		conds = append(conds, sqlast.New("("+field.ClassName+" != ? OR "+field.ID+" != ?)", st.Last.ClassName, st.Last.ID))
	}
	return sqlast.Select{
		Columns: []string{field.ClassName, field.ID, col},
		From:    sqlast.Table(r.src.Master),
		Where:   sqlast.Join(" AND ", conds...),
		OrderBy: sqlast.New(col + " ASC"),
		Limit:   r.opts.Step,
	}.Fragment()
}

// Step indexes the next rows into the target tables and advances st. It
// returns the number of rows indexed.
func (r *Reindexer) Step(ctx context.Context, st *checkpoint.State) (int, error) {
	items, err := r.next(ctx, st)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	var mu sync.Mutex
	missing := 0
	for _, it := range items {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}
			ok, err := r.index(gctx, it.ref)
			if !ok && err == nil {
				mu.Lock()
				missing++
				mu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if missing > 0 {
		r.logger.WarnContext(ctx, "indexed rows without object", "rows", missing)
	}

	if len(items) > 0 {
		last := items[len(items)-1]
		st.Last = &last.ref
		if last.date.Valid {
			t := last.date.Time
			st.Since = &t
		}
	}
	st.Nb = len(items)
	st.Done += int64(len(items))
	return len(items), nil
}

func (r *Reindexer) next(ctx context.Context, st *checkpoint.State) ([]item, error) {
	stmt, args := r.StepStatement(st).Bind()
	r.logger.DebugContext(ctx, "step", "sql", stmt, "args", args)

	rows, err := r.src.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("reindex: %w", err)
	}
	defer rows.Close()

	var items []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.ref.ClassName, &it.ref.ID, &it.date); err != nil {
			return nil, fmt.Errorf("reindex: scan: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Reindexer) index(ctx context.Context, ref source.Ref) (bool, error) {
	obj, err := r.loader.Load(ctx, ref)
	if errors.Is(err, source.ErrNotFound) {
		r.logger.DebugContext(ctx, "object is gone", "classname", ref.ClassName, "id", ref.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reindex: load %s: %w", ref, err)
	}
	if err := r.target.Index(ctx, obj, indexer.SkipRelated()); err != nil {
		return false, fmt.Errorf("reindex: index %s: %w", ref, err)
	}
	return true, nil
}

// account updates the remaining estimate, recounting every EstimateEvery
// steps' worth of rows.
func (r *Reindexer) account(ctx context.Context, st *checkpoint.State) error {
	per := int64(r.opts.Step) * int64(r.opts.EstimateEvery)
	cur := st.Done / per
	prev := (st.Done - int64(st.Nb)) / per

	st.Remaining -= int64(st.Nb)
	if cur == prev {
		return nil
	}

	old := st.Remaining
	n, err := r.Count(ctx, st.Since)
	if err != nil {
		return err
	}
	st.Remaining = n
	st.Drift = n - old
	st.CumulatedDrift += st.Drift
	return nil
}

func (r *Reindexer) report(ctx context.Context, p Progress) {
	est := p.Estimate()
	if est.NeverFinishes {
		r.logger.WarnContext(ctx, "drift rate is at least 1, reindex will never finish",
			"done", p.Done, "drift_rate", est.DriftRate)
	} else {
		r.logger.InfoContext(ctx, "step done",
			"rows", p.Nb, "done", p.Done, "percent", est.Percent,
			"elapsed", p.Elapsed, "eta", est.ETA, "remaining", p.Remaining)
	}
	if r.opts.OnStep != nil {
		r.opts.OnStep(p)
	}
}
