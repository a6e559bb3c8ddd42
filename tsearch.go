package tsearch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/tsearch/cache"
	"github.com/hupe1980/tsearch/config"
	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/planner"
	"github.com/hupe1980/tsearch/query"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqldb"
	"github.com/hupe1980/tsearch/typemap"
)

// PlanCache names results served from the query cache.
const PlanCache = "cache"

// Engine indexes objects and runs queries against one index.
// It is safe for concurrent use.
type Engine struct {
	db       sqldb.Execer
	loader   source.Loader
	registry *field.Registry
	types    *typemap.TypeMap
	compiler *query.Compiler
	planner  *planner.Planner
	indexer  *indexer.Indexer
	cache    *cache.QueryCache
	group    singleflight.Group
	metrics  MetricsCollector
	logger   *Logger
}

// New returns an engine. db is the index database; loader resolves result
// rows back into objects.
func New(db sqldb.Execer, loader source.Loader, registry *field.Registry, types *typemap.TypeMap, optFns ...Option) (*Engine, error) {
	if db == nil {
		return nil, field.Configf("tsearch needs a database handle")
	}
	if registry == nil || types == nil {
		return nil, field.Configf("tsearch needs a field registry and a type map")
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.masterTable == "" {
		return nil, field.Configf("tsearch needs a master table")
	}

	policy := opts.policy
	if policy.Logger == nil {
		policy.Logger = opts.logger.Logger
	}

	return &Engine{
		db:       db,
		loader:   loader,
		registry: registry,
		types:    types,
		compiler: query.NewCompiler(registry, types, query.Options{
			MasterTable:  opts.masterTable,
			DefaultOrder: opts.defaultOrder,
			Logger:       opts.logger.Logger,
		}),
		planner: planner.New(db, planner.Options{
			SmartQuery: opts.smartQuery,
			Logger:     opts.logger.Logger,
		}),
		indexer: indexer.New(db, registry, types, indexer.Options{
			Scheduler:     opts.scheduler,
			Skip:          opts.skip,
			Policy:        policy,
			IgnoreRelated: opts.ignoreRelated,
			Logger:        opts.logger.Logger,
		}),
		cache:   cache.New(opts.cacheSize, opts.cacheTTL),
		metrics: opts.metricsCollector,
		logger:  opts.logger,
	}, nil
}

// Open builds an engine from a loaded configuration. Options given here
// override the configured values.
func Open(db sqldb.Execer, loader source.Loader, cfg *config.Config, optFns ...Option) (*Engine, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	types, err := cfg.Types()
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithMasterTable(cfg.Index.MasterTable),
		WithDefaultOrder(cfg.Index.DefaultOrder...),
		WithSmartQuery(cfg.SmartQueryTunables()),
		WithQueryCache(cfg.QueryCache.MaxSize, cfg.QueryCache.TTL),
		WithRetryPolicy(cfg.Policy()),
		WithScheduler(cfg.Queue()),
	}
	if cfg.Index.IgnoreRelated {
		base = append(base, WithIgnoreRelated())
	}
	return New(db, loader, registry, types, append(base, optFns...)...)
}

// Registry returns the field registry.
func (e *Engine) Registry() *field.Registry { return e.registry }

// Types returns the type map.
func (e *Engine) Types() *typemap.TypeMap { return e.types }

// Indexer returns the indexing pipeline, e.g. to bind a schedule worker.
func (e *Engine) Indexer() *indexer.Indexer { return e.indexer }

// Planner returns the query planner and its per-table plan statistics.
func (e *Engine) Planner() *planner.Planner { return e.planner }

// Cache returns the long-query cache.
func (e *Engine) Cache() *cache.QueryCache { return e.cache }

// Index replaces the record of obj. Related objects are scheduled for
// reindexing unless the call or the engine ignores them.
func (e *Engine) Index(ctx context.Context, obj source.Object, opts ...indexer.CallOption) error {
	start := time.Now()
	ref, table := e.describe(obj)

	err := translateError(e.indexer.Index(ctx, obj, opts...))

	e.metrics.RecordIndex(time.Since(start), err)
	e.logger.LogIndex(ctx, ref, table, err)
	return err
}

// Unindex deletes the record of obj.
func (e *Engine) Unindex(ctx context.Context, obj source.Object, opts ...indexer.CallOption) error {
	start := time.Now()
	ref, _ := e.describe(obj)

	err := translateError(e.indexer.Unindex(ctx, obj, opts...))

	e.metrics.RecordUnindex(time.Since(start), err)
	e.logger.LogUnindex(ctx, ref, err)
	return err
}

// Update rewrites the columns of the named fields only. It is a no-op for
// objects that are not indexed.
func (e *Engine) Update(ctx context.Context, obj source.Object, fields []string, opts ...indexer.CallOption) error {
	start := time.Now()
	ref, _ := e.describe(obj)

	err := translateError(e.indexer.Update(ctx, obj, fields, opts...))

	e.metrics.RecordUpdate(time.Since(start), err)
	e.logger.LogUpdate(ctx, ref, fields, err)
	return err
}

func (e *Engine) describe(obj source.Object) (source.Ref, string) {
	ref, err := e.indexer.Identity(obj)
	if err != nil {
		return source.Ref{}, ""
	}
	table, _ := e.types.TableFor(ref.ClassName)
	return ref, table
}

// Compile binds a predicate and an order to the index. An empty order uses
// the default order.
func (e *Engine) Compile(pred query.Node, order ...string) *query.Query {
	return e.compiler.Compile(pred, order...)
}

// ShortQuery runs the adaptive scan for at most limit rows. It falls back
// to a full scan whenever the adaptive scan cannot guarantee the result.
func (e *Engine) ShortQuery(ctx context.Context, pred query.Node, order []string, limit int) (*ResultSet, error) {
	q := e.Compile(pred, order...)
	start := time.Now()

	res, err := e.planner.Short(ctx, q, limit)
	err = translateError(err)

	e.metrics.RecordQuery(string(res.Plan), len(res.Refs), time.Since(start), err)
	e.logger.LogQuery(ctx, "short query", string(res.Plan), q.Fingerprint(), limit, len(res.Refs), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return e.newResultSet(res.Refs, "", string(res.Plan)), nil
}

// LongQuery runs a full scan and caches its result. A non-positive limit
// returns every match. When queryID names a live cache entry its rows are
// returned unchanged; an expired id is recomputed and stored again under
// the same id. Callers sharing one recomputation wait for it to finish
// even if their own context is cancelled. The id of the result is
// available from ResultSet.QueryID.
func (e *Engine) LongQuery(ctx context.Context, pred query.Node, order []string, limit int, queryID string) (*ResultSet, error) {
	if queryID != "" {
		entry, ok := e.cache.Get(queryID)
		e.metrics.RecordCache(ok)
		if ok {
			e.metrics.RecordQuery(PlanCache, len(entry.Refs), 0, nil)
			return e.newResultSet(entry.Refs, queryID, PlanCache), nil
		}
		e.logger.WarnContext(ctx, "cached query id expired, re-querying", "query_id", queryID)
	}

	q := e.Compile(pred, order...)
	start := time.Now()

	run := func(ctx context.Context) (any, error) {
		res, err := e.planner.Long(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		id := e.cache.Put(queryID, cache.Entry{Refs: res.Refs, Fingerprint: q.Fingerprint()})
		return e.newResultSet(res.Refs, id, string(res.Plan)), nil
	}

	var (
		v   any
		err error
	)
	if queryID != "" {
		// Concurrent callers holding one expired id share a recomputation,
		// so it must not depend on the first caller's cancellation.
		shared := context.WithoutCancel(ctx)
		v, err, _ = e.group.Do(queryID, func() (any, error) { return run(shared) })
	} else {
		v, err = run(ctx)
	}
	err = translateError(err)

	rows := 0
	if rs, ok := v.(*ResultSet); ok {
		rows = rs.Len()
	}
	e.metrics.RecordQuery(string(planner.PlanLong), rows, time.Since(start), err)
	e.logger.LogQuery(ctx, "long query", string(planner.PlanLong), q.Fingerprint(), limit, rows, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return v.(*ResultSet), nil
}

// Load dereferences one row, returning an error wrapping
// ErrObjectNotFound when the object is gone.
func (e *Engine) Load(ctx context.Context, ref source.Ref) (source.Object, error) {
	if e.loader == nil {
		return nil, errors.New("tsearch: engine has no object loader")
	}
	return e.loader.Load(ctx, ref)
}
