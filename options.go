package tsearch

import (
	"time"

	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/planner"
	"github.com/hupe1980/tsearch/sqldb"
)

type options struct {
	masterTable      string
	defaultOrder     []string
	smartQuery       planner.SmartQuery
	cacheSize        int
	cacheTTL         time.Duration
	policy           sqldb.Policy
	scheduler        indexer.Scheduler
	skip             indexer.SkipFunc
	ignoreRelated    bool
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures New and Open.
type Option func(*options)

func defaultOptions() options {
	return options{
		masterTable:      "tsearch_index",
		smartQuery:       planner.DefaultSmartQuery(),
		cacheSize:        1000,
		cacheTTL:         time.Hour,
		policy:           sqldb.DefaultPolicy(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
}

// WithMasterTable sets the union table queries fall back to when no single
// table applies.
func WithMasterTable(name string) Option {
	return func(o *options) {
		o.masterTable = name
	}
}

// WithDefaultOrder sets the order used when a query names none, e.g.
// "-modified_at".
func WithDefaultOrder(order ...string) Option {
	return func(o *options) {
		o.defaultOrder = order
	}
}

// WithSmartQuery sets the tunables of the adaptive scan.
func WithSmartQuery(sq planner.SmartQuery) Option {
	return func(o *options) {
		o.smartQuery = sq
	}
}

// WithQueryCache bounds the long-query cache. A zero ttl disables expiry.
func WithQueryCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// WithRetryPolicy bounds the transactional retries of writes.
func WithRetryPolicy(p sqldb.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithScheduler enables dependent scheduling: objects exposing related
// objects have them queued instead of indexed synchronously.
//
// Example:
//
//	queue := schedule.NewQueue("", "")
//	engine, _ := tsearch.New(db, loader, registry, types, tsearch.WithScheduler(queue))
func WithScheduler(s indexer.Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithSkip keeps objects out of the index when fn returns true for their
// marshalled field values.
func WithSkip(fn indexer.SkipFunc) Option {
	return func(o *options) {
		o.skip = fn
	}
}

// WithIgnoreRelated disables dependent scheduling for every call.
func WithIgnoreRelated() Option {
	return func(o *options) {
		o.ignoreRelated = true
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &tsearch.BasicMetricsCollector{}
//	engine, _ := tsearch.New(db, loader, registry, types, tsearch.WithMetricsCollector(metrics))
//	// ... run queries ...
//	stats := metrics.GetStats()
//	fmt.Printf("Full scans: %d\n", stats.FullScans)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging (uses NoopLogger).
//
// Example:
//
//	logger := tsearch.NewJSONLogger(slog.LevelInfo)
//	engine, _ := tsearch.New(db, loader, registry, types, tsearch.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}
