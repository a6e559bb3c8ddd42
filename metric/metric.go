// Package metric exports index activity to Prometheus.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/tsearch"
	"github.com/hupe1980/tsearch/reindex"
)

const namespace = "tsearch"

// PrometheusCollector implements tsearch.MetricsCollector.
type PrometheusCollector struct {
	operations    *prometheus.CounterVec
	operationTime *prometheus.HistogramVec
	queries       *prometheus.CounterVec
	queryRows     *prometheus.HistogramVec
	queryTime     *prometheus.HistogramVec
	cache         *prometheus.CounterVec
	reindexed     *prometheus.CounterVec
	remaining     prometheus.Gauge
}

var _ tsearch.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collectors and registers them with reg.
// A nil reg skips registration.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "operations_total",
			Help:      "Index, unindex and update calls by result.",
		}, []string{"operation", "result"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "operation_duration_seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "queries_total",
			Help:      "Queries by plan and result.",
		}, []string{"plan", "result"}),
		queryRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "query_rows",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
		}, []string{"plan"}),
		queryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "query_duration_seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"plan"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "lookups_total",
		}, []string{"result"}),
		reindexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "objects_total",
		}, []string{"result"}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "remaining",
			Help:      "Rows left to reindex at the last estimate.",
		}),
	}

	if reg != nil {
		for _, col := range c.Collectors() {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Collectors returns every collector, e.g. for custom registration.
func (c *PrometheusCollector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.operations, c.operationTime, c.queries, c.queryRows, c.queryTime, c.cache, c.reindexed, c.remaining,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *PrometheusCollector) record(op string, d time.Duration, err error) {
	c.operations.WithLabelValues(op, result(err)).Inc()
	c.operationTime.WithLabelValues(op).Observe(d.Seconds())
}

func (c *PrometheusCollector) RecordIndex(d time.Duration, err error)   { c.record("index", d, err) }
func (c *PrometheusCollector) RecordUnindex(d time.Duration, err error) { c.record("unindex", d, err) }
func (c *PrometheusCollector) RecordUpdate(d time.Duration, err error)  { c.record("update", d, err) }

func (c *PrometheusCollector) RecordQuery(plan string, rows int, d time.Duration, err error) {
	if plan == "" {
		plan = "none"
	}
	c.queries.WithLabelValues(plan, result(err)).Inc()
	if err != nil {
		return
	}
	c.queryRows.WithLabelValues(plan).Observe(float64(rows))
	c.queryTime.WithLabelValues(plan).Observe(d.Seconds())
}

func (c *PrometheusCollector) RecordCache(hit bool) {
	if hit {
		c.cache.WithLabelValues("hit").Inc()
	} else {
		c.cache.WithLabelValues("miss").Inc()
	}
}

// ObserveReindex is a reindex.Options.OnStep hook.
func (c *PrometheusCollector) ObserveReindex(p reindex.Progress) {
	c.reindexed.WithLabelValues("ok").Add(float64(p.Nb))
	c.remaining.Set(float64(p.Remaining))
}

// ObserveBackfill counts the objects of a finished backfill.
func (c *PrometheusCollector) ObserveBackfill(r reindex.BackfillReport) {
	indexed, failed := int64(r.Indexed), int64(r.Failed)
	c.reindexed.WithLabelValues("ok").Add(float64(indexed))
	c.reindexed.WithLabelValues("error").Add(float64(failed))
}
