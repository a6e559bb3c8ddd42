package tsearch

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// The metric package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordIndex is called after each index operation.
	// duration is the total time taken, err is nil if successful.
	RecordIndex(duration time.Duration, err error)

	// RecordUnindex is called after each unindex operation.
	RecordUnindex(duration time.Duration, err error)

	// RecordUpdate is called after each partial update.
	RecordUpdate(duration time.Duration, err error)

	// RecordQuery is called after each query. plan names the strategy
	// that produced the rows ("long", "A", "B", "C" or "cache").
	RecordQuery(plan string, rows int, duration time.Duration, err error)

	// RecordCache is called on each lookup of a cached query id.
	RecordCache(hit bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIndex(time.Duration, error)              {}
func (NoopMetricsCollector) RecordUnindex(time.Duration, error)            {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)             {}
func (NoopMetricsCollector) RecordQuery(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCache(bool)                              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IndexCount      atomic.Int64
	IndexErrors     atomic.Int64
	IndexTotalNanos atomic.Int64
	UnindexCount    atomic.Int64
	UnindexErrors   atomic.Int64
	UpdateCount     atomic.Int64
	UpdateErrors    atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryRows       atomic.Int64
	QueryTotalNanos atomic.Int64
	FullScans       atomic.Int64
	CacheHits       atomic.Int64
	CacheMisses     atomic.Int64
}

// RecordIndex implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndex(duration time.Duration, err error) {
	b.IndexCount.Add(1)
	b.IndexTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.IndexErrors.Add(1)
	}
}

// RecordUnindex implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnindex(duration time.Duration, err error) {
	b.UnindexCount.Add(1)
	if err != nil {
		b.UnindexErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(duration time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector. Plans "long" and "C" count as
// full scans.
func (b *BasicMetricsCollector) RecordQuery(plan string, rows int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
		return
	}
	b.QueryRows.Add(int64(rows))
	if plan == "long" || plan == "C" {
		b.FullScans.Add(1)
	}
}

// RecordCache implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCache(hit bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IndexCount:    b.IndexCount.Load(),
		IndexErrors:   b.IndexErrors.Load(),
		IndexAvgNanos: avg(b.IndexTotalNanos.Load(), b.IndexCount.Load()),
		UnindexCount:  b.UnindexCount.Load(),
		UnindexErrors: b.UnindexErrors.Load(),
		UpdateCount:   b.UpdateCount.Load(),
		UpdateErrors:  b.UpdateErrors.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryRows:     b.QueryRows.Load(),
		QueryAvgNanos: avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		FullScans:     b.FullScans.Load(),
		CacheHits:     b.CacheHits.Load(),
		CacheMisses:   b.CacheMisses.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IndexCount    int64
	IndexErrors   int64
	IndexAvgNanos int64
	UnindexCount  int64
	UnindexErrors int64
	UpdateCount   int64
	UpdateErrors  int64
	QueryCount    int64
	QueryErrors   int64
	QueryRows     int64
	QueryAvgNanos int64
	FullScans     int64
	CacheHits     int64
	CacheMisses   int64
}
