// Package planner executes compiled queries, either as a full scan or
// through the adaptive short query strategy.
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/query"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqlast"
	"github.com/hupe1980/tsearch/sqldb"
)

// Plan names the strategy that produced a result.
type Plan string

const (
	// PlanLong is a full scan requested directly.
	PlanLong Plan = "long"
	// PlanA is the adaptive scan over the initial window.
	PlanA Plan = "A"
	// PlanB is the adaptive scan over a rescaled window.
	PlanB Plan = "B"
	// PlanC is the full scan the adaptive strategy fell back to.
	PlanC Plan = "C"
)

// SmartQuery holds the tunables of the adaptive scan.
type SmartQuery struct {
	// Initial is the row budget of the inner window of plan A.
	Initial int
	// Threshold is the fraction of the limit plan A must reach for plan B
	// to be tried.
	Threshold float64
	// Ratio scales the plan B window.
	Ratio float64
}

// DefaultSmartQuery returns the default tunables.
func DefaultSmartQuery() SmartQuery {
	return SmartQuery{Initial: 1000, Threshold: 0.2, Ratio: 1.5}
}

// Result is the outcome of a query.
type Result struct {
	Refs []source.Ref
	Plan Plan
}

// Planner runs queries on a database handle.
type Planner struct {
	db     sqldb.Execer
	smart  SmartQuery
	logger *slog.Logger
	stats  *xsync.MapOf[string, *TableStats]
}

// Options configures a Planner.
type Options struct {
	SmartQuery SmartQuery
	Logger     *slog.Logger
}

// New returns a planner.
func New(db sqldb.Execer, opts Options) *Planner {
	if opts.SmartQuery.Initial <= 0 {
		opts.SmartQuery = DefaultSmartQuery()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Planner{
		db:     db,
		smart:  opts.SmartQuery,
		logger: opts.Logger,
		stats:  xsync.NewMapOf[string, *TableStats](),
	}
}

// Long runs a full scan. A non-positive limit returns every match.
func (p *Planner) Long(ctx context.Context, q *query.Query, limit int) (Result, error) {
	refs, err := p.long(ctx, q, limit)
	if err != nil {
		return Result{}, err
	}
	p.tableStats(q.Table()).record(PlanLong)
	return Result{Refs: refs, Plan: PlanLong}, nil
}

func (p *Planner) long(ctx context.Context, q *query.Query, limit int) ([]source.Ref, error) {
	where, err := q.Where()
	if err != nil {
		return nil, err
	}
	order, err := q.OrderBy()
	if err != nil {
		return nil, err
	}
	stmt := sqlast.Select{
		Columns: []string{field.ClassName, field.ID},
		From:    sqlast.Table(q.Table()),
		Where:   where,
		OrderBy: order,
		Limit:   limit,
	}
	return p.fetch(ctx, stmt.Fragment())
}

// Short runs the adaptive scan. It degrades to a full scan when no limit
// is given, when the query runs on the master table or when it orders by
// relevance.
func (p *Planner) Short(ctx context.Context, q *query.Query, limit int) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, err
	}

	switch {
	case limit <= 0:
		return p.Long(ctx, q, limit)
	case q.OnMaster():
		p.logger.WarnContext(ctx, "query on master table will not be optimized", "query", q.String())
		return p.Long(ctx, q, limit)
	case q.OrdersByRelevance():
		p.logger.InfoContext(ctx, "query sorting on relevance will not be optimized", "query", q.String())
		return p.Long(ctx, q, limit)
	}

	stats := p.tableStats(q.Table())

	refs, err := p.attempt(ctx, q, p.smart.Initial, limit)
	if err != nil {
		return Result{}, err
	}
	if len(refs) >= limit {
		p.logger.DebugContext(ctx, "found rows with plan A", "rows", len(refs), "limit", limit)
		stats.record(PlanA)
		return Result{Refs: refs, Plan: PlanA}, nil
	}
	p.logger.DebugContext(ctx, "plan A too short", "rows", len(refs), "limit", limit)

	if n := len(refs); n > 0 && float64(n) >= float64(limit)*p.smart.Threshold {
		size := int(float64(p.smart.Initial) * float64(limit) / float64(n) * p.smart.Ratio)
		refs, err = p.attempt(ctx, q, size, limit)
		if err != nil {
			return Result{}, err
		}
		if len(refs) >= limit {
			p.logger.DebugContext(ctx, "found rows with plan B", "rows", len(refs), "limit", limit, "window", size)
			stats.record(PlanB)
			return Result{Refs: refs, Plan: PlanB}, nil
		}
		p.logger.DebugContext(ctx, "plan B too short", "rows", len(refs), "limit", limit, "window", size)
	}

	p.logger.DebugContext(ctx, "using plan C", "limit", limit)
	refs, err = p.long(ctx, q, limit)
	if err != nil {
		return Result{}, err
	}
	stats.record(PlanC)
	return Result{Refs: refs, Plan: PlanC}, nil
}

// SmartStatement returns the adaptive scan statement for a window size.
func SmartStatement(q *query.Query, window, limit int) (sqlast.Fragment, error) {
	classes := make([]any, len(q.Classes()))
	for i, c := range q.Classes() {
		classes[i] = c
	}
	reg := q.Registry()
	restrict, err := reg.Class().Predicate(field.OpIn, classes)
	if err != nil {
		return sqlast.Fragment{}, err
	}
	first, err := q.FirstOrderBy()
	if err != nil {
		return sqlast.Fragment{}, err
	}
	where, err := q.Where()
	if err != nil {
		return sqlast.Fragment{}, err
	}
	order, err := q.OrderBy()
	if err != nil {
		return sqlast.Fragment{}, err
	}

	inner := sqlast.Select{
		From:    sqlast.Table(q.Table()),
		Where:   restrict,
		OrderBy: first,
		Limit:   window,
	}
	outer := sqlast.Select{
		Columns: []string{field.ClassName, field.ID},
		From:    sqlast.Subquery(inner, "subquery"),
		Where:   where,
		OrderBy: order,
		Limit:   limit,
	}
	return outer.Fragment(), nil
}

func (p *Planner) attempt(ctx context.Context, q *query.Query, window, limit int) ([]source.Ref, error) {
	stmt, err := SmartStatement(q, window, limit)
	if err != nil {
		return nil, err
	}
	return p.fetch(ctx, stmt)
}

func (p *Planner) fetch(ctx context.Context, f sqlast.Fragment) ([]source.Ref, error) {
	stmt, args := f.Bind()
	p.logger.DebugContext(ctx, "query", "sql", stmt, "args", args)

	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	defer rows.Close()

	var refs []source.Ref
	for rows.Next() {
		var ref source.Ref
		if err := rows.Scan(&ref.ClassName, &ref.ID); err != nil {
			return nil, fmt.Errorf("planner: scan: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return refs, nil
}
