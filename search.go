package tsearch

import (
	"context"
	"iter"

	"github.com/hupe1980/tsearch/query"
	"github.com/hupe1980/tsearch/source"
)

// Search creates a fluent query builder for a predicate.
//
// Example:
//
//	results, err := engine.Search(query.Q("fulltext__containswords", "election")).
//	    OrderBy("-sql_rank", "-modified_at").
//	    Limit(20).
//	    Short(ctx)
//
//	// Or with streaming:
//	for obj, err := range engine.Search(pred).Limit(100).Stream(ctx) {
//	    if err != nil { break }
//	    process(obj)
//	}
func (e *Engine) Search(pred query.Node) *SearchBuilder {
	return &SearchBuilder{
		engine: e,
		pred:   pred,
		limit:  50, // Default limit
	}
}

// SearchBuilder is a fluent builder for constructing queries.
type SearchBuilder struct {
	engine  *Engine
	pred    query.Node
	order   []string
	limit   int
	queryID string
}

// OrderBy sets the order terms. A leading "-" sorts descending.
func (sb *SearchBuilder) OrderBy(terms ...string) *SearchBuilder {
	sb.order = terms
	return sb
}

// Limit sets the maximum number of rows. Non-positive means unlimited,
// which always runs a full scan.
func (sb *SearchBuilder) Limit(n int) *SearchBuilder {
	sb.limit = n
	return sb
}

// QueryID reuses a cached long query result.
func (sb *SearchBuilder) QueryID(id string) *SearchBuilder {
	sb.queryID = id
	return sb
}

// Short runs the adaptive scan.
func (sb *SearchBuilder) Short(ctx context.Context) (*ResultSet, error) {
	return sb.engine.ShortQuery(ctx, sb.pred, sb.order, sb.limit)
}

// Long runs the cached full scan.
func (sb *SearchBuilder) Long(ctx context.Context) (*ResultSet, error) {
	return sb.engine.LongQuery(ctx, sb.pred, sb.order, sb.limit, sb.queryID)
}

// Stream runs the adaptive scan and iterates the loaded objects.
func (sb *SearchBuilder) Stream(ctx context.Context) iter.Seq2[source.Object, error] {
	return func(yield func(source.Object, error) bool) {
		rs, err := sb.Short(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for obj, err := range rs.Objects(ctx) {
			if !yield(obj, err) {
				return
			}
		}
	}
}
