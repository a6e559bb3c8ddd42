package tsearch

import (
	"context"
	"errors"
	"iter"

	"github.com/hupe1980/tsearch/source"
)

// ResultSet is an ordered list of (classname, id) rows. Objects are loaded
// from the primary store only when asked for.
type ResultSet struct {
	engine  *Engine
	refs    []source.Ref
	queryID string
	plan    string
}

func (e *Engine) newResultSet(refs []source.Ref, queryID, plan string) *ResultSet {
	return &ResultSet{engine: e, refs: refs, queryID: queryID, plan: plan}
}

// Len returns the number of rows.
func (rs *ResultSet) Len() int { return len(rs.refs) }

// Refs returns a copy of the rows.
func (rs *ResultSet) Refs() []source.Ref {
	out := make([]source.Ref, len(rs.refs))
	copy(out, rs.refs)
	return out
}

// QueryID returns the cache id of a long query result, or "" for short
// queries.
func (rs *ResultSet) QueryID() string { return rs.queryID }

// Plan names the strategy that produced the rows.
func (rs *ResultSet) Plan() string { return rs.plan }

// Get loads the object of row i. A vanished object is reported as
// ErrObjectNotFound, not skipped.
func (rs *ResultSet) Get(ctx context.Context, i int) (source.Object, error) {
	if i < 0 || i >= len(rs.refs) {
		return nil, &ErrOutOfRange{Index: i, Len: len(rs.refs)}
	}
	return rs.engine.Load(ctx, rs.refs[i])
}

// Slice loads the objects of rows [i, j), clamped to the result. Broken
// rows are skipped with a warning.
func (rs *ResultSet) Slice(ctx context.Context, i, j int) ([]source.Object, error) {
	if i < 0 {
		i = 0
	}
	if j > len(rs.refs) {
		j = len(rs.refs)
	}
	if i >= j {
		return nil, nil
	}
	return rs.load(ctx, rs.refs[i:j])
}

// All loads every object. Broken rows are skipped with a warning.
func (rs *ResultSet) All(ctx context.Context) ([]source.Object, error) {
	return rs.load(ctx, rs.refs)
}

func (rs *ResultSet) load(ctx context.Context, refs []source.Ref) ([]source.Object, error) {
	objs := make([]source.Object, 0, len(refs))
	for obj, err := range rs.iterate(ctx, refs) {
		if err != nil {
			return objs, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Objects iterates the loaded objects in order. Broken rows are skipped
// with a warning; any other error is yielded once and ends the iteration.
//
// Example:
//
//	for obj, err := range results.Objects(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(obj.ClassName(), obj.ID())
//	}
func (rs *ResultSet) Objects(ctx context.Context) iter.Seq2[source.Object, error] {
	return rs.iterate(ctx, rs.refs)
}

func (rs *ResultSet) iterate(ctx context.Context, refs []source.Ref) iter.Seq2[source.Object, error] {
	return func(yield func(source.Object, error) bool) {
		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			obj, err := rs.engine.Load(ctx, ref)
			if errors.Is(err, ErrObjectNotFound) {
				rs.engine.logger.LogBrokenIndex(ctx, ref, err)
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
	}
}
