// Package indexer writes objects into the index tables.
//
// Every write is a delete followed by an optional insert inside one
// retryable transaction, so indexing an object twice leaves exactly one
// row and a failed attempt leaves nothing behind.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqlast"
	"github.com/hupe1980/tsearch/sqldb"
	"github.com/hupe1980/tsearch/typemap"
)

// ErrNoIdentity is returned for objects without a classname or an id.
var ErrNoIdentity = errors.New("object has no classname/id")

// Scheduler queues a record for asynchronous reindexing within tx.
type Scheduler interface {
	Schedule(ctx context.Context, tx sqldb.Execer, ref source.Ref) error
}

// SkipFunc decides from the marshalled field values, keyed by field name,
// whether an object stays out of the index.
type SkipFunc func(values map[string]any) bool

// Options configures an Indexer.
type Options struct {
	Scheduler Scheduler
	Skip      SkipFunc
	Policy    sqldb.Policy
	// IgnoreRelated disables dependent scheduling for every call.
	IgnoreRelated bool
	Logger        *slog.Logger
}

// Indexer indexes objects of a registry into the tables of a type map.
type Indexer struct {
	db        sqldb.Execer
	registry  *field.Registry
	types     *typemap.TypeMap
	scheduler Scheduler
	skip      SkipFunc
	policy    sqldb.Policy
	related   bool
	logger    *slog.Logger
}

// New returns an Indexer writing through db.
func New(db sqldb.Execer, registry *field.Registry, types *typemap.TypeMap, opts Options) *Indexer {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Policy.Logger == nil {
		opts.Policy.Logger = opts.Logger
	}
	return &Indexer{
		db:        db,
		registry:  registry,
		types:     types,
		scheduler: opts.Scheduler,
		skip:      opts.Skip,
		policy:    opts.Policy,
		related:   !opts.IgnoreRelated,
		logger:    opts.Logger,
	}
}

// CallOption adjusts one call.
type CallOption func(c *call)

type call struct {
	noindex     bool
	skipRelated bool
	conn        sqldb.Execer
}

// NoIndex only deletes the record.
func NoIndex() CallOption { return func(c *call) { c.noindex = true } }

// SkipRelated does not schedule the dependents of the object.
func SkipRelated() CallOption { return func(c *call) { c.skipRelated = true } }

// Using runs the call on conn, typically an outer transaction the write
// then joins through a savepoint.
func Using(conn sqldb.Execer) CallOption { return func(c *call) { c.conn = conn } }

func (ix *Indexer) newCall(opts []CallOption) call {
	c := call{conn: ix.db}
	for _, fn := range opts {
		fn(&c)
	}
	return c
}

// Identity returns the classname and id of obj as the registry computes them.
func (ix *Indexer) Identity(obj source.Object) (source.Ref, error) {
	cn, err := ix.registry.Class().Values(obj)
	if err != nil {
		return source.Ref{}, err
	}
	id, err := ix.registry.ID().Values(obj)
	if err != nil {
		return source.Ref{}, err
	}
	if len(cn) == 0 || len(id) == 0 || cn[0] == nil || id[0] == nil {
		return source.Ref{}, fmt.Errorf("%w: %v", ErrNoIdentity, obj)
	}
	return source.Ref{ClassName: cn[0].(string), ID: id[0].(int64)}, nil
}

// TableFor returns the table a class is indexed in.
func (ix *Indexer) TableFor(class string) (string, bool) { return ix.types.TableFor(class) }

// Types returns the type map rows are routed with.
func (ix *Indexer) Types() *typemap.TypeMap { return ix.types }

// Registry returns the field registry rows are built from.
func (ix *Indexer) Registry() *field.Registry { return ix.registry }

// Index replaces the record of obj. Dependents of obj are scheduled for
// reindexing first, even when obj itself is not indexable.
func (ix *Indexer) Index(ctx context.Context, obj source.Object, opts ...CallOption) error {
	c := ix.newCall(opts)

	ref, err := ix.Identity(obj)
	if err != nil {
		return err
	}
	log := ix.logger.With("classname", ref.ClassName, "id", ref.ID)

	if ix.related && !c.skipRelated {
		if err := ix.scheduleRelated(ctx, c.conn, obj); err != nil {
			return err
		}
	}

	table, ok := ix.types.TableFor(ref.ClassName)
	if !ok {
		log.InfoContext(ctx, "no table found, skipping")
		return nil
	}
	log = log.With("table", table)

	var r *row
	if !c.noindex {
		if r, err = ix.row(obj, ix.registry.Fields()); err != nil {
			return err
		}
	}

	return sqldb.WithRetryableTransaction(ctx, c.conn, ix.policy, func(ctx context.Context, tx sqldb.Execer) error {
		if err := ix.delete(ctx, tx, table, ref); err != nil {
			return err
		}
		if c.noindex {
			log.DebugContext(ctx, "noindex mode, only deleting")
			return nil
		}
		if ix.skip != nil && ix.skip(r.byName) {
			log.InfoContext(ctx, "not indexing because of skip condition")
			return nil
		}
		log.DebugContext(ctx, "indexing entry")
		return ix.insert(ctx, tx, table, r)
	})
}

// Unindex deletes the record of obj.
func (ix *Indexer) Unindex(ctx context.Context, obj source.Object, opts ...CallOption) error {
	return ix.Index(ctx, obj, append(opts, NoIndex())...)
}

// UnindexRef deletes a record by reference, for objects that no longer
// exist in the primary store.
func (ix *Indexer) UnindexRef(ctx context.Context, ref source.Ref, opts ...CallOption) error {
	c := ix.newCall(opts)
	table, ok := ix.types.TableFor(ref.ClassName)
	if !ok {
		ix.logger.InfoContext(ctx, "no table found, skipping", "classname", ref.ClassName, "id", ref.ID)
		return nil
	}
	return sqldb.WithRetryableTransaction(ctx, c.conn, ix.policy, func(ctx context.Context, tx sqldb.Execer) error {
		return ix.delete(ctx, tx, table, ref)
	})
}

// Update rewrites the columns of the named fields only. It is a no-op
// when names resolve to no column or the object is not indexable.
func (ix *Indexer) Update(ctx context.Context, obj source.Object, names []string, opts ...CallOption) error {
	c := ix.newCall(opts)

	fields, err := ix.registry.Lookup(names...)
	if err != nil {
		return err
	}
	ref, err := ix.Identity(obj)
	if err != nil {
		return err
	}
	log := ix.logger.With("classname", ref.ClassName, "id", ref.ID, "fields", strings.Join(names, ","))

	table, ok := ix.types.TableFor(ref.ClassName)
	if !ok {
		log.InfoContext(ctx, "no table found, skipping")
		return nil
	}
	r, err := ix.row(obj, fields)
	if err != nil {
		return err
	}
	if len(r.columns) == 0 {
		log.InfoContext(ctx, "nothing to update, skipping")
		return nil
	}

	sets := make([]string, len(r.columns))
	for i := range r.columns {
		sets[i] = r.columns[i] + " = " + r.placeholders[i]
	}
	stmt := sqlast.New(
		"UPDATE "+table+" SET "+strings.Join(sets, ", ")+" WHERE classname = ? AND id = ?",
		append(r.values, ref.ClassName, ref.ID)...,
	)

	return sqldb.WithRetryableTransaction(ctx, c.conn, ix.policy, func(ctx context.Context, tx sqldb.Execer) error {
		sql, args := stmt.Bind()
		if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
			return fmt.Errorf("indexer: update %s: %w", ref, err)
		}
		log.DebugContext(ctx, "record updated", "table", table)
		return nil
	})
}

// Schedule queues item, an Object or a Ref, for asynchronous reindexing.
func (ix *Indexer) Schedule(ctx context.Context, item any, opts ...CallOption) error {
	c := ix.newCall(opts)
	return sqldb.WithRetryableTransaction(ctx, c.conn, ix.policy, func(ctx context.Context, tx sqldb.Execer) error {
		return ix.scheduleItem(ctx, tx, item)
	})
}

func (ix *Indexer) scheduleRelated(ctx context.Context, conn sqldb.Execer, obj source.Object) error {
	rel, ok := obj.(source.Related)
	if !ok {
		return nil
	}
	items := rel.RelatedForIndexation()
	if len(items) == 0 {
		return nil
	}
	if ix.scheduler == nil {
		ix.logger.WarnContext(ctx, "dependencies found but no scheduler configured", "count", len(items))
		return nil
	}
	ix.logger.DebugContext(ctx, "dependencies found", "count", len(items))

	return sqldb.WithRetryableTransaction(ctx, conn, ix.policy, func(ctx context.Context, tx sqldb.Execer) error {
		for _, item := range items {
			if err := ix.scheduleItem(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ix *Indexer) scheduleItem(ctx context.Context, tx sqldb.Execer, item any) error {
	var ref source.Ref
	switch x := item.(type) {
	case source.Ref:
		ref = x
	case source.Object:
		r, err := ix.Identity(x)
		if err != nil {
			ix.logger.InfoContext(ctx, "cannot get classname/id, skipping", "item", item)
			return nil
		}
		ref = r
	default:
		ix.logger.InfoContext(ctx, "cannot get classname/id, skipping", "item", item)
		return nil
	}
	if _, ok := ix.types.TableFor(ref.ClassName); !ok {
		ix.logger.InfoContext(ctx, "no table found, skipping", "classname", ref.ClassName, "id", ref.ID)
		return nil
	}
	if ix.scheduler == nil {
		return nil
	}
	return ix.scheduler.Schedule(ctx, tx, ref)
}

type row struct {
	columns      []string
	placeholders []string
	values       []any
	byName       map[string]any
}

func (ix *Indexer) row(obj source.Object, fields []field.Field) (*row, error) {
	r := &row{byName: make(map[string]any, len(fields))}
	for _, f := range fields {
		vals, err := f.Values(obj)
		if err != nil {
			return nil, err
		}
		r.columns = append(r.columns, f.Columns()...)
		r.placeholders = append(r.placeholders, f.Placeholders()...)
		r.values = append(r.values, vals...)
		if len(vals) > 0 {
			r.byName[f.Name()] = vals[0]
		}
	}
	return r, nil
}

func (ix *Indexer) delete(ctx context.Context, tx sqldb.Execer, table string, ref source.Ref) error {
	stmt := "DELETE FROM " + table + " WHERE classname = $1 AND id = $2"
	if _, err := tx.ExecContext(ctx, stmt, ref.ClassName, ref.ID); err != nil {
		return fmt.Errorf("indexer: delete %s: %w", ref, err)
	}
	return nil
}

func (ix *Indexer) insert(ctx context.Context, tx sqldb.Execer, table string, r *row) error {
	stmt := sqlast.New(
		"INSERT INTO "+table+" ("+strings.Join(r.columns, ", ")+") VALUES ("+strings.Join(r.placeholders, ", ")+")",
		r.values...,
	)
	sql, args := stmt.Bind()
	if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
		return fmt.Errorf("indexer: insert into %s: %w", table, err)
	}
	return nil
}
