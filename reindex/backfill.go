package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqldb"
)

// IDLister lists the ids of the objects of a class in the object store.
type IDLister interface {
	ListIDs(ctx context.Context, classname string) ([]int64, error)
}

// BackfillOptions configures a Backfiller.
type BackfillOptions struct {
	// ReportEvery is the number of objects between two progress logs.
	// Defaults to 1000.
	ReportEvery int
	Logger      *slog.Logger
}

// BackfillReport summarizes one class.
type BackfillReport struct {
	ClassName string
	Total     int
	Already   int
	Indexed   int
	Failed    int
	Elapsed   time.Duration
}

// Backfiller indexes objects missing from the index.
type Backfiller struct {
	db     sqldb.Execer
	master string
	ix     *indexer.Indexer
	loader source.Loader
	lister IDLister
	every  int
	logger *slog.Logger
}

// NewBackfiller returns a Backfiller reading indexed ids from master.
func NewBackfiller(db sqldb.Execer, master string, ix *indexer.Indexer, loader source.Loader, lister IDLister, opts BackfillOptions) *Backfiller {
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Backfiller{
		db:     db,
		master: master,
		ix:     ix,
		loader: loader,
		lister: lister,
		every:  opts.ReportEvery,
		logger: opts.Logger,
	}
}

// Indexed returns the ids of a class present in the index.
func (b *Backfiller) Indexed(ctx context.Context, classname string) (*roaring64.Bitmap, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", field.ID, b.master, field.ClassName)
	rows, err := b.db.QueryContext(ctx, stmt, classname)
	if err != nil {
		return nil, fmt.Errorf("backfill: %w", err)
	}
	defer rows.Close()

	ids := roaring64.New()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("backfill: scan: %w", err)
		}
		ids.Add(uint64(id))
	}
	return ids, rows.Err()
}

// Backfill indexes the objects of classname that are not indexed yet, or
// all of them when all is set. Failures of single objects are logged and
// counted, not returned.
func (b *Backfiller) Backfill(ctx context.Context, classname string, all bool) (BackfillReport, error) {
	start := time.Now()
	rep := BackfillReport{ClassName: classname}

	ids, err := b.lister.ListIDs(ctx, classname)
	if err != nil {
		return rep, fmt.Errorf("backfill: list %s: %w", classname, err)
	}
	rep.Total = len(ids)

	already, err := b.Indexed(ctx, classname)
	if err != nil {
		return rep, err
	}
	rep.Already = int(already.GetCardinality())

	todo := ids
	if !all {
		todo = todo[:0:0]
		for _, id := range ids {
			if !already.Contains(uint64(id)) {
				todo = append(todo, id)
			}
		}
	}
	b.logger.InfoContext(ctx, "starting backfill",
		"classname", classname, "total", rep.Total, "already", rep.Already, "todo", len(todo))

	for i, id := range todo {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, err
		}
		ref := source.Ref{ClassName: classname, ID: id}
		if err := b.index(ctx, ref); err != nil {
			rep.Failed++
			b.logger.ErrorContext(ctx, "error indexing", "classname", classname, "id", id, "error", err)
		} else {
			rep.Indexed++
		}
		if (i+1)%b.every == 0 {
			b.progress(ctx, rep, i+1, len(todo), time.Since(start))
		}
	}

	rep.Elapsed = time.Since(start)
	b.progress(ctx, rep, len(todo), len(todo), rep.Elapsed)
	return rep, nil
}

func (b *Backfiller) index(ctx context.Context, ref source.Ref) error {
	obj, err := b.loader.Load(ctx, ref)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return fmt.Errorf("%s: %w", ref, err)
		}
		return err
	}
	return b.ix.Index(ctx, obj)
}

func (b *Backfiller) progress(ctx context.Context, rep BackfillReport, done, total int, elapsed time.Duration) {
	if total == 0 {
		return
	}
	frac := float64(done) / float64(total)
	var eta time.Duration
	if frac > 0 {
		eta = time.Duration(float64(elapsed) / frac * (1 - frac))
	}
	b.logger.InfoContext(ctx, "backfill progress",
		"classname", rep.ClassName, "done", done, "todo", total,
		"percent", 100*frac, "elapsed", elapsed, "eta", eta, "failed", rep.Failed)
}
