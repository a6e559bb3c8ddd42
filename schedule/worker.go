package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/time/rate"

	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqldb"
)

// DB is the handle the worker runs chunks on.
type DB interface {
	sqldb.Execer
	sqldb.Beginner
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// ChunkSize bounds the entries consumed per transaction. Defaults to 100.
	ChunkSize int
	// Delay is the pause between chunks. Defaults to one second.
	Delay time.Duration
	// Rate limits reindexed objects per second. Zero means unlimited.
	Rate   float64
	Logger *slog.Logger
}

// Worker consumes the schedule.
type Worker struct {
	db      DB
	queue   *Queue
	indexer *indexer.Indexer
	loader  source.Loader
	chunk   int
	delay   time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWorker returns a worker.
func NewWorker(db DB, queue *Queue, ix *indexer.Indexer, loader source.Loader, opts WorkerOptions) *Worker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return &Worker{
		db:      db,
		queue:   queue,
		indexer: ix,
		loader:  loader,
		chunk:   opts.ChunkSize,
		delay:   opts.Delay,
		limiter: limiter,
		logger:  opts.Logger,
	}
}

// ProcessChunk reindexes the oldest entries of the schedule in one
// transaction. Duplicate entries collapse to a single reindex. Objects
// that no longer exist are unindexed. It returns the number of distinct
// records processed.
func (w *Worker) ProcessChunk(ctx context.Context) (n int, err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("schedule: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	refs, err := w.queue.next(ctx, tx, w.chunk)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, tx.Rollback()
	}
	w.logger.InfoContext(ctx, "found rows to reindex", "rows", len(refs))

	seen := make(map[string]*roaring64.Bitmap)
	for _, ref := range refs {
		bm, ok := seen[ref.ClassName]
		if !ok {
			bm = roaring64.New()
			seen[ref.ClassName] = bm
		}
		if !bm.CheckedAdd(uint64(ref.ID)) {
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return n, err
		}
		if err := w.reindex(ctx, tx, ref); err != nil {
			return n, err
		}
		if err := w.queue.done(ctx, tx, ref); err != nil {
			return n, err
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("schedule: commit: %w", err)
	}
	return n, nil
}

func (w *Worker) reindex(ctx context.Context, tx sqldb.Execer, ref source.Ref) error {
	w.logger.DebugContext(ctx, "reindexing", "classname", ref.ClassName, "id", ref.ID)

	obj, err := w.loader.Load(ctx, ref)
	switch {
	case errors.Is(err, source.ErrNotFound):
		w.logger.InfoContext(ctx, "scheduled object is gone, unindexing", "classname", ref.ClassName, "id", ref.ID)
		return w.indexer.UnindexRef(ctx, ref, indexer.Using(tx))
	case err != nil:
		return fmt.Errorf("schedule: load %s: %w", ref, err)
	}
	return w.indexer.Index(ctx, obj, indexer.Using(tx))
}

// Run processes chunks until ctx is cancelled, sleeping between chunks.
// A failing chunk is logged and retried on the next round.
func (w *Worker) Run(ctx context.Context) error {
	for {
		n, err := w.ProcessChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.ErrorContext(ctx, "chunk failed", "error", err)
		}

		// A full chunk means more work is probably waiting.
		if err == nil && n >= w.chunk {
			continue
		}

		timer := time.NewTimer(w.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
