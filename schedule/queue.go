// Package schedule is the durable queue of records waiting to be
// reindexed, and the worker consuming it.
package schedule

import (
	"context"
	"fmt"

	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqldb"
)

// Default names of the schedule objects.
const (
	DefaultTable    = "tsearch_reindex_schedule"
	DefaultSequence = "tsearch_reindex_id_seq"
)

// Queue appends entries to the schedule table. It implements
// indexer.Scheduler.
type Queue struct {
	table    string
	sequence string
}

// NewQueue returns a queue over table, with row ids drawn from sequence.
func NewQueue(table, sequence string) *Queue {
	if table == "" {
		table = DefaultTable
	}
	if sequence == "" {
		sequence = DefaultSequence
	}
	return &Queue{table: table, sequence: sequence}
}

// Table returns the schedule table name.
func (q *Queue) Table() string { return q.table }

// Sequence returns the row id sequence name.
func (q *Queue) Sequence() string { return q.sequence }

// Schedule appends ref within tx.
func (q *Queue) Schedule(ctx context.Context, tx sqldb.Execer, ref source.Ref) error {
	stmt := "INSERT INTO " + q.table + " (rowid, classname, objid) VALUES (nextval('" + q.sequence + "'), $1, $2)"
	if _, err := tx.ExecContext(ctx, stmt, ref.ClassName, ref.ID); err != nil {
		return fmt.Errorf("schedule %s: %w", ref, err)
	}
	return nil
}

// Pending counts the queued entries.
func (q *Queue) Pending(ctx context.Context, db sqldb.Execer) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM "+q.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("schedule: count: %w", err)
	}
	return n, nil
}

func (q *Queue) next(ctx context.Context, tx sqldb.Execer, limit int) ([]source.Ref, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT classname, objid FROM "+q.table+" ORDER BY scheduled_at ASC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("schedule: fetch: %w", err)
	}
	defer rows.Close()

	var refs []source.Ref
	for rows.Next() {
		var ref source.Ref
		if err := rows.Scan(&ref.ClassName, &ref.ID); err != nil {
			return nil, fmt.Errorf("schedule: scan: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (q *Queue) done(ctx context.Context, tx sqldb.Execer, ref source.Ref) error {
	stmt := "DELETE FROM " + q.table + " WHERE classname = $1 AND objid = $2"
	if _, err := tx.ExecContext(ctx, stmt, ref.ClassName, ref.ID); err != nil {
		return fmt.Errorf("schedule: delete %s: %w", ref, err)
	}
	return nil
}
