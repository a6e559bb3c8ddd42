package schedule

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/typemap"
)

const (
	selectSQL = "SELECT classname, objid FROM tsearch_reindex_schedule ORDER BY scheduled_at ASC LIMIT $1"
	doneSQL   = "DELETE FROM tsearch_reindex_schedule WHERE classname = $1 AND objid = $2"
	deleteSQL = "DELETE FROM articles WHERE classname = $1 AND id = $2"
	insertSQL = "INSERT INTO articles (classname, id, lang) VALUES ($1, $2, $3)"
)

func newIndexer(t *testing.T, db *sql.DB) *indexer.Indexer {
	t.Helper()
	reg, err := field.NewRegistry(field.NewClass("classname"), field.NewInt("id"), field.NewString("lang"))
	require.NoError(t, err)
	types, err := typemap.New(nil, typemap.Rule{Class: "Article", Table: "articles"})
	require.NoError(t, err)
	return indexer.New(db, reg, types, indexer.Options{})
}

func ok(mock sqlmock.Sqlmock, stmt string) {
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestQueue_Schedule(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO tsearch_reindex_schedule (rowid, classname, objid) VALUES (nextval('tsearch_reindex_id_seq'), $1, $2)").
		WithArgs("Article", int64(5)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT count(*) FROM tsearch_reindex_schedule").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	q := NewQueue("", "")
	require.NoError(t, q.Schedule(context.Background(), db, source.Ref{ClassName: "Article", ID: 5}))

	n, err := q.Pending(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_ProcessChunk(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WithArgs(int64(10)).WillReturnRows(
		sqlmock.NewRows([]string{"classname", "objid"}).
			AddRow("Article", 1).
			AddRow("Article", 1).
			AddRow("Article", 2))

	ok(mock, "SAVEPOINT tsearch_savepoint")
	mock.ExpectExec(deleteSQL).WithArgs("Article", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertSQL).WithArgs("Article", int64(1), "fr").WillReturnResult(sqlmock.NewResult(0, 1))
	ok(mock, "RELEASE SAVEPOINT tsearch_savepoint")
	mock.ExpectExec(doneSQL).WithArgs("Article", int64(1)).WillReturnResult(sqlmock.NewResult(0, 2))

	ok(mock, "SAVEPOINT tsearch_savepoint")
	mock.ExpectExec(deleteSQL).WithArgs("Article", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	ok(mock, "RELEASE SAVEPOINT tsearch_savepoint")
	mock.ExpectExec(doneSQL).WithArgs("Article", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	loads := 0
	loader := source.LoaderFunc(func(_ context.Context, ref source.Ref) (source.Object, error) {
		loads++
		if ref.ID == 2 {
			return nil, source.ErrNotFound
		}
		return &source.Map{Class: ref.ClassName, Key: ref.ID, Values: map[string]any{"lang": "fr"}}, nil
	})

	w := NewWorker(db, NewQueue("", ""), newIndexer(t, db), loader, WorkerOptions{ChunkSize: 10})
	n, err := w.ProcessChunk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, loads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_ProcessChunk_Empty(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WillReturnRows(sqlmock.NewRows([]string{"classname", "objid"}))
	mock.ExpectRollback()

	w := NewWorker(db, NewQueue("", ""), newIndexer(t, db), nil, WorkerOptions{})
	n, err := w.ProcessChunk(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_ProcessChunk_LoadErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WillReturnRows(
		sqlmock.NewRows([]string{"classname", "objid"}).AddRow("Article", 1))
	mock.ExpectRollback()

	boom := errors.New("store down")
	loader := source.LoaderFunc(func(context.Context, source.Ref) (source.Object, error) { return nil, boom })

	w := NewWorker(db, NewQueue("", ""), newIndexer(t, db), loader, WorkerOptions{})
	_, err = w.ProcessChunk(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 100; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT classname, objid").WillReturnRows(sqlmock.NewRows([]string{"classname", "objid"}))
		mock.ExpectRollback()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w := NewWorker(db, NewQueue("", ""), newIndexer(t, db), nil, WorkerOptions{Delay: 10 * time.Millisecond})
	assert.NoError(t, w.Run(ctx))
}
