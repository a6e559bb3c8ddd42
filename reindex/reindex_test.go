package reindex

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tsearch/blobstore"
	"github.com/hupe1980/tsearch/checkpoint"
	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/typemap"
)

const (
	master    = "tsearch_index"
	countSQL  = "SELECT COUNT(*) FROM tsearch_index"
	freshSQL  = "SELECT classname, id, modified_at FROM tsearch_index ORDER BY modified_at ASC LIMIT $1"
	resumeSQL = "SELECT classname, id, modified_at FROM tsearch_index WHERE modified_at >= $1 AND (classname != $2 OR id != $3) ORDER BY modified_at ASC LIMIT $4"
	deleteV2  = "DELETE FROM articles_v2 WHERE classname = $1 AND id = $2"
	insertV2  = "INSERT INTO articles_v2 (classname, id, lang) VALUES ($1, $2, $3)"
)

var (
	t1 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func oldSource(t *testing.T, db *sql.DB) Source {
	t.Helper()
	reg, err := field.NewRegistry(
		field.NewClass("classname"), field.NewInt("id"),
		field.NewDateTime("modified_at"), field.NewString("lang"))
	require.NoError(t, err)
	types, err := typemap.New(nil, typemap.Rule{Class: "Article", Table: "articles"})
	require.NoError(t, err)
	return Source{DB: db, Master: master, Registry: reg, Types: types}
}

func newTarget(t *testing.T, db *sql.DB, table string) *indexer.Indexer {
	t.Helper()
	reg, err := field.NewRegistry(field.NewClass("classname"), field.NewInt("id"), field.NewString("lang"))
	require.NoError(t, err)
	types, err := typemap.New(nil, typemap.Rule{Class: "Article", Table: table})
	require.NoError(t, err)
	return indexer.New(db, reg, types, indexer.Options{IgnoreRelated: true})
}

func article(_ context.Context, ref source.Ref) (source.Object, error) {
	return &source.Map{Class: ref.ClassName, Key: ref.ID, Values: map[string]any{"lang": "fr"}}, nil
}

func expectIndex(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectBegin()
	mock.ExpectExec(deleteV2).WithArgs("Article", id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertV2).WithArgs("Article", id, "fr").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestNew_Validation(t *testing.T) {
	db, _ := newMock(t)
	src := oldSource(t, db)
	loader := source.LoaderFunc(article)

	_, err := New(src, newTarget(t, db, "articles"), loader, Options{DateField: "modified_at"})
	assert.ErrorIs(t, err, field.ErrConfiguration)

	_, err = New(src, newTarget(t, db, "articles_v2"), loader, Options{DateField: "lang"})
	assert.ErrorIs(t, err, field.ErrConfiguration)

	_, err = New(src, newTarget(t, db, "articles_v2"), loader, Options{DateField: "nope"})
	assert.ErrorIs(t, err, field.ErrUnknownField)

	_, err = New(src, newTarget(t, db, "articles_v2"), nil, Options{DateField: "modified_at"})
	assert.ErrorIs(t, err, field.ErrConfiguration)

	_, err = New(src, newTarget(t, db, "articles_v2"), loader, Options{DateField: "modified_at"})
	assert.NoError(t, err)
}

func TestReindexer_StepStatement(t *testing.T) {
	db, _ := newMock(t)
	r, err := New(oldSource(t, db), newTarget(t, db, "articles_v2"), source.LoaderFunc(article),
		Options{DateField: "modified_at", Step: 3})
	require.NoError(t, err)

	stmt, args := r.StepStatement(&checkpoint.State{}).Bind()
	assert.Equal(t, freshSQL, stmt)
	assert.Equal(t, []any{3}, args)

	since := t1
	stmt, args = r.StepStatement(&checkpoint.State{Since: &since, Last: &source.Ref{ClassName: "Article", ID: 7}}).Bind()
	assert.Equal(t, resumeSQL, stmt)
	assert.Equal(t, []any{t1, "Article", int64(7), 3}, args)
}

func TestReindexer_Run(t *testing.T) {
	db, mock := newMock(t)
	store := checkpoint.NewBlobStore(blobstore.NewMemoryStore(), nil)

	mock.ExpectQuery(countSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(freshSQL).WithArgs(3).WillReturnRows(
		sqlmock.NewRows([]string{"classname", "id", "modified_at"}).
			AddRow("Article", 1, t1).
			AddRow("Article", 2, t2))
	expectIndex(mock, 1)
	expectIndex(mock, 2)
	mock.ExpectQuery(resumeSQL).WithArgs(t2, "Article", int64(2), 3).WillReturnRows(
		sqlmock.NewRows([]string{"classname", "id", "modified_at"}))

	var steps []Progress
	r, err := New(oldSource(t, db), newTarget(t, db, "articles_v2"), source.LoaderFunc(article), Options{
		DateField: "modified_at",
		Step:      3,
		Delay:     time.Millisecond,
		Store:     store,
		Name:      "v2",
		OnStep:    func(p Progress) { steps = append(steps, p) },
	})
	require.NoError(t, err)

	p, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Done)
	assert.Equal(t, int64(2), p.Initial)
	assert.Equal(t, int64(0), p.Remaining)
	assert.Equal(t, 2, p.Steps)
	require.Len(t, steps, 2)
	assert.Equal(t, 2, steps[0].Nb)
	assert.Equal(t, 0, steps[1].Nb)
	assert.NoError(t, mock.ExpectationsWereMet())

	st, err := store.Load(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, &source.Ref{ClassName: "Article", ID: 2}, st.Last)
	assert.True(t, t2.Equal(*st.Since))
	assert.Equal(t, uint64(2), st.Version)
	assert.True(t, st.Counted)
}

func TestReindexer_ResumesFromState(t *testing.T) {
	db, mock := newMock(t)
	store := checkpoint.NewBlobStore(blobstore.NewMemoryStore(), nil)

	since := t1
	require.NoError(t, store.Save(context.Background(), "reindex", &checkpoint.State{
		Since:     &since,
		Last:      &source.Ref{ClassName: "Article", ID: 1},
		Done:      1,
		Counted:   true,
		Initial:   2,
		Remaining: 1,
	}))

	mock.ExpectQuery(resumeSQL).WithArgs(t1, "Article", int64(1), 3).WillReturnRows(
		sqlmock.NewRows([]string{"classname", "id", "modified_at"}).AddRow("Article", 2, t2))
	expectIndex(mock, 2)

	r, err := New(oldSource(t, db), newTarget(t, db, "articles_v2"), source.LoaderFunc(article), Options{
		DateField: "modified_at",
		Step:      3,
		Store:     store,
		Since:     t2,
	})
	require.NoError(t, err)

	p, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexer_SkipsMissingObjects(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(countSQL + " WHERE modified_at >= $1").WithArgs(t1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT classname, id, modified_at FROM tsearch_index WHERE modified_at >= $1 ORDER BY modified_at ASC LIMIT $2").
		WithArgs(t1, 10).
		WillReturnRows(sqlmock.NewRows([]string{"classname", "id", "modified_at"}).AddRow("Article", 9, t2))

	loader := source.LoaderFunc(func(context.Context, source.Ref) (source.Object, error) {
		return nil, source.ErrNotFound
	})
	r, err := New(oldSource(t, db), newTarget(t, db, "articles_v2"), loader, Options{
		DateField: "modified_at",
		Step:      10,
		Since:     t1,
	})
	require.NoError(t, err)

	p, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexer_LoadErrorStopsRun(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(countSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(freshSQL).WithArgs(10).WillReturnRows(
		sqlmock.NewRows([]string{"classname", "id", "modified_at"}).AddRow("Article", 9, t2))

	boom := errors.New("store down")
	loader := source.LoaderFunc(func(context.Context, source.Ref) (source.Object, error) { return nil, boom })
	r, err := New(oldSource(t, db), newTarget(t, db, "articles_v2"), loader, Options{DateField: "modified_at", Step: 10})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestReindexer_ForeverStopsOnCancel(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(countSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(freshSQL).WithArgs(10).WillReturnRows(
		sqlmock.NewRows([]string{"classname", "id", "modified_at"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := New(oldSource(t, db), newTarget(t, db, "articles_v2"), source.LoaderFunc(article), Options{
		DateField: "modified_at",
		Step:      10,
		Delay:     time.Hour,
		Forever:   true,
		OnStep:    func(Progress) { cancel() },
	})
	require.NoError(t, err)

	p, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.Steps)
}

func TestReindexer_AccountRecountsDrift(t *testing.T) {
	db, mock := newMock(t)
	r, err := New(oldSource(t, db), newTarget(t, db, "articles_v2"), source.LoaderFunc(article), Options{
		DateField:     "modified_at",
		Step:          2,
		EstimateEvery: 1,
	})
	require.NoError(t, err)

	mock.ExpectQuery(countSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	st := &checkpoint.State{Done: 2, Nb: 2, Remaining: 10}
	require.NoError(t, r.account(context.Background(), st))
	assert.Equal(t, int64(9), st.Remaining)
	assert.Equal(t, int64(1), st.Drift)
	assert.Equal(t, int64(1), st.CumulatedDrift)

	st = &checkpoint.State{Done: 3, Nb: 1, Remaining: 5}
	require.NoError(t, r.account(context.Background(), st))
	assert.Equal(t, int64(4), st.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTables(t *testing.T) {
	a, err := typemap.New(nil, typemap.Rule{Class: "A", Table: "t1"}, typemap.Rule{Class: "B", Table: "t2"})
	require.NoError(t, err)
	b, err := typemap.New(nil, typemap.Rule{Class: "A", Table: "t2_new"})
	require.NoError(t, err)

	assert.NoError(t, CheckTables(a, b))
	assert.ErrorIs(t, CheckTables(a, a), field.ErrConfiguration)
}

func TestProgress_Estimate(t *testing.T) {
	e := Progress{Initial: 100, Done: 25, Remaining: 75, Elapsed: 10 * time.Second}.Estimate()
	assert.InDelta(t, 25.0, e.Percent, 1e-9)
	assert.Equal(t, 30*time.Second, e.ETA)
	assert.Zero(t, e.DriftRate)

	e = Progress{Initial: 100, Done: 50, Remaining: 60, CumulatedDrift: 25, Elapsed: 10 * time.Second}.Estimate()
	assert.InDelta(t, 0.5, e.DriftRate, 1e-9)
	assert.InDelta(t, 200.0, e.Total, 1e-9)
	assert.InDelta(t, 120.0, e.EstimatedRemaining, 1e-9)
	assert.InDelta(t, 25.0, e.Percent, 1e-9)
	assert.Equal(t, 30*time.Second, e.ETA)
	assert.False(t, e.NeverFinishes)

	e = Progress{Initial: 100, Done: 50, CumulatedDrift: 50}.Estimate()
	assert.True(t, e.NeverFinishes)

	e = Progress{}.Estimate()
	assert.Equal(t, 100.0, e.Percent)
	assert.Zero(t, e.ETA)
}
