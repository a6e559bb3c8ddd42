package tsearch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tsearch/cache"
	"github.com/hupe1980/tsearch/config"
	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/query"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqldb"
	"github.com/hupe1980/tsearch/typemap"
)

const (
	deleteSQL = "DELETE FROM tx WHERE classname = $1 AND id = $2"
	insertSQL = "INSERT INTO tx (classname, id, lang, title_text, title_tsv) " +
		"VALUES ($1, $2, $3, $4, to_tsvector('public.tsearch', $5))"
	updateSQL = "UPDATE tx SET lang = $1 WHERE classname = $2 AND id = $3"
	smartSQL  = "SELECT classname, id FROM (SELECT * FROM tx WHERE classname IN ($1) ORDER BY id DESC LIMIT $2) subquery " +
		"WHERE (classname = $3) AND (lang = $4) ORDER BY id DESC LIMIT $5"
	longSQL = "SELECT classname, id FROM tx WHERE (classname = $1) AND (lang = $2) ORDER BY id DESC LIMIT $3"
)

// store is an in-memory primary store.
type store map[source.Ref]source.Object

func (s store) Load(_ context.Context, ref source.Ref) (source.Object, error) {
	obj, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, source.ErrNotFound)
	}
	return obj, nil
}

func object(class string, id int64, lang, title string) *source.Map {
	return &source.Map{Class: class, Key: id, Values: map[string]any{"lang": lang, "title": title}}
}

func rows(refs ...source.Ref) *sqlmock.Rows {
	r := sqlmock.NewRows([]string{"classname", "id"})
	for _, ref := range refs {
		r.AddRow(ref.ClassName, ref.ID)
	}
	return r
}

func newEngine(t *testing.T, loader source.Loader, optFns ...Option) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	registry, err := field.NewRegistry(
		field.NewClass("classname"),
		field.NewInt("id"),
		field.NewString("lang"),
		field.NewFullText("title", field.WithPrimary()),
	)
	require.NoError(t, err)
	types, err := typemap.New(nil, typemap.Rule{Class: "X", Table: "tx"}, typemap.Rule{Class: "Y", Table: "ty"})
	require.NoError(t, err)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := []Option{WithMasterTable("master"), WithDefaultOrder("-id")}
	e, err := New(db, loader, registry, types, append(base, optFns...)...)
	require.NoError(t, err)
	return e, mock
}

func policyWithAttempts(n int) sqldb.Policy {
	p := sqldb.DefaultPolicy()
	p.MaxAttempts = n
	return p
}

func xFr() query.Node {
	return query.And(query.Q("classname", "X"), query.Q("lang", "fr"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	registry, err := field.NewRegistry(field.NewClass("classname"), field.NewInt("id"))
	require.NoError(t, err)
	types, err := typemap.New(nil)
	require.NoError(t, err)

	_, err = New(db, nil, registry, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = New(db, nil, registry, types, WithMasterTable(""))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestEngine_IndexUnindexUpdate(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	e, mock := newEngine(t, store{}, WithMetricsCollector(metrics))
	ctx := context.Background()
	obj := object("X", 1, "fr", "Hello")

	mock.ExpectBegin()
	mock.ExpectExec(deleteSQL).WithArgs("X", int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertSQL).WithArgs("X", int64(1), "fr", "hello", "hello").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(updateSQL).WithArgs("fr", "X", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(deleteSQL).WithArgs("X", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, e.Index(ctx, obj))
	require.NoError(t, e.Update(ctx, obj, []string{"lang"}))
	require.NoError(t, e.Unindex(ctx, obj))
	require.NoError(t, mock.ExpectationsWereMet())

	err := e.Update(ctx, obj, []string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownField)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.IndexCount)
	assert.Equal(t, int64(0), stats.IndexErrors)
	assert.Equal(t, int64(2), stats.UpdateCount)
	assert.Equal(t, int64(1), stats.UpdateErrors)
	assert.Equal(t, int64(1), stats.UnindexCount)
}

func TestEngine_IndexTransientFailure(t *testing.T) {
	e, mock := newEngine(t, store{}, WithRetryPolicy(policyWithAttempts(2)))
	obj := object("X", 1, "fr", "Hello")
	deadlock := &pgconn.PgError{Code: "40P01"}

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec(deleteSQL).WithArgs("X", int64(1)).WillReturnError(deadlock)
		mock.ExpectRollback()
	}

	err := e.Index(context.Background(), obj, indexer.SkipRelated())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientStorage)

	var retry *RetryError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, 2, retry.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_ShortQuery(t *testing.T) {
	objs := store{
		{ClassName: "X", ID: 3}: object("X", 3, "fr", "three"),
		{ClassName: "X", ID: 1}: object("X", 1, "fr", "one"),
	}
	metrics := &BasicMetricsCollector{}
	e, mock := newEngine(t, objs, WithMetricsCollector(metrics))
	ctx := context.Background()

	want := []source.Ref{{ClassName: "X", ID: 3}, {ClassName: "X", ID: 2}, {ClassName: "X", ID: 1}}
	mock.ExpectQuery(smartSQL).
		WithArgs("X", int64(1000), "X", "fr", int64(3)).
		WillReturnRows(rows(want...))

	rs, err := e.ShortQuery(ctx, xFr(), nil, 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 3, rs.Len())
	assert.Equal(t, want, rs.Refs())
	assert.Equal(t, "A", rs.Plan())
	assert.Empty(t, rs.QueryID())

	t.Run("Get", func(t *testing.T) {
		obj, err := rs.Get(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), obj.ID())

		_, err = rs.Get(ctx, 1)
		assert.ErrorIs(t, err, ErrObjectNotFound)

		_, err = rs.Get(ctx, 3)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		var oor *ErrOutOfRange
		require.ErrorAs(t, err, &oor)
		assert.Equal(t, 3, oor.Len)
	})

	t.Run("AllSkipsBrokenRows", func(t *testing.T) {
		all, err := rs.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, int64(3), all[0].ID())
		assert.Equal(t, int64(1), all[1].ID())
	})

	t.Run("Slice", func(t *testing.T) {
		part, err := rs.Slice(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, part, 1)
		assert.Equal(t, int64(1), part[0].ID())

		none, err := rs.Slice(ctx, 2, 1)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ObjectsStopsEarly", func(t *testing.T) {
		n := 0
		for obj, err := range rs.Objects(ctx) {
			require.NoError(t, err)
			assert.Equal(t, int64(3), obj.ID())
			n++
			break
		}
		assert.Equal(t, 1, n)
	})

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.Equal(t, int64(3), stats.QueryRows)
	assert.Equal(t, int64(0), stats.FullScans)
}

func TestEngine_ShortQueryErrors(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	e, mock := newEngine(t, store{}, WithMetricsCollector(metrics))
	ctx := context.Background()

	_, err := e.ShortQuery(ctx, query.Q("title", "foo"), nil, 5)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = e.ShortQuery(ctx, query.Q("id__range", []any{1}), nil, 5)
	assert.ErrorIs(t, err, ErrMalformedOperand)

	mock.ExpectQuery(smartSQL).WillReturnError(&pgconn.PgError{Code: "40001"})
	_, err = e.ShortQuery(ctx, xFr(), nil, 5)
	assert.ErrorIs(t, err, ErrTransientStorage)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(3), metrics.GetStats().QueryErrors)
}

func TestEngine_LongQueryCache(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	e, mock := newEngine(t, store{}, WithMetricsCollector(metrics))
	ctx := context.Background()

	first := []source.Ref{{ClassName: "X", ID: 5}, {ClassName: "X", ID: 4}}
	mock.ExpectQuery(longSQL).WithArgs("X", "fr", int64(2)).WillReturnRows(rows(first...))

	rs, err := e.LongQuery(ctx, xFr(), nil, 2, "")
	require.NoError(t, err)
	id := rs.QueryID()
	require.Len(t, id, 32)
	assert.Equal(t, "long", rs.Plan())
	assert.Equal(t, first, rs.Refs())

	// A live id returns the cached rows without touching the database.
	cached, err := e.LongQuery(ctx, xFr(), nil, 2, id)
	require.NoError(t, err)
	assert.Equal(t, PlanCache, cached.Plan())
	assert.Equal(t, id, cached.QueryID())
	assert.Equal(t, first, cached.Refs())

	// An evicted id is recomputed under the same id.
	e.Cache().Remove(id)
	second := []source.Ref{{ClassName: "X", ID: 6}}
	mock.ExpectQuery(longSQL).WithArgs("X", "fr", int64(2)).WillReturnRows(rows(second...))

	again, err := e.LongQuery(ctx, xFr(), nil, 2, id)
	require.NoError(t, err)
	assert.Equal(t, id, again.QueryID())
	assert.Equal(t, second, again.Refs())

	entry, ok := e.Cache().Get(id)
	require.True(t, ok)
	assert.Equal(t, second, entry.Refs)
	assert.Equal(t, e.Compile(xFr()).Fingerprint(), entry.Fingerprint)

	require.NoError(t, mock.ExpectationsWereMet())

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(2), stats.FullScans)

	require.NoError(t, e.Close())
	_, ok = e.Cache().Get(id)
	assert.False(t, ok)
}

func TestEngine_LongQueryRecomputeIgnoresCallerCancel(t *testing.T) {
	e, mock := newEngine(t, store{})
	id := e.Cache().Put("", cache.Entry{})
	e.Cache().Remove(id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refs := []source.Ref{{ClassName: "X", ID: 3}}
	mock.ExpectQuery(longSQL).WithArgs("X", "fr", int64(2)).WillReturnRows(rows(refs...))

	rs, err := e.LongQuery(ctx, xFr(), nil, 2, id)
	require.NoError(t, err)
	assert.Equal(t, id, rs.QueryID())
	assert.Equal(t, refs, rs.Refs())

	entry, ok := e.Cache().Get(id)
	require.True(t, ok)
	assert.Equal(t, refs, entry.Refs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Search(t *testing.T) {
	objs := store{{ClassName: "X", ID: 1}: object("X", 1, "fr", "one")}
	e, mock := newEngine(t, objs)
	ctx := context.Background()

	mock.ExpectQuery(smartSQL).
		WithArgs("X", int64(1000), "X", "fr", int64(50)).
		WillReturnRows(rows(source.Ref{ClassName: "X", ID: 1}))
	mock.ExpectQuery(smartSQL).
		WithArgs("X", int64(1000), "X", "fr", int64(50)).
		WillReturnError(errors.New("boom"))

	var got []int64
	for obj, err := range e.Search(xFr()).Stream(ctx) {
		require.NoError(t, err)
		got = append(got, obj.ID())
	}
	assert.Equal(t, []int64{1}, got)

	for _, err := range e.Search(xFr()).Stream(ctx) {
		assert.EqualError(t, err, "planner: boom")
	}

	mock.ExpectQuery(longSQL).WithArgs("X", "fr", int64(7)).WillReturnRows(rows())
	rs, err := e.Search(xFr()).Limit(7).Long(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen(t *testing.T) {
	cfg, err := config.Parse(`
[index]
master_table = "master"
default_order = ["-id"]

[[field]]
name = "lang"
kind = "string"

[[field]]
name = "title"
kind = "fulltext"
primary = true

[[type_map]]
class = "X"
table = "tx"
`)
	require.NoError(t, err)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	e, err := Open(db, store{}, cfg)
	require.NoError(t, err)
	assert.Len(t, e.Registry().Fields(), 4)
	table, ok := e.Types().TableFor("X")
	require.True(t, ok)
	assert.Equal(t, "tx", table)

	mock.ExpectQuery(longSQL).WithArgs("X", "fr", int64(1)).WillReturnRows(rows())
	_, err = e.LongQuery(context.Background(), xFr(), nil, 1, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
