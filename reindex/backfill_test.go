package reindex

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tsearch/source"
)

type listerFunc func(ctx context.Context, classname string) ([]int64, error)

func (f listerFunc) ListIDs(ctx context.Context, classname string) ([]int64, error) {
	return f(ctx, classname)
}

const indexedSQL = "SELECT id FROM tsearch_index WHERE classname = $1"

func TestBackfiller_MissingOnly(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(indexedSQL).WithArgs("Article").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	expectIndex(mock, 1)

	boom := errors.New("broken row")
	loader := source.LoaderFunc(func(ctx context.Context, ref source.Ref) (source.Object, error) {
		if ref.ID == 3 {
			return nil, boom
		}
		return article(ctx, ref)
	})
	lister := listerFunc(func(context.Context, string) ([]int64, error) { return []int64{1, 2, 3}, nil })

	b := NewBackfiller(db, master, newTarget(t, db, "articles_v2"), loader, lister, BackfillOptions{ReportEvery: 1})
	rep, err := b.Backfill(context.Background(), "Article", false)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 1, rep.Already)
	assert.Equal(t, 1, rep.Indexed)
	assert.Equal(t, 1, rep.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackfiller_All(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(indexedSQL).WithArgs("Article").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	expectIndex(mock, 1)
	expectIndex(mock, 2)

	lister := listerFunc(func(context.Context, string) ([]int64, error) { return []int64{1, 2}, nil })
	b := NewBackfiller(db, master, newTarget(t, db, "articles_v2"), source.LoaderFunc(article), lister, BackfillOptions{})

	rep, err := b.Backfill(context.Background(), "Article", true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Indexed)
	assert.Zero(t, rep.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackfiller_ListError(t *testing.T) {
	db, _ := newMock(t)
	boom := errors.New("no table")
	lister := listerFunc(func(context.Context, string) ([]int64, error) { return nil, boom })

	b := NewBackfiller(db, master, newTarget(t, db, "articles_v2"), source.LoaderFunc(article), lister, BackfillOptions{})
	_, err := b.Backfill(context.Background(), "Article", false)
	assert.ErrorIs(t, err, boom)
}
