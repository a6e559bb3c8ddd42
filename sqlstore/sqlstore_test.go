package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/source"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, nil,
		Table{Class: "Article", Name: "app_article", Columns: []string{"id", "title", "body"}},
		Table{Class: "Author", Name: "app_author", IDColumn: "author_id"},
	)
	require.NoError(t, err)
	return s, mock
}

func TestLoad(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery("SELECT id, title, body FROM app_article WHERE id = $1").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "body"}).AddRow(7, "Hello", []byte("World")))

	obj, err := s.Load(context.Background(), source.Ref{ClassName: "Article", ID: 7})
	require.NoError(t, err)

	assert.Equal(t, "Article", obj.ClassName())
	assert.Equal(t, int64(7), obj.ID())
	title, ok := obj.Attr("title")
	require.True(t, ok)
	assert.Equal(t, "Hello", title)
	body, _ := obj.Attr("body")
	assert.Equal(t, []byte("World"), body)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadNotFound(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery("SELECT * FROM app_author WHERE author_id = $1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"author_id", "name"}))

	_, err := s.Load(context.Background(), source.Ref{ClassName: "Author", ID: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrNotFound))

	_, err = s.Load(context.Background(), source.Ref{ClassName: "Comment", ID: 1})
	assert.True(t, errors.Is(err, source.ErrNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadQueryError(t *testing.T) {
	s, mock := newStore(t)
	boom := errors.New("boom")

	mock.ExpectQuery("SELECT id, title, body FROM app_article WHERE id = $1").
		WithArgs(1).
		WillReturnError(boom)

	_, err := s.Load(context.Background(), source.Ref{ClassName: "Article", ID: 1})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListIDs(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery("SELECT author_id FROM app_author ORDER BY author_id ASC").
		WillReturnRows(sqlmock.NewRows([]string{"author_id"}).AddRow(1).AddRow(2).AddRow(5))

	ids, err := s.ListIDs(context.Background(), "Author")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 5}, ids)

	_, err = s.ListIDs(context.Background(), "Comment")
	assert.True(t, errors.Is(err, source.ErrNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, Table{Class: "A"})
	assert.True(t, errors.Is(err, field.ErrConfiguration))

	_, err = New(nil, nil, Table{Class: "A", Name: "a"}, Table{Class: "A", Name: "b"})
	assert.True(t, errors.Is(err, field.ErrConfiguration))

	s, err := New(nil, nil, Table{Class: "B", Name: "b"}, Table{Class: "A", Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, s.Classes())
}
