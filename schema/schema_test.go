package schema

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/sqldb"
	"github.com/hupe1980/tsearch/typemap"
)

func newBuilder(t *testing.T, opts Options) *Builder {
	t.Helper()
	reg, err := field.NewRegistry(
		field.NewClass("classname"),
		field.NewInt("id"),
		field.NewFullText("title", field.WithPrimary()),
		field.NewString("lang", field.WithSize(8)),
	)
	require.NoError(t, err)

	tree := typemap.NewTree().Add("Article", "").Add("Brief", "Article").Add("Blog", "")
	types, err := typemap.New(tree,
		typemap.Rule{Class: "Article", Table: "articles"},
		typemap.Rule{Class: "Blog", Table: "blogs"},
	)
	require.NoError(t, err)

	if opts.Master == "" {
		opts.Master = "tsearch_index"
	}
	b, err := NewBuilder(reg, types, opts)
	require.NoError(t, err)
	return b
}

func TestBuilder_MasterTable(t *testing.T) {
	b := newBuilder(t, Options{})
	assert.Equal(t, []string{
		"DROP TABLE IF EXISTS tsearch_index CASCADE",
		"CREATE TABLE tsearch_index (\n" +
			"  classname varchar(255),\n" +
			"  id integer,\n" +
			"  title_text text,\n  title_tsv tsvector,\n" +
			"  lang varchar(8),\n" +
			"  PRIMARY KEY (classname, id)\n" +
			")",
	}, b.MasterTable())
}

func TestBuilder_Table(t *testing.T) {
	b := newBuilder(t, Options{CrossIndexes: [][]string{{"lang", "id"}}})
	stmts := b.Table("articles")

	require.NotEmpty(t, stmts)
	assert.Equal(t,
		"CREATE TABLE articles (CHECK (classname = 'Article' OR classname = 'Brief'), PRIMARY KEY (classname, id)) INHERITS (tsearch_index)",
		stmts[0])
	assert.Contains(t, stmts, "CREATE INDEX articles_title_index ON articles USING GIN (title_tsv);")
	assert.Contains(t, stmts, "ALTER TABLE articles ALTER COLUMN title_tsv SET STATISTICS 1000;")
	assert.Contains(t, stmts, "CREATE INDEX articles_lang_index ON articles (lang);")
	assert.Equal(t, "CREATE INDEX articles_lang_id_index ON articles (lang,id);", stmts[len(stmts)-1])
}

func TestBuilder_Dictionary(t *testing.T) {
	b := newBuilder(t, Options{TSConfig: "search", Stopwords: "french", ExtraTSConfig: []string{"SELECT 1"}})
	stmts := b.Dictionary()

	assert.Equal(t, "CREATE TEXT SEARCH CONFIGURATION public.search (COPY = pg_catalog.simple)", stmts[1])
	assert.Contains(t, stmts[3], "STOPWORDS = french")
	assert.Contains(t, stmts[4], "WITH public.search_dict")
	assert.Equal(t, "SELECT 1", stmts[len(stmts)-1])
}

func TestBuilder_Script(t *testing.T) {
	b := newBuilder(t, Options{})

	for _, s := range b.Script(false) {
		assert.NotContains(t, s, "DROP ")
	}
	assert.Greater(t, len(b.Script(true)), len(b.Script(false)))
	assert.Contains(t, b.Script(false), "CREATE SEQUENCE tsearch_reindex_id_seq")
}

func TestNewBuilder_Validation(t *testing.T) {
	reg, err := field.NewRegistry(field.NewClass("classname"), field.NewInt("id"))
	require.NoError(t, err)
	types, err := typemap.New(nil)
	require.NoError(t, err)

	_, err = NewBuilder(reg, types, Options{})
	assert.ErrorIs(t, err, field.ErrConfiguration)

	_, err = NewBuilder(reg, types, Options{Master: "m", CrossIndexes: [][]string{{"nope"}}})
	assert.ErrorIs(t, err, field.ErrConfiguration)
}

func TestBuilder_Sync(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	b := newBuilder(t, Options{})
	exists := func(table string, n int) {
		mock.ExpectQuery("SELECT COUNT(*) FROM pg_catalog.pg_tables WHERE tablename = $1").
			WithArgs(table).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
	}
	expectAll := func(stmts []string) {
		for _, s := range stmts {
			mock.ExpectExec(s).WillReturnResult(sqlmock.NewResult(0, 0))
		}
	}

	mock.ExpectBegin()
	exists("tsearch_index", 1)
	exists("articles", 1)
	exists("blogs", 0)
	expectAll(b.Table("blogs"))
	exists("tsearch_reindex_schedule", 0)
	expectAll(b.ScheduleTables())
	mock.ExpectCommit()

	rep, err := b.Sync(context.Background(), db, sqldb.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, []string{"tsearch_index", "articles"}, rep.Skipped)
	assert.Equal(t, []string{"blogs", "tsearch_reindex_schedule"}, rep.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableExists_Qualified(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT(*) FROM pg_catalog.pg_tables WHERE tablename = $1 AND schemaname = $2").
		WithArgs("docs", "search").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := TableExists(context.Background(), db, "search.docs")
	require.NoError(t, err)
	assert.True(t, ok)
}
