package sqlast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupAndNot(t *testing.T) {
	f := Group("AND", New("a = ?", 1), Fragment{}, New("b < ?", 2))
	assert.Equal(t, "(a = ?) AND (b < ?)", f.SQL)
	assert.Equal(t, []any{1, 2}, f.Args)

	n := Not(f)
	assert.Equal(t, "NOT ((a = ?) AND (b < ?))", n.SQL)
	assert.True(t, Group("OR").IsZero())
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "x = $1 AND y IN ($2,$3)", Rebind("x = ? AND y IN ("+Placeholders(2)+")"))
	assert.Equal(t, "to_tsvector('what?', $1)", Rebind("to_tsvector('what?', ?)"))
	assert.Equal(t, `"odd?" = $1`, Rebind(`"odd?" = ?`))
	assert.Equal(t, "", Placeholders(0))
}

func TestSelect(t *testing.T) {
	inner := Select{
		From:    Table("articles"),
		Where:   New("classname IN (?)", "Article"),
		OrderBy: New("date DESC"),
		Limit:   1000,
	}
	outer := Select{
		Columns: []string{"classname", "id"},
		From:    Subquery(inner, "subquery"),
		Where:   New("title_tsv @@ plainto_tsquery('public.simple', ?)", "foo"),
		OrderBy: New("date DESC"),
		Limit:   10,
	}

	sql, args := outer.Fragment().Bind()
	assert.Equal(t,
		"SELECT classname, id FROM (SELECT * FROM articles WHERE classname IN ($1) ORDER BY date DESC LIMIT $2) subquery "+
			"WHERE title_tsv @@ plainto_tsquery('public.simple', $3) ORDER BY date DESC LIMIT $4",
		sql)
	assert.Equal(t, []any{"Article", 1000, "foo", 10}, args)
}
