package sqlast

import "strings"

// Select is a SELECT statement.
type Select struct {
	Columns []string
	// From is a table name or a parenthesized subquery with its alias.
	From    Fragment
	Where   Fragment
	OrderBy Fragment
	// Limit is rendered as a bound argument when positive.
	Limit int
}

// Table returns a From fragment naming a table.
func Table(name string) Fragment { return Fragment{SQL: name} }

// Subquery wraps a statement so it can be used as a From clause.
func Subquery(s Select, alias string) Fragment {
	f := s.Fragment()
	return Fragment{SQL: "(" + f.SQL + ") " + alias, Args: f.Args}
}

// Fragment renders the statement.
func (s Select) Fragment() Fragment {
	cols := "*"
	if len(s.Columns) > 0 {
		cols = strings.Join(s.Columns, ", ")
	}
	parts := []Fragment{
		New("SELECT " + cols),
		{SQL: "FROM " + s.From.SQL, Args: s.From.Args},
	}
	if !s.Where.IsZero() {
		parts = append(parts, Fragment{SQL: "WHERE " + s.Where.SQL, Args: s.Where.Args})
	}
	if !s.OrderBy.IsZero() {
		parts = append(parts, Fragment{SQL: "ORDER BY " + s.OrderBy.SQL, Args: s.OrderBy.Args})
	}
	if s.Limit > 0 {
		parts = append(parts, New("LIMIT ?", s.Limit))
	}
	return Join(" ", parts...)
}
