// Package sqlast holds the small SQL AST shared by the field, query and
// indexer packages.
//
// Fragments are written with neutral "?" placeholders and rebound to the
// PostgreSQL "$n" style only when a statement is rendered, so fragments can
// be composed in any order without renumbering.
package sqlast

import (
	"strconv"
	"strings"
)

// Fragment is a piece of SQL with its bound arguments.
type Fragment struct {
	SQL  string
	Args []any
}

// New returns a fragment.
func New(sql string, args ...any) Fragment {
	return Fragment{SQL: sql, Args: args}
}

// IsZero reports whether the fragment holds no SQL.
func (f Fragment) IsZero() bool { return f.SQL == "" }

// Join concatenates fragments with sep, skipping empty ones.
func Join(sep string, frags ...Fragment) Fragment {
	var (
		sb   strings.Builder
		args []any
	)
	for _, f := range frags {
		if f.IsZero() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(f.SQL)
		args = append(args, f.Args...)
	}
	return Fragment{SQL: sb.String(), Args: args}
}

// Group joins fragments with a boolean connector, parenthesizing every
// operand: (a) AND (b).
func Group(connector string, frags ...Fragment) Fragment {
	inner := Join(") "+connector+" (", frags...)
	if inner.IsZero() {
		return inner
	}
	return Fragment{SQL: "(" + inner.SQL + ")", Args: inner.Args}
}

// Not negates a fragment.
func Not(f Fragment) Fragment {
	return Fragment{SQL: "NOT (" + f.SQL + ")", Args: f.Args}
}

// Placeholders returns n comma separated placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// Bind renders the fragment with numbered placeholders.
func (f Fragment) Bind() (string, []any) {
	return Rebind(f.SQL), f.Args
}

// Rebind replaces every "?" outside of quoted literals and identifiers by
// $1, $2, ... in order of appearance.
func Rebind(sql string) string {
	var (
		sb    strings.Builder
		n     int
		quote byte
	)
	sb.Grow(len(sql) + 8)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
