// Package sqlstore loads objects to index from the tables of the primary
// relational database. Every row becomes a *source.Map whose values are
// the selected columns.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqlast"
	"github.com/hupe1980/tsearch/sqldb"
)

// Table maps a class to the table its objects live in.
type Table struct {
	Class string
	Name  string
	// IDColumn defaults to "id".
	IDColumn string
	// Columns defaults to every column.
	Columns []string
}

// Store is a source.Loader over a primary database.
type Store struct {
	db     sqldb.Execer
	tables map[string]Table
	logger *slog.Logger
}

var _ source.Loader = (*Store)(nil)

// New returns a store. Each class may be mapped once.
func New(db sqldb.Execer, logger *slog.Logger, tables ...Table) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{db: db, tables: make(map[string]Table, len(tables)), logger: logger}
	for _, t := range tables {
		if t.Class == "" || t.Name == "" {
			return nil, field.Configf("sqlstore table needs a class and a name")
		}
		if _, dup := s.tables[t.Class]; dup {
			return nil, field.Configf("sqlstore: class %q mapped twice", t.Class)
		}
		if t.IDColumn == "" {
			t.IDColumn = "id"
		}
		s.tables[t.Class] = t
	}
	return s, nil
}

// Classes returns the mapped classes, sorted.
func (s *Store) Classes() []string {
	res := make([]string, 0, len(s.tables))
	for c := range s.tables {
		res = append(res, c)
	}
	sort.Strings(res)
	return res
}

func (s *Store) table(class string) (Table, error) {
	t, ok := s.tables[class]
	if !ok {
		return Table{}, fmt.Errorf("sqlstore: class %q is not mapped: %w", class, source.ErrNotFound)
	}
	return t, nil
}

// Load reads the row behind ref.
func (s *Store) Load(ctx context.Context, ref source.Ref) (source.Object, error) {
	t, err := s.table(ref.ClassName)
	if err != nil {
		return nil, err
	}

	stmt, args := sqlast.Select{
		Columns: t.Columns,
		From:    sqlast.Table(t.Name),
		Where:   sqlast.New(t.IDColumn+" = ?", ref.ID),
	}.Fragment().Bind()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", ref, source.ErrNotFound)
	}
	values, err := scanMap(rows)
	if err != nil {
		return nil, err
	}
	return &source.Map{Class: ref.ClassName, Key: ref.ID, Values: values}, rows.Err()
}

// ListIDs returns the ids of every object of classname, ascending.
func (s *Store) ListIDs(ctx context.Context, classname string) ([]int64, error) {
	t, err := s.table(classname)
	if err != nil {
		return nil, err
	}

	stmt, args := sqlast.Select{
		Columns: []string{t.IDColumn},
		From:    sqlast.Table(t.Name),
		OrderBy: sqlast.New(t.IDColumn + " ASC"),
	}.Fragment().Bind()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	s.logger.Debug("listed ids", "classname", classname, "rows", len(ids))
	return ids, rows.Err()
}

func scanMap(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	values := make(map[string]any, len(cols))
	for i, c := range cols {
		values[c] = dest[i]
	}
	return values, nil
}
