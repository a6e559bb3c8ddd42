// Package schema generates and applies the DDL of the index: the text
// search configuration, the master table, one inheriting table per type map
// group and the reindex schedule.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/schedule"
	"github.com/hupe1980/tsearch/sqldb"
	"github.com/hupe1980/tsearch/typemap"
)

// Options configures a Builder.
type Options struct {
	// Master is the table every index table inherits from.
	Master string
	// TSConfig is the text search configuration name. Unqualified names are
	// created in the public schema. Defaults to field.DefaultTSConfig.
	TSConfig string
	// Stopwords is the stopwords file of the dictionary. Defaults to "english".
	Stopwords string
	// ExtraTSConfig statements run after the configuration is created.
	ExtraTSConfig []string
	// CrossIndexes are multi-column indexes created on every table.
	CrossIndexes [][]string
	// ScheduleTable and ScheduleSequence default to the schedule package
	// defaults.
	ScheduleTable    string
	ScheduleSequence string
	Logger           *slog.Logger
}

// Builder renders DDL statements.
type Builder struct {
	registry *field.Registry
	types    *typemap.TypeMap
	opts     Options
}

// NewBuilder returns a builder.
func NewBuilder(registry *field.Registry, types *typemap.TypeMap, opts Options) (*Builder, error) {
	if opts.Master == "" {
		return nil, field.Configf("schema needs a master table name")
	}
	if opts.TSConfig == "" {
		opts.TSConfig = field.DefaultTSConfig
	}
	if !strings.Contains(opts.TSConfig, ".") {
		opts.TSConfig = "public." + opts.TSConfig
	}
	if opts.Stopwords == "" {
		opts.Stopwords = "english"
	}
	if opts.ScheduleTable == "" {
		opts.ScheduleTable = schedule.DefaultTable
	}
	if opts.ScheduleSequence == "" {
		opts.ScheduleSequence = schedule.DefaultSequence
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	for _, cross := range opts.CrossIndexes {
		for _, col := range cross {
			if _, err := registry.Field(col); err != nil {
				return nil, field.Configf("cross index %v: unknown field %q", cross, col)
			}
		}
	}
	return &Builder{registry: registry, types: types, opts: opts}, nil
}

// Dictionary creates the text search configuration and its dictionary.
func (b *Builder) Dictionary() []string {
	cfg := b.opts.TSConfig
	dict := cfg + "_dict"
	stmts := []string{
		"DROP TEXT SEARCH CONFIGURATION IF EXISTS " + cfg,
		"CREATE TEXT SEARCH CONFIGURATION " + cfg + " (COPY = pg_catalog.simple)",
		"DROP TEXT SEARCH DICTIONARY IF EXISTS " + dict,
		fmt.Sprintf("CREATE TEXT SEARCH DICTIONARY %s (\n  TEMPLATE = pg_catalog.simple,\n  STOPWORDS = %s\n)", dict, b.opts.Stopwords),
		fmt.Sprintf("ALTER TEXT SEARCH CONFIGURATION %s\n  ALTER MAPPING FOR asciiword, asciihword, hword_asciipart WITH %s", cfg, dict),
	}
	return append(stmts, b.opts.ExtraTSConfig...)
}

// MasterTable creates the master table with every field column.
func (b *Builder) MasterTable() []string {
	cols := make([]string, 0, len(b.registry.Fields())+1)
	for _, f := range b.registry.Fields() {
		cols = append(cols, f.Schema())
	}
	cols = append(cols, "PRIMARY KEY ("+field.ClassName+", "+field.ID+")")
	return []string{
		"DROP TABLE IF EXISTS " + b.opts.Master + " CASCADE",
		"CREATE TABLE " + b.opts.Master + " (\n  " + strings.Join(cols, ",\n  ") + "\n)",
	}
}

// Table creates one inheriting table, restricted to its classes, with the
// field and cross indexes.
func (b *Builder) Table(table string) []string {
	classes := b.types.ClassesFor(table)
	conds := make([]string, 0, len(classes))
	for _, c := range classes {
		conds = append(conds, field.ClassName+" = "+quote(c))
	}
	check := strings.Join(conds, " OR ")
	if check == "" {
		check = "FALSE"
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (CHECK (%s), PRIMARY KEY (%s, %s)) INHERITS (%s)",
		table, check, field.ClassName, field.ID, b.opts.Master)}
	for _, f := range b.registry.Fields() {
		stmts = append(stmts, f.IndexDDL(table)...)
	}
	for _, cross := range b.opts.CrossIndexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s_%s_index ON %s (%s);",
			table, strings.Join(cross, "_"), table, strings.Join(cross, ",")))
	}
	return stmts
}

// ScheduleTables creates the reindex schedule and its row id sequence.
func (b *Builder) ScheduleTables() []string {
	t, seq := b.opts.ScheduleTable, b.opts.ScheduleSequence
	return []string{
		"DROP SEQUENCE IF EXISTS " + seq,
		"CREATE SEQUENCE " + seq,
		"DROP TABLE IF EXISTS " + t,
		"CREATE TABLE " + t + " (\n" +
			"  rowid bigint NOT NULL,\n" +
			"  classname character varying(250) NOT NULL,\n" +
			"  objid bigint NOT NULL,\n" +
			"  scheduled_at timestamp NOT NULL DEFAULT NOW(),\n" +
			"  PRIMARY KEY (rowid)\n" +
			")",
		"CREATE INDEX " + t + "_date_index ON " + t + " (scheduled_at)",
		"CREATE INDEX " + t + "_content_index ON " + t + " (classname, rowid)",
	}
}

// Script returns the whole schema. DROP statements are left out unless
// includeDrop is set.
func (b *Builder) Script(includeDrop bool) []string {
	stmts := append(b.Dictionary(), b.MasterTable()...)
	for _, t := range b.types.AllTables() {
		stmts = append(stmts, b.Table(t)...)
	}
	stmts = append(stmts, b.ScheduleTables()...)
	if includeDrop {
		return stmts
	}
	return WithoutDrop(stmts)
}

// WithoutDrop filters DROP statements out.
func WithoutDrop(stmts []string) []string {
	res := make([]string, 0, len(stmts))
	for _, s := range stmts {
		if !strings.HasPrefix(s, "DROP ") {
			res = append(res, s)
		}
	}
	return res
}

type step struct {
	table string
	stmts func() []string
}

// Report lists what Sync did.
type Report struct {
	Created []string
	Skipped []string
}

// Sync creates, in one transaction, every table that does not exist yet.
// The text search configuration is (re)created with the master table.
func (b *Builder) Sync(ctx context.Context, db sqldb.Execer, policy sqldb.Policy) (Report, error) {
	var rep Report
	err := sqldb.WithRetryableTransaction(ctx, db, policy, func(ctx context.Context, tx sqldb.Execer) error {
		rep = Report{}

		steps := []step{{b.opts.Master, func() []string { return append(b.Dictionary(), b.MasterTable()...) }}}
		for _, t := range b.types.AllTables() {
			steps = append(steps, step{t, func() []string { return b.Table(t) }})
		}
		steps = append(steps, step{b.opts.ScheduleTable, b.ScheduleTables})

		for _, s := range steps {
			exists, err := TableExists(ctx, tx, s.table)
			if err != nil {
				return err
			}
			if exists {
				b.opts.Logger.InfoContext(ctx, "table already exists, skipped", "table", s.table)
				rep.Skipped = append(rep.Skipped, s.table)
				continue
			}
			if err := Exec(ctx, tx, s.stmts()); err != nil {
				return fmt.Errorf("schema: create %s: %w", s.table, err)
			}
			b.opts.Logger.InfoContext(ctx, "table created", "table", s.table)
			rep.Created = append(rep.Created, s.table)
		}
		return nil
	})
	return rep, err
}

// TableExists looks table up in pg_catalog.pg_tables. A schema-qualified
// name is matched on both parts.
func TableExists(ctx context.Context, db sqldb.Execer, table string) (bool, error) {
	var (
		n    int
		err  error
		stmt = "SELECT COUNT(*) FROM pg_catalog.pg_tables WHERE tablename = $1"
	)
	if schemaName, name, ok := strings.Cut(table, "."); ok {
		err = db.QueryRowContext(ctx, stmt+" AND schemaname = $2", name, schemaName).Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, stmt, table).Scan(&n)
	}
	if err != nil {
		return false, fmt.Errorf("schema: lookup %s: %w", table, err)
	}
	return n > 0, nil
}

// Exec runs statements in order.
func Exec(ctx context.Context, db sqldb.Execer, stmts []string) error {
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
