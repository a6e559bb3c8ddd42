package field

import (
	"fmt"

	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqlast"
)

// Field is a typed column (or pair of columns) of the index tables.
type Field interface {
	Name() string
	Kind() Kind
	// IndexColumn is the column predicates run against.
	IndexColumn() string
	// DataColumn is the column holding the raw value, used for ordering.
	DataColumn() string
	// Primary reports whether the field is the primary full-text field.
	Primary() bool

	// Schema returns the column definitions, without trailing comma.
	Schema() string
	// IndexDDL returns the statements creating the indexes of the field on table.
	IndexDDL(table string) []string

	// Marshal turns a value into a bindable SQL literal. nil and empty
	// values become nil.
	Marshal(v any) (any, error)
	// Columns lists the columns populated at indexing time.
	Columns() []string
	// Placeholders lists one placeholder expression per column.
	Placeholders() []string
	// Values evaluates the field's source against obj. It returns one value
	// per "?" in Placeholders.
	Values(obj source.Object) ([]any, error)

	// Predicate compiles op applied to operand.
	Predicate(op Op, operand any) (sqlast.Fragment, error)
}

// Ranker is implemented by fields that can order by relevance.
type Ranker interface {
	Rank(op Op, operand any) (sqlast.Fragment, error)
}

// Option configures a field.
type Option func(o *options)

type options struct {
	source      source.Expr
	sqlDefault  string
	size        int
	primary     bool
	dictionary  string
	cleanup     func(string) string
	charset     string
	derefProxy  bool
	indexMethod string
	rankWeights []float64
}

// WithSource sets the expression the value is read from. Defaults to the
// attribute named like the field.
func WithSource(src source.Expr) Option {
	return func(o *options) { o.source = src }
}

// WithSQLDefault makes the column use a fixed SQL expression instead of a
// value read from the object.
func WithSQLDefault(expr string) Option {
	return func(o *options) { o.sqlDefault = expr }
}

// WithSize sets the varchar size of a string field.
func WithSize(n int) Option {
	return func(o *options) { o.size = n }
}

// WithPrimary marks a full-text field as the one relevance ordering uses.
func WithPrimary() Option {
	return func(o *options) { o.primary = true }
}

// WithDictionary overrides the text search configuration of a full-text field.
func WithDictionary(name string) Option {
	return func(o *options) { o.dictionary = name }
}

// WithCleanup installs a hook run on full-text values before normalization.
func WithCleanup(fn func(string) string) Option {
	return func(o *options) { o.cleanup = fn }
}

// WithCharset sets the charset raw []byte values are decoded from.
func WithCharset(name string) Option {
	return func(o *options) { o.charset = name }
}

// WithDereferenceProxy makes a class field store the proxied class name.
func WithDereferenceProxy() Option {
	return func(o *options) { o.derefProxy = true }
}

// WithIndexMethod overrides the index access method ("btree", "gin", ...).
func WithIndexMethod(method string) Option {
	return func(o *options) { o.indexMethod = method }
}

// WithRankWeights sets the {D, C, B, A} weights passed to ts_rank_cd.
func WithRankWeights(d, c, b, a float64) Option {
	return func(o *options) { o.rankWeights = []float64{d, c, b, a} }
}

func newOptions(name string, opts []Option) options {
	o := options{size: 255}
	for _, fn := range opts {
		fn(&o)
	}
	if o.source == nil {
		o.source = source.Attribute(name)
	}
	return o
}

// base carries the behavior shared by every field kind.
type base struct {
	name        string
	kind        Kind
	indexColumn string
	dataColumn  string
	sqlType     string
	indexMethod string
	sqlDefault  string
	src         source.Expr
	marshal     func(v any) (any, error)
}

func newBase(name string, kind Kind, sqlType string, o options, marshal func(any) (any, error)) base {
	return base{
		name:        name,
		kind:        kind,
		indexColumn: name,
		dataColumn:  name,
		sqlType:     sqlType,
		indexMethod: o.indexMethod,
		sqlDefault:  o.sqlDefault,
		src:         o.source,
		marshal:     marshal,
	}
}

func (b *base) Name() string        { return b.name }
func (b *base) Kind() Kind          { return b.kind }
func (b *base) IndexColumn() string { return b.indexColumn }
func (b *base) DataColumn() string  { return b.dataColumn }
func (b *base) Primary() bool       { return false }

// Source returns the expression the field is evaluated from.
func (b *base) Source() source.Expr { return b.src }

func (b *base) Schema() string {
	s := b.name + " " + b.sqlType
	if b.sqlDefault != "" {
		s += " DEFAULT " + b.sqlDefault
	}
	return s
}

func (b *base) IndexDDL(table string) []string {
	stmt := fmt.Sprintf("CREATE INDEX %s_%s_index ON %s ", table, b.name, table)
	if b.indexMethod != "" {
		stmt += "USING " + b.indexMethod + " "
	}
	return []string{stmt + "(" + b.indexColumn + ");"}
}

func (b *base) Marshal(v any) (any, error) { return b.marshal(v) }

func (b *base) Columns() []string { return []string{b.dataColumn} }

func (b *base) Placeholders() []string {
	if b.sqlDefault != "" {
		return []string{b.sqlDefault}
	}
	return []string{"?"}
}

func (b *base) Values(obj source.Object) ([]any, error) {
	if b.sqlDefault != "" {
		return nil, nil
	}
	raw, err := b.src.Eval(obj)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", b.name, err)
	}
	v, err := b.marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", b.name, err)
	}
	return []any{v}, nil
}

func (b *base) unsupported(op Op) error {
	return &UnsupportedOperatorError{Field: b.name, Op: op}
}

func (b *base) malformed(op Op, format string, args ...any) error {
	return &MalformedOperandError{Field: b.name, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func (b *base) operand(op Op, v any) (any, error) {
	m, err := b.marshal(v)
	if err != nil {
		return nil, b.malformed(op, "%v", err)
	}
	return m, nil
}

func (b *base) equals(op Op, v any) (sqlast.Fragment, error) {
	m, err := b.operand(op, v)
	if err != nil {
		return sqlast.Fragment{}, err
	}
	return sqlast.New(b.indexColumn+" = ?", m), nil
}

func (b *base) in(op Op, v any) (sqlast.Fragment, error) {
	items, ok := asList(v)
	if !ok {
		return sqlast.Fragment{}, b.malformed(op, "requires a list, got %T", v)
	}
	if len(items) == 0 {
		return sqlast.New("FALSE"), nil
	}
	args := make([]any, len(items))
	for i, item := range items {
		m, err := b.operand(op, item)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		args[i] = m
	}
	return sqlast.New(b.indexColumn+" IN ("+sqlast.Placeholders(len(args))+")", args...), nil
}

func (b *base) compare(op Op, v any) (sqlast.Fragment, error) {
	var sym string
	switch op {
	case OpLT:
		sym = "<"
	case OpLTE:
		sym = "<="
	case OpGT:
		sym = ">"
	case OpGTE:
		sym = ">="
	default:
		return sqlast.Fragment{}, b.unsupported(op)
	}
	m, err := b.operand(op, v)
	if err != nil {
		return sqlast.Fragment{}, err
	}
	return sqlast.New(b.indexColumn+" "+sym+" ?", m), nil
}

func (b *base) between(op Op, v any) (sqlast.Fragment, error) {
	items, ok := asList(v)
	if !ok || len(items) != 2 {
		return sqlast.Fragment{}, b.malformed(op, "requires exactly two bounds")
	}
	lo, err := b.operand(op, items[0])
	if err != nil {
		return sqlast.Fragment{}, err
	}
	hi, err := b.operand(op, items[1])
	if err != nil {
		return sqlast.Fragment{}, err
	}
	col := b.indexColumn
	return sqlast.New("("+col+" >= ?) AND ("+col+" <= ?)", lo, hi), nil
}

// asList converts the list shapes operands are written with.
func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		res := make([]any, len(x))
		for i, s := range x {
			res[i] = s
		}
		return res, true
	case []int:
		res := make([]any, len(x))
		for i, n := range x {
			res[i] = n
		}
		return res, true
	case []int64:
		res := make([]any, len(x))
		for i, n := range x {
			res[i] = n
		}
		return res, true
	case source.Objects:
		res := make([]any, len(x))
		for i, o := range x {
			res[i] = o
		}
		return res, true
	}
	return nil, false
}
