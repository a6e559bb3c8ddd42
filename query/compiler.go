package query

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/sqlast"
	"github.com/hupe1980/tsearch/typemap"
)

// DegradationKind classifies a Degradation.
type DegradationKind uint8

const (
	// DegradedRouting means the query runs on the master table because the
	// predicate does not pin a single table.
	DegradedRouting DegradationKind = iota + 1
	// DegradedRelevance means a relevance order term was dropped.
	DegradedRelevance
)

func (k DegradationKind) String() string {
	switch k {
	case DegradedRouting:
		return "routing"
	case DegradedRelevance:
		return "relevance"
	default:
		return "unknown"
	}
}

// Degradation is a fallback taken while compiling. It is not an error.
type Degradation struct {
	Kind   DegradationKind
	Reason string
}

func (d Degradation) String() string { return d.Kind.String() + ": " + d.Reason }

// Options configures a Compiler.
type Options struct {
	// MasterTable is the union table used when no single table applies.
	MasterTable string
	// DefaultOrder applies when a query is compiled without order terms.
	DefaultOrder []string
	Logger       *slog.Logger
}

// Compiler compiles predicate trees against a registry and a type map.
type Compiler struct {
	registry     *field.Registry
	types        *typemap.TypeMap
	master       string
	defaultOrder []Term
	logger       *slog.Logger
}

// NewCompiler returns a compiler.
func NewCompiler(registry *field.Registry, types *typemap.TypeMap, opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compiler{
		registry:     registry,
		types:        types,
		master:       opts.MasterTable,
		defaultOrder: ParseOrder(opts.DefaultOrder...),
		logger:       logger,
	}
}

// MasterTable returns the name of the union table.
func (c *Compiler) MasterTable() string { return c.master }

// Registry returns the field registry.
func (c *Compiler) Registry() *field.Registry { return c.registry }

// TypeMap returns the type map.
func (c *Compiler) TypeMap() *typemap.TypeMap { return c.types }

// Compile binds a predicate and an order to the compiler. Compilation
// itself is lazy and memoized on the returned Query.
func (c *Compiler) Compile(pred Node, order ...string) *Query {
	terms := ParseOrder(order...)
	if len(terms) == 0 {
		terms = c.defaultOrder
	}
	if pred == nil {
		pred = And()
	}
	return &Query{c: c, pred: pred, order: terms}
}

// Query is a compiled predicate and order. It is safe for concurrent use.
type Query struct {
	c     *Compiler
	pred  Node
	order []Term

	routeOnce sync.Once
	table     string
	classes   []string

	whereOnce sync.Once
	where     sqlast.Fragment
	whereErr  error

	orderOnce sync.Once
	orderBy   sqlast.Fragment
	firstBy   sqlast.Fragment
	orderErr  error

	fpOnce sync.Once
	fp     uint64

	mu           sync.Mutex
	degradations []Degradation
}

// Predicate returns the predicate tree.
func (q *Query) Predicate() Node { return q.pred }

// Registry returns the registry the query compiles against.
func (q *Query) Registry() *field.Registry { return q.c.registry }

// Order returns the order terms.
func (q *Query) Order() []Term { return q.order }

func (q *Query) String() string {
	terms := make([]string, len(q.order))
	for i, t := range q.order {
		terms[i] = t.String()
	}
	return q.pred.String() + " ORDER BY " + strings.Join(terms, ",")
}

// Fingerprint is a stable hash of the query text.
func (q *Query) Fingerprint() uint64 {
	q.fpOnce.Do(func() {
		q.fp = xxhash.Sum64String(q.String())
	})
	return q.fp
}

// Degradations returns the fallbacks taken so far.
func (q *Query) Degradations() []Degradation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Degradation(nil), q.degradations...)
}

func (q *Query) degrade(kind DegradationKind, format string, args ...any) {
	d := Degradation{Kind: kind, Reason: fmt.Sprintf(format, args...)}
	q.mu.Lock()
	q.degradations = append(q.degradations, d)
	q.mu.Unlock()
	q.c.logger.Warn("query degraded",
		"kind", kind.String(),
		"reason", d.Reason,
		"query", q.String(),
	)
}

// Classes returns the classes an AND-reachable classname constraint
// restricts the query to, or nil.
func (q *Query) Classes() []string {
	q.route()
	return q.classes
}

// Table returns the table the query runs on.
func (q *Query) Table() string {
	q.route()
	return q.table
}

// OnMaster reports whether the query falls back to the master table.
func (q *Query) OnMaster() bool { return q.Table() == q.c.master }

func (q *Query) route() {
	q.routeOnce.Do(func() {
		q.classes = q.resolveClasses()
		q.table = q.c.master

		if len(q.classes) == 0 {
			q.degrade(DegradedRouting, "no classname constraint, using master table")
			return
		}
		tables, ok := q.c.types.TablesFor(q.classes)
		if !ok || len(tables) != 1 {
			q.degrade(DegradedRouting, "classes %v span tables %v, using master table", q.classes, tables)
			return
		}
		q.table = tables[0]
	})
}

func (q *Query) resolveClasses() []string {
	class := q.c.registry.Class()
	leaf, ok := findLeaf(q.pred, class.Name())
	if !ok {
		return nil
	}

	var values []any
	switch _, op := leaf.Split(); op {
	case field.OpDefault:
		values = []any{leaf.Value}
	case field.OpIn:
		switch v := leaf.Value.(type) {
		case []string:
			for _, s := range v {
				values = append(values, s)
			}
		case []any:
			values = v
		}
	}

	var res []string
	for _, v := range values {
		m, err := class.Marshal(v)
		if err != nil || m == nil {
			continue
		}
		res = append(res, m.(string))
	}
	return res
}

// Where compiles the predicate.
func (q *Query) Where() (sqlast.Fragment, error) {
	q.whereOnce.Do(func() {
		q.where, q.whereErr = q.compile(q.pred)
	})
	return q.where, q.whereErr
}

func (q *Query) compile(n Node) (sqlast.Fragment, error) {
	switch x := n.(type) {
	case Leaf:
		name, op := x.Split()
		if !op.Known() {
			return sqlast.Fragment{}, &field.UnsupportedOperatorError{Field: name, Op: op}
		}
		f, err := q.c.registry.Field(name)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		return f.Predicate(op, x.Value)
	case Bool:
		if len(x.Children) == 0 {
			if x.Connector == OR {
				return sqlast.New("FALSE"), nil
			}
			return sqlast.New("TRUE"), nil
		}
		frags := make([]sqlast.Fragment, 0, len(x.Children))
		for _, c := range x.Children {
			f, err := q.compile(c)
			if err != nil {
				return sqlast.Fragment{}, err
			}
			frags = append(frags, f)
		}
		return sqlast.Group(string(x.Connector), frags...), nil
	case Negation:
		f, err := q.compile(x.Child)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		return sqlast.Not(f), nil
	default:
		return sqlast.Fragment{}, fmt.Errorf("query: unknown node %T", n)
	}
}

// OrdersByRelevance reports whether an order term asks for relevance.
func (q *Query) OrdersByRelevance() bool {
	for _, t := range q.order {
		if t.Field == Relevance {
			return true
		}
	}
	return false
}

// OrderBy compiles every order term.
func (q *Query) OrderBy() (sqlast.Fragment, error) {
	q.compileOrder()
	return q.orderBy, q.orderErr
}

// FirstOrderBy compiles the first order term only. It is the cheap proxy
// ordering of the adaptive scan.
func (q *Query) FirstOrderBy() (sqlast.Fragment, error) {
	q.compileOrder()
	return q.firstBy, q.orderErr
}

func (q *Query) compileOrder() {
	q.orderOnce.Do(func() {
		var frags []sqlast.Fragment
		for _, t := range q.order {
			f, ok, err := q.term(t)
			if err != nil {
				q.orderErr = err
				return
			}
			if ok {
				frags = append(frags, f)
			}
		}
		q.orderBy = sqlast.Join(", ", frags...)
		if len(frags) > 0 {
			q.firstBy = frags[0]
		}
	})
}

func (q *Query) term(t Term) (sqlast.Fragment, bool, error) {
	dir := " ASC"
	if t.Desc {
		dir = " DESC"
	}

	if t.Field != Relevance {
		f, err := q.c.registry.Field(t.Field)
		if err != nil {
			return sqlast.Fragment{}, false, err
		}
		return sqlast.New(f.DataColumn() + dir), true, nil
	}

	rank, ok := q.rank()
	if !ok {
		return sqlast.Fragment{}, false, nil
	}
	return sqlast.Fragment{SQL: rank.SQL + dir, Args: rank.Args}, true, nil
}

func (q *Query) rank() (sqlast.Fragment, bool) {
	primary := q.c.registry.Primary()
	if primary == nil {
		q.degrade(DegradedRelevance, "no primary full-text field, ignoring relevance")
		return sqlast.Fragment{}, false
	}
	ranker, ok := primary.(field.Ranker)
	if !ok {
		q.degrade(DegradedRelevance, "field %s cannot rank, ignoring relevance", primary.Name())
		return sqlast.Fragment{}, false
	}
	leaf, ok := findLeaf(q.pred, primary.Name())
	if !ok {
		q.degrade(DegradedRelevance, "no full-text predicate on %s, ignoring relevance", primary.Name())
		return sqlast.Fragment{}, false
	}

	_, op := leaf.Split()
	if op == field.OpContainsExact {
		q.c.logger.Warn("ranking on containsexact falls back to containswords", "field", primary.Name())
	}
	rank, err := ranker.Rank(op, leaf.Value)
	if err != nil {
		q.degrade(DegradedRelevance, "cannot rank %s: %v", leaf.Key, err)
		return sqlast.Fragment{}, false
	}
	return rank, true
}

// Validate compiles the predicate and the order, returning the first
// compile-time error.
func (q *Query) Validate() error {
	if _, err := q.Where(); err != nil {
		return err
	}
	_, err := q.OrderBy()
	return err
}
