package field

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqlast"
)

// DefaultTSConfig is the text search configuration full-text fields use
// unless told otherwise.
const DefaultTSConfig = "public.tsearch"

// Characters kept by the normalizer for the raw query operators.
const (
	matchesLetters = "&|!()"
	likeLetters    = "%"
)

// FullTextField indexes normalized text in a "<name>_text" column and its
// search vector in a "<name>_tsv" column.
type FullTextField struct {
	base
	primary     bool
	dictionary  string
	normalizer  Normalizer
	rankWeights []float64
}

// NewFullText returns a full-text field.
func NewFullText(name string, opts ...Option) *FullTextField {
	o := newOptions(name, opts)
	if o.indexMethod == "" {
		o.indexMethod = "GIN"
	}
	if o.dictionary == "" {
		o.dictionary = DefaultTSConfig
	}
	f := &FullTextField{
		primary:     o.primary,
		dictionary:  o.dictionary,
		normalizer:  Normalizer{Charset: o.charset, Cleanup: o.cleanup},
		rankWeights: o.rankWeights,
	}
	f.base = newBase(name, KindFullText, "tsvector", o, func(v any) (any, error) {
		return f.marshalWith(v, "")
	})
	f.indexColumn = name + "_tsv"
	f.dataColumn = name + "_text"
	return f
}

func (f *FullTextField) Primary() bool { return f.primary }

// Dictionary returns the text search configuration of the field.
func (f *FullTextField) Dictionary() string { return f.dictionary }

func (f *FullTextField) marshalWith(v any, extra string) (any, error) {
	s, err := f.normalizer.Normalize(v, extra)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return s, nil
}

func (f *FullTextField) Schema() string {
	return f.dataColumn + " text,\n  " + f.indexColumn + " tsvector"
}

func (f *FullTextField) IndexDDL(table string) []string {
	ddl := f.base.IndexDDL(table)
	return append(ddl, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET STATISTICS 1000;", table, f.indexColumn))
}

func (f *FullTextField) Columns() []string {
	return []string{f.dataColumn, f.indexColumn}
}

func (f *FullTextField) Placeholders() []string {
	vector := "to_tsvector('" + f.dictionary + "', ?)"
	if w, ok := f.src.(source.Weighted); ok {
		parts := make([]string, 0, len(w.Weights()))
		for _, weight := range w.Weights() {
			parts = append(parts, "setweight("+vector+", '"+weight.String()+"')")
		}
		vector = strings.Join(parts, " || ")
	}
	return []string{"?", vector}
}

func (f *FullTextField) Values(obj source.Object) ([]any, error) {
	raw, err := f.src.Eval(obj)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.name, err)
	}
	text, err := f.marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.name, err)
	}
	vals := []any{text}

	w, ok := f.src.(source.Weighted)
	if !ok {
		return append(vals, text), nil
	}
	for _, weight := range w.Weights() {
		part, err := w.EvalWeight(obj, weight)
		if err != nil {
			return nil, fmt.Errorf("field %s: weight %s: %w", f.name, weight, err)
		}
		m, err := f.marshal(part)
		if err != nil {
			return nil, fmt.Errorf("field %s: weight %s: %w", f.name, weight, err)
		}
		// The parts are joined with ||, so a NULL part would null the
		// whole vector.
		if m == nil {
			m = ""
		}
		vals = append(vals, m)
	}
	return vals, nil
}

func (f *FullTextField) tsquery(op Op, v any) (string, any, error) {
	fn, extra := "plainto_tsquery", ""
	if op == OpMatches {
		fn, extra = "to_tsquery", matchesLetters
	}
	m, err := f.marshalWith(v, extra)
	if err != nil {
		return "", nil, f.malformed(op, "%v", err)
	}
	return fn + "('" + f.dictionary + "', ?)", m, nil
}

func (f *FullTextField) Predicate(op Op, v any) (sqlast.Fragment, error) {
	switch op {
	case OpContainsWords, OpMatches:
		q, m, err := f.tsquery(op, v)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		return sqlast.New(f.indexColumn+" @@ "+q, m), nil
	case OpContainsExact:
		q, m, err := f.tsquery(OpContainsWords, v)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		like := "%"
		if s, ok := m.(string); ok {
			like = "%" + s + "%"
		}
		return sqlast.New("("+f.indexColumn+" @@ "+q+" AND "+f.dataColumn+" LIKE ?)", m, like), nil
	case OpLike:
		m, err := f.marshalWith(v, likeLetters)
		if err != nil {
			return sqlast.Fragment{}, f.malformed(op, "%v", err)
		}
		return sqlast.New(f.dataColumn+" LIKE ?", m), nil
	default:
		return sqlast.Fragment{}, f.unsupported(op)
	}
}

// Rank returns the relevance expression matching a predicate. Ranking on
// containsexact ranks as containswords.
func (f *FullTextField) Rank(op Op, v any) (sqlast.Fragment, error) {
	switch op {
	case OpContainsWords, OpContainsExact:
		op = OpContainsWords
	case OpMatches:
	default:
		return sqlast.Fragment{}, f.unsupported(op)
	}
	q, m, err := f.tsquery(op, v)
	if err != nil {
		return sqlast.Fragment{}, err
	}
	return sqlast.New("ts_rank_cd("+f.weights()+f.indexColumn+", "+q+")", m), nil
}

func (f *FullTextField) weights() string {
	if len(f.rankWeights) != 4 {
		return ""
	}
	parts := make([]string, len(f.rankWeights))
	for i, w := range f.rankWeights {
		parts[i] = strconv.FormatFloat(w, 'f', -1, 64)
	}
	return "'{" + strings.Join(parts, ",") + "}', "
}
