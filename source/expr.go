package source

import (
	"fmt"
	"strings"
)

// Expr is a source expression evaluated against an object.
type Expr interface {
	Eval(obj Object) (any, error)
	String() string
}

// Weight is a full-text weight label ('A' is the highest, 'D' the lowest).
type Weight byte

const (
	WeightA Weight = 'A'
	WeightB Weight = 'B'
	WeightC Weight = 'C'
	WeightD Weight = 'D'
)

// Valid reports whether w is one of the four supported labels.
func (w Weight) Valid() bool {
	return w >= WeightA && w <= WeightD
}

func (w Weight) String() string { return string(w) }

// Weighted is implemented by expressions that can be evaluated per weight.
type Weighted interface {
	Expr
	Weights() []Weight
	EvalWeight(obj Object, w Weight) (any, error)
}

// Attribute reads a named attribute.
type Attribute string

func (a Attribute) Eval(obj Object) (any, error) {
	if obj == nil {
		return nil, nil
	}
	v, _ := obj.Attr(string(a))
	return v, nil
}

func (a Attribute) String() string { return string(a) }

// Method calls a zero-argument method. Objects without the method yield nil.
type Method string

func (m Method) Eval(obj Object) (any, error) {
	mc, ok := obj.(MethodCaller)
	if !ok {
		return nil, nil
	}
	v, _ := mc.CallMethod(string(m))
	return v, nil
}

func (m Method) String() string { return string(m) + "()" }

// Class yields the class name of the object.
type Class struct {
	// DereferenceProxy reports the proxied type instead of the wrapper.
	DereferenceProxy bool
}

func (c Class) Eval(obj Object) (any, error) {
	if obj == nil {
		return nil, nil
	}
	if c.DereferenceProxy {
		if p, ok := obj.(Proxy); ok {
			if name := p.ConcreteClassName(); name != "" {
				return name, nil
			}
		}
	}
	return obj.ClassName(), nil
}

func (c Class) String() string { return "class" }

// Path walks a relation. When Via yields many objects, Get is evaluated
// on each of them (optionally filtered) and the results are flattened.
type Path struct {
	Via    Expr
	Get    Expr
	Filter func(Object) bool
}

func (p Path) Eval(obj Object) (any, error) {
	v, err := p.Via.Eval(obj)
	if err != nil {
		return nil, err
	}

	switch rel := v.(type) {
	case nil:
		return nil, nil
	case Object:
		return p.Get.Eval(rel)
	case []Object:
		return p.collect(rel)
	case Relation:
		objs, err := rel.All()
		if err != nil {
			return nil, fmt.Errorf("source: load relation %s: %w", p.Via, err)
		}
		return p.collect(objs)
	default:
		return nil, fmt.Errorf("%w: %s yields %T", ErrNotTraversable, p.Via, v)
	}
}

func (p Path) collect(objs []Object) ([]any, error) {
	res := make([]any, 0, len(objs))
	for _, o := range objs {
		if p.Filter != nil && !p.Filter(o) {
			continue
		}
		data, err := p.Get.Eval(o)
		if err != nil {
			return nil, err
		}
		if list, ok := data.([]any); ok {
			res = append(res, list...)
			continue
		}
		res = append(res, data)
	}
	return res, nil
}

func (p Path) String() string { return p.Via.String() + "." + p.Get.String() }

// Aggregate collapses several sources into one space-separated text.
type Aggregate []Expr

func (a Aggregate) Eval(obj Object) (any, error) {
	values := make([]any, 0, len(a))
	for _, src := range a {
		v, err := src.Eval(obj)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return Collapse(values), nil
}

func (a Aggregate) String() string {
	parts := make([]string, len(a))
	for i, src := range a {
		parts[i] = src.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// WeightedSource binds a source to a weight label.
type WeightedSource struct {
	Weight Weight
	Source Expr
}

// WeightedAggregate is an Aggregate whose parts carry full-text weights.
// Order is preserved; it defines the order of the generated vectors.
type WeightedAggregate []WeightedSource

func (w WeightedAggregate) Eval(obj Object) (any, error) {
	values := make([]any, 0, len(w))
	for _, ws := range w {
		v, err := ws.Source.Eval(obj)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return Collapse(values), nil
}

// EvalWeight evaluates only the source bound to weight. Unknown weights
// yield an empty string.
func (w WeightedAggregate) EvalWeight(obj Object, weight Weight) (any, error) {
	for _, ws := range w {
		if ws.Weight == weight {
			return ws.Source.Eval(obj)
		}
	}
	return "", nil
}

// Weights returns the weight labels in declaration order.
func (w WeightedAggregate) Weights() []Weight {
	res := make([]Weight, len(w))
	for i, ws := range w {
		res[i] = ws.Weight
	}
	return res
}

func (w WeightedAggregate) String() string {
	parts := make([]string, len(w))
	for i, ws := range w {
		parts[i] = ws.Weight.String() + ":" + ws.Source.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// FirstOf yields the first non-nil value.
type FirstOf []Expr

func (f FirstOf) Eval(obj Object) (any, error) {
	for _, src := range f {
		v, err := src.Eval(obj)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func (f FirstOf) String() string {
	parts := make([]string, len(f))
	for i, src := range f {
		parts[i] = src.String()
	}
	return "firstof(" + strings.Join(parts, ", ") + ")"
}

// Parse builds an expression from its compact notation.
//
//	"a.b.c"  -> Path{Via: a, Get: Path{Via: b, Get: c}}
//	"name()" -> Method("name")
//	"name"   -> Attribute("name")
func Parse(spec string) Expr {
	spec = strings.Trim(spec, ".")
	if head, tail, ok := strings.Cut(spec, "."); ok {
		return Path{Via: Parse(head), Get: Parse(tail)}
	}
	if name, ok := strings.CutSuffix(spec, "()"); ok {
		return Method(name)
	}
	return Attribute(spec)
}

// ParseAll parses several specs into an Aggregate.
func ParseAll(specs ...string) Aggregate {
	res := make(Aggregate, len(specs))
	for i, s := range specs {
		res[i] = Parse(s)
	}
	return res
}
