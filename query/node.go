// Package query compiles predicate trees and order specifications into
// SQL against the index tables.
package query

import (
	"fmt"
	"strings"

	"github.com/hupe1980/tsearch/field"
)

// Node is a predicate tree node: a Leaf, a Bool or a Negation.
type Node interface {
	String() string
	node()
}

// Leaf constrains one field. Key is "field" or "field__operator".
type Leaf struct {
	Key   string
	Value any
}

// Q returns a leaf.
func Q(key string, value any) Leaf { return Leaf{Key: key, Value: value} }

// Split returns the field name and the operator of the leaf.
func (l Leaf) Split() (name string, op field.Op) {
	if name, suffix, ok := strings.Cut(l.Key, "__"); ok {
		return name, field.Op(suffix)
	}
	return l.Key, field.OpDefault
}

func (l Leaf) String() string { return fmt.Sprintf("%s=%v", l.Key, l.Value) }

func (Leaf) node() {}

// Connector joins the children of a Bool node.
type Connector string

const (
	AND Connector = "AND"
	OR  Connector = "OR"
)

// Bool combines children with a connector.
type Bool struct {
	Connector Connector
	Children  []Node
}

// And returns the conjunction of nodes.
func And(nodes ...Node) Bool { return Bool{Connector: AND, Children: nodes} }

// Or returns the disjunction of nodes.
func Or(nodes ...Node) Bool { return Bool{Connector: OR, Children: nodes} }

func (b Bool) String() string {
	parts := make([]string, len(b.Children))
	for i, c := range b.Children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " "+string(b.Connector)+" ") + ")"
}

func (Bool) node() {}

// Negation negates its child.
type Negation struct {
	Child Node
}

// Not negates a node.
func Not(n Node) Negation { return Negation{Child: n} }

func (n Negation) String() string { return "NOT " + n.Child.String() }

func (Negation) node() {}

// findLeaf returns the first leaf constraining name that is reachable from
// n through AND nodes only.
func findLeaf(n Node, name string) (Leaf, bool) {
	switch x := n.(type) {
	case Leaf:
		if f, _ := x.Split(); f == name {
			return x, true
		}
	case Bool:
		if x.Connector != AND {
			return Leaf{}, false
		}
		for _, c := range x.Children {
			if l, ok := findLeaf(c, name); ok {
				return l, true
			}
		}
	}
	return Leaf{}, false
}

// Relevance is the pseudo-field ordering by full-text rank.
const Relevance = "relevance"

// Term is one order term.
type Term struct {
	Field string
	Desc  bool
}

func (t Term) String() string {
	if t.Desc {
		return "-" + t.Field
	}
	return t.Field
}

// ParseOrder parses order terms. A leading "-" means descending. Terms may
// also be given as one comma separated string.
func ParseOrder(specs ...string) []Term {
	var res []Term
	for _, spec := range specs {
		for _, s := range strings.Split(spec, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if name, ok := strings.CutPrefix(s, "-"); ok {
				res = append(res, Term{Field: name, Desc: true})
				continue
			}
			res = append(res, Term{Field: s})
		}
	}
	return res
}
