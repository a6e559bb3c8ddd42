// Package typemap routes classes to the physical tables of the index.
package typemap

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tsearch/field"
)

// Hierarchy exposes the direct subclasses of a class.
type Hierarchy interface {
	Subclasses(class string) []string
}

// Rule maps a class, and unless NoRecurse all of its subclasses, to a
// table. An empty table keeps the classes out of the index.
type Rule struct {
	Class     string
	Table     string
	NoRecurse bool
}

type claim struct {
	table string
	depth int
	rule  int
}

// TypeMap is the immutable class <-> table mapping.
//
// Each class resolves through the rule that reaches it at the smallest
// subclass depth, ties broken by rule order. A rule naming a class
// therefore always wins over a broader rule naming one of its ancestors,
// and between rules at equal distance the first one wins.
type TypeMap struct {
	names   []string
	ids     map[string]uint32
	claims  []claim
	tables  []string
	byTable map[string]*roaring.Bitmap
}

// New expands rules over the hierarchy. h may be nil when no class has
// subclasses.
func New(h Hierarchy, rules ...Rule) (*TypeMap, error) {
	tm := &TypeMap{
		ids:     make(map[string]uint32),
		byTable: make(map[string]*roaring.Bitmap),
	}

	for i, r := range rules {
		if r.Class == "" {
			return nil, field.Configf("type map rule %d has no class", i)
		}
		for _, step := range expand(h, r) {
			id := tm.intern(step.class)
			c := claim{table: r.Table, depth: step.depth, rule: i}
			cur := tm.claims[id]
			if cur.rule < 0 || c.depth < cur.depth {
				tm.claims[id] = c
			}
		}
	}

	for id, c := range tm.claims {
		if c.table == "" {
			continue
		}
		bm, ok := tm.byTable[c.table]
		if !ok {
			bm = roaring.New()
			tm.byTable[c.table] = bm
			tm.tables = append(tm.tables, c.table)
		}
		bm.Add(uint32(id))
	}
	return tm, nil
}

func (tm *TypeMap) intern(class string) uint32 {
	if id, ok := tm.ids[class]; ok {
		return id
	}
	id := uint32(len(tm.names))
	tm.ids[class] = id
	tm.names = append(tm.names, class)
	tm.claims = append(tm.claims, claim{rule: -1})
	return id
}

type step struct {
	class string
	depth int
}

// expand walks the subclass closure of a rule breadth-first. Every class
// is visited once, so cycles in the hierarchy terminate.
func expand(h Hierarchy, r Rule) []step {
	res := []step{{class: r.Class}}
	if r.NoRecurse || h == nil {
		return res
	}
	visited := map[string]struct{}{r.Class: {}}
	for i := 0; i < len(res); i++ {
		cur := res[i]
		for _, sub := range h.Subclasses(cur.class) {
			if _, ok := visited[sub]; ok {
				continue
			}
			visited[sub] = struct{}{}
			res = append(res, step{class: sub, depth: cur.depth + 1})
		}
	}
	return res
}

// TableFor returns the table of a class. ok is false when the class is
// unknown or excluded from the index.
func (tm *TypeMap) TableFor(class string) (table string, ok bool) {
	id, known := tm.ids[class]
	if !known {
		return "", false
	}
	t := tm.claims[id].table
	return t, t != ""
}

// ClassesFor returns the classes stored in table.
func (tm *TypeMap) ClassesFor(table string) []string {
	bm, ok := tm.byTable[table]
	if !ok {
		return nil
	}
	res := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		res = append(res, tm.names[it.Next()])
	}
	return res
}

// ClassSet returns the class ids stored in table. The bitmap must not be
// modified.
func (tm *TypeMap) ClassSet(table string) *roaring.Bitmap {
	if bm, ok := tm.byTable[table]; ok {
		return bm
	}
	return roaring.New()
}

// TablesFor returns the distinct tables of classes, sorted. ok is false
// if any class has no table.
func (tm *TypeMap) TablesFor(classes []string) (tables []string, ok bool) {
	seen := make(map[string]struct{}, 1)
	ok = true
	for _, c := range classes {
		t, found := tm.TableFor(c)
		if !found {
			ok = false
			continue
		}
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			tables = append(tables, t)
		}
	}
	sort.Strings(tables)
	return tables, ok
}

// AllTables returns every non-empty table in rule order.
func (tm *TypeMap) AllTables() []string { return tm.tables }

// AllClassNames returns every indexable class.
func (tm *TypeMap) AllClassNames() []string {
	res := make([]string, 0, len(tm.names))
	for id, name := range tm.names {
		if tm.claims[id].table != "" {
			res = append(res, name)
		}
	}
	return res
}
