package typemap

// Tree is a Hierarchy built from (class, parent) pairs.
type Tree struct {
	children map[string][]string
}

// NewTree returns an empty hierarchy.
func NewTree() *Tree {
	return &Tree{children: make(map[string][]string)}
}

// Add declares class as a direct subclass of parent. An empty parent
// declares a root.
func (t *Tree) Add(class, parent string) *Tree {
	if parent != "" {
		t.children[parent] = append(t.children[parent], class)
	}
	return t
}

func (t *Tree) Subclasses(class string) []string { return t.children[class] }
