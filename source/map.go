package source

// Map is an Object backed by plain maps. It is used by the SQL object
// store adapter and by tests.
type Map struct {
	Class   string
	Key     int64
	Values  map[string]any
	Methods map[string]func() any
	// ProxyFor, if set, is reported as the concrete class name.
	ProxyFor string
	// Dependents are returned by RelatedForIndexation.
	Dependents []any
}

var (
	_ Object       = (*Map)(nil)
	_ MethodCaller = (*Map)(nil)
	_ Proxy        = (*Map)(nil)
	_ Related      = (*Map)(nil)
)

func (m *Map) ClassName() string { return m.Class }

func (m *Map) ID() int64 { return m.Key }

func (m *Map) Attr(name string) (any, bool) {
	switch name {
	case "id":
		if _, ok := m.Values[name]; !ok {
			return m.Key, true
		}
	}
	v, ok := m.Values[name]
	return v, ok
}

func (m *Map) CallMethod(name string) (any, bool) {
	fn, ok := m.Methods[name]
	if !ok {
		return nil, false
	}
	return fn(), true
}

func (m *Map) ConcreteClassName() string { return m.ProxyFor }

func (m *Map) RelatedForIndexation() []any { return m.Dependents }

// Objects is a ready-made Relation over a fixed slice.
type Objects []Object

func (o Objects) All() ([]Object, error) { return o, nil }
