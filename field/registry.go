package field

import "fmt"

// Names of the fields every registry must define.
const (
	ClassName = "classname"
	ID        = "id"
)

// Registry is the ordered, immutable set of fields of an index.
type Registry struct {
	fields  []Field
	byName  map[string]Field
	primary Field
}

// NewRegistry validates and indexes fields. Names and derived columns
// must be unique, at most one full-text field may be primary, and the
// "classname" class field and the "id" integer field must be present.
func NewRegistry(fields ...Field) (*Registry, error) {
	r := &Registry{
		fields: fields,
		byName: make(map[string]Field, len(fields)),
	}

	columns := make(map[string]string)
	for _, f := range fields {
		if f == nil || f.Name() == "" {
			return nil, Configf("field without a name")
		}
		if _, dup := r.byName[f.Name()]; dup {
			return nil, Configf("duplicate field %q", f.Name())
		}
		r.byName[f.Name()] = f

		for _, col := range f.Columns() {
			if other, dup := columns[col]; dup && other != f.Name() {
				return nil, Configf("column %q of field %q collides with field %q", col, f.Name(), other)
			}
			columns[col] = f.Name()
		}

		if f.Primary() {
			if r.primary != nil {
				return nil, Configf("fields %q and %q are both primary", r.primary.Name(), f.Name())
			}
			r.primary = f
		}
	}

	if f, ok := r.byName[ClassName]; !ok || f.Kind() != KindClass {
		return nil, Configf("a class field named %q is required", ClassName)
	}
	if f, ok := r.byName[ID]; !ok || (f.Kind() != KindInt && f.Kind() != KindLongInt) {
		return nil, Configf("an integer field named %q is required", ID)
	}

	return r, nil
}

// Field returns the field named name.
func (r *Registry) Field(name string) (Field, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// Lookup resolves several names, in order.
func (r *Registry) Lookup(names ...string) ([]Field, error) {
	res := make([]Field, 0, len(names))
	for _, name := range names {
		f, err := r.Field(name)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

// Fields returns every field in declaration order.
func (r *Registry) Fields() []Field { return r.fields }

// Primary returns the primary full-text field, or nil.
func (r *Registry) Primary() Field { return r.primary }

// Class returns the discriminant field.
func (r *Registry) Class() Field { return r.byName[ClassName] }

// ID returns the identifier field.
func (r *Registry) ID() Field { return r.byName[ID] }
