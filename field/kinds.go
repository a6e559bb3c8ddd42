package field

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqlast"
)

const (
	// DateLayout is the canonical format of date values.
	DateLayout = "2006-01-02"
	// DateTimeLayout is the canonical format of date-time values.
	DateTimeLayout = "2006-01-02 15:04:05 -0700"
)

// IntField is an integer column, "integer" or "bigint".
type IntField struct{ base }

// NewInt returns an integer field.
func NewInt(name string, opts ...Option) *IntField {
	o := newOptions(name, opts)
	return &IntField{newBase(name, KindInt, "integer", o, marshalInt)}
}

// NewLongInt returns a bigint field.
func NewLongInt(name string, opts ...Option) *IntField {
	o := newOptions(name, opts)
	return &IntField{newBase(name, KindLongInt, "bigint", o, marshalInt)}
}

func (f *IntField) Predicate(op Op, v any) (sqlast.Fragment, error) {
	return f.ordered(op, v)
}

// ordered implements the operators of the comparable kinds.
func (b *base) ordered(op Op, v any) (sqlast.Fragment, error) {
	switch op {
	case OpDefault:
		return b.equals(op, v)
	case OpIn:
		return b.in(op, v)
	case OpLT, OpLTE, OpGT, OpGTE:
		return b.compare(op, v)
	case OpRange:
		return b.between(op, v)
	default:
		return sqlast.Fragment{}, b.unsupported(op)
	}
}

func marshalInt(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("not an integer: %T", v)
	}
}

// StringField is a fixed-width string column.
type StringField struct{ base }

// NewString returns a varchar field. The size defaults to 255.
func NewString(name string, opts ...Option) *StringField {
	o := newOptions(name, opts)
	return &StringField{newBase(name, KindString, fmt.Sprintf("varchar(%d)", o.size), o, marshalString)}
}

func (f *StringField) Predicate(op Op, v any) (sqlast.Fragment, error) {
	switch op {
	case OpDefault:
		return f.equals(op, v)
	case OpIn:
		return f.in(op, v)
	default:
		return sqlast.Fragment{}, f.unsupported(op)
	}
}

func marshalString(v any) (any, error) {
	s := source.Collapse(v)
	if s == "" {
		return nil, nil
	}
	return s, nil
}

// ClassField stores the class name of the object. It is the discriminant
// used to route queries to tables.
type ClassField struct{ base }

// NewClass returns a class field. Its source is always the object's class.
func NewClass(name string, opts ...Option) *ClassField {
	o := newOptions(name, opts)
	o.source = source.Class{DereferenceProxy: o.derefProxy}
	return &ClassField{newBase(name, KindClass, "varchar(255)", o, marshalClass)}
}

func (f *ClassField) Predicate(op Op, v any) (sqlast.Fragment, error) {
	switch op {
	case OpDefault:
		return f.equals(op, v)
	case OpIn:
		return f.in(op, v)
	default:
		return sqlast.Fragment{}, f.unsupported(op)
	}
}

func marshalClass(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case source.Object:
		return x.ClassName(), nil
	case string:
		if x == "" {
			return nil, nil
		}
		return x, nil
	default:
		return nil, fmt.Errorf("not a class: %T", v)
	}
}

// DateField is a date column. It supports the operators of IntField.
type DateField struct{ base }

// NewDate returns a date field.
func NewDate(name string, opts ...Option) *DateField {
	o := newOptions(name, opts)
	return &DateField{newBase(name, KindDate, "date", o, timeMarshaler(DateLayout))}
}

func (f *DateField) Predicate(op Op, v any) (sqlast.Fragment, error) {
	return f.ordered(op, v)
}

// DateTimeField is a timestamp column.
type DateTimeField struct{ base }

// NewDateTime returns a timestamp field.
func NewDateTime(name string, opts ...Option) *DateTimeField {
	o := newOptions(name, opts)
	return &DateTimeField{newBase(name, KindDateTime, "timestamp", o, timeMarshaler(DateTimeLayout))}
}

func (f *DateTimeField) Predicate(op Op, v any) (sqlast.Fragment, error) {
	return f.ordered(op, v)
}

func timeMarshaler(layout string) func(any) (any, error) {
	return func(v any) (any, error) {
		switch x := v.(type) {
		case nil:
			return nil, nil
		case time.Time:
			if x.IsZero() {
				return nil, nil
			}
			return x.Format(layout), nil
		case *time.Time:
			if x == nil || x.IsZero() {
				return nil, nil
			}
			return x.Format(layout), nil
		case string:
			if x == "" {
				return nil, nil
			}
			return x, nil
		default:
			return nil, fmt.Errorf("not a date: %T", v)
		}
	}
}

// IntArrayField stores a multi-valued relation as an integer array.
type IntArrayField struct{ base }

// NewIntArray returns an integer array field indexed with GIN.
func NewIntArray(name string, opts ...Option) *IntArrayField {
	o := newOptions(name, opts)
	if o.indexMethod == "" {
		o.indexMethod = "GIN"
	}
	return &IntArrayField{newBase(name, KindIntArray, "integer[]", o, marshalIntArray)}
}

func (f *IntArrayField) Predicate(op Op, v any) (sqlast.Fragment, error) {
	switch op {
	case OpDefault:
		return f.contains(op, "@>", []any{v})
	case OpAll, OpAny:
		items, ok := asList(v)
		if !ok {
			return sqlast.Fragment{}, f.malformed(op, "requires a list, got %T", v)
		}
		sym := "@>"
		if op == OpAny {
			sym = "&&"
		}
		return f.contains(op, sym, items)
	default:
		return sqlast.Fragment{}, f.unsupported(op)
	}
}

func (f *IntArrayField) contains(op Op, sym string, items []any) (sqlast.Fragment, error) {
	m, err := f.operand(op, items)
	if err != nil {
		return sqlast.Fragment{}, err
	}
	return sqlast.New(f.indexColumn+" "+sym+" ?", m), nil
}

func marshalIntArray(v any) (any, error) {
	if v == nil || v == "" {
		return nil, nil
	}
	items, ok := asList(v)
	if !ok {
		items = []any{v}
	}
	if len(items) == 0 {
		return nil, nil
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if o, ok := item.(source.Object); ok {
			item = o.ID()
		}
		n, err := marshalInt(item)
		if err != nil {
			return nil, err
		}
		if n == nil || n.(int64) == 0 {
			continue
		}
		parts = append(parts, strconv.FormatInt(n.(int64), 10))
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}
