package source

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Loader for objects that no longer exist.
var ErrNotFound = errors.New("object not found")

// ErrNotTraversable is returned when a Path step does not resolve to an
// object, a list of objects or a Relation.
var ErrNotTraversable = errors.New("source: value is not traversable")

// Object is the minimal capability every indexable object exposes.
type Object interface {
	// ClassName returns the logical type name of the object.
	ClassName() string
	// ID returns the primary key of the object in the host store.
	ID() int64
	// Attr returns a named attribute. ok=false if the attribute is unknown.
	Attr(name string) (value any, ok bool)
}

// MethodCaller is implemented by objects exposing zero-argument methods.
type MethodCaller interface {
	CallMethod(name string) (value any, ok bool)
}

// Proxy is implemented by wrapper objects that stand in for another type.
type Proxy interface {
	// ConcreteClassName returns the class name of the proxied type.
	ConcreteClassName() string
}

// Relation is a lazily loaded to-many relation.
type Relation interface {
	All() ([]Object, error)
}

// Related is implemented by objects whose indexed content depends on them.
// Every returned item is either an Object or a Ref and is scheduled for
// asynchronous reindexing when the object itself is indexed.
type Related interface {
	RelatedForIndexation() []any
}

// Ref identifies an indexed record.
type Ref struct {
	ClassName string `json:"classname"`
	ID        int64  `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.ClassName, r.ID)
}

// RefOf returns the reference of an object.
func RefOf(obj Object) Ref {
	return Ref{ClassName: obj.ClassName(), ID: obj.ID()}
}

// Loader fetches live objects from the primary store.
type Loader interface {
	// Load returns the object behind ref, or an error wrapping ErrNotFound.
	Load(ctx context.Context, ref Ref) (Object, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref Ref) (Object, error)

func (f LoaderFunc) Load(ctx context.Context, ref Ref) (Object, error) { return f(ctx, ref) }
