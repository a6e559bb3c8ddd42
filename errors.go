package tsearch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqldb"
)

var (
	// ErrObjectNotFound is returned when the object behind a result row no
	// longer exists in the primary store.
	ErrObjectNotFound = source.ErrNotFound

	// ErrConfiguration marks malformed field or type map definitions.
	ErrConfiguration = field.ErrConfiguration

	// ErrUnsupportedOperator is returned when a predicate uses an operator
	// its field kind does not implement.
	ErrUnsupportedOperator = field.ErrUnsupportedOperator

	// ErrMalformedOperand is returned for operands of the wrong shape.
	ErrMalformedOperand = field.ErrMalformedOperand

	// ErrUnknownField is returned for predicates naming unregistered fields.
	ErrUnknownField = field.ErrUnknownField

	// ErrTransientStorage marks storage failures that may succeed on retry.
	ErrTransientStorage = sqldb.ErrTransientStorage

	// ErrNoIdentity is returned for objects without a classname or an id.
	ErrNoIdentity = indexer.ErrNoIdentity

	// ErrIndexOutOfRange is returned by ResultSet accessors.
	ErrIndexOutOfRange = errors.New("result index out of range")
)

type (
	// ConfigurationError describes an invalid definition.
	ConfigurationError = field.ConfigurationError
	// UnsupportedOperatorError names the field and the rejected operator.
	UnsupportedOperatorError = field.UnsupportedOperatorError
	// MalformedOperandError names the field, the operator and the problem.
	MalformedOperandError = field.MalformedOperandError
	// RetryError is returned once every transactional attempt failed.
	RetryError = sqldb.RetryError
)

// ErrOutOfRange reports an invalid ResultSet position.
type ErrOutOfRange struct {
	Index int
	Len   int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("index %d out of range [0:%d]", e.Index, e.Len)
}

func (e *ErrOutOfRange) Unwrap() error { return ErrIndexOutOfRange }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Compile-time failures keep their identity and are never retried.
	if errors.Is(err, ErrUnsupportedOperator) || errors.Is(err, ErrMalformedOperand) ||
		errors.Is(err, ErrUnknownField) || errors.Is(err, ErrConfiguration) {
		return err
	}

	// Storage errors of the query path are not wrapped by a retry loop;
	// give them the same identity the write path does.
	if !errors.Is(err, ErrTransientStorage) && sqldb.IsTransient(err) {
		return sqldb.Transient(err)
	}
	return err
}
