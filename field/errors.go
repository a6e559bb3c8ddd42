package field

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the sentinel for malformed field or type map
	// definitions detected at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedOperator is returned when a field kind does not
	// implement an operator.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrMalformedOperand is returned when an operand has the wrong shape
	// for its operator.
	ErrMalformedOperand = errors.New("malformed operand")

	// ErrUnknownField is returned when a predicate or an order term names a
	// field that is not registered.
	ErrUnknownField = errors.New("unknown field")
)

// ConfigurationError describes an invalid definition.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Configf returns a ConfigurationError with a formatted reason.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedOperatorError reports an operator a field does not implement.
type UnsupportedOperatorError struct {
	Field string
	Op    Op
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator: %s__%s", e.Field, e.Op)
}

func (e *UnsupportedOperatorError) Unwrap() error { return ErrUnsupportedOperator }

// MalformedOperandError reports an operand with a wrong arity or type.
type MalformedOperandError struct {
	Field  string
	Op     Op
	Reason string
}

func (e *MalformedOperandError) Error() string {
	return fmt.Sprintf("malformed operand for %s__%s: %s", e.Field, e.Op, e.Reason)
}

func (e *MalformedOperandError) Unwrap() error { return ErrMalformedOperand }
