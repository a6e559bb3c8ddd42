// Package field defines the typed columns of the search index.
//
// A Field knows how to declare its columns, how to index them, how to
// marshal an object's value into a bindable SQL literal and how to turn an
// operator applied to an operand into a SQL predicate. Operators a field
// kind does not implement return an UnsupportedOperatorError.
package field
