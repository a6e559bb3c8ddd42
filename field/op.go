package field

// Op is a predicate operator, written as the suffix of a predicate key
// ("title__containswords").
type Op string

const (
	OpDefault       Op = "default"
	OpLT            Op = "lt"
	OpLTE           Op = "lte"
	OpGT            Op = "gt"
	OpGTE           Op = "gte"
	OpRange         Op = "range"
	OpIn            Op = "in"
	OpAll           Op = "all"
	OpAny           Op = "any"
	OpContainsWords Op = "containswords"
	OpContainsExact Op = "containsexact"
	OpMatches       Op = "matches"
	OpLike          Op = "like"
)

var knownOps = map[Op]struct{}{
	OpDefault: {}, OpLT: {}, OpLTE: {}, OpGT: {}, OpGTE: {}, OpRange: {},
	OpIn: {}, OpAll: {}, OpAny: {}, OpContainsWords: {}, OpContainsExact: {},
	OpMatches: {}, OpLike: {},
}

// Known reports whether op is a valid operator name.
func (op Op) Known() bool {
	_, ok := knownOps[op]
	return ok
}

func (op Op) String() string { return string(op) }

// Kind identifies a field type.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindLongInt
	KindClass
	KindDate
	KindDateTime
	KindIntArray
	KindFullText
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindLongInt:
		return "longint"
	case KindClass:
		return "class"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindIntArray:
		return "intarray"
	case KindFullText:
		return "fulltext"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "string", "str":
		return KindString, true
	case "int", "integer":
		return KindInt, true
	case "longint", "bigint":
		return KindLongInt, true
	case "class":
		return KindClass, true
	case "date":
		return KindDate, true
	case "datetime", "timestamp":
		return KindDateTime, true
	case "intarray":
		return KindIntArray, true
	case "fulltext":
		return KindFullText, true
	}
	return 0, false
}
