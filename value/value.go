// Package value provides a dynamically typed value tree used to represent
// resolved flag values and evaluation-context attributes without coupling
// the resolver host to any particular wire schema.
//
// The guest module's response and the caller's evaluation context both carry
// values of one of six kinds: null, bool, number, string, list, or map. This
// package models that as a tagged union (Kind + single populated field)
// rather than an interface{}, so callers get compile-time-checked
// constructors and a single place (Kind) to switch on.
package value

import "fmt"

// Kind identifies which field of a Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over {null, bool, number, string, list, map}.
//
// Zero value is KindNull. Values are immutable once constructed; List and
// Map return defensive copies is unnecessary here since construction always
// takes ownership of the slice/map passed in — callers should not mutate
// arguments after handing them to NewList/NewMap.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// NewBool wraps a bool.
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewNumber wraps a float64. Whole-number floats round-trip through Int64()
// unchanged, matching the source provider's coercion behavior.
func NewNumber(n float64) Value { return Value{kind: KindNumber, n: n} }

// NewString wraps a string.
func NewString(s string) Value { return Value{kind: KindString, s: s} }

// NewList wraps a slice of Values.
func NewList(items []Value) Value { return Value{kind: KindList, list: items} }

// NewMap wraps a string-keyed map of Values.
func NewMap(fields map[string]Value) Value { return Value{kind: KindMap, m: fields} }

// Kind reports which variant is populated.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// TypeMismatchError is returned by the typed accessors (Bool, Float64, Int64,
// String, List, Map) when the value's Kind does not match the accessor called.
type TypeMismatchError struct {
	Wanted Kind
	Got    Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("value: type mismatch: wanted %s, got %s", e.Wanted, e.Got)
}

// Bool returns the wrapped bool, or a *TypeMismatchError if v is not a bool.
func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, &TypeMismatchError{Wanted: KindBool, Got: v.kind}
	}
	return v.b, nil
}

// Float64 returns the wrapped number as a float64, or a *TypeMismatchError if
// v is not a number.
func (v Value) Float64() (float64, error) {
	if v.kind != KindNumber {
		return 0, &TypeMismatchError{Wanted: KindNumber, Got: v.kind}
	}
	return v.n, nil
}

// Int64 returns the wrapped number truncated to int64, or a *TypeMismatchError
// if v is not a number. Use Float64 when strict fidelity for non-whole
// numbers matters; Int64 coerces the way the source provider's flag
// accessors do.
func (v Value) Int64() (int64, error) {
	n, err := v.Float64()
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// IsWholeNumber reports whether v is a number with no fractional part.
// Int64 does not consult it: Int64 truncates any number.
func (v Value) IsWholeNumber() bool {
	return v.kind == KindNumber && v.n == float64(int64(v.n))
}

// String returns the wrapped string, or a *TypeMismatchError if v is not a
// string.
func (v Value) String() (string, error) {
	if v.kind != KindString {
		return "", &TypeMismatchError{Wanted: KindString, Got: v.kind}
	}
	return v.s, nil
}

// List returns the wrapped slice, or a *TypeMismatchError if v is not a list.
func (v Value) List() ([]Value, error) {
	if v.kind != KindList {
		return nil, &TypeMismatchError{Wanted: KindList, Got: v.kind}
	}
	return v.list, nil
}

// Map returns the wrapped map, or a *TypeMismatchError if v is not a map.
func (v Value) Map() (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, &TypeMismatchError{Wanted: KindMap, Got: v.kind}
	}
	return v.m, nil
}

// PathError is returned by Navigate when a path segment does not exist
// within a map-kind Value, or is applied to a non-map Value.
type PathError struct {
	Path    []string
	Segment string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("value: path %v: segment %q not found", e.Path, e.Segment)
}

// Navigate descends into v following path, one map lookup per segment.
// An empty path returns v unchanged. Returns a *PathError if any segment is
// missing or the value at that point is not a map.
func Navigate(v Value, path []string) (Value, error) {
	current := v
	for i, seg := range path {
		m, err := current.Map()
		if err != nil {
			return Value{}, &PathError{Path: path[:i+1], Segment: seg}
		}
		next, ok := m[seg]
		if !ok {
			return Value{}, &PathError{Path: path[:i+1], Segment: seg}
		}
		current = next
	}
	return current, nil
}
