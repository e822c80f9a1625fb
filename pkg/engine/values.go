package engine

import (
	"math"
	"reflect"

	"wfscript/pkg/utils/coerce"
)

type undefinedType struct{}

func (undefinedType) String() string { return "undefined" }

// MarshalJSON lets undefined values that slip into host data encode as null.
func (undefinedType) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Undefined is the interpreter's rendition of JavaScript's undefined. JS null
// is a plain Go nil.
var Undefined = undefinedType{}

// IsUndefined reports whether v is Undefined.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

// Function is a host callable exposed to interpreted code.
type Function func(args ...any) (any, error)

// FunctionTable is the builder vocabulary supplied per interpretation.
type FunctionTable map[string]Function

// Names returns the table's keys.
func (t FunctionTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	return names
}

// Chainable is implemented by builder values that expose methods such as
// `.add(...)` or `.to(...)`. Only names allowed by the policy ever reach
// CallMethod.
type Chainable interface {
	CallMethod(name string, args []any) (any, error)
}

// PropertyGetter is implemented by builder values with readable properties.
type PropertyGetter interface {
	GetProperty(name string) (any, bool)
}

// normalize turns host numbers into float64 so operators see one number type.
func normalize(v any) any {
	if f, ok := coerce.Number(v); ok {
		return f
	}
	return v
}

func isNullish(v any) bool {
	return v == nil || IsUndefined(v)
}

func isCallable(v any) bool {
	switch v.(type) {
	case Function, func(...any) (any, error):
		return true
	}
	return false
}

func asFunction(v any) (Function, bool) {
	switch f := v.(type) {
	case Function:
		return f, f != nil
	case func(...any) (any, error):
		return Function(f), f != nil
	}
	return nil, false
}

// typeOf implements the typeof operator.
func typeOf(v any) string {
	v = normalize(v)
	switch v.(type) {
	case undefinedType:
		return "undefined"
	case nil:
		return "object"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	}
	if isCallable(v) {
		return "function"
	}
	return "object"
}

// sameReference compares reference-typed host values by identity.
func sameReference(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != vb.Kind() || va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

func isNaN(v any) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}
