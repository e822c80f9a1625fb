package coerce

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// ============================================================================
// SAFE COERCION HELPERS
// Host values handed to builders (and read back from them) arrive as `any`.
// These helpers convert them without panicking and return a clear error when
// the conversion makes no sense.
// ============================================================================

// Number reports the float64 value of any Go numeric type. Strings and other
// types are not numbers here; JS-style string conversion lives in the engine.
func Number(input any) (float64, bool) {
	switch v := input.(type) {
	case float64:
		return v, true
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToFloat64(v), true
	}
	return 0, false
}

// ToString converts input to a string. Nil becomes "".
func ToString(input any) string {
	if input == nil {
		return ""
	}
	s, err := cast.ToStringE(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return s
}

// ToInt accepts numeric strings ("123") and whole floats (123.0).
func ToInt(input any) (int, error) {
	if input == nil {
		return 0, nil
	}
	if f, ok := input.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f)) {
		return 0, fmt.Errorf("failed to coerce value '%v' (type %T) to int", input, input)
	}
	i, err := cast.ToIntE(input)
	if err != nil {
		return 0, fmt.Errorf("failed to coerce value '%v' (type %T) to int", input, input)
	}
	return i, nil
}

func ToFloat64(input any) (float64, error) {
	if input == nil {
		return 0.0, nil
	}
	f, err := cast.ToFloat64E(input)
	if err != nil {
		return 0.0, fmt.Errorf("failed to coerce value '%v' (type %T) to float64", input, input)
	}
	return f, nil
}

// ToBool understands true/false, 1/0 and "true"/"false".
func ToBool(input any) (bool, error) {
	if input == nil {
		return false, nil
	}
	b, err := cast.ToBoolE(input)
	if err != nil {
		return false, fmt.Errorf("failed to coerce value '%v' (type %T) to bool", input, input)
	}
	return b, nil
}

// ToMap converts input to map[string]any. Nil stays nil.
func ToMap(input any) (map[string]any, error) {
	if input == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapE(input)
	if err != nil {
		return nil, fmt.Errorf("failed to coerce value (type %T) to map", input)
	}
	return m, nil
}

func ToSlice(input any) ([]any, error) {
	if input == nil {
		return nil, nil
	}
	s, err := cast.ToSliceE(input)
	if err != nil {
		return nil, fmt.Errorf("failed to coerce value (type %T) to slice", input)
	}
	return s, nil
}

// ToStringSlice is used for option lists such as CORS origins.
func ToStringSlice(input any) []string {
	if input == nil {
		return nil
	}
	return cast.ToStringSlice(input)
}

// ToIntDef returns defaultVal when input cannot be converted.
func ToIntDef(input any, defaultVal int) int {
	val, err := ToInt(input)
	if err != nil {
		return defaultVal
	}
	return val
}

// ToStringDef returns defaultVal for nil or empty input.
func ToStringDef(input any, defaultVal string) string {
	if s := ToString(input); s != "" {
		return s
	}
	return defaultVal
}
