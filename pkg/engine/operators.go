package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dop251/goja/token"
)

// formatNumber renders a float64 the way JavaScript's Number#toString does.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}
	// shortest round-trip digits as d.ddde±x
	e := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(e, "e")
	digits := strings.Replace(mant, ".", "", 1)
	exp, _ := strconv.Atoi(expPart)
	k, n := len(digits), exp+1

	var out string
	switch {
	case k <= n && n <= 21:
		out = digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		out = digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		out = "0." + strings.Repeat("0", -n) + digits
	default:
		expSign := "+"
		if n-1 < 0 {
			expSign = "-"
		}
		exp := n - 1
		if exp < 0 {
			exp = -exp
		}
		if k == 1 {
			out = digits + "e" + expSign + strconv.Itoa(exp)
		} else {
			out = digits[:1] + "." + digits[1:] + "e" + expSign + strconv.Itoa(exp)
		}
	}
	return sign + out
}

func toNumber(v any) float64 {
	v = normalize(v)
	switch x := v.(type) {
	case undefinedType:
		return math.NaN()
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case string:
		return stringToNumber(x)
	}
	return stringToNumber(toString(v))
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && c != '.' && c != 'e' && c != 'E' && c != '+' && c != '-' {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func toString(v any) string {
	v = normalize(v)
	switch x := v.(type) {
	case undefinedType:
		return "undefined"
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNumber(x)
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, el := range x {
			if !isNullish(el) {
				parts[i] = toString(el)
			}
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	case fmt.Stringer:
		return x.String()
	}
	if isCallable(v) {
		return "function () { [native code] }"
	}
	return "[object Object]"
}

var errStringLength = errors.New("invalid string length")

// stringLength returns len(toString(v)) without building the string, or -1
// once it exceeds budget.
func stringLength(v any, budget int) int {
	n := 0
	switch x := normalize(v).(type) {
	case string:
		n = len(x)
	case []any:
		for i, el := range x {
			if i > 0 {
				n++
			}
			if !isNullish(el) {
				m := stringLength(el, budget-n)
				if m < 0 {
					return -1
				}
				n += m
			}
			if n > budget {
				return -1
			}
		}
	default:
		n = len(toString(x))
	}
	if n > budget {
		return -1
	}
	return n
}

// boundedString is toString limited to maxStringLength.
func boundedString(v any) (string, error) {
	if stringLength(v, maxStringLength) < 0 {
		return "", errStringLength
	}
	return toString(v), nil
}

// checkOperands rejects arrays whose string form would exceed
// maxStringLength before an operator converts them.
func checkOperands(vals ...any) error {
	for _, v := range vals {
		if _, isArray := v.([]any); isArray && stringLength(v, maxStringLength) < 0 {
			return errStringLength
		}
	}
	return nil
}

func toBoolean(v any) bool {
	v = normalize(v)
	switch x := v.(type) {
	case undefinedType, nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case undefinedType, nil, bool, float64, string:
		return true
	}
	return false
}

func toPrimitive(v any) any {
	v = normalize(v)
	if isPrimitive(v) {
		return v
	}
	return toString(v)
}

func toInt32(v any) int32 {
	return int32(toUint32(v))
}

func toUint32(v any) uint32 {
	f := toNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}

func strictEquals(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case undefinedType:
		return IsUndefined(b)
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	if b == nil || isPrimitive(b) {
		return false
	}
	return sameReference(a, b)
}

func looseEquals(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if typeOf(a) == typeOf(b) {
		return strictEquals(a, b)
	}
	switch {
	case isBool(a):
		return looseEquals(toNumber(a), b)
	case isBool(b):
		return looseEquals(a, toNumber(b))
	case isNumber(a) && isString(b):
		return a.(float64) == toNumber(b)
	case isString(a) && isNumber(b):
		return toNumber(a) == b.(float64)
	case !isPrimitive(a) && isPrimitive(b):
		return looseEquals(toPrimitive(a), b)
	case isPrimitive(a) && !isPrimitive(b):
		return looseEquals(a, toPrimitive(b))
	}
	return false
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isNumber(v any) bool {
	_, ok := v.(float64)
	return ok
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func add(a, b any) (any, error) {
	a, b = toPrimitive(a), toPrimitive(b)
	if isString(a) || isString(b) {
		x, y := toString(a), toString(b)
		if len(x)+len(y) > maxStringLength {
			return nil, errStringLength
		}
		return x + y, nil
	}
	return toNumber(a) + toNumber(b), nil
}

// compare returns -1, 0 or 1, and false when either side is NaN.
func compare(a, b any) (int, bool) {
	a, b = toPrimitive(a), toPrimitive(b)
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	}
	x, y := toNumber(a), toNumber(b)
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return 0, false
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

func power(a, b float64) float64 {
	if math.IsNaN(b) || (math.Abs(a) == 1 && math.IsInf(b, 0)) {
		return math.NaN()
	}
	return math.Pow(a, b)
}

// binaryOp applies a non-short-circuit binary operator.
func binaryOp(op token.Token, a, b any) (any, error) {
	if err := checkOperands(a, b); err != nil {
		return nil, err
	}
	switch op {
	case token.PLUS:
		return add(a, b)
	case token.MINUS:
		return toNumber(a) - toNumber(b), nil
	case token.MULTIPLY:
		return toNumber(a) * toNumber(b), nil
	case token.SLASH:
		return toNumber(a) / toNumber(b), nil
	case token.REMAINDER:
		return math.Mod(toNumber(a), toNumber(b)), nil
	case token.EXPONENT:
		return power(toNumber(a), toNumber(b)), nil
	case token.AND:
		return float64(toInt32(a) & toInt32(b)), nil
	case token.OR:
		return float64(toInt32(a) | toInt32(b)), nil
	case token.EXCLUSIVE_OR:
		return float64(toInt32(a) ^ toInt32(b)), nil
	case token.SHIFT_LEFT:
		return float64(toInt32(a) << (toUint32(b) & 31)), nil
	case token.SHIFT_RIGHT:
		return float64(toInt32(a) >> (toUint32(b) & 31)), nil
	case token.UNSIGNED_SHIFT_RIGHT:
		return float64(toUint32(a) >> (toUint32(b) & 31)), nil
	case token.EQUAL:
		return looseEquals(a, b), nil
	case token.NOT_EQUAL:
		return !looseEquals(a, b), nil
	case token.STRICT_EQUAL:
		return strictEquals(a, b), nil
	case token.STRICT_NOT_EQUAL:
		return !strictEquals(a, b), nil
	case token.LESS:
		c, ok := compare(a, b)
		return ok && c < 0, nil
	case token.GREATER:
		c, ok := compare(a, b)
		return ok && c > 0, nil
	case token.LESS_OR_EQUAL:
		c, ok := compare(a, b)
		return ok && c <= 0, nil
	case token.GREATER_OR_EQUAL:
		c, ok := compare(a, b)
		return ok && c >= 0, nil
	case token.IN:
		return hasProperty(b, toString(a))
	}
	return nil, fmt.Errorf("operator %s is not supported", op)
}

func unaryOp(op token.Token, v any) (any, error) {
	if op != token.TYPEOF && op != token.VOID && op != token.NOT {
		if err := checkOperands(v); err != nil {
			return nil, err
		}
	}
	switch op {
	case token.NOT:
		return !toBoolean(v), nil
	case token.MINUS:
		return -toNumber(v), nil
	case token.PLUS:
		return toNumber(v), nil
	case token.BITWISE_NOT:
		return float64(^toInt32(v)), nil
	case token.TYPEOF:
		return typeOf(v), nil
	case token.VOID:
		return Undefined, nil
	}
	return nil, fmt.Errorf("operator %s is not supported", op)
}

func hasProperty(obj any, key string) (bool, error) {
	switch o := obj.(type) {
	case map[string]any:
		_, ok := o[key]
		return ok, nil
	case []any:
		if key == "length" {
			return true, nil
		}
		i, err := strconv.Atoi(key)
		return err == nil && i >= 0 && i < len(o), nil
	case PropertyGetter:
		_, ok := o.GetProperty(key)
		return ok, nil
	}
	return false, fmt.Errorf("cannot use 'in' operator to search for '%s' in %s", key, toString(obj))
}
