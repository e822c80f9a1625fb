package engine

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	gojson "github.com/goccy/go-json"
)

// maxStringLength caps every string a script can build.
const maxStringLength = 1 << 24

// callSafeGlobal runs an allowlisted global call such as JSON.stringify.
func callSafeGlobal(object, method string, args []any) (any, error) {
	switch object + "." + method {
	case "JSON.stringify":
		return jsonStringify(args)
	case "JSON.parse":
		return jsonParse(args)
	}
	return nil, fmt.Errorf("%s.%s is not a function", object, method)
}

// callValueMethod runs a built-in method on a string or array receiver.
func callValueMethod(recv any, method string, args []any) (any, error) {
	switch r := recv.(type) {
	case string:
		switch method {
		case "repeat":
			return repeatString(r, arg(args, 0))
		case "trim":
			return strings.TrimSpace(r), nil
		case "toUpperCase":
			return strings.ToUpper(r), nil
		case "toLowerCase":
			return strings.ToLower(r), nil
		}
	case []any:
		if method == "join" {
			return joinArray(r, arg(args, 0))
		}
	}
	return nil, fmt.Errorf("%s is not a function", method)
}

func joinArray(items []any, sepArg any) (any, error) {
	sep := ","
	if !IsUndefined(sepArg) {
		var err error
		if sep, err = boundedString(sepArg); err != nil {
			return nil, err
		}
	}
	parts := make([]string, len(items))
	total := 0
	for i, el := range items {
		if i > 0 {
			total += len(sep)
		}
		if !isNullish(el) {
			str, err := boundedString(el)
			if err != nil {
				return nil, err
			}
			parts[i] = str
			total += len(str)
		}
		if total > maxStringLength {
			return nil, errStringLength
		}
	}
	return strings.Join(parts, sep), nil
}

// valueKind names the receiver categories that SafeValueMethods is keyed by.
func valueKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case []any:
		return "array"
	}
	return ""
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

func repeatString(s string, countArg any) (any, error) {
	count := toNumber(countArg)
	if math.IsNaN(count) {
		count = 0
	}
	count = math.Trunc(count)
	if count < 0 || math.IsInf(count, 0) {
		return nil, fmt.Errorf("invalid count value: %s", formatNumber(count))
	}
	if s == "" || count == 0 {
		return "", nil
	}
	if float64(len(s))*count > maxStringLength {
		return nil, errStringLength
	}
	return strings.Repeat(s, int(count)), nil
}

func jsonStringify(args []any) (any, error) {
	value := arg(args, 0)
	if replacer := arg(args, 1); !isNullish(replacer) {
		return nil, fmt.Errorf("JSON.stringify replacer is not supported")
	}
	prepared, ok := jsonValue(value)
	if !ok {
		return Undefined, nil
	}
	indent := jsonIndent(arg(args, 2))
	if jsonLength(prepared, len(indent), 0, maxStringLength) < 0 {
		return nil, errStringLength
	}

	var buf bytes.Buffer
	enc := gojson.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(prepared); err != nil {
		return nil, fmt.Errorf("JSON.stringify: %w", err)
	}
	if buf.Len() > maxStringLength+1 {
		return nil, errStringLength
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// jsonLength estimates the encoded size of a value prepared by jsonValue,
// ignoring escapes, or returns -1 once it exceeds budget. Each nested entry
// costs a newline plus its indentation.
func jsonLength(v any, indent, level, budget int) int {
	n := 0
	entry := func(m int) { n += m + 1 }
	if indent > 0 {
		entry = func(m int) { n += m + 2 + indent*(level+1) }
	}
	switch x := v.(type) {
	case string:
		n = len(x) + 2
	case []any:
		n = 2 + indent*level
		for _, el := range x {
			m := jsonLength(el, indent, level+1, budget-n)
			if m < 0 {
				return -1
			}
			entry(m)
		}
	case map[string]any:
		n = 2 + indent*level
		for k, el := range x {
			m := jsonLength(el, indent, level+1, budget-n)
			if m < 0 {
				return -1
			}
			entry(len(k) + 4 + m)
		}
	case float64:
		n = len(formatNumber(x))
	case nil, bool:
		n = 5
	default:
		n = 24
	}
	if n > budget {
		return -1
	}
	return n
}

func jsonIndent(space any) string {
	switch s := normalize(space).(type) {
	case float64:
		n := int(math.Min(10, math.Max(0, math.Trunc(s))))
		return strings.Repeat(" ", n)
	case string:
		if len(s) > 10 {
			return s[:10]
		}
		return s
	}
	return ""
}

// jsonValue converts a value into something the encoder renders the way
// JSON.stringify would. It reports false for values JSON omits.
func jsonValue(v any) (any, bool) {
	v = normalize(v)
	switch x := v.(type) {
	case undefinedType:
		return nil, false
	case nil, bool, string:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, true
		}
		return x, true
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			if conv, ok := jsonValue(el); ok {
				out[i] = conv
			}
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			if conv, ok := jsonValue(el); ok {
				out[k] = conv
			}
		}
		return out, true
	}
	if isCallable(v) {
		return nil, false
	}
	return v, true
}

func jsonParse(args []any) (any, error) {
	text, err := boundedString(arg(args, 0))
	if err != nil {
		return nil, err
	}
	var out any
	if err := gojson.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("JSON.parse: %w", err)
	}
	return out, nil
}
