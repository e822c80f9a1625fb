package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf16"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"wfscript/pkg/utils/coerce"
)

// runner is the state of a single evaluation.
type runner struct {
	ctx     context.Context
	policy  *Policy
	prog    *Program
	fns     FunctionTable
	scope   *Scope
	depth   int
	current ast.Node
}

func (r *runner) exec() (any, error) {
	var last any = Undefined
	for _, stmt := range r.prog.Body {
		if err := r.checkContext(stmt); err != nil {
			return nil, err
		}
		r.current = stmt

		switch s := stmt.(type) {
		case *ast.ExpressionStatement:
			if value, ok := r.prog.exportValue(s); ok {
				return r.eval(value)
			}
			v, err := r.eval(s.Expression)
			if err != nil {
				return nil, err
			}
			last = v
		case *ast.LexicalDeclaration:
			if err := r.declare(s); err != nil {
				return nil, err
			}
		case *ast.ReturnStatement:
			if s.Argument == nil {
				return Undefined, nil
			}
			return r.eval(s.Argument)
		case *ast.EmptyStatement:
		default:
			return nil, r.prog.errorAt(UnsupportedConstruct, stmt, "%s is not supported", r.prog.KindOf(stmt))
		}
	}
	return last, nil
}

func (r *runner) checkContext(node ast.Node) error {
	if r.ctx == nil {
		return nil
	}
	if err := r.ctx.Err(); err != nil {
		d := r.prog.errorAt(InterpreterError, node, "interpretation cancelled: %v", err)
		d.cause = err
		return d
	}
	return nil
}

func (r *runner) declare(decl *ast.LexicalDeclaration) error {
	constant := decl.Token == token.CONST
	for _, b := range decl.List {
		id, ok := b.Target.(*ast.Identifier)
		if !ok {
			return r.prog.errorAt(UnsupportedConstruct, decl, "destructuring declarations are not allowed")
		}
		var v any = Undefined
		if b.Initializer != nil {
			var err error
			if v, err = r.eval(b.Initializer); err != nil {
				return err
			}
		}
		if err := r.scope.Declare(id.Name.String(), v, constant); err != nil {
			return r.prog.errorAt(InterpreterError, id, "%v", err)
		}
	}
	return nil
}

func (r *runner) eval(expr ast.Expression) (any, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > r.policy.MaxDepth {
		return nil, r.prog.errorAt(InterpreterError, expr, "maximum nesting depth of %d exceeded", r.policy.MaxDepth)
	}

	switch e := expr.(type) {
	case *ast.StringLiteral:
		return e.Value.String(), nil
	case *ast.NumberLiteral:
		v, err := numberValue(e)
		if err != nil {
			return nil, r.prog.errorAt(UnsupportedConstruct, e, "%v", err)
		}
		return v, nil
	case *ast.BooleanLiteral:
		return e.Value, nil
	case *ast.NullLiteral:
		return nil, nil
	case *ast.TemplateLiteral:
		return r.template(e)
	case *ast.Identifier:
		return r.identifier(e)
	case *ast.ObjectLiteral:
		return r.object(e)
	case *ast.ArrayLiteral:
		return r.array(e)
	case *ast.CallExpression:
		return r.call(e)
	case *ast.DotExpression:
		obj, err := r.eval(e.Left)
		if err != nil {
			return nil, err
		}
		return r.member(e, obj, e.Identifier.Name.String())
	case *ast.BracketExpression:
		key, err := r.memberKey(e)
		if err != nil {
			return nil, err
		}
		obj, err := r.eval(e.Left)
		if err != nil {
			return nil, err
		}
		return r.member(e, obj, key)
	case *ast.UnaryExpression:
		v, err := r.eval(e.Operand)
		if err != nil {
			return nil, err
		}
		out, err := unaryOp(e.Operator, v)
		if errors.Is(err, errStringLength) {
			return nil, r.prog.errorAt(InterpreterError, e, "%v", err)
		}
		if err != nil {
			return nil, r.prog.errorAt(UnsupportedConstruct, e, "%v", err)
		}
		return out, nil
	case *ast.BinaryExpression:
		return r.binary(e)
	case *ast.ConditionalExpression:
		test, err := r.eval(e.Test)
		if err != nil {
			return nil, err
		}
		if toBoolean(test) {
			return r.eval(e.Consequent)
		}
		return r.eval(e.Alternate)
	case *ast.AssignExpression:
		return r.assign(e)
	}
	return nil, r.prog.errorAt(UnsupportedConstruct, expr, "%s is not supported", r.prog.KindOf(expr))
}

func numberValue(lit *ast.NumberLiteral) (any, error) {
	switch v := lit.Value.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported numeric literal %s", lit.Literal)
}

func (r *runner) template(t *ast.TemplateLiteral) (any, error) {
	var out []byte
	for i, el := range t.Elements {
		out = append(out, el.Parsed.String()...)
		if i < len(t.Expressions) {
			v, err := r.eval(t.Expressions[i])
			if err != nil {
				return nil, err
			}
			str, err := boundedString(v)
			if err == nil && len(out)+len(str) > maxStringLength {
				err = errStringLength
			}
			if err != nil {
				return nil, r.prog.errorAt(InterpreterError, t.Expressions[i], "%v", err)
			}
			out = append(out, str...)
		}
	}
	return string(out), nil
}

func (r *runner) identifier(id *ast.Identifier) (any, error) {
	name := id.Name.String()
	if v, ok := r.scope.Get(name); ok {
		return v, nil
	}
	switch name {
	case "undefined":
		return Undefined, nil
	case "NaN":
		return nan, nil
	case "Infinity":
		return inf, nil
	}
	if r.policy.IsAllowedBuilderFunction(name) {
		if fn, ok := r.fns[name]; ok && fn != nil {
			return fn, nil
		}
	}
	return nil, r.unknown(id, name)
}

func (r *runner) unknown(id *ast.Identifier, name string) *Diagnostic {
	d := r.prog.errorAt(UnknownIdentifier, id, "'%s' is not defined", name)
	if hint := r.suggest(name); hint != "" {
		d.Message += fmt.Sprintf("; did you mean '%s'?", hint)
	}
	return d
}

// suggest finds the closest declared or callable name.
func (r *runner) suggest(name string) string {
	candidates := make([]string, 0, len(r.fns)+len(r.scope.vars))
	for fn := range r.fns {
		if r.policy.IsAllowedBuilderFunction(fn) {
			candidates = append(candidates, fn)
		}
	}
	for v := range r.scope.vars {
		candidates = append(candidates, v)
	}
	return ClosestName(name, candidates)
}

// ClosestName returns the best fuzzy match for target, or "".
func ClosestName(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}

func (r *runner) object(obj *ast.ObjectLiteral) (any, error) {
	out := make(map[string]any, len(obj.Value))
	for _, prop := range obj.Value {
		switch p := prop.(type) {
		case *ast.PropertyKeyed:
			key, ok := propertyKey(p)
			if !ok {
				return nil, r.prog.errorAt(SecurityViolation, p.Key, "computed property keys must be string or number literals")
			}
			v, err := r.eval(p.Value)
			if err != nil {
				return nil, err
			}
			out[key] = v
		case *ast.PropertyShort:
			v, err := r.identifier(&p.Name)
			if err != nil {
				return nil, err
			}
			out[p.Name.Name.String()] = v
		case *ast.SpreadElement:
			v, err := r.eval(p.Expression)
			if err != nil {
				return nil, err
			}
			if err := spreadInto(out, v); err != nil {
				return nil, r.prog.errorAt(InterpreterError, p, "%v", err)
			}
		default:
			return nil, r.prog.errorAt(UnsupportedConstruct, obj, "unsupported object property")
		}
	}
	return out, nil
}

func spreadInto(out map[string]any, v any) error {
	switch x := normalize(v).(type) {
	case nil, undefinedType, bool, float64:
		return nil
	case map[string]any:
		for k, el := range x {
			out[k] = el
		}
		return nil
	case []any:
		for i, el := range x {
			out[strconv.Itoa(i)] = el
		}
		return nil
	case string:
		for i, u := range utf16.Encode([]rune(x)) {
			out[strconv.Itoa(i)] = string(utf16.Decode([]uint16{u}))
		}
		return nil
	}
	if isCallable(v) {
		return nil
	}
	m, err := coerce.ToMap(v)
	if err != nil {
		return fmt.Errorf("cannot spread %s into an object", typeOf(v))
	}
	for k, el := range m {
		out[k] = el
	}
	return nil
}

func (r *runner) array(arr *ast.ArrayLiteral) (any, error) {
	out := make([]any, 0, len(arr.Value))
	for _, el := range arr.Value {
		if el == nil {
			out = append(out, Undefined)
			continue
		}
		if spread, ok := el.(*ast.SpreadElement); ok {
			items, err := r.spreadItems(spread)
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
			continue
		}
		v, err := r.eval(el)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// spreadItems evaluates `...x` in an array literal or an argument list.
func (r *runner) spreadItems(spread *ast.SpreadElement) ([]any, error) {
	v, err := r.eval(spread.Expression)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []any:
		return x, nil
	case string:
		items := make([]any, 0, len(x))
		for _, ch := range x {
			items = append(items, string(ch))
		}
		return items, nil
	}
	if !isNullish(v) && !isPrimitive(normalize(v)) && !isCallable(v) {
		if _, isMap := v.(map[string]any); !isMap {
			if items, err := coerce.ToSlice(v); err == nil {
				return items, nil
			}
		}
	}
	return nil, r.prog.errorAt(InterpreterError, spread, "%s is not iterable", r.prog.Text(spread.Expression))
}

func (r *runner) arguments(list []ast.Expression) ([]any, error) {
	args := make([]any, 0, len(list))
	for _, a := range list {
		if spread, ok := a.(*ast.SpreadElement); ok {
			items, err := r.spreadItems(spread)
			if err != nil {
				return nil, err
			}
			args = append(args, items...)
			continue
		}
		v, err := r.eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func (r *runner) memberKey(e *ast.BracketExpression) (string, error) {
	switch k := e.Member.(type) {
	case *ast.StringLiteral:
		return k.Value.String(), nil
	case *ast.NumberLiteral:
		v, err := numberValue(k)
		if err != nil {
			return "", r.prog.errorAt(UnsupportedConstruct, k, "%v", err)
		}
		return formatNumber(v.(float64)), nil
	}
	return "", r.prog.errorAt(SecurityViolation, e, "computed member access with a non-literal key is not allowed")
}

func (r *runner) member(node ast.Node, obj any, key string) (any, error) {
	if prototypeNames[key] {
		return nil, r.prog.errorAt(SecurityViolation, node, "access to %s is not allowed", key)
	}
	if isNullish(obj) {
		return nil, r.prog.errorAt(InterpreterError, node, "cannot read properties of %s (reading '%s')", toString(obj), key)
	}
	if v, ok := getProperty(obj, key); ok {
		return v, nil
	}
	return Undefined, nil
}

func getProperty(obj any, key string) (any, bool) {
	switch o := obj.(type) {
	case map[string]any:
		v, ok := o[key]
		return v, ok
	case []any:
		if key == "length" {
			return float64(len(o)), true
		}
		if i, ok := arrayIndex(key); ok && i < len(o) {
			return o[i], true
		}
	case string:
		units := utf16.Encode([]rune(o))
		if key == "length" {
			return float64(len(units)), true
		}
		if i, ok := arrayIndex(key); ok && i < len(units) {
			return string(utf16.Decode(units[i : i+1])), true
		}
	case PropertyGetter:
		return o.GetProperty(key)
	}
	return nil, false
}

// arrayIndex accepts canonical non-negative integer keys only ("1", not "01").
func arrayIndex(key string) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || strconv.Itoa(i) != key {
		return 0, false
	}
	return i, true
}

func (r *runner) binary(e *ast.BinaryExpression) (any, error) {
	left, err := r.eval(e.Left)
	if err != nil {
		return nil, err
	}
	switch e.Operator {
	case token.LOGICAL_AND:
		if !toBoolean(left) {
			return left, nil
		}
		return r.eval(e.Right)
	case token.LOGICAL_OR:
		if toBoolean(left) {
			return left, nil
		}
		return r.eval(e.Right)
	case token.COALESCE:
		if !isNullish(left) {
			return left, nil
		}
		return r.eval(e.Right)
	}
	right, err := r.eval(e.Right)
	if err != nil {
		return nil, err
	}
	out, err := binaryOp(e.Operator, left, right)
	if err != nil {
		return nil, r.prog.errorAt(InterpreterError, e, "%v", err)
	}
	return out, nil
}

func (r *runner) assign(e *ast.AssignExpression) (any, error) {
	if !r.policy.AllowAssignment {
		return nil, r.prog.errorAt(UnsupportedConstruct, e, "assignment expressions are not allowed")
	}
	id, ok := e.Left.(*ast.Identifier)
	if !ok {
		return nil, r.prog.errorAt(SecurityViolation, e, "assignment to object properties is not allowed")
	}
	name := id.Name.String()
	current, declared := r.scope.Get(name)
	if !declared {
		return nil, r.unknown(id, name)
	}

	var value any
	var err error
	switch e.Operator {
	case token.ASSIGN:
		value, err = r.eval(e.Right)
	case token.LOGICAL_AND:
		if !toBoolean(current) {
			return current, nil
		}
		value, err = r.eval(e.Right)
	case token.LOGICAL_OR:
		if toBoolean(current) {
			return current, nil
		}
		value, err = r.eval(e.Right)
	case token.COALESCE:
		if !isNullish(current) {
			return current, nil
		}
		value, err = r.eval(e.Right)
	default:
		var right any
		if right, err = r.eval(e.Right); err == nil {
			if value, err = binaryOp(e.Operator, current, right); err != nil {
				return nil, r.prog.errorAt(InterpreterError, e, "%v", err)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if err := r.scope.Assign(name, value); err != nil {
		return nil, r.prog.errorAt(InterpreterError, e, "%v", err)
	}
	return value, nil
}

func (r *runner) call(e *ast.CallExpression) (any, error) {
	if err := r.policy.ValidateCallExpression(e); err != nil {
		return nil, r.prog.Locate(err.(*Diagnostic), e)
	}
	if err := r.checkContext(e); err != nil {
		return nil, err
	}

	switch callee := e.Callee.(type) {
	case *ast.Identifier:
		return r.callFunction(e, callee)
	case *ast.DotExpression:
		return r.callMethod(e, callee.Left, callee.Identifier.Name.String())
	case *ast.BracketExpression:
		name, err := r.memberKey(callee)
		if err != nil {
			return nil, err
		}
		return r.callMethod(e, callee.Left, name)
	}
	return nil, r.prog.errorAt(SecurityViolation, e, "only builder functions and allowed methods can be called")
}

func (r *runner) callFunction(e *ast.CallExpression, id *ast.Identifier) (any, error) {
	name := id.Name.String()
	if err := r.policy.ValidateIdentifierUse(name); err != nil {
		return nil, r.prog.Locate(err.(*Diagnostic), id)
	}
	if r.scope.Has(name) {
		return nil, r.prog.errorAt(SecurityViolation, id, "'%s' is a local binding and cannot be called", name)
	}
	if !r.policy.IsAllowedBuilderFunction(name) {
		return nil, r.unknown(id, name)
	}
	fn, ok := r.fns[name]
	if !ok || fn == nil {
		return nil, r.prog.errorAt(UnknownIdentifier, id, "'%s' is not provided by the host", name)
	}
	args, err := r.arguments(e.ArgumentList)
	if err != nil {
		return nil, err
	}
	r.current = e
	out, err := fn(args...)
	return r.hostResult(e, name, out, err)
}

func (r *runner) callMethod(e *ast.CallExpression, left ast.Expression, method string) (any, error) {
	if prototypeNames[method] {
		return nil, r.prog.errorAt(SecurityViolation, e.Callee, "access to %s is not allowed", method)
	}

	if object, ok := r.safeGlobal(left); ok {
		if !setHas(r.policy.SafeGlobalCalls[object], method) {
			return nil, r.prog.errorAt(SecurityViolation, e.Callee, "%s.%s is not allowed", object, method)
		}
		args, err := r.arguments(e.ArgumentList)
		if err != nil {
			return nil, err
		}
		out, err := callSafeGlobal(object, method, args)
		return r.hostResult(e, object+"."+method, out, err)
	}

	recv, err := r.eval(left)
	if err != nil {
		return nil, err
	}
	if kind := valueKind(recv); kind != "" && setHas(r.policy.SafeValueMethods[kind], method) {
		args, err := r.arguments(e.ArgumentList)
		if err != nil {
			return nil, err
		}
		out, err := callValueMethod(recv, method, args)
		return r.hostResult(e, method, out, err)
	}
	if !r.policy.IsAllowedMethod(method) {
		return nil, r.prog.errorAt(SecurityViolation, e.Callee, "method '%s' is not allowed", method)
	}
	if isNullish(recv) {
		return nil, r.prog.errorAt(InterpreterError, e.Callee, "cannot read properties of %s (reading '%s')", toString(recv), method)
	}

	args, err := r.arguments(e.ArgumentList)
	if err != nil {
		return nil, err
	}
	r.current = e
	switch o := recv.(type) {
	case Chainable:
		out, err := o.CallMethod(method, args)
		return r.hostResult(e, method, out, err)
	case map[string]any:
		if fn, ok := asFunction(o[method]); ok {
			out, err := fn(args...)
			return r.hostResult(e, method, out, err)
		}
	}
	return nil, r.prog.errorAt(InterpreterError, e.Callee, "%s is not a function", r.prog.Text(e.Callee))
}

// safeGlobal reports whether left names a global object with allowlisted
// methods, such as JSON, that is not shadowed by a binding.
func (r *runner) safeGlobal(left ast.Expression) (string, bool) {
	id, ok := left.(*ast.Identifier)
	if !ok {
		return "", false
	}
	name := id.Name.String()
	if _, ok := r.policy.SafeGlobalCalls[name]; !ok || r.scope.Has(name) {
		return "", false
	}
	return name, true
}

// hostResult wraps an error returned by host code with the call site.
func (r *runner) hostResult(e *ast.CallExpression, name string, out any, err error) (any, error) {
	if err == nil {
		return out, nil
	}
	var d *Diagnostic
	if errors.As(err, &d) && d.Line > 0 {
		return nil, err
	}
	wrapped := r.prog.errorAt(InterpreterError, e, "%s: %v", name, err)
	wrapped.cause = err
	return nil, wrapped
}

var (
	nan = toNumber(Undefined)
	inf = stringToNumber("Infinity")
)
