package engine

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

// Property names that lead to an object's prototype chain.
var prototypeNames = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// IsAllowedBuilderFunction reports whether name may be called at top level.
func (p *Policy) IsAllowedBuilderFunction(name string) bool {
	return setHas(p.AllowedFunctions, name)
}

// IsAllowedMethod reports whether name may be called on a builder value.
func (p *Policy) IsAllowedMethod(name string) bool {
	return setHas(p.AllowedMethods, name)
}

// ValidateNodeKind rejects constructs that are explicitly forbidden or simply
// not part of the accepted grammar.
func (p *Policy) ValidateNodeKind(kind NodeKind) error {
	if msg, ok := p.ForbiddenKinds[kind]; ok {
		return newDiagnostic(UnsupportedConstruct, kind.String(), "%s", msg)
	}
	if !p.AllowedKinds[kind] {
		return newDiagnostic(UnsupportedConstruct, kind.String(), "%s is not supported", kind)
	}
	return nil
}

// ValidateIdentifierUse rejects references to dangerous globals.
func (p *Policy) ValidateIdentifierUse(name string) error {
	if setHas(p.DangerousGlobals, name) || setHas(p.CodeExecGlobals, name) {
		return newDiagnostic(SecurityViolation, KindIdentifier.String(), "%s is not allowed", name)
	}
	return nil
}

// ValidateCallExpression rejects direct calls to code-execution primitives
// and calls through a constructor property.
func (p *Policy) ValidateCallExpression(call *ast.CallExpression) error {
	switch callee := call.Callee.(type) {
	case *ast.Identifier:
		if name := callee.Name.String(); setHas(p.CodeExecGlobals, name) {
			return newDiagnostic(SecurityViolation, KindCallExpression.String(),
				"%s is not allowed: dynamic code execution is forbidden", name)
		}
	case *ast.DotExpression:
		if callee.Identifier.Name.String() == "constructor" {
			return newDiagnostic(SecurityViolation, KindCallExpression.String(), "calling constructor is not allowed")
		}
	case *ast.BracketExpression:
		if lit, ok := callee.Member.(*ast.StringLiteral); ok && lit.Value.String() == "constructor" {
			return newDiagnostic(SecurityViolation, KindCallExpression.String(), "calling constructor is not allowed")
		}
	}
	return nil
}

// ValidateMemberAccess rejects computed access with a non-literal key and any
// access to prototype-chain properties.
func (p *Policy) ValidateMemberAccess(expr ast.Expression) error {
	switch m := expr.(type) {
	case *ast.DotExpression:
		return validatePropertyName(m.Identifier.Name.String())
	case *ast.BracketExpression:
		switch key := m.Member.(type) {
		case *ast.StringLiteral:
			return validatePropertyName(key.Value.String())
		case *ast.NumberLiteral:
			return nil
		}
		return newDiagnostic(SecurityViolation, KindMemberExpression.String(),
			"computed member access with a non-literal key is not allowed")
	}
	return nil
}

// safeGlobalCallee matches `Global.method` where Global has allowlisted
// built-in methods.
func (p *Policy) safeGlobalCallee(callee ast.Expression) (object, method string, ok bool) {
	dot, isDot := callee.(*ast.DotExpression)
	if !isDot {
		return "", "", false
	}
	id, isID := dot.Left.(*ast.Identifier)
	if !isID {
		return "", "", false
	}
	if _, known := p.SafeGlobalCalls[id.Name.String()]; !known {
		return "", "", false
	}
	return id.Name.String(), dot.Identifier.Name.String(), true
}

// validateMethodName rejects method calls whose name is neither a builder
// method nor a built-in reachable through the policy.
func (p *Policy) validateMethodName(callee ast.Expression) error {
	var name string
	switch c := callee.(type) {
	case *ast.DotExpression:
		name = c.Identifier.Name.String()
	case *ast.BracketExpression:
		switch key := c.Member.(type) {
		case *ast.StringLiteral:
			name = key.Value.String()
		case *ast.NumberLiteral:
			return newDiagnostic(SecurityViolation, KindCallExpression.String(), "only builder functions and allowed methods can be called")
		default:
			return nil
		}
	default:
		return nil
	}
	if object, method, ok := p.safeGlobalCallee(callee); ok {
		if setHas(p.SafeGlobalCalls[object], method) {
			return nil
		}
		return newDiagnostic(SecurityViolation, KindCallExpression.String(), "%s.%s is not allowed", object, method)
	}
	if p.IsAllowedMethod(name) {
		return nil
	}
	for _, methods := range p.SafeValueMethods {
		if setHas(methods, name) {
			return nil
		}
	}
	return newDiagnostic(SecurityViolation, KindCallExpression.String(), "method '%s' is not allowed", name)
}

func validatePropertyName(name string) error {
	if prototypeNames[name] {
		return newDiagnostic(SecurityViolation, KindMemberExpression.String(), "access to %s is not allowed", name)
	}
	return nil
}

// WalkHooks receive events from WalkProgram. Any hook may be nil.
type WalkHooks struct {
	// Violation is called for each rejected node; returning false stops
	// the walk.
	Violation func(d *Diagnostic) bool
	// Declare is called after a binding's initializer has been walked.
	Declare func(id *ast.Identifier, constant bool)
	// Reference is called for every identifier in value position.
	Reference func(id *ast.Identifier)
}

// ValidateProgram walks the whole tree before anything is evaluated and
// returns the first violation in source order.
func (p *Policy) ValidateProgram(prog *Program) error {
	var first *Diagnostic
	p.WalkProgram(prog, WalkHooks{
		Violation: func(d *Diagnostic) bool {
			first = d
			return false
		},
	})
	if first != nil {
		return first
	}
	return nil
}

// WalkProgram visits every statement and expression in source order. Nodes
// that fail validation are reported and not descended into.
func (p *Policy) WalkProgram(prog *Program, hooks WalkHooks) {
	w := &walker{policy: p, prog: prog, hooks: hooks, declared: make(map[string]bool)}
	exports := 0
	for _, stmt := range prog.Body {
		if prog.IsExport(stmt) {
			exports++
			if exports > 1 && p.ExportStyle == ExportDefault {
				w.report(prog.errorAt(UnsupportedConstruct, stmt, "only one export default is allowed"), nil)
				continue
			}
		}
		if !w.statement(stmt) {
			return
		}
	}
}

type walker struct {
	policy   *Policy
	prog     *Program
	hooks    WalkHooks
	declared map[string]bool
	depth    int
	stopped  bool
}

// report attaches a location and forwards d. It returns false once the walk
// has to stop.
func (w *walker) report(d *Diagnostic, node ast.Node) bool {
	if node != nil {
		w.prog.Locate(d, node)
	}
	if w.hooks.Violation == nil || !w.hooks.Violation(d) {
		w.stopped = true
	}
	return !w.stopped
}

func (w *walker) check(err error, node ast.Node) bool {
	if err == nil {
		return true
	}
	w.report(err.(*Diagnostic), node)
	return false
}

// enter validates the node's kind and the depth limit. It returns false when
// the node must not be descended into.
func (w *walker) enter(node ast.Node) bool {
	w.depth++
	if w.stopped {
		return false
	}
	if w.depth > w.policy.MaxDepth {
		d := w.prog.errorAt(InterpreterError, node, "maximum nesting depth of %d exceeded", w.policy.MaxDepth)
		w.report(d, nil)
		w.stopped = true
		return false
	}
	return w.check(w.policy.ValidateNodeKind(w.prog.KindOf(node)), node)
}

func (w *walker) leave() { w.depth-- }

func (w *walker) statement(stmt ast.Statement) bool {
	defer w.leave()
	if !w.enter(stmt) {
		return !w.stopped
	}

	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		if value, ok := w.prog.exportValue(s); ok {
			if w.policy.ExportStyle != ExportDefault {
				w.report(w.prog.errorAt(UnsupportedConstruct, stmt, "export default is not allowed; return the result instead"), nil)
				break
			}
			w.expression(value)
		} else {
			w.expression(s.Expression)
		}
	case *ast.LexicalDeclaration:
		constant := s.Token == token.CONST
		if !constant && !w.policy.AllowAssignment {
			w.report(w.prog.errorAt(UnsupportedConstruct, stmt, "let declarations are not allowed; use const"), nil)
			break
		}
		w.bindings(s.List, constant)
	case *ast.VariableStatement:
		w.report(w.prog.errorAt(UnsupportedConstruct, stmt, "var declarations are not allowed; use const"), nil)
	case *ast.ReturnStatement:
		if w.policy.ExportStyle != ExportReturn {
			w.report(w.prog.errorAt(UnsupportedConstruct, stmt, "return statements are not allowed; use export default"), nil)
			break
		}
		if s.Argument != nil {
			w.expression(s.Argument)
		}
	}
	return !w.stopped
}

func (w *walker) bindings(list []*ast.Binding, constant bool) {
	for _, b := range list {
		id, ok := b.Target.(*ast.Identifier)
		if !ok {
			if target, isNode := b.Target.(ast.Node); isNode {
				w.report(w.prog.errorAt(UnsupportedConstruct, target, "destructuring declarations are not allowed"), nil)
			}
			continue
		}
		name := id.Name.String()
		if !w.check(w.policy.ValidateIdentifierUse(name), id) {
			continue
		}
		if w.declared[name] {
			w.report(w.prog.errorAt(ParseError, id, "identifier '%s' has already been declared", name), nil)
			continue
		}
		if b.Initializer != nil {
			w.expression(b.Initializer)
		}
		if w.stopped {
			return
		}
		// The binding exists only once its initializer has run.
		w.declared[name] = true
		if w.hooks.Declare != nil {
			w.hooks.Declare(id, constant)
		}
	}
}

func (w *walker) expression(expr ast.Expression) {
	if expr == nil {
		return
	}
	defer w.leave()
	if !w.enter(expr) {
		return
	}

	switch e := expr.(type) {
	case *ast.Identifier:
		if w.check(w.policy.ValidateIdentifierUse(e.Name.String()), e) && w.hooks.Reference != nil {
			w.hooks.Reference(e)
		}
	case *ast.TemplateLiteral:
		for _, sub := range e.Expressions {
			w.expression(sub)
		}
	case *ast.ObjectLiteral:
		w.object(e)
	case *ast.ArrayLiteral:
		for _, el := range e.Value {
			w.expression(el)
		}
	case *ast.SpreadElement:
		w.expression(e.Expression)
	case *ast.CallExpression:
		if !w.check(w.policy.ValidateCallExpression(e), e) {
			return
		}
		if !w.check(w.policy.validateMethodName(e.Callee), e.Callee) {
			return
		}
		if id, ok := e.Callee.(*ast.Identifier); ok && w.declared[id.Name.String()] {
			if w.hooks.Reference != nil {
				w.hooks.Reference(id)
			}
			w.report(w.prog.errorAt(SecurityViolation, id, "'%s' is a local binding and cannot be called", id.Name.String()), nil)
			return
		}
		if _, _, ok := w.policy.safeGlobalCallee(e.Callee); ok {
			w.safeGlobal(e.Callee.(*ast.DotExpression))
		} else {
			w.expression(e.Callee)
		}
		for _, arg := range e.ArgumentList {
			w.expression(arg)
		}
	case *ast.DotExpression:
		if w.check(w.policy.ValidateMemberAccess(e), e) {
			w.expression(e.Left)
		}
	case *ast.BracketExpression:
		if w.check(w.policy.ValidateMemberAccess(e), e) {
			w.expression(e.Left)
		}
	case *ast.BinaryExpression:
		if e.Operator == token.INSTANCEOF {
			w.report(w.prog.errorAt(UnsupportedConstruct, e, "the instanceof operator is not allowed"), nil)
			return
		}
		w.expression(e.Left)
		w.expression(e.Right)
	case *ast.UnaryExpression:
		if e.Operator == token.DELETE {
			w.report(w.prog.errorAt(UnsupportedConstruct, e, "the delete operator is not allowed"), nil)
			return
		}
		w.expression(e.Operand)
	case *ast.ConditionalExpression:
		w.expression(e.Test)
		w.expression(e.Consequent)
		w.expression(e.Alternate)
	case *ast.AssignExpression:
		w.assignment(e)
	}
}

// safeGlobal validates a call such as JSON.stringify without reporting the
// global object as an identifier reference.
func (w *walker) safeGlobal(dot *ast.DotExpression) {
	defer w.leave()
	if !w.enter(dot) {
		return
	}
	id := dot.Left.(*ast.Identifier)
	defer w.leave()
	if !w.enter(id) {
		return
	}
	w.check(w.policy.ValidateIdentifierUse(id.Name.String()), id)
}

func (w *walker) assignment(e *ast.AssignExpression) {
	switch target := e.Left.(type) {
	case *ast.Identifier:
		if !w.check(w.policy.ValidateIdentifierUse(target.Name.String()), target) {
			return
		}
		if w.hooks.Reference != nil {
			w.hooks.Reference(target)
		}
	case *ast.DotExpression, *ast.BracketExpression:
		w.report(w.prog.errorAt(SecurityViolation, e, "assignment to object properties is not allowed"), nil)
		return
	default:
		w.report(w.prog.errorAt(UnsupportedConstruct, e, "destructuring assignments are not allowed"), nil)
		return
	}
	w.expression(e.Right)
}

func (w *walker) object(obj *ast.ObjectLiteral) {
	for _, prop := range obj.Value {
		if w.stopped {
			return
		}
		switch pr := prop.(type) {
		case *ast.PropertyKeyed:
			if pr.Kind != ast.PropertyKindValue {
				w.report(w.prog.errorAt(UnsupportedConstruct, pr.Value, "object methods, getters and setters are not allowed"), nil)
				continue
			}
			name, ok := propertyKey(pr)
			if !ok {
				w.report(w.prog.errorAt(SecurityViolation, pr.Key, "computed property keys must be string or number literals"), nil)
				continue
			}
			if !w.check(validatePropertyName(name), pr.Key) {
				continue
			}
			w.expression(pr.Value)
		case *ast.PropertyShort:
			if !w.check(validatePropertyName(pr.Name.Name.String()), &pr.Name) {
				continue
			}
			w.expression(&pr.Name)
		case *ast.SpreadElement:
			w.expression(pr)
		}
	}
}

// propertyKey returns the name of a plain key or of a computed key that is a
// string or number literal.
func propertyKey(prop *ast.PropertyKeyed) (string, bool) {
	switch k := prop.Key.(type) {
	case *ast.StringLiteral:
		return k.Value.String(), true
	case *ast.Identifier:
		if prop.Computed {
			return "", false
		}
		return k.Name.String(), true
	case *ast.NumberLiteral:
		switch v := k.Value.(type) {
		case int64:
			return formatNumber(float64(v)), true
		case float64:
			return formatNumber(v), true
		}
	}
	return "", false
}
