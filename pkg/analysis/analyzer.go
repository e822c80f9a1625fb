package analysis

import (
	"fmt"

	"github.com/dop251/goja/ast"

	"wfscript/pkg/engine"
)

type AnalysisResult struct {
	Errors   []*engine.Diagnostic `json:"errors"`
	Warnings []*engine.Diagnostic `json:"warnings"`
}

// Success reports whether the script would pass validation.
func (r AnalysisResult) Success() bool {
	return len(r.Errors) == 0
}

// Analyzer checks a workflow script without running it. Unlike the
// interpreter it keeps going after the first problem and reports everything
// it finds.
type Analyzer struct {
	policy    *engine.Policy
	functions map[string]bool
}

// NewAnalyzer builds an analyzer for policy. functions lists the builder
// names the host will provide; nil means every allowlisted builder.
func NewAnalyzer(policy *engine.Policy, functions []string) *Analyzer {
	if policy == nil {
		policy = engine.SDKPolicy()
	}
	if functions == nil {
		functions = policy.Functions()
	}
	provided := make(map[string]bool, len(functions))
	for _, fn := range functions {
		provided[fn] = true
	}
	return &Analyzer{policy: policy, functions: provided}
}

func (a *Analyzer) Analyze(filename, src string) AnalysisResult {
	res := AnalysisResult{}
	if limit := a.policy.MaxSourceBytes; limit > 0 && len(src) > limit {
		res.Errors = append(res.Errors, &engine.Diagnostic{
			Kind:     engine.InterpreterError,
			Message:  fmt.Sprintf("source is %d bytes, the limit is %d", len(src), limit),
			Filename: filename,
		})
		return res
	}
	prog, err := engine.ParseNamed(filename, src)
	if err != nil {
		if d, ok := engine.AsDiagnostic(err); ok {
			res.Errors = append(res.Errors, d)
		} else {
			res.Errors = append(res.Errors, &engine.Diagnostic{Kind: engine.ParseError, Message: err.Error(), Filename: filename})
		}
		return res
	}
	return a.AnalyzeProgram(prog)
}

type declaration struct {
	id   *ast.Identifier
	used bool
}

// AnalyzeProgram runs the checks on an already parsed program.
func (a *Analyzer) AnalyzeProgram(prog *engine.Program) AnalysisResult {
	res := AnalysisResult{}
	declared := map[string]*declaration{}
	var order []*declaration

	a.policy.WalkProgram(prog, engine.WalkHooks{
		Violation: func(d *engine.Diagnostic) bool {
			res.Errors = append(res.Errors, d)
			return true
		},
		Declare: func(id *ast.Identifier, _ bool) {
			d := &declaration{id: id}
			declared[id.Name.String()] = d
			order = append(order, d)
		},
		Reference: func(id *ast.Identifier) {
			name := id.Name.String()
			if d, ok := declared[name]; ok {
				d.used = true
				return
			}
			if d := a.unresolved(prog, id, declared); d != nil {
				res.Errors = append(res.Errors, d)
			}
		},
	})

	for _, d := range order {
		if !d.used {
			res.Warnings = append(res.Warnings, prog.Diagnose(engine.Warning, d.id, "'%s' is declared but never used", d.id.Name.String()))
		}
	}
	res.Warnings = append(res.Warnings, a.checkResult(prog)...)
	return res
}

func (a *Analyzer) unresolved(prog *engine.Program, id *ast.Identifier, declared map[string]*declaration) *engine.Diagnostic {
	name := id.Name.String()
	switch name {
	case "undefined", "NaN", "Infinity":
		return nil
	}
	if a.policy.IsAllowedBuilderFunction(name) {
		if a.functions[name] {
			return nil
		}
		return prog.Diagnose(engine.UnknownIdentifier, id, "'%s' is not provided by the host", name)
	}
	d := prog.Diagnose(engine.UnknownIdentifier, id, "'%s' is not defined", name)
	candidates := make([]string, 0, len(declared)+len(a.functions))
	for fn := range a.functions {
		if a.policy.IsAllowedBuilderFunction(fn) {
			candidates = append(candidates, fn)
		}
	}
	for v := range declared {
		candidates = append(candidates, v)
	}
	if hint := engine.ClosestName(name, candidates); hint != "" {
		d.Message += fmt.Sprintf("; did you mean '%s'?", hint)
	}
	return d
}

// checkResult warns when the script produces no explicit result, and about
// statements that follow the one that does.
func (a *Analyzer) checkResult(prog *engine.Program) []*engine.Diagnostic {
	var out []*engine.Diagnostic
	final := -1
	for i, stmt := range prog.Body {
		if a.isResult(prog, stmt) {
			final = i
			break
		}
	}
	if final < 0 {
		msg := "no export default; the result is the value of the last expression"
		if a.policy.ExportStyle == engine.ExportReturn {
			msg = "no return statement; the result is the value of the last expression"
		}
		out = append(out, &engine.Diagnostic{Kind: engine.Warning, Message: msg, Filename: prog.Filename})
		return out
	}
	for _, stmt := range prog.Body[final+1:] {
		if _, empty := stmt.(*ast.EmptyStatement); empty {
			continue
		}
		out = append(out, prog.Diagnose(engine.Warning, stmt, "unreachable code after the result"))
		break
	}
	return out
}

func (a *Analyzer) isResult(prog *engine.Program, stmt ast.Statement) bool {
	if a.policy.ExportStyle == engine.ExportReturn {
		_, ok := stmt.(*ast.ReturnStatement)
		return ok
	}
	return prog.IsExport(stmt)
}
