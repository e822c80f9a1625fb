package engine

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
)

// ExportStyle selects how a program hands its result back.
type ExportStyle string

const (
	ExportDefault ExportStyle = "default-expr"
	ExportReturn  ExportStyle = "return-stmt"
)

const (
	DefaultMaxDepth       = 256
	DefaultMaxSourceBytes = 1 << 20
)

// Policy parameterises the validators and the interpreter. Presets are built
// fresh by their constructors; a Policy is never mutated once handed to an
// Interpreter, so it can be shared between goroutines.
type Policy struct {
	Name string

	AllowedFunctions *treeset.Set
	AllowedMethods   *treeset.Set
	DangerousGlobals *treeset.Set
	CodeExecGlobals  *treeset.Set

	// ForbiddenKinds carries a tailored explanation per construct. It is
	// consulted before AllowedKinds.
	ForbiddenKinds map[NodeKind]string
	AllowedKinds   map[NodeKind]bool

	AllowAssignment bool
	ExportStyle     ExportStyle

	// SafeGlobalCalls maps a global object name to the methods that may be
	// called on it, e.g. JSON -> stringify.
	SafeGlobalCalls map[string]*treeset.Set
	// SafeValueMethods maps a value type ("string", "array") to the
	// built-in methods reachable on it.
	SafeValueMethods map[string]*treeset.Set

	MaxDepth       int
	MaxSourceBytes int
}

// PolicyOverrides extends a preset, typically from a YAML policy file.
type PolicyOverrides struct {
	AllowedFunctions []string `yaml:"allowed_functions"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	DangerousGlobals []string `yaml:"dangerous_globals"`
	ForbiddenKinds   []string `yaml:"forbidden_kinds"`
	MaxDepth         int      `yaml:"max_depth"`
	MaxSourceBytes   int      `yaml:"max_source_bytes"`
}

var builderFunctions = []string{
	"workflow", "node", "trigger", "sticky", "placeholder", "newCredential",
	"ifElse", "switchCase", "merge", "splitInBatches",
	"languageModel", "memory", "tool", "outputParser", "embedding",
	"vectorStore", "retriever", "documentLoader", "textSplitter",
	"fromAi", "expr",
}

var builderMethods = []string{
	"add", "to", "connect", "output", "input", "settings", "toJSON",
	"onTrue", "onFalse", "onCase", "onError", "onDone", "onEachBatch",
}

var codeExecGlobals = []string{"eval", "Function"}

var hostGlobals = []string{
	"eval", "Function", "require", "module", "exports", "__dirname", "__filename",
	"process", "global", "globalThis", "window", "self", "document",
	"setTimeout", "setInterval", "setImmediate", "clearTimeout", "clearInterval",
	"clearImmediate", "queueMicrotask", "Reflect", "Proxy", "fetch",
	"XMLHttpRequest", "Deno", "Bun",
}

var builtinConstructors = []string{
	"Object", "Array", "String", "Number", "Boolean", "Symbol", "BigInt", "Date",
	"RegExp", "Error", "Promise", "Map", "Set", "WeakMap", "WeakSet", "WeakRef",
	"FinalizationRegistry", "ArrayBuffer", "SharedArrayBuffer", "DataView",
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array", "BigInt64Array",
	"BigUint64Array", "Buffer", "WebAssembly", "Atomics", "Intl",
}

var commonForbidden = map[NodeKind]string{
	KindFunctionDeclaration:      "function declarations are not allowed",
	KindFunctionExpression:       "function expressions are not allowed",
	KindArrowFunctionExpression:  "arrow functions are not allowed; use the fromAi helper directly",
	KindClassDeclaration:         "class declarations are not allowed",
	KindClassExpression:          "class expressions are not allowed",
	KindForStatement:             "for loops are not allowed",
	KindForInStatement:           "for...in loops are not allowed",
	KindForOfStatement:           "for...of loops are not allowed",
	KindWhileStatement:           "while loops are not allowed",
	KindDoWhileStatement:         "do...while loops are not allowed",
	KindTryStatement:             "try/catch statements are not allowed",
	KindThrowStatement:           "throw statements are not allowed",
	KindWithStatement:            "with statements are not allowed",
	KindUpdateExpression:         "increment and decrement operators are not allowed",
	KindNewExpression:            "the new operator is not allowed",
	KindMetaProperty:             "new.target is not allowed",
	KindImportDeclaration:        "import declarations are not allowed; builder functions are provided globally",
	KindImportExpression:         "dynamic import is not allowed",
	KindAwaitExpression:          "await is not allowed; workflow code is evaluated synchronously",
	KindYieldExpression:          "yield is not allowed",
	KindExportNamedDeclaration:   "named exports and re-exports are not allowed; use export default",
	KindTaggedTemplateExpression: "tagged templates are not allowed",
}

var baseAllowed = []NodeKind{
	KindProgram, KindExpressionStatement, KindVariableDeclaration,
	KindExportDefaultDeclaration, KindReturnStatement, KindEmptyStatement,
	KindIdentifier, KindStringLiteral, KindNumericLiteral, KindBooleanLiteral,
	KindNullLiteral, KindTemplateLiteral, KindObjectExpression,
	KindArrayExpression, KindSpreadElement, KindCallExpression,
	KindMemberExpression, KindBinaryExpression, KindLogicalExpression,
	KindUnaryExpression, KindConditionalExpression, KindAssignmentExpression,
}

func newBasePolicy(name string) *Policy {
	p := &Policy{
		Name:             name,
		AllowedFunctions: stringSet(builderFunctions...),
		AllowedMethods:   stringSet(builderMethods...),
		CodeExecGlobals:  stringSet(codeExecGlobals...),
		ForbiddenKinds:   make(map[NodeKind]string, len(commonForbidden)+2),
		AllowedKinds:     make(map[NodeKind]bool, len(baseAllowed)),
		SafeGlobalCalls: map[string]*treeset.Set{
			"JSON": stringSet("stringify", "parse"),
		},
		SafeValueMethods: map[string]*treeset.Set{
			"string": stringSet("repeat", "trim", "toUpperCase", "toLowerCase"),
			"array":  stringSet("join"),
		},
		MaxDepth:       DefaultMaxDepth,
		MaxSourceBytes: DefaultMaxSourceBytes,
	}
	for k, msg := range commonForbidden {
		p.ForbiddenKinds[k] = msg
	}
	for _, k := range baseAllowed {
		p.AllowedKinds[k] = true
	}
	return p
}

// SDKPolicy is the strict preset for workflow SDK code: results are handed
// back with `export default`, bindings are const-only and every core
// constructor is out of reach.
func SDKPolicy() *Policy {
	p := newBasePolicy("sdk")
	p.ExportStyle = ExportDefault
	p.DangerousGlobals = stringSet(append(append([]string{}, hostGlobals...), builtinConstructors...)...)
	p.ForbiddenKinds[KindAssignmentExpression] = "assignment expressions are not allowed; declare a new const instead"
	p.ForbiddenKinds[KindReturnStatement] = "return statements are not allowed; use export default"
	return p
}

// CodePolicy is the relaxed preset used for generated code snippets that
// return their result and may reassign let bindings.
func CodePolicy() *Policy {
	p := newBasePolicy("code")
	p.ExportStyle = ExportReturn
	p.AllowAssignment = true
	p.DangerousGlobals = stringSet(hostGlobals...)
	p.ForbiddenKinds[KindExportDefaultDeclaration] = "export default is not allowed; return the result instead"
	return p
}

// PolicyByName resolves a preset by its name.
func PolicyByName(name string) (*Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sdk":
		return SDKPolicy(), nil
	case "code":
		return CodePolicy(), nil
	}
	return nil, fmt.Errorf("unknown policy %q (expected sdk or code)", name)
}

// Clone returns a deep copy that can be modified freely.
func (p *Policy) Clone() *Policy {
	c := *p
	c.AllowedFunctions = cloneSet(p.AllowedFunctions)
	c.AllowedMethods = cloneSet(p.AllowedMethods)
	c.DangerousGlobals = cloneSet(p.DangerousGlobals)
	c.CodeExecGlobals = cloneSet(p.CodeExecGlobals)
	c.ForbiddenKinds = make(map[NodeKind]string, len(p.ForbiddenKinds))
	for k, v := range p.ForbiddenKinds {
		c.ForbiddenKinds[k] = v
	}
	c.AllowedKinds = make(map[NodeKind]bool, len(p.AllowedKinds))
	for k, v := range p.AllowedKinds {
		c.AllowedKinds[k] = v
	}
	c.SafeGlobalCalls = cloneSetMap(p.SafeGlobalCalls)
	c.SafeValueMethods = cloneSetMap(p.SafeValueMethods)
	return &c
}

// Extend returns a copy of p with the overrides applied. Dangerous globals
// always win over allowed functions.
func (p *Policy) Extend(o PolicyOverrides) (*Policy, error) {
	c := p.Clone()
	for _, name := range o.AllowedFunctions {
		c.AllowedFunctions.Add(name)
	}
	for _, name := range o.AllowedMethods {
		c.AllowedMethods.Add(name)
	}
	for _, name := range o.DangerousGlobals {
		c.DangerousGlobals.Add(name)
	}
	for _, name := range o.ForbiddenKinds {
		kind, ok := ParseNodeKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown node kind %q in forbidden_kinds", name)
		}
		c.ForbiddenKinds[kind] = fmt.Sprintf("%s is not allowed by policy %s", kind, c.Name)
	}
	if o.MaxDepth > 0 {
		c.MaxDepth = o.MaxDepth
	}
	if o.MaxSourceBytes > 0 {
		c.MaxSourceBytes = o.MaxSourceBytes
	}
	return c, nil
}

// Functions lists the allowed builder names in sorted order.
func (p *Policy) Functions() []string { return setStrings(p.AllowedFunctions) }

// Methods lists the allowed builder methods in sorted order.
func (p *Policy) Methods() []string { return setStrings(p.AllowedMethods) }

// Globals lists the dangerous globals in sorted order.
func (p *Policy) Globals() []string { return setStrings(p.DangerousGlobals) }

func stringSet(values ...string) *treeset.Set {
	s := treeset.NewWithStringComparator()
	for _, v := range values {
		s.Add(v)
	}
	return s
}

func setStrings(s *treeset.Set) []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, s.Size())
	for _, v := range s.Values() {
		out = append(out, v.(string))
	}
	return out
}

func setHas(s *treeset.Set, name string) bool {
	return s != nil && s.Contains(name)
}

func cloneSet(s *treeset.Set) *treeset.Set {
	if s == nil {
		return nil
	}
	return treeset.NewWithStringComparator(s.Values()...)
}

func cloneSetMap(m map[string]*treeset.Set) map[string]*treeset.Set {
	out := make(map[string]*treeset.Set, len(m))
	for k, v := range m {
		out[k] = cloneSet(v)
	}
	return out
}
