package engine

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

// NodeKind tags every syntax-tree node the parser can hand to the interpreter.
// Policies allow and forbid constructs by kind, never by Go type.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindProgram
	KindExpressionStatement
	KindVariableDeclaration
	KindExportDefaultDeclaration
	KindReturnStatement
	KindEmptyStatement
	KindIdentifier
	KindStringLiteral
	KindNumericLiteral
	KindBigIntLiteral
	KindBooleanLiteral
	KindNullLiteral
	KindRegExpLiteral
	KindTemplateLiteral
	KindTaggedTemplateExpression
	KindObjectExpression
	KindArrayExpression
	KindSpreadElement
	KindCallExpression
	KindMemberExpression
	KindOptionalChain
	KindBinaryExpression
	KindLogicalExpression
	KindUnaryExpression
	KindUpdateExpression
	KindConditionalExpression
	KindAssignmentExpression
	KindSequenceExpression
	KindFunctionDeclaration
	KindFunctionExpression
	KindArrowFunctionExpression
	KindClassDeclaration
	KindClassExpression
	KindForStatement
	KindForInStatement
	KindForOfStatement
	KindWhileStatement
	KindDoWhileStatement
	KindTryStatement
	KindThrowStatement
	KindWithStatement
	KindNewExpression
	KindAwaitExpression
	KindYieldExpression
	KindImportDeclaration
	KindImportExpression
	KindExportNamedDeclaration
	KindIfStatement
	KindBlockStatement
	KindSwitchStatement
	KindLabeledStatement
	KindBreakStatement
	KindContinueStatement
	KindDebuggerStatement
	KindThisExpression
	KindMetaProperty
	KindObjectPattern
	KindArrayPattern

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:                  "Unknown",
	KindProgram:                  "Program",
	KindExpressionStatement:      "ExpressionStatement",
	KindVariableDeclaration:      "VariableDeclaration",
	KindExportDefaultDeclaration: "ExportDefaultDeclaration",
	KindReturnStatement:          "ReturnStatement",
	KindEmptyStatement:           "EmptyStatement",
	KindIdentifier:               "Identifier",
	KindStringLiteral:            "StringLiteral",
	KindNumericLiteral:           "NumericLiteral",
	KindBigIntLiteral:            "BigIntLiteral",
	KindBooleanLiteral:           "BooleanLiteral",
	KindNullLiteral:              "NullLiteral",
	KindRegExpLiteral:            "RegExpLiteral",
	KindTemplateLiteral:          "TemplateLiteral",
	KindTaggedTemplateExpression: "TaggedTemplateExpression",
	KindObjectExpression:         "ObjectExpression",
	KindArrayExpression:          "ArrayExpression",
	KindSpreadElement:            "SpreadElement",
	KindCallExpression:           "CallExpression",
	KindMemberExpression:         "MemberExpression",
	KindOptionalChain:            "OptionalChain",
	KindBinaryExpression:         "BinaryExpression",
	KindLogicalExpression:        "LogicalExpression",
	KindUnaryExpression:          "UnaryExpression",
	KindUpdateExpression:         "UpdateExpression",
	KindConditionalExpression:    "ConditionalExpression",
	KindAssignmentExpression:     "AssignmentExpression",
	KindSequenceExpression:       "SequenceExpression",
	KindFunctionDeclaration:      "FunctionDeclaration",
	KindFunctionExpression:       "FunctionExpression",
	KindArrowFunctionExpression:  "ArrowFunctionExpression",
	KindClassDeclaration:         "ClassDeclaration",
	KindClassExpression:          "ClassExpression",
	KindForStatement:             "ForStatement",
	KindForInStatement:           "ForInStatement",
	KindForOfStatement:           "ForOfStatement",
	KindWhileStatement:           "WhileStatement",
	KindDoWhileStatement:         "DoWhileStatement",
	KindTryStatement:             "TryStatement",
	KindThrowStatement:           "ThrowStatement",
	KindWithStatement:            "WithStatement",
	KindNewExpression:            "NewExpression",
	KindAwaitExpression:          "AwaitExpression",
	KindYieldExpression:          "YieldExpression",
	KindImportDeclaration:        "ImportDeclaration",
	KindImportExpression:         "ImportExpression",
	KindExportNamedDeclaration:   "ExportNamedDeclaration",
	KindIfStatement:              "IfStatement",
	KindBlockStatement:           "BlockStatement",
	KindSwitchStatement:          "SwitchStatement",
	KindLabeledStatement:         "LabeledStatement",
	KindBreakStatement:           "BreakStatement",
	KindContinueStatement:        "ContinueStatement",
	KindDebuggerStatement:        "DebuggerStatement",
	KindThisExpression:           "ThisExpression",
	KindMetaProperty:             "MetaProperty",
	KindObjectPattern:            "ObjectPattern",
	KindArrayPattern:             "ArrayPattern",
}

func (k NodeKind) String() string {
	if k < 0 || k >= kindCount {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseNodeKind resolves an ESTree-style name such as "ForStatement".
func ParseNodeKind(name string) (NodeKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return NodeKind(k), true
		}
	}
	return KindUnknown, false
}

// KindOf classifies a goja node. It does not know about the module surface,
// so a rewritten `export default` comes back as an AssignmentExpression
// statement; use Program.KindOf for the refined answer.
func KindOf(node ast.Node) NodeKind {
	switch n := node.(type) {
	case *ast.Program:
		return KindProgram
	case *ast.ExpressionStatement:
		return KindExpressionStatement
	case *ast.LexicalDeclaration, *ast.VariableStatement:
		return KindVariableDeclaration
	case *ast.ReturnStatement:
		return KindReturnStatement
	case *ast.EmptyStatement:
		return KindEmptyStatement
	case *ast.Identifier:
		return KindIdentifier
	case *ast.StringLiteral:
		return KindStringLiteral
	case *ast.NumberLiteral:
		switch n.Value.(type) {
		case int64, float64:
			return KindNumericLiteral
		}
		return KindBigIntLiteral
	case *ast.BooleanLiteral:
		return KindBooleanLiteral
	case *ast.NullLiteral:
		return KindNullLiteral
	case *ast.RegExpLiteral:
		return KindRegExpLiteral
	case *ast.TemplateLiteral:
		if n.Tag != nil {
			return KindTaggedTemplateExpression
		}
		return KindTemplateLiteral
	case *ast.ObjectLiteral:
		return KindObjectExpression
	case *ast.ArrayLiteral:
		return KindArrayExpression
	case *ast.SpreadElement:
		return KindSpreadElement
	case *ast.CallExpression:
		return KindCallExpression
	case *ast.DotExpression, *ast.BracketExpression:
		return KindMemberExpression
	case *ast.OptionalChain, *ast.Optional:
		return KindOptionalChain
	case *ast.BinaryExpression:
		switch n.Operator {
		case token.LOGICAL_AND, token.LOGICAL_OR, token.COALESCE:
			return KindLogicalExpression
		}
		return KindBinaryExpression
	case *ast.UnaryExpression:
		if n.Operator == token.INCREMENT || n.Operator == token.DECREMENT {
			return KindUpdateExpression
		}
		return KindUnaryExpression
	case *ast.ConditionalExpression:
		return KindConditionalExpression
	case *ast.AssignExpression:
		return KindAssignmentExpression
	case *ast.SequenceExpression:
		return KindSequenceExpression
	case *ast.FunctionDeclaration:
		return KindFunctionDeclaration
	case *ast.FunctionLiteral:
		return KindFunctionExpression
	case *ast.ArrowFunctionLiteral:
		return KindArrowFunctionExpression
	case *ast.ClassDeclaration:
		return KindClassDeclaration
	case *ast.ClassLiteral:
		return KindClassExpression
	case *ast.ForStatement:
		return KindForStatement
	case *ast.ForInStatement:
		return KindForInStatement
	case *ast.ForOfStatement:
		return KindForOfStatement
	case *ast.WhileStatement:
		return KindWhileStatement
	case *ast.DoWhileStatement:
		return KindDoWhileStatement
	case *ast.TryStatement:
		return KindTryStatement
	case *ast.ThrowStatement:
		return KindThrowStatement
	case *ast.WithStatement:
		return KindWithStatement
	case *ast.NewExpression:
		return KindNewExpression
	case *ast.IfStatement:
		return KindIfStatement
	case *ast.BlockStatement:
		return KindBlockStatement
	case *ast.SwitchStatement:
		return KindSwitchStatement
	case *ast.LabelledStatement:
		return KindLabeledStatement
	case *ast.BranchStatement:
		if n.Token == token.CONTINUE {
			return KindContinueStatement
		}
		return KindBreakStatement
	case *ast.DebuggerStatement:
		return KindDebuggerStatement
	case *ast.ThisExpression:
		return KindThisExpression
	case *ast.MetaProperty:
		return KindMetaProperty
	case *ast.ObjectPattern:
		return KindObjectPattern
	case *ast.ArrayPattern:
		return KindArrayPattern
	}
	return KindUnknown
}
