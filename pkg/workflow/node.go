package workflow

import (
	"fmt"
	"strings"
	"unicode"

	"wfscript/pkg/engine"
	"wfscript/pkg/utils/coerce"
)

const mainConnection = "main"

// Node is a workflow step or an AI sub-node. Builders create it, chaining
// methods wire it, and Workflow.Add collects everything reachable from it.
type Node struct {
	ID          string
	Name        string
	Type        string
	Version     float64
	Position    []float64
	Parameters  map[string]any
	Credentials map[string]any
	Disabled    bool
	Notes       string
	OnError     string

	// ConnType is the ai_* connection type for sub-nodes and empty for
	// regular nodes.
	ConnType string
	Trigger  bool
	Subnodes []*Node

	edges []edge
}

type edge struct {
	output int
	target *Node
	input  int
}

// Connect wires output of n to input of target.
func (n *Node) Connect(output int, target *Node, input int) {
	for _, e := range n.edges {
		if e.output == output && e.target == target && e.input == input {
			return
		}
	}
	n.edges = append(n.edges, edge{output: output, target: target, input: input})
}

func (n *Node) GetProperty(name string) (any, bool) {
	switch name {
	case "name":
		return n.Name, true
	case "type":
		return n.Type, true
	case "id":
		return n.ID, true
	case "version":
		return n.Version, true
	case "parameters":
		return n.Parameters, true
	}
	return nil, false
}

func (n *Node) CallMethod(name string, args []any) (any, error) {
	switch name {
	case "to":
		target, input, err := targetArg(args, 0)
		if err != nil {
			return nil, err
		}
		n.Connect(0, target, input)
		return &Chain{Head: n, Tail: target}, nil
	case "output":
		idx, err := indexArg(args, 0)
		if err != nil {
			return nil, err
		}
		return &OutputRef{Node: n, Index: idx}, nil
	case "input":
		idx, err := indexArg(args, 0)
		if err != nil {
			return nil, err
		}
		return &InputRef{Node: n, Index: idx}, nil
	case "onTrue":
		return n.branch(0, args, 0)
	case "onFalse":
		return n.branch(1, args, 0)
	case "onCase":
		idx, err := indexArg(args, 0)
		if err != nil {
			return nil, err
		}
		return n.branch(idx, args, 1)
	case "onDone":
		return n.branch(0, args, 0)
	case "onEachBatch":
		return n.branch(1, args, 0)
	case "onError":
		n.OnError = "continueErrorOutput"
		return n.branch(1, args, 0)
	}
	return nil, fmt.Errorf("node %q has no method %s", n.Name, name)
}

func (n *Node) branch(output int, args []any, at int) (any, error) {
	target, input, err := targetArg(args, at)
	if err != nil {
		return nil, err
	}
	n.Connect(output, target, input)
	return n, nil
}

func (n *Node) String() string {
	return fmt.Sprintf("node(%s)", n.Name)
}

// Chain is the result of `a.to(b)`: it remembers where the chain started so
// that adding it to a workflow adds every node on it.
type Chain struct {
	Head *Node
	Tail *Node
}

func (c *Chain) CallMethod(name string, args []any) (any, error) {
	if name != "to" {
		return nil, fmt.Errorf("a node chain has no method %s", name)
	}
	target, input, err := targetArg(args, 0)
	if err != nil {
		return nil, err
	}
	c.Tail.Connect(0, target, input)
	return &Chain{Head: c.Head, Tail: target}, nil
}

func (c *Chain) GetProperty(name string) (any, bool) {
	switch name {
	case "head":
		return c.Head, true
	case "tail":
		return c.Tail, true
	}
	return nil, false
}

// OutputRef is `node.output(i)`.
type OutputRef struct {
	Node  *Node
	Index int
}

func (o *OutputRef) CallMethod(name string, args []any) (any, error) {
	if name != "to" {
		return nil, fmt.Errorf("an output reference has no method %s", name)
	}
	target, input, err := targetArg(args, 0)
	if err != nil {
		return nil, err
	}
	o.Node.Connect(o.Index, target, input)
	return &Chain{Head: o.Node, Tail: target}, nil
}

// InputRef is `node.input(i)`, used as the target of a connection.
type InputRef struct {
	Node  *Node
	Index int
}

func targetArg(args []any, i int) (*Node, int, error) {
	if i >= len(args) {
		return nil, 0, fmt.Errorf("missing target node")
	}
	switch t := args[i].(type) {
	case *Node:
		if t.ConnType != "" {
			return nil, 0, fmt.Errorf("sub-node %q cannot be a connection target; attach it through subnodes", t.Name)
		}
		return t, 0, nil
	case *InputRef:
		return t.Node, t.Index, nil
	case *Chain:
		return t.Head, 0, nil
	}
	return nil, 0, fmt.Errorf("expected a node, got %T", args[i])
}

func indexArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing index")
	}
	idx, err := coerce.ToInt(args[i])
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("index must be a non-negative integer, got %v", args[i])
	}
	return idx, nil
}

// headNode resolves anything that can be added to a workflow.
func headNode(v any) (*Node, *Node, error) {
	switch x := v.(type) {
	case *Node:
		return x, x, nil
	case *Chain:
		return x.Head, x.Tail, nil
	case *OutputRef:
		return x.Node, x.Node, nil
	case *InputRef:
		return x.Node, x.Node, nil
	}
	return nil, nil, fmt.Errorf("expected a node, got %T", v)
}

// defaultName turns "n8n-nodes-base.httpRequest" into "Http Request".
func defaultName(nodeType string) string {
	base := nodeType
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[i+1:]
	}
	var b strings.Builder
	for i, r := range base {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteByte(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Node"
	}
	return b.String()
}

var _ engine.Chainable = (*Node)(nil)
var _ engine.PropertyGetter = (*Node)(nil)
var _ engine.Chainable = (*Chain)(nil)
var _ engine.Chainable = (*OutputRef)(nil)
