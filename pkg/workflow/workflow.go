package workflow

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"wfscript/pkg/engine"
	"wfscript/pkg/utils/coerce"
)

const (
	layoutStepX   = 220.0
	layoutStepY   = 200.0
	layoutOriginX = 250.0
	layoutOriginY = 300.0
)

// Workflow collects nodes and their connections. It is the value a workflow
// script exports.
type Workflow struct {
	ID       string
	Name     string
	Settings map[string]any

	nodes []*Node
	seen  map[*Node]bool
	names map[string]*Node
	last  *Node
}

// New creates an empty workflow. A blank id is derived from the name.
func New(id, name string, settings map[string]any) *Workflow {
	if id == "" {
		id = slug.Make(name)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return &Workflow{
		ID:       id,
		Name:     name,
		Settings: settings,
		seen:     map[*Node]bool{},
		names:    map[string]*Node{},
	}
}

// Nodes returns the workflow nodes in the order they were added.
func (w *Workflow) Nodes() []*Node {
	out := make([]*Node, len(w.nodes))
	copy(out, w.nodes)
	return out
}

// Node looks a node up by its final name.
func (w *Workflow) Node(name string) (*Node, bool) {
	n, ok := w.names[name]
	return n, ok
}

// Add adds v and every node reachable from it. v may be a node, a chain or
// an input/output reference.
func (w *Workflow) Add(v any) error {
	head, tail, err := headNode(v)
	if err != nil {
		return err
	}
	w.collect(head)
	w.last = tail
	return nil
}

// To connects the most recently added node to v and adds v.
func (w *Workflow) To(v any) error {
	if w.last == nil {
		return w.Add(v)
	}
	target, input, err := targetArg([]any{v}, 0)
	if err != nil {
		return err
	}
	w.last.Connect(0, target, input)
	_, tail, _ := headNode(v)
	w.collect(target)
	w.last = tail
	return nil
}

// ConnectNodes wires from's output to to and adds both.
func (w *Workflow) ConnectNodes(from, to any, output int) error {
	src, _, err := headNode(from)
	if err != nil {
		return err
	}
	if ref, ok := from.(*OutputRef); ok {
		output = ref.Index
	}
	target, input, err := targetArg([]any{to}, 0)
	if err != nil {
		return err
	}
	src.Connect(output, target, input)
	w.collect(src)
	w.collect(target)
	return nil
}

func (w *Workflow) collect(n *Node) {
	if w.seen[n] {
		return
	}
	w.seen[n] = true
	w.register(n)
	for _, sub := range n.Subnodes {
		w.collect(sub)
	}
	for _, e := range n.edges {
		w.collect(e.target)
	}
}

// register gives n a unique name, a stable id and a position.
func (w *Workflow) register(n *Node) {
	if n.Name == "" {
		n.Name = defaultName(n.Type)
	}
	if _, taken := w.names[n.Name]; taken {
		base := n.Name
		for i := 1; ; i++ {
			candidate := base + " " + strconv.Itoa(i)
			if _, taken := w.names[candidate]; !taken {
				n.Name = candidate
				break
			}
		}
	}
	w.names[n.Name] = n
	if n.ID == "" {
		n.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(w.ID+"/"+n.Name)).String()
	}
	w.nodes = append(w.nodes, n)
}

func (w *Workflow) CallMethod(name string, args []any) (any, error) {
	switch name {
	case "add":
		if len(args) == 0 {
			return nil, fmt.Errorf("add needs a node")
		}
		for _, a := range args {
			if err := w.Add(a); err != nil {
				return nil, err
			}
		}
		return w, nil
	case "to":
		if len(args) == 0 {
			return nil, fmt.Errorf("to needs a node")
		}
		if err := w.To(args[0]); err != nil {
			return nil, err
		}
		return w, nil
	case "connect":
		if len(args) < 2 {
			return nil, fmt.Errorf("connect needs a source and a target node")
		}
		output := 0
		if len(args) > 2 {
			idx, err := indexArg(args, 2)
			if err != nil {
				return nil, err
			}
			output = idx
		}
		if err := w.ConnectNodes(args[0], args[1], output); err != nil {
			return nil, err
		}
		return w, nil
	case "settings":
		if len(args) == 0 {
			return nil, fmt.Errorf("settings needs an object")
		}
		m, err := coerce.ToMap(args[0])
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			w.Settings[k] = v
		}
		return w, nil
	case "toJSON":
		return w.Export(), nil
	}
	return nil, fmt.Errorf("workflow has no method %s", name)
}

func (w *Workflow) GetProperty(name string) (any, bool) {
	switch name {
	case "id":
		return w.ID, true
	case "name":
		return w.Name, true
	case "nodeCount":
		return float64(len(w.nodes)), true
	}
	return nil, false
}

func (w *Workflow) String() string {
	return fmt.Sprintf("workflow(%s)", w.Name)
}

type exportedNode struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion"`
	Position    [2]float64     `json:"position"`
	Parameters  map[string]any `json:"parameters"`
	Credentials map[string]any `json:"credentials,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	OnError     string         `json:"onError,omitempty"`
}

type exportedLink struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Exported is the n8n document shape.
type Exported struct {
	ID          string                                `json:"id"`
	Name        string                                `json:"name"`
	Nodes       []exportedNode                        `json:"nodes"`
	Connections map[string]map[string][][]exportedLink `json:"connections"`
	Settings    map[string]any                        `json:"settings"`
}

// Export builds the n8n document. Nodes without an explicit position are
// laid out left to right by distance from their root, with sub-nodes placed
// under their parent.
func (w *Workflow) Export() *Exported {
	positions := w.layout()
	doc := &Exported{
		ID:          w.ID,
		Name:        w.Name,
		Nodes:       make([]exportedNode, 0, len(w.nodes)),
		Connections: map[string]map[string][][]exportedLink{},
		Settings:    w.Settings,
	}
	for _, n := range w.nodes {
		params := n.Parameters
		if params == nil {
			params = map[string]any{}
		}
		doc.Nodes = append(doc.Nodes, exportedNode{
			ID:          n.ID,
			Name:        n.Name,
			Type:        n.Type,
			TypeVersion: n.Version,
			Position:    positions[n],
			Parameters:  params,
			Credentials: n.Credentials,
			Disabled:    n.Disabled,
			Notes:       n.Notes,
			OnError:     n.OnError,
		})
		for _, e := range n.edges {
			doc.link(n.Name, mainConnection, e.output, exportedLink{Node: e.target.Name, Type: mainConnection, Index: e.input})
		}
		for _, sub := range n.Subnodes {
			doc.link(sub.Name, sub.ConnType, 0, exportedLink{Node: n.Name, Type: sub.ConnType, Index: 0})
		}
	}
	return doc
}

func (d *Exported) link(from, connType string, output int, l exportedLink) {
	byType, ok := d.Connections[from]
	if !ok {
		byType = map[string][][]exportedLink{}
		d.Connections[from] = byType
	}
	outputs := byType[connType]
	for len(outputs) <= output {
		outputs = append(outputs, []exportedLink{})
	}
	outputs[output] = append(outputs[output], l)
	byType[connType] = outputs
}

func (w *Workflow) layout() map[*Node][2]float64 {
	incoming := map[*Node]bool{}
	for _, n := range w.nodes {
		for _, e := range n.edges {
			incoming[e.target] = true
		}
	}
	column := map[*Node]int{}
	var visit func(n *Node, col int)
	visit = func(n *Node, col int) {
		if c, ok := column[n]; ok && c >= col {
			return
		}
		column[n] = col
		if col > len(w.nodes) {
			return
		}
		for _, e := range n.edges {
			visit(e.target, col+1)
		}
	}
	for _, n := range w.nodes {
		if n.ConnType == "" && !incoming[n] {
			visit(n, 0)
		}
	}

	rows := map[int]int{}
	out := make(map[*Node][2]float64, len(w.nodes))
	for _, n := range w.nodes {
		if n.ConnType != "" {
			continue
		}
		col := column[n]
		pos := [2]float64{layoutOriginX + float64(col)*layoutStepX, layoutOriginY + float64(rows[col])*layoutStepY}
		rows[col]++
		if len(n.Position) == 2 {
			pos = [2]float64{n.Position[0], n.Position[1]}
		}
		out[n] = pos
		for i, sub := range n.Subnodes {
			sp := [2]float64{pos[0] + float64(i)*layoutStepX/2, pos[1] + layoutStepY}
			if len(sub.Position) == 2 {
				sp = [2]float64{sub.Position[0], sub.Position[1]}
			}
			if _, placed := out[sub]; !placed {
				out[sub] = sp
			}
		}
	}
	for _, n := range w.nodes {
		if _, ok := out[n]; !ok && len(n.Position) == 2 {
			out[n] = [2]float64{n.Position[0], n.Position[1]}
		}
	}
	return out
}

// JSON serialises the workflow as indented n8n JSON.
func (w *Workflow) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := gojson.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.Export()); err != nil {
		return nil, fmt.Errorf("failed to encode workflow %q: %w", w.Name, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// NodeNames returns the sorted node names.
func (w *Workflow) NodeNames() []string {
	names := make([]string, 0, len(w.names))
	for name := range w.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromResult extracts the workflow from an interpretation result.
func FromResult(v any) (*Workflow, error) {
	if w, ok := v.(*Workflow); ok {
		return w, nil
	}
	return nil, fmt.Errorf("script must export a workflow, got %s", describe(v))
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case *Node:
		return "a node"
	case *Chain:
		return "a node chain"
	}
	if engine.IsUndefined(v) {
		return "nothing"
	}
	return fmt.Sprintf("%T", v)
}

var _ engine.Chainable = (*Workflow)(nil)
var _ engine.PropertyGetter = (*Workflow)(nil)
