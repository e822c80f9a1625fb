package workflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	mdast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"wfscript/pkg/engine"
	"wfscript/pkg/utils/coerce"
)

const (
	ifType             = "n8n-nodes-base.if"
	switchType         = "n8n-nodes-base.switch"
	mergeType          = "n8n-nodes-base.merge"
	splitInBatchesType = "n8n-nodes-base.splitInBatches"
	stickyType         = "n8n-nodes-base.stickyNote"
)

// subnodeKinds maps a sub-node builder to its ai_* connection type.
var subnodeKinds = map[string]string{
	"languageModel":  "ai_languageModel",
	"memory":         "ai_memory",
	"tool":           "ai_tool",
	"outputParser":   "ai_outputParser",
	"embedding":      "ai_embedding",
	"vectorStore":    "ai_vectorStore",
	"retriever":      "ai_retriever",
	"documentLoader": "ai_document",
	"textSplitter":   "ai_textSplitter",
}

var (
	stickyPolicy     *bluemonday.Policy
	stickyMarkdown   goldmark.Markdown
	stickyPolicyOnce sync.Once
)

// sanitizeSticky leaves plain markdown untouched. Content with embedded
// HTML is passed through the UGC policy, which also entity-escapes it.
func sanitizeSticky(content string) string {
	stickyPolicyOnce.Do(func() {
		stickyPolicy = bluemonday.UGCPolicy()
		stickyMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	if !hasRawHTML(content) {
		return content
	}
	return stickyPolicy.Sanitize(content)
}

func hasRawHTML(content string) bool {
	src := []byte(content)
	doc := stickyMarkdown.Parser().Parse(text.NewReader(src))
	found := false
	_ = mdast.Walk(doc, func(n mdast.Node, entering bool) (mdast.WalkStatus, error) {
		if !entering {
			return mdast.WalkContinue, nil
		}
		switch n.Kind() {
		case mdast.KindRawHTML, mdast.KindHTMLBlock:
			found = true
			return mdast.WalkStop, nil
		}
		return mdast.WalkContinue, nil
	})
	return found
}

// Credential is what newCredential returns. It serialises to the n8n
// credential reference shape.
type Credential struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlaceholderValue formats the marker n8n shows as "fill me in".
func PlaceholderValue(hint string) string {
	return "<__PLACEHOLDER_VALUE__" + hint + "__>"
}

// Table returns the builder functions a workflow script may call. Each call
// returns a fresh table; builders keep no state between runs.
func Table() engine.FunctionTable {
	t := engine.FunctionTable{
		"workflow":       buildWorkflow,
		"node":           func(args ...any) (any, error) { return buildNode("node", "", 1, args) },
		"trigger":        buildTrigger,
		"sticky":         buildSticky,
		"placeholder":    buildPlaceholder,
		"newCredential":  buildCredential,
		"ifElse":         func(args ...any) (any, error) { return buildNode("ifElse", ifType, 2.2, args) },
		"switchCase":     func(args ...any) (any, error) { return buildNode("switchCase", switchType, 3.2, args) },
		"merge":          func(args ...any) (any, error) { return buildNode("merge", mergeType, 3, args) },
		"splitInBatches": func(args ...any) (any, error) { return buildNode("splitInBatches", splitInBatchesType, 3, args) },
		"fromAi":         buildFromAi,
		"expr":           buildExpr,
	}
	for builder, connType := range subnodeKinds {
		t[builder] = subnodeBuilder(builder, connType)
	}
	return t
}

func subnodeBuilder(builder, connType string) engine.Function {
	return func(args ...any) (any, error) {
		n, err := buildNode(builder, "", 1, args)
		if err != nil {
			return nil, err
		}
		n.(*Node).ConnType = connType
		return n, nil
	}
}

// optional returns args[i], or nil when it is missing or undefined.
func optional(args []any, i int) any {
	if i >= len(args) || engine.IsUndefined(args[i]) {
		return nil
	}
	return args[i]
}

func buildWorkflow(args ...any) (any, error) {
	id := coerce.ToString(optional(args, 0))
	name := coerce.ToString(optional(args, 1))
	if name == "" {
		name = id
	}
	if name == "" {
		return nil, fmt.Errorf("workflow needs an id or a name")
	}
	settings, err := coerce.ToMap(optional(args, 2))
	if err != nil {
		return nil, fmt.Errorf("workflow settings: %w", err)
	}
	return New(id, name, settings), nil
}

func buildTrigger(args ...any) (any, error) {
	n, err := buildNode("trigger", "", 1, args)
	if err != nil {
		return nil, err
	}
	n.(*Node).Trigger = true
	return n, nil
}

// nodeConfig merges the top-level config with its nested `config` object.
func nodeConfig(builder string, args []any) (map[string]any, error) {
	raw := optional(args, 0)
	if raw == nil {
		return map[string]any{}, nil
	}
	top, err := coerce.ToMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%s expects a config object: %w", builder, err)
	}
	cfg := make(map[string]any, len(top))
	for k, v := range top {
		if k != "config" {
			cfg[k] = v
		}
	}
	if nested, ok := top["config"]; ok && nested != nil {
		inner, err := coerce.ToMap(nested)
		if err != nil {
			return nil, fmt.Errorf("%s config: %w", builder, err)
		}
		for k, v := range inner {
			cfg[k] = v
		}
	}
	return cfg, nil
}

func buildNode(builder, defaultType string, defaultVersion float64, args []any) (any, error) {
	cfg, err := nodeConfig(builder, args)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Type:    coerce.ToStringDef(cfg["type"], defaultType),
		Version: defaultVersion,
	}
	if n.Type == "" {
		return nil, fmt.Errorf("%s needs a type", builder)
	}
	if v, ok := cfg["version"]; ok {
		if n.Version, err = coerce.ToFloat64(v); err != nil {
			return nil, fmt.Errorf("%s version: %w", builder, err)
		}
	}
	n.Name = coerce.ToString(cfg["name"])
	n.ID = coerce.ToString(cfg["id"])
	n.Notes = coerce.ToString(cfg["notes"])
	n.OnError = coerce.ToString(cfg["onError"])
	if n.Disabled, err = coerce.ToBool(cfg["disabled"]); err != nil {
		return nil, fmt.Errorf("%s disabled: %w", builder, err)
	}
	if n.Parameters, err = coerce.ToMap(cfg["parameters"]); err != nil {
		return nil, fmt.Errorf("%s parameters: %w", builder, err)
	}
	if n.Credentials, err = coerce.ToMap(cfg["credentials"]); err != nil {
		return nil, fmt.Errorf("%s credentials: %w", builder, err)
	}
	if pos, ok := cfg["position"]; ok && pos != nil {
		if n.Position, err = position(pos); err != nil {
			return nil, fmt.Errorf("%s position: %w", builder, err)
		}
	}
	if subs, ok := cfg["subnodes"]; ok && subs != nil {
		if n.Subnodes, err = subnodes(subs); err != nil {
			return nil, fmt.Errorf("%s subnodes: %w", builder, err)
		}
	}
	return n, nil
}

func position(v any) ([]float64, error) {
	items, err := coerce.ToSlice(v)
	if err != nil || len(items) != 2 {
		return nil, fmt.Errorf("expected [x, y]")
	}
	out := make([]float64, 2)
	for i, item := range items {
		if out[i], err = coerce.ToFloat64(item); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// subnodes flattens {model: m, tools: [a, b]} into a sorted-key list.
func subnodes(v any) ([]*Node, error) {
	m, err := coerce.ToMap(v)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*Node
	add := func(key string, item any) error {
		n, ok := item.(*Node)
		if !ok || n.ConnType == "" {
			return fmt.Errorf("%s must be a sub-node such as languageModel(...) or tool(...)", key)
		}
		out = append(out, n)
		return nil
	}
	for _, k := range keys {
		switch item := m[k].(type) {
		case nil:
		case []any:
			for _, x := range item {
				if err := add(k, x); err != nil {
					return nil, err
				}
			}
		default:
			if engine.IsUndefined(item) {
				continue
			}
			if err := add(k, item); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func buildSticky(args ...any) (any, error) {
	content := coerce.ToString(optional(args, 0))
	cfg, err := nodeConfig("sticky", args[min(1, len(args)):])
	if err != nil {
		return nil, err
	}
	params := map[string]any{"content": sanitizeSticky(content)}
	for _, key := range []string{"width", "height", "color"} {
		if v, ok := cfg[key]; ok {
			params[key] = v
		}
	}
	n := &Node{
		Type:       stickyType,
		Version:    1,
		Name:       coerce.ToStringDef(cfg["name"], "Sticky Note"),
		Parameters: params,
	}
	if pos, ok := cfg["position"]; ok && pos != nil {
		if n.Position, err = position(pos); err != nil {
			return nil, fmt.Errorf("sticky position: %w", err)
		}
	}
	return n, nil
}

func buildPlaceholder(args ...any) (any, error) {
	hint := coerce.ToString(optional(args, 0))
	if hint == "" {
		return nil, fmt.Errorf("placeholder needs a hint")
	}
	return PlaceholderValue(hint), nil
}

func buildCredential(args ...any) (any, error) {
	name := coerce.ToString(optional(args, 0))
	if name == "" {
		return nil, fmt.Errorf("newCredential needs a name")
	}
	return &Credential{Name: name, ID: coerce.ToString(optional(args, 1))}, nil
}

func buildFromAi(args ...any) (any, error) {
	key := coerce.ToString(optional(args, 0))
	if key == "" {
		return nil, fmt.Errorf("fromAi needs a key")
	}
	parts := []string{quote(key)}
	desc := optional(args, 1)
	typ := optional(args, 2)
	def := optional(args, 3)
	if desc != nil || typ != nil || def != nil {
		parts = append(parts, quote(coerce.ToString(desc)))
	}
	if typ != nil || def != nil {
		parts = append(parts, quote(coerce.ToStringDef(typ, "string")))
	}
	if def != nil {
		parts = append(parts, literal(def))
	}
	return "={{ $fromAI(" + strings.Join(parts, ", ") + ") }}", nil
}

func buildExpr(args ...any) (any, error) {
	text := coerce.ToString(optional(args, 0))
	if strings.HasPrefix(text, "=") {
		return text, nil
	}
	return "=" + text, nil
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return quote(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	}
	return coerce.ToString(v)
}
