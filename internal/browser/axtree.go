package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// maxAXTreeDepth bounds tree walks. Real pages nest a few dozen levels;
// anything deeper means corrupt or cyclic child links.
const maxAXTreeDepth = 128

// maxAttrValueLength caps serialized attribute values, in runes.
const maxAttrValueLength = 100

// axValue is a lenient decode of the protocol's AXValue. The generated
// cdproto bindings validate enum fields and reject property names that newer
// Chrome versions emit, so the tree is fetched through the raw command and
// decoded into these permissive shapes instead.
type axValue struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

// axProperty is a lenient decode of the protocol's AXProperty.
type axProperty struct {
	Name  string   `json:"name"`
	Value *axValue `json:"value,omitempty"`
}

// axNode is a lenient decode of the protocol's AXNode.
type axNode struct {
	NodeID           string        `json:"nodeId"`
	Ignored          bool          `json:"ignored"`
	Role             *axValue      `json:"role,omitempty"`
	Name             *axValue      `json:"name,omitempty"`
	Value            *axValue      `json:"value,omitempty"`
	Properties       []*axProperty `json:"properties,omitempty"`
	ParentID         string        `json:"parentId,omitempty"`
	ChildIDs         []string      `json:"childIds,omitempty"`
	BackendDOMNodeID int64         `json:"backendDOMNodeId,omitempty"`
}

// axTreeResult is the result envelope of Accessibility.getFullAXTree.
type axTreeResult struct {
	Nodes []*axNode `json:"nodes"`
}

// fetchAXNodes pulls the flat accessibility node list for every frame of the
// current target. It must run inside a chromedp action so the context carries
// the CDP executor.
func fetchAXNodes(ctx context.Context) ([]*axNode, error) {
	var result axTreeResult
	if err := cdp.Execute(ctx, "Accessibility.getFullAXTree", nil, &result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// axValueString extracts the scalar payload of a lenient AXValue.
func axValueString(v *axValue) string {
	if v == nil || v.Value == nil {
		return ""
	}
	switch val := v.Value.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// axTree links the flat node list back into its hierarchy. Child order
// follows each node's childIds, which the protocol reports in document
// order; roots are the nodes no other node claims as a child, in list order.
type axTree struct {
	byID  map[string]*axNode
	roots []*axNode
}

func buildAXTree(nodes []*axNode) *axTree {
	t := &axTree{byID: make(map[string]*axNode, len(nodes))}
	for _, n := range nodes {
		if n != nil && n.NodeID != "" {
			t.byID[n.NodeID] = n
		}
	}

	claimed := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		for _, id := range n.ChildIDs {
			if _, ok := t.byID[id]; ok {
				claimed[id] = true
			}
		}
	}
	for _, n := range nodes {
		if n != nil && n.NodeID != "" && !claimed[n.NodeID] {
			t.roots = append(t.roots, n)
		}
	}
	return t
}

func (t *axTree) children(n *axNode) []*axNode {
	if len(n.ChildIDs) == 0 {
		return nil
	}
	kids := make([]*axNode, 0, len(n.ChildIDs))
	for _, id := range n.ChildIDs {
		if child, ok := t.byID[id]; ok {
			kids = append(kids, child)
		}
	}
	return kids
}

// hoistRoles are structural noise: the node itself is dropped from the
// serialized tree and from locator counting, while its children are hoisted
// into the parent's position. Text-ish roles are dropped because page text
// reaches the model through the visible-text excerpt, not the tree.
var hoistRoles = map[string]bool{
	"":              true,
	"generic":       true,
	"none":          true,
	"presentation":  true,
	"rootwebarea":   true,
	"statictext":    true,
	"inlinetextbox": true,
	"linebreak":     true,
	"paragraph":     true,
}

// emitted reports whether a node appears in the serialized tree. The locator
// resolver applies the same test so that ordinal counting stays aligned with
// what the parser saw.
func emitted(n *axNode) bool {
	if n == nil || n.Ignored {
		return false
	}
	return !hoistRoles[strings.ToLower(axValueString(n.Role))]
}

// serializeAXTree renders the node list in the nested role-labeled YAML form
// the accessibility parser consumes: a sequence whose entries read
// `role "name" [attr=value]`, with children nested under their parent's
// label. Labels are emitted through the YAML encoder so that names
// containing YAML syntax survive the round trip.
func serializeAXTree(nodes []*axNode) (string, error) {
	tree := buildAXTree(nodes)
	seen := make(map[string]bool, len(nodes))
	items := yamlItems(tree, tree.roots, seen, 0)
	if len(items) == 0 {
		return "", nil
	}

	out, err := yaml.Marshal(&yaml.Node{Kind: yaml.SequenceNode, Content: items})
	if err != nil {
		return "", fmt.Errorf("failed to encode accessibility tree: %w", err)
	}
	return string(out), nil
}

// yamlItems converts a sibling list into YAML sequence content. A node with
// no emitted children becomes a scalar entry; one with children becomes a
// single-key mapping whose value is the child sequence. Hoisted nodes
// contribute their children in place.
func yamlItems(tree *axTree, siblings []*axNode, seen map[string]bool, depth int) []*yaml.Node {
	if depth > maxAXTreeDepth {
		return nil
	}

	var items []*yaml.Node
	for _, n := range siblings {
		if n == nil || seen[n.NodeID] {
			continue
		}
		seen[n.NodeID] = true

		if !emitted(n) {
			items = append(items, yamlItems(tree, tree.children(n), seen, depth+1)...)
			continue
		}

		label := nodeLabel(n)
		children := yamlItems(tree, tree.children(n), seen, depth+1)
		if len(children) == 0 {
			items = append(items, &yaml.Node{Kind: yaml.ScalarNode, Value: label})
			continue
		}
		items = append(items, &yaml.Node{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Value: label},
				{Kind: yaml.SequenceNode, Content: children},
			},
		})
	}
	return items
}

// nodeLabel renders one node as `role "name" [attr, attr=value]`. The name
// keeps only quote escaping, mirroring what the parser unescapes; everything
// else is carried literally by the YAML layer.
func nodeLabel(n *axNode) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(axValueString(n.Role)))

	if name := collapseSpace(axValueString(n.Name)); name != "" {
		b.WriteString(` "`)
		b.WriteString(strings.ReplaceAll(name, `"`, `\"`))
		b.WriteString(`"`)
	}

	if attrs := nodeAttrs(n); len(attrs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(attrs, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// nodeAttrs collects the attribute block: the current value plus the state
// flags the agent acts on. Focus and disabled state change which element a
// key press or click reaches, so they are worth the bytes.
func nodeAttrs(n *axNode) []string {
	var attrs []string
	if v := attrValue(axValueString(n.Value)); v != "" {
		attrs = append(attrs, "value="+v)
	}
	for _, p := range n.Properties {
		if p == nil {
			continue
		}
		switch strings.ToLower(p.Name) {
		case "focused":
			if axValueString(p.Value) == "true" {
				attrs = append(attrs, "focused")
			}
		case "disabled":
			if axValueString(p.Value) == "true" {
				attrs = append(attrs, "disabled")
			}
		case "checked":
			if v := axValueString(p.Value); v != "" && v != "false" {
				attrs = append(attrs, "checked="+attrValue(v))
			}
		case "expanded":
			attrs = append(attrs, "expanded="+axValueString(p.Value))
		}
	}
	return attrs
}

// attrValue makes a string safe for the bracketed attribute block, which is
// split on commas and closed by a bracket.
func attrValue(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '[', ']':
			return ' '
		}
		return r
	}, s)
	s = collapseSpace(s)
	if runes := []rune(s); len(runes) > maxAttrValueLength {
		s = string(runes[:maxAttrValueLength])
	}
	return s
}

// collapseSpace folds whitespace runs to single spaces and trims. Names pass
// through the same fold on the serialize and resolve paths, so a locator
// name always compares equal to the live accessible name it came from.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveBackendID finds the DOM node a locator points at. It walks the tree
// in document order counting nodes whose role and collapsed accessible name
// match, and returns the backend node id of the locator's ordinal match.
// Only nodes the serializer would emit participate in the count.
func resolveBackendID(nodes []*axNode, loc schemas.Locator) (cdp.BackendNodeID, error) {
	tree := buildAXTree(nodes)
	wantRole := strings.ToLower(strings.TrimSpace(loc.Role))
	wantName := collapseSpace(loc.Name)
	wantNth := loc.Nth
	if wantNth < 0 {
		wantNth = 0
	}

	var found *axNode
	matched := 0
	seen := make(map[string]bool, len(nodes))

	var walk func(n *axNode, depth int) bool
	walk = func(n *axNode, depth int) bool {
		if n == nil || depth > maxAXTreeDepth || seen[n.NodeID] {
			return false
		}
		seen[n.NodeID] = true

		if emitted(n) &&
			strings.ToLower(axValueString(n.Role)) == wantRole &&
			collapseSpace(axValueString(n.Name)) == wantName {
			if matched == wantNth {
				found = n
				return true
			}
			matched++
		}
		for _, child := range tree.children(n) {
			if walk(child, depth+1) {
				return true
			}
		}
		return false
	}

	for _, root := range tree.roots {
		if walk(root, 0) {
			break
		}
	}

	if found == nil {
		return 0, fmt.Errorf("no element matching %s on the current page (%d matched role and name)", loc, matched)
	}
	if found.BackendDOMNodeID == 0 {
		return 0, fmt.Errorf("element %s has no backing DOM node", loc)
	}
	return cdp.BackendNodeID(found.BackendDOMNodeID), nil
}
