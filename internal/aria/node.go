package aria

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeKind discriminates the three shapes a parsed tree node can take.
type NodeKind int

const (
	// KindList is a sequence of sibling nodes, including the document root.
	KindList NodeKind = iota
	// KindElement is a role-labeled node, optionally carrying children.
	KindElement
	// KindText is loose text content with no role.
	KindText
)

// Node is the typed form of the serialized accessibility tree. Exactly one
// of the variant fields is meaningful, selected by Kind: Children for
// KindList, Label (plus optional Children) for KindElement, Text for
// KindText. Modeling the tree this way keeps the traversal exhaustive
// instead of duck-typing over maps and slices.
type Node struct {
	Kind     NodeKind
	Label    string
	Text     string
	Children []Node
}

// maxTreeDepth bounds conversion recursion. Real page snapshots nest a few
// dozen levels; anything deeper is hostile or corrupt input.
const maxTreeDepth = 256

// decodeTree parses the serialized YAML form into a Node. Callers treat any
// error as "no elements"; the observation path must never fail on bad input.
func decodeTree(serialized string) (Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(serialized), &doc); err != nil {
		return Node{}, err
	}
	return fromYAML(&doc, 0), nil
}

// fromYAML converts one yaml.Node subtree. Mapping nodes become lists of
// element nodes, one per key, because a YAML map in this format is a set of
// labeled siblings rather than a single entity.
func fromYAML(n *yaml.Node, depth int) Node {
	if n == nil || depth > maxTreeDepth {
		return Node{Kind: KindList}
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Node{Kind: KindList}
		}
		return fromYAML(n.Content[0], depth+1)

	case yaml.SequenceNode:
		children := make([]Node, 0, len(n.Content))
		for _, c := range n.Content {
			children = append(children, fromYAML(c, depth+1))
		}
		return Node{Kind: KindList, Children: children}

	case yaml.MappingNode:
		nodes := make([]Node, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			value := n.Content[i+1]

			// Keys starting with "/" are metadata side channels such as
			// /url, not roles.
			if strings.HasPrefix(key, "/") {
				continue
			}
			if key == "text" {
				nodes = append(nodes, Node{Kind: KindText, Text: value.Value})
				continue
			}
			nodes = append(nodes, Node{
				Kind:     KindElement,
				Label:    key,
				Children: childNodes(value, depth+1),
			})
		}
		return Node{Kind: KindList, Children: nodes}

	case yaml.ScalarNode:
		// A bare sequence entry like `button "Go"` is a childless element.
		return Node{Kind: KindElement, Label: n.Value}

	default:
		// Alias and unknown kinds carry nothing we can use; following alias
		// pointers could also cycle on crafted input.
		return Node{Kind: KindList}
	}
}

// childNodes normalizes a mapping value into a child list: sequences
// contribute their items, a scalar becomes the element's text content, and a
// nested mapping contributes its labeled entries.
func childNodes(value *yaml.Node, depth int) []Node {
	if value == nil || depth > maxTreeDepth {
		return nil
	}
	switch value.Kind {
	case yaml.SequenceNode, yaml.MappingNode:
		converted := fromYAML(value, depth)
		return converted.Children
	case yaml.ScalarNode:
		if value.Value == "" {
			return nil
		}
		return []Node{{Kind: KindText, Text: value.Value}}
	default:
		return nil
	}
}
