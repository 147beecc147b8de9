// Package aria turns a serialized accessibility tree into a flat,
// priority-ranked, size-bounded list of interactive elements. The input is
// the nested YAML form in which a node label reads `role "name" [attr=value]`
// and children hang off mapping or sequence structure.
package aria

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// DefaultMaxElements bounds the parsed element list when no explicit limit is
// configured.
const DefaultMaxElements = 60

// valuePreviewLimit caps the captured current value of inputs, in runes.
const valuePreviewLimit = 100

// rolePriority ranks roles by how likely the model is to need them. Actions
// (buttons, links, inputs) rank above structure (dialogs, banners); roles
// missing from the table are not interactive and are never emitted.
var rolePriority = map[string]int{
	"button":     10,
	"link":       9,
	"textbox":    8,
	"searchbox":  8,
	"textarea":   8,
	"combobox":   8,
	"listbox":    7,
	"checkbox":   7,
	"radio":      7,
	"switch":     7,
	"slider":     6,
	"spinbutton": 6,
	"menu":       5,
	"menuitem":   5,
	"tab":        5,
	"grid":       4,
	"table":      4,
	"list":       3,
	"listitem":   3,
	"dialog":     2,
	"alert":      2,
	"banner":     1,
	"navigation": 1,
	"main":       1,
}

// Parser converts serialized accessibility trees into element lists. It is
// stateless apart from configuration and safe to reuse across observations.
type Parser struct {
	logger      *zap.Logger
	maxElements int
}

// NewParser builds a parser emitting at most maxElements elements per tree.
// A non-positive limit selects DefaultMaxElements.
func NewParser(logger *zap.Logger, maxElements int) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	return &Parser{
		logger:      logger.Named("aria"),
		maxElements: maxElements,
	}
}

// candidate pairs an element with its table priority until sorting is done.
type candidate struct {
	element  schemas.InteractiveElement
	priority int
}

// Parse extracts interactive elements from the serialized tree: depth-first
// collection, stable sort by priority descending so document order survives
// among equals, then truncation to the configured bound. Refs are left empty
// for the registry to assign.
//
// Malformed input yields an empty list, never an error: one broken snapshot
// must not take down the observe loop.
func (p *Parser) Parse(serialized string) []schemas.InteractiveElement {
	if strings.TrimSpace(serialized) == "" {
		return nil
	}

	root, err := decodeTree(serialized)
	if err != nil {
		p.logger.Warn("Failed to parse accessibility tree",
			observability.ErrID(observability.ErrAriaParse),
			zap.Error(err),
		)
		return nil
	}

	var candidates []candidate
	p.collect(root, &candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	if len(candidates) > p.maxElements {
		p.logger.Debug("Truncating element list",
			zap.Int("found", len(candidates)),
			zap.Int("max", p.maxElements),
		)
		candidates = candidates[:p.maxElements]
	}

	elements := make([]schemas.InteractiveElement, 0, len(candidates))
	for _, c := range candidates {
		elements = append(elements, c.element)
	}
	return elements
}

// collect walks the node depth-first, emitting a candidate for every node
// whose role appears in the priority table. Children are always visited:
// a dialog's buttons are emitted independently of the dialog itself.
func (p *Parser) collect(n Node, out *[]candidate) {
	switch n.Kind {
	case KindList:
		for _, child := range n.Children {
			p.collect(child, out)
		}

	case KindElement:
		role, name, attrs := parseLabel(n.Label)
		if priority, ok := rolePriority[role]; ok {
			*out = append(*out, candidate{
				element: schemas.InteractiveElement{
					Role:         role,
					Name:         name,
					AriaLabel:    attrs["aria-label"],
					Placeholder:  attrs["placeholder"],
					ValuePreview: truncateRunes(attrs["value"], valuePreviewLimit),
				},
				priority: priority,
			})
		}
		for _, child := range n.Children {
			p.collect(child, out)
		}

	case KindText:
		// Loose text carries no interactive surface.
	}
}

// parseLabel splits a node label of the form `role "name" [k=v, k2=v2]` into
// its parts. Both the quoted name and the bracketed attribute block are
// optional. Unknown shapes degrade to a bare role token, which the priority
// table then filters.
func parseLabel(label string) (role, name string, attrs map[string]string) {
	rest := strings.TrimSpace(label)

	if i := strings.LastIndex(rest, "["); i >= 0 && strings.HasSuffix(rest, "]") {
		attrs = parseAttrs(rest[i+1 : len(rest)-1])
		rest = strings.TrimSpace(rest[:i])
	}

	if i := strings.Index(rest, `"`); i >= 0 {
		if j := strings.LastIndex(rest, `"`); j > i {
			name = strings.ReplaceAll(rest[i+1:j], `\"`, `"`)
			rest = strings.TrimSpace(rest[:i])
		}
	}

	if fields := strings.Fields(rest); len(fields) > 0 {
		role = strings.ToLower(fields[0])
	}
	return role, name, attrs
}

// parseAttrs reads a comma-separated attribute block. Bare flags like
// [checked] read as "true".
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, found := strings.Cut(part, "="); found {
			attrs[strings.TrimSpace(k)] = strings.TrimSpace(v)
		} else {
			attrs[part] = "true"
		}
	}
	return attrs
}

// truncateRunes bounds s to limit runes without splitting a multibyte
// character.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
