// Package registry owns the mapping from short-lived element refs ("elem-0",
// "elem-1", ...) to observed page elements. It is the only component that
// hands out refs and the only one that resolves them, which shields the
// action layer and the model from raw page locators entirely.
package registry

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// entry binds one ref to the element it was registered with, the snapshot
// version it belongs to, and its ordinal among same role+name elements.
type entry struct {
	element schemas.InteractiveElement
	version int64
	nth     int
}

// Registry assigns refs within one snapshot version and resolves them back to
// elements or locators while that version is current. A Registry belongs to
// exactly one task loop; calls are not synchronized and concurrent use from
// multiple goroutines is undefined.
type Registry struct {
	logger  *zap.Logger
	entries map[string]entry
	version int64
}

// New returns an empty registry at version zero.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger.Named("registry"),
		entries: make(map[string]entry),
	}
}

// Version returns the current snapshot version.
func (r *Registry) Version() int64 { return r.version }

// RegisterElements replaces the entire entry set for the current version.
// Refs are assigned as "elem-{index}" in input order; the order encodes the
// priority ranking computed by the parser and must not be disturbed. Each
// element also receives an nth index: its ordinal among elements sharing the
// same role and accessible name, counted by first appearance.
//
// The returned slice carries the assigned refs and is what a snapshot should
// store. The registry's version is returned alongside so the caller can stamp
// the snapshot without a second call.
func (r *Registry) RegisterElements(elements []schemas.InteractiveElement) ([]schemas.InteractiveElement, int64) {
	// Replace, not append: stale same-version entries from a prior
	// registration would otherwise survive and resolve to vanished elements.
	for ref, e := range r.entries {
		if e.version == r.version {
			delete(r.entries, ref)
		}
	}

	registered := make([]schemas.InteractiveElement, 0, len(elements))
	nthByGroup := make(map[string]int, len(elements))

	for i, el := range elements {
		el.Ref = fmt.Sprintf("elem-%d", i)
		group := el.Role + "\x00" + el.Name
		nth := nthByGroup[group]
		nthByGroup[group]++

		r.entries[el.Ref] = entry{element: el, version: r.version, nth: nth}
		registered = append(registered, el)
	}

	r.logger.Debug("Registered elements",
		zap.Int("count", len(registered)),
		zap.Int64("version", r.version),
	)
	return registered, r.version
}

// IncrementVersion advances the snapshot version by one. It is the only
// mutator of the counter and is called whenever the page is known to have
// changed: navigation, or an explicit re-observation boundary. Entries of the
// superseded version are retained so later lookups can report exactly which
// version a stale ref came from.
func (r *Registry) IncrementVersion() int64 {
	r.version++
	r.logger.Debug("Snapshot version incremented", zap.Int64("version", r.version))
	return r.version
}

// Element resolves a ref to the registered element value. A ref from a
// superseded version yields a StaleRefError; an unknown ref yields a
// NotFoundError listing the refs that would resolve.
func (r *Registry) Element(ref string) (schemas.InteractiveElement, error) {
	e, err := r.lookup(ref)
	if err != nil {
		return schemas.InteractiveElement{}, err
	}
	return e.element, nil
}

// Locator resolves a ref to accessibility-based resolution data: role plus
// accessible name plus the nth ordinal, or role plus nth when the name is
// empty. It never produces a CSS selector or XPath; role, name, and ordinal
// are stable across re-renders in a way positional selectors are not.
// Staleness rules match Element.
func (r *Registry) Locator(ref string) (schemas.Locator, error) {
	e, err := r.lookup(ref)
	if err != nil {
		return schemas.Locator{}, err
	}
	return schemas.Locator{
		Role: e.element.Role,
		Name: e.element.Name,
		Nth:  e.nth,
	}, nil
}

// Clear resets entries and version to the initial state. Used between
// independent tasks sharing one process.
func (r *Registry) Clear() {
	r.entries = make(map[string]entry)
	r.version = 0
	r.logger.Debug("Registry cleared")
}

// lookup applies the shared not-found and staleness rules.
func (r *Registry) lookup(ref string) (entry, error) {
	e, ok := r.entries[ref]
	if !ok {
		err := &NotFoundError{Ref: ref, ValidRefs: r.validRefs()}
		r.logger.Warn("Element ref not found",
			observability.ErrID(observability.ErrElementNotFound),
			zap.String("ref", ref),
			zap.Int("valid_refs", len(err.ValidRefs)),
		)
		return entry{}, err
	}
	if e.version != r.version {
		err := &StaleRefError{Ref: ref, SnapshotVersion: e.version, CurrentVersion: r.version}
		r.logger.Warn("Stale element ref",
			observability.ErrID(observability.ErrStaleElement),
			zap.String("ref", ref),
			zap.Int64("snapshot_version", e.version),
			zap.Int64("current_version", r.version),
		)
		return entry{}, err
	}
	return e, nil
}

// validRefs lists refs registered under the current version in assignment
// order.
func (r *Registry) validRefs() []string {
	refs := make([]string, 0, len(r.entries))
	for ref, e := range r.entries {
		if e.version == r.version {
			refs = append(refs, ref)
		}
	}
	// Numeric order, not lexicographic: elem-10 sorts after elem-9.
	sort.Slice(refs, func(i, j int) bool {
		var a, b int
		fmt.Sscanf(refs[i], "elem-%d", &a)
		fmt.Sscanf(refs[j], "elem-%d", &b)
		return a < b
	})
	return refs
}
