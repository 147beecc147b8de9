package schemas

import "fmt"

// -- Element Geometry --

// BoundingBox describes the on-page geometry of an element in CSS pixels,
// relative to the top-left corner of the document.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate rejects negative dimensions. Zero-sized boxes are legal because
// hidden or collapsed elements report zero geometry.
func (b BoundingBox) Validate() error {
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("bounding box dimensions must be non-negative, got %gx%g", b.Width, b.Height)
	}
	return nil
}

// -- Interactive Elements --

// InteractiveElement is one actionable element captured during an observation
// cycle. Instances are value objects: a later observation supersedes an
// element rather than mutating it.
type InteractiveElement struct {
	// Ref is the registry-assigned identifier ("elem-0", "elem-1", ...).
	// The accessibility-tree parser leaves it empty; the registry assigns it.
	Ref string `json:"ref"`
	// Role is the accessibility role ("button", "link", "textbox", ...).
	Role string `json:"role"`
	// Name is the accessible name. May be empty; role plus ordinal position
	// still identifies the element.
	Name         string       `json:"name,omitempty"`
	AriaLabel    string       `json:"aria_label,omitempty"`
	Placeholder  string       `json:"placeholder,omitempty"`
	ValuePreview string       `json:"value_preview,omitempty"`
	BBox         *BoundingBox `json:"bbox,omitempty"`
}

// Validate checks the invariants of a registered element. Elements fresh from
// the parser fail this check until the registry assigns a ref.
func (e InteractiveElement) Validate() error {
	if e.Ref == "" {
		return fmt.Errorf("interactive element is missing a ref")
	}
	if e.Role == "" {
		return fmt.Errorf("interactive element %q is missing a role", e.Ref)
	}
	if e.BBox != nil {
		if err := e.BBox.Validate(); err != nil {
			return fmt.Errorf("interactive element %q: %w", e.Ref, err)
		}
	}
	return nil
}

// Describe renders the element the way it is shown to the model and in log
// lines, for example: [button] "Submit" (elem-0).
func (e InteractiveElement) Describe() string {
	return fmt.Sprintf("[%s] %q (%s)", e.Role, e.Name, e.Ref)
}

// -- Page Snapshots --

// PageSnapshot is one immutable observation of the page. Exactly one snapshot
// is current at a time; the context tracker discards superseded ones to bound
// prompt size.
type PageSnapshot struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	// Elements is priority-sorted and size-bounded. Order matters: it is the
	// registration order that produced the element refs.
	Elements []InteractiveElement `json:"interactive_elements"`
	// VisibleText is a whitespace-normalized excerpt of the page text,
	// truncated with a trailing marker when it exceeds the configured bound.
	VisibleText    string   `json:"visible_text_excerpt"`
	ScreenshotPath string   `json:"screenshot_path,omitempty"`
	Notes          []string `json:"notes,omitempty"`
	// Version is the registry version that was current when this snapshot
	// was captured. Refs in Elements are only resolvable while the registry
	// remains at this version.
	Version int64 `json:"version"`
}

// ElementByRef returns the snapshot element carrying the given ref, or false
// when no element in this snapshot has it.
func (s *PageSnapshot) ElementByRef(ref string) (InteractiveElement, bool) {
	for _, el := range s.Elements {
		if el.Ref == ref {
			return el, true
		}
	}
	return InteractiveElement{}, false
}
