package schemas

import (
	"context"
	"fmt"
	"time"
)

// -- Element Locators --

// Locator identifies one element purely by accessibility data: its role, its
// accessible name, and the ordinal among elements sharing both. It carries no
// CSS selector or XPath. Role and name survive re-renders that would break
// positional selectors, which is why resolution is defined in these terms.
type Locator struct {
	Role string `json:"role"`
	// Name is matched exactly against the accessible name. Empty matches
	// elements that have no accessible name; the ordinal then disambiguates
	// among unnamed elements of the role.
	Name string `json:"name,omitempty"`
	// Nth selects among elements with the same role and name, in document
	// order, starting at zero.
	Nth int `json:"nth"`
}

// String renders the locator for error messages and log fields.
func (l Locator) String() string {
	if l.Name == "" {
		return fmt.Sprintf("role=%s nth=%d", l.Role, l.Nth)
	}
	return fmt.Sprintf("role=%s name=%q nth=%d", l.Role, l.Name, l.Nth)
}

// -- Browser Control --

// Page is the browser-control contract the core consumes. One Page represents
// one live tab. Implementations own their interaction timeouts; callers
// distinguish deadline failures with errors.Is(err, context.DeadlineExceeded).
// All methods must be called from a single goroutine per task.
type Page interface {
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)
	// AccessibilityTree returns the serialized accessibility tree of the
	// document root, in the nested role-labeled form the parser consumes.
	AccessibilityTree(ctx context.Context) (string, error)
	// VisibleText returns the rendered text content of the document body.
	VisibleText(ctx context.Context) (string, error)
	// HTML returns the serialized DOM of the current document.
	HTML(ctx context.Context) (string, error)
	// Navigate loads the URL and reports the main response status. A zero
	// status with a nil error means the navigation produced no observable
	// response, such as a same-document anchor jump.
	Navigate(ctx context.Context, url string) (int, error)
	// Click resolves the locator and clicks the matched element.
	Click(ctx context.Context, loc Locator) error
	// Fill resolves the locator, clears the matched field, and types text
	// into it.
	Fill(ctx context.Context, loc Locator, text string) error
	// Press sends a keyboard key such as "Enter" or "Escape" to the focused
	// element, or to the document when nothing holds focus.
	Press(ctx context.Context, key string) error
	// Scroll scrolls the document by the given deltas in CSS pixels.
	Scroll(ctx context.Context, dx, dy int) error
	// WaitForStability blocks until network and rendering settle, bounded by
	// the implementation's stability timeout. Returning after the bound with
	// a nil error is legal; stability is best effort.
	WaitForStability(ctx context.Context) error
	// Sleep pauses for the duration, honoring context cancellation.
	Sleep(ctx context.Context, d time.Duration) error
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the tab and its resources.
	Close(ctx context.Context) error
}

// -- LLM Client --

// ModelTier selects a large language model by preference for speed versus
// capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM: system and
// user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the decide oracle of the agent loop, abstracting the provider.
type LLMClient interface {
	// Generate produces a text completion for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases provider resources such as network connections.
	Close() error
}

// -- Human in the Loop --

// Confirmer is the blocking channel through which the agent asks a human
// before acting. Calls suspend the loop until an answer arrives; the core
// imposes no timeout on them.
type Confirmer interface {
	// Confirm asks a yes or no question, typically before a destructive
	// action. False means the action is blocked.
	Confirm(ctx context.Context, question string) (bool, error)
	// Ask requests free-form guidance, used after retry exhaustion or stuck
	// detection.
	Ask(ctx context.Context, question string) (string, error)
}
