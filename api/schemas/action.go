package schemas

import "fmt"

// -- Action Vocabulary --

// ActionType enumerates the actions the agent can decide on. The values are
// the wire strings the model emits in its decision JSON.
type ActionType string

const (
	ActionClick    ActionType = "CLICK"    // Click an element by ref.
	ActionTypeText ActionType = "TYPE"     // Type text into an element by ref.
	ActionPress    ActionType = "PRESS"    // Press a keyboard key.
	ActionScroll   ActionType = "SCROLL"   // Scroll the page.
	ActionNavigate ActionType = "NAVIGATE" // Navigate to a URL.
	ActionWait     ActionType = "WAIT"     // Pause for a number of seconds.
	ActionExtract  ActionType = "EXTRACT"  // Extract data from the page.
	ActionDone     ActionType = "DONE"     // Declare the task complete.
	ActionAskUser  ActionType = "ASK_USER" // Ask the user for guidance.
)

// Action is one decision emitted by the model: the action type, its
// parameters, and the reasoning that led to it. Parameter fields are
// populated per type; Validate enforces which ones are required.
type Action struct {
	// Thought carries the model's chain of thought for this step. Logged for
	// debugging, never fed back to the page.
	Thought string `json:"thought,omitempty"`

	Type ActionType `json:"type"`

	// Ref addresses an element from the latest observation ("elem-0", ...).
	Ref       string `json:"ref,omitempty"`
	Text      string `json:"text,omitempty"`
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
	Amount    int    `json:"amount,omitempty"`
	URL       string `json:"url,omitempty"`
	Seconds   int    `json:"seconds,omitempty"`
	Target    string `json:"target,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Question  string `json:"question,omitempty"`

	// Rationale is a one-line justification, kept alongside Thought because
	// models fill whichever the prompt asks for.
	Rationale string `json:"rationale,omitempty"`
}

// Validate checks that the action names a known type and carries the
// parameters that type cannot act without. Optional parameters (scroll
// direction, wait seconds) are defaulted downstream, not here.
func (a Action) Validate() error {
	switch a.Type {
	case ActionClick:
		if a.Ref == "" {
			return fmt.Errorf("%s action requires a ref", a.Type)
		}
	case ActionTypeText:
		if a.Ref == "" {
			return fmt.Errorf("%s action requires a ref", a.Type)
		}
	case ActionPress:
		if a.Key == "" {
			return fmt.Errorf("%s action requires a key", a.Type)
		}
	case ActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("%s action requires a url", a.Type)
		}
	case ActionExtract:
		if a.Target == "" {
			return fmt.Errorf("%s action requires a target", a.Type)
		}
	case ActionDone:
		if a.Summary == "" {
			return fmt.Errorf("%s action requires a summary", a.Type)
		}
	case ActionAskUser:
		if a.Question == "" {
			return fmt.Errorf("%s action requires a question", a.Type)
		}
	case ActionScroll, ActionWait:
		// All parameters optional.
	case "":
		return fmt.Errorf("action is missing a type")
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Describe renders the action as a short history line, for example:
// TYPE elem-2 "user@example.com".
func (a Action) Describe() string {
	switch a.Type {
	case ActionClick:
		return fmt.Sprintf("%s %s", a.Type, a.Ref)
	case ActionTypeText:
		return fmt.Sprintf("%s %s %q", a.Type, a.Ref, a.Text)
	case ActionPress:
		return fmt.Sprintf("%s %s", a.Type, a.Key)
	case ActionScroll:
		direction := a.Direction
		if direction == "" {
			direction = "down"
		}
		return fmt.Sprintf("%s %s", a.Type, direction)
	case ActionNavigate:
		return fmt.Sprintf("%s %s", a.Type, a.URL)
	case ActionWait:
		return fmt.Sprintf("%s %ds", a.Type, a.Seconds)
	case ActionExtract:
		return fmt.Sprintf("%s %s", a.Type, a.Target)
	default:
		return string(a.Type)
	}
}
