package observability

import "go.uber.org/zap"

// ErrorID is a stable identifier attached to warn and error log entries so
// sessions can be grepped and followed by id rather than by message text.
// Message wording may change; these values must not.
type ErrorID string

const (
	ErrStaleElement    ErrorID = "stale_element"
	ErrElementNotFound ErrorID = "element_not_found"
	ErrAriaParse       ErrorID = "aria_parse"
	ErrTextExtract     ErrorID = "text_extract"
	ErrScreenshot      ErrorID = "screenshot"
	ErrClickTimeout    ErrorID = "click_timeout"
	ErrTypeTimeout     ErrorID = "type_timeout"
	ErrNavigate        ErrorID = "navigate"
	ErrElementInteract ErrorID = "element_interact"
	ErrOverlayDismiss  ErrorID = "overlay_dismiss"
	ErrOverlayDetect   ErrorID = "overlay_detect"
	ErrRetryExhausted  ErrorID = "retry_exhausted"
	ErrLLMCall         ErrorID = "llm_call"
	ErrUnexpected      ErrorID = "unexpected"
)

// ErrID renders an ErrorID as the standard structured field for log entries.
func ErrID(id ErrorID) zap.Field {
	return zap.String("err_id", string(id))
}
