package schemas

import "errors"

// -- Action Results --

// ActionResult is the outcome of a single browser action. It has exactly two
// variants, ActionSuccess and ActionFailure, and no others: the unexported
// marker method keeps outside packages from adding variants, so a type switch
// over both is exhaustive. A success can never carry an error and a failure
// can never carry a snapshot, because neither variant has a field for it.
type ActionResult interface {
	// Message is the human and model readable description of the outcome.
	Message() string
	// Succeeded reports which variant this is without a type switch.
	Succeeded() bool

	sealedResult()
}

// ActionSuccess is the success variant. It optionally references the snapshot
// produced by the action (observation and navigation return one).
type ActionSuccess struct {
	message  string
	snapshot *PageSnapshot
}

// NewActionSuccess builds a success result with no snapshot attached.
func NewActionSuccess(message string) ActionSuccess {
	return ActionSuccess{message: message}
}

// NewActionSuccessWithSnapshot builds a success result carrying the snapshot
// the action produced.
func NewActionSuccessWithSnapshot(message string, snapshot *PageSnapshot) ActionSuccess {
	return ActionSuccess{message: message, snapshot: snapshot}
}

// Message implements ActionResult.
func (r ActionSuccess) Message() string { return r.message }

// Succeeded implements ActionResult.
func (r ActionSuccess) Succeeded() bool { return true }

// Snapshot returns the attached snapshot, or nil when the action produced
// none.
func (r ActionSuccess) Snapshot() *PageSnapshot { return r.snapshot }

func (ActionSuccess) sealedResult() {}

// ActionFailure is the failure variant. Err is always non-nil: when the
// constructor receives no error it synthesizes one from the message, matching
// the rule that a failure without a cause is unrepresentable.
type ActionFailure struct {
	message string
	err     error
}

// NewActionFailure builds a failure result. A nil err is replaced with an
// error wrapping the message so that Err never returns nil.
func NewActionFailure(message string, err error) ActionFailure {
	if err == nil {
		err = errors.New(message)
	}
	return ActionFailure{message: message, err: err}
}

// Message implements ActionResult.
func (r ActionFailure) Message() string { return r.message }

// Succeeded implements ActionResult.
func (r ActionFailure) Succeeded() bool { return false }

// Err returns the underlying cause. It is never nil.
func (r ActionFailure) Err() error { return r.err }

func (ActionFailure) sealedResult() {}

// Compile-time checks that both variants satisfy the interface.
var (
	_ ActionResult = ActionSuccess{}
	_ ActionResult = ActionFailure{}
)
