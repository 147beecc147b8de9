package registry

import (
	"errors"
	"fmt"
)

// ErrorCode is a string type for structured error reporting from registry
// lookups. Using a custom type ensures only predefined constants appear where
// an ErrorCode is expected.
type ErrorCode string

const (
	// ErrCodeStaleElement marks a ref that was registered under a superseded
	// snapshot version. The element may still exist on the page; the caller
	// must re-observe to obtain a fresh ref.
	ErrCodeStaleElement ErrorCode = "STALE_ELEMENT"
	// ErrCodeElementNotFound marks a ref that was never registered under any
	// version the registry still knows about.
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
)

// StaleRefError reports a lookup of a ref whose snapshot version has been
// superseded. It always names both versions so the caller, human or model,
// can see how far behind the ref is.
type StaleRefError struct {
	Ref             string
	SnapshotVersion int64
	CurrentVersion  int64
}

func (e *StaleRefError) Error() string {
	return fmt.Sprintf(
		"element %q from snapshot version %d is stale (current version: %d); re-observe the page to get fresh element references",
		e.Ref, e.SnapshotVersion, e.CurrentVersion,
	)
}

// Code returns the stable error code for structured logging.
func (e *StaleRefError) Code() ErrorCode { return ErrCodeStaleElement }

// NotFoundError reports a lookup of a ref that is not registered. It lists
// the refs that are currently valid, which lets a model correct its own
// hallucinated or mistyped refs.
type NotFoundError struct {
	Ref       string
	ValidRefs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element reference %q not found in registry; available refs: %v", e.Ref, e.ValidRefs)
}

// Code returns the stable error code for structured logging.
func (e *NotFoundError) Code() ErrorCode { return ErrCodeElementNotFound }

// IsStale reports whether err is, or wraps, a stale-reference error.
func IsStale(err error) bool {
	var staleErr *StaleRefError
	return errors.As(err, &staleErr)
}

// IsNotFound reports whether err is, or wraps, a ref-not-found error.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}
