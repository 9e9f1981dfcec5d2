package domain

import "errors"

// Error taxonomy for the coordination core. Callers match with errors.Is;
// operations wrap these with identifying context. A lost claim race is not
// an error at all; ClaimNext reports it as an empty result.
var (
	// ErrInvalidPayload marks a write carrying a malformed JSON document.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNotFound marks an operation referencing an unknown task, agent,
	// message, or schedule.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an operation against a task that is not in the
	// state the operation requires, e.g. completing a pending task.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnavailable marks a store that could not be reached; the caller
	// decides whether to retry.
	ErrUnavailable = errors.New("store unavailable")
)
