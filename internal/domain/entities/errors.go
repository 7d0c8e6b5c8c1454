package entities

import "errors"

// Sentinel errors for the domain. Callers wrap them with fmt.Errorf("...: %w")
// and check with errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrValidation indicates a missing or malformed required field
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the conversation or message does not exist
	// or is not owned by the requesting principal
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded indicates the principal's daily usage limit is spent
	ErrQuotaExceeded = errors.New("usage quota exceeded")

	// ErrInvalidRole indicates an operation was applied to a message of the
	// wrong role, e.g. regenerating a user message
	ErrInvalidRole = errors.New("invalid message role")

	// ErrUpstream indicates the completion backend returned an error payload
	ErrUpstream = errors.New("completion backend error")

	// ErrEmptyResponse indicates the completion backend returned no text
	ErrEmptyResponse = errors.New("completion backend returned no text")

	// ErrTransport indicates the completion backend was unreachable
	ErrTransport = errors.New("completion backend unreachable")

	// ErrConflict indicates a concurrent-modification race; it is retried by
	// the storage layer and should never surface to a caller
	ErrConflict = errors.New("concurrent modification conflict")
)
