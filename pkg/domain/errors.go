package domain

import "errors"

var (
	// ErrNotFound covers both absent resources and resources the caller may
	// not touch. Ownership failures deliberately collapse into it so a
	// non-owner cannot probe whether a message or conversation exists.
	ErrNotFound = errors.New("not found")

	// ErrValidation covers malformed input: empty or oversized content,
	// self-conversations, bad ids.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned by conversation creation when a concurrent
	// creator already inserted the pair. The service resolves it by
	// re-running the lookup; it never reaches a caller.
	ErrConflict = errors.New("conflict")
)
