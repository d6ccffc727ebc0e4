package session

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for an ID,
	// or when an ownership check does not match. Callers treat it the
	// same as "revoked" so existence is never leaked.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPersistence is returned when the underlying store read or
	// write fails. Writes are never retried here; duplicating a write
	// silently would be worse than surfacing the failure.
	ErrPersistence = errors.New("session store failure")
)
