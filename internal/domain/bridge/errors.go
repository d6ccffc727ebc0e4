package bridge

// Reason is the caller-visible failure class of a bridge fetch.
type Reason string

const (
	// ReasonNotFound covers unknown and revoked sessions alike, so a
	// caller holding a session ID cannot tell whether it ever existed.
	ReasonNotFound Reason = "not_found"
	// ReasonReauthRequired means the stored tokens can no longer be
	// refreshed; the owning user must log in again.
	ReasonReauthRequired Reason = "reauth_required"
)

// SessionError is the only error type the proxy raises for
// session-state failures. Everything else passes through unmodified.
type SessionError struct {
	Reason Reason
}

func (e *SessionError) Error() string {
	return "bridge session error: " + string(e.Reason)
}

func errNotFound() error {
	return &SessionError{Reason: ReasonNotFound}
}

func errReauthRequired() error {
	return &SessionError{Reason: ReasonReauthRequired}
}
