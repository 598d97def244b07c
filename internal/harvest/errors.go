package harvest

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the pipeline stages.
var (
	ErrInvalidCredentials = errors.New("username and password are required")
	ErrTokenInvalid       = errors.New("session token is missing or expired")
	ErrAllProbesFailed    = errors.New("all probes failed")
)

// AuthenticationError is fatal and halts the run.
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Cause)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// EnumerationError is fatal unless the run allows degraded-continue.
type EnumerationError struct {
	Cause error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("link enumeration failed: %v", e.Cause)
}

func (e *EnumerationError) Unwrap() error { return e.Cause }

// LoadError reports a failed snapshot write.
type LoadError struct {
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load snapshot: %v", e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// ProbeErrorKind classifies per-link probe failures.
type ProbeErrorKind string

// Probe error kinds.
const (
	ProbeTimeout  ProbeErrorKind = "timeout"
	ProbeHTTP     ProbeErrorKind = "http_error"
	ProbeNetwork  ProbeErrorKind = "network_error"
	ProbeCanceled ProbeErrorKind = "canceled"
	// ProbeTokenInvalid marks a link never requested because the session token had expired.
	ProbeTokenInvalid ProbeErrorKind = "token_invalid"
)

// ProbeError is a non-fatal failure scoped to one link.
type ProbeError struct {
	Link   Link
	Kind   ProbeErrorKind
	Status int
	Cause  error
}

func (e *ProbeError) Error() string {
	switch e.Kind {
	case ProbeHTTP:
		return fmt.Sprintf("probe %s: status %d", e.Link, e.Status)
	default:
		if e.Cause == nil {
			return fmt.Sprintf("probe %s: %s", e.Link, e.Kind)
		}
		return fmt.Sprintf("probe %s: %s: %v", e.Link, e.Kind, e.Cause)
	}
}

func (e *ProbeError) Unwrap() error { return e.Cause }
