package gc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tags a fetch failure with the class the orchestrator's
// decision table operates on. Structured kinds replace substring matching
// on error prose; Kind falls back to sniffing only for errors that did
// not come from a FetchError-aware adapter.
type ErrorKind string

const (
	// KindSessionNotReady means the call was made without an active
	// remote session. Not retryable within the current cycle.
	KindSessionNotReady ErrorKind = "session_not_ready"
	// KindTimeout means the remote source did not answer within the
	// caller's time budget.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited means the remote source signalled throttling.
	KindRateLimited ErrorKind = "rate_limited"
	// KindRemote covers all other remote failures.
	KindRemote ErrorKind = "remote"
)

// FetchError is the error type returned by Source implementations.
type FetchError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewFetchError builds a FetchError wrapping err.
func NewFetchError(kind ErrorKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the wrapped cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrSessionNotReady is the sentinel for calls made without a session.
var ErrSessionNotReady = errors.New("remote session not ready")

// Kind returns the classification of err. Tagged FetchErrors and context
// deadline errors classify directly; anything else is sniffed from the
// error text so that errors surfaced by arbitrary protocol clients still
// land in the right class.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrSessionNotReady) {
		return KindSessionNotReady
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate"):
		return KindRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "session not ready") || strings.Contains(msg, "not connected"):
		return KindSessionNotReady
	default:
		return KindRemote
	}
}
