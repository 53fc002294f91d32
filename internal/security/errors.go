package security

import (
	"errors"
	"fmt"
	"time"
)

// Reason identifies which security rule a rejected operation violated.
// Reasons are a closed set so callers can branch on them without string
// matching.
type Reason string

const (
	// ReasonBadScheme marks a URL with a scheme outside the allowed set.
	ReasonBadScheme Reason = "bad_scheme"

	// ReasonPrivateIPBlocked marks a URL whose hostname resolved to a
	// private, loopback or link-local address while the policy forbids
	// reaching those ranges.
	ReasonPrivateIPBlocked Reason = "private_ip_blocked"

	// ReasonBlockedHost marks a hostname on the always-deny list
	// (localhost, cloud metadata endpoints).
	ReasonBlockedHost Reason = "blocked_host"

	// ReasonSizeExceeded marks a payload or response larger than the
	// configured limit.
	ReasonSizeExceeded Reason = "size_exceeded"

	// ReasonPathOutsideWhitelist marks a filesystem path whose canonical
	// form is not contained in any allowed root directory.
	ReasonPathOutsideWhitelist Reason = "path_outside_whitelist"
)

// SecurityError reports a policy violation. It is always surfaced to the
// caller with its reason attached and is never retried, downgraded or
// masked by the middleware stack.
type SecurityError struct {
	Reason Reason
	Detail string
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	return fmt.Sprintf("security violation (%s): %s", e.Reason, e.Detail)
}

// Errorf builds a SecurityError with a formatted detail message.
func Errorf(reason Reason, format string, args ...any) *SecurityError {
	return &SecurityError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// IsSecurityError reports whether err is (or wraps) a SecurityError with
// the given reason.
func IsSecurityError(err error, reason Reason) bool {
	var se *SecurityError
	return errors.As(err, &se) && se.Reason == reason
}

// ValidationError reports malformed accessor input (an empty path, an
// unparseable URL). It is a caller mistake, not a policy violation, and
// is never retried.
type ValidationError struct {
	Field  string
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Detail
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// TimeoutError reports an I/O deadline exceeded during a guarded
// operation. An outer middleware may retry it a bounded number of times.
type TimeoutError struct {
	Op    string
	Limit time.Duration
	Err   error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Limit)
}

// Unwrap exposes the underlying cause (typically
// context.DeadlineExceeded) for errors.Is checks.
func (e *TimeoutError) Unwrap() error { return e.Err }

// UpstreamError reports a remote 4xx/5xx response from a fetched URL.
// The fetcher surfaces it without retrying; retry policy belongs to
// outer middleware, which retries 5xx only.
type UpstreamError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether an outer retry middleware may retry the
// request. Client errors (4xx) are never retried.
func (e *UpstreamError) Retryable() bool { return e.StatusCode >= 500 }

// InternalError wraps an unexpected failure. When Masked is set, Error()
// hides the underlying detail from the caller; the full cause stays
// available via Unwrap for server-side logging.
type InternalError struct {
	Err       error
	Masked    bool
	RequestID string
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	if e.Masked || e.Err == nil {
		if e.RequestID != "" {
			return "internal error (request " + e.RequestID + ")"
		}
		return "internal error"
	}
	return "internal error: " + e.Err.Error()
}

// Unwrap exposes the full cause for logging and errors.Is/As.
func (e *InternalError) Unwrap() error { return e.Err }
