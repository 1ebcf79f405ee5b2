package racingapi

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a fetch failure so callers can pattern-match on
// the failure class instead of inspecting raw errors.
type ErrorKind int

// Fetch failure classes.
const (
	// KindTransient covers timeouts, connection resets and 5xx
	// responses. Retried with backoff before escalating.
	KindTransient ErrorKind = iota

	// KindRateLimited is an HTTP 429. Retried after honoring any
	// server-provided retry hint.
	KindRateLimited

	// KindNotFound is a 404 for a valid date or id. Non-fatal; the
	// bulk endpoint maps it to an empty result.
	KindNotFound

	// KindAuth is a 401/403. Fatal; never retried.
	KindAuth

	// KindValidation is a payload that cannot be decoded into the
	// expected shape.
	KindValidation
)

// String returns a stable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// FetchError is a classified upstream fetch failure.
type FetchError struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int
	Attempts   int
	Err        error

	// retryAfter carries a server-provided retry hint from a 429.
	retryAfter time.Duration
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s (status %d, attempts %d): %v",
			e.Kind, e.Endpoint, e.StatusCode, e.Attempts, e.Err)
	}

	return fmt.Sprintf("%s %s (status %d, attempts %d)",
		e.Kind, e.Endpoint, e.StatusCode, e.Attempts)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure must abort the whole run.
func (e *FetchError) Fatal() bool {
	return e.Kind == KindAuth
}

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}

	return false
}

// IsFatal reports whether err is a fatal FetchError.
func IsFatal(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Fatal()
	}

	return false
}
