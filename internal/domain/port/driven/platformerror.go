package driven

import (
	"errors"
	"fmt"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// ErrorKind classifies a platform API failure for retry and cleanup decisions.
// Kinds are assigned once, at the client boundary; everything above the
// adapters dispatches on the enum rather than on message text.
type ErrorKind string

const (
	// KindNotFound: the referenced resource does not exist. Deletion treats
	// this as success (already gone); creation treats it as fatal.
	KindNotFound ErrorKind = "not_found"

	// KindAlreadyExists: creation collided with an existing resource.
	KindAlreadyExists ErrorKind = "already_exists"

	// KindNotIndexedYet: the platform has not yet observed a repository
	// created upstream. Retryable with backoff.
	KindNotIndexedYet ErrorKind = "not_indexed_yet"

	// KindConcurrentModification: optimistic-concurrency conflict. Retryable.
	KindConcurrentModification ErrorKind = "concurrent_modification"

	// KindRateLimited: throttled by the platform. Retryable.
	KindRateLimited ErrorKind = "rate_limited"

	// KindUnauthorized: the credential was rejected. Never retried with the
	// same credential; cleanup falls through to the next stored credential.
	KindUnauthorized ErrorKind = "unauthorized"

	// KindOther: anything else. Fatal.
	KindOther ErrorKind = "other"
)

// PlatformError is the typed error raised by both platform clients, carrying
// the HTTP-like status code and classified kind.
type PlatformError struct {
	Platform   model.Platform
	StatusCode int
	Kind       ErrorKind
	Message    string
	Err        error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s api error (status %d, kind %s): %s", e.Platform, e.StatusCode, e.Kind, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from an error chain. Errors that are not
// PlatformErrors classify as KindOther.
func KindOf(err error) ErrorKind {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// IsNotFound reports whether err is a platform not-found failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnauthorized reports whether err is a credential rejection.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// IsRetryable reports whether err is a transient platform failure worth
// retrying with backoff.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNotIndexedYet, KindConcurrentModification, KindRateLimited:
		return true
	default:
		return false
	}
}
