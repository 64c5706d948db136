package ciplatform

import (
	"net/http"
	"strings"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

// classify assigns an ErrorKind from the response status and message, once,
// at the adapter boundary. The message substring checks are a stopgap: the
// platform does not expose machine-readable error codes for indexing lag or
// write conflicts, so those two classes can only be recognized by text.
func classify(status int, message string) driven.ErrorKind {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "not indexed"),
		strings.Contains(lower, "still indexing"):
		return driven.KindNotIndexedYet
	case strings.Contains(lower, "concurrent modification"):
		return driven.KindConcurrentModification
	}

	switch status {
	case http.StatusNotFound:
		return driven.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return driven.KindUnauthorized
	case http.StatusConflict:
		if strings.Contains(lower, "already exists") {
			return driven.KindAlreadyExists
		}
		return driven.KindConcurrentModification
	case http.StatusTooManyRequests:
		return driven.KindRateLimited
	case http.StatusBadRequest:
		if strings.Contains(lower, "already exists") {
			return driven.KindAlreadyExists
		}
		return driven.KindOther
	default:
		return driven.KindOther
	}
}

// apiError builds the typed port error for a failed ci-platform call.
func apiError(op string, status int, message string, err error) *driven.PlatformError {
	return &driven.PlatformError{
		Platform:   model.PlatformCI,
		StatusCode: status,
		Kind:       classify(status, message),
		Message:    op + ": " + message,
		Err:        err,
	}
}
