package modelibr

import (
	"errors"
	"fmt"
)

// sentinel errors for common API responses
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

// ResponseError represents an HTTP error response from the server.
// Body holds the (possibly truncated) response body for diagnostics.
type ResponseError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("modelibr: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("modelibr: HTTP %d: %s", e.StatusCode, e.Body)
}
