package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response. Callers can use errors.As to extract it:
//
//	var apiErr *rest.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound { ... }
type APIError struct {
	// Message is the server's human-readable description.
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Method     string `json:"-"`
	Path       string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// IsUnauthorized reports whether the token was rejected.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusForbidden)
}
