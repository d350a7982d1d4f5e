package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/blockadesystems/creditportal/internal/model"
)

var (
	// ErrUnauthorized is returned for a 401 on any endpoint except login;
	// callers drop the admin session when they see it.
	ErrUnauthorized = errors.New("backend: credential rejected")
	// ErrTimeout is returned when the per-client timeout elapses.
	ErrTimeout = errors.New("backend: request timed out")
	// ErrNotConfigured is returned by every call when no base URL is set.
	ErrNotConfigured = errors.New("backend: API base URL is not configured")
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Status  int
	Message string
	Code    string // Gateway response code, when the backend relays one
	cause   error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: API returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend: API returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

func newAPIError(status int, body []byte, credentialed bool) *APIError {
	e := &APIError{Status: status}
	var problem model.ProblemDetails
	if json.Unmarshal(body, &problem) == nil {
		e.Message = strings.TrimSpace(problem.Message)
		if e.Message == "" {
			e.Message = strings.TrimSpace(problem.Error)
		}
		e.Code = problem.Code
	}
	if status == http.StatusUnauthorized && credentialed {
		e.cause = ErrUnauthorized
	}
	return e
}

// StatusOf returns the HTTP status of an APIError in err's chain, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// UserMessage renders err for a toast: the backend's own message when it sent
// one, otherwise a generic retry suggestion.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "The server took too long to respond. Please check your connection and try again."
	case errors.Is(err, ErrNotConfigured):
		return "The service is not configured yet. Please try again later."
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" && apiErr.Status < 500 {
		return apiErr.Message
	}
	return "Something went wrong while contacting the server. Please try again."
}

// HTTPStatus picks the status a page should be served with when a backend
// call fails: the API's own 4xx, 504 for timeouts, 503 when unconfigured and
// 502 for everything else.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	if s := StatusOf(err); s >= 400 && s < 500 {
		return s
	}
	return http.StatusBadGateway
}
