package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Refresh failures. Each one ends the session: both stored tokens are
// removed and every request waiting on the refresh receives the error.
var (
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrNoAccessToken  = errors.New("no access token in refresh response")
	ErrRefreshAborted = errors.New("token refresh aborted")
	ErrRefreshFailed  = errors.New("token refresh failed")
)

// ErrTooManyPending is returned when the refresh queue is at capacity.
// Credentials are left untouched.
var ErrTooManyPending = errors.New("too many requests waiting for token refresh")

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Body       []byte
	Retryable  bool
}

func (e *APIError) Error() string {
	return e.Message
}

// Detail extracts the server's human readable reason, trying the
// detail, error and message fields the backend uses.
func (e *APIError) Detail() string {
	var body struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	switch {
	case body.Detail != "":
		return body.Detail
	case body.Error != "":
		return body.Error
	default:
		return body.Message
	}
}

// NewAPIError creates a new API error for a response to req
func NewAPIError(req *Request, statusCode int, body []byte) *APIError {
	retryable := statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode < 600)
	return &APIError{
		StatusCode: statusCode,
		Method:     req.Method,
		Path:       req.Path,
		Message:    fmt.Sprintf("API error (status %d) for %s %s: %s", statusCode, req.Method, req.Path, truncateString(string(body), 300)),
		Body:       body,
		Retryable:  retryable,
	}
}

// IsUnauthorized reports whether err is a 401 response
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsSessionExpired reports whether err means the stored session is gone
// and the user has to log in again.
func IsSessionExpired(err error) bool {
	return IsUnauthorized(err) ||
		errors.Is(err, ErrNoRefreshToken) ||
		errors.Is(err, ErrNoAccessToken) ||
		errors.Is(err, ErrRefreshAborted) ||
		errors.Is(err, ErrRefreshFailed)
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
