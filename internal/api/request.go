package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Request describes one API call. It is replayable: the body is kept as
// bytes so the call can be re-issued after a token refresh.
type Request struct {
	Method string
	Path   string // relative to the client's base URL, or absolute
	Query  url.Values
	Header http.Header
	Body   []byte

	// retried is set once the request has gone through a token refresh,
	// so a second 401 is returned to the caller instead of looping.
	retried bool
}

// NewRequest builds a request, JSON-encoding body when it is not nil
func NewRequest(method, path string, body any) (*Request, error) {
	req := &Request{
		Method: method,
		Path:   path,
		Header: make(http.Header),
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = data
	}
	return req, nil
}

// Retried reports whether the request was already replayed after a refresh
func (r *Request) Retried() bool {
	return r.retried
}

func (r *Request) markRetried() {
	r.retried = true
}

// setBearer replaces the Authorization header with a bearer credential
func (r *Request) setBearer(token string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set("Authorization", "Bearer "+token)
}

// Response is a fully read API response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode parses the JSON body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("failed to parse response: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
