package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matthieugras/pos-client/internal/backoff"
	"github.com/matthieugras/pos-client/internal/logging"
	"github.com/matthieugras/pos-client/internal/tokenstore"
)

// DefaultUserAgent identifies the client to the POS backend
const DefaultUserAgent = "posctl/0.2"

// ClientConfig configures a Client
type ClientConfig struct {
	// BaseURL is the API root, e.g. http://10.0.2.2:8000/api/
	BaseURL string
	// HTTPClient is the transport. If nil, a client with a 30s timeout is created.
	HTTPClient *http.Client
	// Store holds the credential pair
	Store tokenstore.Store
	// Backoff pauses requests after 429/5xx responses (optional)
	Backoff *backoff.GlobalBackoff

	// NoAuthPaths overrides DefaultNoAuthPaths
	NoAuthPaths []string
	// RefreshTimeout bounds one token refresh (0 = DefaultRefreshTimeout)
	RefreshTimeout time.Duration
	// MaxPending caps requests queued behind a refresh (0 = unbounded)
	MaxPending int
	// MaxRetries is the attempt budget of DoWithRetry (default 3)
	MaxRetries int
	// UserAgent overrides DefaultUserAgent
	UserAgent string
}

// Client is the authenticated API client. Every call runs the same
// pipeline: attach-credential, round-trip, then recover-auth on failure.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	store       tokenstore.Store
	backoff     *backoff.GlobalBackoff
	credentials *Credentials
	coordinator *Coordinator
	maxRetries  int
	userAgent   string
}

// NewClient creates a new API client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Store == nil {
		return nil, errors.New("token store is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3 // Default
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &Client{
		httpClient:  cfg.HTTPClient,
		baseURL:     base,
		store:       cfg.Store,
		backoff:     cfg.Backoff,
		credentials: NewCredentials(cfg.Store, cfg.NoAuthPaths),
		maxRetries:  cfg.MaxRetries,
		userAgent:   cfg.UserAgent,
	}
	c.coordinator = NewCoordinator(CoordinatorConfig{
		Store:          cfg.Store,
		Refresh:        c.refreshAccessToken,
		RefreshTimeout: cfg.RefreshTimeout,
		MaxPending:     cfg.MaxPending,
	})
	return c, nil
}

// Store returns the credential store used by the client
func (c *Client) Store() tokenstore.Store {
	return c.store
}

// Coordinator returns the client's reauthentication coordinator
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// Do performs an authenticated request
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.Send(ctx, req)
	if err == nil {
		return resp, nil
	}

	return c.coordinator.Recover(ctx, req, err, c.roundTrip)
}

// Send attaches the credential and performs req without recover-auth.
// A 401 is returned to the caller as is. Login uses it: rejected
// credentials are not something a token refresh can fix.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	c.credentials.Attach(ctx, req)
	return c.roundTrip(ctx, req)
}

// DoWithRetry performs a request, retrying rate-limited and 5xx responses.
// The global backoff decides how long each retry waits.
func (c *Client) DoWithRetry(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error

	for attempt := range c.maxRetries {
		if attempt > 0 {
			logging.Debug("Retry attempt %d/%d for %s %s", attempt+1, c.maxRetries, req.Method, req.Path)
		}

		resp, err := c.Do(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Retryable {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// roundTrip is the transport stage: it sends req exactly as it is and
// turns any non-2xx status into an *APIError.
func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	if err := c.backoff.WaitIfNeeded(ctx); err != nil {
		return nil, err
	}

	target, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if httpReq.Header.Get("X-Request-ID") == "" {
		httpReq.Header.Set("X-Request-ID", uuid.NewString())
	}

	logging.Debug("API Request: %s %s", req.Method, target)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logging.Error("Request failed: %s %s - %v", req.Method, target, err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	logging.Debug("API Response: %s %s -> %d", req.Method, target, resp.StatusCode)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.backoff.ReportError(retryAfter(resp.Header))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewAPIError(req, resp.StatusCode, data)
	}

	c.backoff.ReportSuccess()
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// resolve builds the absolute URL of req. Relative paths are joined to
// the base URL with any leading separator dropped; absolute URLs pass through.
func (c *Client) resolve(req *Request) (string, error) {
	ref, err := url.Parse(req.Path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", req.Path, err)
	}
	var u *url.URL
	if ref.IsAbs() {
		u = ref
	} else {
		ref.Path = NormalizePath(ref.Path)
		u = c.baseURL.ResolveReference(ref)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// refreshAccessToken calls the refresh endpoint through the normal
// pipeline; the endpoint is unauthenticated, so no bearer header is sent.
func (c *Client) refreshAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	req, err := NewRequest(http.MethodPost, PathRefresh, map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", "", err
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return "", "", err
	}

	var body struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrNoAccessToken, err)
	}
	return body.Access, body.Refresh, nil
}

// call runs a JSON request and decodes the response into out (if not nil)
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req, err := NewRequest(method, path, in)
	if err != nil {
		return err
	}
	req.Query = query

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}

// Get issues GET path and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.call(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues POST path with a JSON body
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.call(ctx, http.MethodPost, path, nil, in, out)
}

// Put issues PUT path with a JSON body
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.call(ctx, http.MethodPut, path, nil, in, out)
}

// Patch issues PATCH path with a JSON body
func (c *Client) Patch(ctx context.Context, path string, in, out any) error {
	return c.call(ctx, http.MethodPatch, path, nil, in, out)
}

// Delete issues DELETE path
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.call(ctx, http.MethodDelete, path, nil, nil, nil)
}

// retryAfter parses a Retry-After header given in seconds
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
