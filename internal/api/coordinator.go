package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/matthieugras/pos-client/internal/logging"
	"github.com/matthieugras/pos-client/internal/tokenstore"
)

// DefaultRefreshTimeout bounds one refresh procedure
const DefaultRefreshTimeout = 30 * time.Second

// RefreshFunc exchanges a refresh token for a new access token. A rotated
// refresh token is returned when the server issues one, "" otherwise.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// ReplayFunc re-issues a request that already carries its new credential
type ReplayFunc func(ctx context.Context, req *Request) (*Response, error)

// pendingRequest is a caller parked behind an in-flight refresh
type pendingRequest struct {
	req  *Request
	done chan refreshOutcome // buffered; receives exactly one outcome
}

type refreshOutcome struct {
	token string
	err   error
}

// Coordinator is the recover-auth stage. It turns the 401s of an expired
// access token into at most one refresh call at a time, parks callers that
// fail while the refresh is in flight, and releases them in arrival order
// once the refresh settles.
type Coordinator struct {
	store          tokenstore.Store
	refresh        RefreshFunc
	refreshTimeout time.Duration
	maxPending     int

	mu         sync.Mutex
	refreshing bool
	queue      []*pendingRequest
}

// CoordinatorConfig configures a Coordinator
type CoordinatorConfig struct {
	Store   tokenstore.Store
	Refresh RefreshFunc

	// RefreshTimeout bounds the refresh procedure (0 = DefaultRefreshTimeout)
	RefreshTimeout time.Duration
	// MaxPending caps the queue of parked callers (0 = unbounded)
	MaxPending int
}

// NewCoordinator creates an idle coordinator
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	return &Coordinator{
		store:          cfg.Store,
		refresh:        cfg.Refresh,
		refreshTimeout: cfg.RefreshTimeout,
		maxPending:     cfg.MaxPending,
	}
}

// Refreshing reports whether a refresh is in flight
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Pending returns the number of parked callers
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Recover handles the failure err of req. It either returns err unchanged,
// waits for the in-flight refresh, or runs the refresh itself; on a
// successful refresh req is replayed with the new token.
func (c *Coordinator) Recover(ctx context.Context, req *Request, err error, replay ReplayFunc) (*Response, error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// No response at all (network failure)
		return nil, err
	}
	if apiErr.StatusCode != http.StatusUnauthorized || req.Retried() {
		return nil, err
	}

	if isRefreshPath(req.Path) {
		// The refresh endpoint itself rejected us; don't refresh the refresh
		logging.Warn("Refresh endpoint returned 401, clearing credentials")
		if clearErr := tokenstore.Clear(ctx, c.store); clearErr != nil {
			logging.Error("%v", clearErr)
		}
		return nil, err
	}

	c.mu.Lock()
	if c.refreshing {
		if c.maxPending > 0 && len(c.queue) >= c.maxPending {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w (limit %d): %w", ErrTooManyPending, c.maxPending, err)
		}
		p := &pendingRequest{req: req, done: make(chan refreshOutcome, 1)}
		c.queue = append(c.queue, p)
		c.mu.Unlock()
		logging.Debug("Queued %s %s behind token refresh", req.Method, req.Path)
		return c.await(ctx, p, replay)
	}
	req.markRetried()
	c.refreshing = true
	c.mu.Unlock()

	token, refreshErr := c.runRefresh(ctx)
	if refreshErr != nil {
		return nil, refreshErr
	}

	req.setBearer(token)
	return replay(ctx, req)
}

// await blocks until the refresh settles p, then replays its request
func (c *Coordinator) await(ctx context.Context, p *pendingRequest, replay ReplayFunc) (*Response, error) {
	select {
	case out := <-p.done:
		if out.err != nil {
			return nil, out.err
		}
		p.req.markRetried()
		p.req.setBearer(out.token)
		return replay(ctx, p.req)
	case <-ctx.Done():
		// The refresher still settles our slot; done is buffered.
		return nil, ctx.Err()
	}
}

// runRefresh performs the refresh and settles every parked caller.
// The deferred settle runs on every exit path, including a panic in the
// refresh function, so the coordinator always returns to idle.
func (c *Coordinator) runRefresh(ctx context.Context) (token string, err error) {
	outcome := refreshOutcome{err: ErrRefreshAborted}
	defer func() { c.settle(outcome) }()

	// One caller's cancellation must not end the session for everyone
	// queued behind it, so the refresh only inherits values from ctx.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	token, err = c.exchange(refreshCtx)
	if err != nil {
		logging.Error("Token refresh failed, clearing credentials: %v", err)
		if clearErr := tokenstore.Clear(refreshCtx, c.store); clearErr != nil {
			logging.Error("%v", clearErr)
		}
		outcome = refreshOutcome{err: err}
		return "", err
	}

	logging.Info("Access token refreshed")
	outcome = refreshOutcome{token: token}
	return token, nil
}

// exchange reads the refresh token, calls the refresh endpoint and
// persists the result. The new token is stored before anyone replays.
func (c *Coordinator) exchange(ctx context.Context) (string, error) {
	refresh, ok, err := c.store.Get(ctx, tokenstore.KeyRefresh)
	if err != nil {
		return "", fmt.Errorf("%w: reading refresh token: %w", ErrRefreshFailed, err)
	}
	if !ok || refresh == "" {
		return "", ErrNoRefreshToken
	}

	access, rotated, err := c.refresh(ctx, refresh)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if access == "" {
		return "", ErrNoAccessToken
	}

	pairs := []tokenstore.Pair{{Key: tokenstore.KeyAccess, Value: access}}
	if rotated != "" {
		pairs = append(pairs, tokenstore.Pair{Key: tokenstore.KeyRefresh, Value: rotated})
	}
	if err := c.store.MultiSet(ctx, pairs...); err != nil {
		return "", fmt.Errorf("%w: saving access token: %w", ErrRefreshFailed, err)
	}
	return access, nil
}

// settle drains the queue and returns to idle in one critical section, so
// a 401 arriving afterwards starts a new episode instead of joining a
// queue nobody will drain. Waiters are released in arrival order.
func (c *Coordinator) settle(outcome refreshOutcome) {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.refreshing = false
	c.mu.Unlock()

	if len(queue) > 0 {
		logging.Debug("Releasing %d queued requests (refresh ok=%t)", len(queue), outcome.err == nil)
	}
	for _, p := range queue {
		p.done <- outcome
	}
}
