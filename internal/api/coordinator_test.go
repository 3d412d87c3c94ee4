package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matthieugras/pos-client/internal/tokenstore"
)

type callResult struct {
	ingredients []Ingredient
	err         error
}

// fireConcurrently runs n ListIngredients calls and returns their results
func fireConcurrently(ctx context.Context, client *Client, n int) <-chan callResult {
	results := make(chan callResult, n)
	for range n {
		go func() {
			ings, err := client.ListIngredients(ctx)
			results <- callResult{ingredients: ings, err: err}
		}()
	}
	return results
}

func collect(t *testing.T, results <-chan callResult, n int) []callResult {
	t.Helper()
	out := make([]callResult, 0, n)
	for range n {
		select {
		case r := <-results:
			out = append(out, r)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d/%d results", len(out), n)
		}
	}
	return out
}

func TestConcurrentUnauthorizedRefreshesOnce(t *testing.T) {
	const n = 8
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{
		validToken:  "A2",
		refreshBody: `{"access":"A2"}`,
		release:     make(chan struct{}),
	}
	client := newFakeClient(t, api, store, nil)
	coord := client.Coordinator()

	results := fireConcurrently(context.Background(), client, n)

	// Hold the refresh until every other caller is parked behind it
	waitFor(t, "callers to queue", func() bool { return coord.Pending() == n-1 })
	close(api.release)

	for _, r := range collect(t, results, n) {
		if r.err != nil {
			t.Fatalf("request failed: %v", r.err)
		}
		if len(r.ingredients) != 1 || r.ingredients[0].Name != "Rice" {
			t.Errorf("unexpected payload: %+v", r.ingredients)
		}
	}

	refreshCalls, accepted, stale := api.snapshot()
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}
	if len(accepted) != n {
		t.Errorf("accepted replays = %d, want %d", len(accepted), n)
	}
	for _, a := range accepted {
		if a != "Bearer A2" {
			t.Errorf("replay carried %q, want Bearer A2", a)
		}
	}
	if stale != 0 {
		t.Errorf("%d replays arrived before the new token was stored", stale)
	}
	if v, _ := storedValue(t, store, tokenstore.KeyAccess); v != "A2" {
		t.Errorf("stored access = %q, want A2", v)
	}
	if coord.Refreshing() || coord.Pending() != 0 {
		t.Errorf("coordinator not idle: refreshing=%t pending=%d", coord.Refreshing(), coord.Pending())
	}
}

// Stored {A1,R1}; X fails first and refreshes, Y and Z fail while it runs.
func TestRefreshScenarioXYZ(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{
		validToken:  "A2",
		refreshBody: `{"access":"A2"}`,
		release:     make(chan struct{}),
	}
	client := newFakeClient(t, api, store, nil)
	coord := client.Coordinator()

	results := make(chan callResult, 3)
	issue := func() {
		ings, err := client.ListIngredients(context.Background())
		results <- callResult{ingredients: ings, err: err}
	}

	go issue() // X
	waitFor(t, "X to start the refresh", coord.Refreshing)
	go issue() // Y
	waitFor(t, "Y to queue", func() bool { return coord.Pending() == 1 })
	go issue() // Z
	waitFor(t, "Z to queue", func() bool { return coord.Pending() == 2 })
	close(api.release)

	for _, r := range collect(t, results, 3) {
		if r.err != nil {
			t.Fatalf("request failed: %v", r.err)
		}
	}

	api.mu.Lock()
	bodies := append([]string(nil), api.refreshBodies...)
	api.mu.Unlock()
	if len(bodies) != 1 || bodies[0] != `{"refresh":"R1"}` {
		t.Errorf("refresh bodies = %q, want one {\"refresh\":\"R1\"}", bodies)
	}
	_, accepted, _ := api.snapshot()
	if len(accepted) != 3 {
		t.Fatalf("accepted = %d, want 3", len(accepted))
	}
	if v, _ := storedValue(t, store, tokenstore.KeyAccess); v != "A2" {
		t.Errorf("stored access = %q, want A2", v)
	}
	if v, _ := storedValue(t, store, tokenstore.KeyRefresh); v != "R1" {
		t.Errorf("stored refresh = %q, want R1 kept", v)
	}
	if coord.Refreshing() || coord.Pending() != 0 {
		t.Error("coordinator did not return to idle")
	}
}

func TestRefreshFailureRejectsEveryone(t *testing.T) {
	tests := []struct {
		name          string
		refreshStatus int
		refreshBody   string
		wantErr       error
	}{
		{name: "refresh rejected", refreshStatus: http.StatusUnauthorized, refreshBody: `{"detail":"Token is blacklisted"}`, wantErr: ErrRefreshFailed},
		{name: "server error", refreshStatus: http.StatusInternalServerError, refreshBody: `oops`, wantErr: ErrRefreshFailed},
		{name: "no access in response", refreshBody: `{"detail":"ok"}`, wantErr: ErrNoAccessToken},
		{name: "malformed response", refreshBody: `not json`, wantErr: ErrNoAccessToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const n = 4
			store := seededStore(t, "A1", "R1")
			api := &fakeAPI{
				validToken:    "A2",
				refreshStatus: tt.refreshStatus,
				refreshBody:   tt.refreshBody,
				release:       make(chan struct{}),
			}
			client := newFakeClient(t, api, store, nil)
			coord := client.Coordinator()

			results := fireConcurrently(context.Background(), client, n)
			waitFor(t, "callers to queue", func() bool { return coord.Pending() == n-1 })
			close(api.release)

			for _, r := range collect(t, results, n) {
				if !errors.Is(r.err, tt.wantErr) {
					t.Errorf("error = %v, want %v", r.err, tt.wantErr)
				}
				if !IsSessionExpired(r.err) {
					t.Errorf("IsSessionExpired(%v) = false", r.err)
				}
			}

			refreshCalls, accepted, _ := api.snapshot()
			if refreshCalls != 1 {
				t.Errorf("refresh calls = %d, want 1", refreshCalls)
			}
			if len(accepted) != 0 {
				t.Errorf("%d requests were replayed after a failed refresh", len(accepted))
			}
			for _, k := range []string{tokenstore.KeyAccess, tokenstore.KeyRefresh} {
				if _, ok := storedValue(t, store, k); ok {
					t.Errorf("%s token survived a failed refresh", k)
				}
			}
			if coord.Refreshing() || coord.Pending() != 0 {
				t.Error("coordinator did not return to idle")
			}
		})
	}
}

func TestMissingRefreshTokenFailsWithoutCall(t *testing.T) {
	store := seededStore(t, "A1", "")
	api := &fakeAPI{validToken: "A2", refreshBody: `{"access":"A2"}`}
	client := newFakeClient(t, api, store, nil)

	_, err := client.ListIngredients(context.Background())
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("error = %v, want ErrNoRefreshToken", err)
	}
	if calls, _, _ := api.snapshot(); calls != 0 {
		t.Errorf("refresh calls = %d, want 0", calls)
	}
	if _, ok := storedValue(t, store, tokenstore.KeyAccess); ok {
		t.Error("access token survived a failed refresh")
	}
}

func TestUnauthorizedRefreshEndpointIsTerminal(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{refreshStatus: http.StatusUnauthorized, refreshBody: `{"detail":"expired"}`}
	client := newFakeClient(t, api, store, nil)

	req, err := NewRequest(http.MethodPost, "/"+PathRefresh, map[string]string{"refresh": "R1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Do(context.Background(), req)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v, want 401 APIError", err)
	}
	if calls, _, _ := api.snapshot(); calls != 1 {
		t.Errorf("refresh endpoint hit %d times, want exactly the one request", calls)
	}
	for _, k := range []string{tokenstore.KeyAccess, tokenstore.KeyRefresh} {
		if _, ok := storedValue(t, store, k); ok {
			t.Errorf("%s token not cleared", k)
		}
	}
	if client.Coordinator().Refreshing() {
		t.Error("refresh-of-refresh entered the refreshing state")
	}
}

func TestRetriedRequestIsNotRecoveredAgain(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{
		resourceStatus: http.StatusUnauthorized,
		refreshBody:    `{"access":"A2"}`,
	}
	client := newFakeClient(t, api, store, nil)

	_, err := client.ListIngredients(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("error = %v, want 401", err)
	}
	if calls, _, _ := api.snapshot(); calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}
	api.mu.Lock()
	rejected := api.rejected
	api.mu.Unlock()
	if rejected != 2 {
		t.Errorf("resource attempts = %d, want original plus one replay", rejected)
	}
	// The refresh itself succeeded, so the session is kept
	if v, _ := storedValue(t, store, tokenstore.KeyAccess); v != "A2" {
		t.Errorf("stored access = %q, want A2", v)
	}
}

func TestRecoverPassesThroughOtherFailures(t *testing.T) {
	refreshed := false
	coord := NewCoordinator(CoordinatorConfig{
		Store: seededStore(t, "A1", "R1"),
		Refresh: func(context.Context, string) (string, string, error) {
			refreshed = true
			return "A2", "", nil
		},
	})
	replay := func(context.Context, *Request) (*Response, error) {
		t.Fatal("unexpected replay")
		return nil, nil
	}

	retried := &Request{Method: http.MethodGet, Path: "users/"}
	retried.markRetried()

	tests := []struct {
		name string
		req  *Request
		err  error
	}{
		{name: "network error", req: &Request{Path: "users/"}, err: errors.New("dial tcp: connection refused")},
		{name: "forbidden", req: &Request{Path: "users/"}, err: &APIError{StatusCode: http.StatusForbidden}},
		{name: "server error", req: &Request{Path: "users/"}, err: &APIError{StatusCode: http.StatusBadGateway}},
		{name: "already retried", req: retried, err: &APIError{StatusCode: http.StatusUnauthorized}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := coord.Recover(context.Background(), tt.req, tt.err, replay)
			if resp != nil || err != tt.err {
				t.Fatalf("Recover() = (%v, %v), want original error", resp, err)
			}
		})
	}
	if refreshed {
		t.Error("refresh ran for a non-recoverable failure")
	}
}

func TestNetworkErrorDoesNotRefresh(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	client, err := NewClient(ClientConfig{
		BaseURL: "http://pos.invalid/api/",
		Store:   store,
		HTTPClient: &http.Client{Transport: &mockRoundTripper{handler: func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.ListIngredients(context.Background())
	if err == nil || IsUnauthorized(err) {
		t.Fatalf("error = %v, want network error", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("network failure surfaced as APIError: %v", err)
	}
	if v, _ := storedValue(t, store, tokenstore.KeyRefresh); v != "R1" {
		t.Error("network error touched stored credentials")
	}
}

func TestQueueLimit(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{
		validToken:  "A2",
		refreshBody: `{"access":"A2"}`,
		release:     make(chan struct{}),
	}
	client := newFakeClient(t, api, store, func(cfg *ClientConfig) { cfg.MaxPending = 1 })
	coord := client.Coordinator()

	results := fireConcurrently(context.Background(), client, 3)
	waitFor(t, "one caller to queue", func() bool { return coord.Pending() == 1 })

	// The third caller overflows and returns while the refresh is held
	var overflow callResult
	select {
	case overflow = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("overflowing caller did not return")
	}
	if !errors.Is(overflow.err, ErrTooManyPending) {
		t.Fatalf("overflow error = %v, want ErrTooManyPending", overflow.err)
	}
	close(api.release)

	for _, r := range collect(t, results, 2) {
		if r.err != nil {
			t.Errorf("request failed: %v", r.err)
		}
	}
	if v, _ := storedValue(t, store, tokenstore.KeyRefresh); v != "R1" {
		t.Error("queue overflow cleared credentials")
	}
}

func TestCancelledWaiterLeavesRefreshRunning(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{
		validToken:  "A2",
		refreshBody: `{"access":"A2"}`,
		release:     make(chan struct{}),
	}
	client := newFakeClient(t, api, store, nil)
	coord := client.Coordinator()

	leader := fireConcurrently(context.Background(), client, 1)
	waitFor(t, "refresh to start", coord.Refreshing)

	ctx, cancel := context.WithCancel(context.Background())
	waiter := fireConcurrently(ctx, client, 1)
	waitFor(t, "waiter to queue", func() bool { return coord.Pending() == 1 })
	cancel()

	if r := collect(t, waiter, 1)[0]; !errors.Is(r.err, context.Canceled) {
		t.Fatalf("waiter error = %v, want context.Canceled", r.err)
	}

	close(api.release)
	if r := collect(t, leader, 1)[0]; r.err != nil {
		t.Fatalf("leader failed: %v", r.err)
	}
	if coord.Refreshing() || coord.Pending() != 0 {
		t.Error("coordinator did not return to idle")
	}
}

func TestCancelledLeaderDoesNotEndSession(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{
		validToken:  "A2",
		refreshBody: `{"access":"A2"}`,
		release:     make(chan struct{}),
	}
	client := newFakeClient(t, api, store, nil)
	coord := client.Coordinator()

	ctx, cancel := context.WithCancel(context.Background())
	leader := fireConcurrently(ctx, client, 1)
	waitFor(t, "refresh to start", coord.Refreshing)

	waiter := fireConcurrently(context.Background(), client, 1)
	waitFor(t, "waiter to queue", func() bool { return coord.Pending() == 1 })

	cancel()
	close(api.release)

	if r := collect(t, waiter, 1)[0]; r.err != nil {
		t.Fatalf("waiter failed after leader cancelled: %v", r.err)
	}
	if r := collect(t, leader, 1)[0]; !errors.Is(r.err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", r.err)
	}
	if v, _ := storedValue(t, store, tokenstore.KeyAccess); v != "A2" {
		t.Errorf("stored access = %q, want A2", v)
	}
}

func TestRefreshTimeout(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{
		validToken:  "A2",
		refreshBody: `{"access":"A2"}`,
		release:     make(chan struct{}),
	}
	client := newFakeClient(t, api, store, func(cfg *ClientConfig) { cfg.RefreshTimeout = 50 * time.Millisecond })
	t.Cleanup(func() { close(api.release) })

	_, err := client.ListIngredients(context.Background())
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want refresh failure from deadline", err)
	}
	if _, ok := storedValue(t, store, tokenstore.KeyRefresh); ok {
		t.Error("refresh token survived a timed out refresh")
	}
}

func TestRotatedRefreshTokenIsStored(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	api := &fakeAPI{validToken: "A2", refreshBody: `{"access":"A2","refresh":"R2"}`}
	client := newFakeClient(t, api, store, nil)

	if _, err := client.ListIngredients(context.Background()); err != nil {
		t.Fatalf("ListIngredients() error = %v", err)
	}
	if v, _ := storedValue(t, store, tokenstore.KeyRefresh); v != "R2" {
		t.Errorf("stored refresh = %q, want rotated R2", v)
	}
}

func TestQueueKeepsArrivalOrder(t *testing.T) {
	release := make(chan struct{})
	coord := NewCoordinator(CoordinatorConfig{
		Store: seededStore(t, "A1", "R1"),
		Refresh: func(context.Context, string) (string, string, error) {
			<-release
			return "A2", "", nil
		},
	})

	var mu sync.Mutex
	var replayed []string
	replay := func(_ context.Context, req *Request) (*Response, error) {
		mu.Lock()
		replayed = append(replayed, req.Path+" "+req.Header.Get("Authorization"))
		mu.Unlock()
		return &Response{StatusCode: http.StatusOK}, nil
	}
	unauthorized := &APIError{StatusCode: http.StatusUnauthorized}

	var wg sync.WaitGroup
	recoverAsync := func(path string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &Request{Method: http.MethodGet, Path: path, Header: http.Header{}}
			if _, err := coord.Recover(context.Background(), req, unauthorized, replay); err != nil {
				t.Errorf("Recover(%s) error = %v", path, err)
			}
		}()
	}

	recoverAsync("leader/")
	waitFor(t, "refresh to start", coord.Refreshing)
	paths := []string{"first/", "second/", "third/"}
	for i, p := range paths {
		recoverAsync(p)
		waitFor(t, p+" to queue", func() bool { return coord.Pending() == i+1 })
	}

	coord.mu.Lock()
	for i, p := range coord.queue {
		if p.req.Path != paths[i] {
			t.Errorf("queue[%d] = %s, want %s", i, p.req.Path, paths[i])
		}
	}
	coord.mu.Unlock()

	close(release)
	wg.Wait()

	if len(replayed) != 4 {
		t.Fatalf("replays = %d, want 4", len(replayed))
	}
	for _, r := range replayed {
		if !strings.HasSuffix(r, " Bearer A2") {
			t.Errorf("replay %q without the new token", r)
		}
	}
}

func TestPanickingRefreshReturnsToIdle(t *testing.T) {
	release := make(chan struct{})
	coord := NewCoordinator(CoordinatorConfig{
		Store: seededStore(t, "A1", "R1"),
		Refresh: func(context.Context, string) (string, string, error) {
			<-release
			panic("boom")
		},
	})
	unauthorized := &APIError{StatusCode: http.StatusUnauthorized}
	noReplay := func(context.Context, *Request) (*Response, error) {
		t.Error("unexpected replay")
		return nil, nil
	}

	panicked := make(chan any, 1)
	go func() {
		defer func() { panicked <- recover() }()
		coord.Recover(context.Background(), &Request{Path: "a/"}, unauthorized, noReplay)
	}()
	waitFor(t, "refresh to start", coord.Refreshing)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := coord.Recover(context.Background(), &Request{Path: "b/"}, unauthorized, noReplay)
		waiterErr <- err
	}()
	waitFor(t, "waiter to queue", func() bool { return coord.Pending() == 1 })
	close(release)

	if p := <-panicked; p == nil {
		t.Fatal("expected the refresh panic to propagate")
	}
	if err := <-waiterErr; !errors.Is(err, ErrRefreshAborted) {
		t.Fatalf("waiter error = %v, want ErrRefreshAborted", err)
	}
	if coord.Refreshing() || coord.Pending() != 0 {
		t.Error("coordinator stuck after panic")
	}
}
