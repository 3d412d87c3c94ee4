package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matthieugras/pos-client/internal/tokenstore"
)

// mockRoundTripper intercepts HTTP requests and returns mock responses
type mockRoundTripper struct {
	handler func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.handler(req)
}

// jsonResponse builds a mock response with a JSON body
func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// failingStore is a token store whose every operation fails
type failingStore struct{}

var errStoreDown = errors.New("store unavailable")

func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, errStoreDown }
func (failingStore) Set(context.Context, string, string) error          { return errStoreDown }
func (failingStore) MultiSet(context.Context, ...tokenstore.Pair) error { return errStoreDown }
func (failingStore) MultiRemove(context.Context, ...string) error       { return errStoreDown }

// fakeAPI is a POS backend that accepts exactly one access token on
// resource paths and serves token/refresh/ with a configurable answer.
type fakeAPI struct {
	t     *testing.T
	store tokenstore.Store // the client's store, to check persistence order

	validToken     string
	refreshStatus  int           // 0 means 200
	refreshBody    string        // body sent by token/refresh/
	release        chan struct{} // if set, token/refresh/ blocks until closed
	resourceStatus int           // if set, resource paths always answer this

	mu            sync.Mutex
	refreshCalls  int
	refreshBodies []string
	accepted      []string // Authorization of accepted resource requests
	staleReplays  int      // accepted before the new token was stored
	rejected      int      // resource requests answered 401
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")

	if r.URL.Path == "/api/"+PathRefresh {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.refreshCalls++
		f.refreshBodies = append(f.refreshBodies, string(body))
		f.mu.Unlock()

		if auth != "" {
			f.t.Errorf("refresh call carried Authorization %q", auth)
		}
		if f.release != nil {
			select {
			case <-f.release:
			case <-r.Context().Done():
				return
			}
		}
		status := f.refreshStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		io.WriteString(w, f.refreshBody)
		return
	}

	if f.resourceStatus != 0 {
		f.mu.Lock()
		f.rejected++
		f.mu.Unlock()
		w.WriteHeader(f.resourceStatus)
		io.WriteString(w, `{"detail":"forced"}`)
		return
	}

	if auth != "Bearer "+f.validToken {
		f.mu.Lock()
		f.rejected++
		f.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":"Given token not valid for any token type"}`)
		return
	}

	stored, _, _ := f.store.Get(r.Context(), tokenstore.KeyAccess)
	f.mu.Lock()
	f.accepted = append(f.accepted, auth)
	if stored != f.validToken {
		f.staleReplays++
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `[{"id":1,"name":"Rice","unit":"kg","quantity":"2.50"}]`)
}

func (f *fakeAPI) snapshot() (refreshCalls int, accepted []string, stale int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls, append([]string(nil), f.accepted...), f.staleReplays
}

// newFakeClient starts f on an httptest server and returns a client for it
func newFakeClient(t *testing.T, f *fakeAPI, store tokenstore.Store, mutate func(*ClientConfig)) *Client {
	t.Helper()
	f.t = t
	f.store = store

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	cfg := ClientConfig{
		BaseURL:    srv.URL + "/api/",
		HTTPClient: srv.Client(),
		Store:      store,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

// seededStore returns a memory store holding the given pair
func seededStore(t *testing.T, access, refresh string) *tokenstore.Memory {
	t.Helper()
	s := tokenstore.NewMemory()
	ctx := context.Background()
	if access != "" {
		if err := s.Set(ctx, tokenstore.KeyAccess, access); err != nil {
			t.Fatal(err)
		}
	}
	if refresh != "" {
		if err := s.Set(ctx, tokenstore.KeyRefresh, refresh); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func storedValue(t *testing.T, s tokenstore.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("store Get(%s) error = %v", key, err)
	}
	return v, ok
}
