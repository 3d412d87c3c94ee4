package api

import (
	"context"
	"net/http"
	"testing"
)

func TestCredentialsAttach(t *testing.T) {
	store := seededStore(t, "A1", "R1")
	creds := NewCredentials(store, nil)

	tests := []struct {
		name       string
		path       string
		preset     string
		wantHeader string
	}{
		{name: "resource gets bearer", path: "inventory/ingredients/", wantHeader: "Bearer A1"},
		{name: "leading slash", path: "/users/", wantHeader: "Bearer A1"},
		{name: "stale header replaced", path: "users/", preset: "Bearer old", wantHeader: "Bearer A1"},
		{name: "login stripped", path: "token/", preset: "Bearer A1", wantHeader: ""},
		{name: "refresh stripped", path: "/token/refresh/", preset: "Bearer A1", wantHeader: ""},
		{name: "auth login stripped", path: "auth/login/", preset: "Bearer A1", wantHeader: ""},
		{name: "auth refresh stripped", path: "auth/refresh/", wantHeader: ""},
		{name: "me is authenticated", path: "auth/me/", wantHeader: "Bearer A1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(http.MethodGet, tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.preset != "" {
				req.Header.Set("Authorization", tt.preset)
			}
			creds.Attach(context.Background(), req)
			if got := req.Header.Get("Authorization"); got != tt.wantHeader {
				t.Errorf("Authorization = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestCredentialsNoToken(t *testing.T) {
	creds := NewCredentials(seededStore(t, "", "R1"), nil)
	req, _ := NewRequest(http.MethodGet, "users/", nil)
	req.Header.Set("Authorization", "Bearer old")

	creds.Attach(context.Background(), req)

	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want none", got)
	}
}

func TestCredentialsStoreFailureSendsWithoutToken(t *testing.T) {
	creds := NewCredentials(failingStore{}, nil)
	req, _ := NewRequest(http.MethodGet, "users/", nil)
	req.Header.Set("Authorization", "Bearer old")

	creds.Attach(context.Background(), req)

	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want none", got)
	}
}

func TestCredentialsCustomNoAuthPaths(t *testing.T) {
	creds := NewCredentials(seededStore(t, "A1", ""), []string{"/public/menu/"})

	if !creds.IsNoAuth("public/menu/") {
		t.Error("custom path not treated as unauthenticated")
	}
	if creds.IsNoAuth(PathLogin) {
		t.Error("custom list should replace the defaults")
	}
}

func TestClientStripsTokenOnLogin(t *testing.T) {
	var sawAuth []string
	client, err := NewClient(ClientConfig{
		BaseURL: "http://pos.test/api",
		Store:   seededStore(t, "A1", "R1"),
		HTTPClient: &http.Client{Transport: &mockRoundTripper{handler: func(r *http.Request) (*http.Response, error) {
			sawAuth = append(sawAuth, r.URL.Path+"="+r.Header.Get("Authorization"))
			return jsonResponse(http.StatusOK, `{}`), nil
		}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	req, _ := NewRequest(http.MethodPost, "/token/", map[string]string{"username": "u", "password": "p"})
	req.Header.Set("Authorization", "Bearer leftover")
	if _, err := client.Do(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "users/"}); err != nil {
		t.Fatal(err)
	}

	want := []string{"/api/token/=", "/api/users/=Bearer A1"}
	if len(sawAuth) != len(want) {
		t.Fatalf("requests = %v, want %v", sawAuth, want)
	}
	for i := range want {
		if sawAuth[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, sawAuth[i], want[i])
		}
	}
}
