package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthieugras/pos-client/internal/api"
	"github.com/matthieugras/pos-client/internal/tokenstore"
)

type backend struct {
	loginStatus int
	loginBody   string
	meStatus    int
	meBody      string
	pwStatus    int
	pwBody      string

	loginAuth    string
	loginPayload map[string]string
	refreshCalls int
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/token/":
		b.loginAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &b.loginPayload)
		writeReply(w, b.loginStatus, b.loginBody)
	case "/api/token/refresh/":
		b.refreshCalls++
		writeReply(w, http.StatusUnauthorized, `{"detail":"Token is invalid or expired"}`)
	case "/api/auth/me/":
		writeReply(w, b.meStatus, b.meBody)
	case "/api/auth/change-password/":
		writeReply(w, b.pwStatus, b.pwBody)
	default:
		http.NotFound(w, r)
	}
}

func writeReply(w http.ResponseWriter, status int, body string) {
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newTestSession(t *testing.T, b *backend) (*Session, tokenstore.Store) {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemory()
	client, err := api.NewClient(api.ClientConfig{
		BaseURL:    srv.URL + "/api/",
		HTTPClient: srv.Client(),
		Store:      store,
	})
	require.NoError(t, err)
	return NewSession(client), store
}

func TestLoginStoresTokens(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		access  string
		refresh string
	}{
		{name: "simplejwt", body: `{"access":"A1","refresh":"R1"}`, access: "A1", refresh: "R1"},
		{name: "oauth names", body: `{"access_token":"A2","refresh_token":"R2"}`, access: "A2", refresh: "R2"},
		{name: "token field", body: `{"token":"A3","refresh":"R3"}`, access: "A3", refresh: "R3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &backend{
				loginBody: tt.body,
				meBody:    `{"id":4,"username":"ana","role":"cashier"}`,
			}
			s, store := newTestSession(t, b)
			ctx := context.Background()

			profile, err := s.Login(ctx, "  ana ", "secret")
			require.NoError(t, err)
			require.NotNil(t, profile)
			assert.Equal(t, RoleCashier, profile.Role)
			assert.Equal(t, "cashier", profile.Role.Dashboard())

			assert.Empty(t, b.loginAuth, "login must not carry a bearer token")
			assert.Equal(t, map[string]string{"username": "ana", "password": "secret"}, b.loginPayload)

			access, _, err := store.Get(ctx, tokenstore.KeyAccess)
			require.NoError(t, err)
			assert.Equal(t, tt.access, access)
			refresh, _, err := store.Get(ctx, tokenstore.KeyRefresh)
			require.NoError(t, err)
			assert.Equal(t, tt.refresh, refresh)

			loggedIn, err := s.LoggedIn(ctx)
			require.NoError(t, err)
			assert.True(t, loggedIn)
		})
	}
}

func TestLoginMissingTokens(t *testing.T) {
	s, store := newTestSession(t, &backend{loginBody: `{"access":"A1"}`})

	_, err := s.Login(context.Background(), "ana", "secret")
	require.ErrorIs(t, err, ErrMissingTokens)

	_, ok, err := store.Get(context.Background(), tokenstore.KeyAccess)
	require.NoError(t, err)
	assert.False(t, ok, "partial pair must not be stored")
}

func TestLoginProfileOptional(t *testing.T) {
	b := &backend{
		loginBody: `{"access":"A1","refresh":"R1"}`,
		meStatus:  http.StatusInternalServerError,
		meBody:    `{"detail":"boom"}`,
	}
	s, _ := newTestSession(t, b)

	profile, err := s.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	assert.Nil(t, profile)

	loggedIn, err := s.LoggedIn(context.Background())
	require.NoError(t, err)
	assert.True(t, loggedIn)
}

func TestLoginErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		username string
		want     error
	}{
		{name: "no account", status: http.StatusUnauthorized, body: `{"detail":"No active account found with the given credentials"}`, username: "ana", want: ErrNoAccount},
		{name: "blocked", status: http.StatusForbidden, body: `{"error":"This account is Blocked."}`, username: "ana", want: ErrBlocked},
		{name: "other", status: http.StatusBadRequest, body: `{"password":["This field may not be blank."]}`, username: "ana", want: ErrInvalidCredentials},
		{name: "empty username", username: "   ", want: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &backend{loginStatus: tt.status, loginBody: tt.body}
			s, store := newTestSession(t, b)
			// A stale session must not be refreshed because of a rejected login
			require.NoError(t, store.MultiSet(context.Background(), tokenstore.Credentials("old", "old-refresh")...))

			_, err := s.Login(context.Background(), tt.username, "pw")
			require.ErrorIs(t, err, tt.want)

			var loginErr *LoginError
			require.True(t, errors.As(err, &loginErr))
			assert.Zero(t, b.refreshCalls)
		})
	}
}

func TestLoginServerError(t *testing.T) {
	s, _ := newTestSession(t, &backend{loginStatus: http.StatusBadGateway, loginBody: `bad gateway`})

	_, err := s.Login(context.Background(), "ana", "pw")
	require.Error(t, err)

	var loginErr *LoginError
	assert.False(t, errors.As(err, &loginErr), "5xx is not a credentials problem")
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestLogout(t *testing.T) {
	s, store := newTestSession(t, &backend{})
	ctx := context.Background()
	require.NoError(t, store.MultiSet(ctx, tokenstore.Credentials("A1", "R1")...))

	require.NoError(t, s.Logout(ctx))

	for _, k := range []string{tokenstore.KeyAccess, tokenstore.KeyRefresh} {
		_, ok, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
	loggedIn, err := s.LoggedIn(ctx)
	require.NoError(t, err)
	assert.False(t, loggedIn)
}

func TestChangePassword(t *testing.T) {
	t.Run("success logs out", func(t *testing.T) {
		s, store := newTestSession(t, &backend{pwBody: `{"detail":"Password updated"}`})
		ctx := context.Background()
		require.NoError(t, store.MultiSet(ctx, tokenstore.Credentials("A1", "R1")...))

		require.NoError(t, s.ChangePassword(ctx, "old", "new"))

		loggedIn, err := s.LoggedIn(ctx)
		require.NoError(t, err)
		assert.False(t, loggedIn)
	})

	t.Run("validation message", func(t *testing.T) {
		s, store := newTestSession(t, &backend{
			pwStatus: http.StatusBadRequest,
			pwBody:   `{"old_password":["Wrong password."]}`,
		})
		ctx := context.Background()
		require.NoError(t, store.MultiSet(ctx, tokenstore.Credentials("A1", "R1")...))

		err := s.ChangePassword(ctx, "bad", "new")
		require.EqualError(t, err, "change password: Wrong password.")

		loggedIn, err := s.LoggedIn(ctx)
		require.NoError(t, err)
		assert.True(t, loggedIn)
	})
}

func TestRoles(t *testing.T) {
	tests := []struct {
		role      Role
		valid     bool
		dashboard string
		manage    bool
	}{
		{RoleOwner, true, "admin", true},
		{RoleAdmin, true, "admin", true},
		{RoleWaiter, true, "waiter", false},
		{RoleCashier, true, "cashier", false},
		{Role("chef"), false, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.role.Valid())
			assert.Equal(t, tt.dashboard, tt.role.Dashboard())
			assert.Equal(t, tt.manage, tt.role.CanManageUsers())
			if tt.valid {
				assert.Contains(t, tt.role.Sections(), "dashboard")
			}
		})
	}
}
