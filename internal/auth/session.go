package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/matthieugras/pos-client/internal/api"
	"github.com/matthieugras/pos-client/internal/logging"
	"github.com/matthieugras/pos-client/internal/tokenstore"
)

// Login failures, classified from the server's reason
var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrNoAccount          = errors.New("no active account with these credentials")
	ErrBlocked            = errors.New("account is blocked, contact an admin")
	ErrMissingTokens      = errors.New("server did not return access/refresh tokens")
)

// LoginError is a rejected login with the server's detail
type LoginError struct {
	Kind       error // one of ErrInvalidCredentials, ErrNoAccount, ErrBlocked
	Detail     string
	StatusCode int
}

func (e *LoginError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("login failed: %v", e.Kind)
	}
	return fmt.Sprintf("login failed: %v (%s)", e.Kind, e.Detail)
}

func (e *LoginError) Unwrap() error {
	return e.Kind
}

// Profile is the signed-in account as returned by auth/me/
type Profile struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

// Session manages the stored credential pair for a Client
type Session struct {
	client *api.Client
	store  tokenstore.Store
}

// NewSession creates a session bound to client and its store
func NewSession(client *api.Client) *Session {
	return &Session{client: client, store: client.Store()}
}

// loginResponse accepts the token field names the backend has used
type loginResponse struct {
	Access       string `json:"access"`
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	Refresh      string `json:"refresh"`
	RefreshToken string `json:"refresh_token"`
}

func (r loginResponse) tokens() (access, refresh string) {
	access = firstNonEmpty(r.Access, r.AccessToken, r.Token)
	refresh = firstNonEmpty(r.Refresh, r.RefreshToken)
	return access, refresh
}

// Login exchanges username and password for a token pair and stores it.
// The profile is fetched afterwards; failing to get it does not fail the
// login and a nil profile is returned.
func (s *Session) Login(ctx context.Context, username, password string) (*Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, &LoginError{Kind: ErrInvalidCredentials, Detail: "username and password are required"}
	}

	req, err := api.NewRequest(http.MethodPost, api.PathLogin, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Send(ctx, req)
	if err != nil {
		return nil, classifyLoginError(err)
	}

	var body loginResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to parse login response: %w", err)
	}
	access, refresh := body.tokens()
	if access == "" || refresh == "" {
		return nil, ErrMissingTokens
	}

	if err := s.store.MultiSet(ctx, tokenstore.Credentials(access, refresh)...); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	logging.Info("Logged in as %s", username)

	profile, err := s.Me(ctx)
	if err != nil {
		logging.Warn("Fetching profile after login failed: %v", err)
		return nil, nil
	}
	return profile, nil
}

// Me returns the signed-in account
func (s *Session) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := s.client.Get(ctx, api.PathMe, nil, &p); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// LoggedIn reports whether a refresh token is stored
func (s *Session) LoggedIn(ctx context.Context) (bool, error) {
	refresh, ok, err := s.store.Get(ctx, tokenstore.KeyRefresh)
	if err != nil {
		return false, err
	}
	return ok && refresh != "", nil
}

// Logout removes both stored tokens
func (s *Session) Logout(ctx context.Context) error {
	if err := tokenstore.Clear(ctx, s.store); err != nil {
		return err
	}
	logging.Info("Logged out")
	return nil
}

// ChangePassword changes the signed-in account's password. The server
// invalidates the session, so the stored tokens are removed on success.
func (s *Session) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	err := s.client.Post(ctx, api.PathChangePasswd, map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	}, nil)
	if err != nil {
		if reason := fieldError(err, "old_password", "new_password"); reason != "" {
			return fmt.Errorf("change password: %s", reason)
		}
		return fmt.Errorf("change password: %w", err)
	}
	return s.Logout(ctx)
}

// classifyLoginError maps a failed token/ call to a LoginError using the
// server's detail message. Transport failures are returned unchanged.
func classifyLoginError(err error) error {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("login: %w", err)
	}
	if apiErr.Retryable {
		return fmt.Errorf("login: %w", err)
	}

	detail := apiErr.Detail()
	kind := ErrInvalidCredentials
	switch {
	case strings.Contains(detail, "No active account"):
		kind = ErrNoAccount
	case strings.Contains(strings.ToLower(detail), "blocked"):
		kind = ErrBlocked
	}
	return &LoginError{Kind: kind, Detail: detail, StatusCode: apiErr.StatusCode}
}

// fieldError returns the first validation message for one of fields in a
// 400 response body like {"old_password": ["Wrong password."]}.
func fieldError(err error, fields ...string) string {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return ""
	}
	var body map[string]json.RawMessage
	if json.Unmarshal(apiErr.Body, &body) != nil {
		return ""
	}
	for _, f := range fields {
		var msgs []string
		if json.Unmarshal(body[f], &msgs) == nil && len(msgs) > 0 {
			return msgs[0]
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
