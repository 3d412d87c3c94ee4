package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/matthieugras/pos-client/internal/tokenstore"
)

// TokenInfo is what the client can read from a stored access token.
// The signature is not checked: only the server can do that.
type TokenInfo struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token's exp lies before now. A token
// without exp never expires.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// ParseAccessToken decodes the claims of a JWT access token
func ParseAccessToken(token string) (*TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}

	info := &TokenInfo{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	switch id := claims["user_id"].(type) {
	case string:
		info.UserID = id
	case float64:
		info.UserID = fmt.Sprintf("%.0f", id)
	default:
		if sub, err := claims.GetSubject(); err == nil {
			info.UserID = sub
		}
	}
	return info, nil
}

// AccessToken returns the decoded claims of the stored access token
func (s *Session) AccessToken(ctx context.Context) (*TokenInfo, error) {
	token, ok, err := s.store.Get(ctx, tokenstore.KeyAccess)
	if err != nil {
		return nil, err
	}
	if !ok || token == "" {
		return nil, fmt.Errorf("not logged in")
	}
	return ParseAccessToken(token)
}
