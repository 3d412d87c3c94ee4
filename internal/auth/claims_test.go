package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthieugras/pos-client/internal/tokenstore"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return token
}

func TestParseAccessToken(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)

	info, err := ParseAccessToken(signed(t, jwt.MapClaims{
		"token_type": "access",
		"exp":        exp.Unix(),
		"user_id":    7,
	}))
	require.NoError(t, err)
	assert.Equal(t, "7", info.UserID)
	assert.True(t, info.ExpiresAt.Equal(exp))
	assert.False(t, info.Expired(time.Now()))
	assert.True(t, info.Expired(exp.Add(time.Second)))

	info, err = ParseAccessToken(signed(t, jwt.MapClaims{"sub": "ana"}))
	require.NoError(t, err)
	assert.Equal(t, "ana", info.UserID)
	assert.False(t, info.Expired(time.Now()), "token without exp never expires")

	_, err = ParseAccessToken("not-a-jwt")
	assert.Error(t, err)
}

func TestSessionAccessToken(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemory()
	s := &Session{store: store}

	_, err := s.AccessToken(ctx)
	require.Error(t, err)

	require.NoError(t, store.Set(ctx, tokenstore.KeyAccess, signed(t, jwt.MapClaims{"user_id": "3"})))
	info, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", info.UserID)
}
