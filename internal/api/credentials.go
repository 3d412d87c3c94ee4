package api

import (
	"context"
	"strings"

	"github.com/matthieugras/pos-client/internal/logging"
	"github.com/matthieugras/pos-client/internal/tokenstore"
)

// Endpoints the backend serves without a bearer token
const (
	PathLogin        = "token/"
	PathRefresh      = "token/refresh/"
	PathAuthLogin    = "auth/login/"
	PathAuthRefresh  = "auth/refresh/"
	PathMe           = "auth/me/"
	PathChangePasswd = "auth/change-password/"
)

// DefaultNoAuthPaths are the normalized paths that never carry a token
var DefaultNoAuthPaths = []string{PathLogin, PathRefresh, PathAuthLogin, PathAuthRefresh}

// refreshPaths are the endpoints whose own 401 ends the session
var refreshPaths = map[string]struct{}{
	PathRefresh:     {},
	PathAuthRefresh: {},
}

// NormalizePath strips a single leading separator
func NormalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}

func isRefreshPath(path string) bool {
	_, ok := refreshPaths[NormalizePath(path)]
	return ok
}

// Credentials is the attach-credential stage: it puts the stored access
// token on every request except those to unauthenticated endpoints.
type Credentials struct {
	store  tokenstore.Store
	noAuth map[string]struct{}
}

// NewCredentials creates the stage. A nil noAuthPaths selects DefaultNoAuthPaths.
func NewCredentials(store tokenstore.Store, noAuthPaths []string) *Credentials {
	if noAuthPaths == nil {
		noAuthPaths = DefaultNoAuthPaths
	}
	set := make(map[string]struct{}, len(noAuthPaths))
	for _, p := range noAuthPaths {
		set[NormalizePath(p)] = struct{}{}
	}
	return &Credentials{store: store, noAuth: set}
}

// IsNoAuth reports whether path is served without a token
func (c *Credentials) IsNoAuth(path string) bool {
	_, ok := c.noAuth[NormalizePath(path)]
	return ok
}

// Attach sets or strips the Authorization header of req.
// A failed store read is logged and the request goes out without a
// token; the server then answers 401 and recovery takes over.
func (c *Credentials) Attach(ctx context.Context, req *Request) {
	if c.IsNoAuth(req.Path) {
		if req.Header != nil {
			req.Header.Del("Authorization")
		}
		return
	}

	// A header left from an earlier attempt must not outlive the session
	if req.Header != nil {
		req.Header.Del("Authorization")
	}
	token, ok, err := c.store.Get(ctx, tokenstore.KeyAccess)
	if err != nil {
		logging.Warn("Reading access token failed, sending %s %s without it: %v", req.Method, req.Path, err)
		return
	}
	if ok && token != "" {
		req.setBearer(token)
	}
}
