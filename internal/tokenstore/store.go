// Package tokenstore persists the credential pair used by the API client.
package tokenstore

import (
	"context"
	"fmt"
)

// Keys under which the credential pair is stored
const (
	KeyAccess  = "access"
	KeyRefresh = "refresh"
)

// Store is an asynchronous key-value store for credentials.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a single value.
	Set(ctx context.Context, key, value string) error

	// MultiSet stores several values at once.
	MultiSet(ctx context.Context, pairs ...Pair) error

	// MultiRemove deletes the given keys. Missing keys are ignored.
	MultiRemove(ctx context.Context, keys ...string) error
}

// Pair is a key/value entry for MultiSet
type Pair struct {
	Key   string
	Value string
}

// Credentials returns the (access, refresh) pairs for MultiSet.
func Credentials(access, refresh string) []Pair {
	return []Pair{
		{Key: KeyAccess, Value: access},
		{Key: KeyRefresh, Value: refresh},
	}
}

// Clear removes both halves of the credential pair.
func Clear(ctx context.Context, s Store) error {
	if err := s.MultiRemove(ctx, KeyAccess, KeyRefresh); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Open creates a store from a backend name.
// Supported kinds: "memory", "file" (uses path) and "redis" (uses url and prefix).
func Open(kind, path, url, prefix string) (Store, error) {
	switch kind {
	case "memory":
		return NewMemory(), nil
	case "file", "":
		return NewFile(path)
	case "redis":
		return NewRedis(url, prefix)
	default:
		return nil, fmt.Errorf("unknown token store %q (want memory, file or redis)", kind)
	}
}
