package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// File is a Store backed by a JSON document on disk.
// Writes go through a temp file and rename so a crash never leaves a
// half-written credential file behind.
type File struct {
	path string

	mu sync.Mutex // serializes writers; Get does not take it
	// loadGr shares one disk read among concurrent Gets. A write forgets
	// the in-flight load so later Gets see the new document.
	loadGr singleflight.Group
}

// DefaultFilePath returns ~/.config/posctl/credentials.json
func DefaultFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "posctl", "credentials.json")
}

// NewFile creates a file store. An empty path selects DefaultFilePath.
func NewFile(path string) (*File, error) {
	if path == "" {
		path = DefaultFilePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the backing file
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	// Concurrent readers share one disk read
	result, err, _ := f.loadGr.Do("load", func() (any, error) {
		return f.load()
	})
	if err != nil {
		return "", false, err
	}
	v, ok := result.(map[string]string)[key]
	return v, ok, nil
}

func (f *File) Set(ctx context.Context, key, value string) error {
	return f.MultiSet(ctx, Pair{Key: key, Value: value})
}

func (f *File) MultiSet(ctx context.Context, pairs ...Pair) error {
	return f.update(ctx, func(values map[string]string) {
		for _, p := range pairs {
			values[p.Key] = p.Value
		}
	})
}

func (f *File) MultiRemove(ctx context.Context, keys ...string) error {
	return f.update(ctx, func(values map[string]string) {
		for _, k := range keys {
			delete(values, k)
		}
	})
}

func (f *File) update(ctx context.Context, mutate func(map[string]string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	mutate(values)
	if err := f.save(values); err != nil {
		return err
	}
	f.loadGr.Forget("load")
	return nil
}

// load reads the document; a missing file is an empty store.
// The returned map is a fresh copy owned by the caller.
func (f *File) load() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return values, nil
}

func (f *File) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
