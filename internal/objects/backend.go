// Package objects stores LFS chunk payloads. A Backend is a flat key/value
// store addressed by slash-separated keys; ChunkStore lays chunk files out
// under the fan-out directory of their object id.
package objects

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"tigsync/internal/errors"
)

// ErrNotFound is returned by a Backend when a key does not exist.
var ErrNotFound = stderrors.New("object not found")

// Backend is the interface for chunk payload storage.
type Backend interface {
	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Type returns the backend type identifier ("local", "s3").
	Type() string
}

// validateKey rejects keys that could escape the backend root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return errors.ValidationError(fmt.Sprintf("invalid object key %q", key), nil)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return errors.ValidationError(fmt.Sprintf("invalid object key %q", key), nil)
		}
	}
	return nil
}
