package blobstore

import (
	"context"
	"os"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store holds small named blobs such as reindex checkpoints.
type Store interface {
	// Get returns the full content of a blob.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put replaces a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// TrimRoot strips a store's root prefix (and the separating slash) from a key.
func TrimRoot(key, root string) string {
	if root == "" {
		return key
	}
	rel := strings.TrimPrefix(key, strings.TrimSuffix(root, "/"))
	return strings.TrimPrefix(rel, "/")
}
