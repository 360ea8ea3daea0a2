// Package blob abstracts the object store that holds invocation log
// artifacts. Keys are forward-slash paths like "invocations/<id>.json".
package blob

import "context"

// Store is the minimal object-store surface the log capture needs.
type Store interface {
	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the object body. Wraps errors.ErrNotFound when the
	// key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object and returns its externally addressable URL.
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}
