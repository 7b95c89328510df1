package core

import (
	"context"
	"time"
)

// KVStore defines the interface for the small key-value stores used to
// remember per-user viewer selection between runs.
type KVStore interface {
	// Get retrieves a value by key from the store.
	// Returns an error wrapping kvstore.ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the store.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// Close closes the connection to the KV store and releases resources.
	Close() error
}
