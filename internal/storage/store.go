// Package storage implements the quota persistence contract: an opaque
// string key/value store with optional TTL, used solely to durably store
// quota counters across process restarts. It is never used as a lock.
package storage

import (
	"context"
	"time"
)

// Store is the contract required of any persistence backend. Get must
// treat a missing key as (_, false, nil), never as an error. Writes may
// silently drop under pressure without affecting in-memory correctness.
type Store interface {
	// Get retrieves a value. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores a value. ttl <= 0 means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the backend. Idempotent.
	Close() error
}
