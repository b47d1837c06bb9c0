// Package store abstracts the shared key-value store used for cross-process
// anonymization state: token records, fingerprint device-sets, and region
// hash caches. The in-process LRU caches in front of it are advisory only;
// this store is the single source of truth across instances.
package store

import (
	"context"
	"time"
)

// Store is the shared key-value surface the anonymization services depend on.
// Implementations provide at-least-once semantics; no cross-key transactional
// guarantee is required beyond best-effort batching.
type Store interface {
	// Get returns the string value at key, or sentinel.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes a string value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// Expire adjusts a key's TTL. Missing keys are not an error.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// HSet writes fields into the hash at key, creating it if absent.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGetAll returns all fields of the hash at key, or sentinel.ErrNotFound
	// if the hash does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error
	// SCard returns the cardinality of the set at key (0 if absent).
	SCard(ctx context.Context, key string) (int64, error)
}
