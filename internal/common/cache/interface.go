package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis the remote judge relies on: record snapshots,
// per-node account status and cross-process import locks.
type Cache interface {
	BasicOps
	HashOps
	ListOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" without error when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// HashOps defines hash (map) operations
type HashOps interface {
	HSet(ctx context.Context, key, field string, value interface{}) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	// HReplace atomically swaps the whole hash for fields and sets its ttl.
	HReplace(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error
}

// ListOps defines list operations
type ListOps interface {
	// RPushTrim appends values and keeps only the newest maxLen entries, refreshing ttl.
	RPushTrim(ctx context.Context, key string, maxLen int64, ttl time.Duration, values ...interface{}) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// LockOps defines distributed lock operations.
// A lock is owned by the token returned from TryLock; only that token can release or extend it.
type LockOps interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) error
}
