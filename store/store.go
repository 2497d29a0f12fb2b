// Package store abstracts the shared state store every gateway instance
// coordinates through. The Redis implementation is the production path;
// the in-memory implementation is a single-instance fallback with the
// same semantics, including TTL expiry and the atomic list drain.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point reads when the key (or hash field) is
// absent or has expired.
var ErrNotFound = errors.New("store: not found")

// Store is the key/value, list and hash surface shared across instances.
// All methods are safe for concurrent use, including by other processes
// against the same backing store.
type Store interface {
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	RPush(ctx context.Context, key string, values ...string) error
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) error

	// PopFrontN atomically removes and returns the first n list entries.
	// If the list holds fewer than n entries it returns nil and performs
	// no mutation. This all-or-nothing contract is what keeps concurrent
	// queue drains from double-matching a player.
	PopFrontN(ctx context.Context, key string, n int) ([]string, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// ScanKeys returns every key matching the glob pattern using a
	// cursor-based, non-blocking scan.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	Close() error
}
