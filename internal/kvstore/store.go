// Package kvstore is the key/value layer behind the notification record
// store. Every value carries a time-to-live; expired keys are invisible to
// reads and prefix scans.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// Store is a TTL key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Set writes value under key, replacing any previous value and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the live value for key or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Keys returns the live keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
