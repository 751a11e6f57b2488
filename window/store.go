// Package window provides the counter storage behind the sliding-window
// admission check. Entries are timestamps of admitted sends keyed by
// (recipient, category); backends are interchangeable behind the Store
// interface.
package window

import (
	"context"
	"time"
)

// Storage types selectable from configuration.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// DefaultRetention is the absolute expiry applied to every key as a safety
// net against abandoned keys, independent of the sliding-window prune.
const DefaultRetention = 24 * time.Hour

// Usage maps recipient -> category -> current entry count.
type Usage map[string]map[string]int

// Store defines the counter storage contract. Implementations must be safe
// for concurrent use. Prune and Count are separate operations on purpose:
// the admission engine serializes prune -> count -> append per key, so a
// Store does not need its own check-then-act atomicity.
type Store interface {
	// Prune removes every entry for the key with timestamp <= now-window.
	// The boundary is exclusive on the old side: an entry at exactly
	// now-window is expired. Pruning is idempotent.
	Prune(ctx context.Context, recipient, category string, window time.Duration, now time.Time) error

	// Count returns the number of entries currently stored for the key.
	// It does not prune.
	Count(ctx context.Context, recipient, category string) (int, error)

	// Append records one admitted send with the given timestamp.
	Append(ctx context.Context, recipient, category string, now time.Time) error

	// ClearAll removes every entry for every key.
	ClearAll(ctx context.Context) error

	// UsageSnapshot returns the current entry count for every tracked key.
	// The snapshot may be stale with respect to concurrent writers and may
	// include logically expired entries that have not been pruned yet.
	UsageSnapshot(ctx context.Context) (Usage, error)

	// Close releases backend resources.
	Close() error
}

type storeOptions struct {
	retention time.Duration
}

// Option configures a store.
type Option func(*storeOptions)

// WithRetention overrides the absolute key expiry. It should be at least as
// long as the longest configured window, or entries may vanish before the
// sliding window does.
func WithRetention(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.retention = d
		}
	}
}

func applyOptions(opts []Option) storeOptions {
	options := storeOptions{retention: DefaultRetention}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (u Usage) add(recipient, category string, count int) {
	byCategory, ok := u[recipient]
	if !ok {
		byCategory = make(map[string]int)
		u[recipient] = byCategory
	}
	byCategory[category] = count
}
