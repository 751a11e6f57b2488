package window

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const keySeparator = "|"

// memoryStore implements the Store interface with an in-process map of
// ordered timestamp slices. State is local to the process; use the Redis
// store when multiple gateway instances must share a budget.
type memoryStore struct {
	mu        sync.Mutex
	entries   map[string][]time.Time // chronological, appended in order
	touched   map[string]time.Time   // last append per key, drives retention
	retention time.Duration
}

// NewMemoryStore creates a new in-memory window store.
func NewMemoryStore(opts ...Option) Store {
	options := applyOptions(opts)
	return &memoryStore{
		entries:   make(map[string][]time.Time),
		touched:   make(map[string]time.Time),
		retention: options.retention,
	}
}

func storeKey(recipient, category string) string {
	return recipient + keySeparator + category
}

func splitStoreKey(key string) (recipient, category string, ok bool) {
	// Recipients may contain the separator; categories never do.
	i := strings.LastIndex(key, keySeparator)
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// Prune implements Store for memory storage.
func (s *memoryStore) Prune(_ context.Context, recipient, category string, window time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropExpiredLocked(now)

	key := storeKey(recipient, category)
	stamps, ok := s.entries[key]
	if !ok {
		return nil
	}

	cutoff := now.Add(-window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	removed := len(stamps) - len(kept)
	if len(kept) == 0 {
		delete(s.entries, key)
		delete(s.touched, key)
	} else {
		s.entries[key] = kept
	}
	if removed > 0 {
		log.Debug().Str("recipient", recipient).Str("category", category).Int("removed", removed).Msg("pruned expired window entries")
	}
	return nil
}

// Count implements Store for memory storage.
func (s *memoryStore) Count(_ context.Context, recipient, category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[storeKey(recipient, category)]), nil
}

// Append implements Store for memory storage.
func (s *memoryStore) Append(_ context.Context, recipient, category string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(recipient, category)
	s.entries[key] = append(s.entries[key], now)
	s.touched[key] = now
	return nil
}

// ClearAll implements Store for memory storage.
func (s *memoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string][]time.Time)
	s.touched = make(map[string]time.Time)
	log.Info().Msg("memory window store cleared")
	return nil
}

// UsageSnapshot implements Store for memory storage. It never prunes, so
// counts can include logically expired entries.
func (s *memoryStore) UsageSnapshot(_ context.Context) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := make(Usage, len(s.entries))
	for key, stamps := range s.entries {
		recipient, category, ok := splitStoreKey(key)
		if !ok {
			continue
		}
		usage.add(recipient, category, len(stamps))
	}
	return usage, nil
}

// Close implements Store for memory storage.
func (s *memoryStore) Close() error {
	return nil
}

// dropExpiredLocked removes keys whose retention has lapsed since the last
// append. Requires s.mu to be held. Runs on every prune so abandoned keys
// are reclaimed by whichever admission check comes next, without needing a
// background sweep.
func (s *memoryStore) dropExpiredLocked(now time.Time) {
	for key, last := range s.touched {
		if now.Sub(last) >= s.retention {
			delete(s.entries, key)
			delete(s.touched, key)
		}
	}
}

var _ Store = (*memoryStore)(nil)
