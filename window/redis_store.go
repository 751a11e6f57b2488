package window

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "window:"

// redisStore implements the Store interface on Redis sorted sets: one set per
// (recipient, category) key, scored by the send timestamp in microseconds.
// Microsecond scores stay within float64 integer precision, which nanosecond
// scores do not.
type redisStore struct {
	client    redis.Cmdable // Cmdable for compatibility with ClusterClient etc.
	retention time.Duration
}

// NewRedisStore creates a Redis-backed window store. It expects a
// pre-configured redis.Cmdable (e.g. redis.Client or redis.ClusterClient).
func NewRedisStore(client redis.Cmdable, opts ...Option) Store {
	if client == nil {
		panic("window: redis client cannot be nil")
	}
	options := applyOptions(opts)
	return &redisStore{client: client, retention: options.retention}
}

func redisKey(recipient, category string) string {
	return redisKeyPrefix + storeKey(recipient, category)
}

// Prune implements Store for Redis storage.
func (s *redisStore) Prune(ctx context.Context, recipient, category string, window time.Duration, now time.Time) error {
	cutoff := now.Add(-window).UnixMicro()
	// ZREMRANGEBYSCORE bounds are inclusive, which matches the exclusive
	// window boundary: an entry at exactly now-window is removed.
	removed, err := s.client.ZRemRangeByScore(ctx, redisKey(recipient, category), "-inf", strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return fmt.Errorf("window: redis prune failed: %w", err)
	}
	if removed > 0 {
		log.Debug().Str("recipient", recipient).Str("category", category).Int64("removed", removed).Msg("pruned expired window entries")
	}
	return nil
}

// Count implements Store for Redis storage.
func (s *redisStore) Count(ctx context.Context, recipient, category string) (int, error) {
	n, err := s.client.ZCard(ctx, redisKey(recipient, category)).Result()
	if err != nil {
		return 0, fmt.Errorf("window: redis count failed: %w", err)
	}
	return int(n), nil
}

// Append implements Store for Redis storage. The member carries a uuid
// suffix so two sends sharing a timestamp remain distinct set members.
func (s *redisStore) Append(ctx context.Context, recipient, category string, now time.Time) error {
	key := redisKey(recipient, category)
	score := now.UnixMicro()
	member := strconv.FormatInt(score, 10) + ":" + uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("window: redis append failed: %w", err)
	}
	return nil
}

// ClearAll implements Store for Redis storage. It scans rather than using
// KEYS so a large keyspace does not block the server.
func (s *redisStore) ClearAll(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("window: redis clear failed: %w", err)
	}
	log.Info().Int("keys", len(keys)).Msg("redis window store cleared")
	return nil
}

// UsageSnapshot implements Store for Redis storage. Counts are read key by
// key and may be stale by the time the snapshot returns.
func (s *redisStore) UsageSnapshot(ctx context.Context) (Usage, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}

	usage := make(Usage, len(keys))
	for _, key := range keys {
		n, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("window: redis snapshot failed for key %s: %w", key, err)
		}
		if n == 0 {
			continue
		}
		recipient, category, ok := splitStoreKey(strings.TrimPrefix(key, redisKeyPrefix))
		if !ok {
			log.Warn().Str("key", key).Msg("skipping malformed window key in snapshot")
			continue
		}
		usage.add(recipient, category, int(n))
	}
	return usage, nil
}

// Close implements Store for Redis storage. The client is owned by the
// caller, so there is nothing to release here.
func (s *redisStore) Close() error {
	return nil
}

func (s *redisStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("window: redis scan failed: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

var _ Store = (*redisStore)(nil)
