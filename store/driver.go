package store

import (
	"context"
	"time"
)

// Driver is an interface for the key-value backing store.
// It contains all primitives the memory tiers need: plain keys with TTL,
// unordered sets for membership indexes, and sorted sets for timelines and
// priority indexes. Values are opaque bytes; encoding is the caller's concern.
type Driver interface {
	// Key-value methods.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Unordered set methods.
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
	SCard(ctx context.Context, key string) (int64, error)

	// Sorted set methods. Scores are unix milliseconds for timelines and
	// confidence values for priority indexes.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	ZRangeByScoreDesc(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error

	Ping(ctx context.Context) error
	Close() error
}
