// Package redis implements the store.Driver interface on top of Redis,
// which provides TTL expiry, unordered sets, and sorted sets natively.
package redis

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hrygo/memtier/store"
)

// DB implements store.Driver using a Redis client.
type DB struct {
	client *redis.Client
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewDB opens a Redis-backed driver. The connection is lazy; call Ping to
// verify reachability.
func NewDB(cfg Config) *DB {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &DB{client: client}
}

// NewDBWithClient wraps an existing client. Used by tests with miniredis.
func NewDBWithClient(client *redis.Client) *DB {
	return &DB{client: client}
}

func (d *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := d.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (d *DB) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return d.client.Set(ctx, key, value, ttl).Err()
}

func (d *DB) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return d.client.Del(ctx, keys...).Err()
}

func (d *DB) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	return d.client.Keys(ctx, pattern).Result()
}

func (d *DB) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return d.client.Expire(ctx, key, ttl).Err()
}

func (d *DB) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return d.client.SAdd(ctx, key, args...).Err()
}

func (d *DB) SMembers(ctx context.Context, key string) ([]string, error) {
	return d.client.SMembers(ctx, key).Result()
}

func (d *DB) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return d.client.SRem(ctx, key, args...).Err()
}

func (d *DB) SCard(ctx context.Context, key string) (int64, error) {
	return d.client.SCard(ctx, key).Result()
}

func (d *DB) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return d.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (d *DB) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	rangeBy := &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   formatScore(max),
		Count: limit,
	}
	return d.client.ZRangeByScore(ctx, key, rangeBy).Result()
}

func (d *DB) ZRangeByScoreDesc(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	rangeBy := &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   formatScore(max),
		Count: limit,
	}
	return d.client.ZRevRangeByScore(ctx, key, rangeBy).Result()
}

func (d *DB) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return d.client.ZRem(ctx, key, args...).Err()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *DB) Close() error {
	return d.client.Close()
}

// formatScore converts a score bound to the Redis range syntax, mapping
// infinities to -inf/+inf.
func formatScore(score float64) string {
	switch {
	case math.IsInf(score, -1):
		return "-inf"
	case math.IsInf(score, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(score, 'f', -1, 64)
	}
}

var _ store.Driver = (*DB)(nil)
