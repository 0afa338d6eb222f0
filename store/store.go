// Package store provides the tiered key-value adapter shared by all memory
// tiers. It wraps a Driver with per-tier key namespacing and carries no
// business logic of its own.
package store

import (
	"context"
	"strings"
	"time"
)

// Tier identifies a memory tier for key namespacing.
type Tier string

const (
	TierEpisodic   Tier = "episodic"
	TierSemantic   Tier = "semantic"
	TierProcedural Tier = "procedural"
)

// Store provides namespaced access to the backing key-value store.
type Store struct {
	driver Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// GetDriver returns the underlying driver.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Key builds a namespaced key for a tier. Parts are joined with ":" under
// the tier prefix, e.g. Key(TierEpisodic, "user", "u1", "memory", "m1")
// -> "episodic:user:u1:memory:m1". Keys are always scoped by user id one
// level below the tier prefix to prevent cross-user collisions.
func (s *Store) Key(tier Tier, parts ...string) string {
	return string(tier) + ":" + strings.Join(parts, ":")
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.driver.Get(ctx, key)
}

func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.driver.SetWithTTL(ctx, key, value, ttl)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.driver.Delete(ctx, keys...)
}

func (s *Store) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	return s.driver.KeysMatching(ctx, pattern)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.driver.Expire(ctx, key, ttl)
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.driver.SAdd(ctx, key, members...)
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.driver.SMembers(ctx, key)
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	return s.driver.SRem(ctx, key, members...)
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	return s.driver.SCard(ctx, key)
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.driver.ZAdd(ctx, key, score, member)
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	return s.driver.ZRangeByScore(ctx, key, min, max, limit)
}

func (s *Store) ZRangeByScoreDesc(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	return s.driver.ZRangeByScoreDesc(ctx, key, min, max, limit)
}

func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	return s.driver.ZRem(ctx, key, members...)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
