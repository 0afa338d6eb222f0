// Package test provides store constructors for package tests.
package test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/memtier/store"
	"github.com/hrygo/memtier/store/db/redis"
)

// NewRedisStore spins up an in-process miniredis instance and returns a
// Store backed by it. Both are torn down via t.Cleanup.
func NewRedisStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	ts := store.New(redis.NewDBWithClient(client))

	t.Cleanup(func() {
		_ = ts.Close()
		mr.Close()
	})

	return ts, mr
}
