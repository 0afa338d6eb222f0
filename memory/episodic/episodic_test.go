package episodic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerrors "github.com/hrygo/memtier/internal/errors"
	"github.com/hrygo/memtier/memory/episodic"
	"github.com/hrygo/memtier/store"
	storetest "github.com/hrygo/memtier/store/test"
)

func newMemory(userID, sessionID, input string, importance float64, topics ...string) *episodic.Memory {
	return &episodic.Memory{
		UserID:     userID,
		SessionID:  sessionID,
		UserInput:  input,
		AIResponse: "ok",
		Metadata: episodic.Metadata{
			Sentiment:  episodic.SentimentNeutral,
			Topics:     topics,
			Importance: importance,
		},
	}
}

func TestStore_TTLFromImportance(t *testing.T) {
	ts, mr := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	t.Run("HighImportanceOverridesCallerTTL", func(t *testing.T) {
		memory := newMemory("u1", "s1", "hello", 0.9)
		memory.TTLSeconds = 120

		stored, err := ep.Store(ctx, memory)
		require.NoError(t, err)
		assert.Equal(t, int(episodic.ExtendedTTL.Seconds()), stored.TTLSeconds)

		key := ts.Key(store.TierEpisodic, "user", "u1", "memory", stored.ID)
		assert.Equal(t, episodic.ExtendedTTL, mr.TTL(key))
	})

	t.Run("CallerTTLWinsBelowThreshold", func(t *testing.T) {
		memory := newMemory("u1", "s1", "hello", 0.5)
		memory.TTLSeconds = 120

		stored, err := ep.Store(ctx, memory)
		require.NoError(t, err)
		assert.Equal(t, 120, stored.TTLSeconds)

		key := ts.Key(store.TierEpisodic, "user", "u1", "memory", stored.ID)
		assert.Equal(t, 2*time.Minute, mr.TTL(key))
	})

	t.Run("DefaultTTLWithoutCallerTTL", func(t *testing.T) {
		stored, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 0.5))
		require.NoError(t, err)
		assert.Equal(t, int(episodic.DefaultTTL.Seconds()), stored.TTLSeconds)
	})

	t.Run("ThresholdIsExclusive", func(t *testing.T) {
		stored, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 0.7))
		require.NoError(t, err)
		assert.Equal(t, int(episodic.DefaultTTL.Seconds()), stored.TTLSeconds)
	})
}

func TestStore_Store(t *testing.T) {
	ts, _ := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	t.Run("AssignsIDAndTimestamp", func(t *testing.T) {
		stored, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 0.5))
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.Timestamp.IsZero())
	})

	t.Run("RequiresUserID", func(t *testing.T) {
		_, err := ep.Store(ctx, newMemory("", "s1", "hello", 0.5))
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})

	t.Run("RejectsOutOfRangeImportance", func(t *testing.T) {
		_, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 1.5))
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})
}

func TestStore_Retrieve(t *testing.T) {
	ts, mr := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	stored, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 0.5))
	require.NoError(t, err)

	t.Run("Found", func(t *testing.T) {
		got, err := ep.Retrieve(ctx, "u1", stored.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, stored.ID, got.ID)
		assert.Equal(t, "hello", got.UserInput)
	})

	t.Run("MissingIsNotAnError", func(t *testing.T) {
		got, err := ep.Retrieve(ctx, "u1", "no-such-id")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ExpiredIsNil", func(t *testing.T) {
		mr.FastForward(episodic.DefaultTTL + time.Second)
		got, err := ep.Retrieve(ctx, "u1", stored.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStore_Query(t *testing.T) {
	ts, _ := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	inputs := []struct {
		input      string
		importance float64
		topics     []string
		offset     time.Duration
	}{
		{"first", 0.3, []string{"casting"}, 0},
		{"second", 0.8, []string{"casting", "mumbai"}, time.Second},
		{"third", 0.5, []string{"auditions"}, 2 * time.Second},
	}
	for _, in := range inputs {
		memory := newMemory("u1", "s1", in.input, in.importance, in.topics...)
		memory.Timestamp = base.Add(in.offset)
		_, err := ep.Store(ctx, memory)
		require.NoError(t, err)
	}

	t.Run("NewestFirst", func(t *testing.T) {
		results, err := ep.Query(ctx, &episodic.Filter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "third", results[0].UserInput)
		assert.Equal(t, "second", results[1].UserInput)
		assert.Equal(t, "first", results[2].UserInput)
	})

	t.Run("SessionIndex", func(t *testing.T) {
		results, err := ep.Query(ctx, &episodic.Filter{SessionID: "s1"})
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("MinImportance", func(t *testing.T) {
		min := 0.7
		results, err := ep.Query(ctx, &episodic.Filter{UserID: "u1", MinImportance: &min})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "second", results[0].UserInput)
	})

	t.Run("TopicsRequireAll", func(t *testing.T) {
		results, err := ep.Query(ctx, &episodic.Filter{UserID: "u1", Topics: []string{"casting", "mumbai"}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "second", results[0].UserInput)
	})

	t.Run("Limit", func(t *testing.T) {
		results, err := ep.Query(ctx, &episodic.Filter{UserID: "u1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "third", results[0].UserInput)
	})

	t.Run("TimeWindow", func(t *testing.T) {
		start := base.Add(500 * time.Millisecond)
		end := base.Add(1500 * time.Millisecond)
		results, err := ep.Query(ctx, &episodic.Filter{UserID: "u1", StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "second", results[0].UserInput)
	})

	t.Run("RequiresUserOrSession", func(t *testing.T) {
		_, err := ep.Query(ctx, &episodic.Filter{})
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})
}

func TestStore_QuerySkipsExpiredRecords(t *testing.T) {
	ts, mr := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	short := newMemory("u1", "s1", "short-lived", 0.5)
	short.TTLSeconds = 60
	_, err := ep.Store(ctx, short)
	require.NoError(t, err)

	_, err = ep.Store(ctx, newMemory("u1", "s1", "long-lived", 0.9))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	results, err := ep.Query(ctx, &episodic.Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "long-lived", results[0].UserInput)
}

func TestStore_GetRecentSessionMemories(t *testing.T) {
	ts, _ := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 15; i++ {
		memory := newMemory("u1", "s1", "turn", 0.5)
		memory.Timestamp = base.Add(time.Duration(i) * time.Second)
		_, err := ep.Store(ctx, memory)
		require.NoError(t, err)
	}

	t.Run("DefaultLimit", func(t *testing.T) {
		results, err := ep.GetRecentSessionMemories(ctx, "s1", 0)
		require.NoError(t, err)
		assert.Len(t, results, 10)
	})

	t.Run("ExplicitLimit", func(t *testing.T) {
		results, err := ep.GetRecentSessionMemories(ctx, "s1", 5)
		require.NoError(t, err)
		assert.Len(t, results, 5)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		results, err := ep.GetRecentSessionMemories(ctx, "nope", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestStore_UpdateImportance(t *testing.T) {
	ts, mr := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	t.Run("RaisingExtendsLifetime", func(t *testing.T) {
		stored, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 0.5))
		require.NoError(t, err)

		updated, err := ep.UpdateImportance(ctx, "u1", stored.ID, 0.9)
		require.NoError(t, err)
		assert.Equal(t, 0.9, updated.Metadata.Importance)
		assert.Equal(t, int(episodic.ExtendedTTL.Seconds()), updated.TTLSeconds)

		key := ts.Key(store.TierEpisodic, "user", "u1", "memory", stored.ID)
		assert.Equal(t, episodic.ExtendedTTL, mr.TTL(key))
	})

	t.Run("LoweringShrinksLifetime", func(t *testing.T) {
		stored, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 0.9))
		require.NoError(t, err)

		updated, err := ep.UpdateImportance(ctx, "u1", stored.ID, 0.2)
		require.NoError(t, err)
		assert.Equal(t, int(episodic.DefaultTTL.Seconds()), updated.TTLSeconds)

		key := ts.Key(store.TierEpisodic, "user", "u1", "memory", stored.ID)
		assert.Equal(t, episodic.DefaultTTL, mr.TTL(key))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := ep.UpdateImportance(ctx, "u1", "no-such-id", 0.5)
		require.Error(t, err)
		assert.True(t, memerrors.IsNotFound(err))
	})

	t.Run("RejectsOutOfRange", func(t *testing.T) {
		_, err := ep.UpdateImportance(ctx, "u1", "whatever", -0.1)
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})
}

func TestStore_ClearUserMemories(t *testing.T) {
	ts, _ := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	_, err := ep.Store(ctx, newMemory("u1", "s1", "one", 0.5, "casting"))
	require.NoError(t, err)
	_, err = ep.Store(ctx, newMemory("u1", "s2", "two", 0.9, "mumbai"))
	require.NoError(t, err)
	other, err := ep.Store(ctx, newMemory("u2", "s3", "keep", 0.5))
	require.NoError(t, err)

	count, err := ep.ClearUserMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := ep.Query(ctx, &episodic.Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Session timelines no longer reference the deleted records.
	results, err = ep.GetRecentSessionMemories(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	topicKeys, err := ts.KeysMatching(ctx, ts.Key(store.TierEpisodic, "user", "u1", "topic", "*"))
	require.NoError(t, err)
	assert.Empty(t, topicKeys)

	// Other users are untouched.
	kept, err := ep.Retrieve(ctx, "u2", other.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestStore_GetStats(t *testing.T) {
	ts, _ := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	for i, spec := range []struct {
		importance float64
		topics     []string
	}{
		{0.4, []string{"casting", "mumbai"}},
		{0.6, []string{"casting"}},
		{0.8, []string{"auditions"}},
	} {
		memory := newMemory("u1", "s1", "turn", spec.importance, spec.topics...)
		memory.Timestamp = at.Add(time.Duration(i) * time.Minute)
		_, err := ep.Store(ctx, memory)
		require.NoError(t, err)
	}

	stats, err := ep.GetStats(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.6, stats.AverageImportance, 1e-9)
	assert.Equal(t, 3, stats.HourHistogram[14])

	require.NotEmpty(t, stats.TopTopics)
	assert.Equal(t, "casting", stats.TopTopics[0].Topic)
	assert.Equal(t, 2, stats.TopTopics[0].Count)
}

func TestStore_WithTTLs(t *testing.T) {
	ts, mr := storetest.NewRedisStore(t)
	ep := episodic.NewStore(ts).WithTTLs(5*time.Minute, 30*time.Minute)
	ctx := context.Background()

	stored, err := ep.Store(ctx, newMemory("u1", "s1", "hello", 0.9))
	require.NoError(t, err)

	key := ts.Key(store.TierEpisodic, "user", "u1", "memory", stored.ID)
	assert.Equal(t, 30*time.Minute, mr.TTL(key))
}
