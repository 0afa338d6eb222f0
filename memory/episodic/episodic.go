// Package episodic implements the short-term interaction log: raw
// interaction turns with importance-weighted expiry, indexed by user,
// session, and topic. Records expire passively at the store layer.
package episodic

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/lithammer/shortuuid/v4"

	memerrors "github.com/hrygo/memtier/internal/errors"
	"github.com/hrygo/memtier/store"
)

const (
	// DefaultTTL applies to memories with importance <= ImportanceThreshold
	// when the caller does not supply a TTL.
	DefaultTTL = 15 * time.Minute
	// ExtendedTTL applies to memories with importance > ImportanceThreshold,
	// regardless of any caller-supplied TTL.
	ExtendedTTL = time.Hour
	// ImportanceThreshold separates short-lived from extended-lifetime memories.
	ImportanceThreshold = 0.7

	// maxQueryLimit caps result sizes to prevent excessive data retrieval.
	maxQueryLimit = 100
)

// Sentiment values for a memory's metadata.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Metadata carries the derived attributes of an interaction turn.
type Metadata struct {
	Sentiment  string   `json:"sentiment,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Importance float64  `json:"importance"`
}

// Memory is one interaction turn.
type Memory struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	UserInput  string         `json:"user_input"`
	AIResponse string         `json:"ai_response"`
	Context    map[string]any `json:"context,omitempty"`
	Metadata   Metadata       `json:"metadata"`
	Timestamp  time.Time      `json:"timestamp"`
	TTLSeconds int            `json:"ttl_seconds"`
}

// Filter specifies the conditions for querying memories. Either UserID or
// SessionID selects the index to scan; SessionID wins when both are set.
type Filter struct {
	UserID        string
	SessionID     string
	Topics        []string
	StartTime     *time.Time
	EndTime       *time.Time
	MinImportance *float64
	Limit         int
}

// TopicCount is one entry of the per-topic frequency ranking.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Stats summarizes the current live set of memories.
type Stats struct {
	Count             int          `json:"count"`
	AverageImportance float64      `json:"average_importance"`
	TopTopics         []TopicCount `json:"top_topics"`
	HourHistogram     [24]int      `json:"hour_histogram"`
}

// Store provides access to episodic memories.
type Store struct {
	store *store.Store

	defaultTTL  time.Duration
	extendedTTL time.Duration
}

// NewStore creates a new episodic memory store with the default TTLs.
func NewStore(s *store.Store) *Store {
	return &Store{
		store:       s,
		defaultTTL:  DefaultTTL,
		extendedTTL: ExtendedTTL,
	}
}

// WithTTLs overrides the TTL constants. Used by deployments that tune
// expiry via the profile.
func (s *Store) WithTTLs(defaultTTL, extendedTTL time.Duration) *Store {
	if defaultTTL > 0 {
		s.defaultTTL = defaultTTL
	}
	if extendedTTL > 0 {
		s.extendedTTL = extendedTTL
	}
	return s
}

// Key layout. Timeline and topic indexes hold full record keys so that a
// scan can resolve records without knowing the owning user up front.
func (s *Store) memoryKey(userID, memoryID string) string {
	return s.store.Key(store.TierEpisodic, "user", userID, "memory", memoryID)
}

func (s *Store) userTimelineKey(userID string) string {
	return s.store.Key(store.TierEpisodic, "user", userID, "timeline")
}

func (s *Store) sessionTimelineKey(sessionID string) string {
	return s.store.Key(store.TierEpisodic, "session", sessionID, "timeline")
}

func (s *Store) topicKey(userID, topic string) string {
	return s.store.Key(store.TierEpisodic, "user", userID, "topic", topic)
}

// Store persists a memory, assigns its id and timestamp, computes its TTL
// from importance, and maintains the session, user, and topic indexes.
// The user timeline always carries the extended TTL since it spans sessions.
func (s *Store) Store(ctx context.Context, memory *Memory) (*Memory, error) {
	if memory.UserID == "" {
		return nil, memerrors.InvalidArgument("user id is required")
	}
	if memory.Metadata.Importance < 0 || memory.Metadata.Importance > 1 {
		return nil, memerrors.InvalidArgument("importance must be in [0, 1]")
	}

	if memory.ID == "" {
		memory.ID = shortuuid.New()
	}
	if memory.Timestamp.IsZero() {
		memory.Timestamp = time.Now()
	}

	ttl := s.computeTTL(memory.Metadata.Importance, memory.TTLSeconds)
	memory.TTLSeconds = int(ttl.Seconds())

	data, err := json.Marshal(memory)
	if err != nil {
		return nil, memerrors.StoreUnavailable("marshal episodic memory", err)
	}

	key := s.memoryKey(memory.UserID, memory.ID)
	if err := s.store.SetWithTTL(ctx, key, data, ttl); err != nil {
		return nil, memerrors.StoreUnavailable("store episodic memory", err)
	}

	score := float64(memory.Timestamp.UnixMilli())

	if memory.SessionID != "" {
		sessionKey := s.sessionTimelineKey(memory.SessionID)
		if err := s.store.ZAdd(ctx, sessionKey, score, key); err != nil {
			return nil, memerrors.StoreUnavailable("index session timeline", err)
		}
		if err := s.store.Expire(ctx, sessionKey, ttl); err != nil {
			return nil, memerrors.StoreUnavailable("expire session timeline", err)
		}
	}

	userKey := s.userTimelineKey(memory.UserID)
	if err := s.store.ZAdd(ctx, userKey, score, key); err != nil {
		return nil, memerrors.StoreUnavailable("index user timeline", err)
	}
	if err := s.store.Expire(ctx, userKey, s.extendedTTL); err != nil {
		return nil, memerrors.StoreUnavailable("expire user timeline", err)
	}

	for _, topic := range memory.Metadata.Topics {
		topicKey := s.topicKey(memory.UserID, topic)
		if err := s.store.SAdd(ctx, topicKey, key); err != nil {
			return nil, memerrors.StoreUnavailable("index topic", err)
		}
		if err := s.store.Expire(ctx, topicKey, ttl); err != nil {
			return nil, memerrors.StoreUnavailable("expire topic index", err)
		}
	}

	slog.Debug("episodic memory stored",
		"user_id", memory.UserID,
		"memory_id", memory.ID,
		"importance", memory.Metadata.Importance,
		"ttl_seconds", memory.TTLSeconds)

	return memory, nil
}

// computeTTL is a pure function of importance: high-importance memories get
// the extended TTL regardless of the caller-supplied TTL; otherwise the
// caller-supplied TTL wins, falling back to the default.
func (s *Store) computeTTL(importance float64, callerTTLSeconds int) time.Duration {
	if importance > ImportanceThreshold {
		return s.extendedTTL
	}
	if callerTTLSeconds > 0 {
		return time.Duration(callerTTLSeconds) * time.Second
	}
	return s.defaultTTL
}

// Retrieve returns a memory by id, or nil when it is absent or expired.
// Absence is not an error.
func (s *Store) Retrieve(ctx context.Context, userID, memoryID string) (*Memory, error) {
	return s.load(ctx, s.memoryKey(userID, memoryID))
}

func (s *Store) load(ctx context.Context, key string) (*Memory, error) {
	data, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, memerrors.StoreUnavailable("get episodic memory", err)
	}
	if !ok {
		return nil, nil
	}
	memory := &Memory{}
	if err := json.Unmarshal(data, memory); err != nil {
		return nil, memerrors.StoreUnavailable("unmarshal episodic memory", err)
	}
	return memory, nil
}

// Query scans the session or user timeline newest-first, applying topic,
// time-window, and importance filters. The scan stops early once Limit
// results are collected.
func (s *Store) Query(ctx context.Context, filter *Filter) ([]*Memory, error) {
	var indexKey string
	switch {
	case filter.SessionID != "":
		indexKey = s.sessionTimelineKey(filter.SessionID)
	case filter.UserID != "":
		indexKey = s.userTimelineKey(filter.UserID)
	default:
		return nil, memerrors.InvalidArgument("filter requires a user id or session id")
	}

	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if filter.StartTime != nil {
		minScore = float64(filter.StartTime.UnixMilli())
	}
	if filter.EndTime != nil {
		maxScore = float64(filter.EndTime.UnixMilli())
	}

	keys, err := s.store.ZRangeByScoreDesc(ctx, indexKey, minScore, maxScore, 0)
	if err != nil {
		return nil, memerrors.StoreUnavailable("scan timeline", err)
	}

	var results []*Memory
	for _, key := range keys {
		memory, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if memory == nil {
			// Expired record still referenced by the index.
			continue
		}
		if filter.MinImportance != nil && memory.Metadata.Importance < *filter.MinImportance {
			continue
		}
		if len(filter.Topics) > 0 && !hasAllTopics(memory.Metadata.Topics, filter.Topics) {
			continue
		}
		results = append(results, memory)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

func hasAllTopics(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// GetRecentSessionMemories returns the most recent memories of a session,
// newest first.
func (s *Store) GetRecentSessionMemories(ctx context.Context, sessionID string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	keys, err := s.store.ZRangeByScoreDesc(ctx, s.sessionTimelineKey(sessionID), math.Inf(-1), math.Inf(1), int64(limit))
	if err != nil {
		return nil, memerrors.StoreUnavailable("scan session timeline", err)
	}

	var results []*Memory
	for _, key := range keys {
		memory, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if memory == nil {
			continue
		}
		results = append(results, memory)
	}
	return results, nil
}

// UpdateImportance rewrites a memory with a new importance and recomputes
// its TTL from scratch, so the remaining lifetime can both grow and shrink.
func (s *Store) UpdateImportance(ctx context.Context, userID, memoryID string, newImportance float64) (*Memory, error) {
	if newImportance < 0 || newImportance > 1 {
		return nil, memerrors.InvalidArgument("importance must be in [0, 1]")
	}

	memory, err := s.Retrieve(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if memory == nil {
		return nil, memerrors.NotFound("episodic memory", memoryID)
	}

	memory.Metadata.Importance = newImportance
	ttl := s.computeTTL(newImportance, 0)
	memory.TTLSeconds = int(ttl.Seconds())

	data, err := json.Marshal(memory)
	if err != nil {
		return nil, memerrors.StoreUnavailable("marshal episodic memory", err)
	}
	if err := s.store.SetWithTTL(ctx, s.memoryKey(userID, memoryID), data, ttl); err != nil {
		return nil, memerrors.StoreUnavailable("rewrite episodic memory", err)
	}
	return memory, nil
}

// ClearUserMemories deletes all of a user's memories and index entries.
// Topic and session index memberships are purged as well so that stale ids
// never surface in later scans while waiting for TTL expiry.
func (s *Store) ClearUserMemories(ctx context.Context, userID string) (int, error) {
	pattern := s.store.Key(store.TierEpisodic, "user", userID, "memory", "*")
	keys, err := s.store.KeysMatching(ctx, pattern)
	if err != nil {
		return 0, memerrors.StoreUnavailable("list user memories", err)
	}

	// Collect session ids before the records disappear.
	sessions := make(map[string]struct{})
	for _, key := range keys {
		memory, err := s.load(ctx, key)
		if err != nil {
			return 0, err
		}
		if memory != nil && memory.SessionID != "" {
			sessions[memory.SessionID] = struct{}{}
		}
	}

	if len(keys) > 0 {
		if err := s.store.Delete(ctx, keys...); err != nil {
			return 0, memerrors.StoreUnavailable("delete user memories", err)
		}
	}
	if err := s.store.Delete(ctx, s.userTimelineKey(userID)); err != nil {
		return 0, memerrors.StoreUnavailable("delete user timeline", err)
	}

	for sessionID := range sessions {
		if err := s.store.ZRem(ctx, s.sessionTimelineKey(sessionID), keys...); err != nil {
			return 0, memerrors.StoreUnavailable("purge session timeline", err)
		}
	}

	topicPattern := s.store.Key(store.TierEpisodic, "user", userID, "topic", "*")
	topicKeys, err := s.store.KeysMatching(ctx, topicPattern)
	if err != nil {
		return 0, memerrors.StoreUnavailable("list topic indexes", err)
	}
	if len(topicKeys) > 0 {
		if err := s.store.Delete(ctx, topicKeys...); err != nil {
			return 0, memerrors.StoreUnavailable("delete topic indexes", err)
		}
	}

	slog.Info("cleared user memories", "user_id", userID, "count", len(keys))
	return len(keys), nil
}

// GetStats scans the live set (optionally scoped to one user) and reports
// count, mean importance, the five most frequent topics, and an hour-of-day
// histogram. Cost scales with the live set; not intended for hot paths.
func (s *Store) GetStats(ctx context.Context, userID string) (*Stats, error) {
	var pattern string
	if userID != "" {
		pattern = s.store.Key(store.TierEpisodic, "user", userID, "memory", "*")
	} else {
		pattern = s.store.Key(store.TierEpisodic, "user", "*", "memory", "*")
	}

	keys, err := s.store.KeysMatching(ctx, pattern)
	if err != nil {
		return nil, memerrors.StoreUnavailable("list memories", err)
	}

	stats := &Stats{}
	topicCounts := make(map[string]int)
	totalImportance := 0.0

	for _, key := range keys {
		memory, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if memory == nil {
			continue
		}
		stats.Count++
		totalImportance += memory.Metadata.Importance
		stats.HourHistogram[memory.Timestamp.Hour()]++
		for _, topic := range memory.Metadata.Topics {
			topicCounts[topic]++
		}
	}

	if stats.Count > 0 {
		stats.AverageImportance = totalImportance / float64(stats.Count)
	}

	for topic, count := range topicCounts {
		stats.TopTopics = append(stats.TopTopics, TopicCount{Topic: topic, Count: count})
	}
	sort.Slice(stats.TopTopics, func(i, j int) bool {
		if stats.TopTopics[i].Count != stats.TopTopics[j].Count {
			return stats.TopTopics[i].Count > stats.TopTopics[j].Count
		}
		return stats.TopTopics[i].Topic < stats.TopTopics[j].Topic
	})
	if len(stats.TopTopics) > 5 {
		stats.TopTopics = stats.TopTopics[:5]
	}

	return stats, nil
}
