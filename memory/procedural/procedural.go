// Package procedural implements the learned-behavior repository: trigger ->
// action patterns with performance statistics, confidence evolution, and a
// workflow execution engine.
package procedural

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
	// LearningThreshold is the hard confidence floor a pattern must reach
	// before it is considered for matching, independent of the pattern's
	// own trigger-confidence field.
	LearningThreshold = 0.7

	// InitialConfidence is assigned to freshly learned patterns.
	InitialConfidence = 0.5

	// executionRetention bounds how long finished executions stay readable.
	executionRetention = 7 * 24 * time.Hour
)

// PatternType classifies a learned pattern.
type PatternType string

const (
	PatternWorkflow         PatternType = "workflow"
	PatternPreference       PatternType = "preference"
	PatternBehavior         PatternType = "behavior"
	PatternResponseTemplate PatternType = "response_template"
)

// Operator is a trigger-condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpMatches     Operator = "matches"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// ActionType classifies what firing a pattern does.
type ActionType string

const (
	ActionResponse     ActionType = "response"
	ActionWorkflow     ActionType = "workflow"
	ActionAPICall      ActionType = "api_call"
	ActionMemoryUpdate ActionType = "memory_update"
)

// TriggerCondition is a single field/operator/value test.
type TriggerCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Trigger gates pattern activation: every condition must hold, and the
// pattern's confidence must reach the trigger confidence threshold.
type Trigger struct {
	Conditions []TriggerCondition `json:"conditions"`
	Confidence float64            `json:"confidence"`
}

// WorkflowStep is one ordered step of a workflow action.
type WorkflowStep struct {
	Order      int            `json:"order"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Action describes what a pattern does when it fires.
type Action struct {
	Type     ActionType     `json:"type"`
	Template string         `json:"template,omitempty"` // response actions; {{key}} placeholders
	Steps    []WorkflowStep `json:"steps,omitempty"`    // workflow actions
}

// PatternContext scopes a pattern to a domain and tags.
type PatternContext struct {
	Domain       string   `json:"domain,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// FeedbackEntry is one user rating of a pattern.
type FeedbackEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Rating    int       `json:"rating"` // 1-5
	Comment   string    `json:"comment,omitempty"`
}

// Performance tracks execution outcomes as running averages.
type Performance struct {
	ExecutionCount       int             `json:"execution_count"`
	SuccessRate          float64         `json:"success_rate"`
	AverageExecutionTime float64         `json:"average_execution_time"` // milliseconds
	LastExecuted         *time.Time      `json:"last_executed,omitempty"`
	Feedback             []FeedbackEntry `json:"feedback,omitempty"`
}

// LearningMetadata tracks how a pattern evolves over its lifetime.
type LearningMetadata struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    int       `json:"version"`
	IsActive   bool      `json:"is_active"`
	Confidence float64   `json:"confidence"`
}

// Pattern is a learned trigger -> action rule.
type Pattern struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	PatternType PatternType      `json:"pattern_type"`
	Trigger     Trigger          `json:"trigger"`
	Action      Action           `json:"action"`
	Context     PatternContext   `json:"context"`
	Performance Performance      `json:"performance"`
	Learning    LearningMetadata `json:"learning"`
}

// Store provides access to the procedural memory tier.
type Store struct {
	store *store.Store
}

// NewStore creates a new procedural memory store.
func NewStore(s *store.Store) *Store {
	return &Store{store: s}
}

func (s *Store) patternKey(userID, patternID string) string {
	return s.store.Key(store.TierProcedural, "user", userID, "pattern", patternID)
}

func (s *Store) typeIndexKey(userID string, patternType PatternType) string {
	return s.store.Key(store.TierProcedural, "user", userID, "ptype", string(patternType))
}

func (s *Store) domainIndexKey(userID, domain string) string {
	return s.store.Key(store.TierProcedural, "user", userID, "domain", domain)
}

func (s *Store) tagIndexKey(userID, tag string) string {
	return s.store.Key(store.TierProcedural, "user", userID, "tag", tag)
}

func (s *Store) priorityIndexKey(userID string) string {
	return s.store.Key(store.TierProcedural, "user", userID, "priority")
}

func (s *Store) executionKey(userID, executionID string) string {
	return s.store.Key(store.TierProcedural, "user", userID, "execution", executionID)
}

func (s *Store) activeExecutionsKey(userID string) string {
	return s.store.Key(store.TierProcedural, "user", userID, "executions", "active")
}

// LearnPattern persists a new pattern with zeroed performance and fresh
// learning metadata, and indexes it by type, domain, tag, and (when active)
// the confidence-scored priority index.
func (s *Store) LearnPattern(ctx context.Context, userID string, pattern *Pattern) (*Pattern, error) {
	if pattern.PatternType == "" {
		return nil, memerrors.InvalidArgument("pattern type is required")
	}

	now := time.Now()
	pattern.ID = shortuuid.New()
	pattern.UserID = userID
	pattern.Performance = Performance{}
	pattern.Learning = LearningMetadata{
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		IsActive:   true,
		Confidence: InitialConfidence,
	}

	if err := s.savePattern(ctx, pattern); err != nil {
		return nil, err
	}
	if err := s.store.SAdd(ctx, s.typeIndexKey(userID, pattern.PatternType), pattern.ID); err != nil {
		return nil, memerrors.StoreUnavailable("index pattern type", err)
	}
	if pattern.Context.Domain != "" {
		if err := s.store.SAdd(ctx, s.domainIndexKey(userID, pattern.Context.Domain), pattern.ID); err != nil {
			return nil, memerrors.StoreUnavailable("index pattern domain", err)
		}
	}
	for _, tag := range pattern.Context.Tags {
		if err := s.store.SAdd(ctx, s.tagIndexKey(userID, tag), pattern.ID); err != nil {
			return nil, memerrors.StoreUnavailable("index pattern tag", err)
		}
	}
	if pattern.Learning.IsActive {
		if err := s.store.ZAdd(ctx, s.priorityIndexKey(userID), pattern.Learning.Confidence, pattern.ID); err != nil {
			return nil, memerrors.StoreUnavailable("index pattern priority", err)
		}
	}

	slog.Debug("pattern learned",
		"user_id", userID,
		"pattern_id", pattern.ID,
		"pattern_type", pattern.PatternType)

	return pattern, nil
}

func (s *Store) savePattern(ctx context.Context, pattern *Pattern) error {
	data, err := json.Marshal(pattern)
	if err != nil {
		return memerrors.StoreUnavailable("marshal pattern", err)
	}
	if err := s.store.SetWithTTL(ctx, s.patternKey(pattern.UserID, pattern.ID), data, 0); err != nil {
		return memerrors.StoreUnavailable("store pattern", err)
	}
	return nil
}

// GetPattern returns a pattern by id, or nil when absent.
func (s *Store) GetPattern(ctx context.Context, userID, patternID string) (*Pattern, error) {
	data, ok, err := s.store.Get(ctx, s.patternKey(userID, patternID))
	if err != nil {
		return nil, memerrors.StoreUnavailable("get pattern", err)
	}
	if !ok {
		return nil, nil
	}
	pattern := &Pattern{}
	if err := json.Unmarshal(data, pattern); err != nil {
		return nil, memerrors.StoreUnavailable("unmarshal pattern", err)
	}
	return pattern, nil
}

// FindMatchingPatterns traverses the priority index from highest confidence
// downward and collects active patterns whose confidence clears the learning
// threshold, whose domain matches, and whose trigger conditions all hold
// against the context. Results are re-sorted by confidence x success rate
// (0.5 when the pattern has never executed), descending.
func (s *Store) FindMatchingPatterns(ctx context.Context, userID string, evalContext map[string]any, domain string) ([]*Pattern, error) {
	ids, err := s.store.ZRangeByScoreDesc(ctx, s.priorityIndexKey(userID), math.Inf(-1), math.Inf(1), 0)
	if err != nil {
		return nil, memerrors.StoreUnavailable("scan priority index", err)
	}

	var matches []*Pattern
	for _, id := range ids {
		pattern, err := s.GetPattern(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if pattern == nil || !pattern.Learning.IsActive {
			continue
		}
		if pattern.Learning.Confidence < LearningThreshold {
			continue
		}
		if domain != "" && pattern.Context.Domain != domain {
			continue
		}
		if !evaluateConditions(pattern.Trigger.Conditions, evalContext) {
			continue
		}
		matches = append(matches, pattern)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matchScore(matches[i]) > matchScore(matches[j])
	})
	return matches, nil
}

func matchScore(pattern *Pattern) float64 {
	successRate := 0.5
	if pattern.Performance.ExecutionCount > 0 {
		successRate = pattern.Performance.SuccessRate
	}
	return pattern.Learning.Confidence * successRate
}

// ProvideFeedback appends a rating and nudges confidence by
// (rating-3) x 0.05, clamped to [0,1]. The priority index is refreshed to
// the new confidence.
func (s *Store) ProvideFeedback(ctx context.Context, userID, patternID string, rating int, comment string) (*Pattern, error) {
	if rating < 1 || rating > 5 {
		return nil, memerrors.InvalidArgument("rating must be between 1 and 5")
	}

	pattern, err := s.GetPattern(ctx, userID, patternID)
	if err != nil {
		return nil, err
	}
	if pattern == nil {
		return nil, memerrors.NotFound("procedural pattern", patternID)
	}

	pattern.Performance.Feedback = append(pattern.Performance.Feedback, FeedbackEntry{
		Timestamp: time.Now(),
		Rating:    rating,
		Comment:   comment,
	})

	total := 0
	for _, entry := range pattern.Performance.Feedback {
		total += entry.Rating
	}
	averageRating := float64(total) / float64(len(pattern.Performance.Feedback))

	pattern.Learning.Confidence = clamp01(pattern.Learning.Confidence + float64(rating-3)*0.05)
	pattern.Learning.UpdatedAt = time.Now()

	if err := s.savePattern(ctx, pattern); err != nil {
		return nil, err
	}
	if pattern.Learning.IsActive {
		if err := s.store.ZAdd(ctx, s.priorityIndexKey(userID), pattern.Learning.Confidence, pattern.ID); err != nil {
			return nil, memerrors.StoreUnavailable("refresh pattern priority", err)
		}
	}

	slog.Debug("pattern feedback recorded",
		"user_id", userID,
		"pattern_id", patternID,
		"rating", rating,
		"average_rating", averageRating,
		"confidence", pattern.Learning.Confidence)

	return pattern, nil
}

// EvolvePattern adjusts a pattern after enough executions with a clearly
// good or bad track record. High success raises confidence and lowers the
// trigger threshold; low success cuts confidence and can deactivate the
// pattern entirely. Either branch bumps the version. Returns false when the
// pattern does not qualify for evolution.
func (s *Store) EvolvePattern(ctx context.Context, userID, patternID string) (*Pattern, bool, error) {
	pattern, err := s.GetPattern(ctx, userID, patternID)
	if err != nil {
		return nil, false, err
	}
	if pattern == nil {
		return nil, false, memerrors.NotFound("procedural pattern", patternID)
	}

	perf := pattern.Performance
	if perf.ExecutionCount <= 10 || (perf.SuccessRate <= 0.8 && perf.SuccessRate >= 0.3) {
		return pattern, false, nil
	}

	if perf.SuccessRate > 0.8 {
		pattern.Learning.Confidence = math.Min(1, pattern.Learning.Confidence+0.1)
		pattern.Trigger.Confidence = math.Max(0.5, pattern.Trigger.Confidence-0.05)
	} else {
		pattern.Learning.Confidence = math.Max(0, pattern.Learning.Confidence-0.2)
		if pattern.Learning.Confidence < 0.3 {
			pattern.Learning.IsActive = false
			if err := s.store.ZRem(ctx, s.priorityIndexKey(userID), pattern.ID); err != nil {
				return nil, false, memerrors.StoreUnavailable("remove pattern priority", err)
			}
		}
	}

	pattern.Learning.Version++
	pattern.Learning.UpdatedAt = time.Now()

	if err := s.savePattern(ctx, pattern); err != nil {
		return nil, false, err
	}
	if pattern.Learning.IsActive {
		if err := s.store.ZAdd(ctx, s.priorityIndexKey(userID), pattern.Learning.Confidence, pattern.ID); err != nil {
			return nil, false, memerrors.StoreUnavailable("refresh pattern priority", err)
		}
	}

	slog.Info("pattern evolved",
		"user_id", userID,
		"pattern_id", patternID,
		"version", pattern.Learning.Version,
		"confidence", pattern.Learning.Confidence,
		"is_active", pattern.Learning.IsActive)

	return pattern, true, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
