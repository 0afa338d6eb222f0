// Package consolidation implements the engine that moves and transforms
// information between memory tiers on a schedule. It is the only component
// that invokes all three stores together. Consolidation is best-effort:
// handler errors become failed results, never panics or propagated errors.
package consolidation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/memtier/memory/episodic"
	"github.com/hrygo/memtier/memory/procedural"
	"github.com/hrygo/memtier/memory/semantic"
	"github.com/hrygo/memtier/store"
)

// Frequency is a rule's run cadence.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// frequencyIntervals maps cadence to its fixed interval. Immediate rules
// are always eligible.
var frequencyIntervals = map[Frequency]time.Duration{
	FrequencyHourly: time.Hour,
	FrequencyDaily:  24 * time.Hour,
	FrequencyWeekly: 7 * 24 * time.Hour,
}

// TransformAction classifies a rule's transformation.
type TransformAction string

const (
	TransformExtract   TransformAction = "extract"
	TransformAggregate TransformAction = "aggregate"
	TransformAbstract  TransformAction = "abstract"
	TransformReinforce TransformAction = "reinforce"
)

// Conditions gate which source records a rule consolidates.
type Conditions struct {
	MinImportance   float64 `json:"min_importance,omitempty"`
	MinOccurrences  int     `json:"min_occurrences,omitempty"`
	TimeThresholdMs int64   `json:"time_threshold_ms,omitempty"`
	Pattern         string  `json:"pattern,omitempty"`
}

// Transformation is one step of a rule's transformation pipeline.
type Transformation struct {
	Action     TransformAction `json:"action"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

// Rule is a scheduled transformation from one tier to another.
type Rule struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	SourceType      store.Tier       `json:"source_type"`
	TargetType      store.Tier       `json:"target_type"`
	Conditions      Conditions       `json:"conditions"`
	Transformations []Transformation `json:"transformations"`
	Frequency       Frequency        `json:"frequency"`
	LastRun         *time.Time       `json:"last_run,omitempty"`
	NextRun         *time.Time       `json:"next_run,omitempty"`
}

// Result summarizes one rule run for one user. Success=false with an error
// string is the sole caller-visible failure signal; partial results already
// produced are kept.
type Result struct {
	RuleID         string    `json:"rule_id"`
	UserID         string    `json:"user_id"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsCreated   int       `json:"items_created"`
	DurationMs     int64     `json:"duration_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stats reports the engine's scheduling state.
type Stats struct {
	RuleCount   int        `json:"rule_count"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	AutoRunning bool       `json:"auto_running"`
}

// RelationExtractor derives relations between the entities consolidated out
// of one episodic memory. The default engine has none; real extraction is a
// future integration supplied by the surrounding application.
type RelationExtractor func(ctx context.Context, userID string, memory *episodic.Memory, entities []*semantic.Entity) ([]*semantic.Relation, error)

// UserLister enumerates the users auto-consolidation should process. The
// engine does not own user bookkeeping; without a lister the timer ticks
// but performs no per-user work.
type UserLister interface {
	ListActiveUsers(ctx context.Context) ([]string, error)
}

// Engine holds the rule registry and orchestrates reads from one tier and
// writes to another.
type Engine struct {
	episodic   *episodic.Store
	semantic   *semantic.Store
	procedural *procedural.Store

	mu    sync.RWMutex
	rules map[string]*Rule

	relationExtractor RelationExtractor
	userLister        UserLister

	timerMu  sync.Mutex
	running  bool
	stopChan chan struct{}

	userLocks sync.Map // userID -> *sync.Mutex
}

// NewEngine creates an engine seeded with the default rule set.
func NewEngine(ep *episodic.Store, sem *semantic.Store, proc *procedural.Store) *Engine {
	e := &Engine{
		episodic:   ep,
		semantic:   sem,
		procedural: proc,
		rules:      make(map[string]*Rule),
	}
	for _, rule := range defaultRules() {
		e.rules[rule.ID] = rule
	}
	return e
}

// WithRelationExtractor installs a relation-extraction strategy.
func (e *Engine) WithRelationExtractor(extractor RelationExtractor) *Engine {
	e.relationExtractor = extractor
	return e
}

// WithUserLister installs the active-user enumeration used by
// auto-consolidation.
func (e *Engine) WithUserLister(lister UserLister) *Engine {
	e.userLister = lister
	return e
}

// AddRule registers a rule, overwriting any existing rule with the same id.
func (e *Engine) AddRule(rule *Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
}

// Rules returns a snapshot of the registered rules, ordered by id.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		copied := *rule
		rules = append(rules, &copied)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// RunConsolidation runs every eligible rule for one user and returns the
// per-rule results in rule-id order. Runs for the same user are serialized
// so manual invocations cannot interleave with timer ticks.
func (e *Engine) RunConsolidation(ctx context.Context, userID string) []*Result {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var results []*Result
	for _, rule := range e.Rules() {
		if !e.isEligible(rule, time.Now()) {
			continue
		}
		result := e.runRule(ctx, rule.ID, userID)
		if result == nil {
			// Unknown rule id: no handler registered for it.
			slog.Debug("skipping rule without handler", "rule_id", rule.ID)
			continue
		}
		results = append(results, result)
		e.stampRun(rule.ID, time.Now())
	}
	return results
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	lock, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// isEligible reports whether a rule is due: never run, immediate, or past
// its frequency interval since the last run.
func (e *Engine) isEligible(rule *Rule, now time.Time) bool {
	if rule.Frequency == FrequencyImmediate {
		return true
	}
	if rule.LastRun == nil {
		return true
	}
	interval, ok := frequencyIntervals[rule.Frequency]
	if !ok {
		return false
	}
	return now.Sub(*rule.LastRun) > interval
}

func (e *Engine) stampRun(ruleID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	if !ok {
		return
	}
	rule.LastRun = &now
	interval := frequencyIntervals[rule.Frequency]
	next := now.Add(interval)
	rule.NextRun = &next
}

// runRule dispatches a rule id to its handler. Dispatch is a fixed mapping,
// not generic interpretation of the rule's transformations. Returns nil for
// unknown ids.
func (e *Engine) runRule(ctx context.Context, ruleID, userID string) *Result {
	switch ruleID {
	case RuleEpisodicToSemantic:
		return e.ConsolidateEpisodicToSemantic(ctx, userID)
	case RuleEpisodicToProcedural:
		return e.LearnPatternsFromEpisodic(ctx, userID)
	case RuleSemanticReinforcement:
		return e.ReinforceSemanticRelationships(ctx, userID)
	default:
		return nil
	}
}

// StartAutoConsolidation starts the single recurring consolidation timer.
// Calling it while running is a no-op.
func (e *Engine) StartAutoConsolidation(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})

	go e.autoLoop(interval, e.stopChan)
	slog.Info("auto-consolidation started", "interval", interval)
}

// StopAutoConsolidation stops the timer. Calling it while stopped is a no-op.
func (e *Engine) StopAutoConsolidation() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopChan)
	slog.Info("auto-consolidation stopped")
}

func (e *Engine) autoLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.tick(context.Background())
		}
	}
}

// tick runs one auto-consolidation pass. User enumeration belongs to the
// surrounding application; without a lister the tick performs no work.
func (e *Engine) tick(ctx context.Context) {
	if e.userLister == nil {
		slog.Debug("auto-consolidation tick: no user lister configured")
		return
	}
	userIDs, err := e.userLister.ListActiveUsers(ctx)
	if err != nil {
		slog.Error("auto-consolidation: list active users failed", "error", err)
		return
	}
	for _, userID := range userIDs {
		results := e.RunConsolidation(ctx, userID)
		for _, result := range results {
			if !result.Success {
				slog.Warn("consolidation rule failed",
					"user_id", userID,
					"rule_id", result.RuleID,
					"error", result.Error)
			}
		}
	}
}

// GetConsolidationStats reports rule count, the most recent run across all
// rules, the soonest scheduled run, and whether the auto timer is active.
func (e *Engine) GetConsolidationStats() *Stats {
	stats := &Stats{}

	for _, rule := range e.Rules() {
		stats.RuleCount++
		if rule.LastRun != nil && (stats.LastRun == nil || rule.LastRun.After(*stats.LastRun)) {
			stats.LastRun = rule.LastRun
		}
		if rule.NextRun != nil && (stats.NextRun == nil || rule.NextRun.Before(*stats.NextRun)) {
			stats.NextRun = rule.NextRun
		}
	}

	e.timerMu.Lock()
	stats.AutoRunning = e.running
	e.timerMu.Unlock()

	return stats
}
