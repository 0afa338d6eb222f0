package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hrygo/memtier/memory/episodic"
	"github.com/hrygo/memtier/memory/procedural"
	"github.com/hrygo/memtier/memory/semantic"
	"github.com/hrygo/memtier/store"
)

// Default rule ids. Rule dispatch is keyed on these.
const (
	RuleEpisodicToSemantic    = "episodic_to_semantic"
	RuleEpisodicToProcedural  = "episodic_to_procedural"
	RuleSemanticReinforcement = "semantic_reinforcement"
)

const (
	// groupPrefixLength is the crude similarity proxy for grouping
	// episodic records by user input.
	groupPrefixLength = 30
	// minGroupSize is how many similar interactions justify a pattern.
	minGroupSize = 3

	// reinforcementWindow bounds how recently an entity must have been
	// touched to be reinforced.
	reinforcementWindow = 24 * time.Hour
	// reinforcementCeiling excludes entities already confident enough.
	reinforcementCeiling = 0.9
)

func defaultRules() []*Rule {
	return []*Rule{
		{
			ID:         RuleEpisodicToSemantic,
			Name:       "important conversations to entities",
			SourceType: store.TierEpisodic,
			TargetType: store.TierSemantic,
			Conditions: Conditions{MinImportance: 0.7},
			Transformations: []Transformation{
				{Action: TransformExtract, Parameters: map[string]any{"target": "entities"}},
			},
			Frequency: FrequencyHourly,
		},
		{
			ID:         RuleEpisodicToProcedural,
			Name:       "repeated interactions to workflow patterns",
			SourceType: store.TierEpisodic,
			TargetType: store.TierProcedural,
			Conditions: Conditions{MinOccurrences: minGroupSize},
			Transformations: []Transformation{
				{Action: TransformAbstract, Parameters: map[string]any{"target": "workflow"}},
			},
			Frequency: FrequencyDaily,
		},
		{
			ID:         RuleSemanticReinforcement,
			Name:       "reinforce frequently accessed relationships",
			SourceType: store.TierSemantic,
			TargetType: store.TierSemantic,
			Conditions: Conditions{MinOccurrences: 5},
			Transformations: []Transformation{
				{Action: TransformReinforce, Parameters: map[string]any{"delta": semantic.DefaultReinforceDelta}},
			},
			Frequency: FrequencyDaily,
		},
	}
}

// ConsolidateEpisodicToSemantic pulls important episodic records and derives
// semantic entities from their metadata entities and topics. Per-item
// failures are recorded on the result without discarding what was already
// produced.
func (e *Engine) ConsolidateEpisodicToSemantic(ctx context.Context, userID string) *Result {
	result := e.newResult(RuleEpisodicToSemantic, userID)
	defer result.finish()

	minImportance := 0.7
	memories, err := e.episodic.Query(ctx, &episodic.Filter{
		UserID:        userID,
		MinImportance: &minImportance,
		Limit:         100,
	})
	if err != nil {
		result.fail(err)
		return result
	}

	for _, memory := range memories {
		result.ItemsProcessed++

		created, err := e.consolidateMemory(ctx, userID, memory)
		result.ItemsCreated += created
		if err != nil {
			result.fail(err)
			continue
		}
	}
	return result
}

// consolidateMemory derives entity drafts from one episodic record and
// persists them; dedup applies at the semantic store.
func (e *Engine) consolidateMemory(ctx context.Context, userID string, memory *episodic.Memory) (int, error) {
	created := 0
	var stored []*semantic.Entity

	for _, name := range memory.Metadata.Entities {
		entity, err := e.semantic.StoreEntity(ctx, userID, &semantic.Entity{
			Type:        inferEntityType(name),
			Name:        name,
			Description: fmt.Sprintf("Extracted from conversation: %.50s", memory.UserInput),
			Confidence:  memory.Metadata.Importance,
		})
		if err != nil {
			return created, err
		}
		created++
		stored = append(stored, entity)
	}

	for _, topic := range memory.Metadata.Topics {
		entity, err := e.semantic.StoreEntity(ctx, userID, &semantic.Entity{
			Type:        semantic.EntityConcept,
			Name:        topic,
			Description: "Conversation topic",
			Confidence:  0.7,
		})
		if err != nil {
			return created, err
		}
		created++
		stored = append(stored, entity)
	}

	if e.relationExtractor != nil {
		relations, err := e.relationExtractor(ctx, userID, memory, stored)
		if err != nil {
			return created, err
		}
		for _, relation := range relations {
			if _, err := e.semantic.StoreRelation(ctx, userID, relation); err != nil {
				return created, err
			}
			created++
		}
	}

	return created, nil
}

// inferEntityType guesses an entity type from its surface form: two
// capitalized words read as a person, anything mentioning "project" as a
// project, a recognized skill word as a skill, everything else as a concept.
func inferEntityType(name string) semantic.EntityType {
	switch {
	case semantic.IsPersonName(name):
		return semantic.EntityPerson
	case strings.Contains(strings.ToLower(name), "project"):
		return semantic.EntityProject
	case semantic.IsSkillKeyword(name):
		return semantic.EntitySkill
	default:
		return semantic.EntityConcept
	}
}

// LearnPatternsFromEpisodic groups recent interactions by user-input prefix
// and turns every group of at least three into a response pattern.
func (e *Engine) LearnPatternsFromEpisodic(ctx context.Context, userID string) *Result {
	result := e.newResult(RuleEpisodicToProcedural, userID)
	defer result.finish()

	memories, err := e.episodic.Query(ctx, &episodic.Filter{
		UserID: userID,
		Limit:  200,
	})
	if err != nil {
		result.fail(err)
		return result
	}
	result.ItemsProcessed = len(memories)

	groups := make(map[string][]*episodic.Memory)
	var order []string
	for _, memory := range memories {
		prefix := inputPrefix(memory.UserInput)
		if prefix == "" {
			continue
		}
		if _, ok := groups[prefix]; !ok {
			order = append(order, prefix)
		}
		groups[prefix] = append(groups[prefix], memory)
	}
	sort.Strings(order)

	for _, prefix := range order {
		group := groups[prefix]
		if len(group) < minGroupSize {
			continue
		}

		first := group[0]
		pattern := &procedural.Pattern{
			Name:        fmt.Sprintf("Pattern: %s", prefix),
			Description: fmt.Sprintf("Learned from %d similar interactions", len(group)),
			PatternType: procedural.PatternResponseTemplate,
			Trigger: procedural.Trigger{
				Conditions: []procedural.TriggerCondition{
					{Field: "userInput", Operator: procedural.OpContains, Value: firstWord(prefix)},
				},
				Confidence: 0.6,
			},
			Action: procedural.Action{
				Type:     procedural.ActionResponse,
				Template: first.AIResponse,
			},
			Context: procedural.PatternContext{
				Domain: "conversation",
				Tags:   first.Metadata.Topics,
			},
		}

		if _, err := e.procedural.LearnPattern(ctx, userID, pattern); err != nil {
			result.fail(err)
			continue
		}
		result.ItemsCreated++
	}
	return result
}

func inputPrefix(input string) string {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) > groupPrefixLength {
		return trimmed[:groupPrefixLength]
	}
	return trimmed
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

// ReinforceSemanticRelationships bumps the confidence of entities touched
// within the last day. Recency, not access frequency, is the signal.
func (e *Engine) ReinforceSemanticRelationships(ctx context.Context, userID string) *Result {
	result := e.newResult(RuleSemanticReinforcement, userID)
	defer result.finish()

	graph, err := e.semantic.BuildKnowledgeGraph(ctx, userID)
	if err != nil {
		result.fail(err)
		return result
	}
	result.ItemsProcessed = len(graph.Entities)

	cutoff := time.Now().Add(-reinforcementWindow)
	for _, entity := range graph.Entities {
		if entity.Confidence >= reinforcementCeiling {
			continue
		}
		if entity.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, err := e.semantic.ReinforceEntity(ctx, userID, entity.ID, semantic.DefaultReinforceDelta); err != nil {
			result.fail(err)
			continue
		}
		result.ItemsCreated++
	}
	return result
}

func (e *Engine) newResult(ruleID, userID string) *Result {
	return &Result{
		RuleID:    ruleID,
		UserID:    userID,
		Success:   true,
		Timestamp: time.Now(),
	}
}

// fail flags the result without discarding partial progress. The first
// error message wins.
func (r *Result) fail(err error) {
	r.Success = false
	if r.Error == "" {
		r.Error = err.Error()
	}
}

func (r *Result) finish() {
	r.DurationMs = time.Since(r.Timestamp).Milliseconds()
}
