// Package semantic implements the long-term knowledge graph: typed entities
// and directed, typed relations with confidence scores, plus similarity
// search over optional embeddings.
package semantic

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/memtier/ai"
	memerrors "github.com/hrygo/memtier/internal/errors"
	"github.com/hrygo/memtier/store"
)

// EntityType classifies a semantic entity.
type EntityType string

const (
	EntityPerson     EntityType = "person"
	EntityProject    EntityType = "project"
	EntitySkill      EntityType = "skill"
	EntityPreference EntityType = "preference"
	EntityConcept    EntityType = "concept"
)

// EntityTypes lists all known entity types, in graph-scan order.
var EntityTypes = []EntityType{EntityPerson, EntityProject, EntitySkill, EntityPreference, EntityConcept}

// DefaultReinforceDelta is the confidence increment applied by ReinforceEntity
// when the caller does not specify one.
const DefaultReinforceDelta = 0.1

// Entity is a durable fact or concept.
type Entity struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Type        EntityType     `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	Confidence  float64        `json:"confidence"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	RelationType string         `json:"relation_type"`
	Strength     float64        `json:"strength"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RelationDirection selects which index sets GetEntityRelations unions.
type RelationDirection string

const (
	DirectionSource RelationDirection = "source"
	DirectionTarget RelationDirection = "target"
	DirectionBoth   RelationDirection = "both"
)

// KnowledgeGraph is a read-only, point-in-time assembly of one user's
// entities and relations. It is recomputed per call, never persisted.
type KnowledgeGraph struct {
	Entities  map[string]*Entity   `json:"entities"`
	Relations map[string]*Relation `json:"relations"`
}

// SimilarEntity pairs an entity with its cosine similarity to a reference.
type SimilarEntity struct {
	Entity     *Entity `json:"entity"`
	Similarity float64 `json:"similarity"`
}

// Store provides access to the semantic memory tier.
type Store struct {
	store     *store.Store
	embedding ai.EmbeddingService // optional; nil disables embedding synthesis
}

// NewStore creates a new semantic memory store. The embedding service may be
// nil; entity storage then proceeds without embeddings.
func NewStore(s *store.Store, embedding ai.EmbeddingService) *Store {
	return &Store{store: s, embedding: embedding}
}

func (s *Store) entityKey(userID, entityID string) string {
	return s.store.Key(store.TierSemantic, "user", userID, "entity", entityID)
}

func (s *Store) nameIndexKey(userID string, entityType EntityType, name string) string {
	return s.store.Key(store.TierSemantic, "user", userID, "name", string(entityType), strings.ToLower(name))
}

func (s *Store) typeIndexKey(userID string, entityType EntityType) string {
	return s.store.Key(store.TierSemantic, "user", userID, "type", string(entityType))
}

func (s *Store) embeddingKey(userID, entityID string) string {
	return s.store.Key(store.TierSemantic, "user", userID, "embedding", entityID)
}

func (s *Store) relationKey(userID, relationID string) string {
	return s.store.Key(store.TierSemantic, "user", userID, "relation", relationID)
}

func (s *Store) relationSourceKey(userID, entityID string) string {
	return s.store.Key(store.TierSemantic, "user", userID, "relsource", entityID)
}

func (s *Store) relationTargetKey(userID, entityID string) string {
	return s.store.Key(store.TierSemantic, "user", userID, "reltarget", entityID)
}

func (s *Store) relationTypeKey(userID, relationType string) string {
	return s.store.Key(store.TierSemantic, "user", userID, "reltype", relationType)
}

// StoreEntity persists an entity, deduplicating on (user, type, lower-cased
// name): an existing entity is updated in place, keeping its id and
// CreatedAt. When the draft has a description but no embedding, one is
// synthesized best-effort from the embedding provider.
func (s *Store) StoreEntity(ctx context.Context, userID string, entity *Entity) (*Entity, error) {
	if entity.Name == "" {
		return nil, memerrors.InvalidArgument("entity name is required")
	}
	if !validEntityType(entity.Type) {
		return nil, memerrors.InvalidArgument("unknown entity type: " + string(entity.Type))
	}

	entity.UserID = userID
	now := time.Now()

	nameKey := s.nameIndexKey(userID, entity.Type, entity.Name)
	existingID, ok, err := s.store.Get(ctx, nameKey)
	if err != nil {
		return nil, memerrors.StoreUnavailable("look up name index", err)
	}
	if ok {
		existing, err := s.GetEntity(ctx, userID, string(existingID))
		if err != nil {
			return nil, err
		}
		if existing != nil {
			entity.ID = existing.ID
			entity.CreatedAt = existing.CreatedAt
		}
	}
	if entity.ID == "" {
		entity.ID = shortuuid.New()
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	if len(entity.Embedding) == 0 && entity.Description != "" && s.embedding != nil {
		vector, err := s.embedding.Embed(ctx, entity.Description)
		if err != nil {
			// Embeddings are an enhancement, not a requirement.
			slog.Warn("embedding synthesis failed",
				"user_id", userID,
				"entity_name", entity.Name,
				"error", err)
		} else {
			entity.Embedding = vector
		}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return nil, memerrors.StoreUnavailable("marshal entity", err)
	}
	if err := s.store.SetWithTTL(ctx, s.entityKey(userID, entity.ID), data, 0); err != nil {
		return nil, memerrors.StoreUnavailable("store entity", err)
	}
	if err := s.store.SAdd(ctx, s.typeIndexKey(userID, entity.Type), entity.ID); err != nil {
		return nil, memerrors.StoreUnavailable("index entity type", err)
	}
	if err := s.store.SetWithTTL(ctx, nameKey, []byte(entity.ID), 0); err != nil {
		return nil, memerrors.StoreUnavailable("index entity name", err)
	}
	if len(entity.Embedding) > 0 {
		vectorData, err := json.Marshal(entity.Embedding)
		if err != nil {
			return nil, memerrors.StoreUnavailable("marshal embedding", err)
		}
		if err := s.store.SetWithTTL(ctx, s.embeddingKey(userID, entity.ID), vectorData, 0); err != nil {
			return nil, memerrors.StoreUnavailable("store embedding", err)
		}
	}

	return entity, nil
}

func validEntityType(t EntityType) bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StoreRelation always creates a new relation; duplicate edges of the same
// type between the same pair are possible by design of the source behavior.
func (s *Store) StoreRelation(ctx context.Context, userID string, relation *Relation) (*Relation, error) {
	if relation.SourceID == "" || relation.TargetID == "" {
		return nil, memerrors.InvalidArgument("relation requires source and target entity ids")
	}
	if relation.RelationType == "" {
		return nil, memerrors.InvalidArgument("relation type is required")
	}

	relation.ID = shortuuid.New()
	relation.UserID = userID
	relation.CreatedAt = time.Now()

	data, err := json.Marshal(relation)
	if err != nil {
		return nil, memerrors.StoreUnavailable("marshal relation", err)
	}
	if err := s.store.SetWithTTL(ctx, s.relationKey(userID, relation.ID), data, 0); err != nil {
		return nil, memerrors.StoreUnavailable("store relation", err)
	}
	if err := s.store.SAdd(ctx, s.relationSourceKey(userID, relation.SourceID), relation.ID); err != nil {
		return nil, memerrors.StoreUnavailable("index relation source", err)
	}
	if err := s.store.SAdd(ctx, s.relationTargetKey(userID, relation.TargetID), relation.ID); err != nil {
		return nil, memerrors.StoreUnavailable("index relation target", err)
	}
	if err := s.store.SAdd(ctx, s.relationTypeKey(userID, relation.RelationType), relation.ID); err != nil {
		return nil, memerrors.StoreUnavailable("index relation type", err)
	}

	return relation, nil
}

// GetEntity returns an entity by id, or nil when absent.
func (s *Store) GetEntity(ctx context.Context, userID, entityID string) (*Entity, error) {
	data, ok, err := s.store.Get(ctx, s.entityKey(userID, entityID))
	if err != nil {
		return nil, memerrors.StoreUnavailable("get entity", err)
	}
	if !ok {
		return nil, nil
	}
	entity := &Entity{}
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, memerrors.StoreUnavailable("unmarshal entity", err)
	}
	return entity, nil
}

// GetEntitiesByType returns all of a user's entities of one type.
func (s *Store) GetEntitiesByType(ctx context.Context, userID string, entityType EntityType) ([]*Entity, error) {
	ids, err := s.store.SMembers(ctx, s.typeIndexKey(userID, entityType))
	if err != nil {
		return nil, memerrors.StoreUnavailable("list entities by type", err)
	}
	entities := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		entity, err := s.GetEntity(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if entity != nil {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}

// GetEntityRelations unions the relevant direction indexes and resolves
// each relation id.
func (s *Store) GetEntityRelations(ctx context.Context, userID, entityID string, direction RelationDirection) ([]*Relation, error) {
	var indexKeys []string
	switch direction {
	case DirectionSource:
		indexKeys = []string{s.relationSourceKey(userID, entityID)}
	case DirectionTarget:
		indexKeys = []string{s.relationTargetKey(userID, entityID)}
	case DirectionBoth, "":
		indexKeys = []string{s.relationSourceKey(userID, entityID), s.relationTargetKey(userID, entityID)}
	default:
		return nil, memerrors.InvalidArgument("unknown relation direction: " + string(direction))
	}

	seen := make(map[string]struct{})
	var relations []*Relation
	for _, indexKey := range indexKeys {
		ids, err := s.store.SMembers(ctx, indexKey)
		if err != nil {
			return nil, memerrors.StoreUnavailable("list relations", err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			relation, err := s.getRelation(ctx, userID, id)
			if err != nil {
				return nil, err
			}
			if relation != nil {
				relations = append(relations, relation)
			}
		}
	}
	return relations, nil
}

func (s *Store) getRelation(ctx context.Context, userID, relationID string) (*Relation, error) {
	data, ok, err := s.store.Get(ctx, s.relationKey(userID, relationID))
	if err != nil {
		return nil, memerrors.StoreUnavailable("get relation", err)
	}
	if !ok {
		return nil, nil
	}
	relation := &Relation{}
	if err := json.Unmarshal(data, relation); err != nil {
		return nil, memerrors.StoreUnavailable("unmarshal relation", err)
	}
	return relation, nil
}

// BuildKnowledgeGraph assembles the full graph for a user: every entity of
// every type, plus the relations of each entity in both directions. This is
// a full scan whose cost grows with the user's total entity and relation
// count; it is not meant for hot paths.
func (s *Store) BuildKnowledgeGraph(ctx context.Context, userID string) (*KnowledgeGraph, error) {
	graph := &KnowledgeGraph{
		Entities:  make(map[string]*Entity),
		Relations: make(map[string]*Relation),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, entityType := range EntityTypes {
		entityType := entityType
		g.Go(func() error {
			entities, err := s.GetEntitiesByType(gctx, userID, entityType)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, entity := range entities {
				graph.Entities[entity.ID] = entity
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for entityID := range graph.Entities {
		relations, err := s.GetEntityRelations(ctx, userID, entityID, DirectionBoth)
		if err != nil {
			return nil, err
		}
		for _, relation := range relations {
			graph.Relations[relation.ID] = relation
		}
	}

	return graph, nil
}

// FindSimilarEntities ranks all of the user's embedded entities by cosine
// similarity against the reference entity. A reference without an embedding
// yields an empty result. Entities without embeddings and the reference
// itself are skipped.
func (s *Store) FindSimilarEntities(ctx context.Context, userID string, reference *Entity, limit int) ([]*SimilarEntity, error) {
	if reference == nil || len(reference.Embedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var candidates []*SimilarEntity
	for _, entityType := range EntityTypes {
		entities, err := s.GetEntitiesByType(ctx, userID, entityType)
		if err != nil {
			return nil, err
		}
		for _, entity := range entities {
			if entity.ID == reference.ID {
				continue
			}
			vector, err := s.loadEmbedding(ctx, userID, entity)
			if err != nil {
				return nil, err
			}
			if len(vector) == 0 {
				continue
			}
			candidates = append(candidates, &SimilarEntity{
				Entity:     entity,
				Similarity: CosineSimilarity(reference.Embedding, vector),
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// loadEmbedding reads the embedding index, falling back to the vector
// carried on the entity record.
func (s *Store) loadEmbedding(ctx context.Context, userID string, entity *Entity) ([]float32, error) {
	data, ok, err := s.store.Get(ctx, s.embeddingKey(userID, entity.ID))
	if err != nil {
		return nil, memerrors.StoreUnavailable("get embedding", err)
	}
	if !ok {
		return entity.Embedding, nil
	}
	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, memerrors.StoreUnavailable("unmarshal embedding", err)
	}
	return vector, nil
}

// ReinforceEntity bumps an entity's confidence, clamped at 1.0. There is no
// corresponding decay operation.
func (s *Store) ReinforceEntity(ctx context.Context, userID, entityID string, delta float64) (*Entity, error) {
	if delta == 0 {
		delta = DefaultReinforceDelta
	}

	entity, err := s.GetEntity(ctx, userID, entityID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, memerrors.NotFound("semantic entity", entityID)
	}

	entity.Confidence = math.Min(1, entity.Confidence+delta)
	entity.UpdatedAt = time.Now()

	data, err := json.Marshal(entity)
	if err != nil {
		return nil, memerrors.StoreUnavailable("marshal entity", err)
	}
	if err := s.store.SetWithTTL(ctx, s.entityKey(userID, entityID), data, 0); err != nil {
		return nil, memerrors.StoreUnavailable("rewrite entity", err)
	}
	return entity, nil
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|). Zero vectors and
// mismatched lengths yield 0 rather than NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
