package semantic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/memtier/ai"
	memerrors "github.com/hrygo/memtier/internal/errors"
	"github.com/hrygo/memtier/memory/semantic"
	storetest "github.com/hrygo/memtier/store/test"
)

func newSemanticStore(t *testing.T) *semantic.Store {
	ts, _ := storetest.NewRedisStore(t)
	return semantic.NewStore(ts, nil)
}

func TestStore_StoreEntity(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	t.Run("AssignsIDAndTimestamps", func(t *testing.T) {
		entity, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
			Type:       semantic.EntityPerson,
			Name:       "Priya Sharma",
			Confidence: 0.8,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, entity.ID)
		assert.Equal(t, "u1", entity.UserID)
		assert.False(t, entity.CreatedAt.IsZero())
		assert.False(t, entity.UpdatedAt.IsZero())
	})

	t.Run("RequiresName", func(t *testing.T) {
		_, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: semantic.EntityPerson})
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})

	t.Run("RejectsUnknownType", func(t *testing.T) {
		_, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: "planet", Name: "Mars"})
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})
}

func TestStore_StoreEntityDedup(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	first, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
		Type:        semantic.EntitySkill,
		Name:        "Acting",
		Description: "method acting",
		Confidence:  0.6,
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// Same name in a different case merges into the existing entity.
	second, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
		Type:        semantic.EntitySkill,
		Name:        "acting",
		Description: "updated description",
		Confidence:  0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, 0.9, second.Confidence)

	entities, err := sem.GetEntitiesByType(ctx, "u1", semantic.EntitySkill)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
	assert.Equal(t, "updated description", entities[0].Description)
}

func TestStore_StoreEntityScopedByUser(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	first, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: semantic.EntitySkill, Name: "acting"})
	require.NoError(t, err)
	second, err := sem.StoreEntity(ctx, "u2", &semantic.Entity{Type: semantic.EntitySkill, Name: "acting"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestStore_EmbeddingSynthesis(t *testing.T) {
	ctx := context.Background()

	t.Run("SynthesizesFromDescription", func(t *testing.T) {
		ts, _ := storetest.NewRedisStore(t)
		mock := ai.NewMockEmbeddingService(4)
		mock.SetVector("an actor from Mumbai", []float32{0, 1, 0, 0})
		sem := semantic.NewStore(ts, mock)

		entity, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
			Type:        semantic.EntityPerson,
			Name:        "Priya Sharma",
			Description: "an actor from Mumbai",
		})
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 0, 0}, entity.Embedding)
		assert.Equal(t, 1, mock.CallCount())
	})

	t.Run("ProviderFailureDegrades", func(t *testing.T) {
		ts, _ := storetest.NewRedisStore(t)
		mock := ai.NewMockEmbeddingService(4)
		mock.FailAll(true)
		sem := semantic.NewStore(ts, mock)

		entity, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
			Type:        semantic.EntityPerson,
			Name:        "Priya Sharma",
			Description: "an actor",
		})
		require.NoError(t, err)
		assert.Empty(t, entity.Embedding)
	})

	t.Run("NoDescriptionNoCall", func(t *testing.T) {
		ts, _ := storetest.NewRedisStore(t)
		mock := ai.NewMockEmbeddingService(4)
		sem := semantic.NewStore(ts, mock)

		_, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
			Type: semantic.EntityPerson,
			Name: "Priya Sharma",
		})
		require.NoError(t, err)
		assert.Equal(t, 0, mock.CallCount())
	})
}

func TestStore_Relations(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	person, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: semantic.EntityPerson, Name: "Priya Sharma"})
	require.NoError(t, err)
	skill, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: semantic.EntitySkill, Name: "acting"})
	require.NoError(t, err)

	relation, err := sem.StoreRelation(ctx, "u1", &semantic.Relation{
		SourceID:     person.ID,
		TargetID:     skill.ID,
		RelationType: "has_skill",
		Strength:     0.8,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, relation.ID)

	t.Run("SourceDirection", func(t *testing.T) {
		relations, err := sem.GetEntityRelations(ctx, "u1", person.ID, semantic.DirectionSource)
		require.NoError(t, err)
		require.Len(t, relations, 1)
		assert.Equal(t, "has_skill", relations[0].RelationType)
	})

	t.Run("TargetDirection", func(t *testing.T) {
		relations, err := sem.GetEntityRelations(ctx, "u1", person.ID, semantic.DirectionTarget)
		require.NoError(t, err)
		assert.Empty(t, relations)

		relations, err = sem.GetEntityRelations(ctx, "u1", skill.ID, semantic.DirectionTarget)
		require.NoError(t, err)
		assert.Len(t, relations, 1)
	})

	t.Run("DefaultIsBoth", func(t *testing.T) {
		relations, err := sem.GetEntityRelations(ctx, "u1", skill.ID, "")
		require.NoError(t, err)
		assert.Len(t, relations, 1)
	})

	t.Run("UnknownDirection", func(t *testing.T) {
		_, err := sem.GetEntityRelations(ctx, "u1", skill.ID, "sideways")
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})

	t.Run("DuplicateEdgesAllowed", func(t *testing.T) {
		_, err := sem.StoreRelation(ctx, "u1", &semantic.Relation{
			SourceID:     person.ID,
			TargetID:     skill.ID,
			RelationType: "has_skill",
		})
		require.NoError(t, err)

		relations, err := sem.GetEntityRelations(ctx, "u1", person.ID, semantic.DirectionSource)
		require.NoError(t, err)
		assert.Len(t, relations, 2)
	})

	t.Run("RequiresEndpoints", func(t *testing.T) {
		_, err := sem.StoreRelation(ctx, "u1", &semantic.Relation{RelationType: "has_skill"})
		require.Error(t, err)
		assert.True(t, memerrors.IsCode(err, memerrors.ErrCodeInvalidArgument))
	})
}

func TestStore_GetEntity(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	got, err := sem.GetEntity(ctx, "u1", "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_BuildKnowledgeGraph(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	person, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: semantic.EntityPerson, Name: "Priya Sharma"})
	require.NoError(t, err)
	skill, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: semantic.EntitySkill, Name: "acting"})
	require.NoError(t, err)
	_, err = sem.StoreEntity(ctx, "u1", &semantic.Entity{Type: semantic.EntityConcept, Name: "casting"})
	require.NoError(t, err)
	_, err = sem.StoreRelation(ctx, "u1", &semantic.Relation{
		SourceID:     person.ID,
		TargetID:     skill.ID,
		RelationType: "has_skill",
	})
	require.NoError(t, err)

	// Other users do not leak into the graph.
	_, err = sem.StoreEntity(ctx, "u2", &semantic.Entity{Type: semantic.EntityPerson, Name: "Rahul Verma"})
	require.NoError(t, err)

	graph, err := sem.BuildKnowledgeGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, graph.Entities, 3)
	assert.Len(t, graph.Relations, 1)
	assert.Contains(t, graph.Entities, person.ID)
}

func TestStore_FindSimilarEntities(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	reference, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
		Type:      semantic.EntityConcept,
		Name:      "reference",
		Embedding: []float32{1, 0},
	})
	require.NoError(t, err)

	for _, spec := range []struct {
		name   string
		vector []float32
	}{
		{"identical", []float32{1, 0}},
		{"orthogonal", []float32{0, 1}},
		{"opposite", []float32{-1, 0}},
	} {
		_, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
			Type:      semantic.EntityConcept,
			Name:      spec.name,
			Embedding: spec.vector,
		})
		require.NoError(t, err)
	}
	_, err = sem.StoreEntity(ctx, "u1", &semantic.Entity{
		Type: semantic.EntityConcept,
		Name: "no-embedding",
	})
	require.NoError(t, err)

	t.Run("RankedDescending", func(t *testing.T) {
		similar, err := sem.FindSimilarEntities(ctx, "u1", reference, 10)
		require.NoError(t, err)
		require.Len(t, similar, 3)
		assert.Equal(t, "identical", similar[0].Entity.Name)
		assert.InDelta(t, 1.0, similar[0].Similarity, 1e-9)
		assert.Equal(t, "orthogonal", similar[1].Entity.Name)
		assert.InDelta(t, 0.0, similar[1].Similarity, 1e-9)
		assert.Equal(t, "opposite", similar[2].Entity.Name)
		assert.InDelta(t, -1.0, similar[2].Similarity, 1e-9)
	})

	t.Run("Limit", func(t *testing.T) {
		similar, err := sem.FindSimilarEntities(ctx, "u1", reference, 1)
		require.NoError(t, err)
		require.Len(t, similar, 1)
		assert.Equal(t, "identical", similar[0].Entity.Name)
	})

	t.Run("ReferenceWithoutEmbedding", func(t *testing.T) {
		similar, err := sem.FindSimilarEntities(ctx, "u1", &semantic.Entity{ID: "x"}, 10)
		require.NoError(t, err)
		assert.Empty(t, similar)
	})
}

func TestStore_ReinforceEntity(t *testing.T) {
	sem := newSemanticStore(t)
	ctx := context.Background()

	entity, err := sem.StoreEntity(ctx, "u1", &semantic.Entity{
		Type:       semantic.EntityConcept,
		Name:       "casting",
		Confidence: 0.85,
	})
	require.NoError(t, err)

	t.Run("DefaultDelta", func(t *testing.T) {
		reinforced, err := sem.ReinforceEntity(ctx, "u1", entity.ID, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.95, reinforced.Confidence, 1e-9)
	})

	t.Run("ClampedAtOne", func(t *testing.T) {
		reinforced, err := sem.ReinforceEntity(ctx, "u1", entity.ID, 0.5)
		require.NoError(t, err)
		assert.Equal(t, 1.0, reinforced.Confidence)

		reinforced, err = sem.ReinforceEntity(ctx, "u1", entity.ID, 0.5)
		require.NoError(t, err)
		assert.Equal(t, 1.0, reinforced.Confidence)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := sem.ReinforceEntity(ctx, "u1", "no-such-id", 0.1)
		require.Error(t, err)
		assert.True(t, memerrors.IsNotFound(err))
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, semantic.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, semantic.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, semantic.CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	t.Run("ZeroVector", func(t *testing.T) {
		assert.Equal(t, 0.0, semantic.CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		assert.Equal(t, 0.0, semantic.CosineSimilarity([]float32{1}, []float32{1, 0}))
	})
}
