package ai

import (
	"context"
	"errors"
	"sync"
)

// MockEmbeddingService is a mock implementation of EmbeddingService for testing.
// It returns canned vectors registered per text, or a deterministic default.
type MockEmbeddingService struct {
	mu         sync.RWMutex
	vectors    map[string][]float32
	dimensions int
	failAll    bool
	callCount  int
}

// NewMockEmbeddingService creates a new MockEmbeddingService.
func NewMockEmbeddingService(dimensions int) *MockEmbeddingService {
	if dimensions <= 0 {
		dimensions = 4
	}
	return &MockEmbeddingService{
		vectors:    make(map[string][]float32),
		dimensions: dimensions,
	}
}

// SetVector registers a canned vector for a text.
func (m *MockEmbeddingService) SetVector(text string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vector
}

// FailAll makes every call return an error, to exercise degraded paths.
func (m *MockEmbeddingService) FailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

// CallCount returns the number of Embed/EmbedBatch calls made.
func (m *MockEmbeddingService) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// Embed returns the registered vector for the text, or a unit vector.
func (m *MockEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	if m.failAll {
		return nil, errors.New("mock embedding failure")
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	vector := make([]float32, m.dimensions)
	vector[0] = 1
	return vector, nil
}

// EmbedBatch embeds each text individually.
func (m *MockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Dimensions returns the vector dimension.
func (m *MockEmbeddingService) Dimensions() int {
	return m.dimensions
}

// Ensure MockEmbeddingService implements EmbeddingService.
var _ EmbeddingService = (*MockEmbeddingService)(nil)
