package ai

import (
	"github.com/hrygo/memtier/internal/profile"
)

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // openai, or any OpenAI-compatible endpoint via BaseURL
	Model      string
	Dimensions int
	APIKey     string
	BaseURL    string
}

// NewEmbeddingConfigFromProfile creates embedding config from the profile.
// Returns nil when AI is disabled; callers treat a nil config as "no
// embedding provider available".
func NewEmbeddingConfigFromProfile(p *profile.Profile) *EmbeddingConfig {
	if !p.IsAIEnabled() {
		return nil
	}
	return &EmbeddingConfig{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		Dimensions: 1536,
		APIKey:     p.AIEmbeddingAPIKey,
		BaseURL:    p.AIEmbeddingBaseURL,
	}
}
