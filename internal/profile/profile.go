// Package profile holds the process configuration loaded from environment
// variables.
package profile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Profile is the configuration for the memory subsystem.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string

	// Redis connection settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Episodic TTL settings (seconds)
	EpisodicDefaultTTL  int
	EpisodicExtendedTTL int

	// Consolidation settings
	AutoConsolidationIntervalMs int64

	// AI configuration
	AIEnabled           bool
	AIEmbeddingProvider string // openai or any OpenAI-compatible endpoint
	AIEmbeddingModel    string
	AIEmbeddingAPIKey   string
	AIEmbeddingBaseURL  string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and an API key or base URL is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && (p.AIEmbeddingAPIKey != "" || p.AIEmbeddingBaseURL != "")
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable parsed as int, or the
// default when unset or unparseable.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// FromEnv loads configuration from MEMTIER_* environment variables.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("MEMTIER_MODE", "dev")
	p.RedisAddr = getEnvOrDefault("MEMTIER_REDIS_ADDR", "localhost:6379")
	p.RedisPassword = os.Getenv("MEMTIER_REDIS_PASSWORD")
	p.RedisDB = getEnvIntOrDefault("MEMTIER_REDIS_DB", 0)

	p.EpisodicDefaultTTL = getEnvIntOrDefault("MEMTIER_EPISODIC_DEFAULT_TTL", 900)
	p.EpisodicExtendedTTL = getEnvIntOrDefault("MEMTIER_EPISODIC_EXTENDED_TTL", 3600)

	p.AutoConsolidationIntervalMs = int64(getEnvIntOrDefault("MEMTIER_CONSOLIDATION_INTERVAL_MS", 3600000))

	p.AIEnabled = getEnvOrDefault("MEMTIER_AI_ENABLED", "false") == "true"
	p.AIEmbeddingProvider = getEnvOrDefault("MEMTIER_AI_EMBEDDING_PROVIDER", "openai")
	p.AIEmbeddingModel = getEnvOrDefault("MEMTIER_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.AIEmbeddingAPIKey = os.Getenv("MEMTIER_AI_EMBEDDING_API_KEY")
	p.AIEmbeddingBaseURL = os.Getenv("MEMTIER_AI_EMBEDDING_BASE_URL")
}

// Validate checks that the profile is usable.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		return errors.Errorf("invalid mode: %s", p.Mode)
	}
	if p.RedisAddr == "" {
		return errors.New("redis address is required")
	}
	if p.EpisodicDefaultTTL <= 0 || p.EpisodicExtendedTTL <= 0 {
		return errors.New("episodic TTLs must be positive")
	}
	if p.EpisodicExtendedTTL < p.EpisodicDefaultTTL {
		return errors.New("extended TTL must not be shorter than default TTL")
	}
	return nil
}

// GetProfile loads and validates the profile from the environment.
func GetProfile() (*Profile, error) {
	profile := &Profile{}
	profile.FromEnv()
	if err := profile.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid profile")
	}
	return profile, nil
}
