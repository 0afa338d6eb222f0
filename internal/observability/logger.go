// Package observability provides structured logging setup.
package observability

import (
	"log/slog"
	"os"
)

// Log field name constants shared across the memory tiers.
const (
	LogFieldUserID    = "user_id"
	LogFieldMemoryID  = "memory_id"
	LogFieldEntityID  = "entity_id"
	LogFieldPatternID = "pattern_id"
	LogFieldRuleID    = "rule_id"
	LogFieldDuration  = "duration_ms"
	LogFieldErrorCode = "error_code"
)

// NewLogger creates a logger appropriate for the mode: human-readable text
// in dev, JSON in prod.
func NewLogger(mode string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if mode != "prod" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Init sets the process-wide default logger.
func Init(mode string) {
	slog.SetDefault(NewLogger(mode))
}
