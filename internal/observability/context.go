package observability

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	runIDKey contextKey = "run_id"
)

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the run ID from context.
// Returns empty string if not present.
func RunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// LoggerFromContext returns logger enriched with any run ID carried by ctx.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if runID := RunIDFromContext(ctx); runID != "" {
		return logger.With().Str("run_id", runID).Logger()
	}
	return logger
}
