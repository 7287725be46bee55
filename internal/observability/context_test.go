package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIDContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		ctx := WithRunID(context.Background(), "run-abc")
		assert.Equal(t, "run-abc", RunIDFromContext(ctx))
	})

	t.Run("missing returns empty", func(t *testing.T) {
		assert.Equal(t, "", RunIDFromContext(context.Background()))
	})
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("adds run id", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithRunID(context.Background(), "run-xyz")

		logger := LoggerFromContext(ctx, zerolog.New(&buf))
		logger.Info().Msg("hello")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		assert.Equal(t, "run-xyz", logEntry["run_id"])
	})

	t.Run("leaves logger unchanged without run id", func(t *testing.T) {
		var buf bytes.Buffer

		logger := LoggerFromContext(context.Background(), zerolog.New(&buf))
		logger.Info().Msg("hello")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		_, ok := logEntry["run_id"]
		assert.False(t, ok)
	})
}
