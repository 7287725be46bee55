package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmitter(t *testing.T) {
	t.Run("uses default service name when empty", func(t *testing.T) {
		emitter := NewEmitter(EmitterConfig{})
		assert.Equal(t, "pubmed-harvester", emitter.config.ServiceName)
	})

	t.Run("uses provided service name", func(t *testing.T) {
		emitter := NewEmitter(EmitterConfig{ServiceName: "custom-harvester"})
		assert.Equal(t, "custom-harvester", emitter.config.ServiceName)
	})
}

func TestEmitter_Emit(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{ServiceName: "test-service"})
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	emitter.now = func() time.Time { return fixed }

	t.Run("creates envelope with all fields", func(t *testing.T) {
		envelope, err := emitter.Emit(EmitParams{
			RunID:         "run-123",
			EventType:     EventTypeRunCompleted,
			Payload:       map[string]int{"inserted": 4},
			CorrelationID: "corr-abc",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, envelope.EventID)
		assert.Equal(t, "run-123", envelope.AggregateID)
		assert.Equal(t, AggregateTypeHarvestRun, envelope.AggregateType)
		assert.Equal(t, EventTypeRunCompleted, envelope.EventType)
		assert.Equal(t, "test-service", envelope.Source)
		assert.Equal(t, "corr-abc", envelope.CorrelationID)
		assert.Equal(t, fixed.UTC(), envelope.OccurredAt)

		var decoded map[string]int
		require.NoError(t, json.Unmarshal(envelope.Payload, &decoded))
		assert.Equal(t, 4, decoded["inserted"])
	})

	t.Run("generates unique event IDs", func(t *testing.T) {
		first, err := emitter.Emit(EmitParams{RunID: "run-1", EventType: EventTypeRunStarted})
		require.NoError(t, err)
		second, err := emitter.Emit(EmitParams{RunID: "run-1", EventType: EventTypeRunStarted})
		require.NoError(t, err)
		assert.NotEqual(t, first.EventID, second.EventID)
	})

	t.Run("returns error when run_id is empty", func(t *testing.T) {
		_, err := emitter.Emit(EmitParams{EventType: EventTypeRunStarted})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run_id is required")
	})

	t.Run("returns error when event_type is empty", func(t *testing.T) {
		_, err := emitter.Emit(EmitParams{RunID: "run-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event_type is required")
	})

	t.Run("returns error when payload cannot be marshaled", func(t *testing.T) {
		_, err := emitter.Emit(EmitParams{
			RunID:     "run-1",
			EventType: EventTypeRunStarted,
			Payload:   make(chan int),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "marshal payload")
	})
}
