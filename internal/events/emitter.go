package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// AggregateTypeHarvestRun is the aggregate type for harvest run events.
	AggregateTypeHarvestRun = "harvest_run"

	// defaultServiceName is the source recorded when EmitterConfig.ServiceName is empty.
	defaultServiceName = "pubmed-harvester"
)

// Event types.
const (
	EventTypeRunStarted   = "harvest.run_started"
	EventTypeRunCompleted = "harvest.run_completed"
	EventTypeRunAborted   = "harvest.run_aborted"
	EventTypePaperFailed  = "harvest.paper_failed"
)

// Envelope is the wire form of every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// RunID is the harvest run ID (aggregate ID).
	RunID string
	// EventType is the type of event (e.g., "harvest.run_started").
	EventType string
	// Payload is the event payload that will be JSON-serialized.
	Payload any
	// CorrelationID for request tracing (optional).
	CorrelationID string
}

// Emitter creates envelopes enriched with harvester context.
type Emitter struct {
	config EmitterConfig
	now    func() time.Time
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	return &Emitter{config: config, now: time.Now}
}

// Emit builds an Envelope from the given parameters.
func (e *Emitter) Emit(params EmitParams) (Envelope, error) {
	if params.RunID == "" {
		return Envelope{}, fmt.Errorf("run_id is required")
	}
	if params.EventType == "" {
		return Envelope{}, fmt.Errorf("event_type is required")
	}

	payload, err := json.Marshal(params.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	return Envelope{
		EventID:       uuid.New().String(),
		AggregateID:   params.RunID,
		AggregateType: AggregateTypeHarvestRun,
		EventType:     params.EventType,
		Source:        e.config.ServiceName,
		CorrelationID: params.CorrelationID,
		OccurredAt:    e.now().UTC(),
		Payload:       payload,
	}, nil
}
