package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Notifier emits and publishes harvest run events.
type Notifier struct {
	emitter   *Emitter
	publisher Publisher
	logger    zerolog.Logger
}

// NewNotifier creates a Notifier. A nil publisher discards events.
func NewNotifier(emitter *Emitter, publisher Publisher, logger zerolog.Logger) *Notifier {
	if emitter == nil {
		emitter = NewEmitter(EmitterConfig{})
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Notifier{
		emitter:   emitter,
		publisher: publisher,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

// RunStarted publishes a harvest.run_started event.
func (n *Notifier) RunStarted(ctx context.Context, runID string, payload any) error {
	return n.publish(ctx, runID, EventTypeRunStarted, payload)
}

// RunCompleted publishes a harvest.run_completed event.
func (n *Notifier) RunCompleted(ctx context.Context, runID string, payload any) error {
	return n.publish(ctx, runID, EventTypeRunCompleted, payload)
}

// RunAborted publishes a harvest.run_aborted event.
func (n *Notifier) RunAborted(ctx context.Context, runID string, payload any) error {
	return n.publish(ctx, runID, EventTypeRunAborted, payload)
}

// PaperFailed publishes a harvest.paper_failed event.
func (n *Notifier) PaperFailed(ctx context.Context, runID string, payload any) error {
	return n.publish(ctx, runID, EventTypePaperFailed, payload)
}

// Close closes the underlying publisher.
func (n *Notifier) Close() error {
	return n.publisher.Close()
}

func (n *Notifier) publish(ctx context.Context, runID, eventType string, payload any) error {
	envelope, err := n.emitter.Emit(EmitParams{
		RunID:     runID,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	if err := n.publisher.Publish(ctx, envelope); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
