// Package events publishes harvest run events to Kafka.
//
// # Components
//
//   - Emitter: builds Envelope values enriched with the harvester's service context
//   - Publisher: delivers envelopes (KafkaPublisher, or NoopPublisher when disabled)
//   - Notifier: pairs an emitter with a publisher behind per-event methods
//
// # Event Types
//
//   - harvest.run_started: a run acquired the writer lock and began searching
//   - harvest.run_completed: a run reached the done state
//   - harvest.run_aborted: the search or processed-set lookup failed
//   - harvest.paper_failed: one record graph rolled back and was written to the failure log
//
// Every envelope is keyed by run ID so events of one run land on one partition
// in order.
//
// # Usage
//
//	publisher := events.NewKafkaPublisher(events.KafkaConfig{
//	    Brokers: cfg.Kafka.Brokers,
//	    Topic:   cfg.Kafka.Topic,
//	}, logger)
//	notifier := events.NewNotifier(events.NewEmitter(events.EmitterConfig{}), publisher, logger)
//	defer notifier.Close()
package events
