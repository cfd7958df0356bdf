package event

import "context"

// Sink receives engine notifications. Publish runs after the engine's
// bookkeeping is committed; a sink error is logged, not propagated.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// NopSink discards everything. Used in tests and when no broker is
// configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }

// RecordingSink captures events in order for test assertions.
type RecordingSink struct {
	Events []Event
}

func (s *RecordingSink) Publish(_ context.Context, evt Event) error {
	s.Events = append(s.Events, evt)
	return nil
}
