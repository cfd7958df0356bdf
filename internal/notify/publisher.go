// Package notify delivers engine events to NATS JetStream. Subjects follow
// perp.core.events.{event_type}.{market}; delivery is best-effort after the
// engine's bookkeeping is committed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpCore/internal/event"
)

const (
	streamName    = "PERP_CORE_EVENTS"
	subjectPrefix = "perp.core.events"
)

// Publisher implements event.Sink on top of JetStream.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, log: log.With().Str("component", "notify").Logger()}
}

type envelope struct {
	EventType string      `json:"event_type"`
	Market    string      `json:"market,omitempty"`
	Payload   event.Event `json:"payload"`
}

// Publish sends one event. Failures are logged and swallowed: downstream
// consumers reconcile from the store, and a broker outage must not fail
// committed engine operations.
func (p *Publisher) Publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(envelope{
		EventType: evt.EventType().String(),
		Market:    evt.MarketSymbol(),
		Payload:   evt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, evt.EventType())
	if market := evt.MarketSymbol(); market != "" {
		subject = fmt.Sprintf("%s.%s", subject, market)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("outbound publish failed")
	}
	return nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
