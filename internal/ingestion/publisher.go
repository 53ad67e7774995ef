package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"MarginVault/internal/event"
)

// Publisher emits applied-instruction events on
// margin.vault.events.{type}.{market}. Events are published after the
// instruction committed; downstream consumers deduplicate by sequence.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, log: log}
}

// Publish serializes and publishes one event.
func (p *Publisher) Publish(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event seq %d: %w", ev.Sequence, err)
	}
	market := ev.Market
	if market == "" {
		market = "global"
	}
	subject := fmt.Sprintf("%s.%s.%s", eventSubjectRoot, ev.TypeName, market)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.Debug().
		Str("subject", subject).
		Int64("sequence", ev.Sequence).
		Msg("event published")
	return nil
}

// PublishAll publishes a batch in order, stopping at the first failure.
func (p *Publisher) PublishAll(ctx context.Context, events []event.Event) error {
	for _, ev := range events {
		if err := p.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
