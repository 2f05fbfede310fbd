package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"FuturesEngine/internal/event"
)

// OutboundPublisher publishes engine events to NATS for downstream
// consumers (risk systems, market data, back office).
// Subjects follow the pattern fut.engine.events.{event_type}.{symbol}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Event
}

// outboundJSON is the published wire format.
type outboundJSON struct {
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Symbol         *string     `json:"symbol,omitempty"`
	Payload        interface{} `json:"payload"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan event.Event) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run drains the publish channel until ctx is cancelled or the channel
// closes. Publish failures are logged and dropped; downstream consumers
// can always recover from the durable event log.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, ev); err != nil {
				log.Printf("WARN: outbound publish failed key=%s: %v", ev.IdempotencyKey(), err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(outboundJSON{
		EventType:      ev.EventType().String(),
		IdempotencyKey: ev.IdempotencyKey(),
		Symbol:         ev.Symbol(),
		Payload:        ev,
		Timestamp:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("fut.engine.events.%s", ev.EventType())
	if sym := ev.Symbol(); sym != nil {
		subject = fmt.Sprintf("%s.%s", subject, *sym)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}
