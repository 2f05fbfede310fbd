package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/observability"
	"FuturesEngine/internal/settlement"
)

// PriceSubscriber consumes reference price ticks from JetStream and keeps
// the settlement tick cache current. Subjects follow fut.prices.{symbol}.
type PriceSubscriber struct {
	js       jetstream.JetStream
	cache    *settlement.TickCache
	registry *contract.Registry
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

// priceTickJSON is the wire format published by upstream price producers.
// Field names use snake_case to match them.
type priceTickJSON struct {
	Symbol      string `json:"symbol"`
	Price       int64  `json:"price"`
	Source      string `json:"source"`
	TimestampUs int64  `json:"timestamp_us"`
}

func NewPriceSubscriber(
	js jetstream.JetStream,
	cache *settlement.TickCache,
	registry *contract.Registry,
	metrics *observability.Metrics,
) *PriceSubscriber {
	return &PriceSubscriber{
		js:       js,
		cache:    cache,
		registry: registry,
		metrics:  metrics,
	}
}

// Subscribe creates the durable consumer and starts delivery. Malformed
// ticks and ticks for unknown contracts are acked and dropped; redelivery
// cannot fix them.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "FUT_PRICES", jetstream.ConsumerConfig{
		Durable:       "engine-prices",
		FilterSubject: "fut.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer engine-prices: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := ps.handle(msg.Data()); err != nil {
			log.Printf("WARN: dropping price tick on %s: %v", msg.Subject(), err)
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume engine-prices: %w", err)
	}

	ps.consumer = consumerContext
	log.Printf("INFO: subscribed to fut.prices.> (consumer=engine-prices)")
	return nil
}

func (ps *PriceSubscriber) handle(data []byte) error {
	var j priceTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		if ps.metrics != nil {
			ps.metrics.FeedTicksRejected.WithLabelValues("malformed").Inc()
		}
		return fmt.Errorf("parse price tick: %w", err)
	}

	if j.Price <= 0 {
		if ps.metrics != nil {
			ps.metrics.FeedTicksRejected.WithLabelValues("bad_price").Inc()
		}
		return fmt.Errorf("non-positive price %d for %s", j.Price, j.Symbol)
	}

	if _, err := ps.registry.Get(j.Symbol); err != nil {
		if ps.metrics != nil {
			ps.metrics.FeedTicksRejected.WithLabelValues("unknown_contract").Inc()
		}
		return err
	}

	ps.cache.Set(j.Symbol, j.Price, time.UnixMicro(j.TimestampUs))
	if ps.metrics != nil {
		ps.metrics.FeedTicksReceived.WithLabelValues(j.Symbol).Inc()
	}
	return nil
}

// Stop gracefully stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	log.Println("INFO: price subscriber stopped")
}
