package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// RawEvent is an undecoded inbound message. The dispatcher parses it and
// acknowledges it once handled.
type RawEvent struct {
	Subject   string
	Kind      string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func() // transient failure, redeliver
	TermFunc  func() // never redeliver
}

// NATSSubscriber consumes the inbound subjects through durable JetStream
// consumers and hands every message to eventChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

const (
	consumerAckWait    = 30 * time.Second
	consumerMaxDeliver = 5
)

// consumerConfig builds the durable consumer for one subject. Price quotes
// resume from the newest message since stale quotes are useless; keeper
// requests replay the whole stream.
func consumerConfig(sc SubjectConfig) jetstream.ConsumerConfig {
	policy := jetstream.DeliverAllPolicy
	if sc.Kind == KindPriceUpdate {
		policy = jetstream.DeliverLastPolicy
	}
	return jetstream.ConsumerConfig{
		Durable:       sc.ConsumerName,
		FilterSubject: sc.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       consumerAckWait,
		MaxDeliver:    consumerMaxDeliver,
		DeliverPolicy: policy,
	}
}

func rawFromMsg(kind string, msg jetstream.Msg) RawEvent {
	return RawEvent{
		Subject:   msg.Subject(),
		Kind:      kind,
		Data:      msg.Data(),
		Timestamp: time.Now(),
		AckFunc:   func() { _ = msg.Ack() },
		NakFunc:   func() { _ = msg.Nak() },
		TermFunc:  func() { _ = msg.Term() },
	}
}

// Subscribe starts one consumer per subject. Messages that cannot be handed
// to eventChan before ctx ends are NAKed for redelivery.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, sc := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, sc.StreamName, consumerConfig(sc))
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", sc.ConsumerName, err)
		}

		kind := sc.Kind
		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			select {
			case ns.eventChan <- rawFromMsg(kind, msg):
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", sc.ConsumerName, err)
		}
		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", sc.Subject).Str("consumer", sc.ConsumerName).Msg("consumer started")
	}
	return nil
}

// Stop halts every consumer. Unacknowledged messages are redelivered after
// the ack wait.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Int("consumers", len(ns.consumers)).Msg("consumers stopped")
}
