package ingestion

import (
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamPublisher is the subset of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed settlement events on
// fxswap.events.<event_type> for downstream consumers.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire format.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Participant    *uuid.UUID      `json:"participant,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the channel is closed. Failures
// are logged and counted; consumers can fall back to the event log.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

// Subject returns the outbound subject of an output.
func Subject(out core.CoreOutput) string {
	return EventsSubjectPrefix + "." + out.Envelope.EventType.Subject()
}

// Encode builds the outbound message of an output.
func Encode(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      time.Unix(env.Timestamp, 0).UTC(),
	}
	if len(evt.Payload) == 0 {
		evt.Payload = json.RawMessage("{}")
	}
	if env.Participant != uuid.Nil {
		p := env.Participant
		evt.Participant = &p
	}
	return evt
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	evt := Encode(out)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The stream's duplicate window drops republished sequences.
	msgID := "fxswap-" + strconv.FormatInt(evt.Sequence, 10)
	if _, err := op.js.Publish(ctx, Subject(out), data, jetstream.WithMsgID(msgID)); err != nil {
		return err
	}
	if op.metrics != nil {
		op.metrics.PublishedEvents.WithLabelValues(evt.EventType).Inc()
	}
	return nil
}
