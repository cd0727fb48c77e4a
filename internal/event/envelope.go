package event

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialized
	EventTypePositionsInitialized
	EventTypeDeposited
	EventTypeNearLegExecuted
	EventTypeSpotRateSet
	EventTypeSwapped
	EventTypeRepaid
	EventTypeWithdrawn
	EventTypeReclaimed
	EventTypeCollateralReclaimed
	EventTypeLiquidated
	EventTypeAdminTransferred
)

// EventEnvelope wraps every committed operation in the settlement log
type EventEnvelope struct {
	// Monotonic sequence assigned by the engine
	Sequence int64

	// Caller-supplied request key; empty when the caller sent none
	IdempotencyKey string

	EventType EventType

	// Participant the operation acted on (uuid.Nil for contract-level events)
	Participant uuid.UUID

	// Clock reading the operation ran at (unix seconds)
	Timestamp int64

	// JSON-encoded event payload
	Payload []byte

	// SHA-256 chain: StateHash = H(PrevHash || Sequence || digest(writes))
	StateHash [32]byte
	PrevHash  [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	EventType() EventType

	// Subject returns the participant the event concerns, or uuid.Nil
	Subject() uuid.UUID
}

// EncodePayload serializes an event for the envelope.
func EncodePayload(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DedupKey is the key stored in the event log. Requests without a caller key
// fall back to the sequence so the column stays unique.
func (env *EventEnvelope) DedupKey() string {
	if env.IdempotencyKey != "" {
		return env.IdempotencyKey
	}
	return "seq:" + strconv.FormatInt(env.Sequence, 10)
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitialized:
		return "Initialized"
	case EventTypePositionsInitialized:
		return "PositionsInitialized"
	case EventTypeDeposited:
		return "Deposited"
	case EventTypeNearLegExecuted:
		return "NearLegExecuted"
	case EventTypeSpotRateSet:
		return "SpotRateSet"
	case EventTypeSwapped:
		return "Swapped"
	case EventTypeRepaid:
		return "Repaid"
	case EventTypeWithdrawn:
		return "Withdrawn"
	case EventTypeReclaimed:
		return "Reclaimed"
	case EventTypeCollateralReclaimed:
		return "CollateralReclaimed"
	case EventTypeLiquidated:
		return "Liquidated"
	case EventTypeAdminTransferred:
		return "AdminTransferred"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject suffix for the type ("swapped").
func (et EventType) Subject() string {
	s := et.String()
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
