package ingestion

import (
	"FXSwapLedger/internal/math"
	"FXSwapLedger/internal/oracle"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformed marks a message that will never parse; the dispatcher
// terminates it instead of asking for redelivery.
var ErrMalformed = errors.New("malformed message")

// Inbound is a decoded inbound message.
type Inbound interface {
	Kind() string
}

// PriceQuote is one oracle quote from the price feed.
type PriceQuote struct {
	oracle.Update
}

func (PriceQuote) Kind() string { return KindPriceUpdate }

// LiquidationRequest asks the engine to liquidate Target on behalf of the
// keeper that signed Token.
type LiquidationRequest struct {
	RequestID string
	Target    uuid.UUID
	Token     string
}

func (LiquidationRequest) Kind() string { return KindLiquidationRequest }

// ParseRawEvent decodes a RawEvent according to its kind.
func ParseRawEvent(raw RawEvent) (Inbound, error) {
	switch raw.Kind {
	case KindPriceUpdate:
		return parsePriceUpdate(raw.Data)
	case KindLiquidationRequest:
		return parseLiquidationRequest(raw.Data)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, raw.Kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// priceUpdateJSON carries either an integer price at 1e14 scale or a
// decimal rate string, never both.
type priceUpdateJSON struct {
	AssetA      string  `json:"asset_a"`
	AssetB      string  `json:"asset_b"`
	Price       *int64  `json:"price,omitempty"`
	Rate        *string `json:"rate,omitempty"`
	Sequence    int64   `json:"sequence"`
	TimestampUs int64   `json:"timestamp_us"`
}

func parsePriceUpdate(data []byte) (PriceQuote, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceQuote{}, fmt.Errorf("%w: parse PriceUpdate: %v", ErrMalformed, err)
	}
	if j.AssetA == "" || j.AssetB == "" {
		return PriceQuote{}, fmt.Errorf("%w: price update missing asset pair", ErrMalformed)
	}

	var price int64
	switch {
	case j.Price != nil && j.Rate != nil:
		return PriceQuote{}, fmt.Errorf("%w: price update has both price and rate", ErrMalformed)
	case j.Price != nil:
		price = *j.Price
	case j.Rate != nil:
		p, err := math.ParseRate(*j.Rate)
		if err != nil {
			return PriceQuote{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		price = p
	default:
		return PriceQuote{}, fmt.Errorf("%w: price update has no price", ErrMalformed)
	}
	if price <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: non-positive price %d", ErrMalformed, price)
	}
	if j.Sequence <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: price update sequence must be positive", ErrMalformed)
	}

	return PriceQuote{Update: oracle.Update{
		AssetA:    j.AssetA,
		AssetB:    j.AssetB,
		Price:     price,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs / 1_000_000,
	}}, nil
}

type liquidationRequestJSON struct {
	RequestID string `json:"request_id"`
	Target    string `json:"target"`
	Token     string `json:"token"`
}

func parseLiquidationRequest(data []byte) (LiquidationRequest, error) {
	var j liquidationRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return LiquidationRequest{}, fmt.Errorf("%w: parse LiquidationRequest: %v", ErrMalformed, err)
	}
	target, err := uuid.Parse(j.Target)
	if err != nil {
		return LiquidationRequest{}, fmt.Errorf("%w: parse target: %v", ErrMalformed, err)
	}
	if j.Token == "" {
		return LiquidationRequest{}, fmt.Errorf("%w: liquidation request without keeper token", ErrMalformed)
	}
	return LiquidationRequest{
		RequestID: j.RequestID,
		Target:    target,
		Token:     j.Token,
	}, nil
}
