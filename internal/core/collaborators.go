package core

import (
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/oracle"
	"context"

	"github.com/google/uuid"
)

// Clock supplies ledger time in unix seconds.
type Clock interface {
	Now() int64
}

// Oracle reports the live assetA/assetB price scaled by 1e14.
type Oracle interface {
	SpotPrice(ctx context.Context, assetA, assetB string) (oracle.PriceData, error)
}

// Custody moves tokens between holders and the escrow. Transfer executes
// every leg or none.
type Custody interface {
	Transfer(ctx context.Context, legs ...ledger.TransferLeg) error
}

// Authorizer confirms the request was made on behalf of id.
type Authorizer interface {
	RequireAuthorization(ctx context.Context, id uuid.UUID) error
}

type requestKey struct{}

// WithRequestKey tags ctx with the client idempotency key. The engine
// stamps it on the emitted envelope.
func WithRequestKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, requestKey{}, key)
}

func requestKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(requestKey{}).(string)
	return key
}
