package ingestion

import (
	"FXSwapLedger/internal/auth"
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/oracle"
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PriceSink accepts streamed quotes. *oracle.Feed implements it.
type PriceSink interface {
	Apply(u oracle.Update) (bool, error)
}

// Liquidator runs keeper liquidations. *core.Engine implements it.
type Liquidator interface {
	Liquidate(ctx context.Context, target, caller uuid.UUID) (core.LiquidationResult, error)
}

// TokenVerifier resolves a keeper token to its identity.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Dispatcher decodes inbound messages and routes them to the price feed
// or the engine, acknowledging each according to the outcome.
type Dispatcher struct {
	prices     PriceSink
	liquidator Liquidator
	tokens     TokenVerifier
	logger     zerolog.Logger
}

func NewDispatcher(prices PriceSink, liquidator Liquidator, tokens TokenVerifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		prices:     prices,
		liquidator: liquidator,
		tokens:     tokens,
		logger:     logger,
	}
}

// Run handles messages until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one message. Malformed or unauthenticated messages are
// terminated, business rejections are acknowledged, and infrastructure
// failures are NAKed for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, raw RawEvent) {
	msg, err := ParseRawEvent(raw)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed message")
		call(raw.TermFunc)
		return
	}

	switch m := msg.(type) {
	case PriceQuote:
		accepted, err := d.prices.Apply(m.Update)
		if err != nil {
			d.logger.Warn().Err(err).Str("pair", oracle.PairKey(m.AssetA, m.AssetB)).Msg("rejected price update")
			call(raw.TermFunc)
			return
		}
		if !accepted {
			d.logger.Debug().Int64("sequence", m.Sequence).Msg("ignored stale price update")
		}
		call(raw.AckFunc)

	case LiquidationRequest:
		keeper, err := d.tokens.Verify(m.Token)
		if err != nil {
			d.logger.Warn().Err(err).Str("target", m.Target.String()).Msg("liquidation request with invalid keeper token")
			call(raw.TermFunc)
			return
		}
		opCtx := core.WithRequestKey(auth.WithIdentity(ctx, keeper), m.RequestID)
		res, err := d.liquidator.Liquidate(opCtx, m.Target, keeper)
		switch {
		case err == nil:
			d.logger.Info().
				Str("target", m.Target.String()).
				Str("keeper", keeper.String()).
				Bool("liquidated", res.Liquidated).
				Int64("reward", res.Reward).
				Msg("keeper liquidation processed")
			call(raw.AckFunc)
		case core.CodeOf(err) != 0 && !errors.Is(err, core.ErrInvariantViolation):
			d.logger.Info().Err(err).Int("code", core.CodeOf(err)).Str("target", m.Target.String()).Msg("keeper liquidation rejected")
			call(raw.AckFunc)
		default:
			d.logger.Error().Err(err).Str("target", m.Target.String()).Msg("keeper liquidation failed")
			call(raw.NakFunc)
		}
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
