package core

import (
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/state"
	"context"
	"errors"

	"github.com/google/uuid"
)

// LiquidationResult describes a liquidate call. Reward is zero when the
// target was healthy or already liquidated.
type LiquidationResult struct {
	Liquidated bool
	Reason     state.LiquidationReason
	Reward     int64
}

// Liquidate flags target as liquidated when its available collateral is
// below the live minimum, or when the repay window closed with the target
// not having repaid. The caller receives the liquidation reward in the
// target's deposited asset.
func (e *Engine) Liquidate(ctx context.Context, target, caller uuid.UUID) (LiquidationResult, error) {
	var result LiquidationResult
	var side state.Side
	var rewardAsset ledger.AssetID
	err := e.apply(ctx, "liquidate", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, caller); err != nil {
			return err
		}
		p, dir, err := e.participantSide(o, target)
		if errors.Is(err, ErrNotParticipant) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.IsLiquidated {
			return nil
		}
		if cfg.SpotRate == 0 {
			return ErrNearLegNotExecuted
		}

		price, err := e.livePrice(o)
		if err != nil {
			return err
		}
		decision := e.liquidations.Evaluate(p, dir, cfg.SpotRate, cfg.ForwardRate, price, cfg.Schedule().MaxTimeReached(o.now))
		if !decision.Liquidate {
			return nil
		}

		own, err := o.rec.aggregate(ctx, dir.Own)
		if err != nil {
			return err
		}
		asset := cfg.Asset(dir.Own).ID
		p.IsLiquidated = true
		if decision.Reward > 0 {
			o.transfer(ledger.NewEscrowAccountKey(asset), ledger.NewHolderAccountKey(caller, asset),
				asset, decision.Reward, ledger.JournalTypeLiquidationReward)
			p.WithdrawnCollateral += decision.Reward
			own.WithdrawnCollateral += decision.Reward
		}

		if err := o.rec.putParticipant(p); err != nil {
			return err
		}
		if err := o.rec.putAggregate(dir.Own, own); err != nil {
			return err
		}

		side, rewardAsset = dir.Own, asset
		result = LiquidationResult{Liquidated: true, Reason: decision.Reason, Reward: decision.Reward}
		o.event = &event.Liquidated{
			Participant:   target,
			Liquidator:    caller,
			Asset:         string(asset),
			Reason:        decision.Reason.String(),
			MinCollateral: decision.MinCollateral,
			Available:     decision.Available,
			Reward:        decision.Reward,
			Price:         price,
		}
		return nil
	})
	if err == nil && result.Liquidated {
		if e.metrics != nil {
			e.metrics.Liquidations.WithLabelValues(side.String(), result.Reason.String()).Inc()
			e.metrics.LiquidationRewards.WithLabelValues(string(rewardAsset)).Add(float64(result.Reward))
		}
		e.logger.Info().
			Str("participant", target.String()).
			Str("liquidator", caller.String()).
			Str("reason", result.Reason.String()).
			Int64("reward", result.Reward).
			Msg("participant liquidated")
	}
	return result, err
}
