package core

import (
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/state"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// WithdrawResult is what this call paid out in each asset.
type WithdrawResult struct {
	AmountA int64
	AmountB int64
}

// Withdraw pays back the own-asset value of everything the participant
// repaid, at the forward rate. When the own asset's repaid liquidity runs
// short, the remainder is paid in the counterpart asset: first from the
// participant's own repaid principal, then from collateral capped at the
// buffer ratio of that principal.
func (e *Engine) Withdraw(ctx context.Context, participant uuid.UUID) (WithdrawResult, error) {
	var result WithdrawResult
	err := e.apply(ctx, "withdraw", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, participant); err != nil {
			return err
		}
		if !cfg.Schedule().MaxTimeReached(o.now) {
			return ErrTimeNotReached
		}
		p, dir, err := e.participantSide(o, participant)
		if err != nil {
			return err
		}
		if p.IsLiquidated {
			return ErrLiquidatedUser
		}

		own, err := o.rec.aggregate(ctx, dir.Own)
		if err != nil {
			return err
		}
		counter, err := o.rec.aggregate(ctx, dir.Counter)
		if err != nil {
			return err
		}

		expected := state.ExpectedWithdrawal(dir, p.ReturnedAmount, cfg.ForwardRate) - p.CreditedWithdrawal()
		if expected <= 0 {
			return nil
		}

		primary := max(min(expected, own.AvailableReturned()), 0)
		var fromReturned, fromCollateral int64
		if remaining := expected - primary; remaining > 0 {
			expectedCounter := dir.ToCounter(remaining, cfg.ForwardRate)
			usedReturned := dir.ToCounter(primary, cfg.ForwardRate)
			fromReturned = max(min(p.ReturnedAmount-usedReturned, expectedCounter), 0)
			fromCollateral = max(min(expectedCounter-fromReturned, e.margin.CompensationCollateralCap(fromReturned)), 0)
		}
		if primary == 0 && fromReturned+fromCollateral == 0 {
			return nil
		}

		ownAsset := cfg.Asset(dir.Own).ID
		counterAsset := cfg.Asset(dir.Counter).ID
		if primary > 0 {
			o.transfer(ledger.NewEscrowAccountKey(ownAsset), ledger.NewHolderAccountKey(participant, ownAsset),
				ownAsset, primary, ledger.JournalTypeWithdraw)
			p.WithdrawnAmount += primary
			own.WithdrawnAmount += primary
		}
		if compensation := fromReturned + fromCollateral; compensation > 0 {
			escrow := ledger.NewEscrowAccountKey(counterAsset)
			holder := ledger.NewHolderAccountKey(participant, counterAsset)
			o.transfer(escrow, holder, counterAsset, fromReturned, ledger.JournalTypeCompensation)
			o.transfer(escrow, holder, counterAsset, fromCollateral, ledger.JournalTypeCompensationCollateral)
			p.CompensatedAmount += fromReturned
			p.CompensatedCollateral += fromCollateral
			p.CompensatedValue += dir.ToOwn(compensation, cfg.ForwardRate)
			counter.WithdrawnAmount += fromReturned
			counter.WithdrawnCollateral += fromCollateral
		}

		if err := o.rec.putParticipant(p); err != nil {
			return err
		}
		if err := o.rec.putAggregate(dir.Own, own); err != nil {
			return err
		}
		if err := o.rec.putAggregate(dir.Counter, counter); err != nil {
			return err
		}

		if dir.Own == state.SideA {
			result = WithdrawResult{AmountA: primary, AmountB: fromReturned + fromCollateral}
		} else {
			result = WithdrawResult{AmountA: fromReturned + fromCollateral, AmountB: primary}
		}
		o.event = &event.Withdrawn{
			Participant:            participant,
			AmountA:                result.AmountA,
			AmountB:                result.AmountB,
			Primary:                primary,
			CompensationReturned:   fromReturned,
			CompensationCollateral: fromCollateral,
		}
		return nil
	})
	return result, err
}

// Reclaim returns the unmatched part of the participant's deposit. Amounts
// at or below the dust threshold stay in escrow.
func (e *Engine) Reclaim(ctx context.Context, participant uuid.UUID) (int64, error) {
	var amount int64
	err := e.apply(ctx, "reclaim", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, participant); err != nil {
			return err
		}
		if cfg.Schedule().StageAt(o.now) == state.StageDeposit {
			return ErrTimeNotReached
		}
		if cfg.SpotRate == 0 {
			return ErrNearLegNotExecuted
		}
		p, dir, err := e.participantSide(o, participant)
		if err != nil {
			return err
		}

		used, err := e.usedDeposit(o, p, dir)
		if err != nil {
			return err
		}
		amount = e.margin.ReclaimableAfterDust(p.DepositedAmount - used - p.ReclaimedAmount)
		if amount <= 0 {
			amount = 0
			return nil
		}

		own, err := o.rec.aggregate(ctx, dir.Own)
		if err != nil {
			return err
		}
		asset := cfg.Asset(dir.Own).ID
		o.transfer(ledger.NewEscrowAccountKey(asset), ledger.NewHolderAccountKey(participant, asset),
			asset, amount, ledger.JournalTypeReclaim)
		p.ReclaimedAmount += amount
		own.ReclaimedAmount += amount

		if err := o.rec.putParticipant(p); err != nil {
			return err
		}
		if err := o.rec.putAggregate(dir.Own, own); err != nil {
			return err
		}
		o.event = &event.Reclaimed{Participant: participant, Asset: string(asset), Amount: amount, UsedDeposit: used}
		return nil
	})
	return amount, err
}

// ReclaimCollateral releases collateral above the participant's current
// margin requirement. While the position is open, or after liquidation,
// the requirement is the live minimum collateral.
func (e *Engine) ReclaimCollateral(ctx context.Context, participant uuid.UUID) (int64, error) {
	var amount int64
	err := e.apply(ctx, "reclaim_collateral", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, participant); err != nil {
			return err
		}
		if cfg.Schedule().StageAt(o.now) == state.StageDeposit {
			return ErrTimeNotReached
		}
		if cfg.SpotRate == 0 {
			return ErrNearLegNotExecuted
		}
		p, dir, err := e.participantSide(o, participant)
		if err != nil {
			return err
		}

		used, err := e.usedDeposit(o, p, dir)
		if err != nil {
			return err
		}
		var minCollateral int64
		if used != 0 && (p.IsLiquidated || !cfg.Schedule().MaxTimeReached(o.now)) {
			price, err := e.livePrice(o)
			if err != nil {
				return err
			}
			minCollateral = e.margin.MinCollateral(dir, p.SwappedAmount, cfg.SpotRate, cfg.ForwardRate, price)
		}

		amount = p.Collateral - minCollateral - p.WithdrawnCollateral
		if amount <= 0 {
			amount = 0
			return nil
		}

		own, err := o.rec.aggregate(ctx, dir.Own)
		if err != nil {
			return err
		}
		asset := cfg.Asset(dir.Own).ID
		o.transfer(ledger.NewEscrowAccountKey(asset), ledger.NewHolderAccountKey(participant, asset),
			asset, amount, ledger.JournalTypeCollateralRelease)
		p.WithdrawnCollateral += amount
		own.WithdrawnCollateral += amount

		if err := o.rec.putParticipant(p); err != nil {
			return err
		}
		if err := o.rec.putAggregate(dir.Own, own); err != nil {
			return err
		}
		o.event = &event.CollateralReclaimed{Participant: participant, Asset: string(asset), Amount: amount, MinCollateral: minCollateral}
		return nil
	})
	return amount, err
}

// livePrice queries the oracle for the current A/B price.
func (e *Engine) livePrice(o *op) (int64, error) {
	price, err := e.oracle.SpotPrice(o.ctx, string(o.cfg.AssetA.ID), string(o.cfg.AssetB.ID))
	if err != nil {
		return 0, fmt.Errorf("live price: %w", err)
	}
	if price.Price <= 0 {
		return 0, ErrInvalidRate
	}
	return price.Price, nil
}
