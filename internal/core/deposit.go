package core

import (
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/state"
	"context"
	"errors"

	"github.com/google/uuid"
)

// DepositResult holds the participant's cumulative totals.
type DepositResult struct {
	Deposited  int64
	Collateral int64
}

// Deposit funds one slot and/or adds collateral. Before the near leg a
// non-zero amount must equal the slot amount of the asset's pool; after it
// only collateral is accepted. Every deposit must carry collateral covering
// the buffer on amount.
func (e *Engine) Deposit(ctx context.Context, participant uuid.UUID, asset ledger.AssetID, amount, collateral int64) (DepositResult, error) {
	var result DepositResult
	err := e.apply(ctx, "deposit", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, participant); err != nil {
			return err
		}
		side, ok := cfg.SideOf(asset)
		if !ok {
			return ErrInvalidToken
		}
		if amount < 0 || collateral < 0 {
			return ErrInvalidAmount
		}
		if collateral < e.margin.RequiredDepositCollateral(amount) {
			return ErrInsufficientCollateral
		}

		nearLeg := cfg.Schedule().StageAt(o.now) >= state.StageSwap
		if !nearLeg {
			pool, err := o.positions.GetPool(ctx, side)
			if errors.Is(err, state.ErrPoolNotFound) {
				return ErrPositionsNotInitialized
			}
			if err != nil {
				return err
			}
			if !pool.HasFreeSlot() {
				return ErrAllPositionsAreUsed
			}
			if amount != 0 && amount != pool.SlotAmount {
				return ErrDepositAmountDoesntMatchPosition
			}
		} else if amount != 0 {
			return ErrCollateralOnlyCanBeDeposited
		}

		p, err := o.rec.participant(ctx, participant)
		if err != nil {
			return err
		}
		if p != nil && p.DepositedAsset != asset {
			return ErrDifferentDepositedToken
		}

		agg, err := o.rec.aggregate(ctx, side)
		if err != nil {
			return err
		}
		if p == nil {
			p = ledger.NewParticipant(participant, asset)
			if err := o.rec.addMember(side, agg, participant); err != nil {
				return err
			}
		}

		holder := ledger.NewHolderAccountKey(participant, asset)
		escrow := ledger.NewEscrowAccountKey(asset)

		slotIndex := int64(-1)
		if !nearLeg && amount > 0 {
			slotIndex, err = o.positions.OpenSlot(ctx, side, participant)
			if errors.Is(err, state.ErrPoolFull) {
				return ErrAllPositionsAreUsed
			}
			if err != nil {
				return err
			}
			o.transfer(holder, escrow, asset, amount, ledger.JournalTypeDeposit)
			p.DepositedAmount += amount
			agg.DepositedAmount += amount
			if err := o.positions.ValidateSlot(ctx, side, slotIndex); err != nil {
				return err
			}
		}

		if collateral > 0 {
			o.transfer(holder, escrow, asset, collateral, ledger.JournalTypeCollateral)
			p.Collateral += collateral
			agg.Collateral += collateral
		}

		if err := o.rec.putParticipant(p); err != nil {
			return err
		}
		if err := o.rec.putAggregate(side, agg); err != nil {
			return err
		}

		result = DepositResult{Deposited: p.DepositedAmount, Collateral: p.Collateral}
		o.event = &event.Deposited{
			Participant:     participant,
			Asset:           string(asset),
			Amount:          amount,
			Collateral:      collateral,
			SlotIndex:       slotIndex,
			TotalDeposited:  p.DepositedAmount,
			TotalCollateral: p.Collateral,
		}
		return nil
	})
	return result, err
}

// usedDeposit is the matched part of p's deposit. A participant whose side
// never had pools has nothing matched.
func (e *Engine) usedDeposit(o *op, p *ledger.Participant, dir state.Direction) (int64, error) {
	counter, err := o.rec.aggregate(o.ctx, dir.Counter)
	if err != nil {
		return 0, err
	}
	used, err := o.positions.UsedDeposit(o.ctx, p.Identity, dir, counter.DepositedAmount, o.cfg.SpotRate)
	if errors.Is(err, state.ErrPoolNotFound) {
		return 0, nil
	}
	return used, err
}

// participantSide loads participant and its direction, failing with
// ErrNotParticipant for unknown identities.
func (e *Engine) participantSide(o *op, participant uuid.UUID) (*ledger.Participant, state.Direction, error) {
	p, err := o.rec.participant(o.ctx, participant)
	if err != nil {
		return nil, state.Direction{}, err
	}
	if p == nil {
		return nil, state.Direction{}, ErrNotParticipant
	}
	side, ok := o.cfg.SideOf(p.DepositedAsset)
	if !ok {
		return nil, state.Direction{}, ErrInvalidToken
	}
	return p, state.DirectionFor(side), nil
}
