package core

import (
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/state"
	"context"

	"github.com/google/uuid"
)

// SwapResult reports the counterpart amount paid by this call and in total.
type SwapResult struct {
	Transferred  int64
	TotalSwapped int64
}

// Swap pays out the counterpart value of the participant's matched deposit
// at the spot rate. Repeated calls only pay what was not paid before, so a
// second call after matching settled transfers nothing.
func (e *Engine) Swap(ctx context.Context, participant uuid.UUID) (SwapResult, error) {
	var result SwapResult
	err := e.apply(ctx, "swap", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, participant); err != nil {
			return err
		}
		if cfg.Schedule().StageAt(o.now) != state.StageSwap {
			return ErrWrongStageToSwap
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
		counter, err := o.rec.aggregate(ctx, dir.Counter)
		if err != nil {
			return err
		}

		owed := dir.ToCounter(used, cfg.SpotRate) - p.SwappedAmount
		delta := min(owed, counter.Unswapped())
		result = SwapResult{TotalSwapped: p.SwappedAmount}
		if delta <= 0 {
			return nil
		}

		counterAsset := cfg.Asset(dir.Counter).ID
		o.transfer(ledger.NewEscrowAccountKey(counterAsset), ledger.NewHolderAccountKey(participant, counterAsset),
			counterAsset, delta, ledger.JournalTypeSwap)
		p.SwappedAmount += delta
		counter.SwappedAmount += delta

		if err := o.rec.putParticipant(p); err != nil {
			return err
		}
		if err := o.rec.putAggregate(dir.Counter, counter); err != nil {
			return err
		}

		result = SwapResult{Transferred: delta, TotalSwapped: p.SwappedAmount}
		o.event = &event.Swapped{
			Participant:  participant,
			Asset:        string(counterAsset),
			UsedDeposit:  used,
			Transferred:  delta,
			TotalSwapped: p.SwappedAmount,
		}
		return nil
	})
	return result, err
}

// RepayResult holds the cumulative repayment and the full obligation.
type RepayResult struct {
	TotalReturned int64
	TotalOwed     int64
}

// Repay returns counterpart tokens toward the forward obligation. amount is
// capped at what is still owed.
func (e *Engine) Repay(ctx context.Context, participant uuid.UUID, asset ledger.AssetID, amount int64) (RepayResult, error) {
	var result RepayResult
	err := e.apply(ctx, "repay", func(o *op) error {
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
		if amount < 0 {
			return ErrInvalidAmount
		}
		p, dir, err := e.participantSide(o, participant)
		if err != nil {
			return err
		}
		if p.IsLiquidated {
			return ErrLiquidatedUser
		}
		if side != dir.Counter {
			return ErrWrongRepayToken
		}

		owed := state.RepayObligation(dir, p.SwappedAmount, cfg.SpotRate, cfg.ForwardRate)
		repay := min(amount, owed-p.ReturnedAmount)
		if repay <= 0 {
			return ErrAlreadyRepaid
		}

		counter, err := o.rec.aggregate(ctx, dir.Counter)
		if err != nil {
			return err
		}
		o.transfer(ledger.NewHolderAccountKey(participant, asset), ledger.NewEscrowAccountKey(asset),
			asset, repay, ledger.JournalTypeRepay)
		p.ReturnedAmount += repay
		counter.ReturnedAmount += repay

		if err := o.rec.putParticipant(p); err != nil {
			return err
		}
		if err := o.rec.putAggregate(dir.Counter, counter); err != nil {
			return err
		}

		result = RepayResult{TotalReturned: p.ReturnedAmount, TotalOwed: owed}
		o.event = &event.Repaid{
			Participant:   participant,
			Asset:         string(asset),
			Amount:        repay,
			TotalReturned: p.ReturnedAmount,
			TotalOwed:     owed,
		}
		return nil
	})
	return result, err
}
