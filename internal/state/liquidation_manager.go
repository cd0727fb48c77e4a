package state

import (
	"FXSwapLedger/internal/ledger"
)

// LiquidationReason explains why a participant was liquidated.
type LiquidationReason int32

const (
	LiquidationReasonNone LiquidationReason = iota
	LiquidationReasonUndercollateralized
	LiquidationReasonExpiredUnrepaid
)

func (r LiquidationReason) String() string {
	switch r {
	case LiquidationReasonNone:
		return "None"
	case LiquidationReasonUndercollateralized:
		return "Undercollateralized"
	case LiquidationReasonExpiredUnrepaid:
		return "ExpiredUnrepaid"
	default:
		return "Unknown"
	}
}

// LiquidationDecision is the outcome of evaluating one participant.
type LiquidationDecision struct {
	Liquidate     bool
	Reason        LiquidationReason
	MinCollateral int64
	Available     int64
	Reward        int64
}

// LiquidationManager decides liquidations. It never mutates records; the
// caller applies the decision.
type LiquidationManager struct {
	margin *MarginCalculator
}

func NewLiquidationManager(mc *MarginCalculator) *LiquidationManager {
	return &LiquidationManager{margin: mc}
}

// Evaluate checks p against the live price. An already liquidated
// participant is never liquidated again.
func (lm *LiquidationManager) Evaluate(
	p *ledger.Participant,
	dir Direction,
	originalSpot, forward, currentSpot int64,
	maxTimeReached bool,
) LiquidationDecision {
	if p.IsLiquidated {
		return LiquidationDecision{}
	}

	decision := LiquidationDecision{
		MinCollateral: lm.margin.MinCollateral(dir, p.SwappedAmount, originalSpot, forward, currentSpot),
		Available:     p.AvailableCollateral(),
	}

	switch {
	case decision.MinCollateral > decision.Available:
		decision.Reason = LiquidationReasonUndercollateralized
	case maxTimeReached && p.SwappedAmount >= p.ReturnedAmount:
		decision.Reason = LiquidationReasonExpiredUnrepaid
	default:
		return decision
	}

	decision.Liquidate = true
	decision.Reward = lm.margin.LiquidationReward(decision.Available)
	return decision
}
