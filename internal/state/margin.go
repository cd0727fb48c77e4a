package state

import (
	fpmath "FXSwapLedger/internal/math"
)

// MarginCalculator computes collateral requirements and the forward-leg
// obligations that depend on them.
type MarginCalculator struct {
	params RiskParams
}

func NewMarginCalculator(params RiskParams) *MarginCalculator {
	return &MarginCalculator{params: params}
}

func (mc *MarginCalculator) Params() RiskParams {
	return mc.params
}

// RequiredDepositCollateral is the collateral a deposit of amount must carry.
func (mc *MarginCalculator) RequiredDepositCollateral(amount int64) int64 {
	return fpmath.Percentage(amount, mc.params.CollateralBuffer)
}

// CompensationCollateralCap bounds how much collateral may top up a
// cross-asset compensation of amount.
func (mc *MarginCalculator) CompensationCollateralCap(amount int64) int64 {
	return fpmath.Percentage(amount, mc.params.CollateralBuffer)
}

// MinCollateral is the margin a participant must keep, in own units.
//
// swapped is what the participant received at the near leg (counterpart
// units). It is valued back in own units at the original spot, then
// compared between the forward commitment and the current price. When the
// forward commitment is worth more, the shortfall converted at the current
// price and scaled by the liquidation threshold applies, floored at the
// collateral buffer.
func (mc *MarginCalculator) MinCollateral(dir Direction, swapped, originalSpot, forward, currentSpot int64) int64 {
	used := dir.ToOwn(swapped, originalSpot)
	toReturn := dir.ToCounter(used, forward)
	current := dir.ToCounter(used, currentSpot)
	bufferMin := fpmath.Percentage(used, mc.params.CollateralBuffer)

	if toReturn <= current {
		return bufferMin
	}
	mtm := dir.ToOwn(toReturn-current, currentSpot)
	return max(fpmath.Percentage(mtm, mc.params.LiquidationThreshold), bufferMin)
}

// LiquidationReward is the liquidator's share of available collateral.
func (mc *MarginCalculator) LiquidationReward(available int64) int64 {
	return fpmath.Percentage(available, mc.params.LiquidationReward)
}

// ReclaimableAfterDust floors amounts at or below the dust threshold to 0.
func (mc *MarginCalculator) ReclaimableAfterDust(amount int64) int64 {
	if amount <= mc.params.DustThreshold {
		return 0
	}
	return amount
}

// RepayObligation is what a participant must repay, in counterpart units.
//
// The obligation is fixed in Asset-A notional. An A depositor received B
// worth b_to_a(swapped, spot) of A and owes that notional converted at the
// forward rate in B. A B depositor received swapped units of A and owes them
// back in A.
func RepayObligation(dir Direction, swapped, spot, forward int64) int64 {
	if dir.Own == SideA {
		notionalA := fpmath.ConvertBToA(swapped, spot)
		return fpmath.ConvertAToB(notionalA, forward)
	}
	return swapped
}

// ExpectedWithdrawal is the own-asset value of what a participant repaid,
// at the forward rate.
func ExpectedWithdrawal(dir Direction, returned, forward int64) int64 {
	return dir.ToOwn(returned, forward)
}

// SlotAmountB sizes pool B so both pools hold equal value at setupRate:
// a_to_b(slotsA * slotAmountA / slotsB, setupRate).
func SlotAmountB(slotsA, slotsB, slotAmountA, setupRate int64) int64 {
	if slotsB <= 0 {
		return 0
	}
	perSlotA := fpmath.MulDiv(slotsA, slotAmountA, slotsB, fpmath.RoundDown)
	return fpmath.ConvertAToB(perSlotA, setupRate)
}
