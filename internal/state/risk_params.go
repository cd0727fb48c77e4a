package state

import "fmt"

// RiskParams are the collateral rules of a swap. Percentages are whole
// percents (20 = 20%).
type RiskParams struct {
	CollateralBuffer     int64 // minimum collateral, and compensation cap, as % of principal
	LiquidationThreshold int64 // % applied to the mark-to-market shortfall
	LiquidationReward    int64 // % of available collateral paid to the liquidator
	DustThreshold        int64 // reclaims at or below this are not transferred
}

var DefaultRiskParams = RiskParams{
	CollateralBuffer:     20,
	LiquidationThreshold: 125,
	LiquidationReward:    1,
	DustThreshold:        9,
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// buffer in (0, 100], threshold >= 100, reward in [0, 100], dust >= 0.
func ValidateRiskParams(params RiskParams) error {
	if params.CollateralBuffer <= 0 || params.CollateralBuffer > 100 {
		return fmt.Errorf("collateral_buffer must be in (0, 100], got %d", params.CollateralBuffer)
	}
	if params.LiquidationThreshold < 100 {
		return fmt.Errorf("liquidation_threshold must be >= 100, got %d", params.LiquidationThreshold)
	}
	if params.LiquidationReward < 0 || params.LiquidationReward > 100 {
		return fmt.Errorf("liquidation_reward must be in [0, 100], got %d", params.LiquidationReward)
	}
	if params.DustThreshold < 0 {
		return fmt.Errorf("dust_threshold must be >= 0, got %d", params.DustThreshold)
	}
	return nil
}
