package query

import (
	"FXSwapLedger/internal/ledger"

	"github.com/google/uuid"
)

// BalanceResponse is a participant's settlement record for API queries.
type BalanceResponse struct {
	Participant    uuid.UUID `json:"participant"`
	DepositedAsset string    `json:"deposited_asset"`

	// Ledger counters
	CountersResponse
	CompensatedAmount     int64 `json:"compensated_amount"`
	CompensatedCollateral int64 `json:"compensated_collateral"`
	CompensatedValue      int64 `json:"compensated_value"`
	IsLiquidated          bool  `json:"is_liquidated"`

	// Derived values (computed at query time, NOT stored)
	AvailableCollateral int64 `json:"available_collateral"`
	CreditedWithdrawal  int64 `json:"credited_withdrawal"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

func balanceFrom(p *ledger.Participant, asOf int64) *BalanceResponse {
	return &BalanceResponse{
		Participant:           p.Identity,
		DepositedAsset:        string(p.DepositedAsset),
		CountersResponse:      countersFrom(p.Counters),
		CompensatedAmount:     p.CompensatedAmount,
		CompensatedCollateral: p.CompensatedCollateral,
		CompensatedValue:      p.CompensatedValue,
		IsLiquidated:          p.IsLiquidated,
		AvailableCollateral:   p.AvailableCollateral(),
		CreditedWithdrawal:    p.CreditedWithdrawal(),
		AsOfSequence:          asOf,
	}
}
