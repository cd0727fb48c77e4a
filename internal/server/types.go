package server

import (
	"github.com/google/uuid"
)

// Request bodies. Rates are decimal strings ("0.91"); amounts are integers
// in asset base units. A zero participant defaults to the bearer identity.

type AssetRequest struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

type InitializeRequest struct {
	Admin       uuid.UUID    `json:"admin"`
	AssetA      AssetRequest `json:"asset_a"`
	AssetB      AssetRequest `json:"asset_b"`
	ForwardRate string       `json:"forward_rate"`
	Maturity    int64        `json:"maturity"`
}

type InitPositionsRequest struct {
	SlotsA      int64 `json:"slots_a"`
	SlotsB      int64 `json:"slots_b"`
	SlotAmountA int64 `json:"slot_amount_a"`
}

type DepositRequest struct {
	Participant uuid.UUID `json:"participant"`
	Asset       string    `json:"asset"`
	Amount      int64     `json:"amount"`
	Collateral  int64     `json:"collateral"`
}

type ParticipantRequest struct {
	Participant uuid.UUID `json:"participant"`
}

type RepayRequest struct {
	Participant uuid.UUID `json:"participant"`
	Asset       string    `json:"asset"`
	Amount      int64     `json:"amount"`
}

type LiquidateRequest struct {
	Target uuid.UUID `json:"target"`
}

type SetSpotRequest struct {
	Rate string `json:"rate"`
}

type TransferAdminRequest struct {
	Recipient uuid.UUID `json:"recipient"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
}

// Operation results.

type InitializeResponse struct {
	SetupRate string `json:"setup_rate"`
}

type InitPositionsResponse struct {
	SlotAmountB int64 `json:"slot_amount_b"`
}

type DepositResponse struct {
	Deposited  int64 `json:"deposited"`
	Collateral int64 `json:"collateral"`
}

type NearLegResponse struct {
	SpotRate  string `json:"spot_rate"`
	Timestamp int64  `json:"timestamp"`
}

type SwapResponse struct {
	Transferred  int64 `json:"transferred"`
	TotalSwapped int64 `json:"total_swapped"`
}

type RepayResponse struct {
	TotalReturned int64 `json:"total_returned"`
	TotalOwed     int64 `json:"total_owed"`
}

type WithdrawResponse struct {
	AmountA int64 `json:"amount_a"`
	AmountB int64 `json:"amount_b"`
}

type AmountResponse struct {
	Amount int64 `json:"amount"`
}

type LiquidateResponse struct {
	Liquidated bool   `json:"liquidated"`
	Reason     string `json:"reason"`
	Reward     int64  `json:"reward"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of every failed request. Code is the contract
// error code, 0 for request and infrastructure failures.
type ErrorResponse struct {
	Code   int    `json:"code"`
	Error  string `json:"error"`
	Status string `json:"status"`
}
