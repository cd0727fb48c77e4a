package event

import "github.com/google/uuid"

// Initialized records the contract configuration.
type Initialized struct {
	Admin       uuid.UUID `json:"admin"`
	AssetA      string    `json:"asset_a"`
	AssetB      string    `json:"asset_b"`
	ForwardRate int64     `json:"forward_rate"`
	SetupRate   int64     `json:"setup_rate"`
	Maturity    int64     `json:"maturity"`
	InitTime    int64     `json:"init_time"`
}

func (e *Initialized) EventType() EventType { return EventTypeInitialized }
func (e *Initialized) Subject() uuid.UUID   { return uuid.Nil }

type PositionsInitialized struct {
	SlotsA      int64 `json:"slots_a"`
	SlotsB      int64 `json:"slots_b"`
	SlotAmountA int64 `json:"slot_amount_a"`
	SlotAmountB int64 `json:"slot_amount_b"`
}

func (e *PositionsInitialized) EventType() EventType { return EventTypePositionsInitialized }
func (e *PositionsInitialized) Subject() uuid.UUID   { return uuid.Nil }

// Deposited carries the request and the participant's cumulative totals.
type Deposited struct {
	Participant     uuid.UUID `json:"participant"`
	Asset           string    `json:"asset"`
	Amount          int64     `json:"amount"`
	Collateral      int64     `json:"collateral"`
	SlotIndex       int64     `json:"slot_index"` // -1 for collateral-only deposits
	TotalDeposited  int64     `json:"total_deposited"`
	TotalCollateral int64     `json:"total_collateral"`
}

func (e *Deposited) EventType() EventType { return EventTypeDeposited }
func (e *Deposited) Subject() uuid.UUID   { return e.Participant }

type NearLegExecuted struct {
	SpotRate       int64 `json:"spot_rate"`
	PriceTimestamp int64 `json:"price_timestamp"`
}

func (e *NearLegExecuted) EventType() EventType { return EventTypeNearLegExecuted }
func (e *NearLegExecuted) Subject() uuid.UUID   { return uuid.Nil }

// SpotRateSet is an administrative override of the spot rate.
type SpotRateSet struct {
	Admin    uuid.UUID `json:"admin"`
	Previous int64     `json:"previous"`
	SpotRate int64     `json:"spot_rate"`
}

func (e *SpotRateSet) EventType() EventType { return EventTypeSpotRateSet }
func (e *SpotRateSet) Subject() uuid.UUID   { return uuid.Nil }

type Swapped struct {
	Participant  uuid.UUID `json:"participant"`
	Asset        string    `json:"asset"` // asset paid out
	UsedDeposit  int64     `json:"used_deposit"`
	Transferred  int64     `json:"transferred"`
	TotalSwapped int64     `json:"total_swapped"`
}

func (e *Swapped) EventType() EventType { return EventTypeSwapped }
func (e *Swapped) Subject() uuid.UUID   { return e.Participant }

type Repaid struct {
	Participant   uuid.UUID `json:"participant"`
	Asset         string    `json:"asset"`
	Amount        int64     `json:"amount"`
	TotalReturned int64     `json:"total_returned"`
	TotalOwed     int64     `json:"total_owed"`
}

func (e *Repaid) EventType() EventType { return EventTypeRepaid }
func (e *Repaid) Subject() uuid.UUID   { return e.Participant }

// Withdrawn records both legs of a withdrawal. Compensation fields are the
// counterpart-asset top-up paid when the own asset ran short.
type Withdrawn struct {
	Participant            uuid.UUID `json:"participant"`
	AmountA                int64     `json:"amount_a"`
	AmountB                int64     `json:"amount_b"`
	Primary                int64     `json:"primary"`
	CompensationReturned   int64     `json:"compensation_returned"`
	CompensationCollateral int64     `json:"compensation_collateral"`
}

func (e *Withdrawn) EventType() EventType { return EventTypeWithdrawn }
func (e *Withdrawn) Subject() uuid.UUID   { return e.Participant }

type Reclaimed struct {
	Participant uuid.UUID `json:"participant"`
	Asset       string    `json:"asset"`
	Amount      int64     `json:"amount"`
	UsedDeposit int64     `json:"used_deposit"`
}

func (e *Reclaimed) EventType() EventType { return EventTypeReclaimed }
func (e *Reclaimed) Subject() uuid.UUID   { return e.Participant }

type CollateralReclaimed struct {
	Participant   uuid.UUID `json:"participant"`
	Asset         string    `json:"asset"`
	Amount        int64     `json:"amount"`
	MinCollateral int64     `json:"min_collateral"`
}

func (e *CollateralReclaimed) EventType() EventType { return EventTypeCollateralReclaimed }
func (e *CollateralReclaimed) Subject() uuid.UUID   { return e.Participant }

type Liquidated struct {
	Participant   uuid.UUID `json:"participant"`
	Liquidator    uuid.UUID `json:"liquidator"`
	Asset         string    `json:"asset"`
	Reason        string    `json:"reason"`
	MinCollateral int64     `json:"min_collateral"`
	Available     int64     `json:"available"`
	Reward        int64     `json:"reward"`
	Price         int64     `json:"price"`
}

func (e *Liquidated) EventType() EventType { return EventTypeLiquidated }
func (e *Liquidated) Subject() uuid.UUID   { return e.Participant }

type AdminTransferred struct {
	Admin     uuid.UUID `json:"admin"`
	Recipient uuid.UUID `json:"recipient"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
}

func (e *AdminTransferred) EventType() EventType { return EventTypeAdminTransferred }
func (e *AdminTransferred) Subject() uuid.UUID   { return e.Recipient }
