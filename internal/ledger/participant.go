package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Counters are the cumulative settlement counters shared by participant
// records and asset aggregates. All of them only grow.
type Counters struct {
	DepositedAmount     int64 `json:"deposited_amount"`
	Collateral          int64 `json:"collateral"`
	SwappedAmount       int64 `json:"swapped_amount"`
	ReturnedAmount      int64 `json:"returned_amount"`
	WithdrawnAmount     int64 `json:"withdrawn_amount"`
	ReclaimedAmount     int64 `json:"reclaimed_amount"`
	WithdrawnCollateral int64 `json:"withdrawn_collateral"`
}

func (c Counters) validateNonNegative(owner string) error {
	fields := []struct {
		name  string
		value int64
	}{
		{"deposited_amount", c.DepositedAmount},
		{"collateral", c.Collateral},
		{"swapped_amount", c.SwappedAmount},
		{"returned_amount", c.ReturnedAmount},
		{"withdrawn_amount", c.WithdrawnAmount},
		{"reclaimed_amount", c.ReclaimedAmount},
		{"withdrawn_collateral", c.WithdrawnCollateral},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("%s has negative %s: %d", owner, f.name, f.value)
		}
	}
	return nil
}

// Participant is the per-identity settlement record.
//
// DepositedAmount, Collateral, ReclaimedAmount, WithdrawnAmount and
// WithdrawnCollateral are in the deposited asset. SwappedAmount and
// ReturnedAmount are in the counterpart asset, as are CompensatedAmount and
// CompensatedCollateral (paid at withdraw when the deposited asset ran short).
// CompensatedValue is the deposited-asset credit given for that compensation.
type Participant struct {
	Identity       uuid.UUID `json:"identity"`
	DepositedAsset AssetID   `json:"deposited_asset"`
	Counters
	CompensatedAmount     int64 `json:"compensated_amount"`
	CompensatedCollateral int64 `json:"compensated_collateral"`
	CompensatedValue      int64 `json:"compensated_value"`
	IsLiquidated          bool  `json:"is_liquidated"`
}

func NewParticipant(identity uuid.UUID, asset AssetID) *Participant {
	return &Participant{
		Identity:       identity,
		DepositedAsset: asset,
	}
}

// AvailableCollateral is collateral not yet paid out.
func (p *Participant) AvailableCollateral() int64 {
	return p.Collateral - p.WithdrawnCollateral
}

// CreditedWithdrawal is everything credited at withdraw, in deposited-asset units.
func (p *Participant) CreditedWithdrawal() int64 {
	return p.WithdrawnAmount + p.CompensatedValue
}

// Validate checks that no counter went negative.
func (p *Participant) Validate() error {
	if err := p.Counters.validateNonNegative("participant " + p.Identity.String()); err != nil {
		return err
	}
	if p.CompensatedAmount < 0 || p.CompensatedCollateral < 0 || p.CompensatedValue < 0 {
		return fmt.Errorf("participant %s has negative compensation counters", p.Identity)
	}
	return nil
}
