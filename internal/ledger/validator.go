package ledger

import (
	"fmt"
	"strings"
)

// ConservationError lists every aggregate counter that disagrees with the
// participant records.
type ConservationError struct {
	Asset      AssetID
	Mismatches []string
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("conservation violated for %s: %s", e.Asset, strings.Join(e.Mismatches, "; "))
}

// InvariantValidator checks ledger invariants
type InvariantValidator struct{}

func NewInvariantValidator() *InvariantValidator {
	return &InvariantValidator{}
}

// ExpectedCounters recomputes an asset's aggregate from participant records.
// Deposit-side counters come from the asset's own depositors. Swapped and
// returned amounts flow in the asset to the other side's depositors, as does
// cross-asset compensation at withdraw.
func ExpectedCounters(asset AssetID, participants []*Participant) Counters {
	var c Counters
	for _, p := range participants {
		if p.DepositedAsset == asset {
			c.DepositedAmount += p.DepositedAmount
			c.Collateral += p.Collateral
			c.ReclaimedAmount += p.ReclaimedAmount
			c.WithdrawnAmount += p.WithdrawnAmount
			c.WithdrawnCollateral += p.WithdrawnCollateral
			continue
		}
		c.SwappedAmount += p.SwappedAmount
		c.ReturnedAmount += p.ReturnedAmount
		c.WithdrawnAmount += p.CompensatedAmount
		c.WithdrawnCollateral += p.CompensatedCollateral
	}
	return c
}

// ValidateConservation verifies aggregate == Σ participants for every counter.
func (v *InvariantValidator) ValidateConservation(agg *AssetAggregate, participants []*Participant) error {
	want := ExpectedCounters(agg.Asset, participants)
	got := agg.Counters

	var mismatches []string
	check := func(name string, g, w int64) {
		if g != w {
			mismatches = append(mismatches, fmt.Sprintf("%s aggregate=%d participants=%d", name, g, w))
		}
	}
	check("deposited_amount", got.DepositedAmount, want.DepositedAmount)
	check("collateral", got.Collateral, want.Collateral)
	check("swapped_amount", got.SwappedAmount, want.SwappedAmount)
	check("returned_amount", got.ReturnedAmount, want.ReturnedAmount)
	check("withdrawn_amount", got.WithdrawnAmount, want.WithdrawnAmount)
	check("reclaimed_amount", got.ReclaimedAmount, want.ReclaimedAmount)
	check("withdrawn_collateral", got.WithdrawnCollateral, want.WithdrawnCollateral)

	var members int64
	for _, p := range participants {
		if p.DepositedAsset == agg.Asset {
			members++
		}
	}
	check("members", agg.Members, members)

	if len(mismatches) > 0 {
		return &ConservationError{Asset: agg.Asset, Mismatches: mismatches}
	}
	return nil
}

// ValidateAggregate checks non-negative counters and escrow coverage.
func (v *InvariantValidator) ValidateAggregate(agg *AssetAggregate) error {
	if err := agg.Counters.validateNonNegative("asset " + string(agg.Asset)); err != nil {
		return err
	}
	if escrowed := agg.Escrowed(); escrowed < 0 {
		return fmt.Errorf("asset %s pays out more than it holds: escrowed=%d", agg.Asset, escrowed)
	}
	return nil
}

// ValidateParticipant checks a single participant record.
func (v *InvariantValidator) ValidateParticipant(p *Participant) error {
	return p.Validate()
}
