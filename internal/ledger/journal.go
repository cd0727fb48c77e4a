package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeCollateral
	JournalTypeSwap
	JournalTypeRepay
	JournalTypeWithdraw
	JournalTypeCompensation
	JournalTypeCompensationCollateral
	JournalTypeReclaim
	JournalTypeCollateralRelease
	JournalTypeLiquidationReward
	JournalTypeAdminTransfer
	JournalTypeIssuance
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeCollateral:
		return "collateral"
	case JournalTypeSwap:
		return "swap"
	case JournalTypeRepay:
		return "repay"
	case JournalTypeWithdraw:
		return "withdraw"
	case JournalTypeCompensation:
		return "compensation"
	case JournalTypeCompensationCollateral:
		return "compensation_collateral"
	case JournalTypeReclaim:
		return "reclaim"
	case JournalTypeCollateralRelease:
		return "collateral_release"
	case JournalTypeLiquidationReward:
		return "liquidation_reward"
	case JournalTypeAdminTransfer:
		return "admin_transfer"
	case JournalTypeIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one operation
	EventRef      string      // Idempotency key of source operation
	Sequence      int64       // Global operation sequence
	DebitAccount  AccountKey  // Account receiving funds (balance increases)
	CreditAccount AccountKey  // Account paying funds (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Always positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Ledger clock, unix seconds
}

// Batch is the set of journal entries produced by one operation
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves a single
// positive amount between two distinct accounts of the same asset.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.AssetID || j.CreditAccount.Asset != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// TotalFor sums the amounts moved in the given asset.
func (b *Batch) TotalFor(asset AssetID) int64 {
	var total int64
	for _, j := range b.Journals {
		if j.AssetID == asset {
			total += j.Amount
		}
	}
	return total
}
