package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// TransferLeg describes one movement before it becomes a journal entry.
type TransferLeg struct {
	From   AccountKey
	To     AccountKey
	Asset  AssetID
	Amount int64
	Type   JournalType
}

// JournalGenerator turns transfer legs into journal batches. When a tracker
// is attached, it pre-checks that every paying account stays non-negative.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{balanceTracker: tracker}
}

// Generate builds one batch from the legs. Zero-amount legs are skipped.
func (jg *JournalGenerator) Generate(
	eventRef string,
	sequence int64,
	timestamp int64,
	legs []TransferLeg,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}

	for _, leg := range legs {
		if leg.Amount == 0 {
			continue
		}
		if leg.Amount < 0 {
			return nil, fmt.Errorf("negative transfer amount %d from %s", leg.Amount, leg.From.AccountPath())
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  leg.To,
			CreditAccount: leg.From,
			AssetID:       leg.Asset,
			Amount:        leg.Amount,
			JournalType:   leg.Type,
			Timestamp:     timestamp,
		})
	}

	if jg.balanceTracker != nil && len(batch.Journals) > 0 {
		if err := jg.balanceTracker.CheckBatch(batch); err != nil {
			return nil, err
		}
	}

	return batch, nil
}
