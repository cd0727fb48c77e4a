package custody

import (
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/observability"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryBank is an in-process custody backend. Holders and the escrow keep
// per-asset balances in a double-entry tracker; every Transfer call is one
// journal batch applied all-or-nothing.
type MemoryBank struct {
	mu        sync.Mutex
	tracker   *ledger.BalanceTracker
	generator *ledger.JournalGenerator
	batches   []*ledger.Batch
	seq       int64
	metrics   *observability.Metrics
}

func NewMemoryBank(metrics *observability.Metrics) *MemoryBank {
	tracker := ledger.NewBalanceTracker()
	return &MemoryBank{
		tracker:   tracker,
		generator: ledger.NewJournalGenerator(tracker),
		metrics:   metrics,
	}
}

// Mint credits holder from the issuance account.
func (b *MemoryBank) Mint(holder uuid.UUID, asset ledger.AssetID, amount int64) error {
	return b.Transfer(context.Background(), ledger.TransferLeg{
		From:   ledger.NewExternalAccountKey(asset),
		To:     ledger.NewHolderAccountKey(holder, asset),
		Asset:  asset,
		Amount: amount,
		Type:   ledger.JournalTypeIssuance,
	})
}

// Transfer executes every leg or none. An overdraft on any paying account
// fails the whole call with *ledger.InsufficientBalanceError.
func (b *MemoryBank) Transfer(ctx context.Context, legs ...ledger.TransferLeg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch, err := b.generator.Generate(fmt.Sprintf("custody:%d", b.seq+1), b.seq+1, 0, legs)
	if err != nil {
		return err
	}
	if len(batch.Journals) == 0 {
		return nil
	}
	if err := b.tracker.ApplyBatch(batch); err != nil {
		return err
	}

	b.seq++
	b.batches = append(b.batches, batch)

	if b.metrics != nil {
		for _, j := range batch.Journals {
			b.metrics.CustodyLegs.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	return nil
}

// Balance returns a holder's balance of asset.
func (b *MemoryBank) Balance(holder uuid.UUID, asset ledger.AssetID) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.HolderBalance(holder, asset)
}

// EscrowBalance returns what the bank holds in escrow for asset.
func (b *MemoryBank) EscrowBalance(asset ledger.AssetID) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.EscrowBalance(asset)
}

// Batches returns the number of applied batches.
func (b *MemoryBank) Batches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

// GlobalBalance returns the per-asset sum over all accounts, which is
// always zero for a consistent bank.
func (b *MemoryBank) GlobalBalance() map[ledger.AssetID]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.ComputeGlobalBalance()
}
