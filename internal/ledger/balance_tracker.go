package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// InsufficientBalanceError reports an account that a batch would overdraw.
type InsufficientBalanceError struct {
	Account   string
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: have=%d, need=%d", e.Account, e.Balance, e.Requested)
}

// BalanceTracker maintains in-memory account balances.
// Not thread-safe; callers serialize access.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// CheckBatch verifies the batch is valid and that no non-external account
// would end up negative. Legs are netted per account first.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	outflow := make(map[AccountKey]int64)
	for _, j := range batch.Journals {
		outflow[j.CreditAccount] += j.Amount
		outflow[j.DebitAccount] -= j.Amount
	}

	keys := make([]AccountKey, 0, len(outflow))
	for k := range outflow {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].AccountPath() < keys[j].AccountPath() })

	for _, key := range keys {
		net := outflow[key]
		if net <= 0 || key.CanGoNegative() {
			continue
		}
		if have := bt.balances[key]; have < net {
			return &InsufficientBalanceError{Account: key.AccountPath(), Balance: have, Requested: net}
		}
	}
	return nil
}

// ApplyBatch applies all journals in a batch, or none of them.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.CheckBatch(batch); err != nil {
		return err
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

func (bt *BalanceTracker) HolderBalance(holder uuid.UUID, asset AssetID) int64 {
	return bt.GetBalance(NewHolderAccountKey(holder, asset))
}

func (bt *BalanceTracker) EscrowBalance(asset AssetID) int64 {
	return bt.GetBalance(NewEscrowAccountKey(asset))
}

// ComputeGlobalBalance sums all account balances per asset; zero for a closed ledger.
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.Asset] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 && !key.CanGoNegative() {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	out := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		out[k] = v
	}
	return out
}
