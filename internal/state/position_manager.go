package state

import (
	"FXSwapLedger/internal/store"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrPoolNotFound = errors.New("position pool not initialized")
	ErrPoolFull     = errors.New("all positions are used")
)

// PositionManager reads and writes the slot pools and the per-side entry
// arena through a store transaction. Entry i of a side lives at
// position/<side>:<i>; the pool's Used counter is the arena length.
type PositionManager struct {
	tx *store.Tx
}

func NewPositionManager(tx *store.Tx) *PositionManager {
	return &PositionManager{tx: tx}
}

func poolKey(side Side) store.Key {
	return store.NewKey(store.KindPool, side.String())
}

func entryKey(side Side, index int64) store.Key {
	return store.NewKey(store.KindPosition, fmt.Sprintf("%s:%d", side, index))
}

// GetPool returns the pool of side or ErrPoolNotFound.
func (pm *PositionManager) GetPool(ctx context.Context, side Side) (*Pool, error) {
	var pool Pool
	ok, err := pm.tx.Get(ctx, poolKey(side), &pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return &pool, nil
}

// Initialized reports whether both pools exist.
func (pm *PositionManager) Initialized(ctx context.Context) (bool, error) {
	_, err := pm.GetPool(ctx, SideA)
	if errors.Is(err, ErrPoolNotFound) {
		return false, nil
	}
	return err == nil, err
}

// InitPools writes both pools with no used slots.
func (pm *PositionManager) InitPools(limitA, slotA, limitB, slotB int64) error {
	if err := pm.tx.Put(poolKey(SideA), Pool{Side: SideA, Limit: limitA, SlotAmount: slotA}); err != nil {
		return err
	}
	return pm.tx.Put(poolKey(SideB), Pool{Side: SideB, Limit: limitB, SlotAmount: slotB})
}

// OpenSlot appends an invalid entry for participant and consumes a slot.
// The entry only counts for matching once ValidateSlot is called.
func (pm *PositionManager) OpenSlot(ctx context.Context, side Side, participant uuid.UUID) (int64, error) {
	pool, err := pm.GetPool(ctx, side)
	if err != nil {
		return 0, err
	}
	if !pool.HasFreeSlot() {
		return 0, ErrPoolFull
	}

	index := pool.Used
	entry := PositionEntry{Index: index, Participant: participant}
	if err := pm.tx.Put(entryKey(side, index), entry); err != nil {
		return 0, err
	}

	pool.Used++
	if err := pm.tx.Put(poolKey(side), pool); err != nil {
		return 0, err
	}
	return index, nil
}

// ValidateSlot marks entry index of side as funded.
func (pm *PositionManager) ValidateSlot(ctx context.Context, side Side, index int64) error {
	var entry PositionEntry
	ok, err := pm.tx.Get(ctx, entryKey(side, index), &entry)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("position %s:%d not found", side, index)
	}
	entry.Valid = true
	return pm.tx.Put(entryKey(side, index), entry)
}

// Entries returns the arena of side in insertion order.
func (pm *PositionManager) Entries(ctx context.Context, side Side) ([]PositionEntry, error) {
	pool, err := pm.GetPool(ctx, side)
	if errors.Is(err, ErrPoolNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]PositionEntry, 0, pool.Used)
	for i := int64(0); i < pool.Used; i++ {
		var entry PositionEntry
		ok, err := pm.tx.Get(ctx, entryKey(side, i), &entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("position %s:%d missing from arena of %d", side, i, pool.Used)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// UsedDeposit computes how much of participant's deposit on dir.Own is
// matched against counterTotal, the counterpart pool's deposited amount.
func (pm *PositionManager) UsedDeposit(
	ctx context.Context,
	participant uuid.UUID,
	dir Direction,
	counterTotal int64,
	spot int64,
) (int64, error) {
	pool, err := pm.GetPool(ctx, dir.Own)
	if err != nil {
		return 0, err
	}
	entries, err := pm.Entries(ctx, dir.Own)
	if err != nil {
		return 0, err
	}
	return ComputeUsedDeposit(participant, entries, pool.SlotAmount, counterTotal, spot, dir), nil
}
