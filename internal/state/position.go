package state

import (
	"github.com/google/uuid"
)

// Pool is the slot configuration of one asset side.
type Pool struct {
	Side       Side  `json:"side"`
	Limit      int64 `json:"limit"`
	Used       int64 `json:"used"`
	SlotAmount int64 `json:"slot_amount"`
}

// HasFreeSlot reports whether another funded deposit fits.
func (p *Pool) HasFreeSlot() bool {
	return p.Used < p.Limit
}

// Capacity is the value the pool can hold when every slot is funded.
func (p *Pool) Capacity() int64 {
	return p.Limit * p.SlotAmount
}

// PositionEntry is one occupied slot. Entries are append-only and their
// index order is the matching order.
type PositionEntry struct {
	Index       int64     `json:"index"`
	Participant uuid.UUID `json:"participant"`
	Valid       bool      `json:"valid"`
}

// Position is the public view of an entry with its side.
type Position struct {
	Side Side
	PositionEntry
}
