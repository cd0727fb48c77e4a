package state

import "github.com/google/uuid"

// ComputeUsedDeposit walks the own-side entries in insertion order,
// accumulating each valid slot's value in counterpart units. The walk stops
// once the accumulator covers counterTotal. When the participant owns the
// crossing slot, the surplus converted back to own units is shaved off.
//
// Invalid entries neither contribute value nor credit their owner.
func ComputeUsedDeposit(
	participant uuid.UUID,
	entries []PositionEntry,
	slotAmount int64,
	counterTotal int64,
	spot int64,
	dir Direction,
) int64 {
	base := dir.ToCounter(slotAmount, spot)

	var used, acc int64
	for _, entry := range entries {
		if !entry.Valid {
			continue
		}
		acc += base
		if entry.Participant == participant {
			used += slotAmount
			if acc >= counterTotal {
				surplus := dir.ToOwn(acc-counterTotal, spot)
				return max(used-surplus, 0)
			}
		}
		if acc >= counterTotal {
			return used
		}
	}
	return used
}
