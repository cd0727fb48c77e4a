package state

import (
	fpmath "FXSwapLedger/internal/math"
	"fmt"
)

// Side names one of the two pools.
type Side uint8

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return "Unknown"
	}
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// ParseSide accepts "A" or "B".
func ParseSide(v string) (Side, error) {
	switch v {
	case "A", "a":
		return SideA, nil
	case "B", "b":
		return SideB, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

// Direction is the own/counterpart view of a participant. All settlement
// arithmetic goes through it so the A and B branches share one code path.
type Direction struct {
	Own     Side
	Counter Side
}

func DirectionFor(own Side) Direction {
	return Direction{Own: own, Counter: own.Other()}
}

// ToCounter converts an own-asset amount into counterpart units at rate.
func (d Direction) ToCounter(amount, rate int64) int64 {
	if d.Own == SideA {
		return fpmath.ConvertAToB(amount, rate)
	}
	return fpmath.ConvertBToA(amount, rate)
}

// ToOwn converts a counterpart amount back into own-asset units at rate.
func (d Direction) ToOwn(amount, rate int64) int64 {
	if d.Own == SideA {
		return fpmath.ConvertBToA(amount, rate)
	}
	return fpmath.ConvertAToB(amount, rate)
}
