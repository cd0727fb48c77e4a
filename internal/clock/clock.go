package clock

import (
	"sync/atomic"
	"time"
)

// System reads wall-clock unix seconds.
type System struct{}

func (System) Now() int64 {
	return time.Now().Unix()
}

// Manual is a clock advanced explicitly. Safe for concurrent use.
type Manual struct {
	now atomic.Int64
}

func NewManual(start int64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

func (m *Manual) Now() int64 {
	return m.now.Load()
}

func (m *Manual) Set(now int64) {
	m.now.Store(now)
}

// Advance moves the clock forward by d seconds and returns the new time.
func (m *Manual) Advance(d int64) int64 {
	return m.now.Add(d)
}
