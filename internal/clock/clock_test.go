package clock_test

import (
	"FXSwapLedger/internal/clock"
	"testing"
	"time"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	c := clock.NewManual(100)
	if c.Now() != 100 {
		t.Fatalf("got %d, want 100", c.Now())
	}
	if got := c.Advance(50); got != 150 {
		t.Errorf("advance: got %d, want 150", got)
	}
	c.Set(10)
	if c.Now() != 10 {
		t.Errorf("set: got %d, want 10", c.Now())
	}
}

func TestSystem_Now(t *testing.T) {
	before := time.Now().Unix()
	got := clock.System{}.Now()
	if got < before || got > time.Now().Unix() {
		t.Errorf("system clock %d outside [%d, now]", got, before)
	}
}
