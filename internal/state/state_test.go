package state_test

import (
	"FXSwapLedger/internal/ledger"
	fpmath "FXSwapLedger/internal/math"
	"FXSwapLedger/internal/state"
	"FXSwapLedger/internal/store"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

var (
	p1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	p2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	p3 = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

// ============================================================================
// Test: Stage resolver
// ============================================================================

func TestSchedule_StageBoundaries(t *testing.T) {
	s := state.Schedule{InitTime: 1_000, Maturity: 500}
	swapStart := s.SwapStart()

	cases := []struct {
		now  int64
		want state.Stage
	}{
		{0, state.StageDeposit},
		{swapStart - 1, state.StageDeposit},
		{swapStart, state.StageSwap},
		{s.RepayStart() - 1, state.StageSwap},
		{s.RepayStart(), state.StageRepay},
		{s.WithdrawStart() - 1, state.StageRepay},
		{s.WithdrawStart(), state.StageWithdraw},
		{s.WithdrawStart() + 1_000_000, state.StageWithdraw},
	}
	for _, c := range cases {
		if got := s.StageAt(c.now); got != c.want {
			t.Errorf("StageAt(%d) = %s, want %s", c.now, got, c.want)
		}
	}
}

func TestSchedule_Offsets(t *testing.T) {
	s := state.Schedule{InitTime: 1_000, Maturity: 500}
	if s.SwapStart() != 1_000+state.TimeToExec {
		t.Errorf("swap start: got %d", s.SwapStart())
	}
	if s.WithdrawStart() != 1_000+state.TimeToExec+500+state.TimeToRepay {
		t.Errorf("withdraw start: got %d", s.WithdrawStart())
	}
	if s.MaxTimeReached(s.WithdrawStart()-1) || !s.MaxTimeReached(s.WithdrawStart()) {
		t.Error("max time boundary is inclusive at withdraw start")
	}
}

// ============================================================================
// Test: Direction
// ============================================================================

func TestDirection_Conversions(t *testing.T) {
	spot := int64(90_000_000_000_000) // 0.9

	a := state.DirectionFor(state.SideA)
	if a.Counter != state.SideB {
		t.Fatalf("counter of A: got %s", a.Counter)
	}
	if got := a.ToCounter(10_000_000, spot); got != 9_000_000 {
		t.Errorf("A to counter: got %d", got)
	}
	if got := a.ToOwn(9_000_000, spot); got != 10_000_000 {
		t.Errorf("A to own: got %d", got)
	}

	b := state.DirectionFor(state.SideB)
	if got := b.ToCounter(9_000_000, spot); got != 10_000_000 {
		t.Errorf("B to counter: got %d", got)
	}
	if got := b.ToOwn(10_000_000, spot); got != 9_000_000 {
		t.Errorf("B to own: got %d", got)
	}
}

func TestParseSide(t *testing.T) {
	if s, err := state.ParseSide("B"); err != nil || s != state.SideB {
		t.Errorf("ParseSide(B) = %v, %v", s, err)
	}
	if _, err := state.ParseSide("C"); err == nil {
		t.Error("expected error for unknown side")
	}
}

// ============================================================================
// Test: Matching
// ============================================================================

func entries(owners ...uuid.UUID) []state.PositionEntry {
	out := make([]state.PositionEntry, len(owners))
	for i, o := range owners {
		out[i] = state.PositionEntry{Index: int64(i), Participant: o, Valid: true}
	}
	return out
}

func TestComputeUsedDeposit_FIFOPartialFill(t *testing.T) {
	dir := state.DirectionFor(state.SideA)
	list := entries(p1, p2)

	if got := state.ComputeUsedDeposit(p1, list, 100, 150, fpmath.Scale, dir); got != 100 {
		t.Errorf("P1 used: got %d, want 100", got)
	}
	if got := state.ComputeUsedDeposit(p2, list, 100, 150, fpmath.Scale, dir); got != 50 {
		t.Errorf("P2 used: got %d, want 50", got)
	}
}

func TestComputeUsedDeposit_LaterSlotsUnmatched(t *testing.T) {
	dir := state.DirectionFor(state.SideA)
	list := entries(p1, p2, p3)

	if got := state.ComputeUsedDeposit(p3, list, 100, 150, fpmath.Scale, dir); got != 0 {
		t.Errorf("P3 used: got %d, want 0", got)
	}
}

func TestComputeUsedDeposit_InvalidEntriesSkipped(t *testing.T) {
	dir := state.DirectionFor(state.SideA)
	list := entries(p1, p2)
	list[0].Valid = false

	if got := state.ComputeUsedDeposit(p1, list, 100, 150, fpmath.Scale, dir); got != 0 {
		t.Errorf("P1 with unfunded slot: got %d, want 0", got)
	}
	if got := state.ComputeUsedDeposit(p2, list, 100, 150, fpmath.Scale, dir); got != 100 {
		t.Errorf("P2 moves up: got %d, want 100", got)
	}
}

func TestComputeUsedDeposit_MultipleSlotsSameParticipant(t *testing.T) {
	dir := state.DirectionFor(state.SideB)
	list := entries(p1, p2, p1)

	// Counter pool covers 2.5 slots
	if got := state.ComputeUsedDeposit(p1, list, 100, 250, fpmath.Scale, dir); got != 150 {
		t.Errorf("P1 used: got %d, want 150", got)
	}
}

func TestComputeUsedDeposit_EmptyCounterPool(t *testing.T) {
	dir := state.DirectionFor(state.SideA)
	if got := state.ComputeUsedDeposit(p1, entries(p1), 100, 0, fpmath.Scale, dir); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestComputeUsedDeposit_FIFOProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "participants")
		slot := rapid.Int64Range(1, 1_000_000).Draw(t, "slot")
		counter := rapid.Int64Range(0, int64(n+2)*slot).Draw(t, "counter")
		dir := state.DirectionFor(state.Side(rapid.IntRange(0, 1).Draw(t, "side")))

		owners := make([]uuid.UUID, n)
		for i := range owners {
			owners[i] = uuid.New()
		}
		list := entries(owners...)

		var total int64
		for i, o := range owners {
			got := state.ComputeUsedDeposit(o, list, slot, counter, fpmath.Scale, dir)
			want := min(max(counter-int64(i)*slot, 0), slot)
			if got != want {
				t.Fatalf("participant %d: got %d, want %d", i, got, want)
			}
			total += got
		}
		if total != min(counter, int64(n)*slot) {
			t.Fatalf("total matched %d, want %d", total, min(counter, int64(n)*slot))
		}
	})
}

// ============================================================================
// Test: PositionManager
// ============================================================================

func TestPositionManager_ArenaOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	pm := state.NewPositionManager(store.Begin(store.NewMemoryStore()))

	if ok, err := pm.Initialized(ctx); err != nil || ok {
		t.Fatalf("fresh store: initialized=%v err=%v", ok, err)
	}
	if err := pm.InitPools(2, 100, 1, 90); err != nil {
		t.Fatalf("init pools: %v", err)
	}

	i1, err := pm.OpenSlot(ctx, state.SideA, p1)
	if err != nil {
		t.Fatalf("open slot 1: %v", err)
	}
	i2, err := pm.OpenSlot(ctx, state.SideA, p2)
	if err != nil {
		t.Fatalf("open slot 2: %v", err)
	}
	if i1 != 0 || i2 != 1 {
		t.Errorf("indices: got %d, %d", i1, i2)
	}
	if _, err := pm.OpenSlot(ctx, state.SideA, p3); !errors.Is(err, state.ErrPoolFull) {
		t.Errorf("expected ErrPoolFull, got %v", err)
	}

	if err := pm.ValidateSlot(ctx, state.SideA, i2); err != nil {
		t.Fatalf("validate: %v", err)
	}

	list, err := pm.Entries(ctx, state.SideA)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(list) != 2 || list[0].Participant != p1 || list[1].Participant != p2 {
		t.Fatalf("unexpected arena: %+v", list)
	}
	if list[0].Valid || !list[1].Valid {
		t.Errorf("validity: got %v, %v", list[0].Valid, list[1].Valid)
	}

	pool, err := pm.GetPool(ctx, state.SideA)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.Used != 2 || pool.HasFreeSlot() {
		t.Errorf("pool after two slots: %+v", pool)
	}
}

func TestPositionManager_UsedDeposit(t *testing.T) {
	ctx := context.Background()
	pm := state.NewPositionManager(store.Begin(store.NewMemoryStore()))
	if err := pm.InitPools(2, 100, 2, 100); err != nil {
		t.Fatalf("init pools: %v", err)
	}
	for _, p := range []uuid.UUID{p1, p2} {
		idx, err := pm.OpenSlot(ctx, state.SideA, p)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := pm.ValidateSlot(ctx, state.SideA, idx); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	got, err := pm.UsedDeposit(ctx, p2, state.DirectionFor(state.SideA), 150, fpmath.Scale)
	if err != nil {
		t.Fatalf("used deposit: %v", err)
	}
	if got != 50 {
		t.Errorf("got %d, want 50", got)
	}
}

func TestPositionManager_MissingPool(t *testing.T) {
	pm := state.NewPositionManager(store.Begin(store.NewMemoryStore()))
	if _, err := pm.OpenSlot(context.Background(), state.SideB, p1); !errors.Is(err, state.ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Margin
// ============================================================================

func TestSlotAmountB(t *testing.T) {
	if got := state.SlotAmountB(100, 50, 100, fpmath.Scale); got != 200 {
		t.Errorf("got %d, want 200", got)
	}
	if got := state.SlotAmountB(10, 3, 100, fpmath.Scale); got != 333 {
		t.Errorf("got %d, want 333", got)
	}
}

func TestMinCollateral_BufferWhenNotUnderwater(t *testing.T) {
	mc := state.NewMarginCalculator(state.DefaultRiskParams)
	spot := int64(90_000_000_000_000)
	fwd := int64(91_000_000_000_000)

	// A depositor swapped 9M B at 0.9, forward 0.91 is underwater only if the
	// live price falls below it
	got := mc.MinCollateral(state.DirectionFor(state.SideA), 9_000_000, spot, fwd, fwd)
	if got != 2_000_000 {
		t.Errorf("got %d, want 2_000_000", got)
	}
}

func TestMinCollateral_Underwater(t *testing.T) {
	mc := state.NewMarginCalculator(state.DefaultRiskParams)
	dir := state.DirectionFor(state.SideA)

	// used 100 A; owes 100 B at forward 1.0; live 0.5 values it at 50 B.
	// mtm 50 B = 100 A at 0.5, * 125% = 125
	got := mc.MinCollateral(dir, 100, fpmath.Scale, fpmath.Scale, fpmath.Scale/2)
	if got != 125 {
		t.Errorf("got %d, want 125", got)
	}
}

func TestMinCollateral_MonotoneInDivergence(t *testing.T) {
	mc := state.NewMarginCalculator(state.DefaultRiskParams)

	rapid.Check(t, func(t *rapid.T) {
		swapped := rapid.Int64Range(0, 1_000_000_000_000).Draw(t, "swapped")
		og := rapid.Int64Range(fpmath.Scale/100, fpmath.Scale*100).Draw(t, "og")
		fwd := rapid.Int64Range(fpmath.Scale/100, fpmath.Scale*100).Draw(t, "fwd")
		s1 := rapid.Int64Range(fpmath.Scale/100, fpmath.Scale*100).Draw(t, "s1")
		s2 := rapid.Int64Range(s1, fpmath.Scale*100).Draw(t, "s2")

		// A side is underwater as the live price falls
		a := state.DirectionFor(state.SideA)
		if mc.MinCollateral(a, swapped, og, fwd, s1) < mc.MinCollateral(a, swapped, og, fwd, s2) {
			t.Fatalf("A side: lower price must not lower the requirement")
		}
		// B side is underwater as the live price rises
		b := state.DirectionFor(state.SideB)
		if mc.MinCollateral(b, swapped, og, fwd, s2) < mc.MinCollateral(b, swapped, og, fwd, s1) {
			t.Fatalf("B side: higher price must not lower the requirement")
		}

		for _, dir := range []state.Direction{a, b} {
			used := dir.ToOwn(swapped, og)
			floor := fpmath.Percentage(used, state.DefaultRiskParams.CollateralBuffer)
			if got := mc.MinCollateral(dir, swapped, og, fwd, s1); got < floor {
				t.Fatalf("requirement %d below buffer %d", got, floor)
			}
		}
	})
}

func TestCompensationCollateralCap(t *testing.T) {
	mc := state.NewMarginCalculator(state.DefaultRiskParams)

	cases := []struct {
		amount, want int64
	}{
		{0, 0},
		{4, 0},
		{5_460_000, 1_092_000},
		{9_100_000, 1_820_000},
	}
	for _, tc := range cases {
		if got := mc.CompensationCollateralCap(tc.amount); got != tc.want {
			t.Errorf("cap(%d): got %d, want %d", tc.amount, got, tc.want)
		}
	}
}

// ============================================================================
// Test: Repay convention
// ============================================================================

func TestRepayObligation_OriginalNumbers(t *testing.T) {
	spot := int64(90_000_000_000_000)
	fwd := int64(91_000_000_000_000)

	if got := state.RepayObligation(state.DirectionFor(state.SideA), 9_000_000, spot, fwd); got != 9_100_000 {
		t.Errorf("A depositor owes %d B, want 9_100_000", got)
	}
	if got := state.RepayObligation(state.DirectionFor(state.SideB), 10_000_000, spot, fwd); got != 10_000_000 {
		t.Errorf("B depositor owes %d A, want 10_000_000", got)
	}
}

func TestRepayObligation_Convention(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		swapped := rapid.Int64Range(0, 1_000_000_000_000).Draw(t, "swapped")
		rate := rapid.Int64Range(fpmath.Scale/100, fpmath.Scale*10).Draw(t, "rate")
		fwd := rapid.Int64Range(fpmath.Scale/100, fpmath.Scale*10).Draw(t, "fwd")

		// B depositors owe back exactly what they received
		if got := state.RepayObligation(state.DirectionFor(state.SideB), swapped, rate, fwd); got != swapped {
			t.Fatalf("B side owes %d, want %d", got, swapped)
		}

		// A depositors at fwd == spot owe what they received, less truncation
		got := state.RepayObligation(state.DirectionFor(state.SideA), swapped, rate, rate)
		slack := rate/fpmath.Scale + 1
		if got > swapped || swapped-got > slack {
			t.Fatalf("A side owes %d for %d swapped at rate %d", got, swapped, rate)
		}
	})
}

// ============================================================================
// Test: Liquidation decision
// ============================================================================

func TestLiquidationManager_Evaluate(t *testing.T) {
	lm := state.NewLiquidationManager(state.NewMarginCalculator(state.DefaultRiskParams))
	dir := state.DirectionFor(state.SideA)

	healthy := ledger.NewParticipant(p1, "A")
	healthy.SwappedAmount = 100
	healthy.Collateral = 20

	d := lm.Evaluate(healthy, dir, fpmath.Scale, fpmath.Scale, fpmath.Scale, false)
	if d.Liquidate {
		t.Errorf("healthy participant liquidated: %+v", d)
	}

	d = lm.Evaluate(healthy, dir, fpmath.Scale, fpmath.Scale, fpmath.Scale/2, false)
	if !d.Liquidate || d.Reason != state.LiquidationReasonUndercollateralized {
		t.Errorf("expected undercollateralized, got %+v", d)
	}
	if d.Reward != 0 { // 1% of 20 truncates
		t.Errorf("reward: got %d, want 0", d.Reward)
	}

	expired := ledger.NewParticipant(p2, "A")
	expired.SwappedAmount = 100
	expired.Collateral = 1_000
	d = lm.Evaluate(expired, dir, fpmath.Scale, fpmath.Scale, fpmath.Scale, true)
	if !d.Liquidate || d.Reason != state.LiquidationReasonExpiredUnrepaid {
		t.Errorf("expected expired, got %+v", d)
	}
	if d.Reward != 10 {
		t.Errorf("reward: got %d, want 10", d.Reward)
	}

	expired.IsLiquidated = true
	if d := lm.Evaluate(expired, dir, fpmath.Scale, fpmath.Scale, fpmath.Scale, true); d.Liquidate || d.Reward != 0 {
		t.Errorf("already liquidated participant evaluated again: %+v", d)
	}
}

func TestValidateRiskParams(t *testing.T) {
	if err := state.ValidateRiskParams(state.DefaultRiskParams); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := state.DefaultRiskParams
	bad.LiquidationThreshold = 90
	if err := state.ValidateRiskParams(bad); err == nil {
		t.Error("threshold below 100 should fail")
	}
}

func TestMarginCalculator_Dust(t *testing.T) {
	mc := state.NewMarginCalculator(state.DefaultRiskParams)
	if mc.ReclaimableAfterDust(9) != 0 || mc.ReclaimableAfterDust(10) != 10 {
		t.Error("dust threshold is inclusive at 9")
	}
}
