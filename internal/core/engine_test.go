package core_test

import (
	"FXSwapLedger/internal/auth"
	"FXSwapLedger/internal/clock"
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/custody"
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/observability"
	"FXSwapLedger/internal/oracle"
	"FXSwapLedger/internal/state"
	"FXSwapLedger/internal/store"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

const (
	assetA ledger.AssetID = "USDC"
	assetB ledger.AssetID = "EURC"

	rateOne  int64 = 100_000_000_000_000
	spot09   int64 = 90_000_000_000_000
	fwd091   int64 = 91_000_000_000_000
	start    int64 = 1_700_000_000
	maturity int64 = 86_400
)

type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type harness struct {
	engine  *core.Engine
	clock   *clock.Manual
	oracle  *oracle.Static
	bank    *custody.MemoryBank
	store   *store.MemoryStore
	metrics *observability.Metrics
	persist chan core.CoreOutput
	admin   uuid.UUID
	ctx     context.Context
}

func newHarness(t tb, setupRate, forward int64) *harness {
	t.Helper()
	return newHarnessWith(t, setupRate, forward, nil)
}

func newHarnessWith(t tb, setupRate, forward int64, custodyOverride core.Custody) *harness {
	t.Helper()
	return newHarnessOn(t, setupRate, forward, custodyOverride, nil)
}

// newHarnessOn lets wrap interpose on the engine's store.
func newHarnessOn(t tb, setupRate, forward int64, custodyOverride core.Custody, wrap func(store.Store) store.Store) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewManual(start),
		oracle:  oracle.NewStatic(),
		bank:    custody.NewMemoryBank(nil),
		store:   store.NewMemoryStore(),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		persist: make(chan core.CoreOutput, 1024),
		admin:   uuid.New(),
		ctx:     context.Background(),
	}
	h.oracle.SetPrice(string(assetA), string(assetB), setupRate, start)

	var cust core.Custody = h.bank
	if custodyOverride != nil {
		cust = custodyOverride
	}
	var base store.Store = h.store
	if wrap != nil {
		base = wrap(h.store)
	}
	engine, err := core.NewEngine(core.Options{
		Store:            base,
		Clock:            h.clock,
		Oracle:           h.oracle,
		Custody:          cust,
		Authorizer:       auth.AllowAll{},
		VerifyInvariants: true,
		Logger:           zerolog.Nop(),
		Metrics:          h.metrics,
		PersistChan:      h.persist,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine

	if _, err := engine.Initialize(h.ctx, core.InitializeParams{
		Admin:       h.admin,
		AssetA:      core.AssetInfo{ID: assetA, Symbol: "USDC"},
		AssetB:      core.AssetInfo{ID: assetB, Symbol: "EURC"},
		ForwardRate: forward,
		Maturity:    maturity,
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

func (h *harness) initPositions(t tb, slotsA, slotsB, slotAmountA int64) int64 {
	t.Helper()
	slotB, err := h.engine.InitPositions(h.ctx, h.admin, slotsA, slotsB, slotAmountA)
	if err != nil {
		t.Fatalf("init positions: %v", err)
	}
	return slotB
}

func (h *harness) fund(t tb, holder uuid.UUID, asset ledger.AssetID, amount int64) {
	t.Helper()
	if err := h.bank.Mint(holder, asset, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (h *harness) deposit(t tb, p uuid.UUID, asset ledger.AssetID, amount, collateral int64) core.DepositResult {
	t.Helper()
	res, err := h.engine.Deposit(h.ctx, p, asset, amount, collateral)
	if err != nil {
		t.Fatalf("deposit %s %d/%d: %v", asset, amount, collateral, err)
	}
	return res
}

func (h *harness) schedule(t tb) state.Schedule {
	t.Helper()
	cfg, err := h.engine.Config(h.ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg.Schedule()
}

func (h *harness) toSwap(t tb, spot int64) {
	t.Helper()
	h.clock.Set(h.schedule(t).SwapStart())
	h.oracle.SetPrice(string(assetA), string(assetB), spot, h.clock.Now())
	if _, err := h.engine.NearLeg(h.ctx); err != nil {
		t.Fatalf("near leg: %v", err)
	}
}

func (h *harness) toRepay(t tb) {
	t.Helper()
	h.clock.Set(h.schedule(t).RepayStart())
}

func (h *harness) toWithdraw(t tb) {
	t.Helper()
	h.clock.Set(h.schedule(t).WithdrawStart())
}

func (h *harness) verify(t tb) {
	t.Helper()
	if err := h.engine.VerifyConservation(h.ctx); err != nil {
		t.Fatalf("conservation: %v", err)
	}
	tokens, err := h.engine.Tokens(h.ctx)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	for _, agg := range []*ledger.AssetAggregate{tokens.A, tokens.B} {
		if got, want := h.bank.EscrowBalance(agg.Asset), agg.Escrowed(); got != want {
			t.Fatalf("escrow %s: bank holds %d, aggregate says %d", agg.Asset, got, want)
		}
	}
}

func expectCode(t *testing.T, err error, want *core.Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Name, err)
	}
}

// ========================================
// Full lifecycle
// ========================================

// Two counterparties at spot 0.90 and forward 0.91 with pools sized to
// match exactly: every leg settles in full.
func TestEngine_FullLifecycle(t *testing.T) {
	h := newHarness(t, spot09, fwd091)
	if slotB := h.initPositions(t, 2, 2, 10_000_000); slotB != 9_000_000 {
		t.Fatalf("slot B: got %d, want 9000000", slotB)
	}

	alice, bob := uuid.New(), uuid.New()
	h.fund(t, alice, assetA, 12_000_000)
	h.fund(t, alice, assetB, 1_000_000)
	h.fund(t, bob, assetB, 10_800_000)

	if got := h.deposit(t, alice, assetA, 10_000_000, 2_000_000); got != (core.DepositResult{Deposited: 10_000_000, Collateral: 2_000_000}) {
		t.Errorf("alice deposit: got %+v", got)
	}
	if got := h.deposit(t, bob, assetB, 9_000_000, 1_800_000); got != (core.DepositResult{Deposited: 9_000_000, Collateral: 1_800_000}) {
		t.Errorf("bob deposit: got %+v", got)
	}

	h.toSwap(t, spot09)
	swapA, err := h.engine.Swap(h.ctx, alice)
	if err != nil {
		t.Fatalf("swap alice: %v", err)
	}
	if swapA.Transferred != 9_000_000 {
		t.Errorf("alice swap: got %d, want 9000000", swapA.Transferred)
	}
	swapB, err := h.engine.Swap(h.ctx, bob)
	if err != nil {
		t.Fatalf("swap bob: %v", err)
	}
	if swapB.Transferred != 10_000_000 {
		t.Errorf("bob swap: got %d, want 10000000", swapB.Transferred)
	}
	again, err := h.engine.Swap(h.ctx, alice)
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if again.Transferred != 0 || again.TotalSwapped != 9_000_000 {
		t.Errorf("second swap: got %+v", again)
	}

	h.toRepay(t)
	repA, err := h.engine.Repay(h.ctx, alice, assetB, 9_100_000)
	if err != nil {
		t.Fatalf("repay alice: %v", err)
	}
	if repA != (core.RepayResult{TotalReturned: 9_100_000, TotalOwed: 9_100_000}) {
		t.Errorf("alice repay: got %+v", repA)
	}
	repB, err := h.engine.Repay(h.ctx, bob, assetA, 10_000_000)
	if err != nil {
		t.Fatalf("repay bob: %v", err)
	}
	if repB != (core.RepayResult{TotalReturned: 10_000_000, TotalOwed: 10_000_000}) {
		t.Errorf("bob repay: got %+v", repB)
	}
	_, err = h.engine.Repay(h.ctx, alice, assetB, 1)
	expectCode(t, err, core.ErrAlreadyRepaid)

	_, err = h.engine.Withdraw(h.ctx, alice)
	expectCode(t, err, core.ErrTimeNotReached)

	h.toWithdraw(t)
	wA, err := h.engine.Withdraw(h.ctx, alice)
	if err != nil {
		t.Fatalf("withdraw alice: %v", err)
	}
	if wA != (core.WithdrawResult{AmountA: 10_000_000}) {
		t.Errorf("alice withdraw: got %+v", wA)
	}
	wB, err := h.engine.Withdraw(h.ctx, bob)
	if err != nil {
		t.Fatalf("withdraw bob: %v", err)
	}
	if wB != (core.WithdrawResult{AmountB: 9_100_000}) {
		t.Errorf("bob withdraw: got %+v", wB)
	}

	if got, err := h.engine.Reclaim(h.ctx, alice); err != nil || got != 0 {
		t.Errorf("alice reclaim: got %d, %v", got, err)
	}
	if got, err := h.engine.ReclaimCollateral(h.ctx, alice); err != nil || got != 2_000_000 {
		t.Errorf("alice reclaim collateral: got %d, %v", got, err)
	}
	if got, err := h.engine.ReclaimCollateral(h.ctx, bob); err != nil || got != 1_800_000 {
		t.Errorf("bob reclaim collateral: got %d, %v", got, err)
	}

	if got := h.bank.Balance(alice, assetA); got != 12_000_000 {
		t.Errorf("alice A: got %d, want 12000000", got)
	}
	if got := h.bank.Balance(alice, assetB); got != 900_000 {
		t.Errorf("alice B: got %d, want 900000", got)
	}
	if got := h.bank.Balance(bob, assetB); got != 10_900_000 {
		t.Errorf("bob B: got %d, want 10900000", got)
	}
	if h.bank.EscrowBalance(assetA) != 0 || h.bank.EscrowBalance(assetB) != 0 {
		t.Errorf("escrow not drained: A=%d B=%d", h.bank.EscrowBalance(assetA), h.bank.EscrowBalance(assetB))
	}
	h.verify(t)
}

// ========================================
// Withdraw compensation
// ========================================

// Bob never repays, so the A escrow holds nothing repaid: alice's whole
// claim is paid back in B from her own repaid principal.
func TestEngine_WithdrawCompensation(t *testing.T) {
	h, alice, bob := swappedPair(t)
	h.fund(t, alice, assetB, 1_000_000)

	h.toRepay(t)
	if _, err := h.engine.Repay(h.ctx, alice, assetB, 9_100_000); err != nil {
		t.Fatalf("alice repay: %v", err)
	}

	h.toWithdraw(t)
	got, err := h.engine.Withdraw(h.ctx, alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got != (core.WithdrawResult{AmountB: 9_100_000}) {
		t.Errorf("withdraw: got %+v, want {0 9100000}", got)
	}
	again, err := h.engine.Withdraw(h.ctx, alice)
	if err != nil || again != (core.WithdrawResult{}) {
		t.Errorf("second withdraw: %+v, %v", again, err)
	}
	if res, err := h.engine.Withdraw(h.ctx, bob); err != nil || res != (core.WithdrawResult{}) {
		t.Errorf("bob withdraw without repaying: %+v, %v", res, err)
	}

	p, err := h.engine.Balance(h.ctx, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if p.WithdrawnAmount != 0 || p.CompensatedAmount != 9_100_000 || p.CompensatedCollateral != 0 {
		t.Errorf("alice counters: withdrawn=%d compensated=%d compensated_collateral=%d",
			p.WithdrawnAmount, p.CompensatedAmount, p.CompensatedCollateral)
	}
	if p.CompensatedValue != 10_000_000 {
		t.Errorf("compensated value: got %d, want 10000000", p.CompensatedValue)
	}
	tokens, err := h.engine.Tokens(h.ctx)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if tokens.B.WithdrawnAmount != p.CompensatedAmount {
		t.Errorf("B withdrawn %d, alice compensated %d", tokens.B.WithdrawnAmount, p.CompensatedAmount)
	}
	if tokens.A.WithdrawnAmount != 0 {
		t.Errorf("A withdrawn: got %d, want 0", tokens.A.WithdrawnAmount)
	}
	h.verify(t)
}

// Bob repays 4M of his 10M A obligation. Alice takes those 4M in A and the
// remaining 6M of value in B, net of the B already matched by the A leg.
func TestEngine_WithdrawPartlyCompensated(t *testing.T) {
	h, alice, bob := swappedPair(t)
	h.fund(t, alice, assetB, 1_000_000)

	h.toRepay(t)
	if _, err := h.engine.Repay(h.ctx, alice, assetB, 9_100_000); err != nil {
		t.Fatalf("alice repay: %v", err)
	}
	if res, err := h.engine.Repay(h.ctx, bob, assetA, 4_000_000); err != nil || res.TotalOwed != 10_000_000 {
		t.Fatalf("bob repay: %+v, %v", res, err)
	}

	h.toWithdraw(t)
	got, err := h.engine.Withdraw(h.ctx, alice)
	if err != nil {
		t.Fatalf("alice withdraw: %v", err)
	}
	if got != (core.WithdrawResult{AmountA: 4_000_000, AmountB: 5_460_000}) {
		t.Errorf("alice withdraw: got %+v, want {4000000 5460000}", got)
	}
	if again, err := h.engine.Withdraw(h.ctx, alice); err != nil || again != (core.WithdrawResult{}) {
		t.Errorf("second withdraw: %+v, %v", again, err)
	}

	// The returned principal covers the gap, so no collateral is drawn.
	p, err := h.engine.Balance(h.ctx, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if p.WithdrawnAmount != 4_000_000 || p.CompensatedAmount != 5_460_000 || p.CompensatedCollateral != 0 {
		t.Errorf("alice counters: withdrawn=%d compensated=%d compensated_collateral=%d",
			p.WithdrawnAmount, p.CompensatedAmount, p.CompensatedCollateral)
	}
	if p.CreditedWithdrawal() != 10_000_000 {
		t.Errorf("credited: got %d, want 10000000", p.CreditedWithdrawal())
	}

	// Bob's 4M A repayment is worth 3.64M B at the forward rate, exactly
	// what is left of alice's repayment.
	if res, err := h.engine.Withdraw(h.ctx, bob); err != nil || res != (core.WithdrawResult{AmountB: 3_640_000}) {
		t.Errorf("bob withdraw: %+v, %v", res, err)
	}
	if got := h.bank.EscrowBalance(assetB); got != 1_800_000 {
		t.Errorf("B escrow: got %d, want bob's 1800000 collateral", got)
	}
	h.verify(t)
}

// At spot and forward 1.0 with pool B twice pool A, half of B is matched.
func TestEngine_RoundTripAtParity(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)
	if slotB := h.initPositions(t, 100, 50, 100); slotB != 200 {
		t.Fatalf("slot B: got %d, want 200", slotB)
	}

	alice, bob := uuid.New(), uuid.New()
	h.fund(t, alice, assetA, 120)
	h.fund(t, bob, assetB, 240)
	h.deposit(t, alice, assetA, 100, 20)
	h.deposit(t, bob, assetB, 200, 40)

	h.toSwap(t, rateOne)
	if res, err := h.engine.Swap(h.ctx, alice); err != nil || res.Transferred != 100 {
		t.Fatalf("alice swap: %+v, %v", res, err)
	}
	if res, err := h.engine.Swap(h.ctx, bob); err != nil || res.Transferred != 100 {
		t.Fatalf("bob swap: %+v, %v", res, err)
	}

	h.toRepay(t)
	if _, err := h.engine.Repay(h.ctx, alice, assetB, 100); err != nil {
		t.Fatalf("alice repay: %v", err)
	}
	if _, err := h.engine.Repay(h.ctx, bob, assetA, 100); err != nil {
		t.Fatalf("bob repay: %v", err)
	}

	h.toWithdraw(t)
	if res, err := h.engine.Withdraw(h.ctx, alice); err != nil || res.AmountA != 100 {
		t.Errorf("alice withdraw: %+v, %v", res, err)
	}
	if res, err := h.engine.Withdraw(h.ctx, bob); err != nil || res.AmountB != 100 {
		t.Errorf("bob withdraw: %+v, %v", res, err)
	}
	if got, err := h.engine.Reclaim(h.ctx, bob); err != nil || got != 100 {
		t.Errorf("bob reclaim: %d, %v", got, err)
	}
	if got, err := h.engine.ReclaimCollateral(h.ctx, alice); err != nil || got != 20 {
		t.Errorf("alice collateral: %d, %v", got, err)
	}
	if got, err := h.engine.ReclaimCollateral(h.ctx, bob); err != nil || got != 40 {
		t.Errorf("bob collateral: %d, %v", got, err)
	}

	if got := h.bank.Balance(alice, assetA); got != 120 {
		t.Errorf("alice principal: got %d, want 120", got)
	}
	if got := h.bank.Balance(bob, assetB); got != 240 {
		t.Errorf("bob principal: got %d, want 240", got)
	}
	h.verify(t)
}

// ========================================
// Rejections
// ========================================

func TestEngine_InitializationErrors(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)

	_, err := h.engine.Initialize(h.ctx, core.InitializeParams{
		Admin: h.admin, AssetA: core.AssetInfo{ID: "X"}, AssetB: core.AssetInfo{ID: "Y"}, ForwardRate: rateOne,
	})
	expectCode(t, err, core.ErrContractAlreadyInitialized)

	_, err = h.engine.InitPositions(h.ctx, uuid.New(), 1, 1, 100)
	expectCode(t, err, core.ErrUnauthorized)

	_, err = h.engine.InitPositions(h.ctx, h.admin, 0, 1, 100)
	expectCode(t, err, core.ErrInvalidAmount)

	h.initPositions(t, 1, 1, 100)
	_, err = h.engine.InitPositions(h.ctx, h.admin, 1, 1, 100)
	expectCode(t, err, core.ErrPositionsAlreadyInitialized)

	expectCode(t, h.engine.SetSpot(h.ctx, uuid.New(), rateOne), core.ErrUnauthorized)
	expectCode(t, h.engine.SetSpot(h.ctx, h.admin, 0), core.ErrInvalidRate)
}

func TestEngine_NotInitialized(t *testing.T) {
	engine, err := core.NewEngine(core.Options{
		Store:      store.NewMemoryStore(),
		Clock:      clock.NewManual(start),
		Oracle:     oracle.NewStatic(),
		Custody:    custody.NewMemoryBank(nil),
		Authorizer: auth.AllowAll{},
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = engine.Stage(context.Background())
	expectCode(t, err, core.ErrNotInitialized)
	_, err = engine.Deposit(context.Background(), uuid.New(), assetA, 0, 0)
	expectCode(t, err, core.ErrNotInitialized)

	_, err = engine.Initialize(context.Background(), core.InitializeParams{
		Admin: uuid.New(), AssetA: core.AssetInfo{ID: assetA}, AssetB: core.AssetInfo{ID: assetA}, ForwardRate: rateOne,
	})
	expectCode(t, err, core.ErrInvalidToken)
}

func TestEngine_DepositRules(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{alice, bob, carol} {
		h.fund(t, id, assetA, 1_000)
		h.fund(t, id, assetB, 1_000)
	}

	_, err := h.engine.Deposit(h.ctx, alice, assetA, 100, 20)
	expectCode(t, err, core.ErrPositionsNotInitialized)

	h.initPositions(t, 2, 1, 100)

	cases := []struct {
		name       string
		who        uuid.UUID
		asset      ledger.AssetID
		amount     int64
		collateral int64
		want       *core.Error
	}{
		{"unknown asset", alice, "BTC", 100, 20, core.ErrInvalidToken},
		{"negative amount", alice, assetA, -1, 20, core.ErrInvalidAmount},
		{"short collateral", alice, assetA, 100, 19, core.ErrInsufficientCollateral},
		{"wrong slot amount", alice, assetA, 50, 20, core.ErrDepositAmountDoesntMatchPosition},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := h.engine.Deposit(h.ctx, c.who, c.asset, c.amount, c.collateral)
			expectCode(t, err, c.want)
		})
	}

	h.deposit(t, alice, assetA, 100, 20)
	_, err = h.engine.Deposit(h.ctx, alice, assetB, 0, 10)
	expectCode(t, err, core.ErrDifferentDepositedToken)

	// A zero deposit still fixes carol's asset.
	h.deposit(t, carol, assetA, 0, 0)
	_, err = h.engine.Deposit(h.ctx, carol, assetB, 0, 0)
	expectCode(t, err, core.ErrDifferentDepositedToken)

	h.deposit(t, bob, assetB, 200, 40)
	_, err = h.engine.Deposit(h.ctx, carol, assetB, 200, 40)
	expectCode(t, err, core.ErrAllPositionsAreUsed)

	h.toSwap(t, rateOne)
	_, err = h.engine.Deposit(h.ctx, alice, assetA, 100, 20)
	expectCode(t, err, core.ErrCollateralOnlyCanBeDeposited)
	if res := h.deposit(t, alice, assetA, 0, 30); res.Collateral != 50 {
		t.Errorf("collateral top-up: got %d, want 50", res.Collateral)
	}
	h.verify(t)
}

func TestEngine_StageGates(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)
	h.initPositions(t, 1, 1, 100)
	alice, bob := uuid.New(), uuid.New()
	h.fund(t, alice, assetA, 1_000)
	h.fund(t, bob, assetB, 1_000)
	h.deposit(t, alice, assetA, 100, 20)
	h.deposit(t, bob, assetB, 100, 20)

	_, err := h.engine.Swap(h.ctx, alice)
	expectCode(t, err, core.ErrWrongStageToSwap)
	_, err = h.engine.NearLeg(h.ctx)
	expectCode(t, err, core.ErrTimeNotReached)
	_, err = h.engine.Reclaim(h.ctx, alice)
	expectCode(t, err, core.ErrTimeNotReached)
	_, err = h.engine.ReclaimCollateral(h.ctx, alice)
	expectCode(t, err, core.ErrTimeNotReached)

	h.clock.Set(h.schedule(t).SwapStart())
	_, err = h.engine.Swap(h.ctx, alice)
	expectCode(t, err, core.ErrNearLegNotExecuted)
	_, err = h.engine.Users(h.ctx)
	expectCode(t, err, core.ErrNearLegNotExecuted)

	if _, err := h.engine.NearLeg(h.ctx); err != nil {
		t.Fatalf("near leg: %v", err)
	}
	_, err = h.engine.NearLeg(h.ctx)
	expectCode(t, err, core.ErrSpotRateAlreadyDefined)

	_, err = h.engine.Swap(h.ctx, uuid.New())
	expectCode(t, err, core.ErrNotParticipant)
	if _, err := h.engine.Swap(h.ctx, alice); err != nil {
		t.Fatalf("swap: %v", err)
	}

	_, err = h.engine.Repay(h.ctx, alice, assetA, 100)
	expectCode(t, err, core.ErrWrongRepayToken)
	_, err = h.engine.Repay(h.ctx, alice, "BTC", 100)
	expectCode(t, err, core.ErrInvalidToken)

	h.toRepay(t)
	_, err = h.engine.Swap(h.ctx, bob)
	expectCode(t, err, core.ErrWrongStageToSwap)
	expectCode(t, h.engine.TransferAdmin(h.ctx, h.admin, h.admin, assetA, 1), core.ErrContractStillOpen)

	stage, err := h.engine.Stage(h.ctx)
	if err != nil || stage != state.StageRepay {
		t.Errorf("stage: got %s, %v", stage, err)
	}
}

func TestEngine_TransferAdmin(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)
	h.initPositions(t, 1, 1, 100)
	alice := uuid.New()
	h.fund(t, alice, assetA, 1_000)
	h.deposit(t, alice, assetA, 100, 20)

	h.clock.Set(h.schedule(t).WithdrawStart())
	expectCode(t, h.engine.TransferAdmin(h.ctx, alice, alice, assetA, 10), core.ErrUnauthorized)
	expectCode(t, h.engine.TransferAdmin(h.ctx, h.admin, h.admin, "BTC", 10), core.ErrInvalidToken)
	expectCode(t, h.engine.TransferAdmin(h.ctx, h.admin, h.admin, assetA, 0), core.ErrInvalidAmount)

	if err := h.engine.TransferAdmin(h.ctx, h.admin, h.admin, assetA, 120); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}
	if got := h.bank.Balance(h.admin, assetA); got != 120 {
		t.Errorf("admin balance: got %d, want 120", got)
	}
	if got := h.bank.EscrowBalance(assetA); got != 0 {
		t.Errorf("escrow: got %d, want 0", got)
	}
}

func TestEngine_RequiresAuthorization(t *testing.T) {
	engine, err := core.NewEngine(core.Options{
		Store:      store.NewMemoryStore(),
		Clock:      clock.NewManual(start),
		Oracle:     staticPrice(rateOne),
		Custody:    custody.NewMemoryBank(nil),
		Authorizer: auth.ContextAuthorizer{},
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	admin := uuid.New()
	params := core.InitializeParams{
		Admin: admin, AssetA: core.AssetInfo{ID: assetA}, AssetB: core.AssetInfo{ID: assetB}, ForwardRate: rateOne,
	}

	_, err = engine.Initialize(context.Background(), params)
	expectCode(t, err, core.ErrUnauthorized)

	ctx := auth.WithIdentity(context.Background(), admin)
	if _, err := engine.Initialize(ctx, params); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	_, err = engine.Balance(ctx, uuid.New())
	expectCode(t, err, core.ErrUnauthorized)
}

func staticPrice(price int64) *oracle.Static {
	o := oracle.NewStatic()
	o.SetPrice(string(assetA), string(assetB), price, start)
	return o
}

// ========================================
// Atomicity
// ========================================

type failingCustody struct {
	fail bool
	next core.Custody
}

func (f *failingCustody) Transfer(ctx context.Context, legs ...ledger.TransferLeg) error {
	if f.fail {
		return errors.New("custody offline")
	}
	return f.next.Transfer(ctx, legs...)
}

func TestEngine_FailedCustodyLeavesStateUntouched(t *testing.T) {
	fc := &failingCustody{}
	h := newHarnessWith(t, rateOne, rateOne, fc)
	fc.next = h.bank
	h.initPositions(t, 2, 2, 100)

	alice := uuid.New()
	h.fund(t, alice, assetA, 1_000)

	seqBefore, hashBefore, err := h.engine.ChainTip(h.ctx)
	if err != nil {
		t.Fatalf("chain tip: %v", err)
	}
	keysBefore := h.store.Len()

	fc.fail = true
	if _, err := h.engine.Deposit(h.ctx, alice, assetA, 100, 20); err == nil {
		t.Fatal("deposit succeeded with failing custody")
	} else if core.CodeOf(err) != 0 {
		t.Errorf("custody failure reported as business error %v", err)
	}

	if h.store.Len() != keysBefore {
		t.Errorf("store grew from %d to %d keys", keysBefore, h.store.Len())
	}
	seqAfter, hashAfter, _ := h.engine.ChainTip(h.ctx)
	if seqAfter != seqBefore || hashAfter != hashBefore {
		t.Error("chain advanced on failed operation")
	}
	_, err = h.engine.Balance(h.ctx, alice)
	expectCode(t, err, core.ErrNotParticipant)
	deposits, _ := h.engine.Deposits(h.ctx)
	if deposits.PoolA.Used != 0 {
		t.Errorf("slot consumed: used=%d", deposits.PoolA.Used)
	}

	// Insufficient holder funds fail the same way.
	fc.fail = false
	bob := uuid.New()
	if _, err := h.engine.Deposit(h.ctx, bob, assetA, 100, 20); err == nil {
		t.Fatal("unfunded deposit succeeded")
	}
	var insufficient *ledger.InsufficientBalanceError
	if _, err := h.engine.Deposit(h.ctx, bob, assetA, 100, 20); !errors.As(err, &insufficient) {
		t.Errorf("expected InsufficientBalanceError, got %v", err)
	}

	h.deposit(t, alice, assetA, 100, 20)
	h.verify(t)
}

// flakyStore fails Apply while fail is set.
type flakyStore struct {
	store.Store
	fail bool
}

func (f *flakyStore) Apply(ctx context.Context, writes []store.Write) error {
	if f.fail {
		return errors.New("connection reset")
	}
	return f.Store.Apply(ctx, writes)
}

func TestEngine_CommitFailureReversesCustody(t *testing.T) {
	flaky := &flakyStore{}
	h := newHarnessOn(t, rateOne, rateOne, nil, func(base store.Store) store.Store {
		flaky.Store = base
		return flaky
	})
	h.initPositions(t, 2, 2, 100)
	alice := uuid.New()
	h.fund(t, alice, assetA, 1_000)
	seqBefore, _, _ := h.engine.ChainTip(h.ctx)

	flaky.fail = true
	_, err := h.engine.Deposit(h.ctx, alice, assetA, 100, 20)
	if err == nil {
		t.Fatal("deposit succeeded with failing store")
	}
	if core.CodeOf(err) != 0 {
		t.Errorf("store failure reported as business error %v", err)
	}

	if got := h.bank.Balance(alice, assetA); got != 1_000 {
		t.Errorf("alice balance: got %d, want 1000", got)
	}
	if got := h.bank.EscrowBalance(assetA); got != 0 {
		t.Errorf("escrow: got %d, want 0", got)
	}
	if got := testutil.ToFloat64(h.metrics.CustodyReversals.WithLabelValues("reversed")); got != 1 {
		t.Errorf("reversals: got %v, want 1", got)
	}
	if seq, _, _ := h.engine.ChainTip(h.ctx); seq != seqBefore {
		t.Errorf("sequence moved from %d to %d", seqBefore, seq)
	}
	if n := len(drain(h.persist)); n != 2 {
		// initialize and init positions only
		t.Errorf("outputs: got %d, want 2", n)
	}
	h.verify(t)

	flaky.fail = false
	if got := h.deposit(t, alice, assetA, 100, 20); got != (core.DepositResult{Deposited: 100, Collateral: 20}) {
		t.Errorf("retried deposit: got %+v", got)
	}
	if got := h.bank.Balance(alice, assetA); got != 880 {
		t.Errorf("alice balance after retry: got %d, want 880", got)
	}
	h.verify(t)
}

// ========================================
// Hash chain and outputs
// ========================================

func TestEngine_HashChainLinksOutputs(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)
	h.initPositions(t, 2, 2, 100)
	alice := uuid.New()
	h.fund(t, alice, assetA, 1_000)
	h.deposit(t, alice, assetA, 100, 20)

	// Rejections do not produce outputs.
	if _, err := h.engine.Deposit(h.ctx, alice, assetA, 1, 0); err == nil {
		t.Fatal("expected rejection")
	}

	outputs := drain(h.persist)
	if len(outputs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(outputs))
	}

	prev := core.GenesisHash()
	for i, out := range outputs {
		if out.Envelope.Sequence != int64(i+1) {
			t.Errorf("output %d: sequence %d", i, out.Envelope.Sequence)
		}
		if out.Envelope.PrevHash != prev {
			t.Errorf("output %d: prev hash does not link", i)
		}
		prev = out.Envelope.StateHash
	}

	seq, tip, err := h.engine.ChainTip(h.ctx)
	if err != nil || seq != 3 || tip != prev {
		t.Errorf("chain tip: seq=%d err=%v", seq, err)
	}

	dep := outputs[2]
	if dep.Envelope.EventType != event.EventTypeDeposited || dep.Envelope.Participant != alice {
		t.Errorf("deposit envelope: %+v", dep.Envelope)
	}
	if dep.Batch == nil || len(dep.Batch.Journals) != 2 {
		t.Fatalf("deposit batch: %+v", dep.Batch)
	}
	if dep.Batch.TotalFor(assetA) != 120 {
		t.Errorf("batch total: got %d, want 120", dep.Batch.TotalFor(assetA))
	}
	if outputs[0].Batch != nil {
		t.Error("initialize produced a custody batch")
	}
}

func TestEngine_RequestKeyOnEnvelope(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)
	drain(h.persist)

	ctx := core.WithRequestKey(h.ctx, "req-42")
	if _, err := h.engine.InitPositions(ctx, h.admin, 1, 1, 100); err != nil {
		t.Fatalf("init positions: %v", err)
	}
	out := drain(h.persist)
	if len(out) != 1 || out[0].Envelope.IdempotencyKey != "req-42" {
		t.Fatalf("envelope key: %+v", out)
	}
	if out[0].Envelope.DedupKey() != "req-42" {
		t.Errorf("dedup key: %s", out[0].Envelope.DedupKey())
	}
}

// No-op operations commit nothing and emit nothing.
func TestEngine_NoopDoesNotAdvanceChain(t *testing.T) {
	h := newHarness(t, rateOne, rateOne)
	h.initPositions(t, 1, 1, 100)
	alice, bob := uuid.New(), uuid.New()
	h.fund(t, alice, assetA, 1_000)
	h.fund(t, bob, assetB, 1_000)
	h.deposit(t, alice, assetA, 100, 20)
	h.deposit(t, bob, assetB, 100, 20)
	h.toSwap(t, rateOne)
	if _, err := h.engine.Swap(h.ctx, alice); err != nil {
		t.Fatalf("swap: %v", err)
	}
	drain(h.persist)

	seq, _, _ := h.engine.ChainTip(h.ctx)
	if res, err := h.engine.Swap(h.ctx, alice); err != nil || res.Transferred != 0 {
		t.Fatalf("repeat swap: %+v, %v", res, err)
	}
	if got, err := h.engine.Reclaim(h.ctx, alice); err != nil || got != 0 {
		t.Fatalf("reclaim: %d, %v", got, err)
	}
	after, _, _ := h.engine.ChainTip(h.ctx)
	if after != seq {
		t.Errorf("sequence moved from %d to %d", seq, after)
	}
	if n := len(drain(h.persist)); n != 0 {
		t.Errorf("got %d outputs for no-op calls", n)
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// ========================================
// Views
// ========================================

func TestEngine_Views(t *testing.T) {
	h := newHarness(t, spot09, fwd091)
	h.initPositions(t, 2, 2, 10_000_000)
	alice, bob := uuid.New(), uuid.New()
	h.fund(t, alice, assetA, 24_000_000)
	h.fund(t, bob, assetB, 10_800_000)
	h.deposit(t, alice, assetA, 10_000_000, 2_000_000)
	h.deposit(t, alice, assetA, 10_000_000, 2_000_000)
	h.deposit(t, bob, assetB, 9_000_000, 1_800_000)

	deposits, err := h.engine.Deposits(h.ctx)
	if err != nil {
		t.Fatalf("deposits: %v", err)
	}
	if len(deposits.PositionA) != 2 || len(deposits.PositionB) != 1 {
		t.Fatalf("positions: A=%d B=%d", len(deposits.PositionA), len(deposits.PositionB))
	}
	if deposits.PoolB.SlotAmount != 9_000_000 {
		t.Errorf("pool B slot: %d", deposits.PoolB.SlotAmount)
	}

	h.toSwap(t, spot09)
	users, err := h.engine.Users(h.ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users.A) != 1 || users.A[0].Identity != alice || users.A[0].Collateral != 4_000_000 {
		t.Errorf("users A: %+v", users.A)
	}
	if len(users.B) != 1 || users.B[0].Identity != bob {
		t.Errorf("users B: %+v", users.B)
	}

	if _, err := h.engine.Swap(h.ctx, alice); err != nil {
		t.Fatalf("swap: %v", err)
	}
	p, err := h.engine.Balance(h.ctx, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if p.DepositedAmount != 20_000_000 || p.SwappedAmount != 9_000_000 {
		t.Errorf("alice record: %+v", p)
	}

	// Half of alice's deposit is unmatched.
	if got, err := h.engine.Reclaim(h.ctx, alice); err != nil || got != 10_000_000 {
		t.Errorf("reclaim: %d, %v", got, err)
	}

	spot, err := h.engine.SpotRate(h.ctx)
	if err != nil || spot != spot09 {
		t.Errorf("spot: %d, %v", spot, err)
	}
	admin, err := h.engine.Admin(h.ctx)
	if err != nil || admin != h.admin {
		t.Errorf("admin: %s, %v", admin, err)
	}
	h.verify(t)
}
