package server

import (
	"FXSwapLedger/internal/auth"
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/math"
	"FXSwapLedger/internal/observability"
	"FXSwapLedger/internal/oracle"
	"FXSwapLedger/internal/query"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
)

// IdempotencyHeader carries the client request key on mutating routes.
const IdempotencyHeader = "Idempotency-Key"

// Ledger is the settlement surface served over HTTP. *core.Engine
// implements it.
type Ledger interface {
	Initialize(ctx context.Context, params core.InitializeParams) (int64, error)
	InitPositions(ctx context.Context, caller uuid.UUID, slotsA, slotsB, slotAmountA int64) (int64, error)
	Deposit(ctx context.Context, participant uuid.UUID, asset ledger.AssetID, amount, collateral int64) (core.DepositResult, error)
	NearLeg(ctx context.Context) (oracle.PriceData, error)
	SetSpot(ctx context.Context, caller uuid.UUID, rate int64) error
	Swap(ctx context.Context, participant uuid.UUID) (core.SwapResult, error)
	Repay(ctx context.Context, participant uuid.UUID, asset ledger.AssetID, amount int64) (core.RepayResult, error)
	Withdraw(ctx context.Context, participant uuid.UUID) (core.WithdrawResult, error)
	Reclaim(ctx context.Context, participant uuid.UUID) (int64, error)
	ReclaimCollateral(ctx context.Context, participant uuid.UUID) (int64, error)
	Liquidate(ctx context.Context, target, caller uuid.UUID) (core.LiquidationResult, error)
	TransferAdmin(ctx context.Context, caller, recipient uuid.UUID, asset ledger.AssetID, amount int64) error
}

// GatewayDeps wires the HTTP API. Idempotency and Metrics may be nil.
type GatewayDeps struct {
	Ledger      Ledger
	Query       *query.QueryService
	Idempotency *core.IdempotencyChecker
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// Gateway serves the JSON API on a grpc-gateway ServeMux.
type Gateway struct {
	mux         *runtime.ServeMux
	marshaler   runtime.Marshaler
	ledger      Ledger
	query       *query.QueryService
	idempotency *core.IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	// Keys of mutations currently executing; a concurrent retry is a
	// duplicate even before the first attempt is marked processed.
	mu       sync.Mutex
	inflight map[string]struct{}
}

type handlerFunc func(r *http.Request, params map[string]string) (any, error)

func NewGateway(deps GatewayDeps) (*Gateway, error) {
	g := &Gateway{
		mux:         runtime.NewServeMux(),
		marshaler:   &runtime.JSONBuiltin{},
		ledger:      deps.Ledger,
		query:       deps.Query,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		inflight:    make(map[string]struct{}),
	}

	routes := []struct {
		method  string
		pattern string
		op      event.EventType
		handler handlerFunc
	}{
		// Operations
		{http.MethodPost, "/v1/initialize", event.EventTypeInitialized, g.initialize},
		{http.MethodPost, "/v1/positions", event.EventTypePositionsInitialized, g.initPositions},
		{http.MethodPost, "/v1/deposit", event.EventTypeDeposited, g.deposit},
		{http.MethodPost, "/v1/near-leg", event.EventTypeNearLegExecuted, g.nearLeg},
		{http.MethodPost, "/v1/swap", event.EventTypeSwapped, g.swap},
		{http.MethodPost, "/v1/repay", event.EventTypeRepaid, g.repay},
		{http.MethodPost, "/v1/withdraw", event.EventTypeWithdrawn, g.withdraw},
		{http.MethodPost, "/v1/reclaim", event.EventTypeReclaimed, g.reclaim},
		{http.MethodPost, "/v1/reclaim-collateral", event.EventTypeCollateralReclaimed, g.reclaimCollateral},
		{http.MethodPost, "/v1/liquidate", event.EventTypeLiquidated, g.liquidate},
		{http.MethodPost, "/v1/spot", event.EventTypeSpotRateSet, g.setSpot},
		{http.MethodPost, "/v1/admin/transfer", event.EventTypeAdminTransferred, g.transferAdmin},

		// Views
		{http.MethodGet, "/v1/contract", event.EventTypeUnknown, g.contract},
		{http.MethodGet, "/v1/stage", event.EventTypeUnknown, g.stage},
		{http.MethodGet, "/v1/spot", event.EventTypeUnknown, g.spot},
		{http.MethodGet, "/v1/balance/{participant}", event.EventTypeUnknown, g.balance},
		{http.MethodGet, "/v1/tokens", event.EventTypeUnknown, g.tokens},
		{http.MethodGet, "/v1/deposits", event.EventTypeUnknown, g.deposits},
		{http.MethodGet, "/v1/users", event.EventTypeUnknown, g.users},
		{http.MethodGet, "/v1/history/{participant}", event.EventTypeUnknown, g.history},
		{http.MethodGet, "/v1/journals/{sequence}", event.EventTypeUnknown, g.journals},
		{http.MethodGet, "/v1/admin/integrity", event.EventTypeUnknown, g.integrity},
	}
	for _, rt := range routes {
		if err := g.handle(rt.method, rt.pattern, rt.op, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return g, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

func (g *Gateway) handle(method, pattern string, op event.EventType, h handlerFunc) error {
	route := method + " " + pattern
	return g.mux.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		status := g.serve(w, r, op, params, h)
		if g.metrics != nil {
			g.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			g.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// serve runs h and writes its result. Mutations carrying an idempotency key
// are rejected when the key was already applied, and tag the emitted event
// with the key.
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, op event.EventType, params map[string]string, h handlerFunc) int {
	ctx := r.Context()
	key := r.Header.Get(IdempotencyHeader)
	if op == event.EventTypeUnknown || key == "" {
		resp, err := h(r, params)
		if err != nil {
			return g.writeError(w, ctx, err)
		}
		return g.write(w, http.StatusOK, resp)
	}

	operation := op.String()
	if !g.acquire(operation, key) {
		return g.writeError(w, ctx, core.ErrDuplicateRequest)
	}
	defer g.release(operation, key)
	if g.idempotency != nil && g.idempotency.IsDuplicate(ctx, operation, key) {
		return g.writeError(w, ctx, core.ErrDuplicateRequest)
	}

	resp, err := h(r.WithContext(core.WithRequestKey(ctx, key)), params)
	if err != nil {
		return g.writeError(w, ctx, err)
	}
	if g.idempotency != nil {
		g.idempotency.MarkProcessed(operation, key)
	}
	return g.write(w, http.StatusOK, resp)
}

func (g *Gateway) acquire(operation, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := operation + ":" + key
	if _, busy := g.inflight[k]; busy {
		return false
	}
	g.inflight[k] = struct{}{}
	return true
}

func (g *Gateway) release(operation, key string) {
	g.mu.Lock()
	delete(g.inflight, operation+":"+key)
	g.mu.Unlock()
}

func (g *Gateway) write(w http.ResponseWriter, status int, v any) int {
	buf, err := g.marshaler.Marshal(v)
	if err != nil {
		g.logger.Error().Err(err).Msg("marshal response")
		status = http.StatusInternalServerError
		buf = []byte(`{"code":0,"error":"internal error","status":"Internal"}`)
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(v))
	w.WriteHeader(status)
	if _, err := w.Write(buf); err != nil {
		g.logger.Debug().Err(err).Msg("write response")
	}
	return status
}

func (g *Gateway) writeError(w http.ResponseWriter, ctx context.Context, err error) int {
	code := codeOf(ctx, err)
	if code == codes.Internal {
		g.logger.Error().Err(err).Msg("request failed")
	}
	return g.write(w, runtime.HTTPStatusFromCode(code), errorBody(code, err))
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func (g *Gateway) decode(r *http.Request, v any) error {
	if err := g.marshaler.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("decode body: %v", err)
	}
	return nil
}

// caller returns the bearer identity, or uuid.Nil for anonymous requests.
func caller(ctx context.Context) uuid.UUID {
	id, _ := auth.IdentityFrom(ctx)
	return id
}

func participantOr(ctx context.Context, id uuid.UUID) uuid.UUID {
	if id != uuid.Nil {
		return id
	}
	return caller(ctx)
}

func parseRate(s string) (int64, error) {
	rate, err := math.ParseRate(s)
	if err != nil {
		return 0, errors.Join(core.ErrInvalidRate, err)
	}
	return rate, nil
}

func uuidParam(params map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		return uuid.Nil, badRequest("invalid %s: %v", name, err)
	}
	return id, nil
}

// ========================================
// Operations
// ========================================

func (g *Gateway) initialize(r *http.Request, _ map[string]string) (any, error) {
	var req InitializeRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	forward, err := parseRate(req.ForwardRate)
	if err != nil {
		return nil, err
	}
	setup, err := g.ledger.Initialize(r.Context(), core.InitializeParams{
		Admin:       participantOr(r.Context(), req.Admin),
		AssetA:      core.AssetInfo{ID: ledger.AssetID(req.AssetA.ID), Symbol: req.AssetA.Symbol},
		AssetB:      core.AssetInfo{ID: ledger.AssetID(req.AssetB.ID), Symbol: req.AssetB.Symbol},
		ForwardRate: forward,
		Maturity:    req.Maturity,
	})
	if err != nil {
		return nil, err
	}
	return InitializeResponse{SetupRate: math.FormatRate(setup)}, nil
}

func (g *Gateway) initPositions(r *http.Request, _ map[string]string) (any, error) {
	var req InitPositionsRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	slotAmountB, err := g.ledger.InitPositions(r.Context(), caller(r.Context()), req.SlotsA, req.SlotsB, req.SlotAmountA)
	if err != nil {
		return nil, err
	}
	return InitPositionsResponse{SlotAmountB: slotAmountB}, nil
}

func (g *Gateway) deposit(r *http.Request, _ map[string]string) (any, error) {
	var req DepositRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	res, err := g.ledger.Deposit(r.Context(), participantOr(r.Context(), req.Participant), ledger.AssetID(req.Asset), req.Amount, req.Collateral)
	if err != nil {
		return nil, err
	}
	return DepositResponse{Deposited: res.Deposited, Collateral: res.Collateral}, nil
}

func (g *Gateway) nearLeg(r *http.Request, _ map[string]string) (any, error) {
	price, err := g.ledger.NearLeg(r.Context())
	if err != nil {
		return nil, err
	}
	return NearLegResponse{SpotRate: math.FormatRate(price.Price), Timestamp: price.Timestamp}, nil
}

func (g *Gateway) setSpot(r *http.Request, _ map[string]string) (any, error) {
	var req SetSpotRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	rate, err := parseRate(req.Rate)
	if err != nil {
		return nil, err
	}
	if err := g.ledger.SetSpot(r.Context(), caller(r.Context()), rate); err != nil {
		return nil, err
	}
	return OKResponse{OK: true}, nil
}

func (g *Gateway) swap(r *http.Request, _ map[string]string) (any, error) {
	var req ParticipantRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	res, err := g.ledger.Swap(r.Context(), participantOr(r.Context(), req.Participant))
	if err != nil {
		return nil, err
	}
	return SwapResponse{Transferred: res.Transferred, TotalSwapped: res.TotalSwapped}, nil
}

func (g *Gateway) repay(r *http.Request, _ map[string]string) (any, error) {
	var req RepayRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	res, err := g.ledger.Repay(r.Context(), participantOr(r.Context(), req.Participant), ledger.AssetID(req.Asset), req.Amount)
	if err != nil {
		return nil, err
	}
	return RepayResponse{TotalReturned: res.TotalReturned, TotalOwed: res.TotalOwed}, nil
}

func (g *Gateway) withdraw(r *http.Request, _ map[string]string) (any, error) {
	var req ParticipantRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	res, err := g.ledger.Withdraw(r.Context(), participantOr(r.Context(), req.Participant))
	if err != nil {
		return nil, err
	}
	return WithdrawResponse{AmountA: res.AmountA, AmountB: res.AmountB}, nil
}

func (g *Gateway) reclaim(r *http.Request, _ map[string]string) (any, error) {
	var req ParticipantRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	amount, err := g.ledger.Reclaim(r.Context(), participantOr(r.Context(), req.Participant))
	if err != nil {
		return nil, err
	}
	return AmountResponse{Amount: amount}, nil
}

func (g *Gateway) reclaimCollateral(r *http.Request, _ map[string]string) (any, error) {
	var req ParticipantRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	amount, err := g.ledger.ReclaimCollateral(r.Context(), participantOr(r.Context(), req.Participant))
	if err != nil {
		return nil, err
	}
	return AmountResponse{Amount: amount}, nil
}

func (g *Gateway) liquidate(r *http.Request, _ map[string]string) (any, error) {
	var req LiquidateRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	if req.Target == uuid.Nil {
		return nil, badRequest("target is required")
	}
	res, err := g.ledger.Liquidate(r.Context(), req.Target, caller(r.Context()))
	if err != nil {
		return nil, err
	}
	return LiquidateResponse{Liquidated: res.Liquidated, Reason: res.Reason.String(), Reward: res.Reward}, nil
}

func (g *Gateway) transferAdmin(r *http.Request, _ map[string]string) (any, error) {
	var req TransferAdminRequest
	if err := g.decode(r, &req); err != nil {
		return nil, err
	}
	if req.Recipient == uuid.Nil {
		return nil, badRequest("recipient is required")
	}
	if err := g.ledger.TransferAdmin(r.Context(), caller(r.Context()), req.Recipient, ledger.AssetID(req.Asset), req.Amount); err != nil {
		return nil, err
	}
	return OKResponse{OK: true}, nil
}

// ========================================
// Views
// ========================================

func (g *Gateway) contract(r *http.Request, _ map[string]string) (any, error) {
	return g.query.GetContract(r.Context())
}

func (g *Gateway) stage(r *http.Request, _ map[string]string) (any, error) {
	return g.query.GetStage(r.Context())
}

func (g *Gateway) spot(r *http.Request, _ map[string]string) (any, error) {
	return g.query.GetSpot(r.Context())
}

func (g *Gateway) balance(r *http.Request, params map[string]string) (any, error) {
	participant, err := uuidParam(params, "participant")
	if err != nil {
		return nil, err
	}
	return g.query.GetBalance(r.Context(), participant)
}

func (g *Gateway) tokens(r *http.Request, _ map[string]string) (any, error) {
	return g.query.GetTokens(r.Context())
}

func (g *Gateway) deposits(r *http.Request, _ map[string]string) (any, error) {
	return g.query.GetDeposits(r.Context())
}

func (g *Gateway) users(r *http.Request, _ map[string]string) (any, error) {
	return g.query.GetUsers(r.Context())
}

func (g *Gateway) history(r *http.Request, params map[string]string) (any, error) {
	participant, err := uuidParam(params, "participant")
	if err != nil {
		return nil, err
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return nil, badRequest("invalid limit: %v", err)
		}
	}
	return g.query.GetHistory(r.Context(), participant, limit)
}

func (g *Gateway) journals(r *http.Request, params map[string]string) (any, error) {
	sequence, err := strconv.ParseInt(params["sequence"], 10, 64)
	if err != nil || sequence <= 0 {
		return nil, badRequest("invalid sequence %q", params["sequence"])
	}
	return g.query.GetJournals(r.Context(), sequence)
}

// integrity is restricted to the contract admin.
func (g *Gateway) integrity(r *http.Request, _ map[string]string) (any, error) {
	cfg, err := g.query.GetContract(r.Context())
	if err != nil {
		return nil, err
	}
	id, ok := auth.IdentityFrom(r.Context())
	if !ok || id != cfg.Admin {
		return nil, core.ErrUnauthorized
	}
	return g.query.VerifyIntegrity(r.Context())
}
