package query

import (
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/math"
	"FXSwapLedger/internal/persistence"
	"FXSwapLedger/internal/state"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNoEventLog is returned by history queries when the service runs
// without Postgres.
var ErrNoEventLog = errors.New("event log not configured")

// Views is the read-only engine surface. *core.Engine implements it.
type Views interface {
	Config(ctx context.Context) (*core.ContractConfig, error)
	Stage(ctx context.Context) (state.Stage, error)
	Balance(ctx context.Context, participant uuid.UUID) (*ledger.Participant, error)
	Tokens(ctx context.Context) (core.Tokens, error)
	Deposits(ctx context.Context) (core.Deposits, error)
	Users(ctx context.Context) (core.Users, error)
	VerifyConservation(ctx context.Context) error
	ChainTip(ctx context.Context) (int64, [32]byte, error)
}

// EventLog is the persisted settlement log. *persistence.EventLogReader
// implements it.
type EventLog interface {
	ParticipantEvents(ctx context.Context, participant uuid.UUID, limit int) ([]persistence.EventRow, error)
	JournalsFor(ctx context.Context, sequence int64) ([]persistence.JournalRow, error)
	VerifyChain(ctx context.Context, pageSize int) (int64, error)
}

// QueryService builds API responses from engine views and, when
// configured, the Postgres event log. Every response carries the chain
// tip it was read at.
type QueryService struct {
	views Views
	log   EventLog
	clock core.Clock
}

// NewQueryService accepts a nil log; history and chain checks then report
// ErrNoEventLog or skip.
func NewQueryService(views Views, log EventLog, clock core.Clock) *QueryService {
	return &QueryService{views: views, log: log, clock: clock}
}

func (qs *QueryService) asOf(ctx context.Context) (int64, error) {
	seq, _, err := qs.views.ChainTip(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain tip: %w", err)
	}
	return seq, nil
}

// GetContract returns the configuration with the stage boundaries.
func (qs *QueryService) GetContract(ctx context.Context) (*ContractResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := qs.views.Config(ctx)
	if err != nil {
		return nil, err
	}
	schedule := cfg.Schedule()
	return &ContractResponse{
		Admin:         cfg.Admin,
		AssetA:        AssetResponse{ID: string(cfg.AssetA.ID), Symbol: cfg.AssetA.Symbol},
		AssetB:        AssetResponse{ID: string(cfg.AssetB.ID), Symbol: cfg.AssetB.Symbol},
		ForwardRate:   math.FormatRate(cfg.ForwardRate),
		SetupRate:     math.FormatRate(cfg.SetupRate),
		SpotRate:      math.FormatRate(cfg.SpotRate),
		InitTime:      cfg.InitTime,
		Maturity:      cfg.Maturity,
		SwapStart:     schedule.SwapStart(),
		RepayStart:    schedule.RepayStart(),
		WithdrawStart: schedule.WithdrawStart(),
		AsOfSequence:  asOf,
	}, nil
}

func (qs *QueryService) GetStage(ctx context.Context) (*StageResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	stage, err := qs.views.Stage(ctx)
	if err != nil {
		return nil, err
	}
	return &StageResponse{Stage: stage.String(), Now: qs.clock.Now(), AsOfSequence: asOf}, nil
}

func (qs *QueryService) GetSpot(ctx context.Context) (*SpotResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := qs.views.Config(ctx)
	if err != nil {
		return nil, err
	}
	return &SpotResponse{
		SpotRate:     math.FormatRate(cfg.SpotRate),
		Executed:     cfg.SpotRate != 0,
		AsOfSequence: asOf,
	}, nil
}

// GetBalance returns the participant's record. The engine checks that ctx
// is authorized for participant.
func (qs *QueryService) GetBalance(ctx context.Context, participant uuid.UUID) (*BalanceResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	p, err := qs.views.Balance(ctx, participant)
	if err != nil {
		return nil, err
	}
	return balanceFrom(p, asOf), nil
}

func (qs *QueryService) GetTokens(ctx context.Context) (*TokensResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := qs.views.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	return &TokensResponse{
		A:            aggregateFrom(tokens.A),
		B:            aggregateFrom(tokens.B),
		AsOfSequence: asOf,
	}, nil
}

func (qs *QueryService) GetDeposits(ctx context.Context) (*DepositsResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	d, err := qs.views.Deposits(ctx)
	if err != nil {
		return nil, err
	}
	return &DepositsResponse{
		Initialized:  d.PoolA != nil,
		A:            poolDepositsFrom(d.PoolA, d.PositionA),
		B:            poolDepositsFrom(d.PoolB, d.PositionB),
		AsOfSequence: asOf,
	}, nil
}

// GetUsers returns the liquidation-risk snapshot at the live price.
func (qs *QueryService) GetUsers(ctx context.Context) (*UsersResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	users, err := qs.views.Users(ctx)
	if err != nil {
		return nil, err
	}
	return &UsersResponse{
		Price:        math.FormatRate(users.Price),
		A:            riskFrom(users.A),
		B:            riskFrom(users.B),
		AsOfSequence: asOf,
	}, nil
}

func riskFrom(users []core.UserRisk) []UserRiskResponse {
	out := make([]UserRiskResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserRiskResponse{
			Identity:      u.Identity,
			Collateral:    u.Collateral,
			MinCollateral: u.MinCollateral,
			Shortfall:     max(u.MinCollateral-u.Collateral, 0),
			IsLiquidated:  u.IsLiquidated,
		})
	}
	return out
}

// GetHistory returns the participant's newest persisted events. The caller
// must be authorized for participant, as for GetBalance.
func (qs *QueryService) GetHistory(ctx context.Context, participant uuid.UUID, limit int) (*HistoryResponse, error) {
	if qs.log == nil {
		return nil, ErrNoEventLog
	}
	if _, err := qs.views.Balance(ctx, participant); err != nil {
		return nil, err
	}
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := qs.log.ParticipantEvents(ctx, participant, limit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	resp := &HistoryResponse{
		Participant:  participant,
		Events:       make([]EventResponse, 0, len(rows)),
		AsOfSequence: asOf,
	}
	for _, r := range rows {
		var payload any
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload of sequence %d: %w", r.Sequence, err)
		}
		resp.Events = append(resp.Events, EventResponse{
			Sequence:       r.Sequence,
			EventType:      r.EventType,
			IdempotencyKey: r.IdempotencyKey,
			Participant:    r.Participant,
			Payload:        payload,
			StateHash:      hex.EncodeToString(r.StateHash),
			Timestamp:      r.Timestamp,
		})
	}
	return resp, nil
}

// GetJournals returns the custody entries persisted for one sequence.
func (qs *QueryService) GetJournals(ctx context.Context, sequence int64) ([]JournalHistoryEntry, error) {
	if qs.log == nil {
		return nil, ErrNoEventLog
	}
	rows, err := qs.log.JournalsFor(ctx, sequence)
	if err != nil {
		return nil, fmt.Errorf("load journals: %w", err)
	}
	entries := make([]JournalHistoryEntry, 0, len(rows))
	for _, j := range rows {
		entries = append(entries, JournalHistoryEntry{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount,
			CreditAccount: j.CreditAccount,
			AssetID:       j.AssetID,
			Amount:        j.Amount,
			JournalType:   j.JournalType,
			Timestamp:     j.Timestamp,
		})
	}
	return entries, nil
}

// --- Admin APIs ---

// VerifyIntegrity recomputes conservation and, with an event log, checks
// the persisted hash chain. The persisted tip may trail the engine while
// the persistence worker catches up.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	seq, hash, err := qs.views.ChainTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain tip: %w", err)
	}
	report := &IntegrityReport{
		Conservation:    "ok",
		EngineSequence:  seq,
		EngineStateHash: hex.EncodeToString(hash[:]),
	}

	if err := qs.views.VerifyConservation(ctx); err != nil {
		if !errors.Is(err, core.ErrInvariantViolation) {
			return nil, err
		}
		report.Conservation = err.Error()
	}

	if qs.log != nil {
		persisted, err := qs.log.VerifyChain(ctx, 1000)
		report.PersistedSequence = persisted
		if err != nil {
			report.ChainError = err.Error()
		} else if persisted > seq {
			report.ChainError = fmt.Sprintf("persisted sequence %d ahead of engine %d", persisted, seq)
		}
	}

	report.IsHealthy = report.Conservation == "ok" && report.ChainError == ""
	return report, nil
}
