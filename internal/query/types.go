package query

import (
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/state"

	"github.com/google/uuid"
)

// Rates are rendered as decimal strings ("0.91"); amounts stay integers in
// asset base units. Every response carries as_of_sequence, the chain tip
// it was read at.

type AssetResponse struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

// ContractResponse describes the contract configuration and schedule.
type ContractResponse struct {
	Admin         uuid.UUID     `json:"admin"`
	AssetA        AssetResponse `json:"asset_a"`
	AssetB        AssetResponse `json:"asset_b"`
	ForwardRate   string        `json:"forward_rate"`
	SetupRate     string        `json:"setup_rate"`
	SpotRate      string        `json:"spot_rate"`
	InitTime      int64         `json:"init_time"`
	Maturity      int64         `json:"maturity"`
	SwapStart     int64         `json:"swap_start"`
	RepayStart    int64         `json:"repay_start"`
	WithdrawStart int64         `json:"withdraw_start"`
	AsOfSequence  int64         `json:"as_of_sequence"`
}

type StageResponse struct {
	Stage        string `json:"stage"`
	Now          int64  `json:"now"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type SpotResponse struct {
	SpotRate     string `json:"spot_rate"`
	Executed     bool   `json:"executed"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// CountersResponse mirrors ledger.Counters.
type CountersResponse struct {
	Deposited           int64 `json:"deposited_amount"`
	Collateral          int64 `json:"collateral"`
	Swapped             int64 `json:"swapped_amount"`
	Returned            int64 `json:"returned_amount"`
	Withdrawn           int64 `json:"withdrawn_amount"`
	Reclaimed           int64 `json:"reclaimed_amount"`
	WithdrawnCollateral int64 `json:"withdrawn_collateral"`
}

func countersFrom(c ledger.Counters) CountersResponse {
	return CountersResponse{
		Deposited:           c.DepositedAmount,
		Collateral:          c.Collateral,
		Swapped:             c.SwappedAmount,
		Returned:            c.ReturnedAmount,
		Withdrawn:           c.WithdrawnAmount,
		Reclaimed:           c.ReclaimedAmount,
		WithdrawnCollateral: c.WithdrawnCollateral,
	}
}

type AggregateResponse struct {
	Asset   AssetResponse `json:"asset"`
	Members int64         `json:"members"`
	CountersResponse
	Unswapped int64 `json:"unswapped"`
	Escrowed  int64 `json:"escrowed"`
}

func aggregateFrom(a *ledger.AssetAggregate) AggregateResponse {
	return AggregateResponse{
		Asset:            AssetResponse{ID: string(a.Asset), Symbol: a.Symbol},
		Members:          a.Members,
		CountersResponse: countersFrom(a.Counters),
		Unswapped:        a.Unswapped(),
		Escrowed:         a.Escrowed(),
	}
}

type TokensResponse struct {
	A            AggregateResponse `json:"a"`
	B            AggregateResponse `json:"b"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

type PoolResponse struct {
	Side       string `json:"side"`
	Limit      int64  `json:"limit"`
	Used       int64  `json:"used"`
	SlotAmount int64  `json:"slot_amount"`
}

type PositionResponse struct {
	Index       int64     `json:"index"`
	Participant uuid.UUID `json:"participant"`
	Valid       bool      `json:"valid"`
}

type PoolDeposits struct {
	Pool      *PoolResponse      `json:"pool"`
	Positions []PositionResponse `json:"positions"`
}

func poolDepositsFrom(p *state.Pool, entries []state.PositionEntry) PoolDeposits {
	out := PoolDeposits{Positions: make([]PositionResponse, 0, len(entries))}
	if p != nil {
		out.Pool = &PoolResponse{
			Side:       p.Side.String(),
			Limit:      p.Limit,
			Used:       p.Used,
			SlotAmount: p.SlotAmount,
		}
	}
	for _, e := range entries {
		out.Positions = append(out.Positions, PositionResponse{
			Index:       e.Index,
			Participant: e.Participant,
			Valid:       e.Valid,
		})
	}
	return out
}

type DepositsResponse struct {
	Initialized  bool         `json:"initialized"`
	A            PoolDeposits `json:"a"`
	B            PoolDeposits `json:"b"`
	AsOfSequence int64        `json:"as_of_sequence"`
}

type UserRiskResponse struct {
	Identity      uuid.UUID `json:"identity"`
	Collateral    int64     `json:"collateral"`
	MinCollateral int64     `json:"min_collateral"`
	Shortfall     int64     `json:"shortfall"`
	IsLiquidated  bool      `json:"is_liquidated"`
}

type UsersResponse struct {
	Price        string             `json:"price"`
	A            []UserRiskResponse `json:"a"`
	B            []UserRiskResponse `json:"b"`
	AsOfSequence int64              `json:"as_of_sequence"`
}

// EventResponse is one persisted settlement event.
type EventResponse struct {
	Sequence       int64      `json:"sequence"`
	EventType      string     `json:"event_type"`
	IdempotencyKey string     `json:"idempotency_key"`
	Participant    *uuid.UUID `json:"participant,omitempty"`
	Payload        any        `json:"payload"`
	StateHash      string     `json:"state_hash"`
	Timestamp      int64      `json:"timestamp"`
}

// JournalHistoryEntry is one custody journal entry.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       string `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

type HistoryResponse struct {
	Participant  uuid.UUID       `json:"participant"`
	Events       []EventResponse `json:"events"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy         bool   `json:"is_healthy"`
	Conservation      string `json:"conservation"`
	EngineSequence    int64  `json:"engine_sequence"`
	EngineStateHash   string `json:"engine_state_hash"`
	PersistedSequence int64  `json:"persisted_sequence,omitempty"`
	ChainError        string `json:"chain_error,omitempty"`
}
