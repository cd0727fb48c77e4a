package core

import (
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/observability"
	"FXSwapLedger/internal/state"
	"FXSwapLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine settles one FX swap contract. Operations are serialized; each runs
// against a store transaction and either commits every record it touched
// together with its custody transfers, or nothing.
type Engine struct {
	mu sync.Mutex

	store        store.Store
	clock        Clock
	oracle       Oracle
	custody      Custody
	authorizer   Authorizer
	margin       *state.MarginCalculator
	liquidations *state.LiquidationManager
	validator    *ledger.InvariantValidator
	journalGen   *ledger.JournalGenerator

	verifyInvariants bool
	logger           zerolog.Logger
	metrics          *observability.Metrics

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// CoreOutput is one committed operation.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	Batch    *ledger.Batch // nil when the operation moved no tokens
}

type Options struct {
	Store      store.Store
	Clock      Clock
	Oracle     Oracle
	Custody    Custody
	Authorizer Authorizer

	// RiskParams defaults to state.DefaultRiskParams.
	RiskParams *state.RiskParams

	// VerifyInvariants recomputes every aggregate from participant records
	// before each commit.
	VerifyInvariants bool

	Logger  zerolog.Logger
	Metrics *observability.Metrics

	// PersistChan receives every output with a blocking send.
	PersistChan chan<- CoreOutput
	// PublishChan receives outputs when it has room; otherwise they are dropped.
	PublishChan chan<- CoreOutput
}

func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("engine: store is required")
	case opts.Clock == nil:
		return nil, errors.New("engine: clock is required")
	case opts.Oracle == nil:
		return nil, errors.New("engine: oracle is required")
	case opts.Custody == nil:
		return nil, errors.New("engine: custody is required")
	case opts.Authorizer == nil:
		return nil, errors.New("engine: authorizer is required")
	}

	params := state.DefaultRiskParams
	if opts.RiskParams != nil {
		params = *opts.RiskParams
	}
	if err := state.ValidateRiskParams(params); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	margin := state.NewMarginCalculator(params)
	return &Engine{
		store:            opts.Store,
		clock:            opts.Clock,
		oracle:           opts.Oracle,
		custody:          opts.Custody,
		authorizer:       opts.Authorizer,
		margin:           margin,
		liquidations:     state.NewLiquidationManager(margin),
		validator:        ledger.NewInvariantValidator(),
		journalGen:       ledger.NewJournalGenerator(nil),
		verifyInvariants: opts.VerifyInvariants,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		persistChan:      opts.PersistChan,
		publishChan:      opts.PublishChan,
	}, nil
}

// op is the working set of one operation.
type op struct {
	ctx       context.Context
	now       int64
	tx        *store.Tx
	rec       records
	positions *state.PositionManager
	cfg       *ContractConfig

	legs  []ledger.TransferLeg
	event event.Event
}

func (o *op) transfer(from, to ledger.AccountKey, asset ledger.AssetID, amount int64, typ ledger.JournalType) {
	o.legs = append(o.legs, ledger.TransferLeg{From: from, To: to, Asset: asset, Amount: amount, Type: typ})
}

// requireConfig fails with ErrNotInitialized before Initialize.
func (o *op) requireConfig() (*ContractConfig, error) {
	if o.cfg == nil {
		return nil, ErrNotInitialized
	}
	return o.cfg, nil
}

func (e *Engine) begin(ctx context.Context) (*op, error) {
	tx := store.Begin(e.store)
	rec := records{tx: tx}
	cfg, err := rec.config(ctx)
	if err != nil {
		return nil, err
	}
	return &op{
		ctx:       ctx,
		now:       e.clock.Now(),
		tx:        tx,
		rec:       rec,
		positions: state.NewPositionManager(tx),
		cfg:       cfg,
	}, nil
}

// authorize maps any authorizer failure to ErrUnauthorized.
func (e *Engine) authorize(ctx context.Context, id uuid.UUID) error {
	if err := e.authorizer.RequireAuthorization(ctx, id); err != nil {
		e.logger.Debug().Err(err).Str("identity", id.String()).Msg("authorization failed")
		return ErrUnauthorized
	}
	return nil
}

// view runs a read-only function against the committed state.
func (e *Engine) view(ctx context.Context, fn func(o *op) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.begin(ctx)
	if err != nil {
		return err
	}
	return fn(o)
}

// apply is the processing pipeline shared by every mutating operation:
// run the operation, verify, extend the hash chain, move tokens, commit,
// emit. Escrow shortfalls surface from custody, before any record is
// written. A failed commit reverses the custody batch. An operation that
// buffers no writes and no transfers commits nothing.
func (e *Engine) apply(ctx context.Context, name string, fn func(o *op) error) error {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.begin(ctx)
	if err != nil {
		return e.reject(name, err)
	}

	if err := fn(o); err != nil {
		return e.reject(name, err)
	}
	if !o.tx.Dirty() && len(o.legs) == 0 {
		return nil
	}

	if e.verifyInvariants {
		if err := e.checkConservation(ctx, o.rec); err != nil {
			if e.metrics != nil {
				e.metrics.ConservationFailed.Inc()
			}
			e.logger.Error().Err(err).Str("operation", name).Int("legs", len(o.legs)).Msg("conservation check failed")
			return e.reject(name, fmt.Errorf("%w: %v", ErrInvariantViolation, err))
		}
	}

	hashStart := time.Now()
	tip, err := o.rec.tip(ctx)
	if err != nil {
		return e.fail(name, "load chain tip", err)
	}
	sequence := tip.Sequence + 1
	stateHash := ComputeHash(tip.Hash, sequence, StateDigest(o.tx.Writes()))
	if err := o.rec.putTip(chainTip{Sequence: sequence, Hash: stateHash}); err != nil {
		return e.fail(name, "write chain tip", err)
	}
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Custody is the last step that can fail before the commit.
	if len(o.legs) > 0 {
		if err := e.custody.Transfer(ctx, o.legs...); err != nil {
			return e.reject(name, fmt.Errorf("custody transfer: %w", err))
		}
	}

	if err := o.tx.Commit(ctx); err != nil {
		e.reverseCustody(name, o.legs)
		return e.fail(name, "commit", err)
	}

	output, err := e.buildOutput(ctx, o, sequence, tip.Hash, stateHash)
	if err != nil {
		// State is committed; only the emitted record is affected.
		e.logger.Error().Err(err).Int64("sequence", sequence).Msg("build output failed")
	} else {
		e.emit(output)
	}

	if e.metrics != nil {
		e.metrics.OperationsApplied.WithLabelValues(name).Inc()
		e.metrics.OperationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(sequence))
		for _, leg := range o.legs {
			if leg.Amount > 0 {
				e.metrics.CustodyVolume.WithLabelValues(string(leg.Asset), leg.Type.String()).Add(float64(leg.Amount))
			}
		}
	}
	e.logger.Debug().
		Str("operation", name).
		Int64("sequence", sequence).
		Int("legs", len(o.legs)).
		Msg("operation applied")
	return nil
}

func (e *Engine) buildOutput(ctx context.Context, o *op, sequence int64, prevHash, stateHash [32]byte) (CoreOutput, error) {
	envelope := &event.EventEnvelope{
		Sequence:       sequence,
		IdempotencyKey: requestKeyFrom(ctx),
		Timestamp:      o.now,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	if o.event != nil {
		payload, err := event.EncodePayload(o.event)
		if err != nil {
			return CoreOutput{}, err
		}
		envelope.EventType = o.event.EventType()
		envelope.Participant = o.event.Subject()
		envelope.Payload = payload
	}

	var batch *ledger.Batch
	if len(o.legs) > 0 {
		b, err := e.journalGen.Generate(envelope.DedupKey(), sequence, o.now, o.legs)
		if err != nil {
			return CoreOutput{}, err
		}
		if len(b.Journals) > 0 {
			batch = b
		}
	}
	return CoreOutput{Envelope: envelope, Event: o.event, Batch: batch}, nil
}

// emit hands output to the workers. Persistence is a blocking send so no
// committed operation is lost; publishing drops when the channel is full.
func (e *Engine) emit(output CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}

	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

// reverseCustody undoes a batch whose ledger commit failed. The legs are
// replayed backwards with payer and payee swapped; the engine lock is held,
// so the accounts still hold what the batch paid into them.
func (e *Engine) reverseCustody(name string, legs []ledger.TransferLeg) {
	if len(legs) == 0 {
		return
	}
	reversed := make([]ledger.TransferLeg, 0, len(legs))
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		leg.From, leg.To = leg.To, leg.From
		reversed = append(reversed, leg)
	}

	// The caller's context may be what failed the commit.
	result := "reversed"
	if err := e.custody.Transfer(context.Background(), reversed...); err != nil {
		result = "failed"
		e.logger.Error().Err(err).Str("operation", name).Int("legs", len(legs)).Msg("custody reversal failed")
	} else {
		e.logger.Warn().Str("operation", name).Int("legs", len(legs)).Msg("custody reversed after commit failure")
	}
	if e.metrics != nil {
		e.metrics.CustodyReversals.WithLabelValues(result).Inc()
	}
}

func (e *Engine) reject(name string, err error) error {
	if e.metrics != nil {
		e.metrics.OperationsRejected.WithLabelValues(name, reason(err)).Inc()
	}
	if CodeOf(err) == 0 {
		e.logger.Error().Err(err).Str("operation", name).Msg("operation failed")
	} else {
		e.logger.Debug().Err(err).Str("operation", name).Msg("operation rejected")
	}
	return err
}

func (e *Engine) fail(name, stage string, err error) error {
	return e.reject(name, fmt.Errorf("%s: %w", stage, err))
}

// checkConservation recomputes both aggregates from participant records.
func (e *Engine) checkConservation(ctx context.Context, rec records) error {
	cfg, err := rec.config(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}

	var aggregates []*ledger.AssetAggregate
	var participants []*ledger.Participant
	for _, side := range []state.Side{state.SideA, state.SideB} {
		agg, err := rec.aggregate(ctx, side)
		if err != nil {
			return err
		}
		members, err := rec.participants(ctx, side, agg.Members)
		if err != nil {
			return err
		}
		aggregates = append(aggregates, agg)
		participants = append(participants, members...)
	}

	for _, p := range participants {
		if err := e.validator.ValidateParticipant(p); err != nil {
			return err
		}
	}
	for _, agg := range aggregates {
		if err := e.validator.ValidateConservation(agg, participants); err != nil {
			return err
		}
		if err := e.validator.ValidateAggregate(agg); err != nil {
			return err
		}
	}
	return nil
}
