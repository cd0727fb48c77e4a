package persistence

import (
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/observability"
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

const (
	retryInitialBackoff = 100 * time.Millisecond
	retryMaxBackoff     = 30 * time.Second
)

// PersistenceWorker drains the persist channel into the Postgres event log.
// The engine's send on that channel blocks, so a stalled database stalls
// settlement rather than dropping committed operations.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    max(batchSize, 1),
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// batch accumulates rows between flushes.
type batch struct {
	events   []EventRow
	journals []JournalRow
}

func (b *batch) add(out core.CoreOutput) {
	row, journals := RowsFromOutput(out)
	b.events = append(b.events, row)
	b.journals = append(b.journals, journals...)
}

func (b *batch) empty() bool { return len(b.events) == 0 }

func (b *batch) reset() {
	b.events = b.events[:0]
	b.journals = b.journals[:0]
}

// Run writes a batch when it reaches batchSize or every flushTimeout,
// whichever comes first. It returns nil once the input channel is closed
// and drained, or ctx.Err() after a last flush on cancellation.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := &batch{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*2),
	}
	ticker := time.NewTicker(pw.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.finalFlush(pending)
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				pw.finalFlush(pending)
				return nil
			}
			pending.add(out)
			if len(pending.events) < pw.batchSize {
				continue
			}
			pw.flushWithRetry(ctx, pending)
			ticker.Reset(pw.flushTimeout)

		case <-ticker.C:
			if !pending.empty() {
				pw.flushWithRetry(ctx, pending)
			}
		}
	}
}

func (pw *PersistenceWorker) finalFlush(pending *batch) {
	if pending.empty() {
		return
	}
	if err := pw.flush(context.Background(), pending); err != nil {
		pw.logger.Error().Err(err).Int("events", len(pending.events)).Msg("final flush failed")
	}
	pending.reset()
}

// flushWithRetry keeps retrying with capped exponential backoff. Once ctx
// is cancelled it hands the batch to finalFlush and gives up.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, pending *batch) {
	defer pending.reset()

	backoff := retryInitialBackoff
	for attempt := 1; ; attempt++ {
		err := pw.flush(ctx, pending)
		if err == nil {
			if attempt > 1 {
				pw.logger.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}
		pw.countError("retry")
		pw.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Int("events", len(pending.events)).
			Msg("persistence flush failed")

		select {
		case <-ctx.Done():
			pw.finalFlush(pending)
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, retryMaxBackoff)
	}
}

// flush commits one batch in a single transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, pending *batch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, pending.events, tx); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, pending.journals, tx); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if m := pw.metrics; m != nil {
		m.PersistBatchDur.Observe(time.Since(start).Seconds())
		m.PersistBatchSize.Observe(float64(len(pending.events)))
		m.PersistEventsWritten.Add(float64(len(pending.events)))
		m.PersistJournalsWritten.Add(float64(len(pending.journals)))
		m.PersistLastSequence.Set(float64(pending.events[len(pending.events)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
