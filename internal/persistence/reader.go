package persistence

import (
	"FXSwapLedger/internal/core"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventLogReader reads the persisted settlement log back for queries and
// audits.
type EventLogReader struct {
	db *sql.DB
}

func NewEventLogReader(db *sql.DB) *EventLogReader {
	return &EventLogReader{db: db}
}

// EventsFrom loads up to limit events starting at fromSequence.
func (r *EventLogReader) EventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, participant, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ParticipantEvents loads the newest events that concern participant,
// oldest first.
func (r *EventLogReader) ParticipantEvents(ctx context.Context, participant uuid.UUID, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT sequence, event_type, idempotency_key, participant, payload,
			       state_hash, prev_hash, timestamp
			FROM event_log.events
			WHERE participant = $1
			ORDER BY sequence DESC
			LIMIT $2
		) recent
		ORDER BY sequence ASC
	`, participant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]EventRow, error) {
	var events []EventRow
	for rows.Next() {
		var (
			e           EventRow
			participant uuid.NullUUID
			ts          time.Time
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &participant,
			&e.Payload, &e.StateHash, &e.PrevHash, &ts,
		); err != nil {
			return nil, err
		}
		if participant.Valid {
			p := participant.UUID
			e.Participant = &p
		}
		e.Timestamp = ts.Unix()
		events = append(events, e)
	}
	return events, rows.Err()
}

// JournalsFor loads the custody journal entries of one event.
func (r *EventLogReader) JournalsFor(ctx context.Context, sequence int64) ([]JournalRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account,
		       credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE sequence = $1
		ORDER BY journal_id
	`, sequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var journals []JournalRow
	for rows.Next() {
		var (
			j  JournalRow
			ts time.Time
		)
		if err := rows.Scan(
			&j.JournalID, &j.BatchID, &j.EventRef, &j.Sequence, &j.DebitAccount,
			&j.CreditAccount, &j.AssetID, &j.Amount, &j.JournalType, &ts,
		); err != nil {
			return nil, err
		}
		j.Timestamp = ts.Unix()
		journals = append(journals, j)
	}
	return journals, rows.Err()
}

// LatestSequence returns the highest persisted sequence, 0 for an empty log.
func (r *EventLogReader) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// VerifyChain checks that persisted events form an unbroken hash chain from
// genesis: consecutive sequences, each prev_hash equal to the previous
// state_hash. It returns the last verified sequence.
func (r *EventLogReader) VerifyChain(ctx context.Context, pageSize int) (int64, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	prev := core.GenesisHash()
	var last int64

	for {
		events, err := r.EventsFrom(ctx, last+1, pageSize)
		if err != nil {
			return last, fmt.Errorf("load events from %d: %w", last+1, err)
		}
		for _, e := range events {
			if e.Sequence != last+1 {
				return last, fmt.Errorf("sequence gap: expected %d, got %d", last+1, e.Sequence)
			}
			if !bytes.Equal(e.PrevHash, prev[:]) {
				return last, fmt.Errorf("prev_hash mismatch at sequence %d", e.Sequence)
			}
			if len(e.StateHash) != len(prev) {
				return last, fmt.Errorf("malformed state_hash at sequence %d", e.Sequence)
			}
			copy(prev[:], e.StateHash)
			last = e.Sequence
		}
		if len(events) < pageSize {
			return last, nil
		}
	}
}
