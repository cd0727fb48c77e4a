package oracle

import (
	"FXSwapLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var ErrStalePrice = errors.New("oracle: price older than max age")

// Update is one streamed quote. Sequence is the publisher's monotonic
// counter for the pair.
type Update struct {
	AssetA    string `json:"asset_a"`
	AssetB    string `json:"asset_b"`
	Price     int64  `json:"price"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type feedEntry struct {
	data     PriceData
	sequence int64
}

// Feed keeps the latest streamed price per pair. Updates at or below the
// last accepted sequence are ignored; gaps are accepted and counted.
type Feed struct {
	mu      sync.RWMutex
	entries map[string]feedEntry

	maxAge  int64 // seconds, 0 disables the check
	now     func() int64
	logger  zerolog.Logger
	metrics *observability.Metrics
}

type FeedOptions struct {
	MaxAge  int64
	Now     func() int64
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

func NewFeed(opts FeedOptions) *Feed {
	return &Feed{
		entries: make(map[string]feedEntry),
		maxAge:  opts.MaxAge,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Apply records u and reports whether it was accepted.
func (f *Feed) Apply(u Update) (bool, error) {
	if u.Price <= 0 {
		return false, fmt.Errorf("non-positive price %d for %s", u.Price, PairKey(u.AssetA, u.AssetB))
	}
	pair := PairKey(u.AssetA, u.AssetB)

	f.mu.Lock()
	defer f.mu.Unlock()

	current, seen := f.entries[pair]
	if seen && u.Sequence <= current.sequence {
		// Stale or duplicate - silently ignore (idempotent)
		if f.metrics != nil {
			f.metrics.OracleUpdates.WithLabelValues(pair, "stale").Inc()
		}
		return false, nil
	}
	if seen && u.Sequence > current.sequence+1 {
		f.logger.Warn().
			Str("pair", pair).
			Int64("expected", current.sequence+1).
			Int64("got", u.Sequence).
			Msg("price sequence gap")
		if f.metrics != nil {
			f.metrics.OracleSequenceGap.WithLabelValues(pair).Inc()
		}
	}

	f.entries[pair] = feedEntry{
		data:     PriceData{Price: u.Price, Timestamp: u.Timestamp},
		sequence: u.Sequence,
	}
	if f.metrics != nil {
		f.metrics.OracleUpdates.WithLabelValues(pair, "accepted").Inc()
		f.metrics.OraclePrice.WithLabelValues(pair).Set(float64(u.Price))
	}
	return true, nil
}

// SpotPrice returns the latest accepted quote of the pair.
func (f *Feed) SpotPrice(_ context.Context, assetA, assetB string) (PriceData, error) {
	pair := PairKey(assetA, assetB)

	f.mu.RLock()
	entry, ok := f.entries[pair]
	f.mu.RUnlock()

	if !ok {
		return PriceData{}, fmt.Errorf("%w %s", ErrNoPrice, pair)
	}
	if f.maxAge > 0 && f.now != nil && f.now()-entry.data.Timestamp > f.maxAge {
		return PriceData{}, fmt.Errorf("%w: %s quoted at %d", ErrStalePrice, pair, entry.data.Timestamp)
	}
	return entry.data, nil
}

// LastSequence returns the last accepted sequence of the pair.
func (f *Feed) LastSequence(assetA, assetB string) (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[PairKey(assetA, assetB)]
	return e.sequence, ok
}
