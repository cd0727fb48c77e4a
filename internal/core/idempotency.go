package core

import (
	"FXSwapLedger/internal/observability"
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// IdempotencyChecker implements two-tier deduplication of client request
// keys. Keys are scoped by operation name.
type IdempotencyChecker struct {
	mu  sync.Mutex
	lru *IdempotencyLRU

	// dbChecker is the durable tier behind the LRU; nil in memory mode.
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// DBIdempotencyChecker looks a key up in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, operation string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

func compositeKey(operation, key string) string {
	return operation + ":" + key
}

// IsDuplicate reports whether the request was already applied. An empty key
// is never a duplicate.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, operation string, idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false
	}
	key := compositeKey(operation, idempotencyKey)

	ic.mu.Lock()
	hit := ic.lru.Contains(key)
	ic.mu.Unlock()
	if hit {
		ic.recordDuplicate("lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	start := time.Now()
	isDup, err := ic.dbChecker.IsDuplicate(ctx, operation, idempotencyKey)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// A dedup outage must not block settlement; the LRU still covers
		// recent retries.
		ic.logger.Warn().Err(err).Str("operation", operation).Msg("tier-2 dedup lookup failed")
		return false
	}
	if isDup {
		ic.recordDuplicate("postgres")
		ic.MarkProcessed(operation, idempotencyKey)
	}
	return isDup
}

// MarkProcessed records a key whose operation committed.
func (ic *IdempotencyChecker) MarkProcessed(operation string, idempotencyKey string) {
	if idempotencyKey == "" {
		return
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()

	before := ic.lru.Evictions()
	ic.lru.Add(compositeKey(operation, idempotencyKey))
	ic.updateGauges(before)
}

// Warm loads composite operation:key pairs, typically the most recent rows
// of the event log, so restarts do not fall through to tier 2.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	before := ic.lru.Evictions()
	ic.lru.WarmFromKeys(keys)
	ic.updateGauges(before)
}

func (ic *IdempotencyChecker) updateGauges(evictionsBefore int64) {
	if ic.metrics == nil {
		return
	}
	ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	if delta := ic.lru.Evictions() - evictionsBefore; delta > 0 {
		ic.metrics.DedupLRUEvictions.Add(float64(delta))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

// IdempotencyLRU is a bounded recency set of composite keys. Not safe for
// concurrent use; IdempotencyChecker holds its mutex around every call.
type IdempotencyLRU struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List // front is most recent
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	capacity = max(capacity, 1)
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports membership and refreshes the key's recency.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts key as most recent.
func (lru *IdempotencyLRU) Add(key string) {
	if !lru.insert(key) {
		lru.order.MoveToFront(lru.index[key])
	}
}

// WarmFromKeys inserts keys in order. Keys already present keep their
// position.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.insert(key)
	}
}

// insert adds a new key at the front, evicting the oldest key past
// capacity. It returns false when key was already present.
func (lru *IdempotencyLRU) insert(key string) bool {
	if _, ok := lru.index[key]; ok {
		return false
	}
	lru.index[key] = lru.order.PushFront(key)
	for lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(string))
		lru.evictions++
	}
	return true
}

func (lru *IdempotencyLRU) Size() int { return lru.order.Len() }

func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
