package core

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/observability"
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// dbLookupTimeout bounds the Postgres fallback so a slow database cannot
// stall the core goroutine indefinitely.
const dbLookupTimeout = 200 * time.Millisecond

// IdempotencyChecker deduplicates command ids: recent ids in memory,
// older ones against the event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// DBIdempotencyChecker looks a command up in durable storage.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(
	capacity int,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

// CompositeKey is the LRU key of a command: type and id together, so the
// same id reused for another command type is not a duplicate.
func CompositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate reports whether the command was already applied, asking the
// database only on an LRU miss. A failed lookup is an ErrUnavailable error:
// the command cannot be proven new, so it must not be applied.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	key := CompositeKey(eventType, idempotencyKey)
	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true, nil
	}
	if ic.dbChecker == nil {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbLookupTimeout)
	defer cancel()

	seen, err := ic.dbChecker.IsDuplicate(ctx, eventType, idempotencyKey)
	if err != nil {
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		ic.logger.Warn().Err(err).Str("event_type", eventType).Str("command_id", idempotencyKey).
			Msg("idempotency tier-2 lookup failed")
		return false, fmt.Errorf("dedup lookup %s: %v: %w", idempotencyKey, err, fault.ErrUnavailable)
	}

	if !seen {
		return false, nil
	}
	ic.recordDuplicate(eventType, "postgres")
	ic.lru.Add(key)
	return true, nil
}

// SeenRecently checks the LRU tier only.
func (ic *IdempotencyChecker) SeenRecently(eventType string, idempotencyKey string) bool {
	if ic.lru.Contains(CompositeKey(eventType, idempotencyKey)) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}
	return false
}

// MarkProcessed remembers an applied command.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	evicted := ic.lru.Add(CompositeKey(eventType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// IdempotencyLRU holds the most recently applied composite keys.
type IdempotencyLRU struct {
	cache     *lru.Cache[string, struct{}]
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	l := &IdempotencyLRU{}
	// lru.NewWithEvict only fails on a non-positive size.
	l.cache, _ = lru.NewWithEvict(capacity, func(string, struct{}) { l.evictions++ })
	return l
}

// Contains reports whether key is cached and marks it recently used.
func (l *IdempotencyLRU) Contains(key string) bool {
	_, ok := l.cache.Get(key)
	return ok
}

// Add records key and reports whether the oldest key was dropped for it.
func (l *IdempotencyLRU) Add(key string) bool {
	return l.cache.Add(key, struct{}{})
}

// WarmFromKeys adds keys in order; pass them oldest first.
func (l *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		l.cache.Add(key, struct{}{})
	}
}

// GetAllKeys returns keys oldest first, the order WarmFromKeys expects.
func (l *IdempotencyLRU) GetAllKeys() []string {
	return l.cache.Keys()
}

func (l *IdempotencyLRU) Size() int {
	return l.cache.Len()
}

func (l *IdempotencyLRU) Evictions() int64 {
	return l.evictions
}
