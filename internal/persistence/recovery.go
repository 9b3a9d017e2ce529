package persistence

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// RecoveryStats summarises a startup recovery.
type RecoveryStats struct {
	SnapshotSequence int64 // 0 on cold start
	Replayed         int64
	Duration         time.Duration
}

// Recover restores c from the latest verified snapshot and replays the
// event log after it. Every replayed event must reproduce its logged state
// hash; any mismatch aborts recovery.
func Recover(
	ctx context.Context,
	sm *SnapshotManager,
	c *core.DeterministicCore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (RecoveryStats, error) {
	start := time.Now()
	var stats RecoveryStats

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return stats, err
	}
	if snap != nil {
		coreSnap, err := snap.ToCore()
		if err != nil {
			return stats, err
		}
		c.RestoreFromSnapshot(coreSnap)
		stats.SnapshotSequence = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, replaying from genesis")
	}

	from := c.GetSequence()
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return stats, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return stats, err
			}
			if err := c.ReplayEvent(env); err != nil {
				return stats, err
			}
			stats.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	stats.Duration = time.Since(start)
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(stats.Replayed))
		metrics.ReplayDuration.Set(stats.Duration.Seconds())
	}
	logger.Info().Int64("replayed", stats.Replayed).Int64("next_sequence", c.GetSequence()).
		Dur("duration", stats.Duration).Msg("recovery complete")
	return stats, nil
}

// TakeSnapshot writes s and marks it verified. s must have been captured on
// the core goroutine.
func TakeSnapshot(ctx context.Context, sm *SnapshotManager, s *core.SnapshotState, metrics *observability.Metrics) error {
	start := time.Now()
	data := SnapshotFromCore(s, time.Now().UTC())

	size, err := sm.SaveSnapshot(ctx, data)
	if err != nil {
		return err
	}
	if err := sm.MarkVerified(ctx, data.Sequence); err != nil {
		return fmt.Errorf("mark snapshot %d verified: %w", data.Sequence, err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	return nil
}
