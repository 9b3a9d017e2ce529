package main

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/ingestion"
	"ParamLedger/internal/observability"
	"ParamLedger/internal/persistence"
	"context"
	"time"

	"github.com/rs/zerolog"
)

type coreLoopConfig struct {
	interval    int64
	checkPeriod time.Duration
}

// runCoreLoop is the only goroutine that touches c. Snapshot state is
// captured here and handed to the writer; a capture is skipped while the
// writer is still busy with the previous one.
func runCoreLoop(
	ctx context.Context,
	c *core.DeterministicCore,
	subs <-chan ingestion.Submission,
	snapshots chan<- *core.SnapshotState,
	cfg coreLoopConfig,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(cfg.checkPeriod)
	defer ticker.Stop()

	lastSnapshot := c.GetSequence()
	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-subs:
			ingestion.Apply(c, sub, metrics)
			if metrics != nil {
				metrics.ChannelSize.WithLabelValues("submit").Set(float64(len(subs)))
			}

		case <-ticker.C:
			seq := c.GetSequence()
			if seq-lastSnapshot < cfg.interval {
				continue
			}
			select {
			case snapshots <- c.CreateSnapshotState():
				lastSnapshot = seq
			default:
			}
		}
	}
}

// writeSnapshots persists captured states until snapshots is closed.
func writeSnapshots(
	sm *persistence.SnapshotManager,
	snapshots <-chan *core.SnapshotState,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	for s := range snapshots {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := persistence.TakeSnapshot(ctx, sm, s, metrics); err != nil {
			logger.Error().Err(err).Msg("periodic snapshot failed")
		} else {
			logger.Info().Int64("sequence", s.Sequence).Msg("snapshot saved")
		}
		cancel()
	}
}
