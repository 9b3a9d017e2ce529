package projection

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/observability"
	"ParamLedger/internal/state"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WatermarkName is the projections.watermark row this worker owns.
const WatermarkName = "main"

// ProjectionWorker updates the read-model tables from applied commands.
// The core feeds it with a non-blocking send, so it may miss outputs; Resync
// rebuilds everything from core state.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies outputs until ctx is cancelled or the channel closes.
// Failures are logged and skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	pw.lastSeq = last

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).
					Msg("projection gap, outputs were dropped; resync to repair")
			}
			start := time.Now()
			if err := pw.apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(WatermarkName).Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, out core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := out.Envelope.Sequence
	for _, d := range BalanceDeltas(out.Batch) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_path)
			DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4, updated_at = NOW()
		`, d.AccountPath, d.AssetID, d.Delta, seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, r := range out.Records {
		if err := upsertRecord(ctx, tx, r, seq); err != nil {
			return err
		}
	}

	for _, e := range SettlementEntries(out) {
		if err := insertSettlement(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertRecord(ctx context.Context, tx *sql.Tx, r state.Record, seq int64) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	var parent *string
	if id := r.ParentID(); id != uuid.Nil {
		s := id.String()
		parent = &s
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.records (kind, record_id, parent_id, status, payload, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (kind, record_id)
		DO UPDATE SET status = $4, payload = $5, last_sequence = $6, updated_at = NOW()
	`, string(r.RecordKind()), r.RecordID().String(), parent, r.StatusName(), payload, seq); err != nil {
		return fmt.Errorf("record projection %s: %w", r.RecordKind(), err)
	}
	return nil
}

func insertSettlement(ctx context.Context, tx *sql.Tx, e SettlementEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.settlements
			(journal_id, sequence, command_type, partition_key, journal_type, from_account, to_account,
			 asset_id, amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (journal_id) DO NOTHING
	`, e.JournalID, e.Sequence, e.CommandType, e.PartitionKey, e.JournalType, e.FromAccount, e.ToAccount,
		e.AssetID, e.Amount, e.Timestamp)
	if err != nil {
		return fmt.Errorf("settlement projection: %w", err)
	}
	return nil
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WatermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// LoadWatermark returns the last projected sequence, 0 if none.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`, WatermarkName,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// Resync replaces the balance and record projections with snap and
// rebuilds settlement history from the event log journal. snap must have
// been captured on the core goroutine; run Resync before starting the
// worker.
func Resync(ctx context.Context, db *sql.DB, snap *core.SnapshotState) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.records`,
		`TRUNCATE projections.settlements`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	for key, balance := range snap.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, key.AccountPath(), uint16(key.AssetID), balance, snap.Sequence); err != nil {
			return fmt.Errorf("resync balance %s: %w", key, err)
		}
	}

	if snap.Records != nil {
		for _, r := range snapshotRecords(snap.Records) {
			if err := upsertRecord(ctx, tx, r, snap.Sequence); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.settlements
			(journal_id, sequence, command_type, partition_key, journal_type, from_account, to_account,
			 asset_id, amount, timestamp)
		SELECT j.journal_id, j.sequence, e.command_type, e.partition_key, j.journal_type,
		       j.credit_account, j.debit_account, j.asset_id, j.amount, j.timestamp
		FROM event_log.journal j
		JOIN event_log.events e ON e.sequence = j.sequence
		WHERE j.journal_type = ANY($1) AND j.sequence <= $2
	`, settlementTypeNames(), snap.Sequence); err != nil {
		return fmt.Errorf("rebuild settlements: %w", err)
	}

	if err := setWatermark(ctx, tx, snap.Sequence); err != nil {
		return err
	}
	return tx.Commit()
}

func snapshotRecords(s *state.Snapshot) []state.Record {
	var out []state.Record
	for _, r := range s.Policies {
		out = append(out, r)
	}
	for _, r := range s.Underwritings {
		out = append(out, r)
	}
	for _, r := range s.Pools {
		out = append(out, r)
	}
	for _, r := range s.Claims {
		out = append(out, r)
	}
	for _, r := range s.Registries {
		out = append(out, r)
	}
	for _, r := range s.Masters {
		out = append(out, r)
	}
	for _, r := range s.Flights {
		out = append(out, r)
	}
	return out
}
