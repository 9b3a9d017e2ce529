package query

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	"ParamLedger/internal/projection"
	"ParamLedger/internal/state"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000

	integrityPageSize = 5000
	maxReportedBreaks = 100
)

// QueryService provides read-only access to the projection tables and the
// event log. Responses carry as_of_sequence, the last command the
// projections reflect.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

var recordKinds = map[string]state.RecordKind{
	string(state.KindPolicy):       state.KindPolicy,
	string(state.KindUnderwriting): state.KindUnderwriting,
	string(state.KindRiskPool):     state.KindRiskPool,
	string(state.KindClaim):        state.KindClaim,
	string(state.KindRegistry):     state.KindRegistry,
	string(state.KindMaster):       state.KindMaster,
	string(state.KindFlight):       state.KindFlight,
}

// ParseRecordKind validates a record kind name from a URL.
func ParseRecordKind(name string) (state.RecordKind, error) {
	kind, ok := recordKinds[name]
	if !ok {
		return "", fmt.Errorf("record kind %q: %w", name, fault.ErrInvalidInput)
	}
	return kind, nil
}

// GetRecord returns one record by kind and id.
func (qs *QueryService) GetRecord(ctx context.Context, kind state.RecordKind, id uuid.UUID) (*RecordResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	r := RecordResponse{AsOfSequence: asOfSeq}
	var parent sql.NullString
	var payload []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT kind, record_id, parent_id, status, payload, last_sequence
		FROM projections.records
		WHERE kind = $1 AND record_id = $2
	`, string(kind), id.String()).Scan(&r.Kind, &r.ID, &parent, &r.Status, &payload, &r.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, fault.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		r.ParentID = &parent.String
	}
	r.Record = payload
	return &r, nil
}

// ListChildren returns the records of kind whose parent is parentID, e.g.
// the flights of a master or the claims of a policy.
func (qs *QueryService) ListChildren(ctx context.Context, kind state.RecordKind, parentID uuid.UUID) ([]RecordResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT kind, record_id, parent_id, status, payload, last_sequence
		FROM projections.records
		WHERE kind = $1 AND parent_id = $2
		ORDER BY last_sequence, record_id
	`, string(kind), parentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecordResponse
	for rows.Next() {
		r := RecordResponse{AsOfSequence: asOfSeq}
		var parent sql.NullString
		var payload []byte
		if err := rows.Scan(&r.Kind, &r.ID, &parent, &r.Status, &payload, &r.LastSequence); err != nil {
			return nil, err
		}
		if parent.Valid {
			r.ParentID = &parent.String
		}
		r.Record = payload
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetJournalHistory returns journal entries touching accountPath, newest
// first. afterSequence, when set, is an exclusive upper bound cursor.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	key, err := ledger.ParseAccountPath(accountPath)
	if err != nil {
		return nil, err
	}
	if key.IsZero() {
		return nil, fmt.Errorf("empty account path: %w", fault.ErrInvalidInput)
	}
	path := key.AccountPath()

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		       authority, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{path}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Authority, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListSettlements returns the settlement legs of one policy or master,
// oldest first.
func (qs *QueryService) ListSettlements(ctx context.Context, partitionKey string, limit int) ([]SettlementResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT journal_id, sequence, command_type, partition_key, journal_type,
		       from_account, to_account, asset_id, amount, timestamp
		FROM projections.settlements
		WHERE partition_key = $1
		ORDER BY sequence, journal_id
		LIMIT $2
	`, partitionKey, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementResponse
	for rows.Next() {
		var s SettlementResponse
		if err := rows.Scan(
			&s.JournalID, &s.Sequence, &s.CommandType, &s.PartitionKey, &s.JournalType,
			&s.FromAccount, &s.ToAccount, &s.AssetID, &s.Amount, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity walks the whole event log hash chain and checks that the
// projected balances of every asset sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	chain := NewChainChecker()
	var from int64
	for {
		links, err := qs.loadLinks(ctx, from, integrityPageSize)
		if err != nil {
			return nil, fmt.Errorf("load hash chain from %d: %w", from, err)
		}
		if len(links) == 0 {
			break
		}
		for _, l := range links {
			if !chain.Next(l) && len(report.HashChainBreaks) < maxReportedBreaks {
				report.HashChainBreaks = append(report.HashChainBreaks, l.Sequence)
			}
		}
		report.CheckedEvents += int64(len(links))
		from = links[len(links)-1].Sequence + 1
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
		ORDER BY asset_id
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

func (qs *QueryService) loadLinks(ctx context.Context, from int64, limit int) ([]ChainLink, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []ChainLink
	for rows.Next() {
		var l ChainLink
		if err := rows.Scan(&l.Sequence, &l.StateHash, &l.PrevHash); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ChainChecker verifies hash chain links in sequence order: sequences start
// at 1 without gaps, the first link points at the genesis hash, and every
// other link points at its predecessor's state hash.
type ChainChecker struct {
	nextSeq  int64
	prevHash []byte
}

func NewChainChecker() *ChainChecker {
	genesis := core.GenesisHash()
	return &ChainChecker{nextSeq: 1, prevHash: genesis[:]}
}

// Next checks l and advances. After a break it resynchronises on l, so one
// tampered event is reported once.
func (c *ChainChecker) Next(l ChainLink) bool {
	ok := l.Sequence == c.nextSeq && bytes.Equal(l.PrevHash, c.prevHash)
	c.nextSeq = l.Sequence + 1
	c.prevHash = l.StateHash
	return ok
}

// CheckChain returns the sequences of all broken links.
func CheckChain(links []ChainLink) []int64 {
	c := NewChainChecker()
	var breaks []int64
	for _, l := range links {
		if !c.Next(l) {
			breaks = append(breaks, l.Sequence)
		}
	}
	return breaks
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return min(limit, MaxPageSize)
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	return projection.LoadWatermark(ctx, qs.db)
}
