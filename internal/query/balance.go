package query

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BalanceResponse is one projected custody balance.
type BalanceResponse struct {
	AccountPath  string `json:"account_path"`
	Asset        string `json:"asset"`
	Balance      int64  `json:"balance"`
	LastSequence int64  `json:"last_sequence"` // last command that moved it
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetBalance returns the balance at accountPath. An account that never
// moved has balance zero.
func (qs *QueryService) GetBalance(ctx context.Context, accountPath string) (*BalanceResponse, error) {
	key, err := ledger.ParseAccountPath(accountPath)
	if err != nil {
		return nil, err
	}
	if key.IsZero() {
		return nil, fmt.Errorf("empty account path: %w", fault.ErrInvalidInput)
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &BalanceResponse{
		AccountPath:  key.AccountPath(),
		AsOfSequence: asOfSeq,
	}
	resp.Asset, _ = ledger.GetAssetName(key.AssetID)

	err = qs.db.QueryRowContext(ctx, `
		SELECT balance, last_sequence FROM projections.balances WHERE account_path = $1
	`, resp.AccountPath).Scan(&resp.Balance, &resp.LastSequence)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return resp, nil
}

// ListBalancesByOwner returns every wallet and custody balance whose owner
// segment is owner, e.g. "ins-a" or "master.<id>".
func (qs *QueryService) ListBalancesByOwner(ctx context.Context, owner string) ([]BalanceResponse, error) {
	if owner == "" {
		return nil, fmt.Errorf("empty owner: %w", fault.ErrInvalidInput)
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance, last_sequence
		FROM projections.balances
		WHERE split_part(account_path, ':', 1) IN ('wallet', 'custody')
		  AND split_part(account_path, ':', 2) = $1
		ORDER BY account_path
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		var b BalanceResponse
		var assetID uint16
		if err := rows.Scan(&b.AccountPath, &assetID, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		b.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		b.AsOfSequence = asOfSeq
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
