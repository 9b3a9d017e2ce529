package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// InvariantValidator runs the post-commit checks the core turns into a
// panic when they fail. A failure here means a handler staged transfers the
// pre-checks should have rejected.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateBatchBalance re-runs Batch.Validate on a committed batch.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustodyCovers checks a vault holds at least what its record
// claims is available (pool available <= vault balance).
func (v *InvariantValidator) ValidateCustodyCovers(key AccountKey, claimed int64) error {
	if balance := v.tracker.GetBalance(key); balance < claimed {
		return fmt.Errorf("custody %s holds %d, record claims %d available", key.AccountPath(), balance, claimed)
	}
	return nil
}

// ValidateTouchedNonNegative checks every source account of the batch.
func (v *InvariantValidator) ValidateTouchedNonNegative(batch *Batch) error {
	for _, j := range batch.Journals {
		if err := v.tracker.ValidateNonNegative(j.CreditAccount); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance checks each asset nets to zero across every
// account, external boundary included. All offending assets are reported.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.TotalsByAsset()
	assets := make([]AssetID, 0, len(totals))
	for id, total := range totals {
		if total != 0 {
			assets = append(assets, id)
		}
	}
	if len(assets) == 0 {
		return nil
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

	parts := make([]string, len(assets))
	for i, id := range assets {
		name, ok := GetAssetName(id)
		if !ok {
			name = fmt.Sprintf("asset#%d", id)
		}
		parts[i] = fmt.Sprintf("%s=%d", name, totals[id])
	}
	return fmt.Errorf("ledger not zero-sum: %s", strings.Join(parts, ", "))
}
