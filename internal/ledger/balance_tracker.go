package ledger

import (
	"ParamLedger/internal/fault"
	"fmt"
	"maps"
)

// BalanceTracker is the custody ledger the core instructs. Owned by the
// core goroutine.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{balances: map[AccountKey]int64{}}
}

// ApplyBatch posts every journal of batch, or none if ValidateBatch fails.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.ValidateBatch(batch); err != nil {
		return err
	}
	for _, j := range batch.Journals {
		bt.balances[j.DebitAccount] += j.Amount
		bt.balances[j.CreditAccount] -= j.Amount
	}
	return nil
}

// ValidateBatch checks the batch is well-formed and could be applied in
// order: every signer owns its source account and no non-external account
// goes negative at any step.
func (bt *BalanceTracker) ValidateBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	pending := make(map[AccountKey]int64)
	for _, j := range batch.Journals {
		if err := checkAuthority(j); err != nil {
			return err
		}

		pending[j.CreditAccount] -= j.Amount
		pending[j.DebitAccount] += j.Amount

		if j.CreditAccount.Scope == AccountScopeExternal {
			continue
		}
		after := bt.balances[j.CreditAccount] + pending[j.CreditAccount]
		if after < 0 {
			return fmt.Errorf("account %s short by %d for %s: %w",
				j.CreditAccount.AccountPath(), -after, j.JournalType, fault.ErrInsufficientFunds)
		}
	}

	return nil
}

func checkAuthority(j Journal) error {
	switch j.CreditAccount.Scope {
	case AccountScopeExternal:
		if j.Authority != ExternalAuthority {
			return fmt.Errorf("external debit signed by %q: %w", j.Authority, fault.ErrUnauthorized)
		}
	default:
		if j.Authority != j.CreditAccount.Owner {
			return fmt.Errorf("account %s debited by %q: %w",
				j.CreditAccount.AccountPath(), j.Authority, fault.ErrUnauthorized)
		}
	}
	return nil
}

// GetBalance is zero for an account never touched.
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// ValidateNonNegative fails when an internal account is overdrawn. External
// accounts mirror outside money and run negative.
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if key.Scope == AccountScopeExternal {
		return nil
	}
	if have := bt.balances[key]; have < 0 {
		return fmt.Errorf("account %s overdrawn: %d", key.AccountPath(), have)
	}
	return nil
}

// TotalsByAsset sums balances per asset. Every total is zero on a
// consistent ledger.
func (bt *BalanceTracker) TotalsByAsset() map[AssetID]int64 {
	totals := map[AssetID]int64{}
	for key, have := range bt.balances {
		totals[key.AssetID] += have
	}
	return totals
}

// Snapshot copies the balances for snapshots.
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	return maps.Clone(bt.balances)
}

// Restore replaces every balance with a copy of balances.
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = maps.Clone(balances)
	if bt.balances == nil {
		bt.balances = map[AccountKey]int64{}
	}
}
