package settlement

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"
	"ParamLedger/internal/state"
	"fmt"
)

// SettleClaim pays an Approved claim out of the pool vault to beneficiary.
// The pool's available balance must cover the payout.
func SettleClaim(
	caller string,
	p *state.Policy,
	c *state.Claim,
	pool *state.RiskPool,
	beneficiary ledger.AccountKey,
) ([]ledger.Transfer, error) {
	if err := state.Authorize(caller, p, state.RoleLeader); err != nil {
		return nil, err
	}
	if c.PolicyID != p.ID || pool.PolicyID != p.ID {
		return nil, fmt.Errorf("claim or pool of another policy: %w", fault.ErrInvalidInput)
	}
	if p.State != state.PolicyApproved || c.Status != state.ClaimApproved {
		return nil, fmt.Errorf("settle in %s/%s: %w", p.State, c.Status, fault.ErrInvalidState)
	}
	if c.PayoutAmount > pool.Available {
		return nil, fmt.Errorf("payout %d exceeds available %d: %w", c.PayoutAmount, pool.Available, fault.ErrPoolInsufficient)
	}
	if pool.Vault != p.Vault() {
		return nil, fmt.Errorf("pool vault %s: %w", pool.Vault, fault.ErrInvalidInput)
	}
	if err := checkDestination(beneficiary, p.Currency); err != nil {
		return nil, err
	}

	available, err := bps.CheckedSub(pool.Available, c.PayoutAmount)
	if err != nil {
		return nil, err
	}
	if err := state.MarkClaimSettled(p, c); err != nil {
		return nil, err
	}
	pool.Available = available

	return []ledger.Transfer{{
		From:      pool.Vault,
		To:        beneficiary,
		Authority: p.Authority(),
		Amount:    c.PayoutAmount,
		Type:      ledger.JournalTypeClaimPayout,
	}}, nil
}

// Refund returns an Accepted share's escrow after the policy expired. A zero
// to sends it back to the wallet it came from. The escrowed amount is zeroed,
// so a second refund fails with ErrInsufficientEscrow.
func Refund(
	caller string,
	p *state.Policy,
	uw *state.Underwriting,
	pool *state.RiskPool,
	index int,
	to ledger.AccountKey,
) ([]ledger.Transfer, error) {
	if uw.PolicyID != p.ID || pool.PolicyID != p.ID {
		return nil, fmt.Errorf("underwriting or pool of another policy: %w", fault.ErrInvalidInput)
	}
	if p.State != state.PolicyExpired {
		return nil, fmt.Errorf("refund in %s: %w", p.State, fault.ErrInvalidState)
	}
	if index < 0 || index >= len(uw.Participants) {
		return nil, fmt.Errorf("share index %d of %d: %w", index, len(uw.Participants), fault.ErrNotFound)
	}
	share := &uw.Participants[index]
	if share.Insurer != caller {
		return nil, fmt.Errorf("share %d belongs to %q: %w", index, share.Insurer, fault.ErrUnauthorized)
	}
	if share.Status != state.ShareAccepted {
		return nil, fmt.Errorf("share %d is %s: %w", index, share.Status, fault.ErrInvalidState)
	}
	if share.EscrowedAmount <= 0 {
		return nil, fmt.Errorf("share %d has nothing escrowed: %w", index, fault.ErrInsufficientEscrow)
	}

	if to.IsZero() {
		to = share.Escrow
	}
	if err := checkDestination(to, p.Currency); err != nil {
		return nil, err
	}
	if to.Owner != caller {
		return nil, fmt.Errorf("refund wallet %s not owned by %q: %w", to, caller, fault.ErrUnauthorized)
	}

	amount := share.EscrowedAmount
	available, err := bps.CheckedSub(pool.Available, amount)
	if err != nil {
		return nil, err
	}
	if available < 0 {
		return nil, fmt.Errorf("refund %d exceeds available %d: %w", amount, pool.Available, fault.ErrPoolInsufficient)
	}
	pool.Available = available
	share.EscrowedAmount = 0

	return []ledger.Transfer{{
		From:      pool.Vault,
		To:        to,
		Authority: p.Authority(),
		Amount:    amount,
		Type:      ledger.JournalTypeEscrowRefund,
	}}, nil
}

// checkDestination accepts a party wallet in the given currency.
func checkDestination(k ledger.AccountKey, currency ledger.AssetID) error {
	if k.Scope != ledger.AccountScopeWallet || k.AssetID != currency {
		return fmt.Errorf("destination %s: %w", k, fault.ErrInvalidInput)
	}
	return nil
}
