package core

import (
	"ParamLedger/internal/event"
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	"ParamLedger/internal/oracle"
	"ParamLedger/internal/settlement"
	"ParamLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// handleWalletFunded credits an account from the external deposits boundary.
// Only the custodian may sign it.
func (c *DeterministicCore) handleWalletFunded(evt *event.WalletFunded) ([]ledger.Transfer, error) {
	if evt.Signer() != ledger.ExternalAuthority {
		return nil, fmt.Errorf("funding signed by %q: %w", evt.Signer(), fault.ErrUnauthorized)
	}
	if evt.Account.Scope == ledger.AccountScopeExternal || evt.Account.Owner == "" {
		return nil, fmt.Errorf("cannot fund %s: %w", evt.Account, fault.ErrInvalidInput)
	}
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("funding amount %d: %w", evt.Amount, fault.ErrInvalidAmount)
	}
	return []ledger.Transfer{{
		From:      ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, evt.Account.AssetID),
		To:        evt.Account,
		Authority: ledger.ExternalAuthority,
		Amount:    evt.Amount,
		Type:      ledger.JournalTypeWalletFunding,
	}}, nil
}

func (c *DeterministicCore) handleCreatePolicy(tx *state.Tx, evt *event.CreatePolicy) ([]ledger.Transfer, error) {
	set, err := state.CreatePolicy(evt.PolicyID, evt.Signer(), evt.Terms, evt.Timestamp())
	if err != nil {
		return nil, err
	}
	return nil, tx.InsertPolicySet(set)
}

func (c *DeterministicCore) handleOpenUnderwriting(tx *state.Tx, evt *event.OpenUnderwriting) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	uw, err := tx.Underwriting(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return nil, state.OpenUnderwriting(evt.Signer(), p, uw)
}

func (c *DeterministicCore) handleAcceptShare(tx *state.Tx, evt *event.AcceptShare) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	uw, err := tx.Underwriting(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	pool, err := tx.RiskPool(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	t, err := state.AcceptShare(evt.Signer(), p, uw, pool, evt.Index, evt.Deposit, evt.From)
	if err != nil {
		return nil, err
	}
	return []ledger.Transfer{t}, nil
}

func (c *DeterministicCore) handleRejectShare(tx *state.Tx, evt *event.RejectShare) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	uw, err := tx.Underwriting(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return nil, state.RejectShare(evt.Signer(), p, uw, evt.Index)
}

func (c *DeterministicCore) handleActivatePolicy(tx *state.Tx, evt *event.ActivatePolicy) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return nil, state.ActivatePolicy(evt.Signer(), p, evt.Timestamp())
}

func (c *DeterministicCore) handleExpirePolicy(tx *state.Tx, evt *event.ExpirePolicy) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return nil, state.ExpirePolicy(p, evt.Timestamp())
}

func (c *DeterministicCore) handleRefundAfterExpiry(tx *state.Tx, evt *event.RefundAfterExpiry) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	uw, err := tx.Underwriting(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	pool, err := tx.RiskPool(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return settlement.Refund(evt.Signer(), p, uw, pool, evt.Index, evt.To)
}

func (c *DeterministicCore) handleRegisterPolicyholder(tx *state.Tx, evt *event.RegisterPolicyholder) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	reg, err := tx.Registry(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return nil, state.RegisterPolicyholder(evt.Signer(), p, reg, evt.Entry, evt.Timestamp())
}

func (c *DeterministicCore) handleCheckOracle(tx *state.Tx, evt *event.CheckOracle) ([]ledger.Transfer, error) {
	if evt.Signer() != oracle.Authority {
		return nil, fmt.Errorf("oracle reading signed by %q: %w", evt.Signer(), fault.ErrUnauthorized)
	}
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	reading := oracle.Reading{
		Feed:     evt.Feed,
		PolicyID: evt.PolicyID,
		Round:    evt.Round,
		Slot:     evt.Slot,
		Value:    evt.Value,
	}
	out, err := c.trigger.Evaluate(p, reading, evt.CurrentSlot, evt.Timestamp())
	if err != nil {
		if c.metrics != nil {
			c.metrics.OracleReadings.WithLabelValues(fault.Code(err)).Inc()
		}
		return nil, err
	}
	if out.Claim == nil {
		c.trigger.Observe(evt.Slot, evt.CurrentSlot)
		if c.metrics != nil {
			c.metrics.OracleReadings.WithLabelValues("below_threshold").Inc()
		}
		return nil, nil
	}
	if err := tx.InsertClaim(out.Claim); err != nil {
		return nil, err
	}
	c.trigger.Observe(evt.Slot, evt.CurrentSlot)
	if c.metrics != nil {
		c.metrics.OracleReadings.WithLabelValues("claim_opened").Inc()
		c.metrics.ClaimsOpened.Inc()
	}
	c.logger.Info().
		Str("policy_id", p.ID.String()).
		Str("claim_id", out.Claim.ID.String()).
		Int64("delay_minutes", out.DelayMinutes).
		Uint64("round", evt.Round).
		Msg("claim opened")
	return nil, nil
}

// loadClaim loads a claim and checks it belongs to policyID.
func loadClaim(tx *state.Tx, claimID, policyID uuid.UUID) (*state.Claim, error) {
	cl, err := tx.Claim(claimID)
	if err != nil {
		return nil, err
	}
	if cl.PolicyID != policyID {
		return nil, fmt.Errorf("claim %s belongs to policy %s, not %s: %w",
			cl.ID, cl.PolicyID, policyID, fault.ErrInvalidInput)
	}
	return cl, nil
}

func (c *DeterministicCore) handleApproveClaim(tx *state.Tx, evt *event.ApproveClaim) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	cl, err := loadClaim(tx, evt.ClaimID, evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return nil, state.ApproveClaim(evt.Signer(), p, cl)
}

func (c *DeterministicCore) handleSettleClaim(tx *state.Tx, evt *event.SettleClaim) ([]ledger.Transfer, error) {
	p, err := tx.Policy(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	cl, err := loadClaim(tx, evt.ClaimID, evt.PolicyID)
	if err != nil {
		return nil, err
	}
	pool, err := tx.RiskPool(evt.PolicyID)
	if err != nil {
		return nil, err
	}
	return settlement.SettleClaim(evt.Signer(), p, cl, pool, evt.Beneficiary)
}
