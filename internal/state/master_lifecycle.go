package state

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// MasterParticipantInit is one co-insurer share at master creation.
type MasterParticipantInit struct {
	Insurer  string `json:"insurer"`
	ShareBps uint16 `json:"share_bps"`
}

// MasterTerms are the treaty fields fixed at creation.
type MasterTerms struct {
	Operator               string                  `json:"operator"`
	Reinsurer              string                  `json:"reinsurer"`
	Currency               string                  `json:"currency"`
	CoverageStart          int64                   `json:"coverage_start_ts"`
	CoverageEnd            int64                   `json:"coverage_end_ts"`
	PremiumPerPolicy       int64                   `json:"premium_per_policy"`
	Tiers                  bps.TierPayouts         `json:"tiers"`
	CededRatioBps          uint16                  `json:"ceded_ratio_bps"`
	CommissionBps          uint16                  `json:"reins_commission_bps"`
	LeaderDepositWallet    ledger.AccountKey       `json:"leader_deposit_wallet"`
	ReinsurerPoolWallet    ledger.AccountKey       `json:"reinsurer_pool_wallet"`
	ReinsurerDepositWallet ledger.AccountKey       `json:"reinsurer_deposit_wallet"`
	Participants           []MasterParticipantInit `json:"participants"`
}

// CreateMasterPolicy validates terms and returns a treaty in PendingConfirm.
// The reinsurer's effective bps is computed once here; the leader's own
// slot starts confirmed.
func CreateMasterPolicy(id uuid.UUID, leader string, terms MasterTerms, now int64) (*MasterPolicy, error) {
	for _, who := range []string{leader, terms.Operator, terms.Reinsurer} {
		if err := ValidateIdentity(who); err != nil {
			return nil, err
		}
	}
	if terms.CoverageStart >= terms.CoverageEnd {
		return nil, fmt.Errorf("coverage [%d, %d): %w", terms.CoverageStart, terms.CoverageEnd, fault.ErrInvalidTimeWindow)
	}
	if terms.PremiumPerPolicy <= 0 {
		return nil, fmt.Errorf("premium %d: %w", terms.PremiumPerPolicy, fault.ErrInvalidAmount)
	}
	if err := terms.Tiers.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateMasterParticipants(terms.Participants, leader); err != nil {
		return nil, err
	}

	currency, err := resolveCurrency(terms.Currency)
	if err != nil {
		return nil, err
	}
	for _, w := range []ledger.AccountKey{terms.LeaderDepositWallet, terms.ReinsurerPoolWallet, terms.ReinsurerDepositWallet} {
		if w.IsZero() || w.Scope == ledger.AccountScopeExternal || w.AssetID != currency {
			return nil, fmt.Errorf("treaty wallet %q: %w", w, fault.ErrInvalidInput)
		}
	}

	effective, err := bps.EffectiveReinsurerBps(terms.CededRatioBps, terms.CommissionBps)
	if err != nil {
		return nil, err
	}

	participants := make([]MasterParticipant, 0, len(terms.Participants))
	for _, p := range terms.Participants {
		participants = append(participants, MasterParticipant{
			Insurer:   p.Insurer,
			ShareBps:  p.ShareBps,
			Confirmed: p.Insurer == leader,
		})
	}

	m := &MasterPolicy{
		ID:                     id,
		Leader:                 leader,
		Operator:               terms.Operator,
		Currency:               currency,
		CoverageStart:          terms.CoverageStart,
		CoverageEnd:            terms.CoverageEnd,
		PremiumPerPolicy:       terms.PremiumPerPolicy,
		Tiers:                  terms.Tiers,
		CededRatioBps:          terms.CededRatioBps,
		CommissionBps:          terms.CommissionBps,
		ReinsurerEffectiveBps:  effective,
		Reinsurer:              terms.Reinsurer,
		ReinsurerPoolWallet:    terms.ReinsurerPoolWallet,
		ReinsurerDepositWallet: terms.ReinsurerDepositWallet,
		LeaderDepositWallet:    terms.LeaderDepositWallet,
		Participants:           participants,
		Status:                 MasterDraft,
		CreatedAt:              now,
	}
	if err := transition(&m.Status, MasterPendingConfirm); err != nil {
		return nil, err
	}
	return m, nil
}

// ValidateMasterParticipants checks count, exact 10,000 bps and leader
// membership. Each check fails independently.
func ValidateMasterParticipants(participants []MasterParticipantInit, leader string) error {
	if len(participants) == 0 || len(participants) > MaxMasterParticipants {
		return fmt.Errorf("%d master participants: %w", len(participants), fault.ErrInvalidInput)
	}

	ratios := make([]uint16, len(participants))
	hasLeader := false
	seen := make(map[string]struct{}, len(participants))
	for i, p := range participants {
		if err := ValidateIdentity(p.Insurer); err != nil {
			return fmt.Errorf("participant %d: %w", i, err)
		}
		if _, dup := seen[p.Insurer]; dup {
			return fmt.Errorf("participant %q listed twice: %w", p.Insurer, fault.ErrInvalidInput)
		}
		seen[p.Insurer] = struct{}{}
		ratios[i] = p.ShareBps
		if p.Insurer == leader {
			hasLeader = true
		}
	}

	sum, err := bps.SumBps(ratios)
	if err != nil {
		return err
	}
	if sum != bps.BpsDenominator {
		return fmt.Errorf("master shares sum to %d: %w", sum, fault.ErrInvalidRatio)
	}
	if !hasLeader {
		return fmt.Errorf("leader %q not a participant: %w", leader, fault.ErrInvalidInput)
	}
	return nil
}

// RegisterParticipantWallets sets the caller's pool and deposit wallets.
// Wallets are frozen once the master is Active, Closed or Cancelled.
func (m *MasterPolicy) RegisterParticipantWallets(caller string, pool, deposit ledger.AccountKey) error {
	if m.Status.WalletsFrozen() {
		return fmt.Errorf("register wallets in %s: %w", m.Status, fault.ErrInvalidState)
	}
	for _, w := range []ledger.AccountKey{pool, deposit} {
		if w.IsZero() || w.Scope == ledger.AccountScopeExternal || w.AssetID != m.Currency {
			return fmt.Errorf("wallet %q: %w", w, fault.ErrInvalidInput)
		}
	}
	idx := m.participantIndex(caller)
	if idx < 0 {
		return fmt.Errorf("%q is not a participant: %w", caller, fault.ErrNotFound)
	}
	m.Participants[idx].PoolWallet = pool
	m.Participants[idx].DepositWallet = deposit
	return nil
}

// Confirm records a participant or reinsurer confirmation while
// PendingConfirm.
func (m *MasterPolicy) Confirm(caller string, role ConfirmRole) error {
	if m.Status != MasterPendingConfirm {
		return fmt.Errorf("confirm in %s: %w", m.Status, fault.ErrInvalidState)
	}
	switch role {
	case ConfirmParticipant:
		idx := m.participantIndex(caller)
		if idx < 0 {
			return fmt.Errorf("%q is not a participant: %w", caller, fault.ErrUnauthorized)
		}
		p := &m.Participants[idx]
		if !p.WalletsRegistered() {
			return fmt.Errorf("participant %q has no wallets: %w", caller, fault.ErrInvalidInput)
		}
		p.Confirmed = true
	case ConfirmReinsurer:
		if err := Authorize(caller, m, RoleReinsurer); err != nil {
			return err
		}
		m.ReinsurerConfirmed = true
	default:
		return fmt.Errorf("confirm role %d: %w", role, fault.ErrInvalidRole)
	}
	return nil
}

// AllParticipantsConfirmed requires every slot confirmed with both wallets.
func (m *MasterPolicy) AllParticipantsConfirmed() bool {
	for _, p := range m.Participants {
		if !p.Confirmed || !p.WalletsRegistered() {
			return false
		}
	}
	return true
}

// Activate is operator-only and needs every confirmation in place.
func (m *MasterPolicy) Activate(caller string) error {
	if m.Status != MasterPendingConfirm {
		return fmt.Errorf("activate from %s: %w", m.Status, fault.ErrInvalidState)
	}
	if err := Authorize(caller, m, RoleOperator); err != nil {
		return err
	}
	if !m.ReinsurerConfirmed {
		return fmt.Errorf("reinsurer unconfirmed: %w", fault.ErrMasterNotConfirmed)
	}
	if !m.AllParticipantsConfirmed() {
		return fmt.Errorf("participants unconfirmed: %w", fault.ErrMasterNotConfirmed)
	}
	return transition(&m.Status, MasterActive)
}

// RequireActive fails with MasterNotActive outside Active.
func (m *MasterPolicy) RequireActive() error {
	if m.Status != MasterActive {
		return fmt.Errorf("master %s is %s: %w", m.ID, m.Status, fault.ErrMasterNotActive)
	}
	return nil
}

// FlightTerms are the per-flight fields supplied at issue.
type FlightTerms struct {
	SubscriberRef string `json:"subscriber_ref"`
	FlightNo      string `json:"flight_no"`
	Route         string `json:"route"`
	DepartureTs   int64  `json:"departure_ts"`
}

// IssueFlight creates a flight in AwaitingOracle and returns the premium
// transfer from the caller's wallet to the leader deposit wallet.
func (m *MasterPolicy) IssueFlight(
	caller string,
	id uuid.UUID,
	terms FlightTerms,
	payer ledger.AccountKey,
	now int64,
) (*FlightPolicy, ledger.Transfer, error) {
	var none ledger.Transfer
	if err := m.RequireActive(); err != nil {
		return nil, none, err
	}
	if err := Authorize(caller, m, RoleLeader, RoleOperator); err != nil {
		return nil, none, err
	}
	if err := checkLen("subscriber_ref", terms.SubscriberRef, MaxSubscriberRefLen); err != nil {
		return nil, none, err
	}
	if err := checkLen("flight_no", terms.FlightNo, MaxFlightNoLen); err != nil {
		return nil, none, err
	}
	if err := checkLen("route", terms.Route, MaxRouteLen); err != nil {
		return nil, none, err
	}
	if err := checkPayerWallet(caller, payer, m.Currency); err != nil {
		return nil, none, err
	}

	f := &FlightPolicy{
		ID:            id,
		MasterID:      m.ID,
		Creator:       caller,
		SubscriberRef: terms.SubscriberRef,
		FlightNo:      terms.FlightNo,
		Route:         terms.Route,
		DepartureTs:   terms.DepartureTs,
		PremiumPaid:   m.PremiumPerPolicy,
		Status:        FlightIssued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := transition(&f.Status, FlightAwaitingOracle); err != nil {
		return nil, none, err
	}

	return f, ledger.Transfer{
		From:      payer,
		To:        m.LeaderDepositWallet,
		Authority: caller,
		Amount:    m.PremiumPerPolicy,
		Type:      ledger.JournalTypePremiumCharge,
	}, nil
}

// CheckFlight verifies f was issued under m.
func (m *MasterPolicy) CheckFlight(f *FlightPolicy) error {
	if f.MasterID != m.ID {
		return fmt.Errorf("flight %s belongs to master %s: %w", f.ID, f.MasterID, fault.ErrInvalidInput)
	}
	return nil
}

// ResolveFlightDelay applies the tier table: payout > 0 makes the flight
// Claimable, otherwise NoClaim.
func (m *MasterPolicy) ResolveFlightDelay(caller string, f *FlightPolicy, delayMinutes uint16, cancelled bool, now int64) error {
	if err := m.RequireActive(); err != nil {
		return err
	}
	if err := Authorize(caller, m, RoleLeader, RoleOperator); err != nil {
		return err
	}
	if err := m.CheckFlight(f); err != nil {
		return err
	}
	if f.Status != FlightAwaitingOracle && f.Status != FlightIssued {
		return fmt.Errorf("resolve flight in %s: %w", f.Status, fault.ErrInvalidState)
	}

	payout := bps.TieredPayout(delayMinutes, cancelled, m.Tiers)
	f.DelayMinutes = delayMinutes
	f.Cancelled = cancelled
	f.PayoutAmount = payout
	f.UpdatedAt = now
	if payout > 0 {
		return transition(&f.Status, FlightClaimable)
	}
	return transition(&f.Status, FlightNoClaim)
}

// MarkPaid closes a Claimable flight once its payout has been collected.
func (f *FlightPolicy) MarkPaid(now int64) error {
	if err := transition(&f.Status, FlightPaid); err != nil {
		return err
	}
	f.UpdatedAt = now
	return nil
}

// MarkPremiumDistributed sets the one-shot premium flag and expires a NoClaim
// flight.
func (f *FlightPolicy) MarkPremiumDistributed(now int64) error {
	if f.PremiumDistributed {
		return fmt.Errorf("premium of flight %s: %w", f.ID, fault.ErrAlreadySettled)
	}
	if err := transition(&f.Status, FlightExpired); err != nil {
		return err
	}
	f.PremiumDistributed = true
	f.UpdatedAt = now
	return nil
}
