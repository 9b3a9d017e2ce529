package state

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// ParticipantInit is one proposed share at policy creation.
type ParticipantInit struct {
	Insurer  string `json:"insurer"`
	RatioBps uint16 `json:"ratio_bps"`
}

// PolicyTerms are the leader-supplied fields of a new policy.
type PolicyTerms struct {
	Route             string            `json:"route"`
	FlightNo          string            `json:"flight_no"`
	DepartureDate     int64             `json:"departure_date"`
	DelayThresholdMin uint16            `json:"delay_threshold_min"`
	PayoutAmount      int64             `json:"payout_amount"`
	Currency          string            `json:"currency"`
	OracleFeed        string            `json:"oracle_feed"`
	ActiveFrom        int64             `json:"active_from"`
	ActiveTo          int64             `json:"active_to"`
	Participants      []ParticipantInit `json:"participants"`
}

// PolicySet is everything CreatePolicy initialises.
type PolicySet struct {
	Policy       *Policy
	Underwriting *Underwriting
	Pool         *RiskPool
	Registry     *PolicyholderRegistry
}

// CreatePolicy validates terms and builds a Draft policy with its
// Proposed underwriting, an empty pool and an empty registry.
func CreatePolicy(id uuid.UUID, leader string, terms PolicyTerms, now int64) (*PolicySet, error) {
	if err := ValidateIdentity(leader); err != nil {
		return nil, fmt.Errorf("leader: %w", err)
	}
	if terms.ActiveFrom >= terms.ActiveTo {
		return nil, fmt.Errorf("active window [%d, %d): %w", terms.ActiveFrom, terms.ActiveTo, fault.ErrInvalidTimeWindow)
	}
	if terms.PayoutAmount <= 0 {
		return nil, fmt.Errorf("payout %d: %w", terms.PayoutAmount, fault.ErrInvalidAmount)
	}
	if terms.DelayThresholdMin != DelayThresholdMinutes {
		return nil, fmt.Errorf("delay threshold %d: %w", terms.DelayThresholdMin, fault.ErrInvalidDelayThreshold)
	}
	if err := checkLen("route", terms.Route, MaxRouteLen); err != nil {
		return nil, err
	}
	if err := checkLen("flight_no", terms.FlightNo, MaxFlightNoLen); err != nil {
		return nil, err
	}
	if terms.OracleFeed == "" {
		return nil, fmt.Errorf("oracle feed missing: %w", fault.ErrInvalidInput)
	}
	currency, err := resolveCurrency(terms.Currency)
	if err != nil {
		return nil, err
	}
	total, err := validatePolicyParticipants(terms.Participants)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		ID:                id,
		Leader:            leader,
		Route:             terms.Route,
		FlightNo:          terms.FlightNo,
		DepartureDate:     terms.DepartureDate,
		DelayThresholdMin: terms.DelayThresholdMin,
		PayoutAmount:      terms.PayoutAmount,
		Currency:          currency,
		OracleFeed:        terms.OracleFeed,
		State:             PolicyDraft,
		CreatedAt:         now,
		ActiveFrom:        terms.ActiveFrom,
		ActiveTo:          terms.ActiveTo,
	}

	shares := make([]ParticipantShare, 0, len(terms.Participants))
	for _, pi := range terms.Participants {
		shares = append(shares, ParticipantShare{
			Insurer:  pi.Insurer,
			RatioBps: pi.RatioBps,
			Status:   SharePending,
		})
	}

	return &PolicySet{
		Policy: p,
		Underwriting: &Underwriting{
			PolicyID:     id,
			Leader:       leader,
			Participants: shares,
			TotalRatio:   total,
			Status:       UnderwritingProposed,
			CreatedAt:    now,
		},
		Pool: &RiskPool{
			PolicyID: id,
			Currency: currency,
			Vault:    p.Vault(),
		},
		Registry: &PolicyholderRegistry{
			PolicyID: id,
			Entries:  []PolicyholderEntry{},
		},
	}, nil
}

func validatePolicyParticipants(participants []ParticipantInit) (uint16, error) {
	if len(participants) == 0 {
		return 0, fmt.Errorf("no participants: %w", fault.ErrInvalidInput)
	}
	if len(participants) > MaxParticipants {
		return 0, fmt.Errorf("%d participants, max %d: %w", len(participants), MaxParticipants, fault.ErrInvalidInput)
	}
	ratios := make([]uint16, len(participants))
	for i, p := range participants {
		if err := ValidateIdentity(p.Insurer); err != nil {
			return 0, fmt.Errorf("participant %d: %w", i, err)
		}
		ratios[i] = p.RatioBps
	}
	sum, err := bps.SumBps(ratios)
	if err != nil {
		return 0, err
	}
	if sum != bps.BpsDenominator {
		return 0, fmt.Errorf("participant ratios sum to %d: %w", sum, fault.ErrInvalidRatio)
	}
	return uint16(sum), nil
}

func resolveCurrency(asset string) (ledger.AssetID, error) {
	id, ok := ledger.GetAssetID(asset)
	if !ok {
		return 0, fmt.Errorf("currency %q: %w", asset, fault.ErrInvalidInput)
	}
	return id, nil
}

func checkPolicyRecord(p *Policy, policyID uuid.UUID) error {
	if p.ID != policyID {
		return fmt.Errorf("record belongs to policy %s, not %s: %w", policyID, p.ID, fault.ErrInvalidInput)
	}
	return nil
}

// OpenUnderwriting moves Draft+Proposed to Open+Open.
func OpenUnderwriting(caller string, p *Policy, uw *Underwriting) error {
	if err := Authorize(caller, p, RoleLeader); err != nil {
		return err
	}
	if err := checkPolicyRecord(p, uw.PolicyID); err != nil {
		return err
	}
	if p.State != PolicyDraft || uw.Status != UnderwritingProposed {
		return fmt.Errorf("open underwriting from %s/%s: %w", p.State, uw.Status, fault.ErrInvalidState)
	}
	if err := transition(&p.State, PolicyOpen); err != nil {
		return err
	}
	return transition(&uw.Status, UnderwritingOpen)
}

func shareAt(uw *Underwriting, index int) (*ParticipantShare, error) {
	if index < 0 || index >= len(uw.Participants) {
		return nil, fmt.Errorf("share index %d of %d: %w", index, len(uw.Participants), fault.ErrNotFound)
	}
	return &uw.Participants[index], nil
}

// checkPayerWallet verifies from is a wallet in currency owned by caller.
func checkPayerWallet(caller string, from ledger.AccountKey, currency ledger.AssetID) error {
	if from.AssetID != currency {
		return fmt.Errorf("wallet %s currency: %w", from, fault.ErrInvalidInput)
	}
	if from.Scope != ledger.AccountScopeWallet || from.Owner != caller {
		return fmt.Errorf("wallet %s not owned by %q: %w", from, caller, fault.ErrUnauthorized)
	}
	return nil
}

// AcceptShare records a participant's escrow deposit and returns the
// transfer that moves it into the pool vault. Reaching exactly 10,000
// accepted bps finalizes underwriting and funds the policy.
func AcceptShare(
	caller string,
	p *Policy,
	uw *Underwriting,
	pool *RiskPool,
	index int,
	deposit int64,
	from ledger.AccountKey,
) (ledger.Transfer, error) {
	var none ledger.Transfer
	if p.State != PolicyOpen || uw.Status != UnderwritingOpen {
		return none, fmt.Errorf("accept share in %s/%s: %w", p.State, uw.Status, fault.ErrInvalidState)
	}
	if err := checkPolicyRecord(p, uw.PolicyID); err != nil {
		return none, err
	}
	if err := checkPolicyRecord(p, pool.PolicyID); err != nil {
		return none, err
	}
	if err := checkPayerWallet(caller, from, p.Currency); err != nil {
		return none, err
	}

	share, err := shareAt(uw, index)
	if err != nil {
		return none, err
	}
	if share.Insurer != caller {
		return none, fmt.Errorf("share %d belongs to %q: %w", index, share.Insurer, fault.ErrUnauthorized)
	}
	if share.Status != SharePending {
		return none, fmt.Errorf("share %d is %s: %w", index, share.Status, fault.ErrInvalidState)
	}
	if share.RatioBps == 0 {
		return none, fmt.Errorf("share %d has zero ratio: %w", index, fault.ErrInvalidRatio)
	}
	if deposit <= 0 {
		return none, fmt.Errorf("deposit %d: %w", deposit, fault.ErrInvalidAmount)
	}

	required, err := bps.RequiredEscrow(p.PayoutAmount, share.RatioBps)
	if err != nil {
		return none, err
	}
	if deposit < required {
		return none, fmt.Errorf("deposit %d below required %d: %w", deposit, required, fault.ErrInsufficientEscrow)
	}

	if err := transition(&share.Status, ShareAccepted); err != nil {
		return none, err
	}
	share.Escrow = from
	share.EscrowedAmount = deposit

	if pool.TotalEscrowed, err = bps.CheckedAdd(pool.TotalEscrowed, deposit); err != nil {
		return none, err
	}
	if pool.Available, err = bps.CheckedAdd(pool.Available, deposit); err != nil {
		return none, err
	}

	accepted, err := uw.AcceptedRatio()
	if err != nil {
		return none, err
	}
	if accepted > bps.BpsDenominator {
		return none, fmt.Errorf("accepted ratio %d: %w", accepted, fault.ErrInvalidRatio)
	}
	if accepted == bps.BpsDenominator {
		if err := transition(&uw.Status, UnderwritingFinalized); err != nil {
			return none, err
		}
		if err := transition(&p.State, PolicyFunded); err != nil {
			return none, err
		}
	}

	return ledger.Transfer{
		From:      from,
		To:        pool.Vault,
		Authority: caller,
		Amount:    deposit,
		Type:      ledger.JournalTypeEscrowDeposit,
	}, nil
}

// RejectShare marks the caller's own Pending share Rejected. It cannot be
// undone.
func RejectShare(caller string, p *Policy, uw *Underwriting, index int) error {
	if p.State != PolicyOpen {
		return fmt.Errorf("reject share in %s: %w", p.State, fault.ErrInvalidState)
	}
	if err := checkPolicyRecord(p, uw.PolicyID); err != nil {
		return err
	}
	share, err := shareAt(uw, index)
	if err != nil {
		return err
	}
	if share.Insurer != caller {
		return fmt.Errorf("share %d belongs to %q: %w", index, share.Insurer, fault.ErrUnauthorized)
	}
	if share.Status != SharePending {
		return fmt.Errorf("share %d is %s: %w", index, share.Status, fault.ErrInvalidState)
	}
	return transition(&share.Status, ShareRejected)
}

// ActivatePolicy moves a Funded policy to Active once active_from is reached.
func ActivatePolicy(caller string, p *Policy, now int64) error {
	if err := Authorize(caller, p, RoleLeader); err != nil {
		return err
	}
	if p.State != PolicyFunded {
		return fmt.Errorf("activate from %s: %w", p.State, fault.ErrInvalidState)
	}
	if now < p.ActiveFrom {
		return fmt.Errorf("now %d before active_from %d: %w", now, p.ActiveFrom, fault.ErrInvalidTimeWindow)
	}
	return transition(&p.State, PolicyActive)
}

// ExpirePolicy may be called by anyone once active_to has passed.
func ExpirePolicy(p *Policy, now int64) error {
	if p.State != PolicyActive {
		return fmt.Errorf("expire from %s: %w", p.State, fault.ErrInvalidState)
	}
	if now <= p.ActiveTo {
		return fmt.Errorf("now %d not after active_to %d: %w", now, p.ActiveTo, fault.ErrInvalidTimeWindow)
	}
	return transition(&p.State, PolicyExpired)
}

// ApproveClaim is the leader's sign-off on a Claimable claim.
func ApproveClaim(caller string, p *Policy, c *Claim) error {
	if err := Authorize(caller, p, RoleLeader); err != nil {
		return err
	}
	if err := checkPolicyRecord(p, c.PolicyID); err != nil {
		return err
	}
	if p.State != PolicyClaimable || c.Status != ClaimClaimable {
		return fmt.Errorf("approve in %s/%s: %w", p.State, c.Status, fault.ErrInvalidState)
	}
	if err := transition(&c.Status, ClaimApproved); err != nil {
		return err
	}
	c.ApprovedBy = caller
	return transition(&p.State, PolicyApproved)
}

// PolicyholderInput is one booking to register.
type PolicyholderInput struct {
	ExternalRef    string `json:"external_ref"`
	FlightNo       string `json:"flight_no"`
	DepartureDate  int64  `json:"departure_date"`
	PassengerCount uint16 `json:"passenger_count"`
	PremiumPaid    int64  `json:"premium_paid"`
	CoverageAmount int64  `json:"coverage_amount"`
}

// RegisterPolicyholder appends to the registry. The cap is checked before
// the append.
func RegisterPolicyholder(caller string, p *Policy, reg *PolicyholderRegistry, in PolicyholderInput, now int64) error {
	if err := Authorize(caller, p, RoleLeader); err != nil {
		return err
	}
	if err := checkPolicyRecord(p, reg.PolicyID); err != nil {
		return err
	}
	if err := checkLen("external_ref", in.ExternalRef, MaxExternalRefLen); err != nil {
		return err
	}
	if err := checkLen("flight_no", in.FlightNo, MaxFlightNoLen); err != nil {
		return err
	}
	if in.PremiumPaid < 0 || in.CoverageAmount < 0 {
		return fmt.Errorf("negative premium or coverage: %w", fault.ErrInvalidAmount)
	}
	if len(reg.Entries) >= MaxPolicyholders {
		return fmt.Errorf("registry holds %d entries: %w", len(reg.Entries), fault.ErrInvalidInput)
	}

	reg.Entries = append(reg.Entries, PolicyholderEntry{
		ExternalRef:    in.ExternalRef,
		PolicyID:       p.ID,
		FlightNo:       in.FlightNo,
		DepartureDate:  in.DepartureDate,
		PassengerCount: in.PassengerCount,
		PremiumPaid:    in.PremiumPaid,
		CoverageAmount: in.CoverageAmount,
		Timestamp:      now,
	})
	return nil
}

// OpenClaim records a reading that crossed the delay threshold: the claim
// snapshots the policy payout and the policy becomes Claimable.
func OpenClaim(p *Policy, round uint64, delayMinutes int64, verifiedAt int64) (*Claim, error) {
	if p.State != PolicyActive {
		return nil, fmt.Errorf("claim on %s policy: %w", p.State, fault.ErrInvalidState)
	}
	c := &Claim{
		ID:           ClaimID(p.ID, round),
		PolicyID:     p.ID,
		OracleRound:  round,
		OracleValue:  delayMinutes,
		VerifiedAt:   verifiedAt,
		Status:       ClaimNone,
		PayoutAmount: p.PayoutAmount,
	}
	if err := transition(&c.Status, ClaimClaimable); err != nil {
		return nil, err
	}
	if err := transition(&p.State, PolicyClaimable); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkClaimSettled closes an Approved claim and its policy.
func MarkClaimSettled(p *Policy, c *Claim) error {
	if p.State != PolicyApproved || c.Status != ClaimApproved {
		return fmt.Errorf("settle in %s/%s: %w", p.State, c.Status, fault.ErrInvalidState)
	}
	if err := transition(&c.Status, ClaimSettled); err != nil {
		return err
	}
	return transition(&p.State, PolicySettled)
}
