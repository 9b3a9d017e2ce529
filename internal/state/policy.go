package state

import (
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"

	"github.com/google/uuid"
)

const (
	DelayThresholdMinutes = 120
	MaxParticipants       = 16
	MaxPolicyholders      = 128

	MaxRouteLen       = 16
	MaxFlightNoLen    = 16
	MaxExternalRefLen = 32
)

// Policy is one insured flight in the single-policy model.
type Policy struct {
	ID                uuid.UUID      `json:"id"`
	Leader            string         `json:"leader"`
	Route             string         `json:"route"`
	FlightNo          string         `json:"flight_no"`
	DepartureDate     int64          `json:"departure_date"`
	DelayThresholdMin uint16         `json:"delay_threshold_min"`
	PayoutAmount      int64          `json:"payout_amount"`
	Currency          ledger.AssetID `json:"currency"`
	OracleFeed        string         `json:"oracle_feed"`
	State             PolicyState    `json:"state"`
	CreatedAt         int64          `json:"created_at"`
	ActiveFrom        int64          `json:"active_from"`
	ActiveTo          int64          `json:"active_to"`
}

func (p *Policy) HasRole(id string, role Role) bool {
	return role == RoleLeader && id == p.Leader
}

// Authority signs transfers out of the policy vault.
func (p *Policy) Authority() string { return PolicyAuthority(p.ID) }

// Vault is the custody account backing the risk pool.
func (p *Policy) Vault() ledger.AccountKey {
	return ledger.NewCustodyKey(p.Authority(), ledger.SubTypeVault, p.Currency)
}

func (p *Policy) Clone() *Policy {
	c := *p
	return &c
}

// ParticipantShare is one co-insurer's slot on an underwriting.
type ParticipantShare struct {
	Insurer        string            `json:"insurer"`
	RatioBps       uint16            `json:"ratio_bps"`
	Status         ShareStatus       `json:"status"`
	Escrow         ledger.AccountKey `json:"escrow"`
	EscrowedAmount int64             `json:"escrowed_amount"`
}

// Underwriting holds the ordered participant shares of one policy.
type Underwriting struct {
	PolicyID     uuid.UUID          `json:"policy_id"`
	Leader       string             `json:"leader"`
	Participants []ParticipantShare `json:"participants"`
	TotalRatio   uint16             `json:"total_ratio"`
	Status       UnderwritingStatus `json:"status"`
	CreatedAt    int64              `json:"created_at"`
}

func (u *Underwriting) HasRole(id string, role Role) bool {
	switch role {
	case RoleLeader:
		return id == u.Leader
	case RoleParticipant:
		for _, p := range u.Participants {
			if p.Insurer == id {
				return true
			}
		}
	}
	return false
}

// AcceptedRatio sums the ratios of Accepted shares only.
func (u *Underwriting) AcceptedRatio() (uint32, error) {
	accepted := make([]uint16, 0, len(u.Participants))
	for _, p := range u.Participants {
		if p.Status == ShareAccepted {
			accepted = append(accepted, p.RatioBps)
		}
	}
	return bps.SumBps(accepted)
}

func (u *Underwriting) Clone() *Underwriting {
	c := *u
	c.Participants = append([]ParticipantShare(nil), u.Participants...)
	return &c
}

// RiskPool tracks escrow backing one policy. Available never exceeds
// TotalEscrowed.
type RiskPool struct {
	PolicyID      uuid.UUID         `json:"policy_id"`
	Currency      ledger.AssetID    `json:"currency"`
	Vault         ledger.AccountKey `json:"vault"`
	TotalEscrowed int64             `json:"total_escrowed"`
	Available     int64             `json:"available_balance"`
}

func (r *RiskPool) Clone() *RiskPool {
	c := *r
	return &c
}

// Claim is created by one oracle round that crossed the delay threshold.
type Claim struct {
	ID           uuid.UUID   `json:"id"`
	PolicyID     uuid.UUID   `json:"policy_id"`
	OracleRound  uint64      `json:"oracle_round"`
	OracleValue  int64       `json:"oracle_value"`
	VerifiedAt   int64       `json:"verified_at"`
	ApprovedBy   string      `json:"approved_by,omitempty"`
	Status       ClaimStatus `json:"status"`
	PayoutAmount int64       `json:"payout_amount"`
}

func (c *Claim) Clone() *Claim {
	cp := *c
	return &cp
}

var claimNamespace = uuid.MustParse("0f7c2d4e-9a1b-4c3d-8e5f-6a7b8c9d0e1f")

// ClaimID derives the claim identity from policy and oracle round, so one
// round can create at most one claim.
func ClaimID(policyID uuid.UUID, round uint64) uuid.UUID {
	buf := make([]byte, 0, 24)
	buf = append(buf, policyID[:]...)
	buf = appendUint64LE(buf, round)
	return uuid.NewSHA1(claimNamespace, buf)
}

// PolicyholderEntry is one insured passenger booking.
type PolicyholderEntry struct {
	ExternalRef    string    `json:"external_ref"`
	PolicyID       uuid.UUID `json:"policy_id"`
	FlightNo       string    `json:"flight_no"`
	DepartureDate  int64     `json:"departure_date"`
	PassengerCount uint16    `json:"passenger_count"`
	PremiumPaid    int64     `json:"premium_paid"`
	CoverageAmount int64     `json:"coverage_amount"`
	Timestamp      int64     `json:"timestamp"`
}

// PolicyholderRegistry is capped at MaxPolicyholders entries.
type PolicyholderRegistry struct {
	PolicyID uuid.UUID           `json:"policy_id"`
	Entries  []PolicyholderEntry `json:"entries"`
}

func (r *PolicyholderRegistry) Clone() *PolicyholderRegistry {
	c := *r
	c.Entries = append([]PolicyholderEntry(nil), r.Entries...)
	return &c
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
