package state

import (
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"

	"github.com/google/uuid"
)

const (
	MaxMasterParticipants = 8
	MaxSubscriberRefLen   = 64
)

// MasterParticipant is one co-insurer slot on a treaty. Wallets stay zero
// until registered.
type MasterParticipant struct {
	Insurer       string            `json:"insurer"`
	ShareBps      uint16            `json:"share_bps"`
	Confirmed     bool              `json:"confirmed"`
	PoolWallet    ledger.AccountKey `json:"pool_wallet"`
	DepositWallet ledger.AccountKey `json:"deposit_wallet"`
}

func (p MasterParticipant) WalletsRegistered() bool {
	return !p.PoolWallet.IsZero() && !p.DepositWallet.IsZero()
}

// MasterPolicy is a reinsurance treaty under which flight policies are
// issued. Ratios are frozen at creation.
type MasterPolicy struct {
	ID                     uuid.UUID           `json:"id"`
	Leader                 string              `json:"leader"`
	Operator               string              `json:"operator"`
	Currency               ledger.AssetID      `json:"currency"`
	CoverageStart          int64               `json:"coverage_start_ts"`
	CoverageEnd            int64               `json:"coverage_end_ts"`
	PremiumPerPolicy       int64               `json:"premium_per_policy"`
	Tiers                  bps.TierPayouts     `json:"tiers"`
	CededRatioBps          uint16              `json:"ceded_ratio_bps"`
	CommissionBps          uint16              `json:"reins_commission_bps"`
	ReinsurerEffectiveBps  uint16              `json:"reinsurer_effective_bps"`
	Reinsurer              string              `json:"reinsurer"`
	ReinsurerConfirmed     bool                `json:"reinsurer_confirmed"`
	ReinsurerPoolWallet    ledger.AccountKey   `json:"reinsurer_pool_wallet"`
	ReinsurerDepositWallet ledger.AccountKey   `json:"reinsurer_deposit_wallet"`
	LeaderDepositWallet    ledger.AccountKey   `json:"leader_deposit_wallet"`
	Participants           []MasterParticipant `json:"participants"`
	Status                 MasterStatus        `json:"status"`
	CreatedAt              int64               `json:"created_at"`
}

func (m *MasterPolicy) HasRole(id string, role Role) bool {
	switch role {
	case RoleLeader:
		return id == m.Leader
	case RoleOperator:
		return id == m.Operator
	case RoleReinsurer:
		return id == m.Reinsurer
	case RoleParticipant:
		return m.participantIndex(id) >= 0
	}
	return false
}

func (m *MasterPolicy) participantIndex(id string) int {
	for i, p := range m.Participants {
		if p.Insurer == id {
			return i
		}
	}
	return -1
}

// Authority signs transfers out of master-controlled custody accounts.
func (m *MasterPolicy) Authority() string { return MasterAuthority(m.ID) }

// ShareRatios returns participant shares in list order.
func (m *MasterPolicy) ShareRatios() []uint16 {
	ratios := make([]uint16, len(m.Participants))
	for i, p := range m.Participants {
		ratios[i] = p.ShareBps
	}
	return ratios
}

func (m *MasterPolicy) Clone() *MasterPolicy {
	c := *m
	c.Participants = append([]MasterParticipant(nil), m.Participants...)
	return &c
}

// FlightPolicy is one insured flight issued under a master.
type FlightPolicy struct {
	ID                 uuid.UUID    `json:"id"`
	MasterID           uuid.UUID    `json:"master_id"`
	Creator            string       `json:"creator"`
	SubscriberRef      string       `json:"subscriber_ref"`
	FlightNo           string       `json:"flight_no"`
	Route              string       `json:"route"`
	DepartureTs        int64        `json:"departure_ts"`
	PremiumPaid        int64        `json:"premium_paid"`
	DelayMinutes       uint16       `json:"delay_minutes"`
	Cancelled          bool         `json:"cancelled"`
	PayoutAmount       int64        `json:"payout_amount"`
	Status             FlightStatus `json:"status"`
	PremiumDistributed bool         `json:"premium_distributed"`
	CreatedAt          int64        `json:"created_at"`
	UpdatedAt          int64        `json:"updated_at"`
}

func (f *FlightPolicy) Clone() *FlightPolicy {
	c := *f
	return &c
}
