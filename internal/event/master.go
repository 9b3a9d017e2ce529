package event

import (
	"ParamLedger/internal/ledger"
	"ParamLedger/internal/state"

	"github.com/google/uuid"
)

// MasterRef is embedded in every master/flight command; flights share
// their master's partition.
type MasterRef struct {
	MasterID uuid.UUID `json:"master_id"`
}

func (m MasterRef) PartitionKey() string { return m.MasterID.String() }

type CreateMasterPolicy struct {
	Meta
	MasterRef
	Terms state.MasterTerms `json:"terms"`
}

func (c *CreateMasterPolicy) EventType() EventType { return EventTypeCreateMasterPolicy }

type RegisterParticipantWallets struct {
	Meta
	MasterRef
	PoolWallet    ledger.AccountKey `json:"pool_wallet"`
	DepositWallet ledger.AccountKey `json:"deposit_wallet"`
}

func (c *RegisterParticipantWallets) EventType() EventType {
	return EventTypeRegisterParticipantWallets
}

// ConfirmMaster carries the role as sent; it is validated by the handler.
type ConfirmMaster struct {
	Meta
	MasterRef
	Role string `json:"role"`
}

func (c *ConfirmMaster) EventType() EventType { return EventTypeConfirmMaster }

type ActivateMaster struct {
	Meta
	MasterRef
}

func (c *ActivateMaster) EventType() EventType { return EventTypeActivateMaster }

type CreateFlightPolicy struct {
	Meta
	MasterRef
	FlightID uuid.UUID         `json:"flight_id"`
	Terms    state.FlightTerms `json:"terms"`
	Payer    ledger.AccountKey `json:"payer"`
}

func (c *CreateFlightPolicy) EventType() EventType { return EventTypeCreateFlightPolicy }

type ResolveFlightDelay struct {
	Meta
	MasterRef
	FlightID     uuid.UUID `json:"flight_id"`
	DelayMinutes uint16    `json:"delay_minutes"`
	Cancelled    bool      `json:"cancelled"`
}

func (c *ResolveFlightDelay) EventType() EventType { return EventTypeResolveFlightDelay }

// SettleFlightClaim lists one pool wallet per participant, in participant
// order.
type SettleFlightClaim struct {
	Meta
	MasterRef
	FlightID    uuid.UUID           `json:"flight_id"`
	PoolWallets []ledger.AccountKey `json:"pool_wallets"`
}

func (c *SettleFlightClaim) EventType() EventType { return EventTypeSettleFlightClaim }

// SettleFlightNoClaim lists one deposit wallet per participant, in
// participant order.
type SettleFlightNoClaim struct {
	Meta
	MasterRef
	FlightID       uuid.UUID           `json:"flight_id"`
	DepositWallets []ledger.AccountKey `json:"deposit_wallets"`
}

func (c *SettleFlightNoClaim) EventType() EventType { return EventTypeSettleFlightNoClaim }
