package event

import (
	"ParamLedger/internal/ledger"
	"ParamLedger/internal/state"

	"github.com/google/uuid"
)

// PolicyRef is embedded in every single-policy command.
type PolicyRef struct {
	PolicyID uuid.UUID `json:"policy_id"`
}

func (p PolicyRef) PartitionKey() string { return p.PolicyID.String() }

type CreatePolicy struct {
	Meta
	PolicyRef
	Terms state.PolicyTerms `json:"terms"`
}

func (c *CreatePolicy) EventType() EventType { return EventTypeCreatePolicy }

type OpenUnderwriting struct {
	Meta
	PolicyRef
}

func (c *OpenUnderwriting) EventType() EventType { return EventTypeOpenUnderwriting }

// AcceptShare deposits escrow for the share at Index from the From wallet.
type AcceptShare struct {
	Meta
	PolicyRef
	Index   int               `json:"index"`
	Deposit int64             `json:"deposit_amount"`
	From    ledger.AccountKey `json:"from"`
}

func (c *AcceptShare) EventType() EventType { return EventTypeAcceptShare }

type RejectShare struct {
	Meta
	PolicyRef
	Index int `json:"index"`
}

func (c *RejectShare) EventType() EventType { return EventTypeRejectShare }

type ActivatePolicy struct {
	Meta
	PolicyRef
}

func (c *ActivatePolicy) EventType() EventType { return EventTypeActivatePolicy }

type ExpirePolicy struct {
	Meta
	PolicyRef
}

func (c *ExpirePolicy) EventType() EventType { return EventTypeExpirePolicy }

// RefundAfterExpiry returns one share's escrow. To defaults to the wallet
// the escrow came from.
type RefundAfterExpiry struct {
	Meta
	PolicyRef
	Index int               `json:"index"`
	To    ledger.AccountKey `json:"to"`
}

func (c *RefundAfterExpiry) EventType() EventType { return EventTypeRefundAfterExpiry }

type RegisterPolicyholder struct {
	Meta
	PolicyRef
	Entry state.PolicyholderInput `json:"entry"`
}

func (c *RegisterPolicyholder) EventType() EventType { return EventTypeRegisterPolicyholder }

type ApproveClaim struct {
	Meta
	PolicyRef
	ClaimID uuid.UUID `json:"claim_id"`
}

func (c *ApproveClaim) EventType() EventType { return EventTypeApproveClaim }

type SettleClaim struct {
	Meta
	PolicyRef
	ClaimID     uuid.UUID         `json:"claim_id"`
	Beneficiary ledger.AccountKey `json:"beneficiary"`
}

func (c *SettleClaim) EventType() EventType { return EventTypeSettleClaim }
