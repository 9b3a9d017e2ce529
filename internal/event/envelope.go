package event

import (
	"fmt"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeWalletFunded

	// Single-policy model
	EventTypeCreatePolicy
	EventTypeOpenUnderwriting
	EventTypeAcceptShare
	EventTypeRejectShare
	EventTypeActivatePolicy
	EventTypeExpirePolicy
	EventTypeRefundAfterExpiry
	EventTypeRegisterPolicyholder
	EventTypeCheckOracle
	EventTypeApproveClaim
	EventTypeSettleClaim

	// Master/flight model
	EventTypeCreateMasterPolicy
	EventTypeRegisterParticipantWallets
	EventTypeConfirmMaster
	EventTypeActivateMaster
	EventTypeCreateFlightPolicy
	EventTypeResolveFlightDelay
	EventTypeSettleFlightClaim
	EventTypeSettleFlightNoClaim

	eventTypeEnd
)

var eventTypeNames = map[EventType]string{
	EventTypeWalletFunded:               "wallet_funded",
	EventTypeCreatePolicy:               "create_policy",
	EventTypeOpenUnderwriting:           "open_underwriting",
	EventTypeAcceptShare:                "accept_share",
	EventTypeRejectShare:                "reject_share",
	EventTypeActivatePolicy:             "activate_policy",
	EventTypeExpirePolicy:               "expire_policy",
	EventTypeRefundAfterExpiry:          "refund_after_expiry",
	EventTypeRegisterPolicyholder:       "register_policyholder",
	EventTypeCheckOracle:                "check_oracle",
	EventTypeApproveClaim:               "approve_claim",
	EventTypeSettleClaim:                "settle_claim",
	EventTypeCreateMasterPolicy:         "create_master_policy",
	EventTypeRegisterParticipantWallets: "register_participant_wallets",
	EventTypeConfirmMaster:              "confirm_master",
	EventTypeActivateMaster:             "activate_master",
	EventTypeCreateFlightPolicy:         "create_flight_policy",
	EventTypeResolveFlightDelay:         "resolve_flight_delay",
	EventTypeSettleFlightClaim:          "settle_flight_claim",
	EventTypeSettleFlightNoClaim:        "settle_flight_no_claim",
}

// String returns the wire name used in subjects, URLs and the event log.
func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, error) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown command %q", name)
}

// AllEventTypes lists every command type in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeWalletFunded; et < eventTypeEnd; et++ {
		out = append(out, et)
	}
	return out
}

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Command id supplied by the caller
	IdempotencyKey string

	EventType EventType

	// Record the command targets (policy or master id)
	PartitionKey string

	Signer string

	// Versioned input timestamp, unix seconds (NOT wall-clock)
	Timestamp int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PartitionKey returns the targeted record id
	PartitionKey() string

	// Signer is the identity that signed the command
	Signer() string

	// Timestamp is the versioned input time, unix seconds
	Timestamp() int64
}

// Meta is embedded in every command.
type Meta struct {
	CommandID uuid.UUID `json:"command_id"`
	SignedBy  string    `json:"signer"`
	At        int64     `json:"timestamp"`
}

func (m Meta) IdempotencyKey() string { return m.CommandID.String() }
func (m Meta) Signer() string         { return m.SignedBy }
func (m Meta) Timestamp() int64       { return m.At }
