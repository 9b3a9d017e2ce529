package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of type t for decoding.
func New(t EventType) (Event, error) {
	switch t {
	case EventTypeWalletFunded:
		return &WalletFunded{}, nil
	case EventTypeCreatePolicy:
		return &CreatePolicy{}, nil
	case EventTypeOpenUnderwriting:
		return &OpenUnderwriting{}, nil
	case EventTypeAcceptShare:
		return &AcceptShare{}, nil
	case EventTypeRejectShare:
		return &RejectShare{}, nil
	case EventTypeActivatePolicy:
		return &ActivatePolicy{}, nil
	case EventTypeExpirePolicy:
		return &ExpirePolicy{}, nil
	case EventTypeRefundAfterExpiry:
		return &RefundAfterExpiry{}, nil
	case EventTypeRegisterPolicyholder:
		return &RegisterPolicyholder{}, nil
	case EventTypeCheckOracle:
		return &CheckOracle{}, nil
	case EventTypeApproveClaim:
		return &ApproveClaim{}, nil
	case EventTypeSettleClaim:
		return &SettleClaim{}, nil
	case EventTypeCreateMasterPolicy:
		return &CreateMasterPolicy{}, nil
	case EventTypeRegisterParticipantWallets:
		return &RegisterParticipantWallets{}, nil
	case EventTypeConfirmMaster:
		return &ConfirmMaster{}, nil
	case EventTypeActivateMaster:
		return &ActivateMaster{}, nil
	case EventTypeCreateFlightPolicy:
		return &CreateFlightPolicy{}, nil
	case EventTypeResolveFlightDelay:
		return &ResolveFlightDelay{}, nil
	case EventTypeSettleFlightClaim:
		return &SettleFlightClaim{}, nil
	case EventTypeSettleFlightNoClaim:
		return &SettleFlightNoClaim{}, nil
	default:
		return nil, fmt.Errorf("unsupported event type: %d", t)
	}
}

// Decode parses a JSON command payload of type t.
func Decode(t EventType, payload []byte) (Event, error) {
	evt, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return evt, nil
}

// Encode is the payload stored in the event log; Decode(evt.EventType(), p)
// rebuilds the command on replay.
func Encode(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return payload, nil
}
