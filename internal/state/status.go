package state

import (
	"ParamLedger/internal/fault"
	"fmt"
)

// PolicyState is the single-policy lifecycle:
// Draft -> Open -> Funded -> Active -> Claimable -> Approved -> Settled,
// with Active -> Expired.
type PolicyState uint8

const (
	PolicyDraft PolicyState = iota
	PolicyOpen
	PolicyFunded
	PolicyActive
	PolicyClaimable
	PolicyApproved
	PolicySettled
	PolicyExpired
)

var policyStateNames = []string{"Draft", "Open", "Funded", "Active", "Claimable", "Approved", "Settled", "Expired"}

func (s PolicyState) String() string { return enumName(policyStateNames, int(s)) }

func (s PolicyState) CanTransitionTo(next PolicyState) bool {
	switch s {
	case PolicyDraft:
		return next == PolicyOpen
	case PolicyOpen:
		return next == PolicyFunded
	case PolicyFunded:
		return next == PolicyActive
	case PolicyActive:
		return next == PolicyClaimable || next == PolicyExpired
	case PolicyClaimable:
		return next == PolicyApproved
	case PolicyApproved:
		return next == PolicySettled
	case PolicySettled, PolicyExpired:
		return false
	}
	return false
}

func (s PolicyState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PolicyState) UnmarshalText(b []byte) error {
	return parseEnum(policyStateNames, b, (*uint8)(s))
}

// UnderwritingStatus tracks the co-insurer commitment round.
type UnderwritingStatus uint8

const (
	UnderwritingProposed UnderwritingStatus = iota
	UnderwritingOpen
	UnderwritingFinalized
	UnderwritingFailed
)

var underwritingStatusNames = []string{"Proposed", "Open", "Finalized", "Failed"}

func (s UnderwritingStatus) String() string { return enumName(underwritingStatusNames, int(s)) }

func (s UnderwritingStatus) CanTransitionTo(next UnderwritingStatus) bool {
	switch s {
	case UnderwritingProposed:
		return next == UnderwritingOpen
	case UnderwritingOpen:
		return next == UnderwritingFinalized || next == UnderwritingFailed
	case UnderwritingFinalized, UnderwritingFailed:
		return false
	}
	return false
}

func (s UnderwritingStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *UnderwritingStatus) UnmarshalText(b []byte) error {
	return parseEnum(underwritingStatusNames, b, (*uint8)(s))
}

// ShareStatus is one participant's answer. Accepted and Rejected are final.
type ShareStatus uint8

const (
	SharePending ShareStatus = iota
	ShareAccepted
	ShareRejected
)

var shareStatusNames = []string{"Pending", "Accepted", "Rejected"}

func (s ShareStatus) String() string { return enumName(shareStatusNames, int(s)) }

func (s ShareStatus) CanTransitionTo(next ShareStatus) bool {
	switch s {
	case SharePending:
		return next == ShareAccepted || next == ShareRejected
	case ShareAccepted, ShareRejected:
		return false
	}
	return false
}

func (s ShareStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ShareStatus) UnmarshalText(b []byte) error {
	return parseEnum(shareStatusNames, b, (*uint8)(s))
}

// ClaimStatus tracks one oracle-triggered claim.
type ClaimStatus uint8

const (
	ClaimNone ClaimStatus = iota
	ClaimPendingOracle
	ClaimClaimable
	ClaimApproved
	ClaimSettled
	ClaimRejected
)

var claimStatusNames = []string{"None", "PendingOracle", "Claimable", "Approved", "Settled", "Rejected"}

func (s ClaimStatus) String() string { return enumName(claimStatusNames, int(s)) }

func (s ClaimStatus) CanTransitionTo(next ClaimStatus) bool {
	switch s {
	case ClaimNone:
		return next == ClaimPendingOracle || next == ClaimClaimable
	case ClaimPendingOracle:
		return next == ClaimClaimable || next == ClaimRejected
	case ClaimClaimable:
		return next == ClaimApproved || next == ClaimRejected
	case ClaimApproved:
		return next == ClaimSettled
	case ClaimSettled, ClaimRejected:
		return false
	}
	return false
}

func (s ClaimStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ClaimStatus) UnmarshalText(b []byte) error {
	return parseEnum(claimStatusNames, b, (*uint8)(s))
}

// MasterStatus is the reinsurance treaty lifecycle.
type MasterStatus uint8

const (
	MasterDraft MasterStatus = iota
	MasterPendingConfirm
	MasterActive
	MasterClosed
	MasterCancelled
)

var masterStatusNames = []string{"Draft", "PendingConfirm", "Active", "Closed", "Cancelled"}

func (s MasterStatus) String() string { return enumName(masterStatusNames, int(s)) }

func (s MasterStatus) CanTransitionTo(next MasterStatus) bool {
	switch s {
	case MasterDraft:
		return next == MasterPendingConfirm
	case MasterPendingConfirm:
		return next == MasterActive
	case MasterActive:
		return next == MasterClosed || next == MasterCancelled
	case MasterClosed, MasterCancelled:
		return false
	}
	return false
}

// WalletsFrozen reports whether participant wallets can no longer change.
func (s MasterStatus) WalletsFrozen() bool {
	switch s {
	case MasterActive, MasterClosed, MasterCancelled:
		return true
	case MasterDraft, MasterPendingConfirm:
		return false
	}
	return true
}

func (s MasterStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MasterStatus) UnmarshalText(b []byte) error {
	return parseEnum(masterStatusNames, b, (*uint8)(s))
}

// FlightStatus is the child policy lifecycle.
type FlightStatus uint8

const (
	FlightIssued FlightStatus = iota
	FlightAwaitingOracle
	FlightClaimable
	FlightPaid
	FlightNoClaim
	FlightExpired
)

var flightStatusNames = []string{"Issued", "AwaitingOracle", "Claimable", "Paid", "NoClaim", "Expired"}

func (s FlightStatus) String() string { return enumName(flightStatusNames, int(s)) }

func (s FlightStatus) CanTransitionTo(next FlightStatus) bool {
	switch s {
	case FlightIssued:
		return next == FlightAwaitingOracle || next == FlightClaimable || next == FlightNoClaim
	case FlightAwaitingOracle:
		return next == FlightClaimable || next == FlightNoClaim
	case FlightClaimable:
		return next == FlightPaid
	case FlightNoClaim:
		return next == FlightExpired
	case FlightPaid, FlightExpired:
		return false
	}
	return false
}

func (s FlightStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *FlightStatus) UnmarshalText(b []byte) error {
	return parseEnum(flightStatusNames, b, (*uint8)(s))
}

// ConfirmRole selects which slot a ConfirmMaster call confirms.
type ConfirmRole uint8

const (
	ConfirmParticipant ConfirmRole = iota
	ConfirmReinsurer
)

// ParseConfirmRole maps the wire value; anything else is InvalidRole.
func ParseConfirmRole(s string) (ConfirmRole, error) {
	switch s {
	case "participant", "0":
		return ConfirmParticipant, nil
	case "reinsurer", "1":
		return ConfirmReinsurer, nil
	}
	return 0, fmt.Errorf("confirm role %q: %w", s, fault.ErrInvalidRole)
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "Unknown"
	}
	return names[i]
}

func parseEnum(names []string, b []byte, dst *uint8) error {
	for i, n := range names {
		if n == string(b) {
			*dst = uint8(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// transition moves *cur to next or fails with InvalidState.
func transition[S interface {
	~uint8
	fmt.Stringer
	CanTransitionTo(S) bool
}](cur *S, next S) error {
	if !(*cur).CanTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", *cur, next, fault.ErrInvalidState)
	}
	*cur = next
	return nil
}
