package state

import (
	"ParamLedger/internal/fault"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxIdentityLen = 64

	policyAuthorityPrefix = "policy."
	masterAuthorityPrefix = "master."
)

// Role is a capability a caller can hold on a record.
type Role uint8

const (
	RoleLeader Role = iota
	RoleOperator
	RoleParticipant
	RoleReinsurer
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleOperator:
		return "operator"
	case RoleParticipant:
		return "participant"
	case RoleReinsurer:
		return "reinsurer"
	default:
		return "unknown"
	}
}

// RoleHolder is any record that stores role identities.
type RoleHolder interface {
	HasRole(id string, role Role) bool
}

// Authorize is the capability check every mutating operation goes through.
// The caller passes if it holds any of the listed roles on rec.
func Authorize(caller string, rec RoleHolder, roles ...Role) error {
	for _, role := range roles {
		if rec.HasRole(caller, role) {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return fmt.Errorf("%q is not %s: %w", caller, strings.Join(names, "/"), fault.ErrUnauthorized)
}

// ValidateIdentity checks a party identity. Record authorities are reserved
// so a party can never sign for a custody account.
func ValidateIdentity(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("empty identity: %w", fault.ErrInvalidInput)
	case len(id) > MaxIdentityLen:
		return fmt.Errorf("identity longer than %d: %w", MaxIdentityLen, fault.ErrInputTooLong)
	case strings.ContainsAny(id, ": \t\n"):
		return fmt.Errorf("identity %q has a reserved character: %w", id, fault.ErrInvalidInput)
	case strings.HasPrefix(id, policyAuthorityPrefix), strings.HasPrefix(id, masterAuthorityPrefix):
		return fmt.Errorf("identity %q is a record authority: %w", id, fault.ErrInvalidInput)
	}
	return nil
}

// PolicyAuthority is the identity that controls a policy's custody accounts.
func PolicyAuthority(policyID uuid.UUID) string {
	return policyAuthorityPrefix + policyID.String()
}

// MasterAuthority is the identity that controls a master's custody accounts.
func MasterAuthority(masterID uuid.UUID) string {
	return masterAuthorityPrefix + masterID.String()
}

func checkLen(field, v string, max int) error {
	if len(v) > max {
		return fmt.Errorf("%s longer than %d: %w", field, max, fault.ErrInputTooLong)
	}
	return nil
}
