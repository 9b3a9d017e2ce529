// Package fault declares the named failure kinds surfaced by every lifecycle
// operation. Callers wrap a kind with context via fmt.Errorf("...: %w", ErrX)
// and test for it with errors.Is.
package fault

import (
	"errors"
	"net/http"
)

// Kind is a sentinel failure kind. Its message doubles as the stable code.
type Kind struct {
	code string
}

func (k *Kind) Error() string { return k.code }

// Code returns the snake_case identifier used in metrics and API bodies.
func (k *Kind) Code() string { return k.code }

func newKind(code string) *Kind { return &Kind{code: code} }

var (
	ErrUnauthorized            = newKind("unauthorized")
	ErrInvalidState            = newKind("invalid_state")
	ErrInvalidRatio            = newKind("invalid_ratio")
	ErrAlreadyExists           = newKind("already_exists")
	ErrNotFound                = newKind("not_found")
	ErrInsufficientEscrow      = newKind("insufficient_escrow")
	ErrPoolInsufficient        = newKind("pool_insufficient")
	ErrOracleStale             = newKind("oracle_stale")
	ErrOracleFormat            = newKind("oracle_format")
	ErrInvalidTimeWindow       = newKind("invalid_time_window")
	ErrInvalidInput            = newKind("invalid_input")
	ErrInvalidAmount           = newKind("invalid_amount")
	ErrInvalidDelayThreshold   = newKind("invalid_delay_threshold")
	ErrInputTooLong            = newKind("input_too_long")
	ErrMathOverflow            = newKind("math_overflow")
	ErrMasterNotActive         = newKind("master_not_active")
	ErrMasterNotConfirmed      = newKind("master_not_confirmed")
	ErrInvalidRole             = newKind("invalid_role")
	ErrInvalidPayout           = newKind("invalid_payout")
	ErrAlreadySettled          = newKind("already_settled")
	ErrInvalidSettlementTarget = newKind("invalid_settlement_target")
	ErrInvalidAccountList      = newKind("invalid_account_list")

	// ErrInsufficientFunds is raised by the custody ledger when a source
	// account cannot cover a transfer.
	ErrInsufficientFunds = newKind("insufficient_funds")

	// ErrUnavailable means a dependency the core needs could not answer.
	// The command was not applied and may be resubmitted unchanged.
	ErrUnavailable = newKind("unavailable")
)

var all = []*Kind{
	ErrUnauthorized, ErrInvalidState, ErrInvalidRatio, ErrAlreadyExists, ErrNotFound,
	ErrInsufficientEscrow, ErrPoolInsufficient, ErrOracleStale, ErrOracleFormat,
	ErrInvalidTimeWindow, ErrInvalidInput, ErrInvalidAmount, ErrInvalidDelayThreshold,
	ErrInputTooLong, ErrMathOverflow, ErrMasterNotActive, ErrMasterNotConfirmed,
	ErrInvalidRole, ErrInvalidPayout, ErrAlreadySettled, ErrInvalidSettlementTarget,
	ErrInvalidAccountList, ErrInsufficientFunds, ErrUnavailable,
}

// KindOf returns the first failure kind found in err's chain, or nil.
func KindOf(err error) *Kind {
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// Code returns the stable code for err, "internal" when err carries no kind.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if k := KindOf(err); k != nil {
		return k.code
	}
	return "internal"
}

// Lookup resolves a code back to its kind.
func Lookup(code string) (*Kind, bool) {
	for _, k := range all {
		if k.code == code {
			return k, true
		}
	}
	return nil, false
}

// Retryable reports whether err is a failure that resubmitting the same
// command can clear.
func Retryable(err error) bool {
	return KindOf(err) == ErrUnavailable
}

// HTTPStatus maps a failure to the status returned by the HTTP surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case nil:
		return http.StatusInternalServerError
	case ErrUnauthorized:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists, ErrAlreadySettled:
		return http.StatusConflict
	case ErrInvalidState, ErrMasterNotActive, ErrMasterNotConfirmed, ErrInvalidTimeWindow:
		return http.StatusConflict
	case ErrInsufficientEscrow, ErrPoolInsufficient, ErrInsufficientFunds:
		return http.StatusPaymentRequired
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}
