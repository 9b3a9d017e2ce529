package fault_test

import (
	"ParamLedger/internal/fault"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("accept share 2: %w", fault.ErrInsufficientEscrow)
	err = fmt.Errorf("dispatch AcceptShare: %w", err)

	assert.True(t, errors.Is(err, fault.ErrInsufficientEscrow))
	assert.False(t, errors.Is(err, fault.ErrPoolInsufficient))
	assert.Equal(t, "insufficient_escrow", fault.Code(err))
	assert.Equal(t, fault.ErrInsufficientEscrow, fault.KindOf(err))
}

func TestCodeWithoutKind(t *testing.T) {
	assert.Equal(t, "", fault.Code(nil))
	assert.Equal(t, "internal", fault.Code(errors.New("boom")))
	assert.Nil(t, fault.KindOf(errors.New("boom")))
}

func TestLookup(t *testing.T) {
	k, ok := fault.Lookup("oracle_stale")
	require.True(t, ok)
	assert.Same(t, fault.ErrOracleStale, k)

	_, ok = fault.Lookup("nope")
	assert.False(t, ok)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fault.ErrUnauthorized, http.StatusForbidden},
		{fault.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", fault.ErrAlreadySettled), http.StatusConflict},
		{fault.ErrMasterNotActive, http.StatusConflict},
		{fault.ErrPoolInsufficient, http.StatusPaymentRequired},
		{fault.ErrInvalidRatio, http.StatusUnprocessableEntity},
		{fmt.Errorf("dedup lookup: %w", fault.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fault.HTTPStatus(tt.err), "err=%v", tt.err)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, fault.Retryable(fmt.Errorf("dedup lookup: %w", fault.ErrUnavailable)))
	assert.False(t, fault.Retryable(fault.ErrOracleStale))
	assert.False(t, fault.Retryable(errors.New("boom")))
	assert.False(t, fault.Retryable(nil))
}
