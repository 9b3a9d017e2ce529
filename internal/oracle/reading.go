package oracle

import (
	"ParamLedger/internal/fault"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMaxStalenessSlots bounds how far behind the current slot a reading
// may be.
const DefaultMaxStalenessSlots uint64 = 150

var ten = decimal.NewFromInt(10)

// Reading is one verified feed value for a policy.
type Reading struct {
	Feed     string
	PolicyID uuid.UUID
	Round    uint64
	Slot     uint64
	Value    decimal.Decimal
}

// Staleness is currentSlot - readingSlot, saturating at zero.
func Staleness(currentSlot, readingSlot uint64) uint64 {
	if readingSlot >= currentSlot {
		return 0
	}
	return currentSlot - readingSlot
}

// DelayMinutes re-checks the trust boundary and returns the delay: the
// reading must be fresh and the value a non-negative integer multiple of 10
// with scale 0.
func (r Reading) DelayMinutes(currentSlot, maxStaleness uint64) (int64, error) {
	if s := Staleness(currentSlot, r.Slot); s > maxStaleness {
		return 0, fmt.Errorf("reading %d slots old, max %d: %w", s, maxStaleness, fault.ErrOracleStale)
	}
	if r.Value.Exponent() != 0 {
		return 0, fmt.Errorf("value %s has scale %d: %w", r.Value, -r.Value.Exponent(), fault.ErrOracleFormat)
	}
	if r.Value.IsNegative() {
		return 0, fmt.Errorf("value %s is negative: %w", r.Value, fault.ErrOracleFormat)
	}
	if !r.Value.BigInt().IsInt64() {
		return 0, fmt.Errorf("value %s out of range: %w", r.Value, fault.ErrOracleFormat)
	}
	if !r.Value.Mod(ten).IsZero() {
		return 0, fmt.Errorf("value %s not a multiple of 10 minutes: %w", r.Value, fault.ErrOracleFormat)
	}
	return r.Value.IntPart(), nil
}
