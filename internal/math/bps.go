package math

import (
	"ParamLedger/internal/fault"
	"fmt"
)

// BpsDenominator is one whole (100%) in basis points.
const BpsDenominator = 10_000

// TierPayouts is the delay-to-payout step table of a master treaty.
type TierPayouts struct {
	Delay2h            int64 `json:"delay_2h"`
	Delay3h            int64 `json:"delay_3h"`
	Delay4to5h         int64 `json:"delay_4to5h"`
	Delay6hOrCancelled int64 `json:"delay_6h_or_cancelled"`
}

// Validate rejects negative tier amounts.
func (t TierPayouts) Validate() error {
	for _, v := range []int64{t.Delay2h, t.Delay3h, t.Delay4to5h, t.Delay6hOrCancelled} {
		if v < 0 {
			return fmt.Errorf("tier payout %d: %w", v, fault.ErrInvalidAmount)
		}
	}
	return nil
}

// SumBps adds ratios, failing with MathOverflow past the uint32 range.
func SumBps(ratios []uint16) (uint32, error) {
	var sum uint32
	for _, r := range ratios {
		next := sum + uint32(r)
		if next < sum {
			return 0, fault.ErrMathOverflow
		}
		sum = next
	}
	return sum, nil
}

// SplitByBps divides total across ratios, which must sum to exactly 10,000.
// Each part is floor(total*ratio/10000); the rounding remainder goes to the
// first entry so the parts always sum to total.
func SplitByBps(total int64, ratios []uint16) ([]int64, error) {
	if total < 0 {
		return nil, fmt.Errorf("split total %d: %w", total, fault.ErrInvalidAmount)
	}
	sum, err := SumBps(ratios)
	if err != nil {
		return nil, err
	}
	if sum != BpsDenominator {
		return nil, fmt.Errorf("split ratios sum to %d bps: %w", sum, fault.ErrInvalidRatio)
	}

	parts := make([]int64, len(ratios))
	var allocated int64
	for i, r := range ratios {
		part, err := MulDivFloor(total, int64(r), BpsDenominator)
		if err != nil {
			return nil, err
		}
		parts[i] = part
		if allocated, err = CheckedAdd(allocated, part); err != nil {
			return nil, err
		}
	}

	remainder, err := CheckedSub(total, allocated)
	if err != nil {
		return nil, err
	}
	if parts[0], err = CheckedAdd(parts[0], remainder); err != nil {
		return nil, err
	}
	return parts, nil
}

// EffectiveReinsurerBps nets the ceding commission out of the ceded ratio:
// ceded * (10000 - commission) / 10000, floored.
func EffectiveReinsurerBps(cededBps, commissionBps uint16) (uint16, error) {
	if cededBps > BpsDenominator || commissionBps > BpsDenominator {
		return 0, fmt.Errorf("ceded=%d commission=%d: %w", cededBps, commissionBps, fault.ErrInvalidRatio)
	}
	eff, err := MulDivFloor(int64(cededBps), int64(BpsDenominator-commissionBps), BpsDenominator)
	if err != nil {
		return 0, err
	}
	return uint16(eff), nil
}

// TieredPayout maps a delay (or cancellation) onto the tier table. Ranges are
// half-open and lower-inclusive; cancellation overrides the duration.
func TieredPayout(delayMinutes uint16, cancelled bool, tiers TierPayouts) int64 {
	switch {
	case cancelled || delayMinutes >= 360:
		return tiers.Delay6hOrCancelled
	case delayMinutes >= 240:
		return tiers.Delay4to5h
	case delayMinutes >= 180:
		return tiers.Delay3h
	case delayMinutes >= 120:
		return tiers.Delay2h
	default:
		return 0
	}
}

// RequiredEscrow is the collateral a participant must post for its share of
// payout, rounded down.
func RequiredEscrow(payout int64, ratioBps uint16) (int64, error) {
	if ratioBps == 0 || ratioBps > BpsDenominator {
		return 0, fmt.Errorf("share ratio %d: %w", ratioBps, fault.ErrInvalidRatio)
	}
	return MulDivFloor(payout, int64(ratioBps), BpsDenominator)
}

// ReinsuranceSplit is the distribution of one amount between the reinsurer
// and the co-insurers of a master treaty.
type ReinsuranceSplit struct {
	Total     int64
	Reinsurer int64
	Insurers  []int64 // participant order
}

// SplitWithReinsurance carves the reinsurer's effective share off total and
// splits the remainder across insurer ratios with SplitByBps.
func SplitWithReinsurance(total int64, reinsurerBps uint16, insurerRatios []uint16) (*ReinsuranceSplit, error) {
	if reinsurerBps > BpsDenominator {
		return nil, fmt.Errorf("reinsurer bps %d: %w", reinsurerBps, fault.ErrInvalidRatio)
	}
	reinsurer, err := MulDivFloor(total, int64(reinsurerBps), BpsDenominator)
	if err != nil {
		return nil, err
	}
	insurerTotal, err := CheckedSub(total, reinsurer)
	if err != nil {
		return nil, err
	}
	insurers, err := SplitByBps(insurerTotal, insurerRatios)
	if err != nil {
		return nil, err
	}
	return &ReinsuranceSplit{
		Total:     total,
		Reinsurer: reinsurer,
		Insurers:  insurers,
	}, nil
}
