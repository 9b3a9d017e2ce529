package math

import (
	"ParamLedger/internal/fault"
	"fmt"
	stdmath "math"
	"math/big"
	"sync"
)

// Amounts are int64 minor units (e.g. 6-decimal USDC). Every product is
// computed in a pooled big.Int so the intermediate never wraps.
var wideIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int {
	return wideIntPool.Get().(*big.Int)
}

func putWide(v *big.Int) {
	v.SetInt64(0)
	wideIntPool.Put(v)
}

// MulDivFloor returns floor(a*b/denominator) for non-negative inputs.
// Fails with MathOverflow when the quotient does not fit in int64.
func MulDivFloor(a, b, denominator int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("muldiv %d*%d: %w", a, b, fault.ErrInvalidAmount)
	}
	if denominator <= 0 {
		return 0, fmt.Errorf("muldiv denominator %d: %w", denominator, fault.ErrMathOverflow)
	}

	product := getWide()
	defer putWide(product)
	product.SetInt64(a)

	factor := getWide()
	defer putWide(factor)
	factor.SetInt64(b)

	product.Mul(product, factor)
	factor.SetInt64(denominator)
	product.Quo(product, factor) // operands are non-negative, so Quo floors

	if !product.IsInt64() {
		return 0, fmt.Errorf("muldiv %d*%d/%d: %w", a, b, denominator, fault.ErrMathOverflow)
	}
	return product.Int64(), nil
}

// CheckedAdd returns a+b or MathOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > stdmath.MaxInt64-b) || (b < 0 && a < stdmath.MinInt64-b) {
		return 0, fmt.Errorf("add %d+%d: %w", a, b, fault.ErrMathOverflow)
	}
	return a + b, nil
}

// CheckedSub returns a-b or MathOverflow.
func CheckedSub(a, b int64) (int64, error) {
	if (b < 0 && a > stdmath.MaxInt64+b) || (b > 0 && a < stdmath.MinInt64+b) {
		return 0, fmt.Errorf("sub %d-%d: %w", a, b, fault.ErrMathOverflow)
	}
	return a - b, nil
}

// CheckedSum adds every value, failing on the first overflow.
func CheckedSum(values []int64) (int64, error) {
	var total int64
	for _, v := range values {
		var err error
		if total, err = CheckedAdd(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}
