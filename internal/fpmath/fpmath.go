// Package fpmath provides checked fixed-point arithmetic for monetary
// quantities. Every operation returns ErrMathOverflow instead of wrapping,
// saturating, or panicking: an unchecked overflow in this codebase is a
// correctness bug with monetary consequences.
package fpmath

import (
	"errors"
	"math"
	"math/big"
)

// ErrMathOverflow is returned on addition overflow, subtraction underflow,
// multiplication overflow, and division by zero.
var ErrMathOverflow = errors.New("math overflow")

// PriceScale is the implicit fixed-point scale for prices: six decimal
// places. A stored price of 1_000_000 means 1.0 quote per base unit.
// Sizes and collateral are unscaled integer base/quote units.
const PriceScale uint64 = 1_000_000

// RatioScale is the basis-point denominator for margin and fee ratios.
const RatioScale uint64 = 10_000

// AddU64 returns a + b, failing on overflow.
func AddU64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// SubU64 returns a - b, failing on underflow.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrMathOverflow
	}
	return a - b, nil
}

// MulU64 returns a * b, failing on overflow.
func MulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, ErrMathOverflow
	}
	return prod, nil
}

// DivU64 returns a / b truncated toward zero, failing on division by zero.
func DivU64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrMathOverflow
	}
	return a / b, nil
}

// AddI64 returns a + b, failing on signed overflow.
func AddI64(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrMathOverflow
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, ErrMathOverflow
	}
	return a + b, nil
}

// SubI64 returns a - b, failing on signed overflow.
func SubI64(a, b int64) (int64, error) {
	if b < 0 && a > math.MaxInt64+b {
		return 0, ErrMathOverflow
	}
	if b > 0 && a < math.MinInt64+b {
		return 0, ErrMathOverflow
	}
	return a - b, nil
}

// MulI64 returns a * b, failing on signed overflow.
func MulI64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, ErrMathOverflow
	}
	// MinInt64 * -1 wraps without tripping the division check.
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, ErrMathOverflow
	}
	return prod, nil
}

// MulDivU64 returns a * b / den with the intermediate product widened
// through big.Int so it cannot overflow. The quotient truncates toward
// zero (rounds down). Fails only if den is zero or the result exceeds
// the uint64 range.
func MulDivU64(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrMathOverflow
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	num.Quo(num, new(big.Int).SetUint64(den))
	if !num.IsUint64() {
		return 0, ErrMathOverflow
	}
	return num.Uint64(), nil
}

// MulDivCeilU64 returns ceil(a * b / den) with a widened intermediate.
// Used where rounding down would understate a required amount: required
// margin rounds up so truncation can never favor the trader.
func MulDivCeilU64(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrMathOverflow
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	d := new(big.Int).SetUint64(den)
	q, r := new(big.Int).QuoRem(num, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return 0, ErrMathOverflow
	}
	return q.Uint64(), nil
}

// SignedNotionalDiff returns (a - b) as a signed value where a and b are
// uint64 notionals. Fails if the difference exceeds the int64 range.
func SignedNotionalDiff(a, b uint64) (int64, error) {
	if a >= b {
		d := a - b
		if d > math.MaxInt64 {
			return 0, ErrMathOverflow
		}
		return int64(d), nil
	}
	d := b - a
	if d > math.MaxInt64 {
		return 0, ErrMathOverflow
	}
	return -int64(d), nil
}

// ApplySignedU64 returns base + delta where base is unsigned and delta is
// signed. A negative delta larger than base fails with ErrMathOverflow
// rather than going negative.
func ApplySignedU64(base uint64, delta int64) (uint64, error) {
	if delta >= 0 {
		return AddU64(base, uint64(delta))
	}
	// uint64(-delta) is exact even for MinInt64 (two's complement wrap).
	return SubU64(base, uint64(-delta))
}
