// Package math implements overflow-checked fixed-point arithmetic for the
// margin vault. All monetary, price, and size values are signed 64-bit
// integers scaled by 1e6. Intermediate products are widened through big.Int
// and rescaled; a result that does not fit int64 is an explicit error, never
// a silent wrap. Division truncates toward zero.
package math

import (
	"errors"
	stdmath "math"
	"math/big"
)

const (
	// Scale is the e6 fixed-point scale shared by prices, sizes, and quote amounts.
	Scale = 1_000_000

	// BasisPointScale expresses ratios in basis points (10000 = 100%).
	BasisPointScale = 10_000

	// MarginRatioSentinel is the ratio reported when maintenance margin is
	// zero and the ratio is undefined.
	MarginRatioSentinel = stdmath.MaxInt64

	// Liquidation fee is 0.5% of locked collateral.
	LiquidationFeeNumerator   = 5
	LiquidationFeeDenominator = 1000
)

var (
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
	ErrDivisionByZero      = errors.New("division by zero")
)

var bigScale = big.NewInt(Scale)

// mulDivE6 computes a*b/1e6 in wide precision.
func mulDivE6(a, b int64) (int64, error) {
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, bigScale)
	if !r.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return r.Int64(), nil
}

// MulDiv computes a*b/den in wide precision, truncating toward zero. Used
// for proportional splits such as releasing locked collateral pro rata to
// the closed size.
func MulDiv(a, b, den int64) (int64, error) {
	if den == 0 {
		return 0, ErrDivisionByZero
	}
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, big.NewInt(den))
	if !r.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return r.Int64(), nil
}

// Notional returns size * price / 1e6 in quote units.
func Notional(size, price int64) (int64, error) {
	return mulDivE6(size, price)
}

// InitialMargin returns (size * price / 1e6) / leverage.
func InitialMargin(size, price int64, leverage uint32) (int64, error) {
	if leverage == 0 {
		return 0, ErrDivisionByZero
	}
	r := new(big.Int).Mul(big.NewInt(size), big.NewInt(price))
	r.Quo(r, bigScale)
	r.Quo(r, big.NewInt(int64(leverage)))
	if !r.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return r.Int64(), nil
}

// MaintenanceMargin is half the initial margin, truncating.
func MaintenanceMargin(initialMargin int64) int64 {
	return initialMargin / 2
}

// RealizedPnL computes the PnL of closing closeSize at exitPrice against
// entryPrice. A long profits when exit > entry; a short mirrors the sign.
func RealizedPnL(isLong bool, entryPrice, exitPrice, closeSize int64) (int64, error) {
	diff := exitPrice - entryPrice
	if !isLong {
		diff = entryPrice - exitPrice
	}
	return mulDivE6(diff, closeSize)
}

// UnrealizedPnL is RealizedPnL evaluated over the full remaining size at the
// mark price.
func UnrealizedPnL(isLong bool, entryPrice, markPrice, size int64) (int64, error) {
	return RealizedPnL(isLong, entryPrice, markPrice, size)
}

// MarginRatioBP returns equity / maintenanceMargin in basis points.
// A zero maintenance margin yields MarginRatioSentinel; non-positive equity
// yields 0.
func MarginRatioBP(equity, maintenanceMargin int64) int64 {
	if maintenanceMargin == 0 {
		return MarginRatioSentinel
	}
	if equity <= 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(equity), big.NewInt(BasisPointScale))
	r.Quo(r, big.NewInt(maintenanceMargin))
	if !r.IsInt64() {
		return MarginRatioSentinel
	}
	return r.Int64()
}

// LiquidationFee returns 0.5% of locked collateral, truncating.
func LiquidationFee(lockedCollateral int64) int64 {
	r := new(big.Int).Mul(big.NewInt(lockedCollateral), big.NewInt(LiquidationFeeNumerator))
	r.Quo(r, big.NewInt(LiquidationFeeDenominator))
	return r.Int64()
}

// IsLiquidatable reports whether a margin ratio is strictly below 100%.
// Exactly 10000 bp is not liquidatable.
func IsLiquidatable(marginRatioBP int64) bool {
	return marginRatioBP < BasisPointScale
}

// LiquidationPrice derives the trigger price at open time:
// long = entry * (1 - 1/leverage), short = entry * (1 + 1/leverage).
func LiquidationPrice(entryPrice int64, isLong bool, leverage uint32) int64 {
	if leverage == 0 {
		return 0
	}
	delta := new(big.Int).Mul(big.NewInt(entryPrice), big.NewInt(Scale/int64(leverage)))
	delta.Quo(delta, bigScale)
	if isLong {
		return entryPrice - delta.Int64()
	}
	return entryPrice + delta.Int64()
}

// WeightedEntryPrice merges an existing position with an added fill:
// (old_entry*old_size + add_price*add_size) / (old_size + add_size).
func WeightedEntryPrice(oldSize, oldEntry, addSize, addPrice int64) (int64, error) {
	newSize := oldSize + addSize
	if newSize == 0 {
		return 0, ErrDivisionByZero
	}
	acc := new(big.Int).Mul(big.NewInt(oldSize), big.NewInt(oldEntry))
	acc.Add(acc, new(big.Int).Mul(big.NewInt(addSize), big.NewInt(addPrice)))
	acc.Quo(acc, big.NewInt(newSize))
	if !acc.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return acc.Int64(), nil
}

// SafeAdd adds two int64 values, failing on overflow instead of wrapping.
func SafeAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// SafeSub subtracts b from a, failing on underflow instead of wrapping.
func SafeSub(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, ErrArithmeticUnderflow
	}
	return diff, nil
}
