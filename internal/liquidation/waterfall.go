// Package liquidation plans the distribution of a liquidated position's
// locked collateral. The plan is pure computation; the processor executes it
// as ledger transfers inside the instruction's atomic unit.
package liquidation

import (
	fpmath "MarginVault/internal/math"
)

// Waterfall is the ordered split of locked collateral. Priorities are fixed:
// liquidator fee, then treasury fee, then the user's remainder, then the
// insurance sweep. Later entries only receive what earlier entries left, and
// the four parts always sum to the locked amount.
type Waterfall struct {
	Fee           int64 // total liquidation fee, 0.5% of locked
	LiquidatorFee int64 // fee / 2, paid to the liquidating caller
	TreasuryFee   int64 // fee - fee/2, odd unit goes to the treasury
	UserReturn    int64 // min(locked - fee, equity), clamped at zero
	InsuranceFund int64 // everything left sweeps into the insurance fund
}

// Plan splits lockedCollateral given the position's equity at the
// liquidation price.
func Plan(lockedCollateral, equity int64) Waterfall {
	fee := fpmath.LiquidationFee(lockedCollateral)
	liquidatorFee := fee / 2
	treasuryFee := fee - liquidatorFee

	remaining := lockedCollateral - fee
	userReturn := int64(0)
	if equity > 0 && remaining > 0 {
		userReturn = remaining
		if equity < remaining {
			userReturn = equity
		}
	}

	return Waterfall{
		Fee:           fee,
		LiquidatorFee: liquidatorFee,
		TreasuryFee:   treasuryFee,
		UserReturn:    userReturn,
		InsuranceFund: lockedCollateral - liquidatorFee - treasuryFee - userReturn,
	}
}

// Eligible reports whether a margin ratio permits liquidation; exactly 100%
// does not.
func Eligible(marginRatioBP int64) bool {
	return fpmath.IsLiquidatable(marginRatioBP)
}
