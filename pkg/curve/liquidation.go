package curve

import "math"

// LiquidationSupply returns the supply level at which a position's equity
// reaches zero, treating the position as the only one backing the account.
//
// Solves collateral + (P(s) - averagePrice)·size = 0 for s by inverting the
// curve piecewise. Returns false when no liquidation level exists: the
// position is empty, or flattening equity would require a non-positive
// price, which the curve never produces.
func LiquidationSupply(balance, totalRealizedPnl, size, averagePrice float64) (float64, bool) {
	if NearZero(size) {
		return 0, false
	}

	collateral := balance + totalRealizedPnl
	target := averagePrice - collateral/size
	if target <= Epsilon {
		return 0, false
	}

	switch {
	case NearEqual(target, 1):
		return 0, true
	case target > 1:
		// Positive branch: P(s) = 1 + sqrt(s)  =>  s = (target-1)^2
		return (target - 1) * (target - 1), true
	default:
		// Negative branch: P(s) = 1/(1+sqrt(|s|))  =>  |s| = (1/target - 1)^2
		base := 1/target - 1
		if base < 0 {
			return 0, true
		}
		return -(base * base), true
	}
}

// LiquidationPrice returns the spot price at the liquidation supply level,
// or false when no such level exists.
func LiquidationPrice(balance, totalRealizedPnl, size, averagePrice float64) (float64, bool) {
	s, ok := LiquidationSupply(balance, totalRealizedPnl, size, averagePrice)
	if !ok {
		return 0, false
	}
	p := Price(s)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, false
	}
	return p, true
}
