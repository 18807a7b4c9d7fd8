package engine

import (
	"math"

	"github.com/curvefeed/curvefeed/pkg/curve"
)

// DeltaExposure returns the change in required collateral if the
// prospective trade were to execute, without mutating anything. It is the
// pure preview admission control runs on.
//
// Covering an existing opposite position frees collateral in proportion to
// the basis already pledged against it. Any quantity beyond the covering
// portion opens new directional risk and pledges the curve cost of that
// sub-interval only, starting at the supply where the old position would be
// exactly flat.
func DeltaExposure(pos Position, supply float64, side Side, quantity float64) (float64, error) {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return 0, curve.ErrNotFinite
	}

	if side == Buy {
		return buyDelta(pos, supply, quantity)
	}
	return sellDelta(pos, supply, quantity)
}

func buyDelta(pos Position, supply, quantity float64) (float64, error) {
	// Flat or long: the whole trade is new exposure.
	if pos.Size >= -curve.Epsilon {
		cost, err := curve.Cost(supply, supply+quantity)
		if err != nil {
			return 0, err
		}
		return math.Abs(cost), nil
	}

	shortSize := math.Abs(pos.Size)
	covered := math.Min(quantity, shortSize)
	delta := -covered * math.Abs(pos.AveragePrice)

	excess := quantity - covered
	if excess > curve.Epsilon {
		// Supply at which the short is exactly flattened.
		crossing := supply + shortSize
		cost, err := curve.Cost(crossing, supply+quantity)
		if err != nil {
			return 0, err
		}
		delta += math.Abs(cost)
	}
	return delta, nil
}

func sellDelta(pos Position, supply, quantity float64) (float64, error) {
	// Flat or short: the whole trade is new exposure.
	if pos.Size <= curve.Epsilon {
		cost, err := curve.Cost(supply, supply-quantity)
		if err != nil {
			return 0, err
		}
		return math.Abs(cost), nil
	}

	covered := math.Min(quantity, pos.Size)
	delta := -covered * math.Abs(pos.AveragePrice)

	excess := quantity - covered
	if excess > curve.Epsilon {
		crossing := supply - pos.Size
		cost, err := curve.Cost(supply-quantity, crossing)
		if err != nil {
			return 0, err
		}
		delta += math.Abs(cost)
	}
	return delta, nil
}
