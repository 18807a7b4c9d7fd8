package engine

import (
	"math"

	"github.com/curvefeed/curvefeed/pkg/curve"
)

// Position is a signed holding in one market. Size is positive for longs
// and negative for shorts. AveragePrice is the per-unit cost basis of the
// currently open portion and is meaningful only while the position is open.
//
// Invariant: CostBasis() equals the net cash paid for the open portion
// (negative for shorts, which received cash on entry).
type Position struct {
	Size         float64
	AveragePrice float64
}

// Open reports whether the position holds more than Epsilon of size.
func (p Position) Open() bool {
	return !curve.NearZero(p.Size)
}

// CostBasis returns AveragePrice * Size, the signed net cost of the open
// portion.
func (p Position) CostBasis() float64 {
	return p.AveragePrice * p.Size
}

// UnrealizedPnL returns mark-to-market profit on the open portion.
func (p Position) UnrealizedPnL(markPrice float64) float64 {
	if !p.Open() {
		return 0
	}
	return (markPrice - p.AveragePrice) * p.Size
}

// FillResult describes the ledger effect of one applied fill.
type FillResult struct {
	Position    Position // resulting position; zero-valued when Removed
	RealizedPnL float64  // profit locked in on the closed portion
	ClosedQty   float64  // magnitude closed against the old basis
	OpenedQty   float64  // magnitude opened in the fill's direction
	CashDelta   float64  // signed account cash flow: negative pays, positive receives
	Removed     bool     // position decayed to within Epsilon of zero
}

// ApplyFill applies a signed fill to a position with the market at the
// given supply, pricing every leg on the bonding curve. quantity is
// positive for a buy and negative for a sell.
//
// A fill that crosses zero is split at the crossing: the closing leg
// realizes PnL against the old basis, and the remainder opens a fresh
// position whose basis is the curve cost of the opening sub-interval only.
// The two legs are priced with separate curve calls because the marginal
// price differs across the crossing.
func ApplyFill(pos Position, supply, quantity float64) (FillResult, error) {
	if curve.NearZero(quantity) {
		return FillResult{Position: pos, Removed: !pos.Open()}, nil
	}

	sameDirection := !pos.Open() || (pos.Size > 0) == (quantity > 0)
	if sameDirection {
		return increase(pos, supply, quantity)
	}

	if math.Abs(quantity) <= math.Abs(pos.Size)+curve.Epsilon {
		return reduce(pos, supply, quantity)
	}
	return flip(pos, supply, quantity)
}

// increase grows the position in its current direction, blending the basis.
func increase(pos Position, supply, quantity float64) (FillResult, error) {
	cost, err := curve.Cost(supply, supply+quantity)
	if err != nil {
		return FillResult{}, err
	}

	newSize := pos.Size + quantity
	basis := pos.CostBasis() + cost
	return FillResult{
		Position:  Position{Size: newSize, AveragePrice: basis / newSize},
		OpenedQty: math.Abs(quantity),
		CashDelta: -cost,
	}, nil
}

// reduce shrinks the position toward zero, realizing PnL on the closed
// portion. The remaining position keeps its average price.
func reduce(pos Position, supply, quantity float64) (FillResult, error) {
	cost, err := curve.Cost(supply, supply+quantity)
	if err != nil {
		return FillResult{}, err
	}

	closedQty := math.Abs(quantity)
	exitPrice := math.Abs(cost) / closedQty
	realized := closedQty * (exitPrice - pos.AveragePrice) * sign(pos.Size)

	newSize := pos.Size + quantity
	res := FillResult{
		RealizedPnL: realized,
		ClosedQty:   closedQty,
		CashDelta:   -cost,
	}
	if curve.NearZero(newSize) {
		res.Removed = true
		return res, nil
	}
	res.Position = Position{Size: newSize, AveragePrice: pos.AveragePrice}
	return res, nil
}

// flip closes the whole position and opens the remainder on the other side
// of zero, pricing the two sub-intervals separately.
func flip(pos Position, supply, quantity float64) (FillResult, error) {
	dir := sign(quantity)
	closedQty := math.Abs(pos.Size)
	openedQty := math.Abs(quantity) - closedQty
	crossing := supply + dir*closedQty

	closeCost, err := curve.Cost(supply, crossing)
	if err != nil {
		return FillResult{}, err
	}
	openCost, err := curve.Cost(crossing, supply+quantity)
	if err != nil {
		return FillResult{}, err
	}

	exitPrice := math.Abs(closeCost) / closedQty
	realized := closedQty * (exitPrice - pos.AveragePrice) * sign(pos.Size)

	newSize := dir * openedQty
	return FillResult{
		Position:    Position{Size: newSize, AveragePrice: openCost / newSize},
		RealizedPnL: realized,
		ClosedQty:   closedQty,
		OpenedQty:   openedQty,
		CashDelta:   -(closeCost + openCost),
	}, nil
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
