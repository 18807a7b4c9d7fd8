package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvefeed/curvefeed/pkg/curve"
)

func mustCost(t *testing.T, s1, s2 float64) float64 {
	t.Helper()
	c, err := curve.Cost(s1, s2)
	require.NoError(t, err)
	return c
}

func TestApplyFillOpensLong(t *testing.T) {
	res, err := ApplyFill(Position{}, 0, 1)
	require.NoError(t, err)

	cost := mustCost(t, 0, 1)
	assert.InDelta(t, 1, res.Position.Size, curve.Epsilon)
	assert.InDelta(t, cost, res.Position.AveragePrice, curve.Epsilon)
	assert.InDelta(t, -cost, res.CashDelta, curve.Epsilon)
	assert.Zero(t, res.RealizedPnL)
	assert.False(t, res.Removed)
}

func TestApplyFillIncreaseBlendsBasis(t *testing.T) {
	first, err := ApplyFill(Position{}, 0, 1)
	require.NoError(t, err)
	second, err := ApplyFill(first.Position, 1, 3)
	require.NoError(t, err)

	// Basis after both fills must equal the whole interval's curve cost.
	total := mustCost(t, 0, 4)
	assert.InDelta(t, 4, second.Position.Size, curve.Epsilon)
	assert.InDelta(t, total, second.Position.CostBasis(), curve.Epsilon)
}

func TestApplyFillShortBasisIsNegative(t *testing.T) {
	res, err := ApplyFill(Position{}, 0, -2)
	require.NoError(t, err)

	proceeds := -mustCost(t, 0, -2) // positive cash received
	assert.InDelta(t, -2, res.Position.Size, curve.Epsilon)
	assert.Greater(t, res.Position.AveragePrice, 0.0)
	assert.InDelta(t, -proceeds, res.Position.CostBasis(), curve.Epsilon)
	assert.InDelta(t, proceeds, res.CashDelta, curve.Epsilon)

	// Growing the short blends the basis across both fills.
	more, err := ApplyFill(res.Position, -2, -1)
	require.NoError(t, err)
	assert.InDelta(t, -3, more.Position.Size, curve.Epsilon)
	assert.InDelta(t, mustCost(t, 0, -3), more.Position.CostBasis(), curve.Epsilon)
}

func TestApplyFillPartialReduce(t *testing.T) {
	pos := Position{Size: 2, AveragePrice: 3.0}

	// Sell 1 from supply 9: proceeds are the curve integral over [8, 9].
	res, err := ApplyFill(pos, 9, -1)
	require.NoError(t, err)

	proceeds := -mustCost(t, 9, 8)
	assert.InDelta(t, proceeds-3.0, res.RealizedPnL, curve.Epsilon)
	assert.InDelta(t, 1, res.Position.Size, curve.Epsilon)
	assert.InDelta(t, 3.0, res.Position.AveragePrice, curve.Epsilon, "average price unchanged on partial reduce")
	assert.InDelta(t, 1, res.ClosedQty, curve.Epsilon)
	assert.False(t, res.Removed)
}

func TestApplyFillExactCloseRemoves(t *testing.T) {
	pos := Position{Size: 2, AveragePrice: 3.0}
	res, err := ApplyFill(pos, 9, -2)
	require.NoError(t, err)

	proceeds := -mustCost(t, 9, 7)
	assert.InDelta(t, proceeds-2*3.0, res.RealizedPnL, curve.Epsilon)
	assert.True(t, res.Removed)
	assert.Zero(t, res.Position.Size)
}

func TestApplyFillCloseWithinEpsilonRemoves(t *testing.T) {
	pos := Position{Size: 1, AveragePrice: 2.0}
	res, err := ApplyFill(pos, 4, -(1 + curve.Epsilon/2))
	require.NoError(t, err)
	assert.True(t, res.Removed)
}

func TestApplyFillFlipSplitsAtZeroCrossing(t *testing.T) {
	pos := Position{Size: 2, AveragePrice: 3.0}

	// Sell 5 from supply 9: 2 close the long over [7, 9], 3 open a short
	// over [4, 7]. The legs are priced separately.
	res, err := ApplyFill(pos, 9, -5)
	require.NoError(t, err)

	closeProceeds := -mustCost(t, 9, 7)
	openProceeds := -mustCost(t, 7, 4)

	assert.InDelta(t, closeProceeds-2*3.0, res.RealizedPnL, curve.Epsilon,
		"realized PnL comes from the closing leg only")
	assert.InDelta(t, -3, res.Position.Size, curve.Epsilon)
	assert.InDelta(t, openProceeds/3, res.Position.AveragePrice, curve.Epsilon,
		"new basis is the opening leg's unit price, not blended")
	assert.InDelta(t, 2, res.ClosedQty, curve.Epsilon)
	assert.InDelta(t, 3, res.OpenedQty, curve.Epsilon)
	assert.InDelta(t, closeProceeds+openProceeds, res.CashDelta, curve.Epsilon)
}

func TestApplyFillFlipFromShort(t *testing.T) {
	pos := Position{Size: -2, AveragePrice: 0.8}

	res, err := ApplyFill(pos, -2, 5)
	require.NoError(t, err)

	coverCost := mustCost(t, -2, 0)
	openCost := mustCost(t, 0, 3)

	assert.InDelta(t, 2*(0.8-coverCost/2), res.RealizedPnL, curve.Epsilon)
	assert.InDelta(t, 3, res.Position.Size, curve.Epsilon)
	assert.InDelta(t, openCost/3, res.Position.AveragePrice, curve.Epsilon)
	assert.InDelta(t, -(coverCost + openCost), res.CashDelta, curve.Epsilon)
}

func TestApplyFillNonFiniteSupply(t *testing.T) {
	_, err := ApplyFill(Position{}, math.NaN(), 1)
	assert.ErrorIs(t, err, curve.ErrNotFinite)
}

func TestUnrealizedPnL(t *testing.T) {
	long := Position{Size: 2, AveragePrice: 3.0}
	assert.InDelta(t, 2.0, long.UnrealizedPnL(4.0), curve.Epsilon)

	short := Position{Size: -2, AveragePrice: 3.0}
	assert.InDelta(t, -2.0, short.UnrealizedPnL(4.0), curve.Epsilon)

	assert.Zero(t, Position{}.UnrealizedPnL(4.0))
}
