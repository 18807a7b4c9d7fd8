package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrice(t *testing.T) {
	assert.Equal(t, 1.0, Price(0))
	assert.Equal(t, 2.0, Price(1))
	assert.Equal(t, 3.0, Price(4))
	assert.Equal(t, 4.0, Price(9))

	assert.InDelta(t, 0.5, Price(-1), Epsilon)
	assert.InDelta(t, 1.0/3.0, Price(-4), Epsilon)
	assert.InDelta(t, 0.25, Price(-9), Epsilon)
}

func TestCostKnownValues(t *testing.T) {
	// Buying 1 from supply 0: I(1) - I(0) = 1 + 2/3
	c, err := Cost(0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 5.0/3.0, c, Epsilon)

	// Buying 3 from supply 1: I(4) - I(1) = 28/3 - 5/3
	c, err = Cost(1, 4)
	require.NoError(t, err)
	assert.InDelta(t, 23.0/3.0, c, Epsilon)

	// Selling 1 from supply 0: I(-1) = -2(1 - ln 2), so the move is negative.
	c, err = Cost(0, -1)
	require.NoError(t, err)
	assert.InDelta(t, -2*(1-math.Log(2)), c, Epsilon)

	// Selling 3 from supply -1: I(-4) - I(-1)
	c, err = Cost(-1, -4)
	require.NoError(t, err)
	assert.InDelta(t, -2*(1+math.Log(2.0/3.0)), c, Epsilon)
}

func TestCostOddUnderSwap(t *testing.T) {
	supplies := []float64{-100, -9, -4, -1, -0.5, 0, 0.5, 1, 4, 9, 100}
	for _, s1 := range supplies {
		for _, s2 := range supplies {
			a, err := Cost(s1, s2)
			require.NoError(t, err)
			b, err := Cost(s2, s1)
			require.NoError(t, err)
			assert.InDelta(t, -b, a, Epsilon, "cost(%v,%v) not odd", s1, s2)
		}
		c, err := Cost(s1, s1)
		require.NoError(t, err)
		assert.InDelta(t, 0, c, Epsilon)
	}
}

func TestCostMonotonicInEnd(t *testing.T) {
	prev := math.Inf(-1)
	for s2 := -10.0; s2 <= 10.0; s2 += 0.25 {
		c, err := Cost(-10, s2)
		require.NoError(t, err)
		assert.Greater(t, c, prev-Epsilon)
		prev = c
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []float64{-5, -1, 0, 1, 5} {
		for _, q := range []float64{0.1, 1, 3.7} {
			buy, err := TradeCost(s, q)
			require.NoError(t, err)
			sell, err := TradeCost(s+q, -q)
			require.NoError(t, err)
			assert.InDelta(t, buy, sell, Epsilon)
		}
	}
}

func TestCostNonFinite(t *testing.T) {
	bad := []float64{math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, v := range bad {
		_, err := Cost(v, 1)
		assert.ErrorIs(t, err, ErrNotFinite)
		_, err = Cost(1, v)
		assert.ErrorIs(t, err, ErrNotFinite)
		_, err = TradeCost(v, 1)
		assert.ErrorIs(t, err, ErrNotFinite)
	}
}

func TestLiquidationSupply(t *testing.T) {
	// No position, no threshold.
	_, ok := LiquidationSupply(1000, 0, 0, 2)
	assert.False(t, ok)

	// Long 10 @ avg 2 with collateral 10: target = 2 - 10/10 = 1 => s = 0.
	s, ok := LiquidationSupply(10, 0, 10, 2)
	require.True(t, ok)
	assert.InDelta(t, 0, s, Epsilon)

	// Long 10 @ avg 3 with collateral 10: target = 2 => s = 1.
	s, ok = LiquidationSupply(10, 0, 10, 3)
	require.True(t, ok)
	assert.InDelta(t, 1, s, Epsilon)

	// Short 10 @ avg 0.5 with collateral 10: target = 0.5 + 1 = 1.5 => s = 0.25.
	s, ok = LiquidationSupply(10, 0, -10, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 0.25, s, Epsilon)

	// Long 10 @ avg 0.5 with collateral 2: target = 0.3, negative branch.
	// |s| = (1/0.3 - 1)^2
	s, ok = LiquidationSupply(2, 0, 10, 0.5)
	require.True(t, ok)
	base := 1/0.3 - 1
	assert.InDelta(t, -base*base, s, 1e-6)

	// Deep collateral: liquidation would need a non-positive price.
	_, ok = LiquidationSupply(1000, 0, 10, 2)
	assert.False(t, ok)
}

func TestLiquidationPriceMatchesSupply(t *testing.T) {
	p, ok := LiquidationPrice(10, 0, 10, 3)
	require.True(t, ok)
	assert.InDelta(t, 2, p, Epsilon)
}
