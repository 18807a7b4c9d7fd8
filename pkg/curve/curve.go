package curve

import (
	"errors"
	"math"
)

// ErrNotFinite is returned when a curve evaluation receives a non-finite
// input or produces a non-finite intermediate. Callers must treat it as a
// failed calculation, never as zero cost.
var ErrNotFinite = errors.New("curve: non-finite input or result")

// Epsilon is the single shared tolerance for "effectively zero" comparisons
// on supplies, quantities and monetary deltas. Every package compares
// against this constant; it is never re-derived per call site.
const Epsilon = 1e-9

// NearZero reports whether x is within Epsilon of zero.
func NearZero(x float64) bool {
	return math.Abs(x) <= Epsilon
}

// NearEqual reports whether a and b differ by at most Epsilon.
func NearEqual(a, b float64) bool {
	return math.Abs(a-b) <= Epsilon
}

// Price returns the spot price at supply s.
//
// Positive branch: P(s) = 1 + sqrt(s)
// Negative branch: P(s) = 1 / (1 + sqrt(|s|))
//
// Both branches meet at P(0) = 1.
func Price(s float64) float64 {
	if s > 0 {
		return 1 + math.Sqrt(s)
	}
	return 1 / (1 + math.Sqrt(-s))
}

// integral is the antiderivative of Price evaluated from 0 to s, piecewise:
//
//	s > Epsilon:  s + (2/3)·s^1.5
//	s < -Epsilon: -(2·sqrt(|s|) - 2·ln(1+sqrt(|s|)))
//	|s| <= Epsilon: 0
//
// The negative branch keeps its sign so the two branches are continuous
// through zero.
func integral(s float64) float64 {
	switch {
	case s > Epsilon:
		return s + (2.0/3.0)*math.Pow(s, 1.5)
	case s < -Epsilon:
		u := math.Sqrt(-s)
		return -2 * (u - math.Log(1+u))
	default:
		return 0
	}
}

// Cost returns the signed cost of moving supply from s1 to s2:
// Integral(s2) - Integral(s1). Positive when supply rises (a buy pays),
// negative when supply falls (a sell receives).
//
// Cost is odd under argument swap and zero when s1 == s2. Any non-finite
// input or result short-circuits to ErrNotFinite.
func Cost(s1, s2 float64) (float64, error) {
	if !isFinite(s1) || !isFinite(s2) {
		return 0, ErrNotFinite
	}
	c := integral(s2) - integral(s1)
	if !isFinite(c) {
		return 0, ErrNotFinite
	}
	return c, nil
}

// TradeCost returns the magnitude paid (buy) or received (sell) when
// moving supply by amount from the given level. amount is positive for a
// buy and negative for a sell.
func TradeCost(supply, amount float64) (float64, error) {
	c, err := Cost(supply, supply+amount)
	if err != nil {
		return 0, err
	}
	return math.Abs(c), nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
