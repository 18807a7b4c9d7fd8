package engine

import (
	"math"

	"github.com/curvefeed/curvefeed/pkg/curve"
)

// Reason classifies why a trade intent was rejected.
type Reason int8

const (
	ReasonNone Reason = iota
	ReasonInvalidQuantity
	ReasonCalculationError
	ReasonAwaitingSync
	ReasonInsufficientCollateral
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonInvalidQuantity:
		return "invalid quantity"
	case ReasonCalculationError:
		return "calculation error"
	case ReasonAwaitingSync:
		return "awaiting account sync"
	case ReasonInsufficientCollateral:
		return "insufficient collateral"
	default:
		return "unknown"
	}
}

// Request is one prospective trade to classify: the intent plus snapshots
// of everything the decision reads.
type Request struct {
	Side     Side
	Quantity float64
	Market   Market
	Account  Account
	Position Position
}

// Decision is the outcome of admission control. Required and Available are
// populated for collateral rejections (and accepts) so callers can display
// both figures.
type Decision struct {
	Accepted  bool
	Reason    Reason
	Required  float64 // exposure after the trade
	Available float64 // collateral pool it was checked against
}

// Evaluate classifies a prospective trade. It never mutates anything;
// submitting an accepted trade is a separate caller action, and the
// authoritative side re-evaluates at commit time.
//
// Rejection ordering: invalid quantity, then calculation failure, then
// staleness, then collateral.
func Evaluate(req Request) Decision {
	q := req.Quantity
	if math.IsNaN(q) || math.IsInf(q, 0) || q <= curve.Epsilon {
		return Decision{Reason: ReasonInvalidQuantity}
	}

	delta, err := DeltaExposure(req.Position, req.Market.Supply, req.Side, q)
	if err != nil {
		return Decision{Reason: ReasonCalculationError}
	}

	if !req.Account.Synced {
		return Decision{Reason: ReasonAwaitingSync}
	}

	required := req.Account.Exposure + delta
	available := req.Account.AvailableCollateral()
	if required <= available+curve.Epsilon {
		return Decision{Accepted: true, Required: required, Available: available}
	}
	return Decision{
		Reason:    ReasonInsufficientCollateral,
		Required:  required,
		Available: available,
	}
}
