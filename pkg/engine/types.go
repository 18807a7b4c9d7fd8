package engine

import (
	"github.com/google/uuid"

	"github.com/curvefeed/curvefeed/pkg/curve"
)

// Side is the direction of a prospective trade.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Sign returns +1 for buys and -1 for sells, the direction supply moves.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Market is a read-only snapshot of one post's market. Supply is the
// running signed quantity; Price is derived from it via the curve.
// The authoritative server owns the mutable instance; everyone else holds
// copies updated by sync messages.
type Market struct {
	ID     uuid.UUID
	Supply float64
	Price  float64
}

// NewMarket returns an empty market at the curve's starting price.
func NewMarket(id uuid.UUID) Market {
	return Market{ID: id, Supply: 0, Price: curve.Price(0)}
}

// Account is a snapshot of one user's financial state.
// AvailableCollateral is the pool admission checks run against.
type Account struct {
	Balance          float64
	TotalRealizedPnl float64
	Exposure         float64
	Equity           float64

	// Synced gates decisions: no admission outcome other than AwaitingSync
	// may be produced from an account that has not yet received a full sync.
	Synced bool
}

// AvailableCollateral returns balance plus cumulative realized PnL.
func (a Account) AvailableCollateral() float64 {
	return a.Balance + a.TotalRealizedPnl
}
