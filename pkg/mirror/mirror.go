// Package mirror is the advisory client-side instance of the pricing
// pipeline. It consumes server messages, keeps read-only snapshots of
// markets and the user's account, and recomputes a trade quote whenever
// any declared input changes: a quantity edit, a market update, an account
// sync, or a position update. It performs no network calls of its own; the
// authoritative server re-validates every intent regardless of what this
// mirror concluded.
package mirror

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/curvefeed/curvefeed/pkg/curve"
	"github.com/curvefeed/curvefeed/pkg/engine"
	"github.com/curvefeed/curvefeed/pkg/protocol"
)

// Quote is the read contract exposed to UI collaborators for the active
// quantity and market.
type Quote struct {
	BuyCost      float64
	SellProceeds float64

	// Valid is false while the quantity input does not parse to a usable
	// number; costs are zero in that case.
	Valid bool

	CanAffordBuy  bool
	CanAffordSell bool

	// Disabled reasons are empty when the corresponding side is allowed.
	BuyDisabledReason  string
	SellDisabledReason string

	BuyDecision  engine.Decision
	SellDecision engine.Decision
}

// Mirror is single-threaded: the owning event loop calls its methods; it
// must not be shared across goroutines.
type Mirror struct {
	log *zap.SugaredLogger

	markets   map[uuid.UUID]engine.Market
	account   engine.Account
	positions map[uuid.UUID]engine.Position

	active    uuid.UUID
	hasActive bool

	quantityText  string
	quantity      float64
	quantityValid bool

	quote     Quote
	lastError string
}

// New creates an empty mirror awaiting its first sync.
func New(log *zap.SugaredLogger) *Mirror {
	return &Mirror{
		log:       log,
		markets:   make(map[uuid.UUID]engine.Market),
		positions: make(map[uuid.UUID]engine.Position),
	}
}

// Apply ingests one server message and recomputes the quote. The message
// union is matched exhaustively; financial state changes only through the
// decoded snapshot and delta values.
func (m *Mirror) Apply(msg protocol.ServerMessage) {
	switch v := msg.(type) {
	case protocol.InitialState:
		m.markets = make(map[uuid.UUID]engine.Market, len(v.Posts))
		for _, p := range v.Posts {
			m.markets[p.ID] = engine.Market{ID: p.ID, Supply: p.Supply, Price: p.Price}
		}
	case protocol.NewPost:
		p := v.Post
		m.markets[p.ID] = engine.Market{ID: p.ID, Supply: p.Supply, Price: p.Price}
	case protocol.MarketUpdate:
		m.markets[v.PostID] = engine.Market{ID: v.PostID, Supply: v.Supply, Price: v.Price}
	case protocol.UserSync:
		m.account = engine.Account{
			Balance:          v.Balance,
			TotalRealizedPnl: v.TotalRealizedPnl,
			Exposure:         v.Exposure,
			Equity:           v.Equity,
			Synced:           true,
		}
		m.positions = make(map[uuid.UUID]engine.Position, len(v.Positions))
		for _, p := range v.Positions {
			if curve.NearZero(p.Size) {
				continue
			}
			m.positions[p.PostID] = engine.Position{Size: p.Size, AveragePrice: p.AveragePrice}
		}
	case protocol.BalanceUpdate:
		m.account.Balance = v.Balance
	case protocol.RealizedPnlUpdate:
		m.account.TotalRealizedPnl = v.TotalRealizedPnl
	case protocol.ExposureUpdate:
		m.account.Exposure = v.Exposure
	case protocol.EquityUpdate:
		m.account.Equity = v.Equity
	case protocol.PositionUpdate:
		if curve.NearZero(v.Size) {
			delete(m.positions, v.PostID)
		} else {
			m.positions[v.PostID] = engine.Position{Size: v.Size, AveragePrice: v.AveragePrice}
		}
	case protocol.ErrorMessage:
		// Advisory only; never mutates financial state.
		m.lastError = v.Message
		m.log.Warnw("server_error", "message", v.Message)
	}
	m.recompute()
}

// SelectMarket sets the active market for quoting.
func (m *Mirror) SelectMarket(id uuid.UUID) {
	m.active = id
	m.hasActive = true
	m.recompute()
}

// SetQuantityInput updates the quantity from raw text input.
func (m *Mirror) SetQuantityInput(text string) {
	m.quantityText = text
	q, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	m.quantityValid = err == nil
	m.quantity = q
	m.recompute()
}

// Quote returns the latest computed quote.
func (m *Mirror) Quote() Quote {
	return m.quote
}

// Account returns the mirrored account snapshot.
func (m *Mirror) Account() engine.Account {
	return m.account
}

// Position returns the mirrored position for a market.
func (m *Mirror) Position(id uuid.UUID) engine.Position {
	return m.positions[id]
}

// LastError returns the most recent advisory error message.
func (m *Mirror) LastError() string {
	return m.lastError
}

// TradeIntent returns the outbound intent for a side iff the latest quote
// classified that side as Accept. Submission stays an explicit caller
// action.
func (m *Mirror) TradeIntent(side engine.Side) (protocol.ClientMessage, bool) {
	if side == engine.Buy {
		if !m.quote.CanAffordBuy {
			return nil, false
		}
		return protocol.BuyIntent{PostID: m.active, Quantity: m.quantity}, true
	}
	if !m.quote.CanAffordSell {
		return nil, false
	}
	return protocol.SellIntent{PostID: m.active, Quantity: m.quantity}, true
}

// recompute re-runs the curve and admission pipeline against the current
// snapshots. Called on every input change; the newest result supersedes
// any prior one.
func (m *Mirror) recompute() {
	q := Quote{}
	defer func() { m.quote = q }()

	if !m.quantityValid || math.IsInf(m.quantity, 0) || !(m.quantity > curve.Epsilon) {
		reason := engine.ReasonInvalidQuantity.String()
		q.BuyDisabledReason, q.SellDisabledReason = reason, reason
		q.BuyDecision = engine.Decision{Reason: engine.ReasonInvalidQuantity}
		q.SellDecision = q.BuyDecision
		return
	}

	market, ok := m.markets[m.active]
	if !m.hasActive || !ok {
		reason := engine.ReasonAwaitingSync.String()
		q.BuyDisabledReason, q.SellDisabledReason = reason, reason
		q.BuyDecision = engine.Decision{Reason: engine.ReasonAwaitingSync}
		q.SellDecision = q.BuyDecision
		return
	}

	buyCost, buyErr := curve.TradeCost(market.Supply, m.quantity)
	sellProceeds, sellErr := curve.TradeCost(market.Supply, -m.quantity)
	if buyErr != nil || sellErr != nil {
		reason := engine.ReasonCalculationError.String()
		q.BuyDisabledReason, q.SellDisabledReason = reason, reason
		q.BuyDecision = engine.Decision{Reason: engine.ReasonCalculationError}
		q.SellDecision = q.BuyDecision
		return
	}
	q.Valid = true
	q.BuyCost = buyCost
	q.SellProceeds = sellProceeds

	pos := m.positions[m.active]
	q.BuyDecision = engine.Evaluate(engine.Request{
		Side:     engine.Buy,
		Quantity: m.quantity,
		Market:   market,
		Account:  m.account,
		Position: pos,
	})
	q.SellDecision = engine.Evaluate(engine.Request{
		Side:     engine.Sell,
		Quantity: m.quantity,
		Market:   market,
		Account:  m.account,
		Position: pos,
	})

	q.CanAffordBuy = q.BuyDecision.Accepted
	q.CanAffordSell = q.SellDecision.Accepted
	q.BuyDisabledReason = disabledReason(q.BuyDecision)
	q.SellDisabledReason = disabledReason(q.SellDecision)
}

func disabledReason(d engine.Decision) string {
	if d.Accepted {
		return ""
	}
	if d.Reason == engine.ReasonInsufficientCollateral {
		return fmt.Sprintf("insufficient collateral: need %.2f, have %.2f", d.Required, d.Available)
	}
	return d.Reason.String()
}
