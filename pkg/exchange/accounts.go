package exchange

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/curvefeed/curvefeed/pkg/curve"
	"github.com/curvefeed/curvefeed/pkg/engine"
)

// positionRecord is the persisted shape of one position.
type positionRecord struct {
	Size         float64 `json:"size"`
	AveragePrice float64 `json:"average_price"`
}

// accountRecord is the persisted shape of one account.
type accountRecord struct {
	UserID           string                       `json:"user_id"`
	Balance          float64                      `json:"balance"`
	TotalRealizedPnl float64                      `json:"total_realized_pnl"`
	Exposure         float64                      `json:"exposure"`
	Positions        map[uuid.UUID]positionRecord `json:"positions"`
}

type accountState struct {
	balance          float64
	totalRealizedPnl float64
	exposure         float64
	positions        map[uuid.UUID]engine.Position
}

// AccountManager owns all account state on the authoritative side and
// mutates it in a thread-safe manner. Balance, realized PnL and exposure
// are updated atomically per fill: no other fill observes a partially
// applied mutation. Uses an in-memory cache plus Pebble persistence.
type AccountManager struct {
	mu              sync.RWMutex
	accounts        map[string]*accountState
	store           *Store // nil disables persistence (tests)
	startingBalance float64
}

// NewAccountManager creates an account manager. Unseen users start with
// startingBalance of cash.
func NewAccountManager(store *Store, startingBalance float64) *AccountManager {
	return &AccountManager{
		accounts:        make(map[string]*accountState),
		store:           store,
		startingBalance: startingBalance,
	}
}

// getLocked returns the cached state for a user, loading from Pebble or
// creating a fresh account. Assumes am.mu is held.
func (am *AccountManager) getLocked(userID string) *accountState {
	if acc, ok := am.accounts[userID]; ok {
		return acc
	}

	acc := &accountState{
		balance:   am.startingBalance,
		positions: make(map[uuid.UUID]engine.Position),
	}
	if am.store != nil {
		rec, err := am.store.LoadAccount(userID)
		if err != nil {
			// Fall through to a fresh account; the load error is not fatal.
			fmt.Printf("[account] failed to load account %s: %v\n", userID, err)
		}
		if rec != nil {
			acc.balance = rec.Balance
			acc.totalRealizedPnl = rec.TotalRealizedPnl
			acc.exposure = rec.Exposure
			for id, p := range rec.Positions {
				acc.positions[id] = engine.Position{Size: p.Size, AveragePrice: p.AveragePrice}
			}
		}
	}
	am.accounts[userID] = acc
	return acc
}

func (am *AccountManager) persistLocked(userID string, acc *accountState) error {
	if am.store == nil {
		return nil
	}
	rec := &accountRecord{
		UserID:           userID,
		Balance:          acc.balance,
		TotalRealizedPnl: acc.totalRealizedPnl,
		Exposure:         acc.exposure,
		Positions:        make(map[uuid.UUID]positionRecord, len(acc.positions)),
	}
	for id, p := range acc.positions {
		rec.Positions[id] = positionRecord{Size: p.Size, AveragePrice: p.AveragePrice}
	}
	return am.store.SaveAccount(rec)
}

// Snapshot returns the user's account snapshot (without equity, which
// needs market prices) and a copy of their open positions.
func (am *AccountManager) Snapshot(userID string) (engine.Account, map[uuid.UUID]engine.Position) {
	am.mu.Lock()
	defer am.mu.Unlock()

	acc := am.getLocked(userID)
	positions := make(map[uuid.UUID]engine.Position, len(acc.positions))
	for id, p := range acc.positions {
		positions[id] = p
	}
	return engine.Account{
		Balance:          acc.balance,
		TotalRealizedPnl: acc.totalRealizedPnl,
		Exposure:         acc.exposure,
		Synced:           true,
	}, positions
}

// Position returns the user's position in one market (zero value if none).
func (am *AccountManager) Position(userID string, postID uuid.UUID) engine.Position {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.getLocked(userID).positions[postID]
}

// Holders returns the users with an open position in the given market.
func (am *AccountManager) Holders(postID uuid.UUID) []string {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var users []string
	for userID, acc := range am.accounts {
		if pos, ok := acc.positions[postID]; ok && pos.Open() {
			users = append(users, userID)
		}
	}
	return users
}

// CommitFill runs commit-time admission and, if accepted, applies the fill
// to the user's ledger in one critical section. The caller must hold the
// market's fill lock and pass its current supply; a rejection here is a
// normal outcome, typically a racer that lost to a concurrent fill.
func (am *AccountManager) CommitFill(userID string, market engine.Market, side engine.Side, quantity float64) (engine.Decision, engine.FillResult, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	acc := am.getLocked(userID)
	pos := acc.positions[market.ID]

	account := engine.Account{
		Balance:          acc.balance,
		TotalRealizedPnl: acc.totalRealizedPnl,
		Exposure:         acc.exposure,
		Synced:           true,
	}
	decision := engine.Evaluate(engine.Request{
		Side:     side,
		Quantity: quantity,
		Market:   market,
		Account:  account,
		Position: pos,
	})
	if !decision.Accepted {
		return decision, engine.FillResult{}, nil
	}

	delta, err := engine.DeltaExposure(pos, market.Supply, side, quantity)
	if err != nil {
		return engine.Decision{Reason: engine.ReasonCalculationError}, engine.FillResult{}, err
	}

	res, err := engine.ApplyFill(pos, market.Supply, side.Sign()*quantity)
	if err != nil {
		return engine.Decision{Reason: engine.ReasonCalculationError}, engine.FillResult{}, err
	}

	acc.balance += res.CashDelta
	acc.totalRealizedPnl += res.RealizedPnL
	acc.exposure += delta
	if acc.exposure < 0 && curve.NearZero(acc.exposure) {
		acc.exposure = 0
	}

	if res.Removed {
		delete(acc.positions, market.ID)
	} else {
		acc.positions[market.ID] = res.Position
	}

	if err := am.persistLocked(userID, acc); err != nil {
		return decision, res, fmt.Errorf("persist account %s: %w", userID, err)
	}
	return decision, res, nil
}
