package exchange

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curvefeed/curvefeed/pkg/curve"
	"github.com/curvefeed/curvefeed/pkg/engine"
)

// newTestStore opens a Pebble store under a per-test temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir() + "/db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)

	am := NewAccountManager(s, 1000)
	market := engine.NewMarket(uuid.New())
	_, _, err := am.CommitFill("alice", market, engine.Buy, 2)
	require.NoError(t, err)

	// A fresh manager over the same store sees the persisted state.
	reloaded := NewAccountManager(s, 1000)
	account, positions := reloaded.Snapshot("alice")
	assert.InDelta(t, 1000-mustTradeCost(t, 0, 2), account.Balance, curve.Epsilon)
	require.Contains(t, positions, market.ID)
	assert.InDelta(t, 2, positions[market.ID].Size, curve.Epsilon)
}

func TestStoreMissingAccountIsNil(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.LoadAccount("nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExchangeReloadsPosts(t *testing.T) {
	dir := t.TempDir() + "/db"
	log := zap.NewNop().Sugar()

	s, err := NewStore(dir)
	require.NoError(t, err)
	e, err := New(log, s, 1000)
	require.NoError(t, err)
	p, err := e.CreatePost("alice", "gm")
	require.NoError(t, err)
	_, err = e.ExecuteTrade("bob", p.ID, engine.Buy, 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	e2, err := New(log, s2, 1000)
	require.NoError(t, err)

	reloaded, err := e2.Posts().Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "gm", reloaded.Content)
	assert.InDelta(t, 1, reloaded.Supply(), curve.Epsilon)
}

func mustTradeCost(t *testing.T, supply, amount float64) float64 {
	t.Helper()
	c, err := curve.TradeCost(supply, amount)
	require.NoError(t, err)
	return c
}
