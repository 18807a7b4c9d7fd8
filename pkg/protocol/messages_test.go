package protocol

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerMessageTagging(t *testing.T) {
	id := uuid.New()
	data, err := EncodeServerMessage(MarketUpdate{PostID: id, Price: 2.5, Supply: 2.25})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"market_update"`)

	decoded, err := DecodeServerMessage(data)
	require.NoError(t, err)

	mu, ok := decoded.(MarketUpdate)
	require.True(t, ok)
	assert.Equal(t, id, mu.PostID)
	assert.Equal(t, 2.5, mu.Price)
	assert.Equal(t, 2.25, mu.Supply)
}

func TestUserSyncCarriesPositions(t *testing.T) {
	liq := 0.75
	msg := UserSync{
		Balance:          1000,
		Exposure:         12.5,
		Equity:           1002,
		TotalRealizedPnl: 2,
		Positions: []PositionDetail{
			{PostID: uuid.New(), Size: -3, AveragePrice: 0.8, UnrealizedPnl: 0.4, LiquidationPrice: &liq},
		},
	}
	data, err := EncodeServerMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeServerMessage(data)
	require.NoError(t, err)

	sync, ok := decoded.(UserSync)
	require.True(t, ok)
	require.Len(t, sync.Positions, 1)
	assert.Equal(t, msg.Positions[0].PostID, sync.Positions[0].PostID)
	require.NotNil(t, sync.Positions[0].LiquidationPrice)
	assert.Equal(t, 0.75, *sync.Positions[0].LiquidationPrice)
}

func TestPositionDetailOmitsMissingLiquidation(t *testing.T) {
	data, err := EncodeServerMessage(PositionUpdate{PostID: uuid.New(), Size: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "liquidation_price")
}

func TestClientMessageRoundTrip(t *testing.T) {
	id := uuid.New()
	data, err := EncodeClientMessage(BuyIntent{PostID: id, Quantity: 2})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"buy"`)

	decoded, err := DecodeClientMessage(data)
	require.NoError(t, err)
	buy, ok := decoded.(BuyIntent)
	require.True(t, ok)
	assert.Equal(t, id, buy.PostID)
	assert.Equal(t, 2.0, buy.Quantity)
}

func TestUnknownTagsAreErrors(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)

	_, err = DecodeClientMessage([]byte(`{"type":"steal_funds"}`))
	assert.Error(t, err)

	_, err = DecodeServerMessage([]byte(`not json`))
	assert.Error(t, err)
}
