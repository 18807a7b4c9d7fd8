package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curvefeed/curvefeed/pkg/exchange"
	"github.com/curvefeed/curvefeed/pkg/protocol"
)

func newTestServer(t *testing.T) (*Server, *exchange.Exchange, *httptest.Server) {
	t.Helper()
	log := zap.NewNop().Sugar()

	srv := NewServer(log, nil, nil, nil)
	ex, err := exchange.New(log, nil, 1000, exchange.WithNotifier(srv.Hub()))
	require.NoError(t, err)
	srv.SetExchange(ex)

	go srv.hub.Run()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ex, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetPosts(t *testing.T) {
	_, ex, ts := newTestServer(t)
	_, err := ex.CreatePost("alice", "gm")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/posts")
	require.NoError(t, err)
	defer resp.Body.Close()

	var posts []protocol.Post
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&posts))
	require.Len(t, posts, 1)
	assert.Equal(t, "gm", posts[0].Content)
	assert.Equal(t, 1.0, posts[0].Price)
}

func TestGetAccountReturnsSync(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/accounts/bob")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sync protocol.UserSync
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sync))
	assert.Equal(t, 1000.0, sync.Balance)
}

func TestGetPostBadID(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/posts/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	return msg
}

func TestWebSocketConnectStateAndTrade(t *testing.T) {
	_, ex, ts := newTestServer(t)
	post, err := ex.CreatePost("alice", "gm")
	require.NoError(t, err)

	conn := dialWS(t, ts, "bob")

	// Connect state: initial_state then user_sync.
	state, ok := readServerMessage(t, conn).(protocol.InitialState)
	require.True(t, ok)
	require.Len(t, state.Posts, 1)

	sync, ok := readServerMessage(t, conn).(protocol.UserSync)
	require.True(t, ok)
	assert.Equal(t, 1000.0, sync.Balance)

	// Send a buy intent; the first push back is the market update.
	intent, err := protocol.EncodeClientMessage(protocol.BuyIntent{PostID: post.ID, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, intent))

	update, ok := readServerMessage(t, conn).(protocol.MarketUpdate)
	require.True(t, ok)
	assert.Equal(t, post.ID, update.PostID)
	assert.InDelta(t, 1.0, update.Supply, 1e-9)
}

func TestWebSocketRejectsUnknownMessage(t *testing.T) {
	_, _, ts := newTestServer(t)
	conn := dialWS(t, ts, "bob")

	readServerMessage(t, conn) // initial_state
	readServerMessage(t, conn) // user_sync

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)))

	errMsg, ok := readServerMessage(t, conn).(protocol.ErrorMessage)
	require.True(t, ok)
	assert.Contains(t, errMsg.Message, "unknown client message type")
}

func TestWebSocketRequiresUser(t *testing.T) {
	_, _, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}
