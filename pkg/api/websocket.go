package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/curvefeed/curvefeed/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by the outer server)
		return true
	},
}

// Hub maintains active WebSocket connections. It implements
// exchange.Notifier: broadcast for market-wide events, targeted sends for
// per-user account deltas. Sends never block; a client whose buffer is
// full misses the message rather than stalling a fill.
type Hub struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	onConnect func(c *Client) // invoked from Run when a client registers
}

// NewHub creates a hub with no connected clients.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes client registration. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_connected", "user_id", client.userID, "total", total)
			if h.onConnect != nil {
				h.onConnect(client)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_disconnected", "user_id", client.userID, "total", total)
		}
	}
}

// Broadcast sends a server message to every connected client.
func (h *Hub) Broadcast(msg protocol.ServerMessage) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		h.log.Errorw("ws_encode_failed", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.trySend(data)
	}
}

// SendToUser sends a server message to every connection of one user.
func (h *Hub) SendToUser(userID string, msg protocol.ServerMessage) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		h.log.Errorw("ws_encode_failed", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.userID == userID {
			client.trySend(data)
		}
	}
}

// Client is one WebSocket connection bound to a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// sendMessage encodes and queues one server message for this client.
func (c *Client) sendMessage(msg protocol.ServerMessage) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		c.hub.log.Errorw("ws_encode_failed", "err", err)
		return
	}
	c.trySend(data)
}

// readPump pumps inbound client messages to the server's dispatcher.
func (c *Client) readPump(dispatch func(userID string, msg protocol.ClientMessage)) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("ws_read_error", "user_id", c.userID, "err", err)
			}
			break
		}

		msg, err := protocol.DecodeClientMessage(message)
		if err != nil {
			// Decode failures are surfaced, never acted on.
			c.hub.log.Warnw("ws_bad_message", "user_id", c.userID, "err", err)
			c.sendMessage(protocol.ErrorMessage{Message: err.Error()})
			continue
		}
		dispatch(c.userID, msg)
	}
}

// writePump pumps queued messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
