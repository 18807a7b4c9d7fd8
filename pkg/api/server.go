// Package api exposes the node over REST and WebSocket: the post list and
// account snapshots for queries, and the push channel carrying market and
// account updates plus inbound trade intents.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/curvefeed/curvefeed/pkg/engine"
	"github.com/curvefeed/curvefeed/pkg/exchange"
	"github.com/curvefeed/curvefeed/pkg/metrics"
	"github.com/curvefeed/curvefeed/pkg/protocol"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	log      *zap.SugaredLogger
	ex       *exchange.Exchange
	router   *mux.Router
	hub      *Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewServer creates an API server over the given exchange. The returned
// server's Hub is the exchange's Notifier.
func NewServer(log *zap.SugaredLogger, ex *exchange.Exchange, m *metrics.Metrics, g prometheus.Gatherer) *Server {
	s := &Server{
		log:      log,
		ex:       ex,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		metrics:  m,
		gatherer: g,
	}
	s.hub.onConnect = s.sendConnectState
	s.setupRoutes()
	return s
}

// Hub returns the websocket hub, to be wired in as the exchange notifier.
func (s *Server) Hub() *Hub { return s.hub }

// SetExchange binds the exchange after construction. The hub must be
// handed to the exchange as its notifier before traffic starts, which
// forces this two-step wiring.
func (s *Server) SetExchange(ex *exchange.Exchange) { s.ex = ex }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/posts", s.handleGetPosts).Methods("GET")
	api.HandleFunc("/posts/{id}", s.handleGetPost).Methods("GET")
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the full HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPosts(w http.ResponseWriter, r *http.Request) {
	posts := s.ex.Posts().List()
	response := make([]protocol.Post, 0, len(posts))
	for _, p := range posts {
		response = append(response, p.Wire())
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	post, err := s.ex.Posts().Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, post.Wire())
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	writeJSON(w, http.StatusOK, s.ex.UserSync(userID))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// WebSocket
// ==============================

// handleWebSocket upgrades the connection and binds it to the user named
// in the query string. Authentication is handled upstream; by the time a
// request reaches this handler the user identity is trusted.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
	}
	if s.metrics != nil {
		s.metrics.ClientsConnected.Inc()
	}
	client.hub.register <- client

	go client.writePump()
	go func() {
		client.readPump(s.dispatchClientMessage)
		if s.metrics != nil {
			s.metrics.ClientsConnected.Dec()
		}
	}()
}

// sendConnectState pushes the full post list and the user's account sync
// to a freshly registered client.
func (s *Server) sendConnectState(c *Client) {
	c.sendMessage(s.ex.InitialState())
	c.sendMessage(s.ex.UserSync(c.userID))
}

// dispatchClientMessage routes one decoded client message into the
// exchange. Rejections come back to the client through the notifier; only
// infrastructure failures are logged as errors.
func (s *Server) dispatchClientMessage(userID string, msg protocol.ClientMessage) {
	switch v := msg.(type) {
	case protocol.CreatePost:
		if _, err := s.ex.CreatePost(userID, v.Content); err != nil {
			s.hub.SendToUser(userID, protocol.ErrorMessage{Message: err.Error()})
		}
	case protocol.BuyIntent:
		if _, err := s.ex.ExecuteTrade(userID, v.PostID, engine.Buy, v.Quantity); err != nil {
			s.log.Errorw("trade_failed", "user_id", userID, "err", err)
		}
	case protocol.SellIntent:
		if _, err := s.ex.ExecuteTrade(userID, v.PostID, engine.Sell, v.Quantity); err != nil {
			s.log.Errorw("trade_failed", "user_id", userID, "err", err)
		}
	}
}

// ==============================
// Helpers
// ==============================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
