// Package protocol defines the wire messages exchanged between the
// authoritative server and its clients. Message identity is decided here,
// at the boundary, by exhaustive match over a closed set of type tags; the
// engine only ever sees already-decoded snapshot and delta values.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Post is a timeline post carrying its market snapshot.
type Post struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Supply    float64   `json:"supply"`
}

// PositionDetail is one open position as carried on sync messages.
// LiquidationPrice is omitted when no liquidation level exists.
type PositionDetail struct {
	PostID           uuid.UUID `json:"post_id"`
	Size             float64   `json:"size"`
	AveragePrice     float64   `json:"average_price"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	LiquidationPrice *float64  `json:"liquidation_price,omitempty"`
}

// ServerMessage is the closed union of messages the server emits.
type ServerMessage interface {
	kind() string
}

// InitialState replaces the client's whole post list on connect.
type InitialState struct {
	Posts []Post `json:"posts"`
}

// UserSync is a full-state replace of one user's financial snapshot.
type UserSync struct {
	Balance          float64          `json:"balance"`
	Exposure         float64          `json:"exposure"`
	Equity           float64          `json:"equity"`
	TotalRealizedPnl float64          `json:"total_realized_pnl"`
	Positions        []PositionDetail `json:"positions"`
}

// NewPost announces a freshly created post and its market.
type NewPost struct {
	Post Post `json:"post"`
}

// MarketUpdate is broadcast whenever a fill moves a market.
type MarketUpdate struct {
	PostID uuid.UUID `json:"post_id"`
	Price  float64   `json:"price"`
	Supply float64   `json:"supply"`
}

// BalanceUpdate is a single-field account delta.
type BalanceUpdate struct {
	Balance float64 `json:"balance"`
}

// PositionUpdate replaces one position. A size within epsilon of zero
// means "remove this position".
type PositionUpdate struct {
	PostID           uuid.UUID `json:"post_id"`
	Size             float64   `json:"size"`
	AveragePrice     float64   `json:"average_price"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	LiquidationPrice *float64  `json:"liquidation_price,omitempty"`
}

// RealizedPnlUpdate is a single-field account delta.
type RealizedPnlUpdate struct {
	TotalRealizedPnl float64 `json:"total_realized_pnl"`
}

// ExposureUpdate is a single-field account delta.
type ExposureUpdate struct {
	Exposure float64 `json:"exposure"`
}

// EquityUpdate is a single-field account delta.
type EquityUpdate struct {
	Equity float64 `json:"equity"`
}

// ErrorMessage is advisory; it never mutates financial state.
type ErrorMessage struct {
	Message string `json:"message"`
}

func (InitialState) kind() string      { return "initial_state" }
func (UserSync) kind() string          { return "user_sync" }
func (NewPost) kind() string           { return "new_post" }
func (MarketUpdate) kind() string      { return "market_update" }
func (BalanceUpdate) kind() string     { return "balance_update" }
func (PositionUpdate) kind() string    { return "position_update" }
func (RealizedPnlUpdate) kind() string { return "realized_pnl_update" }
func (ExposureUpdate) kind() string    { return "exposure_update" }
func (EquityUpdate) kind() string      { return "equity_update" }
func (ErrorMessage) kind() string      { return "error" }

// ClientMessage is the closed union of messages clients send.
type ClientMessage interface {
	clientKind() string
}

// CreatePost asks the server to open a new post and market.
type CreatePost struct {
	Content string `json:"content"`
}

// BuyIntent is an outbound trade intent. Clients emit it only after a
// local Accept classification; the server still re-validates.
type BuyIntent struct {
	PostID   uuid.UUID `json:"post_id"`
	Quantity float64   `json:"quantity"`
}

// SellIntent mirrors BuyIntent for the sell direction.
type SellIntent struct {
	PostID   uuid.UUID `json:"post_id"`
	Quantity float64   `json:"quantity"`
}

func (CreatePost) clientKind() string { return "create_post" }
func (BuyIntent) clientKind() string  { return "buy" }
func (SellIntent) clientKind() string { return "sell" }

// EncodeServerMessage marshals a server message with its type tag inlined.
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	return encodeTagged(m.kind(), m)
}

// EncodeClientMessage marshals a client message with its type tag inlined.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	return encodeTagged(m.clientKind(), m)
}

func encodeTagged(tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", tag, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("protocol: reshape %s: %w", tag, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	fields["type"], _ = json.Marshal(tag)
	return json.Marshal(fields)
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeServerMessage decodes one server message, matching the type tag
// exhaustively. Unknown tags are an error, never a silent drop.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch env.Type {
	case "initial_state":
		return decodeInto[InitialState](data)
	case "user_sync":
		return decodeInto[UserSync](data)
	case "new_post":
		return decodeInto[NewPost](data)
	case "market_update":
		return decodeInto[MarketUpdate](data)
	case "balance_update":
		return decodeInto[BalanceUpdate](data)
	case "position_update":
		return decodeInto[PositionUpdate](data)
	case "realized_pnl_update":
		return decodeInto[RealizedPnlUpdate](data)
	case "exposure_update":
		return decodeInto[ExposureUpdate](data)
	case "equity_update":
		return decodeInto[EquityUpdate](data)
	case "error":
		return decodeInto[ErrorMessage](data)
	default:
		return nil, fmt.Errorf("protocol: unknown server message type %q", env.Type)
	}
}

// DecodeClientMessage decodes one client message by its type tag.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch env.Type {
	case "create_post":
		return decodeInto[CreatePost](data)
	case "buy":
		return decodeInto[BuyIntent](data)
	case "sell":
		return decodeInto[SellIntent](data)
	default:
		return nil, fmt.Errorf("protocol: unknown client message type %q", env.Type)
	}
}

func decodeInto[T any](data []byte) (T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("protocol: decode %T: %w", m, err)
	}
	return m, nil
}
