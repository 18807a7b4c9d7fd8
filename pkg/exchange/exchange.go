// Package exchange implements the authoritative engine instance: the only
// process that mutates market supply and account state. Clients hold
// advisory mirrors of this pipeline and their accepted intents are still
// re-validated here at commit time.
package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/curvefeed/curvefeed/pkg/curve"
	"github.com/curvefeed/curvefeed/pkg/engine"
	"github.com/curvefeed/curvefeed/pkg/metrics"
	"github.com/curvefeed/curvefeed/pkg/protocol"
)

// Notifier delivers server messages to connected clients. The exchange
// calls it after a fill commits; implementations must not block.
type Notifier interface {
	Broadcast(msg protocol.ServerMessage)
	SendToUser(userID string, msg protocol.ServerMessage)
}

type noopNotifier struct{}

func (noopNotifier) Broadcast(protocol.ServerMessage)          {}
func (noopNotifier) SendToUser(string, protocol.ServerMessage) {}

// Exchange wires the registry, account manager and store into the trade
// execution pipeline.
type Exchange struct {
	log      *zap.SugaredLogger
	registry *Registry
	accounts *AccountManager
	store    *Store // nil disables persistence (tests)
	notifier Notifier
	metrics  *metrics.Metrics
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithNotifier sets the message sink for post-commit events.
func WithNotifier(n Notifier) Option {
	return func(e *Exchange) { e.notifier = n }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exchange) { e.metrics = m }
}

// New creates an exchange. store may be nil for in-memory operation;
// otherwise previously persisted posts are loaded back into the registry.
func New(log *zap.SugaredLogger, store *Store, startingBalance float64, opts ...Option) (*Exchange, error) {
	e := &Exchange{
		log:      log,
		registry: NewRegistry(),
		accounts: NewAccountManager(store, startingBalance),
		store:    store,
		notifier: noopNotifier{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if store != nil {
		posts, err := store.LoadAllPosts()
		if err != nil {
			return nil, fmt.Errorf("load posts: %w", err)
		}
		for _, rec := range posts {
			if err := e.registry.Add(rec.live()); err != nil {
				return nil, err
			}
		}
		if len(posts) > 0 {
			log.Infow("posts_loaded", "count", len(posts))
		}
	}
	return e, nil
}

// Accounts exposes the account manager for read paths (API queries).
func (e *Exchange) Accounts() *AccountManager { return e.accounts }

// Posts exposes the registry for read paths.
func (e *Exchange) Posts() *Registry { return e.registry }

// CreatePost opens a new post with an empty market and announces it.
func (e *Exchange) CreatePost(userID, content string) (*Post, error) {
	if content == "" {
		return nil, fmt.Errorf("post content cannot be empty")
	}

	p := &Post{
		ID:        uuid.New(),
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.registry.Add(p); err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.SavePost(p.record()); err != nil {
			return nil, fmt.Errorf("persist post: %w", err)
		}
	}

	if e.metrics != nil {
		e.metrics.PostsCreated.Inc()
	}
	e.log.Infow("post_created", "post_id", p.ID, "user_id", userID)
	e.notifier.Broadcast(protocol.NewPost{Post: p.Wire()})
	return p, nil
}

// ExecuteTrade runs the full admission-and-fill pipeline for one intent.
// Fills against the same market are applied strictly one at a time; the
// admission check re-runs here under the market's fill lock, so an intent
// that was locally accepted can still come back rejected. That rejection
// is a normal outcome, not a fault, and is returned in the Decision.
//
// The returned error is reserved for infrastructure failures
// (persistence); calculation failures surface as a CalculationError
// decision.
func (e *Exchange) ExecuteTrade(userID string, postID uuid.UUID, side engine.Side, quantity float64) (engine.Decision, error) {
	post, err := e.registry.Get(postID)
	if err != nil {
		e.notifier.SendToUser(userID, protocol.ErrorMessage{Message: err.Error()})
		return engine.Decision{}, err
	}

	post.fillMu.Lock()
	defer post.fillMu.Unlock()

	market := post.Market()
	decision, res, err := e.accounts.CommitFill(userID, market, side, quantity)
	if err != nil {
		if errors.Is(err, curve.ErrNotFinite) {
			if e.metrics != nil {
				e.metrics.CurveFailures.Inc()
			}
			e.log.Warnw("curve_failure", "post_id", postID, "user_id", userID, "err", err)
			e.notifier.SendToUser(userID, protocol.ErrorMessage{Message: "calculation failed"})
			return engine.Decision{Reason: engine.ReasonCalculationError}, nil
		}
		return decision, err
	}

	if !decision.Accepted {
		if e.metrics != nil {
			e.metrics.TradesRejected.WithLabelValues(decision.Reason.String()).Inc()
		}
		e.log.Infow("trade_rejected",
			"post_id", postID, "user_id", userID, "side", side.String(),
			"quantity", quantity, "reason", decision.Reason.String(),
			"required", decision.Required, "available", decision.Available)
		e.notifier.SendToUser(userID, protocol.ErrorMessage{Message: rejectionMessage(decision)})
		return decision, nil
	}

	newSupply := market.Supply + side.Sign()*quantity
	post.setSupply(newSupply)
	if e.store != nil {
		if err := e.store.SavePost(post.record()); err != nil {
			return decision, fmt.Errorf("persist post: %w", err)
		}
	}

	if e.metrics != nil {
		e.metrics.TradesAdmitted.Inc()
		e.metrics.FillsApplied.Inc()
	}
	e.log.Infow("fill_applied",
		"post_id", postID, "user_id", userID, "side", side.String(),
		"quantity", quantity, "supply", newSupply,
		"cash_delta", res.CashDelta, "realized_pnl", res.RealizedPnL)

	e.publishFill(userID, post, res)
	return decision, nil
}

// publishFill fans out the post-commit messages. The market move goes to
// everyone, the account deltas go to the trader, and every other holder
// of the moved market gets an equity refresh.
func (e *Exchange) publishFill(userID string, post *Post, res engine.FillResult) {
	wire := post.Wire()
	e.notifier.Broadcast(protocol.MarketUpdate{PostID: post.ID, Price: wire.Price, Supply: wire.Supply})

	account, _ := e.accounts.Snapshot(userID)
	e.notifier.SendToUser(userID, protocol.BalanceUpdate{Balance: account.Balance})
	if !curve.NearZero(res.RealizedPnL) {
		e.notifier.SendToUser(userID, protocol.RealizedPnlUpdate{TotalRealizedPnl: account.TotalRealizedPnl})
	}
	e.notifier.SendToUser(userID, protocol.ExposureUpdate{Exposure: account.Exposure})
	e.notifier.SendToUser(userID, e.positionUpdate(userID, post, account))
	e.notifier.SendToUser(userID, protocol.EquityUpdate{Equity: e.equity(userID)})

	for _, holder := range e.accounts.Holders(post.ID) {
		if holder == userID {
			continue
		}
		e.notifier.SendToUser(holder, protocol.EquityUpdate{Equity: e.equity(holder)})
	}
}

func (e *Exchange) positionUpdate(userID string, post *Post, account engine.Account) protocol.PositionUpdate {
	pos := e.accounts.Position(userID, post.ID)
	upd := protocol.PositionUpdate{
		PostID:       post.ID,
		Size:         pos.Size,
		AveragePrice: pos.AveragePrice,
	}
	if pos.Open() {
		upd.UnrealizedPnl = pos.UnrealizedPnL(curve.Price(post.Supply()))
		if lp, ok := curve.LiquidationPrice(account.Balance, account.TotalRealizedPnl, pos.Size, pos.AveragePrice); ok {
			upd.LiquidationPrice = &lp
		}
	}
	return upd
}

// equity returns balance + realized PnL + mark-to-market PnL across the
// user's open positions.
func (e *Exchange) equity(userID string) float64 {
	account, positions := e.accounts.Snapshot(userID)
	total := account.Balance + account.TotalRealizedPnl
	for postID, pos := range positions {
		post, err := e.registry.Get(postID)
		if err != nil {
			e.log.Warnw("position_without_market", "post_id", postID, "user_id", userID)
			continue
		}
		total += pos.UnrealizedPnL(curve.Price(post.Supply()))
	}
	return total
}

// InitialState returns the full post list for a newly connected client.
func (e *Exchange) InitialState() protocol.InitialState {
	posts := e.registry.List()
	msg := protocol.InitialState{Posts: make([]protocol.Post, 0, len(posts))}
	for _, p := range posts {
		msg.Posts = append(msg.Posts, p.Wire())
	}
	return msg
}

// UserSync builds the full-state replace message for one user.
func (e *Exchange) UserSync(userID string) protocol.UserSync {
	account, positions := e.accounts.Snapshot(userID)

	msg := protocol.UserSync{
		Balance:          account.Balance,
		Exposure:         account.Exposure,
		TotalRealizedPnl: account.TotalRealizedPnl,
		Positions:        make([]protocol.PositionDetail, 0, len(positions)),
	}

	equity := account.Balance + account.TotalRealizedPnl
	for postID, pos := range positions {
		if !pos.Open() {
			continue
		}
		post, err := e.registry.Get(postID)
		if err != nil {
			continue
		}
		unrealized := pos.UnrealizedPnL(curve.Price(post.Supply()))
		equity += unrealized

		detail := protocol.PositionDetail{
			PostID:        postID,
			Size:          pos.Size,
			AveragePrice:  pos.AveragePrice,
			UnrealizedPnl: unrealized,
		}
		if lp, ok := curve.LiquidationPrice(account.Balance, account.TotalRealizedPnl, pos.Size, pos.AveragePrice); ok {
			detail.LiquidationPrice = &lp
		}
		msg.Positions = append(msg.Positions, detail)
	}
	msg.Equity = equity
	return msg
}

func rejectionMessage(d engine.Decision) string {
	if d.Reason == engine.ReasonInsufficientCollateral {
		return fmt.Sprintf("insufficient collateral: need %.2f, have %.2f", d.Required, d.Available)
	}
	return d.Reason.String()
}
