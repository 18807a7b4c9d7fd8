package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curvefeed/curvefeed/pkg/curve"
	"github.com/curvefeed/curvefeed/pkg/engine"
	"github.com/curvefeed/curvefeed/pkg/protocol"
)

// postRecord is the persisted shape of a post and its market.
type postRecord struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Supply    float64   `json:"supply"`
}

// Post is a live post with its market state. Supply is mutated only by
// accepted fills.
type Post struct {
	ID        uuid.UUID
	UserID    string
	Content   string
	CreatedAt time.Time

	// fillMu serializes fills against this market: the curve price is a
	// function of current supply, so two concurrent trades must be applied
	// strictly one at a time.
	fillMu sync.Mutex

	mu     sync.RWMutex // guards supply
	supply float64
}

// Supply returns the market's current signed supply.
func (p *Post) Supply() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.supply
}

func (p *Post) setSupply(s float64) {
	p.mu.Lock()
	p.supply = s
	p.mu.Unlock()
}

// Market returns a read snapshot of the post's market.
func (p *Post) Market() engine.Market {
	s := p.Supply()
	return engine.Market{ID: p.ID, Supply: s, Price: curve.Price(s)}
}

// Wire returns the post's wire representation.
func (p *Post) Wire() protocol.Post {
	s := p.Supply()
	return protocol.Post{
		ID:        p.ID,
		UserID:    p.UserID,
		Content:   p.Content,
		Timestamp: p.CreatedAt,
		Price:     curve.Price(s),
		Supply:    s,
	}
}

func (p *Post) record() *postRecord {
	return &postRecord{
		ID:        p.ID,
		UserID:    p.UserID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
		Supply:    p.Supply(),
	}
}

func (r *postRecord) live() *Post {
	p := &Post{
		ID:        r.ID,
		UserID:    r.UserID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
	p.supply = r.Supply
	return p
}

// Registry manages all posts in a thread-safe manner.
type Registry struct {
	mu    sync.RWMutex
	posts map[uuid.UUID]*Post
	order []uuid.UUID // creation order, for initial_state
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{posts: make(map[uuid.UUID]*Post)}
}

// Add registers a post. Returns an error if the ID is already taken.
func (r *Registry) Add(p *Post) error {
	if p == nil {
		return fmt.Errorf("cannot register nil post")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.posts[p.ID]; exists {
		return fmt.Errorf("post %s already registered", p.ID)
	}
	r.posts[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Get retrieves a post by ID.
func (r *Registry) Get(id uuid.UUID) (*Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.posts[id]
	if !exists {
		return nil, fmt.Errorf("post %s not found", id)
	}
	return p, nil
}

// List returns all posts in creation order.
func (r *Registry) List() []*Post {
	r.mu.RLock()
	defer r.mu.RUnlock()

	posts := make([]*Post, 0, len(r.order))
	for _, id := range r.order {
		posts = append(posts, r.posts[id])
	}
	return posts
}
