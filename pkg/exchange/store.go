package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// Store provides Pebble-based persistence for accounts and posts.
// Thread-safe: all writes go through the owning manager's mutex.
//
// Keys: acc:<user-id> for accounts, post:<uuid> for posts.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func accountKey(userID string) []byte {
	return append([]byte("acc:"), userID...)
}

func postKey(id uuid.UUID) []byte {
	return append([]byte("post:"), id[:]...)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}

// SaveAccount persists an account record.
func (s *Store) SaveAccount(rec *accountRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(rec.UserID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// LoadAccount loads an account record, or nil if it doesn't exist.
func (s *Store) LoadAccount(userID string) (*accountRecord, error) {
	data, closer, err := s.db.Get(accountKey(userID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	if rec.Positions == nil {
		rec.Positions = make(map[uuid.UUID]positionRecord)
	}
	return &rec, nil
}

// SavePost persists a post record.
func (s *Store) SavePost(rec *postRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal post: %w", err)
	}
	if err := s.db.Set(postKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save post: %w", err)
	}
	return nil
}

// LoadAllPosts loads every persisted post.
func (s *Store) LoadAllPosts() ([]*postRecord, error) {
	prefix := []byte("post:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var posts []*postRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec postRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // skip invalid entries
		}
		posts = append(posts, &rec)
	}
	return posts, nil
}
