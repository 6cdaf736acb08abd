package directory

import (
	"context"
	"log"
	"sort"
	"sync"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// Store holds registered users and per-conversation message history.
// ARCHITECTURAL DISCOVERY: Memory is authoritative. The optional
// DatabaseManager only mirrors mutations, and it is always called after the
// store lock is released so slow I/O never blocks readers.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*types.User
	userOrder []string
	history   map[string]*conversation
	db        interfaces.DatabaseManager
}

// conversation keeps messages ordered by timestamp plus a position index
// keyed by (sender, timestamp) for constant-time dedup.
type conversation struct {
	messages []types.Envelope
	index    map[types.MessageKey]int
}

func newConversation() *conversation {
	return &conversation{index: make(map[types.MessageKey]int)}
}

// NewStore creates an empty store. db may be nil for a memory-only store.
func NewStore(db interfaces.DatabaseManager) *Store {
	return &Store{
		users:   make(map[string]*types.User),
		history: make(map[string]*conversation),
		db:      db,
	}
}

// Load replaces the in-memory state with what the database holds.
func (s *Store) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	users, err := s.db.LoadUsers(ctx)
	if err != nil {
		return err
	}
	history, err := s.db.LoadHistory(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*types.User, len(users))
	s.userOrder = s.userOrder[:0]
	for _, u := range users {
		if _, dup := s.users[u.Username]; dup {
			continue
		}
		copied := *u
		s.users[u.Username] = &copied
		s.userOrder = append(s.userOrder, u.Username)
	}

	s.history = make(map[string]*conversation, len(history))
	for id, msgs := range history {
		conv := newConversation()
		for _, env := range msgs {
			conv.insert(env)
		}
		s.history[id] = conv
	}

	log.Printf("Directory loaded: users=%d conversations=%d", len(s.users), len(s.history))
	return nil
}

// FindUser looks a user up by exact, case-sensitive username.
func (s *Store) FindUser(username string) (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return types.User{}, false
	}
	return *u, true
}

// RegisterUser adds a new account.
func (s *Store) RegisterUser(username, password string) error {
	if !types.IsValidName(username) || password == "" {
		return types.ErrInvalidCredentials
	}

	s.mu.Lock()
	if _, exists := s.users[username]; exists {
		s.mu.Unlock()
		return types.ErrDuplicateUser
	}
	user := &types.User{Username: username, Password: password}
	s.users[username] = user
	s.userOrder = append(s.userOrder, username)
	saved := *user
	s.mu.Unlock()

	s.persist("user "+username, func(ctx context.Context, db interfaces.DatabaseManager) error {
		return db.SaveUser(ctx, &saved)
	})
	return nil
}

// Authenticate compares the stored credential verbatim.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	return ok && u.Password == password
}

// ListUsers returns usernames in registration order.
func (s *Store) ListUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.userOrder...)
}

// GetHistory returns a copy of the conversation's messages ordered by
// timestamp. Unknown conversations yield an empty, non-nil slice.
func (s *Store) GetHistory(conversationID string) []types.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.history[conversationID]
	if !ok {
		return []types.Envelope{}
	}
	return append([]types.Envelope{}, conv.messages...)
}

// AppendHistory stores env under conversationID unless its (sender, timestamp)
// pair is already present. A stored uploading envelope is upgraded in place
// when the same key arrives with status sent; every other repeat is a no-op.
func (s *Store) AppendHistory(conversationID string, env types.Envelope) types.AppendResult {
	s.mu.Lock()
	conv, ok := s.history[conversationID]
	if !ok {
		conv = newConversation()
		s.history[conversationID] = conv
	}

	var (
		result types.AppendResult
		stored types.Envelope
	)
	if pos, exists := conv.index[env.Key()]; exists {
		existing := &conv.messages[pos]
		if existing.Status != types.StatusUploading || env.Status != types.StatusSent {
			s.mu.Unlock()
			return types.Duplicate
		}
		existing.Status = types.StatusSent
		if env.Media != "" {
			existing.Media = env.Media
		}
		result, stored = types.Upgraded, *existing
	} else {
		conv.insert(env)
		result, stored = types.Appended, env
	}
	s.mu.Unlock()

	s.persist("message in "+conversationID, func(ctx context.Context, db interfaces.DatabaseManager) error {
		return db.SaveMessage(ctx, conversationID, &stored)
	})
	return result
}

// DeleteHistory drops a conversation. Durable room history is removed with
// the room itself, so this only touches memory.
func (s *Store) DeleteHistory(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.history, conversationID)
}

func (s *Store) persist(what string, fn func(ctx context.Context, db interfaces.DatabaseManager) error) {
	if s.db == nil {
		return
	}
	if err := fn(context.Background(), s.db); err != nil {
		log.Printf("Failed to persist %s: %v", what, err)
	}
}

// insert places env after every message whose timestamp is not later,
// keeping arrival order among equal timestamps.
func (c *conversation) insert(env types.Envelope) {
	key := env.Key()
	if _, exists := c.index[key]; exists {
		return
	}

	n := len(c.messages)
	pos := sort.Search(n, func(i int) bool {
		return types.CompareTimestamps(c.messages[i].Timestamp, env.Timestamp) > 0
	})

	if pos == n {
		c.messages = append(c.messages, env)
		c.index[key] = n
		return
	}

	c.messages = append(c.messages, types.Envelope{})
	copy(c.messages[pos+1:], c.messages[pos:])
	c.messages[pos] = env
	for i := pos; i < len(c.messages); i++ {
		c.index[c.messages[i].Key()] = i
	}
}
