package rooms

import (
	"context"
	"fmt"
	"log"
	"sync"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// Listener is told about changes that every client must see.
type Listener interface {
	RoomsChanged(rooms []types.Room)
	RoomDeleted(name string)
}

// HistoryEraser drops a conversation's history.
type HistoryEraser interface {
	DeleteHistory(conversationID string)
}

// Registry owns room definitions and their access rules. The HTTP layer and
// the live-connection router share one Registry, so both paths emit the
// same notifications.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*types.Room
	order    []string
	history  HistoryEraser
	listener Listener
	db       interfaces.DatabaseManager
}

// NewRegistry creates an empty registry. history, db and the listener
// are optional.
func NewRegistry(history HistoryEraser, db interfaces.DatabaseManager) *Registry {
	return &Registry{
		rooms:   make(map[string]*types.Room),
		history: history,
		db:      db,
	}
}

// SetListener installs the notification target.
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Load replaces the registry contents with what the database holds.
func (r *Registry) Load(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	stored, err := r.db.LoadRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms = make(map[string]*types.Room, len(stored))
	r.order = r.order[:0]
	for _, room := range stored {
		c := room.Clone()
		if !c.HasMember(c.Admin) {
			c.Members = append([]string{c.Admin}, c.Members...)
		}
		r.rooms[c.Name] = &c
		r.order = append(r.order, c.Name)
	}

	log.Printf("Loaded %d rooms", len(stored))
	return nil
}

// Create adds a room with the admin as its only member.
func (r *Registry) Create(name, admin string, isPrivate bool, password string) (types.Room, error) {
	if !types.IsValidName(name) {
		return types.Room{}, ErrInvalidRoomName
	}
	if !types.IsValidName(admin) {
		return types.Room{}, ErrInvalidAdmin
	}
	if isPrivate && password == "" {
		return types.Room{}, ErrPasswordRequired
	}
	if !isPrivate {
		password = ""
	}

	r.mu.Lock()
	if _, exists := r.rooms[name]; exists {
		r.mu.Unlock()
		return types.Room{}, types.ErrDuplicateRoom
	}
	room := &types.Room{
		Name:      name,
		Admin:     admin,
		Members:   []string{admin},
		IsPrivate: isPrivate,
		Password:  password,
	}
	r.rooms[name] = room
	r.order = append(r.order, name)
	created := room.Clone()
	snapshot, listener := r.listLocked(), r.listener
	r.mu.Unlock()

	log.Printf("Room created: name=%s admin=%s private=%t", name, admin, isPrivate)
	r.persist("room "+name, func(ctx context.Context, db interfaces.DatabaseManager) error {
		return db.SaveRoom(ctx, &created)
	})
	if listener != nil {
		listener.RoomsChanged(snapshot)
	}
	return created, nil
}

// Get returns a copy of the named room.
func (r *Registry) Get(name string) (types.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[name]
	if !ok {
		return types.Room{}, false
	}
	return room.Clone(), true
}

// Delete removes a room and its history. Only the admin may delete.
func (r *Registry) Delete(name, requester string) error {
	r.mu.Lock()
	room, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return types.ErrRoomNotFound
	}
	if room.Admin != requester {
		r.mu.Unlock()
		return types.ErrNotAuthorized
	}
	delete(r.rooms, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	snapshot, listener := r.listLocked(), r.listener
	r.mu.Unlock()

	if r.history != nil {
		r.history.DeleteHistory(name)
	}
	log.Printf("Room deleted: name=%s by=%s", name, requester)
	r.persist("room deletion "+name, func(ctx context.Context, db interfaces.DatabaseManager) error {
		return db.DeleteRoom(ctx, name)
	})
	if listener != nil {
		listener.RoomDeleted(name)
		listener.RoomsChanged(snapshot)
	}
	return nil
}

// Join admits requester to the room.
// FUNCTIONAL DISCOVERY: The admin bypasses the password check, and a
// wrong password is only an error for private rooms.
func (r *Registry) Join(name, requester, password string) (types.Room, error) {
	r.mu.Lock()
	room, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return types.Room{}, types.ErrRoomNotFound
	}
	if room.IsPrivate && room.Password != password && requester != room.Admin {
		r.mu.Unlock()
		return types.Room{}, types.ErrIncorrectPassword
	}

	added := false
	if !room.HasMember(requester) {
		room.Members = append(room.Members, requester)
		added = true
	}
	joined := room.Clone()
	var snapshot []types.Room
	if added {
		snapshot = r.listLocked()
	}
	listener := r.listener
	r.mu.Unlock()

	if added {
		log.Printf("Room member added: room=%s user=%s", name, requester)
		r.persist("room "+name, func(ctx context.Context, db interfaces.DatabaseManager) error {
			return db.SaveRoom(ctx, &joined)
		})
		if listener != nil {
			listener.RoomsChanged(snapshot)
		}
	}
	return joined, nil
}

// CanPost reports whether requester may post in the room right now.
// Unknown rooms never allow posting.
func (r *Registry) CanPost(name, requester string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[name]
	if !ok {
		return false
	}
	return !room.IsPrivate || requester == room.Admin || room.HasMember(requester)
}

// List returns every room in creation order.
func (r *Registry) List() []types.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []types.Room {
	rooms := make([]types.Room, 0, len(r.order))
	for _, name := range r.order {
		rooms = append(rooms, r.rooms[name].Clone())
	}
	return rooms
}

func (r *Registry) persist(what string, fn func(ctx context.Context, db interfaces.DatabaseManager) error) {
	if r.db == nil {
		return
	}
	if err := fn(context.Background(), r.db); err != nil {
		log.Printf("Failed to persist %s: %v", what, err)
	}
}
