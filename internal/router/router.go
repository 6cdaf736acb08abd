package router

import (
	"encoding/json"
	"fmt"
	"log"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// Directory is the slice of the directory store the router needs.
type Directory interface {
	FindUser(username string) (types.User, bool)
	GetHistory(conversationID string) []types.Envelope
	AppendHistory(conversationID string, env types.Envelope) types.AppendResult
}

// Rooms is the slice of the room registry the router needs.
type Rooms interface {
	Get(name string) (types.Room, bool)
	CanPost(name, requester string) bool
	List() []types.Room
}

// Presence marks users online and offline. Every call broadcasts the
// online set, so the router never sends userUpdate itself.
type Presence interface {
	MarkOnline(username string) bool
	MarkOffline(username string) bool
}

// Broadcaster delivers frames to live sessions.
type Broadcaster interface {
	ToRoom(room string, v interface{}) int
	ToUser(username string, v interface{}) int
}

// SessionCounter reports how many joined sessions a user still holds.
type SessionCounter interface {
	ActiveSessions(username string) int
}

// Router implements the MessageRouter interface
// ARCHITECTURAL DISCOVERY: The router holds no per-connection map. Session
// state lives on the connection, and all calls arrive from the hub goroutine,
// so the checks and the mutations that follow them cannot interleave.
type Router struct {
	directory   Directory
	rooms       Rooms
	presence    Presence
	broadcaster Broadcaster
	sessions    SessionCounter
	rateLimiter *RateLimiter
}

// Deps groups the router's collaborators.
type Deps struct {
	Directory   Directory
	Rooms       Rooms
	Presence    Presence
	Broadcaster Broadcaster
	Sessions    SessionCounter
	RateLimiter *RateLimiter
}

func NewRouter(deps Deps) *Router {
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	return &Router{
		directory:   deps.Directory,
		rooms:       deps.Rooms,
		presence:    deps.Presence,
		broadcaster: deps.Broadcaster,
		sessions:    deps.Sessions,
		rateLimiter: limiter,
	}
}

// HandleEnvelope decodes one inbound frame and applies it. A non-nil error
// means the frame was dropped; the connection stays open either way.
func (r *Router) HandleEnvelope(conn interfaces.Connection, data []byte) error {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return err
	}

	switch env.Type {
	case types.EnvelopeJoin:
		return r.handleJoin(conn, &env)
	case types.EnvelopePublic:
		return r.handlePublic(conn, &env)
	case types.EnvelopePrivate:
		return r.handlePrivate(conn, &env)
	default:
		// Validate admits only the three inbound types.
		return fmt.Errorf("%w: unexpected type %q", types.ErrMalformedEnvelope, env.Type)
	}
}

// handleJoin binds the session to a room or direct chat.
// FUNCTIONAL DISCOVERY: The joiner receives history before anyone learns
// they are online, so the first frame a client sees is always its backlog.
func (r *Router) handleJoin(conn interfaces.Connection, env *types.Envelope) error {
	if conn.State() != types.SessionUnjoined {
		return ErrAlreadyJoined
	}
	if _, ok := r.directory.FindUser(env.Username); !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownUser, env.Username)
	}

	var conversationID, room string
	if env.Recipient != "" {
		if _, ok := r.directory.FindUser(env.Recipient); !ok {
			return fmt.Errorf("%w: recipient %s", types.ErrUnknownUser, env.Recipient)
		}
		conversationID = types.DirectKey(env.Username, env.Recipient)
	} else {
		target, ok := r.rooms.Get(env.Room)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrRoomNotFound, env.Room)
		}
		if target.IsPrivate && target.Admin != env.Username && !target.HasMember(env.Username) {
			return fmt.Errorf("%w: %s in %s", types.ErrAccessDenied, env.Username, env.Room)
		}
		conversationID = target.Name
		room = target.Name
	}

	if !conn.Bind(env.Username, conversationID, room) {
		return ErrAlreadyJoined
	}
	log.Printf("Session %s joined: user=%s conversation=%s", conn.ID(), env.Username, conversationID)

	if err := conn.WriteJSON(types.NewHistory(r.directory.GetHistory(conversationID))); err != nil {
		log.Printf("Failed to send history to %s: %v", conn.ID(), err)
	}
	if err := conn.WriteJSON(types.NewRoomsUpdate(r.rooms.List())); err != nil {
		log.Printf("Failed to send rooms to %s: %v", conn.ID(), err)
	}

	r.presence.MarkOnline(env.Username)
	return nil
}

func (r *Router) handlePublic(conn interfaces.Connection, env *types.Envelope) error {
	if err := r.checkSender(conn, env); err != nil {
		return err
	}
	room := conn.RoomName()
	if room == "" {
		return ErrNotInRoom
	}
	if !r.rooms.CanPost(room, env.Sender) {
		return fmt.Errorf("%w: %s in %s", types.ErrAccessDenied, env.Sender, room)
	}
	if !r.rateLimiter.Allow(env.Sender) {
		return ErrRateLimitExceeded
	}

	content := env.Content()
	if r.directory.AppendHistory(room, content) == types.Duplicate {
		return nil
	}
	r.broadcaster.ToRoom(room, content)
	return nil
}

// handlePrivate stores the message under the direct key and delivers it to
// both parties.
// FUNCTIONAL DISCOVERY: Delivery does not depend on the recipient being
// online; an offline recipient reads it from history on the next join.
func (r *Router) handlePrivate(conn interfaces.Connection, env *types.Envelope) error {
	if err := r.checkSender(conn, env); err != nil {
		return err
	}
	if _, ok := r.directory.FindUser(env.Recipient); !ok {
		return fmt.Errorf("%w: recipient %s", types.ErrUnknownUser, env.Recipient)
	}
	if !r.rateLimiter.Allow(env.Sender) {
		return ErrRateLimitExceeded
	}

	content := env.Content()
	key := types.DirectKey(env.Sender, env.Recipient)
	if r.directory.AppendHistory(key, content) == types.Duplicate {
		return nil
	}

	r.broadcaster.ToUser(env.Recipient, content)
	if env.Recipient != env.Sender {
		r.broadcaster.ToUser(env.Sender, content)
	}
	return nil
}

func (r *Router) checkSender(conn interfaces.Connection, env *types.Envelope) error {
	if conn.State() != types.SessionJoined {
		return ErrNotJoined
	}
	if env.Sender != conn.Username() {
		return fmt.Errorf("%w: %s on session of %s", ErrSenderMismatch, env.Sender, conn.Username())
	}
	return nil
}

// HandleClose releases the session. A user goes offline only when their
// last joined session closes.
func (r *Router) HandleClose(conn interfaces.Connection) {
	if conn.MarkClosed() != types.SessionJoined {
		return
	}

	username := conn.Username()
	log.Printf("Session %s closed: user=%s", conn.ID(), username)
	if r.sessions.ActiveSessions(username) == 0 {
		r.presence.MarkOffline(username)
	}
}

// CleanupRateLimits drops stale limiter state and returns how many users
// were removed.
func (r *Router) CleanupRateLimits() int {
	return r.rateLimiter.Cleanup()
}
