package interfaces

import "chatterbox/pkg/types"

// Connection is one live client transport plus the router session bound to it.
// ARCHITECTURAL DISCOVERY: Session state lives on the connection so the router
// never keeps a parallel map that could drift from the live-connection registry.
type Connection interface {
	// ID is unique per transport, not per user.
	ID() string

	// Send queues an already-encoded frame without blocking. It returns
	// false when the connection is closed or its outbound buffer is full.
	Send(data []byte) bool

	// WriteJSON encodes v and queues it with the same non-blocking rules as Send.
	WriteJSON(v interface{}) error

	// IsOpen reports whether the transport is still ready to accept frames.
	IsOpen() bool

	// Done is closed when the transport shuts down.
	Done() <-chan struct{}

	Username() string
	ConversationID() string

	// RoomName is empty for direct-chat sessions.
	RoomName() string

	State() types.SessionState

	// Bind moves Unjoined -> Joined. It returns false in any other state.
	Bind(username, conversationID, room string) bool

	// MarkClosed moves to Closed and returns the previous state.
	// Calling it again returns SessionClosed.
	MarkClosed() types.SessionState

	Close() error
}
