package interfaces

import (
	"context"

	"chatterbox/pkg/types"
)

// DatabaseManager is the durable side of the directory, rooms and history.
// In-memory components stay authoritative; these calls mirror their mutations.
type DatabaseManager interface {
	// SaveUser inserts a user. Existing usernames are left untouched.
	SaveUser(ctx context.Context, user *types.User) error

	// SaveRoom upserts a room with its full ordered member list.
	SaveRoom(ctx context.Context, room *types.Room) error

	// DeleteRoom removes the room, its members and its history.
	DeleteRoom(ctx context.Context, name string) error

	// SaveMessage upserts an envelope keyed by (conversation, sender, timestamp).
	SaveMessage(ctx context.Context, conversationID string, env *types.Envelope) error

	LoadUsers(ctx context.Context) ([]*types.User, error)
	LoadRooms(ctx context.Context) ([]*types.Room, error)

	// LoadHistory returns every stored conversation in insertion order.
	LoadHistory(ctx context.Context) (map[string][]types.Envelope, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
