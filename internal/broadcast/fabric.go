package broadcast

import (
	"encoding/json"
	"log"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// Fabric fans outbound frames out to live connections.
// ARCHITECTURAL DISCOVERY: Targets come from a registry snapshot, so a
// connect or disconnect during fan-out cannot race the iteration. Each
// send is non-blocking; a slow destination is dropped by its own
// connection, never waited on here.
type Fabric struct {
	sessions interfaces.SessionSource
}

func NewFabric(sessions interfaces.SessionSource) *Fabric {
	return &Fabric{sessions: sessions}
}

// ToAll delivers v to every open connection, joined or not. It returns
// the number of connections that accepted the frame.
func (f *Fabric) ToAll(v interface{}) int {
	return f.deliver(v, func(interfaces.Connection) bool { return true })
}

// ToRoom delivers v to every open connection joined to the named room.
// Direct-chat sessions have no room name and are never matched.
func (f *Fabric) ToRoom(room string, v interface{}) int {
	if room == "" {
		return 0
	}
	return f.deliver(v, func(c interfaces.Connection) bool {
		return c.State() == types.SessionJoined && c.RoomName() == room
	})
}

// ToUser delivers v to every open connection of username.
func (f *Fabric) ToUser(username string, v interface{}) int {
	return f.deliver(v, func(c interfaces.Connection) bool {
		return c.State() == types.SessionJoined && c.Username() == username
	})
}

func (f *Fabric) deliver(v interface{}, match func(interfaces.Connection) bool) int {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Broadcast dropped, marshal failed: %v", err)
		return 0
	}

	delivered := 0
	for _, conn := range f.sessions.Snapshot() {
		if !conn.IsOpen() || !match(conn) {
			continue
		}
		if conn.Send(data) {
			delivered++
		}
	}
	return delivered
}

// RoomsChanged sends rooms_update to everyone.
func (f *Fabric) RoomsChanged(rooms []types.Room) {
	f.ToAll(types.NewRoomsUpdate(rooms))
}

// RoomDeleted tells the sessions bound to the room that it is gone.
func (f *Fabric) RoomDeleted(name string) {
	f.ToRoom(name, types.NewRoomDeleted(name))
}

// PresenceChanged sends the full online set to everyone.
func (f *Fabric) PresenceChanged(users []string) {
	f.ToAll(types.NewUserUpdate(users))
}
