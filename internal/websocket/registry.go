package websocket

import (
	"sync"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// Registry tracks live connections by transport ID.
// ARCHITECTURAL DISCOVERY: One user may hold several connections (tabs), so
// the key is the connection, not the username.
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: fan-out reads far outnumber connects
	connections map[string]interfaces.Connection
	order       []string
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
	}
}

// Register adds conn. Registering the same ID twice is an error.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	r.order = append(r.order, conn.ID())
	return nil
}

// Unregister removes conn if it is the instance currently registered under
// its ID. Unknown connections are ignored.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return
	}
	delete(r.connections, conn.ID())
	for i, id := range r.order {
		if id == conn.ID() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Get(id string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Snapshot returns the registered connections in connect order.
func (r *Registry) Snapshot() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.connections[id])
	}
	return out
}

// ActiveSessions counts open, joined connections for username.
func (r *Registry) ActiveSessions(username string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conn := range r.connections {
		if conn.IsOpen() && conn.State() == types.SessionJoined && conn.Username() == username {
			n++
		}
	}
	return n
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := 0
	users := make(map[string]bool)
	for _, conn := range r.connections {
		if conn.State() == types.SessionJoined {
			joined++
			users[conn.Username()] = true
		}
	}

	return map[string]int{
		"total_connections":  len(r.connections),
		"joined_connections": joined,
		"distinct_users":     len(users),
	}
}
