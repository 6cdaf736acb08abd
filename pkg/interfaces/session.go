package interfaces

// SessionSource exposes a race-free view of the live connections.
type SessionSource interface {
	// Snapshot returns the connections registered at the instant of the call.
	// The caller may iterate it without holding any registry lock.
	Snapshot() []Connection
}
