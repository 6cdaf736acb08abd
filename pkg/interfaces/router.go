package interfaces

// MessageRouter consumes inbound frames and connection closes. Calls are
// expected from a single coordinating goroutine.
type MessageRouter interface {
	// HandleEnvelope processes one raw inbound frame. Protocol and access
	// failures are returned for logging and are never sent to the client.
	HandleEnvelope(conn Connection, data []byte) error

	// HandleClose releases the session. It is idempotent.
	HandleClose(conn Connection)
}
