package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatterbox/pkg/types"
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every
// frame goes through writeCh and one writer goroutine. writeCh is never
// closed; shutdown is signalled through ctx so a late Send cannot panic.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once

	mu             sync.RWMutex // guards the session fields below
	username       string
	conversationID string
	room           string
	state          types.SessionState
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		state:        types.SessionUnjoined,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Write to connection %s failed: %v", c.id, err)
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string { return c.id }

// Send queues data without blocking.
// FUNCTIONAL DISCOVERY: A client that cannot drain its buffer is
// disconnected rather than allowed to stall fan-out to everyone else.
func (c *Connection) Send(data []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.writeCh <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		log.Printf("Outbound buffer full for connection %s (%s), closing", c.id, c.Username())
		_ = c.Close()
		return false
	}
}

func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	if !c.Send(data) {
		if c.IsOpen() {
			return ErrBufferFull
		}
		return ErrConnectionClosed
	}
	return nil
}

func (c *Connection) IsOpen() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Connection) ConversationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conversationID
}

func (c *Connection) RoomName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Connection) State() types.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Bind attaches the session identity. Only an unjoined session can bind.
func (c *Connection) Bind(username, conversationID, room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != types.SessionUnjoined {
		return false
	}
	c.username = username
	c.conversationID = conversationID
	c.room = room
	c.state = types.SessionJoined
	return true
}

func (c *Connection) MarkClosed() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = types.SessionClosed
	return prev
}

// Close cancels the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
