package websocket

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// Dispatcher receives inbound frames and disconnects. The hub implements it.
type Dispatcher interface {
	Dispatch(conn interfaces.Connection, data []byte) error
	Disconnect(conn interfaces.Connection) error
}

// HandlerConfig carries the transport tunables.
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64

	// AllowedOrigins empty means any origin is accepted.
	AllowedOrigins []string
}

// DefaultHandlerConfig matches the heartbeat timings the server has always used.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     256,
		MaxMessageSize: 16 << 20,
	}
}

// Handler upgrades HTTP requests and pumps frames into the dispatcher.
// ARCHITECTURAL DISCOVERY: The handler knows nothing about chat semantics;
// every inbound text frame goes to the dispatcher untouched.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	config     HandlerConfig
	upgrader   websocket.Upgrader
}

func NewHandler(registry *Registry, dispatcher Dispatcher, config HandlerConfig) *Handler {
	h := &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		config:     config,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request, registers the connection, greets it
// and starts the read pump.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, h.config.BufferSize, h.config.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}

	greeting := types.ConnectedEnvelope{Type: types.EnvelopeConnected, Message: "Connected to chat server"}
	if err := conn.WriteJSON(greeting); err != nil {
		log.Printf("Failed to greet connection %s: %v", conn.ID(), err)
	}

	go h.handleConnection(conn)
}

// handleConnection runs the read pump and heartbeat until the socket dies.
// TECHNICAL DISCOVERY: Pings go through WriteControl, which gorilla allows
// concurrently with the writer goroutine's WriteMessage.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.dispatcher.Disconnect(conn); err != nil {
			log.Printf("Disconnect for %s not delivered: %v", conn.ID(), err)
		}
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if h.config.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.config.MaxMessageSize)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
					_ = conn.Close()
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := h.dispatcher.Dispatch(conn, data); err != nil {
			log.Printf("Dropping frame from %s: %v", conn.ID(), err)
			return
		}
	}
}
