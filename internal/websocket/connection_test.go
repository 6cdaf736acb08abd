package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
	var _ interfaces.SessionSource = &Registry{}
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t, nil), 8, time.Second)
	defer conn.Close()

	if conn.ID() == "" {
		t.Error("connection ID not assigned")
	}
	if cap(conn.writeCh) != 8 {
		t.Errorf("expected write buffer of 8, got %d", cap(conn.writeCh))
	}
	if conn.State() != types.SessionUnjoined {
		t.Errorf("new connection should be unjoined, got %s", conn.State())
	}
	if !conn.IsOpen() {
		t.Error("new connection should be open")
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	a := NewConnection(createTestWebSocketConnection(t, nil), 1, time.Second)
	b := NewConnection(createTestWebSocketConnection(t, nil), 1, time.Second)
	defer a.Close()
	defer b.Close()

	if a.ID() == b.ID() {
		t.Error("two connections share an ID")
	}
}

func TestConnection_BindLifecycle(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t, nil), 1, time.Second)
	defer conn.Close()

	if !conn.Bind("alice", "team", "team") {
		t.Fatal("first bind should succeed")
	}
	if conn.Bind("alice", "other", "other") {
		t.Error("second bind should be refused")
	}
	if conn.ConversationID() != "team" || conn.Username() != "alice" || conn.RoomName() != "team" {
		t.Error("bind fields changed by refused bind")
	}

	if prev := conn.MarkClosed(); prev != types.SessionJoined {
		t.Errorf("expected previous state joined, got %s", prev)
	}
	if prev := conn.MarkClosed(); prev != types.SessionClosed {
		t.Errorf("second MarkClosed should report closed, got %s", prev)
	}
	if conn.Bind("alice", "team", "team") {
		t.Error("closed session must not rebind")
	}
}

func TestConnection_FramesArriveInOrder(t *testing.T) {
	received := make(chan string, 10)
	conn := NewConnection(createTestWebSocketConnection(t, received), 10, time.Second)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		if err := conn.WriteJSON(map[string]int{"n": i}); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case raw := <-received:
			var got map[string]int
			if err := json.Unmarshal([]byte(raw), &got); err != nil {
				t.Fatalf("bad frame %q: %v", raw, err)
			}
			if got["n"] != i {
				t.Errorf("frame %d out of order: %v", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestConnection_FullBufferClosesConnection(t *testing.T) {
	// Built without a writer so the buffer cannot drain.
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		id:      "stalled",
		conn:    createTestWebSocketConnection(t, nil),
		writeCh: make(chan []byte, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	if !conn.Send([]byte(`{}`)) {
		t.Fatal("first frame should fit the buffer")
	}
	if conn.Send([]byte(`{}`)) {
		t.Fatal("overflowing frame reported success")
	}

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("overflowing connection was not closed")
	}
	if conn.IsOpen() {
		t.Error("connection still reports open")
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t, nil), 4, time.Second)
	if err := conn.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if conn.Send([]byte("x")) {
		t.Error("send after close reported success")
	}
	if err := conn.WriteJSON(map[string]string{}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_WriteJSONRejectsUnencodable(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t, nil), 4, time.Second)
	defer conn.Close()

	if err := conn.WriteJSON(make(chan int)); err != ErrInvalidJSON {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

// createTestWebSocketConnection dials a throwaway server. When received is
// non-nil the server forwards every text frame it reads into it.
func createTestWebSocketConnection(t *testing.T, received chan<- string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if received != nil {
				received <- string(data)
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	return conn
}
