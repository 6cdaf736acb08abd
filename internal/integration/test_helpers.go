package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatterbox/internal/app"
	"chatterbox/internal/config"
	"chatterbox/pkg/types"
)

const receiveTimeout = 3 * time.Second

// testServer is a full application served on a loopback port.
type testServer struct {
	app     *app.Application
	baseURL string
	dataDir string
	once    sync.Once
}

func testConfig(dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dataDir, "chatterbox.db")
	cfg.Database.Timeout = 5 * time.Second
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Media.UploadDir = filepath.Join(dataDir, "uploads")
	cfg.Media.MaxUploadBytes = 1 << 20
	cfg.Router.MessagesPerMinute = 0
	return cfg
}

// startServer boots an application over dataDir. Reusing dataDir across
// calls exercises restore from disk.
func startServer(t *testing.T, dataDir string) *testServer {
	t.Helper()

	application, err := app.NewApplication(testConfig(dataDir))
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if err := application.Serve(context.Background(), ln); err != nil {
		t.Fatalf("Failed to serve: %v", err)
	}

	srv := &testServer{
		app:     application,
		baseURL: "http://" + application.Addr(),
		dataDir: dataDir,
	}
	t.Cleanup(func() { srv.stop(t) })
	return srv
}

func (s *testServer) stop(t *testing.T) {
	t.Helper()
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func (s *testServer) mustDo(t *testing.T, method, path string, body interface{}, want int) []byte {
	t.Helper()
	status, data := s.do(t, method, path, body)
	if status != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, status, data)
	}
	return data
}

func (s *testServer) register(t *testing.T, users ...string) {
	t.Helper()
	for _, u := range users {
		s.mustDo(t, http.MethodPost, "/register", map[string]string{"username": u, "password": u + "-pw"}, http.StatusCreated)
	}
}

func (s *testServer) history(t *testing.T, query url.Values) []types.Envelope {
	t.Helper()
	data := s.mustDo(t, http.MethodGet, "/messages?"+query.Encode(), nil, http.StatusOK)
	var msgs []types.Envelope
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	return msgs
}

// frame is any server-to-client message.
type frame struct {
	types.Envelope
	Messages []types.Envelope `json:"messages"`
	Rooms    []types.Room     `json:"rooms"`
	Users    []string         `json:"users"`
	Message  string           `json:"message"`
}

// chatClient is a WebSocket client that collects frames in arrival order.
type chatClient struct {
	conn   *websocket.Conn
	frames chan frame
	errs   chan error
}

func (s *testServer) dial(t *testing.T) *chatClient {
	t.Helper()

	u := "ws" + s.baseURL[len("http"):] + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	c := &chatClient{
		conn:   conn,
		frames: make(chan frame, 100),
		errs:   make(chan error, 1),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })

	greeting := c.expect(t, types.EnvelopeConnected)
	if greeting.Message == "" {
		t.Fatal("Greeting should carry a message")
	}
	return c
}

func (c *chatClient) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.errs <- err
			return
		}
		c.frames <- f
	}
}

func (c *chatClient) send(t *testing.T, env types.Envelope) {
	t.Helper()
	if err := c.conn.SetWriteDeadline(time.Now().Add(receiveTimeout)); err != nil {
		t.Fatalf("Failed to set write deadline: %v", err)
	}
	if err := c.conn.WriteJSON(env); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

// next returns the next frame whatever its type.
func (c *chatClient) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case err := <-c.errs:
		t.Fatalf("Connection failed: %v", err)
	case <-time.After(receiveTimeout):
		t.Fatal("Timeout waiting for frame")
	}
	return frame{}
}

// expect requires the next frame to be of type typ.
func (c *chatClient) expect(t *testing.T, typ string) frame {
	t.Helper()
	f := c.next(t)
	if f.Type != typ {
		t.Fatalf("Expected %s frame, got %s", typ, f.Type)
	}
	return f
}

// await skips frames until one of type typ arrives.
func (c *chatClient) await(t *testing.T, typ string) frame {
	t.Helper()
	deadline := time.After(receiveTimeout)
	for {
		select {
		case f := <-c.frames:
			if f.Type == typ {
				return f
			}
		case err := <-c.errs:
			t.Fatalf("Connection failed waiting for %s: %v", typ, err)
		case <-deadline:
			t.Fatalf("Timeout waiting for %s frame", typ)
		}
	}
}

// quiet asserts that nothing of type typ arrives for a short while.
func (c *chatClient) quiet(t *testing.T, typ string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case f := <-c.frames:
			if f.Type == typ {
				t.Fatalf("Unexpected %s frame: %+v", typ, f.Envelope)
			}
		case <-deadline:
			return
		}
	}
}

// join sends a join and consumes the history and rooms_update replies.
func (c *chatClient) join(t *testing.T, username, room, recipient string) []types.Envelope {
	t.Helper()
	c.send(t, types.Envelope{Type: types.EnvelopeJoin, Username: username, Room: room, Recipient: recipient})
	history := c.await(t, types.EnvelopeHistory)
	c.expect(t, types.EnvelopeRoomsUpdate)
	return history.Messages
}

func stamp(i int) string {
	return fmt.Sprintf("2026-01-01T10:00:%02d.000Z", i)
}
