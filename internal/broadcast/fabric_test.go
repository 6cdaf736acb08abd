package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// fakeConn records frames. capacity < 0 means unbounded.
type fakeConn struct {
	mu       sync.Mutex
	id       string
	user     string
	conv     string
	room     string
	state    types.SessionState
	open     bool
	capacity int
	frames   [][]byte
}

func joined(id, user, conv string) *fakeConn {
	return &fakeConn{id: id, user: user, conv: conv, room: conv, state: types.SessionJoined, open: true, capacity: -1}
}

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || (c.capacity >= 0 && len(c.frames) >= c.capacity) {
		return false
	}
	c.frames = append(c.frames, data)
	return true
}
func (c *fakeConn) WriteJSON(v interface{}) error {
	data, _ := json.Marshal(v)
	if !c.Send(data) {
		return errors.New("not delivered")
	}
	return nil
}
func (c *fakeConn) IsOpen() bool                   { return c.open }
func (c *fakeConn) Done() <-chan struct{}          { return nil }
func (c *fakeConn) Username() string               { return c.user }
func (c *fakeConn) ConversationID() string         { return c.conv }
func (c *fakeConn) RoomName() string               { return c.room }
func (c *fakeConn) State() types.SessionState      { return c.state }
func (c *fakeConn) Bind(u, conv, room string) bool { return false }
func (c *fakeConn) MarkClosed() types.SessionState { return c.state }
func (c *fakeConn) Close() error                   { c.open = false; return nil }

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type staticSessions []interfaces.Connection

func (s staticSessions) Snapshot() []interfaces.Connection { return s }

func TestFabric_ToRoomScoping(t *testing.T) {
	aliceR1 := joined("1", "alice", "r1")
	bobR1 := joined("2", "bob", "r1")
	carolR2 := joined("3", "carol", "r2")
	daveDM := joined("4", "dave", "alice-dave")
	daveDM.room = ""
	unjoined := &fakeConn{id: "5", open: true, capacity: -1}

	fabric := NewFabric(staticSessions{aliceR1, bobR1, carolR2, daveDM, unjoined})
	n := fabric.ToRoom("r1", types.Envelope{Type: types.EnvelopePublic, Sender: "bob", Text: "hi", Timestamp: "T"})

	if n != 2 || aliceR1.count() != 1 || bobR1.count() != 1 {
		t.Errorf("expected delivery to both r1 sessions, delivered=%d", n)
	}
	if carolR2.count() != 0 || daveDM.count() != 0 || unjoined.count() != 0 {
		t.Error("public message leaked outside r1")
	}
}

func TestFabric_ToRoomNeverReachesDirectChats(t *testing.T) {
	dm := joined("1", "alice", "alice-bob")
	dm.room = ""

	fabric := NewFabric(staticSessions{dm})
	if n := fabric.ToRoom("alice-bob", types.NewRoomDeleted("alice-bob")); n != 0 {
		t.Errorf("expected no delivery to a direct chat, got %d", n)
	}
	if n := fabric.ToRoom("", map[string]string{"type": "x"}); n != 0 {
		t.Errorf("expected no delivery for an empty room, got %d", n)
	}
	if dm.count() != 0 {
		t.Error("direct-chat session received a room frame")
	}
}

func TestFabric_ToUserReachesEverySession(t *testing.T) {
	tab1 := joined("1", "carol", "team")
	tab2 := joined("2", "carol", "alice-carol")
	other := joined("3", "alice", "alice-carol")

	fabric := NewFabric(staticSessions{tab1, tab2, other})
	if n := fabric.ToUser("carol", map[string]string{"type": "x"}); n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
	if other.count() != 0 {
		t.Error("frame delivered to wrong user")
	}
}

func TestFabric_ToAllIncludesUnjoined(t *testing.T) {
	a := joined("1", "alice", "team")
	b := &fakeConn{id: "2", open: true, capacity: -1}
	closed := joined("3", "bob", "team")
	closed.open = false

	fabric := NewFabric(staticSessions{a, b, closed})
	if n := fabric.ToAll(types.NewUserUpdate([]string{"alice"})); n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
	if closed.count() != 0 {
		t.Error("closed connection received a frame")
	}
}

func TestFabric_FullDestinationDoesNotBlockOthers(t *testing.T) {
	full := joined("1", "alice", "team")
	full.capacity = 0
	ok := joined("2", "bob", "team")

	fabric := NewFabric(staticSessions{full, ok})
	if n := fabric.ToRoom("team", map[string]string{"type": "x"}); n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}
	if ok.count() != 1 {
		t.Error("healthy destination starved by full one")
	}
}

func TestFabric_NotificationFrames(t *testing.T) {
	member := joined("1", "alice", "team")
	elsewhere := joined("2", "bob", "lobby")
	fabric := NewFabric(staticSessions{member, elsewhere})

	fabric.RoomDeleted("team")
	if member.count() != 1 || elsewhere.count() != 0 {
		t.Fatalf("roomDeleted should reach only team sessions")
	}
	var frame types.RoomDeletedEnvelope
	_ = json.Unmarshal(member.frames[0], &frame)
	if frame.Type != types.EnvelopeRoomDeleted || frame.Room != "team" {
		t.Errorf("unexpected frame %+v", frame)
	}

	fabric.RoomsChanged([]types.Room{{Name: "lobby", Admin: "bob", Members: []string{"bob"}}})
	fabric.PresenceChanged([]string{"alice", "bob"})
	if elsewhere.count() != 2 {
		t.Errorf("expected rooms_update and userUpdate for everyone, got %d frames", elsewhere.count())
	}
}

func TestFabric_UnmarshalableValue(t *testing.T) {
	conn := joined("1", "alice", "team")
	fabric := NewFabric(staticSessions{conn})

	if n := fabric.ToAll(make(chan int)); n != 0 {
		t.Errorf("expected no delivery, got %d", n)
	}
}
