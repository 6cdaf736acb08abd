package rooms

import (
	"errors"
	"reflect"
	"testing"

	"chatterbox/pkg/types"
)

type recordingListener struct {
	changes []([]types.Room)
	deleted []string
}

func (l *recordingListener) RoomsChanged(rooms []types.Room) { l.changes = append(l.changes, rooms) }
func (l *recordingListener) RoomDeleted(name string)         { l.deleted = append(l.deleted, name) }

type recordingEraser struct{ erased []string }

func (e *recordingEraser) DeleteHistory(id string) { e.erased = append(e.erased, id) }

func newTestRegistry() (*Registry, *recordingListener, *recordingEraser) {
	eraser := &recordingEraser{}
	listener := &recordingListener{}
	reg := NewRegistry(eraser, nil)
	reg.SetListener(listener)
	return reg, listener, eraser
}

func TestRegistry_CreateInitializesMembers(t *testing.T) {
	reg, listener, _ := newTestRegistry()

	room, err := reg.Create("team", "alice", true, "x")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !reflect.DeepEqual(room.Members, []string{"alice"}) {
		t.Errorf("expected members [alice], got %v", room.Members)
	}
	if len(listener.changes) != 1 {
		t.Errorf("expected one rooms_update, got %d", len(listener.changes))
	}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	reg, _, _ := newTestRegistry()
	_, _ = reg.Create("team", "alice", false, "")

	if _, err := reg.Create("team", "bob", false, ""); !errors.Is(err, types.ErrDuplicateRoom) {
		t.Errorf("expected ErrDuplicateRoom, got %v", err)
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	reg, _, _ := newTestRegistry()

	if _, err := reg.Create("", "alice", false, ""); !errors.Is(err, ErrInvalidRoomName) {
		t.Errorf("expected ErrInvalidRoomName, got %v", err)
	}
	if _, err := reg.Create("alice-bob", "alice", false, ""); !errors.Is(err, ErrInvalidRoomName) {
		t.Errorf("room name shaped like a direct key: expected ErrInvalidRoomName, got %v", err)
	}
	if _, err := reg.Create("team", "", false, ""); !errors.Is(err, ErrInvalidAdmin) {
		t.Errorf("expected ErrInvalidAdmin, got %v", err)
	}
	if _, err := reg.Create("team", "alice", true, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("expected ErrPasswordRequired, got %v", err)
	}
}

func TestRegistry_PublicRoomPasswordDiscarded(t *testing.T) {
	reg, _, _ := newTestRegistry()

	room, err := reg.Create("lobby", "alice", false, "ignored")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if room.Password != "" {
		t.Errorf("public room kept password %q", room.Password)
	}
}

func TestRegistry_JoinAccessRule(t *testing.T) {
	reg, _, _ := newTestRegistry()
	_, _ = reg.Create("team", "alice", true, "x")

	tests := []struct {
		name      string
		requester string
		password  string
		wantErr   error
	}{
		{"admin with wrong password", "alice", "anything", nil},
		{"admin with empty password", "alice", "", nil},
		{"member with right password", "bob", "x", nil},
		{"stranger with wrong password", "carol", "wrong", types.ErrIncorrectPassword},
		{"stranger with empty password", "dave", "", types.ErrIncorrectPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Join("team", tt.requester, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegistry_JoinPublicIgnoresPassword(t *testing.T) {
	reg, _, _ := newTestRegistry()
	_, _ = reg.Create("lobby", "alice", false, "")

	room, err := reg.Join("lobby", "bob", "whatever")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if !reflect.DeepEqual(room.Members, []string{"alice", "bob"}) {
		t.Errorf("unexpected members %v", room.Members)
	}
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	reg, listener, _ := newTestRegistry()
	_, _ = reg.Create("team", "alice", true, "x")

	_, _ = reg.Join("team", "bob", "x")
	room, _ := reg.Join("team", "bob", "x")
	_, _ = reg.Join("team", "alice", "")

	if !reflect.DeepEqual(room.Members, []string{"alice", "bob"}) {
		t.Errorf("unexpected members %v", room.Members)
	}
	// create + one real addition
	if len(listener.changes) != 2 {
		t.Errorf("expected 2 rooms_update notifications, got %d", len(listener.changes))
	}
}

func TestRegistry_JoinMissingRoom(t *testing.T) {
	reg, _, _ := newTestRegistry()

	if _, err := reg.Join("nope", "bob", ""); !errors.Is(err, types.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_CanPost(t *testing.T) {
	reg, _, _ := newTestRegistry()
	_, _ = reg.Create("team", "alice", true, "x")
	_, _ = reg.Create("lobby", "alice", false, "")
	_, _ = reg.Join("team", "bob", "x")

	cases := []struct {
		room, user string
		want       bool
	}{
		{"team", "alice", true},
		{"team", "bob", true},
		{"team", "carol", false},
		{"lobby", "carol", true},
		{"missing", "alice", false},
	}
	for _, c := range cases {
		if got := reg.CanPost(c.room, c.user); got != c.want {
			t.Errorf("CanPost(%s,%s) = %t, want %t", c.room, c.user, got, c.want)
		}
	}
}

func TestRegistry_DeleteCascade(t *testing.T) {
	reg, listener, eraser := newTestRegistry()
	_, _ = reg.Create("team", "alice", true, "x")
	_, _ = reg.Create("lobby", "bob", false, "")

	if err := reg.Delete("team", "bob"); !errors.Is(err, types.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
	if err := reg.Delete("missing", "alice"); !errors.Is(err, types.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	if err := reg.Delete("team", "alice"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, ok := reg.Get("team"); ok {
		t.Error("room still present after delete")
	}
	list := reg.List()
	if len(list) != 1 || list[0].Name != "lobby" {
		t.Errorf("unexpected list after delete %v", list)
	}
	if !reflect.DeepEqual(eraser.erased, []string{"team"}) {
		t.Errorf("history not erased: %v", eraser.erased)
	}
	if !reflect.DeepEqual(listener.deleted, []string{"team"}) {
		t.Errorf("roomDeleted not emitted: %v", listener.deleted)
	}
	last := listener.changes[len(listener.changes)-1]
	if len(last) != 1 || last[0].Name != "lobby" {
		t.Errorf("final rooms_update should list lobby only, got %v", last)
	}
}

func TestRegistry_ListPreservesCreationOrder(t *testing.T) {
	reg, _, _ := newTestRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, _ = reg.Create(name, "alice", false, "")
	}

	var names []string
	for _, r := range reg.List() {
		names = append(names, r.Name)
	}
	if !reflect.DeepEqual(names, []string{"zeta", "alpha", "mid"}) {
		t.Errorf("unexpected order %v", names)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg, _, _ := newTestRegistry()
	_, _ = reg.Create("team", "alice", false, "")

	room, _ := reg.Get("team")
	room.Members[0] = "mallory"

	again, _ := reg.Get("team")
	if again.Members[0] != "alice" {
		t.Error("Get leaked internal member slice")
	}
}
