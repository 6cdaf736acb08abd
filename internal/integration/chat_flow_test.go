package integration

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"testing"
	"time"

	"chatterbox/pkg/types"
)

// TestChat_RoomConversation walks two users through a shared public room
// from creation to deletion.
func TestChat_RoomConversation(t *testing.T) {
	srv := startServer(t, t.TempDir())
	srv.register(t, "alice", "bob")
	srv.mustDo(t, http.MethodPost, "/rooms", map[string]interface{}{"room": "team", "username": "alice"}, http.StatusCreated)

	alice := srv.dial(t)
	if history := alice.join(t, "alice", "team", ""); len(history) != 0 {
		t.Fatalf("Expected empty history, got %d messages", len(history))
	}
	if users := alice.expect(t, types.EnvelopeUserUpdate).Users; !reflect.DeepEqual(users, []string{"alice"}) {
		t.Errorf("Expected [alice] online, got %v", users)
	}

	bob := srv.dial(t)
	bob.join(t, "bob", "team", "")
	if users := bob.expect(t, types.EnvelopeUserUpdate).Users; !reflect.DeepEqual(users, []string{"alice", "bob"}) {
		t.Errorf("Expected [alice bob] online, got %v", users)
	}
	alice.await(t, types.EnvelopeUserUpdate)

	msg := types.Envelope{Type: types.EnvelopePublic, Sender: "alice", Text: "hi team", Timestamp: stamp(1)}
	alice.send(t, msg)
	for name, c := range map[string]*chatClient{"alice": alice, "bob": bob} {
		got := c.await(t, types.EnvelopePublic)
		if got.Text != "hi team" || got.Sender != "alice" {
			t.Errorf("%s received unexpected message: %+v", name, got.Envelope)
		}
	}

	// A resend with the same sender and timestamp is dropped.
	alice.send(t, msg)
	bob.quiet(t, types.EnvelopePublic, 300*time.Millisecond)

	history := srv.history(t, url.Values{"username": {"bob"}, "room": {"team"}})
	if len(history) != 1 || history[0].Text != "hi team" {
		t.Fatalf("Expected one stored message, got %+v", history)
	}

	srv.mustDo(t, http.MethodDelete, "/rooms", map[string]string{"room": "team", "username": "bob"}, http.StatusForbidden)
	srv.mustDo(t, http.MethodDelete, "/rooms", map[string]string{"room": "team", "username": "alice"}, http.StatusOK)

	if deleted := bob.await(t, types.EnvelopeRoomDeleted); deleted.Room != "team" {
		t.Errorf("Expected roomDeleted for team, got %q", deleted.Room)
	}
	if rooms := bob.expect(t, types.EnvelopeRoomsUpdate).Rooms; len(rooms) != 0 {
		t.Errorf("Expected no rooms after deletion, got %v", rooms)
	}

	status, _ := srv.do(t, http.MethodGet, "/messages?"+url.Values{"username": {"bob"}, "room": {"team"}}.Encode(), nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for deleted room history, got %d", status)
	}
}

// TestChat_PrivateToOfflineUser checks that a direct message sent while the
// recipient is away shows up in their history when they open the chat.
func TestChat_PrivateToOfflineUser(t *testing.T) {
	srv := startServer(t, t.TempDir())
	srv.register(t, "alice", "carol")

	alice := srv.dial(t)
	alice.join(t, "alice", "", "carol")
	alice.expect(t, types.EnvelopeUserUpdate)

	alice.send(t, types.Envelope{
		Type:      types.EnvelopePrivate,
		Sender:    "alice",
		Recipient: "carol",
		Text:      "hello carol",
		Timestamp: stamp(1),
	})
	if echo := alice.await(t, types.EnvelopePrivate); echo.Text != "hello carol" {
		t.Errorf("Sender should receive its own message, got %+v", echo.Envelope)
	}

	carol := srv.dial(t)
	history := carol.join(t, "carol", "", "alice")
	if len(history) != 1 || history[0].Sender != "alice" || history[0].Text != "hello carol" {
		t.Fatalf("Expected alice's message in carol's history, got %+v", history)
	}
	if users := carol.expect(t, types.EnvelopeUserUpdate).Users; !reflect.DeepEqual(users, []string{"alice", "carol"}) {
		t.Errorf("Expected [alice carol] online, got %v", users)
	}

	stored := srv.history(t, url.Values{"username": {"alice"}, "recipient": {"carol"}})
	if len(stored) != 1 {
		t.Errorf("Expected one direct message via HTTP, got %d", len(stored))
	}
}

// TestChat_PresenceFollowsLastSession keeps a user online until their last
// joined tab closes.
func TestChat_PresenceFollowsLastSession(t *testing.T) {
	srv := startServer(t, t.TempDir())
	srv.register(t, "alice", "bob")
	srv.mustDo(t, http.MethodPost, "/rooms", map[string]interface{}{"room": "lobby", "username": "bob"}, http.StatusCreated)

	bob := srv.dial(t)
	bob.join(t, "bob", "lobby", "")
	bob.expect(t, types.EnvelopeUserUpdate)

	tab1 := srv.dial(t)
	tab1.join(t, "alice", "lobby", "")
	bob.await(t, types.EnvelopeUserUpdate)

	tab2 := srv.dial(t)
	tab2.join(t, "alice", "lobby", "")
	bob.await(t, types.EnvelopeUserUpdate)

	_ = tab1.conn.Close()
	bob.quiet(t, types.EnvelopeUserUpdate, 300*time.Millisecond)

	_ = tab2.conn.Close()
	if users := bob.await(t, types.EnvelopeUserUpdate).Users; !reflect.DeepEqual(users, []string{"bob"}) {
		t.Errorf("Expected only bob online, got %v", users)
	}

	var statuses []struct {
		Username string `json:"username"`
		Online   bool   `json:"online"`
	}
	if err := json.Unmarshal(srv.mustDo(t, http.MethodGet, "/users", nil, http.StatusOK), &statuses); err != nil {
		t.Fatalf("Failed to decode users: %v", err)
	}
	for _, s := range statuses {
		if want := s.Username == "bob"; s.Online != want {
			t.Errorf("User %s online=%t, want %t", s.Username, s.Online, want)
		}
	}
}

// TestChat_PrivateRoomRequiresMembership rejects a live join until the user
// has joined the room over HTTP with the password.
func TestChat_PrivateRoomRequiresMembership(t *testing.T) {
	srv := startServer(t, t.TempDir())
	srv.register(t, "alice", "bob")
	srv.mustDo(t, http.MethodPost, "/rooms", map[string]interface{}{
		"room": "secret", "username": "alice", "isPrivate": true, "password": "s3cret",
	}, http.StatusCreated)

	bob := srv.dial(t)
	bob.send(t, types.Envelope{Type: types.EnvelopeJoin, Username: "bob", Room: "secret"})
	bob.quiet(t, types.EnvelopeHistory, 300*time.Millisecond)

	srv.mustDo(t, http.MethodPost, "/joinRoom", map[string]string{"room": "secret", "username": "bob", "password": "nope"}, http.StatusUnauthorized)
	srv.mustDo(t, http.MethodPost, "/joinRoom", map[string]string{"room": "secret", "username": "bob", "password": "s3cret"}, http.StatusOK)

	bob.join(t, "bob", "secret", "")
	bob.expect(t, types.EnvelopeUserUpdate)

	var rooms []map[string]interface{}
	if err := json.Unmarshal(srv.mustDo(t, http.MethodGet, "/rooms", nil, http.StatusOK), &rooms); err != nil {
		t.Fatalf("Failed to decode rooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("Expected one room, got %d", len(rooms))
	}
	if _, leaked := rooms[0]["password"]; leaked {
		t.Error("Room password must not be exposed")
	}
}

// TestChat_MediaUploadFlow uploads a file, posts it as uploading, then
// confirms it as sent under the same timestamp.
func TestChat_MediaUploadFlow(t *testing.T) {
	srv := startServer(t, t.TempDir())
	srv.register(t, "alice", "bob")
	srv.mustDo(t, http.MethodPost, "/rooms", map[string]interface{}{"room": "pics", "username": "alice"}, http.StatusCreated)

	payload := []byte("not really a png")
	var uploaded struct {
		URL string `json:"url"`
	}
	data := srv.mustDo(t, http.MethodPost, "/upload", map[string]string{
		"file":     base64.StdEncoding.EncodeToString(payload),
		"filename": "cat.png",
	}, http.StatusOK)
	if err := json.Unmarshal(data, &uploaded); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}

	resp, err := http.Get(srv.baseURL + uploaded.URL)
	if err != nil {
		t.Fatalf("Failed to fetch upload: %v", err)
	}
	served, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(served) != string(payload) {
		t.Fatalf("Upload not served back: status=%d body=%q", resp.StatusCode, served)
	}

	alice := srv.dial(t)
	alice.join(t, "alice", "pics", "")
	bob := srv.dial(t)
	bob.join(t, "bob", "pics", "")

	pending := types.Envelope{Type: types.EnvelopePublic, Sender: "alice", Media: uploaded.URL, Timestamp: stamp(5), Status: types.StatusUploading}
	alice.send(t, pending)
	if got := bob.await(t, types.EnvelopePublic); got.Status != types.StatusUploading {
		t.Errorf("Expected uploading status, got %q", got.Status)
	}

	sent := pending
	sent.Status = types.StatusSent
	alice.send(t, sent)
	if got := bob.await(t, types.EnvelopePublic); got.Status != types.StatusSent || got.Media != uploaded.URL {
		t.Errorf("Expected sent media message, got %+v", got.Envelope)
	}

	history := srv.history(t, url.Values{"username": {"bob"}, "room": {"pics"}})
	if len(history) != 1 || history[0].Status != types.StatusSent {
		t.Errorf("Expected one sent media message in history, got %+v", history)
	}
}

// TestChat_StateSurvivesRestart reopens the same data directory and expects
// users, rooms and history back.
func TestChat_StateSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()

	first := startServer(t, dataDir)
	first.register(t, "alice")
	first.mustDo(t, http.MethodPost, "/rooms", map[string]interface{}{"room": "team", "username": "alice"}, http.StatusCreated)

	alice := first.dial(t)
	alice.join(t, "alice", "team", "")
	alice.send(t, types.Envelope{Type: types.EnvelopePublic, Sender: "alice", Text: "remember me", Timestamp: stamp(9)})
	alice.await(t, types.EnvelopePublic)
	first.stop(t)

	second := startServer(t, dataDir)
	second.mustDo(t, http.MethodPost, "/login", map[string]string{"username": "alice", "password": "alice-pw"}, http.StatusOK)

	var rooms []types.Room
	if err := json.Unmarshal(second.mustDo(t, http.MethodGet, "/rooms", nil, http.StatusOK), &rooms); err != nil {
		t.Fatalf("Failed to decode rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "team" || rooms[0].Admin != "alice" {
		t.Fatalf("Expected team room after restart, got %+v", rooms)
	}

	history := second.history(t, url.Values{"username": {"alice"}, "room": {"team"}})
	if len(history) != 1 || history[0].Text != "remember me" {
		t.Errorf("Expected history after restart, got %+v", history)
	}
}

func TestChat_HealthReportsConnections(t *testing.T) {
	srv := startServer(t, t.TempDir())
	srv.register(t, "alice")
	srv.mustDo(t, http.MethodPost, "/rooms", map[string]interface{}{"room": "team", "username": "alice"}, http.StatusCreated)

	alice := srv.dial(t)
	alice.join(t, "alice", "team", "")

	var health struct {
		Status      string         `json:"status"`
		Connections map[string]int `json:"connections"`
		Uploads     bool           `json:"uploads"`
	}
	if err := json.Unmarshal(srv.mustDo(t, http.MethodGet, "/health", nil, http.StatusOK), &health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Status != "healthy" || !health.Uploads {
		t.Errorf("Unexpected health: %+v", health)
	}
	if health.Connections["joined_connections"] != 1 {
		t.Errorf("Expected one joined connection, got %v", health.Connections)
	}
}
