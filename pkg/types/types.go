package types

// Envelope type tags carried in the "type" field of every frame.
const (
	EnvelopeJoin        = "join"
	EnvelopePublic      = "public"
	EnvelopePrivate     = "private"
	EnvelopeHistory     = "history"
	EnvelopeRoomsUpdate = "rooms_update"
	EnvelopeRoomDeleted = "roomDeleted"
	EnvelopeUserUpdate  = "userUpdate"
	EnvelopeConnected   = "connected"
)

// Media lifecycle markers. A stored status only moves uploading -> sent.
const (
	StatusUploading = "uploading"
	StatusSent      = "sent"
)

// DirectKeySeparator joins the two sorted usernames of a direct chat.
const DirectKeySeparator = "-"

// User is a registered account. Password is an opaque credential compared
// verbatim; it is never serialized to clients.
type User struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// Room is a named public or private chat room.
// ARCHITECTURAL DISCOVERY: Members keeps insertion order with the admin first,
// so rooms_update payloads list members in join order.
type Room struct {
	Name      string   `json:"name"`
	Admin     string   `json:"admin"`
	Members   []string `json:"members"`
	IsPrivate bool     `json:"isPrivate"`
	Password  string   `json:"-"`
}

// Clone returns a deep copy safe to hand out of a lock.
func (r *Room) Clone() Room {
	c := *r
	c.Members = append([]string(nil), r.Members...)
	return c
}

// HasMember reports whether username is in the member list.
func (r *Room) HasMember(username string) bool {
	for _, m := range r.Members {
		if m == username {
			return true
		}
	}
	return false
}

// Envelope is the single wire frame shape for inbound and stored messages.
// Join frames use Username/Room/Recipient; content frames use
// Sender/Recipient/Text/Media/Timestamp/Status.
type Envelope struct {
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	Room      string `json:"room,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Text      string `json:"text,omitempty"`
	Media     string `json:"media,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Status    string `json:"status,omitempty"`
}

// MessageKey is the identity of a stored message within a conversation.
type MessageKey struct {
	Sender    string
	Timestamp string
}

// Key returns the dedup identity of the envelope.
func (e *Envelope) Key() MessageKey {
	return MessageKey{Sender: e.Sender, Timestamp: e.Timestamp}
}

// Content strips join-only fields, leaving what gets stored and fanned out.
func (e Envelope) Content() Envelope {
	e.Username = ""
	e.Room = ""
	if e.Type == EnvelopePublic {
		e.Recipient = ""
	}
	return e
}

// AppendResult describes what AppendHistory did with an envelope.
type AppendResult int

const (
	// Duplicate means the (sender, timestamp) pair was already stored.
	Duplicate AppendResult = iota
	// Appended means the envelope was inserted into the history.
	Appended
	// Upgraded means a stored uploading envelope was promoted to sent.
	Upgraded
)

func (r AppendResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Upgraded:
		return "upgraded"
	default:
		return "duplicate"
	}
}

// SessionState is the per-connection router state.
type SessionState int

const (
	SessionUnjoined SessionState = iota
	SessionJoined
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionJoined:
		return "joined"
	case SessionClosed:
		return "closed"
	default:
		return "unjoined"
	}
}

// Outbound frames.

type HistoryEnvelope struct {
	Type     string     `json:"type"`
	Messages []Envelope `json:"messages"`
}

type RoomsUpdateEnvelope struct {
	Type  string `json:"type"`
	Rooms []Room `json:"rooms"`
}

type RoomDeletedEnvelope struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type UserUpdateEnvelope struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type ConnectedEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewHistory wraps messages in a history frame. A nil slice is sent as [].
func NewHistory(messages []Envelope) HistoryEnvelope {
	if messages == nil {
		messages = []Envelope{}
	}
	return HistoryEnvelope{Type: EnvelopeHistory, Messages: messages}
}

func NewRoomsUpdate(rooms []Room) RoomsUpdateEnvelope {
	if rooms == nil {
		rooms = []Room{}
	}
	return RoomsUpdateEnvelope{Type: EnvelopeRoomsUpdate, Rooms: rooms}
}

func NewRoomDeleted(room string) RoomDeletedEnvelope {
	return RoomDeletedEnvelope{Type: EnvelopeRoomDeleted, Room: room}
}

func NewUserUpdate(users []string) UserUpdateEnvelope {
	if users == nil {
		users = []string{}
	}
	return UserUpdateEnvelope{Type: EnvelopeUserUpdate, Users: users}
}
