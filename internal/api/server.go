package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chatterbox/internal/media"
	"chatterbox/internal/rooms"
	"chatterbox/pkg/types"
)

// Directory is the user and history side of the directory store.
type Directory interface {
	RegisterUser(username, password string) error
	Authenticate(username, password string) bool
	FindUser(username string) (types.User, bool)
	ListUsers() []string
	GetHistory(conversationID string) []types.Envelope
}

// Rooms is the room registry as seen by HTTP callers. It is the same
// registry the live-connection path uses.
type Rooms interface {
	Create(name, admin string, isPrivate bool, password string) (types.Room, error)
	Delete(name, requester string) error
	Join(name, requester, password string) (types.Room, error)
	Get(name string) (types.Room, bool)
	CanPost(name, requester string) bool
	List() []types.Room
}

type Presence interface {
	IsOnline(username string) bool
}

// Executor runs a mutation on the coordinating goroutine.
type Executor interface {
	Execute(ctx context.Context, fn func()) error
}

type StatsSource interface {
	GetStats() map[string]int
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options wires the server. Executor nil runs mutations inline; Uploads and
// WebSocket nil leave those routes unmounted.
type Options struct {
	Directory     Directory
	Rooms         Rooms
	Presence      Presence
	Executor      Executor
	Stats         StatsSource
	Database      HealthChecker
	Blobs         media.BlobStore
	Uploads       http.Handler
	UploadsPrefix string
	WebSocket     http.Handler
	MaxBodyBytes  int64
}

// Server is the HTTP shell around the chat core.
// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	opts   Options
	router *mux.Router
}

func NewServer(opts Options) *Server {
	if opts.UploadsPrefix == "" {
		opts.UploadsPrefix = "/uploads/"
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS and JSON middleware wrap every API route;
// uploads and the WebSocket endpoint get CORS only.
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)

	api := s.router.NewRoute().Subrouter()
	api.Use(s.jsonMiddleware)

	api.HandleFunc("/register", s.register).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/login", s.login).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/upload", s.upload).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/users", s.listUsers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rooms", s.createRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms", s.deleteRoom).Methods(http.MethodDelete)
	api.HandleFunc("/joinRoom", s.joinRoom).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/messages", s.messages).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)

	if s.opts.Uploads != nil {
		s.router.PathPrefix(s.opts.UploadsPrefix).Handler(s.opts.Uploads).Methods(http.MethodGet, http.MethodHead)
	}
	if s.opts.WebSocket != nil {
		s.router.Handle("/ws", s.opts.WebSocket)
		s.router.Handle("/", s.opts.WebSocket).Headers("Upgrade", "websocket")
	}

	s.router.MethodNotAllowedHandler = s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
	s.router.NotFoundHandler = s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Not found", http.StatusNotFound)
	}))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UploadRequest struct {
	File     string `json:"file"`
	Filename string `json:"filename"`
}

type RoomRequest struct {
	Room      string `json:"room"`
	Username  string `json:"username"`
	IsPrivate bool   `json:"isPrivate"`
	Password  string `json:"password"`
}

type UserStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type MessageResponse struct {
	Message  string      `json:"message"`
	Username string      `json:"username,omitempty"`
	Room     *types.Room `json:"room,omitempty"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Uploads     bool           `json:"uploads"`
}

// ErrorResponse keeps the human message in Error, which is the field
// existing chat clients read.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	var err error
	if execErr := s.execute(r.Context(), func() {
		err = s.opts.Directory.RegisterUser(req.Username, req.Password)
	}); execErr != nil {
		s.sendError(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	log.Printf("User registered: %s", req.Username)
	s.sendJSON(w, http.StatusCreated, MessageResponse{Message: "Registered", Username: req.Username})
}

// login checks credentials only. Presence follows live connections, not
// logins.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.opts.Directory.Authenticate(req.Username, req.Password) {
		s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	s.sendJSON(w, http.StatusOK, MessageResponse{Message: "Logged in", Username: req.Username})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Blobs == nil {
		s.sendError(w, "Uploads disabled", http.StatusNotFound)
		return
	}

	var req UploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.File == "" || req.Filename == "" {
		s.sendError(w, "Missing file data", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.File)
	if err != nil {
		s.sendError(w, "Invalid file encoding", http.StatusBadRequest)
		return
	}

	url, err := s.opts.Blobs.Put(r.Context(), req.Filename, data)
	if err != nil {
		log.Printf("Upload of %q failed: %v", req.Filename, err)
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	names := s.opts.Directory.ListUsers()
	users := make([]UserStatus, 0, len(names))
	for _, name := range names {
		users = append(users, UserStatus{Username: name, Online: s.opts.Presence.IsOnline(name)})
	}
	s.sendJSON(w, http.StatusOK, users)
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.opts.Rooms.List())
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, ok := s.opts.Directory.FindUser(req.Username); !ok {
		s.sendFailure(w, types.ErrUnknownUser)
		return
	}

	var (
		room types.Room
		err  error
	)
	if execErr := s.execute(r.Context(), func() {
		room, err = s.opts.Rooms.Create(req.Room, req.Username, req.IsPrivate, req.Password)
	}); execErr != nil {
		s.sendError(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, MessageResponse{Message: "Room created", Room: &room})
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if !s.decode(w, r, &req) {
		return
	}

	var err error
	if execErr := s.execute(r.Context(), func() {
		err = s.opts.Rooms.Delete(req.Room, req.Username)
	}); execErr != nil {
		s.sendError(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, MessageResponse{Message: "Room deleted"})
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, ok := s.opts.Directory.FindUser(req.Username); !ok {
		s.sendFailure(w, types.ErrUnknownUser)
		return
	}

	var err error
	if execErr := s.execute(r.Context(), func() {
		_, err = s.opts.Rooms.Join(req.Room, req.Username, req.Password)
	}); execErr != nil {
		s.sendError(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// messages returns a conversation's history.
// FUNCTIONAL DISCOVERY: The same membership rule as the live path applies
// here, so a private room's history is never readable by outsiders.
func (s *Server) messages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := q.Get("username")
	room := q.Get("room")
	recipient := q.Get("recipient")

	if username == "" || (room == "") == (recipient == "") {
		s.sendError(w, "username and exactly one of room or recipient are required", http.StatusBadRequest)
		return
	}
	if _, ok := s.opts.Directory.FindUser(username); !ok {
		s.sendFailure(w, types.ErrUnknownUser)
		return
	}

	var conversationID string
	if recipient != "" {
		if _, ok := s.opts.Directory.FindUser(recipient); !ok {
			s.sendFailure(w, types.ErrUnknownUser)
			return
		}
		conversationID = types.DirectKey(username, recipient)
	} else {
		if _, ok := s.opts.Rooms.Get(room); !ok {
			s.sendFailure(w, types.ErrRoomNotFound)
			return
		}
		if !s.opts.Rooms.CanPost(room, username) {
			s.sendFailure(w, types.ErrAccessDenied)
			return
		}
		conversationID = room
	}

	s.sendJSON(w, http.StatusOK, s.opts.Directory.GetHistory(conversationID))
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.opts.Database != nil {
		if err := s.opts.Database.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	} else {
		dbStatus = "disabled"
	}

	stats := map[string]int{}
	if s.opts.Stats != nil {
		stats = s.opts.Stats.GetStats()
	}

	uploads := false
	if d, ok := s.opts.Blobs.(interface{ DirExists() bool }); ok {
		uploads = d.DirExists()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: stats,
		Uploads:     uploads,
	})
}

func (s *Server) execute(ctx context.Context, fn func()) error {
	if s.opts.Executor == nil {
		fn()
		return nil
	}
	return s.opts.Executor.Execute(ctx, fn)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if s.opts.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors to a status code and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalidCredentials):
		return http.StatusBadRequest, "Invalid credentials"
	case errors.Is(err, types.ErrDuplicateUser):
		return http.StatusBadRequest, "Username exists"
	case errors.Is(err, types.ErrUnknownUser):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, types.ErrDuplicateRoom):
		return http.StatusBadRequest, "Room exists"
	case errors.Is(err, types.ErrRoomNotFound):
		return http.StatusNotFound, "Room not found"
	case errors.Is(err, types.ErrNotAuthorized):
		return http.StatusForbidden, "Only the room admin can delete this room"
	case errors.Is(err, types.ErrIncorrectPassword):
		return http.StatusUnauthorized, "Incorrect password"
	case errors.Is(err, types.ErrAccessDenied):
		return http.StatusForbidden, "Access denied"
	case errors.Is(err, rooms.ErrInvalidRoomName),
		errors.Is(err, rooms.ErrInvalidAdmin),
		errors.Is(err, rooms.ErrPasswordRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, media.ErrEmptyFile):
		return http.StatusBadRequest, "Missing file data"
	case errors.Is(err, media.ErrInvalidFilename):
		return http.StatusBadRequest, "Invalid filename"
	case errors.Is(err, media.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	code, message := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}
	s.sendError(w, message, code)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web and mobile client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
