package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/Tyrowin/messenger/internal/auth"
	"github.com/Tyrowin/messenger/internal/chat"
	"github.com/Tyrowin/messenger/internal/metrics"
	"github.com/Tyrowin/messenger/internal/responder"
	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/storage"
)

// Responder names served under POST /{name}.
const (
	ResponderRoast     = "roast"
	ResponderFactcheck = "factcheck"
)

// RoomBuffers is the view of the conversation batcher the handlers need.
type RoomBuffers interface {
	Track(roomID string)
	Pending(roomID string) []chat.Entry
}

// RoomConversations is the slice of storage the chat routes read and write.
type RoomConversations interface {
	storage.RoomStore
	storage.ConversationStore
}

// Handlers serves the HTTP and WebSocket surface.
type Handlers struct {
	cfg        Config
	log        *slog.Logger
	gate       *auth.Gate
	auth       *auth.Authenticator
	store      RoomConversations
	buffers    RoomBuffers
	broker     *Broker
	responders map[string]responder.Responder
	upgrader   websocket.Upgrader
	now        func() time.Time
}

type roomWithMessages struct {
	ID       string       `json:"_id"`
	Name     string       `json:"name"`
	Image    string       `json:"image"`
	Messages []chat.Entry `json:"messages"`
}

type newRoomRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type responderRequest struct {
	RoomID         string `json:"roomId"`
	TargetUsername string `json:"targetUsername"`
	TargetMessage  string `json:"targetMessage"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("error writing json response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "messenger is running")
}

// WebSocket authenticates the handshake and, on success, upgrades the
// connection and registers it with the broker. Rejected handshakes are
// closed without a response.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	username, ok := h.gate.Authenticate(r.Context(), r.Header)
	if !ok {
		metrics.HandshakesTotal.WithLabelValues("rejected").Inc()
		h.log.Info("rejected websocket handshake", slog.String("remote_addr", r.RemoteAddr))
		h.rejectConnection(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues("failed").Inc()
		h.log.Warn("websocket upgrade failed", slog.String("remote_addr", r.RemoteAddr), slog.String("error", err.Error()))
		return
	}
	metrics.HandshakesTotal.WithLabelValues("accepted").Inc()

	client := NewClient(conn, h.broker, username, r.RemoteAddr, ClientOptions{
		MaxMessageSize: h.cfg.MaxMessageSize,
		RateLimit:      h.cfg.RateLimit(),
		Rooms:          r.URL.Query()["room"],
	}, h.log)

	if !h.broker.Register(client) {
		_ = conn.Close()
	}
}

// rejectConnection drops the underlying TCP connection so the peer sees the
// socket close without any HTTP status or WebSocket frame.
func (h *Handlers) rejectConnection(w http.ResponseWriter) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		h.log.Debug("cannot hijack rejected handshake", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_ = conn.Close()
}

// Login checks the form credentials and starts a session.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	s, err := h.auth.Login(r.Context(), auth.Credentials{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	})
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Error("error during login", slog.String("error", err.Error()))
		}
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	session.SetCookie(w, s)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout destroys the caller's session and clears the cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := auth.TokenFromHeader(r.Header); ok {
		if err := h.auth.Logout(r.Context(), token); err != nil {
			h.log.Warn("error destroying session", slog.String("error", err.Error()))
		}
	}
	session.ClearCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// Profile returns the caller's username.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": usernameFrom(r.Context())})
}

// ListChats returns every room with its messages not yet flushed.
func (h *Handlers) ListChats(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		h.log.Error("failed to get rooms from store", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to get chat rooms")
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(rooms, func(room chat.Room, _ int) roomWithMessages {
		return roomWithMessages{
			ID:       room.ID,
			Name:     room.Name,
			Image:    room.Image,
			Messages: h.buffers.Pending(room.ID),
		}
	}))
}

// CreateChat adds a room and starts buffering its messages.
func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req newRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Room name is required")
		return
	}

	room, err := h.store.AddRoom(r.Context(), chat.Room{Name: req.Name, Image: req.Image})
	if err != nil {
		h.log.Error("failed to add room", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to add room")
		return
	}

	h.buffers.Track(room.ID)
	writeJSON(w, http.StatusOK, room)
}

// GetChat returns one room.
func (h *Handlers) GetChat(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	room, err := h.store.GetRoom(r.Context(), roomID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Room %s was not found", roomID))
	case err != nil:
		h.log.Error("failed to get room from store", slog.String("room_id", roomID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to get room")
	default:
		writeJSON(w, http.StatusOK, room)
	}
}

// Messages returns the most recent conversation block before the "before"
// query parameter, in epoch milliseconds, defaulting to now.
func (h *Handlers) Messages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	before := h.now()
	if ms, err := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64); err == nil && ms != 0 {
		before = time.UnixMilli(ms)
	}

	block, err := h.store.LastConversationBefore(r.Context(), roomID, before)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "No conversation found")
	case err != nil:
		h.log.Error("failed to get last conversation", slog.String("room_id", roomID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to get conversation")
	default:
		writeJSON(w, http.StatusOK, block)
	}
}

// Respond returns a handler that runs the named responder and injects its
// output into the room as a message from the AI user.
func (h *Handlers) Respond(name string) http.HandlerFunc {
	failure := fmt.Sprintf("Failed to generate %s message", name)

	return func(w http.ResponseWriter, r *http.Request) {
		gen, ok := h.responders[name]
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Responder %s is not configured", name))
			return
		}

		var req responderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
			writeError(w, http.StatusBadRequest, "roomId is required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ResponderTimeout)
		defer cancel()

		text, err := gen.Respond(ctx, responder.Request{
			TargetUsername: chat.Sanitize(req.TargetUsername),
			TargetMessage:  chat.Sanitize(req.TargetMessage),
		})
		if err != nil {
			h.log.Error("responder failed", slog.String("responder", name), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, failure)
			return
		}

		if err := h.broker.Inject(chat.NewMessage(req.RoomID, chat.AIUsername, text, h.now())); err != nil {
			h.log.Warn("failed to inject responder message", slog.String("room_id", req.RoomID), slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusOK, map[string]string{"text": text})
	}
}
