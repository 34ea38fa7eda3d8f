// Package testhelpers provides common utilities for the messenger integration
// tests: a fully wired server backed by in-memory stores, login and dial
// helpers, and response assertions.
package testhelpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/messenger/internal/auth"
	"github.com/Tyrowin/messenger/internal/chat"
	"github.com/Tyrowin/messenger/internal/conversation"
	"github.com/Tyrowin/messenger/internal/logging"
	"github.com/Tyrowin/messenger/internal/responder"
	"github.com/Tyrowin/messenger/internal/server"
	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/storage"
)

// TestOrigin is the Origin header sent by ConnectWebSocket and allowed by
// every Env.
const TestOrigin = "http://localhost:8080"

// Env is a running messenger wired to in-memory backends.
type Env struct {
	Config   server.Config
	Server   *server.Server
	HTTP     *httptest.Server
	Store    *storage.Guarded
	Sessions *session.MemoryStore
	Batcher  *conversation.Batcher

	closed bool
}

// NewEnv starts a server. customize may adjust the configuration first.
func NewEnv(t *testing.T, customize func(cfg *server.Config)) *Env {
	t.Helper()
	log := logging.Discard()

	cfg := server.DefaultConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	if customize != nil {
		customize(&cfg)
	}

	store, err := storage.Open(storage.OpenConfig{Driver: storage.DriverBadger, Guard: cfg.Storage().Guard}, log)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	env := &Env{
		Config:   cfg,
		Store:    store,
		Sessions: session.NewMemoryStore(log),
		Batcher:  conversation.NewBatcher(store, cfg.Batcher(), log),
	}
	env.Server = server.New(server.Deps{
		Config:   cfg,
		Log:      log,
		Sessions: env.Sessions,
		Users:    store,
		Store:    store,
		Buffers:  env.Batcher,
		Responders: map[string]responder.Responder{
			server.ResponderRoast: &responder.Command{Name: server.ResponderRoast, Path: "sh", Args: []string{"-c", "echo roasted"}},
		},
	})
	env.Server.Start()
	env.HTTP = httptest.NewServer(env.Server.Handler())

	t.Cleanup(func() { env.Shutdown(t) })
	return env
}

// Shutdown stops the server, flushes the batcher, and closes the stores. It
// is safe to call more than once.
func (e *Env) Shutdown(t *testing.T) {
	t.Helper()
	if e.closed {
		return
	}
	e.closed = true

	e.HTTP.Close()
	if err := e.Server.Shutdown(2 * time.Second); err != nil {
		t.Errorf("Broker shutdown failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Batcher.Close(ctx); err != nil {
		t.Errorf("Batcher close failed: %v", err)
	}
	_ = e.Sessions.Close()
	_ = e.Store.Close()
}

// AddUser stores a user with an Argon2id hash of password.
func (e *Env) AddUser(t *testing.T, username, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if err := e.Store.AddUser(context.Background(), storage.User{Username: username, PasswordHash: hash}); err != nil {
		t.Fatalf("Failed to add user %s: %v", username, err)
	}
}

// AddRoom creates a room and tracks it in the batcher.
func (e *Env) AddRoom(t *testing.T, name string) chat.Room {
	t.Helper()
	room, err := e.Store.AddRoom(context.Background(), chat.Room{Name: name})
	if err != nil {
		t.Fatalf("Failed to add room %s: %v", name, err)
	}
	e.Batcher.Track(room.ID)
	return room
}

// Login posts the login form and returns the Cookie header for the session.
func (e *Env) Login(t *testing.T, username, password string) string {
	t.Helper()
	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.PostForm(e.HTTP.URL+"/login", url.Values{"username": {username}, "password": {password}})
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			return c.Name + "=" + c.Value
		}
	}
	t.Fatalf("Login as %s did not set a session cookie (status %d)", username, resp.StatusCode)
	return ""
}

// WebSocketURL returns the ws:// URL of the server's /ws endpoint with the
// given room subscriptions.
func (e *Env) WebSocketURL(rooms ...string) string {
	u, _ := url.Parse(e.HTTP.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if len(rooms) > 0 {
		q := url.Values{"room": rooms}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// ConnectWebSocket dials the server with the given Cookie header.
func (e *Env) ConnectWebSocket(cookie string, rooms ...string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)
	if cookie != "" {
		headers.Set("Cookie", cookie)
	}
	return dialer.Dial(e.WebSocketURL(rooms...), headers)
}

// MustConnect dials and registers a connection, failing the test otherwise.
func (e *Env) MustConnect(t *testing.T, cookie string, rooms ...string) *websocket.Conn {
	t.Helper()
	want := e.Server.Broker().Len() + 1
	conn, resp, err := e.ConnectWebSocket(cookie, rooms...)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	e.WaitForMembers(t, want)
	return conn
}

// WaitForMembers blocks until the broker has n live members.
func (e *Env) WaitForMembers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Server.Broker().Len() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d live members, have %d", n, e.Server.Broker().Len())
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest executes a request with an optional Cookie header and JSON body
// and does not follow redirects.
func MakeRequest(t *testing.T, method, url, cookie, body string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// SendMessage sends a chat message for roomID.
func SendMessage(conn *websocket.Conn, roomID, text string) error {
	return conn.WriteJSON(chat.Inbound{RoomID: roomID, Text: &text})
}

// SendRawMessage sends a raw byte message over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// ReceiveMessage reads one broadcast within timeout.
func ReceiveMessage(conn *websocket.Conn, timeout time.Duration) (chat.Message, error) {
	var msg chat.Message
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return msg, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(raw, &msg)
	return msg, err
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// AssertMessage checks every field of a received broadcast.
func AssertMessage(t *testing.T, msg chat.Message, roomID, username, text string) {
	t.Helper()
	if msg.RoomID != roomID || msg.Username != username || msg.Text != text {
		t.Errorf("Expected {%s %s %q}, got {%s %s %q}", roomID, username, text, msg.RoomID, msg.Username, msg.Text)
	}
}
