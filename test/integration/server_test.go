// Package integration contains end-to-end tests for the messenger server.
//
// These tests run the fully wired server over real HTTP and WebSocket
// connections, backed by in-memory stores.
package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Tyrowin/messenger/internal/chat"
	"github.com/Tyrowin/messenger/internal/server"
	"github.com/Tyrowin/messenger/test/testhelpers"
)

func TestHealthEndpointIntegration(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	for _, path := range []string{"/", "/health"} {
		resp := testhelpers.MakeRequest(t, http.MethodGet, env.HTTP.URL+path, "", "")
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
		testhelpers.AssertContentType(t, resp, "text/plain")
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatalf("Failed to read body: %v", err)
		}
		if string(body) != "messenger is running" {
			t.Errorf("Unexpected health body %q", body)
		}
	}
}

func TestServerTimeouts(t *testing.T) {
	srv := server.CreateServer(":0", http.NewServeMux())
	if srv.ReadTimeout != 15*time.Second || srv.WriteTimeout != 15*time.Second || srv.IdleTimeout != 60*time.Second {
		t.Errorf("Unexpected timeouts: read=%s write=%s idle=%s", srv.ReadTimeout, srv.WriteTimeout, srv.IdleTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Error("Expected a read header timeout")
	}
}

func TestFullServerIntegration(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.AddUser(t, "alice", "secret")
	cookie := env.Login(t, "alice", "secret")

	resp := testhelpers.MakeRequest(t, http.MethodPost, env.HTTP.URL+"/chat", cookie, `{"name":"General"}`)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var room chat.Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		t.Fatalf("Failed to decode room: %v", err)
	}
	_ = resp.Body.Close()
	if !env.Batcher.Tracked(room.ID) {
		t.Fatal("Created room is not tracked by the batcher")
	}

	resp = testhelpers.MakeRequest(t, http.MethodGet, env.HTTP.URL+"/chat", cookie, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")
	var rooms []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("Failed to decode rooms: %v", err)
	}
	_ = resp.Body.Close()
	if len(rooms) != 1 || rooms[0]["_id"] != room.ID {
		t.Fatalf("Unexpected rooms: %v", rooms)
	}
	if messages, ok := rooms[0]["messages"].([]any); !ok || len(messages) != 0 {
		t.Errorf("Expected empty messages array, got %v", rooms[0]["messages"])
	}

	resp = testhelpers.MakeRequest(t, http.MethodGet, env.HTTP.URL+"/profile", cookie, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	resp = testhelpers.MakeRequest(t, http.MethodGet, env.HTTP.URL+"/logout", cookie, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusFound)
	_ = resp.Body.Close()

	resp = testhelpers.MakeRequest(t, http.MethodGet, env.HTTP.URL+"/profile", cookie, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
	_ = resp.Body.Close()
}

func TestRoastEndToEnd(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.AddUser(t, "alice", "secret")
	room := env.AddRoom(t, "General")
	cookie := env.Login(t, "alice", "secret")
	conn := env.MustConnect(t, cookie)

	resp := testhelpers.MakeRequest(t, http.MethodPost, env.HTTP.URL+"/roast", cookie,
		`{"roomId":"`+room.ID+`","targetUsername":"bob","targetMessage":"tabs are better"}`)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	_ = resp.Body.Close()
	if body["text"] != "roasted" {
		t.Errorf("Expected text %q, got %q", "roasted", body["text"])
	}

	msg, err := testhelpers.ReceiveMessage(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to receive AI message: %v", err)
	}
	testhelpers.AssertMessage(t, msg, room.ID, chat.AIUsername, "roasted")
}
