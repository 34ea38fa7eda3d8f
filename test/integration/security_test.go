package integration

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/test/testhelpers"
)

// rawHandshake sends a WebSocket upgrade request over a plain TCP connection
// and returns every byte the server writes before closing.
func rawHandshake(t *testing.T, env *testhelpers.Env, cookie string) []byte {
	t.Helper()
	u, err := url.Parse(env.HTTP.URL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	conn, err := net.DialTimeout("tcp", u.Host, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	var b strings.Builder
	b.WriteString("GET /ws HTTP/1.1\r\n")
	fmt.Fprintf(&b, "Host: %s\r\n", u.Host)
	b.WriteString("Upgrade: websocket\r\nConnection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n")
	fmt.Fprintf(&b, "Origin: %s\r\n", testhelpers.TestOrigin)
	if cookie != "" {
		fmt.Fprintf(&b, "Cookie: %s\r\n", cookie)
	}
	b.WriteString("\r\n")
	if _, err := io.WriteString(conn, b.String()); err != nil {
		t.Fatalf("Failed to write handshake: %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Expected the server to close the connection, got %v", err)
	}
	return data
}

func TestUnauthenticatedHandshakeIsClosedSilently(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	cases := map[string]string{
		"no cookie":       "",
		"unknown token":   session.CookieName + "=not-a-session",
		"other cookie":    "theme=dark",
		"empty value":     session.CookieName + "=",
		"malformed value": session.CookieName + "=%zz",
	}
	for name, cookie := range cases {
		t.Run(name, func(t *testing.T) {
			if data := rawHandshake(t, env, cookie); len(data) != 0 {
				t.Errorf("Expected no bytes before close, got %q", data)
			}
		})
	}
	if n := env.Server.Broker().Len(); n != 0 {
		t.Errorf("Expected no members, have %d", n)
	}
}

func TestAuthenticatedRawHandshakeUpgrades(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.AddUser(t, "alice", "secret")
	cookie := env.Login(t, "alice", "secret")

	u, _ := url.Parse(env.HTTP.URL)
	conn, err := net.DialTimeout("tcp", u.Host, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	req, _ := http.NewRequest(http.MethodGet, env.HTTP.URL+"/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", testhelpers.TestOrigin)
	req.Header.Set("Cookie", cookie)
	if err := req.Write(conn); err != nil {
		t.Fatalf("Failed to write handshake: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		t.Fatalf("Failed to read handshake response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("Expected status %d, got %d", http.StatusSwitchingProtocols, resp.StatusCode)
	}
}

func TestCookieHeaderVariants(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.AddUser(t, "alice", "secret")
	cookie := env.Login(t, "alice", "secret")
	name, token, _ := strings.Cut(cookie, "=")

	encoded := fmt.Sprintf("%%%02X", token[0]) + token[1:]
	variants := map[string]string{
		"among others":   "theme=dark; " + cookie + "; lang=en",
		"url encoded":    name + "=" + encoded,
		"duplicate wins": name + "=stale; " + cookie,
	}
	for label, header := range variants {
		t.Run(label, func(t *testing.T) {
			conn, resp, err := env.ConnectWebSocket(header)
			if resp != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				t.Fatalf("Expected handshake to succeed: %v", err)
			}
			_ = conn.Close()
		})
	}
}

func TestOriginValidationEdgeCases(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.AddUser(t, "alice", "secret")
	cookie := env.Login(t, "alice", "secret")
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}

	cases := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"missing origin", "", false},
		{"malformed origin", "not-a-url", false},
		{"scheme only", "http://", false},
		{"different host", "http://evil.example.com", false},
		{"different port", "http://localhost:9999", false},
		{"upper case", "HTTP://LOCALHOST:8080", true},
		{"exact match", testhelpers.TestOrigin, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			header.Set("Cookie", cookie)
			if tc.origin != "" {
				header.Set("Origin", tc.origin)
			}
			conn, resp, err := dialer.Dial(env.WebSocketURL(), header)
			if resp != nil {
				defer func() { _ = resp.Body.Close() }()
			}
			if tc.ok {
				if err != nil {
					t.Fatalf("Expected origin %q to be allowed: %v", tc.origin, err)
				}
				_ = conn.Close()
				return
			}
			if err == nil {
				_ = conn.Close()
				t.Fatalf("Expected origin %q to be rejected", tc.origin)
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("Expected status %d for origin %q", http.StatusForbidden, tc.origin)
			}
		})
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	for _, path := range []string{"/chat", "/profile", "/chat/abc", "/chat/abc/messages"} {
		resp := testhelpers.MakeRequest(t, http.MethodGet, env.HTTP.URL+path, "", "")
		testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
		_ = resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, env.HTTP.URL+"/profile", nil)
	req.Header.Set("Accept", "text/html")
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	_ = resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusFound)
	if loc := resp.Header.Get("Location"); loc != "/login" {
		t.Errorf("Expected redirect to /login, got %q", loc)
	}
}
