package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/messenger/internal/server"
	"github.com/Tyrowin/messenger/test/testhelpers"
)

// readTexts reads n broadcasts from conn and returns their texts.
func readTexts(t *testing.T, conn *websocket.Conn, n int) map[string]bool {
	t.Helper()
	texts := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		msg, err := testhelpers.ReceiveMessage(conn, 2*time.Second)
		if err != nil {
			t.Fatalf("Expected %d messages, read %d: %v", n, i, err)
		}
		texts[msg.Text] = true
	}
	return texts
}

func TestMultipleClientsMessageExchange(t *testing.T) {
	const numClients = 5

	env := testhelpers.NewEnv(t, nil)
	room := env.AddRoom(t, "General")
	connections := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		username := fmt.Sprintf("user%d", i)
		env.AddUser(t, username, "pw")
		connections = append(connections, env.MustConnect(t, env.Login(t, username, "pw")))
	}

	for i, conn := range connections {
		if err := testhelpers.SendMessage(conn, room.ID, fmt.Sprintf("hello from %d", i)); err != nil {
			t.Fatalf("Client %d failed to send: %v", i, err)
		}
	}

	for i, conn := range connections {
		texts := readTexts(t, conn, numClients)
		for j := 0; j < numClients; j++ {
			if !texts[fmt.Sprintf("hello from %d", j)] {
				t.Errorf("Client %d did not receive message from client %d", i, j)
			}
		}
	}
}

func TestMultipleClientsConcurrentOperations(t *testing.T) {
	const numClients, perClient = 4, 3

	env := testhelpers.NewEnv(t, nil)
	env.AddUser(t, "alice", "secret")
	room := env.AddRoom(t, "General")
	cookie := env.Login(t, "alice", "secret")

	connections := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		connections = append(connections, env.MustConnect(t, cookie))
	}

	var wg sync.WaitGroup
	errs := make(chan error, numClients*perClient)
	for i, conn := range connections {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				if err := testhelpers.SendMessage(conn, room.ID, fmt.Sprintf("%d-%d", i, j)); err != nil {
					errs <- err
				}
			}
		}(i, conn)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Send failed: %v", err)
	}

	for i, conn := range connections {
		if texts := readTexts(t, conn, numClients*perClient); len(texts) != numClients*perClient {
			t.Errorf("Client %d received %d distinct messages, want %d", i, len(texts), numClients*perClient)
		}
	}
}

func TestMultipleClientsDynamicJoiningAndLeaving(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.AddUser(t, "alice", "secret")
	room := env.AddRoom(t, "General")
	cookie := env.Login(t, "alice", "secret")

	first := env.MustConnect(t, cookie)
	second := env.MustConnect(t, cookie)

	if err := testhelpers.CloseWebSocket(second); err != nil {
		t.Fatalf("Failed to close second client: %v", err)
	}
	env.WaitForMembers(t, 1)

	third := env.MustConnect(t, cookie)
	if err := testhelpers.SendMessage(third, room.ID, "after churn"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	for name, conn := range map[string]*websocket.Conn{"first": first, "third": third} {
		msg, err := testhelpers.ReceiveMessage(conn, 2*time.Second)
		if err != nil {
			t.Fatalf("%s client did not receive: %v", name, err)
		}
		testhelpers.AssertMessage(t, msg, room.ID, "alice", "after churn")
	}
}

func TestMultipleClientsRoomScope(t *testing.T) {
	env := testhelpers.NewEnv(t, func(cfg *server.Config) {
		cfg.BroadcastScope = string(server.ScopeRoom)
	})
	env.AddUser(t, "alice", "secret")
	general := env.AddRoom(t, "General")
	random := env.AddRoom(t, "Random")
	cookie := env.Login(t, "alice", "secret")

	inGeneral := env.MustConnect(t, cookie, general.ID)
	inRandom := env.MustConnect(t, cookie, random.ID)
	sender := env.MustConnect(t, cookie)

	if err := testhelpers.SendMessage(sender, general.ID, "general only"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	msg, err := testhelpers.ReceiveMessage(inGeneral, 2*time.Second)
	if err != nil {
		t.Fatalf("Subscriber did not receive: %v", err)
	}
	testhelpers.AssertMessage(t, msg, general.ID, "alice", "general only")

	msg, err = testhelpers.ReceiveMessage(sender, 2*time.Second)
	if err != nil {
		t.Fatalf("Sender was not subscribed by posting: %v", err)
	}
	testhelpers.AssertMessage(t, msg, general.ID, "alice", "general only")

	expectNoMessage(t, inRandom, 200*time.Millisecond)
}
