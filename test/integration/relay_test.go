// Package integration contains integration tests for the RoomRelay server.
//
// These tests verify that multiple components work together correctly by testing
// the complete system behavior with real HTTP servers, WebSocket connections,
// and end-to-end protocol exchanges. Integration tests ensure that the system
// works as expected when all components are assembled together.
package integration

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/test/testhelpers"
	"github.com/gorilla/websocket"
)

const frameTimeout = 2 * time.Second

// startRelay spins up a full relay (registry, hub, routes, HTTP server) and
// returns the hub together with the test server and the WebSocket URL.
func startRelay(t *testing.T) (*server.Hub, *httptest.Server, string) {
	t.Helper()

	hub := server.NewHub(server.NewRegistry())
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	testServer := testhelpers.CreateTestServer(server.SetupRoutes(hub))
	t.Cleanup(testServer.Close)

	configureRelayForTest(t, testServer.URL, nil)

	return hub, testServer, buildWebSocketURL(t, testServer.URL)
}

func buildWebSocketURL(t *testing.T, serverURL string) string {
	t.Helper()

	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

func configureRelayForTest(t *testing.T, baseURL string, customize func(cfg *server.Config)) {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{baseURL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() {
		server.SetConfig(nil)
	})
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dialRelay connects to the relay with the server's own URL as Origin and
// registers cleanup for the connection.
func dialRelay(t *testing.T, wsURL, serverURL string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, newOriginHeader(serverURL))
	if err != nil {
		t.Fatalf("Failed to connect to relay: %v", err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if conn == nil {
		t.Fatalf("nil connection provided to expectNoMessage")
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %q", payload)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// TestCreateJoinChatScenario walks the canonical relay exchange: one client
// creates a room, a second joins it, and a chat from the second lands on
// both with the correct sender labels.
func TestCreateJoinChatScenario(t *testing.T) {
	_, testServer, wsURL := startRelay(t)

	creator := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendCreate(creator, "abc"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	frame := testhelpers.ReceiveFrame(t, creator, frameTimeout)
	testhelpers.AssertResponseFrame(t, frame, "success", `Room "abc" created.`)

	guest := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendJoin(guest, "abc"); err != nil {
		t.Fatalf("Failed to send join: %v", err)
	}
	frame = testhelpers.ReceiveFrame(t, guest, frameTimeout)
	testhelpers.AssertResponseFrame(t, frame, "joined", "Joined room abc")

	if err := testhelpers.SendChat(guest, "hi"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}

	echo := testhelpers.ReceiveFrame(t, guest, frameTimeout)
	testhelpers.AssertChatFrame(t, echo, "me", "hi")

	delivered := testhelpers.ReceiveFrame(t, creator, frameTimeout)
	testhelpers.AssertChatFrame(t, delivered, "someone", "hi")
}

// TestCreateRoomValidation covers the error paths of room creation.
func TestCreateRoomValidation(t *testing.T) {
	_, testServer, wsURL := startRelay(t)

	conn := dialRelay(t, wsURL, testServer.URL)

	t.Run("Empty room name", func(t *testing.T) {
		if err := testhelpers.SendCreate(conn, ""); err != nil {
			t.Fatalf("Failed to send create: %v", err)
		}
		frame := testhelpers.ReceiveFrame(t, conn, frameTimeout)
		testhelpers.AssertResponseFrame(t, frame, "error", "Room name cannot be empty.")
	})

	t.Run("Whitespace-only room name", func(t *testing.T) {
		if err := testhelpers.SendCreate(conn, "   "); err != nil {
			t.Fatalf("Failed to send create: %v", err)
		}
		frame := testhelpers.ReceiveFrame(t, conn, frameTimeout)
		testhelpers.AssertResponseFrame(t, frame, "error", "Room name cannot be empty.")
	})

	t.Run("Duplicate room name", func(t *testing.T) {
		if err := testhelpers.SendCreate(conn, "taken"); err != nil {
			t.Fatalf("Failed to send create: %v", err)
		}
		frame := testhelpers.ReceiveFrame(t, conn, frameTimeout)
		testhelpers.AssertResponseFrame(t, frame, "success", `Room "taken" created.`)

		other := dialRelay(t, wsURL, testServer.URL)
		if err := testhelpers.SendCreate(other, "taken"); err != nil {
			t.Fatalf("Failed to send create: %v", err)
		}
		frame = testhelpers.ReceiveFrame(t, other, frameTimeout)
		testhelpers.AssertResponseFrame(t, frame, "error", "Room already exists.")
	})
}

// TestJoinNonexistentRoom verifies that joining an unknown room is rejected
// and leaves the client roomless.
func TestJoinNonexistentRoom(t *testing.T) {
	_, testServer, wsURL := startRelay(t)

	conn := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendJoin(conn, "nowhere"); err != nil {
		t.Fatalf("Failed to send join: %v", err)
	}
	frame := testhelpers.ReceiveFrame(t, conn, frameTimeout)
	testhelpers.AssertResponseFrame(t, frame, "error", "Room does not exist.")

	// Still roomless: a chat is rejected too.
	if err := testhelpers.SendChat(conn, "hello?"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}
	frame = testhelpers.ReceiveFrame(t, conn, frameTimeout)
	testhelpers.AssertResponseFrame(t, frame, "error", "You are not in a room.")
}

// TestChatWithoutRoom verifies that a roomless chat yields exactly one error
// and no broadcast to anyone.
func TestChatWithoutRoom(t *testing.T) {
	_, testServer, wsURL := startRelay(t)

	sender := dialRelay(t, wsURL, testServer.URL)
	bystander := dialRelay(t, wsURL, testServer.URL)

	if err := testhelpers.SendChat(sender, "into the void"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}

	frame := testhelpers.ReceiveFrame(t, sender, frameTimeout)
	testhelpers.AssertResponseFrame(t, frame, "error", "You are not in a room.")

	expectNoMessage(t, sender, 300*time.Millisecond)
	expectNoMessage(t, bystander, 300*time.Millisecond)
}

// TestFanOutLabels verifies the sender labels across a three-member room and
// checks that a connection outside the room receives nothing.
func TestFanOutLabels(t *testing.T) {
	_, testServer, wsURL := startRelay(t)

	sender := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendCreate(sender, "trio"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	testhelpers.ReceiveFrame(t, sender, frameTimeout)

	members := make([]*websocket.Conn, 2)
	for i := range members {
		members[i] = dialRelay(t, wsURL, testServer.URL)
		if err := testhelpers.SendJoin(members[i], "trio"); err != nil {
			t.Fatalf("Failed to send join: %v", err)
		}
		testhelpers.ReceiveFrame(t, members[i], frameTimeout)
	}

	outsider := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendCreate(outsider, "elsewhere"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	testhelpers.ReceiveFrame(t, outsider, frameTimeout)

	if err := testhelpers.SendChat(sender, "to the room"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}

	echo := testhelpers.ReceiveFrame(t, sender, frameTimeout)
	testhelpers.AssertChatFrame(t, echo, "me", "to the room")

	for _, member := range members {
		frame := testhelpers.ReceiveFrame(t, member, frameTimeout)
		testhelpers.AssertChatFrame(t, frame, "someone", "to the room")
	}

	expectNoMessage(t, outsider, 300*time.Millisecond)
	// Exactly one copy each: no stray frames remain.
	expectNoMessage(t, sender, 200*time.Millisecond)
	for _, member := range members {
		expectNoMessage(t, member, 200*time.Millisecond)
	}
}

// TestMalformedMessage verifies the invalid-format error and that prior room
// membership survives bad input.
func TestMalformedMessage(t *testing.T) {
	_, testServer, wsURL := startRelay(t)

	conn := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendCreate(conn, "sturdy"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	testhelpers.ReceiveFrame(t, conn, frameTimeout)

	if err := testhelpers.SendRawMessage(conn, websocket.TextMessage, []byte("certainly not json")); err != nil {
		t.Fatalf("Failed to send raw message: %v", err)
	}
	frame := testhelpers.ReceiveFrame(t, conn, frameTimeout)
	testhelpers.AssertResponseFrame(t, frame, "error", "Invalid message format.")

	// Membership is intact: a chat still echoes back.
	if err := testhelpers.SendChat(conn, "still here"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}
	frame = testhelpers.ReceiveFrame(t, conn, frameTimeout)
	testhelpers.AssertChatFrame(t, frame, "me", "still here")
}

// TestDisconnectCleanup verifies that a disconnected member stops receiving
// messages and disappears from the room.
func TestDisconnectCleanup(t *testing.T) {
	hub, testServer, wsURL := startRelay(t)

	creator := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendCreate(creator, "fleeting"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	testhelpers.ReceiveFrame(t, creator, frameTimeout)

	guest := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendJoin(guest, "fleeting"); err != nil {
		t.Fatalf("Failed to send join: %v", err)
	}
	testhelpers.ReceiveFrame(t, guest, frameTimeout)

	if err := testhelpers.CloseWebSocket(guest); err != nil {
		t.Fatalf("Failed to close guest connection: %v", err)
	}

	// Wait for the unregister path to drop the membership.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, members := hub.Registry().Stats(); members == 1 {
			break
		}
		if time.Now().After(deadline) {
			_, members := hub.Registry().Stats()
			t.Fatalf("Expected 1 remaining member after disconnect, got %d", members)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The creator's chat only echoes back; nobody else is left.
	if err := testhelpers.SendChat(creator, "anyone?"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}
	frame := testhelpers.ReceiveFrame(t, creator, frameTimeout)
	testhelpers.AssertChatFrame(t, frame, "me", "anyone?")
	expectNoMessage(t, creator, 300*time.Millisecond)
}

// TestRoomPersistsAfterMembersLeave verifies that an emptied room stays
// joinable for the process lifetime.
func TestRoomPersistsAfterMembersLeave(t *testing.T) {
	hub, testServer, wsURL := startRelay(t)

	founder := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendCreate(founder, "lasting"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	testhelpers.ReceiveFrame(t, founder, frameTimeout)

	if err := founder.Close(); err != nil {
		t.Fatalf("Failed to close founder connection: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, members := hub.Registry().Stats(); members == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for membership cleanup")
		}
		time.Sleep(10 * time.Millisecond)
	}

	newcomer := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendJoin(newcomer, "lasting"); err != nil {
		t.Fatalf("Failed to send join: %v", err)
	}
	frame := testhelpers.ReceiveFrame(t, newcomer, frameTimeout)
	testhelpers.AssertResponseFrame(t, frame, "joined", "Joined room lasting")
}

// TestSwitchRooms verifies that the most recent successful join is the only
// active membership.
func TestSwitchRooms(t *testing.T) {
	_, testServer, wsURL := startRelay(t)

	mover := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendCreate(mover, "origin"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	testhelpers.ReceiveFrame(t, mover, frameTimeout)

	stayer := dialRelay(t, wsURL, testServer.URL)
	if err := testhelpers.SendJoin(stayer, "origin"); err != nil {
		t.Fatalf("Failed to send join: %v", err)
	}
	testhelpers.ReceiveFrame(t, stayer, frameTimeout)

	// The mover creates and thereby moves into a second room without an
	// explicit leave.
	if err := testhelpers.SendCreate(mover, "destination"); err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	testhelpers.ReceiveFrame(t, mover, frameTimeout)

	if err := testhelpers.SendChat(stayer, "anyone left?"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}
	frame := testhelpers.ReceiveFrame(t, stayer, frameTimeout)
	testhelpers.AssertChatFrame(t, frame, "me", "anyone left?")
	expectNoMessage(t, mover, 300*time.Millisecond)
}

// TestNonGETWebSocketRequest verifies that the upgrade endpoint rejects
// non-GET methods.
func TestNonGETWebSocketRequest(t *testing.T) {
	_, testServer, _ := startRelay(t)

	resp, err := http.Post(testServer.URL+"/ws", "text/plain", strings.NewReader("body"))
	if err != nil {
		t.Fatalf("Failed to POST to /ws: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
	}
}
