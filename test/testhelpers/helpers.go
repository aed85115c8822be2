// Package testhelpers provides common utilities and helper functions for testing the RoomRelay server.
//
// This package contains reusable test utilities that are shared across unit and integration tests.
// It provides functions for creating test servers, dialing WebSocket connections, sending protocol
// messages, and asserting on received frames to reduce code duplication in test files.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL using
// the given Origin header value. It returns the connection or an error if
// connection fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendCreate sends a create-room request over the WebSocket connection.
func SendCreate(conn *websocket.Conn, roomName string) error {
	return conn.WriteJSON(map[string]interface{}{
		"type":    "create",
		"payload": map[string]string{"roomName": roomName},
	})
}

// SendJoin sends a join-room request over the WebSocket connection.
func SendJoin(conn *websocket.Conn, roomID string) error {
	return conn.WriteJSON(map[string]interface{}{
		"type":    "join",
		"payload": map[string]string{"roomId": roomID},
	})
}

// SendChat sends a chat message over the WebSocket connection.
func SendChat(conn *websocket.Conn, message string) error {
	return conn.WriteJSON(map[string]interface{}{
		"type":    "chat",
		"payload": map[string]string{"message": message},
	})
}

// SendRawMessage sends a raw byte message over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// ReceiveFrame reads one protocol frame from the WebSocket connection within
// the given timeout and decodes it as a flat JSON object.
func ReceiveFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]string {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	frame := make(map[string]string)
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", payload, err)
	}
	return frame
}

// AssertResponseFrame checks that the frame is a response of the given type
// carrying the exact message text.
func AssertResponseFrame(t *testing.T, frame map[string]string, msgType, message string) {
	t.Helper()

	if frame["type"] != msgType {
		t.Errorf("Expected frame type %q, got %q", msgType, frame["type"])
	}
	if frame["message"] != message {
		t.Errorf("Expected message %q, got %q", message, frame["message"])
	}
}

// AssertChatFrame checks that the frame is a chat event with the given
// sender label and message text.
func AssertChatFrame(t *testing.T, frame map[string]string, sender, message string) {
	t.Helper()

	if frame["type"] != "chat" {
		t.Errorf("Expected frame type %q, got %q", "chat", frame["type"])
	}
	if frame["sender"] != sender {
		t.Errorf("Expected sender %q, got %q", sender, frame["sender"])
	}
	if frame["message"] != message {
		t.Errorf("Expected message %q, got %q", message, frame["message"])
	}
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
