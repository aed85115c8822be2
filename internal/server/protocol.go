// Package server defines the JSON wire protocol exchanged between the relay
// and its clients, plus shared helpers reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// Inbound message types accepted by the relay.
const (
	MessageTypeCreate = "create"
	MessageTypeJoin   = "join"
	MessageTypeChat   = "chat"
)

// Outbound message types emitted by the relay.
const (
	MessageTypeSuccess = "success"
	MessageTypeJoined  = "joined"
	MessageTypeError   = "error"
)

// Sender labels carried on broadcast chat messages. The protocol has no
// durable user identity; peers only ever see "someone".
const (
	SenderSelf = "me"
	SenderPeer = "someone"
)

// User-facing response strings. These are part of the protocol contract and
// must not be reworded without updating connected frontends.
const (
	ResponseEmptyRoomName  = "Room name cannot be empty."
	ResponseRoomExists     = "Room already exists."
	ResponseRoomNotFound   = "Room does not exist."
	ResponseNotInRoom      = "You are not in a room."
	ResponseInvalidMessage = "Invalid message format."
)

// Envelope is the outer shape of every inbound message. The payload is kept
// raw so each handler can decode its own expected shape.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CreatePayload carries the room name for a create request.
type CreatePayload struct {
	RoomName string `json:"roomName"`
}

// JoinPayload carries the room identifier for a join request.
type JoinPayload struct {
	RoomID string `json:"roomId"`
}

// ChatPayload carries the chat text for a chat request.
type ChatPayload struct {
	Message string `json:"message"`
}

// Response is the shape of success, joined, and error replies.
type Response struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatEvent is the shape of a delivered chat message, both the sender's own
// echo and the copies fanned out to other room members.
type ChatEvent struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// encodeResponse marshals a Response frame. The shape contains only strings,
// so marshalling cannot fail in practice.
func encodeResponse(msgType, message string) []byte {
	payload, _ := json.Marshal(Response{Type: msgType, Message: message})
	return payload
}

// encodeChatEvent marshals a ChatEvent frame with the given sender label.
func encodeChatEvent(sender, message string) []byte {
	payload, _ := json.Marshal(ChatEvent{Type: MessageTypeChat, Sender: sender, Message: message})
	return payload
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
