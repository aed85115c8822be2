// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, protocol dispatch, and lifecycle control for each
// connection.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client represents a WebSocket client connection in the relay. It manages
// the connection state, message sending channel, hub reference, and client
// address information. Its id is the opaque handle under which the Registry
// tracks room membership.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a new Client instance with the provided WebSocket
// connection, hub reference, and client address. The client's send channel
// is buffered to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		addr:           addr,
		closed:         false,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the client's opaque connection identity.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	// Check for oversized messages
	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
		return true
	}

	// Check for expected close scenarios
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s disconnected: %v", c.addr, err)
		return true
	}

	// Check for network errors
	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.addr, err)
		return true
	}

	// Log unexpected errors with more context
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
		return true
	}

	// Generic error case
	log.Printf("WebSocket read error from %s: %v", c.addr, err)
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// reply queues a protocol frame for delivery to this client only.
func (c *Client) reply(payload []byte) {
	if !c.hub.safeSend(c, payload) {
		log.Printf("Dropping reply to %s: client no longer accepting writes", c.addr)
	}
}

// replyError queues an error response with the given user-facing message.
func (c *Client) replyError(message string) {
	c.reply(encodeResponse(MessageTypeError, message))
}

// processMessage decodes an inbound frame and dispatches it to the matching
// protocol operation. A malformed frame, or a panic anywhere in dispatch,
// degrades to a single error response on this connection; the relay itself
// never goes down over one client's input.
func (c *Client) processMessage(rawMessage []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic dispatching message from %s: %v", c.addr, r)
			c.replyError(ResponseInvalidMessage)
		}
	}()

	var envelope Envelope
	if err := json.Unmarshal(rawMessage, &envelope); err != nil {
		log.Printf("Invalid message from %s: %v", c.addr, err)
		c.replyError(ResponseInvalidMessage)
		return
	}

	switch envelope.Type {
	case MessageTypeCreate:
		c.handleCreate(envelope.Payload)
	case MessageTypeJoin:
		c.handleJoin(envelope.Payload)
	case MessageTypeChat:
		c.handleChat(envelope.Payload)
	default:
		// The original backend ignores unknown types rather than erroring.
		log.Printf("Ignoring message with unknown type %q from %s", envelope.Type, c.addr)
	}
}

// handleCreate registers a new room and joins the creator to it.
func (c *Client) handleCreate(payload json.RawMessage) {
	var create CreatePayload
	if err := json.Unmarshal(payload, &create); err != nil {
		log.Printf("Invalid create payload from %s: %v", c.addr, err)
		c.replyError(ResponseInvalidMessage)
		return
	}

	roomName := create.RoomName
	if strings.TrimSpace(roomName) == "" {
		c.replyError(ResponseEmptyRoomName)
		return
	}

	registry := c.hub.Registry()
	if err := registry.CreateRoom(roomName); err != nil {
		if errors.Is(err, ErrRoomExists) {
			c.replyError(ResponseRoomExists)
		} else {
			c.replyError(ResponseEmptyRoomName)
		}
		return
	}

	// The creator becomes the room's first member.
	if err := registry.JoinRoom(c.id, roomName); err != nil {
		log.Printf("Failed to record creator membership for %s in room %q: %v", c.addr, roomName, err)
		c.replyError(ResponseRoomNotFound)
		return
	}

	log.Printf("Room %q created by client %s", roomName, c.id)
	c.reply(encodeResponse(MessageTypeSuccess, fmt.Sprintf("Room %q created.", roomName)))
}

// handleJoin moves the client into an existing room, implicitly leaving any
// previous one (last successful join wins).
func (c *Client) handleJoin(payload json.RawMessage) {
	var join JoinPayload
	if err := json.Unmarshal(payload, &join); err != nil {
		log.Printf("Invalid join payload from %s: %v", c.addr, err)
		c.replyError(ResponseInvalidMessage)
		return
	}

	if err := c.hub.Registry().JoinRoom(c.id, join.RoomID); err != nil {
		c.replyError(ResponseRoomNotFound)
		return
	}

	log.Printf("Client %s joined room %q", c.id, join.RoomID)
	c.reply(encodeResponse(MessageTypeJoined, fmt.Sprintf("Joined room %s", join.RoomID)))
}

// handleChat echoes the message back to the sender labeled "me" and fans it
// out to every other room member labeled "someone".
func (c *Client) handleChat(payload json.RawMessage) {
	var chat ChatPayload
	if err := json.Unmarshal(payload, &chat); err != nil {
		log.Printf("Invalid chat payload from %s: %v", c.addr, err)
		c.replyError(ResponseInvalidMessage)
		return
	}

	room, ok := c.hub.Registry().RoomOf(c.id)
	if !ok {
		c.replyError(ResponseNotInRoom)
		return
	}

	c.reply(encodeChatEvent(SenderSelf, chat.Message))
	// The broadcast channel is unserviced once the hub shuts down.
	select {
	case c.hub.broadcast <- BroadcastMessage{
		Sender:  c,
		Room:    room,
		Payload: encodeChatEvent(SenderPeer, chat.Message),
	}:
	case <-c.hub.ctx.Done():
	}
}

func (c *Client) readPump() {
	defer func() {
		// During hub shutdown the unregister channel is no longer serviced;
		// shutdownClients performs the cleanup instead.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		// Only log unexpected connection close errors
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		}
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// writeTextMessage writes a single protocol frame. Each frame is one JSON
// object; frames are never batched so the frontend can parse every event on
// its own.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		log.Printf("Error writing message to %s: %v", c.addr, err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
