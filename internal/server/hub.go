// Package server coordinates client registration, room fan-out, and
// connection cleanup for the RoomRelay WebSocket system via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// BroadcastMessage encapsulates a chat payload being fanned out to a room,
// including the originating client so it can be excluded from delivery.
type BroadcastMessage struct {
	Sender  *Client
	Room    string
	Payload []byte
}

// Hub manages all WebSocket client connections and fans chat messages out to
// room members. Room membership itself lives in the injected Registry; the
// Hub owns the transports and ensures thread-safe delivery through mutex
// protection.
type Hub struct {
	registry   *Registry
	clients    map[string]*Client
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance backed by the given
// Registry. The returned Hub is ready to manage WebSocket connections once
// Run is started.
func NewHub(registry *Registry) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry returns the Registry this hub was constructed with.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// GetBroadcastChan returns the channel used for fanning messages out to room members.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetBroadcastChan() chan<- BroadcastMessage {
	return h.broadcast
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client.id]
	if !exists || client.closed {
		return false
	}

	// Try to send the message (channel might be closed, so we need to recover from panic)
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and room fan-out. This method should be called in a
// separate goroutine as it runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client %s connected from %s. Total clients: %d", client.id, client.addr, clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				h.registry.Leave(client.id)
				// Close the channel after releasing the lock
				close(client.send)
				log.Printf("Client %s disconnected from %s. Total clients: %d", client.id, client.addr, clientCount)
			} else {
				h.mutex.Unlock()
			}

		case broadcastMsg := <-h.broadcast:
			h.handleBroadcast(broadcastMsg)
		}
	}
}

// handleBroadcast fans a chat payload out to every member of the target room
// except the sender. Delivery is best-effort per recipient: a full send
// buffer marks that one client for removal without affecting the others.
func (h *Hub) handleBroadcast(broadcastMsg BroadcastMessage) {
	recipients := h.roomRecipients(broadcastMsg)

	log.Printf("Broadcasting message to %d members of room %q", len(recipients), broadcastMsg.Room)

	var clientsToRemove []*Client
	for _, client := range recipients {
		if !h.safeSend(client, broadcastMsg.Payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	h.removeFailedClients(clientsToRemove)
}

// roomRecipients resolves the room's membership snapshot to live clients.
// Members whose client entry is already gone are skipped; their cleanup is
// handled by the unregister path.
func (h *Hub) roomRecipients(broadcastMsg BroadcastMessage) []*Client {
	var excluding string
	if broadcastMsg.Sender != nil {
		excluding = broadcastMsg.Sender.id
	}
	memberIDs := h.registry.MembersOf(broadcastMsg.Room, excluding)

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	recipients := make([]*Client, 0, len(memberIDs))
	for _, id := range memberIDs {
		if client, ok := h.clients[id]; ok {
			recipients = append(recipients, client)
		}
	}
	return recipients
}

// removeFailedClients removes clients that failed to receive messages,
// drops their memberships, and closes their channels.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var removed []*Client
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client.id]; exists {
			delete(h.clients, client.id)
			client.closed = true
			removed = append(removed, client)
			log.Printf("Client %s from %s removed due to full send buffer", client.id, client.addr)
		}
	}
	h.mutex.Unlock()

	// Drop memberships and close channels after releasing the lock
	for _, client := range removed {
		h.registry.Leave(client.id)
		close(client.send)
	}
}

// shutdownClients closes all active client connections and performs the
// cleanup normally done on the unregister path. Run has stopped servicing the
// unregister channel by the time this is called, so memberships are dropped
// and send channels closed here; closing the send channels lets the write
// pumps exit.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		client.closed = true
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mutex.Unlock()

	for _, client := range clients {
		h.registry.Leave(client.id)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
		close(client.send)
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	rooms, members := h.registry.Stats()
	log.Printf("Initiating hub shutdown (%d rooms, %d members)...", rooms, members)

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
