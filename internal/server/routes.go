// Package server wires HTTP handlers into a ServeMux for the RoomRelay
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes bound to the given hub. It sets up handlers for health check,
// WebSocket endpoint, relay statistics, and the test page.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(hub))
	mux.HandleFunc("/stats", StatsHandler(hub.Registry()))
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
