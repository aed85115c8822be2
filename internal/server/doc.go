// Package server implements the core HTTP and WebSocket relay functionality
// for RoomRelay.
//
// The implementation is organized into specialized files for the room
// registry, hub management, clients, the wire protocol, configuration,
// routing, and HTTP handlers to keep the codebase maintainable and testable
// as the project grows.
package server
