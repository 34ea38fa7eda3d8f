// Package server implements the HTTP and WebSocket surface of the messenger.
//
// The implementation is organized into specialized files for configuration,
// the broker that owns live connections, clients, routing, and HTTP handlers.
// A connection is admitted only after its handshake presents a valid session
// cookie, and the username from that session is the sole sender identity for
// everything the connection posts.
package server
