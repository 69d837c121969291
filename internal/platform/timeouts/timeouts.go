// Package timeouts defines shared timeout constants used across the server
// and the client.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StoreOperation caps one persistence call issued from a background path
// (event bus worker, overdue sweep, relay subscriber).
const StoreOperation = 5 * time.Second

// PushWrite caps a single websocket push to one session.
const PushWrite = 5 * time.Second

// HeartbeatInterval is how often authenticated websocket sessions are pinged.
const HeartbeatInterval = 30 * time.Second

// SessionIdle is how long a session may stay silent before it is reaped.
const SessionIdle = 90 * time.Second

// HTTPRequest caps one client REST call.
const HTTPRequest = 10 * time.Second
