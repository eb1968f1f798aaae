// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// GRPCRequest caps the time allowed for a single probe or inspect request.
const GRPCRequest = 2 * time.Second

// DebugPersist bounds a fire-and-forget debug event write.
const DebugPersist = 5 * time.Second

// Shutdown limits how long the server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
