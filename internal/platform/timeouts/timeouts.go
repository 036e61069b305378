// Package timeouts defines shared timeout constants used across the registry
// service. Centralizing these values prevents drift between the HTTP and
// WebSocket surfaces and makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SessionIdle closes a viewer session that has produced no frame, not even a
// liveness ping, within this interval.
const SessionIdle = 60 * time.Second

// MutationRequest caps the time allowed for one transactional mutation,
// including its single conflict retry.
const MutationRequest = 5 * time.Second
