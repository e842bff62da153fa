// Package timeouts defines shared timeout constants used across the
// session core. Centralizing these values prevents drift between
// components and makes the durations discoverable.
package timeouts

import "time"

// Heartbeat is the period between liveness checks for a connected user.
const Heartbeat = 10 * time.Second

// HeartbeatExpiry is how stale a heartbeat may grow before the connection
// is treated as lost.
const HeartbeatExpiry = 30 * time.Second

// ReconnectWindow is the wait between reconnect checks for an ordinarily
// disconnected participant.
const ReconnectWindow = 30 * time.Second

// LeaderGrace is how long a disconnected leader may stay away before the
// room is paused.
const LeaderGrace = 2 * time.Minute

// CorruptionResume is the delay before a room paused for state corruption
// is automatically resumed.
const CorruptionResume = 30 * time.Second

// RoomInactivity is how long a room may sit idle before the registry
// sweeps it.
const RoomInactivity = 2 * time.Hour

// SweepInterval is the period of the registry inactivity sweep.
const SweepInterval = 10 * time.Minute

// BatchFlush is the delay before queued delta events are flushed.
const BatchFlush = 100 * time.Millisecond

// SubscriptionSweep is the period of the broadcaster expiry sweep.
const SubscriptionSweep = time.Minute

// RetryBackoff is the pause applied by the retry recovery strategy.
const RetryBackoff = time.Second

// Shutdown limits how long the server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
