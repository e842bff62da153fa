// Package storage defines the persistence collaborator boundary: the
// trigger vocabulary, snapshot records and the store interfaces the core
// consumes. The core owns no durable format; stores decide how to keep
// the bytes.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/roundtable/internal/table/room"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("not found")

// Trigger identifies a state transition that may require persistence.
type Trigger string

const (
	TriggerPause                 Trigger = "pause"
	TriggerComplete              Trigger = "complete"
	TriggerInactivity            Trigger = "inactivity"
	TriggerRoundEnd              Trigger = "round_end"
	TriggerParticipantDisconnect Trigger = "participant_disconnect"
	TriggerLeaderDisconnect      Trigger = "leader_disconnect"
	TriggerEntityDefeated        Trigger = "entity_defeated"
	TriggerServerRestart         Trigger = "server_restart"
	TriggerCriticalError         Trigger = "critical_error"
	TriggerManualSave            Trigger = "manual_save"
)

// SnapshotRecord is one captured copy of a room's game state.
type SnapshotRecord struct {
	RoomKey    string
	State      room.GameState
	CapturedAt time.Time
}

// SnapshotStore persists and recalls game-state snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, record SnapshotRecord) error
	// LatestSnapshot returns the most recent snapshot for a room, or
	// ErrNotFound when none exists.
	LatestSnapshot(ctx context.Context, roomKey string) (SnapshotRecord, error)
	// ListSnapshots returns up to limit snapshots, newest first.
	ListSnapshots(ctx context.Context, roomKey string, limit int) ([]SnapshotRecord, error)
	DeleteSnapshots(ctx context.Context, roomKey string) error
}

// TelemetryEvent records one operational occurrence for audit.
type TelemetryEvent struct {
	Severity  string
	Type      string
	RoomKey   string
	Message   string
	Timestamp time.Time
}

// TelemetryStore appends operational telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}
