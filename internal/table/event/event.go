// Package event defines the typed change events emitted by the session
// core and the listener registry used for in-process fan-out.
package event

import "time"

// Type identifies an event emitted by the session core.
type Type string

const (
	// Room lifecycle events emitted by the registry and rooms.
	TypeRoomCreated   Type = "room.created"
	TypeRoomActivated Type = "room.activated"
	TypeRoomPaused    Type = "room.paused"
	TypeRoomResumed   Type = "room.resumed"
	TypeRoomCompleted Type = "room.completed"
	TypeRoomRemoved   Type = "room.removed"
	TypeRoomCleanup   Type = "room.cleanup"

	// Participant events emitted by rooms.
	TypeParticipantJoined  Type = "participant.joined"
	TypeParticipantLeft    Type = "participant.left"
	TypeParticipantRemoved Type = "participant.removed"

	// Game state events emitted by rooms.
	TypeStateChanged  Type = "state.changed"
	TypeTurnCompleted Type = "state.turn_completed"
	TypeRoundEnded    Type = "state.round_ended"
	TypeStateDelta    Type = "state.delta"
	TypeDeltaBatch    Type = "state.delta_batch"

	// Connection events emitted by the supervisor.
	TypeConnectionLost     Type = "connection.lost"
	TypeConnectionRestored Type = "connection.restored"
	TypeConnectionRemoved  Type = "connection.removed"
	TypeStateSync          Type = "connection.state_sync"

	// Fault and recovery events.
	TypeRoomError       Type = "room.error"
	TypeActionRejected  Type = "recovery.action_rejected"
	TypeRecoveryOutcome Type = "recovery.outcome"

	// Persistence relay events.
	TypePersistenceRequired Type = "room.persistence_required"
)

// Event is a single change notification scoped to a room.
type Event struct {
	Type      Type
	RoomKey   string
	UserID    string
	Timestamp time.Time
	Payload   any
}
