package room

import "time"

// Role describes a participant's privilege within a room.
//
// The leader's disconnection is handled with a grace-period pause instead
// of the ordinary bounded-reconnect policy.
type Role int

const (
	// RoleUnspecified represents an invalid role value.
	RoleUnspecified Role = iota
	// RolePlayer is an ordinary participant.
	RolePlayer
	// RoleLeader is the privileged participant running the table.
	RoleLeader
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RolePlayer:
		return "player"
	case RoleLeader:
		return "leader"
	default:
		return "unspecified"
	}
}

// EntityKind describes who drives a participant's controlled entity.
type EntityKind int

const (
	// EntityKindUnspecified represents an invalid entity kind value.
	EntityKindUnspecified EntityKind = iota
	// EntityKindPlayer marks a player-controlled entity.
	EntityKindPlayer
	// EntityKindComputer marks a computer-controlled entity.
	EntityKindComputer
)

// Participant is one user's presence and controlled entity within a room.
type Participant struct {
	UserID       string
	EntityID     string
	EntityKind   EntityKind
	Role         Role
	ConnectionID string
	Connected    bool
	LastActive   time.Time
}
