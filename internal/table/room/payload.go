package room

// ParticipantPayload accompanies participant join/leave/remove events.
type ParticipantPayload struct {
	Participant Participant
	Rejoined    bool
}

// LifecyclePayload accompanies pause/resume/complete events.
type LifecyclePayload struct {
	Reason string
}

// StatePayload accompanies state-changed events and carries the full
// post-mutation state.
type StatePayload struct {
	State GameState
}

// TurnPayload accompanies turn-completed events.
type TurnPayload struct {
	Record TurnRecord
	State  GameState
}

// RoundPayload accompanies round-ended events.
type RoundPayload struct {
	Round int
}
