package room

import "time"

// Position locates an entity on the shared board grid.
type Position struct {
	X int
	Y int
}

// TurnAction describes one intent submitted for the current turn.
type TurnAction struct {
	Type     string
	UserID   string
	EntityID string
	TargetID string
	Position Position
}

// TurnRecord is one resolved action appended to the turn history.
type TurnRecord struct {
	Index     int
	Round     int
	Action    TurnAction
	Timestamp time.Time
}

// GameState is the authoritative game state for a room.
//
// CurrentTurnIndex always stays below len(InitiativeOrder) once the order
// is non-empty; mutations violating that are rejected.
type GameState struct {
	CurrentTurnIndex int
	Round            int
	InitiativeOrder  []string
	Positions        map[string]Position
	TurnHistory      []TurnRecord
	UpdatedAt        time.Time
}

// Clone returns a deep copy safe to hand to callers or mutate in place.
func (s GameState) Clone() GameState {
	clone := s
	if s.InitiativeOrder != nil {
		clone.InitiativeOrder = append([]string(nil), s.InitiativeOrder...)
	}
	if s.Positions != nil {
		clone.Positions = make(map[string]Position, len(s.Positions))
		for k, v := range s.Positions {
			clone.Positions[k] = v
		}
	}
	if s.TurnHistory != nil {
		clone.TurnHistory = append([]TurnRecord(nil), s.TurnHistory...)
	}
	return clone
}

// StatePatch is a partial game-state update. Nil fields leave the
// corresponding state untouched; Positions entries are merged in.
type StatePatch struct {
	CurrentTurnIndex *int
	Round            *int
	InitiativeOrder  []string
	Positions        map[string]Position
}
