// Package rules provides a baseline grid ruleset so the session core runs
// without an external rule engine. The engine boundary stays opaque: the
// room only sees an accept/reject decision, and rejected actions never
// leave partial mutations behind.
package rules

import "github.com/louisbranch/roundtable/internal/table/room"

// Action types recognized by the baseline ruleset.
const (
	ActionMove    = "move"
	ActionAttack  = "attack"
	ActionEndTurn = "end_turn"
)

// GridRules validates actions against board bounds and turn ownership.
type GridRules struct {
	// BoardWidth and BoardHeight bound legal positions. Zero disables the
	// bounds check on that axis.
	BoardWidth  int
	BoardHeight int
	// MaxMoveDistance caps movement per action in Chebyshev distance.
	// Zero disables the cap.
	MaxMoveDistance int
}

// Resolve implements room.Rules.
func (g GridRules) Resolve(state *room.GameState, action room.TurnAction) bool {
	if state == nil {
		return false
	}
	if !g.ownsTurn(state, action) {
		return false
	}

	switch action.Type {
	case ActionMove:
		return g.resolveMove(state, action)
	case ActionAttack:
		// No damage model here; the attack is legal when the target is on
		// the board.
		_, ok := state.Positions[action.TargetID]
		return ok
	case ActionEndTurn:
		return true
	default:
		return false
	}
}

// ownsTurn checks the acting entity holds the current initiative slot.
// An empty order means turn order has not started and every entity may act.
func (g GridRules) ownsTurn(state *room.GameState, action room.TurnAction) bool {
	if len(state.InitiativeOrder) == 0 {
		return true
	}
	idx := state.CurrentTurnIndex
	if idx < 0 || idx >= len(state.InitiativeOrder) {
		return false
	}
	return state.InitiativeOrder[idx] == action.EntityID
}

func (g GridRules) resolveMove(state *room.GameState, action room.TurnAction) bool {
	pos := action.Position
	if g.BoardWidth > 0 && (pos.X < 0 || pos.X >= g.BoardWidth) {
		return false
	}
	if g.BoardHeight > 0 && (pos.Y < 0 || pos.Y >= g.BoardHeight) {
		return false
	}
	if g.MaxMoveDistance > 0 {
		if from, ok := state.Positions[action.EntityID]; ok {
			if chebyshev(from, pos) > g.MaxMoveDistance {
				return false
			}
		}
	}
	if state.Positions == nil {
		state.Positions = make(map[string]room.Position)
	}
	state.Positions[action.EntityID] = pos
	return true
}

func chebyshev(a, b room.Position) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
