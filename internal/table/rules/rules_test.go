package rules

import (
	"testing"

	"github.com/louisbranch/roundtable/internal/table/room"
)

func TestResolveMoveWithinBounds(t *testing.T) {
	g := GridRules{BoardWidth: 10, BoardHeight: 10}
	state := room.GameState{}
	ok := g.Resolve(&state, room.TurnAction{Type: ActionMove, EntityID: "E1", Position: room.Position{X: 6, Y: 5}})
	if !ok {
		t.Fatal("expected legal move to resolve")
	}
	if state.Positions["E1"] != (room.Position{X: 6, Y: 5}) {
		t.Fatalf("expected position applied, got %v", state.Positions["E1"])
	}
}

func TestResolveMoveOutOfBounds(t *testing.T) {
	g := GridRules{BoardWidth: 10, BoardHeight: 10}
	state := room.GameState{}
	tests := []room.Position{{X: -1, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 99}}
	for _, pos := range tests {
		if g.Resolve(&state, room.TurnAction{Type: ActionMove, EntityID: "E1", Position: pos}) {
			t.Fatalf("expected move to %v to be rejected", pos)
		}
	}
	if len(state.Positions) != 0 {
		t.Fatal("expected rejected moves to leave state untouched")
	}
}

func TestResolveMoveDistanceCap(t *testing.T) {
	g := GridRules{BoardWidth: 20, BoardHeight: 20, MaxMoveDistance: 3}
	state := room.GameState{Positions: map[string]room.Position{"E1": {X: 5, Y: 5}}}
	if g.Resolve(&state, room.TurnAction{Type: ActionMove, EntityID: "E1", Position: room.Position{X: 9, Y: 5}}) {
		t.Fatal("expected move past distance cap to be rejected")
	}
	if !g.Resolve(&state, room.TurnAction{Type: ActionMove, EntityID: "E1", Position: room.Position{X: 8, Y: 5}}) {
		t.Fatal("expected move within distance cap to resolve")
	}
}

func TestTurnOwnership(t *testing.T) {
	g := GridRules{}
	state := room.GameState{InitiativeOrder: []string{"E1", "E2"}, CurrentTurnIndex: 1}
	if g.Resolve(&state, room.TurnAction{Type: ActionEndTurn, EntityID: "E1"}) {
		t.Fatal("expected out-of-turn action to be rejected")
	}
	if !g.Resolve(&state, room.TurnAction{Type: ActionEndTurn, EntityID: "E2"}) {
		t.Fatal("expected in-turn action to resolve")
	}
}

func TestResolveAttackRequiresTarget(t *testing.T) {
	g := GridRules{}
	state := room.GameState{Positions: map[string]room.Position{"E2": {X: 1, Y: 1}}}
	if !g.Resolve(&state, room.TurnAction{Type: ActionAttack, EntityID: "E1", TargetID: "E2"}) {
		t.Fatal("expected attack on placed target to resolve")
	}
	if g.Resolve(&state, room.TurnAction{Type: ActionAttack, EntityID: "E1", TargetID: "missing"}) {
		t.Fatal("expected attack on missing target to be rejected")
	}
}

func TestUnknownActionRejected(t *testing.T) {
	g := GridRules{}
	state := room.GameState{}
	if g.Resolve(&state, room.TurnAction{Type: "dance", EntityID: "E1"}) {
		t.Fatal("expected unknown action type to be rejected")
	}
}
