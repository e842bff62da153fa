// Package room holds the authoritative per-interaction state container:
// participants, game state, turn history and the waiting → active ⇄ paused
// → completed lifecycle. All state mutation funnels through the Room so
// listeners observe one consistent, ordered change stream.
package room

import (
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/roundtable/internal/errors"
	"github.com/louisbranch/roundtable/internal/table/event"
)

// Status describes the lifecycle state of a room.
type Status int

const (
	// StatusUnspecified represents an invalid status value.
	StatusUnspecified Status = iota
	// StatusWaiting indicates the room exists but play has not begun.
	StatusWaiting
	// StatusActive indicates the room is live.
	StatusActive
	// StatusPaused indicates the room is suspended and may resume.
	StatusPaused
	// StatusCompleted indicates the room has ended. Terminal.
	StatusCompleted
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	default:
		return "unspecified"
	}
}

// Rules resolves turn actions against game state. It is the boundary to
// the game-rule engine collaborator.
type Rules interface {
	// Resolve applies action to state and reports whether it was accepted.
	// Implementations must leave state untouched when returning false.
	Resolve(state *GameState, action TurnAction) bool
}

// Config describes the dependencies needed to construct a Room.
type Config struct {
	ID         string
	Key        string
	Initial    GameState
	Rules      Rules
	Inactivity time.Duration
	Clock      func() time.Time
}

// Room is one live multi-participant interaction instance.
type Room struct {
	mu           sync.Mutex
	id           string
	key          string
	status       Status
	participants map[string]*Participant
	joinOrder    []string
	state        GameState
	lastActivity time.Time
	pauseReason  string
	events       *event.Registry
	rules        Rules
	clock        func() time.Time
	inactivity   time.Duration
	cleaned      bool
}

// New creates a waiting room from the given configuration.
func New(cfg Config) *Room {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Room{
		id:           cfg.ID,
		key:          cfg.Key,
		status:       StatusWaiting,
		participants: make(map[string]*Participant),
		state:        cfg.Initial.Clone(),
		lastActivity: clock().UTC(),
		events:       event.NewRegistry(),
		rules:        cfg.Rules,
		clock:        clock,
		inactivity:   cfg.Inactivity,
	}
}

// ID returns the room's generated identifier.
func (r *Room) ID() string { return r.id }

// Key returns the room's external interaction key.
func (r *Room) Key() string { return r.key }

// Events exposes the room's change stream for listeners.
func (r *Room) Events() *event.Registry { return r.events }

// Status returns the current lifecycle status.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// PauseReason returns the reason recorded by the last pause, if any.
func (r *Room) PauseReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseReason
}

// LastActivity returns the time of the last observed mutation.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// AddParticipant inserts a participant, or refreshes connection fields in
// place when the user is already registered (the reconnection path). A
// participant joining a waiting room activates it.
func (r *Room) AddParticipant(p Participant) error {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return apperrors.New(apperrors.CodeParticipantEmptyUserID, "participant user id is required")
	}

	r.mu.Lock()
	if r.status == StatusCompleted {
		r.mu.Unlock()
		return apperrors.New(apperrors.CodeRoomCompleted, "room already completed")
	}

	now := r.clock().UTC()
	var evts []event.Event

	existing, rejoined := r.participants[p.UserID]
	if rejoined {
		existing.ConnectionID = p.ConnectionID
		existing.Connected = p.Connected
		existing.LastActive = now
		p = *existing
	} else {
		if p.Role == RoleUnspecified {
			p.Role = RolePlayer
		}
		p.LastActive = now
		inserted := p
		r.participants[p.UserID] = &inserted
		r.joinOrder = append(r.joinOrder, p.UserID)
	}

	if r.status == StatusWaiting {
		r.status = StatusActive
		evts = append(evts, event.Event{
			Type:      event.TypeRoomActivated,
			RoomKey:   r.key,
			Timestamp: now,
		})
	}
	evts = append(evts, event.Event{
		Type:      event.TypeParticipantJoined,
		RoomKey:   r.key,
		UserID:    p.UserID,
		Timestamp: now,
		Payload:   ParticipantPayload{Participant: p, Rejoined: rejoined},
	})
	r.lastActivity = now
	r.mu.Unlock()

	r.emit(evts)
	return nil
}

// Participant returns a copy of the participant for the given user.
func (r *Room) Participant(userID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants returns copies of all participants in join order.
func (r *Room) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.joinOrder))
	for _, userID := range r.joinOrder {
		if p, ok := r.participants[userID]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Leader returns the privileged participant, if one is registered.
func (r *Room) Leader() (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, userID := range r.joinOrder {
		if p, ok := r.participants[userID]; ok && p.Role == RoleLeader {
			return *p, true
		}
	}
	return Participant{}, false
}

// UpdateParticipantConnection updates a participant's connection fields.
// An empty connID keeps the current connection id. Reports whether the
// participant existed; a missing participant is a benign no-op so racing
// timer callbacks stay safe.
func (r *Room) UpdateParticipantConnection(userID string, connected bool, connID string) bool {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok || r.status == StatusCompleted {
		r.mu.Unlock()
		return false
	}
	p.Connected = connected
	if connID != "" {
		p.ConnectionID = connID
	}
	now := r.clock().UTC()
	p.LastActive = now
	r.lastActivity = now
	r.mu.Unlock()
	return true
}

// MarkLeft marks a participant as departed without deleting it, so its
// state survives for reconnection.
func (r *Room) MarkLeft(userID string) bool {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok || r.status == StatusCompleted {
		r.mu.Unlock()
		return false
	}
	p.Connected = false
	now := r.clock().UTC()
	p.LastActive = now
	r.lastActivity = now
	left := *p
	r.mu.Unlock()

	r.emit([]event.Event{{
		Type:      event.TypeParticipantLeft,
		RoomKey:   r.key,
		UserID:    userID,
		Timestamp: now,
		Payload:   ParticipantPayload{Participant: left},
	}})
	return true
}

// DropParticipant permanently removes a participant from the room.
func (r *Room) DropParticipant(userID string) bool {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	removed := *p
	delete(r.participants, userID)
	for i, v := range r.joinOrder {
		if v == userID {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}
	now := r.clock().UTC()
	r.lastActivity = now
	r.mu.Unlock()

	r.emit([]event.Event{{
		Type:      event.TypeParticipantRemoved,
		RoomKey:   r.key,
		UserID:    userID,
		Timestamp: now,
		Payload:   ParticipantPayload{Participant: removed},
	}})
	return true
}

// State returns a deep copy of the current game state.
func (r *Room) State() GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// SetState replaces the game state wholesale. Used by recovery rollback.
func (r *Room) SetState(state GameState) {
	r.mu.Lock()
	now := r.clock().UTC()
	r.state = state.Clone()
	r.state.UpdatedAt = now
	r.lastActivity = now
	changed := r.state.Clone()
	r.mu.Unlock()

	r.emit([]event.Event{{
		Type:      event.TypeStateChanged,
		RoomKey:   r.key,
		Timestamp: now,
		Payload:   StatePayload{State: changed},
	}})
}

// UpdateGameState merges a partial update into the game state. The merge
// is rejected without mutation when it would leave the turn index outside
// a non-empty initiative order.
func (r *Room) UpdateGameState(patch StatePatch) error {
	r.mu.Lock()
	if r.status == StatusCompleted {
		r.mu.Unlock()
		return apperrors.New(apperrors.CodeRoomCompleted, "room already completed")
	}

	next := r.state.Clone()
	if patch.CurrentTurnIndex != nil {
		next.CurrentTurnIndex = *patch.CurrentTurnIndex
	}
	if patch.Round != nil {
		next.Round = *patch.Round
	}
	if patch.InitiativeOrder != nil {
		next.InitiativeOrder = append([]string(nil), patch.InitiativeOrder...)
	}
	if len(patch.Positions) > 0 {
		if next.Positions == nil {
			next.Positions = make(map[string]Position, len(patch.Positions))
		}
		for k, v := range patch.Positions {
			next.Positions[k] = v
		}
	}
	if len(next.InitiativeOrder) > 0 &&
		(next.CurrentTurnIndex < 0 || next.CurrentTurnIndex >= len(next.InitiativeOrder)) {
		r.mu.Unlock()
		return apperrors.Newf(apperrors.CodeTurnIndexOutOfRange,
			"turn index %d outside initiative order of %d", next.CurrentTurnIndex, len(next.InitiativeOrder))
	}

	now := r.clock().UTC()
	next.UpdatedAt = now
	r.state = next
	r.lastActivity = now
	changed := next.Clone()
	r.mu.Unlock()

	r.emit([]event.Event{{
		Type:      event.TypeStateChanged,
		RoomKey:   r.key,
		Timestamp: now,
		Payload:   StatePayload{State: changed},
	}})
	return nil
}

// ProcessTurnAction hands the action to the rules collaborator. On
// acceptance it appends a turn record, advances the turn pointer and
// emits the change; on rejection the state is left untouched.
func (r *Room) ProcessTurnAction(action TurnAction) bool {
	r.mu.Lock()
	if r.status != StatusActive || r.rules == nil {
		r.mu.Unlock()
		return false
	}

	// Resolve against a clone so a faulty engine cannot leave partial
	// mutations behind on rejection.
	next := r.state.Clone()
	if !r.rules.Resolve(&next, action) {
		r.mu.Unlock()
		return false
	}

	now := r.clock().UTC()
	record := TurnRecord{
		Index:     next.CurrentTurnIndex,
		Round:     next.Round,
		Action:    action,
		Timestamp: now,
	}
	next.TurnHistory = append(next.TurnHistory, record)

	roundEnded := false
	if n := len(next.InitiativeOrder); n > 0 {
		idx := next.CurrentTurnIndex + 1
		if idx >= n {
			idx = 0
			next.Round++
			roundEnded = true
		}
		next.CurrentTurnIndex = idx
	}
	next.UpdatedAt = now
	r.state = next
	r.lastActivity = now
	changed := next.Clone()
	round := next.Round
	r.mu.Unlock()

	evts := []event.Event{{
		Type:      event.TypeTurnCompleted,
		RoomKey:   r.key,
		UserID:    action.UserID,
		Timestamp: now,
		Payload:   TurnPayload{Record: record, State: changed},
	}}
	if roundEnded {
		evts = append(evts, event.Event{
			Type:      event.TypeRoundEnded,
			RoomKey:   r.key,
			Timestamp: now,
			Payload:   RoundPayload{Round: round},
		})
	}
	r.emit(evts)
	return true
}

// Pause suspends a waiting or active room.
func (r *Room) Pause(reason string) bool {
	r.mu.Lock()
	if r.status != StatusWaiting && r.status != StatusActive {
		r.mu.Unlock()
		return false
	}
	r.status = StatusPaused
	r.pauseReason = reason
	now := r.clock().UTC()
	r.lastActivity = now
	r.mu.Unlock()

	r.emit([]event.Event{{
		Type:      event.TypeRoomPaused,
		RoomKey:   r.key,
		Timestamp: now,
		Payload:   LifecyclePayload{Reason: reason},
	}})
	return true
}

// Resume returns a paused room to active.
func (r *Room) Resume() bool {
	r.mu.Lock()
	if r.status != StatusPaused {
		r.mu.Unlock()
		return false
	}
	r.status = StatusActive
	r.pauseReason = ""
	now := r.clock().UTC()
	r.lastActivity = now
	r.mu.Unlock()

	r.emit([]event.Event{{
		Type:      event.TypeRoomResumed,
		RoomKey:   r.key,
		Timestamp: now,
	}})
	return true
}

// Complete ends the room permanently. No further joins or mutations are
// accepted afterwards.
func (r *Room) Complete(reason string) bool {
	r.mu.Lock()
	if r.status == StatusCompleted {
		r.mu.Unlock()
		return false
	}
	r.status = StatusCompleted
	now := r.clock().UTC()
	r.lastActivity = now
	r.mu.Unlock()

	r.emit([]event.Event{{
		Type:      event.TypeRoomCompleted,
		RoomKey:   r.key,
		Timestamp: now,
		Payload:   LifecyclePayload{Reason: reason},
	}})
	return true
}

// IsInactive reports whether the room has been idle past its timeout.
func (r *Room) IsInactive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inactivity <= 0 {
		return false
	}
	return r.clock().UTC().Sub(r.lastActivity) > r.inactivity
}

// Touch refreshes the room's activity timestamp.
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = r.clock().UTC()
}

// Cleanup tears down the room's listener registry. Idempotent.
func (r *Room) Cleanup() {
	r.mu.Lock()
	if r.cleaned {
		r.mu.Unlock()
		return
	}
	r.cleaned = true
	r.mu.Unlock()
	r.events.Clear()
}

// emit delivers events in order after the room lock is released so a
// listener can safely call back into the room.
func (r *Room) emit(evts []event.Event) {
	for _, evt := range evts {
		r.events.Emit(evt)
	}
}
