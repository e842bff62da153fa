// Package registry owns the set of live rooms. It enforces capacity,
// drives lifecycle transitions, sweeps inactive rooms and relays every
// room event outward to listeners and the broadcaster.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/roundtable/internal/errors"
	"github.com/louisbranch/roundtable/internal/platform/id"
	"github.com/louisbranch/roundtable/internal/platform/timeouts"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table/event"
	"github.com/louisbranch/roundtable/internal/table/room"
)

const defaultCapacity = 100

// Broadcaster receives relayed room events for subscriber fan-out.
type Broadcaster interface {
	Broadcast(roomKey string, evt event.Event)
	DropRoom(roomKey string)
}

// Persister is the durable-storage collaborator consulted on
// persistence-class transitions.
type Persister interface {
	ShouldPersist(trigger storage.Trigger) bool
	Persist(ctx context.Context, trigger storage.Trigger, record storage.SnapshotRecord) error
}

// PersistencePayload accompanies persistenceRequired events.
type PersistencePayload struct {
	Trigger storage.Trigger
}

// CleanupPayload accompanies roomCleanup events.
type CleanupPayload struct {
	Reason string
}

// Stats aggregates room and participant counts.
type Stats struct {
	Rooms                 int
	ActiveRooms           int
	PausedRooms           int
	Participants          int
	ConnectedParticipants int
}

// Config describes registry construction.
type Config struct {
	Capacity    int
	Inactivity  time.Duration
	Rules       room.Rules
	Broadcaster Broadcaster
	Persister   Persister
	Clock       func() time.Time
}

// Registry is the authoritative index of live rooms, keyed by the
// external interaction key and by generated room id.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*room.Room // by key
	byID   map[string]*room.Room
	closed bool

	capacity    int
	inactivity  time.Duration
	rules       room.Rules
	broadcaster Broadcaster
	persister   Persister
	clock       func() time.Time
	events      *event.Registry
}

// New creates a registry with the given configuration.
func New(cfg Config) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = timeouts.RoomInactivity
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Registry{
		rooms:       make(map[string]*room.Room),
		byID:        make(map[string]*room.Room),
		capacity:    cfg.Capacity,
		inactivity:  cfg.Inactivity,
		rules:       cfg.Rules,
		broadcaster: cfg.Broadcaster,
		persister:   cfg.Persister,
		clock:       cfg.Clock,
		events:      event.NewRegistry(),
	}
}

// Events exposes the registry's outward change stream.
func (g *Registry) Events() *event.Registry { return g.events }

// CreateRoom registers a new room for the given interaction key. At most
// one room may exist per key; duplicates and capacity overruns are hard
// errors, not expected runtime states.
func (g *Registry) CreateRoom(key string, initial room.GameState) (*room.Room, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.New(apperrors.CodeRoomKeyEmpty, "room key is required")
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, fmt.Errorf("registry is closed")
	}
	if _, exists := g.rooms[key]; exists {
		g.mu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeRoomAlreadyExists, "room %s already registered", key)
	}
	if len(g.rooms) >= g.capacity {
		g.mu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeRoomCapacityExceeded, "capacity of %d rooms reached", g.capacity)
	}

	roomID, err := id.NewID()
	if err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("generate room id: %w", err)
	}
	rm := room.New(room.Config{
		ID:         roomID,
		Key:        key,
		Initial:    initial,
		Rules:      g.rules,
		Inactivity: g.inactivity,
		Clock:      g.clock,
	})
	rm.Events().Subscribe(g.relay)
	g.rooms[key] = rm
	g.byID[roomID] = rm
	g.mu.Unlock()

	g.relayOut(event.Event{
		Type:      event.TypeRoomCreated,
		RoomKey:   key,
		Timestamp: g.clock().UTC(),
	})
	return rm, nil
}

// JoinRoom adds or refreshes a participant in the room for key.
func (g *Registry) JoinRoom(key string, p room.Participant) (*room.Room, error) {
	rm, ok := g.Room(key)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeRoomNotFound, "room %s not found", key)
	}
	if err := rm.AddParticipant(p); err != nil {
		return nil, err
	}
	return rm, nil
}

// LeaveRoom marks a participant as departed without deleting it.
func (g *Registry) LeaveRoom(key, userID string) bool {
	rm, ok := g.Room(key)
	if !ok {
		return false
	}
	return rm.MarkLeft(userID)
}

// PauseRoom suspends the room for key.
func (g *Registry) PauseRoom(key, reason string) bool {
	rm, ok := g.Room(key)
	if !ok {
		return false
	}
	return rm.Pause(reason)
}

// ResumeRoom returns the room for key to active.
func (g *Registry) ResumeRoom(key string) bool {
	rm, ok := g.Room(key)
	if !ok {
		return false
	}
	return rm.Resume()
}

// CompleteRoom ends the room for key permanently.
func (g *Registry) CompleteRoom(key, reason string) bool {
	rm, ok := g.Room(key)
	if !ok {
		return false
	}
	return rm.Complete(reason)
}

// Room returns the live room for an interaction key.
func (g *Registry) Room(key string) (*room.Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[key]
	return rm, ok
}

// RoomByID returns the live room for a generated room id.
func (g *Registry) RoomByID(roomID string) (*room.Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.byID[roomID]
	return rm, ok
}

// RemoveRoom tears down and deletes the room with the given id.
func (g *Registry) RemoveRoom(roomID string) bool {
	g.mu.Lock()
	rm, ok := g.byID[roomID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.byID, roomID)
	delete(g.rooms, rm.Key())
	g.mu.Unlock()

	rm.Cleanup()
	g.relayOut(event.Event{
		Type:      event.TypeRoomRemoved,
		RoomKey:   rm.Key(),
		Timestamp: g.clock().UTC(),
	})
	if g.broadcaster != nil {
		g.broadcaster.DropRoom(rm.Key())
	}
	return true
}

// CleanupInactiveRooms sweeps rooms past their inactivity deadline.
// Paused rooms are left untouched so a stalled table can still resume.
// Returns how many rooms were removed.
func (g *Registry) CleanupInactiveRooms() int {
	g.mu.Lock()
	candidates := make([]*room.Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		candidates = append(candidates, rm)
	}
	g.mu.Unlock()

	removed := 0
	for _, rm := range candidates {
		if rm.Status() == room.StatusPaused || !rm.IsInactive() {
			continue
		}
		g.relayOut(event.Event{
			Type:      event.TypeRoomCleanup,
			RoomKey:   rm.Key(),
			Timestamp: g.clock().UTC(),
			Payload:   CleanupPayload{Reason: "inactivity"},
		})
		g.persist(rm, storage.TriggerInactivity)
		if g.RemoveRoom(rm.ID()) {
			removed++
		}
	}
	return removed
}

// Stats returns aggregate room and participant counts.
func (g *Registry) Stats() Stats {
	g.mu.Lock()
	rooms := make([]*room.Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	g.mu.Unlock()

	var stats Stats
	stats.Rooms = len(rooms)
	for _, rm := range rooms {
		switch rm.Status() {
		case room.StatusActive:
			stats.ActiveRooms++
		case room.StatusPaused:
			stats.PausedRooms++
		}
		for _, p := range rm.Participants() {
			stats.Participants++
			if p.Connected {
				stats.ConnectedParticipants++
			}
		}
	}
	return stats
}

// Start runs the periodic inactivity sweep until ctx is done.
func (g *Registry) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = timeouts.SweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.CleanupInactiveRooms()
			}
		}
	}()
}

// Close tears down every room and stops accepting new ones. Safe to call
// more than once.
func (g *Registry) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	rooms := make([]*room.Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	g.rooms = make(map[string]*room.Room)
	g.byID = make(map[string]*room.Room)
	g.mu.Unlock()

	for _, rm := range rooms {
		rm.Cleanup()
	}
	g.events.Clear()
}

// relay forwards a room-origin event outward and handles its
// persistence-class side effects.
func (g *Registry) relay(evt event.Event) {
	g.relayOut(evt)

	trigger := triggerFor(evt.Type)
	if trigger == "" {
		return
	}
	if rm, ok := g.Room(evt.RoomKey); ok {
		g.persist(rm, trigger)
	}
	if evt.Type == event.TypeRoomCompleted && g.broadcaster != nil {
		g.broadcaster.DropRoom(evt.RoomKey)
	}
}

// relayOut delivers an event to local listeners and the broadcaster.
func (g *Registry) relayOut(evt event.Event) {
	g.events.Emit(evt)
	if g.broadcaster != nil {
		g.broadcaster.Broadcast(evt.RoomKey, evt)
	}
}

// persist consults the persistence collaborator and, when the trigger
// qualifies, emits persistenceRequired and hands over a snapshot.
func (g *Registry) persist(rm *room.Room, trigger storage.Trigger) {
	if g.persister == nil || !g.persister.ShouldPersist(trigger) {
		return
	}
	record := storage.SnapshotRecord{
		RoomKey:    rm.Key(),
		State:      rm.State(),
		CapturedAt: g.clock().UTC(),
	}
	g.relayOut(event.Event{
		Type:      event.TypePersistenceRequired,
		RoomKey:   rm.Key(),
		Timestamp: record.CapturedAt,
		Payload:   PersistencePayload{Trigger: trigger},
	})
	if err := g.persister.Persist(context.Background(), trigger, record); err != nil {
		g.relayOut(event.Event{
			Type:      event.TypeRoomError,
			RoomKey:   rm.Key(),
			Timestamp: g.clock().UTC(),
			Payload:   fmt.Sprintf("persist %s: %v", trigger, err),
		})
	}
}

// triggerFor maps room events to persistence triggers.
func triggerFor(t event.Type) storage.Trigger {
	switch t {
	case event.TypeRoomPaused:
		return storage.TriggerPause
	case event.TypeRoomCompleted:
		return storage.TriggerComplete
	case event.TypeRoundEnded:
		return storage.TriggerRoundEnd
	case event.TypeParticipantLeft:
		return storage.TriggerParticipantDisconnect
	default:
		return ""
	}
}
