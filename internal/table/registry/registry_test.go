package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/roundtable/internal/errors"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table/event"
	"github.com/louisbranch/roundtable/internal/table/room"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []event.Event
	dropped []string
}

func (f *fakeBroadcaster) Broadcast(roomKey string, evt event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeBroadcaster) DropRoom(roomKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, roomKey)
}

func (f *fakeBroadcaster) types() []event.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Type, 0, len(f.events))
	for _, evt := range f.events {
		out = append(out, evt.Type)
	}
	return out
}

type fakePersister struct {
	mu       sync.Mutex
	policy   storage.Policy
	records  []storage.SnapshotRecord
	triggers []storage.Trigger
	err      error
}

func (f *fakePersister) ShouldPersist(trigger storage.Trigger) bool {
	return f.policy.ShouldPersist(trigger)
}

func (f *fakePersister) Persist(ctx context.Context, trigger storage.Trigger, record storage.SnapshotRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	f.records = append(f.records, record)
	return f.err
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	g := New(cfg)
	t.Cleanup(g.Close)
	return g
}

func initialState() room.GameState {
	return room.GameState{
		Round:           1,
		InitiativeOrder: []string{"E1", "E2"},
		Positions:       map[string]room.Position{"E1": {X: 0, Y: 0}},
	}
}

func TestCreateRoom(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	g := newTestRegistry(t, Config{Broadcaster: broadcaster})

	var seen []event.Type
	g.Events().Subscribe(func(evt event.Event) {
		seen = append(seen, evt.Type)
	})

	rm, err := g.CreateRoom("table-1", initialState())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if rm.Key() != "table-1" {
		t.Fatalf("expected key table-1, got %q", rm.Key())
	}
	if rm.ID() == "" {
		t.Fatal("expected a generated room id")
	}
	if rm.Status() != room.StatusWaiting {
		t.Fatalf("expected waiting room, got %s", rm.Status())
	}
	if got := rm.State(); got.Round != 1 || len(got.InitiativeOrder) != 2 {
		t.Fatalf("expected initial state to carry over, got %+v", got)
	}

	if len(seen) != 1 || seen[0] != event.TypeRoomCreated {
		t.Fatalf("expected roomCreated event, got %v", seen)
	}
	if types := broadcaster.types(); len(types) != 1 || types[0] != event.TypeRoomCreated {
		t.Fatalf("expected broadcast of roomCreated, got %v", types)
	}
}

func TestCreateRoomEmptyKey(t *testing.T) {
	g := newTestRegistry(t, Config{})
	if _, err := g.CreateRoom("   ", room.GameState{}); !apperrors.IsCode(err, apperrors.CodeRoomKeyEmpty) {
		t.Fatalf("expected empty-key error, got %v", err)
	}
}

func TestCreateRoomDuplicateKeyLeavesOriginalUntouched(t *testing.T) {
	g := newTestRegistry(t, Config{})
	first, err := g.CreateRoom("table-1", initialState())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := first.AddParticipant(room.Participant{UserID: "alice"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}

	if _, err := g.CreateRoom("table-1", room.GameState{Round: 9}); !apperrors.IsCode(err, apperrors.CodeRoomAlreadyExists) {
		t.Fatalf("expected alreadyExists error, got %v", err)
	}

	rm, ok := g.Room("table-1")
	if !ok || rm != first {
		t.Fatal("expected original room to stay registered")
	}
	if got := rm.State(); got.Round != 1 {
		t.Fatalf("expected original state untouched, got round %d", got.Round)
	}
	if len(rm.Participants()) != 1 {
		t.Fatal("expected original participants untouched")
	}
}

func TestCreateRoomCapacity(t *testing.T) {
	g := newTestRegistry(t, Config{Capacity: 2})
	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.CreateRoom("table-2", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.CreateRoom("table-3", room.GameState{}); !apperrors.IsCode(err, apperrors.CodeRoomCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}

	// Removing a room frees its slot.
	rm, _ := g.Room("table-1")
	if !g.RemoveRoom(rm.ID()) {
		t.Fatal("expected remove to succeed")
	}
	if _, err := g.CreateRoom("table-3", room.GameState{}); err != nil {
		t.Fatalf("expected capacity freed after removal, got %v", err)
	}
}

func TestJoinRoom(t *testing.T) {
	g := newTestRegistry(t, Config{})
	if _, err := g.JoinRoom("missing", room.Participant{UserID: "alice"}); !apperrors.IsCode(err, apperrors.CodeRoomNotFound) {
		t.Fatalf("expected notFound error, got %v", err)
	}

	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	rm, err := g.JoinRoom("table-1", room.Participant{UserID: "alice", Connected: true})
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	if rm.Status() != room.StatusActive {
		t.Fatalf("expected first join to activate, got %s", rm.Status())
	}
	if _, err := g.JoinRoom("table-1", room.Participant{UserID: "  "}); !apperrors.IsCode(err, apperrors.CodeParticipantEmptyUserID) {
		t.Fatalf("expected empty user id error, got %v", err)
	}
}

func TestLifecycleHelpers(t *testing.T) {
	g := newTestRegistry(t, Config{})
	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.JoinRoom("table-1", room.Participant{UserID: "alice", Connected: true}); err != nil {
		t.Fatalf("join room: %v", err)
	}

	if !g.PauseRoom("table-1", "break") {
		t.Fatal("expected pause to succeed")
	}
	rm, _ := g.Room("table-1")
	if rm.Status() != room.StatusPaused || rm.PauseReason() != "break" {
		t.Fatalf("expected paused with reason, got %s %q", rm.Status(), rm.PauseReason())
	}
	if !g.ResumeRoom("table-1") {
		t.Fatal("expected resume to succeed")
	}
	if !g.LeaveRoom("table-1", "alice") {
		t.Fatal("expected leave to succeed")
	}
	if p, _ := rm.Participant("alice"); p.Connected {
		t.Fatal("expected departed participant to be disconnected")
	}
	if !g.CompleteRoom("table-1", "done") {
		t.Fatal("expected complete to succeed")
	}
	if g.CompleteRoom("table-1", "again") {
		t.Fatal("expected second complete to be a no-op")
	}

	if g.PauseRoom("missing", "") || g.ResumeRoom("missing") || g.LeaveRoom("missing", "alice") || g.CompleteRoom("missing", "") {
		t.Fatal("expected lifecycle helpers to report false for unknown rooms")
	}
}

func TestRoomByID(t *testing.T) {
	g := newTestRegistry(t, Config{})
	rm, err := g.CreateRoom("table-1", room.GameState{})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	byID, ok := g.RoomByID(rm.ID())
	if !ok || byID != rm {
		t.Fatal("expected lookup by id to return the same room")
	}
	if _, ok := g.RoomByID("nope"); ok {
		t.Fatal("expected unknown id to miss")
	}
}

func TestRemoveRoom(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	g := newTestRegistry(t, Config{Broadcaster: broadcaster})
	rm, err := g.CreateRoom("table-1", room.GameState{})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	var seen []event.Type
	g.Events().Subscribe(func(evt event.Event) {
		seen = append(seen, evt.Type)
	})

	if !g.RemoveRoom(rm.ID()) {
		t.Fatal("expected remove to succeed")
	}
	if g.RemoveRoom(rm.ID()) {
		t.Fatal("expected second remove to report false")
	}
	if _, ok := g.Room("table-1"); ok {
		t.Fatal("expected room to be gone by key")
	}
	if len(seen) != 1 || seen[0] != event.TypeRoomRemoved {
		t.Fatalf("expected roomRemoved event, got %v", seen)
	}
	broadcaster.mu.Lock()
	dropped := append([]string(nil), broadcaster.dropped...)
	broadcaster.mu.Unlock()
	if len(dropped) != 1 || dropped[0] != "table-1" {
		t.Fatalf("expected broadcaster drop for table-1, got %v", dropped)
	}
}

func TestRelayForwardsRoomEvents(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	g := newTestRegistry(t, Config{Broadcaster: broadcaster})
	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}

	var seen []event.Type
	g.Events().Subscribe(func(evt event.Event) {
		seen = append(seen, evt.Type)
	})

	if _, err := g.JoinRoom("table-1", room.Participant{UserID: "alice", Connected: true}); err != nil {
		t.Fatalf("join room: %v", err)
	}

	want := []event.Type{event.TypeRoomActivated, event.TypeParticipantJoined}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i, typ := range want {
		if seen[i] != typ {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestPersistenceTriggers(t *testing.T) {
	persister := &fakePersister{policy: storage.DefaultPolicy()}
	g := newTestRegistry(t, Config{Persister: persister})
	if _, err := g.CreateRoom("table-1", initialState()); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.JoinRoom("table-1", room.Participant{UserID: "alice", Connected: true}); err != nil {
		t.Fatalf("join room: %v", err)
	}

	var persistenceEvents []PersistencePayload
	g.Events().Subscribe(func(evt event.Event) {
		if evt.Type == event.TypePersistenceRequired {
			persistenceEvents = append(persistenceEvents, evt.Payload.(PersistencePayload))
		}
	})

	g.PauseRoom("table-1", "break")
	g.ResumeRoom("table-1")
	g.LeaveRoom("table-1", "alice") // participant_disconnect is skipped by the default policy
	g.CompleteRoom("table-1", "done")

	persister.mu.Lock()
	triggers := append([]storage.Trigger(nil), persister.triggers...)
	records := append([]storage.SnapshotRecord(nil), persister.records...)
	persister.mu.Unlock()

	want := []storage.Trigger{storage.TriggerPause, storage.TriggerComplete}
	if len(triggers) != len(want) {
		t.Fatalf("expected triggers %v, got %v", want, triggers)
	}
	for i, trigger := range want {
		if triggers[i] != trigger {
			t.Fatalf("expected triggers %v, got %v", want, triggers)
		}
	}
	if len(persistenceEvents) != 2 {
		t.Fatalf("expected two persistenceRequired events, got %d", len(persistenceEvents))
	}
	if records[0].RoomKey != "table-1" || records[0].State.Round != 1 {
		t.Fatalf("expected snapshot of table-1 state, got %+v", records[0])
	}
}

func TestPersistenceFailureEmitsRoomError(t *testing.T) {
	persister := &fakePersister{policy: storage.DefaultPolicy(), err: context.DeadlineExceeded}
	g := newTestRegistry(t, Config{Persister: persister})
	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.JoinRoom("table-1", room.Participant{UserID: "alice"}); err != nil {
		t.Fatalf("join room: %v", err)
	}

	errored := 0
	g.Events().Subscribe(func(evt event.Event) {
		if evt.Type == event.TypeRoomError {
			errored++
		}
	})
	g.PauseRoom("table-1", "break")
	if errored != 1 {
		t.Fatalf("expected one roomError event, got %d", errored)
	}
}

func TestCleanupInactiveRooms(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	persister := &fakePersister{policy: storage.DefaultPolicy()}
	g := newTestRegistry(t, Config{
		Inactivity: time.Hour,
		Persister:  persister,
		Clock:      clock,
	})

	if _, err := g.CreateRoom("idle", initialState()); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.CreateRoom("paused", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	g.PauseRoom("paused", "stalled")
	if _, err := g.CreateRoom("fresh", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}

	cleanups := 0
	g.Events().Subscribe(func(evt event.Event) {
		if evt.Type == event.TypeRoomCleanup {
			cleanups++
			if reason := evt.Payload.(CleanupPayload).Reason; reason != "inactivity" {
				t.Fatalf("expected inactivity reason, got %q", reason)
			}
		}
	})

	now = now.Add(2 * time.Hour)
	fresh, _ := g.Room("fresh")
	fresh.Touch()

	if removed := g.CleanupInactiveRooms(); removed != 1 {
		t.Fatalf("expected one room removed, got %d", removed)
	}
	if cleanups != 1 {
		t.Fatalf("expected one roomCleanup event, got %d", cleanups)
	}
	if _, ok := g.Room("idle"); ok {
		t.Fatal("expected idle room to be removed")
	}
	if _, ok := g.Room("paused"); !ok {
		t.Fatal("expected paused room to survive the sweep")
	}
	if _, ok := g.Room("fresh"); !ok {
		t.Fatal("expected touched room to survive the sweep")
	}

	persister.mu.Lock()
	triggers := append([]storage.Trigger(nil), persister.triggers...)
	persister.mu.Unlock()
	found := false
	for _, trigger := range triggers {
		if trigger == storage.TriggerInactivity {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an inactivity persistence trigger, got %v", triggers)
	}
}

func TestStats(t *testing.T) {
	g := newTestRegistry(t, Config{})
	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.CreateRoom("table-2", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := g.JoinRoom("table-1", room.Participant{UserID: "alice", Connected: true}); err != nil {
		t.Fatalf("join room: %v", err)
	}
	if _, err := g.JoinRoom("table-1", room.Participant{UserID: "bob"}); err != nil {
		t.Fatalf("join room: %v", err)
	}
	g.PauseRoom("table-1", "break")

	stats := g.Stats()
	if stats.Rooms != 2 {
		t.Fatalf("expected 2 rooms, got %d", stats.Rooms)
	}
	if stats.PausedRooms != 1 {
		t.Fatalf("expected 1 paused room, got %d", stats.PausedRooms)
	}
	if stats.Participants != 2 || stats.ConnectedParticipants != 1 {
		t.Fatalf("expected 2 participants (1 connected), got %d/%d", stats.Participants, stats.ConnectedParticipants)
	}
}

func TestCloseTearsDownRooms(t *testing.T) {
	g := New(Config{})
	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	g.Close()
	g.Close()

	if _, ok := g.Room("table-1"); ok {
		t.Fatal("expected rooms cleared after close")
	}
	if _, err := g.CreateRoom("table-2", room.GameState{}); err == nil {
		t.Fatal("expected create after close to fail")
	}
}

func TestStartSweepsPeriodically(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	g := newTestRegistry(t, Config{Inactivity: time.Minute, Clock: clock})
	if _, err := g.CreateRoom("table-1", room.GameState{}); err != nil {
		t.Fatalf("create room: %v", err)
	}

	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := g.Room("table-1"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected sweep to remove the idle room")
}
