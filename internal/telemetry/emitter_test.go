package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table/event"
)

type fakeTelemetryStore struct {
	last  storage.TelemetryEvent
	count int
}

func (s *fakeTelemetryStore) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	s.last = evt
	s.count++
	return nil
}

func TestEmitterNoopWhenNil(t *testing.T) {
	var emitter *Emitter
	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestEmitterNoopWhenStoreNil(t *testing.T) {
	emitter := &Emitter{}
	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestEmitterAddsTimestamp(t *testing.T) {
	store := &fakeTelemetryStore{}
	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	emitter := &Emitter{store: store, clock: func() time.Time { return clockTime }}

	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{Type: "test"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if store.count != 1 {
		t.Fatalf("expected 1 event, got %d", store.count)
	}
	if !store.last.Timestamp.Equal(clockTime) {
		t.Fatalf("expected timestamp %v, got %v", clockTime, store.last.Timestamp)
	}
}

func TestEmitterPreservesTimestamp(t *testing.T) {
	store := &fakeTelemetryStore{}
	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	setTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	emitter := &Emitter{store: store, clock: func() time.Time { return clockTime }}

	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{Type: "test", Timestamp: setTime}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !store.last.Timestamp.Equal(setTime) {
		t.Fatalf("expected timestamp %v, got %v", setTime, store.last.Timestamp)
	}
}

func TestObserveMapsEvents(t *testing.T) {
	store := &fakeTelemetryStore{}
	emitter := NewEmitter(store)
	listener := emitter.Observe()

	listener(event.Event{
		Type:      event.TypeRoomError,
		RoomKey:   "table-1",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	if store.count != 1 {
		t.Fatalf("expected 1 event, got %d", store.count)
	}
	if store.last.Severity != string(SeverityError) {
		t.Fatalf("expected ERROR severity, got %q", store.last.Severity)
	}
	if store.last.RoomKey != "table-1" || store.last.Type != string(event.TypeRoomError) {
		t.Fatalf("unexpected record %+v", store.last)
	}

	listener(event.Event{Type: event.TypeConnectionLost, RoomKey: "table-1", UserID: "alice"})
	if store.last.Severity != string(SeverityWarn) {
		t.Fatalf("expected WARN severity, got %q", store.last.Severity)
	}
	if store.last.Message != "connection.lost (user alice)" {
		t.Fatalf("unexpected message %q", store.last.Message)
	}

	listener(event.Event{Type: event.TypeParticipantJoined, RoomKey: "table-1", UserID: "alice"})
	if store.last.Severity != string(SeverityInfo) {
		t.Fatalf("expected INFO severity, got %q", store.last.Severity)
	}
}
