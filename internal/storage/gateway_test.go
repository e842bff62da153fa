package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/roundtable/internal/table/room"
)

type fakeSnapshotStore struct {
	saved  []SnapshotRecord
	latest SnapshotRecord
	err    error
}

func (f *fakeSnapshotStore) SaveSnapshot(ctx context.Context, record SnapshotRecord) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, record)
	return nil
}

func (f *fakeSnapshotStore) LatestSnapshot(ctx context.Context, roomKey string) (SnapshotRecord, error) {
	if f.err != nil {
		return SnapshotRecord{}, f.err
	}
	return f.latest, nil
}

func (f *fakeSnapshotStore) ListSnapshots(ctx context.Context, roomKey string, limit int) ([]SnapshotRecord, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) DeleteSnapshots(ctx context.Context, roomKey string) error {
	return nil
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	persisted := []Trigger{
		TriggerPause, TriggerComplete, TriggerInactivity,
		TriggerLeaderDisconnect, TriggerServerRestart,
		TriggerCriticalError, TriggerManualSave,
	}
	for _, trigger := range persisted {
		if !policy.ShouldPersist(trigger) {
			t.Errorf("expected %s to persist", trigger)
		}
	}
	skipped := []Trigger{TriggerRoundEnd, TriggerParticipantDisconnect, TriggerEntityDefeated}
	for _, trigger := range skipped {
		if policy.ShouldPersist(trigger) {
			t.Errorf("expected %s to be skipped", trigger)
		}
	}
}

func TestGatewayPersistsQualifyingTriggers(t *testing.T) {
	store := &fakeSnapshotStore{}
	gateway := NewGateway(DefaultPolicy(), store)

	record := SnapshotRecord{RoomKey: "table-1", State: room.GameState{Round: 2}}
	if err := gateway.Persist(context.Background(), TriggerPause, record); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := gateway.Persist(context.Background(), TriggerRoundEnd, record); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected one saved snapshot, got %d", len(store.saved))
	}
	if store.saved[0].RoomKey != "table-1" || store.saved[0].State.Round != 2 {
		t.Fatalf("unexpected record %+v", store.saved[0])
	}
}

func TestGatewayPropagatesStoreErrors(t *testing.T) {
	store := &fakeSnapshotStore{err: errors.New("disk full")}
	gateway := NewGateway(DefaultPolicy(), store)

	err := gateway.Persist(context.Background(), TriggerComplete, SnapshotRecord{RoomKey: "table-1"})
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestGatewayNilSafety(t *testing.T) {
	var gateway *Gateway
	if gateway.ShouldPersist(TriggerPause) {
		t.Fatal("expected nil gateway to skip persistence")
	}
	if err := gateway.Persist(context.Background(), TriggerPause, SnapshotRecord{}); err != nil {
		t.Fatalf("expected nil gateway persist to no-op, got %v", err)
	}
	if _, err := gateway.Latest(context.Background(), "table-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from nil gateway, got %v", err)
	}

	withoutStore := NewGateway(DefaultPolicy(), nil)
	if err := withoutStore.Persist(context.Background(), TriggerPause, SnapshotRecord{}); err != nil {
		t.Fatalf("expected storeless persist to no-op, got %v", err)
	}
}

func TestGatewayLatest(t *testing.T) {
	store := &fakeSnapshotStore{latest: SnapshotRecord{RoomKey: "table-1", State: room.GameState{Round: 4}}}
	gateway := NewGateway(DefaultPolicy(), store)

	record, err := gateway.Latest(context.Background(), "table-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if record.State.Round != 4 {
		t.Fatalf("expected round 4, got %d", record.State.Round)
	}
}
