package storage

import "context"

// Policy decides which triggers warrant a durable snapshot.
type Policy struct {
	enabled map[Trigger]bool
}

// NewPolicy creates a policy persisting exactly the given triggers.
func NewPolicy(triggers ...Trigger) Policy {
	enabled := make(map[Trigger]bool, len(triggers))
	for _, t := range triggers {
		enabled[t] = true
	}
	return Policy{enabled: enabled}
}

// DefaultPolicy persists lifecycle-ending and fault-class transitions and
// skips the per-turn noise.
func DefaultPolicy() Policy {
	return NewPolicy(
		TriggerPause,
		TriggerComplete,
		TriggerInactivity,
		TriggerLeaderDisconnect,
		TriggerServerRestart,
		TriggerCriticalError,
		TriggerManualSave,
	)
}

// ShouldPersist reports whether the trigger warrants persistence.
func (p Policy) ShouldPersist(trigger Trigger) bool {
	return p.enabled[trigger]
}

// Gateway couples a persistence policy with a snapshot store. It is the
// reference implementation of the persistence collaborator the core
// consults on persistence-class transitions.
type Gateway struct {
	policy Policy
	store  SnapshotStore
}

// NewGateway creates a gateway over the given policy and store.
func NewGateway(policy Policy, store SnapshotStore) *Gateway {
	return &Gateway{policy: policy, store: store}
}

// ShouldPersist reports whether the trigger warrants persistence.
func (g *Gateway) ShouldPersist(trigger Trigger) bool {
	if g == nil {
		return false
	}
	return g.policy.ShouldPersist(trigger)
}

// Persist saves a snapshot when the trigger qualifies. It is a no-op for
// triggers the policy skips, so callers may invoke it unconditionally.
func (g *Gateway) Persist(ctx context.Context, trigger Trigger, record SnapshotRecord) error {
	if g == nil || g.store == nil {
		return nil
	}
	if !g.policy.ShouldPersist(trigger) {
		return nil
	}
	return g.store.SaveSnapshot(ctx, record)
}

// Latest returns the most recent stored snapshot for a room.
func (g *Gateway) Latest(ctx context.Context, roomKey string) (SnapshotRecord, error) {
	if g == nil || g.store == nil {
		return SnapshotRecord{}, ErrNotFound
	}
	return g.store.LatestSnapshot(ctx, roomKey)
}
