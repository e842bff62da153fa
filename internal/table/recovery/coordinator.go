// Package recovery classifies faults reported against a room, selects
// and executes one recovery strategy, and keeps the rolling snapshots
// rollback depends on. Recovery is serialized per room: a second report
// while one is running is rejected, not queued.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/roundtable/internal/platform/timeouts"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table/event"
	"github.com/louisbranch/roundtable/internal/table/room"
)

// Kind classifies a reported fault.
type Kind string

const (
	KindStateCorruption          Kind = "state_corruption"
	KindConcurrentActionConflict Kind = "concurrent_action_conflict"
	KindInvalidGameState         Kind = "invalid_game_state"
	KindPersistenceFailure       Kind = "persistence_failure"
	KindNetworkError             Kind = "network_error"
	KindValidationError          Kind = "validation_error"
	KindTimeoutError             Kind = "timeout_error"
)

// Strategy identifies one recovery procedure.
type Strategy string

const (
	StrategyRollbackToSnapshot Strategy = "rollback_to_snapshot"
	StrategyFirstActionWins    Strategy = "first_action_wins"
	StrategyRetryOperation     Strategy = "retry_operation"
	StrategyArbiterResolution  Strategy = "arbiter_resolution"
	StrategyPauseAndNotify     Strategy = "pause_and_notify"
	StrategyForceComplete      Strategy = "force_complete"
)

const (
	defaultMaxAttempts       = 3
	defaultSnapshotRetention = 10
	historyLimit             = 100
)

// ErrorContext describes one reported fault.
type ErrorContext struct {
	RoomKey            string
	UserID             string
	EntityID           string
	Kind               Kind
	Message            string
	Before             *room.GameState
	After              *room.GameState
	ConflictingActions []room.TurnAction
	Timestamp          time.Time
}

// Result is the outcome of one recovery pass.
type Result struct {
	Success              bool
	Strategy             Strategy
	Context              ErrorContext
	RecoveredState       *room.GameState
	Message              string
	RequiresIntervention bool
}

// Snapshot is one retained copy of a room's game state, used only for
// rollback.
type Snapshot struct {
	RoomKey    string
	State      room.GameState
	CapturedAt time.Time
}

// OutcomePayload accompanies recoveryOutcome events.
type OutcomePayload struct {
	Kind                 Kind
	Strategy             Strategy
	Success              bool
	RequiresIntervention bool
	Message              string
}

// RejectionPayload accompanies actionRejected events issued by
// first-action-wins.
type RejectionPayload struct {
	Action room.TurnAction
	Reason string
}

// Rooms is the subset of the room registry recovery manipulates.
type Rooms interface {
	Room(key string) (*room.Room, bool)
	PauseRoom(key, reason string) bool
	ResumeRoom(key string) bool
	CompleteRoom(key, reason string) bool
}

// Broadcaster delivers recovery notices to room subscribers.
type Broadcaster interface {
	Broadcast(roomKey string, evt event.Event)
}

// SnapshotSource is a durable fallback consulted when the in-memory
// snapshot ring is empty.
type SnapshotSource interface {
	Latest(ctx context.Context, roomKey string) (storage.SnapshotRecord, error)
}

// Config describes coordinator construction. Zero values pick defaults.
type Config struct {
	Rooms             Rooms
	Broadcaster       Broadcaster
	Snapshots         SnapshotSource
	MaxAttempts       int
	RetryBackoff      time.Duration
	SnapshotRetention int
	Clock             func() time.Time
}

// Coordinator serializes and executes fault recovery per room.
type Coordinator struct {
	mu         sync.Mutex
	inProgress map[string]bool
	snapshots  map[string][]Snapshot
	history    map[string][]ErrorContext
	attempts   map[string]int
	closed     bool

	rooms        Rooms
	broadcaster  Broadcaster
	fallback     SnapshotSource
	maxAttempts  int
	retryBackoff time.Duration
	retention    int
	clock        func() time.Time
	events       *event.Registry
}

// New creates a coordinator with the given configuration.
func New(cfg Config) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = timeouts.RetryBackoff
	}
	if cfg.SnapshotRetention <= 0 {
		cfg.SnapshotRetention = defaultSnapshotRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Coordinator{
		inProgress:   make(map[string]bool),
		snapshots:    make(map[string][]Snapshot),
		history:      make(map[string][]ErrorContext),
		attempts:     make(map[string]int),
		rooms:        cfg.Rooms,
		broadcaster:  cfg.Broadcaster,
		fallback:     cfg.Snapshots,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
		retention:    cfg.SnapshotRetention,
		clock:        cfg.Clock,
		events:       event.NewRegistry(),
	}
}

// Events exposes the coordinator's outcome stream for local observers.
func (c *Coordinator) Events() *event.Registry { return c.events }

// RecordSnapshot retains a copy of a room's game state for rollback.
// The per-room ring is bounded; the oldest snapshot is evicted past the
// retention count.
func (c *Coordinator) RecordSnapshot(roomKey string, state room.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	ring := append(c.snapshots[roomKey], Snapshot{
		RoomKey:    roomKey,
		State:      state.Clone(),
		CapturedAt: c.clock().UTC(),
	})
	if len(ring) > c.retention {
		ring = ring[len(ring)-c.retention:]
	}
	c.snapshots[roomKey] = ring
}

// SnapshotCount reports how many snapshots are retained for a room.
func (c *Coordinator) SnapshotCount(roomKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots[roomKey])
}

// History returns copies of the retained error contexts for a room,
// oldest first.
func (c *Coordinator) History(roomKey string) []ErrorContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ErrorContext(nil), c.history[roomKey]...)
}

// HandleError runs one recovery pass for the reported fault. Recovery
// for a room is mutually exclusive: while one pass is running, further
// reports for the same room are rejected immediately without touching
// state.
func (c *Coordinator) HandleError(ctx ErrorContext) Result {
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = c.clock().UTC()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{
			Success:              false,
			Context:              ctx,
			Message:              "coordinator is shut down",
			RequiresIntervention: true,
		}
	}
	if c.inProgress[ctx.RoomKey] {
		c.mu.Unlock()
		return Result{
			Success:              false,
			Context:              ctx,
			Message:              "Recovery already in progress",
			RequiresIntervention: true,
		}
	}
	c.inProgress[ctx.RoomKey] = true
	attempts := c.attempts[ctx.RoomKey]
	history := append(c.history[ctx.RoomKey], ctx)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	c.history[ctx.RoomKey] = history
	c.mu.Unlock()

	result := c.recover(ctx, attempts)

	c.mu.Lock()
	delete(c.inProgress, ctx.RoomKey)
	c.mu.Unlock()

	c.emitOutcome(result)
	return result
}

// recover selects and executes the strategy, converting a panicking
// strategy into force-complete.
func (c *Coordinator) recover(ctx ErrorContext, attempts int) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = c.forceComplete(ctx, fmt.Sprintf("recovery panic: %v", r))
		}
	}()

	switch c.selectStrategy(ctx.Kind, attempts) {
	case StrategyRollbackToSnapshot:
		return c.rollbackToSnapshot(ctx)
	case StrategyFirstActionWins:
		return c.firstActionWins(ctx)
	case StrategyRetryOperation:
		return c.retryOperation(ctx)
	case StrategyArbiterResolution:
		return c.pauseWith(ctx, StrategyArbiterResolution, "awaiting arbiter resolution")
	default:
		return c.pauseWith(ctx, StrategyPauseAndNotify, "paused pending manual intervention")
	}
}

// selectStrategy maps an error kind to its strategy. A room whose
// attempt counter reached the configured max always escalates.
func (c *Coordinator) selectStrategy(kind Kind, attempts int) Strategy {
	if attempts >= c.maxAttempts {
		return StrategyPauseAndNotify
	}
	switch kind {
	case KindStateCorruption, KindInvalidGameState:
		return StrategyRollbackToSnapshot
	case KindConcurrentActionConflict:
		return StrategyFirstActionWins
	case KindPersistenceFailure, KindNetworkError:
		return StrategyRetryOperation
	case KindTimeoutError:
		return StrategyArbiterResolution
	default:
		return StrategyPauseAndNotify
	}
}

// rollbackToSnapshot restores the most recent retained snapshot,
// consulting the durable fallback when the in-memory ring is empty.
func (c *Coordinator) rollbackToSnapshot(ctx ErrorContext) Result {
	snap, ok := c.latestSnapshot(ctx.RoomKey)
	if !ok {
		return Result{
			Success:              false,
			Strategy:             StrategyRollbackToSnapshot,
			Context:              ctx,
			Message:              "no snapshot available for rollback",
			RequiresIntervention: true,
		}
	}
	rm, found := c.lookupRoom(ctx.RoomKey)
	if !found {
		return Result{
			Success:              false,
			Strategy:             StrategyRollbackToSnapshot,
			Context:              ctx,
			Message:              "room not found",
			RequiresIntervention: true,
		}
	}

	c.rooms.PauseRoom(ctx.RoomKey, "rolling back to snapshot")
	rm.SetState(snap.State)
	c.rooms.ResumeRoom(ctx.RoomKey)

	recovered := snap.State.Clone()
	return Result{
		Success:        true,
		Strategy:       StrategyRollbackToSnapshot,
		Context:        ctx,
		RecoveredState: &recovered,
		Message:        fmt.Sprintf("rolled back to snapshot captured at %s", snap.CapturedAt.Format(time.RFC3339)),
	}
}

func (c *Coordinator) latestSnapshot(roomKey string) (Snapshot, bool) {
	c.mu.Lock()
	ring := c.snapshots[roomKey]
	if len(ring) > 0 {
		snap := ring[len(ring)-1]
		c.mu.Unlock()
		return snap, true
	}
	c.mu.Unlock()

	if c.fallback == nil {
		return Snapshot{}, false
	}
	record, err := c.fallback.Latest(context.Background(), roomKey)
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{RoomKey: roomKey, State: record.State, CapturedAt: record.CapturedAt}, true
}

// firstActionWins applies only the first of the conflicting actions and
// issues an explicit rejection notice for every remaining one.
func (c *Coordinator) firstActionWins(ctx ErrorContext) Result {
	if len(ctx.ConflictingActions) == 0 {
		return Result{
			Success:              false,
			Strategy:             StrategyFirstActionWins,
			Context:              ctx,
			Message:              "no conflicting actions supplied",
			RequiresIntervention: true,
		}
	}
	rm, found := c.lookupRoom(ctx.RoomKey)
	if !found {
		return Result{
			Success:              false,
			Strategy:             StrategyFirstActionWins,
			Context:              ctx,
			Message:              "room not found",
			RequiresIntervention: true,
		}
	}

	accepted := 0
	if rm.ProcessTurnAction(ctx.ConflictingActions[0]) {
		accepted = 1
	}
	rejected := ctx.ConflictingActions[1:]
	now := c.clock().UTC()
	for _, action := range rejected {
		c.broadcast(ctx.RoomKey, event.Event{
			Type:      event.TypeActionRejected,
			RoomKey:   ctx.RoomKey,
			UserID:    action.UserID,
			Timestamp: now,
			Payload:   RejectionPayload{Action: action, Reason: "conflicting action lost to first arrival"},
		})
	}
	return Result{
		Success:  true,
		Strategy: StrategyFirstActionWins,
		Context:  ctx,
		Message:  fmt.Sprintf("%d accepted, %d rejected", accepted, len(rejected)),
	}
}

// retryOperation counts the attempt and waits out the backoff. The
// retried operation itself is caller-specific and outside this core.
func (c *Coordinator) retryOperation(ctx ErrorContext) Result {
	c.mu.Lock()
	c.attempts[ctx.RoomKey]++
	attempt := c.attempts[ctx.RoomKey]
	c.mu.Unlock()

	time.Sleep(c.retryBackoff)
	return Result{
		Success:  true,
		Strategy: StrategyRetryOperation,
		Context:  ctx,
		Message:  fmt.Sprintf("retry %d scheduled after backoff", attempt),
	}
}

// pauseWith suspends the room with a strategy-specific reason. These
// strategies always require intervention.
func (c *Coordinator) pauseWith(ctx ErrorContext, strategy Strategy, reason string) Result {
	paused := false
	if c.rooms != nil {
		paused = c.rooms.PauseRoom(ctx.RoomKey, reason)
	}
	return Result{
		Success:              paused,
		Strategy:             strategy,
		Context:              ctx,
		Message:              reason,
		RequiresIntervention: true,
	}
}

// forceComplete permanently ends the room. Used when recovery itself
// fails.
func (c *Coordinator) forceComplete(ctx ErrorContext, reason string) Result {
	if c.rooms != nil {
		c.rooms.CompleteRoom(ctx.RoomKey, reason)
	}
	return Result{
		Success:              false,
		Strategy:             StrategyForceComplete,
		Context:              ctx,
		Message:              reason,
		RequiresIntervention: true,
	}
}

// emitOutcome notifies the room's subscribers and local observers.
func (c *Coordinator) emitOutcome(result Result) {
	evt := event.Event{
		Type:      event.TypeRecoveryOutcome,
		RoomKey:   result.Context.RoomKey,
		UserID:    result.Context.UserID,
		Timestamp: c.clock().UTC(),
		Payload: OutcomePayload{
			Kind:                 result.Context.Kind,
			Strategy:             result.Strategy,
			Success:              result.Success,
			RequiresIntervention: result.RequiresIntervention,
			Message:              result.Message,
		},
	}
	c.events.Emit(evt)
	c.broadcast(result.Context.RoomKey, evt)
}

func (c *Coordinator) lookupRoom(roomKey string) (*room.Room, bool) {
	if c.rooms == nil {
		return nil, false
	}
	return c.rooms.Room(roomKey)
}

func (c *Coordinator) broadcast(roomKey string, evt event.Event) {
	if c.broadcaster == nil || roomKey == "" {
		return
	}
	c.broadcaster.Broadcast(roomKey, evt)
}

// CleanupInteraction clears the snapshots, error history, attempt
// counter and in-progress flag for one room.
func (c *Coordinator) CleanupInteraction(roomKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, roomKey)
	delete(c.history, roomKey)
	delete(c.attempts, roomKey)
	delete(c.inProgress, roomKey)
}

// Shutdown clears all retained state. Safe to call more than once.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.snapshots = make(map[string][]Snapshot)
	c.history = make(map[string][]ErrorContext)
	c.attempts = make(map[string]int)
	c.inProgress = make(map[string]bool)
	c.mu.Unlock()
	c.events.Clear()
}
