// Package broadcast fans room events out to per-room subscribers with
// event-type filtering, delta batching and per-subscriber failure
// isolation.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	apperrors "github.com/louisbranch/roundtable/internal/errors"
	"github.com/louisbranch/roundtable/internal/platform/id"
	"github.com/louisbranch/roundtable/internal/platform/timeouts"
	"github.com/louisbranch/roundtable/internal/table/event"
)

const (
	defaultMaxSubscriptionsPerOwner = 100
	defaultMaxBatchSize             = 10
)

// Callback delivers one event to a subscriber. A returned error counts as
// a failed delivery but never blocks delivery to other subscribers.
type Callback func(event.Event) error

// Subscription is one subscriber's registration on a room.
type Subscription struct {
	ID          string
	RoomKey     string
	Types       map[event.Type]bool // nil matches every type
	OwnerUserID string
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero means the subscription never expires

	deliver Callback
}

// BatchPayload carries coalesced delta events in arrival order.
type BatchPayload struct {
	Events []event.Event
}

// Metrics is a point-in-time snapshot of broadcaster counters.
type Metrics struct {
	TotalEvents         int64
	FailedDeliveries    int64
	ActiveSubscriptions int
}

// Config tunes broadcaster limits. Zero values pick defaults.
type Config struct {
	MaxSubscriptionsPerOwner int
	MaxBatchSize             int
	BatchDelay               time.Duration
	SubscriptionTTL          time.Duration
	Clock                    func() time.Time
}

// Broadcaster is the pub/sub fan-out hub keyed by room.
type Broadcaster struct {
	mu          sync.Mutex
	subs        map[string]*Subscription
	roomSubs    map[string][]string // subscription ids in insertion order
	ownerCounts map[string]int
	batches     map[string]*deltaBatch

	maxPerOwner int
	maxBatch    int
	batchDelay  time.Duration
	ttl         time.Duration
	clock       func() time.Time

	totalEvents int64
	failed      int64
	closed      bool

	eventCounter  metric.Int64Counter
	failedCounter metric.Int64Counter
}

type deltaBatch struct {
	events []event.Event
	timer  *time.Timer
}

// New creates a broadcaster with the given configuration.
func New(cfg Config) *Broadcaster {
	if cfg.MaxSubscriptionsPerOwner <= 0 {
		cfg.MaxSubscriptionsPerOwner = defaultMaxSubscriptionsPerOwner
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = timeouts.BatchFlush
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	meter := otel.Meter("github.com/louisbranch/roundtable/internal/table/broadcast")
	eventCounter, _ := meter.Int64Counter("roundtable.broadcast.events",
		metric.WithDescription("Events broadcast to room subscribers."))
	failedCounter, _ := meter.Int64Counter("roundtable.broadcast.failed_deliveries",
		metric.WithDescription("Subscriber deliveries that returned an error or panicked."))

	return &Broadcaster{
		subs:          make(map[string]*Subscription),
		roomSubs:      make(map[string][]string),
		ownerCounts:   make(map[string]int),
		batches:       make(map[string]*deltaBatch),
		maxPerOwner:   cfg.MaxSubscriptionsPerOwner,
		maxBatch:      cfg.MaxBatchSize,
		batchDelay:    cfg.BatchDelay,
		ttl:           cfg.SubscriptionTTL,
		clock:         cfg.Clock,
		eventCounter:  eventCounter,
		failedCounter: failedCounter,
	}
}

// Subscribe registers a delivery callback for a room. The filter is a set
// of event types; an empty filter matches everything. The per-owner limit
// is enforced globally across rooms.
func (b *Broadcaster) Subscribe(roomKey string, types []event.Type, deliver Callback, ownerUserID string) (string, error) {
	if roomKey == "" {
		return "", fmt.Errorf("room key is required")
	}
	if deliver == nil {
		return "", fmt.Errorf("delivery callback is required")
	}

	subID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate subscription id: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("broadcaster is closed")
	}
	if b.ownerCounts[ownerUserID] >= b.maxPerOwner {
		return "", apperrors.Newf(apperrors.CodeSubscriptionLimit,
			"user %s holds %d subscriptions", ownerUserID, b.ownerCounts[ownerUserID])
	}

	sub := &Subscription{
		ID:          subID,
		RoomKey:     roomKey,
		OwnerUserID: ownerUserID,
		CreatedAt:   b.clock().UTC(),
		deliver:     deliver,
	}
	if len(types) > 0 {
		sub.Types = make(map[event.Type]bool, len(types))
		for _, t := range types {
			sub.Types[t] = true
		}
	}
	if b.ttl > 0 {
		sub.ExpiresAt = sub.CreatedAt.Add(b.ttl)
	}

	b.subs[subID] = sub
	b.roomSubs[roomKey] = append(b.roomSubs[roomKey], subID)
	b.ownerCounts[ownerUserID]++
	return subID, nil
}

// Unsubscribe removes a subscription. Reports whether it existed.
func (b *Broadcaster) Unsubscribe(subID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(subID)
}

func (b *Broadcaster) removeLocked(subID string) bool {
	sub, ok := b.subs[subID]
	if !ok {
		return false
	}
	delete(b.subs, subID)
	ids := b.roomSubs[sub.RoomKey]
	for i, v := range ids {
		if v == subID {
			b.roomSubs[sub.RoomKey] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(b.roomSubs[sub.RoomKey]) == 0 {
		delete(b.roomSubs, sub.RoomKey)
	}
	if b.ownerCounts[sub.OwnerUserID] > 0 {
		b.ownerCounts[sub.OwnerUserID]--
		if b.ownerCounts[sub.OwnerUserID] == 0 {
			delete(b.ownerCounts, sub.OwnerUserID)
		}
	}
	return true
}

// Broadcast delivers evt to every live, matching subscription on the room.
func (b *Broadcaster) Broadcast(roomKey string, evt event.Event) {
	b.deliver(roomKey, "", evt)
}

// BroadcastToUser delivers evt only to subscriptions owned by userID.
func (b *Broadcaster) BroadcastToUser(roomKey, userID string, evt event.Event) {
	if userID == "" {
		return
	}
	b.deliver(roomKey, userID, evt)
}

func (b *Broadcaster) deliver(roomKey, onlyUserID string, evt event.Event) {
	if evt.RoomKey == "" {
		evt.RoomKey = roomKey
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.clock().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.totalEvents++
	now := b.clock().UTC()
	targets := make([]*Subscription, 0, len(b.roomSubs[roomKey]))
	for _, subID := range b.roomSubs[roomKey] {
		sub, ok := b.subs[subID]
		if !ok {
			continue
		}
		if onlyUserID != "" && sub.OwnerUserID != onlyUserID {
			continue
		}
		if !sub.ExpiresAt.IsZero() && now.After(sub.ExpiresAt) {
			continue
		}
		if sub.Types != nil && !sub.Types[evt.Type] {
			continue
		}
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	if b.eventCounter != nil {
		b.eventCounter.Add(context.Background(), 1)
	}

	for _, sub := range targets {
		if err := safeDeliver(sub.deliver, evt); err != nil {
			b.mu.Lock()
			b.failed++
			b.mu.Unlock()
			if b.failedCounter != nil {
				b.failedCounter.Add(context.Background(), 1)
			}
		}
	}
}

// safeDeliver converts a panicking callback into a delivery error.
func safeDeliver(deliver Callback, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return deliver(evt)
}

// BroadcastDelta queues an incremental event for batched delivery. Queued
// deltas flush together once the batch reaches the configured size or the
// batch delay elapses, whichever comes first, preserving arrival order.
func (b *Broadcaster) BroadcastDelta(roomKey string, delta event.Event) {
	if delta.Type == "" {
		delta.Type = event.TypeStateDelta
	}
	if delta.RoomKey == "" {
		delta.RoomKey = roomKey
	}
	if delta.Timestamp.IsZero() {
		delta.Timestamp = b.clock().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	batch := b.batches[roomKey]
	if batch == nil {
		batch = &deltaBatch{}
		b.batches[roomKey] = batch
	}
	batch.events = append(batch.events, delta)

	if len(batch.events) >= b.maxBatch {
		if batch.timer != nil {
			batch.timer.Stop()
		}
		events := batch.events
		delete(b.batches, roomKey)
		b.mu.Unlock()
		b.flush(roomKey, events)
		return
	}
	if batch.timer == nil {
		batch.timer = time.AfterFunc(b.batchDelay, func() {
			b.flushRoom(roomKey)
		})
	}
	b.mu.Unlock()
}

// FlushDeltas flushes any pending delta batch for the room immediately.
func (b *Broadcaster) FlushDeltas(roomKey string) {
	b.flushRoom(roomKey)
}

func (b *Broadcaster) flushRoom(roomKey string) {
	b.mu.Lock()
	batch := b.batches[roomKey]
	if batch == nil {
		b.mu.Unlock()
		return
	}
	if batch.timer != nil {
		batch.timer.Stop()
	}
	events := batch.events
	delete(b.batches, roomKey)
	b.mu.Unlock()
	b.flush(roomKey, events)
}

func (b *Broadcaster) flush(roomKey string, events []event.Event) {
	if len(events) == 0 {
		return
	}
	b.Broadcast(roomKey, event.Event{
		Type:    event.TypeDeltaBatch,
		RoomKey: roomKey,
		Payload: BatchPayload{Events: events},
	})
}

// Cleanup evicts expired subscriptions and returns how many were removed.
func (b *Broadcaster) Cleanup() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock().UTC()
	var expired []string
	for subID, sub := range b.subs {
		if !sub.ExpiresAt.IsZero() && now.After(sub.ExpiresAt) {
			expired = append(expired, subID)
		}
	}
	for _, subID := range expired {
		b.removeLocked(subID)
	}
	return len(expired)
}

// Start runs the periodic expiry sweep until ctx is done.
func (b *Broadcaster) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = timeouts.SubscriptionSweep
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Cleanup()
			}
		}
	}()
}

// DropRoom removes every subscription and pending batch for a room. Used
// when a room completes.
func (b *Broadcaster) DropRoom(roomKey string) {
	b.mu.Lock()
	ids := append([]string(nil), b.roomSubs[roomKey]...)
	for _, subID := range ids {
		b.removeLocked(subID)
	}
	if batch := b.batches[roomKey]; batch != nil {
		if batch.timer != nil {
			batch.timer.Stop()
		}
		delete(b.batches, roomKey)
	}
	b.mu.Unlock()
}

// Metrics returns a snapshot of the broadcaster counters.
func (b *Broadcaster) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		TotalEvents:         b.totalEvents,
		FailedDeliveries:    b.failed,
		ActiveSubscriptions: len(b.subs),
	}
}

// Close cancels pending batch timers and drops all subscriptions. Safe to
// call more than once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, batch := range b.batches {
		if batch.timer != nil {
			batch.timer.Stop()
		}
	}
	b.batches = make(map[string]*deltaBatch)
	b.subs = make(map[string]*Subscription)
	b.roomSubs = make(map[string][]string)
	b.ownerCounts = make(map[string]int)
}
