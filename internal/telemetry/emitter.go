// Package telemetry records operational events emitted by the session
// core into the telemetry store for later audit.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table/event"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Emitter records operational telemetry events.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records a telemetry event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, evt storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	return e.store.AppendTelemetryEvent(ctx, evt)
}

// Observe returns a listener that maps session-core events to telemetry
// records. Store failures are swallowed; telemetry never disturbs the
// change stream it observes.
func (e *Emitter) Observe() func(event.Event) {
	return func(evt event.Event) {
		_ = e.Emit(context.Background(), storage.TelemetryEvent{
			Severity:  string(severityFor(evt.Type)),
			Type:      string(evt.Type),
			RoomKey:   evt.RoomKey,
			Message:   describe(evt),
			Timestamp: evt.Timestamp,
		})
	}
}

// severityFor classifies an event type for the audit trail.
func severityFor(t event.Type) Severity {
	switch t {
	case event.TypeRoomError, event.TypeConnectionRemoved:
		return SeverityError
	case event.TypeConnectionLost, event.TypeActionRejected,
		event.TypeRecoveryOutcome, event.TypeRoomCleanup:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

func describe(evt event.Event) string {
	if evt.UserID != "" {
		return fmt.Sprintf("%s (user %s)", evt.Type, evt.UserID)
	}
	return string(evt.Type)
}
