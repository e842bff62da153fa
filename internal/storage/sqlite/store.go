// Package sqlite provides a SQLite-backed implementation of the snapshot
// and telemetry stores.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/roundtable/internal/storage"
)

const defaultSnapshotRetention = 10

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_key TEXT NOT NULL,
	state_json TEXT NOT NULL,
	captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_room ON snapshots(room_key, id);

CREATE TABLE IF NOT EXISTS telemetry_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	severity TEXT NOT NULL,
	event_type TEXT NOT NULL,
	room_key TEXT,
	message TEXT,
	created_at INTEGER NOT NULL
);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides a SQLite-backed store implementing the snapshot and
// telemetry storage interfaces.
type Store struct {
	db        *sql.DB
	retention int
}

// Option configures store behavior.
type Option func(*Store)

// WithSnapshotRetention bounds how many snapshots are kept per room.
func WithSnapshotRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

// Open opens a SQLite store at the provided path and bootstraps the
// schema. The path ":memory:" opens an in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	store := &Store{db: db, retention: defaultSnapshotRetention}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSnapshot persists a snapshot and trims the room's history to the
// configured retention.
func (s *Store) SaveSnapshot(ctx context.Context, record storage.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.RoomKey) == "" {
		return fmt.Errorf("snapshot room key is required")
	}

	stateJSON, err := json.Marshal(record.State)
	if err != nil {
		return fmt.Errorf("encode snapshot state: %w", err)
	}
	capturedAt := record.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (room_key, state_json, captured_at) VALUES (?, ?, ?)`,
		record.RoomKey, string(stateJSON), toMillis(capturedAt),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE room_key = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE room_key = ? ORDER BY id DESC LIMIT ?
		)`,
		record.RoomKey, record.RoomKey, s.retention,
	); err != nil {
		return fmt.Errorf("trim snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a room.
func (s *Store) LatestSnapshot(ctx context.Context, roomKey string) (storage.SnapshotRecord, error) {
	records, err := s.ListSnapshots(ctx, roomKey, 1)
	if err != nil {
		return storage.SnapshotRecord{}, err
	}
	if len(records) == 0 {
		return storage.SnapshotRecord{}, storage.ErrNotFound
	}
	return records[0], nil
}

// ListSnapshots returns up to limit snapshots for a room, newest first.
func (s *Store) ListSnapshots(ctx context.Context, roomKey string, limit int) ([]storage.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = s.retention
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state_json, captured_at FROM snapshots WHERE room_key = ? ORDER BY id DESC LIMIT ?`,
		roomKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.SnapshotRecord
	for rows.Next() {
		var stateJSON string
		var capturedAt int64
		if err := rows.Scan(&stateJSON, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		record := storage.SnapshotRecord{RoomKey: roomKey, CapturedAt: fromMillis(capturedAt)}
		if err := json.Unmarshal([]byte(stateJSON), &record.State); err != nil {
			return nil, fmt.Errorf("decode snapshot state: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return records, nil
}

// DeleteSnapshots removes every snapshot for a room.
func (s *Store) DeleteSnapshots(ctx context.Context, roomKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE room_key = ?`, roomKey); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

// AppendTelemetryEvent records one operational telemetry event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	timestamp := evt.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_events (severity, event_type, room_key, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		evt.Severity, evt.Type, evt.RoomKey, evt.Message, toMillis(timestamp),
	); err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

// CountTelemetryEvents reports how many telemetry events are stored,
// optionally filtered by room key.
func (s *Store) CountTelemetryEvents(ctx context.Context, roomKey string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var count int
	var err error
	if roomKey == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry_events`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry_events WHERE room_key = ?`, roomKey).Scan(&count)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("count telemetry events: %w", err)
	}
	return count, nil
}
