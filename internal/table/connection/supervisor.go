// Package connection tracks physical connection liveness per user:
// heartbeats, the disconnect/reconnect state machine, the grace-period
// policy for the room leader and the pause/resume side effects those
// transitions drive.
package connection

import (
	"sync"
	"time"

	"github.com/louisbranch/roundtable/internal/platform/timeouts"
	"github.com/louisbranch/roundtable/internal/table/event"
	"github.com/louisbranch/roundtable/internal/table/room"
)

const defaultMaxReconnectAttempts = 3

// LeaderPauseReason is recorded when a room pauses because its leader's
// grace period expired.
const LeaderPauseReason = "leader disconnected"

// CorruptionPauseReason is recorded when a room pauses on a corruption
// report.
const CorruptionPauseReason = "state corruption"

// Rooms is the subset of the room registry the supervisor drives.
type Rooms interface {
	Room(key string) (*room.Room, bool)
	PauseRoom(key, reason string) bool
	ResumeRoom(key string) bool
	CompleteRoom(key, reason string) bool
}

// Broadcaster delivers supervisor notices to room subscribers.
type Broadcaster interface {
	Broadcast(roomKey string, evt event.Event)
	BroadcastToUser(roomKey, userID string, evt event.Event)
}

// Record is one user's connection state, independent of any room.
type Record struct {
	UserID            string
	ConnectionID      string
	RoomKey           string
	Connected         bool
	LastSeen          time.Time
	ReconnectAttempts int
	DisconnectReason  string
}

// ConnectionPayload accompanies connectionLost/Restored/Removed events.
type ConnectionPayload struct {
	ConnectionID string
	Reason       string
	Attempts     int
}

// SyncPayload carries the full authoritative room state pushed to a
// reconnecting user.
type SyncPayload struct {
	Status       string
	State        room.GameState
	Participants []room.Participant
}

// CorruptionPayload accompanies roomError events raised on corruption.
type CorruptionPayload struct {
	Details string
}

// Config describes supervisor construction. Zero durations pick the
// platform defaults.
type Config struct {
	Rooms                Rooms
	Broadcaster          Broadcaster
	Heartbeat            time.Duration
	HeartbeatExpiry      time.Duration
	ReconnectWindow      time.Duration
	MaxReconnectAttempts int
	LeaderGrace          time.Duration
	CorruptionResume     time.Duration
	Clock                func() time.Time
}

// Supervisor owns the connection records and the timers that police
// them. Timer callbacks racing in-flight calls treat a missing record or
// an already-transitioned room as a benign no-op.
type Supervisor struct {
	mu      sync.Mutex
	records map[string]*Record

	// One timer per entity per concern. Stopped before re-arming so two
	// timers for the same entity never coexist.
	heartbeatTimers map[string]*time.Timer // by user id
	reconnectTimers map[string]*time.Timer // by user id
	graceTimers     map[string]*time.Timer // by user id
	resumeTimers    map[string]*time.Timer // by room key

	closed bool

	rooms           Rooms
	broadcaster     Broadcaster
	heartbeat       time.Duration
	heartbeatExpiry time.Duration
	reconnectWindow time.Duration
	maxAttempts     int
	leaderGrace     time.Duration
	resumeDelay     time.Duration
	clock           func() time.Time
}

// New creates a supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = timeouts.Heartbeat
	}
	if cfg.HeartbeatExpiry <= 0 {
		cfg.HeartbeatExpiry = timeouts.HeartbeatExpiry
	}
	if cfg.ReconnectWindow <= 0 {
		cfg.ReconnectWindow = timeouts.ReconnectWindow
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.LeaderGrace <= 0 {
		cfg.LeaderGrace = timeouts.LeaderGrace
	}
	if cfg.CorruptionResume <= 0 {
		cfg.CorruptionResume = timeouts.CorruptionResume
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Supervisor{
		records:         make(map[string]*Record),
		heartbeatTimers: make(map[string]*time.Timer),
		reconnectTimers: make(map[string]*time.Timer),
		graceTimers:     make(map[string]*time.Timer),
		resumeTimers:    make(map[string]*time.Timer),
		rooms:           cfg.Rooms,
		broadcaster:     cfg.Broadcaster,
		heartbeat:       cfg.Heartbeat,
		heartbeatExpiry: cfg.HeartbeatExpiry,
		reconnectWindow: cfg.ReconnectWindow,
		maxAttempts:     cfg.MaxReconnectAttempts,
		leaderGrace:     cfg.LeaderGrace,
		resumeDelay:     cfg.CorruptionResume,
		clock:           cfg.Clock,
	}
}

// RegisterConnection creates or refreshes the connection record for a
// user and starts heartbeat monitoring. A user with a prior record takes
// the reconnection path so pending timers are cleared and the attempt
// counter resets.
func (s *Supervisor) RegisterConnection(userID, connID, roomKey string) bool {
	if userID == "" || connID == "" {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, existed := s.records[userID]; existed {
		s.mu.Unlock()
		return s.HandleReconnection(userID, roomKey, connID)
	}
	s.records[userID] = &Record{
		UserID:       userID,
		ConnectionID: connID,
		RoomKey:      roomKey,
		Connected:    true,
		LastSeen:     s.clock().UTC(),
	}
	s.armHeartbeatLocked(userID)
	s.mu.Unlock()
	return true
}

// Record returns a copy of the connection record for a user.
func (s *Supervisor) Record(userID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// UpdateHeartbeat refreshes a connected user's last-seen time. A missing
// or disconnected record is a no-op.
func (s *Supervisor) UpdateHeartbeat(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok || !rec.Connected {
		return false
	}
	rec.LastSeen = s.clock().UTC()
	return true
}

// armHeartbeatLocked (re)starts the heartbeat check for a user. Caller
// holds s.mu.
func (s *Supervisor) armHeartbeatLocked(userID string) {
	if t := s.heartbeatTimers[userID]; t != nil {
		t.Stop()
	}
	s.heartbeatTimers[userID] = time.AfterFunc(s.heartbeat, func() {
		s.checkHeartbeat(userID)
	})
}

func (s *Supervisor) checkHeartbeat(userID string) {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok || !rec.Connected || s.closed {
		s.mu.Unlock()
		return
	}
	if s.clock().UTC().Sub(rec.LastSeen) > s.heartbeatExpiry {
		s.mu.Unlock()
		s.HandleDisconnect(userID, "timeout")
		return
	}
	s.armHeartbeatLocked(userID)
	s.mu.Unlock()
}

// HandleDisconnect marks a user disconnected, updates their room
// participant and starts the policy timer for their role: a bounded
// reconnect window for ordinary participants, one grace period for the
// leader. Reports whether a connected record existed.
func (s *Supervisor) HandleDisconnect(userID, reason string) bool {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok || !rec.Connected || s.closed {
		s.mu.Unlock()
		return false
	}
	rec.Connected = false
	rec.DisconnectReason = reason
	roomKey := rec.RoomKey
	if t := s.heartbeatTimers[userID]; t != nil {
		t.Stop()
		delete(s.heartbeatTimers, userID)
	}
	now := s.clock().UTC()
	s.mu.Unlock()

	leader := false
	if rm, found := s.lookupRoom(roomKey); found {
		rm.UpdateParticipantConnection(userID, false, "")
		if p, exists := rm.Participant(userID); exists {
			leader = p.Role == room.RoleLeader
		}
	}

	s.broadcast(roomKey, event.Event{
		Type:      event.TypeConnectionLost,
		RoomKey:   roomKey,
		UserID:    userID,
		Timestamp: now,
		Payload:   ConnectionPayload{Reason: reason},
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	if leader {
		s.armGraceLocked(userID, roomKey)
	} else {
		s.armReconnectLocked(userID)
	}
	s.mu.Unlock()
	return true
}

// armGraceLocked starts the leader grace period. Caller holds s.mu.
func (s *Supervisor) armGraceLocked(userID, roomKey string) {
	if t := s.graceTimers[userID]; t != nil {
		t.Stop()
	}
	s.graceTimers[userID] = time.AfterFunc(s.leaderGrace, func() {
		s.graceExpired(userID, roomKey)
	})
}

func (s *Supervisor) graceExpired(userID, roomKey string) {
	s.mu.Lock()
	delete(s.graceTimers, userID)
	rec, ok := s.records[userID]
	if !ok || rec.Connected || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.rooms != nil {
		s.rooms.PauseRoom(roomKey, LeaderPauseReason)
	}
}

// armReconnectLocked starts one reconnect window. Caller holds s.mu.
func (s *Supervisor) armReconnectLocked(userID string) {
	if t := s.reconnectTimers[userID]; t != nil {
		t.Stop()
	}
	s.reconnectTimers[userID] = time.AfterFunc(s.reconnectWindow, func() {
		s.reconnectExpired(userID)
	})
}

func (s *Supervisor) reconnectExpired(userID string) {
	s.mu.Lock()
	delete(s.reconnectTimers, userID)
	rec, ok := s.records[userID]
	if !ok || rec.Connected || s.closed {
		s.mu.Unlock()
		return
	}
	rec.ReconnectAttempts++
	if rec.ReconnectAttempts < s.maxAttempts {
		s.armReconnectLocked(userID)
		s.mu.Unlock()
		return
	}

	// Attempts exhausted. Permanent departure.
	attempts := rec.ReconnectAttempts
	reason := rec.DisconnectReason
	roomKey := rec.RoomKey
	delete(s.records, userID)
	now := s.clock().UTC()
	s.mu.Unlock()

	if rm, found := s.lookupRoom(roomKey); found {
		rm.DropParticipant(userID)
	}
	s.broadcast(roomKey, event.Event{
		Type:      event.TypeConnectionRemoved,
		RoomKey:   roomKey,
		UserID:    userID,
		Timestamp: now,
		Payload:   ConnectionPayload{Reason: reason, Attempts: attempts},
	})
}

// HandleReconnection clears pending timers, marks the record connected
// under the new connection id, resumes a room its leader left paused and
// pushes a full state sync to the reconnecting user only.
func (s *Supervisor) HandleReconnection(userID, roomKey, newConnID string) bool {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok || s.closed {
		s.mu.Unlock()
		return false
	}
	if t := s.reconnectTimers[userID]; t != nil {
		t.Stop()
		delete(s.reconnectTimers, userID)
	}
	if t := s.graceTimers[userID]; t != nil {
		t.Stop()
		delete(s.graceTimers, userID)
	}
	rec.Connected = true
	if newConnID != "" {
		rec.ConnectionID = newConnID
	}
	if roomKey != "" {
		rec.RoomKey = roomKey
	}
	rec.ReconnectAttempts = 0
	rec.DisconnectReason = ""
	now := s.clock().UTC()
	rec.LastSeen = now
	key := rec.RoomKey
	s.armHeartbeatLocked(userID)
	s.mu.Unlock()

	rm, found := s.lookupRoom(key)
	if found {
		rm.UpdateParticipantConnection(userID, true, newConnID)
		if p, exists := rm.Participant(userID); exists &&
			p.Role == room.RoleLeader && rm.Status() == room.StatusPaused && s.rooms != nil {
			s.rooms.ResumeRoom(key)
		}
	}

	s.broadcast(key, event.Event{
		Type:      event.TypeConnectionRestored,
		RoomKey:   key,
		UserID:    userID,
		Timestamp: now,
		Payload:   ConnectionPayload{ConnectionID: newConnID},
	})
	if found && s.broadcaster != nil {
		// Full sync goes to the reconnecting user only, never room-wide.
		s.broadcaster.BroadcastToUser(key, userID, event.Event{
			Type:      event.TypeStateSync,
			RoomKey:   key,
			UserID:    userID,
			Timestamp: s.clock().UTC(),
			Payload: SyncPayload{
				Status:       rm.Status().String(),
				State:        rm.State(),
				Participants: rm.Participants(),
			},
		})
	}
	return true
}

// HandleStateCorruption pauses the room, broadcasts a structured error
// and schedules a resume attempt. A room that cannot pause is escalated
// to completion.
func (s *Supervisor) HandleStateCorruption(roomKey, details string) {
	if s.rooms == nil {
		return
	}
	paused := s.rooms.PauseRoom(roomKey, CorruptionPauseReason)

	s.broadcast(roomKey, event.Event{
		Type:      event.TypeRoomError,
		RoomKey:   roomKey,
		Timestamp: s.clock().UTC(),
		Payload:   CorruptionPayload{Details: details},
	})

	if !paused {
		s.rooms.CompleteRoom(roomKey, CorruptionPauseReason)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if t := s.resumeTimers[roomKey]; t != nil {
		t.Stop()
	}
	s.resumeTimers[roomKey] = time.AfterFunc(s.resumeDelay, func() {
		s.mu.Lock()
		delete(s.resumeTimers, roomKey)
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.rooms.ResumeRoom(roomKey)
		}
	})
	s.mu.Unlock()
}

// Cleanup cancels every outstanding timer and clears all records. Safe
// to call more than once.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.heartbeatTimers {
		t.Stop()
	}
	for _, t := range s.reconnectTimers {
		t.Stop()
	}
	for _, t := range s.graceTimers {
		t.Stop()
	}
	for _, t := range s.resumeTimers {
		t.Stop()
	}
	s.heartbeatTimers = make(map[string]*time.Timer)
	s.reconnectTimers = make(map[string]*time.Timer)
	s.graceTimers = make(map[string]*time.Timer)
	s.resumeTimers = make(map[string]*time.Timer)
	s.records = make(map[string]*Record)
}

func (s *Supervisor) lookupRoom(roomKey string) (*room.Room, bool) {
	if s.rooms == nil || roomKey == "" {
		return nil, false
	}
	return s.rooms.Room(roomKey)
}

func (s *Supervisor) broadcast(roomKey string, evt event.Event) {
	if s.broadcaster == nil || roomKey == "" {
		return
	}
	s.broadcaster.Broadcast(roomKey, evt)
}
