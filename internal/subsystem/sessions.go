package subsystem

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// defaultSessionHistory is how many finished sessions are kept for queries.
const defaultSessionHistory = 256

// ExpiryHook is called after a session completes naturally.
type ExpiryHook func(session *safety.Session)

// Sessions is an adapter-owned table of timed sessions.
// Expiry timers re-check the session status, so a stopped session is never completed.
type Sessions struct {
	// mu protects entries and order.
	mu sync.Mutex
	// clock supplies start and end times.
	clock Clock
	// scheduler runs expiry callbacks.
	scheduler Scheduler
	// entries maps session ids to sessions and their timers.
	entries map[string]*sessionEntry
	// order keeps creation order for stable listings and pruning.
	order []string
	// history is the number of finished sessions retained.
	history int
}

// sessionEntry couples a session with its expiry timer.
type sessionEntry struct {
	// session is the owned record.
	session *safety.Session
	// timer is nil for sessions that run until stopped.
	timer Timer
}

// NewSessions creates an empty table.
func NewSessions(clock Clock, scheduler Scheduler) *Sessions {
	if clock == nil {
		clock = time.Now
	}

	if scheduler == nil {
		scheduler = RealScheduler{}
	}

	return &Sessions{
		clock:     clock,
		scheduler: scheduler,
		entries:   make(map[string]*sessionEntry),
		history:   defaultSessionHistory,
	}
}

// Start opens an active session. A positive duration arms an expiry timer.
func (s *Sessions) Start(
	kind safety.SessionKind,
	zones []string,
	duration time.Duration,
	details safety.Payload,
	onExpire ExpiryHook,
) *safety.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &safety.Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartTime: s.clock(),
		Zones:     slices.Clone(zones),
		Status:    safety.SessionActive,
		Duration:  duration,
		Details:   details.Clone(),
	}

	entry := &sessionEntry{session: session}
	if duration > 0 {
		id := session.ID
		entry.timer = s.scheduler.AfterFunc(duration, func() {
			s.expire(id, onExpire)
		})
	}

	s.entries[session.ID] = entry
	s.order = append(s.order, session.ID)
	s.prune()

	return session.Clone()
}

// Stop cancels an active session. Stopping a finished session is a no-op.
func (s *Sessions) Stop(id string) (*safety.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, safety.ErrNotFound)
	}

	s.stopEntry(entry)

	return entry.session.Clone(), nil
}

// StopMatching stops every active session accepted by match and returns them.
func (s *Sessions) StopMatching(match func(*safety.Session) bool) []*safety.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopped []*safety.Session

	for _, id := range s.order {
		entry := s.entries[id]
		if !entry.session.Active() || !match(entry.session) {
			continue
		}

		s.stopEntry(entry)
		stopped = append(stopped, entry.session.Clone())
	}

	return stopped
}

// FindActive returns the first active session accepted by match.
func (s *Sessions) FindActive(match func(*safety.Session) bool) *safety.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		session := s.entries[id].session
		if session.Active() && match(session) {
			return session.Clone()
		}
	}

	return nil
}

// Get returns a session by id, active or finished.
func (s *Sessions) Get(id string) (*safety.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}

	return entry.session.Clone(), true
}

// Active returns the active sessions in creation order.
func (s *Sessions) Active() []*safety.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*safety.Session

	for _, id := range s.order {
		if session := s.entries[id].session; session.Active() {
			active = append(active, session.Clone())
		}
	}

	return active
}

// Close disarms every pending timer; sessions keep their current status.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
}

// expire completes a session if it is still active.
func (s *Sessions) expire(id string, onExpire ExpiryHook) {
	s.mu.Lock()

	entry, ok := s.entries[id]
	if !ok || !entry.session.Active() {
		s.mu.Unlock()

		return
	}

	entry.session.Status = safety.SessionCompleted
	entry.session.EndTime = s.clock()
	completed := entry.session.Clone()

	s.mu.Unlock()

	if onExpire != nil {
		onExpire(completed)
	}
}

// stopEntry marks an active entry stopped and disarms its timer. Caller holds mu.
func (s *Sessions) stopEntry(entry *sessionEntry) {
	if !entry.session.Active() {
		return
	}

	if entry.timer != nil {
		entry.timer.Stop()
	}

	entry.session.Status = safety.SessionStopped
	entry.session.EndTime = s.clock()
}

// prune drops the oldest finished sessions beyond the history limit. Caller holds mu.
func (s *Sessions) prune() {
	finished := 0

	for _, id := range s.order {
		if !s.entries[id].session.Active() {
			finished++
		}
	}

	if finished <= s.history {
		return
	}

	excess := finished - s.history

	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if excess == 0 || s.entries[id].session.Active() {
			return false
		}

		delete(s.entries, id)
		excess--

		return true
	})
}
