package subsystem

import (
	"slices"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop cancels the callback and reports whether it was still pending.
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules callbacks on the wall clock.
type RealScheduler struct{}

// AfterFunc wraps time.AfterFunc.
//
//nolint:ireturn // Callers only need the Stop method.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a deterministic clock and scheduler for tests and replays.
// Time only moves when Advance is called.
type Manual struct {
	// mu protects now, timers and seq.
	mu sync.Mutex
	// now is the current virtual time.
	now time.Time
	// timers are the pending callbacks.
	timers []*manualTimer
	// seq orders timers sharing a deadline by creation.
	seq int
}

// manualTimer is a callback pending on a Manual scheduler.
type manualTimer struct {
	// owner is the scheduler the timer belongs to.
	owner *Manual
	// deadline is the virtual time the callback fires at.
	deadline time.Time
	// seq keeps creation order for equal deadlines.
	seq int
	// fn is the callback.
	fn func()
	// stopped is set by Stop or after firing.
	stopped bool
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

// AfterFunc registers a callback that fires when Advance passes its deadline.
//
//nolint:ireturn // Callers only need the Stop method.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++

	timer := &manualTimer{
		owner:    m,
		deadline: m.now.Add(d),
		seq:      m.seq,
		fn:       f,
	}

	m.timers = append(m.timers, timer)

	return timer
}

// Stop cancels the timer.
func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()

	if t.stopped {
		return false
	}

	t.stopped = true

	return true
}

// Advance moves virtual time forward and runs every due callback in deadline order.
// Callbacks run synchronously on the caller's goroutine without the lock held.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()

		due := m.nextDue(target)
		if due == nil {
			m.now = target
			m.mu.Unlock()

			return
		}

		due.stopped = true
		if due.deadline.After(m.now) {
			m.now = due.deadline
		}

		m.mu.Unlock()

		due.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0

	for _, timer := range m.timers {
		if !timer.stopped {
			count++
		}
	}

	return count
}

// nextDue pops the earliest pending timer due at or before target. Caller holds mu.
func (m *Manual) nextDue(target time.Time) *manualTimer {
	m.timers = slices.DeleteFunc(m.timers, func(timer *manualTimer) bool {
		return timer.stopped
	})

	var next *manualTimer

	for _, timer := range m.timers {
		if timer.deadline.After(target) {
			continue
		}

		if next == nil || timer.deadline.Before(next.deadline) ||
			(timer.deadline.Equal(next.deadline) && timer.seq < next.seq) {
			next = timer
		}
	}

	return next
}
