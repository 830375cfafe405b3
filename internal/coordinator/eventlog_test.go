package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// TestEventLog_Ring verifies eviction order and newest-first reads.
func TestEventLog_Ring(t *testing.T) {
	t.Parallel()

	log := NewEventLog(3)
	base := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

	var ids []string

	for i := range 5 {
		event := safety.NewEvent(safety.SystemPAGA, "alarm_activated", nil, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, event.ID)
		log.Append(event)
	}

	require.Equal(t, 3, log.Len())
	require.Equal(t, 2, log.Evicted())

	_, ok := log.Get(ids[0])
	require.False(t, ok)

	events := log.Since(time.Time{})
	require.Len(t, events, 3)
	require.Equal(t, ids[4], events[0].ID)
	require.Equal(t, ids[2], events[2].ID)

	events = log.Since(base.Add(3 * time.Minute))
	require.Len(t, events, 2)
}

// TestEventLog_AppendKeepsFirstCopy verifies a repeated id does not
// duplicate the entry or overwrite its outcome.
func TestEventLog_AppendKeepsFirstCopy(t *testing.T) {
	t.Parallel()

	log := NewEventLog(10)
	event := safety.NewEvent(safety.SystemCCTV, "emergency_recording_started", nil, time.Now())

	log.Append(event)
	require.NoError(t, log.MarkProcessed(event.ID, nil))

	log.Append(event)

	require.Equal(t, 1, log.Len())
	require.Empty(t, log.Unprocessed())
}

// TestEventLog_MarkProcessedOnce verifies actions are recorded exactly once and readers get copies.
func TestEventLog_MarkProcessedOnce(t *testing.T) {
	t.Parallel()

	log := NewEventLog(10)
	event := safety.NewEvent(safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "galley"}, time.Now())
	log.Append(event)

	require.Len(t, log.Unprocessed(), 1)

	actions := []safety.ResponseAction{{Step: 1, System: safety.SystemPAGA, Action: safety.ActionTrigger, Success: true}}
	require.NoError(t, log.MarkProcessed(event.ID, actions))
	require.ErrorIs(t, log.MarkProcessed(event.ID, nil), ErrAlreadyProcessed)
	require.ErrorIs(t, log.MarkProcessed("missing", nil), safety.ErrNotFound)

	stored, ok := log.Get(event.ID)
	require.True(t, ok)
	require.True(t, stored.Processed)
	require.Len(t, stored.ResponseActions, 1)
	require.Empty(t, log.Unprocessed())

	// Mutating a copy leaves the log untouched.
	stored.Payload["zone"] = "bridge"
	again, _ := log.Get(event.ID)
	require.Equal(t, "galley", again.Payload["zone"])

	// The caller's event is not shared with the log.
	require.False(t, event.Processed)
}

// TestEventLog_ConcurrentReaders verifies reads while the single writer appends.
func TestEventLog_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	log := NewEventLog(50)

	var wg sync.WaitGroup

	for range 4 {
		wg.Go(func() {
			for range 200 {
				_ = log.Since(time.Time{})
				_ = log.Len()
			}
		})
	}

	for range 200 {
		log.Append(safety.NewEvent(safety.SystemCCTV, "emergency_recording_started", nil, time.Now()))
	}

	wg.Wait()
	require.Equal(t, 50, log.Len())
}
