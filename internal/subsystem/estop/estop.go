package estop

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// Event kinds emitted by the adapter.
const (
	EventEmergencyStop      = "emergency_stop"
	EventEmergencyStopReset = "emergency_stop_reset"
	EventMachineryRestarted = "machinery_restarted"
)

const stopPenalty = 20

//nolint:gochecknoglobals // Immutable scoring table.
var stalePolicy = subsystem.StalePolicy{GraceDays: 30, Cap: 50, Never: 30}

// machine is the mutable runtime view of a configured machine.
type machine struct {
	name     string
	critical bool
	status   string
}

// Adapter is the emergency stop subsystem.
type Adapter struct {
	// mu protects every field below.
	mu sync.RWMutex
	// emitter delivers events to the coordinator.
	emitter subsystem.Emitter
	// opts holds the clock and test policy.
	opts subsystem.Options
	// cfg is the validated layout.
	cfg Config
	// zones keeps the configured zone order.
	zones []string
	// machinery maps zone to its machines.
	machinery map[string][]*machine
	// stopped marks zones held by an active emergency stop.
	stopped map[string]bool
	// lastTest is the last self-test time.
	lastTest time.Time
}

var _ safety.Adapter = (*Adapter)(nil)

// New builds the adapter from a layout.
func New(cfg Config, opts ...subsystem.Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		opts:      subsystem.NewOptions(opts...),
		cfg:       cfg,
		machinery: make(map[string][]*machine, len(cfg.Zones)),
		stopped:   make(map[string]bool, len(cfg.Zones)),
	}

	for _, zone := range cfg.Zones {
		a.zones = append(a.zones, zone.Name)

		for _, m := range zone.Machinery {
			a.machinery[zone.Name] = append(a.machinery[zone.Name], &machine{
				name:     m.Name,
				critical: m.Critical,
				status:   m.Status,
			})
		}
	}

	return a, nil
}

// System identifies the adapter.
func (a *Adapter) System() safety.SystemType {
	return safety.SystemEmergencyStop
}

// RegisterEventSink sets the single event consumer.
func (a *Adapter) RegisterEventSink(sink safety.EventSink) error {
	return a.emitter.Register(sink)
}

// Trigger stops running machinery in a zone or in all zones.
// Zones that are already stopped are left untouched.
func (a *Adapter) Trigger(ctx context.Context, req safety.TriggerRequest) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := req.Target
	if target == "" {
		target = subsystem.AllZones
	}

	zones, ok := subsystem.ExpandZones(target, a.zones)
	if !ok {
		return nil, fmt.Errorf("emergency stop zone %q: %w", target, safety.ErrNotFound)
	}

	reason := req.Reason
	if reason == "" {
		reason = "Manual activation"
	}

	a.mu.Lock()

	var (
		newlyStopped []string
		affected     []string
	)

	for _, zone := range zones {
		if a.stopped[zone] {
			continue
		}

		a.stopped[zone] = true
		newlyStopped = append(newlyStopped, zone)

		for _, m := range a.machinery[zone] {
			if m.status == MachineRunning {
				m.status = MachineEmergencyStop
				affected = append(affected, zone+":"+m.name)
			}
		}
	}

	now := a.opts.Clock()
	a.mu.Unlock()

	result := &safety.Result{
		Success:   true,
		System:    safety.SystemEmergencyStop,
		Action:    safety.ActionTrigger,
		Target:    target,
		Affected:  affected,
		Details:   safety.Payload{"zones": newlyStopped, "reason": reason},
		Timestamp: now,
	}

	if len(newlyStopped) == 0 {
		result.Message = "emergency stop already active"

		return result, nil
	}

	result.Message = fmt.Sprintf("emergency stop active in %d zone(s), %d machine(s) stopped", len(newlyStopped), len(affected))

	logger.WarnKV(ctx, "Emergency stop triggered", "zone", target, "reason", reason, "affected_machinery", affected)

	a.emitter.Emit(safety.NewEvent(safety.SystemEmergencyStop, EventEmergencyStop, safety.Payload{
		"zone":               target,
		"zones":              newlyStopped,
		"reason":             reason,
		"affected_machinery": affected,
	}, now))

	return result, nil
}

// Reset releases stopped zones. Non-critical machinery resumes; critical machinery
// moves to stopped and waits for RestartMachinery.
func (a *Adapter) Reset(ctx context.Context, target string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if target == "" {
		target = subsystem.AllZones
	}

	zones, ok := subsystem.ExpandZones(target, a.zones)
	if !ok {
		return nil, fmt.Errorf("emergency stop zone %q: %w", target, safety.ErrNotFound)
	}

	a.mu.Lock()

	var (
		released        []string
		resumed         []string
		awaitingRestart []string
	)

	for _, zone := range zones {
		if !a.stopped[zone] {
			continue
		}

		delete(a.stopped, zone)
		released = append(released, zone)

		for _, m := range a.machinery[zone] {
			if m.status != MachineEmergencyStop {
				continue
			}

			if m.critical {
				m.status = MachineStopped
				awaitingRestart = append(awaitingRestart, zone+":"+m.name)

				continue
			}

			m.status = MachineRunning
			resumed = append(resumed, zone+":"+m.name)
		}
	}

	remaining := a.stoppedZonesLocked()
	now := a.opts.Clock()
	a.mu.Unlock()

	result := &safety.Result{
		Success: true,
		System:  safety.SystemEmergencyStop,
		Action:  safety.ActionReset,
		Target:  target,
		Details: safety.Payload{
			"zones":            released,
			"awaiting_restart": awaitingRestart,
			"remaining_stops":  remaining,
		},
		Affected:  resumed,
		Timestamp: now,
	}

	if len(released) == 0 {
		result.Message = "no active emergency stop"

		return result, nil
	}

	result.Message = fmt.Sprintf("released %d zone(s), %d critical machine(s) await manual restart",
		len(released), len(awaitingRestart))

	for _, name := range awaitingRestart {
		logger.WarnKV(ctx, "Critical machinery requires manual restart", "machine", name)
	}

	a.emitter.Emit(safety.NewEvent(safety.SystemEmergencyStop, EventEmergencyStopReset, safety.Payload{
		"zone":             target,
		"zones":            released,
		"reset_machinery":  resumed,
		"awaiting_restart": awaitingRestart,
		"remaining_stops":  remaining,
	}, now))

	return result, nil
}

// RestartMachinery manually restarts critical machinery left stopped by a reset.
func (a *Adapter) RestartMachinery(ctx context.Context, zone, name string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()

	machines, ok := a.machinery[zone]
	if !ok {
		a.mu.Unlock()

		return nil, fmt.Errorf("emergency stop zone %q: %w", zone, safety.ErrNotFound)
	}

	idx := slices.IndexFunc(machines, func(m *machine) bool { return m.name == name })
	if idx < 0 {
		a.mu.Unlock()

		return nil, fmt.Errorf("machine %s:%s: %w", zone, name, safety.ErrNotFound)
	}

	target := machines[idx]

	switch {
	case a.stopped[zone]:
		a.mu.Unlock()

		return nil, fmt.Errorf("restart %s:%s while the zone is stopped: %w", zone, name, safety.ErrInvalidTransition)
	case target.status != MachineStopped:
		status := target.status
		a.mu.Unlock()

		return nil, fmt.Errorf("restart %s:%s from %s: %w", zone, name, status, safety.ErrInvalidTransition)
	}

	target.status = MachineRunning
	now := a.opts.Clock()
	a.mu.Unlock()

	logger.InfoKV(ctx, "Critical machinery restarted", "zone", zone, "machine", name)

	a.emitter.Emit(safety.NewEvent(safety.SystemEmergencyStop, EventMachineryRestarted, safety.Payload{
		"zone":    zone,
		"machine": name,
	}, now))

	return &safety.Result{
		Success:   true,
		System:    safety.SystemEmergencyStop,
		Action:    "restart",
		Target:    zone + ":" + name,
		Message:   "machinery restarted",
		Affected:  []string{zone + ":" + name},
		Timestamp: now,
	}, nil
}

// Test checks every stop circuit against the response limit.
func (a *Adapter) Test(ctx context.Context) *safety.TestReport {
	waitErr := subsystem.Wait(ctx, a.opts.IODelay)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.Clock()
	devices := make([]safety.DeviceResult, 0, len(a.zones))

	for _, zone := range a.zones {
		result := safety.DeviceResult{
			Device:       zone + "_stop_circuit",
			Zone:         zone,
			ResponseTime: a.cfg.TestResponseTime,
			Passed:       a.cfg.TestResponseTime < a.cfg.TestResponseLimit,
		}

		switch {
		case waitErr != nil:
			result.Passed = false
			result.Detail = waitErr.Error()
		case !result.Passed:
			result.Detail = fmt.Sprintf("response %s exceeds %s", a.cfg.TestResponseTime, a.cfg.TestResponseLimit)
		}

		devices = append(devices, result)
	}

	a.lastTest = now

	return safety.NewTestReport(safety.SystemEmergencyStop, devices, a.opts.TestPolicy, now)
}

// Status returns the current zone and machinery view.
func (a *Adapter) Status(_ context.Context) *safety.SubsystemState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.opts.Clock()
	zones := make(map[string]safety.Status, len(a.zones))
	machinery := make(map[string]any, len(a.zones))
	total, critical := 0, 0

	var awaiting []string

	for _, zone := range a.zones {
		status := safety.StatusNormal
		machines := make(map[string]any, len(a.machinery[zone]))

		for _, m := range a.machinery[zone] {
			total++

			if m.critical {
				critical++
			}

			machines[m.name] = map[string]any{"status": m.status, "critical": m.critical}

			if m.status == MachineStopped {
				status = safety.StatusMaintenance
				awaiting = append(awaiting, zone+":"+m.name)
			}
		}

		if a.stopped[zone] {
			status = safety.StatusEmergency
		}

		zones[zone] = status
		machinery[zone] = machines
	}

	active := len(a.stopped)

	return &safety.SubsystemState{
		System:       safety.SystemEmergencyStop,
		Status:       safety.DeriveStatus(zones),
		Zones:        zones,
		ActiveAlarms: active,
		Inventory: map[string]int{
			"zones":              len(a.zones),
			"machinery":          total,
			"critical_machinery": critical,
		},
		LastTest:         a.lastTest,
		PerformanceScore: a.scoreLocked(now),
		Details: safety.Payload{
			"machinery":        machinery,
			"active_stops":     a.stoppedZonesLocked(),
			"awaiting_restart": awaiting,
		},
		UpdatedAt: now,
	}
}

// MachineStatus returns the status of one machine.
func (a *Adapter) MachineStatus(zone, name string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, m := range a.machinery[zone] {
		if m.name == name {
			return m.status, nil
		}
	}

	return "", fmt.Errorf("machine %s:%s: %w", zone, name, safety.ErrNotFound)
}

// RestoreLastTest seeds the self-test time from a persisted snapshot.
func (a *Adapter) RestoreLastTest(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if at.After(a.lastTest) {
		a.lastTest = at
	}
}

// Close releases nothing; the adapter owns no timers.
func (a *Adapter) Close() {}

// scoreLocked computes the performance score. Caller holds mu.
func (a *Adapter) scoreLocked(now time.Time) float64 {
	score := subsystem.MaxScore
	score -= float64(len(a.stopped) * stopPenalty)
	score -= stalePolicy.Penalty(a.lastTest, now)

	return subsystem.Clamp(score)
}

// stoppedZonesLocked lists stopped zones in layout order. Caller holds mu.
func (a *Adapter) stoppedZonesLocked() []string {
	var zones []string

	for _, zone := range a.zones {
		if a.stopped[zone] {
			zones = append(zones, zone)
		}
	}

	return zones
}
