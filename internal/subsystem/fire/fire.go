package fire

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// Event kinds emitted by the adapter.
const (
	EventFireAlarm      = "fire_alarm"
	EventFireAlarmReset = "fire_alarm_reset"
)

// Detector statuses.
const (
	DetectorActive = "active"
	DetectorAlarm  = "alarm"
	DetectorFault  = "fault"
)

// Suppression statuses.
const (
	SuppressionReady       = "ready"
	SuppressionCountdown   = "countdown"
	SuppressionDischarging = "discharging"
	SuppressionDischarged  = "discharged"
	SuppressionRecharging  = "recharging"
)

const (
	alarmPenalty  = 15
	faultyPenalty = 5
)

//nolint:gochecknoglobals // Immutable scoring table.
var stalePolicy = subsystem.StalePolicy{GraceDays: 7, Cap: 30, Never: 25}

// detector is the runtime view of a configured detector.
type detector struct {
	cfg    Detector
	zone   string
	status string
}

// alarm is an active fire alarm.
type alarm struct {
	id       string
	zone     string
	detector string
	reason   string
	start    time.Time
}

// suppression tracks one zone's extinguishing system.
type suppression struct {
	cfg     Suppression
	status  string
	session string
	// recharge is pending while status is recharging.
	recharge subsystem.Timer
}

// Adapter is the fire detection subsystem.
type Adapter struct {
	// mu protects every field below except emitter and sessions.
	mu sync.RWMutex
	// emitter delivers events to the coordinator.
	emitter subsystem.Emitter
	// opts holds clock, scheduler and test policy.
	opts subsystem.Options
	// cfg is the validated layout.
	cfg Config
	// logCtx carries the named logger for timer callbacks.
	logCtx context.Context //nolint:containedctx // Timer callbacks have no caller context.
	// zones maps zone names to their configuration.
	zones map[string]*Zone
	// order keeps the configured zone order.
	order []string
	// detectors maps detector id to its runtime state.
	detectors map[string]*detector
	// alarms maps alarm id to the alarm.
	alarms map[string]*alarm
	// zoneAlarm maps zone to its active alarm id.
	zoneAlarm map[string]string
	// suppression maps zone to its extinguishing system.
	suppression map[string]*suppression
	// sessions holds countdown and discharge sessions.
	sessions *subsystem.Sessions
	// lastTest is the last self-test time.
	lastTest time.Time
}

var _ safety.Adapter = (*Adapter)(nil)

// New builds the adapter from a layout.
func New(cfg Config, opts ...subsystem.Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := subsystem.NewOptions(opts...)

	a := &Adapter{
		opts:        options,
		cfg:         cfg,
		logCtx:      logger.WithName(context.Background(), string(safety.SystemFireDetection)),
		zones:       make(map[string]*Zone, len(cfg.Zones)),
		detectors:   make(map[string]*detector),
		alarms:      make(map[string]*alarm),
		zoneAlarm:   make(map[string]string),
		suppression: make(map[string]*suppression, len(cfg.Zones)),
		sessions:    subsystem.NewSessions(options.Clock, options.Scheduler),
	}

	for i := range cfg.Zones {
		zone := &cfg.Zones[i]
		a.zones[zone.Name] = zone
		a.order = append(a.order, zone.Name)

		for _, d := range zone.Detectors {
			a.detectors[d.ID] = &detector{cfg: d, zone: zone.Name, status: DetectorActive}
		}

		if zone.Suppression.Type != "" {
			a.suppression[zone.Name] = &suppression{cfg: zone.Suppression, status: SuppressionReady}
		}
	}

	return a, nil
}

// System identifies the adapter.
func (a *Adapter) System() safety.SystemType {
	return safety.SystemFireDetection
}

// RegisterEventSink sets the single event consumer.
func (a *Adapter) RegisterEventSink(sink safety.EventSink) error {
	return a.emitter.Register(sink)
}

// Trigger raises a fire alarm in a zone and schedules the suppression countdown.
// params.detector_id selects the detector that fired; otherwise the first healthy one is used.
func (a *Adapter) Trigger(ctx context.Context, req safety.TriggerRequest) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "Manual activation"
	}

	a.mu.Lock()

	zone, ok := a.zones[req.Target]
	if !ok {
		a.mu.Unlock()

		return nil, fmt.Errorf("fire zone %q: %w", req.Target, safety.ErrNotFound)
	}

	now := a.opts.Clock()

	if id, active := a.zoneAlarm[zone.Name]; active {
		a.mu.Unlock()

		return &safety.Result{
			Success:   true,
			System:    safety.SystemFireDetection,
			Action:    safety.ActionTrigger,
			Target:    zone.Name,
			Message:   "fire alarm already active",
			Details:   safety.Payload{"alarm_id": id},
			Timestamp: now,
		}, nil
	}

	detectorID, err := a.pickDetectorLocked(zone.Name, req.Params)
	if err != nil {
		a.mu.Unlock()

		return nil, err
	}

	fired := &alarm{
		id:       newAlarmID(zone.Name),
		zone:     zone.Name,
		detector: detectorID,
		reason:   reason,
		start:    now,
	}

	a.alarms[fired.id] = fired
	a.zoneAlarm[zone.Name] = fired.id

	delay := a.cfg.UnoccupiedDelay
	if zone.Personnel > 0 {
		delay = a.cfg.OccupiedDelay
	}

	scheduled := a.scheduleCountdownLocked(zone.Name, fired.id, delay)
	a.mu.Unlock()

	details := safety.Payload{
		"alarm_id":           fired.id,
		"detector_id":        detectorID,
		"evacuation_time":    zone.EvacuationTime.String(),
		"evacuation_ordered": zone.Personnel > 0,
	}

	if scheduled {
		details["suppression_delay"] = delay.String()
	}

	logger.WarnKV(ctx, "Fire alarm triggered", "zone", zone.Name, "alarm_id", fired.id, "reason", reason)

	a.emitter.Emit(safety.NewEvent(safety.SystemFireDetection, EventFireAlarm, safety.Payload{
		"alarm_id":        fired.id,
		"zone":            zone.Name,
		"priority":        zone.Priority,
		"detector_id":     detectorID,
		"reason":          reason,
		"personnel":       zone.Personnel,
		"evacuation_time": zone.EvacuationTime.String(),
	}, now))

	return &safety.Result{
		Success:   true,
		System:    safety.SystemFireDetection,
		Action:    safety.ActionTrigger,
		Target:    zone.Name,
		Message:   "fire alarm activated in " + zone.Name,
		Affected:  []string{detectorID},
		Details:   details,
		Timestamp: now,
	}, nil
}

// Reset clears fire alarms by alarm id, zone or all_zones. Pending suppression is
// cancelled and discharged systems start recharging.
func (a *Adapter) Reset(ctx context.Context, target string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if target == "" {
		target = subsystem.AllZones
	}

	a.mu.Lock()

	zones, err := a.resolveResetLocked(target)
	if err != nil {
		a.mu.Unlock()

		return nil, err
	}

	var (
		cleared  []string
		alarmIDs []string
		affected []string
	)

	for _, zone := range zones {
		changed := false

		if id, ok := a.zoneAlarm[zone]; ok {
			fired := a.alarms[id]
			delete(a.alarms, id)
			delete(a.zoneAlarm, zone)

			if d, ok := a.detectors[fired.detector]; ok && d.status == DetectorAlarm {
				d.status = DetectorActive
			}

			alarmIDs = append(alarmIDs, id)
			changed = true
		}

		if a.releaseSuppressionLocked(zone) {
			affected = append(affected, zone+":suppression")
			changed = true
		}

		if changed {
			cleared = append(cleared, zone)
		}
	}

	now := a.opts.Clock()
	a.mu.Unlock()

	result := &safety.Result{
		Success:   true,
		System:    safety.SystemFireDetection,
		Action:    safety.ActionReset,
		Target:    target,
		Affected:  affected,
		Details:   safety.Payload{"zones": cleared, "alarm_ids": alarmIDs},
		Timestamp: now,
	}

	if len(cleared) == 0 {
		result.Message = "no active fire alarm"

		return result, nil
	}

	result.Message = fmt.Sprintf("cleared %d fire alarm(s)", len(alarmIDs))

	logger.InfoKV(ctx, "Fire alarm reset", "target", target, "alarm_ids", alarmIDs)

	a.emitter.Emit(safety.NewEvent(safety.SystemFireDetection, EventFireAlarmReset, safety.Payload{
		"zone":      target,
		"zones":     cleared,
		"alarm_ids": alarmIDs,
	}, now))

	return result, nil
}

// ActivateSuppression discharges a zone's system immediately, skipping any countdown.
func (a *Adapter) ActivateSuppression(ctx context.Context, zone string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	system, ok := a.suppression[zone]
	if !ok {
		return nil, fmt.Errorf("suppression system in %q: %w", zone, safety.ErrNotFound)
	}

	switch system.status {
	case SuppressionReady:
	case SuppressionCountdown:
		if _, err := a.sessions.Stop(system.session); err != nil {
			return nil, fmt.Errorf("cancel countdown: %w", err)
		}
	default:
		return nil, fmt.Errorf("activate suppression in %s while %s: %w", zone, system.status, safety.ErrInvalidTransition)
	}

	a.startDischargeLocked(zone, a.zoneAlarm[zone])

	logger.WarnKV(ctx, "Fire suppression activated", "zone", zone, "agent", system.cfg.Type)

	return &safety.Result{
		Success: true,
		System:  safety.SystemFireDetection,
		Action:  "activate_suppression",
		Target:  zone,
		Message: system.cfg.Type + " discharge started",
		Details: safety.Payload{
			"suppression_type": system.cfg.Type,
			"discharge_time":   system.cfg.DischargeTime.String(),
		},
		SessionID: system.session,
		Timestamp: a.opts.Clock(),
	}, nil
}

// SetDetectorFault marks a detector faulty or returns it to service.
func (a *Adapter) SetDetectorFault(ctx context.Context, id string, faulty bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.detectors[id]
	if !ok {
		return fmt.Errorf("detector %q: %w", id, safety.ErrNotFound)
	}

	switch {
	case faulty:
		d.status = DetectorFault
	case d.status == DetectorFault:
		d.status = DetectorActive
	}

	return nil
}

// SuppressionStatus returns the extinguishing system status of a zone.
func (a *Adapter) SuppressionStatus(zone string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	system, ok := a.suppression[zone]
	if !ok {
		return "", fmt.Errorf("suppression system in %q: %w", zone, safety.ErrNotFound)
	}

	return system.status, nil
}

// Test checks every detector; faulty detectors fail.
func (a *Adapter) Test(ctx context.Context) *safety.TestReport {
	waitErr := subsystem.Wait(ctx, a.opts.IODelay)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.Clock()
	devices := make([]safety.DeviceResult, 0, len(a.detectors))

	for _, zone := range a.order {
		for _, cfg := range a.zones[zone].Detectors {
			d := a.detectors[cfg.ID]
			result := safety.DeviceResult{Device: cfg.ID, Zone: zone, Passed: d.status != DetectorFault}

			switch {
			case waitErr != nil:
				result.Passed = false
				result.Detail = waitErr.Error()
			case !result.Passed:
				result.Detail = "detector fault"
			}

			devices = append(devices, result)
		}
	}

	a.lastTest = now

	return safety.NewTestReport(safety.SystemFireDetection, devices, a.opts.TestPolicy, now)
}

// Status returns zones, alarms and suppression state.
func (a *Adapter) Status(_ context.Context) *safety.SubsystemState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.opts.Clock()
	zones := make(map[string]safety.Status, len(a.order))
	detectorSummary := make(map[string]any, len(a.order))
	suppressionView := make(map[string]any, len(a.suppression))
	faulty := 0

	for _, zone := range a.order {
		status := safety.StatusNormal
		total, faults := 0, 0

		for _, cfg := range a.zones[zone].Detectors {
			total++

			if a.detectors[cfg.ID].status == DetectorFault {
				faults++
			}
		}

		faulty += faults

		if system, ok := a.suppression[zone]; ok {
			suppressionView[zone] = map[string]any{"type": system.cfg.Type, "status": system.status}

			if system.status == SuppressionDischarged || system.status == SuppressionRecharging {
				status = safety.StatusMaintenance
			}
		}

		if faults > 0 {
			status = safety.StatusFault
		}

		if _, ok := a.zoneAlarm[zone]; ok {
			status = safety.StatusAlarm
		}

		zones[zone] = status
		detectorSummary[zone] = map[string]any{"total": total, "active": total - faults, "fault": faults}
	}

	alarms := make([]any, 0, len(a.alarms))

	for _, zone := range a.order {
		if id, ok := a.zoneAlarm[zone]; ok {
			fired := a.alarms[id]
			alarms = append(alarms, map[string]any{
				"alarm_id":    fired.id,
				"zone":        fired.zone,
				"detector_id": fired.detector,
				"reason":      fired.reason,
				"start_time":  fired.start,
			})
		}
	}

	sessions := a.sessions.Active()

	return &safety.SubsystemState{
		System:         safety.SystemFireDetection,
		Status:         safety.DeriveStatus(zones),
		Zones:          zones,
		ActiveAlarms:   len(a.alarms),
		ActiveSessions: len(sessions),
		FaultyDevices:  faulty,
		Inventory: map[string]int{
			"zones":               len(a.order),
			"detectors":           len(a.detectors),
			"suppression_systems": len(a.suppression),
		},
		Sessions:         sessions,
		LastTest:         a.lastTest,
		PerformanceScore: a.scoreLocked(now, faulty),
		Details: safety.Payload{
			"alarms":      alarms,
			"detectors":   detectorSummary,
			"suppression": suppressionView,
		},
		UpdatedAt: now,
	}
}

// RestoreLastTest seeds the self-test time from a persisted snapshot.
func (a *Adapter) RestoreLastTest(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if at.After(a.lastTest) {
		a.lastTest = at
	}
}

// Close disarms countdown, discharge and recharge timers.
func (a *Adapter) Close() {
	a.sessions.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, system := range a.suppression {
		if system.recharge != nil {
			system.recharge.Stop()
			system.recharge = nil
		}
	}
}

// pickDetectorLocked returns the requested detector or the first healthy one in the zone.
// A faulty detector cannot raise an alarm.
func (a *Adapter) pickDetectorLocked(zone string, params safety.Payload) (string, error) {
	if id, ok := params.String("detector_id"); ok {
		d, found := a.detectors[id]
		if !found || d.zone != zone {
			return "", fmt.Errorf("detector %q in %s: %w", id, zone, safety.ErrNotFound)
		}

		if d.status == DetectorFault {
			return "", fmt.Errorf("detector %q is faulty: %w", id, safety.ErrInvalidTransition)
		}

		d.status = DetectorAlarm

		return id, nil
	}

	for _, cfg := range a.zones[zone].Detectors {
		if d := a.detectors[cfg.ID]; d.status == DetectorActive {
			d.status = DetectorAlarm

			return cfg.ID, nil
		}
	}

	return "", nil
}

// resolveResetLocked maps a reset target to zones.
func (a *Adapter) resolveResetLocked(target string) ([]string, error) {
	if zones, ok := subsystem.ExpandZones(target, a.order); ok {
		return zones, nil
	}

	if fired, ok := a.alarms[target]; ok {
		return []string{fired.zone}, nil
	}

	return nil, fmt.Errorf("fire zone or alarm %q: %w", target, safety.ErrNotFound)
}

// scheduleCountdownLocked arms the suppression countdown when the system is ready.
func (a *Adapter) scheduleCountdownLocked(zone, alarmID string, delay time.Duration) bool {
	system, ok := a.suppression[zone]
	if !ok || system.status != SuppressionReady {
		return false
	}

	session := a.sessions.Start(safety.SessionSuppression, []string{zone}, delay, safety.Payload{
		"phase":    SuppressionCountdown,
		"alarm_id": alarmID,
		"agent":    system.cfg.Type,
	}, a.onCountdownElapsed)

	system.status = SuppressionCountdown
	system.session = session.ID

	return true
}

// onCountdownElapsed starts the discharge if the countdown was not cancelled.
func (a *Adapter) onCountdownElapsed(session *safety.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	zone := session.Zones[0]

	system := a.suppression[zone]
	if system == nil || system.session != session.ID || system.status != SuppressionCountdown {
		return
	}

	alarmID, _ := session.Details.String("alarm_id")
	a.startDischargeLocked(zone, alarmID)

	logger.WarnKV(a.logCtx, "Fire suppression discharging", "zone", zone, "agent", system.cfg.Type)
}

// startDischargeLocked opens the discharge session.
func (a *Adapter) startDischargeLocked(zone, alarmID string) {
	system := a.suppression[zone]

	session := a.sessions.Start(safety.SessionSuppression, []string{zone}, system.cfg.DischargeTime, safety.Payload{
		"phase":    SuppressionDischarging,
		"alarm_id": alarmID,
		"agent":    system.cfg.Type,
	}, a.onDischargeComplete)

	system.status = SuppressionDischarging
	system.session = session.ID
}

// onDischargeComplete marks the system discharged.
func (a *Adapter) onDischargeComplete(session *safety.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	zone := session.Zones[0]

	system := a.suppression[zone]
	if system == nil || system.session != session.ID || system.status != SuppressionDischarging {
		return
	}

	system.status = SuppressionDischarged
	system.session = ""

	logger.InfoKV(a.logCtx, "Fire suppression discharge completed", "zone", zone)
}

// releaseSuppressionLocked cancels a countdown or starts recharging a used system.
func (a *Adapter) releaseSuppressionLocked(zone string) bool {
	system, ok := a.suppression[zone]
	if !ok {
		return false
	}

	switch system.status {
	case SuppressionCountdown:
		_, _ = a.sessions.Stop(system.session)
		system.status = SuppressionReady
		system.session = ""
	case SuppressionDischarging, SuppressionDischarged:
		if system.session != "" {
			_, _ = a.sessions.Stop(system.session)
		}

		system.status = SuppressionRecharging
		system.session = ""
		system.recharge = a.opts.Scheduler.AfterFunc(a.cfg.RechargeTime, func() {
			a.finishRecharge(zone)
		})
	default:
		return false
	}

	return true
}

// finishRecharge returns a recharged system to ready.
func (a *Adapter) finishRecharge(zone string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	system := a.suppression[zone]
	if system.status != SuppressionRecharging {
		return
	}

	system.status = SuppressionReady
	system.recharge = nil

	logger.InfoKV(a.logCtx, "Fire suppression recharged", "zone", zone)
}

// scoreLocked computes the performance score. Caller holds mu.
func (a *Adapter) scoreLocked(now time.Time, faulty int) float64 {
	score := subsystem.MaxScore
	score -= float64(len(a.alarms) * alarmPenalty)
	score -= float64(faulty * faultyPenalty)
	score -= stalePolicy.Penalty(a.lastTest, now)

	return subsystem.Clamp(score)
}

// newAlarmID builds a readable unique alarm identifier.
func newAlarmID(zone string) string {
	return "FA-" + strings.ToUpper(zone) + "-" + strings.ToUpper(uuid.NewString()[:8])
}

// Zones lists the configured fire zones.
func (a *Adapter) Zones() []string {
	return slices.Clone(a.order)
}
