package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/health"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem"
	"github.com/oshokin/ship-safety/internal/subsystem/compliance"
)

// Event kinds raised by the coordinator itself.
const (
	EventManOverboard = "man_overboard"
	EventResetAll     = "reset_all"
)

// DefaultTimeframe is the event window used when none is requested.
const DefaultTimeframe = 24 * time.Hour

var (
	// ErrZoneRequired is returned when a command needs a zone and got none.
	ErrZoneRequired = errors.New("zone is required")
	// ErrKindRequired is returned when a reported event has no kind.
	ErrKindRequired = errors.New("event type is required")
)

// ResetReport is the outcome of ResetAllSystems.
type ResetReport struct {
	Success      bool                `json:"success"`
	Timestamp    time.Time           `json:"timestamp"`
	EventID      string              `json:"event_id"`
	SystemsReset []safety.SystemType `json:"systems_reset"`
	Details      []string            `json:"details"`
	ShipStatus   safety.ShipStatus   `json:"ship_status"`
}

// SystemStatus is the ship-wide status report.
type SystemStatus struct {
	ShipStatus    safety.ShipStatus                           `json:"ship_status"`
	Timestamp     time.Time                                   `json:"timestamp"`
	OverallHealth float64                                     `json:"overall_health"`
	Health        *health.Report                              `json:"health"`
	Subsystems    map[safety.SystemType]*safety.SubsystemState `json:"subsystems"`
	ActiveEvents  []*safety.SystemEvent                       `json:"active_events"`
	QueueLength   int                                         `json:"queue_length"`
	LastOperator  *safety.Operator                            `json:"last_operator,omitempty"`
}

// RecentEvents is the answer to GetRecentEvents.
type RecentEvents struct {
	Events         []*safety.SystemEvent `json:"events"`
	TotalEvents    int                   `json:"total_events"`
	TimeframeHours float64               `json:"timeframe_hours"`
}

// ComplianceStatus is the answer to GetComplianceStatus.
type ComplianceStatus struct {
	Report       compliance.Report            `json:"compliance_report"`
	Certificates compliance.CertificateReport `json:"certificate_status"`
	LastUpdated  time.Time                    `json:"last_updated"`
}

// complianceReporter is the read side of the compliance adapter.
type complianceReporter interface {
	Report(ctx context.Context) compliance.Report
	Certificates(ctx context.Context) compliance.CertificateReport
}

// TriggerEmergencyStop stops machinery in zone, or in every zone when zone is empty.
func (c *Coordinator) TriggerEmergencyStop(ctx context.Context, zone string) (*safety.Result, error) {
	adapter, err := c.adapter(safety.SystemEmergencyStop)
	if err != nil {
		return nil, err
	}

	if zone == "" {
		zone = subsystem.AllZones
	}

	op := c.recordOperator(ctx)

	logger.WarnKV(ctx, "Emergency stop requested", "zone", zone, "operator", op)

	return adapter.Trigger(ctx, safety.TriggerRequest{
		Target: zone,
		Reason: manualReason("Manual emergency stop", op),
		Params: operatorParams(op),
	})
}

// TriggerFireAlarm raises a fire alarm in zone.
func (c *Coordinator) TriggerFireAlarm(ctx context.Context, zone string) (*safety.Result, error) {
	if strings.TrimSpace(zone) == "" {
		return nil, ErrZoneRequired
	}

	adapter, err := c.adapter(safety.SystemFireDetection)
	if err != nil {
		return nil, err
	}

	op := c.recordOperator(ctx)

	logger.WarnKV(ctx, "Fire alarm requested", "zone", zone, "operator", op)

	return adapter.Trigger(ctx, safety.TriggerRequest{
		Target: zone,
		Reason: manualReason("Manual fire alarm", op),
		Params: operatorParams(op),
	})
}

// TriggerManOverboard queues a man overboard event carrying position.
func (c *Coordinator) TriggerManOverboard(ctx context.Context, position any) (*safety.SystemEvent, error) {
	if position == nil {
		position = "UNKNOWN"
	}

	return c.ReportEvent(ctx, safety.SystemSafetyManager, EventManOverboard, safety.Payload{"position": position})
}

// ReportEvent queues an externally observed event.
func (c *Coordinator) ReportEvent(
	ctx context.Context,
	source safety.SystemType,
	kind string,
	payload safety.Payload,
) (*safety.SystemEvent, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, ErrKindRequired
	}

	if source == "" {
		source = safety.SystemSafetyManager
	}

	payload = payload.Clone()
	if payload == nil {
		payload = safety.Payload{}
	}

	if op := c.recordOperator(ctx); op != nil {
		payload["operator"] = op.String()
	}

	event := safety.NewEvent(source, kind, payload, c.opts.Clock())

	if err := c.submit(&job{event: event}); err != nil {
		return nil, fmt.Errorf("submit %s: %w", kind, err)
	}

	logger.InfoKV(ctx, "Event reported", "event_id", event.ID, "event_type", kind, "source_system", source)

	return event.Clone(), nil
}

// ResetAllSystems queues a reset behind every earlier event and waits for it.
func (c *Coordinator) ResetAllSystems(ctx context.Context) (*ResetReport, error) {
	payload := safety.Payload{}
	if op := c.recordOperator(ctx); op != nil {
		payload["operator"] = op.String()
	}

	event := safety.NewEvent(safety.SystemSafetyManager, EventResetAll, payload, c.opts.Clock())

	if err := c.await(ctx, &job{event: event, done: make(chan struct{})}); err != nil {
		return nil, fmt.Errorf("reset all systems: %w", err)
	}

	processed, ok := c.log.Get(event.ID)
	if !ok {
		return nil, fmt.Errorf("reset event %s: %w", event.ID, safety.ErrNotFound)
	}

	report := &ResetReport{
		Success:    true,
		Timestamp:  c.opts.Clock(),
		EventID:    processed.ID,
		ShipStatus: c.ShipStatus(),
	}

	for _, action := range processed.ResponseActions {
		report.Details = append(report.Details, action.String())

		if action.Action != safety.ActionReset {
			continue
		}

		if !action.Success {
			report.Success = false

			continue
		}

		if !containsSystem(report.SystemsReset, action.System) {
			report.SystemsReset = append(report.SystemsReset, action.System)
		}
	}

	return report, nil
}

// GetSystemStatus reports the ship status, subsystem states and health.
func (c *Coordinator) GetSystemStatus(ctx context.Context) *SystemStatus {
	states := c.registry.Snapshot(ctx)
	report := c.opts.Health.Evaluate(ctx, states)

	c.mu.RLock()
	status := c.status
	op := c.snapshot.LastOperator.Clone()
	c.mu.RUnlock()

	return &SystemStatus{
		ShipStatus:    status,
		Timestamp:     c.opts.Clock(),
		OverallHealth: report.Overall,
		Health:        report,
		Subsystems:    states,
		ActiveEvents:  c.log.Unprocessed(),
		QueueLength:   c.queue.Len(),
		LastOperator:  op,
	}
}

// GetRecentEvents returns events from the last hours, newest first. A
// non-positive value selects DefaultTimeframe.
func (c *Coordinator) GetRecentEvents(_ context.Context, hours float64) *RecentEvents {
	window := time.Duration(hours * float64(time.Hour))
	if window <= 0 {
		window = DefaultTimeframe
	}

	events := c.log.Since(c.opts.Clock().Add(-window))

	return &RecentEvents{
		Events:         events,
		TotalEvents:    len(events),
		TimeframeHours: window.Hours(),
	}
}

// EventHistory reads the long-term archive, newest first.
func (c *Coordinator) EventHistory(ctx context.Context, since time.Time, limit int) ([]*safety.SystemEvent, error) {
	if c.opts.Archive == nil {
		return nil, fmt.Errorf("event archive: %w", safety.ErrUnavailable)
	}

	return c.opts.Archive.Since(ctx, since, limit)
}

// GetComplianceStatus returns the compliance report and certificate validity.
func (c *Coordinator) GetComplianceStatus(ctx context.Context) (*ComplianceStatus, error) {
	adapter, err := c.adapter(safety.SystemCompliance)
	if err != nil {
		return nil, err
	}

	reporter, ok := adapter.(complianceReporter)
	if !ok {
		return nil, fmt.Errorf("compliance report: %w", safety.ErrUnavailable)
	}

	return &ComplianceStatus{
		Report:       reporter.Report(ctx),
		Certificates: reporter.Certificates(ctx),
		LastUpdated:  c.opts.Clock(),
	}, nil
}

// RunSelfTests tests every adapter concurrently. A failing or slow adapter
// never blocks the others beyond the step timeout.
func (c *Coordinator) RunSelfTests(ctx context.Context) map[safety.SystemType]*safety.TestReport {
	adapters := c.registry.All()

	var (
		mu      sync.Mutex
		reports = make(map[safety.SystemType]*safety.TestReport, len(adapters))
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, adapter := range adapters {
		group.Go(func() error {
			testCtx, cancel := context.WithTimeout(groupCtx, c.opts.StepTimeout)
			defer cancel()

			report := adapter.Test(testCtx)

			mu.Lock()
			reports[adapter.System()] = report
			mu.Unlock()

			logger.InfoKV(ctx, "Self-test completed", "system", adapter.System(),
				"overall", report.Overall, "failed", report.Failed)

			return nil
		})
	}

	_ = group.Wait()

	c.recordTests(ctx, reports)

	return reports
}

// TriggerSubsystem calls Trigger on one adapter directly, outside any protocol.
func (c *Coordinator) TriggerSubsystem(
	ctx context.Context,
	system safety.SystemType,
	req safety.TriggerRequest,
) (*safety.Result, error) {
	adapter, err := c.adapter(system)
	if err != nil {
		return nil, err
	}

	op := c.recordOperator(ctx)

	logger.InfoKV(ctx, "Direct trigger requested", "system", system, "target", req.Target, "operator", op)

	if req.Reason == "" {
		req.Reason = manualReason("Manual activation", op)
	}

	return adapter.Trigger(ctx, req)
}

// ResetSubsystem calls Reset on one adapter directly.
func (c *Coordinator) ResetSubsystem(ctx context.Context, system safety.SystemType, target string) (*safety.Result, error) {
	adapter, err := c.adapter(system)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Direct reset requested", "system", system, "target", target, "operator", c.recordOperator(ctx))

	return adapter.Reset(ctx, target)
}

// TestSubsystem runs the self-test of one adapter under the step timeout.
func (c *Coordinator) TestSubsystem(ctx context.Context, system safety.SystemType) (*safety.TestReport, error) {
	adapter, err := c.adapter(system)
	if err != nil {
		return nil, err
	}

	testCtx, cancel := context.WithTimeout(ctx, c.opts.StepTimeout)
	defer cancel()

	report := adapter.Test(testCtx)

	c.recordTests(ctx, map[safety.SystemType]*safety.TestReport{system: report})

	return report, nil
}

// SubsystemStatus returns the current state of one adapter.
func (c *Coordinator) SubsystemStatus(ctx context.Context, system safety.SystemType) (*safety.SubsystemState, error) {
	adapter, err := c.adapter(system)
	if err != nil {
		return nil, err
	}

	return adapter.Status(ctx), nil
}

// recordTests stores self-test times in the snapshot and persists it.
func (c *Coordinator) recordTests(ctx context.Context, reports map[safety.SystemType]*safety.TestReport) {
	c.mu.Lock()
	for system, report := range reports {
		c.snapshot.LastTests[system] = report.Timestamp
	}

	c.snapshot.Status = c.status
	c.snapshot.UpdatedAt = c.opts.Clock()
	snapshot := c.snapshot.Clone()
	c.mu.Unlock()

	c.save(ctx, snapshot)
}

// Subscribe registers an observer when the notifier supports it.
func (c *Coordinator) Subscribe() (<-chan safety.Notification, func(), error) {
	broadcaster, ok := c.opts.Notifier.(*Broadcaster)
	if !ok {
		return nil, nil, fmt.Errorf("notification stream: %w", safety.ErrUnavailable)
	}

	ch, cancel := broadcaster.Subscribe()

	return ch, cancel, nil
}

func (c *Coordinator) adapter(system safety.SystemType) (safety.Adapter, error) {
	adapter, ok := c.registry.Get(system)
	if !ok {
		return nil, fmt.Errorf("subsystem %s: %w", system, safety.ErrUnavailable)
	}

	return adapter, nil
}

// recordOperator remembers the operator attached to ctx, if any.
func (c *Coordinator) recordOperator(ctx context.Context) *safety.Operator {
	op := safety.OperatorFromContext(ctx)
	if op == nil {
		return nil
	}

	c.mu.Lock()
	c.snapshot.LastOperator = op.Clone()
	c.mu.Unlock()

	return op
}

func manualReason(reason string, op *safety.Operator) string {
	if op == nil {
		return reason
	}

	return reason + " by " + op.String()
}

func operatorParams(op *safety.Operator) safety.Payload {
	if op == nil {
		return nil
	}

	return safety.Payload{"operator": op.String()}
}

func containsSystem(systems []safety.SystemType, system safety.SystemType) bool {
	for _, s := range systems {
		if s == system {
			return true
		}
	}

	return false
}
