package coordinator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/eventqueue"
	"github.com/oshokin/ship-safety/internal/health"
	"github.com/oshokin/ship-safety/internal/logger"
	repo "github.com/oshokin/ship-safety/internal/repository/state"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// Defaults applied to zero Options fields.
const (
	DefaultStepTimeout  = 10 * time.Second
	DefaultRetryDelay   = 200 * time.Millisecond
	DefaultEventLogSize = 1000
)

// Archive is the long-term event history.
type Archive interface {
	Append(ctx context.Context, event *safety.SystemEvent) error
	Since(ctx context.Context, since time.Time, limit int) ([]*safety.SystemEvent, error)
}

// Options holds the coordinator collaborators and tunables.
type Options struct {
	// StepTimeout bounds every adapter call inside a protocol.
	StepTimeout time.Duration
	// StepRetries is how often a step failing with safety.ErrUnavailable is retried.
	StepRetries int
	// RetryDelay is the first backoff delay between retries.
	RetryDelay time.Duration
	// EventLogSize caps the in-memory event log.
	EventLogSize int
	// Notifier receives processed-event notifications.
	Notifier Notifier
	// Store persists the ship snapshot.
	Store repo.Repository
	// Archive keeps processed events beyond the in-memory log.
	Archive Archive
	// Metrics exports coordinator activity.
	Metrics *Metrics
	// Health scores subsystem states for status reports.
	Health *health.Aggregator
	// Clock supplies timestamps.
	Clock subsystem.Clock
}

// job is one queue entry: an event to process, a barrier, or both.
type job struct {
	event *safety.SystemEvent
	done  chan struct{}
}

// Coordinator owns the ship status and the protocol runner.
type Coordinator struct {
	registry  *Registry
	catalogue *safety.Catalogue
	opts      Options
	policies  []failsafe.Policy[*safety.Result]

	queue   *eventqueue.Queue[*job]
	log     *EventLog
	pending atomic.Int64

	// mu protects status and snapshot.
	mu       sync.RWMutex
	status   safety.ShipStatus
	snapshot *safety.ShipSnapshot

	shutdown sync.Once
}

// New wires the coordinator to every registered adapter and restores the
// persisted snapshot, if any.
func New(ctx context.Context, registry *Registry, catalogue *safety.Catalogue, opts Options) (*Coordinator, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}

	if catalogue == nil {
		return nil, errors.New("protocol catalogue is required")
	}

	opts = withDefaults(opts)

	c := &Coordinator{
		registry:  registry,
		catalogue: catalogue,
		opts:      opts,
		policies:  buildPolicies(opts),
		queue:     eventqueue.New[*job](),
		log:       NewEventLog(opts.EventLogSize),
		status:    safety.ShipNormal,
		snapshot: &safety.ShipSnapshot{
			Status:    safety.ShipNormal,
			LastTests: make(map[safety.SystemType]time.Time),
		},
	}

	for _, adapter := range registry.All() {
		if err := adapter.RegisterEventSink(c.enqueue); err != nil {
			return nil, fmt.Errorf("register event sink on %s: %w", adapter.System(), err)
		}
	}

	if err := c.restore(ctx); err != nil {
		return nil, err
	}

	c.opts.Metrics.setShipStatus(c.status)

	return c, nil
}

func withDefaults(opts Options) Options {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}

	if opts.StepRetries < 0 {
		opts.StepRetries = 0
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	if opts.EventLogSize <= 0 {
		opts.EventLogSize = DefaultEventLogSize
	}

	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.Health == nil {
		opts.Health = health.New(nil, opts.Clock)
	}

	return opts
}

// buildPolicies bounds every attempt by the step timeout and retries only
// transient unavailability.
func buildPolicies(opts Options) []failsafe.Policy[*safety.Result] {
	policies := make([]failsafe.Policy[*safety.Result], 0, 2)

	if opts.StepRetries > 0 {
		policies = append(policies, retrypolicy.NewBuilder[*safety.Result]().
			HandleErrors(safety.ErrUnavailable).
			WithMaxRetries(opts.StepRetries).
			WithBackoff(opts.RetryDelay, 10*opts.RetryDelay).
			ReturnLastFailure().
			Build())
	}

	return append(policies, timeout.New[*safety.Result](opts.StepTimeout))
}

func (c *Coordinator) restore(ctx context.Context) error {
	if c.opts.Store == nil {
		return nil
	}

	snapshot, err := c.opts.Store.Load(ctx)

	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("load ship snapshot: %w", err)
	}

	if snapshot == nil {
		return nil
	}

	type lastTestRestorer interface {
		RestoreLastTest(at time.Time)
	}

	for system, at := range snapshot.LastTests {
		adapter, ok := c.registry.Get(system)
		if !ok {
			continue
		}

		if restorer, ok := adapter.(lastTestRestorer); ok {
			restorer.RestoreLastTest(at)
		}
	}

	c.snapshot.LastOperator = snapshot.LastOperator.Clone()
	c.snapshot.LastEventID = snapshot.LastEventID
	c.snapshot.LastEventKind = snapshot.LastEventKind
	maps.Copy(c.snapshot.LastTests, snapshot.LastTests)

	// Adapters start reset, so the ship does too.
	if snapshot.Status != safety.ShipNormal {
		logger.WarnKV(ctx, "Previous run ended with the ship not in normal state",
			"previous_status", snapshot.Status, "last_event", snapshot.LastEventKind)
	}

	return nil
}

// Run consumes events until the queue is closed by Shutdown or ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "coordinator")

	logger.Info(ctx, "Coordinator started")

	for {
		j, err := c.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, eventqueue.ErrClosed) {
				logger.Info(ctx, "Coordinator stopped")

				return nil
			}

			return err
		}

		c.opts.Metrics.setQueueLength(c.queue.Len())

		if j.event != nil {
			c.process(ctx, j.event)
		}

		c.pending.Add(-1)

		if j.done != nil {
			close(j.done)
		}
	}
}

// Settle blocks until every queued event, including events emitted while
// processing earlier ones, has been processed.
func (c *Coordinator) Settle(ctx context.Context) error {
	for c.pending.Load() > 0 {
		if err := c.await(ctx, &job{done: make(chan struct{})}); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown drives every adapter back to its reset state, then stops the consumer
// once the queue is drained. Reset errors are logged.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.shutdown.Do(func() {
		ctx = logger.WithName(ctx, "coordinator")

		for _, adapter := range c.registry.All() {
			if _, err := adapter.Reset(ctx, subsystem.AllZones); err != nil {
				logger.WarnKV(ctx, "Reset on shutdown failed", "system", adapter.System(), "error", err)
			}
		}

		c.queue.Close()
	})
}

// ShipStatus returns the current ship-wide status.
func (c *Coordinator) ShipStatus() safety.ShipStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

// Snapshot returns a copy of the persisted coordinator state.
func (c *Coordinator) Snapshot() *safety.ShipSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := c.snapshot.Clone()
	snapshot.Status = c.status

	return snapshot
}

// enqueue is the event sink handed to every adapter.
func (c *Coordinator) enqueue(event *safety.SystemEvent) {
	if err := c.submit(&job{event: event}); err != nil {
		logger.WarnKV(context.Background(), "Event dropped, coordinator is stopped",
			"event_type", event.Kind, "source_system", event.Source)
	}
}

// submit queues j. Events enter the log here so queued events show up as
// unprocessed before the consumer reaches them.
func (c *Coordinator) submit(j *job) error {
	c.pending.Add(1)

	if err := c.queue.Push(j); err != nil {
		c.pending.Add(-1)

		return err
	}

	if j.event != nil {
		c.log.Append(j.event)
	}

	c.opts.Metrics.setQueueLength(c.queue.Len())

	return nil
}

// await submits j and waits until the consumer reached it.
func (c *Coordinator) await(ctx context.Context, j *job) error {
	if err := c.submit(j); err != nil {
		return fmt.Errorf("submit to coordinator: %w", err)
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs the protocol for one event. Called only from Run.
func (c *Coordinator) process(ctx context.Context, event *safety.SystemEvent) {
	started := time.Now()
	event = event.Clone()

	// A no-op unless the consumer got here before submit logged the event.
	c.log.Append(event)

	protocol := c.catalogue.Lookup(event.Kind)
	ctx = logger.WithKV(ctx, "event_id", event.ID)

	logger.InfoKV(ctx, "Processing event", "event_type", event.Kind, "source_system", event.Source,
		"protocol", protocol.Name, "priority", protocol.Priority)

	actions := c.runSteps(ctx, protocol, event, 0)
	if protocol.Sweep {
		actions = append(actions, c.sweep(ctx, event, len(actions))...)
	}

	if err := c.log.MarkProcessed(event.ID, actions); err != nil {
		logger.ErrorKV(ctx, "Event log rejected the outcome", "error", err)
	}

	event.ResponseActions = actions
	event.Processed = true

	status := c.escalate(ctx, protocol.Escalation.Target())

	c.persist(ctx, event)
	c.archive(ctx, event)
	c.opts.Notifier.Notify(ctx, safety.NotificationFor(event, status))

	elapsed := time.Since(started)
	overBudget := protocol.ResponseTime > 0 && elapsed > protocol.ResponseTime

	if overBudget {
		logger.WarnKV(ctx, "Protocol exceeded its response time", "protocol", protocol.Name,
			"elapsed", elapsed, "budget", protocol.ResponseTime)
	}

	c.opts.Metrics.observeEvent(event.Kind, protocol.Name, elapsed, overBudget)

	logger.InfoKV(ctx, "Event processed", "protocol", protocol.Name, "actions", len(actions),
		"ship_status", status, "elapsed", elapsed)
}

// runSteps executes protocol steps in order; a failed step never stops the rest.
func (c *Coordinator) runSteps(
	ctx context.Context,
	protocol *safety.Protocol,
	event *safety.SystemEvent,
	offset int,
) []safety.ResponseAction {
	b := bindingsFor(event)
	actions := make([]safety.ResponseAction, 0, len(protocol.Steps))

	for i, step := range protocol.Steps {
		if len(step.WhenZoneIn) > 0 && !slices.Contains(step.WhenZoneIn, b.zone()) {
			logger.DebugKV(ctx, "Step skipped for zone", "protocol", protocol.Name, "step", i+1, "zone", b.zone())

			continue
		}

		actions = append(actions, c.runStep(ctx, offset+len(actions)+1, step, b))
	}

	return actions
}

func (c *Coordinator) runStep(ctx context.Context, n int, step safety.Step, b bindings) safety.ResponseAction {
	req := safety.TriggerRequest{
		Target: b.expand(step.Target),
		Reason: b.expand(step.Reason),
		Params: b.params(step.Params),
	}

	action := safety.ResponseAction{
		Step:   n,
		System: step.System,
		Action: step.Action,
		Target: req.Target,
	}

	result, err := c.call(ctx, step, req)
	if err != nil {
		if !errors.Is(err, safety.ErrIntegrationFailure) {
			err = fmt.Errorf("%w: %w", safety.ErrIntegrationFailure, err)
		}

		action.Error = err.Error()

		logger.ErrorKV(ctx, "Protocol step failed", "step", n, "system", step.System,
			"action", step.Action, "target", req.Target, "error", err)
		c.opts.Metrics.observeStepFailure(step.System)

		return action
	}

	action.Success = result.Success
	action.Message = result.Message
	action.Details = result.Details.Clone()

	if len(result.Affected) > 0 || result.SessionID != "" {
		if action.Details == nil {
			action.Details = safety.Payload{}
		}

		if len(result.Affected) > 0 {
			action.Details["affected"] = slices.Clone(result.Affected)
		}

		if result.SessionID != "" {
			action.Details["session_id"] = result.SessionID
		}
	}

	logger.InfoKV(ctx, "Protocol step completed", "action", action.String())

	return action
}

// call invokes one adapter operation under the step policies.
func (c *Coordinator) call(ctx context.Context, step safety.Step, req safety.TriggerRequest) (*safety.Result, error) {
	adapter, ok := c.registry.Get(step.System)
	if !ok {
		return nil, fmt.Errorf("subsystem %s is not registered: %w", step.System, safety.ErrUnavailable)
	}

	return failsafe.With(c.policies...).
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[*safety.Result]) (*safety.Result, error) {
			return invoke(exec.Context(), adapter, step.Action, req)
		})
}

func invoke(ctx context.Context, adapter safety.Adapter, action string, req safety.TriggerRequest) (*safety.Result, error) {
	switch action {
	case safety.ActionTrigger:
		return adapter.Trigger(ctx, req)
	case safety.ActionReset:
		return adapter.Reset(ctx, req.Target)
	case safety.ActionTest:
		return testResult(adapter.Test(ctx)), nil
	default:
		return nil, fmt.Errorf("action %q: %w", action, safety.ErrNotFound)
	}
}

func testResult(report *safety.TestReport) *safety.Result {
	return &safety.Result{
		Success: report.Overall == safety.TestPass,
		System:  report.System,
		Action:  safety.ActionTest,
		Message: fmt.Sprintf("self-test %s, %d of %d device(s) failed", report.Overall, report.Failed, len(report.Devices)),
		Details: safety.Payload{
			"overall": string(report.Overall),
			"failed":  report.Failed,
		},
		Timestamp: report.Timestamp,
	}
}

// sweep returns the ship to NORMAL once no subsystem holds an originating
// alarm, silencing leftover alarms and recordings first. A ship that is
// already NORMAL is left alone so operator sessions keep running.
func (c *Coordinator) sweep(ctx context.Context, event *safety.SystemEvent, offset int) []safety.ResponseAction {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()

	if status == safety.ShipNormal {
		return nil
	}

	states := c.registry.Snapshot(ctx)

	if alarms := originatingAlarms(states); alarms > 0 {
		logger.InfoKV(ctx, "Alarms still active, ship status unchanged", "active_alarms", alarms)

		return nil
	}

	var actions []safety.ResponseAction

	if !allQuiet(states) {
		if standDown, ok := c.catalogue.Protocols[c.catalogue.StandDown]; ok {
			actions = c.runSteps(ctx, standDown, event, offset)
			states = c.registry.Snapshot(ctx)
		}
	}

	if !allQuiet(states) {
		logger.InfoKV(ctx, "Sessions still active, ship status unchanged", "busy", busySystems(states))

		return actions
	}

	c.mu.Lock()
	previous := c.status
	c.status = safety.ShipNormal
	c.mu.Unlock()

	if previous != safety.ShipNormal {
		logger.InfoKV(ctx, "Ship status changed", "from", previous, "to", safety.ShipNormal)
		c.opts.Metrics.setShipStatus(safety.ShipNormal)
	}

	return actions
}

// escalate raises the ship status to target; it never lowers it.
func (c *Coordinator) escalate(ctx context.Context, target safety.ShipStatus) safety.ShipStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if target.Rank() > c.status.Rank() {
		logger.WarnKV(ctx, "Ship status changed", "from", c.status, "to", target)

		c.status = target
		c.opts.Metrics.setShipStatus(target)
	}

	return c.status
}

func (c *Coordinator) persist(ctx context.Context, event *safety.SystemEvent) {
	c.mu.Lock()
	c.snapshot.Status = c.status
	c.snapshot.UpdatedAt = c.opts.Clock()
	c.snapshot.LastEventID = event.ID
	c.snapshot.LastEventKind = event.Kind
	snapshot := c.snapshot.Clone()
	c.mu.Unlock()

	c.save(ctx, snapshot)
}

func (c *Coordinator) save(ctx context.Context, snapshot *safety.ShipSnapshot) {
	if c.opts.Store == nil {
		return
	}

	if err := c.opts.Store.Save(ctx, snapshot); err != nil {
		logger.Errorf(ctx, "Failed to persist ship snapshot: %v", err)
	}
}

func (c *Coordinator) archive(ctx context.Context, event *safety.SystemEvent) {
	if c.opts.Archive == nil {
		return
	}

	if err := c.opts.Archive.Append(ctx, event); err != nil {
		logger.Errorf(ctx, "Failed to archive event: %v", err)
	}
}

func originatingAlarms(states map[safety.SystemType]*safety.SubsystemState) int {
	total := 0

	for _, state := range states {
		if state != nil {
			total += state.ActiveAlarms
		}
	}

	return total
}

func allQuiet(states map[safety.SystemType]*safety.SubsystemState) bool {
	for _, state := range states {
		if state != nil && !state.Quiet() {
			return false
		}
	}

	return true
}

func busySystems(states map[safety.SystemType]*safety.SubsystemState) []safety.SystemType {
	var busy []safety.SystemType

	for _, system := range safety.Subsystems() {
		if state := states[system]; state != nil && !state.Quiet() {
			busy = append(busy, system)
		}
	}

	return busy
}
