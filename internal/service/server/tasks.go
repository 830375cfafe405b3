package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/health"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/repository/telemetry"
	"github.com/oshokin/ship-safety/internal/subsystem/compliance"
)

// EventSystemFault is reported when a subsystem score drops below the health threshold.
const EventSystemFault = "system_fault"

// shipControl is the part of the coordinator the periodic tasks drive.
type shipControl interface {
	ReportEvent(
		ctx context.Context,
		source safety.SystemType,
		kind string,
		payload safety.Payload,
	) (*safety.SystemEvent, error)
	TriggerSubsystem(ctx context.Context, system safety.SystemType, req safety.TriggerRequest) (*safety.Result, error)
	GetComplianceStatus(ctx context.Context) (*coordinator.ComplianceStatus, error)
}

// monitor runs the periodic checks of the safety server.
type monitor struct {
	// control receives fault events and compliance triggers.
	control shipControl
	// reader supplies subsystem states.
	reader safety.StatusReader
	// aggregator scores the states.
	aggregator *health.Aggregator
	// metrics exports the scores; nil disables export.
	metrics *health.Metrics
	// samples stores the scores.
	samples telemetry.Writer
	// healthThreshold is the score below which a fault is raised.
	healthThreshold float64
	// startupThreshold is the score below which startup warns.
	startupThreshold float64

	// mu protects degraded.
	mu sync.Mutex
	// degraded holds subsystems already reported in their current dip.
	degraded map[safety.SystemType]bool
}

func newMonitor(svc *service) *monitor {
	return &monitor{
		control:          svc.coordinator,
		reader:           svc.registry,
		aggregator:       svc.aggregator,
		metrics:          svc.metrics,
		samples:          svc.samples,
		healthThreshold:  svc.settings.HealthThreshold,
		startupThreshold: svc.settings.StartupThreshold,
		degraded:         make(map[safety.SystemType]bool),
	}
}

// startupCheck logs subsystems scoring below the startup threshold.
func (m *monitor) startupCheck(ctx context.Context) *health.Report {
	report := m.aggregator.Evaluate(ctx, m.reader.Snapshot(ctx))

	low := report.Below(m.startupThreshold)
	for _, score := range low {
		logger.WarnKV(ctx, "Subsystem below startup threshold",
			"system", score.System, "score", score.Score, "threshold", m.startupThreshold)
	}

	logger.InfoKV(ctx, "Startup check completed", "overall_health", report.Overall, "below_threshold", len(low))

	return report
}

// checkHealth reports a system_fault once per dip below the health threshold.
// A subsystem becomes eligible again after it recovers.
func (m *monitor) checkHealth(ctx context.Context) []safety.SystemType {
	report := m.aggregator.Evaluate(ctx, m.reader.Snapshot(ctx))

	m.mu.Lock()

	var faulted []safety.SystemType

	for _, score := range report.Scores {
		if score.Score >= m.healthThreshold {
			delete(m.degraded, score.System)

			continue
		}

		if m.degraded[score.System] {
			continue
		}

		m.degraded[score.System] = true
		faulted = append(faulted, score.System)
	}

	m.mu.Unlock()

	for _, system := range faulted {
		score, _ := report.Score(system)

		_, err := m.control.ReportEvent(ctx, system, EventSystemFault, safety.Payload{
			"system":    string(system),
			"score":     score.Score,
			"threshold": m.healthThreshold,
			"reason":    "performance below threshold",
		})
		if err != nil {
			logger.WarnKV(ctx, "Failed to report system fault", "system", system, "error", err)

			continue
		}

		logger.WarnKV(ctx, "Subsystem health degraded", "system", system, "score", score.Score)
	}

	return faulted
}

// checkCompliance runs the SOLAS check and logs certificate warnings.
func (m *monitor) checkCompliance(ctx context.Context) error {
	result, err := m.control.TriggerSubsystem(ctx, safety.SystemCompliance, safety.TriggerRequest{
		Target: compliance.StandardSOLAS,
		Reason: "scheduled compliance check",
	})
	if err != nil {
		return fmt.Errorf("compliance check: %w", err)
	}

	logger.InfoKV(ctx, "Scheduled compliance check completed", "result", result.Message)

	status, err := m.control.GetComplianceStatus(ctx)
	if err != nil {
		return fmt.Errorf("certificate status: %w", err)
	}

	for _, warning := range status.Certificates.Warnings {
		logger.WarnKV(ctx, "Certificate warning", "warning", warning)
	}

	return nil
}

// sample exports the current scores as metrics and telemetry samples.
func (m *monitor) sample(ctx context.Context) error {
	states := m.reader.Snapshot(ctx)
	report := m.aggregator.Evaluate(ctx, states)

	if m.metrics != nil {
		m.metrics.Observe(report, states)
	}

	if err := m.samples.Write(ctx, telemetry.SamplesFrom(report, states)); err != nil {
		return fmt.Errorf("write health samples: %w", err)
	}

	return nil
}

// every runs task on each tick until ctx is done. Task errors are logged.
func every(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) error {
	ctx = logger.WithKV(ctx, "task", name)

	if interval <= 0 {
		logger.Info(ctx, "Periodic task disabled")

		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := task(ctx); err != nil {
				logger.WarnKV(ctx, "Periodic task failed", "error", err)
			}
		}
	}
}
