package telemetry

import (
	"context"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/health"
)

// Sample is one subsystem health observation.
type Sample struct {
	System         safety.SystemType
	Status         safety.Status
	Reported       float64
	Penalty        float64
	Score          float64
	ActiveAlarms   int
	ActiveSessions int
	FaultyDevices  int
	Timestamp      time.Time
}

// Writer stores health samples.
type Writer interface {
	Write(ctx context.Context, samples []Sample) error
	Close() error
}

// SamplesFrom flattens a health report and the states it was computed from.
func SamplesFrom(report *health.Report, states map[safety.SystemType]*safety.SubsystemState) []Sample {
	if report == nil {
		return nil
	}

	samples := make([]Sample, 0, len(report.Scores))

	for _, score := range report.Scores {
		sample := Sample{
			System:    score.System,
			Status:    score.Status,
			Reported:  score.Reported,
			Penalty:   score.Penalty,
			Score:     score.Score,
			Timestamp: report.Timestamp,
		}

		if state := states[score.System]; state != nil {
			sample.ActiveAlarms = state.ActiveAlarms
			sample.ActiveSessions = state.ActiveSessions
			sample.FaultyDevices = state.FaultyDevices
		}

		samples = append(samples, sample)
	}

	return samples
}
