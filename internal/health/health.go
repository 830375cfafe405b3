package health

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// Score is the adjusted score of one subsystem.
type Score struct {
	// System is the scored subsystem.
	System safety.SystemType `json:"system"`
	// Reported is the adapter's own performance score.
	Reported float64 `json:"reported"`
	// Penalty is the environmental deduction.
	Penalty float64 `json:"penalty"`
	// Score is the clamped result.
	Score float64 `json:"score"`
	// Status is the adapter status.
	Status safety.Status `json:"status"`
}

// Report is one evaluation of ship health.
type Report struct {
	// Overall is the mean of subsystem scores, 0 when nothing was scored.
	Overall float64 `json:"overall_health"`
	// Scores are ordered like safety.Subsystems.
	Scores []Score `json:"scores"`
	// Conditions are the applied conditions; nil when unavailable.
	Conditions *Conditions `json:"conditions,omitempty"`
	// Timestamp is when the report was built.
	Timestamp time.Time `json:"timestamp"`
}

// Score returns the score of a subsystem.
func (r *Report) Score(system safety.SystemType) (Score, bool) {
	i := slices.IndexFunc(r.Scores, func(s Score) bool { return s.System == system })
	if i < 0 {
		return Score{}, false
	}

	return r.Scores[i], true
}

// Below lists subsystems scoring under threshold.
func (r *Report) Below(threshold float64) []Score {
	var low []Score

	for _, score := range r.Scores {
		if score.Score < threshold {
			low = append(low, score)
		}
	}

	return low
}

// Aggregator computes ship health. It holds no state besides its source.
type Aggregator struct {
	env   EnvironmentSource
	clock subsystem.Clock
}

// New creates an aggregator; a nil source means conditions are never available.
func New(env EnvironmentSource, clock subsystem.Clock) *Aggregator {
	if env == nil {
		env = NoEnvironment{}
	}

	if clock == nil {
		clock = time.Now
	}

	return &Aggregator{env: env, clock: clock}
}

// Evaluate scores every subsystem in states. The same states and conditions
// always produce the same report apart from its timestamp.
func (a *Aggregator) Evaluate(ctx context.Context, states map[safety.SystemType]*safety.SubsystemState) *Report {
	report := &Report{Timestamp: a.clock()}

	conditions, err := a.env.Conditions(ctx)

	switch {
	case err == nil:
		report.Conditions = &conditions
	case errors.Is(err, safety.ErrUnavailable):
	default:
		logger.Warnf(ctx, "Environment source failed, scoring without conditions: %v", err)
	}

	report.Scores, report.Overall = Compute(states, report.Conditions)

	return report
}

// Compute scores states under optional conditions and returns the mean.
func Compute(states map[safety.SystemType]*safety.SubsystemState, conditions *Conditions) ([]Score, float64) {
	var (
		scores = make([]Score, 0, len(states))
		total  float64
	)

	for _, system := range safety.Subsystems() {
		state, ok := states[system]
		if !ok || state == nil {
			continue
		}

		score := Score{
			System:   system,
			Reported: subsystem.Clamp(state.PerformanceScore),
			Status:   state.Status,
		}

		if conditions != nil {
			score.Penalty = Penalty(system, *conditions)
		}

		score.Score = subsystem.Clamp(score.Reported - score.Penalty)
		total += score.Score
		scores = append(scores, score)
	}

	if len(scores) == 0 {
		return scores, 0
	}

	return scores, total / float64(len(scores))
}
