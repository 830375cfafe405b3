package health

import (
	"context"
	"fmt"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// Conditions are the observed environmental conditions.
type Conditions struct {
	// Visibility in nautical miles.
	Visibility float64 `json:"visibility"`
	// SeaState on the Douglas scale, 0..9.
	SeaState int `json:"sea_state"`
	// WindSpeed in knots.
	WindSpeed float64 `json:"wind_speed"`
}

// EnvironmentSource supplies current conditions.
type EnvironmentSource interface {
	// Conditions returns the latest observation or ErrUnavailable.
	Conditions(ctx context.Context) (Conditions, error)
}

// StaticEnvironment always reports the same conditions.
type StaticEnvironment struct {
	// Observed is returned by every call.
	Observed Conditions
}

// Conditions implements EnvironmentSource.
func (s StaticEnvironment) Conditions(ctx context.Context) (Conditions, error) {
	if err := ctx.Err(); err != nil {
		return Conditions{}, err
	}

	return s.Observed, nil
}

// NoEnvironment is the source used when no conditions are observed.
type NoEnvironment struct{}

// Conditions implements EnvironmentSource.
func (NoEnvironment) Conditions(context.Context) (Conditions, error) {
	return Conditions{}, fmt.Errorf("environment source: %w", safety.ErrUnavailable)
}

// Penalty returns the score deduction conditions impose on a subsystem.
func Penalty(system safety.SystemType, c Conditions) float64 {
	switch system {
	case safety.SystemCCTV:
		switch {
		case c.Visibility < 1:
			return 10
		case c.Visibility < 3:
			return 5
		}
	case safety.SystemCommunication:
		if c.SeaState >= 6 {
			return 5
		}
	case safety.SystemPAGA:
		if c.WindSpeed >= 35 {
			return 5
		}
	}

	return 0
}
