package subsystem

import (
	"math"
	"time"
)

const (
	// MaxScore is the score of a perfectly healthy subsystem.
	MaxScore = 100.0

	day = 24 * time.Hour
)

// StalePolicy describes how an overdue self-test reduces the score.
type StalePolicy struct {
	// GraceDays is how long a test stays fresh.
	GraceDays int
	// Cap limits the progressive penalty.
	Cap float64
	// Never is the penalty when no test was ever performed.
	Never float64
}

// Penalty returns the stale-test penalty at now.
func (p StalePolicy) Penalty(lastTest, now time.Time) float64 {
	if lastTest.IsZero() {
		return p.Never
	}

	days := int(now.Sub(lastTest) / day)
	if days <= p.GraceDays {
		return 0
	}

	return math.Min(float64(days-p.GraceDays), p.Cap)
}

// Clamp bounds a score to [0, MaxScore].
func Clamp(score float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > MaxScore:
		return MaxScore
	default:
		return score
	}
}
