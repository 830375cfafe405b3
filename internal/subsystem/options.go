package subsystem

import (
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// AllZones is the target selecting every zone an adapter manages.
const AllZones = "all_zones"

// Options holds the collaborators every adapter is built with.
type Options struct {
	// Clock supplies every time read.
	Clock Clock
	// Scheduler runs session expiry and other delayed transitions.
	Scheduler Scheduler
	// TestPolicy decides when device failures fail a self-test.
	TestPolicy safety.TestPolicy
	// IODelay is the simulated latency of a device or radio round trip.
	IODelay time.Duration
}

// Option configures adapter collaborators.
type Option func(*Options)

// WithClock sets the time source.
func WithClock(clock Clock) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

// WithScheduler sets the timer source.
func WithScheduler(scheduler Scheduler) Option {
	return func(o *Options) {
		if scheduler != nil {
			o.Scheduler = scheduler
		}
	}
}

// WithManual drives both time and timers from a manual clock.
func WithManual(manual *Manual) Option {
	return func(o *Options) {
		if manual != nil {
			o.Clock = manual.Now
			o.Scheduler = manual
		}
	}
}

// WithTestPolicy sets the self-test failure policy.
func WithTestPolicy(policy safety.TestPolicy) Option {
	return func(o *Options) {
		o.TestPolicy = policy
	}
}

// WithIODelay sets the simulated I/O latency.
func WithIODelay(delay time.Duration) Option {
	return func(o *Options) {
		if delay >= 0 {
			o.IODelay = delay
		}
	}
}

// NewOptions applies opts over wall-clock defaults.
func NewOptions(opts ...Option) Options {
	options := Options{
		Clock:     time.Now,
		Scheduler: RealScheduler{},
	}

	for _, opt := range opts {
		opt(&options)
	}

	return options
}

// ExpandZones resolves a target into zone names. AllZones selects every known zone;
// ok is false for an unknown zone.
func ExpandZones(target string, known []string) ([]string, bool) {
	if target == "" || target == AllZones {
		return append([]string(nil), known...), true
	}

	for _, zone := range known {
		if zone == target {
			return []string{zone}, true
		}
	}

	return nil, false
}
