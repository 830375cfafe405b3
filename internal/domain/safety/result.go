package safety

import (
	"slices"
	"time"
)

// TriggerRequest is the input of an adapter trigger.
type TriggerRequest struct {
	// Target is a zone, device group or adapter-specific selector.
	Target string
	// Reason explains the trigger; some adapters read it as an alarm type or message.
	Reason string
	// Params carries optional adapter-specific arguments.
	Params Payload
}

// Result is the structured outcome of an adapter operation.
type Result struct {
	// Success reports whether the operation completed.
	Success bool `json:"success"`
	// System is the adapter that produced the result.
	System SystemType `json:"system"`
	// Action names the operation (trigger, reset, restart, ...).
	Action string `json:"action"`
	// Target is the zone, device or session the operation addressed.
	Target string `json:"target,omitempty"`
	// Message is a human-readable outcome.
	Message string `json:"message,omitempty"`
	// Error is the human-readable failure reason.
	Error string `json:"error,omitempty"`
	// Affected lists devices or zones that changed state.
	Affected []string `json:"affected,omitempty"`
	// SessionID references the session started or reused by the operation.
	SessionID string `json:"session_id,omitempty"`
	// Details carries adapter-specific attributes.
	Details Payload `json:"details,omitempty"`
	// Timestamp is when the operation finished.
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.Affected = slices.Clone(r.Affected)
	cloned.Details = r.Details.Clone()

	return &cloned
}

// TestOutcome is the overall verdict of a self-test.
type TestOutcome string

const (
	// TestPass means the failure policy was satisfied.
	TestPass TestOutcome = "PASS"
	// TestFail means the failure policy was violated.
	TestFail TestOutcome = "FAIL"
)

// DeviceResult is the self-test outcome of one device.
type DeviceResult struct {
	// Device is the device identifier.
	Device string `json:"device"`
	// Zone is the zone the device belongs to.
	Zone string `json:"zone,omitempty"`
	// Passed reports whether the device passed.
	Passed bool `json:"passed"`
	// ResponseTime is the measured or simulated response latency.
	ResponseTime time.Duration `json:"response_time,omitempty"`
	// Detail explains failures.
	Detail string `json:"detail,omitempty"`
}

// TestPolicy decides when device failures fail the whole report.
type TestPolicy struct {
	// MaxFailedRatio is the largest tolerated failed/total ratio per zone.
	// Zero means any failed device fails the report.
	MaxFailedRatio float64 `yaml:"max_failed_ratio"`
}

// TestReport is the result of an adapter self-test.
type TestReport struct {
	// System is the tested adapter.
	System SystemType `json:"system"`
	// Timestamp is when the test ran; performance scoring depends on it.
	Timestamp time.Time `json:"timestamp"`
	// Devices holds per-device outcomes.
	Devices []DeviceResult `json:"devices"`
	// Failed is the number of failed devices.
	Failed int `json:"failed"`
	// Overall is the policy verdict.
	Overall TestOutcome `json:"overall"`
}

// NewTestReport folds device results into a report using the policy.
func NewTestReport(system SystemType, devices []DeviceResult, policy TestPolicy, now time.Time) *TestReport {
	type tally struct {
		total, failed int
	}

	var (
		zones  = make(map[string]*tally)
		failed int
	)

	for _, device := range devices {
		counter, ok := zones[device.Zone]
		if !ok {
			counter = new(tally)
			zones[device.Zone] = counter
		}

		counter.total++

		if !device.Passed {
			counter.failed++
			failed++
		}
	}

	overall := TestPass

	for _, counter := range zones {
		if counter.failed == 0 {
			continue
		}

		if float64(counter.failed)/float64(counter.total) > policy.MaxFailedRatio {
			overall = TestFail

			break
		}
	}

	return &TestReport{
		System:    system,
		Timestamp: now,
		Devices:   devices,
		Failed:    failed,
		Overall:   overall,
	}
}
