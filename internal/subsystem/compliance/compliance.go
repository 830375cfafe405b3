package compliance

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
	EventViolation          = "compliance_violation"
	EventViolationsResolved = "compliance_violations_resolved"
)

// TargetAll selects every standard or every open violation.
const TargetAll = "all"

const (
	violationPenalty = 10
	expiredPenalty   = 25
	expiringPenalty  = 10
	day              = 24 * time.Hour
)

// Violation is a failed requirement awaiting resolution.
type Violation struct {
	ID          string    `json:"id"`
	Standard    string    `json:"standard"`
	Requirement string    `json:"requirement"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Details     string    `json:"details"`
	OpenedAt    time.Time `json:"timestamp"`
	Resolved    bool      `json:"resolved"`
	ResolvedAt  time.Time `json:"resolved_at,omitzero"`
}

// CertificateStatus is the validity of one certificate.
type CertificateStatus struct {
	Name         string    `json:"name"`
	Standard     string    `json:"standard"`
	Number       string    `json:"certificate_number"`
	Authority    string    `json:"issuing_authority"`
	Expires      time.Time `json:"expiry_date"`
	DaysToExpiry int       `json:"days_to_expiry"`
	Status       string    `json:"status"`
}

// CertificateReport is the outcome of a certificate validity check.
type CertificateReport struct {
	Certificates []CertificateStatus `json:"certificates"`
	Warnings     []string            `json:"warnings"`
	Expired      int                 `json:"expired_certificates"`
	CheckedAt    time.Time           `json:"timestamp"`
}

// Report is the full compliance report.
type Report struct {
	ID              string                    `json:"report_id"`
	GeneratedAt     time.Time                 `json:"generated_at"`
	Overall         string                    `json:"overall_status"`
	Standards       map[string]StandardResult `json:"standards"`
	Violations      []Violation               `json:"violations"`
	Certificates    CertificateReport         `json:"certificate_status"`
	Recommendations []string                  `json:"recommendations"`
}

// Adapter is the regulatory compliance monitor.
type Adapter struct {
	mu         sync.RWMutex
	emitter    subsystem.Emitter
	opts       subsystem.Options
	cfg        Config
	reader     safety.StatusReader
	results    map[string]StandardResult
	violations []*Violation
	lastTest   time.Time
}

var _ safety.Adapter = (*Adapter)(nil)

// New builds the monitor. The reader supplies the state of the audited subsystems.
func New(cfg Config, reader safety.StatusReader, opts ...subsystem.Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Adapter{
		opts:    subsystem.NewOptions(opts...),
		cfg:     cfg,
		reader:  reader,
		results: make(map[string]StandardResult, len(Standards())),
	}, nil
}

// System identifies the adapter.
func (a *Adapter) System() safety.SystemType {
	return safety.SystemCompliance
}

// RegisterEventSink sets the single event consumer.
func (a *Adapter) RegisterEventSink(sink safety.EventSink) error {
	return a.emitter.Register(sink)
}

// Trigger checks one standard or all of them, opens violations for failed
// requirements and resolves violations whose requirement passes again.
func (a *Adapter) Trigger(ctx context.Context, req safety.TriggerRequest) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	standards, err := parseStandards(req.Target)
	if err != nil {
		return nil, err
	}

	if a.reader == nil {
		return nil, fmt.Errorf("compliance status reader: %w", safety.ErrUnavailable)
	}

	// Read before locking: the reader may call back into Status.
	state := snapshot(a.reader.Snapshot(ctx))

	a.mu.Lock()

	now := a.opts.Clock()
	statuses := make(map[string]any, len(standards))

	var opened, resolved []*Violation

	for _, standard := range standards {
		result := checkStandard(standard, a.cfg.Thresholds, state, now)
		a.results[standard] = result
		statuses[standard] = result.Status

		for _, check := range result.Checks {
			o, r := a.applyCheckLocked(standard, check, now)
			opened = append(opened, o...)
			resolved = append(resolved, r...)
		}
	}

	a.mu.Unlock()

	openedIDs := violationIDs(opened)

	logger.InfoKV(ctx, "Compliance check completed", "standards", standards,
		"opened", len(opened), "resolved", len(resolved))

	if len(opened) > 0 {
		for _, v := range opened {
			logger.WarnKV(ctx, "Compliance violation", "standard", v.Standard, "requirement", v.Requirement,
				"details", v.Details)
		}

		a.emitter.Emit(safety.NewEvent(safety.SystemCompliance, EventViolation, safety.Payload{
			"standards":     standardsOf(opened),
			"violation_ids": openedIDs,
			"count":         len(opened),
		}, now))
	}

	return &safety.Result{
		Success:  true,
		System:   safety.SystemCompliance,
		Action:   safety.ActionTrigger,
		Target:   strings.Join(standards, ","),
		Message:  fmt.Sprintf("%d violation(s) opened, %d resolved", len(opened), len(resolved)),
		Affected: openedIDs,
		Details: safety.Payload{
			"statuses": statuses,
			"opened":   openedIDs,
			"resolved": violationIDs(resolved),
		},
		Timestamp: now,
	}, nil
}

// Reset acknowledges and resolves open violations of a standard, a single
// violation by id, or every open violation.
func (a *Adapter) Reset(ctx context.Context, target string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var match func(*Violation) bool

	switch {
	case target == "" || target == TargetAll || target == subsystem.AllZones:
		match = func(*Violation) bool { return true }
	case slices.Contains(Standards(), target):
		match = func(v *Violation) bool { return v.Standard == target }
	default:
		match = func(v *Violation) bool { return v.ID == target }
	}

	a.mu.Lock()

	now := a.opts.Clock()
	known := false

	var resolved []*Violation

	for _, v := range a.violations {
		if !match(v) {
			continue
		}

		known = true

		if !v.Resolved {
			v.Resolved = true
			v.ResolvedAt = now
			resolved = append(resolved, v)
		}
	}

	a.mu.Unlock()

	if !known && target != "" && target != TargetAll && target != subsystem.AllZones &&
		!slices.Contains(Standards(), target) {
		return nil, fmt.Errorf("violation %q: %w", target, safety.ErrNotFound)
	}

	ids := violationIDs(resolved)
	result := &safety.Result{
		Success:   true,
		System:    safety.SystemCompliance,
		Action:    safety.ActionReset,
		Target:    target,
		Affected:  ids,
		Details:   safety.Payload{"violation_ids": ids},
		Timestamp: now,
	}

	if len(resolved) == 0 {
		result.Message = "no open violations"

		return result, nil
	}

	result.Message = fmt.Sprintf("resolved %d violation(s)", len(resolved))

	logger.InfoKV(ctx, "Compliance violations resolved", "violation_ids", ids)

	a.emitter.Emit(safety.NewEvent(safety.SystemCompliance, EventViolationsResolved, safety.Payload{
		"violation_ids": ids,
	}, now))

	return result, nil
}

// Certificates evaluates certificate validity at the current time.
func (a *Adapter) Certificates(_ context.Context) CertificateReport {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.certificatesLocked(a.opts.Clock())
}

// Violations returns open violations, newest first.
func (a *Adapter) Violations() []Violation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.openLocked()
}

// Report assembles the latest standard results, open violations and certificates.
func (a *Adapter) Report(_ context.Context) Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.opts.Clock()
	report := Report{
		ID:           "RPT-" + strings.ToUpper(uuid.NewString()[:8]),
		GeneratedAt:  now,
		Standards:    make(map[string]StandardResult, len(Standards())),
		Violations:   a.openLocked(),
		Certificates: a.certificatesLocked(now),
	}

	statuses := make([]string, 0, len(Standards())+1)

	for _, standard := range Standards() {
		result, ok := a.results[standard]
		if !ok {
			result = StandardResult{Standard: standard, Status: StatusPending}
		}

		report.Standards[standard] = result
		statuses = append(statuses, result.Status)
	}

	switch {
	case report.Certificates.Expired > 0:
		statuses = append(statuses, StatusNonCompliant)
	case len(report.Certificates.Warnings) > 0:
		statuses = append(statuses, StatusWarning)
	}

	report.Overall = overall(statuses)

	if len(report.Violations) > 0 {
		report.Recommendations = append(report.Recommendations,
			"Address outstanding compliance violations to maintain certification status")
	}

	var renew []string

	for _, cert := range report.Certificates.Certificates {
		if cert.DaysToExpiry < 2*int(a.cfg.ExpiryWarning/day) {
			renew = append(renew, cert.Name)
		}
	}

	if len(renew) > 0 {
		report.Recommendations = append(report.Recommendations,
			"Renew certificates expiring soon: "+strings.Join(renew, ", "))
	}

	return report
}

// Test verifies the status feed and the certificates.
func (a *Adapter) Test(ctx context.Context) *safety.TestReport {
	waitErr := subsystem.Wait(ctx, a.opts.IODelay)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.Clock()
	feed := safety.DeviceResult{Device: "status_reader", Zone: "monitoring", Passed: a.reader != nil && waitErr == nil}

	if !feed.Passed {
		feed.Detail = "subsystem status feed unavailable"
	}

	devices := []safety.DeviceResult{feed}

	for _, cert := range a.certificatesLocked(now).Certificates {
		devices = append(devices, safety.DeviceResult{
			Device: cert.Name,
			Zone:   "certificates",
			Passed: cert.Status != StatusNonCompliant,
			Detail: fmt.Sprintf("%d days to expiry", cert.DaysToExpiry),
		})
	}

	a.lastTest = now

	return safety.NewTestReport(safety.SystemCompliance, devices, a.opts.TestPolicy, now)
}

// Status reports per-standard status, violations and certificates.
// Compliance findings never count as alarms.
func (a *Adapter) Status(_ context.Context) *safety.SubsystemState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.opts.Clock()
	zones := make(map[string]safety.Status, len(Standards()))
	standards := make(map[string]any, len(Standards()))

	for _, standard := range Standards() {
		status := StatusPending
		if result, ok := a.results[standard]; ok {
			status = result.Status
		}

		standards[standard] = status

		switch status {
		case StatusNonCompliant:
			zones[standard] = safety.StatusFault
		case StatusWarning:
			zones[standard] = safety.StatusMaintenance
		default:
			zones[standard] = safety.StatusNormal
		}
	}

	open := a.openLocked()
	certs := a.certificatesLocked(now)
	expiring := 0

	for _, cert := range certs.Certificates {
		if cert.Status == StatusWarning {
			expiring++
		}
	}

	score := subsystem.MaxScore
	score -= float64(len(open)*violationPenalty + certs.Expired*expiredPenalty + expiring*expiringPenalty)

	return &safety.SubsystemState{
		System:        safety.SystemCompliance,
		Status:        safety.DeriveStatus(zones),
		Zones:         zones,
		FaultyDevices: certs.Expired,
		Inventory: map[string]int{
			"standards":       len(Standards()),
			"certificates":    len(certs.Certificates),
			"open_violations": len(open),
		},
		LastTest:         a.lastTest,
		PerformanceScore: subsystem.Clamp(score),
		Details: safety.Payload{
			"standards":             standards,
			"unresolved_violations": len(open),
			"expired_certificates":  certs.Expired,
			"expiring_soon":         expiring,
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

// Close is a no-op; the monitor owns no timers.
func (a *Adapter) Close() {}

// applyCheckLocked opens or resolves the violation of one requirement. Caller holds mu.
func (a *Adapter) applyCheckLocked(standard string, check CheckResult, now time.Time) (opened, resolved []*Violation) {
	idx := slices.IndexFunc(a.violations, func(v *Violation) bool {
		return !v.Resolved && v.Standard == standard && v.Requirement == check.Requirement
	})

	if check.Status == StatusCompliant {
		if idx >= 0 {
			v := a.violations[idx]
			v.Resolved = true
			v.ResolvedAt = now
			resolved = append(resolved, v)
		}

		return opened, resolved
	}

	if idx >= 0 {
		v := a.violations[idx]
		v.Status = check.Status
		v.Details = check.Details

		return opened, resolved
	}

	v := &Violation{
		ID:          fmt.Sprintf("VIO-%s-%s", strings.ToUpper(standard), strings.ToUpper(uuid.NewString()[:8])),
		Standard:    standard,
		Requirement: check.Requirement,
		Description: check.Description,
		Status:      check.Status,
		Details:     check.Details,
		OpenedAt:    now,
	}

	a.violations = append(a.violations, v)
	opened = append(opened, v)

	return opened, resolved
}

// openLocked copies open violations, newest first. Caller holds mu.
func (a *Adapter) openLocked() []Violation {
	var open []Violation

	for i := len(a.violations) - 1; i >= 0; i-- {
		if v := a.violations[i]; !v.Resolved {
			open = append(open, *v)
		}
	}

	return open
}

// certificatesLocked evaluates certificates at now. Caller holds mu.
func (a *Adapter) certificatesLocked(now time.Time) CertificateReport {
	report := CertificateReport{
		Certificates: make([]CertificateStatus, 0, len(a.cfg.Certificates)),
		CheckedAt:    now,
	}

	warnDays := int(a.cfg.ExpiryWarning / day)

	for _, cert := range a.cfg.Certificates {
		days := int(cert.Expires.Sub(now) / day)
		status := StatusCompliant

		switch {
		case cert.Expires.Before(now):
			status = StatusNonCompliant
			report.Expired++
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s expired %d days ago", cert.Name, -days))
		case days < warnDays:
			status = StatusWarning
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s expires in %d days", cert.Name, days))
		}

		report.Certificates = append(report.Certificates, CertificateStatus{
			Name:         cert.Name,
			Standard:     cert.Standard,
			Number:       cert.Number,
			Authority:    cert.Authority,
			Expires:      cert.Expires,
			DaysToExpiry: days,
			Status:       status,
		})
	}

	return report
}

// parseStandards resolves a trigger target into standards.
func parseStandards(target string) ([]string, error) {
	if target == "" || target == TargetAll || target == subsystem.AllZones {
		return Standards(), nil
	}

	var standards []string

	for part := range strings.SplitSeq(target, ",") {
		standard := strings.ToLower(strings.TrimSpace(part))
		if !slices.Contains(Standards(), standard) {
			return nil, fmt.Errorf("compliance standard %q: %w", part, safety.ErrNotFound)
		}

		if !slices.Contains(standards, standard) {
			standards = append(standards, standard)
		}
	}

	return standards, nil
}

// overall folds statuses: non_compliant, warning, then compliant unless nothing was checked.
func overall(statuses []string) string {
	result := StatusPending

	for _, status := range statuses {
		switch status {
		case StatusNonCompliant:
			return StatusNonCompliant
		case StatusWarning:
			result = StatusWarning
		case StatusCompliant:
			if result == StatusPending {
				result = StatusCompliant
			}
		}
	}

	return result
}

func violationIDs(violations []*Violation) []string {
	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.ID)
	}

	return ids
}

func standardsOf(violations []*Violation) []string {
	var standards []string

	for _, v := range violations {
		if !slices.Contains(standards, v.Standard) {
			standards = append(standards, v.Standard)
		}
	}

	return standards
}
