package ctl

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	api "github.com/oshokin/ship-safety/internal/api/grpc/safety"
	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/subsystem/compliance"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
)

// timeLayout is used for every timestamp on screen.
const timeLayout = "2006-01-02 15:04:05"

//nolint:gochecknoglobals // Immutable terminal styles.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	nameStyle  = lipgloss.NewStyle().Width(16)
)

func shipStatus(status safety.ShipStatus) string {
	switch status {
	case safety.ShipEmergency:
		return errorStyle.Render(string(status))
	case safety.ShipAlarm:
		return warnStyle.Render(string(status))
	default:
		return okStyle.Render(string(status))
	}
}

func systemStatus(status safety.Status) string {
	switch status {
	case safety.StatusEmergency, safety.StatusAlarm:
		return errorStyle.Render(string(status))
	case safety.StatusFault, safety.StatusMaintenance:
		return warnStyle.Render(string(status))
	default:
		return okStyle.Render(string(status))
	}
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return okStyle.Render(yes)
	}

	return errorStyle.Render(no)
}

func field(label string, value any) string {
	return labelStyle.Render(label+":") + " " + fmt.Sprint(value)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Local().Format(timeLayout)
}

// renderStatus formats the ship-wide status report.
func renderStatus(status *coordinator.SystemStatus) string {
	if status == nil {
		return ""
	}

	lines := []string{
		titleStyle.Render("Ship status"),
		field("status", shipStatus(status.ShipStatus)),
		field("health", fmt.Sprintf("%.1f", status.OverallHealth)),
		field("queue", status.QueueLength),
		field("updated", stamp(status.Timestamp)),
	}

	if status.LastOperator != nil {
		lines = append(lines, field("last operator", status.LastOperator.String()))
	}

	lines = append(lines, "", titleStyle.Render("Subsystems"))

	for _, system := range safety.Subsystems() {
		state, ok := status.Subsystems[system]
		if !ok || state == nil {
			continue
		}

		lines = append(lines, renderState(state))
	}

	if len(status.ActiveEvents) > 0 {
		lines = append(lines, "", titleStyle.Render("Active events"))
		for _, event := range status.ActiveEvents {
			lines = append(lines, renderEvent(event))
		}
	}

	return strings.Join(lines, "\n")
}

// renderState formats one subsystem as a single line.
func renderState(state *safety.SubsystemState) string {
	return fmt.Sprintf("%s %s score %5.1f  alarms %d  sessions %d  faulty %d  tested %s",
		nameStyle.Render(string(state.System)),
		systemStatus(state.Status),
		state.PerformanceScore,
		state.ActiveAlarms,
		state.ActiveSessions,
		state.FaultyDevices,
		stamp(state.LastTest))
}

// renderSubsystem formats one subsystem with its zones.
func renderSubsystem(state *safety.SubsystemState) string {
	if state == nil {
		return ""
	}

	lines := []string{renderState(state)}

	zones := make([]string, 0, len(state.Zones))
	for zone := range state.Zones {
		zones = append(zones, zone)
	}

	slices.Sort(zones)

	for _, zone := range zones {
		lines = append(lines, "  "+nameStyle.Render(zone)+" "+systemStatus(state.Zones[zone]))
	}

	for _, session := range state.Sessions {
		lines = append(lines, "  "+field("session", session.ID))
	}

	return strings.Join(lines, "\n")
}

// renderResult formats an adapter outcome.
func renderResult(result *safety.Result) string {
	if result == nil {
		return ""
	}

	head := fmt.Sprintf("%s %s %s", verdict(result.Success, "OK", "FAILED"), result.System, result.Action)
	if result.Target != "" {
		head += " " + result.Target
	}

	lines := []string{head}

	if result.Message != "" {
		lines = append(lines, field("message", result.Message))
	}

	if result.Error != "" {
		lines = append(lines, field("error", errorStyle.Render(result.Error)))
	}

	if len(result.Affected) > 0 {
		lines = append(lines, field("affected", strings.Join(result.Affected, ", ")))
	}

	if result.SessionID != "" {
		lines = append(lines, field("session", result.SessionID))
	}

	return strings.Join(lines, "\n")
}

// renderEvent formats an event header line followed by its response actions.
func renderEvent(event *safety.SystemEvent) string {
	if event == nil {
		return ""
	}

	state := warnStyle.Render("pending")
	if event.Processed {
		state = okStyle.Render("processed")
	}

	lines := []string{fmt.Sprintf("%s %s from %s [%s] %s",
		stamp(event.Timestamp), event.Kind, event.Source, state, labelStyle.Render(event.ID))}

	for _, action := range event.ResponseActions {
		line := fmt.Sprintf("  %s %s %s %s", verdict(action.Success, "ok", "failed"), action.System, action.Action,
			action.Target)
		if action.Error != "" {
			line += " " + errorStyle.Render(action.Error)
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

// renderEvents formats a list of events under a title.
func renderEvents(title string, events []*safety.SystemEvent) string {
	lines := []string{titleStyle.Render(title)}
	if len(events) == 0 {
		lines = append(lines, labelStyle.Render("no events"))
	}

	for _, event := range events {
		lines = append(lines, renderEvent(event))
	}

	return strings.Join(lines, "\n")
}

func renderRecent(recent *coordinator.RecentEvents) string {
	if recent == nil {
		return ""
	}

	title := fmt.Sprintf("%d event(s) in the last %g hour(s)", recent.TotalEvents, recent.TimeframeHours)

	return renderEvents(title, recent.Events)
}

func renderHistory(history *api.EventHistory) string {
	if history == nil {
		return ""
	}

	return renderEvents(fmt.Sprintf("%d archived event(s)", history.TotalEvents), history.Events)
}

// renderReset formats the outcome of a ship-wide reset.
func renderReset(report *coordinator.ResetReport) string {
	if report == nil {
		return ""
	}

	systems := make([]string, 0, len(report.SystemsReset))
	for _, system := range report.SystemsReset {
		systems = append(systems, string(system))
	}

	lines := []string{
		verdict(report.Success, "Reset completed", "Reset incomplete"),
		field("ship status", shipStatus(report.ShipStatus)),
		field("systems reset", strings.Join(systems, ", ")),
	}

	for _, detail := range report.Details {
		lines = append(lines, "  "+detail)
	}

	return strings.Join(lines, "\n")
}

// renderTests formats self-test reports in subsystem order.
func renderTests(reports map[safety.SystemType]*safety.TestReport) string {
	lines := []string{titleStyle.Render("Self-tests")}

	for _, system := range safety.Subsystems() {
		report, ok := reports[system]
		if !ok || report == nil {
			continue
		}

		lines = append(lines, renderTest(report))
	}

	return strings.Join(lines, "\n")
}

func renderTest(report *safety.TestReport) string {
	if report == nil {
		return ""
	}

	lines := []string{fmt.Sprintf("%s %s %d device(s), %d failed",
		nameStyle.Render(string(report.System)),
		verdict(report.Overall == safety.TestPass, string(safety.TestPass), string(report.Overall)),
		len(report.Devices),
		report.Failed)}

	for _, device := range report.Devices {
		if device.Passed {
			continue
		}

		lines = append(lines, fmt.Sprintf("  %s %s %s", errorStyle.Render("failed"), device.Device, device.Detail))
	}

	return strings.Join(lines, "\n")
}

// renderCompliance formats the compliance report and certificates.
func renderCompliance(status *coordinator.ComplianceStatus) string {
	if status == nil {
		return ""
	}

	report := status.Report

	lines := []string{
		titleStyle.Render("Compliance"),
		field("overall", complianceStatus(report.Overall)),
		field("report", report.ID),
	}

	standards := make([]string, 0, len(report.Standards))
	for standard := range report.Standards {
		standards = append(standards, standard)
	}

	slices.Sort(standards)

	for _, standard := range standards {
		lines = append(lines, nameStyle.Render(standard)+" "+complianceStatus(report.Standards[standard].Status))
	}

	for _, violation := range report.Violations {
		if violation.Resolved {
			continue
		}

		lines = append(lines, fmt.Sprintf("  %s %s/%s %s", errorStyle.Render("violation"),
			violation.Standard, violation.Requirement, violation.Details))
	}

	lines = append(lines, "", titleStyle.Render("Certificates"))

	for _, certificate := range status.Certificates.Certificates {
		lines = append(lines, fmt.Sprintf("%s %s expires %s (%d days)",
			nameStyle.Render(certificate.Name),
			complianceStatus(certificate.Status),
			certificate.Expires.Format(time.DateOnly),
			certificate.DaysToExpiry))
	}

	for _, warning := range status.Certificates.Warnings {
		lines = append(lines, "  "+warnStyle.Render(warning))
	}

	for _, recommendation := range report.Recommendations {
		lines = append(lines, "  "+labelStyle.Render(recommendation))
	}

	return strings.Join(lines, "\n")
}

// renderProcedures lists procedures by name, then contacts by priority.
func renderProcedures(procedures *estop.Procedures) string {
	if procedures == nil {
		return ""
	}

	lines := []string{titleStyle.Render("Emergency procedures")}

	names := make([]string, 0, len(procedures.Steps))
	for name := range procedures.Steps {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		lines = append(lines, labelStyle.Render(name+":"))

		for i, step := range procedures.Steps[name] {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, step))
		}
	}

	lines = append(lines, "", titleStyle.Render("Contacts"))

	for _, contact := range procedures.Contacts {
		line := fmt.Sprintf("%d %s", contact.Priority, nameStyle.Render(contact.Role))

		switch {
		case contact.Frequency != "":
			line += " " + contact.Frequency
		case contact.Location != "":
			line += " " + contact.Location
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func complianceStatus(status string) string {
	switch status {
	case compliance.StatusCompliant:
		return okStyle.Render(status)
	case compliance.StatusNonCompliant:
		return errorStyle.Render(status)
	default:
		return warnStyle.Render(status)
	}
}

// renderNotification formats one streamed notification.
func renderNotification(n safety.Notification) string {
	return fmt.Sprintf("%s %s from %s, ship %s",
		stamp(n.Timestamp), n.Kind, n.Source, shipStatus(n.ShipStatus))
}
