package health

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// Metrics exports health reports as Prometheus gauges.
type Metrics struct {
	overall     prometheus.Gauge
	score       *prometheus.GaugeVec
	penalty     *prometheus.GaugeVec
	alarms      *prometheus.GaugeVec
	sessions    *prometheus.GaugeVec
	faultyUnits *prometheus.GaugeVec
}

// NewMetrics creates the gauges and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		overall: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ship_safety_overall_health",
			Help: "Mean performance score of all subsystems",
		}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ship_safety_subsystem_score",
			Help: "Subsystem performance score after environmental penalties",
		}, []string{"system"}),
		penalty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ship_safety_environment_penalty",
			Help: "Score deduction caused by environmental conditions",
		}, []string{"system"}),
		alarms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ship_safety_active_alarms",
			Help: "Originating alarms reported by a subsystem",
		}, []string{"system"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ship_safety_active_sessions",
			Help: "Active sessions owned by a subsystem",
		}, []string{"system"}),
		faultyUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ship_safety_faulty_devices",
			Help: "Devices reported faulty by a subsystem",
		}, []string{"system"}),
	}

	collectors := []prometheus.Collector{m.overall, m.score, m.penalty, m.alarms, m.sessions, m.faultyUnits}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Observe records a report and the states it was computed from.
func (m *Metrics) Observe(report *Report, states map[safety.SystemType]*safety.SubsystemState) {
	if m == nil || report == nil {
		return
	}

	m.overall.Set(report.Overall)

	for _, score := range report.Scores {
		label := string(score.System)
		m.score.WithLabelValues(label).Set(score.Score)
		m.penalty.WithLabelValues(label).Set(score.Penalty)
	}

	for system, state := range states {
		if state == nil {
			continue
		}

		label := string(system)
		m.alarms.WithLabelValues(label).Set(float64(state.ActiveAlarms))
		m.sessions.WithLabelValues(label).Set(float64(state.ActiveSessions))
		m.faultyUnits.WithLabelValues(label).Set(float64(state.FaultyDevices))
	}
}
