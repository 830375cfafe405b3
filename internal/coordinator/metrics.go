package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// Metrics exports coordinator activity to Prometheus.
type Metrics struct {
	processed    *prometheus.CounterVec
	stepFailures *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	overBudget   *prometheus.CounterVec
	queueLength  prometheus.Gauge
	shipStatus   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ship_safety_events_processed_total",
			Help: "Events processed by the coordinator",
		}, []string{"event_type", "protocol"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ship_safety_protocol_step_failures_total",
			Help: "Protocol steps that ended in a failed response action",
		}, []string{"system"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ship_safety_protocol_duration_seconds",
			Help:    "Time spent running a protocol",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}, []string{"protocol"}),
		overBudget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ship_safety_protocol_over_budget_total",
			Help: "Protocols that exceeded their response time",
		}, []string{"protocol"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ship_safety_event_queue_length",
			Help: "Events waiting for the coordinator",
		}),
		shipStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ship_safety_ship_status",
			Help: "Current ship-wide status, 1 for the active one",
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{m.processed, m.stepFailures, m.duration, m.overBudget, m.queueLength, m.shipStatus}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeEvent(kind, protocol string, elapsed time.Duration, overBudget bool) {
	if m == nil {
		return
	}

	m.processed.WithLabelValues(kind, protocol).Inc()
	m.duration.WithLabelValues(protocol).Observe(elapsed.Seconds())

	if overBudget {
		m.overBudget.WithLabelValues(protocol).Inc()
	}
}

func (m *Metrics) observeStepFailure(system safety.SystemType) {
	if m == nil {
		return
	}

	m.stepFailures.WithLabelValues(string(system)).Inc()
}

func (m *Metrics) setQueueLength(n int) {
	if m == nil {
		return
	}

	m.queueLength.Set(float64(n))
}

func (m *Metrics) setShipStatus(status safety.ShipStatus) {
	if m == nil {
		return
	}

	for _, s := range []safety.ShipStatus{safety.ShipNormal, safety.ShipAlarm, safety.ShipEmergency} {
		value := 0.0
		if s == status {
			value = 1
		}

		m.shipStatus.WithLabelValues(string(s)).Set(value)
	}
}
