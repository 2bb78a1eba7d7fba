// Package metrics provides Prometheus metrics for the negotiation core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing, so library code never has to guard its calls.
type Metrics struct {
	Negotiations    *prometheus.CounterVec
	RemoteCalls     *prometheus.CounterVec
	RemoteCallTime  *prometheus.HistogramVec
	LeaseConflicts  prometheus.Counter
	ScheduleCache   *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
}

// New creates all metrics and registers them on the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiations_total",
			Help: "Completed negotiations by operation and status code",
		}, []string{"operation", "status"}),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_backend_calls_total",
			Help: "Clinic backend calls by message type and outcome",
		}, []string{"message_type", "outcome"}),
		RemoteCallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_backend_call_duration_seconds",
			Help:    "Clinic backend call duration",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"message_type"}),
		LeaseConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_lease_conflicts_total",
			Help: "Reserve attempts short-circuited by a held slot lease",
		}),
		ScheduleCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_cache_requests_total",
			Help: "Schedule cache lookups by result (hit, miss, stale)",
		}, []string{"result"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinic_backend_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.Negotiations,
		m.RemoteCalls,
		m.RemoteCallTime,
		m.LeaseConflicts,
		m.ScheduleCache,
		m.BreakerState,
	)

	return m
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) IncNegotiation(operation, status string) {
	if m == nil {
		return
	}
	m.Negotiations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) ObserveRemoteCall(messageType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(messageType, outcome).Inc()
	m.RemoteCallTime.WithLabelValues(messageType).Observe(d.Seconds())
}

func (m *Metrics) IncLeaseConflict() {
	if m == nil {
		return
	}
	m.LeaseConflicts.Inc()
}

func (m *Metrics) IncScheduleCache(result string) {
	if m == nil {
		return
	}
	m.ScheduleCache.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}
