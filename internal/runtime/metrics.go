package runtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "eventmesh"

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// RouteMetrics exposes execution counters to Prometheus.
type RouteMetrics struct {
	mu sync.Mutex

	eventsTotal   *prometheus.CounterVec
	execSeconds   *prometheus.HistogramVec
	bufferedTotal *prometheus.CounterVec
	routesCurrent prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewRouteMetrics creates the collectors. Nothing is registered until
// Register is called.
func NewRouteMetrics(registerer prometheus.Registerer) *RouteMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &RouteMetrics{
		registerer:    registerer,
		eventsTotal:   newCounterVec("events_total", "Total number of events executed per route", []string{"route", "outcome"}),
		execSeconds:   newHistogramVec("exec_seconds", "Execution time of route functions", prometheus.DefBuckets, []string{"route"}),
		bufferedTotal: newCounterVec("buffered_total", "Total number of events spilled to the overflow queue", []string{"route"}),
		routesCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "routes_current",
			Help:      "Number of routes currently registered",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *RouteMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.execSeconds,
		m.bufferedTotal,
		m.routesCurrent,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *RouteMetrics) recordExecution(route string, seconds float64, failed bool) {
	outcome := outcomeSuccess
	if failed {
		outcome = outcomeError
	}
	m.eventsTotal.WithLabelValues(route, outcome).Inc()
	m.execSeconds.WithLabelValues(route).Observe(seconds)
}

func (m *RouteMetrics) recordBuffered(route string) {
	m.bufferedTotal.WithLabelValues(route).Inc()
}

func (m *RouteMetrics) setRoutes(n int) {
	m.routesCurrent.Set(float64(n))
}

// forget drops the per-route series of a released route.
func (m *RouteMetrics) forget(route string) {
	m.eventsTotal.DeletePartialMatch(prometheus.Labels{"route": route})
	m.execSeconds.DeleteLabelValues(route)
	m.bufferedTotal.DeleteLabelValues(route)
}
