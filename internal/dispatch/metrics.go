package dispatch

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records invocation counts and latencies per action.
type Metrics struct {
	mu sync.Mutex

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors. They are exported once Register is called.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actuator",
				Name:      "requests_total",
				Help:      "Total number of action invocations by outcome status",
			},
			[]string{"action", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "actuator",
				Name:      "request_duration_seconds",
				Help:      "Action invocation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// Observe records one invocation.
func (m *Metrics) Observe(action string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}
