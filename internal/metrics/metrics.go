// Package metrics provides Prometheus metrics for the control plane,
// narrowed from the teacher's namespace-wide collector to the
// operations C1-C6 actually perform: container lifecycle, build
// durations, proxy reloads, session occupancy, and port-pool
// utilization.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every Prometheus collector this module registers.
type Metrics struct {
	ContainersCreatedTotal *prometheus.CounterVec // labels: role, strategy
	ContainersFailedTotal  *prometheus.CounterVec // labels: role, strategy
	ContainersStoppedTotal *prometheus.CounterVec // labels: role
	ContainersRunning      *prometheus.GaugeVec   // labels: role

	BuildDuration *prometheus.HistogramVec // labels: strategy

	ProxyReloadsTotal    prometheus.Counter
	ProxyReloadFailures  prometheus.Counter
	ProxyReloadDuration  prometheus.Histogram

	SessionsActive      prometheus.Gauge
	SessionsStartedTotal prometheus.Counter
	SessionsExpiredTotal prometheus.Counter

	PortPoolInUse *prometheus.GaugeVec // labels: role
}

// Get returns the process-wide singleton, registering collectors on
// first call.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.ContainersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitedeploy", Subsystem: "containers", Name: "created_total",
		Help: "Total containers created, by role and strategy.",
	}, []string{"role", "strategy"})

	m.ContainersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitedeploy", Subsystem: "containers", Name: "failed_total",
		Help: "Total container create/run failures, by role and strategy.",
	}, []string{"role", "strategy"})

	m.ContainersStoppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitedeploy", Subsystem: "containers", Name: "stopped_total",
		Help: "Total containers stopped, by role.",
	}, []string{"role"})

	m.ContainersRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sitedeploy", Subsystem: "containers", Name: "running",
		Help: "Containers currently running, by role.",
	}, []string{"role"})

	m.BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitedeploy", Subsystem: "build", Name: "duration_seconds",
		Help:    "Time spent in the build phase, by strategy.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"strategy"})

	m.ProxyReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitedeploy", Subsystem: "proxy", Name: "reloads_total",
		Help: "Total fronting-proxy config reloads performed.",
	})
	m.ProxyReloadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitedeploy", Subsystem: "proxy", Name: "reload_failures_total",
		Help: "Total fronting-proxy config reloads that failed.",
	})
	m.ProxyReloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sitedeploy", Subsystem: "proxy", Name: "reload_duration_seconds",
		Help:    "Time spent rendering and atomically writing the proxy config.",
		Buckets: prometheus.DefBuckets,
	})

	m.SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sitedeploy", Subsystem: "sessions", Name: "active",
		Help: "Editing sessions currently active.",
	})
	m.SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitedeploy", Subsystem: "sessions", Name: "started_total",
		Help: "Total editing sessions started.",
	})
	m.SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitedeploy", Subsystem: "sessions", Name: "expired_total",
		Help: "Total editing sessions reclaimed by the sweeper.",
	})

	m.PortPoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sitedeploy", Subsystem: "ports", Name: "in_use",
		Help: "Ports currently allocated, by role.",
	}, []string{"role"})

	return m
}

// RecordContainerCreated increments the created/running counters for a
// successful container create, called by the container supervisor.
func (m *Metrics) RecordContainerCreated(role, strategy string) {
	m.ContainersCreatedTotal.WithLabelValues(role, strategy).Inc()
	m.ContainersRunning.WithLabelValues(role).Inc()
}

// RecordContainerFailed increments the failure counter for a role/strategy
// pair, called when CreateNamed's build, run, or health-check phase fails.
func (m *Metrics) RecordContainerFailed(role, strategy string) {
	m.ContainersFailedTotal.WithLabelValues(role, strategy).Inc()
}

// RecordContainerStopped decrements the running gauge and increments the
// stopped counter, called by Supervisor.Stop.
func (m *Metrics) RecordContainerStopped(role string) {
	m.ContainersStoppedTotal.WithLabelValues(role).Inc()
	m.ContainersRunning.WithLabelValues(role).Dec()
}

// RecordProxyReload observes one reload's outcome and duration.
func (m *Metrics) RecordProxyReload(succeeded bool, seconds float64) {
	m.ProxyReloadsTotal.Inc()
	if !succeeded {
		m.ProxyReloadFailures.Inc()
	}
	m.ProxyReloadDuration.Observe(seconds)
}

// RecordSessionStarted increments the started counter and active gauge.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStartedTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnded decrements the active gauge, optionally as an
// expiry (the sweeper reclaiming an idle session).
func (m *Metrics) RecordSessionEnded(expired bool) {
	m.SessionsActive.Dec()
	if expired {
		m.SessionsExpiredTotal.Inc()
	}
}

// SetPortPoolInUse reports the current allocation count for a role, for
// the allocator to publish after each Allocate/Release.
func (m *Metrics) SetPortPoolInUse(role string, count int) {
	m.PortPoolInUse.WithLabelValues(role).Set(float64(count))
}
