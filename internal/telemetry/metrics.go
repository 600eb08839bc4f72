package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrroute",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrroute",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(buildInfo, uptime)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// HelloMetrics instruments the hello prober. It is injected rather than
// read from package globals so tests can count events in isolation.
type HelloMetrics struct {
	InterestsSent      prometheus.Counter
	InterestsReceived  prometheus.Counter
	DataSent           prometheus.Counter
	DataReceived       prometheus.Counter
	ValidationFailures prometheus.Counter
	Transitions        *prometheus.CounterVec // direction: up | down
	ActiveNeighbors    prometheus.Gauge
}

// NewHelloMetrics builds the hello metric set and registers it with reg.
// A nil reg skips registration, which is what unit tests want.
func NewHelloMetrics(reg prometheus.Registerer) *HelloMetrics {
	m := &HelloMetrics{
		InterestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zephyrroute",
			Name:      "hello_interests_sent_total",
			Help:      "Total hello probes sent.",
		}),
		InterestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zephyrroute",
			Name:      "hello_interests_received_total",
			Help:      "Total hello probes received.",
		}),
		DataSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zephyrroute",
			Name:      "hello_data_sent_total",
			Help:      "Total hello responses sent.",
		}),
		DataReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zephyrroute",
			Name:      "hello_data_received_total",
			Help:      "Total validated hello responses received.",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zephyrroute",
			Name:      "hello_validation_failures_total",
			Help:      "Total hello responses rejected by signature validation.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zephyrroute",
			Name:      "neighbor_transitions_total",
			Help:      "Neighbor liveness transitions by direction.",
		}, []string{"direction"}),
		ActiveNeighbors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrroute",
			Name:      "active_neighbors",
			Help:      "Neighbors currently considered active.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.InterestsSent, m.InterestsReceived,
			m.DataSent, m.DataReceived,
			m.ValidationFailures, m.Transitions, m.ActiveNeighbors,
		)
	}
	return m
}
