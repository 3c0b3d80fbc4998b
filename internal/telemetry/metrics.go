package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rabbitfence",
			Name:      "events_total",
			Help:      "Membership bus events received, by whether they were dispatched.",
		},
		[]string{"type", "action", "dispatched"},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rabbitfence",
			Name:      "fence_decisions_total",
			Help:      "Fencing decisions taken for departed nodes.",
		},
		[]string{"outcome"},
	)

	LivenessAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rabbitfence",
			Name:      "liveness_attempts",
			Help:      "Running-nodes queries issued per liveness check.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rabbitfence",
			Name:      "command_duration_seconds",
			Help:      "Latency of broker CLI invocations.",
			// 10ms .. ~40s, rabbitmqctl is slow to boot its Erlang VM.
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 13),
		},
		[]string{"command"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "rabbitfence",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(EventsTotal, DecisionsTotal, LivenessAttempts, CommandDuration, uptime)
}

// MetricsHandler exposes the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveCommand records how long a broker command took.
func ObserveCommand(command string, start time.Time) {
	CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}
