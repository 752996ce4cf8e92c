package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PortConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serialrouter_port_connected",
			Help: "Whether a port is currently connected (1) or not (0)",
		},
		[]string{"port"},
	)

	ThroughputBPS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serialrouter_throughput_bytes_per_second",
			Help: "Current throughput per port and direction",
		},
		[]string{"port", "direction"},
	)

	ErrorsPerHour = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serialrouter_errors_per_hour",
			Help: "Rolling error rate per port",
		},
		[]string{"port"},
	)

	QueueUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serialrouter_queue_utilization_percent",
			Help: "Queue backlog as a percentage of capacity",
		},
		[]string{"port"},
	)

	QueueLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serialrouter_queue_latency_ms",
			Help:    "Time data spends queued before being written, in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"port"},
	)

	UptimePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serialrouter_port_uptime_percent",
			Help: "Per-port uptime percentage since first acquire",
		},
		[]string{"port"},
	)

	HandlerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serialrouter_handler_restarts_total",
			Help: "Total watchdog-triggered handler restarts",
		},
		[]string{"owner"},
	)

	DropEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serialrouter_drop_events_total",
			Help: "Total queue-full drop events per port",
		},
		[]string{"port"},
	)

	OverallHealthStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "serialrouter_overall_health_status",
			Help: "Overall health as an ordinal: 0=Critical 1=Warning 2=Good 3=Ok",
		},
	)

	EngineUptimeHours = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "serialrouter_engine_uptime_hours",
			Help: "Hours since the current engine run started",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PortConnected,
		ThroughputBPS,
		ErrorsPerHour,
		QueueUtilization,
		QueueLatency,
		UptimePercent,
		HandlerRestartsTotal,
		DropEventsTotal,
		OverallHealthStatus,
		EngineUptimeHours,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
