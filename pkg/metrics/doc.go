/*
Package metrics provides Prometheus metrics collection and exposition for
the router.

It defines and registers every router gauge, counter, and histogram using
the Prometheus client library, mirroring the derived telemetry the port
manager computes (throughput, error rate, queue utilization, latency,
uptime, health) so an external Prometheus server can scrape them over
/metrics alongside the JSON status endpoint.

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  Collector (15s tick) ──┐                                 │
	│                          ▼                                │
	│  engine.Status() ──► gauges/counters ──► promhttp.Handler  │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

Also hosts the generic HealthChecker component registry the control
surface's /ready handler updates on every poll (engine running state), and
the Timer helper used to time arbitrary operations against a histogram.
*/
package metrics
