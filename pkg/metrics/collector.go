package metrics

import (
	"time"

	"github.com/tidewater/serialrouter/pkg/engine"
)

// Collector periodically mirrors the engine's derived telemetry into the
// prometheus gauges declared in metrics.go via a ticker-driven goroutine.
type Collector struct {
	eng    *engine.Engine
	stopCh chan struct{}

	lastDrops    map[string]int64
	lastRestarts map[string]int
}

// NewCollector creates a collector that samples eng every tick.
func NewCollector(eng *engine.Engine) *Collector {
	return &Collector{
		eng:          eng,
		stopCh:       make(chan struct{}),
		lastDrops:    make(map[string]int64),
		lastRestarts: make(map[string]int),
	}
}

// Start begins collecting metrics on a 15 s cadence.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	status := c.eng.Status()

	EngineUptimeHours.Set(status.SystemUptimeHours)
	OverallHealthStatus.Set(healthOrdinal(status.OverallHealthStatus))

	for port, ps := range status.PerPort {
		connected := 0.0
		if ps.Connected {
			connected = 1.0
		}
		PortConnected.WithLabelValues(port).Set(connected)
		ErrorsPerHour.WithLabelValues(port).Set(ps.ErrorsPerHour)
		UptimePercent.WithLabelValues(port).Set(ps.UptimePercent)
		ThroughputBPS.WithLabelValues(port, "total").Set(ps.ThroughputBPS)
		QueueUtilization.WithLabelValues(port).Set(ps.QueueUtilization)
		QueueLatency.WithLabelValues(port).Observe(ps.QueueLatencyMS)

		if delta := ps.DropCount - c.lastDrops[port]; delta > 0 {
			DropEventsTotal.WithLabelValues(port).Add(float64(delta))
		}
		c.lastDrops[port] = ps.DropCount
	}

	// HandlerRestartCounts is a rolling-window count that resets every
	// hour, so only positive deltas feed the monotonic counter.
	for owner, count := range status.HandlerRestartCounts {
		if delta := count - c.lastRestarts[owner]; delta > 0 {
			HandlerRestartsTotal.WithLabelValues(owner).Add(float64(delta))
		}
		c.lastRestarts[owner] = count
	}
}

func healthOrdinal(h engine.HealthStatus) float64 {
	switch h {
	case engine.HealthCritical:
		return 0
	case engine.HealthWarning:
		return 1
	case engine.HealthGood:
		return 2
	case engine.HealthOk:
		return 3
	default:
		return 0
	}
}
