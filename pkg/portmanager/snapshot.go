package portmanager

import (
	"time"

	"github.com/tidewater/serialrouter/pkg/rollingwindow"
)

// Trend is the direction of the recent error rate relative to the older
// half of the error window.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// PortSnapshot is the point-in-time, exported view of one port's state and
// derived telemetry. It is the only representation of port state that ever
// crosses a serialization boundary.
type PortSnapshot struct {
	PortID    PortID `json:"port_id"`
	Connected bool   `json:"connected"`
	Owner     string `json:"owner"`

	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
	Errors       int64 `json:"errors"`
	Drops        int64 `json:"drops"`

	QueueSize    int     `json:"queue_size"`
	QueueUtilPct float64 `json:"queue_utilization_percent"`

	LastActivity time.Time `json:"last_activity"`

	ThroughputReadBPS  float64 `json:"throughput_read_bps"`
	ThroughputWriteBPS float64 `json:"throughput_write_bps"`
	ThroughputBPS      float64 `json:"throughput_bps"`

	ConnectionAttempts   int64    `json:"connection_attempts"`
	ConnectionSuccesses  int64    `json:"connection_successes"`
	ConnectionSuccessPct float64  `json:"connection_success_rate_percent"`
	UptimePercent        float64  `json:"uptime_percent"`
	MTBFHours            *float64 `json:"mtbf_hours"`

	ErrorsPerHour float64 `json:"errors_per_hour"`
	ErrorTrend    Trend   `json:"error_trend"`

	LatencyAvgMS float64 `json:"latency_avg_ms"`
	LatencyMinMS float64 `json:"latency_min_ms"`
	LatencyMaxMS float64 `json:"latency_max_ms"`
}

// Snapshot returns a derived-metrics view of every port the manager has
// ever seen via Acquire, Enqueue, Dequeue or QueueSize.
func (m *Manager) Snapshot() map[PortID]PortSnapshot {
	now := time.Now()

	m.mu.RLock()
	records := make([]*portRecord, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.RUnlock()

	out := make(map[PortID]PortSnapshot, len(records))
	for _, r := range records {
		out[r.id] = r.snapshot(now)
	}
	return out
}

func (r *portRecord) snapshot(now time.Time) PortSnapshot {
	r.mu.Lock()
	connected := r.port != nil
	owner := r.owner
	attempts := r.connectionAttempts
	successes := r.connectionSuccesses
	totalDowntime := r.totalDowntime
	downSince := r.downSince
	createdAt := r.createdAt
	r.mu.Unlock()

	readSamples := r.readSamples.Since(now)
	writeSamples := r.writeSamples.Since(now)

	var readBytes, writeBytes int
	for _, s := range readSamples {
		readBytes += s.Value
	}
	for _, s := range writeSamples {
		writeBytes += s.Value
	}
	readBPS := float64(readBytes) / ThroughputWindow.Seconds()
	writeBPS := float64(writeBytes) / ThroughputWindow.Seconds()

	totalTime := now.Sub(createdAt).Seconds()
	downtime := totalDowntime.Seconds()
	if !downSince.IsZero() {
		downtime += now.Sub(downSince).Seconds()
	}
	var uptimePct float64 = 100
	if totalTime > 0 {
		uptimePct = (totalTime - downtime) / totalTime * 100
	}

	var mtbf *float64
	failures := attempts - successes
	if failures > 0 {
		v := totalTime / 3600 / float64(failures)
		mtbf = &v
	}

	var successRate float64
	if attempts > 0 {
		successRate = float64(successes) / float64(attempts) * 100
	}

	errorSamples := r.errSamples.Since(now)
	errorsPerHour := float64(len(errorSamples))
	trend := classifyTrend(errorSamples, now)

	latVals := r.latency.Values()
	var latAvg, latMin, latMax float64
	if len(latVals) > 0 {
		latMin = latVals[0]
		latMax = latVals[0]
		var sum float64
		for _, v := range latVals {
			sum += v
			if v < latMin {
				latMin = v
			}
			if v > latMax {
				latMax = v
			}
		}
		latAvg = sum / float64(len(latVals))
	}

	queueSize := len(r.queue)

	return PortSnapshot{
		PortID:    r.id,
		Connected: connected,
		Owner:     owner,

		BytesRead:    r.bytesRead.Load(),
		BytesWritten: r.bytesWritten.Load(),
		Errors:       r.errorCount.Load(),
		Drops:        r.dropCount.Load(),

		QueueSize:    queueSize,
		QueueUtilPct: float64(queueSize) / float64(MaxQueueSize) * 100,

		LastActivity: lastActivityTime(r),

		ThroughputReadBPS:  readBPS,
		ThroughputWriteBPS: writeBPS,
		ThroughputBPS:      readBPS + writeBPS,

		ConnectionAttempts:   attempts,
		ConnectionSuccesses:  successes,
		ConnectionSuccessPct: successRate,
		UptimePercent:        uptimePct,
		MTBFHours:            mtbf,

		ErrorsPerHour: errorsPerHour,
		ErrorTrend:    trend,

		LatencyAvgMS: latAvg,
		LatencyMinMS: latMin,
		LatencyMaxMS: latMax,
	}
}

func lastActivityTime(r *portRecord) time.Time {
	nano := r.lastActivity.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// classifyTrend compares the first and second half (by time) of the error
// window's samples: ratio > 1.5 is increasing, < 0.5 is decreasing, and
// the zero-count halves are special-cased rather than divided.
func classifyTrend(samples []rollingwindow.Sample[struct{}], now time.Time) Trend {
	mid := now.Add(-ErrorWindow / 2)
	var older, recent int
	for _, s := range samples {
		if s.At.Before(mid) {
			older++
		} else {
			recent++
		}
	}

	switch {
	case older == 0 && recent == 0:
		return TrendStable
	case older == 0 && recent > 0:
		return TrendIncreasing
	case recent == 0 && older > 0:
		return TrendDecreasing
	}

	ratio := float64(recent) / float64(older)
	switch {
	case ratio > 1.5:
		return TrendIncreasing
	case ratio < 0.5:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
