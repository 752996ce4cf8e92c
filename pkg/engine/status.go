package engine

import (
	"math"
	"time"

	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/handler"
	"github.com/tidewater/serialrouter/pkg/portmanager"
)

// HealthStatus is the four-level qualitative health summary.
type HealthStatus string

const (
	HealthCritical HealthStatus = "critical"
	HealthWarning  HealthStatus = "warning"
	HealthGood     HealthStatus = "good"
	HealthOk       HealthStatus = "ok"
)

// PortStatus is the per-port slice of EngineStatus.
type PortStatus struct {
	Connected        bool      `json:"connected"`
	Owner            string    `json:"owner"`
	LastActivity     time.Time `json:"last_activity"`
	QueueSize        int       `json:"queue_size"`
	QueueUtilization float64   `json:"queue_utilization_percent"`
	ErrorCount       int64     `json:"error_count"`
	DropCount        int64     `json:"drop_count"`
	ErrorsPerHour    float64   `json:"errors_per_hour"`
	ThroughputBPS    float64   `json:"throughput_bps"`
	UptimePercent    float64   `json:"uptime_percent"`
	MTBFHours        *float64  `json:"mtbf_hours"`
	QueueLatencyMS   float64   `json:"queue_latency_ms"`
}

// EngineStatus is the full status snapshot exposed over the control
// surface: engine bookkeeping, engine-wide critical metrics, the per-port
// breakdown, and the overall health classification.
type EngineStatus struct {
	Running              bool             `json:"running"`
	IncomingPort         string           `json:"incoming_port"`
	OutgoingPorts        [2]string        `json:"outgoing_ports"`
	ActiveHandlers       int              `json:"active_handlers"`
	BytesTransferred     map[string]int64 `json:"bytes_transferred"`
	ErrorCounts          map[string]int64 `json:"error_counts"`
	HandlerRestartCounts map[string]int   `json:"handler_restart_counts"`

	SystemUptimeHours        float64 `json:"system_uptime_hours"`
	ActiveConnections        string  `json:"active_connections"`
	CurrentThroughputBPS     float64 `json:"current_throughput_bps"`
	ErrorRatePerHour         float64 `json:"error_rate_per_hour"`
	SecondsSinceLastActivity float64 `json:"seconds_since_last_activity"`
	AvgQueueUtilizationPct   float64 `json:"avg_queue_utilization_percent"`
	PeakThroughputBPS        float64 `json:"peak_throughput_bps"`
	DataLossEvents           int64   `json:"data_loss_events"`

	PerPort map[string]PortStatus `json:"per_port"`

	AllPortsConnected   bool         `json:"all_ports_connected"`
	TotalPortErrors     int64        `json:"total_port_errors"`
	TotalQueueBacklog   int          `json:"total_queue_backlog"`
	OverallHealthStatus HealthStatus `json:"overall_health_status"`
}

// Status composes engine bookkeeping with the port manager's snapshot into
// the full EngineStatus contract. It never blocks the data plane: only the
// port manager's brief locks are taken.
func (e *Engine) Status() EngineStatus {
	snap := e.manager.Snapshot()

	e.hmu.Lock()
	handlers := make(map[string]*handler.Handler, len(e.handlers))
	for owner, h := range e.handlers {
		handlers[owner] = h
	}
	e.hmu.Unlock()

	ports := []struct {
		owner string
		id    portmanager.PortID
	}{
		{IncomingOwner, e.cfg.IncomingPort},
		{OutgoingAOwner, e.cfg.OutgoingPorts[0]},
		{OutgoingBOwner, e.cfg.OutgoingPorts[1]},
	}

	bytesTransferred := make(map[string]int64, 3)
	errorCounts := make(map[string]int64, 3)
	restartCounts := make(map[string]int, 3)
	if e.wd != nil {
		restartCounts = e.wd.RestartCounts()
	}
	perPort := make(map[string]PortStatus, 3)

	var activeHandlers int
	var sumThroughput, sumErrorRate, sumQueueUtil, maxRecency float64
	allConnected := true
	var totalErrors int64
	var totalBacklog int
	var totalDrops int64
	anyErrorsOver10 := false
	anyQueueOver80 := false
	anyRecentActivity := false

	anyActivity := false
	for _, p := range ports {
		s := snap[p.id]

		if h, ok := handlers[p.owner]; ok {
			bytesTransferred[p.owner] = h.BytesTransferred()
			if e.running.Load() {
				activeHandlers++
			}
		}
		errorCounts[p.owner] = s.Errors

		if !s.LastActivity.IsZero() {
			anyActivity = true
			recency := time.Since(s.LastActivity).Seconds()
			if recency > maxRecency {
				maxRecency = recency
			}
			if recency <= 60 {
				anyRecentActivity = true
			}
		}

		perPort[string(p.id)] = PortStatus{
			Connected:        s.Connected,
			Owner:            s.Owner,
			LastActivity:     s.LastActivity,
			QueueSize:        s.QueueSize,
			QueueUtilization: s.QueueUtilPct,
			ErrorCount:       s.Errors,
			DropCount:        s.Drops,
			ErrorsPerHour:    s.ErrorsPerHour,
			ThroughputBPS:    s.ThroughputBPS,
			UptimePercent:    s.UptimePercent,
			MTBFHours:        s.MTBFHours,
			QueueLatencyMS:   s.LatencyAvgMS,
		}

		sumThroughput += s.ThroughputBPS
		sumErrorRate += s.ErrorsPerHour
		sumQueueUtil += s.QueueUtilPct
		totalErrors += s.Errors
		totalBacklog += s.QueueSize
		totalDrops += s.Drops

		if !s.Connected {
			allConnected = false
		}
		if s.ErrorsPerHour > 10 {
			anyErrorsOver10 = true
		}
		if s.QueueUtilPct > 80 {
			anyQueueOver80 = true
		}
	}

	// A port with no activity yet contributes nothing to recency; if no
	// port has ever seen traffic, report the time since the engine
	// started instead so the value stays finite and encodable.
	if !anyActivity && !e.startTime.IsZero() {
		maxRecency = time.Since(e.startTime).Seconds()
	}

	e.updatePeak(sumThroughput)

	var uptimeHours float64
	if !e.startTime.IsZero() {
		uptimeHours = time.Since(e.startTime).Hours()
	}

	connStr := "0/3"
	switch activeHandlers {
	case 1:
		connStr = "1/3"
	case 2:
		connStr = "2/3"
	case 3:
		connStr = "3/3"
	}

	health := HealthCritical
	switch {
	case !allConnected:
		health = HealthCritical
	case anyErrorsOver10 || anyQueueOver80:
		health = HealthWarning
	case anyRecentActivity:
		health = HealthGood
	default:
		health = HealthOk
	}
	e.noteHealthTransition(health)

	return EngineStatus{
		Running:              e.running.Load(),
		IncomingPort:         string(e.cfg.IncomingPort),
		OutgoingPorts:        [2]string{string(e.cfg.OutgoingPorts[0]), string(e.cfg.OutgoingPorts[1])},
		ActiveHandlers:       activeHandlers,
		BytesTransferred:     bytesTransferred,
		ErrorCounts:          errorCounts,
		HandlerRestartCounts: restartCounts,

		SystemUptimeHours:        uptimeHours,
		ActiveConnections:        connStr,
		CurrentThroughputBPS:     sumThroughput,
		ErrorRatePerHour:         sumErrorRate,
		SecondsSinceLastActivity: maxRecency,
		AvgQueueUtilizationPct:   sumQueueUtil / 3,
		PeakThroughputBPS:        math.Float64frombits(e.peakThroughputBits.Load()),
		DataLossEvents:           totalDrops,

		PerPort: perPort,

		AllPortsConnected:   allConnected,
		TotalPortErrors:     totalErrors,
		TotalQueueBacklog:   totalBacklog,
		OverallHealthStatus: health,
	}
}

// noteHealthTransition publishes a health.transition event the first time
// Status observes a different OverallHealthStatus than the previous call.
func (e *Engine) noteHealthTransition(current HealthStatus) {
	prev, _ := e.lastHealth.Swap(current).(HealthStatus)
	if prev == current {
		return
	}
	e.bus.Publish(events.Event{
		Type:    events.HealthTransition,
		Message: "health status changed",
		Metadata: map[string]string{
			"from": string(prev),
			"to":   string(current),
		},
	})
}
