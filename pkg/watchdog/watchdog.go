// Package watchdog monitors handler liveness via heartbeats and restarts
// dead or stuck handlers, subject to a rolling per-handler restart rate
// limit. It ticks every 10s, checks heartbeat staleness against a fixed
// deadline, and delays each restart of a handler beyond its 10th within the
// current hour by RestartDelay.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/handler"
)

const (
	// TickInterval is the watchdog's polling cadence.
	TickInterval = 10 * time.Second
	// HeartbeatMax is the maximum tolerable heartbeat age.
	HeartbeatMax = 30 * time.Second
	// RestartRateLimit is the number of restarts allowed per RestartWindow
	// before the next restart is delayed.
	RestartRateLimit = 10
	// RestartWindow is the rolling window RestartRateLimit applies over.
	RestartWindow = time.Hour
	// RestartDelay is applied to the restart once RestartRateLimit is hit
	// within RestartWindow.
	RestartDelay = 60 * time.Second
)

// Managed is a handler the watchdog supervises. The spawn function must
// produce a fresh, running handler bound to the same owner, role, and
// port — port ownership is never released by a restart.
type Managed struct {
	Handler *handler.Handler
	Done    chan struct{}
	Spawn   func() (*handler.Handler, chan struct{})
}

type restartCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

func (c *restartCounter) record(now time.Time) (count int, delayed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= RestartWindow {
		c.windowStart = now
		c.count = 0
	}
	c.count++
	return c.count, c.count > RestartRateLimit
}

// Watchdog supervises a fixed set of handlers for one engine run.
type Watchdog struct {
	log      zerolog.Logger
	bus      *events.Broker
	shutdown *atomic.Bool

	mu       sync.Mutex
	managed  map[string]*Managed
	counters map[string]*restartCounter

	stopped chan struct{}
}

// New creates a Watchdog that publishes events on bus and logs via log.
func New(bus *events.Broker, log zerolog.Logger, shutdown *atomic.Bool) *Watchdog {
	return &Watchdog{
		log:      log.With().Str("component", "watchdog").Logger(),
		bus:      bus,
		shutdown: shutdown,
		managed:  make(map[string]*Managed),
		counters: make(map[string]*restartCounter),
		stopped:  make(chan struct{}),
	}
}

// Supervise registers a handler for liveness monitoring under owner.
func (w *Watchdog) Supervise(owner string, m *Managed) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.managed[owner] = m
	if _, ok := w.counters[owner]; !ok {
		w.counters[owner] = &restartCounter{}
	}
}

// Run ticks every TickInterval until shutdown is requested or Stop is
// called, restarting any handler found dead or stalled.
func (w *Watchdog) Run() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.shutdown.Load() {
				return
			}
			w.tick()
		case <-w.stopped:
			return
		}
	}
}

// Stop ends the watchdog's tick loop.
func (w *Watchdog) Stop() {
	close(w.stopped)
}

func (w *Watchdog) tick() {
	now := time.Now()

	w.mu.Lock()
	owners := make([]string, 0, len(w.managed))
	for owner := range w.managed {
		owners = append(owners, owner)
	}
	w.mu.Unlock()

	for _, owner := range owners {
		w.checkOne(owner, now)
	}
}

func (w *Watchdog) checkOne(owner string, now time.Time) {
	w.mu.Lock()
	m := w.managed[owner]
	w.mu.Unlock()
	if m == nil {
		return
	}

	dead := isDone(m.Done)
	stale := !dead && now.Sub(m.Handler.Heartbeat()) > HeartbeatMax

	if !dead && !stale {
		return
	}

	w.bus.Publish(events.Event{
		Type:    events.HandlerStalled,
		Message: "handler stalled or exited",
		Metadata: map[string]string{"owner": owner},
	})
	w.log.Warn().Str("owner", owner).Bool("dead", dead).Bool("stale", stale).Msg("handler unhealthy, restarting")

	w.restart(owner)
}

// RestartCounts returns the current-window restart count per supervised
// owner, for the status aggregator's handler_restart_counts field.
func (w *Watchdog) RestartCounts() map[string]int {
	w.mu.Lock()
	owners := make([]string, 0, len(w.counters))
	for owner := range w.counters {
		owners = append(owners, owner)
	}
	w.mu.Unlock()

	out := make(map[string]int, len(owners))
	for _, owner := range owners {
		w.mu.Lock()
		c := w.counters[owner]
		w.mu.Unlock()
		c.mu.Lock()
		out[owner] = c.count
		c.mu.Unlock()
	}
	return out
}

func isDone(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (w *Watchdog) restart(owner string) {
	w.mu.Lock()
	counter := w.counters[owner]
	spawn := w.managed[owner].Spawn
	w.mu.Unlock()

	count, delayed := counter.record(time.Now())
	if delayed {
		w.log.Warn().Str("owner", owner).Int("restarts_this_hour", count).Msg("restart rate limit hit, delaying")
		time.Sleep(RestartDelay)
	}

	newHandler, newDone := spawn()

	w.mu.Lock()
	w.managed[owner].Handler = newHandler
	w.managed[owner].Done = newDone
	w.mu.Unlock()

	w.bus.Publish(events.Event{
		Type:    events.HandlerRestarted,
		Message: "handler restarted",
		Metadata: map[string]string{"owner": owner},
	})
}
