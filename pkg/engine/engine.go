// Package engine implements the router's lifecycle controller: it acquires
// the three fixed ports in order, spawns the three port handlers and the
// watchdog, and aggregates status for the external control surface. It
// follows a Config-struct-then-NewX(cfg) construction pattern; shutdown is
// cooperative, via an atomic flag shared with every goroutine it spawns.
package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidewater/serialrouter/pkg/config"
	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/handler"
	"github.com/tidewater/serialrouter/pkg/health"
	"github.com/tidewater/serialrouter/pkg/log"
	"github.com/tidewater/serialrouter/pkg/portmanager"
	"github.com/tidewater/serialrouter/pkg/watchdog"
)

var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrStartupFailed  = errors.New("engine: startup failed")
)

// Fixed ownership key strings; these are part of the contract the port
// manager's ownership map is keyed against, not an arbitrary choice.
const (
	IncomingOwner  = "IncomingPortOwner"
	OutgoingAOwner = "Port131Owner"
	OutgoingBOwner = "Port141Owner"
)

const handlerJoinTimeout = 5 * time.Second
const watchdogJoinTimeout = 2 * time.Second

// Config is the engine's runtime configuration. IncomingPort is operator
// selected; OutgoingPorts is a fixed pair, enforced at the type level so
// the fan-out-of-exactly-2 invariant can't be violated by construction.
type Config struct {
	IncomingPort  portmanager.PortID
	OutgoingPorts [2]portmanager.PortID
	BaudRate      int
	TimeoutMS     int
}

// Engine is the router's lifecycle controller.
type Engine struct {
	cfg     Config
	manager *portmanager.Manager
	bus     *events.Broker
	log     zerolog.Logger

	running  atomic.Bool
	shutdown atomic.Bool

	startTime time.Time

	// hmu guards handlers and dones: the watchdog's spawn path replaces
	// entries while Status and Stop read them.
	hmu      sync.Mutex
	handlers map[string]*handler.Handler
	dones    map[string]chan struct{}
	wd       *watchdog.Watchdog

	peakThroughputBits atomic.Uint64
	lastHealth         atomic.Value // HealthStatus
}

// New constructs an Engine against manager and bus, using cfg for topology
// and baud.
func New(cfg Config, manager *portmanager.Manager, bus *events.Broker) *Engine {
	return &Engine{
		cfg:      cfg,
		manager:  manager,
		bus:      bus,
		log:      log.WithComponent("engine"),
		handlers: make(map[string]*handler.Handler),
		dones:    make(map[string]chan struct{}),
	}
}

// Start acquires all three ports, spawns the handlers and watchdog, and
// returns once the data plane is live. On any acquire failure, previously
// acquired ports are released in reverse order before returning
// ErrStartupFailed.
func (e *Engine) Start(ctx context.Context) error {
	if e.running.Load() {
		return ErrAlreadyRunning
	}

	e.startTime = time.Now()
	e.shutdown.Store(false)
	e.peakThroughputBits.Store(0)

	acquired := make([]struct {
		port  portmanager.PortID
		owner string
	}, 0, 3)

	rollback := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = e.manager.Release(acquired[i].port, acquired[i].owner)
			e.bus.Publish(events.Event{
				Type:    events.PortReleased,
				Message: "released during startup rollback",
				Metadata: map[string]string{
					"port":  string(acquired[i].port),
					"owner": acquired[i].owner,
				},
			})
		}
	}

	order := []struct {
		port  portmanager.PortID
		owner string
	}{
		{e.cfg.IncomingPort, IncomingOwner},
		{e.cfg.OutgoingPorts[0], OutgoingAOwner},
		{e.cfg.OutgoingPorts[1], OutgoingBOwner},
	}

	for _, o := range order {
		// BaudRate applies to the incoming port only; the fixed outgoing
		// pair always runs at the compile-time outgoing baud.
		baud := e.cfg.BaudRate
		if o.owner != IncomingOwner {
			baud = config.OutgoingBaud
		}
		ok, err := e.manager.Acquire(o.port, baud, o.owner)
		if !ok || err != nil {
			e.log.Error().Err(err).Str("port", string(o.port)).Msg("acquire failed at startup")
			rollback()
			return ErrStartupFailed
		}
		acquired = append(acquired, o)
		e.bus.Publish(events.Event{
			Type:    events.PortAcquired,
			Message: "port acquired",
			Metadata: map[string]string{
				"port":  string(o.port),
				"owner": o.owner,
			},
		})
	}

	e.wd = watchdog.New(e.bus, e.log, &e.shutdown)

	e.spawnHandler(IncomingOwner, handler.Incoming, e.cfg.IncomingPort, []portmanager.PortID{e.cfg.OutgoingPorts[0], e.cfg.OutgoingPorts[1]})
	e.spawnHandler(OutgoingAOwner, handler.OutgoingA, e.cfg.OutgoingPorts[0], []portmanager.PortID{e.cfg.IncomingPort})
	e.spawnHandler(OutgoingBOwner, handler.OutgoingB, e.cfg.OutgoingPorts[1], []portmanager.PortID{e.cfg.IncomingPort})

	go e.wd.Run()

	e.running.Store(true)
	e.bus.Publish(events.Event{Type: events.EngineStarted, Message: "engine started"})
	return nil
}

func (e *Engine) spawnHandler(owner string, role handler.Role, port portmanager.PortID, targets []portmanager.PortID) {
	h := handler.New(owner, role, port, targets, e.manager, e.bus, e.log, &e.shutdown)
	done := make(chan struct{})
	go h.Run(done)

	e.hmu.Lock()
	e.handlers[owner] = h
	e.dones[owner] = done
	e.hmu.Unlock()

	e.wd.Supervise(owner, &watchdog.Managed{
		Handler: h,
		Done:    done,
		Spawn: func() (*handler.Handler, chan struct{}) {
			nh := handler.New(owner, role, port, targets, e.manager, e.bus, e.log, &e.shutdown)
			nd := make(chan struct{})
			go nh.Run(nd)

			e.hmu.Lock()
			e.handlers[owner] = nh
			e.dones[owner] = nd
			e.hmu.Unlock()
			return nh, nd
		},
	})
}

// Stop is idempotent. It signals shutdown, joins the handlers and
// watchdog with bounded timeouts, and releases every owned port; if any
// release fails, it falls back to ShutdownAll as emergency cleanup.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	e.shutdown.Store(true)

	e.hmu.Lock()
	dones := make(map[string]chan struct{}, len(e.dones))
	for owner, done := range e.dones {
		dones[owner] = done
	}
	e.hmu.Unlock()

	for owner, done := range dones {
		select {
		case <-done:
		case <-time.After(handlerJoinTimeout):
			e.log.Warn().Str("owner", owner).Msg("handler join timed out")
		}
	}

	if e.wd != nil {
		stopped := make(chan struct{})
		go func() { e.wd.Stop(); close(stopped) }()
		select {
		case <-stopped:
		case <-time.After(watchdogJoinTimeout):
		}
	}

	releaseFailed := false
	for owner, port := range map[string]portmanager.PortID{
		IncomingOwner:  e.cfg.IncomingPort,
		OutgoingAOwner: e.cfg.OutgoingPorts[0],
		OutgoingBOwner: e.cfg.OutgoingPorts[1],
	} {
		if err := e.manager.Release(port, owner); err != nil {
			releaseFailed = true
			continue
		}
		e.bus.Publish(events.Event{
			Type:    events.PortReleased,
			Message: "port released",
			Metadata: map[string]string{
				"port":  string(port),
				"owner": owner,
			},
		})
	}
	if releaseFailed {
		e.manager.ShutdownAll()
	}

	e.running.Store(false)
	e.bus.Publish(events.Event{Type: events.EngineStopped, Message: "engine stopped"})
}

// Running reports whether the engine is currently started.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// HeartbeatCheckers returns one health.Checker per supervised handler,
// wrapping its Heartbeat method so the control surface's readiness probe
// can report handler staleness with the same mechanism used for any other
// dependency.
func (e *Engine) HeartbeatCheckers() map[string]health.Checker {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	out := make(map[string]health.Checker, len(e.handlers))
	for owner, h := range e.handlers {
		out[owner] = health.NewHeartbeatChecker(owner, h.Heartbeat, watchdog.HeartbeatMax)
	}
	return out
}

func (e *Engine) updatePeak(candidate float64) {
	bits := math.Float64bits(candidate)
	for {
		cur := e.peakThroughputBits.Load()
		if math.Float64frombits(cur) >= candidate {
			return
		}
		if e.peakThroughputBits.CompareAndSwap(cur, bits) {
			return
		}
	}
}
