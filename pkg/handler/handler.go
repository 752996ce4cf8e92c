// Package handler implements the three structurally identical port-owning
// goroutines that make up the data plane: one incoming handler that fans
// bytes out to both outgoing ports, and two outgoing handlers that fan
// bytes back in to the incoming port. All three share one Handler type
// parameterized by Role, differing only in source port and target queues.
package handler

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/portmanager"
)

// Role distinguishes the incoming handler from the two outgoing handlers.
type Role int

const (
	Incoming Role = iota
	OutgoingA
	OutgoingB
)

func (r Role) String() string {
	switch r {
	case Incoming:
		return "incoming"
	case OutgoingA:
		return "outgoing_a"
	case OutgoingB:
		return "outgoing_b"
	default:
		return "unknown"
	}
}

const (
	dequeueWait    = time.Millisecond
	tailSleep      = time.Millisecond
	errorBackoff   = 10 * time.Millisecond
	counterResetAt = 1_000_000
)

// Handler drives I/O for exactly one physical port.
type Handler struct {
	Owner string
	Role  Role
	Port  portmanager.PortID

	// Targets is the set of queues this handler fans out to on read: both
	// outgoing ports for the incoming handler, or just the incoming port
	// for an outgoing handler.
	Targets []portmanager.PortID

	manager *portmanager.Manager
	log     zerolog.Logger
	bus     *events.Broker

	heartbeat atomic.Int64 // unix nano, written by this handler only
	shutdown  *atomic.Bool

	bytesTransferred atomic.Int64
	consecutiveErrs  atomic.Int64
	errorsSeen       atomic.Int64
}

// New constructs a handler. shutdown is a process-wide flag shared with the
// engine and watchdog; the handler only ever reads it.
func New(owner string, role Role, port portmanager.PortID, targets []portmanager.PortID, mgr *portmanager.Manager, bus *events.Broker, log zerolog.Logger, shutdown *atomic.Bool) *Handler {
	return &Handler{
		Owner:    owner,
		Role:     role,
		Port:     port,
		Targets:  targets,
		manager:  mgr,
		bus:      bus,
		log:      log.With().Str("owner", owner).Str("port", string(port)).Logger(),
		shutdown: shutdown,
	}
}

// Heartbeat returns the time of this handler's last loop iteration (the
// zero time if it has not run yet), for the watchdog to compare against its
// staleness deadline.
func (h *Handler) Heartbeat() time.Time {
	nano := h.heartbeat.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Run executes the loop contract until shutdown is requested. It never
// returns voluntarily; the caller runs it in its own goroutine and observes
// completion via done.
func (h *Handler) Run(done chan<- struct{}) {
	defer close(done)

	for !h.shutdown.Load() {
		h.heartbeat.Store(time.Now().UnixNano())

		if err := h.step(); err != nil {
			h.onError(err)
			time.Sleep(errorBackoff)
			continue
		}
		h.consecutiveErrs.Store(0)

		time.Sleep(tailSleep)
	}
}

func (h *Handler) step() error {
	data, _ := h.manager.ReadAvailable(h.Port, h.Owner)
	if len(data) > 0 {
		h.forward(data)
	}

	queued, ok := h.manager.Dequeue(h.Port, dequeueWait)
	if ok {
		if err := h.manager.Write(h.Port, queued, h.Owner); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) forward(data []byte) {
	if h.Role == Incoming {
		h.fanOut(data)
	} else {
		h.fanIn(data)
	}
}

// fanOut attempts both outgoing legs and only counts the chunk as forwarded
// when both succeed. On partial failure the enqueue that landed is left in
// place rather than rolled back, but the fan-out is accounted as a drop:
// the byte counter does not advance.
func (h *Handler) fanOut(data []byte) {
	if len(h.Targets) != 2 {
		return
	}
	errA := h.manager.Enqueue(h.Targets[0], data, h.Owner)
	errB := h.manager.Enqueue(h.Targets[1], data, h.Owner)

	if errA == nil && errB == nil {
		h.bumpCounter(len(data))
		return
	}

	h.bus.Publish(events.Event{
		Type:    events.PortDrop,
		Message: "partial or full fan-out drop",
		Metadata: map[string]string{
			"port":  string(h.Port),
			"owner": h.Owner,
		},
	})
}

func (h *Handler) fanIn(data []byte) {
	if len(h.Targets) != 1 {
		return
	}
	if err := h.manager.Enqueue(h.Targets[0], data, h.Owner); err != nil {
		h.bus.Publish(events.Event{
			Type:    events.PortDrop,
			Message: "fan-in drop",
			Metadata: map[string]string{
				"port":  string(h.Port),
				"owner": h.Owner,
			},
		})
		return
	}
	h.bumpCounter(len(data))
}

func (h *Handler) bumpCounter(n int) {
	v := h.bytesTransferred.Add(int64(n))
	if v > counterResetAt {
		h.bytesTransferred.Store(0)
		h.log.Info().Msg("display byte counter reset")
	}
}

func (h *Handler) onError(err error) {
	n := h.errorsSeen.Add(1)
	consecutive := h.consecutiveErrs.Add(1)

	switch {
	case consecutive <= 3:
		h.log.Warn().Err(err).Msg("handler error")
	case n%10 == 0:
		h.log.Error().Err(err).Msg("handler error (recurring)")
	}

	h.bus.Publish(events.Event{
		Type:    events.PortError,
		Message: err.Error(),
		Metadata: map[string]string{
			"port":  string(h.Port),
			"owner": h.Owner,
		},
	})
}

// BytesTransferred returns the current display counter value (post
// overflow-reset, per the 1,000,000 rollover rule).
func (h *Handler) BytesTransferred() int64 {
	return h.bytesTransferred.Load()
}
