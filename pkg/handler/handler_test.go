package handler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/log"
	"github.com/tidewater/serialrouter/pkg/portmanager"
)

// fakePort is a minimal in-memory portmanager.SerialPort used to drive a
// Handler's step loop without real hardware.
type fakePort struct {
	mu      sync.Mutex
	toRead  []byte
	written [][]byte
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.toRead) == 0 {
		return 0, nil
	}
	n := copy(b, p.toRead)
	p.toRead = p.toRead[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	p.written = append(p.written, cp)
	return len(b), nil
}

func (p *fakePort) Close() error                      { return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func newTestManager(ports map[portmanager.PortID]*fakePort) *portmanager.Manager {
	return portmanager.New(func(id portmanager.PortID, baud int) (portmanager.SerialPort, error) {
		p, ok := ports[id]
		if !ok {
			return nil, errors.New("unknown port in test")
		}
		return p, nil
	})
}

func TestFanOutDeliversToBothOutgoingQueues(t *testing.T) {
	ports := map[portmanager.PortID]*fakePort{"IN": {}, "OUTA": {}, "OUTB": {}}
	mgr := newTestManager(ports)
	mgr.Acquire("IN", 115200, "IncomingPortOwner")

	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	var shutdown atomic.Bool
	h := New("IncomingPortOwner", Incoming, "IN", []portmanager.PortID{"OUTA", "OUTB"}, mgr, bus, log.Logger, &shutdown)

	h.fanOut([]byte("hello"))

	if mgr.QueueSize("OUTA") != 1 || mgr.QueueSize("OUTB") != 1 {
		t.Fatalf("expected both queues to receive the payload, sizes: %d %d", mgr.QueueSize("OUTA"), mgr.QueueSize("OUTB"))
	}
	if h.BytesTransferred() != 5 {
		t.Fatalf("expected byte counter to advance by 5, got %d", h.BytesTransferred())
	}
}

func TestFanOutPartialFailureDoesNotAdvanceCounter(t *testing.T) {
	ports := map[portmanager.PortID]*fakePort{"IN": {}, "OUTA": {}}
	mgr := newTestManager(ports)
	mgr.Acquire("IN", 115200, "IncomingPortOwner")

	// Fill OUTB's queue to capacity so its enqueue leg fails while OUTA's
	// succeeds, exercising the partial fan-out path.
	for i := 0; i < portmanager.MaxQueueSize; i++ {
		mgr.Enqueue("OUTB", []byte{0}, "filler")
	}

	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	var shutdown atomic.Bool
	h := New("IncomingPortOwner", Incoming, "IN", []portmanager.PortID{"OUTA", "OUTB"}, mgr, bus, log.Logger, &shutdown)

	h.fanOut([]byte("xy"))

	// The leg that landed is left in place rather than rolled back, but
	// the fan-out is accounted as a drop: the counter must not advance.
	if mgr.QueueSize("OUTA") != 1 {
		t.Fatalf("expected the successful leg to be queued, got size %d", mgr.QueueSize("OUTA"))
	}
	if h.BytesTransferred() != 0 {
		t.Fatalf("expected counter not to advance on a partial fan-out, got %d", h.BytesTransferred())
	}
}

func TestFanInDeliversToIncomingQueue(t *testing.T) {
	ports := map[portmanager.PortID]*fakePort{"OUTA": {}}
	mgr := newTestManager(ports)
	mgr.Acquire("OUTA", 115200, "Port131Owner")

	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	var shutdown atomic.Bool
	h := New("Port131Owner", OutgoingA, "OUTA", []portmanager.PortID{"IN"}, mgr, bus, log.Logger, &shutdown)

	h.fanIn([]byte("reply"))

	if mgr.QueueSize("IN") != 1 {
		t.Fatalf("expected fan-in to enqueue onto the incoming port, got size %d", mgr.QueueSize("IN"))
	}
	if h.BytesTransferred() != 5 {
		t.Fatalf("expected counter to advance by 5, got %d", h.BytesTransferred())
	}
}

func TestBumpCounterResetsAtOverflowThreshold(t *testing.T) {
	ports := map[portmanager.PortID]*fakePort{"IN": {}}
	mgr := newTestManager(ports)
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	var shutdown atomic.Bool
	h := New("IncomingPortOwner", Incoming, "IN", nil, mgr, bus, log.Logger, &shutdown)

	h.bumpCounter(counterResetAt + 1)
	if h.BytesTransferred() != 0 {
		t.Fatalf("expected counter to reset past the overflow threshold, got %d", h.BytesTransferred())
	}
}

func TestRunStopsPromptlyOnShutdown(t *testing.T) {
	ports := map[portmanager.PortID]*fakePort{"IN": {}, "OUTA": {}, "OUTB": {}}
	mgr := newTestManager(ports)
	mgr.Acquire("IN", 115200, "IncomingPortOwner")

	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	var shutdown atomic.Bool
	h := New("IncomingPortOwner", Incoming, "IN", []portmanager.PortID{"OUTA", "OUTB"}, mgr, bus, log.Logger, &shutdown)

	done := make(chan struct{})
	go h.Run(done)

	// Let it run a couple iterations so the heartbeat advances.
	time.Sleep(10 * time.Millisecond)
	if h.Heartbeat().IsZero() {
		t.Fatalf("expected a non-zero heartbeat after running")
	}

	shutdown.Store(true)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("handler did not stop within timeout after shutdown requested")
	}
}
