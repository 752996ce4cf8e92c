package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/portmanager"
)

type fakePort struct {
	mu        sync.Mutex
	closed    bool
	failWrite bool
}

func (p *fakePort) Read(b []byte) (int, error) { return 0, nil }
func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrite {
		return 0, errors.New("simulated write failure")
	}
	return len(b), nil
}
func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) setFailWrite(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWrite = fail
}
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func newOpener(fail map[portmanager.PortID]bool, opened map[portmanager.PortID]*fakePort) portmanager.Opener {
	return func(id portmanager.PortID, baud int) (portmanager.SerialPort, error) {
		if fail[id] {
			return nil, errors.New("simulated open failure")
		}
		p := &fakePort{}
		opened[id] = p
		return p, nil
	}
}

func newTestConfig() Config {
	return Config{
		IncomingPort:  "COMIN",
		OutgoingPorts: [2]portmanager.PortID{"COM131", "COM141"},
		BaudRate:      115200,
		TimeoutMS:     100,
	}
}

func TestStartAcquiresAllPortsAndSpawnsHandlers(t *testing.T) {
	opened := map[portmanager.PortID]*fakePort{}
	mgr := portmanager.New(newOpener(nil, opened))
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	e := New(newTestConfig(), mgr, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("expected Start to succeed, got %v", err)
	}
	defer e.Stop()

	if !e.Running() {
		t.Fatalf("expected Running()==true after Start")
	}
	if len(opened) != 3 {
		t.Fatalf("expected all 3 ports opened, got %d", len(opened))
	}
}

func TestStartIsRejectedWhenAlreadyRunning(t *testing.T) {
	opened := map[portmanager.PortID]*fakePort{}
	mgr := portmanager.New(newOpener(nil, opened))
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	e := New(newTestConfig(), mgr, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer e.Stop()

	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning on second Start, got %v", err)
	}
}

func TestStartRollsBackOnPartialAcquireFailure(t *testing.T) {
	opened := map[portmanager.PortID]*fakePort{}
	// The incoming port opens fine, but the first outgoing port fails, so
	// startup must release the incoming port before returning.
	mgr := portmanager.New(newOpener(map[portmanager.PortID]bool{"COM131": true}, opened))
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	e := New(newTestConfig(), mgr, bus)
	if err := e.Start(context.Background()); !errors.Is(err, ErrStartupFailed) {
		t.Fatalf("expected ErrStartupFailed, got %v", err)
	}
	if e.Running() {
		t.Fatalf("expected Running()==false after a failed Start")
	}

	// The incoming port's ownership must have been released by rollback,
	// so a new owner can now acquire it.
	ok, err := mgr.Acquire("COMIN", 115200, "someone-else")
	if !ok || err != nil {
		t.Fatalf("expected rollback to release the incoming port, got ok=%v err=%v", ok, err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	opened := map[portmanager.PortID]*fakePort{}
	mgr := portmanager.New(newOpener(nil, opened))
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	e := New(newTestConfig(), mgr, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	e.Stop()
	if e.Running() {
		t.Fatalf("expected Running()==false after Stop")
	}
	// A second Stop on an already-stopped engine must not panic or block.
	e.Stop()
}

func TestStatusHealthWarningAtErrorRateBoundary(t *testing.T) {
	opened := map[portmanager.PortID]*fakePort{}
	mgr := portmanager.New(newOpener(nil, opened))
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	e := New(newTestConfig(), mgr, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	// Inject failing writes on one outgoing port; each lands one error
	// sample in its rolling window without touching the other ports.
	opened["COM131"].setFailWrite(true)
	injectErrors := func(n int) {
		for i := 0; i < n; i++ {
			if err := mgr.Write("COM131", []byte{0}, OutgoingAOwner); err == nil {
				t.Fatalf("expected injected write %d to fail", i)
			}
		}
	}

	// errors_per_hour == 10 sits on the healthy side of the threshold:
	// all ports connected, no recent activity, so the engine is idle-ok.
	injectErrors(10)
	st := e.Status()
	if st.OverallHealthStatus == HealthWarning || st.OverallHealthStatus == HealthCritical {
		t.Fatalf("expected healthy status at exactly 10 errors/hour, got %q", st.OverallHealthStatus)
	}

	// Two more pushes it past the strict >10 threshold.
	injectErrors(2)
	st = e.Status()
	if st.OverallHealthStatus != HealthWarning {
		t.Fatalf("expected %q above the error-rate threshold, got %q", HealthWarning, st.OverallHealthStatus)
	}
	if got := st.PerPort["COM131"].ErrorsPerHour; got < 12 {
		t.Fatalf("expected errors_per_hour >= 12 on COM131, got %v", got)
	}

	// All injected errors sit in the recent half of the error window, so
	// the port's trend reads as increasing.
	if trend := mgr.Snapshot()["COM131"].ErrorTrend; trend != portmanager.TrendIncreasing {
		t.Fatalf("expected trend %q, got %q", portmanager.TrendIncreasing, trend)
	}
}

func TestStatusReflectsPortCountAndRunningState(t *testing.T) {
	opened := map[portmanager.PortID]*fakePort{}
	mgr := portmanager.New(newOpener(nil, opened))
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	e := New(newTestConfig(), mgr, bus)
	before := e.Status()
	if before.Running {
		t.Fatalf("expected Running==false before Start")
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	after := e.Status()
	if !after.Running {
		t.Fatalf("expected Running==true after Start")
	}
	if len(after.PerPort) != 3 {
		t.Fatalf("expected 3 ports in status, got %d", len(after.PerPort))
	}
}
