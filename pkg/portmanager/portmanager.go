// Package portmanager is the sole mediator of serial hardware I/O. It owns
// connections, enforces exclusive per-port ownership, serializes reads and
// writes against each port's driver handle, and maintains the per-port
// bounded queues and rolling telemetry that the rest of the router draws on.
package portmanager

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/tidewater/serialrouter/pkg/rollingwindow"
)

const (
	// ThroughputWindow is the retention span for read/write byte samples.
	ThroughputWindow = 60 * time.Second
	// ErrorWindow is the retention span for error timestamps.
	ErrorWindow = time.Hour
	// LatencyRingSize bounds the queue-latency sample ring.
	LatencyRingSize = 100
	// MaxQueueSize is the per-port bounded queue capacity.
	MaxQueueSize = 1000
)

var (
	ErrBusy       = errors.New("portmanager: port busy")
	ErrOpenFailed = errors.New("portmanager: open failed")
	ErrNotOwner   = errors.New("portmanager: not owner")
	ErrDenied     = errors.New("portmanager: ownership denied")
	ErrIO         = errors.New("portmanager: io error")
	ErrQueueFull  = errors.New("portmanager: queue full")
)

// PortID is the platform-native serial device identifier, e.g. "COM131" or
// "/dev/ttyUSB0".
type PortID string

// SerialPort is the subset of go.bug.st/serial.Port this package depends on.
// Declaring it locally lets tests substitute an in-memory fake without an
// OS-level loopback device.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial device by platform identifier and baud rate.
type Opener func(portID PortID, baud int) (SerialPort, error)

// DefaultOpener opens real hardware via go.bug.st/serial.
func DefaultOpener(readTimeout time.Duration) Opener {
	return func(portID PortID, baud int) (SerialPort, error) {
		mode := &serial.Mode{BaudRate: baud}
		p, err := serial.Open(string(portID), mode)
		if err != nil {
			return nil, err
		}
		if readTimeout > 0 {
			_ = p.SetReadTimeout(readTimeout)
		}
		return p, nil
	}
}

type queueEntry struct {
	data       []byte
	enqueuedAt time.Time
}

// portRecord holds everything the manager tracks for one physical port.
type portRecord struct {
	id PortID

	mu       sync.Mutex // serializes open/close/read/write against the driver
	port     SerialPort
	owner    string
	openedAt time.Time

	createdAt time.Time

	// connection bookkeeping, read/modified under mu
	connectionAttempts  int64
	connectionSuccesses int64
	totalDowntime       time.Duration
	downSince           time.Time // zero if currently connected

	// counters, atomic so Snapshot can read without the port lock
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
	errorCount   atomic.Int64
	dropCount    atomic.Int64
	lastActivity atomic.Int64 // unix nano

	readSamples  *rollingwindow.TimeWindow[int]
	writeSamples *rollingwindow.TimeWindow[int]
	errSamples   *rollingwindow.TimeWindow[struct{}]
	latency      *rollingwindow.Ring[float64]

	queue chan queueEntry
}

func newPortRecord(id PortID, now time.Time) *portRecord {
	return &portRecord{
		id:           id,
		createdAt:    now,
		downSince:    now,
		readSamples:  rollingwindow.NewTimeWindow[int](ThroughputWindow),
		writeSamples: rollingwindow.NewTimeWindow[int](ThroughputWindow),
		errSamples:   rollingwindow.NewTimeWindow[struct{}](ErrorWindow),
		latency:      rollingwindow.NewRing[float64](LatencyRingSize),
		queue:        make(chan queueEntry, MaxQueueSize),
	}
}

// Manager is the exclusive mediator of serial hardware I/O for every port it
// has seen via Acquire.
type Manager struct {
	mu      sync.RWMutex
	records map[PortID]*portRecord
	opener  Opener
}

// New creates a Manager that opens hardware via opener.
func New(opener Opener) *Manager {
	return &Manager{records: make(map[PortID]*portRecord), opener: opener}
}

func (m *Manager) recordFor(id PortID, now time.Time) *portRecord {
	m.mu.RLock()
	r, ok := m.records[id]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok = m.records[id]; ok {
		return r
	}
	r = newPortRecord(id, now)
	m.records[id] = r
	return r
}

// Acquire opens portID at baud and records owner as its exclusive operator.
// It is idempotent if owner already holds the port.
func (m *Manager) Acquire(portID PortID, baud int, owner string) (bool, error) {
	if owner == "" || baud <= 0 {
		return false, ErrOpenFailed
	}
	now := time.Now()
	r := m.recordFor(portID, now)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner != "" && r.owner != owner {
		return false, ErrBusy
	}
	if r.owner == owner && r.port != nil {
		return true, nil
	}

	r.connectionAttempts++
	p, err := m.opener(portID, baud)
	if err != nil {
		r.errSamples.Add(now, struct{}{})
		r.errorCount.Add(1)
		if r.downSince.IsZero() {
			r.downSince = now
		}
		return false, ErrOpenFailed
	}

	r.port = p
	r.owner = owner
	r.openedAt = now
	r.connectionSuccesses++
	if !r.downSince.IsZero() {
		r.totalDowntime += now.Sub(r.downSince)
		r.downSince = time.Time{}
	}
	return true, nil
}

// Release closes the handle owned by owner and clears ownership. Queued
// data is left intact for a future acquirer to drain.
func (m *Manager) Release(portID PortID, owner string) error {
	now := time.Now()
	m.mu.RLock()
	r, ok := m.records[portID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotOwner
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != owner {
		return ErrNotOwner
	}
	if r.port != nil {
		_ = r.port.Close()
	}
	r.port = nil
	r.owner = ""
	if r.downSince.IsZero() {
		r.downSince = now
	}
	return nil
}

// Write sends data out portID. Caller must hold ownership.
func (m *Manager) Write(portID PortID, data []byte, owner string) error {
	now := time.Now()
	m.mu.RLock()
	r, ok := m.records[portID]
	m.mu.RUnlock()
	if !ok {
		return ErrDenied
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != owner || r.port == nil {
		return ErrDenied
	}

	n, err := r.port.Write(data)
	if err != nil {
		r.errSamples.Add(now, struct{}{})
		r.errorCount.Add(1)
		return ErrIO
	}
	r.bytesWritten.Add(int64(n))
	r.writeSamples.Add(now, n)
	r.lastActivity.Store(now.UnixNano())
	return nil
}

// ReadAvailable returns whatever bytes the driver reports immediately
// available, or (nil, nil) when there is none. Read errors are swallowed
// into telemetry so a failed read is indistinguishable from no data.
func (m *Manager) ReadAvailable(portID PortID, owner string) ([]byte, error) {
	now := time.Now()
	m.mu.RLock()
	r, ok := m.records[portID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrDenied
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != owner || r.port == nil {
		return nil, ErrDenied
	}

	buf := make([]byte, 4096)
	n, err := r.port.Read(buf)
	if err != nil {
		r.errSamples.Add(now, struct{}{})
		r.errorCount.Add(1)
		return nil, nil
	}
	if n == 0 {
		return nil, nil
	}
	r.bytesRead.Add(int64(n))
	r.readSamples.Add(now, n)
	r.lastActivity.Store(now.UnixNano())
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// Enqueue appends data to targetPortID's inbound queue. sourceOwner is used
// only for log attribution by callers; it is not verified here.
func (m *Manager) Enqueue(targetPortID PortID, data []byte, sourceOwner string) error {
	now := time.Now()
	r := m.recordFor(targetPortID, now)

	select {
	case r.queue <- queueEntry{data: data, enqueuedAt: now}:
		return nil
	default:
		r.dropCount.Add(1)
		return ErrQueueFull
	}
}

// Dequeue waits up to wait for a queued entry bound for portID, recording
// the time it spent enqueued as a latency sample.
func (m *Manager) Dequeue(portID PortID, wait time.Duration) ([]byte, bool) {
	r := m.recordFor(portID, time.Now())

	select {
	case e := <-r.queue:
		latencyMS := float64(time.Since(e.enqueuedAt)) / float64(time.Millisecond)
		r.latency.Add(latencyMS)
		return e.data, true
	case <-time.After(wait):
		return nil, false
	}
}

// QueueSize returns the current backlog for portID.
func (m *Manager) QueueSize(portID PortID) int {
	r := m.recordFor(portID, time.Now())
	return len(r.queue)
}

// ShutdownAll closes every open handle and clears ownership. Best-effort;
// it never returns an error.
func (m *Manager) ShutdownAll() {
	m.mu.RLock()
	records := make([]*portRecord, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, r := range records {
		r.mu.Lock()
		if r.port != nil {
			_ = r.port.Close()
		}
		r.port = nil
		r.owner = ""
		if r.downSince.IsZero() {
			r.downSince = now
		}
		r.mu.Unlock()

	drain:
		for {
			select {
			case <-r.queue:
			default:
				break drain
			}
		}
	}
}
