// Package worker moves telemetry from the frame loop to the storage backend.
// The session listener only enqueues; a background loop drains the queue so
// storage latency never reaches the tick.
package worker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivelab/copilot-sim/internal/queue"
	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/drivelab/copilot-sim/internal/storage"
	"github.com/drivelab/copilot-sim/pkg/core"
)

const (
	defaultInterval   = 250 * time.Millisecond
	defaultQueueLimit = 50_000
)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Logger     *slog.Logger
	Interval   time.Duration
	QueueLimit int
}

// Manager drains session events into a storage backend.
type Manager struct {
	deps    Dependencies
	log     *slog.Logger
	backend storage.Backend
	events  *queue.Queue[sim.Event]

	drainMu sync.Mutex
	written atomic.Uint64
	failed  atomic.Uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.QueueLimit <= 0 {
		deps.QueueLimit = defaultQueueLimit
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		deps:    deps,
		log:     log.With("component", "worker"),
		backend: backend,
		events:  queue.NewBounded[sim.Event](deps.QueueLimit),
	}
}

// Enqueue accepts one session event without blocking. It is the session's
// event listener.
func (m *Manager) Enqueue(ev sim.Event) {
	if m.events.Push(ev) == 0 {
		if d := m.events.Dropped(); d == 1 || d%1000 == 0 {
			m.log.Warn("event queue full, dropping telemetry", "dropped", d)
		}
	}
}

// Start launches the drain loop.
func (m *Manager) Start() {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
}

// Stop ends the drain loop after a final drain.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
	m.Drain()
}

func (m *Manager) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Drain()
		}
	}
}

// StartRun registers the run with the backend. It must precede the session start.
func (m *Manager) StartRun(run *core.Run) error {
	return m.backend.StartRun(run)
}

// EndRun writes every queued event and then the final record.
func (m *Manager) EndRun(record *core.TelemetryRecord) error {
	m.Drain()
	return m.backend.EndRun(record)
}

// Drain hands every queued event to the backend and returns how many were accepted.
func (m *Manager) Drain() int {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	events := m.events.GetAndEmpty()
	ok := 0
	for _, ev := range events {
		if err := m.write(ev); err != nil {
			m.failed.Add(1)
			if errors.Is(err, storage.ErrRunNotStarted) {
				m.log.Debug("event outside a run", "error", err)
				continue
			}
			m.log.Error("failed to write event", "error", err)
			continue
		}
		ok++
	}
	m.written.Add(uint64(ok))
	return ok
}

func (m *Manager) write(ev sim.Event) error {
	var errs []error
	if ev.Sample != nil {
		errs = append(errs, m.backend.RecordModeSample(ev.Sample))
	}
	if ev.Collision != nil {
		errs = append(errs, m.backend.RecordCollision(ev.Collision))
	}
	if ev.Notification != nil {
		errs = append(errs, m.backend.RecordNotification(ev.Notification))
	}
	return errors.Join(errs...)
}

// Pending returns the number of queued events.
func (m *Manager) Pending() int {
	return m.events.Len()
}

// Dropped returns the number of events lost to a full queue.
func (m *Manager) Dropped() uint64 {
	return m.events.Dropped()
}

// Written returns the number of events accepted by the backend.
func (m *Manager) Written() uint64 {
	return m.written.Load()
}

// Failed returns the number of events the backend rejected.
func (m *Manager) Failed() uint64 {
	return m.failed.Load()
}

// SnapshotPublisher is an optional interface for backends that stream live state.
type SnapshotPublisher interface {
	PublishSnapshot(core.Snapshot) error
}

// PublishSnapshot forwards a snapshot when the backend supports it.
func (m *Manager) PublishSnapshot(s core.Snapshot) {
	p, ok := m.backend.(SnapshotPublisher)
	if !ok {
		return
	}
	if err := p.PublishSnapshot(s); err != nil {
		m.log.Debug("snapshot not published", "error", err)
	}
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}

// Flusher is an optional interface for backends that batch writes.
type Flusher interface {
	Flush() error
}

// Flush drains the queue and asks the backend to persist its batches.
func (m *Manager) Flush() error {
	m.Drain()
	if f, ok := m.backend.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
