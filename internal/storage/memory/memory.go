// internal/storage/memory/memory.go
package memory

import (
	"sort"
	"sync"

	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/storage"
	"github.com/drivelab/copilot-sim/pkg/core"
)

// Backend keeps run telemetry in memory and exports it to JSON when the run ends.
type Backend struct {
	cfg config.MemoryConfig
	run *core.Run

	bySecond      map[int]core.Mode
	byDistance    map[int]core.Mode
	collisions    []core.CollisionEvent
	notifications map[string]core.NotificationRecord
	notifyOrder   []string
	record        *core.TelemetryRecord

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	b := &Backend{cfg: cfg}
	b.reset()
	return b
}

func (b *Backend) reset() {
	b.bySecond = make(map[int]core.Mode)
	b.byDistance = make(map[int]core.Mode)
	b.collisions = nil
	b.notifications = make(map[string]core.NotificationRecord)
	b.notifyOrder = nil
	b.record = nil
	b.lastExportPath = ""
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	runCopy := *run
	b.run = &runCopy
	b.reset()
	return nil
}

// EndRun stores the final record and exports the run. A nil record exports
// whatever was streamed so far.
func (b *Backend) EndRun(record *core.TelemetryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrRunNotStarted
	}
	if record != nil {
		rec := *record
		b.record = &rec
	} else {
		rec := b.partialRecordLocked()
		b.record = &rec
	}
	return b.exportJSON()
}

// RecordModeSample stores one mode-log entry. A repeated index overwrites.
func (b *Backend) RecordModeSample(s *core.ModeSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrRunNotStarted
	}
	switch s.Kind {
	case core.SampleBySecond:
		b.bySecond[s.Index] = s.Mode
	case core.SampleByDistance:
		b.byDistance[s.Index] = s.Mode
	}
	return nil
}

// RecordCollision appends a collision event
func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrRunNotStarted
	}
	b.collisions = append(b.collisions, *e)
	return nil
}

// RecordNotification replaces the history of one notification
func (b *Backend) RecordNotification(n *core.NotificationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrRunNotStarted
	}
	if _, ok := b.notifications[n.ID]; !ok {
		b.notifyOrder = append(b.notifyOrder, n.ID)
	}
	rec := *n
	rec.Sessions = append([]core.NotificationSession(nil), n.Sessions...)
	b.notifications[n.ID] = rec
	return nil
}

// Run returns the current run metadata.
func (b *Backend) Run() (core.Run, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.run == nil {
		return core.Run{}, false
	}
	return *b.run, true
}

// Record returns the final record once the run ended, or a partial record
// built from the streamed telemetry before that. The stream carries no
// per-second score, so a partial record leaves FinalScore unset.
func (b *Backend) Record() core.TelemetryRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.record != nil {
		return *b.record
	}
	return b.partialRecordLocked()
}

func (b *Backend) partialRecordLocked() core.TelemetryRecord {
	rec := core.TelemetryRecord{
		ModeBySecond:   denseModes(b.bySecond),
		ModeByDistance: denseModes(b.byDistance),
		Collisions:     append([]core.CollisionEvent(nil), b.collisions...),
		ObstaclesHit:   len(b.collisions),
		ElapsedSeconds: len(b.bySecond),
	}
	if b.run != nil {
		rec.RunID = b.run.RunID
	}
	for _, id := range b.notifyOrder {
		rec.Notifications = append(rec.Notifications, b.notifications[id])
	}
	return rec
}

// denseModes lays sparse samples out by index. Gaps cannot occur for a
// well-formed stream; if they do, the previous mode is carried forward.
func denseModes(samples map[int]core.Mode) []core.Mode {
	if len(samples) == 0 {
		return nil
	}
	keys := make([]int, 0, len(samples))
	for k := range samples {
		if k >= 0 {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	if len(keys) == 0 {
		return nil
	}
	out := make([]core.Mode, keys[len(keys)-1]+1)
	var last core.Mode
	for i := range out {
		if m, ok := samples[i]; ok {
			last = m
		}
		out[i] = last
	}
	return out
}
