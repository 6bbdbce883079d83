// Package gormstorage implements storage.Backend on top of any GORM dialect.
// Telemetry is converted to rows on arrival and written in batches by a
// background writer, so recording never waits on the database.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivelab/copilot-sim/internal/database"
	"github.com/drivelab/copilot-sim/internal/model"
	"github.com/drivelab/copilot-sim/internal/model/convert"
	"github.com/drivelab/copilot-sim/internal/queue"
	"github.com/drivelab/copilot-sim/internal/storage"
	"github.com/drivelab/copilot-sim/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultFlushInterval = time.Second
	queueLimit           = 100_000
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	ModeSamples   *queue.Queue[model.ModeSample]
	Collisions    *queue.Queue[model.Collision]
	Notifications *queue.Queue[model.Notification]
}

func newQueues() *queues {
	return &queues{
		ModeSamples:   queue.NewBounded[model.ModeSample](queueLimit),
		Collisions:    queue.NewBounded[model.Collision](queueLimit),
		Notifications: queue.NewBounded[model.Notification](queueLimit),
	}
}

func (q *queues) pending() int {
	return q.ModeSamples.Len() + q.Collisions.Len() + q.Notifications.Len()
}

// Backend implements storage.Backend and storage.Reader using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	log    *slog.Logger
	queues *queues

	runID    atomic.Uint64
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	flushMu       sync.Mutex
	lastWriteNano atomic.Int64
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		deps:   deps,
		log:    log.With("component", "gormstorage"),
		queues: newQueues(),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gormstorage: no database")
	}
	b.log.Info("Migrating schema")
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	b.stopOnce.Do(func() {
		close(b.stopChan)
		<-b.done
	})
	return b.Flush()
}

// StartRun inserts the run row synchronously so later rows can reference it.
func (b *Backend) StartRun(run *core.Run) error {
	row := convert.CoreToRun(*run)
	row.ID = 0
	if err := b.deps.DB.Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	run.ID = row.ID
	b.runID.Store(uint64(row.ID))
	b.log.Debug("Run started", "runId", run.RunID, "rowId", row.ID)
	return nil
}

// EndRun flushes pending telemetry and stores the final record.
func (b *Backend) EndRun(record *core.TelemetryRecord) error {
	runID := uint(b.runID.Load())
	if runID == 0 {
		return storage.ErrRunNotStarted
	}
	if err := b.Flush(); err != nil {
		return err
	}
	if record != nil {
		res := convert.CoreToResult(runID, *record, time.Now())
		err := b.deps.DB.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).Create(&res).Error
		if err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}
	b.runID.Store(0)
	return nil
}

func (b *Backend) currentRun() (uint, error) {
	id := uint(b.runID.Load())
	if id == 0 {
		return 0, storage.ErrRunNotStarted
	}
	return id, nil
}

// RecordModeSample converts and queues a mode sample.
func (b *Backend) RecordModeSample(s *core.ModeSample) error {
	runID, err := b.currentRun()
	if err != nil {
		return err
	}
	b.queues.ModeSamples.Push(convert.CoreToModeSample(runID, *s))
	return nil
}

// RecordCollision converts and queues a collision.
func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	runID, err := b.currentRun()
	if err != nil {
		return err
	}
	b.queues.Collisions.Push(convert.CoreToCollision(runID, *e))
	return nil
}

// RecordNotification converts and queues a notification history.
func (b *Backend) RecordNotification(n *core.NotificationRecord) error {
	runID, err := b.currentRun()
	if err != nil {
		return err
	}
	b.queues.Notifications.Push(convert.CoreToNotification(runID, *n))
	return nil
}

// QueueLength returns the number of rows waiting for the writer.
func (b *Backend) QueueLength() int {
	return b.queues.pending()
}

// GetLastDBWriteDuration returns the duration of the last write cycle.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWriteNano.Load())
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the batch goes back to the head of the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, prepare func([]T) []T, conflict *clause.OnConflict) (int, error) {
	if q.Empty() {
		return 0, nil
	}
	items := q.GetAndEmpty()
	batch := items
	if prepare != nil {
		batch = prepare(items)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Omit(clause.Associations)
		if conflict != nil {
			tx = tx.Clauses(*conflict)
		}
		return tx.Create(&batch).Error
	})
	if err != nil {
		q.Requeue(items...)
		return 0, fmt.Errorf("error creating %s: %w", name, err)
	}
	return len(batch), nil
}

// lastPerKey keeps the newest entry for every key, in first-seen order.
// A single upsert statement may not touch the same row twice.
func lastPerKey[T any, K comparable](key func(T) K) func([]T) []T {
	return func(items []T) []T {
		idx := make(map[K]int, len(items))
		out := make([]T, 0, len(items))
		for _, it := range items {
			k := key(it)
			if i, ok := idx[k]; ok {
				out[i] = it
				continue
			}
			idx[k] = len(out)
			out = append(out, it)
		}
		return out
	}
}

type sampleKey struct {
	run   uint
	kind  string
	index int
}

type notificationKey struct {
	run uint
	id  string
}

var (
	sampleConflict = &clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "kind"}, {Name: "sample_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode"}),
	}
	notificationConflict = &clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "notification_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"required", "arrived_at", "first_click_at", "reaction_time",
			"sessions", "total_open_time", "seen",
		}),
	}
)

// Flush writes every queued row now.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	db := b.deps.DB
	start := time.Now()
	backlog := b.queues.pending()
	var errs []error
	written := 0

	n, err := writeQueue(db, b.queues.ModeSamples, "mode samples",
		lastPerKey(func(s model.ModeSample) sampleKey { return sampleKey{s.RunID, s.Kind, s.Index} }),
		sampleConflict)
	written += n
	errs = append(errs, err)

	n, err = writeQueue(db, b.queues.Collisions, "collisions", nil, nil)
	written += n
	errs = append(errs, err)

	n, err = writeQueue(db, b.queues.Notifications, "notifications",
		lastPerKey(func(m model.Notification) notificationKey { return notificationKey{m.RunID, m.NotificationID} }),
		notificationConflict)
	written += n
	errs = append(errs, err)

	if written == 0 {
		return errors.Join(errs...)
	}

	elapsed := time.Since(start)
	b.lastWriteNano.Store(int64(elapsed))
	perf := model.Performance{
		Time:                time.Now(),
		RunID:               uint(b.runID.Load()),
		QueueLength:         backlog,
		WrittenRows:         written,
		LastWriteDurationMs: float32(elapsed.Seconds() * 1000),
	}
	if err := db.Create(&perf).Error; err != nil {
		errs = append(errs, fmt.Errorf("error creating performance row: %w", err))
	}
	return errors.Join(errs...)
}

// writerLoop periodically drains queues into the DB.
func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Error("DB write cycle failed", "error", err)
			}
		}
	}
}
