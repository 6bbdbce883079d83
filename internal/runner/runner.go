// Package runner drives a simulation session in real time. A single goroutine
// owns the session: it handles frame callbacks, the coarse seconds poll and
// queued control intents, so the session itself needs no locking.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/drivelab/copilot-sim/internal/channel"
	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/drivelab/copilot-sim/pkg/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrIntentQueueFull is returned when the loop cannot keep up with input.
	ErrIntentQueueFull = errors.New("intent queue full")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("runner already running")
)

const (
	defaultFrameInterval = time.Second / 60
	defaultPollInterval  = 100 * time.Millisecond
	defaultIntentBuffer  = 256
)

// FrameObserver receives one snapshot per real frame.
type FrameObserver interface {
	ObserveFrame(core.Snapshot)
}

// FrameObserverFunc adapts a function to FrameObserver.
type FrameObserverFunc func(core.Snapshot)

// ObserveFrame calls f(s).
func (f FrameObserverFunc) ObserveFrame(s core.Snapshot) { f(s) }

// EveryN forwards only every n-th frame to obs, starting with the first.
func EveryN(n int, obs FrameObserver) FrameObserver {
	if n <= 1 {
		return obs
	}
	i := 0
	return FrameObserverFunc(func(s core.Snapshot) {
		if i%n == 0 {
			obs.ObserveFrame(s)
		}
		i++
	})
}

// Config tunes the loop. Zero values fall back to defaults.
type Config struct {
	FrameInterval time.Duration
	PollInterval  time.Duration
	IntentBuffer  int
	Clock         Clock
	Logger        *slog.Logger
}

// request is one unit of work for the loop goroutine.
type request struct {
	intent *sim.Intent
	fn     func(*sim.Session, time.Time)
}

// Runner owns a session and its real-time loop.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	session   *sim.Session
	requests  channel.Channel[request]
	observers []FrameObserver

	running atomic.Bool
	frames  atomic.Uint64
	ticks   atomic.Uint64
	last    atomic.Pointer[core.Snapshot]

	frameCounter  metric.Int64Counter
	tickCounter   metric.Int64Counter
	intentCounter metric.Int64Counter
	dropCounter   metric.Int64Counter
	hitCounter    metric.Int64Counter
	gapCounter    metric.Int64Counter

	// loop-only bookkeeping for counter deltas
	lastHits    int
	lastDropped time.Duration
}

// New creates a Runner for session. Metrics use the global OTel meter.
func New(session *sim.Session, cfg Config, observers ...FrameObserver) (*Runner, error) {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = defaultFrameInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.IntentBuffer <= 0 {
		cfg.IntentBuffer = defaultIntentBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := &Runner{
		cfg:       cfg,
		log:       log.With("component", "runner", "runId", session.RunID()),
		session:   session,
		requests:  channel.NewBuffered[request](cfg.IntentBuffer),
		observers: observers,
	}
	snap := session.Snapshot()
	r.last.Store(&snap)

	m := meter()
	var err error
	if r.frameCounter, err = m.Int64Counter("drivesim.runner.frames",
		metric.WithDescription("Real frames handled")); err != nil {
		return nil, fmt.Errorf("creating frame counter: %w", err)
	}
	if r.tickCounter, err = m.Int64Counter("drivesim.runner.ticks",
		metric.WithDescription("Fixed simulation ticks executed")); err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}
	if r.intentCounter, err = m.Int64Counter("drivesim.runner.intents",
		metric.WithDescription("Control intents applied")); err != nil {
		return nil, fmt.Errorf("creating intent counter: %w", err)
	}
	if r.dropCounter, err = m.Int64Counter("drivesim.runner.intents.dropped",
		metric.WithDescription("Control intents dropped due to full queue")); err != nil {
		return nil, fmt.Errorf("creating drop counter: %w", err)
	}
	if r.hitCounter, err = m.Int64Counter("drivesim.runner.collisions",
		metric.WithDescription("Counted obstacle collisions")); err != nil {
		return nil, fmt.Errorf("creating collision counter: %w", err)
	}
	if r.gapCounter, err = m.Int64Counter("drivesim.runner.backlog.dropped",
		metric.WithDescription("Host time dropped instead of catching up"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating backlog counter: %w", err)
	}
	return r, nil
}

// Session returns the driven session. Only the loop goroutine may mutate it.
func (r *Runner) Session() *sim.Session { return r.session }

// Submit queues an intent for the loop without blocking.
func (r *Runner) Submit(in sim.Intent) error {
	if !r.requests.TrySend(request{intent: &in}) {
		r.dropCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("intent", string(in.Kind))))
		return fmt.Errorf("%w: %s", ErrIntentQueueFull, in.Kind)
	}
	return nil
}

// InjectHazard queues a hazard placement ahead of the vehicle.
func (r *Runner) InjectHazard(lane int, ahead float64) error {
	fn := func(s *sim.Session, _ time.Time) {
		id := s.InjectHazard(lane, ahead)
		r.log.Info("hazard injected", "lane", lane, "ahead", ahead, "obstacleId", id)
	}
	if !r.requests.TrySend(request{fn: fn}) {
		return fmt.Errorf("%w: hazard", ErrIntentQueueFull)
	}
	return nil
}

// LastSnapshot returns the snapshot of the most recent frame.
func (r *Runner) LastSnapshot() core.Snapshot {
	return *r.last.Load()
}

// Frames returns the number of frames handled.
func (r *Runner) Frames() uint64 { return r.frames.Load() }

// Ticks returns the number of fixed ticks executed.
func (r *Runner) Ticks() uint64 { return r.ticks.Load() }

// Run drives the session until it completes or ctx ends. On cancellation the
// session is closed and its incomplete record is returned with ctx.Err().
func (r *Runner) Run(ctx context.Context) (core.TelemetryRecord, error) {
	if !r.running.CompareAndSwap(false, true) {
		return core.TelemetryRecord{}, ErrAlreadyRunning
	}

	frame := r.cfg.Clock.NewTicker(r.cfg.FrameInterval)
	defer frame.Stop()
	poll := r.cfg.Clock.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()

	r.log.Debug("loop started", "frameInterval", r.cfg.FrameInterval, "pollInterval", r.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			r.session.Close()
			r.log.Info("run aborted", "tick", r.session.Tick(), "reason", ctx.Err())
			return r.session.Finalize(), ctx.Err()
		case req := <-r.requests.Receive():
			r.handle(req, r.cfg.Clock.Now())
			snap := r.session.Snapshot()
			r.last.Store(&snap)
		case now := <-frame.C():
			r.frame(now)
		case now := <-poll.C():
			r.session.Poll(now)
		}

		if r.session.Phase() == core.PhaseCompleted {
			rec := r.session.Finalize()
			r.publish(r.session.Snapshot())
			r.session.Close()
			return rec, nil
		}
	}
}

func (r *Runner) handle(req request, now time.Time) {
	if req.fn != nil {
		req.fn(r.session, now)
		return
	}
	in := *req.intent
	applied := r.session.Apply(in, now)
	r.intentCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("intent", string(in.Kind)),
		attribute.Bool("pressed", in.Pressed),
		attribute.Bool("applied", applied),
	))
	if !applied {
		r.log.Debug("intent ignored", "intent", in.Kind, "pressed", in.Pressed, "phase", r.session.Phase())
	}
}

func (r *Runner) frame(now time.Time) {
	n := r.session.Frame(now)
	r.frames.Add(1)
	r.ticks.Add(uint64(n))
	ctx := context.Background()
	r.frameCounter.Add(ctx, 1)
	if n > 0 {
		r.tickCounter.Add(ctx, int64(n))
	}
	if d := r.session.Stepper().Dropped(); d > r.lastDropped {
		r.gapCounter.Add(ctx, (d - r.lastDropped).Milliseconds())
		r.lastDropped = d
	}
	snap := r.session.Snapshot()
	if snap.ObstaclesHit > r.lastHits {
		r.hitCounter.Add(ctx, int64(snap.ObstaclesHit-r.lastHits))
		r.lastHits = snap.ObstaclesHit
	}
	r.publish(snap)
}

func (r *Runner) publish(snap core.Snapshot) {
	r.last.Store(&snap)
	for _, obs := range r.observers {
		obs.ObserveFrame(snap)
	}
}
