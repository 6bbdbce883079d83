package sim

import (
	"log/slog"
	"math"
	"time"

	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/google/uuid"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Session) { s.runID = id }
}

// WithEventListener receives incremental telemetry events as they happen.
func WithEventListener(fn func(Event)) Option {
	return func(s *Session) { s.listeners = append(s.listeners, fn) }
}

// WithCompletionSink receives the final record once, when the run completes.
func WithCompletionSink(fn func(core.TelemetryRecord)) Option {
	return func(s *Session) { s.sinks = append(s.sinks, fn) }
}

// Session owns all mutable state of one run. It is not safe for concurrent
// use; a single scheduler goroutine drives Frame, Poll and Apply.
type Session struct {
	cfg   Config
	log   *slog.Logger
	runID string

	world      *World
	stepper    *Stepper
	spawner    *Spawner
	autopilot  *Autopilot
	manual     *ManualInput
	collisions *CollisionDetector
	rec        *Recorder

	phase         core.Phase
	tick          uint64
	countdownLeft int
	started       time.Time
	awaiting      bool
	required      int
	arrived       []bool
	closed        bool

	listeners []func(Event)
	sinks     []func(core.TelemetryRecord)
}

// NewSession builds an idle run from a deployment configuration.
func NewSession(cfg Config, opts ...Option) *Session {
	cfg = cfg.normalized()
	s := &Session{
		cfg:        cfg,
		log:        slog.Default(),
		runID:      uuid.NewString(),
		world:      NewWorld(cfg),
		stepper:    NewStepper(cfg.TickRate, cfg.MaxTicksPerFrame, cfg.MaxFrameGap),
		spawner:    NewSpawner(cfg),
		autopilot:  NewAutopilot(cfg),
		manual:     NewManualInput(cfg.Manual),
		collisions: NewCollisionDetector(cfg.Collision),
		phase:      core.PhaseIdle,
		arrived:    make([]bool, len(cfg.Notifications)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, n := range cfg.Notifications {
		if n.Required {
			s.required++
		}
	}
	s.rec = NewRecorder(cfg, s.dispatch)
	return s
}

func (s *Session) dispatch(ev Event) {
	for _, fn := range s.listeners {
		fn(ev)
	}
}

// RunID returns the run identifier.
func (s *Session) RunID() string { return s.runID }

// Config returns the normalized configuration of the run.
func (s *Session) Config() Config { return s.cfg }

// Phase returns the current run phase.
func (s *Session) Phase() core.Phase { return s.phase }

// Tick returns the number of running ticks executed.
func (s *Session) Tick() uint64 { return s.tick }

// Score returns the current score.
func (s *Session) Score() int { return s.rec.Score() }

// Vehicle returns a copy of the vehicle state.
func (s *Session) Vehicle() Vehicle { return s.world.Vehicle }

// Stepper exposes the frame stepper for diagnostics.
func (s *Session) Stepper() *Stepper { return s.stepper }

// CollisionDetector exposes the detector for diagnostics.
func (s *Session) CollisionDetector() *CollisionDetector { return s.collisions }

// SimTime returns running time in seconds derived from the tick count.
func (s *Session) SimTime() float64 {
	return float64(s.tick) / float64(s.cfg.TickRate)
}

// Start begins the countdown. It is a no-op unless the session is idle.
func (s *Session) Start(now time.Time) bool {
	if s.closed || s.phase != core.PhaseIdle {
		return false
	}
	s.phase = core.PhaseCountdown
	s.countdownLeft = s.cfg.CountdownSeconds * s.cfg.TickRate
	s.stepper.Rebase()
	s.stepper.Advance(now)
	s.log.Info("countdown started", "runId", s.runID, "seconds", s.cfg.CountdownSeconds)
	if s.countdownLeft == 0 {
		s.beginRunning(now)
	}
	return true
}

// Frame handles one host frame callback and returns the number of ticks executed.
func (s *Session) Frame(now time.Time) int {
	if s.closed || s.phase == core.PhaseIdle || s.phase == core.PhaseCompleted {
		return 0
	}
	resets := s.stepper.Resets()
	n := s.stepper.Advance(now)
	if s.stepper.Resets() != resets {
		s.log.Warn("frame gap exceeded, dropping backlog", "runId", s.runID, "dropped", s.stepper.Dropped())
	}
	ran := 0
	for ; ran < n; ran++ {
		if s.phase != core.PhaseCountdown && s.phase != core.PhaseRunning {
			break
		}
		s.step(now)
	}
	return ran
}

// Poll runs the coarse seconds bookkeeping on the wall-clock basis.
// With the sim basis seconds are counted inside the tick and Poll does nothing.
func (s *Session) Poll(now time.Time) int {
	if s.closed || s.phase != core.PhaseRunning || s.cfg.SecondsBasis != SecondsWall {
		return 0
	}
	elapsed := int(now.Sub(s.started) / time.Second)
	return s.chargeSeconds(elapsed, now)
}

func (s *Session) step(now time.Time) {
	if s.phase == core.PhaseCountdown {
		s.countdownLeft--
		if s.countdownLeft <= 0 {
			s.beginRunning(now)
		}
		return
	}

	s.tick++
	if !s.awaiting {
		s.advance()
	}
	if s.cfg.SecondsBasis == SecondsSim {
		s.chargeSeconds(int(s.tick/uint64(s.cfg.TickRate)), now)
	}
	if s.phase == core.PhaseRunning {
		s.checkFinishLine(now)
	}
}

func (s *Session) advance() {
	veh := s.world.Vehicle

	var d Decision
	if veh.Mode == core.ModeCopilot {
		s.manual.Discard()
		d = s.autopilot.Decide(s.world, s.tick)
	} else {
		d = s.manual.Decide(veh)
	}
	integrate(s.world, d, s.cfg)

	if _, removed := s.spawner.Update(s.world); len(removed) > 0 {
		s.collisions.Forget(removed...)
	}

	veh = s.world.Vehicle
	for _, hit := range s.collisions.Detect(s.world, s.tick) {
		ev := s.rec.Collide(core.CollisionEvent{
			Tick:         s.tick,
			Time:         s.SimTime(),
			DistanceUnit: s.rec.DistanceUnit(veh.Distance),
			Mode:         veh.Mode,
			Lane:         veh.Lane,
			Category:     hit.Obstacle.Category,
			ObstacleID:   hit.Obstacle.ID,
			Position:     core.Position{Lateral: veh.Lateral, Distance: veh.Distance},
		}, s.cfg.CollisionPenalty)
		s.log.Debug("collision", "runId", s.runID, "tick", ev.Tick, "obstacle", ev.ObstacleID,
			"category", ev.Category, "score", ev.ScoreAfter)
	}
	s.rec.MarkDistance(core.Position{Lateral: veh.Lateral, Distance: veh.Distance}, veh.Mode)
}

func (s *Session) beginRunning(now time.Time) {
	s.phase = core.PhaseRunning
	s.started = now
	veh := s.world.Vehicle
	s.rec.MarkDistance(core.Position{Lateral: veh.Lateral, Distance: veh.Distance}, veh.Mode)
	s.log.Info("run started", "runId", s.runID, "mode", veh.Mode)
}

func (s *Session) chargeSeconds(elapsed int, now time.Time) int {
	if s.cfg.Finish == FinishDuration {
		elapsed = min(elapsed, s.cfg.RunDuration)
	}
	missed := s.rec.ChargeSeconds(elapsed, s.world.Vehicle.Mode)
	if missed == 0 {
		return 0
	}
	if missed > 1 {
		s.log.Info("caught up missed seconds", "runId", s.runID, "seconds", missed, "score", s.rec.Score())
	}

	for i, n := range s.cfg.Notifications {
		if !s.arrived[i] && n.At <= elapsed {
			s.arrived[i] = true
			s.rec.Arrive(n.ID, n.Required, s.SimTime())
		}
	}

	if s.cfg.Finish == FinishDuration && elapsed >= s.cfg.RunDuration {
		s.complete(now)
	}
	return missed
}

func (s *Session) checkFinishLine(now time.Time) {
	if !s.cfg.HasFinishLine() || s.world.Vehicle.Distance < s.cfg.TrackLength {
		return
	}
	if s.cfg.Finish == FinishDistance || s.rec.AllRequiredSeen(s.required) {
		s.complete(now)
		return
	}
	if !s.awaiting {
		s.awaiting = true
		s.world.Vehicle.Velocity = 0
		s.log.Info("finish line reached, awaiting notifications", "runId", s.runID)
	}
}

// Apply handles one intent. It reports whether the intent changed anything.
func (s *Session) Apply(in Intent, now time.Time) bool {
	if s.closed {
		return false
	}
	switch in.Kind {
	case IntentStart:
		return in.Pressed && s.Start(now)
	case IntentAccelerate, IntentBrake, IntentLaneLeft, IntentLaneRight:
		if in.Pressed {
			s.manual.Press(in.Kind)
		} else {
			s.manual.Release(in.Kind)
		}
		return true
	case IntentToggleAutopilot:
		if !in.Pressed || s.phase != core.PhaseRunning {
			return false
		}
		s.toggleMode()
		return true
	case IntentNotificationOpen:
		if s.phase != core.PhaseRunning || !s.rec.Open(in.Target, s.SimTime()) {
			return false
		}
		if s.awaiting {
			s.checkFinishLine(now)
		}
		return true
	case IntentNotificationClose:
		return s.phase == core.PhaseRunning && s.rec.Close(in.Target, s.SimTime())
	}
	return false
}

func (s *Session) toggleMode() {
	veh := &s.world.Vehicle
	if veh.Mode == core.ModeCopilot {
		veh.Mode = core.ModeManual
		veh.Velocity = s.manual.ClampSpeed(veh.Velocity)
		veh.TargetLane = veh.Lane
		s.manual.Discard()
	} else {
		veh.Mode = core.ModeCopilot
	}
	s.log.Info("control mode changed", "runId", s.runID, "mode", veh.Mode, "tick", s.tick)
}

// InjectHazard places a hazard ahead of the vehicle, outside the spawn cadence.
func (s *Session) InjectHazard(lane int, ahead float64) core.ObstacleID {
	h := s.world.AddHazard(lane, s.world.Vehicle.Distance+ahead, ZoneConstant, math.MaxUint64)
	return h.ID()
}

func (s *Session) complete(now time.Time) {
	if s.phase == core.PhaseCompleted {
		return
	}
	s.phase = core.PhaseCompleted
	s.awaiting = false
	s.world.Clear()
	s.collisions.Reset()
	rec := s.record()
	s.log.Info("run completed", "runId", s.runID, "score", rec.FinalScore,
		"hits", rec.ObstaclesHit, "elapsed", now.Sub(s.started))
	for _, sink := range s.sinks {
		sink(rec)
	}
}

// Finalize returns the telemetry record, built on the first call. Called
// before completion it ends the run: the session is closed and the record is
// marked incomplete.
func (s *Session) Finalize() core.TelemetryRecord {
	if !s.closed && s.phase != core.PhaseCompleted {
		s.Close()
	}
	return s.record()
}

func (s *Session) record() core.TelemetryRecord {
	return s.rec.Finalize(FinalizeInfo{
		RunID:     s.runID,
		Completed: s.phase == core.PhaseCompleted,
		Ticks:     s.tick,
		SimTime:   s.SimTime(),
		Distance:  s.world.Vehicle.Distance,
	})
}

// Close tears the session down. Further calls are ignored.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.record()
	s.closed = true
	s.world.Clear()
	s.collisions.Reset()
}

// Snapshot returns the current state for rendering.
func (s *Session) Snapshot() core.Snapshot {
	veh := s.world.Vehicle
	snap := core.Snapshot{
		Phase:        s.phase,
		Tick:         s.tick,
		SimTime:      roundMillis(s.SimTime()),
		Elapsed:      s.rec.Seconds(),
		Score:        s.rec.Score(),
		ObstaclesHit: s.rec.Hits(),
		AwaitingAck:  s.awaiting,
		Vehicle: core.VehicleState{
			Position:   core.Position{Lateral: veh.Lateral, Distance: veh.Distance},
			Velocity:   veh.Velocity,
			Lane:       veh.Lane,
			TargetLane: veh.TargetLane,
			Mode:       veh.Mode,
		},
		Obstacles: s.world.ObstacleStates(),
	}
	if s.phase == core.PhaseCountdown {
		snap.Countdown = (s.countdownLeft + s.cfg.TickRate - 1) / s.cfg.TickRate
	}
	return snap
}
