package sim

import (
	"math"
	"slices"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// Event is an incremental telemetry update. Exactly one field is set.
type Event struct {
	Sample       *core.ModeSample
	Collision    *core.CollisionEvent
	Notification *core.NotificationRecord
}

type notification struct {
	rec    core.NotificationRecord
	open   bool
	openAt float64
}

// Recorder keeps score and the telemetry logs of one run.
type Recorder struct {
	track         float64
	secondPenalty int
	emit          func(Event)

	score      int
	hits       int
	seconds    int
	bySecond   []core.Mode
	byDistance []core.Mode
	trajectory []core.Position
	collisions []core.CollisionEvent
	notes      []*notification
	byID       map[string]*notification

	stopped bool
	final   *core.TelemetryRecord
}

// NewRecorder creates a recorder with the configured starting score.
// emit may be nil.
func NewRecorder(cfg Config, emit func(Event)) *Recorder {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Recorder{
		track:         cfg.TrackLength,
		secondPenalty: cfg.SecondPenalty,
		emit:          emit,
		score:         cfg.InitialScore,
		byID:          make(map[string]*notification),
	}
}

// Score returns the current score.
func (r *Recorder) Score() int { return r.score }

// Hits returns the number of counted collisions.
func (r *Recorder) Hits() int { return r.hits }

// Seconds returns the whole seconds charged so far.
func (r *Recorder) Seconds() int { return r.seconds }

// Stop freezes score and logs.
func (r *Recorder) Stop() { r.stopped = true }

func (r *Recorder) deduct(n int) {
	if n <= 0 {
		return
	}
	r.score = max(r.score-n, 0)
}

// ChargeSeconds brings the second log up to elapsed whole seconds. Missed seconds
// are charged in one batch with the current mode. It returns how many were charged.
func (r *Recorder) ChargeSeconds(elapsed int, mode core.Mode) int {
	if r.stopped || elapsed <= r.seconds {
		return 0
	}
	missed := elapsed - r.seconds
	for i := r.seconds; i < elapsed; i++ {
		r.bySecond = append(r.bySecond, mode)
		r.emit(Event{Sample: &core.ModeSample{Kind: core.SampleBySecond, Index: i, Mode: mode}})
	}
	r.seconds = elapsed
	r.deduct(missed * r.secondPenalty)
	return missed
}

// MarkDistance fills the distance log up to the unit the vehicle is in, capped at the track length.
func (r *Recorder) MarkDistance(pos core.Position, mode core.Mode) {
	if r.stopped {
		return
	}
	d := pos.Distance
	if math.IsNaN(d) || d < 0 {
		d = 0
	}
	unit := int(math.Floor(math.Min(d, r.track)))
	for u := len(r.byDistance); u <= unit; u++ {
		r.byDistance = append(r.byDistance, mode)
		r.trajectory = append(r.trajectory, core.Position{Lateral: pos.Lateral, Distance: float64(u)})
		r.emit(Event{Sample: &core.ModeSample{Kind: core.SampleByDistance, Index: u, Mode: mode}})
	}
}

// DistanceUnit returns the unit index a distance falls into.
func (r *Recorder) DistanceUnit(distance float64) int {
	if math.IsNaN(distance) || distance < 0 {
		return 0
	}
	return int(math.Floor(math.Min(distance, r.track)))
}

// Collide deducts the penalty and appends the event.
func (r *Recorder) Collide(ev core.CollisionEvent, penalty int) core.CollisionEvent {
	if r.stopped {
		return ev
	}
	r.deduct(penalty)
	r.hits++
	ev.Time = roundMillis(ev.Time)
	ev.ScoreAfter = r.score
	r.collisions = append(r.collisions, ev)
	r.emit(Event{Collision: &ev})
	return ev
}

// Arrive registers a notification. A repeated id is ignored.
func (r *Recorder) Arrive(id string, required bool, at float64) {
	if r.stopped {
		return
	}
	if _, ok := r.byID[id]; ok {
		return
	}
	n := &notification{rec: core.NotificationRecord{
		ID:        id,
		Required:  required,
		ArrivedAt: roundMillis(at),
	}}
	r.notes = append(r.notes, n)
	r.byID[id] = n
	r.emitNotification(n)
}

// Open starts a viewing session. The first open marks the notification seen.
func (r *Recorder) Open(id string, at float64) bool {
	n, ok := r.byID[id]
	if !ok || n.open || r.stopped {
		return false
	}
	at = roundMillis(at)
	if n.rec.FirstClickAt == nil {
		first := at
		reaction := roundMillis(at - n.rec.ArrivedAt)
		n.rec.FirstClickAt = &first
		n.rec.ReactionTime = &reaction
		n.rec.Seen = true
	}
	n.open = true
	n.openAt = at
	r.emitNotification(n)
	return true
}

// Close ends the current viewing session.
func (r *Recorder) Close(id string, at float64) bool {
	n, ok := r.byID[id]
	if !ok || !n.open || r.stopped {
		return false
	}
	r.closeSession(n, roundMillis(at))
	r.emitNotification(n)
	return true
}

func (r *Recorder) closeSession(n *notification, at float64) {
	dur := roundMillis(math.Max(at-n.openAt, 0))
	n.rec.Sessions = append(n.rec.Sessions, core.NotificationSession{
		OpenedAt: n.openAt,
		ClosedAt: at,
		Duration: dur,
	})
	n.rec.TotalOpenTime = roundMillis(n.rec.TotalOpenTime + dur)
	n.open = false
}

// AllRequiredSeen reports whether every required notification that arrived was opened.
// required is the number of required notifications the run schedules.
func (r *Recorder) AllRequiredSeen(required int) bool {
	seen := 0
	for _, n := range r.notes {
		if n.rec.Required && n.rec.Seen {
			seen++
		}
	}
	return seen >= required
}

func (r *Recorder) emitNotification(n *notification) {
	rec := cloneNotification(n.rec)
	r.emit(Event{Notification: &rec})
}

// FinalizeInfo carries run state the recorder does not track itself.
type FinalizeInfo struct {
	RunID     string
	Completed bool
	Ticks     uint64
	SimTime   float64
	Distance  float64
}

// Finalize snapshots the logs into a TelemetryRecord. Only the first call builds
// the record; later calls return the same values.
func (r *Recorder) Finalize(info FinalizeInfo) core.TelemetryRecord {
	if r.final != nil {
		return *r.final
	}
	at := roundMillis(info.SimTime)
	notes := make([]core.NotificationRecord, 0, len(r.notes))
	for _, n := range r.notes {
		if n.open {
			r.closeSession(n, at)
		}
		notes = append(notes, cloneNotification(n.rec))
	}
	r.stopped = true

	rec := core.TelemetryRecord{
		RunID:          info.RunID,
		Completed:      info.Completed,
		FinalScore:     r.score,
		ObstaclesHit:   r.hits,
		Ticks:          info.Ticks,
		SimTime:        at,
		ElapsedSeconds: r.seconds,
		Distance:       math.Min(info.Distance, r.track),
		ModeBySecond:   slices.Clone(r.bySecond),
		ModeByDistance: slices.Clone(r.byDistance),
		Collisions:     slices.Clone(r.collisions),
		Notifications:  notes,
		Trajectory:     slices.Clone(r.trajectory),
	}
	r.final = &rec
	return rec
}

// Finalized reports whether Finalize has run.
func (r *Recorder) Finalized() bool {
	return r.final != nil
}

func cloneNotification(n core.NotificationRecord) core.NotificationRecord {
	n.Sessions = slices.Clone(n.Sessions)
	if n.FirstClickAt != nil {
		v := *n.FirstClickAt
		n.FirstClickAt = &v
	}
	if n.ReactionTime != nil {
		v := *n.ReactionTime
		n.ReactionTime = &v
	}
	return n
}

func roundMillis(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*1000) / 1000
}
