package sim

import (
	"math"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// LaneCount is the number of lanes on the corridor.
const LaneCount = 3

// Vehicle is the participant's car.
type Vehicle struct {
	Lateral    float64
	Distance   float64
	Velocity   float64
	Lane       int
	TargetLane int
	Mode       core.Mode
}

// Obstacle is anything the vehicle can hit. Implementations are
// *AmbientTraffic and *SpawnedHazard; callers switch on the concrete type.
type Obstacle interface {
	ID() core.ObstacleID
	Category() core.Category
	Position() core.Position
	LaneIndex() int
}

// AmbientTraffic is a long-lived background car that is recycled ahead once passed.
type AmbientTraffic struct {
	id       core.ObstacleID
	Lane     int
	Lateral  float64
	Distance float64
	Recycles int
}

func (a *AmbientTraffic) ID() core.ObstacleID     { return a.id }
func (a *AmbientTraffic) Category() core.Category { return core.CategoryAmbient }
func (a *AmbientTraffic) LaneIndex() int          { return a.Lane }

func (a *AmbientTraffic) Position() core.Position {
	return core.Position{Lateral: a.Lateral, Distance: a.Distance}
}

// SpawnedHazard is a stationary obstacle placed by the spawner.
type SpawnedHazard struct {
	id       core.ObstacleID
	Lane     int
	Lateral  float64
	Distance float64
	Zone     Zone
	Seq      uint64
}

func (h *SpawnedHazard) ID() core.ObstacleID     { return h.id }
func (h *SpawnedHazard) Category() core.Category { return core.CategoryHazard }
func (h *SpawnedHazard) LaneIndex() int          { return h.Lane }

func (h *SpawnedHazard) Position() core.Position {
	return core.Position{Lateral: h.Lateral, Distance: h.Distance}
}

// World holds the vehicle and every live obstacle of one run.
type World struct {
	lanes     [LaneCount]float64
	laneWidth float64

	Vehicle Vehicle
	ambient []*AmbientTraffic
	hazards []*SpawnedHazard
	nextID  core.ObstacleID
}

// NewWorld places the vehicle at the start and lays out ambient traffic.
func NewWorld(cfg Config) *World {
	w := &World{
		lanes:     cfg.Lanes,
		laneWidth: cfg.LaneWidth,
	}
	w.Vehicle = Vehicle{
		Lateral:    w.LaneCenter(cfg.StartLane),
		Lane:       cfg.StartLane,
		TargetLane: cfg.StartLane,
		Mode:       cfg.StartMode,
	}

	rotation := cfg.Ambient.LaneRotation
	for i := 0; i < cfg.Ambient.Count; i++ {
		lane := clampLane(rotation[i%len(rotation)])
		w.nextID++
		w.ambient = append(w.ambient, &AmbientTraffic{
			id:       w.nextID,
			Lane:     lane,
			Lateral:  w.LaneCenter(lane),
			Distance: float64(i+1) * cfg.Ambient.Spacing,
		})
	}
	return w
}

// LaneCenter returns the lateral center of lane i, clamping out of range indices.
func (w *World) LaneCenter(i int) float64 {
	return w.lanes[clampLane(i)]
}

// LaneAt returns the lane whose center is nearest to a lateral offset.
func (w *World) LaneAt(lateral float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range w.lanes {
		if d := math.Abs(lateral - c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// LateralBounds returns the outer edges of the road.
func (w *World) LateralBounds() (lo, hi float64) {
	half := w.laneWidth / 2
	return w.lanes[0] - half, w.lanes[LaneCount-1] + half
}

// AddHazard places a hazard in a lane at an absolute distance.
func (w *World) AddHazard(lane int, distance float64, zone Zone, seq uint64) *SpawnedHazard {
	lane = clampLane(lane)
	w.nextID++
	h := &SpawnedHazard{
		id:       w.nextID,
		Lane:     lane,
		Lateral:  w.LaneCenter(lane),
		Distance: distance,
		Zone:     zone,
		Seq:      seq,
	}
	w.hazards = append(w.hazards, h)
	return h
}

// RemoveHazards drops every hazard for which drop returns true and returns their ids.
func (w *World) RemoveHazards(drop func(*SpawnedHazard) bool) []core.ObstacleID {
	var removed []core.ObstacleID
	kept := w.hazards[:0]
	for _, h := range w.hazards {
		if drop(h) {
			removed = append(removed, h.id)
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(w.hazards); i++ {
		w.hazards[i] = nil
	}
	w.hazards = kept
	return removed
}

// Clear removes every obstacle.
func (w *World) Clear() {
	w.ambient = nil
	w.hazards = nil
}

// Each calls fn for every live obstacle, ambient traffic first.
func (w *World) Each(fn func(Obstacle)) {
	for _, a := range w.ambient {
		fn(a)
	}
	for _, h := range w.hazards {
		fn(h)
	}
}

// Ambient returns the live ambient traffic.
func (w *World) Ambient() []*AmbientTraffic {
	return w.ambient
}

// Hazards returns the live spawned hazards.
func (w *World) Hazards() []*SpawnedHazard {
	return w.hazards
}

// ObstacleCount returns the number of live obstacles.
func (w *World) ObstacleCount() int {
	return len(w.ambient) + len(w.hazards)
}

// ObstacleStates copies the live obstacles for a snapshot.
func (w *World) ObstacleStates() []core.ObstacleState {
	out := make([]core.ObstacleState, 0, w.ObstacleCount())
	w.Each(func(o Obstacle) {
		out = append(out, core.ObstacleState{
			ID:       o.ID(),
			Category: o.Category(),
			Lane:     o.LaneIndex(),
			Position: o.Position(),
		})
	})
	return out
}

func clampLane(i int) int {
	if i < 0 {
		return 0
	}
	if i >= LaneCount {
		return LaneCount - 1
	}
	return i
}
