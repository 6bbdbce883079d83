package sim

import (
	"math"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// Hit is one counted collision.
type Hit struct {
	Obstacle core.ObstacleState
}

// CollisionDetector finds overlaps between the vehicle and obstacles and
// enforces a per-obstacle cooldown.
type CollisionDetector struct {
	cfg     CollisionConfig
	lastHit map[core.ObstacleID]uint64
}

// NewCollisionDetector creates a detector with an empty cooldown table.
func NewCollisionDetector(cfg CollisionConfig) *CollisionDetector {
	return &CollisionDetector{
		cfg:     cfg,
		lastHit: make(map[core.ObstacleID]uint64),
	}
}

// Eligible reports whether an obstacle may be counted at tick. An obstacle
// without an entry has never been hit and is always eligible.
func (c *CollisionDetector) Eligible(id core.ObstacleID, tick uint64) bool {
	last, ok := c.lastHit[id]
	if !ok {
		return true
	}
	return tick-last >= c.cfg.CooldownTicks
}

// Overlaps reports whether the vehicle touches an obstacle within its category tolerance.
func (c *CollisionDetector) Overlaps(veh Vehicle, o Obstacle) bool {
	var lat, long float64
	switch o.(type) {
	case *AmbientTraffic:
		lat, long = c.cfg.AmbientLateral, c.cfg.AmbientLongitudinal
	case *SpawnedHazard:
		lat, long = c.cfg.HazardLateral, c.cfg.HazardLongitudinal
	default:
		return false
	}
	p := o.Position()
	return math.Abs(p.Lateral-veh.Lateral) < lat && math.Abs(p.Distance-veh.Distance) < long
}

// Detect returns the hits of this tick and starts their cooldowns.
func (c *CollisionDetector) Detect(w *World, tick uint64) []Hit {
	var hits []Hit
	w.Each(func(o Obstacle) {
		if !c.Overlaps(w.Vehicle, o) || !c.Eligible(o.ID(), tick) {
			return
		}
		c.lastHit[o.ID()] = tick
		hits = append(hits, Hit{Obstacle: core.ObstacleState{
			ID:       o.ID(),
			Category: o.Category(),
			Lane:     o.LaneIndex(),
			Position: o.Position(),
		}})
	})
	return hits
}

// Forget releases the cooldowns of removed obstacles.
func (c *CollisionDetector) Forget(ids ...core.ObstacleID) {
	for _, id := range ids {
		delete(c.lastHit, id)
	}
}

// Reset releases every cooldown.
func (c *CollisionDetector) Reset() {
	clear(c.lastHit)
}

// Tracked returns the number of obstacles with a cooldown entry.
func (c *CollisionDetector) Tracked() int {
	return len(c.lastHit)
}
