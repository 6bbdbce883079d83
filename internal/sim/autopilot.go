package sim

import "math"

// Decision is the per-tick output of a control policy.
type Decision struct {
	TargetLane int
	DeltaV     float64
}

// blind zone drift, applied one step every DriftTicks
var driftPattern = [...]int{1, -1, -1, 1}

// Autopilot is the copilot lane and speed policy.
type Autopilot struct {
	cfg        AutopilotConfig
	track      float64
	finishLine bool
	drift      int
}

// NewAutopilot creates the policy for a run.
func NewAutopilot(cfg Config) *Autopilot {
	return &Autopilot{
		cfg:        cfg.Autopilot,
		track:      cfg.TrackLength,
		finishLine: cfg.HasFinishLine(),
	}
}

// LaneScan is the per-lane view of the detection window.
type LaneScan struct {
	// Clearance is the distance to the nearest obstacle that blocks the lane,
	// capped at the look-ahead. Obstacles alongside in another lane count as zero.
	Clearance [LaneCount]float64
	// Ahead is the distance to the nearest obstacle at or ahead of the vehicle.
	Ahead [LaneCount]float64
}

// Safe reports whether a lane clears the safety distance.
func (a *Autopilot) Safe(scan LaneScan, lane int) bool {
	return scan.Clearance[lane] >= a.cfg.SafetyDistance
}

// InBlindZone reports whether the vehicle is in the final stretch with avoidance off.
func (a *Autopilot) InBlindZone(distance float64) bool {
	if !a.cfg.BlindZone.Enabled || !a.finishLine {
		return false
	}
	return a.track-distance <= a.cfg.BlindZone.Length
}

// Scan measures clearance per lane.
func (a *Autopilot) Scan(w *World) LaneScan {
	var scan LaneScan
	for i := range scan.Clearance {
		scan.Clearance[i] = a.cfg.DetectAhead
		scan.Ahead[i] = a.cfg.DetectAhead
	}

	veh := w.Vehicle
	w.Each(func(o Obstacle) {
		d := o.Position().Distance - veh.Distance
		if d < -a.cfg.DetectBehind || d > a.cfg.DetectAhead {
			return
		}
		lane := o.LaneIndex()
		if d >= 0 {
			scan.Ahead[lane] = math.Min(scan.Ahead[lane], d)
		} else if lane == veh.Lane {
			// already passed in our own lane
			return
		}
		scan.Clearance[lane] = math.Min(scan.Clearance[lane], math.Max(d, 0))
	})
	return scan
}

// Decide returns the target lane and velocity change for this tick.
func (a *Autopilot) Decide(w *World, tick uint64) Decision {
	veh := w.Vehicle
	blind := a.InBlindZone(veh.Distance)

	scan := a.Scan(w)
	target := veh.TargetLane
	if blind {
		// lane choice ignores obstacles, braking is only scaled down
		if a.cfg.BlindZone.DriftTicks > 0 && tick%a.cfg.BlindZone.DriftTicks == 0 {
			target = clampLane(target + driftPattern[a.drift%len(driftPattern)])
			a.drift++
		}
	} else {
		target = a.chooseLane(scan, target, tick)
	}

	return Decision{
		TargetLane: target,
		DeltaV:     a.speedDelta(veh, a.pathGap(w, scan, target), blind),
	}
}

func (a *Autopilot) chooseLane(scan LaneScan, cur int, tick uint64) int {
	if scan.Clearance[cur] >= a.cfg.DetectAhead {
		if tick%a.cfg.CenterNudgeTicks == 0 && cur != LaneCount/2 && a.allClear(scan) {
			return stepToward(cur, LaneCount/2)
		}
		return cur
	}

	best := -1
	for l := 0; l < LaneCount; l++ {
		if l == cur || !a.beatsCurrent(scan, l, cur) {
			continue
		}
		if best < 0 || a.outranks(scan, l, best) {
			best = l
		}
	}
	if best < 0 {
		return cur
	}
	// one lane per decision, re-evaluated next tick
	return stepToward(cur, best)
}

// beatsCurrent reports whether lane l is worth leaving cur for. Between two
// safe lanes the candidate needs Hysteresis more clearance.
func (a *Autopilot) beatsCurrent(scan LaneScan, l, cur int) bool {
	sl, sc := a.Safe(scan, l), a.Safe(scan, cur)
	if sl != sc {
		return sl
	}
	if !sl {
		return scan.Clearance[l] > scan.Clearance[cur]
	}
	return scan.Clearance[l] > scan.Clearance[cur]+a.cfg.Hysteresis
}

// outranks orders candidates: safe first, then raw clearance.
func (a *Autopilot) outranks(scan LaneScan, l, than int) bool {
	sl, st := a.Safe(scan, l), a.Safe(scan, than)
	if sl != st {
		return sl
	}
	return scan.Clearance[l] > scan.Clearance[than]
}

func (a *Autopilot) allClear(scan LaneScan) bool {
	for _, c := range scan.Clearance {
		if c < a.cfg.DetectAhead {
			return false
		}
	}
	return true
}

// pathGap is the nearest obstacle ahead in the lane the vehicle occupies or enters.
func (a *Autopilot) pathGap(w *World, scan LaneScan, target int) float64 {
	gap := scan.Ahead[w.Vehicle.Lane]
	if target != w.Vehicle.Lane {
		gap = math.Min(gap, scan.Ahead[target])
	}
	return gap
}

func (a *Autopilot) speedDelta(veh Vehicle, gap float64, blind bool) float64 {
	factor := 1.0
	if blind {
		factor = a.cfg.BlindZone.BrakeFactor
	}
	switch {
	case gap < a.cfg.EmergencyDistance:
		return -a.cfg.HardBrake * factor
	case gap < a.cfg.ImmediateDistance:
		return -a.cfg.LightBrake * factor
	case veh.Velocity < a.cfg.CruiseSpeed:
		return math.Min(a.cfg.Accel, a.cfg.CruiseSpeed-veh.Velocity)
	case veh.Velocity > a.cfg.CruiseSpeed:
		return -math.Min(a.cfg.Decel, veh.Velocity-a.cfg.CruiseSpeed)
	default:
		return 0
	}
}

func stepToward(from, to int) int {
	switch {
	case to > from:
		return from + 1
	case to < from:
		return from - 1
	default:
		return from
	}
}
