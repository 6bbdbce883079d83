package sim

import (
	"math"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// integrate applies one tick of motion to the vehicle and ambient traffic.
func integrate(w *World, d Decision, cfg Config) {
	step := cfg.StepSeconds()
	veh := &w.Vehicle

	veh.TargetLane = clampLane(d.TargetLane)
	veh.Velocity = nonNegative(veh.Velocity + d.DeltaV)

	alpha := cfg.Motion.SmoothingCopilot
	if veh.Mode == core.ModeManual {
		alpha = cfg.Motion.SmoothingManual
	}
	lo, hi := w.LateralBounds()
	lateral := veh.Lateral + (w.LaneCenter(veh.TargetLane)-veh.Lateral)*alpha
	if math.IsNaN(lateral) {
		lateral = w.LaneCenter(veh.TargetLane)
	}
	veh.Lateral = math.Min(math.Max(lateral, lo), hi)

	if veh.Mode == core.ModeManual {
		// manual lane changes are immediate in the lane index
		veh.Lane = veh.TargetLane
	} else {
		veh.Lane = w.LaneAt(veh.Lateral)
	}

	veh.Distance = nonNegative(veh.Distance + veh.Velocity*step)

	rotation := cfg.Ambient.LaneRotation
	for _, a := range w.ambient {
		a.Distance += cfg.Ambient.Speed * step
		if a.Distance < veh.Distance-cfg.Ambient.RecycleBehind {
			a.Distance = veh.Distance + cfg.Ambient.RecycleAhead
			a.Lane = clampLane(rotation[(int(a.id)+a.Recycles)%len(rotation)])
			a.Lateral = w.LaneCenter(a.Lane)
			a.Recycles++
		}
	}
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
