package sim

import "math"

// ManualInput maps held and pressed intents to a Decision.
type ManualInput struct {
	cfg ManualConfig

	accelerate bool
	brake      bool
	leftHeld   bool
	rightHeld  bool
	shift      int
}

// NewManualInput creates the mapper for a run.
func NewManualInput(cfg ManualConfig) *ManualInput {
	return &ManualInput{cfg: cfg}
}

// Press records a key going down. Lane keys only count on the edge, so
// auto-repeat while held never shifts more than once.
func (m *ManualInput) Press(kind IntentKind) {
	switch kind {
	case IntentAccelerate:
		m.accelerate = true
	case IntentBrake:
		m.brake = true
	case IntentLaneLeft:
		if !m.leftHeld {
			m.shift--
		}
		m.leftHeld = true
	case IntentLaneRight:
		if !m.rightHeld {
			m.shift++
		}
		m.rightHeld = true
	}
}

// Release records a key going up.
func (m *ManualInput) Release(kind IntentKind) {
	switch kind {
	case IntentAccelerate:
		m.accelerate = false
	case IntentBrake:
		m.brake = false
	case IntentLaneLeft:
		m.leftHeld = false
	case IntentLaneRight:
		m.rightHeld = false
	}
}

// Discard drops pending lane presses, used while the copilot drives.
func (m *ManualInput) Discard() {
	m.shift = 0
}

// Decide consumes pending lane presses and returns the velocity change for the held keys.
func (m *ManualInput) Decide(veh Vehicle) Decision {
	target := clampLane(veh.TargetLane + m.shift)
	m.shift = 0

	var dv float64
	switch {
	case m.brake:
		dv = -m.cfg.BrakeRate
	case m.accelerate:
		dv = m.cfg.AccelRate
	default:
		dv = m.cfg.CoastRate
	}
	next := m.ClampSpeed(veh.Velocity + dv)
	return Decision{TargetLane: target, DeltaV: next - veh.Velocity}
}

// ClampSpeed bounds a velocity to [0, MaxSpeed].
func (m *ManualInput) ClampSpeed(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, m.cfg.MaxSpeed)
}
