// Package core holds the domain types shared between the simulation, the
// storage backends and the streaming protocol.
package core

// Mode is the control mode of the study vehicle.
type Mode string

const (
	ModeManual  Mode = "manual"
	ModeCopilot Mode = "copilot"
)

// Category distinguishes long-lived background traffic from hazards created by the spawner.
type Category string

const (
	CategoryAmbient Category = "ambient-traffic"
	CategoryHazard  Category = "spawned-hazard"
)

// Phase is the run state machine: idle -> countdown -> running -> completed.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountdown
	PhaseRunning
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountdown:
		return "countdown"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name so snapshots read well on the wire.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Position is a point in the corridor: lateral offset from the road center and
// longitudinal distance from the start line.
type Position struct {
	Lateral  float64 `json:"lateral"`
	Distance float64 `json:"distance"`
}

// ObstacleID identifies an obstacle for the lifetime of a run.
type ObstacleID uint32
