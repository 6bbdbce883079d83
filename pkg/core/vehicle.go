// pkg/core/vehicle.go
package core

// VehicleState is the study vehicle as seen by a renderer at one frame.
type VehicleState struct {
	Position   Position `json:"position"`
	Velocity   float64  `json:"velocity"`
	Lane       int      `json:"lane"`
	TargetLane int      `json:"targetLane"`
	Mode       Mode     `json:"mode"`
}

// ObstacleState is one live obstacle as seen by a renderer at one frame.
type ObstacleState struct {
	ID       ObstacleID `json:"id"`
	Category Category   `json:"category"`
	Lane     int        `json:"lane"`
	Position Position   `json:"position"`
}

// Snapshot is the per-frame view of a session handed to the rendering collaborator.
// It is a copy; mutating it has no effect on the simulation.
type Snapshot struct {
	Phase        Phase           `json:"phase"`
	Countdown    int             `json:"countdown"` // seconds left in the 3-2-1 sequence, 0 shows "Go"
	Tick         uint64          `json:"tick"`
	SimTime      float64         `json:"simTime"`
	Elapsed      int             `json:"elapsed"`   // whole seconds counted by the seconds poll
	Score        int             `json:"score"`
	ObstaclesHit int             `json:"obstaclesHit"`
	AwaitingAck  bool            `json:"awaitingAck"`
	Vehicle      VehicleState    `json:"vehicle"`
	Obstacles    []ObstacleState `json:"obstacles"`
}
