// pkg/core/events.go
package core

// SampleKind tells which mode log a ModeSample belongs to.
type SampleKind string

const (
	SampleBySecond   SampleKind = "second"
	SampleByDistance SampleKind = "distance"
)

// ModeSample is one entry of the mode-by-second or mode-by-distance log.
// Index is the elapsed second or the distance unit.
type ModeSample struct {
	Kind  SampleKind `json:"kind"`
	Index int        `json:"index"`
	Mode  Mode       `json:"mode"`
}

// CollisionEvent is one counted collision. Time is seconds since run start.
type CollisionEvent struct {
	Tick         uint64     `json:"tick"`
	Time         float64    `json:"time"`
	DistanceUnit int        `json:"distanceUnit"`
	Mode         Mode       `json:"mode"`
	Lane         int        `json:"lane"`
	Category     Category   `json:"category"`
	ObstacleID   ObstacleID `json:"obstacleId"`
	Position     Position   `json:"position"`
	ScoreAfter   int        `json:"scoreAfter"`
}

// NotificationSession is one open/close interval of a notification.
type NotificationSession struct {
	OpenedAt float64 `json:"openedAt"`
	ClosedAt float64 `json:"closedAt"`
	Duration float64 `json:"duration"`
}

// NotificationRecord is the interaction history of one notification.
// Times are seconds since run start with millisecond precision; nil means "never".
type NotificationRecord struct {
	ID            string                `json:"id"`
	Required      bool                  `json:"required"`
	ArrivedAt     float64               `json:"arrivedAt"`
	FirstClickAt  *float64              `json:"firstClickAt"`
	ReactionTime  *float64              `json:"reactionTime"`
	Sessions      []NotificationSession `json:"sessions"`
	TotalOpenTime float64               `json:"totalOpenTime"`
	Seen          bool                  `json:"seen"`
}

// TelemetryRecord is the finalized, exported log of a run.
type TelemetryRecord struct {
	RunID          string               `json:"runId"`
	Completed      bool                 `json:"completed"`
	FinalScore     int                  `json:"finalScore"`
	ObstaclesHit   int                  `json:"obstaclesHit"`
	Ticks          uint64               `json:"ticks"`
	SimTime        float64              `json:"simTime"`
	ElapsedSeconds int                  `json:"elapsedSeconds"`
	Distance       float64              `json:"distance"`
	ModeBySecond   []Mode               `json:"modeBySecond"`
	ModeByDistance []Mode               `json:"modeByDistance"`
	Collisions     []CollisionEvent     `json:"collisions"`
	Notifications  []NotificationRecord `json:"notifications"`
	Trajectory     []Position           `json:"trajectory"`
}
