package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&Run{},
	&ModeSample{},
	&Collision{},
	&Notification{},
	&Result{},
	&Performance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// Performance is one write cycle of the storage writer.
type Performance struct {
	Time                time.Time `json:"time" gorm:"type:timestamptz;index:idx_performance_time"`
	RunID               uint      `json:"runId" gorm:"index:idx_performance_run_id"`
	QueueLength         int       `json:"queueLength"`
	WrittenRows         int       `json:"writtenRows"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

func (*Performance) TableName() string {
	return "writer_performances"
}

////////////////////////
// RUN MODELS
////////////////////////

// Run is one participant session.
type Run struct {
	gorm.Model
	RunID         string    `json:"runId" gorm:"size:36;uniqueIndex:idx_run_uuid"`
	ParticipantID string    `json:"participantId" gorm:"size:64;index:idx_run_participant"`
	Condition     string    `json:"condition" gorm:"size:64"`
	Profile       string    `json:"profile" gorm:"size:32"`
	StartTime     time.Time `json:"startTime" gorm:"type:timestamptz;index:idx_run_start"`
	TrackLength   float64   `json:"trackLength"`
	FinishRule    string    `json:"finishRule" gorm:"size:32"`
	SpawnStrategy string    `json:"spawnStrategy" gorm:"size:16"`
	Seed          int64     `json:"seed"`
}

func (*Run) TableName() string {
	return "runs"
}

// ModeSample is one entry of the mode-by-second or mode-by-distance log.
type ModeSample struct {
	ID    uint   `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID uint   `json:"runId" gorm:"uniqueIndex:idx_mode_sample_key"`
	Run   Run    `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Kind  string `json:"kind" gorm:"size:16;uniqueIndex:idx_mode_sample_key"`
	Index int    `json:"index" gorm:"column:sample_index;uniqueIndex:idx_mode_sample_key"`
	Mode  string `json:"mode" gorm:"size:16"`
}

func (*ModeSample) TableName() string {
	return "mode_samples"
}

// Collision is one counted collision. Position is lateral/distance as planar XY.
type Collision struct {
	ID           uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID        uint       `json:"runId" gorm:"index:idx_collision_run_id"`
	Run          Run        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick         int64      `json:"tick"`
	Time         float64    `json:"time"`
	DistanceUnit int        `json:"distanceUnit"`
	Mode         string     `json:"mode" gorm:"size:16"`
	Lane         int        `json:"lane"`
	Category     string     `json:"category" gorm:"size:32"`
	ObstacleID   uint32     `json:"obstacleId"`
	Position     geom.Point `json:"position"`
	ScoreAfter   int        `json:"scoreAfter"`
}

func (*Collision) TableName() string {
	return "collisions"
}

// Notification is the interaction history of one notification. Rows are
// upserted on (run_id, notification_id) every time the history changes.
type Notification struct {
	ID             uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID          uint           `json:"runId" gorm:"uniqueIndex:idx_notification_key"`
	Run            Run            `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	NotificationID string         `json:"notificationId" gorm:"size:64;uniqueIndex:idx_notification_key"`
	Required       bool           `json:"required"`
	ArrivedAt      float64        `json:"arrivedAt"`
	FirstClickAt   *float64       `json:"firstClickAt"`
	ReactionTime   *float64       `json:"reactionTime"`
	Sessions       datatypes.JSON `json:"sessions"`
	TotalOpenTime  float64        `json:"totalOpenTime"`
	Seen           bool           `json:"seen"`
}

func (*Notification) TableName() string {
	return "notifications"
}

// Result is the finalized telemetry record of a run.
type Result struct {
	ID             uint            `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID          uint            `json:"runId" gorm:"uniqueIndex:idx_result_run_id"`
	Run            Run             `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Completed      bool            `json:"completed"`
	FinalScore     int             `json:"finalScore"`
	ObstaclesHit   int             `json:"obstaclesHit"`
	Ticks          int64           `json:"ticks"`
	SimTime        float64         `json:"simTime"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	Distance       float64         `json:"distance"`
	ModeBySecond   datatypes.JSON  `json:"modeBySecond"`
	ModeByDistance datatypes.JSON  `json:"modeByDistance"`
	Trajectory     geom.LineString `json:"-"`
	FinishedAt     time.Time       `json:"finishedAt" gorm:"type:timestamptz"`
}

func (*Result) TableName() string {
	return "results"
}
