// pkg/core/run.go
package core

import "time"

// Run describes one participant session.
type Run struct {
	ID            uint      `json:"id"`
	RunID         string    `json:"runId"` // uuid
	ParticipantID string    `json:"participantId"`
	Condition     string    `json:"condition"`
	Profile       string    `json:"profile"`
	StartTime     time.Time `json:"startTime"`
	TrackLength   float64   `json:"trackLength"`
	FinishRule    string    `json:"finishRule"`
	SpawnStrategy string    `json:"spawnStrategy"`
	Seed          uint64    `json:"seed"`
}

// UploadMetadata contains metadata sent alongside an exported run file.
type UploadMetadata struct {
	RunID         string  `json:"runId"`
	ParticipantID string  `json:"participantId"`
	Condition     string  `json:"condition"`
	Duration      float64 `json:"duration"`
	Completed     bool    `json:"completed"`
}
