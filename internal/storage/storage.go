// internal/storage/storage.go
package storage

import (
	"errors"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// ErrRunNotStarted is returned when telemetry arrives before StartRun.
var ErrRunNotStarted = errors.New("run not started")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management (assigns ID to the passed pointer)
	StartRun(run *core.Run) error
	EndRun(record *core.TelemetryRecord) error

	// Incremental telemetry
	RecordModeSample(s *core.ModeSample) error
	RecordCollision(e *core.CollisionEvent) error
	// RecordNotification replaces the stored history of n.ID.
	RecordNotification(n *core.NotificationRecord) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the survey platform.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

// Reader is implemented by backends that can load a finished run back.
type Reader interface {
	LoadRun(runID string) (core.Run, core.TelemetryRecord, error)
}
