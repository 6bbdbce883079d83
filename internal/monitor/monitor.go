// Package monitor periodically reports run progress: a JSON status file for
// the operator and a progress point for InfluxDB.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/drivelab/copilot-sim/internal/influx"
	"github.com/drivelab/copilot-sim/internal/study"
	"github.com/drivelab/copilot-sim/internal/worker"
	"github.com/drivelab/copilot-sim/pkg/core"
)

// SnapshotSource provides the latest frame snapshot.
type SnapshotSource interface {
	LastSnapshot() core.Snapshot
}

// StorageStatus provides the storage queue counters.
type StorageStatus interface {
	Status() worker.Status
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger     *slog.Logger
	Study      *study.Context
	Snapshots  SnapshotSource
	Storage    StorageStatus   // optional
	Influx     *influx.Manager // optional
	StatusFile string          // optional
	Interval   time.Duration
}

// Status is one report.
type Status struct {
	Time          time.Time      `json:"time"`
	RunID         string         `json:"runId"`
	ParticipantID string         `json:"participantId"`
	Phase         core.Phase     `json:"phase"`
	Countdown     int            `json:"countdown"`
	Tick          uint64         `json:"tick"`
	Elapsed       int            `json:"elapsed"`
	Score         int            `json:"score"`
	ObstaclesHit  int            `json:"obstaclesHit"`
	Distance      float64        `json:"distance"`
	Mode          core.Mode      `json:"mode"`
	AwaitingAck   bool           `json:"awaitingAck"`
	Storage       *worker.Status `json:"storage,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	log       *slog.Logger
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		deps: deps,
		log:  log.With("component", "monitor"),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status.
func (s *Service) GetProgramStatus(now time.Time) Status {
	run := s.deps.Study.GetRun()
	snap := s.deps.Snapshots.LastSnapshot()

	st := Status{
		Time:          now,
		RunID:         run.RunID,
		ParticipantID: run.ParticipantID,
		Phase:         snap.Phase,
		Countdown:     snap.Countdown,
		Tick:          snap.Tick,
		Elapsed:       snap.Elapsed,
		Score:         snap.Score,
		ObstaclesHit:  snap.ObstaclesHit,
		Distance:      snap.Vehicle.Position.Distance,
		Mode:          snap.Vehicle.Mode,
		AwaitingAck:   snap.AwaitingAck,
	}
	if s.deps.Storage != nil {
		ws := s.deps.Storage.Status()
		st.Storage = &ws
	}
	return st
}

// Report writes one status to the status file and InfluxDB.
func (s *Service) Report(statusFile *os.File, now time.Time) {
	st := s.GetProgramStatus(now)

	if statusFile != nil {
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			out = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		if err := statusFile.Truncate(0); err == nil {
			_, _ = statusFile.Seek(0, 0)
			_, _ = statusFile.Write(append(out, '\n'))
		}
	}

	if s.deps.Influx != nil {
		point := influx.ProgressPoint(*s.deps.Study.GetRun(), s.deps.Snapshots.LastSnapshot(), now)
		if st.Storage != nil {
			point.AddField("queuePending", st.Storage.Pending).
				AddField("lastDbWriteMs", st.Storage.LastDBWriteMs)
		}
		if err := s.deps.Influx.WritePoint(s.deps.Influx.Bucket(), point); err != nil {
			s.log.Error("Error writing progress point", "error", err)
		}
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	var statusFile *os.File
	if s.deps.StatusFile != "" {
		f, err := os.Create(s.deps.StatusFile)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("error creating status file: %w", err)
		}
		statusFile = f
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		if statusFile != nil {
			defer statusFile.Close()
		}

		s.log.Debug("Starting status monitor", "interval", s.deps.Interval, "statusFile", s.deps.StatusFile)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				s.Report(statusFile, time.Now())
				return
			case now := <-ticker.C:
				s.Report(statusFile, now)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor after a last report.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
