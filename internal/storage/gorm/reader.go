package gormstorage

import (
	"errors"
	"fmt"

	"github.com/drivelab/copilot-sim/internal/model"
	"github.com/drivelab/copilot-sim/internal/model/convert"
	"github.com/drivelab/copilot-sim/pkg/core"

	"gorm.io/gorm"
)

// ErrRunNotFound is returned by LoadRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// LoadRun reads a stored run back. A run that never reached EndRun is
// rebuilt from its mode samples and reported as not completed.
func (b *Backend) LoadRun(runID string) (core.Run, core.TelemetryRecord, error) {
	return LoadRun(b.deps.DB, runID)
}

// LoadRun reads a stored run from any database carrying the schema.
func LoadRun(db *gorm.DB, runID string) (core.Run, core.TelemetryRecord, error) {
	var run model.Run
	err := db.Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("failed to load run: %w", err)
	}

	var collisions []model.Collision
	if err := db.Where("run_id = ?", run.ID).Order("tick, id").Find(&collisions).Error; err != nil {
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("failed to load collisions: %w", err)
	}
	var notifications []model.Notification
	if err := db.Where("run_id = ?", run.ID).Order("arrived_at, id").Find(&notifications).Error; err != nil {
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("failed to load notifications: %w", err)
	}

	var res model.Result
	err = db.Where("run_id = ?", run.ID).First(&res).Error
	switch {
	case err == nil:
		return convert.RunToCore(run), convert.ResultToCore(run, res, collisions, notifications), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("failed to load result: %w", err)
	}

	var samples []model.ModeSample
	if err := db.Where("run_id = ?", run.ID).Order("kind, sample_index").Find(&samples).Error; err != nil {
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("failed to load mode samples: %w", err)
	}
	rec := convert.ResultToCore(run, model.Result{}, collisions, notifications)
	rec.ModeBySecond = denseModes(samples, core.SampleBySecond)
	rec.ModeByDistance = denseModes(samples, core.SampleByDistance)
	rec.ElapsedSeconds = len(rec.ModeBySecond)
	// FinalScore stays unset without a result row; collision snapshots miss later per-second charges
	rec.ObstaclesHit = len(collisions)
	return convert.RunToCore(run), rec, nil
}

// denseModes lays samples of one kind out by index. Gaps repeat the previous mode.
func denseModes(samples []model.ModeSample, kind core.SampleKind) []core.Mode {
	var out []core.Mode
	for _, s := range samples {
		if s.Kind != string(kind) || s.Index < 0 {
			continue
		}
		for len(out) < s.Index {
			prev := core.ModeCopilot
			if len(out) > 0 {
				prev = out[len(out)-1]
			}
			out = append(out, prev)
		}
		if s.Index < len(out) {
			out[s.Index] = core.Mode(s.Mode)
		} else {
			out = append(out, core.Mode(s.Mode))
		}
	}
	return out
}
