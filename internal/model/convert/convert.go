// Package convert maps between the core domain types and the GORM models.
package convert

import (
	"encoding/json"
	"time"

	"github.com/drivelab/copilot-sim/internal/geo"
	"github.com/drivelab/copilot-sim/internal/model"
	"github.com/drivelab/copilot-sim/pkg/core"
	"gorm.io/datatypes"
)

func toJSON(v any, empty string) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return datatypes.JSON(empty)
	}
	return datatypes.JSON(b)
}

// CoreToRun converts run metadata to its GORM row.
func CoreToRun(r core.Run) model.Run {
	m := model.Run{
		RunID:         r.RunID,
		ParticipantID: r.ParticipantID,
		Condition:     r.Condition,
		Profile:       r.Profile,
		StartTime:     r.StartTime,
		TrackLength:   r.TrackLength,
		FinishRule:    r.FinishRule,
		SpawnStrategy: r.SpawnStrategy,
		Seed:          int64(r.Seed),
	}
	m.ID = r.ID
	return m
}

// RunToCore is the inverse of CoreToRun.
func RunToCore(m model.Run) core.Run {
	return core.Run{
		ID:            m.ID,
		RunID:         m.RunID,
		ParticipantID: m.ParticipantID,
		Condition:     m.Condition,
		Profile:       m.Profile,
		StartTime:     m.StartTime,
		TrackLength:   m.TrackLength,
		FinishRule:    m.FinishRule,
		SpawnStrategy: m.SpawnStrategy,
		Seed:          uint64(m.Seed),
	}
}

// CoreToModeSample converts a mode sample for the given run row.
func CoreToModeSample(runID uint, s core.ModeSample) model.ModeSample {
	return model.ModeSample{
		RunID: runID,
		Kind:  string(s.Kind),
		Index: s.Index,
		Mode:  string(s.Mode),
	}
}

// CoreToCollision converts a collision event for the given run row.
func CoreToCollision(runID uint, e core.CollisionEvent) model.Collision {
	return model.Collision{
		RunID:        runID,
		Tick:         int64(e.Tick),
		Time:         e.Time,
		DistanceUnit: e.DistanceUnit,
		Mode:         string(e.Mode),
		Lane:         e.Lane,
		Category:     string(e.Category),
		ObstacleID:   uint32(e.ObstacleID),
		Position:     geo.PointFromPosition(e.Position),
		ScoreAfter:   e.ScoreAfter,
	}
}

// CollisionToCore is the inverse of CoreToCollision.
func CollisionToCore(m model.Collision) core.CollisionEvent {
	return core.CollisionEvent{
		Tick:         uint64(m.Tick),
		Time:         m.Time,
		DistanceUnit: m.DistanceUnit,
		Mode:         core.Mode(m.Mode),
		Lane:         m.Lane,
		Category:     core.Category(m.Category),
		ObstacleID:   core.ObstacleID(m.ObstacleID),
		Position:     geo.PositionFromPoint(m.Position),
		ScoreAfter:   m.ScoreAfter,
	}
}

// CoreToNotification converts a notification history for the given run row.
func CoreToNotification(runID uint, n core.NotificationRecord) model.Notification {
	sessions := n.Sessions
	if sessions == nil {
		sessions = []core.NotificationSession{}
	}
	return model.Notification{
		RunID:          runID,
		NotificationID: n.ID,
		Required:       n.Required,
		ArrivedAt:      n.ArrivedAt,
		FirstClickAt:   n.FirstClickAt,
		ReactionTime:   n.ReactionTime,
		Sessions:       toJSON(sessions, "[]"),
		TotalOpenTime:  n.TotalOpenTime,
		Seen:           n.Seen,
	}
}

// NotificationToCore is the inverse of CoreToNotification. Malformed session
// JSON yields an empty session list.
func NotificationToCore(m model.Notification) core.NotificationRecord {
	var sessions []core.NotificationSession
	if len(m.Sessions) > 0 {
		if err := json.Unmarshal(m.Sessions, &sessions); err != nil {
			sessions = nil
		}
	}
	return core.NotificationRecord{
		ID:            m.NotificationID,
		Required:      m.Required,
		ArrivedAt:     m.ArrivedAt,
		FirstClickAt:  m.FirstClickAt,
		ReactionTime:  m.ReactionTime,
		Sessions:      sessions,
		TotalOpenTime: m.TotalOpenTime,
		Seen:          m.Seen,
	}
}

// CoreToResult converts the finalized record for the given run row.
func CoreToResult(runID uint, rec core.TelemetryRecord, finishedAt time.Time) model.Result {
	return model.Result{
		RunID:          runID,
		Completed:      rec.Completed,
		FinalScore:     rec.FinalScore,
		ObstaclesHit:   rec.ObstaclesHit,
		Ticks:          int64(rec.Ticks),
		SimTime:        rec.SimTime,
		ElapsedSeconds: rec.ElapsedSeconds,
		Distance:       rec.Distance,
		ModeBySecond:   toJSON(rec.ModeBySecond, "[]"),
		ModeByDistance: toJSON(rec.ModeByDistance, "[]"),
		Trajectory:     geo.LineStringFromTrajectory(rec.Trajectory),
		FinishedAt:     finishedAt,
	}
}

// ResultToCore rebuilds a telemetry record from its stored rows.
func ResultToCore(run model.Run, res model.Result, collisions []model.Collision, notifications []model.Notification) core.TelemetryRecord {
	rec := core.TelemetryRecord{
		RunID:          run.RunID,
		Completed:      res.Completed,
		FinalScore:     res.FinalScore,
		ObstaclesHit:   res.ObstaclesHit,
		Ticks:          uint64(res.Ticks),
		SimTime:        res.SimTime,
		ElapsedSeconds: res.ElapsedSeconds,
		Distance:       res.Distance,
		Trajectory:     geo.TrajectoryFromLineString(res.Trajectory),
	}
	_ = json.Unmarshal(res.ModeBySecond, &rec.ModeBySecond)
	_ = json.Unmarshal(res.ModeByDistance, &rec.ModeByDistance)

	rec.Collisions = make([]core.CollisionEvent, len(collisions))
	for i, c := range collisions {
		rec.Collisions[i] = CollisionToCore(c)
	}
	rec.Notifications = make([]core.NotificationRecord, len(notifications))
	for i, n := range notifications {
		rec.Notifications[i] = NotificationToCore(n)
	}
	return rec
}
