package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func sampleRun() (core.Run, core.TelemetryRecord) {
	run := core.Run{
		RunID:         "r-42",
		ParticipantID: "P-003",
		Condition:     "copilot-first",
		Profile:       "deterministic",
		StartTime:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	rec := core.TelemetryRecord{
		RunID:          "r-42",
		Completed:      true,
		FinalScore:     880,
		ObstaclesHit:   1,
		Ticks:          2700,
		SimTime:        45,
		ElapsedSeconds: 3,
		Distance:       1500.25,
		ModeBySecond:   []core.Mode{core.ModeCopilot, core.ModeManual, core.ModeManual},
		ModeByDistance: []core.Mode{core.ModeCopilot},
		Collisions: []core.CollisionEvent{
			{Tick: 100, Time: 1.667, DistanceUnit: 12, Mode: core.ModeManual, Lane: 1, Category: core.CategoryHazard, ObstacleID: 4, ScoreAfter: 930},
		},
		Notifications: []core.NotificationRecord{
			{ID: "n1", Required: true, ArrivedAt: 10, FirstClickAt: ptr(12.5), ReactionTime: ptr(2.5), Seen: true, TotalOpenTime: 1.25,
				Sessions: []core.NotificationSession{{OpenedAt: 12.5, ClosedAt: 13.75, Duration: 1.25}}},
			{ID: "n2", ArrivedAt: 20},
		},
	}
	return run, rec
}

func TestFlatten(t *testing.T) {
	run, rec := sampleRun()
	data, err := Flatten(run, rec)
	require.NoError(t, err)

	assert.Equal(t, "r-42", data["runId"])
	assert.Equal(t, "P-003", data["participantId"])
	assert.Equal(t, "2026-03-01T10:00:00Z", data["startTime"])
	assert.Equal(t, "true", data["completed"])
	assert.Equal(t, "880", data["finalScore"])
	assert.Equal(t, "1", data["obstaclesHit"])
	assert.Equal(t, "2700", data["ticks"])
	assert.Equal(t, "1500.25", data["distance"])
	assert.Equal(t, "2", data["manualSeconds"])
	assert.Equal(t, `["copilot","manual","manual"]`, data["modeBySecond"])
	assert.Equal(t, `["copilot"]`, data["modeByDistance"])

	var hits []core.CollisionEvent
	require.NoError(t, json.Unmarshal([]byte(data["collisions"]), &hits))
	assert.Equal(t, rec.Collisions, hits)

	var notes []core.NotificationRecord
	require.NoError(t, json.Unmarshal([]byte(data["notifications"]), &notes))
	assert.Equal(t, rec.Notifications[0], notes[0])

	assert.Equal(t, "true", data["notif_n1_seen"])
	assert.Equal(t, "2.5", data["notif_n1_reactionTime"])
	assert.Equal(t, "1.25", data["notif_n1_totalOpenTime"])
	assert.Equal(t, "", data["notif_n2_reactionTime"])
	assert.Equal(t, "false", data["notif_n2_seen"])
}

func TestFlatten_EmptyArrays(t *testing.T) {
	data, err := Flatten(core.Run{RunID: "r-0"}, core.TelemetryRecord{})
	require.NoError(t, err)
	assert.Equal(t, "r-0", data["runId"], "falls back to the run id")
	for _, k := range []string{"modeBySecond", "modeByDistance", "collisions", "notifications"} {
		assert.Equal(t, "[]", data[k], k)
	}
	assert.Len(t, data, len(Keys))
}

func TestSortedKeys(t *testing.T) {
	run, rec := sampleRun()
	data, err := Flatten(run, rec)
	require.NoError(t, err)

	keys := SortedKeys(data)
	require.Len(t, keys, len(data))
	assert.Equal(t, Keys, keys[:len(Keys)])
	assert.Equal(t, []string{
		"notif_n1_reactionTime", "notif_n1_seen", "notif_n1_totalOpenTime",
		"notif_n2_reactionTime", "notif_n2_seen", "notif_n2_totalOpenTime",
	}, keys[len(Keys):])
}
