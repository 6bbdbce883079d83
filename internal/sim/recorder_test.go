package sim

import (
	"testing"

	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ChargeSecondsCatchesUp(t *testing.T) {
	var events []Event
	r := NewRecorder(DefaultConfig(), func(ev Event) { events = append(events, ev) })

	assert.Equal(t, 1, r.ChargeSeconds(1, core.ModeCopilot))
	assert.Equal(t, 0, r.ChargeSeconds(1, core.ModeCopilot), "same second twice")
	assert.Equal(t, 10, r.ChargeSeconds(11, core.ModeManual))
	assert.Equal(t, 0, r.ChargeSeconds(5, core.ModeManual), "never backwards")

	assert.Equal(t, 1000-11*10, r.Score())
	assert.Equal(t, 11, r.Seconds())
	require.Len(t, events, 11)
	assert.Equal(t, core.ModeSample{Kind: core.SampleBySecond, Index: 10, Mode: core.ModeManual}, *events[10].Sample)
}

func TestRecorder_ScoreFloorsAtZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialScore = 60
	r := NewRecorder(cfg, nil)

	r.Collide(core.CollisionEvent{Tick: 1}, 50)
	ev := r.Collide(core.CollisionEvent{Tick: 2}, 50)
	assert.Equal(t, 0, ev.ScoreAfter)
	r.ChargeSeconds(100, core.ModeCopilot)
	assert.Equal(t, 0, r.Score())
	assert.Equal(t, 2, r.Hits())
}

func TestRecorder_MarkDistanceBackfills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackLength = 10
	r := NewRecorder(cfg, nil)

	r.MarkDistance(core.Position{Distance: 0}, core.ModeCopilot)
	r.MarkDistance(core.Position{Distance: 0.7}, core.ModeCopilot)
	r.MarkDistance(core.Position{Distance: 3.2}, core.ModeManual)
	r.MarkDistance(core.Position{Distance: 50}, core.ModeCopilot)

	rec := r.Finalize(FinalizeInfo{Distance: 50})
	assert.Equal(t, []core.Mode{
		core.ModeCopilot,
		core.ModeManual, core.ModeManual, core.ModeManual,
		core.ModeCopilot, core.ModeCopilot, core.ModeCopilot, core.ModeCopilot,
		core.ModeCopilot, core.ModeCopilot, core.ModeCopilot,
	}, rec.ModeByDistance)
	assert.Len(t, rec.Trajectory, 11)
	assert.Equal(t, 10.0, rec.Distance)
}

func TestRecorder_NotificationLifecycle(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil)

	assert.False(t, r.Open("missing", 1))
	r.Arrive("n1", true, 2.0004)
	assert.False(t, r.AllRequiredSeen(1))
	assert.False(t, r.Close("n1", 2.5), "not open")

	require.True(t, r.Open("n1", 3.25))
	assert.False(t, r.Open("n1", 3.5), "already open")
	require.True(t, r.Close("n1", 4.0))
	require.True(t, r.Open("n1", 10))
	assert.True(t, r.AllRequiredSeen(1))

	rec := r.Finalize(FinalizeInfo{SimTime: 12.5})
	require.Len(t, rec.Notifications, 1)
	n := rec.Notifications[0]
	assert.Equal(t, 2.0, n.ArrivedAt)
	require.NotNil(t, n.FirstClickAt)
	assert.Equal(t, 3.25, *n.FirstClickAt)
	require.NotNil(t, n.ReactionTime)
	assert.Equal(t, 1.25, *n.ReactionTime)
	require.Len(t, n.Sessions, 2, "open session closed by finalize")
	assert.Equal(t, 0.75, n.Sessions[0].Duration)
	assert.Equal(t, 2.5, n.Sessions[1].Duration)
	assert.Equal(t, 3.25, n.TotalOpenTime)
	assert.True(t, n.Seen)
}

func TestRecorder_UnopenedNotification(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil)
	r.Arrive("n1", false, 1)
	rec := r.Finalize(FinalizeInfo{})
	require.Len(t, rec.Notifications, 1)
	assert.Nil(t, rec.Notifications[0].FirstClickAt)
	assert.False(t, rec.Notifications[0].Seen)
}

func TestRecorder_FinalizeIsIdempotent(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil)
	r.ChargeSeconds(3, core.ModeCopilot)
	first := r.Finalize(FinalizeInfo{RunID: "a", Ticks: 180, SimTime: 3})

	r.ChargeSeconds(10, core.ModeCopilot)
	r.Collide(core.CollisionEvent{}, 50)
	second := r.Finalize(FinalizeInfo{RunID: "b", Ticks: 999})

	assert.Equal(t, first, second)
	assert.Equal(t, 970, second.FinalScore)
	assert.True(t, r.Finalized())
}
