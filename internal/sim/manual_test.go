package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualInput_LaneShiftIsEdgeTriggered(t *testing.T) {
	m := NewManualInput(DefaultConfig().Manual)
	veh := Vehicle{Lane: 1, TargetLane: 1}

	m.Press(IntentLaneLeft)
	m.Press(IntentLaneLeft) // auto-repeat while held
	assert.Equal(t, 0, m.Decide(veh).TargetLane)

	veh.TargetLane = 0
	assert.Equal(t, 0, m.Decide(veh).TargetLane, "no new press")

	m.Release(IntentLaneLeft)
	m.Press(IntentLaneRight)
	m.Release(IntentLaneRight)
	m.Press(IntentLaneRight)
	assert.Equal(t, 2, m.Decide(veh).TargetLane, "two presses, two lanes")
}

func TestManualInput_LaneShiftClamped(t *testing.T) {
	m := NewManualInput(DefaultConfig().Manual)
	m.Press(IntentLaneLeft)
	assert.Equal(t, 0, m.Decide(Vehicle{TargetLane: 0}).TargetLane)
}

func TestManualInput_Speed(t *testing.T) {
	cfg := DefaultConfig().Manual
	tests := []struct {
		name     string
		keys     []IntentKind
		velocity float64
		want     float64
	}{
		{"coast", nil, 5, cfg.CoastRate},
		{"accelerate", []IntentKind{IntentAccelerate}, 5, cfg.AccelRate},
		{"brake", []IntentKind{IntentBrake}, 5, -cfg.BrakeRate},
		{"brake wins", []IntentKind{IntentAccelerate, IntentBrake}, 5, -cfg.BrakeRate},
		{"brake floors at zero", []IntentKind{IntentBrake}, 0.1, -0.1},
		{"capped at max", []IntentKind{IntentAccelerate}, cfg.MaxSpeed - 0.05, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManualInput(cfg)
			for _, k := range tt.keys {
				m.Press(k)
			}
			assert.InDelta(t, tt.want, m.Decide(Vehicle{Velocity: tt.velocity}).DeltaV, 1e-9)
		})
	}
}

func TestManualInput_ReleaseStopsHeldKey(t *testing.T) {
	cfg := DefaultConfig().Manual
	m := NewManualInput(cfg)
	m.Press(IntentBrake)
	m.Release(IntentBrake)
	assert.InDelta(t, cfg.CoastRate, m.Decide(Vehicle{Velocity: 5}).DeltaV, 1e-9)
}

func TestManualInput_Discard(t *testing.T) {
	m := NewManualInput(DefaultConfig().Manual)
	m.Press(IntentLaneRight)
	m.Discard()
	assert.Equal(t, 1, m.Decide(Vehicle{TargetLane: 1}).TargetLane)
}

func TestManualInput_ClampSpeed(t *testing.T) {
	m := NewManualInput(DefaultConfig().Manual)
	assert.Equal(t, 20.0, m.ClampSpeed(30))
	assert.Equal(t, 0.0, m.ClampSpeed(-1))
	assert.Equal(t, 12.5, m.ClampSpeed(12.5))
}
