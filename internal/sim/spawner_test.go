package sim

import (
	"math"
	"testing"

	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnConfig() Config {
	cfg := DefaultConfig()
	cfg.Ambient.Count = 0
	return cfg.normalized()
}

func TestSpawner_Zones(t *testing.T) {
	s := NewSpawner(spawnConfig())

	tests := []struct {
		distance float64
		zone     Zone
		ok       bool
	}{
		{0, ZoneFar, true},
		{700, ZoneFar, true},
		{751, ZoneNear, true},
		{1200, ZoneNear, true},
		{1276, ZoneBurst, true},
		{1499, ZoneBurst, true},
		{1500, ZoneConstant, false},
	}
	for _, tt := range tests {
		zone, ok := s.ZoneAt(tt.distance)
		assert.Equal(t, tt.ok, ok, "distance %v", tt.distance)
		if tt.ok {
			assert.Equal(t, tt.zone, zone, "distance %v", tt.distance)
		}
	}
}

func TestSpawner_SingleZoneWithoutFinishLine(t *testing.T) {
	cfg := spawnConfig()
	cfg.Finish = FinishDuration
	s := NewSpawner(cfg)

	for _, d := range []float64{0, 1400, 5000} {
		zone, ok := s.ZoneAt(d)
		assert.True(t, ok)
		assert.Equal(t, ZoneConstant, zone)
	}
	assert.Equal(t, cfg.Spawn.Interval, s.Interval(ZoneConstant, 100))
}

func TestSpawner_IntervalClamp(t *testing.T) {
	for _, bad := range []float64{0, -10, 3, math.NaN()} {
		cfg := spawnConfig()
		cfg.Spawn.FarInterval = bad
		s := NewSpawner(cfg)
		assert.Equal(t, cfg.Spawn.MinInterval, s.Interval(ZoneFar, 0), "interval %v", bad)
	}
}

func TestSpawner_DensityScaling(t *testing.T) {
	cfg := spawnConfig()
	cfg.Spawn.DensityScaling = true
	cfg.Spawn.DensityGain = 0.5
	s := NewSpawner(cfg)

	assert.InDelta(t, 80, s.Interval(ZoneFar, 0), 1e-9)
	assert.InDelta(t, 60, s.Interval(ZoneFar, 750), 1e-9)

	cfg.Spawn.DensityGain = 1
	s = NewSpawner(cfg)
	assert.Equal(t, cfg.Spawn.MinInterval, s.Interval(ZoneBurst, 1500), "scaled to zero is clamped")
}

func TestSpawner_SpawnsOnZoneEntryThenByInterval(t *testing.T) {
	cfg := spawnConfig()
	w := NewWorld(cfg)
	s := NewSpawner(cfg)

	h, _ := s.Update(w)
	require.NotNil(t, h, "zone that never spawned spawns on entry")
	assert.Equal(t, ZoneFar, h.Zone)
	assert.InDelta(t, cfg.Spawn.Ahead+cfg.Spawn.OffsetTable[0], h.Distance, 1e-9)

	w.Vehicle.Distance = 79
	h, _ = s.Update(w)
	assert.Nil(t, h)

	w.Vehicle.Distance = 80
	h, _ = s.Update(w)
	require.NotNil(t, h)
	assert.Equal(t, uint64(1), h.Seq)

	// entering the near zone spawns immediately
	w.Vehicle.Distance = 751
	h, _ = s.Update(w)
	require.NotNil(t, h)
	assert.Equal(t, ZoneNear, h.Zone)
	assert.Equal(t, uint64(3), s.Count())
}

func TestSpawner_PatternIsDeterministic(t *testing.T) {
	cfg := spawnConfig()
	run := func() []int {
		w := NewWorld(cfg)
		s := NewSpawner(cfg)
		var lanes []int
		for d := 0.0; d < 1500; d += 1 {
			w.Vehicle.Distance = d
			if h, _ := s.Update(w); h != nil {
				lanes = append(lanes, h.Lane)
			}
		}
		return lanes
	}
	first := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, run())
	for i, lane := range first {
		assert.Equal(t, cfg.Spawn.LanePattern[i%len(cfg.Spawn.LanePattern)], lane)
	}
}

func TestSpawner_RandomIsSeeded(t *testing.T) {
	cfg := spawnConfig()
	cfg.Spawn.Strategy = SpawnRandom
	run := func(seed uint64) []float64 {
		c := cfg
		c.Spawn.Seed = seed
		w := NewWorld(c)
		s := NewSpawner(c)
		var out []float64
		for d := 0.0; d < 1500; d += 5 {
			w.Vehicle.Distance = d
			if h, _ := s.Update(w); h != nil {
				out = append(out, float64(h.Lane), h.Distance)
			}
		}
		return out
	}
	assert.Equal(t, run(7), run(7))
	assert.NotEqual(t, run(7), run(8))
}

func TestSpawner_CullsHazardsBehind(t *testing.T) {
	cfg := spawnConfig()
	cfg.Spawn.Enabled = false
	w := NewWorld(cfg)
	s := NewSpawner(cfg)

	near := w.AddHazard(0, 100, ZoneFar, 0)
	far := w.AddHazard(1, 300, ZoneFar, 1)

	w.Vehicle.Distance = 119
	_, removed := s.Update(w)
	assert.Empty(t, removed)

	w.Vehicle.Distance = 121
	_, removed = s.Update(w)
	assert.Equal(t, []core.ObstacleID{near.ID()}, removed)
	require.Len(t, w.Hazards(), 1)
	assert.Equal(t, far.ID(), w.Hazards()[0].ID())
}
