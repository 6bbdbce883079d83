package sim

import (
	"math"
	"time"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// FinishRule selects what ends a run.
type FinishRule string

const (
	FinishDistance                 FinishRule = "distance"
	FinishDuration                 FinishRule = "duration"
	FinishDistanceAndNotifications FinishRule = "distance+notifications"
)

// SpawnStrategy selects how lane and offset of a new hazard are chosen.
// A deployment uses exactly one strategy for every run.
type SpawnStrategy string

const (
	// SpawnPattern walks a fixed lane pattern and offset table with the spawn counter.
	SpawnPattern SpawnStrategy = "pattern"
	// SpawnRandom draws lane and offset from a PCG generator seeded per run.
	SpawnRandom SpawnStrategy = "random"
)

// SecondsBasis selects the clock behind second-granularity bookkeeping.
type SecondsBasis string

const (
	// SecondsWall samples the host wall clock, so time spent suspended is still charged.
	SecondsWall SecondsBasis = "wall"
	// SecondsSim derives whole seconds from the tick count.
	SecondsSim SecondsBasis = "sim"
)

// AutopilotConfig tunes the copilot policy. Rates are per tick.
type AutopilotConfig struct {
	CruiseSpeed       float64
	Accel             float64
	Decel             float64
	LightBrake        float64
	HardBrake         float64
	DetectAhead       float64
	DetectBehind      float64
	SafetyDistance    float64
	Hysteresis        float64
	EmergencyDistance float64
	ImmediateDistance float64
	CenterNudgeTicks  uint64
	BlindZone         BlindZoneConfig
}

// BlindZoneConfig describes the final stretch where hazard avoidance is switched off.
type BlindZoneConfig struct {
	Enabled     bool
	Length      float64
	DriftTicks  uint64
	BrakeFactor float64
}

// ManualConfig tunes manual control. Rates are per tick.
type ManualConfig struct {
	MaxSpeed  float64
	AccelRate float64
	BrakeRate float64
	CoastRate float64
}

// MotionConfig holds the lateral smoothing factors applied each tick.
type MotionConfig struct {
	SmoothingCopilot float64
	SmoothingManual  float64
}

// SpawnConfig drives the obstacle spawner.
type SpawnConfig struct {
	Enabled        bool
	Strategy       SpawnStrategy
	Seed           uint64
	Ahead          float64
	DespawnBehind  float64
	Interval       float64 // single zone, used when the run has no finish line
	FarInterval    float64
	NearInterval   float64
	BurstInterval  float64
	NearZoneStart  float64 // fraction of the track remaining
	BurstZoneStart float64 // fraction of the track remaining
	MinInterval    float64
	DensityScaling bool
	DensityGain    float64
	LanePattern    []int
	OffsetTable    []float64
}

// AmbientConfig describes background traffic.
type AmbientConfig struct {
	Count         int
	Speed         float64
	Spacing       float64
	RecycleBehind float64
	RecycleAhead  float64
	LaneRotation  []int
}

// CollisionConfig holds tolerance radii and the cooldown window.
type CollisionConfig struct {
	AmbientLateral      float64
	AmbientLongitudinal float64
	HazardLateral       float64
	HazardLongitudinal  float64
	CooldownTicks       uint64
}

// NotificationTrigger schedules one notification at an elapsed second.
type NotificationTrigger struct {
	ID       string
	At       int
	Required bool
}

// Config is the immutable deployment configuration of a run.
type Config struct {
	TickRate         int
	MaxTicksPerFrame int
	MaxFrameGap      time.Duration

	TrackLength      float64
	Lanes            [LaneCount]float64
	LaneWidth        float64
	StartLane        int
	StartMode        core.Mode
	CountdownSeconds int

	InitialScore     int
	SecondPenalty    int
	CollisionPenalty int
	SecondsBasis     SecondsBasis

	Finish      FinishRule
	RunDuration int

	Autopilot     AutopilotConfig
	Manual        ManualConfig
	Motion        MotionConfig
	Spawn         SpawnConfig
	Ambient       AmbientConfig
	Collision     CollisionConfig
	Notifications []NotificationTrigger
}

// DefaultConfig returns the deterministic deployment profile.
func DefaultConfig() Config {
	return Config{
		TickRate:         60,
		MaxTicksPerFrame: 5,
		MaxFrameGap:      time.Second,

		TrackLength:      1500,
		Lanes:            [LaneCount]float64{-3.5, 0, 3.5},
		LaneWidth:        3.5,
		StartLane:        1,
		StartMode:        core.ModeCopilot,
		CountdownSeconds: 3,

		InitialScore:     1000,
		SecondPenalty:    10,
		CollisionPenalty: 50,
		SecondsBasis:     SecondsWall,

		Finish:      FinishDistance,
		RunDuration: 45,

		Autopilot: AutopilotConfig{
			CruiseSpeed:       30,
			Accel:             0.1,
			Decel:             0.1,
			LightBrake:        0.3,
			HardBrake:         0.8,
			DetectAhead:       60,
			DetectBehind:      5,
			SafetyDistance:    25,
			Hysteresis:        8,
			EmergencyDistance: 10,
			ImmediateDistance: 20,
			CenterNudgeTicks:  180,
			BlindZone: BlindZoneConfig{
				Enabled:     false,
				Length:      150,
				DriftTicks:  45,
				BrakeFactor: 0.25,
			},
		},
		Manual: ManualConfig{
			MaxSpeed:  20,
			AccelRate: 0.15,
			BrakeRate: 0.4,
			CoastRate: 0.05,
		},
		Motion: MotionConfig{
			SmoothingCopilot: 0.15,
			SmoothingManual:  0.08,
		},
		Spawn: SpawnConfig{
			Enabled:        true,
			Strategy:       SpawnPattern,
			Seed:           1,
			Ahead:          120,
			DespawnBehind:  20,
			Interval:       60,
			FarInterval:    80,
			NearInterval:   50,
			BurstInterval:  25,
			NearZoneStart:  0.5,
			BurstZoneStart: 0.15,
			MinInterval:    5,
			DensityScaling: false,
			DensityGain:    0.5,
			LanePattern:    []int{1, 0, 2, 2, 1, 0, 1, 2, 0},
			OffsetTable:    []float64{0, 8, 16, 4, 12},
		},
		Ambient: AmbientConfig{
			Count:         3,
			Speed:         18,
			Spacing:       45,
			RecycleBehind: 15,
			RecycleAhead:  150,
			LaneRotation:  []int{2, 0, 1},
		},
		Collision: CollisionConfig{
			AmbientLateral:      1.2,
			AmbientLongitudinal: 2.5,
			HazardLateral:       1.6,
			HazardLongitudinal:  3.0,
			CooldownTicks:       90,
		},
	}
}

// normalized returns a copy with unusable values replaced by safe ones.
// Configuration defects are clamped here rather than reported.
func (c Config) normalized() Config {
	def := DefaultConfig()

	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.MaxTicksPerFrame < 1 {
		c.MaxTicksPerFrame = 1
	}
	if c.MaxFrameGap <= 0 {
		c.MaxFrameGap = def.MaxFrameGap
	}
	if !(c.TrackLength > 0) {
		c.TrackLength = def.TrackLength
	}
	if !(c.LaneWidth > 0) {
		c.LaneWidth = def.LaneWidth
	}
	c.StartLane = clampLane(c.StartLane)
	if c.StartMode != core.ModeManual {
		c.StartMode = core.ModeCopilot
	}
	if c.CountdownSeconds < 0 {
		c.CountdownSeconds = 0
	}
	if c.InitialScore < 0 {
		c.InitialScore = 0
	}
	if c.SecondPenalty < 0 {
		c.SecondPenalty = 0
	}
	if c.CollisionPenalty < 0 {
		c.CollisionPenalty = 0
	}
	if c.SecondsBasis != SecondsSim {
		c.SecondsBasis = SecondsWall
	}
	switch c.Finish {
	case FinishDistance, FinishDuration, FinishDistanceAndNotifications:
	default:
		c.Finish = FinishDistance
	}
	if c.RunDuration <= 0 {
		c.RunDuration = def.RunDuration
	}
	if !(c.Spawn.MinInterval > 0) {
		c.Spawn.MinInterval = def.Spawn.MinInterval
	}
	if c.Spawn.Strategy != SpawnRandom {
		c.Spawn.Strategy = SpawnPattern
	}
	if len(c.Spawn.LanePattern) == 0 {
		c.Spawn.LanePattern = def.Spawn.LanePattern
	}
	if len(c.Spawn.OffsetTable) == 0 {
		c.Spawn.OffsetTable = def.Spawn.OffsetTable
	}
	if len(c.Ambient.LaneRotation) == 0 {
		c.Ambient.LaneRotation = def.Ambient.LaneRotation
	}
	if c.Ambient.Count < 0 {
		c.Ambient.Count = 0
	}
	if c.Autopilot.CenterNudgeTicks == 0 {
		c.Autopilot.CenterNudgeTicks = def.Autopilot.CenterNudgeTicks
	}
	if c.Autopilot.BlindZone.DriftTicks == 0 {
		c.Autopilot.BlindZone.DriftTicks = def.Autopilot.BlindZone.DriftTicks
	}
	c.Motion.SmoothingCopilot = clampUnit(c.Motion.SmoothingCopilot, def.Motion.SmoothingCopilot)
	c.Motion.SmoothingManual = clampUnit(c.Motion.SmoothingManual, def.Motion.SmoothingManual)
	return c
}

// StepSeconds is the fixed tick duration in seconds.
func (c Config) StepSeconds() float64 {
	return 1 / float64(c.TickRate)
}

// HasFinishLine reports whether runs end at a distance threshold.
func (c Config) HasFinishLine() bool {
	return c.Finish != FinishDuration
}

func clampUnit(v, fallback float64) float64 {
	if math.IsNaN(v) || v <= 0 || v > 1 {
		return fallback
	}
	return v
}
