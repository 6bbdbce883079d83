package config

import (
	"fmt"
	"time"

	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/spf13/viper"
)

// Deployment profiles. A profile fixes the spawn strategy for every run of a deployment.
const (
	ProfileDeterministic = "deterministic"
	ProfileRandomized    = "randomized"
)

type notificationEntry struct {
	ID       string `mapstructure:"id"`
	At       int    `mapstructure:"at"`
	Required bool   `mapstructure:"required"`
}

func setSimDefaults() {
	def := sim.DefaultConfig()

	viper.SetDefault("sim.profile", ProfileDeterministic)
	viper.SetDefault("sim.tickRate", def.TickRate)
	viper.SetDefault("sim.maxTicksPerFrame", def.MaxTicksPerFrame)
	viper.SetDefault("sim.maxFrameGap", def.MaxFrameGap.String())

	viper.SetDefault("sim.trackLength", def.TrackLength)
	viper.SetDefault("sim.lanes", def.Lanes[:])
	viper.SetDefault("sim.laneWidth", def.LaneWidth)
	viper.SetDefault("sim.startLane", def.StartLane)
	viper.SetDefault("sim.startMode", string(def.StartMode))
	viper.SetDefault("sim.countdownSeconds", def.CountdownSeconds)

	viper.SetDefault("sim.initialScore", def.InitialScore)
	viper.SetDefault("sim.secondPenalty", def.SecondPenalty)
	viper.SetDefault("sim.collisionPenalty", def.CollisionPenalty)
	viper.SetDefault("sim.secondsBasis", string(def.SecondsBasis))
	viper.SetDefault("sim.finish", string(def.Finish))
	viper.SetDefault("sim.runDuration", def.RunDuration)

	ap := def.Autopilot
	viper.SetDefault("sim.autopilot.cruiseSpeed", ap.CruiseSpeed)
	viper.SetDefault("sim.autopilot.accel", ap.Accel)
	viper.SetDefault("sim.autopilot.decel", ap.Decel)
	viper.SetDefault("sim.autopilot.lightBrake", ap.LightBrake)
	viper.SetDefault("sim.autopilot.hardBrake", ap.HardBrake)
	viper.SetDefault("sim.autopilot.detectAhead", ap.DetectAhead)
	viper.SetDefault("sim.autopilot.detectBehind", ap.DetectBehind)
	viper.SetDefault("sim.autopilot.safetyDistance", ap.SafetyDistance)
	viper.SetDefault("sim.autopilot.hysteresis", ap.Hysteresis)
	viper.SetDefault("sim.autopilot.emergencyDistance", ap.EmergencyDistance)
	viper.SetDefault("sim.autopilot.immediateDistance", ap.ImmediateDistance)
	viper.SetDefault("sim.autopilot.centerNudgeTicks", ap.CenterNudgeTicks)
	viper.SetDefault("sim.autopilot.blindZone.enabled", ap.BlindZone.Enabled)
	viper.SetDefault("sim.autopilot.blindZone.length", ap.BlindZone.Length)
	viper.SetDefault("sim.autopilot.blindZone.driftTicks", ap.BlindZone.DriftTicks)
	viper.SetDefault("sim.autopilot.blindZone.brakeFactor", ap.BlindZone.BrakeFactor)

	viper.SetDefault("sim.manual.maxSpeed", def.Manual.MaxSpeed)
	viper.SetDefault("sim.manual.accelRate", def.Manual.AccelRate)
	viper.SetDefault("sim.manual.brakeRate", def.Manual.BrakeRate)
	viper.SetDefault("sim.manual.coastRate", def.Manual.CoastRate)

	viper.SetDefault("sim.motion.smoothingCopilot", def.Motion.SmoothingCopilot)
	viper.SetDefault("sim.motion.smoothingManual", def.Motion.SmoothingManual)

	sp := def.Spawn
	viper.SetDefault("sim.spawn.enabled", sp.Enabled)
	viper.SetDefault("sim.spawn.strategy", "")
	viper.SetDefault("sim.spawn.seed", 0)
	viper.SetDefault("sim.spawn.ahead", sp.Ahead)
	viper.SetDefault("sim.spawn.despawnBehind", sp.DespawnBehind)
	viper.SetDefault("sim.spawn.interval", sp.Interval)
	viper.SetDefault("sim.spawn.farInterval", sp.FarInterval)
	viper.SetDefault("sim.spawn.nearInterval", sp.NearInterval)
	viper.SetDefault("sim.spawn.burstInterval", sp.BurstInterval)
	viper.SetDefault("sim.spawn.nearZoneStart", sp.NearZoneStart)
	viper.SetDefault("sim.spawn.burstZoneStart", sp.BurstZoneStart)
	viper.SetDefault("sim.spawn.minInterval", sp.MinInterval)
	viper.SetDefault("sim.spawn.densityScaling", sp.DensityScaling)
	viper.SetDefault("sim.spawn.densityGain", sp.DensityGain)
	viper.SetDefault("sim.spawn.lanePattern", sp.LanePattern)
	viper.SetDefault("sim.spawn.offsetTable", sp.OffsetTable)

	viper.SetDefault("sim.ambient.count", def.Ambient.Count)
	viper.SetDefault("sim.ambient.speed", def.Ambient.Speed)
	viper.SetDefault("sim.ambient.spacing", def.Ambient.Spacing)
	viper.SetDefault("sim.ambient.recycleBehind", def.Ambient.RecycleBehind)
	viper.SetDefault("sim.ambient.recycleAhead", def.Ambient.RecycleAhead)
	viper.SetDefault("sim.ambient.laneRotation", def.Ambient.LaneRotation)

	viper.SetDefault("sim.collision.ambientLateral", def.Collision.AmbientLateral)
	viper.SetDefault("sim.collision.ambientLongitudinal", def.Collision.AmbientLongitudinal)
	viper.SetDefault("sim.collision.hazardLateral", def.Collision.HazardLateral)
	viper.SetDefault("sim.collision.hazardLongitudinal", def.Collision.HazardLongitudinal)
	viper.SetDefault("sim.collision.cooldownTicks", def.Collision.CooldownTicks)

	viper.SetDefault("sim.notifications", []any{})
}

// GetSimConfig builds the immutable run configuration. Unknown enum values are
// reported as errors; numeric values are left to the simulation to clamp.
func GetSimConfig() (sim.Config, error) {
	cfg := sim.Config{
		TickRate:         viper.GetInt("sim.tickRate"),
		MaxTicksPerFrame: viper.GetInt("sim.maxTicksPerFrame"),
		MaxFrameGap:      viper.GetDuration("sim.maxFrameGap"),

		TrackLength:      viper.GetFloat64("sim.trackLength"),
		LaneWidth:        viper.GetFloat64("sim.laneWidth"),
		StartLane:        viper.GetInt("sim.startLane"),
		CountdownSeconds: viper.GetInt("sim.countdownSeconds"),

		InitialScore:     viper.GetInt("sim.initialScore"),
		SecondPenalty:    viper.GetInt("sim.secondPenalty"),
		CollisionPenalty: viper.GetInt("sim.collisionPenalty"),
		RunDuration:      viper.GetInt("sim.runDuration"),

		Autopilot: sim.AutopilotConfig{
			CruiseSpeed:       viper.GetFloat64("sim.autopilot.cruiseSpeed"),
			Accel:             viper.GetFloat64("sim.autopilot.accel"),
			Decel:             viper.GetFloat64("sim.autopilot.decel"),
			LightBrake:        viper.GetFloat64("sim.autopilot.lightBrake"),
			HardBrake:         viper.GetFloat64("sim.autopilot.hardBrake"),
			DetectAhead:       viper.GetFloat64("sim.autopilot.detectAhead"),
			DetectBehind:      viper.GetFloat64("sim.autopilot.detectBehind"),
			SafetyDistance:    viper.GetFloat64("sim.autopilot.safetyDistance"),
			Hysteresis:        viper.GetFloat64("sim.autopilot.hysteresis"),
			EmergencyDistance: viper.GetFloat64("sim.autopilot.emergencyDistance"),
			ImmediateDistance: viper.GetFloat64("sim.autopilot.immediateDistance"),
			CenterNudgeTicks:  viper.GetUint64("sim.autopilot.centerNudgeTicks"),
			BlindZone: sim.BlindZoneConfig{
				Enabled:     viper.GetBool("sim.autopilot.blindZone.enabled"),
				Length:      viper.GetFloat64("sim.autopilot.blindZone.length"),
				DriftTicks:  viper.GetUint64("sim.autopilot.blindZone.driftTicks"),
				BrakeFactor: viper.GetFloat64("sim.autopilot.blindZone.brakeFactor"),
			},
		},
		Manual: sim.ManualConfig{
			MaxSpeed:  viper.GetFloat64("sim.manual.maxSpeed"),
			AccelRate: viper.GetFloat64("sim.manual.accelRate"),
			BrakeRate: viper.GetFloat64("sim.manual.brakeRate"),
			CoastRate: viper.GetFloat64("sim.manual.coastRate"),
		},
		Motion: sim.MotionConfig{
			SmoothingCopilot: viper.GetFloat64("sim.motion.smoothingCopilot"),
			SmoothingManual:  viper.GetFloat64("sim.motion.smoothingManual"),
		},
		Spawn: sim.SpawnConfig{
			Enabled:        viper.GetBool("sim.spawn.enabled"),
			Seed:           viper.GetUint64("sim.spawn.seed"),
			Ahead:          viper.GetFloat64("sim.spawn.ahead"),
			DespawnBehind:  viper.GetFloat64("sim.spawn.despawnBehind"),
			Interval:       viper.GetFloat64("sim.spawn.interval"),
			FarInterval:    viper.GetFloat64("sim.spawn.farInterval"),
			NearInterval:   viper.GetFloat64("sim.spawn.nearInterval"),
			BurstInterval:  viper.GetFloat64("sim.spawn.burstInterval"),
			NearZoneStart:  viper.GetFloat64("sim.spawn.nearZoneStart"),
			BurstZoneStart: viper.GetFloat64("sim.spawn.burstZoneStart"),
			MinInterval:    viper.GetFloat64("sim.spawn.minInterval"),
			DensityScaling: viper.GetBool("sim.spawn.densityScaling"),
			DensityGain:    viper.GetFloat64("sim.spawn.densityGain"),
			LanePattern:    viper.GetIntSlice("sim.spawn.lanePattern"),
		},
		Ambient: sim.AmbientConfig{
			Count:         viper.GetInt("sim.ambient.count"),
			Speed:         viper.GetFloat64("sim.ambient.speed"),
			Spacing:       viper.GetFloat64("sim.ambient.spacing"),
			RecycleBehind: viper.GetFloat64("sim.ambient.recycleBehind"),
			RecycleAhead:  viper.GetFloat64("sim.ambient.recycleAhead"),
			LaneRotation:  viper.GetIntSlice("sim.ambient.laneRotation"),
		},
		Collision: sim.CollisionConfig{
			AmbientLateral:      viper.GetFloat64("sim.collision.ambientLateral"),
			AmbientLongitudinal: viper.GetFloat64("sim.collision.ambientLongitudinal"),
			HazardLateral:       viper.GetFloat64("sim.collision.hazardLateral"),
			HazardLongitudinal:  viper.GetFloat64("sim.collision.hazardLongitudinal"),
			CooldownTicks:       viper.GetUint64("sim.collision.cooldownTicks"),
		},
	}

	var lanes []float64
	if err := viper.UnmarshalKey("sim.lanes", &lanes); err != nil {
		return cfg, fmt.Errorf("failed to read sim.lanes: %w", err)
	}
	if len(lanes) != sim.LaneCount {
		return cfg, fmt.Errorf("sim.lanes must have %d entries, got %d", sim.LaneCount, len(lanes))
	}
	copy(cfg.Lanes[:], lanes)

	if err := viper.UnmarshalKey("sim.spawn.offsetTable", &cfg.Spawn.OffsetTable); err != nil {
		return cfg, fmt.Errorf("failed to read sim.spawn.offsetTable: %w", err)
	}

	var notes []notificationEntry
	if err := viper.UnmarshalKey("sim.notifications", &notes); err != nil {
		return cfg, fmt.Errorf("failed to read sim.notifications: %w", err)
	}
	for _, n := range notes {
		cfg.Notifications = append(cfg.Notifications, sim.NotificationTrigger{ID: n.ID, At: n.At, Required: n.Required})
	}

	switch mode := core.Mode(viper.GetString("sim.startMode")); mode {
	case core.ModeCopilot, core.ModeManual:
		cfg.StartMode = mode
	default:
		return cfg, fmt.Errorf("unknown sim.startMode %q", mode)
	}

	switch basis := sim.SecondsBasis(viper.GetString("sim.secondsBasis")); basis {
	case sim.SecondsWall, sim.SecondsSim:
		cfg.SecondsBasis = basis
	default:
		return cfg, fmt.Errorf("unknown sim.secondsBasis %q", basis)
	}

	switch finish := sim.FinishRule(viper.GetString("sim.finish")); finish {
	case sim.FinishDistance, sim.FinishDuration, sim.FinishDistanceAndNotifications:
		cfg.Finish = finish
	default:
		return cfg, fmt.Errorf("unknown sim.finish %q", finish)
	}

	if err := applyProfile(&cfg, viper.GetString("sim.profile"), viper.GetString("sim.spawn.strategy")); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyProfile resolves the spawn strategy and seed. An explicit strategy
// overrides the profile's choice.
func applyProfile(cfg *sim.Config, profile, strategy string) error {
	switch profile {
	case ProfileDeterministic:
		cfg.Spawn.Strategy = sim.SpawnPattern
	case ProfileRandomized:
		cfg.Spawn.Strategy = sim.SpawnRandom
	default:
		return fmt.Errorf("unknown sim.profile %q", profile)
	}

	switch s := sim.SpawnStrategy(strategy); s {
	case "":
	case sim.SpawnPattern, sim.SpawnRandom:
		cfg.Spawn.Strategy = s
	default:
		return fmt.Errorf("unknown sim.spawn.strategy %q", strategy)
	}

	if cfg.Spawn.Seed == 0 {
		if cfg.Spawn.Strategy == sim.SpawnRandom {
			cfg.Spawn.Seed = uint64(time.Now().UnixNano())
		} else {
			cfg.Spawn.Seed = 1
		}
	}
	return nil
}
