package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/drivelab/copilot-sim/internal/api"
	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/export"
	"github.com/drivelab/copilot-sim/internal/influx"
	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/drivelab/copilot-sim/internal/storage"
	"github.com/drivelab/copilot-sim/internal/worker"
	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/spf13/viper"
)

// runEnv is one session wired to its storage pipeline.
type runEnv struct {
	run     core.Run
	cfg     sim.Config
	session *sim.Session
	backend storage.Backend
	workers *worker.Manager
	metrics *influx.Manager
}

// runOptions override the configured participant and condition.
type runOptions struct {
	participant string
	condition   string
}

func (o runOptions) resolve() (participant, condition string) {
	participant, condition = o.participant, o.condition
	if participant == "" {
		participant = viper.GetString("participantId")
	}
	if condition == "" {
		condition = viper.GetString("condition")
	}
	return participant, condition
}

// startRun builds the session, opens storage and registers the run.
func startRun(opts runOptions, start time.Time) (*runEnv, error) {
	simCfg, err := config.GetSimConfig()
	if err != nil {
		return nil, err
	}

	backend, err := createStorageBackend(config.GetStorageConfig())
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}

	workers := worker.NewManager(worker.Dependencies{Logger: Logger}, backend)
	session := sim.NewSession(simCfg,
		sim.WithLogger(Logger),
		sim.WithEventListener(workers.Enqueue),
	)

	participant, condition := opts.resolve()
	env := &runEnv{
		run: core.Run{
			RunID:         session.RunID(),
			ParticipantID: participant,
			Condition:     condition,
			Profile:       viper.GetString("sim.profile"),
			StartTime:     start,
			TrackLength:   simCfg.TrackLength,
			FinishRule:    string(simCfg.Finish),
			SpawnStrategy: string(simCfg.Spawn.Strategy),
			Seed:          simCfg.Spawn.Seed,
		},
		cfg:     simCfg,
		session: session,
		backend: backend,
		workers: workers,
	}

	if err := workers.StartRun(&env.run); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to start run in storage: %w", err)
	}
	StudyContext.SetRun(&env.run)
	workers.Start()

	env.metrics = connectInflux()

	Logger.Info("Run created", "storageId", env.run.ID, "profile", env.run.Profile,
		"finish", env.run.FinishRule, "spawn", env.run.SpawnStrategy, "seed", env.run.Seed)
	return env, nil
}

// connectInflux returns nil when InfluxDB is disabled or unusable.
func connectInflux() *influx.Manager {
	m := influx.NewManager(componentLogger("influx"), config.GetInfluxConfig(), influxBackupPath())
	if err := m.Connect(); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			Logger.Warn("Failed to set up InfluxDB", "error", err)
		}
		return nil
	}
	return m
}

// finish persists the record, writes the summary point and releases storage.
func (env *runEnv) finish(rec core.TelemetryRecord) {
	if err := env.workers.EndRun(&rec); err != nil {
		Logger.Error("Failed to end run in storage backend", "error", err)
	}
	env.workers.Stop()

	if env.metrics != nil {
		if err := env.metrics.WritePoint(env.metrics.Bucket(), influx.SummaryPoint(env.run, rec, time.Now())); err != nil {
			Logger.Warn("Failed to write run summary", "error", err)
		}
	}
}

// close releases storage and metrics. It must run after finish.
func (env *runEnv) close() {
	if err := env.backend.Close(); err != nil {
		Logger.Warn("Failed to close storage backend", "error", err)
	}
	if env.metrics != nil {
		if err := env.metrics.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB manager", "error", err)
		}
	}
}

// publish sends the embedded data and, when the backend produced one, the
// export file to the survey platform.
func (env *runEnv) publish(rec core.TelemetryRecord) {
	apiCfg := config.GetAPIConfig()
	if apiCfg.APIKey == "" {
		Logger.Debug("No API key configured, skipping survey platform upload")
		return
	}

	client := api.New(apiCfg.ServerURL, apiCfg.APIKey, apiCfg.Timeout)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := client.Healthcheck(ctx); err != nil {
		Logger.Warn("Survey platform is offline, results stay local", "url", apiCfg.ServerURL, "error", err)
		return
	}

	data, err := export.Flatten(env.run, rec)
	if err != nil {
		Logger.Error("Failed to flatten telemetry record", "error", err)
		return
	}
	if err := client.SubmitEmbeddedData(ctx, env.run.RunID, env.run.ParticipantID, data); err != nil {
		Logger.Error("Failed to submit embedded data", "error", err)
	} else {
		Logger.Info("Embedded data submitted", "keys", len(data))
	}

	up, ok := env.backend.(storage.Uploadable)
	if !ok || up.GetExportedFilePath() == "" {
		return
	}
	if err := client.Upload(ctx, up.GetExportedFilePath(), up.GetExportMetadata()); err != nil {
		Logger.Error("Failed to upload run export", "path", up.GetExportedFilePath(), "error", err)
		return
	}
	Logger.Info("Run export uploaded", "path", up.GetExportedFilePath())
}

// nearestLane returns the lane whose centre is closest to lateral.
func nearestLane(lanes [sim.LaneCount]float64, lateral float64) int {
	best := 0
	for i := 1; i < len(lanes); i++ {
		if math.Abs(lanes[i]-lateral) < math.Abs(lanes[best]-lateral) {
			best = i
		}
	}
	return best
}

func printSummary(rec core.TelemetryRecord) {
	status := "completed"
	if !rec.Completed {
		status = "incomplete"
	}
	fmt.Printf("run %s %s: score=%d hits=%d elapsed=%ds distance=%.1fm\n",
		rec.RunID, status, rec.FinalScore, rec.ObstaclesHit, rec.ElapsedSeconds, rec.Distance)
}
