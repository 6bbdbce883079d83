package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"participantId": "P-017",
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "P-017", viper.GetString("participantId"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./drivesim-logs", viper.GetString("logsDir"))
	assert.Equal(t, "http://localhost:5000", viper.GetString("api.serverUrl"))
	assert.Equal(t, "", viper.GetString("api.apiKey"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "postgres", viper.GetString("db.username"))
	assert.Equal(t, "drivesim", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "./runs", viper.GetString("storage.memory.outputDir"))
	assert.Equal(t, true, viper.GetBool("storage.memory.compressOutput"))
	assert.Equal(t, "1m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "drivesim", viper.GetString("otel.serviceName"))
	assert.Equal(t, "deterministic", viper.GetString("sim.profile"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "./runs", cfg.Memory.OutputDir)
	assert.Equal(t, true, cfg.Memory.CompressOutput)
	assert.Equal(t, time.Minute, cfg.SQLite.DumpInterval)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, 10*time.Second, oc.MetricInterval)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetDBConfig_DSN(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=drivesim sslmode=disable",
		GetDBConfig().DSN())
}

func TestGetSimConfig_DefaultsMatchSimulation(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg, err := GetSimConfig()
	require.NoError(t, err)
	assert.Equal(t, sim.DefaultConfig(), cfg)
}

func TestGetSimConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"sim": {
			"trackLength": 900,
			"lanes": [-4, 0, 4],
			"startMode": "manual",
			"secondsBasis": "sim",
			"finish": "distance+notifications",
			"maxFrameGap": "250ms",
			"spawn": { "lanePattern": [2, 2, 0], "offsetTable": [1.5, 3], "densityScaling": true },
			"autopilot": { "blindZone": { "enabled": true, "length": 80 } },
			"notifications": [
				{ "id": "n1", "at": 10, "required": true },
				{ "id": "n2", "at": 25 }
			]
		}
	}`)))

	cfg, err := GetSimConfig()
	require.NoError(t, err)
	assert.Equal(t, 900.0, cfg.TrackLength)
	assert.Equal(t, [sim.LaneCount]float64{-4, 0, 4}, cfg.Lanes)
	assert.Equal(t, core.ModeManual, cfg.StartMode)
	assert.Equal(t, sim.SecondsSim, cfg.SecondsBasis)
	assert.Equal(t, sim.FinishDistanceAndNotifications, cfg.Finish)
	assert.Equal(t, 250*time.Millisecond, cfg.MaxFrameGap)
	assert.Equal(t, []int{2, 2, 0}, cfg.Spawn.LanePattern)
	assert.Equal(t, []float64{1.5, 3}, cfg.Spawn.OffsetTable)
	assert.True(t, cfg.Spawn.DensityScaling)
	assert.True(t, cfg.Autopilot.BlindZone.Enabled)
	assert.Equal(t, 80.0, cfg.Autopilot.BlindZone.Length)
	assert.Equal(t, []sim.NotificationTrigger{
		{ID: "n1", At: 10, Required: true},
		{ID: "n2", At: 25},
	}, cfg.Notifications)
}

func TestGetSimConfig_Profiles(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		strategy sim.SpawnStrategy
		seed     uint64
	}{
		{"deterministic", `{"sim": {"profile": "deterministic"}}`, sim.SpawnPattern, 1},
		{"randomized with seed", `{"sim": {"profile": "randomized", "spawn": {"seed": 42}}}`, sim.SpawnRandom, 42},
		{"explicit strategy wins", `{"sim": {"profile": "randomized", "spawn": {"strategy": "pattern"}}}`, sim.SpawnPattern, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))

			cfg, err := GetSimConfig()
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, cfg.Spawn.Strategy)
			assert.Equal(t, tt.seed, cfg.Spawn.Seed)
		})
	}
}

func TestGetSimConfig_RandomizedPicksSeed(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"sim": {"profile": "randomized"}}`)))

	cfg, err := GetSimConfig()
	require.NoError(t, err)
	assert.Equal(t, sim.SpawnRandom, cfg.Spawn.Strategy)
	assert.NotZero(t, cfg.Spawn.Seed)
}

func TestGetSimConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"profile", `{"sim": {"profile": "chaotic"}}`, "sim.profile"},
		{"strategy", `{"sim": {"spawn": {"strategy": "zigzag"}}}`, "sim.spawn.strategy"},
		{"lanes", `{"sim": {"lanes": [0, 1]}}`, "sim.lanes"},
		{"mode", `{"sim": {"startMode": "robot"}}`, "sim.startMode"},
		{"finish", `{"sim": {"finish": "never"}}`, "sim.finish"},
		{"basis", `{"sim": {"secondsBasis": "lunar"}}`, "sim.secondsBasis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))

			_, err := GetSimConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
