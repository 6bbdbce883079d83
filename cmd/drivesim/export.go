package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drivelab/copilot-sim/internal/api"
	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/database"
	"github.com/drivelab/copilot-sim/internal/export"
	gormstorage "github.com/drivelab/copilot-sim/internal/storage/gorm"
	"github.com/drivelab/copilot-sim/internal/storage/memory"
	"github.com/drivelab/copilot-sim/pkg/core"
)

func exportCommand(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	from := fs.String("from", "", "source: 'postgres', a .db dump or a .json[.gz] export; searched in the storage output dirs when empty")
	asJSON := fs.Bool("json", false, "print the embedded data as a JSON object")
	submit := fs.Bool("submit", false, "post the embedded data to the survey platform")
	if err := fs.Parse(args); err != nil {
		return err
	}
	runID := fs.Arg(0)
	if runID == "" {
		return errors.New("usage: drivesim export [flags] <runId>")
	}

	if err := setup(*configDir, false); err != nil {
		return err
	}
	defer shutdown()

	run, rec, err := loadRun(runID, *from)
	if err != nil {
		return err
	}
	data, err := export.Flatten(run, rec)
	if err != nil {
		return err
	}
	if err := writeEmbeddedData(os.Stdout, data, *asJSON); err != nil {
		return err
	}

	if !*submit {
		return nil
	}
	apiCfg := config.GetAPIConfig()
	client := api.New(apiCfg.ServerURL, apiCfg.APIKey, apiCfg.Timeout)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := client.SubmitEmbeddedData(ctx, run.RunID, run.ParticipantID, data); err != nil {
		return fmt.Errorf("failed to submit embedded data: %w", err)
	}
	Logger.Info("Embedded data submitted", "runId", run.RunID, "keys", len(data))
	return nil
}

func writeEmbeddedData(w io.Writer, data map[string]string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	for _, k := range export.SortedKeys(data) {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, data[k]); err != nil {
			return err
		}
	}
	return nil
}

// loadRun reads a stored run from the given source.
func loadRun(runID, from string) (core.Run, core.TelemetryRecord, error) {
	switch {
	case from == "postgres":
		return loadFromPostgres(runID)
	case strings.HasSuffix(from, ".db"):
		return loadFromSqlite(from, runID)
	case strings.HasSuffix(from, ".json"), strings.HasSuffix(from, ".json.gz"):
		return loadFromExport(from, runID)
	case from == "":
		return findRun(runID)
	default:
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("unknown export source %q", from)
	}
}

// findRun looks for runID in the sqlite dumps, then the JSON exports, then
// postgres when that is the configured backend.
func findRun(runID string) (core.Run, core.TelemetryRecord, error) {
	sc := config.GetStorageConfig()

	dumps, err := database.GetBackupDBPaths(sc.SQLite.OutputDir)
	if err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	for _, p := range dumps {
		if strings.HasSuffix(filepath.Base(p), "_"+runID+".db") {
			return loadFromSqlite(p, runID)
		}
	}

	exports, err := filepath.Glob(exportGlob(sc.Memory.OutputDir, runID))
	if err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	if len(exports) > 0 {
		return loadFromExport(exports[0], runID)
	}

	if sc.Type == "postgres" {
		return loadFromPostgres(runID)
	}
	return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("%w: %s", gormstorage.ErrRunNotFound, runID)
}

func loadFromSqlite(path, runID string) (core.Run, core.TelemetryRecord, error) {
	if _, err := os.Stat(path); err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	m := database.NewManager(componentLogger("database"))
	if err := m.ConnectSqlite(path); err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	defer m.Close()
	return gormstorage.LoadRun(m.DB, runID)
}

func loadFromPostgres(runID string) (core.Run, core.TelemetryRecord, error) {
	m := database.NewManager(componentLogger("database"))
	if err := m.ConnectPostgres(config.GetDBConfig()); err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	defer m.Close()
	return gormstorage.LoadRun(m.DB, runID)
}

// setupDBCommand creates or migrates the postgres schema.
func setupDBCommand(args []string) error {
	fs := flag.NewFlagSet("setupdb", flag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := setup(*configDir, false); err != nil {
		return err
	}
	defer shutdown()

	m := database.NewManager(componentLogger("database"))
	if err := m.ConnectPostgres(config.GetDBConfig()); err != nil {
		return err
	}
	defer m.Close()
	if err := m.Setup(); err != nil {
		return err
	}
	fmt.Println("DB setup complete.")
	return nil
}

func loadFromExport(path, runID string) (core.Run, core.TelemetryRecord, error) {
	exp, err := memory.ReadExport(path)
	if err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	if exp.Run.RunID != runID {
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("%s holds run %s, not %s", path, exp.Run.RunID, runID)
	}
	return exp.Run, exp.Record, nil
}
