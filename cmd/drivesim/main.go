package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/logging"
	intOtel "github.com/drivelab/copilot-sim/internal/otel"
	"github.com/drivelab/copilot-sim/internal/study"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	AppName string = "drivesim"
)

// global variables
var (
	// LogFilePath is the log file of this process, empty when logging to stdout.
	LogFilePath string
	LogFile     *os.File

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger = slog.Default()

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	// StudyContext holds the active run for log attributes and the monitor.
	StudyContext *study.Context = study.NewContext()

	SessionStartTime time.Time = time.Now()
)

const usageText = `usage: drivesim <command> [flags]

commands:
  run        drive a real-time session; commands are read from stdin
  simulate   replay a session with synthetic timestamps and a scripted input file
  export     print the embedded data of a stored run: export [flags] <runId>
  setupdb    create or migrate the postgres schema
  version    print version information

run "drivesim <command> -h" for the flags of a command.
`

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "run":
		err = runCommand(args[1:])
	case "simulate":
		err = simulateCommand(args[1:])
	case "export":
		err = exportCommand(args[1:])
	case "setupdb":
		err = setupDBCommand(args[1:])
	case "version":
		fmt.Println(CurrentVersion, BuildDate)
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usageText)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and wires logging. When toFile is set, logs
// go to a timestamped file in logsDir so stdout stays free for responses.
func setup(configDir string, toFile bool) error {
	SlogManager = logging.NewSlogManager().WithContext(StudyContext.LogAttrs)
	SlogManager.Setup(os.Stderr, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		config.LoadDefaults()
		Logger.Warn("Failed to load config, using defaults!", "error", err, "dir", configDir)
	} else {
		Logger.Debug("Loaded config", "dir", configDir)
	}

	var logWriter io.Writer = os.Stderr
	if toFile {
		logsDir := viper.GetString("logsDir")
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return fmt.Errorf("failed to create logs dir: %w", err)
		}
		LogFilePath = logging.LogFilePath(logsDir, AppName, SessionStartTime)

		// keep the previous file of the same second around
		if _, err := os.Stat(LogFilePath); err == nil {
			_ = os.Rename(LogFilePath, LogFilePath+".old")
		}

		f, err := os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to create/open log file %s: %w", LogFilePath, err)
		}
		LogFile = f
		logWriter = f
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var err error
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			Version:        CurrentVersion,
			BatchTimeout:   otelCfg.BatchTimeout,
			MetricInterval: otelCfg.MetricInterval,
			LogWriter:      logWriter,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	// Re-setup logging with file output and optional OTel
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(logWriter, viper.GetString("logLevel"), otelLogProvider)
	Logger = SlogManager.Logger()
	if LogFilePath != "" {
		Logger.Info("Logging to file", "path", LogFilePath, "version", CurrentVersion)
	}
	return nil
}

// componentLogger returns a zerolog logger writing next to the slog output.
func componentLogger(component string) zerolog.Logger {
	var w io.Writer = os.Stderr
	if LogFile != nil {
		w = LogFile
	}
	return logging.NewZerolog(w, viper.GetString("logLevel"), component)
}

// shutdown flushes telemetry and closes the log file.
func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		Logger.Warn("Failed to flush logs", "error", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel provider", "error", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

// influxBackupPath is where metric points go while InfluxDB is unreachable.
func influxBackupPath() string {
	return filepath.Join(viper.GetString("logsDir"),
		fmt.Sprintf("%s_influx_%s.lp.gz", AppName, SessionStartTime.Format("20060102_150405")))
}
