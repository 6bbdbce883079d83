package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/drivelab/copilot-sim/internal/channel"
	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/dispatcher"
	"github.com/drivelab/copilot-sim/internal/geo"
	"github.com/drivelab/copilot-sim/internal/influx"
	"github.com/drivelab/copilot-sim/internal/logging"
	"github.com/drivelab/copilot-sim/internal/monitor"
	"github.com/drivelab/copilot-sim/internal/runner"
	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/spf13/viper"
)

// snapshotEvery is the frame stride of snapshots streamed to observers.
const snapshotEvery = 6

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	participant := fs.String("participant", "", "participant id, overrides participantId")
	condition := fs.String("condition", "", "study condition, overrides condition")
	autostart := fs.Bool("autostart", false, "start the countdown without waiting for :START:")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := setup(*configDir, true); err != nil {
		return err
	}
	defer shutdown()

	env, err := startRun(runOptions{participant: *participant, condition: *condition}, time.Now())
	if err != nil {
		return err
	}
	defer env.close()

	r, err := runner.New(env.session, runner.Config{Logger: Logger},
		runner.EveryN(snapshotEvery, runner.FrameObserverFunc(env.workers.PublishSnapshot)))
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(componentLogger("dispatcher")))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	defer d.Close()
	r.RegisterCommands(d)
	env.workers.RegisterHandlers(d)
	registerLifecycleHandlers(d, env, r)
	Logger.Debug("Dispatcher ready", "commands", d.Commands())

	monitorService := monitor.NewService(monitor.Dependencies{
		Logger:     Logger,
		Study:      StudyContext,
		Snapshots:  r,
		Storage:    env.workers,
		Influx:     env.metrics,
		StatusFile: viper.GetString("monitor.statusFile"),
		Interval:   viper.GetDuration("monitor.interval"),
	})
	if err := monitorService.Start(); err != nil {
		Logger.Warn("Status monitor not started", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := channel.New[string](64)
	go readLines(os.Stdin, lines)
	go serveCommands(ctx, d, lines, os.Stdout)

	if *autostart {
		if err := r.Submit(sim.Press(sim.IntentStart)); err != nil {
			Logger.Warn("Autostart failed", "error", err)
		}
	}

	Logger.Info("Run ready", "runId", env.run.RunID, "participant", env.run.ParticipantID,
		"condition", env.run.Condition)
	fmt.Printf("run %s ready, send :START: to begin\n", env.run.RunID)

	rec, runErr := r.Run(ctx)
	monitorService.Stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		Logger.Error("Run loop failed", "error", runErr)
	}
	if runErr != nil {
		Logger.Warn("Run aborted, saving partial record", "reason", runErr, "tick", rec.Ticks)
	}

	env.finish(rec)
	env.publish(rec)
	printSummary(rec)
	return nil
}

// registerLifecycleHandlers adds the process-level commands.
func registerLifecycleHandlers(d *dispatcher.Dispatcher, env *runEnv, r *runner.Runner) {
	d.Register(":VERSION:", func(dispatcher.Event) (any, error) {
		return []string{CurrentVersion, BuildDate}, nil
	})

	d.Register(":GETDIR:LOG:", func(dispatcher.Event) (any, error) {
		return LogFilePath, nil
	})

	d.Register(":RUN:", func(dispatcher.Event) (any, error) {
		return env.run, nil
	})

	// :HAZARD:AT: lateral,distance places a hazard at an absolute track position.
	d.Register(":HAZARD:AT:", func(e dispatcher.Event) (any, error) {
		pos, err := geo.PositionFromString(strings.Join(e.Args, ","))
		if err != nil {
			return nil, err
		}
		ahead := pos.Distance - r.LastSnapshot().Vehicle.Position.Distance
		if ahead <= 0 {
			return nil, fmt.Errorf("position %.1f is behind the vehicle", pos.Distance)
		}
		if err := r.InjectHazard(nearestLane(env.cfg.Lanes, pos.Lateral), ahead); err != nil {
			return nil, err
		}
		return "queued", nil
	}, dispatcher.Logged())

	// :METRIC: measurement tag::k::v field::k::type::v ...
	d.Register(":METRIC:", func(e dispatcher.Event) (any, error) {
		if env.metrics == nil {
			return nil, influx.ErrDisabled
		}
		point, err := influx.ParseMetric(e.Args)
		if err != nil {
			return nil, err
		}
		return "ok", env.metrics.WritePoint(env.metrics.Bucket(), point)
	}, dispatcher.Buffered(1000))

	d.Register(":FLUSH:TELEMETRY:", func(dispatcher.Event) (any, error) {
		if OTelProvider == nil {
			return "disabled", nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := OTelProvider.Flush(ctx); err != nil {
			return nil, err
		}
		return "ok", nil
	}, dispatcher.Logged())
}

// readLines forwards input lines until EOF, then closes out.
func readLines(in io.Reader, out channel.Channel[string]) {
	defer out.Close()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out.Send(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		Logger.Warn("Command input failed", "error", err)
	}
}

// serveCommands dispatches input lines and writes one response line each.
func serveCommands(ctx context.Context, d *dispatcher.Dispatcher, lines channel.Receiver[string], out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines.Receive():
			if !ok {
				Logger.Debug("Command input closed")
				return
			}
			resp := handleLine(d, line, time.Now())
			if resp == "" {
				continue
			}
			if strings.HasPrefix(resp, "error: ") {
				SlogManager.WriteLog("serveCommands", fmt.Sprintf("%s -> %s", line, resp), "WARN")
			}
			fmt.Fprintln(out, resp)
		}
	}
}

// handleLine runs one command and renders the response. Blank lines and
// comments produce no response.
func handleLine(d *dispatcher.Dispatcher, line string, now time.Time) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}

	e, err := dispatcher.ParseLine(line, now)
	if err != nil {
		return "error: " + err.Error()
	}
	result, err := d.Dispatch(e)
	if err != nil {
		return "error: " + err.Error()
	}

	switch v := result.(type) {
	case nil:
		return "ok"
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "error: " + err.Error()
		}
		return string(b)
	}
}
