package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/geo"
	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/drivelab/copilot-sim/pkg/core"
)

// scriptStep is one scripted input. Exactly one of intent and hazard is set.
type scriptStep struct {
	at     time.Duration
	intent *sim.Intent
	hazard *core.Position
}

func simulateCommand(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	scriptPath := fs.String("script", "", "input script, one '<seconds> <intent> [press|release] [target]' or '<seconds> hazard <lateral,distance>' per line")
	participant := fs.String("participant", "", "participant id, overrides participantId")
	condition := fs.String("condition", "", "study condition, overrides condition")
	fps := fs.Int("fps", 60, "synthetic frame rate")
	limit := fs.Duration("limit", 10*time.Minute, "stop an unfinished run after this much synthetic time")
	asJSON := fs.Bool("json", false, "print the full telemetry record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fps <= 0 {
		return fmt.Errorf("fps must be positive, got %d", *fps)
	}

	var script []scriptStep
	if *scriptPath != "" {
		f, err := os.Open(*scriptPath)
		if err != nil {
			return fmt.Errorf("failed to open script: %w", err)
		}
		script, err = parseScript(f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}

	if err := setup(*configDir, false); err != nil {
		return err
	}
	defer shutdown()

	start := time.Now()
	env, err := startRun(runOptions{participant: *participant, condition: *condition}, start)
	if err != nil {
		return err
	}
	defer env.close()

	rec := simulate(env, script, start, time.Second/time.Duration(*fps), *limit)
	env.finish(rec)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printSummary(rec)
	return nil
}

// simulate drives the session with synthetic timestamps until it completes or
// limit elapses, applying script steps as their time is reached.
func simulate(env *runEnv, script []scriptStep, start time.Time, frame, limit time.Duration) core.TelemetryRecord {
	s := env.session
	s.Start(start)

	next := 0
	for now := start; now.Sub(start) <= limit; now = now.Add(frame) {
		for next < len(script) && script[next].at <= now.Sub(start) {
			applyStep(env, script[next], now)
			next++
		}
		s.Frame(now)
		s.Poll(now)
		if s.Phase() == core.PhaseCompleted {
			rec := s.Finalize()
			s.Close()
			return rec
		}
	}

	Logger.Warn("Simulation limit reached before the run completed", "limit", limit, "tick", s.Tick())
	s.Close()
	return s.Finalize()
}

func applyStep(env *runEnv, step scriptStep, now time.Time) {
	s := env.session
	switch {
	case step.intent != nil:
		if !s.Apply(*step.intent, now) {
			Logger.Debug("Scripted intent ignored", "at", step.at, "intent", step.intent.Kind, "phase", s.Phase())
		}
	case step.hazard != nil:
		ahead := step.hazard.Distance - s.Vehicle().Distance
		if ahead <= 0 {
			Logger.Warn("Scripted hazard is behind the vehicle", "at", step.at, "distance", step.hazard.Distance)
			return
		}
		id := s.InjectHazard(nearestLane(env.cfg.Lanes, step.hazard.Lateral), ahead)
		Logger.Debug("Scripted hazard injected", "at", step.at, "obstacleId", id)
	}
}

// parseScript reads script steps sorted by time. Blank lines and lines
// starting with '#' are skipped.
func parseScript(r io.Reader) ([]scriptStep, error) {
	var steps []scriptStep
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		step, err := parseStep(strings.Fields(line))
		if err != nil {
			return nil, fmt.Errorf("script line %d: %w", lineNo, err)
		}
		steps = append(steps, step)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].at < steps[j].at })
	return steps, nil
}

func parseStep(fields []string) (scriptStep, error) {
	if len(fields) < 2 {
		return scriptStep{}, fmt.Errorf("want '<seconds> <action> ...', got %q", strings.Join(fields, " "))
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || secs < 0 {
		return scriptStep{}, fmt.Errorf("bad time %q", fields[0])
	}
	step := scriptStep{at: time.Duration(secs * float64(time.Second))}

	if strings.EqualFold(fields[1], "hazard") {
		if len(fields) != 3 {
			return scriptStep{}, fmt.Errorf("hazard wants one 'lateral,distance' argument")
		}
		pos, err := geo.PositionFromString(fields[2])
		if err != nil {
			return scriptStep{}, err
		}
		step.hazard = &pos
		return step, nil
	}

	kind, err := sim.ParseIntentKind(fields[1])
	if err != nil {
		return scriptStep{}, err
	}
	in := sim.Press(kind)
	rest := fields[2:]
	if len(rest) > 0 {
		switch strings.ToLower(rest[0]) {
		case "press", "down":
			rest = rest[1:]
		case "release", "up":
			in.Pressed = false
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		in.Target = rest[0]
	}
	step.intent = &in
	return step, nil
}
