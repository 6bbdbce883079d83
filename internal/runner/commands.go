package runner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drivelab/copilot-sim/internal/dispatcher"
	"github.com/drivelab/copilot-sim/internal/sim"
)

// CommandName returns the dispatcher command for an intent, e.g.
// ":INTENT:LANE_LEFT:" for lane-left.
func CommandName(kind sim.IntentKind) string {
	return ":INTENT:" + strings.ToUpper(strings.ReplaceAll(string(kind), "-", "_")) + ":"
}

// RegisterCommands wires the control surface into the dispatcher:
//
//	:INTENT:<KIND>: [press|release] [notification id]
//	:START:
//	:NOTIFY:OPEN: <id>
//	:NOTIFY:CLOSE: <id>
//	:HAZARD: <lane> [ahead]
//	:STATUS:
func (r *Runner) RegisterCommands(d *dispatcher.Dispatcher) {
	for _, kind := range sim.IntentKinds() {
		d.Register(CommandName(kind), r.intentHandler(kind))
	}
	d.Register(":START:", func(dispatcher.Event) (any, error) {
		return "queued", r.Submit(sim.Press(sim.IntentStart))
	}, dispatcher.Logged())
	d.Register(":NOTIFY:OPEN:", r.notificationHandler(sim.IntentNotificationOpen), dispatcher.Logged())
	d.Register(":NOTIFY:CLOSE:", r.notificationHandler(sim.IntentNotificationClose), dispatcher.Logged())
	d.Register(":HAZARD:", r.handleHazard, dispatcher.Logged())
	d.Register(":STATUS:", func(dispatcher.Event) (any, error) {
		return r.LastSnapshot(), nil
	})
}

func (r *Runner) intentHandler(kind sim.IntentKind) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		in := sim.Press(kind)
		switch strings.ToLower(e.Arg(0)) {
		case "", "press", "down":
		case "release", "up":
			in.Pressed = false
		default:
			if kind != sim.IntentNotificationOpen && kind != sim.IntentNotificationClose {
				return nil, fmt.Errorf("bad key state %q, want press or release", e.Arg(0))
			}
			in.Target = e.Arg(0)
		}
		if in.Target == "" {
			in.Target = e.Arg(1)
		}
		if err := r.Submit(in); err != nil {
			return nil, err
		}
		return "queued", nil
	}
}

func (r *Runner) notificationHandler(kind sim.IntentKind) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		id := e.Arg(0)
		if id == "" {
			return nil, fmt.Errorf("%s needs a notification id", e.Command)
		}
		in := sim.Press(kind)
		in.Target = id
		if err := r.Submit(in); err != nil {
			return nil, err
		}
		return "queued", nil
	}
}

func (r *Runner) handleHazard(e dispatcher.Event) (any, error) {
	lane, err := strconv.Atoi(e.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("bad lane %q: %w", e.Arg(0), err)
	}
	ahead := 60.0
	if s := e.Arg(1); s != "" {
		if ahead, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("bad distance %q: %w", s, err)
		}
	}
	if lane < 0 || lane >= sim.LaneCount {
		return nil, fmt.Errorf("lane %d out of range", lane)
	}
	if err := r.InjectHazard(lane, ahead); err != nil {
		return nil, err
	}
	return "queued", nil
}
