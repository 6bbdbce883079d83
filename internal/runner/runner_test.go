package runner

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/drivelab/copilot-sim/internal/dispatcher"
	"github.com/drivelab/copilot-sim/internal/sim"
	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const frame = time.Second / 60

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// shortTrack finishes after a few seconds of copilot driving with no obstacles.
func shortTrack() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Spawn.Enabled = false
	cfg.Ambient.Count = 0
	cfg.CountdownSeconds = 0
	cfg.SecondsBasis = sim.SecondsSim
	cfg.TrackLength = 10
	return cfg
}

type harness struct {
	t      *testing.T
	clock  *MockClock
	runner *Runner
	frames chan core.Snapshot
	done   chan result
	cancel context.CancelFunc
}

type result struct {
	rec core.TelemetryRecord
	err error
}

func newHarness(t *testing.T, cfg sim.Config, rcfg Config) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  NewMockClock(epoch),
		frames: make(chan core.Snapshot, 64),
		done:   make(chan result, 1),
	}
	session := sim.NewSession(cfg, sim.WithLogger(discard()), sim.WithRunID("runner-test"))
	rcfg.Clock = h.clock
	rcfg.Logger = discard()
	if rcfg.FrameInterval == 0 {
		rcfg.FrameInterval = frame
	}
	if rcfg.PollInterval == 0 {
		rcfg.PollInterval = time.Hour
	}
	r, err := New(session, rcfg, FrameObserverFunc(func(s core.Snapshot) {
		select {
		case h.frames <- s:
		default:
		}
	}))
	require.NoError(t, err)
	h.runner = r
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.t.Cleanup(cancel)
	go func() {
		rec, err := h.runner.Run(ctx)
		h.done <- result{rec, err}
	}()
	require.NoError(h.t, h.runner.Submit(sim.Press(sim.IntentStart)))
	require.Eventually(h.t, func() bool {
		return h.runner.LastSnapshot().Phase != core.PhaseIdle
	}, time.Second, time.Millisecond)
}

// step advances one frame and waits until the loop has handled it.
func (h *harness) step() (result, bool) {
	h.clock.Advance(frame)
	select {
	case <-h.frames:
		return result{}, false
	case res := <-h.done:
		return res, true
	case <-time.After(2 * time.Second):
		h.t.Fatal("frame not handled")
		return result{}, false
	}
}

func TestRun_CompletesTrack(t *testing.T) {
	h := newHarness(t, shortTrack(), Config{})
	h.start()

	var res result
	finished := false
	for i := 0; i < 5000 && !finished; i++ {
		res, finished = h.step()
		if !finished && h.runner.LastSnapshot().Phase == core.PhaseCompleted {
			res = <-h.done
			finished = true
		}
	}
	require.True(t, finished, "run did not complete")
	require.NoError(t, res.err)
	assert.True(t, res.rec.Completed)
	assert.Equal(t, "runner-test", res.rec.RunID)
	assert.GreaterOrEqual(t, res.rec.Distance, 10.0)
	assert.Positive(t, h.runner.Frames())
	assert.Equal(t, res.rec.Ticks, h.runner.Ticks())
	assert.Equal(t, core.PhaseCompleted, h.runner.LastSnapshot().Phase)
}

func TestRun_CancelReturnsIncompleteRecord(t *testing.T) {
	h := newHarness(t, shortTrack(), Config{})
	h.start()
	for i := 0; i < 10; i++ {
		h.step()
	}

	h.cancel()
	res := <-h.done
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.False(t, res.rec.Completed)
	assert.NotZero(t, res.rec.Ticks)
}

func TestRun_Twice(t *testing.T) {
	h := newHarness(t, shortTrack(), Config{})
	h.start()
	_, err := h.runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRun_IntentsReachSession(t *testing.T) {
	cfg := shortTrack()
	cfg.TrackLength = 1000
	h := newHarness(t, cfg, Config{})
	h.start()
	h.step()

	require.NoError(t, h.runner.Submit(sim.Press(sim.IntentToggleAutopilot)))
	for i := 0; i < 100 && h.runner.LastSnapshot().Vehicle.Mode != core.ModeManual; i++ {
		h.step()
	}
	assert.Equal(t, core.ModeManual, h.runner.LastSnapshot().Vehicle.Mode)
}

func TestSubmit_QueueFull(t *testing.T) {
	h := newHarness(t, shortTrack(), Config{IntentBuffer: 1})

	require.NoError(t, h.runner.Submit(sim.Press(sim.IntentAccelerate)))
	err := h.runner.Submit(sim.Press(sim.IntentBrake))
	assert.ErrorIs(t, err, ErrIntentQueueFull)
	assert.ErrorIs(t, h.runner.InjectHazard(1, 50), ErrIntentQueueFull)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, ":INTENT:ACCELERATE:", CommandName(sim.IntentAccelerate))
	assert.Equal(t, ":INTENT:LANE_LEFT:", CommandName(sim.IntentLaneLeft))
	assert.Equal(t, ":INTENT:TOGGLE_AUTOPILOT:", CommandName(sim.IntentToggleAutopilot))
}

func TestRegisterCommands(t *testing.T) {
	h := newHarness(t, shortTrack(), Config{})
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	h.runner.RegisterCommands(d)

	for _, kind := range sim.IntentKinds() {
		assert.True(t, d.HasHandler(CommandName(kind)), kind)
	}

	tests := []struct {
		line    string
		wantErr bool
	}{
		{":INTENT:ACCELERATE: press", false},
		{":INTENT:ACCELERATE: release", false},
		{":INTENT:BRAKE:", false},
		{":INTENT:BRAKE: sideways", true},
		{":INTENT:NOTIFICATION_OPEN: n1", false},
		{":NOTIFY:CLOSE: n1", false},
		{":NOTIFY:OPEN:", true},
		{":START:", false},
		{":HAZARD: 2 80", false},
		{":HAZARD: 7", true},
		{":HAZARD: left", true},
	}
	queued := 0
	for _, tt := range tests {
		e, err := dispatcher.ParseLine(tt.line, epoch)
		require.NoError(t, err)
		_, err = d.Dispatch(e)
		if tt.wantErr {
			assert.Error(t, err, tt.line)
			continue
		}
		assert.NoError(t, err, tt.line)
		queued++
	}
	assert.Equal(t, queued, h.runner.requests.Len())

	res, err := d.Dispatch(dispatcher.Event{Command: ":STATUS:"})
	require.NoError(t, err)
	assert.Equal(t, core.PhaseIdle, res.(core.Snapshot).Phase)
}

func TestIntentHandler_ParsesState(t *testing.T) {
	h := newHarness(t, shortTrack(), Config{})
	handler := h.runner.intentHandler(sim.IntentLaneRight)

	_, err := handler(dispatcher.Event{Args: []string{"up"}})
	require.NoError(t, err)
	req := <-h.runner.requests.Receive()
	assert.Equal(t, sim.Release(sim.IntentLaneRight), *req.intent)

	open := h.runner.intentHandler(sim.IntentNotificationOpen)
	_, err = open(dispatcher.Event{Args: []string{"press", "n2"}})
	require.NoError(t, err)
	req = <-h.runner.requests.Receive()
	assert.Equal(t, sim.Intent{Kind: sim.IntentNotificationOpen, Pressed: true, Target: "n2"}, *req.intent)
}

func TestEveryN(t *testing.T) {
	var got []uint64
	obs := EveryN(3, FrameObserverFunc(func(s core.Snapshot) { got = append(got, s.Tick) }))
	for i := uint64(0); i < 7; i++ {
		obs.ObserveFrame(core.Snapshot{Tick: i})
	}
	assert.Equal(t, []uint64{0, 3, 6}, got)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
