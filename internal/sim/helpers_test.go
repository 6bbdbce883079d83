package sim

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// quietConfig has no obstacles, no countdown and sim-time seconds.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Spawn.Enabled = false
	cfg.Ambient.Count = 0
	cfg.CountdownSeconds = 0
	cfg.SecondsBasis = SecondsSim
	return cfg
}

// driver feeds a session synthetic frame timestamps.
type driver struct {
	t   *testing.T
	s   *Session
	now time.Time
}

func newDriver(t *testing.T, cfg Config, opts ...Option) *driver {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger()), WithRunID("test-run")}, opts...)
	d := &driver{t: t, s: NewSession(cfg, opts...), now: testEpoch}
	d.s.Start(d.now)
	return d
}

// frame advances the host clock by one tick and runs the frame.
func (d *driver) frame() int {
	return d.frameAfter(d.s.Stepper().Step())
}

func (d *driver) frameAfter(dt time.Duration) int {
	d.now = d.now.Add(dt)
	n := d.s.Frame(d.now)
	d.s.Poll(d.now)
	return n
}

// runUntil runs frames until done returns true or the frame budget is used up.
func (d *driver) runUntil(done func() bool, maxFrames int) bool {
	d.t.Helper()
	for i := 0; i < maxFrames; i++ {
		if done() {
			return true
		}
		d.frame()
	}
	return done()
}
