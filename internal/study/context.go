package study

import (
	"log/slog"
	"sync"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// Context holds the run that is currently active in this process.
type Context struct {
	mu  sync.RWMutex
	Run *core.Run
}

// NewContext creates a Context with no active run.
func NewContext() *Context {
	return &Context{
		Run: &core.Run{RunID: "none"},
	}
}

// GetRun returns the current run
func (c *Context) GetRun() *core.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Run
}

// SetRun sets the current run
func (c *Context) SetRun(run *core.Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Run = run
}

// LogAttrs returns the attributes attached to every log record while a run is active.
func (c *Context) LogAttrs() []slog.Attr {
	run := c.GetRun()
	attrs := []slog.Attr{slog.String("runId", run.RunID)}
	if run.ParticipantID != "" {
		attrs = append(attrs, slog.String("participant", run.ParticipantID))
	}
	return attrs
}
