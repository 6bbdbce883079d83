package worker

import (
	"github.com/drivelab/copilot-sim/internal/dispatcher"
)

// Status is the reply of the :STORAGE:STATUS: command.
type Status struct {
	Pending       int     `json:"pending"`
	Written       uint64  `json:"written"`
	Failed        uint64  `json:"failed"`
	Dropped       uint64  `json:"dropped"`
	LastDBWriteMs float64 `json:"lastDbWriteMs"`
}

// RegisterHandlers registers the storage console commands with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(":STORAGE:FLUSH:", m.handleFlush, dispatcher.Logged())
	d.Register(":STORAGE:STATUS:", m.handleStatus)
}

func (m *Manager) handleFlush(dispatcher.Event) (any, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (m *Manager) handleStatus(dispatcher.Event) (any, error) {
	return m.Status(), nil
}

// Status reports the queue counters.
func (m *Manager) Status() Status {
	return Status{
		Pending:       m.Pending(),
		Written:       m.Written(),
		Failed:        m.Failed(),
		Dropped:       m.Dropped(),
		LastDBWriteMs: float64(m.GetLastDBWriteDuration().Microseconds()) / 1000,
	}
}
