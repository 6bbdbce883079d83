package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/drivelab/copilot-sim/internal/study"
	"github.com/drivelab/copilot-sim/internal/worker"
	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshots struct {
	mu   sync.Mutex
	snap core.Snapshot
}

func (f *fakeSnapshots) LastSnapshot() core.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeStorage struct{}

func (fakeStorage) Status() worker.Status {
	return worker.Status{Pending: 4, Written: 10, LastDBWriteMs: 2.5}
}

func newContext() *study.Context {
	ctx := study.NewContext()
	ctx.SetRun(&core.Run{RunID: "r-9", ParticipantID: "P-100"})
	return ctx
}

func TestGetProgramStatus(t *testing.T) {
	snaps := &fakeSnapshots{snap: core.Snapshot{
		Phase: core.PhaseRunning, Tick: 90, Elapsed: 1, Score: 990,
		Vehicle: core.VehicleState{Position: core.Position{Distance: 20}, Mode: core.ModeManual},
	}}
	s := NewService(Dependencies{Study: newContext(), Snapshots: snaps, Storage: fakeStorage{}})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := s.GetProgramStatus(now)
	assert.Equal(t, now, st.Time)
	assert.Equal(t, "r-9", st.RunID)
	assert.Equal(t, "P-100", st.ParticipantID)
	assert.Equal(t, core.PhaseRunning, st.Phase)
	assert.Equal(t, 20.0, st.Distance)
	assert.Equal(t, core.ModeManual, st.Mode)
	require.NotNil(t, st.Storage)
	assert.Equal(t, 4, st.Storage.Pending)
}

func TestGetProgramStatus_NoStorage(t *testing.T) {
	s := NewService(Dependencies{Study: study.NewContext(), Snapshots: &fakeSnapshots{}})
	st := s.GetProgramStatus(time.Now())
	assert.Nil(t, st.Storage)
	assert.Equal(t, "none", st.RunID)
}

func TestStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	snaps := &fakeSnapshots{snap: core.Snapshot{Phase: core.PhaseCountdown, Countdown: 2}}
	s := NewService(Dependencies{
		Study:      newContext(),
		Snapshots:  snaps,
		StatusFile: path,
		Interval:   10 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(), "second start is a no-op")

	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		return err == nil && len(b) > 0
	}, time.Second, 5*time.Millisecond)

	snaps.mu.Lock()
	snaps.snap = core.Snapshot{Phase: core.PhaseCompleted, Score: 870}
	snaps.mu.Unlock()
	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "completed", got["phase"])
	assert.Equal(t, 870.0, got["score"])
	assert.Equal(t, "r-9", got["runId"])
}

func TestStart_BadStatusFile(t *testing.T) {
	s := NewService(Dependencies{
		Study:      newContext(),
		Snapshots:  &fakeSnapshots{},
		StatusFile: filepath.Join(t.TempDir(), "missing", "status.json"),
	})
	assert.Error(t, s.Start())
	assert.False(t, s.IsRunning())
}
