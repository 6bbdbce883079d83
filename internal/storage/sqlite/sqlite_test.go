package sqlitestorage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drivelab/copilot-sim/internal/database"
	"github.com/drivelab/copilot-sim/internal/storage"
	gormstorage "github.com/drivelab/copilot-sim/internal/storage/gorm"
	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ storage.Backend = (*Backend)(nil)
var _ storage.Reader = (*Backend)(nil)

func testRun() *core.Run {
	return &core.Run{
		RunID:         "0d9f6c5e-8f0e-4d1b-9b59-3c8e5a0f2b77",
		ParticipantID: "P-042",
		StartTime:     time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		TrackLength:   600,
	}
}

func TestDumpBeforeRunIsNoop(t *testing.T) {
	b, err := New(Config{OutputDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.Empty(t, b.DumpPath())
	assert.NoError(t, b.Dump())
}

func TestEndRunWritesDump(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	run := testRun()
	require.NoError(t, b.StartRun(run))
	assert.Equal(t, filepath.Join(dir, "run_20260302_093000_"+run.RunID+".db"), b.DumpPath())

	require.NoError(t, b.RecordModeSample(&core.ModeSample{Kind: core.SampleBySecond, Index: 0, Mode: core.ModeCopilot}))
	require.NoError(t, b.EndRun(&core.TelemetryRecord{RunID: run.RunID, Completed: true, ModeBySecond: []core.Mode{core.ModeCopilot}}))

	_, err = os.Stat(b.DumpPath())
	require.NoError(t, err)

	// The dump is a standalone database readable by the export path.
	db, err := database.OpenSqlite(b.DumpPath())
	require.NoError(t, err)
	gotRun, rec, err := gormstorage.LoadRun(db, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "P-042", gotRun.ParticipantID)
	assert.True(t, rec.Completed)
	sqlDB, _ := db.DB()
	sqlDB.Close()
}

func TestPeriodicDump(t *testing.T) {
	b, err := New(Config{OutputDir: t.TempDir(), DumpInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(testRun()))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(b.DumpPath())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
