package postgres

import (
	"testing"

	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/database"
	"github.com/drivelab/copilot-sim/internal/storage"
	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ storage.Backend = (*Backend)(nil)

func TestCloseBeforeInit(t *testing.T) {
	b := New(Dependencies{})
	assert.NoError(t, b.Close())
}

func TestInitUnreachableServer(t *testing.T) {
	b := New(Dependencies{Config: config.DBConfig{
		Host: "127.0.0.1", Port: "1", Username: "x", Password: "x", Database: "x",
	}})
	assert.Error(t, b.Init())
}

func TestInitWithInjectedDB(t *testing.T) {
	// Any GORM dialect works once injected; SQLite stands in for a server.
	db, err := database.OpenSqlite("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db})
	require.NoError(t, b.Init())
	defer b.Close()

	run := &core.Run{RunID: "a3b0f1b4-1111-4f4f-8c8c-5d5d5d5d5d5d"}
	require.NoError(t, b.StartRun(run))
	assert.NotZero(t, run.ID)
}
