// Package postgres implements the storage.Backend interface on a PostgreSQL
// server. Batching and conversion live in the GORM backend; this package owns
// the connection.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/database"
	gormstorage "github.com/drivelab/copilot-sim/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
// When DB is nil, Init connects using Config.
type Dependencies struct {
	DB     *gorm.DB
	Config config.DBConfig
	Logger *slog.Logger
}

// Backend wraps the GORM backend with connection management.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
	log  *slog.Logger
}

// New creates a new Postgres storage backend. No connection is made until Init.
func New(deps Dependencies) *Backend {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{deps: deps, log: log.With("component", "postgres")}
}

// Init connects if needed, migrates the schema and starts the DB writer goroutine.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		var err error
		db, err = database.OpenPostgres(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
	}

	b.log.Info("Connected to database", "dialect", db.Name(), "host", b.deps.Config.Host)
	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: db, Logger: b.deps.Logger})
	return b.Backend.Init()
}

// Close stops the writer and releases the connection pool.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
