package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/internal/storage"
	"github.com/drivelab/copilot-sim/internal/storage/memory"
	pgstorage "github.com/drivelab/copilot-sim/internal/storage/postgres"
	sqlitestorage "github.com/drivelab/copilot-sim/internal/storage/sqlite"
	wsstorage "github.com/drivelab/copilot-sim/internal/storage/websocket"
	"github.com/spf13/viper"
)

func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		Logger.Info("Postgres storage backend selected")
		return pgstorage.New(pgstorage.Dependencies{
			Config: config.GetDBConfig(),
			Logger: Logger,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			OutputDir:    storageCfg.SQLite.OutputDir,
			Logger:       Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend selected", "outputDir", storageCfg.SQLite.OutputDir)
		return backend, nil

	case "websocket":
		wsURL := httpToWS(viper.GetString("api.serverUrl")) + "/api"
		Logger.Info("WebSocket storage backend selected", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: viper.GetString("api.apiKey"),
			Logger: Logger,
		}), nil

	case "memory", "":
		Logger.Info("Memory storage backend selected", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}

// exportGlob matches the memory backend export files of runID.
func exportGlob(dir, runID string) string {
	return filepath.Join(dir, "*_"+runID+".json*")
}
