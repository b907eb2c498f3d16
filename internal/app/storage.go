package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sonder-map/sonder/internal/config"
	"github.com/sonder-map/sonder/internal/database"
	"github.com/sonder-map/sonder/internal/logging"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/internal/storage/memory"
	pgstorage "github.com/sonder-map/sonder/internal/storage/postgres"
	sqlitestorage "github.com/sonder-map/sonder/internal/storage/sqlite"
	wsstorage "github.com/sonder-map/sonder/internal/storage/websocket"
)

// NewStore creates the entries backend selected by cfg.Type. Init is left
// to the caller.
func NewStore(cfg config.StorageConfig, logs *logging.SlogManager, zlog zerolog.Logger) (storage.Backend, error) {
	logger := logs.Logger()
	switch cfg.Type {
	case "postgres":
		return newPostgres(cfg, logs, zlog)

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.DumpPath,
		}, logs)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend initialized", "path", cfg.SQLite.Path)
		return backend, nil

	case "websocket":
		if cfg.Websocket.URL == "" {
			return nil, fmt.Errorf("storage.websocket.url is not set")
		}
		wsURL := httpToWS(cfg.Websocket.URL)
		logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.NewWithLogger(wsstorage.Config{
			URL:    wsURL,
			Secret: cfg.Websocket.Secret,
		}, logger), nil

	case "memory", "":
		logger.Info("Memory storage backend initialized")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// newPostgres connects through the database manager so an unreachable
// server falls back to a local in-memory SQLite database.
func newPostgres(cfg config.StorageConfig, logs *logging.SlogManager, zlog zerolog.Logger) (storage.Backend, error) {
	pg := database.PostgresConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Username: cfg.Postgres.Username,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	}
	mgr := database.NewManager(pg, cfg.SQLite.DumpPath, zlog)
	if err := mgr.Connect(); err != nil {
		return nil, err
	}
	if err := mgr.Setup(); err != nil {
		return nil, err
	}

	backend, err := pgstorage.NewWithDB(mgr.DB, pgstorage.Config{
		PostgresConfig: pg,
		PollInterval:   cfg.Postgres.PollInterval,
	}, logs)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres backend: %w", err)
	}
	if mgr.ShouldSaveLocal {
		logs.Logger().Warn("Postgres unreachable, entries are kept in memory", "dumpPath", cfg.SQLite.DumpPath)
		return &localFallback{Backend: backend, mgr: mgr, logger: logs.Logger()}, nil
	}
	logs.Logger().Info("Postgres storage backend initialized", "host", pg.Host, "database", pg.Database)
	return backend, nil
}

// localFallback dumps the in-memory database to disk on close.
type localFallback struct {
	*pgstorage.Backend
	mgr    *database.Manager
	logger *slog.Logger
}

func (f *localFallback) Close() error {
	if err := f.mgr.DumpMemoryToDisk(); err != nil {
		f.logger.Error("Failed to dump local database", "error", err)
	}
	return f.Backend.Close()
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
