// Package app assembles the pieces shared by the sonder binaries: config,
// logging, the entries store, device-local storage and the user id.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/sonder-map/sonder/internal/config"
	"github.com/sonder-map/sonder/internal/database"
	"github.com/sonder-map/sonder/internal/identity"
	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/logging"
	"github.com/sonder-map/sonder/internal/otel"
	"github.com/sonder-map/sonder/internal/storage"
)

// Options controls Bootstrap.
type Options struct {
	ConfigDir string
	// Name prefixes the log file.
	Name string
	// Console keeps logs on stdout instead of a file.
	Console bool
}

// App holds the shared runtime.
type App struct {
	Logs    *logging.SlogManager
	Logger  *slog.Logger
	Zerolog zerolog.Logger
	OTel    *otel.Provider
	Store   storage.Backend
	KV      kv.Store
	UserID  string
	Started time.Time

	userID  atomic.Value
	logFile *os.File
	graylog *gelf.Writer
}

// Bootstrap loads config and opens everything. A missing config file is
// not an error; defaults apply.
func Bootstrap(opts Options) (*App, error) {
	a := &App{Started: time.Now(), Logs: logging.NewSlogManager()}
	a.userID.Store("")

	if err := config.Load(opts.ConfigDir); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := a.setupLogging(opts); err != nil {
		return nil, err
	}

	local, err := openKV(config.GetString("kv.path"), a.Logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.KV = local

	userID, err := identity.UserID(a.KV)
	if err != nil {
		a.Logger.Warn("Failed to persist user id", "error", err)
	}
	a.UserID = userID
	a.userID.Store(userID)

	store, err := NewStore(config.GetStorageConfig(), a.Logs, a.Zerolog)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := store.Init(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	a.Store = store
	return a, nil
}

func (a *App) setupLogging(opts Options) error {
	level := config.GetString("logLevel")

	var file io.Writer
	if !opts.Console {
		logsDir := config.GetString("logsDir")
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(logging.LogFilePath(logsDir, opts.Name, a.Started), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		file = f
	}

	var graylog io.Writer
	if gc := config.GetGraylogConfig(); gc.Enabled {
		w, err := logging.DialGraylog(gc.Address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "graylog disabled: %v\n", err)
		} else {
			a.graylog = w
			graylog = w
		}
	}

	oc := config.GetOTelConfig()
	provider, err := otel.New(otel.Config{
		Enabled:      oc.Enabled,
		ServiceName:  oc.ServiceName,
		BatchTimeout: oc.BatchTimeout,
		LogWriter:    file,
		Endpoint:     oc.Endpoint,
		Insecure:     oc.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}
	a.OTel = provider

	a.Logs.SetupWithOptions(logging.Options{
		File:     file,
		Level:    level,
		Provider: provider.LoggerProvider(),
		Graylog:  graylog,
		Context: func() []slog.Attr {
			if id, _ := a.userID.Load().(string); id != "" {
				return []slog.Attr{slog.String("userId", id)}
			}
			return nil
		},
	})
	a.Logger = a.Logs.Logger()
	a.Zerolog = logging.NewZerolog(file, level, graylog)
	return nil
}

// openKV opens the SQLite key-value file, or an in-process store when path
// is empty.
func openKV(path string, logger *slog.Logger) (kv.Store, error) {
	if path == "" {
		return kv.NewMemory(), nil
	}
	db, err := database.GetSqliteDB(path)
	if err != nil {
		return nil, fmt.Errorf("open local store %s: %w", path, err)
	}
	store, err := kv.NewGormStore(db, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// SetUserID replaces the user id used for log context.
func (a *App) SetUserID(id string) {
	a.UserID = id
	a.userID.Store(id)
}

// Close releases everything Bootstrap opened.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && a.Logger != nil {
			a.Logger.Error("Failed to close storage", "error", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.OTel != nil {
		_ = a.OTel.Shutdown(ctx)
	}
	if a.graylog != nil {
		_ = a.graylog.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
