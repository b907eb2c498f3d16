package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonder-map/sonder/internal/config"
	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/logging"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/internal/storage/memory"
	sqlitestorage "github.com/sonder-map/sonder/internal/storage/sqlite"
	wsstorage "github.com/sonder-map/sonder/internal/storage/websocket"
	"github.com/sonder-map/sonder/pkg/core"
)

func TestHttpToWS(t *testing.T) {
	assert.Equal(t, "ws://localhost:5000", httpToWS("http://localhost:5000/"))
	assert.Equal(t, "wss://hub.example/ws", httpToWS("https://hub.example/ws"))
	assert.Equal(t, "ws://already", httpToWS("ws://already"))
}

func TestNewStore(t *testing.T) {
	logs := logging.NewSlogManager()
	zlog := zerolog.Nop()

	s, err := NewStore(config.StorageConfig{Type: "memory"}, logs, zlog)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, s)

	s, err = NewStore(config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "e.db")}}, logs, zlog)
	require.NoError(t, err)
	assert.IsType(t, &sqlitestorage.Backend{}, s)

	s, err = NewStore(config.StorageConfig{Type: "websocket", Websocket: config.WebsocketConfig{URL: "http://hub:9000/ws"}}, logs, zlog)
	require.NoError(t, err)
	assert.IsType(t, &wsstorage.Backend{}, s)

	_, err = NewStore(config.StorageConfig{Type: "websocket"}, logs, zlog)
	assert.Error(t, err)

	_, err = NewStore(config.StorageConfig{Type: "redis"}, logs, zlog)
	assert.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")
	kvPath := filepath.Join(dir, "local.db")
	cfg := `{"logsDir": "` + filepath.ToSlash(logsDir) + `", "kv": {"path": "` + filepath.ToSlash(kvPath) + `"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0644))

	a, err := Bootstrap(Options{ConfigDir: dir, Name: "sonder"})
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, strings.HasPrefix(a.UserID, "user_"))
	stored, ok := a.KV.Get(kv.KeyUserID)
	require.True(t, ok)
	assert.Equal(t, a.UserID, stored)

	_, err = a.Store.Create(context.Background(), core.Entry{Text: "hi", Lat: 1, Lng: 1, UserID: a.UserID})
	require.NoError(t, err)
	got, err := a.Store.Query(context.Background(), storage.ByOwner(a.UserID))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	a.Logger.Info("bootstrapped")
	files, err := os.ReadDir(logsDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	body, err := os.ReadFile(filepath.Join(logsDir, files[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "bootstrapped")
	assert.Contains(t, string(body), "userId="+a.UserID)
}

func TestBootstrap_InMemoryLocalStore(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{"logsDir": "` + filepath.ToSlash(filepath.Join(dir, "logs")) + `", "kv": {"path": ""}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0644))

	a, err := Bootstrap(Options{ConfigDir: dir, Name: "sonder"})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.Backend{}, a.Store)
	assert.IsType(t, &kv.Memory{}, a.KV)

	a.SetUserID("user_1_abc")
	assert.Equal(t, "user_1_abc", a.UserID)
}
