package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sonder-map/sonder/internal/database"
	"github.com/sonder-map/sonder/internal/model"
	"github.com/sonder-map/sonder/internal/model/convert"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestNew_ConnectionRefused(t *testing.T) {
	_, err := New(Config{PostgresConfig: database.PostgresConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "sonder",
		Database: "sonder",
	}}, nil)
	assert.Error(t, err)
}

// The backend logic is dialect independent, so a SQLite connection stands
// in for the server.
func TestNewWithDB_PollsExternalWrites(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pg.db")), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	b, err := NewWithDB(db, Config{PollInterval: 10 * time.Millisecond, MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	got := make(chan core.Change, 4)
	unsub, err := b.Subscribe(context.Background(), func(c core.Change) { got <- c }, nil)
	require.NoError(t, err)
	defer unsub()

	row := convert.CoreToEntry(core.Entry{ID: "remote", Lat: 1, Lng: 2, Timestamp: time.Now()})
	require.NoError(t, db.Model(&model.Entry{}).Create(&row).Error)

	select {
	case c := <-got:
		assert.Equal(t, core.ChangeAdded, c.Type)
		assert.Equal(t, "remote", c.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not deliver the external write")
	}
}
