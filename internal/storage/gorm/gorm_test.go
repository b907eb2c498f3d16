package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sonder-map/sonder/internal/database"
	"github.com/sonder-map/sonder/internal/model"
	"github.com/sonder-map/sonder/internal/model/convert"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

var now = time.Date(2025, 12, 11, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "entries.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	n := 0
	b := New(Dependencies{
		DB:  newTestDB(t),
		Now: func() time.Time { return now },
		NewID: func() string {
			n++
			return fmt.Sprintf("gen%d", n)
		},
	})
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

type collector struct {
	mu      sync.Mutex
	changes []core.Change
	errs    []error
}

func (c *collector) onChange(ch core.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) snapshot() []core.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Change(nil), c.changes...)
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestInit_WithoutDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
}

func TestInitClose(t *testing.T) {
	b := New(Dependencies{DB: newTestDB(t), PollInterval: time.Millisecond})
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
	// second close is a no-op
	require.NoError(t, b.Close())
}

func TestCreate_AssignsIDAndTimestamp(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	id, err := b.Create(ctx, core.Entry{Lat: 40, Lng: -73, Text: "hi", Color: "nope", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "gen1", id)

	got, err := b.Query(ctx, storage.ByOwner("u1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, now, got[0].Timestamp)
	assert.Equal(t, core.ColorBlack, got[0].Color)
	assert.Equal(t, 40.0, got[0].Lat)
}

func TestCreate_DuplicateID(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, core.Entry{ID: "dup", Lat: 1, Lng: 1})
	require.NoError(t, err)
	_, err = b.Create(ctx, core.Entry{ID: "dup", Lat: 1, Lng: 1})
	assert.Error(t, err)
}

func TestQuery_RecentSinceOrdersNewestFirst(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for i, age := range []time.Duration{time.Hour, 10 * 24 * time.Hour, 2 * time.Hour, 0} {
		_, err := b.Create(ctx, core.Entry{
			ID:        fmt.Sprintf("e%d", i),
			Lat:       1,
			Lng:       1,
			Timestamp: now.Add(-age),
		})
		require.NoError(t, err)
	}

	got, err := b.Query(ctx, storage.RecentSince(now.Add(-7*24*time.Hour), 2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e3", got[0].ID)
	assert.Equal(t, "e0", got[1].ID)
}

func TestQuery_ZeroTimestampSortsLast(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, core.Entry{ID: "dated", Lat: 1, Lng: 1, Timestamp: now})
	require.NoError(t, err)
	// a row written without a timestamp, as an external writer might
	row := convert.CoreToEntry(core.Entry{ID: "undated", Lat: core.Unlocated, Lng: core.Unlocated})
	require.NoError(t, b.DB().Create(&row).Error)

	got, err := b.Query(ctx, storage.Latest(10))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dated", got[0].ID)
	assert.Equal(t, "undated", got[1].ID)
	assert.True(t, got[1].Timestamp.IsZero())
	assert.False(t, got[1].HasPosition())

	recent, err := b.Query(ctx, storage.RecentSince(now.Add(-time.Hour), 10))
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestQuery_InvalidQuery(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Query(context.Background(), storage.Query{OrderBy: "text"})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, core.Entry{ID: "a", Lat: 1, Lng: 1})
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "a"))
	err = b.Delete(ctx, "a")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestBatchDelete_SkipsMissing(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := b.Create(ctx, core.Entry{ID: id, Lat: 1, Lng: 1})
		require.NoError(t, err)
	}

	c := &collector{}
	unsub, err := b.Subscribe(ctx, c.onChange, c.onError)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, b.BatchDelete(ctx, []string{"c", "missing", "a"}))
	require.NoError(t, b.BatchDelete(ctx, nil))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 5 }, time.Second, 5*time.Millisecond)
	changes := c.snapshot()
	assert.Equal(t, core.Removed("c"), changes[3])
	assert.Equal(t, core.Removed("a"), changes[4])

	got, err := b.Query(ctx, storage.Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSubscribe_SnapshotThenLive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, core.Entry{ID: "new", Lat: 1, Lng: 1, Timestamp: now})
	require.NoError(t, err)
	_, err = b.Create(ctx, core.Entry{ID: "old", Lat: 1, Lng: 1, Timestamp: now.Add(-time.Hour)})
	require.NoError(t, err)

	c := &collector{}
	unsub, err := b.Subscribe(ctx, c.onChange, c.onError)
	require.NoError(t, err)
	defer unsub()

	_, err = b.Create(ctx, core.Entry{ID: "live", Lat: 1, Lng: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	changes := c.snapshot()
	assert.Equal(t, "old", changes[0].ID)
	assert.Equal(t, "new", changes[1].ID)
	assert.Equal(t, "live", changes[2].ID)
	for _, ch := range changes {
		assert.Equal(t, core.ChangeAdded, ch.Type)
	}
}

func TestSync_PicksUpExternalWrites(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, core.Entry{ID: "mine", Lat: 1, Lng: 1})
	require.NoError(t, err)

	c := &collector{}
	unsub, err := b.Subscribe(ctx, c.onChange, c.onError)
	require.NoError(t, err)
	defer unsub()

	row := convert.CoreToEntry(core.Entry{ID: "theirs", Lat: 2, Lng: 2, Timestamp: now})
	require.NoError(t, b.DB().Create(&row).Error)
	require.NoError(t, b.DB().Where("id = ?", "mine").Delete(&model.Entry{}).Error)

	require.NoError(t, b.Sync(ctx))
	// nothing changed since the last sync
	require.NoError(t, b.Sync(ctx))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	changes := c.snapshot()
	assert.Equal(t, core.ChangeAdded, changes[1].Type)
	assert.Equal(t, "theirs", changes[1].ID)
	assert.Equal(t, core.Removed("mine"), changes[2])
}
