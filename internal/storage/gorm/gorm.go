// Package gormstorage implements storage.Backend on any GORM dialect.
// The SQLite and Postgres backends embed it and add only connection setup.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sonder-map/sonder/internal/database"
	"github.com/sonder-map/sonder/internal/logging"
	"github.com/sonder-map/sonder/internal/model"
	"github.com/sonder-map/sonder/internal/model/convert"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager

	// Now stamps entries created without a timestamp. Defaults to time.Now.
	Now func() time.Time
	// NewID assigns IDs to entries created without one. Defaults to uuid.NewString.
	NewID func() string
	// PollInterval enables a loop that picks up rows written by other
	// processes. Zero disables it.
	PollInterval time.Duration
}

// Backend stores entries in a SQL database and serves a live change feed.
type Backend struct {
	deps Dependencies

	// mu serializes writes with snapshot+subscribe so the feed never
	// loses or repeats a change.
	mu    sync.Mutex
	known map[string]struct{}
	feed  *storage.Feed

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps:     deps,
		known:    make(map[string]struct{}),
		feed:     storage.NewFeed(),
		stopChan: make(chan struct{}),
	}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema, loads the known entry IDs, and starts polling
// when configured.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}

	var ids []string
	if err := b.deps.DB.Model(&model.Entry{}).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("load entry ids: %w", err)
	}
	b.mu.Lock()
	for _, id := range ids {
		b.known[id] = struct{}{}
	}
	b.mu.Unlock()

	if b.deps.PollInterval > 0 {
		b.wg.Add(1)
		go b.pollLoop()
	}
	return nil
}

// Close stops polling and every subscription. The connection is left to
// its owner.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	b.feed.Close()
	return nil
}

var columns = map[string]string{
	storage.FieldID:        "id",
	storage.FieldUserID:    "user_id",
	storage.FieldTimestamp: "timestamp_ms",
	storage.FieldColor:     "color",
}

func sqlOp(op storage.Op) string {
	if op == storage.OpGt {
		return ">"
	}
	return "="
}

// Query translates q to SQL.
func (b *Backend) Query(ctx context.Context, q storage.Query) ([]core.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	tx := b.deps.DB.WithContext(ctx).Model(&model.Entry{})
	for _, f := range q.Filters {
		col := columns[f.Field]
		if f.Field == storage.FieldTimestamp {
			ts := f.Value.(time.Time)
			tx = tx.Where("timestamp_ms <> 0").Where(fmt.Sprintf("timestamp_ms %s ?", sqlOp(f.Op)), ts.UnixMilli())
			continue
		}
		tx = tx.Where(fmt.Sprintf("%s %s ?", col, sqlOp(f.Op)), fmt.Sprint(f.Value))
	}

	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		if q.OrderBy == storage.FieldTimestamp {
			tx = tx.Order("CASE WHEN timestamp_ms = 0 THEN 1 ELSE 0 END")
		}
		tx = tx.Order(fmt.Sprintf("%s %s", columns[q.OrderBy], dir))
	}
	tx = tx.Order("id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []model.Entry
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return convert.EntriesToCore(rows), nil
}

// Subscribe delivers every stored entry as added, oldest first, then live changes.
func (b *Backend) Subscribe(ctx context.Context, onChange storage.ChangeFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rows []model.Entry
	if err := b.deps.DB.WithContext(ctx).Order("timestamp_ms ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("snapshot entries: %w", err)
	}
	changes := make([]core.Change, len(rows))
	for i, r := range rows {
		changes[i] = core.Added(convert.EntryToCore(r))
	}
	return b.feed.Subscribe(ctx, changes, onChange, onError), nil
}

// Create stores e. An empty ID is generated; a zero timestamp is stamped now.
func (b *Backend) Create(ctx context.Context, e core.Entry) (string, error) {
	if e.ID == "" {
		e.ID = b.deps.NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.deps.Now().UTC()
	}
	row := convert.CoreToEntry(e)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("create entry %s: %w", e.ID, err)
	}
	b.known[row.ID] = struct{}{}
	b.feed.Publish(core.Added(convert.EntryToCore(row)))
	return row.ID, nil
}

// Delete removes one entry, returning storage.ErrNotFound if it is absent.
func (b *Backend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := b.deps.DB.WithContext(ctx).Where("id = ?", id).Delete(&model.Entry{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete %s: %w", id, storage.ErrNotFound)
	}
	delete(b.known, id)
	b.feed.Publish(core.Removed(id))
	return nil
}

// BatchDelete removes every listed entry that exists in one transaction.
func (b *Backend) BatchDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var found []string
	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Entry{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
			return err
		}
		if len(found) == 0 {
			return nil
		}
		return tx.Where("id IN ?", found).Delete(&model.Entry{}).Error
	})
	if err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}

	present := make(map[string]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	var changes []core.Change
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			continue
		}
		delete(present, id)
		delete(b.known, id)
		changes = append(changes, core.Removed(id))
	}
	b.feed.Publish(changes...)
	return nil
}

// Sync compares the table with the known IDs and publishes the difference.
// The poll loop calls it; tests call it directly.
func (b *Backend) Sync(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	if err := b.deps.DB.WithContext(ctx).Model(&model.Entry{}).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("sync ids: %w", err)
	}

	current := make(map[string]struct{}, len(ids))
	var added []string
	for _, id := range ids {
		current[id] = struct{}{}
		if _, ok := b.known[id]; !ok {
			added = append(added, id)
		}
	}

	var changes []core.Change
	if len(added) > 0 {
		var rows []model.Entry
		if err := b.deps.DB.WithContext(ctx).Where("id IN ?", added).
			Order("timestamp_ms ASC").Order("id ASC").Find(&rows).Error; err != nil {
			return fmt.Errorf("sync rows: %w", err)
		}
		for _, r := range rows {
			changes = append(changes, core.Added(convert.EntryToCore(r)))
		}
	}
	var removed []string
	for id := range b.known {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		changes = append(changes, core.Removed(id))
	}

	b.known = current
	b.feed.Publish(changes...)
	return nil
}

func (b *Backend) pollLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Sync(context.Background()); err != nil {
				b.deps.LogManager.WriteLog("gorm:pollLoop", fmt.Sprintf("Error polling entries: %v", err), "ERROR")
				b.feed.Fail(err)
			}
		}
	}
}
