// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

// Backend keeps the entries collection in memory with a live change feed.
type Backend struct {
	mu      sync.RWMutex
	entries map[string]core.Entry
	feed    *storage.Feed

	now   func() time.Time
	newID func() string
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

// Option configures a memory backend.
type Option func(*Backend)

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithIDGenerator overrides entry ID assignment.
func WithIDGenerator(f func() string) Option {
	return func(b *Backend) { b.newID = f }
}

// New creates a new memory backend
func New(opts ...Option) *Backend {
	b := &Backend{
		entries: make(map[string]core.Entry),
		feed:    storage.NewFeed(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close stops all subscriptions
func (b *Backend) Close() error {
	b.feed.Close()
	return nil
}

// Query runs q over a snapshot of the collection.
func (b *Backend) Query(ctx context.Context, q storage.Query) ([]core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	all := make([]core.Entry, 0, len(b.entries))
	for _, e := range b.entries {
		all = append(all, e)
	}
	b.mu.RUnlock()

	// stable base order so ties resolve the same way every time
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return q.Apply(all), nil
}

// Subscribe delivers every stored entry as added, oldest first, then live changes.
func (b *Backend) Subscribe(ctx context.Context, onChange storage.ChangeFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := make([]core.Entry, 0, len(b.entries))
	for _, e := range b.entries {
		snapshot = append(snapshot, e)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if !snapshot[i].Timestamp.Equal(snapshot[j].Timestamp) {
			return snapshot[i].Timestamp.Before(snapshot[j].Timestamp)
		}
		return snapshot[i].ID < snapshot[j].ID
	})
	changes := make([]core.Change, len(snapshot))
	for i, e := range snapshot {
		changes[i] = core.Added(e)
	}

	return b.feed.Subscribe(ctx, changes, onChange, onError), nil
}

// Create stores e. An empty ID is generated; a zero timestamp is stamped now.
func (b *Backend) Create(ctx context.Context, e core.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.ID == "" {
		e.ID = b.newID()
	}
	if _, exists := b.entries[e.ID]; exists {
		return "", fmt.Errorf("entry %s already exists", e.ID)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	e.Color = core.ParseColor(string(e.Color))
	b.entries[e.ID] = e
	b.feed.Publish(core.Added(e))
	return e.ID, nil
}

// Delete removes one entry, returning storage.ErrNotFound if it is absent.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, storage.ErrNotFound)
	}
	delete(b.entries, id)
	b.feed.Publish(core.Removed(id))
	return nil
}

// BatchDelete removes every listed entry that exists, atomically.
func (b *Backend) BatchDelete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var changes []core.Change
	for _, id := range ids {
		if _, ok := b.entries[id]; ok {
			delete(b.entries, id)
			changes = append(changes, core.Removed(id))
		}
	}
	b.feed.Publish(changes...)
	return nil
}

// Fail reports a stream error to subscribers, as a transport would.
func (b *Backend) Fail(err error) {
	b.feed.Fail(err)
}

// Len returns the number of stored entries.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
