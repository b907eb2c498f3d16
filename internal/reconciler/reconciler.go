// Package reconciler keeps the markers on a map surface in step with the
// entries change stream.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sonder-map/sonder/internal/cache"
	"github.com/sonder-map/sonder/internal/dispatcher"
	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/internal/mapview"
	"github.com/sonder-map/sonder/internal/render"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

// PreviewFunc opens the preview of an entry when its marker is clicked.
type PreviewFunc func(core.Entry)

// Reconciler owns the entry→marker map and the coordinate occupancy counts
// for one surface. All mutation goes through Apply.
type Reconciler struct {
	surface   mapview.Surface
	markers   *cache.MarkerCache
	occupancy *cache.OccupancyCache
	preview   PreviewFunc
	logger    *slog.Logger

	// mu serializes changes so a check-then-add is atomic
	mu sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for skipped entries and stream errors.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithPreview sets the marker click handler.
func WithPreview(f PreviewFunc) Option {
	return func(r *Reconciler) { r.preview = f }
}

// New creates a reconciler drawing on surface.
func New(surface mapview.Surface, opts ...Option) *Reconciler {
	r := &Reconciler{
		surface:   surface,
		markers:   cache.NewMarkerCache(),
		occupancy: cache.NewOccupancyCache(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply is the single entry point for change stream deliveries. Modified
// changes are ignored since entries are immutable once written.
func (r *Reconciler) Apply(c core.Change) {
	switch c.Type {
	case core.ChangeAdded:
		e := c.Entry
		if e.ID == "" {
			e.ID = c.ID
		}
		r.OnEntryAdded(e)
	case core.ChangeRemoved:
		r.OnEntryRemoved(c.ID)
	case core.ChangeModified:
		r.logger.Debug("Ignoring modified entry", "id", c.ID)
	default:
		r.logger.Warn("Unknown change type", "type", string(c.Type), "id", c.ID)
	}
}

// OnEntryAdded draws a marker for e unless one exists. Colliding entries are
// fanned out around the shared coordinate. It reports whether a marker was
// drawn.
func (r *Reconciler) OnEntryAdded(e core.Entry) bool {
	if !e.HasPosition() {
		r.logger.Warn("Skipping entry without a valid position", "id", e.ID)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markers.Has(e.ID) {
		return false
	}

	key := geo.OccupancyKey(e.Lat, e.Lng)
	occupant := r.claimSlot(key)
	lat, lng := geo.Jitter(e.Lat, e.Lng, occupant)

	visual := render.MarkerVisual(e)
	if r.preview != nil {
		preview, entry := r.preview, e
		visual.OnClick = func() { preview(entry) }
	}

	handle := r.surface.AddMarker(lat, lng, visual)
	r.markers.Add(core.MarkerRecord{
		EntryID:     e.ID,
		RenderedLat: lat,
		RenderedLng: lng,
		SlotKey:     key,
		Handle:      handle,
	})
	return true
}

// OnEntryRemoved takes the marker for entryID off the surface. Unknown IDs
// are ignored. It reports whether a marker was removed.
func (r *Reconciler) OnEntryRemoved(entryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.markers.Delete(entryID)
	if !ok {
		return false
	}
	r.surface.RemoveMarker(rec.Handle)
	r.releaseSlot(rec.SlotKey)
	return true
}

// claimSlot returns the 1-based occupant number for key.
func (r *Reconciler) claimSlot(key string) int {
	return r.occupancy.Claim(key)
}

// releaseSlot is called when a marker leaves. Occupancy is never given back,
// so a later entry at the same spot keeps fanning out.
func (r *Reconciler) releaseSlot(string) {}

// HandleStreamError logs a change stream failure. The stream owns retries.
func (r *Reconciler) HandleStreamError(err error) {
	r.logger.Error("Entries stream failed", "error", err)
}

// Register routes added, modified and removed events from d to Apply.
func (r *Reconciler) Register(d *dispatcher.Dispatcher) {
	h := func(e dispatcher.Event) (any, error) {
		r.Apply(e.Change)
		return nil, nil
	}
	d.Register(string(core.ChangeAdded), h, dispatcher.Logged())
	d.Register(string(core.ChangeModified), h, dispatcher.Logged())
	d.Register(string(core.ChangeRemoved), h, dispatcher.Logged())
}

// Run subscribes to sub and applies changes until ctx is done.
func (r *Reconciler) Run(ctx context.Context, sub storage.Subscriber) error {
	unsubscribe, err := sub.Subscribe(ctx, r.Apply, r.HandleStreamError)
	if err != nil {
		r.HandleStreamError(err)
		return fmt.Errorf("subscribe to entries: %w", err)
	}
	<-ctx.Done()
	unsubscribe()
	return nil
}

// Markers returns the live marker records ordered by entry ID.
func (r *Reconciler) Markers() []core.MarkerRecord {
	return r.markers.All()
}

// Count returns the number of live markers.
func (r *Reconciler) Count() int {
	return r.markers.Len()
}

// Occupancy returns how many markers have claimed the spot of lat, lng.
func (r *Reconciler) Occupancy(lat, lng float64) int {
	return r.occupancy.Count(geo.OccupancyKey(lat, lng))
}

// OccupiedCells returns the number of distinct spots claimed this session.
// Occupancy is never released, so a spot whose markers were all removed
// still counts.
func (r *Reconciler) OccupiedCells() int {
	return r.occupancy.Len()
}
