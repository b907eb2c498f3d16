// Package notify finds entries other people posted near the owner's own
// entries and tracks which of those notifications have been read.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

const (
	DefaultWindow        = 7 * 24 * time.Hour
	DefaultRadius        = 200.0
	DefaultMaxCandidates = 500
	DefaultTimeout       = 15 * time.Second
)

// Notifier holds the latest scan result for one owner. The seen set is
// only written through MarkRead and MarkAllRead.
type Notifier struct {
	querier storage.Querier
	store   kv.Store
	owner   string

	window        time.Duration
	radius        float64
	maxCandidates int
	timeout       time.Duration
	now           func() time.Time
	logger        *slog.Logger

	scanMu sync.Mutex // one scan at a time

	mu            sync.RWMutex
	notifications []core.ProximityNotification
	seen          *SeenSet
	lastScan      time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithWindow sets how far back candidate entries are considered.
func WithWindow(d time.Duration) Option {
	return func(n *Notifier) { n.window = d }
}

// WithRadius sets the inclusive proximity radius in meters.
func WithRadius(meters float64) Option {
	return func(n *Notifier) { n.radius = meters }
}

// WithMaxCandidates caps the recent entries fetched per scan.
func WithMaxCandidates(max int) Option {
	return func(n *Notifier) { n.maxCandidates = max }
}

// WithTimeout bounds the queries of one scan.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// New creates a notifier for owner. The seen set is loaded from store.
func New(querier storage.Querier, store kv.Store, owner string, opts ...Option) *Notifier {
	n := &Notifier{
		querier:       querier,
		store:         store,
		owner:         owner,
		window:        DefaultWindow,
		radius:        DefaultRadius,
		maxCandidates: DefaultMaxCandidates,
		timeout:       DefaultTimeout,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.seen = n.loadSeen()
	return n
}

func (n *Notifier) loadSeen() *SeenSet {
	seen, err := LoadSeenSet(n.store)
	if err != nil {
		n.logger.Warn("Discarding unreadable seen notifications", "error", err)
	}
	return seen
}

// Owner returns the user ID notifications are computed for.
func (n *Notifier) Owner() string {
	return n.owner
}

// Scan recomputes the notifications. On a query failure the previous
// result is kept and returned along with the error.
func (n *Notifier) Scan(ctx context.Context) ([]core.ProximityNotification, error) {
	n.scanMu.Lock()
	defer n.scanMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	found, err := n.scan(ctx)
	if err != nil {
		n.logger.Error("Error checking for nearby entries", "owner", n.owner, "error", err)
		return n.Notifications(), err
	}

	n.mu.Lock()
	// pick up reads persisted by other processes sharing the store,
	// keeping every read already recorded here
	seen := n.loadSeen()
	for _, id := range n.seen.IDs() {
		seen.Add(id)
	}
	for i := range found {
		found[i].Read = seen.Has(found[i].ID)
	}
	n.seen = seen
	n.notifications = found
	n.lastScan = n.now()
	n.mu.Unlock()

	return n.Notifications(), nil
}

func (n *Notifier) scan(ctx context.Context) ([]core.ProximityNotification, error) {
	anchors, err := n.querier.Query(ctx, storage.ByOwner(n.owner))
	if err != nil {
		return nil, fmt.Errorf("fetch own entries: %w", err)
	}
	if len(anchors) == 0 {
		return []core.ProximityNotification{}, nil
	}

	now := n.now()
	candidates, err := n.querier.Query(ctx, storage.RecentSince(now.Add(-n.window), n.maxCandidates))
	if err != nil {
		return nil, fmt.Errorf("fetch recent entries: %w", err)
	}

	return Match(n.owner, anchors, candidates, n.radius, now), nil
}

// Notifications returns a copy of the latest scan result, newest first.
func (n *Notifier) Notifications() []core.ProximityNotification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]core.ProximityNotification, len(n.notifications))
	copy(out, n.notifications)
	return out
}

// Get returns the current notification with id.
func (n *Notifier) Get(id string) (core.ProximityNotification, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.notifications {
		if p.ID == id {
			return p, true
		}
	}
	return core.ProximityNotification{}, false
}

// LastScan returns when the last successful scan finished.
func (n *Notifier) LastScan() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastScan
}

// MarkRead records id as seen and flags the current notification read.
// Marking an already seen ID does nothing.
func (n *Notifier) MarkRead(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.seen.Add(id) {
		return nil
	}
	for i := range n.notifications {
		if n.notifications[i].ID == id {
			n.notifications[i].Read = true
		}
	}
	return n.persist()
}

// MarkAllRead records every current notification as seen.
func (n *Notifier) MarkAllRead() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := range n.notifications {
		n.seen.Add(n.notifications[i].ID)
		n.notifications[i].Read = true
	}
	return n.persist()
}

func (n *Notifier) persist() error {
	if err := n.seen.Save(n.store); err != nil {
		n.logger.Error("Failed to persist seen notifications", "error", err)
		return err
	}
	return nil
}

// UnreadCount returns the number of current notifications not yet read.
func (n *Notifier) UnreadCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	count := 0
	for _, p := range n.notifications {
		if !p.Read {
			count++
		}
	}
	return count
}
