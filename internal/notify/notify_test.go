package notify

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/internal/storage/memory"
	"github.com/sonder-map/sonder/pkg/core"
)

var now = time.Date(2025, 12, 11, 9, 0, 0, 0, time.UTC)

// northOf returns the latitude meters north of lat along a meridian.
func northOf(lat, meters float64) float64 {
	return lat + meters/geo.EarthRadiusMeters*180/math.Pi
}

type fixture struct {
	store *memory.Backend
	kv    *kv.Memory
}

func newFixture(t *testing.T, entries ...core.Entry) fixture {
	t.Helper()
	f := fixture{store: memory.New(memory.WithClock(func() time.Time { return now })), kv: kv.NewMemory()}
	for _, e := range entries {
		_, err := f.store.Create(context.Background(), e)
		require.NoError(t, err)
	}
	return f
}

func (f fixture) notifier(opts ...Option) *Notifier {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(f.store, f.kv, "me", opts...)
}

func anchor() core.Entry {
	return core.Entry{ID: "mine", Lat: 40.0, Lng: -73.0, UserID: "me", Timestamp: now.Add(-48 * time.Hour)}
}

func TestScan_NearbyEntryByOtherUser(t *testing.T) {
	f := newFixture(t, anchor(), core.Entry{
		ID:        "theirs",
		Lat:       northOf(40.0, 199.9),
		Lng:       -73.0,
		UserID:    "them",
		Timestamp: now.Add(-time.Hour),
	})
	n := f.notifier()

	got, err := n.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	p := got[0]
	assert.Equal(t, "mine_theirs", p.ID)
	assert.Equal(t, 200, p.DistanceMeters)
	assert.False(t, p.Read)
	assert.Equal(t, 40.0, p.OwnEntryLat)
	assert.Equal(t, "1 hour ago", geo.FormatRelativeTime(p.OccurredAt, now))
	assert.Equal(t, "200m from", geo.FormatDistanceBand(float64(p.DistanceMeters)))
	assert.Equal(t, 1, n.UnreadCount())
	assert.Equal(t, now, n.LastScan())
}

func TestScan_Exclusions(t *testing.T) {
	tests := []struct {
		name      string
		candidate core.Entry
	}{
		{"older than window", core.Entry{ID: "old", Lat: 40.0001, Lng: -73.0, UserID: "them", Timestamp: now.Add(-10 * 24 * time.Hour)}},
		{"same author", core.Entry{ID: "own", Lat: 40.0, Lng: -73.0, UserID: "me", Timestamp: now.Add(-time.Hour)}},
		{"too far", core.Entry{ID: "far", Lat: northOf(40.0, 200.1), Lng: -73.0, UserID: "them", Timestamp: now.Add(-time.Hour)}},
		{"no position", core.Entry{ID: "nowhere", Lat: core.Unlocated, Lng: core.Unlocated, UserID: "them", Timestamp: now.Add(-time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, anchor(), tt.candidate)
			got, err := f.notifier().Scan(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestScan_NoAnchors(t *testing.T) {
	f := newFixture(t, core.Entry{ID: "theirs", Lat: 40, Lng: -73, UserID: "them", Timestamp: now})
	got, err := f.notifier().Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, f.notifier().UnreadCount())
}

func TestMatch_RadiusBoundary(t *testing.T) {
	a := core.Entry{ID: "a", Lat: 10, Lng: 10, UserID: "me"}
	exact := core.Entry{ID: "exact", Lat: northOf(10, 200.0), Lng: 10, UserID: "them", Timestamp: now}
	over := core.Entry{ID: "over", Lat: northOf(10, 200.1), Lng: 10, UserID: "them", Timestamp: now}

	got := Match("me", []core.Entry{a}, []core.Entry{exact, over}, 200, now)
	require.Len(t, got, 1)
	assert.Equal(t, "a_exact", got[0].ID)
}

func TestMatch_OrderAndDedupe(t *testing.T) {
	anchors := []core.Entry{
		{ID: "a1", Lat: 10, Lng: 10, UserID: "me"},
		{ID: "a2", Lat: 10.0001, Lng: 10, UserID: "me"},
	}
	candidates := []core.Entry{
		{ID: "old", Lat: 10, Lng: 10, UserID: "x", Timestamp: now.Add(-3 * time.Hour)},
		{ID: "new", Lat: 10, Lng: 10, UserID: "y", Timestamp: now.Add(-time.Hour)},
		// redelivered candidate
		{ID: "new", Lat: 10, Lng: 10, UserID: "y", Timestamp: now.Add(-time.Hour)},
		// unstamped entries count as now
		{ID: "pending", Lat: 10, Lng: 10, UserID: "z"},
	}

	got := Match("me", anchors, candidates, 200, now)
	ids := make([]string, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"a1_pending", "a2_pending", "a1_new", "a2_new", "a1_old", "a2_old"}, ids)
	assert.Equal(t, now, got[0].OccurredAt)
}

func TestScan_IdentityStableAndReadFlags(t *testing.T) {
	f := newFixture(t, anchor(),
		core.Entry{ID: "c1", Lat: 40.0001, Lng: -73.0, UserID: "them", Timestamp: now.Add(-time.Hour)},
		core.Entry{ID: "c2", Lat: 40.0002, Lng: -73.0, UserID: "them", Timestamp: now.Add(-2 * time.Hour)},
	)
	n := f.notifier()

	first, err := n.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)

	require.NoError(t, n.MarkRead("mine_c2"))
	assert.Equal(t, 1, n.UnreadCount())

	second, err := n.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.False(t, second[0].Read)
	assert.True(t, second[1].Read)

	// a fresh notifier over the same store sees the persisted read
	fresh := f.notifier()
	_, err = fresh.Scan(context.Background())
	require.NoError(t, err)
	p, ok := fresh.Get("mine_c2")
	require.True(t, ok)
	assert.True(t, p.Read)
}

// readDuringLoad marks a notification read from another goroutine while a
// scan reloads the seen set.
type readDuringLoad struct {
	*kv.Memory
	armed  atomic.Bool
	mark   func() error
	marked chan error
}

func (s *readDuringLoad) Get(key string) (string, bool) {
	if key == kv.KeySeenNotifications && s.armed.CompareAndSwap(true, false) {
		go func() { s.marked <- s.mark() }()
		select {
		case err := <-s.marked:
			s.marked <- err
		case <-time.After(50 * time.Millisecond):
		}
	}
	return s.Memory.Get(key)
}

func TestScan_KeepsReadMarkedDuringReload(t *testing.T) {
	f := newFixture(t, anchor(),
		core.Entry{ID: "c1", Lat: 40.0001, Lng: -73.0, UserID: "them", Timestamp: now.Add(-time.Hour)},
	)
	store := &readDuringLoad{Memory: f.kv, marked: make(chan error, 1)}
	n := New(f.store, store, "me", WithClock(func() time.Time { return now }))
	_, err := n.Scan(context.Background())
	require.NoError(t, err)

	store.mark = func() error { return n.MarkRead("mine_c1") }
	store.armed.Store(true)
	_, err = n.Scan(context.Background())
	require.NoError(t, err)
	select {
	case err := <-store.marked:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mark read never finished")
	}

	p, ok := n.Get("mine_c1")
	require.True(t, ok)
	assert.True(t, p.Read)
	assert.Equal(t, 0, n.UnreadCount())

	raw, _ := f.kv.Get(kv.KeySeenNotifications)
	assert.JSONEq(t, `["mine_c1"]`, raw)

	// the next scan still sees it read
	_, err = n.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n.UnreadCount())
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newFixture(t)
	n := f.notifier()

	require.NoError(t, n.MarkRead("x_y"))
	require.NoError(t, n.MarkRead("x_y"))

	raw, ok := f.kv.Get(kv.KeySeenNotifications)
	require.True(t, ok)
	assert.JSONEq(t, `["x_y"]`, raw)
}

func TestMarkAllRead_Converges(t *testing.T) {
	f := newFixture(t, anchor(),
		core.Entry{ID: "c1", Lat: 40.0001, Lng: -73.0, UserID: "them", Timestamp: now.Add(-time.Hour)},
		core.Entry{ID: "c2", Lat: 40.0002, Lng: -73.0, UserID: "them", Timestamp: now.Add(-2 * time.Hour)},
	)
	require.NoError(t, f.kv.Set(kv.KeySeenNotifications, `["older_one"]`))
	n := f.notifier()

	_, err := n.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.MarkRead("mine_c1"))
	require.NoError(t, n.MarkAllRead())
	assert.Equal(t, 0, n.UnreadCount())

	raw, _ := f.kv.Get(kv.KeySeenNotifications)
	assert.JSONEq(t, `["older_one","mine_c1","mine_c2"]`, raw)

	// with nothing loaded it still holds
	empty := New(memory.New(), kv.NewMemory(), "me")
	require.NoError(t, empty.MarkAllRead())
	assert.Equal(t, 0, empty.UnreadCount())
}

func TestNew_CorruptSeenSet(t *testing.T) {
	store := kv.NewMemory()
	require.NoError(t, store.Set(kv.KeySeenNotifications, "{not json"))
	n := New(memory.New(), store, "me")
	require.NoError(t, n.MarkRead("a_b"))

	raw, _ := store.Get(kv.KeySeenNotifications)
	assert.JSONEq(t, `["a_b"]`, raw)
}

type flakyQuerier struct {
	storage.Querier
	fail bool
}

func (q *flakyQuerier) Query(ctx context.Context, query storage.Query) ([]core.Entry, error) {
	if q.fail {
		return nil, errors.New("unavailable")
	}
	return q.Querier.Query(ctx, query)
}

func TestScan_FailureKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t, anchor(),
		core.Entry{ID: "c1", Lat: 40.0001, Lng: -73.0, UserID: "them", Timestamp: now.Add(-time.Hour)},
	)
	q := &flakyQuerier{Querier: f.store}
	n := New(q, f.kv, "me", WithClock(func() time.Time { return now }))

	before, err := n.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, before, 1)

	q.fail = true
	after, err := n.Scan(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch own entries")
	assert.Equal(t, before, after)
	assert.Equal(t, before, n.Notifications())
}

type slowQuerier struct{}

func (slowQuerier) Query(ctx context.Context, _ storage.Query) ([]core.Entry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestScan_Timeout(t *testing.T) {
	n := New(slowQuerier{}, kv.NewMemory(), "me", WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := n.Scan(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOptions(t *testing.T) {
	n := New(memory.New(), kv.NewMemory(), "me",
		WithWindow(time.Hour), WithRadius(50), WithMaxCandidates(10), WithTimeout(time.Second))
	assert.Equal(t, time.Hour, n.window)
	assert.Equal(t, 50.0, n.radius)
	assert.Equal(t, 10, n.maxCandidates)
	assert.Equal(t, time.Second, n.timeout)
	assert.Equal(t, "me", n.Owner())
}
