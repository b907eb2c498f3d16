package convert

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonder-map/sonder/internal/model"
	"github.com/sonder-map/sonder/pkg/core"
)

func TestCoreToEntry(t *testing.T) {
	ts := time.Date(2025, 12, 10, 8, 30, 0, 123456789, time.UTC)
	row := CoreToEntry(core.Entry{
		ID:        "e1",
		Lat:       40.0,
		Lng:       -73.0,
		Text:      "hello",
		Color:     "unknown",
		UserID:    "user_1",
		UserAgent: "Mozilla/5.0",
		Timestamp: ts,
	})

	assert.Equal(t, "e1", row.ID)
	assert.Equal(t, "black", row.Color)
	assert.Equal(t, ts.UnixMilli(), row.TimestampMs)
	require.NotNil(t, row.Lat)
	assert.Equal(t, 40.0, *row.Lat)
	assert.JSONEq(t, `{"userAgent":"Mozilla/5.0"}`, string(row.Extra))

	coords, ok := row.Location.Coordinates()
	require.True(t, ok)
	// web mercator x for -73 degrees
	assert.InDelta(t, -8126322.8, coords.X, 1)
}

func TestCoreToEntry_Unlocated(t *testing.T) {
	row := CoreToEntry(core.Entry{ID: "e2", Lat: core.Unlocated, Lng: core.Unlocated})

	assert.Nil(t, row.Lat)
	assert.Nil(t, row.Lng)
	assert.True(t, row.Location.IsEmpty())
	assert.Zero(t, row.TimestampMs)
	assert.JSONEq(t, `{}`, string(row.Extra))
}

func TestEntryToCore(t *testing.T) {
	lat, lng := 51.5, -0.12
	e := EntryToCore(model.Entry{
		ID:          "e3",
		TimestampMs: 1765355400123,
		UserID:      "u",
		Lat:         &lat,
		Lng:         &lng,
		Color:       "pink",
		Extra:       []byte(`{"userAgent":"curl"}`),
	})

	assert.Equal(t, time.UnixMilli(1765355400123).UTC(), e.Timestamp)
	assert.Equal(t, 51.5, e.Lat)
	assert.Equal(t, core.ColorPink, e.Color)
	assert.Equal(t, "curl", e.UserAgent)
	assert.True(t, e.HasPosition())
}

func TestEntryToCore_Unlocated(t *testing.T) {
	e := EntryToCore(model.Entry{ID: "e4"})
	assert.True(t, math.IsNaN(e.Lat))
	assert.False(t, e.HasPosition())
	assert.True(t, e.Timestamp.IsZero())
}

func TestRoundTrip(t *testing.T) {
	in := core.Entry{
		ID:        "e5",
		Lat:       10,
		Lng:       10,
		Text:      "x",
		Color:     core.ColorGreen,
		Song:      "https://open.spotify.com/track/1",
		SongTitle: "t",
		Artist:    "a",
		UserID:    "u",
		Timestamp: time.UnixMilli(1765355400000).UTC(),
	}
	out := EntriesToCore([]model.Entry{CoreToEntry(in)})
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0])
}
