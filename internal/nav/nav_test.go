package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/mapview"
)

func TestPendingHandoff_ConsumedOnce(t *testing.T) {
	store := kv.NewMemory()
	require.NoError(t, SetPending(store, 40.0, -73.5))

	lat, lng, ok := ConsumePending(store)
	require.True(t, ok)
	assert.Equal(t, 40.0, lat)
	assert.Equal(t, -73.5, lng)

	_, _, ok = ConsumePending(store)
	assert.False(t, ok)
	assert.Empty(t, store.Keys())
}

func TestConsumePending_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng string
		setLng   bool
	}{
		{"not a number", "abc", "1", true},
		{"out of range", "95", "1", true},
		{"lng missing", "10", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kv.NewMemory()
			require.NoError(t, store.Set(kv.KeyNavLat, tt.lat))
			if tt.setLng {
				require.NoError(t, store.Set(kv.KeyNavLng, tt.lng))
			}
			_, _, ok := ConsumePending(store)
			assert.False(t, ok)
			assert.Empty(t, store.Keys())
		})
	}
}

func TestFlyToPending(t *testing.T) {
	store := kv.NewMemory()
	layer := mapview.NewLayer(20, 0, 3)

	assert.False(t, FlyToPending(layer, store))
	assert.Empty(t, layer.Flights())

	require.NoError(t, SetPending(store, 51.5, -0.12))
	assert.True(t, FlyToPending(layer, store))

	flights := layer.Flights()
	require.Len(t, flights, 1)
	assert.Equal(t, mapview.Camera{Lat: 51.5, Lng: -0.12, Zoom: PendingZoom}, flights[0].Camera)
	assert.Equal(t, PendingDuration, flights[0].Options.Duration)
	assert.Equal(t, 1.0, flights[0].Options.EaseLinearity)
}

func TestNavigate(t *testing.T) {
	layer := mapview.NewLayer(20, 0, 3)
	Navigate(layer, 40, -73)

	assert.Equal(t, mapview.Camera{Lat: 40, Lng: -73, Zoom: InPageZoom}, layer.Camera())
	assert.Equal(t, InPageDuration, layer.Flights()[0].Options.Duration)
}
