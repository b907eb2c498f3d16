// Package nav moves the map camera to a point, either directly on a live
// surface or through a one-shot handoff stored for the next map load.
package nav

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/mapview"
)

const (
	PendingZoom     = 17
	PendingDuration = 4 * time.Second
	InPageZoom      = 15
	InPageDuration  = 2 * time.Second
)

// SetPending stores a destination for the next map load.
func SetPending(store kv.Store, lat, lng float64) error {
	if err := store.Set(kv.KeyNavLat, strconv.FormatFloat(lat, 'f', -1, 64)); err != nil {
		return fmt.Errorf("store pending lat: %w", err)
	}
	if err := store.Set(kv.KeyNavLng, strconv.FormatFloat(lng, 'f', -1, 64)); err != nil {
		return fmt.Errorf("store pending lng: %w", err)
	}
	return nil
}

// ConsumePending reads and clears the stored destination. Both keys are
// cleared even when the values do not parse.
func ConsumePending(store kv.Store) (lat, lng float64, ok bool) {
	rawLat, okLat := store.Get(kv.KeyNavLat)
	rawLng, okLng := store.Get(kv.KeyNavLng)
	if !okLat && !okLng {
		return 0, 0, false
	}
	_ = store.Remove(kv.KeyNavLat)
	_ = store.Remove(kv.KeyNavLng)
	if !okLat || !okLng {
		return 0, 0, false
	}

	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err = strconv.ParseFloat(rawLng, 64)
	if err != nil {
		return 0, 0, false
	}
	if !geo.ValidLatLng(lat, lng) {
		return 0, 0, false
	}
	return lat, lng, true
}

// FlyToPending consumes the handoff and flies the surface there. It reports
// whether a flight was started.
func FlyToPending(surface mapview.Surface, store kv.Store) bool {
	lat, lng, ok := ConsumePending(store)
	if !ok {
		return false
	}
	surface.FlyTo(lat, lng, PendingZoom, mapview.FlyOptions{Duration: PendingDuration, EaseLinearity: 1})
	return true
}

// Navigate flies a live surface to the point.
func Navigate(surface mapview.Surface, lat, lng float64) {
	surface.FlyTo(lat, lng, InPageZoom, mapview.FlyOptions{Duration: InPageDuration})
}
