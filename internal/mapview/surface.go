// Package mapview defines the map surface markers are drawn on, and a
// headless implementation used by the daemon and tests.
package mapview

import (
	"time"

	"github.com/sonder-map/sonder/pkg/core"
)

// FlyOptions controls an animated camera move.
type FlyOptions struct {
	Duration      time.Duration
	EaseLinearity float64
}

// Surface is a map that can hold marker visuals and move its camera.
type Surface interface {
	AddMarker(lat, lng float64, v core.Visual) core.MarkerHandle
	RemoveMarker(h core.MarkerHandle)
	FlyTo(lat, lng float64, zoom int, opts FlyOptions)
}
