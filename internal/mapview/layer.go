package mapview

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/pkg/core"
)

// Placed is a marker currently on a Layer.
type Placed struct {
	Handle core.MarkerHandle `json:"handle"`
	Lat    float64           `json:"lat"`
	Lng    float64           `json:"lng"`
	Visual core.Visual       `json:"visual"`
}

// Camera is the current view of a Layer.
type Camera struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom int     `json:"zoom"`
}

// Flight records a FlyTo request.
type Flight struct {
	Camera
	Options FlyOptions `json:"-"`
}

// Layer is an in-memory Surface. It keeps what a browser map would show so
// the state can be served or inspected.
type Layer struct {
	mu      sync.RWMutex
	next    core.MarkerHandle
	markers map[core.MarkerHandle]Placed
	camera  Camera
	flights []Flight
}

var _ Surface = (*Layer)(nil)

// NewLayer creates a layer looking at center with the given zoom.
func NewLayer(lat, lng float64, zoom int) *Layer {
	return &Layer{
		markers: make(map[core.MarkerHandle]Placed),
		camera:  Camera{Lat: lat, Lng: lng, Zoom: zoom},
	}
}

func (l *Layer) AddMarker(lat, lng float64, v core.Visual) core.MarkerHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.markers[l.next] = Placed{Handle: l.next, Lat: lat, Lng: lng, Visual: v}
	return l.next
}

func (l *Layer) RemoveMarker(h core.MarkerHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.markers, h)
}

func (l *Layer) FlyTo(lat, lng float64, zoom int, opts FlyOptions) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.camera = Camera{Lat: lat, Lng: lng, Zoom: zoom}
	l.flights = append(l.flights, Flight{Camera: l.camera, Options: opts})
}

// Markers returns the placed markers ordered by handle.
func (l *Layer) Markers() []Placed {
	l.mu.RLock()
	out := make([]Placed, 0, len(l.markers))
	for _, p := range l.markers {
		out = append(out, p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Camera returns the current view.
func (l *Layer) Camera() Camera {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.camera
}

// Flights returns every FlyTo request in order.
func (l *Layer) Flights() []Flight {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Flight(nil), l.flights...)
}

// Click runs the click handler of the marker drawn for entryID.
func (l *Layer) Click(entryID string) bool {
	l.mu.RLock()
	var onClick func()
	for _, p := range l.markers {
		if p.Visual.EntryID == entryID {
			onClick = p.Visual.OnClick
			break
		}
	}
	l.mu.RUnlock()
	if onClick == nil {
		return false
	}
	onClick()
	return true
}

// GeoJSON encodes the placed markers as a FeatureCollection of points.
func (l *Layer) GeoJSON() ([]byte, error) {
	placed := l.Markers()
	fc := make(geom.GeoJSONFeatureCollection, 0, len(placed))
	for _, p := range placed {
		pt, err := geo.Point(p.Lat, p.Lng)
		if err != nil {
			return nil, fmt.Errorf("marker %s: %w", p.Visual.EntryID, err)
		}
		fc = append(fc, geom.GeoJSONFeature{
			Geometry: pt.AsGeometry(),
			ID:       p.Visual.EntryID,
			Properties: map[string]interface{}{
				"color":       string(p.Visual.Color),
				"background":  p.Visual.Background,
				"foreground":  p.Visual.Foreground,
				"bubbleClass": p.Visual.BubbleClass,
				"text":        p.Visual.Text,
				"songInfo":    p.Visual.SongInfo,
			},
		})
	}
	return json.Marshal(fc)
}
