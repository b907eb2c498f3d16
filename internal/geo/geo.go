package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Entries are kept in EPSG:4326 (lat/lng degrees). Stores that persist a
// geometry column use EPSG:3857 so the projected value can be read back
// without spatial extensions, as WKB.

// EarthRadiusMeters is the mean radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// JitterDistance is the radial offset, in degrees, between coincident markers.
const JitterDistance = 0.00008

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// DistanceMeters returns the great-circle distance between two points using
// the haversine formula.
func DistanceMeters(latA, lngA, latB, lngB float64) float64 {
	phiA := latA * math.Pi / 180
	phiB := latB * math.Pi / 180
	dPhi := (latB - latA) * math.Pi / 180
	dLambda := (lngB - lngA) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phiA)*math.Cos(phiB)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// OccupancyKey quantizes a coordinate to 5 decimal places (about 1.1m).
func OccupancyKey(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 5, 64) + "," + strconv.FormatFloat(lng, 'f', 5, 64)
}

// Jitter offsets a coordinate for the n-th occupant of a key. The first
// occupant keeps its position; later ones are spread around it at 60 degree
// steps, repeating after six.
func Jitter(lat, lng float64, occupant int) (float64, float64) {
	if occupant <= 1 {
		return lat, lng
	}
	angle := float64((occupant-1)*60) * math.Pi / 180
	return lat + math.Cos(angle)*JitterDistance, lng + math.Sin(angle)*JitterDistance
}

// ValidLatLng reports whether lat and lng are finite and in range.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ParseLatLng parses a "lat,lng" string.
func ParseLatLng(coords string) (lat, lng float64, err error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidCoordinates
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	if !ValidLatLng(lat, lng) {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidCoordinates, coords)
	}
	return lat, lng, nil
}

// Point builds an EPSG:4326 point (X = lng, Y = lat).
func Point(lat, lng float64) (geom.Point, error) {
	point, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: lng, Y: lat}})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return point, nil
}

// LatLng extracts lat/lng from an EPSG:4326 point.
func LatLng(p geom.Point) (lat, lng float64, ok bool) {
	c, ok := p.Coordinates()
	if !ok {
		return 0, 0, false
	}
	return c.Y, c.X, true
}

// Coords3857From4326 projects a longitude and latitude to web mercator.
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if !ValidLatLng(latitude, longitude) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	point, err = geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), err
	}
	return point, nil
}

// Coords4326From3857 is the inverse of Coords3857From4326.
func Coords4326From3857(p geom.Point) (lat, lng float64, err error) {
	c, ok := p.Coordinates()
	if !ok {
		return 0, 0, ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(3857, 4326)
	lng, lat, _ = f(c.X, c.Y, 0)
	return lat, lng, nil
}
