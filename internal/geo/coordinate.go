// Package geo provides the coordinate primitives shared by every routing
// component: WGS84 points, great-circle distance, and visit locations with
// service times and time windows.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusM is the mean Earth radius used by the Haversine formula.
	EarthRadiusM = 6371000.0

	// coordEpsilon is the equality precision for coordinates: 6 decimal
	// places, roughly 0.11 m at the equator.
	coordEpsilon = 1e-6
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the coordinate lies within the WGS84 domain.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return fmt.Errorf("geo: coordinate (%v, %v) contains NaN", c.Lat, c.Lon)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("geo: latitude %v out of range [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("geo: longitude %v out of range [-180, 180]", c.Lon)
	}
	return nil
}

// Equal reports whether two coordinates match at 6-decimal precision.
func (c Coordinate) Equal(other Coordinate) bool {
	return math.Abs(c.Lat-other.Lat) < coordEpsilon &&
		math.Abs(c.Lon-other.Lon) < coordEpsilon
}

// String renders "lat,lon" with 6-decimal precision.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// MicroLat returns the latitude in microdegrees, rounded. Microdegree
// resolution matches the 6-decimal equality precision, so two Equal
// coordinates share micro representations.
func (c Coordinate) MicroLat() int64 {
	return int64(math.Round(c.Lat * 1e6))
}

// MicroLon returns the longitude in microdegrees, rounded.
func (c Coordinate) MicroLon() int64 {
	return int64(math.Round(c.Lon * 1e6))
}

// Less orders coordinates by microdegree latitude, then longitude. It is the
// canonical ordering used when content-addressing coordinate sets.
func (c Coordinate) Less(other Coordinate) bool {
	la, lb := c.MicroLat(), other.MicroLat()
	if la != lb {
		return la < lb
	}
	return c.MicroLon() < other.MicroLon()
}

// HaversineM returns the great-circle distance in meters between a and b.
func HaversineM(a, b Coordinate) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLon*sinLon
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Dispersion returns the standard deviation, in meters, of the distances
// from the centroid of coords. Used by solver selection as a geographic
// spread feature. Returns 0 for fewer than two points.
func Dispersion(coords []Coordinate) float64 {
	if len(coords) < 2 {
		return 0
	}
	var cLat, cLon float64
	for _, c := range coords {
		cLat += c.Lat
		cLon += c.Lon
	}
	centroid := Coordinate{Lat: cLat / float64(len(coords)), Lon: cLon / float64(len(coords))}

	var sum, sumSq float64
	for _, c := range coords {
		d := HaversineM(centroid, c)
		sum += d
		sumSq += d * d
	}
	n := float64(len(coords))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
