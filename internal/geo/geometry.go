// Package geo evaluates points against geofence zones. Every function is
// pure and safe for concurrent use.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether p lies in the WGS84 coordinate range.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the Haversine great-circle distance in meters.
func Distance(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := lat2 - lat1
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h marginally above 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// InCircle reports whether p is within radius meters of center.
// The boundary is inclusive.
func InCircle(p, center Point, radius float64) bool {
	return Distance(p, center) <= radius
}

// InPolygon runs a ray cast over the ordered vertex list. Polygons with
// fewer than three vertices never contain a point.
func InPolygon(p Point, polygon []Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := polygon[i], polygon[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lng < (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lng {
			inside = !inside
		}
	}
	return inside
}

// NearestIndex returns the index of the route point closest to p and the
// distance to it. It returns -1 for an empty route.
func NearestIndex(p Point, route []Point) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, r := range route {
		if d := Distance(p, r); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
