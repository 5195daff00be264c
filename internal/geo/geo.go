// Package geo provides great-circle helpers in nautical miles.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusNM is the mean Earth radius in nautical miles.
const EarthRadiusNM = 3440.065

// NMPerDegreeLat is the length of one degree of latitude.
const NMPerDegreeLat = 60.0

// DistanceNM returns the haversine distance between two points.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusNM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// RoundToCell snaps v to the nearest multiple of cell.
func RoundToCell(v, cell float64) float64 {
	if cell <= 0 {
		return v
	}
	return math.Round(v/cell) * cell
}

// CellKey returns a stable string key for the grid cell containing a point.
func CellKey(lat, lon, cell float64) string {
	if cell <= 0 {
		return fmt.Sprintf("%.6f,%.6f", lat, lon)
	}
	return fmt.Sprintf("%d,%d", int64(math.Round(lat/cell)), int64(math.Round(lon/cell)))
}

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Centroid returns the arithmetic mean of the points. Good enough for the
// small polygons used by weather advisories; not valid across the antimeridian.
func Centroid(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: sumLat / n, Lon: sumLon / n}, true
}

// HeadingDelta returns the signed smallest turn from a to b in degrees,
// in the range (-180, 180].
func HeadingDelta(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// Contains reports whether p lies inside the polygon using the even-odd
// rule. The polygon need not be closed. Not valid across the antimeridian.
func Contains(polygon []Point, p Point) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	j := len(polygon) - 1
	for i := range polygon {
		a, b := polygon[i], polygon[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			lonAt := a.Lon + (p.Lat-a.Lat)*(b.Lon-a.Lon)/(b.Lat-a.Lat)
			if p.Lon < lonAt {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// DistanceToPolygonNM returns 0 when p is inside the polygon and otherwise
// the distance to its nearest edge. Edges are measured on a local flat
// projection centred on p, which holds for advisory-sized areas.
func DistanceToPolygonNM(polygon []Point, p Point) float64 {
	switch len(polygon) {
	case 0:
		return math.Inf(1)
	case 1:
		return DistanceNM(p.Lat, p.Lon, polygon[0].Lat, polygon[0].Lon)
	}
	if Contains(polygon, p) {
		return 0
	}

	cosLat := math.Cos(p.Lat * math.Pi / 180)
	project := func(q Point) (float64, float64) {
		return (q.Lon - p.Lon) * NMPerDegreeLat * cosLat, (q.Lat - p.Lat) * NMPerDegreeLat
	}

	best := math.Inf(1)
	j := len(polygon) - 1
	for i := range polygon {
		ax, ay := project(polygon[j])
		bx, by := project(polygon[i])
		if d := originToSegment(ax, ay, bx, by); d < best {
			best = d
		}
		j = i
	}
	return best
}

// originToSegment returns the distance from (0,0) to the segment a-b.
func originToSegment(ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = math.Max(0, math.Min(1, -(ax*dx+ay*dy)/lenSq))
	}
	return math.Hypot(ax+t*dx, ay+t*dy)
}
