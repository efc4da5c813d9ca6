package geo

import (
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate. Lon first to match GeoJSON ordering.
type Point struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Valid reports whether both coordinates are finite and within WGS84 bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(p1, p2 Point) float64 {
	dLat := (p2.Lat - p1.Lat) * math.Pi / 180
	dLon := (p2.Lon - p1.Lon) * math.Pi / 180
	la1 := p1.Lat * math.Pi / 180
	la2 := p2.Lat * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// DistanceToSegment returns the distance in meters from p to the segment
// a-b. The projection is done in a planar lon/lat approximation, which is
// adequate at sector scale (single-digit kilometers); the final distance from
// the clamped projection point back to p is haversine.
func DistanceToSegment(p, a, b Point) float64 {
	_, t := projectOnSegment(p, a, b)
	cp := Point{
		Lon: a.Lon + t*(b.Lon-a.Lon),
		Lat: a.Lat + t*(b.Lat-a.Lat),
	}
	return Haversine(p, cp)
}

// projectOnSegment projects p onto the segment a-b in planar coordinates and
// returns the squared planar distance plus the clamped projection parameter.
func projectOnSegment(p, a, b Point) (float64, float64) {
	vx := b.Lon - a.Lon
	vy := b.Lat - a.Lat
	wx := p.Lon - a.Lon
	wy := p.Lat - a.Lat

	denom := vx*vx + vy*vy
	t := 0.0
	if denom > 0 {
		t = (wx*vx + wy*vy) / denom
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	dx := p.Lon - (a.Lon + t*vx)
	dy := p.Lat - (a.Lat + t*vy)
	return dx*dx + dy*dy, t
}

// Polyline is an ordered sequence of points approximating a road.
type Polyline []Point

// LengthMeters sums the haversine distances of all consecutive point pairs.
func (pl Polyline) LengthMeters() float64 {
	total := 0.0
	for i := 0; i+1 < len(pl); i++ {
		total += Haversine(pl[i], pl[i+1])
	}
	return total
}

// MinDistanceMeters returns the smallest distance from p to any segment of
// the polyline. Returns +Inf for polylines with fewer than two points.
func (pl Polyline) MinDistanceMeters(p Point) float64 {
	if len(pl) < 2 {
		return math.Inf(1)
	}
	min := math.Inf(1)
	for i := 0; i+1 < len(pl); i++ {
		if d := DistanceToSegment(p, pl[i], pl[i+1]); d < min {
			min = d
		}
	}
	return min
}

// DistanceAlongMeters returns the distance from the polyline's start to the
// point on the polyline nearest to p: the full lengths of every segment
// before the nearest one, plus the fractional distance within it. The second
// return is the distance from p to that nearest point. Both are NaN when the
// polyline has fewer than two points.
func (pl Polyline) DistanceAlongMeters(p Point) (float64, float64) {
	if len(pl) < 2 {
		return math.NaN(), math.NaN()
	}

	bestSeg := 0
	bestT := 0.0
	minSq := math.MaxFloat64
	for i := 0; i+1 < len(pl); i++ {
		sq, t := projectOnSegment(p, pl[i], pl[i+1])
		if sq < minSq {
			minSq = sq
			bestSeg = i
			bestT = t
		}
	}

	along := 0.0
	for i := 0; i < bestSeg; i++ {
		along += Haversine(pl[i], pl[i+1])
	}
	a, b := pl[bestSeg], pl[bestSeg+1]
	along += bestT * Haversine(a, b)

	cp := Point{
		Lon: a.Lon + bestT*(b.Lon-a.Lon),
		Lat: a.Lat + bestT*(b.Lat-a.Lat),
	}
	return along, Haversine(p, cp)
}
