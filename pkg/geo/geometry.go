package geo

import (
	"math"
)

// EarthRadius is the sphere radius in meters used to convert between
// meters and radians
const EarthRadius = 6378100.0

// Kind represents the type of a region
type Kind string

const (
	KindPoint        Kind = "Point"
	KindMultiPoint   Kind = "MultiPoint"
	KindLineString   Kind = "LineString"
	KindPolygon      Kind = "Polygon"
	KindMultiPolygon Kind = "MultiPolygon"
	KindBox          Kind = "Box"
	KindCircle       Kind = "Circle"
)

// Region represents a geographic shape
type Region interface {
	Kind() Kind
	Bounds() BoundingBox
	// Vertices returns the points that define the region
	Vertices() []Point
}

// Point represents a geographic point [longitude, latitude].
// For 2d indexes Lon and Lat are plain x and y.
type Point struct {
	Lon float64
	Lat float64
}

// NewPoint creates a point
func NewPoint(lon, lat float64) Point {
	return Point{Lon: lon, Lat: lat}
}

func (p Point) Kind() Kind { return KindPoint }

func (p Point) Bounds() BoundingBox {
	return BoundingBox{MinLon: p.Lon, MinLat: p.Lat, MaxLon: p.Lon, MaxLat: p.Lat}
}

func (p Point) Vertices() []Point { return []Point{p} }

// MultiPoint is a set of points
type MultiPoint struct {
	Points []Point
}

func (m MultiPoint) Kind() Kind            { return KindMultiPoint }
func (m MultiPoint) Bounds() BoundingBox   { return boundsOf(m.Points) }
func (m MultiPoint) Vertices() []Point     { return m.Points }

// LineString is an open path of points
type LineString struct {
	Points []Point
}

func (l LineString) Kind() Kind          { return KindLineString }
func (l LineString) Bounds() BoundingBox { return boundsOf(l.Points) }
func (l LineString) Vertices() []Point   { return l.Points }

// Polygon represents a closed polygon
type Polygon struct {
	// Outer ring (first element) and holes (remaining elements)
	Rings [][]Point
}

// NewPolygon creates a polygon, closing any open ring
func NewPolygon(rings [][]Point) Polygon {
	closed := make([][]Point, len(rings))
	for i, ring := range rings {
		if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
			ring = append(append([]Point{}, ring...), ring[0])
		}
		closed[i] = ring
	}
	return Polygon{Rings: closed}
}

func (p Polygon) Kind() Kind { return KindPolygon }

func (p Polygon) Bounds() BoundingBox {
	if len(p.Rings) == 0 {
		return BoundingBox{}
	}
	return boundsOf(p.Rings[0])
}

func (p Polygon) Vertices() []Point {
	if len(p.Rings) == 0 {
		return nil
	}
	return p.Rings[0]
}

// MultiPolygon is a set of polygons
type MultiPolygon struct {
	Polygons []Polygon
}

func (m MultiPolygon) Kind() Kind { return KindMultiPolygon }

func (m MultiPolygon) Bounds() BoundingBox {
	var pts []Point
	for _, p := range m.Polygons {
		pts = append(pts, p.Vertices()...)
	}
	return boundsOf(pts)
}

func (m MultiPolygon) Vertices() []Point {
	var pts []Point
	for _, p := range m.Polygons {
		pts = append(pts, p.Vertices()...)
	}
	return pts
}

// BoundingBox represents a rectangular bounding box
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

func (bb BoundingBox) Kind() Kind          { return KindBox }
func (bb BoundingBox) Bounds() BoundingBox { return bb }

func (bb BoundingBox) Vertices() []Point {
	return []Point{
		{bb.MinLon, bb.MinLat},
		{bb.MaxLon, bb.MinLat},
		{bb.MaxLon, bb.MaxLat},
		{bb.MinLon, bb.MaxLat},
		{bb.MinLon, bb.MinLat},
	}
}

// Contains checks if a point is within the bounding box
func (bb BoundingBox) Contains(p Point) bool {
	return p.Lon >= bb.MinLon && p.Lon <= bb.MaxLon &&
		p.Lat >= bb.MinLat && p.Lat <= bb.MaxLat
}

// Intersects checks if two bounding boxes intersect
func (bb BoundingBox) Intersects(other BoundingBox) bool {
	return !(bb.MaxLon < other.MinLon || bb.MinLon > other.MaxLon ||
		bb.MaxLat < other.MinLat || bb.MinLat > other.MaxLat)
}

// Circle is a center and radius. Spherical circles measure the radius in
// radians along the sphere, flat ones in coordinate units.
type Circle struct {
	Center    Point
	Radius    float64
	Spherical bool
}

func (c Circle) Kind() Kind { return KindCircle }

func (c Circle) Bounds() BoundingBox {
	r := c.Radius
	if c.Spherical {
		r = toDegrees(c.Radius)
	}
	return BoundingBox{
		MinLon: c.Center.Lon - r, MinLat: c.Center.Lat - r,
		MaxLon: c.Center.Lon + r, MaxLat: c.Center.Lat + r,
	}
}

func (c Circle) Vertices() []Point { return []Point{c.Center} }

// ContainsPoint reports whether p lies inside the circle
func (c Circle) ContainsPoint(p Point) bool {
	if c.Spherical {
		return SphericalDistance(c.Center, p) <= c.Radius
	}
	return Distance2D(c.Center, p) <= c.Radius
}

func boundsOf(points []Point) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}
	bb := points[0].Bounds()
	for _, p := range points[1:] {
		bb.MinLon = math.Min(bb.MinLon, p.Lon)
		bb.MaxLon = math.Max(bb.MaxLon, p.Lon)
		bb.MinLat = math.Min(bb.MinLat, p.Lat)
		bb.MaxLat = math.Max(bb.MaxLat, p.Lat)
	}
	return bb
}

// Distance2D calculates Euclidean distance between two points (planar)
func Distance2D(p1, p2 Point) float64 {
	dx := p2.Lon - p1.Lon
	dy := p2.Lat - p1.Lat
	if dx == 0 {
		return math.Abs(dy)
	}
	if dy == 0 {
		return math.Abs(dx)
	}
	return math.Sqrt(dx*dx + dy*dy)
}

// SphericalDistance returns the great-circle angle between two points in radians
func SphericalDistance(p1, p2 Point) float64 {
	lat1 := toRadians(p1.Lat)
	lat2 := toRadians(p2.Lat)
	deltaLat := toRadians(p2.Lat - p1.Lat)
	deltaLon := toRadians(p2.Lon - p1.Lon)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	if a > 1 {
		a = 1
	}
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// HaversineDistance returns the great-circle distance in meters
func HaversineDistance(p1, p2 Point) float64 {
	return SphericalDistance(p1, p2) * EarthRadius
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

func toDegrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// PointInPolygon checks if a point is inside a polygon, holes excluded.
// Points on the outer boundary count as inside.
func PointInPolygon(point Point, polygon Polygon) bool {
	if len(polygon.Rings) == 0 {
		return false
	}
	if onRing(point, polygon.Rings[0]) {
		return true
	}
	if !pointInRing(point, polygon.Rings[0]) {
		return false
	}
	for i := 1; i < len(polygon.Rings); i++ {
		if pointInRing(point, polygon.Rings[i]) {
			return false
		}
	}
	return true
}

// pointInRing uses ray casting to determine if point is in ring
func pointInRing(point Point, ring []Point) bool {
	if len(ring) < 3 {
		return false
	}

	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat

		intersect := ((yi > point.Lat) != (yj > point.Lat)) &&
			(point.Lon < (xj-xi)*(point.Lat-yi)/(yj-yi)+xi)
		if intersect {
			inside = !inside
		}
		j = i
	}
	return inside
}

func onRing(p Point, ring []Point) bool {
	for i := 0; i+1 < len(ring); i++ {
		if Distance2D(p, nearestOnSegment(p, ring[i], ring[i+1])) < 1e-12 {
			return true
		}
	}
	return false
}

// nearestOnSegment projects p onto segment ab
func nearestOnSegment(p, a, b Point) Point {
	dx, dy := b.Lon-a.Lon, b.Lat-a.Lat
	if dx == 0 && dy == 0 {
		return a
	}
	t := ((p.Lon-a.Lon)*dx + (p.Lat-a.Lat)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return Point{Lon: a.Lon + t*dx, Lat: a.Lat + t*dy}
}

// segmentsIntersect reports whether segments p1p2 and q1q2 cross or touch
func segmentsIntersect(p1, p2, q1, q2 Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) || (d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) || (d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, c Point) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

func onSegment(a, b, p Point) bool {
	return math.Min(a.Lon, b.Lon) <= p.Lon && p.Lon <= math.Max(a.Lon, b.Lon) &&
		math.Min(a.Lat, b.Lat) <= p.Lat && p.Lat <= math.Max(a.Lat, b.Lat)
}
