package geo

import (
	"fmt"
	"math"

	"github.com/mnohosten/memdb/pkg/document"
)

// Geometry is the capability the query engine and geo indexes use for
// spatial predicates
type Geometry interface {
	// ToRegion converts a stored value or a query shape into a region
	ToRegion(v *document.Value) (Region, error)
	// Contains reports whether inner lies entirely within outer
	Contains(outer, inner Region) bool
	// Intersects reports whether the regions share at least one point
	Intersects(a, b Region) bool
	// Distance returns the distance between the nearest points of a and b:
	// radians when spherical, coordinate units otherwise
	Distance(a, b Region, spherical bool) float64
}

// Default is the geometry used when none is injected
var Default Geometry = Planar{}

// Planar implements Geometry with flat polygons and optional spherical distances
type Planar struct{}

// ToRegion parses legacy pairs, {lng, lat} style documents, GeoJSON and
// the $box, $center, $centerSphere, $polygon and $geometry query shapes
func (Planar) ToRegion(v *document.Value) (Region, error) {
	return ParseRegion(v)
}

// Contains reports whether inner lies entirely within outer
func (Planar) Contains(outer, inner Region) bool {
	for _, p := range inner.Vertices() {
		if !containsPoint(outer, p) {
			return false
		}
	}
	return len(inner.Vertices()) > 0
}

// Intersects reports whether the regions share at least one point
func (g Planar) Intersects(a, b Region) bool {
	if !a.Bounds().Intersects(b.Bounds()) {
		return false
	}
	for _, p := range a.Vertices() {
		if containsPoint(b, p) {
			return true
		}
	}
	for _, p := range b.Vertices() {
		if containsPoint(a, p) {
			return true
		}
	}
	ea, eb := edges(a), edges(b)
	for _, s := range ea {
		for _, t := range eb {
			if segmentsIntersect(s[0], s[1], t[0], t[1]) {
				return true
			}
		}
	}
	return false
}

// Distance returns the distance between the nearest points of a and b
func (Planar) Distance(a, b Region, spherical bool) float64 {
	pa, pb := nearestPoints(a, b)
	if spherical {
		return SphericalDistance(pa, pb)
	}
	return Distance2D(pa, pb)
}

func containsPoint(r Region, p Point) bool {
	switch s := r.(type) {
	case Point:
		return s == p
	case MultiPoint:
		for _, q := range s.Points {
			if q == p {
				return true
			}
		}
	case LineString:
		for i := 0; i+1 < len(s.Points); i++ {
			if Distance2D(p, nearestOnSegment(p, s.Points[i], s.Points[i+1])) < 1e-12 {
				return true
			}
		}
	case Polygon:
		return PointInPolygon(p, s)
	case MultiPolygon:
		for _, poly := range s.Polygons {
			if PointInPolygon(p, poly) {
				return true
			}
		}
	case BoundingBox:
		return s.Contains(p)
	case Circle:
		return s.ContainsPoint(p)
	}
	return false
}

func edges(r Region) [][2]Point {
	var rings [][]Point
	switch s := r.(type) {
	case Polygon:
		rings = s.Rings
	case MultiPolygon:
		for _, p := range s.Polygons {
			rings = append(rings, p.Rings...)
		}
	case BoundingBox:
		rings = [][]Point{s.Vertices()}
	case LineString:
		rings = [][]Point{s.Points}
	}
	var out [][2]Point
	for _, ring := range rings {
		for i := 0; i+1 < len(ring); i++ {
			out = append(out, [2]Point{ring[i], ring[i+1]})
		}
	}
	return out
}

// nearestPoints finds the closest pair of points between two regions
func nearestPoints(a, b Region) (Point, Point) {
	if c, ok := b.(Circle); ok {
		return nearestPoints(a, c.Center)
	}
	if c, ok := a.(Circle); ok {
		return nearestPoints(c.Center, b)
	}

	best := math.Inf(1)
	var ba, bb Point
	consider := func(p, q Point) {
		if d := Distance2D(p, q); d < best {
			best, ba, bb = d, p, q
		}
	}

	for _, p := range a.Vertices() {
		if containsPoint(b, p) {
			return p, p
		}
	}
	for _, q := range b.Vertices() {
		if containsPoint(a, q) {
			return q, q
		}
	}

	eb := edges(b)
	for _, p := range a.Vertices() {
		for _, q := range b.Vertices() {
			consider(p, q)
		}
		for _, e := range eb {
			consider(p, nearestOnSegment(p, e[0], e[1]))
		}
	}
	for _, e := range edges(a) {
		for _, q := range b.Vertices() {
			consider(nearestOnSegment(q, e[0], e[1]), q)
		}
	}
	return ba, bb
}

// ParseRegion converts a document value into a region
func ParseRegion(v *document.Value) (Region, error) {
	if v == nil {
		return nil, fmt.Errorf("geometry is null")
	}
	if v.IsArray() {
		p, err := ParsePoint(v)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	doc := v.Document()
	if doc == nil {
		return nil, fmt.Errorf("can't extract geo keys from %s", v)
	}

	if raw, ok := doc.GetValue("$box"); ok {
		pts, err := parsePoints(raw)
		if err != nil || len(pts) != 2 {
			return nil, fmt.Errorf("$box needs two corner points")
		}
		return BoundingBox{
			MinLon: math.Min(pts[0].Lon, pts[1].Lon), MinLat: math.Min(pts[0].Lat, pts[1].Lat),
			MaxLon: math.Max(pts[0].Lon, pts[1].Lon), MaxLat: math.Max(pts[0].Lat, pts[1].Lat),
		}, nil
	}
	if raw, ok := doc.GetValue("$center"); ok {
		return parseCircle(raw, false)
	}
	if raw, ok := doc.GetValue("$centerSphere"); ok {
		return parseCircle(raw, true)
	}
	if raw, ok := doc.GetValue("$polygon"); ok {
		pts, err := parsePoints(raw)
		if err != nil || len(pts) < 3 {
			return nil, fmt.Errorf("$polygon needs at least three points")
		}
		return NewPolygon([][]Point{pts}), nil
	}
	if raw, ok := doc.GetValue("$geometry"); ok {
		return ParseRegion(raw)
	}
	if _, ok := doc.GetValue("type"); ok {
		return parseGeoJSON(doc)
	}

	p, err := ParsePoint(v)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ParsePoint reads [x, y], {lng, lat}, {x, y}, {longitude, latitude},
// a GeoJSON point or the first two numeric fields of a document
func ParsePoint(v *document.Value) (Point, error) {
	if v.IsArray() {
		arr := v.Array()
		if len(arr) < 2 {
			return Point{}, fmt.Errorf("point must have 2 coordinates")
		}
		lon, ok1 := arr[0].Float64()
		lat, ok2 := arr[1].Float64()
		if !ok1 || !ok2 {
			return Point{}, fmt.Errorf("point coordinates must be numbers")
		}
		return Point{Lon: lon, Lat: lat}, nil
	}

	doc := v.Document()
	if doc == nil {
		return Point{}, fmt.Errorf("can't extract geo keys from %s", v)
	}
	if t, ok := doc.GetValue("type"); ok {
		r, err := parseGeoJSON(doc)
		if err != nil {
			return Point{}, err
		}
		if name, _ := t.StringValue(); name != string(KindPoint) {
			// non-point GeoJSON is represented by its first vertex
			return r.Vertices()[0], nil
		}
		return r.(Point), nil
	}
	for _, pair := range [][2]string{{"lng", "lat"}, {"x", "y"}, {"longitude", "latitude"}} {
		x, okx := doc.GetValue(pair[0])
		y, oky := doc.GetValue(pair[1])
		if okx && oky {
			lon, ok1 := x.Float64()
			lat, ok2 := y.Float64()
			if ok1 && ok2 {
				return Point{Lon: lon, Lat: lat}, nil
			}
		}
	}
	var coords []float64
	doc.Each(func(_ string, val *document.Value) bool {
		if f, ok := val.Float64(); ok {
			coords = append(coords, f)
		}
		return len(coords) < 2
	})
	if len(coords) == 2 {
		return Point{Lon: coords[0], Lat: coords[1]}, nil
	}
	return Point{}, fmt.Errorf("can't extract geo keys from %s", v)
}

func parseCircle(raw *document.Value, spherical bool) (Region, error) {
	arr := raw.Array()
	if len(arr) != 2 {
		return nil, fmt.Errorf("circle needs [center, radius]")
	}
	center, err := ParsePoint(arr[0])
	if err != nil {
		return nil, err
	}
	radius, ok := arr[1].Float64()
	if !ok || radius < 0 {
		return nil, fmt.Errorf("circle radius must be a non-negative number")
	}
	return Circle{Center: center, Radius: radius, Spherical: spherical}, nil
}

func parsePoints(raw *document.Value) ([]Point, error) {
	if !raw.IsArray() {
		return nil, fmt.Errorf("coordinates must be an array")
	}
	pts := make([]Point, 0, len(raw.Array()))
	for _, item := range raw.Array() {
		p, err := ParsePoint(item)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func parseRings(raw *document.Value) ([][]Point, error) {
	if !raw.IsArray() {
		return nil, fmt.Errorf("coordinates must be an array")
	}
	rings := make([][]Point, 0, len(raw.Array()))
	for _, ringRaw := range raw.Array() {
		ring, err := parsePoints(ringRaw)
		if err != nil {
			return nil, err
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// parseGeoJSON parses a GeoJSON-like object
func parseGeoJSON(doc *document.Document) (Region, error) {
	t, _ := doc.GetValue("type")
	name, _ := t.StringValue()
	coords, ok := doc.GetValue("coordinates")
	if !ok {
		return nil, fmt.Errorf("missing coordinates field")
	}

	switch Kind(name) {
	case KindPoint:
		return ParsePoint(coords)
	case KindMultiPoint:
		pts, err := parsePoints(coords)
		if err != nil {
			return nil, err
		}
		return MultiPoint{Points: pts}, nil
	case KindLineString:
		pts, err := parsePoints(coords)
		if err != nil {
			return nil, err
		}
		return LineString{Points: pts}, nil
	case KindPolygon:
		rings, err := parseRings(coords)
		if err != nil {
			return nil, err
		}
		if len(rings) == 0 {
			return nil, fmt.Errorf("polygon needs at least one ring")
		}
		return NewPolygon(rings), nil
	case KindMultiPolygon:
		if !coords.IsArray() {
			return nil, fmt.Errorf("coordinates must be an array")
		}
		multi := MultiPolygon{}
		for _, polyRaw := range coords.Array() {
			rings, err := parseRings(polyRaw)
			if err != nil {
				return nil, err
			}
			multi.Polygons = append(multi.Polygons, NewPolygon(rings))
		}
		return multi, nil
	}
	return nil, fmt.Errorf("unknown GeoJSON type %q", name)
}
