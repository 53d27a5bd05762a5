package geo

import (
	"math"
	"testing"

	"github.com/mnohosten/memdb/pkg/document"
)

func square(minX, minY, maxX, maxY float64) Polygon {
	return NewPolygon([][]Point{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY},
	}})
}

func TestNewPolygonClosesRing(t *testing.T) {
	p := square(0, 0, 10, 10)
	ring := p.Rings[0]
	if len(ring) != 5 {
		t.Fatalf("Expected 5 points in closed ring, got %d", len(ring))
	}
	if ring[0] != ring[4] {
		t.Error("Expected ring to be closed")
	}

	bounds := p.Bounds()
	if bounds.MinLon != 0 || bounds.MaxLon != 10 || bounds.MinLat != 0 || bounds.MaxLat != 10 {
		t.Errorf("Unexpected bounds %+v", bounds)
	}
}

func TestPointInPolygonWithHole(t *testing.T) {
	poly := NewPolygon([][]Point{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}},
	})

	tests := []struct {
		p      Point
		inside bool
	}{
		{Point{1, 1}, true},
		{Point{5, 5}, false},
		{Point{11, 5}, false},
		{Point{0, 5}, true}, // boundary
	}
	for _, tt := range tests {
		if got := PointInPolygon(tt.p, poly); got != tt.inside {
			t.Errorf("PointInPolygon(%v) = %v, expected %v", tt.p, got, tt.inside)
		}
	}
}

func TestDistances(t *testing.T) {
	if d := Distance2D(Point{0, 0}, Point{3, 4}); d != 5 {
		t.Errorf("Expected 5, got %f", d)
	}

	// Paris to London is roughly 343 km
	paris := Point{Lon: 2.3522, Lat: 48.8566}
	london := Point{Lon: -0.1276, Lat: 51.5074}
	km := HaversineDistance(paris, london) / 1000
	if km < 335 || km > 350 {
		t.Errorf("Expected about 343 km, got %f", km)
	}

	quarter := SphericalDistance(Point{0, 0}, Point{90, 0})
	if math.Abs(quarter-math.Pi/2) > 1e-9 {
		t.Errorf("Expected pi/2, got %f", quarter)
	}
}

func TestParseRegionShapes(t *testing.T) {
	tests := []struct {
		name string
		json string
		kind Kind
	}{
		{"legacy pair", `{"v": [1, 2]}`, KindPoint},
		{"lng lat", `{"v": {"lng": 1, "lat": 2}}`, KindPoint},
		{"geojson point", `{"v": {"type": "Point", "coordinates": [1, 2]}}`, KindPoint},
		{"geojson polygon", `{"v": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}`, KindPolygon},
		{"box", `{"v": {"$box": [[0, 0], [5, 5]]}}`, KindBox},
		{"center", `{"v": {"$center": [[0, 0], 2]}}`, KindCircle},
		{"polygon", `{"v": {"$polygon": [[0, 0], [3, 0], [0, 3]]}}`, KindPolygon},
		{"geometry wrapper", `{"v": {"$geometry": {"type": "MultiPoint", "coordinates": [[0,0],[1,1]]}}}`, KindMultiPoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := document.MustParseJSON(tt.json).GetValue("v")
			r, err := ParseRegion(v)
			if err != nil {
				t.Fatalf("ParseRegion failed: %v", err)
			}
			if r.Kind() != tt.kind {
				t.Errorf("Expected %s, got %s", tt.kind, r.Kind())
			}
		})
	}

	bad, _ := document.MustParseJSON(`{"v": "nowhere"}`).GetValue("v")
	if _, err := ParseRegion(bad); err == nil {
		t.Error("Expected error for a string geometry")
	}
}

func TestPlanarContainsAndIntersects(t *testing.T) {
	g := Planar{}
	box := BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 10, MaxLat: 10}

	if !g.Contains(box, Point{5, 5}) {
		t.Error("Expected box to contain its center")
	}
	if g.Contains(box, Point{15, 5}) {
		t.Error("Expected box not to contain outside point")
	}
	if !g.Contains(Circle{Center: Point{0, 0}, Radius: 2}, Point{1, 1}) {
		t.Error("Expected circle to contain (1,1)")
	}
	if !g.Intersects(square(5, 5, 15, 15), box) {
		t.Error("Expected overlapping squares to intersect")
	}
	if g.Intersects(square(20, 20, 30, 30), box) {
		t.Error("Expected distant squares not to intersect")
	}
	line := LineString{Points: []Point{{-5, 5}, {15, 5}}}
	if !g.Intersects(line, box) {
		t.Error("Expected a crossing line to intersect")
	}
}

func TestPlanarDistanceToPolygon(t *testing.T) {
	g := Planar{}
	poly := square(0, 0, 10, 10)

	if d := g.Distance(Point{5, 5}, poly, false); d != 0 {
		t.Errorf("Expected 0 inside polygon, got %f", d)
	}
	if d := g.Distance(Point{13, 5}, poly, false); math.Abs(d-3) > 1e-9 {
		t.Errorf("Expected 3, got %f", d)
	}
}
