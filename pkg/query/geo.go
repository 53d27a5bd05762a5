package query

import (
	"math"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/geo"
)

// Near is a compiled $near or $nearSphere clause. Distances are radians
// when Spherical is set and coordinate units otherwise.
type Near struct {
	Path        string
	Point       geo.Point
	Spherical   bool
	MaxDistance float64 // negative when unbounded
	MinDistance float64

	geometry geo.Geometry
}

// Distance returns the distance from the near point to the closest
// location stored at the clause path
func (n *Near) Distance(doc *document.Document) (float64, bool) {
	return n.distanceOf(document.Resolve(doc, n.Path))
}

func (n *Near) distanceOf(vals []*document.Value) (float64, bool) {
	best, found := math.Inf(1), false
	for _, v := range vals {
		for _, loc := range Locations(v) {
			r, err := n.geometry.ToRegion(loc)
			if err != nil {
				continue
			}
			if d := n.geometry.Distance(n.Point, r, n.Spherical); d < best {
				best, found = d, true
			}
		}
	}
	return best, found
}

func (n *Near) accepts(d float64) bool {
	if n.MaxDistance >= 0 && d > n.MaxDistance {
		return false
	}
	return d >= n.MinDistance
}

// Locations splits an array of points into its elements; anything else is
// a single location
func Locations(v *document.Value) []*document.Value {
	if v.IsArray() {
		arr := v.Array()
		if len(arr) > 0 && (arr[0].IsArray() || arr[0].IsDocument()) {
			return arr
		}
	}
	return []*document.Value{v}
}

func (c *compiler) nearTest(op Operator, path string, operand *document.Value, siblings *document.Document) (valuesTest, error) {
	n := &Near{
		Path:        path,
		Spherical:   op == OpNearSphere,
		MaxDistance: -1,
		geometry:    c.geometry,
	}

	// meters are converted to radians for GeoJSON points
	scale := 1.0
	target := operand
	if d := operand.Document(); d != nil {
		if g, ok := d.GetValue(string(OpGeometry)); ok {
			target = g
			n.Spherical = true
			scale = geo.EarthRadius
			if err := n.readDistances(d, scale); err != nil {
				return nil, err
			}
		} else if d.Has("type") {
			n.Spherical = true
			scale = geo.EarthRadius
		}
	}

	p, err := geo.ParsePoint(target)
	if err != nil {
		return nil, dberr.Compilef("invalid point in %s: %v", op, err)
	}
	n.Point = p
	if err := n.readDistances(siblings, scale); err != nil {
		return nil, err
	}

	if c.near == nil {
		c.near = n
	}
	return func(vals []*document.Value) bool {
		d, ok := n.distanceOf(vals)
		return ok && n.accepts(d)
	}, nil
}

func (n *Near) readDistances(d *document.Document, scale float64) error {
	if v, ok := d.GetValue(string(OpMaxDistance)); ok {
		f, ok := v.Float64()
		if !ok || f < 0 {
			return dberr.Compilef("$maxDistance must be a non-negative number")
		}
		n.MaxDistance = f / scale
	}
	if v, ok := d.GetValue(string(OpMinDistance)); ok {
		f, ok := v.Float64()
		if !ok || f < 0 {
			return dberr.Compilef("$minDistance must be a non-negative number")
		}
		n.MinDistance = f / scale
	}
	return nil
}

func (c *compiler) withinTest(operand *document.Value) (valuesTest, error) {
	if !operand.IsDocument() {
		return nil, dberr.Compilef("$geoWithin needs a shape document")
	}
	shape, err := c.geometry.ToRegion(operand)
	if err != nil {
		return nil, dberr.Compilef("invalid $geoWithin shape: %v", err)
	}
	g := c.geometry
	return func(vals []*document.Value) bool {
		for _, v := range vals {
			for _, loc := range Locations(v) {
				r, err := g.ToRegion(loc)
				if err == nil && g.Contains(shape, r) {
					return true
				}
			}
		}
		return false
	}, nil
}

func (c *compiler) intersectsTest(operand *document.Value) (valuesTest, error) {
	d := operand.Document()
	if d == nil || !d.Has(string(OpGeometry)) {
		return nil, dberr.Compilef("$geoIntersects needs $geometry")
	}
	shape, err := c.geometry.ToRegion(operand)
	if err != nil {
		return nil, dberr.Compilef("invalid $geoIntersects shape: %v", err)
	}
	g := c.geometry
	return func(vals []*document.Value) bool {
		for _, v := range vals {
			for _, loc := range Locations(v) {
				r, err := g.ToRegion(loc)
				if err == nil && g.Intersects(shape, r) {
					return true
				}
			}
		}
		return false
	}, nil
}
