package database

import (
	"time"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/index"
	"github.com/mnohosten/memdb/pkg/query"
)

// GeoNear returns {dis, obj} documents for the located documents closest
// to near, nearest first. The collection must have exactly one geo index.
func (c *Collection) GeoNear(near *document.Value, opts GeoNearOptions) ([]*document.Document, error) {
	start := time.Now()
	out, err := c.geoNear(near, opts)
	c.observe("geoNear", start, err, opts.Query)
	return out, err
}

func (c *Collection) geoNear(near *document.Value, opts GeoNearOptions) ([]*document.Document, error) {
	if near == nil {
		return nil, dberr.BadValuef("'near' field must be point")
	}
	region, err := c.db.geometry.ToRegion(near)
	if err != nil {
		return nil, dberr.BadValuef("'near' field must be point: %v", err)
	}

	var filter query.Filter
	if opts.Query != nil && opts.Query.Len() > 0 {
		q, err := c.compile(opts.Query)
		if err != nil {
			return nil, err
		}
		filter = q
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var geoIndexes []*index.GeoIndex
	for _, idx := range c.indexes {
		if gi, ok := idx.(*index.GeoIndex); ok {
			geoIndexes = append(geoIndexes, gi)
		}
	}
	switch len(geoIndexes) {
	case 0:
		return nil, dberr.New(dberr.BadIndexSpec, dberr.CodeNoGeoIndex, "no geo indices for geoNear")
	case 1:
	default:
		return nil, dberr.New(dberr.BadIndexSpec, dberr.CodeNoGeoIndex, "more than one 2d index, not sure which to run geoNear on")
	}
	gi := geoIndexes[0]

	multiplier := opts.DistanceMultiplier
	if multiplier == 0 {
		multiplier = 1
	}

	hits := gi.GeoNear(region, func(id index.DocID) *document.Document { return c.docs[id] }, index.NearOptions{
		Filter:      filter,
		Limit:       opts.Limit,
		Spherical:   opts.Spherical || gi.Kind() == index.Kind2DSphere,
		MaxDistance: opts.MaxDistance,
	})

	out := make([]*document.Document, 0, len(hits))
	for _, hit := range hits {
		doc := document.NewDocument()
		doc.Set("dis", hit.Distance*multiplier)
		doc.Set("obj", c.docs[hit.ID].Clone())
		out = append(out, doc)
	}
	return out, nil
}
