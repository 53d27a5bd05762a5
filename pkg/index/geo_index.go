package index

import (
	"sort"

	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/geo"
	"github.com/mnohosten/memdb/pkg/query"
)

// DefaultGeoNearLimit caps GeoNear results when no limit is given
const DefaultGeoNearLimit = 100

// GeoIndex is a 2d or 2dsphere index. Each indexed document carries the
// regions derived from its first key field; documents without a usable
// location are not indexed.
type GeoIndex struct {
	*keyed
	geometry geo.Geometry
	regions  map[DocID][]geo.Region
}

// GeoResult is one GeoNear hit. Distance is in radians for spherical
// searches and coordinate units otherwise.
type GeoResult struct {
	Distance float64
	ID       DocID
}

// NearOptions configures GeoNear
type NearOptions struct {
	Filter      query.Filter
	Limit       int
	Spherical   bool
	MaxDistance float64 // zero or negative when unbounded
}

func newGeoIndex(base *keyed, g geo.Geometry) *GeoIndex {
	return &GeoIndex{keyed: base, geometry: g, regions: make(map[DocID][]geo.Region)}
}

// Field returns the location field
func (gi *GeoIndex) Field() string {
	return gi.fields[0]
}

func (gi *GeoIndex) regionsOf(doc *document.Document) []geo.Region {
	var out []geo.Region
	for _, v := range document.Resolve(doc, gi.Field()) {
		for _, loc := range query.Locations(v) {
			if r, err := gi.geometry.ToRegion(loc); err == nil {
				out = append(out, r)
			}
		}
	}
	return out
}

// AddOrUpdate implements Index
func (gi *GeoIndex) AddOrUpdate(id DocID, doc, old *document.Document) error {
	regions := gi.regionsOf(doc)
	if len(regions) == 0 {
		if old != nil {
			gi.Remove(id, old)
		}
		return nil
	}
	if _, indexed := gi.regions[id]; !indexed {
		old = nil
	}
	if err := gi.keyed.AddOrUpdate(id, doc, old); err != nil {
		return err
	}
	gi.regions[id] = regions
	return nil
}

// Remove implements Index
func (gi *GeoIndex) Remove(id DocID, doc *document.Document) {
	if _, ok := gi.regions[id]; !ok {
		return
	}
	gi.keyed.Remove(id, doc)
	delete(gi.regions, id)
}

// Clear drops every entry
func (gi *GeoIndex) Clear() {
	gi.keyed.Clear()
	gi.regions = make(map[DocID][]geo.Region)
}

// CanHandle only accepts queries with a geo operator on the location field
func (gi *GeoIndex) CanHandle(q *document.Document) bool {
	return hasGeoOperator(gi.Field(), q) && coversFields(gi.fields, q)
}

// Candidates returns every located document for geo queries
func (gi *GeoIndex) Candidates(q *document.Document) ([]DocID, bool) {
	if !hasGeoOperator(gi.Field(), q) {
		return nil, false
	}
	gi.lookups.Add(1)
	return gi.Values(), true
}

// GeoNear returns the documents passing opts.Filter ordered by distance
// from near, truncated to opts.Limit. lookup resolves ids to documents.
func (gi *GeoIndex) GeoNear(near geo.Region, lookup func(DocID) *document.Document, opts NearOptions) []GeoResult {
	gi.lookups.Add(1)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultGeoNearLimit
	}

	ids := make([]DocID, 0, len(gi.regions))
	for id := range gi.regions {
		ids = append(ids, id)
	}
	sortIDs(ids)

	results := make([]GeoResult, 0, len(ids))
	for _, id := range ids {
		if opts.Filter != nil {
			doc := lookup(id)
			if doc == nil || !opts.Filter.Match(doc) {
				continue
			}
		}
		best := -1.0
		for _, r := range gi.regions[id] {
			if d := gi.geometry.Distance(near, r, opts.Spherical); best < 0 || d < best {
				best = d
			}
		}
		if opts.MaxDistance > 0 && best > opts.MaxDistance {
			continue
		}
		results = append(results, GeoResult{Distance: best, ID: id})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
