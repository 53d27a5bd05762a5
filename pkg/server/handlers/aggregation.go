package handlers

import (
	"net/http"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
)

// AggregateRequest represents an aggregation request
type AggregateRequest struct {
	Pipeline []*document.Document `json:"pipeline"`
}

// MapReduceRequest is the body of mapReduce. Out is one of inline,
// replace, merge or reduce.
type MapReduceRequest struct {
	Map      string             `json:"map"`
	Reduce   string             `json:"reduce"`
	Finalize string             `json:"finalize"`
	Query    *document.Document `json:"query"`
	Sort     *document.Document `json:"sort"`
	Limit    int                `json:"limit"`
	Out      string             `json:"out"`
	Target   string             `json:"target"`
}

// GeoNearRequest is the body of geoNear
type GeoNearRequest struct {
	Near               *document.Value    `json:"near"`
	Query              *document.Document `json:"query"`
	Limit              int                `json:"limit"`
	Spherical          bool               `json:"spherical"`
	MaxDistance        float64            `json:"maxDistance"`
	DistanceMultiplier float64            `json:"distanceMultiplier"`
}

// TextSearchRequest is the body of textSearch
type TextSearchRequest struct {
	Search     string             `json:"search"`
	Projection *document.Document `json:"projection"`
	Limit      int                `json:"limit"`
}

// Aggregate executes an aggregation pipeline. An empty pipeline returns
// every document.
func (h *Handlers) Aggregate(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req AggregateRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	docs, err := coll.Aggregate(req.Pipeline)
	if err != nil {
		h.logger(r).Debug("aggregation failed", "collection", coll.Name(), "stages", len(req.Pipeline), "error", err)
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	writeSuccessWithCount(w, docs, len(docs))
}

// MapReduce runs a map/reduce job with CEL map, reduce and finalize
// expressions
func (h *Handlers) MapReduce(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req MapReduceRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	res, err := coll.MapReduce(database.MapReduceOptions{
		Map:           req.Map,
		Reduce:        req.Reduce,
		Finalize:      req.Finalize,
		Query:         req.Query,
		Sort:          req.Sort,
		Limit:         req.Limit,
		Out:           database.OutputMode(req.Out),
		OutCollection: req.Target,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	result := map[string]interface{}{
		"counts": map[string]int{
			"input":  res.Input,
			"emit":   res.Emit,
			"output": res.Output,
		},
	}
	if res.Collection != "" {
		result["result"] = res.Collection
	} else {
		result["results"] = res.Results
	}
	writeSuccess(w, result)
}

// GeoNear returns documents nearest to a point with their distances
func (h *Handlers) GeoNear(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req GeoNearRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	docs, err := coll.GeoNear(req.Near, database.GeoNearOptions{
		Query:              req.Query,
		Limit:              req.Limit,
		Spherical:          req.Spherical,
		MaxDistance:        req.MaxDistance,
		DistanceMultiplier: req.DistanceMultiplier,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	writeSuccessWithCount(w, docs, len(docs))
}

// TextSearch scores documents against the collection's text index
func (h *Handlers) TextSearch(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req TextSearchRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	docs, err := coll.TextSearch(req.Search, req.Projection, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccessWithCount(w, docs, len(docs))
}
