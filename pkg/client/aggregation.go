package client

import (
	"github.com/mnohosten/memdb/pkg/document"
)

// Aggregate executes an aggregation pipeline
func (c *Collection) Aggregate(pipeline []*document.Document) ([]*document.Document, error) {
	if pipeline == nil {
		pipeline = []*document.Document{}
	}
	req := map[string]interface{}{"pipeline": pipeline}

	var results []*document.Document
	if _, err := c.post("aggregate", req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// NewPipeline creates a new aggregation pipeline builder
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{}
}

// PipelineBuilder helps build aggregation pipelines
type PipelineBuilder struct {
	stages []*document.Document
}

func (pb *PipelineBuilder) stage(name string, spec interface{}) *PipelineBuilder {
	st := document.NewDocument()
	st.Set(name, spec)
	pb.stages = append(pb.stages, st)
	return pb
}

// Match adds a $match stage to filter documents
func (pb *PipelineBuilder) Match(filter *document.Document) *PipelineBuilder {
	return pb.stage("$match", filter)
}

// Group adds a $group stage keyed by id. Accumulators are added in order.
func (pb *PipelineBuilder) Group(id interface{}, accumulators document.D) *PipelineBuilder {
	group := document.NewDocument()
	group.Set("_id", id)
	for _, acc := range accumulators {
		group.Set(acc.Key, acc.Value)
	}
	return pb.stage("$group", group)
}

// Project adds a $project stage to shape documents
func (pb *PipelineBuilder) Project(projection *document.Document) *PipelineBuilder {
	return pb.stage("$project", projection)
}

// Sort adds a $sort stage to order documents
func (pb *PipelineBuilder) Sort(sort *document.Document) *PipelineBuilder {
	return pb.stage("$sort", sort)
}

// Limit adds a $limit stage to limit the number of documents
func (pb *PipelineBuilder) Limit(limit int) *PipelineBuilder {
	return pb.stage("$limit", limit)
}

// Skip adds a $skip stage to skip documents
func (pb *PipelineBuilder) Skip(skip int) *PipelineBuilder {
	return pb.stage("$skip", skip)
}

// Unwind adds an $unwind stage for path, e.g. "$tags"
func (pb *PipelineBuilder) Unwind(path string) *PipelineBuilder {
	return pb.stage("$unwind", path)
}

// Out adds an $out stage writing the results to a collection
func (pb *PipelineBuilder) Out(collection string) *PipelineBuilder {
	return pb.stage("$out", collection)
}

// Build returns the completed pipeline
func (pb *PipelineBuilder) Build() []*document.Document {
	return pb.stages
}

// Execute runs the pipeline on the given collection
func (pb *PipelineBuilder) Execute(coll *Collection) ([]*document.Document, error) {
	return coll.Aggregate(pb.Build())
}

func accumulator(op string, arg interface{}) *document.Document {
	d := document.NewDocument()
	d.Set(op, arg)
	return d
}

// Sum creates a $sum accumulator
func Sum(field string) *document.Document {
	return accumulator("$sum", "$"+field)
}

// SumValue creates a $sum accumulator with a constant value
func SumValue(value interface{}) *document.Document {
	return accumulator("$sum", value)
}

// Avg creates an $avg accumulator
func Avg(field string) *document.Document {
	return accumulator("$avg", "$"+field)
}

// Min creates a $min accumulator
func Min(field string) *document.Document {
	return accumulator("$min", "$"+field)
}

// Max creates a $max accumulator
func Max(field string) *document.Document {
	return accumulator("$max", "$"+field)
}

// Push creates a $push accumulator
func Push(field string) *document.Document {
	return accumulator("$push", "$"+field)
}

// AddToSet creates an $addToSet accumulator
func AddToSet(field string) *document.Document {
	return accumulator("$addToSet", "$"+field)
}

// Count creates a count accumulator (sum of 1)
func Count() *document.Document {
	return SumValue(1)
}

// MapReduceOptions configures a map/reduce job. Map, Reduce and Finalize
// are CEL expressions evaluated by the server. Out is one of "inline",
// "replace", "merge" or "reduce"; the non-inline modes write to Target.
type MapReduceOptions struct {
	Map      string             `json:"map"`
	Reduce   string             `json:"reduce"`
	Finalize string             `json:"finalize,omitempty"`
	Query    *document.Document `json:"query,omitempty"`
	Sort     *document.Document `json:"sort,omitempty"`
	Limit    int                `json:"limit,omitempty"`
	Out      string             `json:"out,omitempty"`
	Target   string             `json:"target,omitempty"`
}

// MapReduceResult is the outcome of a map/reduce job. Results is set for
// inline output, Collection otherwise.
type MapReduceResult struct {
	Counts struct {
		Input  int `json:"input"`
		Emit   int `json:"emit"`
		Output int `json:"output"`
	} `json:"counts"`
	Results    []*document.Document `json:"results,omitempty"`
	Collection string               `json:"result,omitempty"`
}

// MapReduce runs a map/reduce job over the collection
func (c *Collection) MapReduce(opts MapReduceOptions) (*MapReduceResult, error) {
	var result MapReduceResult
	if _, err := c.post("mapReduce", opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GeoNearOptions configures a geoNear query
type GeoNearOptions struct {
	Query              *document.Document `json:"query,omitempty"`
	Limit              int                `json:"limit,omitempty"`
	Spherical          bool               `json:"spherical,omitempty"`
	MaxDistance        float64            `json:"maxDistance,omitempty"`
	DistanceMultiplier float64            `json:"distanceMultiplier,omitempty"`
}

// GeoNear returns the documents nearest to near, an [x, y] pair or a
// GeoJSON point, each with its distance
func (c *Collection) GeoNear(near *document.Value, opts GeoNearOptions) ([]*document.Document, error) {
	req := struct {
		Near *document.Value `json:"near"`
		GeoNearOptions
	}{near, opts}

	var docs []*document.Document
	if _, err := c.post("geoNear", req, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// TextSearch scores documents against the collection's text index and
// returns {score, obj} documents, best first. A limit of zero means 100.
func (c *Collection) TextSearch(search string, projection *document.Document, limit int) ([]*document.Document, error) {
	req := map[string]interface{}{"search": search, "limit": limit}
	if projection != nil {
		req["projection"] = projection
	}

	var docs []*document.Document
	if _, err := c.post("textSearch", req, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
