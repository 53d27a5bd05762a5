// Package aggregation executes aggregation pipelines. Every stage reads the
// materialized output of the previous stage and produces a new temporary
// collection; the source collection is never modified.
package aggregation

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// TempPrefix names the temporary collections stages materialize into
const TempPrefix = "tmp.agg."

// NearQuery parameterizes a $geoNear read
type NearQuery struct {
	Near        *document.Value
	Query       *document.Document
	Limit       int
	Spherical   bool
	MaxDistance float64
	Multiplier  float64
}

// Source is a collection a stage reads from or writes to
type Source interface {
	Name() string
	// Find returns copies of the matching documents
	Find(filter, sort *document.Document, skip, limit int) ([]*document.Document, error)
	Append(docs []*document.Document) error
	// Truncate removes every document, keeping indexes
	Truncate() error
	// GeoNear returns {dis, obj} documents nearest first
	GeoNear(q NearQuery) ([]*document.Document, error)
}

// Store resolves the collections a pipeline touches
type Store interface {
	// Existing returns a collection only if it exists
	Existing(name string) (Source, bool)
	// Target returns a collection, creating it if needed
	Target(name string) (Source, error)
	CreateTemp(name string) (Source, error)
	Drop(name string) error
	Logger() *slog.Logger
}

// Stage is a single stage in the pipeline
type Stage interface {
	Execute(rt *runtime, in Source) ([]*document.Document, error)
	Type() string
}

// runtime carries the store through one pipeline run
type runtime struct {
	store Store
}

// Pipeline represents a parsed aggregation pipeline
type Pipeline struct {
	stages []Stage
}

type stageFactory func(spec *document.Value) (Stage, error)

var factories map[string]stageFactory

func init() {
	factories = map[string]stageFactory{
		"$match":       newMatchStage,
		"$project":     newProjectStage,
		"$addFields":   newAddFieldsStage,
		"$group":       newGroupStage,
		"$sort":        newSortStage,
		"$skip":        newSkipStage,
		"$limit":       newLimitStage,
		"$unwind":      newUnwindStage,
		"$lookup":      newLookupStage,
		"$bucket":      newBucketStage,
		"$replaceRoot": newReplaceRootStage,
		"$sample":      newSampleStage,
		"$out":         newOutStage,
		"$count":       newCountStage,
		"$geoNear":     newGeoNearStage,
	}
}

// NewPipeline parses and validates every stage
func NewPipeline(stages []*document.Document) (*Pipeline, error) {
	p := &Pipeline{stages: make([]Stage, 0, len(stages))}

	for i, def := range stages {
		if def == nil || def.Len() != 1 {
			return nil, dberr.Stage(dberr.CodeStageSingleKey, "A pipeline stage specification object must contain exactly one field.")
		}
		name := def.FirstKey()
		factory, ok := factories[name]
		if !ok {
			return nil, dberr.Stage(dberr.CodeUnknownStage, "Unrecognized pipeline stage name: '%s'", name)
		}
		spec, _ := def.GetValue(name)
		stage, err := factory(spec)
		if err != nil {
			return nil, err
		}
		switch stage.(type) {
		case *GeoNearStage:
			if i != 0 {
				return nil, dberr.Stage(dberr.CodeGeoNearNotFirst, "$geoNear is only valid as the first stage in a pipeline.")
			}
		case *OutStage:
			if i != len(stages)-1 {
				return nil, dberr.Stage(dberr.CodeOutNotLast, "$out can only be the final stage in the pipeline")
			}
		}
		p.stages = append(p.stages, stage)
	}

	return p, nil
}

// Len returns the number of stages
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Run parses pipeline and executes it against source
func Run(store Store, source Source, pipeline []*document.Document) ([]*document.Document, error) {
	p, err := NewPipeline(pipeline)
	if err != nil {
		return nil, err
	}
	return p.Execute(store, source)
}

// Execute runs the stages in order. Intermediate results live in temporary
// collections that are dropped before Execute returns, on success or
// failure.
func (p *Pipeline) Execute(store Store, source Source) ([]*document.Document, error) {
	if len(p.stages) == 0 {
		return source.Find(nil, nil, 0, 0)
	}

	rt := &runtime{store: store}
	var temps []string
	defer func() {
		for _, name := range temps {
			if err := store.Drop(name); err != nil {
				store.Logger().Warn("failed to drop temporary collection", "collection", name, "error", err)
			}
		}
	}()

	cur := source
	for i, stage := range p.stages {
		docs, err := stage.Execute(rt, cur)
		if err != nil {
			return nil, fmt.Errorf("stage %s failed: %w", stage.Type(), err)
		}
		if i == len(p.stages)-1 {
			return docs, nil
		}

		name := TempPrefix + uuid.NewString()
		tmp, err := store.CreateTemp(name)
		if err != nil {
			return nil, err
		}
		temps = append(temps, name)
		if err := tmp.Append(docs); err != nil {
			return nil, err
		}
		cur = tmp
	}
	return nil, nil
}
