package database

import (
	"log/slog"
	"time"

	"github.com/mnohosten/memdb/pkg/aggregation"
	"github.com/mnohosten/memdb/pkg/document"
)

// Aggregate runs pipeline over the collection and returns the final
// stage's documents. The collection is read once per stage that reads it
// and never modified, except by $out naming it.
func (c *Collection) Aggregate(pipeline []*document.Document) ([]*document.Document, error) {
	start := time.Now()
	docs, err := aggregation.Run(pipelineStore{db: c.db}, pipelineSource{c: c}, pipeline)
	c.observe("aggregate", start, err, nil)
	if err != nil {
		c.db.logger.Debug("aggregation failed", "collection", c.Name(), "stages", len(pipeline), "error", err)
	}
	return docs, err
}

// pipelineStore exposes the database to aggregation stages
type pipelineStore struct {
	db *Database
}

func (s pipelineStore) Existing(name string) (aggregation.Source, bool) {
	s.db.mu.RLock()
	coll, ok := s.db.collections[name]
	s.db.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return pipelineSource{c: coll}, true
}

func (s pipelineStore) Target(name string) (aggregation.Source, error) {
	if !s.db.HasCollection(name) {
		if err := validateCollectionName(name); err != nil {
			return nil, err
		}
	}
	return pipelineSource{c: s.db.Collection(name)}, nil
}

func (s pipelineStore) CreateTemp(name string) (aggregation.Source, error) {
	coll, err := s.db.createTemp(name)
	if err != nil {
		return nil, err
	}
	return pipelineSource{c: coll}, nil
}

func (s pipelineStore) Drop(name string) error {
	return s.db.DropCollection(name)
}

func (s pipelineStore) Logger() *slog.Logger {
	return s.db.logger
}

// pipelineSource adapts a collection to aggregation.Source
type pipelineSource struct {
	c *Collection
}

func (s pipelineSource) Name() string {
	return s.c.Name()
}

func (s pipelineSource) Find(filter, sort *document.Document, skip, limit int) ([]*document.Document, error) {
	return s.c.find(filter, &FindOptions{Sort: sort, Skip: skip, Limit: limit})
}

func (s pipelineSource) Append(docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := s.c.Insert(docs...)
	return err
}

func (s pipelineSource) Truncate() error {
	s.c.mu.Lock()
	s.c.truncate()
	s.c.recordSize()
	s.c.mu.Unlock()
	return nil
}

func (s pipelineSource) GeoNear(q aggregation.NearQuery) ([]*document.Document, error) {
	return s.c.geoNear(q.Near, GeoNearOptions{
		Query:              q.Query,
		Limit:              q.Limit,
		Spherical:          q.Spherical,
		MaxDistance:        q.MaxDistance,
		DistanceMultiplier: q.Multiplier,
	})
}
