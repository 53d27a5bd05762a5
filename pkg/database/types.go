package database

import (
	"github.com/mnohosten/memdb/pkg/document"
)

// FindOptions holds options for queries
type FindOptions struct {
	Projection *document.Document
	Sort       *document.Document
	Skip       int
	Limit      int // 0 means no limit
}

// UpdateResult reports the outcome of an update
type UpdateResult struct {
	Matched    int
	Modified   int
	UpsertedID *document.Value // set when an upsert inserted a document
}

// IndexOptions holds options for index creation
type IndexOptions struct {
	Name   string // defaults to the key pattern name, e.g. "a_1_b_-1"
	Unique bool
	Sparse bool
}

// IndexInfo describes one index of a collection
type IndexInfo struct {
	Name   string
	Key    *document.Document
	Kind   string
	Unique bool
	Sparse bool
	Size   int
}

// ToDocument renders the index the way index listings show it
func (i IndexInfo) ToDocument(ns string) *document.Document {
	doc := document.NewDocument()
	doc.Set("v", 1)
	doc.Set("key", i.Key.Clone())
	doc.Set("name", i.Name)
	doc.Set("ns", ns)
	if i.Unique {
		doc.Set("unique", true)
	}
	if i.Sparse {
		doc.Set("sparse", true)
	}
	return doc
}

// FindAndModifyOptions configures FindAndModify. Exactly one of Update and
// Remove must be set.
type FindAndModifyOptions struct {
	Query     *document.Document
	Sort      *document.Document
	Update    *document.Document
	Remove    bool
	ReturnNew bool
	Upsert    bool
	Fields    *document.Document
}

// GeoNearOptions configures GeoNear
type GeoNearOptions struct {
	Query              *document.Document
	Limit              int // defaults to 100
	Spherical          bool
	MaxDistance        float64 // zero or negative when unbounded
	DistanceMultiplier float64 // zero means 1
}

// CollectionOptions configures CreateCollection
type CollectionOptions struct {
	// Validator is a filter every inserted or updated document must match;
	// a top-level $jsonSchema is supported
	Validator *document.Document
	// MaxDocuments overrides the database-wide document ceiling
	MaxDocuments int
}

// CollectionStats summarizes a collection
type CollectionStats struct {
	Name      string
	Count     int
	Size      int // total BSON size of the stored documents
	Indexes   int
	IndexInfo map[string]map[string]interface{}
}
