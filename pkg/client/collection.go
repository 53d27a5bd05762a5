package client

import (
	"net/http"

	"github.com/mnohosten/memdb/pkg/document"
)

// Collection represents a database collection
type Collection struct {
	client *Client
	name   string
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) post(action string, body, out interface{}) (*Response, error) {
	return c.client.call(http.MethodPost, collectionPath(c.name, action), body, out)
}

// Insert inserts documents in order and returns their _id values. On error
// the documents before the failing one stay inserted.
func (c *Collection) Insert(docs ...*document.Document) ([]*document.Value, error) {
	var result struct {
		InsertedIDs []*document.Value `json:"insertedIds"`
	}
	req := map[string]interface{}{"documents": docs}
	if _, err := c.post("insert", req, &result); err != nil {
		return nil, err
	}
	return result.InsertedIDs, nil
}

// InsertOne inserts a single document and returns its _id
func (c *Collection) InsertOne(doc *document.Document) (*document.Value, error) {
	ids, err := c.Insert(doc)
	if err != nil {
		return nil, err
	}
	return ids[0], nil
}

// FindOptions represents options for find queries
type FindOptions struct {
	// Projection specifies which fields to include/exclude
	Projection *document.Document `json:"projection,omitempty"`
	// Sort specifies the sort order (e.g., {"age": 1, "name": -1})
	Sort  *document.Document `json:"sort,omitempty"`
	Skip  int                `json:"skip,omitempty"`
	Limit int                `json:"limit,omitempty"`
}

type findRequest struct {
	Filter *document.Document `json:"filter,omitempty"`
	FindOptions
}

// Find returns the documents matching filter
func (c *Collection) Find(filter *document.Document, opts *FindOptions) ([]*document.Document, error) {
	req := findRequest{Filter: filter}
	if opts != nil {
		req.FindOptions = *opts
	}

	var docs []*document.Document
	if _, err := c.post("find", req, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// FindOne returns the first matching document. A miss is a NotFound error.
func (c *Collection) FindOne(filter *document.Document, opts *FindOptions) (*document.Document, error) {
	req := findRequest{Filter: filter}
	if opts != nil {
		req.FindOptions = *opts
	}

	var doc *document.Document
	if _, err := c.post("findOne", req, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Count counts documents matching a filter
func (c *Collection) Count(filter *document.Document) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	req := map[string]interface{}{}
	if filter != nil {
		req["filter"] = filter
	}
	if _, err := c.post("count", req, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Distinct returns the distinct values of key among matching documents
func (c *Collection) Distinct(key string, filter *document.Document) ([]*document.Value, error) {
	req := map[string]interface{}{"key": key}
	if filter != nil {
		req["filter"] = filter
	}

	var values []*document.Value
	if _, err := c.post("distinct", req, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// UpdateResult reports the outcome of an update
type UpdateResult struct {
	Matched    int             `json:"matched"`
	Modified   int             `json:"modified"`
	UpsertedID *document.Value `json:"upsertedId,omitempty"`
}

// Update applies an operator document or a replacement to the first match,
// or to every match when multi is set
func (c *Collection) Update(filter, update *document.Document, upsert, multi bool) (*UpdateResult, error) {
	req := map[string]interface{}{
		"update": update,
		"upsert": upsert,
		"multi":  multi,
	}
	if filter != nil {
		req["filter"] = filter
	}

	var result UpdateResult
	if _, err := c.post("update", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Remove deletes the matching documents and returns how many were removed
func (c *Collection) Remove(filter *document.Document, justOne bool) (int, error) {
	req := map[string]interface{}{"justOne": justOne}
	if filter != nil {
		req["filter"] = filter
	}

	var result struct {
		Removed int `json:"removed"`
	}
	if _, err := c.post("remove", req, &result); err != nil {
		return 0, err
	}
	return result.Removed, nil
}

// FindAndModifyOptions mirrors the findAndModify command
type FindAndModifyOptions struct {
	Query  *document.Document `json:"query,omitempty"`
	Sort   *document.Document `json:"sort,omitempty"`
	Update *document.Document `json:"update,omitempty"`
	Remove bool               `json:"remove,omitempty"`
	New    bool               `json:"new,omitempty"`
	Upsert bool               `json:"upsert,omitempty"`
	Fields *document.Document `json:"fields,omitempty"`
}

// FindAndModify updates or removes one document. It returns nil when
// nothing matched and no document was upserted.
func (c *Collection) FindAndModify(opts FindAndModifyOptions) (*document.Document, error) {
	var result struct {
		Value *document.Document `json:"value"`
	}
	if _, err := c.post("findAndModify", opts, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// CollectionStats represents statistics for a single collection
type CollectionStats struct {
	NS           string                            `json:"ns"`
	Count        int                               `json:"count"`
	Size         int                               `json:"size"`
	NIndexes     int                               `json:"nindexes"`
	IndexDetails map[string]map[string]interface{} `json:"indexDetails"`
}

// Stats retrieves collection statistics
func (c *Collection) Stats() (*CollectionStats, error) {
	var stats CollectionStats
	if _, err := c.client.call(http.MethodGet, collectionPath(c.name, "stats"), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Rename moves the collection to a new name and returns the new handle
func (c *Collection) Rename(to string) (*Collection, error) {
	req := map[string]string{"to": to}
	if _, err := c.post("rename", req, nil); err != nil {
		return nil, err
	}
	return c.client.Collection(to), nil
}

// Drop drops the collection
func (c *Collection) Drop() error {
	return c.client.DropCollection(c.name)
}
