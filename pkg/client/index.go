package client

import (
	"net/http"
	"net/url"

	"github.com/mnohosten/memdb/pkg/document"
)

// IndexOptions represents options for creating an index
type IndexOptions struct {
	// Name defaults to the key pattern name, e.g. "a_1_b_-1"
	Name   string
	Unique bool
	Sparse bool
}

// CreateIndex creates an index on the collection and returns its name.
// Key values are 1, -1, "2d", "2dsphere", "hashed" or "text".
func (c *Collection) CreateIndex(key *document.Document, opts IndexOptions) (string, error) {
	req := map[string]interface{}{
		"key":    key,
		"unique": opts.Unique,
		"sparse": opts.Sparse,
	}
	if opts.Name != "" {
		req["name"] = opts.Name
	}

	var result struct {
		Index string `json:"index"`
	}
	if _, err := c.post("indexes", req, &result); err != nil {
		return "", err
	}
	return result.Index, nil
}

// EnsureIndex creates an ascending index on a single field
func (c *Collection) EnsureIndex(field string, unique bool) (string, error) {
	key := document.NewDocument()
	key.Set(field, 1)
	return c.CreateIndex(key, IndexOptions{Unique: unique})
}

// ListIndexes lists the index descriptions {v, key, name, ns, ...}
func (c *Collection) ListIndexes() ([]*document.Document, error) {
	var indexes []*document.Document
	if _, err := c.client.call(http.MethodGet, collectionPath(c.name, "indexes"), nil, &indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

// DropIndex drops an index by name; "*" drops every index but _id
func (c *Collection) DropIndex(name string) error {
	path := collectionPath(c.name, "indexes/"+url.PathEscape(name))
	_, err := c.client.doRequest(http.MethodDelete, path, nil)
	return err
}

// DropIndexes drops every index but _id
func (c *Collection) DropIndexes() error {
	return c.DropIndex("*")
}
