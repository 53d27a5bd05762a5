package database

import (
	"time"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/index"
	"github.com/mnohosten/memdb/pkg/query"
)

// TextSearch runs search against the collection's text index and returns
// {score, obj} documents, best score first. Each word or quoted phrase
// found adds 0.75 to a document's score; documents containing a "-word"
// are excluded. A limit of zero or less means 100.
func (c *Collection) TextSearch(search string, projection *document.Document, limit int) ([]*document.Document, error) {
	start := time.Now()
	out, err := c.textSearch(search, projection, limit)
	c.observe("textSearch", start, err, nil)
	return out, err
}

func (c *Collection) textSearch(search string, projection *document.Document, limit int) ([]*document.Document, error) {
	proj, err := query.ParseProjection(projection, c.db.queryOptions()...)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	ti := c.textIndexLocked()
	if ti == nil {
		return nil, dberr.New(dberr.BadIndexSpec, dberr.CodeIndexNotFound, "text index required for $text query")
	}

	hits := ti.Search(search, func(id index.DocID) *document.Document { return c.docs[id] }, nil, limit)
	out := make([]*document.Document, 0, len(hits))
	for _, hit := range hits {
		doc := document.NewDocument()
		doc.Set("score", hit.Score)
		doc.Set("obj", proj.Apply(c.docs[hit.ID]))
		out = append(out, doc)
	}
	c.db.metrics.RecordScan(c.name, true)
	return out, nil
}
