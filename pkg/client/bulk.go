package client

import (
	"encoding/json"
	"fmt"

	"github.com/mnohosten/memdb/pkg/document"
)

// BulkOperation is one write of a bulk request. Type is "insert",
// "update", "replace" or "remove".
type BulkOperation struct {
	Type     string             `json:"type"`
	Document *document.Document `json:"document,omitempty"`
	Filter   *document.Document `json:"filter,omitempty"`
	Update   *document.Document `json:"update,omitempty"`
	Upsert   bool               `json:"upsert,omitempty"`
	Multi    bool               `json:"multi,omitempty"`
	JustOne  bool               `json:"justOne,omitempty"`
}

// BulkWriteError is a failed operation, by position in the request
type BulkWriteError struct {
	Index   int    `json:"index"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BulkResult totals the effects of a bulk write
type BulkResult struct {
	InsertedCount int               `json:"insertedCount"`
	MatchedCount  int               `json:"matchedCount"`
	ModifiedCount int               `json:"modifiedCount"`
	DeletedCount  int               `json:"deletedCount"`
	UpsertedCount int               `json:"upsertedCount"`
	InsertedIDs   []*document.Value `json:"insertedIds"`
	Upserted      []struct {
		Index int             `json:"index"`
		ID    *document.Value `json:"_id"`
	} `json:"upserted"`
	Errors []BulkWriteError `json:"writeErrors"`
}

// Bulk applies ops in order, stopping at the first failure
func (c *Collection) Bulk(ops []BulkOperation) (*BulkResult, error) {
	return c.BulkWrite(ops, true)
}

// BulkWrite applies ops in order. Unordered writes attempt every
// operation. When some fail, the partial result is returned with the
// server's error.
func (c *Collection) BulkWrite(ops []BulkOperation, ordered bool) (*BulkResult, error) {
	req := map[string]interface{}{
		"operations": ops,
		"ordered":    ordered,
	}

	var result BulkResult
	resp, err := c.post("bulk", req, &result)
	if err != nil {
		if resp == nil || len(resp.Result) == 0 {
			return nil, err
		}
		if jerr := json.Unmarshal(resp.Result, &result); jerr != nil {
			return nil, fmt.Errorf("failed to parse bulk result: %w", jerr)
		}
		return &result, err
	}
	return &result, nil
}
