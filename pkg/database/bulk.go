package database

import (
	"fmt"
	"time"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// Bulk operation types
const (
	BulkInsert  = "insert"
	BulkUpdate  = "update"
	BulkReplace = "replace"
	BulkRemove  = "remove"
	BulkDelete  = "delete" // alias of remove
)

// BulkOperation is one write of a bulk request. Insert uses Document;
// update uses Filter and Update; replace uses Filter and Document as the
// replacement; remove uses Filter and deletes every match unless JustOne.
type BulkOperation struct {
	Type     string             `json:"type"`
	Document *document.Document `json:"document,omitempty"`
	Filter   *document.Document `json:"filter,omitempty"`
	Update   *document.Document `json:"update,omitempty"`
	Upsert   bool               `json:"upsert,omitempty"`
	Multi    bool               `json:"multi,omitempty"`
	JustOne  bool               `json:"justOne,omitempty"`
}

// BulkWriteError reports a failed operation by its position in the request
type BulkWriteError struct {
	Index   int    `json:"index"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *BulkWriteError) Error() string {
	return fmt.Sprintf("bulk write operation %d failed: %s", e.Index, e.Message)
}

func (e *BulkWriteError) Unwrap() error {
	return e.err
}

// BulkUpsert is a document inserted by an upserting update or replace
type BulkUpsert struct {
	Index int             `json:"index"`
	ID    *document.Value `json:"_id"`
}

// BulkWriteResult totals the effects of a bulk write
type BulkWriteResult struct {
	InsertedCount int               `json:"insertedCount"`
	MatchedCount  int               `json:"matchedCount"`
	ModifiedCount int               `json:"modifiedCount"`
	DeletedCount  int               `json:"deletedCount"`
	UpsertedCount int               `json:"upsertedCount"`
	InsertedIDs   []*document.Value `json:"insertedIds"`
	Upserted      []BulkUpsert      `json:"upserted"`
	Errors        []BulkWriteError  `json:"writeErrors"`
}

// BulkWrite applies ops in order. An ordered write stops at the first
// failure; an unordered one attempts every operation and collects the
// failures. Operations before a failure are not rolled back. The result
// always holds what was applied; the error is the first failure.
func (c *Collection) BulkWrite(ops []BulkOperation, ordered bool) (*BulkWriteResult, error) {
	start := time.Now()
	result := &BulkWriteResult{
		InsertedIDs: []*document.Value{},
		Upserted:    []BulkUpsert{},
		Errors:      []BulkWriteError{},
	}
	for i, op := range ops {
		if err := c.applyBulk(i, op, result); err != nil {
			result.Errors = append(result.Errors, BulkWriteError{
				Index:   i,
				Code:    dberr.CodeOf(err),
				Message: err.Error(),
				err:     err,
			})
			if ordered {
				break
			}
		}
	}

	var err error
	if len(result.Errors) > 0 {
		err = &result.Errors[0]
	}
	c.observe("bulkWrite", start, err, nil)
	return result, err
}

func (c *Collection) applyBulk(i int, op BulkOperation, result *BulkWriteResult) error {
	switch op.Type {
	case BulkInsert:
		if op.Document == nil {
			return dberr.BadValuef("insert requires a document")
		}
		ids, err := c.Insert(op.Document)
		if err != nil {
			return err
		}
		result.InsertedCount++
		result.InsertedIDs = append(result.InsertedIDs, ids...)

	case BulkUpdate, BulkReplace:
		var res UpdateResult
		var err error
		if op.Type == BulkUpdate {
			if op.Update == nil {
				return dberr.BadValuef("update requires an update document")
			}
			res, err = c.Update(op.Filter, op.Update, op.Upsert, op.Multi)
		} else {
			if op.Document == nil {
				return dberr.BadValuef("replace requires a replacement document")
			}
			res, err = c.ReplaceOne(op.Filter, op.Document, op.Upsert)
		}
		if err != nil {
			return err
		}
		if res.UpsertedID != nil {
			result.UpsertedCount++
			result.Upserted = append(result.Upserted, BulkUpsert{Index: i, ID: res.UpsertedID})
			return nil
		}
		result.MatchedCount += res.Matched
		result.ModifiedCount += res.Modified

	case BulkRemove, BulkDelete:
		n, err := c.Remove(op.Filter, op.JustOne)
		if err != nil {
			return err
		}
		result.DeletedCount += n

	default:
		return dberr.BadValuef("unknown bulk operation type %q", op.Type)
	}
	return nil
}
