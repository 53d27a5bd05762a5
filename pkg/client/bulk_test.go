package client

import (
	"errors"
	"testing"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

func TestBulk(t *testing.T) {
	c, db := newTestClient(t)
	users := c.Collection("users")

	result, err := users.Bulk([]BulkOperation{
		{Type: "insert", Document: document.MustParseJSON(`{"_id": 1, "name": "alice"}`)},
		{Type: "insert", Document: document.MustParseJSON(`{"_id": 2, "name": "bob"}`)},
		{Type: "update", Filter: document.MustParseJSON(`{"_id": 1}`), Update: document.MustParseJSON(`{"$set": {"age": 30}}`)},
		{Type: "replace", Filter: document.MustParseJSON(`{"_id": 5}`), Document: document.MustParseJSON(`{"name": "eve"}`), Upsert: true},
		{Type: "remove", Filter: document.MustParseJSON(`{"_id": 2}`)},
	})
	if err != nil {
		t.Fatalf("Bulk failed: %v", err)
	}
	if result.InsertedCount != 2 || result.ModifiedCount != 1 || result.DeletedCount != 1 {
		t.Errorf("unexpected counts %+v", result)
	}
	if len(result.Upserted) != 1 || result.Upserted[0].Index != 3 || result.Upserted[0].ID.Interface() != int32(5) {
		t.Errorf("unexpected upserts %+v", result.Upserted)
	}
	if n := db.Collection("users").Len(); n != 2 {
		t.Errorf("expected 2 documents, got %d", n)
	}
}

func TestBulkOrderedAndUnordered(t *testing.T) {
	c, _ := newTestClient(t)
	users := c.Collection("users")
	ops := []BulkOperation{
		{Type: "insert", Document: document.MustParseJSON(`{"_id": 1}`)},
		{Type: "insert", Document: document.MustParseJSON(`{"_id": 1}`)},
		{Type: "insert", Document: document.MustParseJSON(`{"_id": 2}`)},
	}

	result, err := users.Bulk(ops)
	if !errors.Is(err, dberr.DuplicateKey) {
		t.Fatalf("expected DuplicateKey, got %v", err)
	}
	if result == nil || result.InsertedCount != 1 || len(result.Errors) != 1 || result.Errors[0].Index != 1 {
		t.Errorf("expected the ordered write to stop after one insert, got %+v", result)
	}

	if _, err := users.Remove(nil, false); err != nil {
		t.Fatal(err)
	}
	result, err = users.BulkWrite(ops, false)
	if !errors.Is(err, dberr.DuplicateKey) {
		t.Fatalf("expected DuplicateKey, got %v", err)
	}
	if result == nil || result.InsertedCount != 2 || len(result.Errors) != 1 {
		t.Errorf("expected the unordered write to continue, got %+v", result)
	}
}
