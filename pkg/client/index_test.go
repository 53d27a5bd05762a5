package client

import (
	"errors"
	"testing"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

func indexNames(t *testing.T, coll *Collection) []string {
	t.Helper()
	indexes, err := coll.ListIndexes()
	if err != nil {
		t.Fatalf("ListIndexes failed: %v", err)
	}
	names := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		name, _ := idx.Get("name")
		names = append(names, name.(string))
	}
	return names
}

func TestIndexes(t *testing.T) {
	c, _ := newTestClient(t)
	users := c.Collection("users")
	seedUsers(t, users)

	name, err := users.EnsureIndex("name", true)
	if err != nil {
		t.Fatalf("EnsureIndex failed: %v", err)
	}
	if name != "name_1" {
		t.Errorf("expected name_1, got %s", name)
	}

	name, err = users.CreateIndex(document.MustParseJSON(`{"city": 1, "age": -1}`), IndexOptions{Name: "by_city", Sparse: true})
	if err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	if name != "by_city" {
		t.Errorf("expected by_city, got %s", name)
	}

	names := indexNames(t, users)
	if len(names) != 3 || names[0] != "_id_" {
		t.Errorf("unexpected indexes %v", names)
	}

	indexes, _ := users.ListIndexes()
	if ns, _ := indexes[0].Get("ns"); ns != "test.users" {
		t.Errorf("expected ns test.users, got %v", ns)
	}

	_, err = users.InsertOne(document.MustParseJSON(`{"name": "alice"}`))
	if !errors.Is(err, dberr.DuplicateKey) {
		t.Errorf("expected DuplicateKey from the unique index, got %v", err)
	}

	if err := users.DropIndex("by_city"); err != nil {
		t.Fatalf("DropIndex failed: %v", err)
	}
	if names := indexNames(t, users); len(names) != 2 {
		t.Errorf("expected 2 indexes, got %v", names)
	}

	if err := users.DropIndex("missing_1"); err == nil {
		t.Error("expected an error dropping a missing index")
	}

	if err := users.DropIndexes(); err != nil {
		t.Fatalf("DropIndexes failed: %v", err)
	}
	if names := indexNames(t, users); len(names) != 1 || names[0] != "_id_" {
		t.Errorf("expected only _id_, got %v", names)
	}

	_, err = users.CreateIndex(document.MustParseJSON(`{"tags": "bogus"}`), IndexOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Errorf("expected a 400 for a bad key pattern, got %v", err)
	}
}
