package database

import (
	"errors"
	"sync"
	"testing"

	"github.com/mnohosten/memdb/pkg/changestream"
	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/logger"
	"github.com/mnohosten/memdb/pkg/metrics"
)

func doc(s string) *document.Document {
	return document.MustParseJSON(s)
}

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db := New(Config{Name: "test", Logger: logger.Discard()})
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCollectionAutoCreate(t *testing.T) {
	db := newTestDB(t)

	if db.HasCollection("users") {
		t.Fatal("collection should not exist yet")
	}
	c1 := db.Collection("users")
	c2 := db.Collection("users")
	if c1 != c2 {
		t.Error("Collection should return the same instance")
	}
	if !db.HasCollection("users") {
		t.Error("collection should exist after first use")
	}
	if names := db.CollectionNames(); len(names) != 1 || names[0] != "users" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestCreateCollection(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.CreateCollection("orders", nil); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	_, err := db.CreateCollection("orders", nil)
	if dberr.CodeOf(err) != dberr.CodeNamespaceExists {
		t.Errorf("expected code %d, got %v", dberr.CodeNamespaceExists, err)
	}

	for _, name := range []string{"", ".a", "a.", "a..b", "system.users", "bad name", "tmp.agg.x"} {
		if _, err := db.CreateCollection(name, nil); dberr.CodeOf(err) != dberr.CodeInvalidNamespace {
			t.Errorf("%q: expected invalid namespace, got %v", name, err)
		}
	}
}

func TestDropCollection(t *testing.T) {
	db := newTestDB(t)
	c := db.Collection("items")
	if _, err := c.Insert(doc(`{"a": 1}`)); err != nil {
		t.Fatal(err)
	}

	if err := db.DropCollection("items"); err != nil {
		t.Fatalf("DropCollection failed: %v", err)
	}
	if db.HasCollection("items") {
		t.Error("collection should be gone")
	}
	err := db.DropCollection("items")
	if !errors.Is(err, dberr.NotFound) || dberr.CodeOf(err) != dberr.CodeNamespaceNotFound {
		t.Errorf("expected ns not found, got %v", err)
	}

	// a new collection under the same name starts empty
	if n := db.Collection("items").Len(); n != 0 {
		t.Errorf("expected empty collection, got %d documents", n)
	}
}

func TestRenameCollection(t *testing.T) {
	db := newTestDB(t)
	c := db.Collection("old")
	if _, err := c.CreateIndex(doc(`{"email": 1}`), IndexOptions{Unique: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(doc(`{"email": "a@x"}`)); err != nil {
		t.Fatal(err)
	}

	if err := db.RenameCollection("old", "new"); err != nil {
		t.Fatalf("RenameCollection failed: %v", err)
	}
	if db.HasCollection("old") || !db.HasCollection("new") {
		t.Fatalf("unexpected collections %v", db.CollectionNames())
	}

	renamed := db.Collection("new")
	_, err := renamed.Insert(doc(`{"email": "a@x"}`))
	if !errors.Is(err, dberr.DuplicateKey) {
		t.Fatalf("expected duplicate key after rename, got %v", err)
	}
	var e *dberr.Error
	if !errors.As(err, &e) || e.Message != `E11000 duplicate key error index: test.new.$email_1 dup key: { : "a@x" }` {
		t.Errorf("unexpected message %v", err)
	}

	if err := db.RenameCollection("missing", "other"); dberr.CodeOf(err) != dberr.CodeNamespaceNotFound {
		t.Errorf("expected ns not found, got %v", err)
	}
	db.Collection("taken")
	if err := db.RenameCollection("new", "taken"); dberr.CodeOf(err) != dberr.CodeNamespaceExists {
		t.Errorf("expected namespace exists, got %v", err)
	}
}

func TestListCollections(t *testing.T) {
	db := newTestDB(t)
	db.Collection("b")
	if _, err := db.CreateCollection("a", &CollectionOptions{
		Validator:    doc(`{"age": {"$gte": 0}}`),
		MaxDocuments: 10,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.createTemp(tempPrefix + "scratch"); err != nil {
		t.Fatal(err)
	}

	infos := db.ListCollections()
	if len(infos) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(infos))
	}
	name, _ := infos[0].Get("name")
	if name != "a" {
		t.Errorf("expected a first, got %v", name)
	}
	opts, _ := infos[0].GetValue("options")
	if !opts.Document().Has("validator") || !opts.Document().Has("max") {
		t.Errorf("expected validator and max options, got %s", opts)
	}
}

func TestDatabaseDrop(t *testing.T) {
	db := newTestDB(t)
	db.Collection("a")
	db.Collection("b")

	var got []changestream.OperationType
	cancel := db.Watch(func(ev ChangeEvent) { got = append(got, ev.OperationType) })
	defer cancel()

	db.Drop()
	if names := db.CollectionNames(); len(names) != 0 {
		t.Errorf("expected no collections, got %v", names)
	}
	if len(got) != 1 || got[0] != changestream.OperationTypeDropDatabase {
		t.Errorf("expected a dropDatabase event, got %v", got)
	}
}

func TestWatch(t *testing.T) {
	db := newTestDB(t)
	c := db.Collection("events")

	var mu sync.Mutex
	var events []ChangeEvent
	cancel := db.Watch(func(ev ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ids, err := c.Insert(doc(`{"n": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Update(doc(`{"n": 1}`), doc(`{"$set": {"n": 2}}`), false, false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Update(doc(`{"n": 2}`), doc(`{"m": 3}`), false, false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Remove(nil, false); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := c.Insert(doc(`{"n": 9}`)); err != nil {
		t.Fatal(err)
	}

	want := []changestream.OperationType{
		changestream.OperationTypeInsert,
		changestream.OperationTypeUpdate,
		changestream.OperationTypeReplace,
		changestream.OperationTypeDelete,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.OperationType != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.OperationType)
		}
		if ev.Collection != "events" || ev.Database != "test" {
			t.Errorf("event %d: unexpected namespace %s.%s", i, ev.Database, ev.Collection)
		}
		if !document.Equal(ev.DocumentKey, ids[0]) {
			t.Errorf("event %d: unexpected key %s", i, ev.DocumentKey)
		}
		if i > 0 && ev.Sequence <= events[i-1].Sequence {
			t.Errorf("event %d: sequence not increasing", i)
		}
	}

	updated, _ := events[1].UpdateDescription.UpdatedFields.Get("n")
	if updated != int32(2) {
		t.Errorf("expected updated n=2, got %v", updated)
	}
}

func TestDatabaseMetrics(t *testing.T) {
	col := metrics.NewCollector("memdb")
	db := New(Config{Name: "test", Logger: logger.Discard(), Metrics: col})
	defer db.Close()

	c := db.Collection("m")
	if _, err := c.Insert(doc(`{"a": 1}`), doc(`{"a": 2}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Find(doc(`{"a": 1}`), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Aggregate([]*document.Document{doc(`{"$match": {"a": 2}}`), doc(`{"$project": {"a": 1}}`)}); err != nil {
		t.Fatal(err)
	}

	families, err := col.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "collection" && l.GetValue() != "m" {
					t.Errorf("%s: unexpected collection label %q", mf.GetName(), l.GetValue())
				}
			}
		}
	}
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	c := db.Collection("s")
	if _, err := c.Insert(doc(`{"a": 1}`), doc(`{"a": 2}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateIndex(doc(`{"a": 1}`), IndexOptions{}); err != nil {
		t.Fatal(err)
	}

	st := c.Stats()
	if st.Count != 2 || st.Indexes != 2 || st.Size <= 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	if _, ok := st.IndexInfo["a_1"]; !ok {
		t.Error("expected index info for a_1")
	}

	dbStats := db.Stats()
	if dbStats["collections"] != 1 || dbStats["objects"] != 2 {
		t.Errorf("unexpected database stats %v", dbStats)
	}
}

func TestSlowLog(t *testing.T) {
	db := New(Config{Name: "test", Logger: logger.Discard(), SlowOpThreshold: 1})
	defer db.Close()

	c := db.Collection("slow")
	if _, err := c.Insert(doc(`{"a": 1}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Find(doc(`{"a": 1}`), nil); err != nil {
		t.Fatal(err)
	}

	entries := db.SlowLog().Entries()
	if len(entries) < 2 {
		t.Fatalf("expected every operation to be logged, got %d", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Operation != "find" || last.Collection != "slow" || last.Filter == "" {
		t.Errorf("unexpected entry %+v", last)
	}
}
