package changestream

import (
	"context"
	"testing"
	"time"

	"github.com/mnohosten/memdb/pkg/document"
)

func TestHub_PublishOrder(t *testing.T) {
	hub := NewHub("testdb")

	var got []ChangeEvent
	_, cancel, err := hub.Subscribe(Options{}, func(ev ChangeEvent) { got = append(got, ev) })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	hub.Publish(
		ChangeEvent{OperationType: OperationTypeInsert, Collection: "users", DocumentKey: document.NewValue(1)},
		ChangeEvent{OperationType: OperationTypeDelete, Collection: "users", DocumentKey: document.NewValue(1)},
	)

	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Sequence >= got[1].Sequence {
		t.Errorf("Expected increasing sequence, got %d then %d", got[0].Sequence, got[1].Sequence)
	}
	if got[0].Database != "testdb" {
		t.Errorf("Expected database 'testdb', got '%s'", got[0].Database)
	}
	if got[1].OperationType != OperationTypeDelete {
		t.Errorf("Expected delete, got %s", got[1].OperationType)
	}
}

func TestHub_CollectionAndFilter(t *testing.T) {
	hub := NewHub("testdb")

	var byColl, byFilter int
	_, c1, _ := hub.Subscribe(Options{Collection: "orders"}, func(ChangeEvent) { byColl++ })
	defer c1()
	_, c2, err := hub.Subscribe(Options{Filter: document.MustParseJSON(`{"operationType": "insert", "fullDocument.qty": {"$gt": 5}}`)},
		func(ChangeEvent) { byFilter++ })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer c2()

	hub.Publish(
		ChangeEvent{OperationType: OperationTypeInsert, Collection: "orders", FullDocument: document.MustParseJSON(`{"qty": 10}`)},
		ChangeEvent{OperationType: OperationTypeInsert, Collection: "users", FullDocument: document.MustParseJSON(`{"qty": 1}`)},
		ChangeEvent{OperationType: OperationTypeDelete, Collection: "orders"},
	)

	if byColl != 2 {
		t.Errorf("Expected 2 events for orders, got %d", byColl)
	}
	if byFilter != 1 {
		t.Errorf("Expected 1 filtered event, got %d", byFilter)
	}
}

func TestHub_BadFilter(t *testing.T) {
	hub := NewHub("testdb")
	if _, _, err := hub.Subscribe(Options{Filter: document.MustParseJSON(`{"a": {"$bogus": 1}}`)}, func(ChangeEvent) {}); err == nil {
		t.Error("Expected error for invalid filter")
	}
}

func TestHub_Cancel(t *testing.T) {
	hub := NewHub("testdb")
	calls := 0
	_, cancel, _ := hub.Subscribe(Options{}, func(ChangeEvent) { calls++ })
	if !hub.Active() {
		t.Fatal("Expected hub to be active")
	}

	cancel()
	cancel()
	hub.Publish(ChangeEvent{OperationType: OperationTypeInsert})
	if calls != 0 {
		t.Errorf("Expected no calls after cancel, got %d", calls)
	}
	if hub.Len() != 0 {
		t.Errorf("Expected no subscribers, got %d", hub.Len())
	}
}

func TestHub_Stream(t *testing.T) {
	hub := NewHub("testdb")
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := hub.Stream(ctx, Options{}, 4)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	hub.Publish(ChangeEvent{OperationType: OperationTypeInsert, Collection: "a"})

	select {
	case ev := <-ch:
		if ev.Collection != "a" {
			t.Errorf("Expected collection 'a', got '%s'", ev.Collection)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for close")
	}
}

func TestDescribe(t *testing.T) {
	before := document.MustParseJSON(`{"_id": 1, "a": 1, "b": 2, "c": 3}`)
	after := document.MustParseJSON(`{"_id": 1, "a": 1, "b": 5, "d": 4}`)

	desc := Describe(before, after)
	if got := desc.UpdatedFields.Keys(); len(got) != 2 || got[0] != "b" || got[1] != "d" {
		t.Errorf("Expected updated fields [b d], got %v", got)
	}
	if len(desc.RemovedFields) != 1 || desc.RemovedFields[0] != "c" {
		t.Errorf("Expected removed field c, got %v", desc.RemovedFields)
	}

	ev := ChangeEvent{OperationType: OperationTypeUpdate, Collection: "x", UpdateDescription: desc, DocumentKey: document.NewValue(1)}
	doc := ev.ToDocument()
	if v, ok := document.GetPath(doc, "updateDescription.updatedFields.b"); !ok || !document.Equal(v, document.NewValue(5)) {
		t.Errorf("Expected rendered updatedFields.b = 5, got %v", v)
	}
	if v, ok := document.GetPath(doc, "documentKey._id"); !ok || !document.Equal(v, document.NewValue(1)) {
		t.Errorf("Expected documentKey._id = 1, got %v", v)
	}
}
