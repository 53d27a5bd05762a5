package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mnohosten/memdb/pkg/changestream"
	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/logger"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db := database.New(database.Config{Name: "testdb", Logger: logger.Discard()})
	t.Cleanup(func() { db.Close() })
	return db
}

// readEvents decodes JSON lines, keeping only the given operations
func readEvents(t *testing.T, data []byte, ops ...changestream.OperationType) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var ev map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("Invalid audit line %q: %v", scanner.Text(), err)
		}
		if len(ops) > 0 {
			keep := false
			for _, op := range ops {
				if ev["operation"] == string(op) {
					keep = true
				}
			}
			if !keep {
				continue
			}
		}
		events = append(events, ev)
	}
	return events
}

func TestNewLogger(t *testing.T) {
	l := NewLogger(nil)
	if l == nil {
		t.Fatal("Expected non-nil logger")
	}
	if !l.IsEnabled() {
		t.Error("Expected logger to be enabled by default")
	}
	if l.config.Format != "json" {
		t.Errorf("Expected json format by default, got %s", l.config.Format)
	}
}

func TestRecordJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Enabled: true, OutputWriter: &buf, Format: "json", IncludeDocuments: true})

	doc := document.MustParseJSON(`{"_id": 7, "name": "alice"}`)
	err := l.Record(changestream.ChangeEvent{
		Sequence:      3,
		OperationType: changestream.OperationTypeInsert,
		Timestamp:     time.Date(2014, 1, 5, 10, 0, 0, 0, time.UTC),
		Database:      "testdb",
		Collection:    "users",
		DocumentKey:   document.NewValue(int32(7)),
		FullDocument:  doc,
	})
	if err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	events := readEvents(t, buf.Bytes())
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev["operation"] != "insert" || ev["collection"] != "users" || ev["database"] != "testdb" {
		t.Errorf("Unexpected event header: %v", ev)
	}
	if ev["seq"] != float64(3) {
		t.Errorf("Expected seq 3, got %v", ev["seq"])
	}
	if ev["documentId"] != float64(7) {
		t.Errorf("Expected documentId 7, got %v", ev["documentId"])
	}
	full, ok := ev["document"].(map[string]interface{})
	if !ok || full["name"] != "alice" {
		t.Errorf("Expected full document, got %v", ev["document"])
	}
	if l.Written() != 1 {
		t.Errorf("Expected 1 written, got %d", l.Written())
	}
}

func TestRecordText(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Enabled: true, OutputWriter: &buf, Format: "text"})

	updated := document.MustParseJSON(`{"age": 31}`)
	err := l.Record(changestream.ChangeEvent{
		Sequence:      9,
		OperationType: changestream.OperationTypeUpdate,
		Timestamp:     time.Date(2014, 1, 5, 10, 0, 0, 0, time.UTC),
		Database:      "testdb",
		Collection:    "users",
		DocumentKey:   document.NewValue("u1"),
		UpdateDescription: &changestream.UpdateDescription{
			UpdatedFields: updated,
			RemovedFields: []string{"nick"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	want := `[2014-01-05T10:00:00Z] #9 update testdb.users _id="u1" - updated: age - removed: nick` + "\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestDisabledLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Enabled: true, OutputWriter: &buf})
	l.SetEnabled(false)

	if err := l.Record(changestream.ChangeEvent{OperationType: changestream.OperationTypeDelete}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output when disabled, got %q", buf.String())
	}
	if l.IsEnabled() {
		t.Error("Expected logger to be disabled")
	}
}

func TestTruncateDocument(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Enabled: true, OutputWriter: &buf, IncludeDocuments: true, MaxFieldSize: 20})

	doc := document.MustParseJSON(`{"_id": 1, "bio": "a rather long biography that will not fit"}`)
	if err := l.Record(changestream.ChangeEvent{OperationType: changestream.OperationTypeInsert, FullDocument: doc}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	events := readEvents(t, buf.Bytes())
	s, ok := events[0]["document"].(string)
	if !ok {
		t.Fatalf("Expected truncated string, got %T", events[0]["document"])
	}
	if !strings.HasSuffix(s, "... (truncated)") || len(s) != 20+len("... (truncated)") {
		t.Errorf("Unexpected truncation: %q", s)
	}
}

func TestAttach(t *testing.T) {
	db := newTestDB(t)
	var buf bytes.Buffer
	l := NewLogger(&Config{Enabled: true, OutputWriter: &buf, Format: "json"})
	if err := l.Attach(db.Changes()); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer l.Close()

	users := db.Collection("users")
	if _, err := users.Insert(document.MustParseJSON(`{"_id": 1, "name": "alice", "nick": "al"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := users.Update(
		document.MustParseJSON(`{"_id": 1}`),
		document.MustParseJSON(`{"$set": {"age": 30}, "$unset": {"nick": ""}}`),
		false, false,
	); err != nil {
		t.Fatal(err)
	}
	if _, err := users.CreateIndex(document.MustParseJSON(`{"name": 1}`), database.IndexOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := users.Remove(document.MustParseJSON(`{"_id": 1}`), true); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, buf.Bytes(),
		changestream.OperationTypeInsert,
		changestream.OperationTypeUpdate,
		changestream.OperationTypeCreateIndex,
		changestream.OperationTypeDelete,
	)
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d: %s", len(events), buf.String())
	}

	wantOps := []string{"insert", "update", "createIndex", "delete"}
	for i, op := range wantOps {
		if events[i]["operation"] != op {
			t.Errorf("Event %d: expected %s, got %v", i, op, events[i]["operation"])
		}
	}

	upd := events[1]
	if fields, _ := upd["updatedFields"].([]interface{}); len(fields) != 1 || fields[0] != "age" {
		t.Errorf("Expected updatedFields [age], got %v", upd["updatedFields"])
	}
	if fields, _ := upd["removedFields"].([]interface{}); len(fields) != 1 || fields[0] != "nick" {
		t.Errorf("Expected removedFields [nick], got %v", upd["removedFields"])
	}
	if events[2]["indexName"] != "name_1" {
		t.Errorf("Expected index name_1, got %v", events[2]["indexName"])
	}

	prev, _ := events[0]["seq"].(float64)
	for _, ev := range events[1:] {
		seq, _ := ev["seq"].(float64)
		if seq <= prev {
			t.Errorf("Sequence not increasing: %v after %v", seq, prev)
		}
		prev = seq
	}
}

func TestAttachFilters(t *testing.T) {
	db := newTestDB(t)
	var buf bytes.Buffer
	l := NewLogger(&Config{
		Enabled:      true,
		OutputWriter: &buf,
		Operations:   []changestream.OperationType{changestream.OperationTypeDelete},
		Collection:   "users",
	})
	if err := l.Attach(db.Changes()); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer l.Close()

	for _, name := range []string{"users", "orders"} {
		coll := db.Collection(name)
		if _, err := coll.Insert(document.MustParseJSON(`{"_id": 1}`)); err != nil {
			t.Fatal(err)
		}
		if _, err := coll.Remove(nil, false); err != nil {
			t.Fatal(err)
		}
	}

	events := readEvents(t, buf.Bytes())
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d: %s", len(events), buf.String())
	}
	if events[0]["operation"] != "delete" || events[0]["collection"] != "users" {
		t.Errorf("Unexpected event: %v", events[0])
	}
}

func TestCloseDetaches(t *testing.T) {
	db := newTestDB(t)
	var buf bytes.Buffer
	l := NewLogger(&Config{Enabled: true, OutputWriter: &buf})
	if err := l.Attach(db.Changes()); err != nil {
		t.Fatal(err)
	}
	before := db.Changes().Len()

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := db.Changes().Len(); got != before-1 {
		t.Errorf("Expected %d subscribers after close, got %d", before-1, got)
	}

	written := l.Written()
	if _, err := db.Collection("users").Insert(document.MustParseJSON(`{"_id": 1}`)); err != nil {
		t.Fatal(err)
	}
	if l.Written() != written {
		t.Error("Expected no events after close")
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	db := newTestDB(t)
	l, err := NewFileLogger(path, &Config{Enabled: true, Format: "json"})
	if err != nil {
		t.Fatalf("Failed to create file logger: %v", err)
	}
	if err := l.Attach(db.Changes()); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Collection("users").Insert(
		document.MustParseJSON(`{"_id": 1}`),
		document.MustParseJSON(`{"_id": 2}`),
	); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	if got := len(readEvents(t, data, changestream.OperationTypeInsert)); got != 2 {
		t.Errorf("Expected 2 insert events in file, got %d", got)
	}

	// reopening appends
	l, err = NewFileLogger(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Record(changestream.ChangeEvent{OperationType: changestream.OperationTypeDropDatabase, Database: "testdb"}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	data, _ = os.ReadFile(path)
	if got := len(readEvents(t, data, changestream.OperationTypeInsert, changestream.OperationTypeDropDatabase)); got != 3 {
		t.Errorf("Expected 3 events after reopening, got %d", got)
	}
}

func TestFileLoggerBadPath(t *testing.T) {
	if _, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "audit.log"), nil); err == nil {
		t.Error("Expected error for unwritable path")
	}
}
