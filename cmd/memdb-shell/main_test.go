package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/logger"
)

func newTestShell(t *testing.T) (*Shell, *bytes.Buffer) {
	t.Helper()
	db := database.New(database.Config{Name: "test", Logger: logger.Discard()})
	t.Cleanup(func() { db.Close() })
	var out bytes.Buffer
	return NewShell(db, &out), &out
}

func exec(t *testing.T, s *Shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	if err := s.Execute(line); err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	return out.String()
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs(`{"a": 1}, {"$set": {"b": {"$date": "2014-01-05T00:00:00Z"}}} true "x"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}
	if !args[0].IsDocument() || !args[1].IsDocument() || !args[2].Truthy() {
		t.Errorf("unexpected args %v", args)
	}
	if s, _ := args[3].StringValue(); s != "x" {
		t.Errorf("expected x, got %v", args[3])
	}

	if _, err := parseArgs(`{"a": `); err == nil {
		t.Error("expected an error for truncated JSON")
	}
	if args, _ := parseArgs("  "); len(args) != 0 {
		t.Errorf("expected no args, got %v", args)
	}
}

func TestShellCommands(t *testing.T) {
	s, out := newTestShell(t)

	if err := s.Execute(`find`); err == nil {
		t.Error("expected an error without a collection")
	}

	exec(t, s, out, "use users")
	if got := exec(t, s, out, `insert {"name": "alice", "age": 30} {"name": "bob", "age": 20}`); !strings.Contains(got, "inserted 2 document(s)") {
		t.Errorf("unexpected insert output %q", got)
	}
	if got := exec(t, s, out, `count {"age": {"$gt": 25}}`); strings.TrimSpace(got) != "1" {
		t.Errorf("unexpected count %q", got)
	}
	if got := exec(t, s, out, `update {"name": "bob"} {"$inc": {"age": 1}}`); !strings.Contains(got, "matched 1, modified 1") {
		t.Errorf("unexpected update output %q", got)
	}
	if got := exec(t, s, out, `findOne {"name": "bob"} {"age": 1, "_id": 0}`); !strings.Contains(got, `"age": 21`) {
		t.Errorf("unexpected findOne output %q", got)
	}
	if got := exec(t, s, out, `createIndex {"name": 1} {"unique": true}`); !strings.Contains(got, "name_1") {
		t.Errorf("unexpected createIndex output %q", got)
	}
	if err := s.Execute(`insert {"name": "bob"}`); err == nil || !strings.Contains(err.Error(), "E11000") {
		t.Errorf("expected a duplicate key error, got %v", err)
	}
	if got := exec(t, s, out, `remove {"name": "alice"}`); !strings.Contains(got, "removed 1") {
		t.Errorf("unexpected remove output %q", got)
	}
	if got := exec(t, s, out, "show collections"); strings.TrimSpace(got) != "users" {
		t.Errorf("unexpected collections %q", got)
	}
}

func TestShellMethodSyntax(t *testing.T) {
	s, out := newTestShell(t)

	exec(t, s, out, `sales.insert([{"item": "a", "qty": 2}, {"item": "a", "qty": 3}, {"item": "b", "qty": 1}])`)
	got := exec(t, s, out, `sales.aggregate([{"$group": {"_id": "$item", "total": {"$sum": "$qty"}}}, {"$sort": {"total": -1}}])`)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"a"`) {
		t.Errorf("unexpected aggregate output %q", got)
	}
	if got := exec(t, s, out, `sales.distinct("item")`); !strings.Contains(got, `"b"`) {
		t.Errorf("unexpected distinct output %q", got)
	}
	if got := exec(t, s, out, `sales.find({"qty": {"$gte": 2}})`); !strings.Contains(got, "2 document(s)") {
		t.Errorf("unexpected find output %q", got)
	}
	if err := s.Execute("sales.frobnicate()"); err == nil {
		t.Error("expected an unknown method error")
	}
}

func TestShellExit(t *testing.T) {
	s, _ := newTestShell(t)
	if err := s.Execute("exit"); !errors.Is(err, errExit) {
		t.Errorf("expected exit, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	s, out := newTestShell(t)
	exec(t, s, out, `orders.insert({"a": 1})`)

	if got := s.complete("ag"); len(got) != 1 || got[0] != "aggregate" {
		t.Errorf("unexpected completions %v", got)
	}
	if got := s.complete("use or"); len(got) != 1 || got[0] != "use orders" {
		t.Errorf("unexpected completions %v", got)
	}
}

func TestShellImportExport(t *testing.T) {
	s, out := newTestShell(t)
	path := filepath.Join(t.TempDir(), "users.csv")

	exec(t, s, out, `users.insert({"_id": 1, "name": "alice"}, {"_id": 2, "name": "bob"})`)
	if got := exec(t, s, out, `users.export("`+path+`", {"name": "bob"})`); !strings.Contains(got, "exported 1 document(s)") {
		t.Errorf("unexpected export output %q", got)
	}
	if got := exec(t, s, out, `copy.import("`+path+`")`); !strings.Contains(got, "imported 1 document(s) into copy") {
		t.Errorf("unexpected import output %q", got)
	}
	if got := exec(t, s, out, `copy.findOne({"_id": 2})`); !strings.Contains(got, `"bob"`) {
		t.Errorf("unexpected findOne output %q", got)
	}
	if err := s.Execute(`copy.import()`); err == nil {
		t.Error("expected a usage error")
	}
}
