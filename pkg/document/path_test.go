package document

import (
	"testing"
)

func TestResolve(t *testing.T) {
	doc := MustParseJSON(`{
		"a": {"b": 1},
		"n": null,
		"arr": [{"x": 1}, {"x": 2}, {"y": 3}, 4],
		"nums": [10, 20, 30],
		"deep": [{"in": [{"v": "p"}, {"v": "q"}]}]
	}`)

	tests := []struct {
		path  string
		count int
	}{
		{"a.b", 1},
		{"a.c", 0},
		{"missing", 0},
		{"n", 1},
		{"n.x", 0},
		{"arr.x", 2},
		{"arr.1.x", 1},
		{"arr.9", 0},
		{"nums", 1},
		{"nums.1", 1},
		{"deep.in.v", 2},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := Resolve(doc, tt.path)
			if len(got) != tt.count {
				t.Errorf("Resolve(%s) returned %d values, expected %d: %v", tt.path, len(got), tt.count, got)
			}
		})
	}

	if v := Resolve(doc, "n"); !v[0].IsNull() {
		t.Errorf("Expected present null, got %v", v[0])
	}
	if v := Resolve(doc, "nums.1"); v[0].Data.(int32) != 20 {
		t.Errorf("Expected 20, got %v", v[0])
	}
}

func TestSetPathRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"top level", `{}`, "a"},
		{"creates intermediates", `{}`, "a.b.c"},
		{"into existing", `{"a": {"x": 1}}`, "a.b"},
		{"array index", `{"a": [1, 2]}`, "a.1"},
		{"array pad", `{"a": [1]}`, "a.3"},
		{"array subdoc", `{"a": [{"b": 1}]}`, "a.0.b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := MustParseJSON(tt.doc)
			if err := SetPath(doc, tt.path, NewValue("v")); err != nil {
				t.Fatalf("SetPath failed: %v", err)
			}
			found := false
			for _, v := range Resolve(doc, tt.path) {
				if Equal(v, NewValue("v")) {
					found = true
				}
			}
			if !found {
				t.Errorf("Resolve(%s) does not contain the written value: %s", tt.path, doc)
			}
		})
	}
}

func TestSetPathThroughScalarFails(t *testing.T) {
	doc := MustParseJSON(`{"a": 5}`)
	if err := SetPath(doc, "a.b", NewValue(1)); err == nil {
		t.Error("Expected error when traversing a scalar")
	}
}

func TestUnsetPath(t *testing.T) {
	doc := MustParseJSON(`{"a": {"b": 1, "c": 2}, "arr": [1, 2]}`)

	if !UnsetPath(doc, "a.b") {
		t.Error("Expected a.b to be removed")
	}
	if Exists(doc, "a.b") {
		t.Error("Expected a.b to be gone")
	}
	if UnsetPath(doc, "x.y") {
		t.Error("Expected missing path to report false")
	}
	UnsetPath(doc, "arr.0")
	if v := Resolve(doc, "arr.0"); len(v) != 1 || !v[0].IsNull() {
		t.Errorf("Expected array slot to become null, got %v", v)
	}
}

func TestLookupMapsArrays(t *testing.T) {
	doc := MustParseJSON(`{"items": [{"p": 1}, {"q": 2}, {"p": 3}]}`)
	v, ok := Lookup(doc, "items.p")
	if !ok {
		t.Fatal("Expected lookup to succeed")
	}
	if !Equal(v, NewValue(A{1, 3})) {
		t.Errorf("Expected [1, 3], got %s", v)
	}
	if _, ok := Lookup(doc, "nothing"); ok {
		t.Error("Expected missing field")
	}
}
