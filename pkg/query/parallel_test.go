package query

import (
	"testing"

	"github.com/mnohosten/memdb/pkg/document"
)

func makeDocs(n int) []*document.Document {
	docs := make([]*document.Document, n)
	for i := 0; i < n; i++ {
		doc := document.NewDocument()
		doc.Set("_id", i)
		doc.Set("n", i%7)
		docs[i] = doc
	}
	return docs
}

func TestParallelFilterPreservesOrder(t *testing.T) {
	pf, err := NewParallelFilter(&ParallelConfig{MinDocsForParallel: 100, MaxWorkers: 4, ChunkSize: 37})
	if err != nil {
		t.Fatalf("NewParallelFilter failed: %v", err)
	}
	defer pf.Release()

	docs := makeDocs(2000)
	q := MustCompile(document.MustParseJSON(`{"n": {"$in": [1, 3]}}`))

	got := pf.Filter(docs, q)
	want := filterSequential(docs, q)
	if len(got) != len(want) {
		t.Fatalf("Expected %d matches, got %d", len(want), len(got))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("Result %d out of order", i)
		}
	}
}

func TestParallelFilterBelowThreshold(t *testing.T) {
	pf, err := NewParallelFilter(nil)
	if err != nil {
		t.Fatalf("NewParallelFilter failed: %v", err)
	}
	defer pf.Release()

	docs := makeDocs(10)
	got := pf.Filter(docs, MustCompile(document.MustParseJSON(`{"n": 0}`)))
	if len(got) != 2 {
		t.Errorf("Expected 2 matches, got %d", len(got))
	}

	var nilFilter *ParallelFilter
	if len(nilFilter.Filter(docs, MustCompile(nil))) != 10 {
		t.Error("Expected nil filter to match sequentially")
	}
}
