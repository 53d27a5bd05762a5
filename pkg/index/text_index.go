package index

import (
	"slices"
	"time"

	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/query"
	"github.com/mnohosten/memdb/pkg/text"
)

// WildcardTextField indexes every string of a document
const WildcardTextField = "$**"

// DefaultTextSearchLimit caps text search results when no limit is given
const DefaultTextSearchLimit = 100

// TextIndex indexes the words of the strings under its fields. Documents
// without any indexable word are not indexed; uniqueness is never
// enforced.
type TextIndex struct {
	*keyed
	analyzer *text.Analyzer
	inverted *text.InvertedIndex[DocID]
}

// TextResult is one text search hit
type TextResult struct {
	Score float64
	ID    DocID
}

func newTextIndex(base *keyed) *TextIndex {
	base.unique = false
	a := text.NewAnalyzer()
	return &TextIndex{keyed: base, analyzer: a, inverted: text.NewInvertedIndex[DocID](a)}
}

// Texts returns the strings of doc covered by the index: string values and
// string array elements of each field, or every string for "$**"
func (ti *TextIndex) Texts(doc *document.Document) []string {
	var out []string
	for _, f := range ti.fields {
		if f == WildcardTextField {
			out = appendStrings(out, document.NewValue(doc), true)
			continue
		}
		for _, v := range document.Resolve(doc, f) {
			out = appendStrings(out, v, false)
		}
	}
	return out
}

func appendStrings(out []string, v *document.Value, deep bool) []string {
	if s, ok := v.StringValue(); ok {
		return append(out, s)
	}
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			if s, ok := item.StringValue(); ok {
				out = append(out, s)
			} else if deep {
				out = appendStrings(out, item, true)
			}
		}
	case deep && v.IsDocument():
		v.Document().Each(func(_ string, child *document.Value) bool {
			out = appendStrings(out, child, true)
			return true
		})
	}
	return out
}

// AddOrUpdate implements Index
func (ti *TextIndex) AddOrUpdate(id DocID, doc, _ *document.Document) error {
	ti.inverted.Index(id, ti.Texts(doc)...)
	ti.updated = time.Now()
	return nil
}

// Remove implements Index
func (ti *TextIndex) Remove(id DocID, _ *document.Document) {
	ti.inverted.Remove(id)
	ti.updated = time.Now()
}

// Clear drops every entry
func (ti *TextIndex) Clear() {
	ti.inverted.Clear()
	ti.updated = time.Now()
}

// Values implements Index
func (ti *TextIndex) Values() []DocID { return ti.inverted.IDs() }

// Size returns the number of indexed documents
func (ti *TextIndex) Size() int { return ti.inverted.Len() }

// KeyFor returns the terms doc is indexed under as {_fts: [...]}
func (ti *TextIndex) KeyFor(doc *document.Document) *document.Document {
	var terms []interface{}
	for _, t := range ti.Texts(doc) {
		for _, term := range ti.analyzer.Analyze(t) {
			if !slices.Contains(terms, interface{}(term)) {
				terms = append(terms, term)
			}
		}
	}
	key := document.NewDocument()
	key.Set("_fts", terms)
	return key
}

// CanHandle accepts queries with a top level $text clause
func (ti *TextIndex) CanHandle(q *document.Document) bool {
	_, ok := searchOf(q)
	return ok
}

// Candidates returns the documents containing a word of the $text search
func (ti *TextIndex) Candidates(q *document.Document) ([]DocID, bool) {
	search, ok := searchOf(q)
	if !ok {
		return nil, false
	}
	ti.lookups.Add(1)
	return ti.inverted.Candidates(ti.analyzer.ParseSearch(search)), true
}

func searchOf(q *document.Document) (string, bool) {
	if q == nil {
		return "", false
	}
	v, ok := q.GetValue(string(query.OpText))
	if !ok || v.Document() == nil {
		return "", false
	}
	s, ok := v.Document().GetValue("$search")
	if !ok {
		return "", false
	}
	return s.StringValue()
}

// TextFilter matches the documents scoring above zero for search
func (ti *TextIndex) TextFilter(search string) query.Filter {
	s := ti.analyzer.ParseSearch(search)
	return query.FilterFunc(func(doc *document.Document) bool {
		return s.Score(ti.analyzer, ti.Texts(doc)) > 0
	})
}

// Search scores the indexed documents against search, keeping those
// lookup resolves and filter accepts. Results are ordered by descending
// score, then id, and truncated to limit.
func (ti *TextIndex) Search(search string, lookup func(DocID) *document.Document, filter query.Filter, limit int) []TextResult {
	ti.lookups.Add(1)
	if limit <= 0 {
		limit = DefaultTextSearchLimit
	}

	s := ti.analyzer.ParseSearch(search)
	var results []TextResult
	for _, id := range ti.inverted.Candidates(s) {
		doc := lookup(id)
		if doc == nil || (filter != nil && !filter.Match(doc)) {
			continue
		}
		if score := s.Score(ti.analyzer, ti.Texts(doc)); score > 0 {
			results = append(results, TextResult{Score: score, ID: id})
		}
	}

	slices.SortStableFunc(results, func(a, b TextResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Buckets returns one bucket per indexed term, keyed {_fts: term}
func (ti *TextIndex) Buckets() []Bucket {
	terms := ti.inverted.Terms()
	out := make([]Bucket, 0, len(terms))
	for _, term := range terms {
		key := document.NewDocument()
		key.Set("_fts", term)
		out = append(out, Bucket{Key: key, IDs: ti.inverted.Postings(term)})
	}
	return out
}

// Stats returns a snapshot of the index statistics
func (ti *TextIndex) Stats() Stats {
	return Stats{
		Entries:     ti.inverted.Len(),
		Keys:        ti.inverted.Size(),
		Lookups:     ti.lookups.Load(),
		LastUpdated: ti.updated,
	}
}
