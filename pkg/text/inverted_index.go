package text

import (
	"cmp"
	"slices"
	"sync"
)

// InvertedIndex maps terms to the documents containing them
type InvertedIndex[ID cmp.Ordered] struct {
	mu sync.RWMutex

	// term -> document id -> term frequency
	postings map[string]map[ID]int

	// document id -> number of terms
	docLengths map[ID]int

	totalLength int
	analyzer    *Analyzer
}

// NewInvertedIndex creates an empty index analyzing text with a
func NewInvertedIndex[ID cmp.Ordered](a *Analyzer) *InvertedIndex[ID] {
	if a == nil {
		a = NewAnalyzer()
	}
	return &InvertedIndex[ID]{
		postings:   make(map[string]map[ID]int),
		docLengths: make(map[ID]int),
		analyzer:   a,
	}
}

// Index stores the terms of texts under id, replacing what id held before
func (idx *InvertedIndex[ID]) Index(id ID, texts ...string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.remove(id)

	length := 0
	termFreqs := make(map[string]int)
	for _, t := range texts {
		for _, term := range idx.analyzer.Analyze(t) {
			termFreqs[term]++
			length++
		}
	}
	if length == 0 {
		return
	}

	for term, freq := range termFreqs {
		docs := idx.postings[term]
		if docs == nil {
			docs = make(map[ID]int)
			idx.postings[term] = docs
		}
		docs[id] = freq
	}
	idx.docLengths[id] = length
	idx.totalLength += length
}

// Remove drops id from the index
func (idx *InvertedIndex[ID]) Remove(id ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.remove(id)
}

func (idx *InvertedIndex[ID]) remove(id ID) {
	length, ok := idx.docLengths[id]
	if !ok {
		return
	}
	for term, docs := range idx.postings {
		delete(docs, id)
		if len(docs) == 0 {
			delete(idx.postings, term)
		}
	}
	delete(idx.docLengths, id)
	idx.totalLength -= length
}

// Clear drops every document
func (idx *InvertedIndex[ID]) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.postings = make(map[string]map[ID]int)
	idx.docLengths = make(map[ID]int)
	idx.totalLength = 0
}

// Contains reports whether id has indexed terms
func (idx *InvertedIndex[ID]) Contains(id ID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.docLengths[id]
	return ok
}

// Candidates returns, in ascending order, the ids containing at least one
// term of s
func (idx *InvertedIndex[ID]) Candidates(s Search) []ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[ID]bool)
	var ids []ID
	for _, term := range s.Terms {
		for id := range idx.postings[term] {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// Postings returns the ids containing term in ascending order
func (idx *InvertedIndex[ID]) Postings(term string) []ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]ID, 0, len(idx.postings[term]))
	for id := range idx.postings[term] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Terms returns the indexed terms in ascending order
func (idx *InvertedIndex[ID]) Terms() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	terms := make([]string, 0, len(idx.postings))
	for term := range idx.postings {
		terms = append(terms, term)
	}
	slices.Sort(terms)
	return terms
}

// IDs returns every indexed id in ascending order
func (idx *InvertedIndex[ID]) IDs() []ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]ID, 0, len(idx.docLengths))
	for id := range idx.docLengths {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of indexed documents
func (idx *InvertedIndex[ID]) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLengths)
}

// Size returns the number of unique terms in the index
func (idx *InvertedIndex[ID]) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings)
}

// Stats returns statistics about the inverted index
func (idx *InvertedIndex[ID]) Stats() map[string]interface{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	avg := 0.0
	if n := len(idx.docLengths); n > 0 {
		avg = float64(idx.totalLength) / float64(n)
	}
	return map[string]interface{}{
		"total_documents":     len(idx.docLengths),
		"total_terms":         len(idx.postings),
		"avg_document_length": avg,
	}
}
