package query

import (
	"sort"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// SortKey is one field of a sort specification
type SortKey struct {
	Path       string
	Descending bool
}

// SortSpec orders documents by a list of keys
type SortSpec struct {
	keys    []SortKey
	natural int
}

// ParseSort parses an ordered document of path to 1 or -1. $natural
// keeps insertion order, reversed by -1.
func ParseSort(spec *document.Document) (*SortSpec, error) {
	s := &SortSpec{}
	if spec == nil {
		return s, nil
	}

	var err error
	spec.Each(func(path string, v *document.Value) bool {
		dir, ok := v.Float64()
		if !ok || dir == 0 {
			err = dberr.Compilef("bad sort specification for %s: %s", path, v.String())
			return false
		}
		if path == "$natural" {
			s.natural = 1
			if dir < 0 {
				s.natural = -1
			}
			return true
		}
		s.keys = append(s.keys, SortKey{Path: path, Descending: dir < 0})
		return true
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Keys returns the field keys in order
func (s *SortSpec) Keys() []SortKey {
	return s.keys
}

// Natural returns 1 or -1 for a $natural sort, 0 otherwise
func (s *SortSpec) Natural() int {
	return s.natural
}

// IsEmpty reports whether the spec leaves documents in storage order
func (s *SortSpec) IsEmpty() bool {
	return s == nil || (len(s.keys) == 0 && s.natural >= 0)
}

// Compare orders a against b
func (s *SortSpec) Compare(a, b *document.Document) (int, error) {
	for _, k := range s.keys {
		c, err := document.CompareStrict(SortValue(a, k.Path, k.Descending), SortValue(b, k.Path, k.Descending))
		if err != nil {
			return 0, err
		}
		if c != 0 {
			if k.Descending {
				return -c, nil
			}
			return c, nil
		}
	}
	return 0, nil
}

// Sort sorts docs in place; equal documents keep their relative order
func (s *SortSpec) Sort(docs []*document.Document) error {
	if s == nil {
		return nil
	}
	if s.natural < 0 {
		for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
			docs[i], docs[j] = docs[j], docs[i]
		}
	}
	if len(s.keys) == 0 {
		return nil
	}

	var sortErr error
	sort.SliceStable(docs, func(i, j int) bool {
		c, err := s.Compare(docs[i], docs[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	return sortErr
}

// SortValue is the value a document sorts by: Null when missing, the
// smallest element of an array ascending and the largest descending
func SortValue(doc *document.Document, path string, descending bool) *document.Value {
	var flat []*document.Value
	for _, v := range document.Resolve(doc, path) {
		if v.IsArray() {
			flat = append(flat, v.Array()...)
			continue
		}
		flat = append(flat, v)
	}
	if len(flat) == 0 {
		return document.Null
	}

	best := flat[0]
	for _, v := range flat[1:] {
		c := document.Compare(v, best)
		if (descending && c > 0) || (!descending && c < 0) {
			best = v
		}
	}
	return best
}
