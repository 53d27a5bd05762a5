// Package index maintains the secondary indexes of a collection. Indexes
// map a key derived from each document to the set of internal document ids
// sharing that key; documents themselves stay owned by the collection.
//
// Indexes are not safe for concurrent mutation; the owning collection
// serializes writers.
package index

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/geo"
)

// DocID identifies a stored document inside its collection. Ids grow with
// insertion order.
type DocID uint64

// Kind represents the type of index
type Kind int

const (
	KindStandard  Kind = iota
	KindHashed         // hashed equality index
	Kind2D             // 2d planar geospatial index
	Kind2DSphere       // 2dsphere spherical geospatial index
	KindText           // full text index
)

// String returns the key pattern marker for the kind
func (k Kind) String() string {
	switch k {
	case KindHashed:
		return "hashed"
	case Kind2D:
		return "2d"
	case Kind2DSphere:
		return "2dsphere"
	case KindText:
		return "text"
	default:
		return "standard"
	}
}

// Index is a key-indexed structure over a collection
type Index interface {
	Name() string
	// Spec returns the key pattern the index was created with
	Spec() *document.Document
	Kind() Kind
	Fields() []string
	Unique() bool
	Sparse() bool

	// AddOrUpdate indexes doc under id, replacing the entry for old when
	// old is not nil. A uniqueness conflict returns a DuplicateKey error
	// and leaves the index unchanged.
	AddOrUpdate(id DocID, doc, old *document.Document) error
	Remove(id DocID, doc *document.Document)
	Clear()

	// Values returns every indexed id in insertion order
	Values() []DocID
	Size() int

	// CanHandle reports whether the index covers the query's fields
	CanHandle(q *document.Document) bool
	// Candidates returns a superset of the ids matching q, in insertion
	// order. ok is false when the index cannot narrow the query.
	Candidates(q *document.Document) (ids []DocID, ok bool)

	KeyFor(doc *document.Document) *document.Document
	Buckets() []Bucket
	Stats() Stats
}

// Bucket is one distinct key and the ids stored under it
type Bucket struct {
	Key *document.Document
	IDs []DocID
}

// Option configures an index
type Option func(*options)

type options struct {
	namespace string
	geometry  geo.Geometry
}

// WithNamespace sets the "db.collection" namespace used in duplicate key
// messages
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithGeometry overrides the geometry used by geo indexes
func WithGeometry(g geo.Geometry) Option {
	return func(o *options) { o.geometry = g }
}

// New creates an index, deriving its kind from the key pattern: "hashed"
// selects a hashed index, "2d" or "2dsphere" a geo index, "text" a text
// index, numbers a standard one.
func New(name string, keyPattern *document.Document, unique, sparse bool, opts ...Option) (Index, error) {
	o := options{namespace: "db.collection", geometry: geo.Default}
	for _, opt := range opts {
		opt(&o)
	}

	if keyPattern == nil || keyPattern.Len() == 0 {
		return nil, dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "bad index key pattern { }")
	}

	kind := KindStandard
	hashed := ""
	numeric, textFields := 0, 0
	var err error
	pos := 0
	keyPattern.Each(func(field string, v *document.Value) bool {
		pos++
		if field == "" {
			err = dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "bad index key pattern %s: empty field name", keyPattern)
			return false
		}
		if v.IsNumber() {
			numeric++
			return true
		}
		marker, ok := v.StringValue()
		if !ok {
			err = dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "bad index key pattern %s", keyPattern)
			return false
		}
		switch marker {
		case "2d", "2dsphere":
			if pos > 1 {
				err = dberr.IndexSpec(dberr.CodeGeoFirstInIndex, "%s has to be first in index", marker)
				return false
			}
			kind = Kind2D
			if marker == "2dsphere" {
				kind = Kind2DSphere
			}
		case "hashed":
			if hashed != "" {
				err = dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "A maximum of one index field is allowed to be hashed but found more than one in %s", keyPattern)
				return false
			}
			hashed = field
		case "text":
			textFields++
		default:
			err = dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "Unknown index plugin '%s' in index %s", marker, keyPattern)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if hashed != "" && kind != KindStandard {
		return nil, dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "bad index key pattern %s: hashed and geo fields cannot be combined", keyPattern)
	}
	if hashed != "" {
		kind = KindHashed
	}
	if textFields > 0 {
		if kind != KindStandard || numeric > 0 {
			return nil, dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "bad index key pattern %s: text fields cannot be combined with other index types", keyPattern)
		}
		kind = KindText
	}

	base := newKeyed(name, keyPattern.Clone(), kind, unique, sparse, o.namespace)
	base.hashed = hashed
	switch kind {
	case Kind2D, Kind2DSphere:
		return newGeoIndex(base, o.geometry), nil
	case KindText:
		return newTextIndex(base), nil
	}
	return base, nil
}

// keyed is the bucket store shared by every index kind
type keyed struct {
	name      string
	spec      *document.Document
	kind      Kind
	fields    []string
	unique    bool
	sparse    bool
	namespace string
	hashed    string

	buckets  map[string]*bucket
	entries  int
	multikey bool
	lookups  atomic.Int64
	updated  time.Time
}

type bucket struct {
	key *document.Document
	ids []DocID // ascending
}

func newKeyed(name string, spec *document.Document, kind Kind, unique, sparse bool, ns string) *keyed {
	return &keyed{
		name:      name,
		spec:      spec,
		kind:      kind,
		fields:    spec.Keys(),
		unique:    unique,
		sparse:    sparse,
		namespace: ns,
		buckets:   make(map[string]*bucket),
		updated:   time.Now(),
	}
}

// Name returns the index name
func (ix *keyed) Name() string { return ix.name }

// Spec returns the key pattern
func (ix *keyed) Spec() *document.Document { return ix.spec }

// Kind returns the index kind
func (ix *keyed) Kind() Kind { return ix.kind }

// Fields returns the indexed field paths in key pattern order
func (ix *keyed) Fields() []string { return ix.fields }

// Unique reports whether the index enforces uniqueness
func (ix *keyed) Unique() bool { return ix.unique }

// Sparse reports whether documents missing an indexed field are skipped
func (ix *keyed) Sparse() bool { return ix.sparse }

// KeyFor returns the index key of doc
func (ix *keyed) KeyFor(doc *document.Document) *document.Document {
	key := keyOf(doc, ix.fields)
	if ix.hashed == "" {
		return key
	}
	hashedKey := document.NewDocument()
	for _, f := range ix.fields {
		v, ok := key.GetValue(f)
		switch {
		case f == ix.hashed && !ok:
			hashedKey.SetValue(f, document.NewValue(hashValue(document.Null)))
		case f == ix.hashed:
			hashedKey.SetValue(f, document.NewValue(hashValue(v)))
		case ok:
			hashedKey.SetValue(f, v)
		}
	}
	return hashedKey
}

func (ix *keyed) checkHashed(doc *document.Document) error {
	if ix.hashed == "" {
		return nil
	}
	vals := document.Resolve(doc, ix.hashed)
	if len(vals) > 1 || (len(vals) == 1 && vals[0].IsArray()) {
		return dberr.New(dberr.BadValue, dberr.CodeHashedArray,
			"Error: hashed indexes do not currently support array values")
	}
	return nil
}

// partial reports whether doc misses one of the index fields
func (ix *keyed) partial(doc *document.Document) bool {
	for _, f := range ix.fields {
		if len(document.Resolve(doc, f)) == 0 {
			return true
		}
	}
	return false
}

// AddOrUpdate implements Index
func (ix *keyed) AddOrUpdate(id DocID, doc, old *document.Document) error {
	if err := ix.checkHashed(doc); err != nil {
		return err
	}
	if old != nil {
		ix.Remove(id, old)
	}
	if ix.sparse && ix.partial(doc) {
		return nil
	}

	key := ix.KeyFor(doc)
	enc := encodeKey(key)
	b := ix.buckets[enc]
	if ix.unique && b != nil && !(len(b.ids) == 1 && b.ids[0] == id) {
		if old != nil {
			ix.restore(id, old)
		}
		return ix.duplicate(doc)
	}
	if b == nil {
		b = &bucket{key: key}
		ix.buckets[enc] = b
	}
	if b.add(id) {
		ix.entries++
	}
	key.Each(func(_ string, v *document.Value) bool {
		if v.IsArray() {
			ix.multikey = true
			return false
		}
		return true
	})
	ix.updated = time.Now()
	return nil
}

// restore re-adds the entry removed for old after a failed update
func (ix *keyed) restore(id DocID, old *document.Document) {
	if ix.sparse && ix.partial(old) {
		return
	}
	key := ix.KeyFor(old)
	enc := encodeKey(key)
	b := ix.buckets[enc]
	if b == nil {
		b = &bucket{key: key}
		ix.buckets[enc] = b
	}
	if b.add(id) {
		ix.entries++
	}
}

func (ix *keyed) duplicate(doc *document.Document) error {
	values := make([]string, len(ix.fields))
	for i, f := range ix.fields {
		vals := document.Resolve(doc, f)
		switch len(vals) {
		case 0:
			values[i] = "null"
		case 1:
			values[i] = vals[0].String()
		default:
			values[i] = document.ArrayValue(vals...).String()
		}
	}
	return dberr.Duplicate(ix.namespace, ix.name, dberr.FormatKey(values))
}

// Remove implements Index
func (ix *keyed) Remove(id DocID, doc *document.Document) {
	enc := encodeKey(ix.KeyFor(doc))
	b := ix.buckets[enc]
	if b == nil {
		return
	}
	if b.remove(id) {
		ix.entries--
	}
	if len(b.ids) == 0 {
		delete(ix.buckets, enc)
	}
	ix.updated = time.Now()
}

// Clear drops every entry
func (ix *keyed) Clear() {
	ix.buckets = make(map[string]*bucket)
	ix.entries = 0
	ix.multikey = false
	ix.updated = time.Now()
}

// Values implements Index
func (ix *keyed) Values() []DocID {
	ids := make([]DocID, 0, ix.entries)
	for _, b := range ix.buckets {
		ids = append(ids, b.ids...)
	}
	return sortIDs(ids)
}

// Size returns the number of indexed entries
func (ix *keyed) Size() int { return ix.entries }

// CanHandle implements Index
func (ix *keyed) CanHandle(q *document.Document) bool {
	if !coversFields(ix.fields, q) {
		return false
	}
	if ix.sparse && matchesMissing(ix.fields, q) {
		return false
	}
	return true
}

// Candidates looks up the buckets of equality and $in clauses on every
// indexed field. Multikey indexes never narrow since an element equality
// cannot be expressed as a key lookup.
func (ix *keyed) Candidates(q *document.Document) ([]DocID, bool) {
	if q == nil || ix.multikey {
		return nil, false
	}
	probes, ok := probeKeys(ix.fields, q)
	if !ok {
		return nil, false
	}
	ix.lookups.Add(1)

	var ids []DocID
	for _, probe := range probes {
		key := ix.KeyFor(probe)
		if b := ix.buckets[encodeKey(key)]; b != nil {
			ids = append(ids, b.ids...)
		}
	}
	return sortIDs(ids), true
}

// Buckets returns the distinct keys in ascending key order
func (ix *keyed) Buckets() []Bucket {
	out := make([]Bucket, 0, len(ix.buckets))
	for _, b := range ix.buckets {
		out = append(out, Bucket{Key: b.key.Clone(), IDs: append([]DocID(nil), b.ids...)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return document.Compare(document.NewValue(out[i].Key), document.NewValue(out[j].Key)) < 0
	})
	return out
}

// Stats returns a snapshot of the index statistics
func (ix *keyed) Stats() Stats {
	return Stats{
		Entries:     ix.entries,
		Keys:        len(ix.buckets),
		Lookups:     ix.lookups.Load(),
		Multikey:    ix.multikey,
		LastUpdated: ix.updated,
	}
}

func (b *bucket) add(id DocID) bool {
	i := sort.Search(len(b.ids), func(i int) bool { return b.ids[i] >= id })
	if i < len(b.ids) && b.ids[i] == id {
		return false
	}
	b.ids = append(b.ids, 0)
	copy(b.ids[i+1:], b.ids[i:])
	b.ids[i] = id
	return true
}

func (b *bucket) remove(id DocID) bool {
	i := sort.Search(len(b.ids), func(i int) bool { return b.ids[i] >= id })
	if i == len(b.ids) || b.ids[i] != id {
		return false
	}
	b.ids = append(b.ids[:i], b.ids[i+1:]...)
	return true
}

// sortIDs sorts ids ascending and drops repeats
func sortIDs(ids []DocID) []DocID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}

// DefaultName builds the conventional index name, e.g. "a_1_b_-1"
func DefaultName(keyPattern *document.Document) string {
	var parts []string
	keyPattern.Each(func(field string, v *document.Value) bool {
		parts = append(parts, field, markerString(v))
		return true
	})
	return strings.Join(parts, "_")
}

func markerString(v *document.Value) string {
	if s, ok := v.StringValue(); ok {
		return s
	}
	if v.Type == document.TypeDouble {
		f, _ := v.Float64()
		if f != float64(int64(f)) {
			return v.String()
		}
	}
	n, _ := v.Int64()
	return strconv.FormatInt(n, 10)
}
