package database

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnohosten/memdb/pkg/changestream"
	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/index"
	"github.com/mnohosten/memdb/pkg/metrics"
	"github.com/mnohosten/memdb/pkg/query"
	"github.com/mnohosten/memdb/pkg/update"
)

// MaxDocumentSize is the largest BSON size a stored document may have
const MaxDocumentSize = 16 * 1024 * 1024

const idIndexName = "_id_"

// Collection represents a collection of documents. Stored documents are
// owned by the collection and addressed by internal ids; every document
// returned to callers is a copy.
type Collection struct {
	db   *Database
	name string
	temp bool // aggregation scratch space: no indexes, documents kept as given

	mu     sync.RWMutex
	emitMu sync.Mutex // orders event delivery across writers

	docs    map[index.DocID]*document.Document
	order   []index.DocID // insertion order
	nextID  index.DocID
	indexes []index.Index // creation order; _id_ first

	validator     *query.Query
	validatorSpec *document.Document
	maxDocs       int
}

// entry is a stored document and its id
type entry struct {
	id  index.DocID
	doc *document.Document
}

func newCollection(db *Database, name string, temp bool) *Collection {
	c := &Collection{
		db:      db,
		name:    name,
		temp:    temp,
		docs:    make(map[index.DocID]*document.Document),
		maxDocs: db.cfg.MaxDocuments,
	}
	if temp {
		c.maxDocs = math.MaxInt
	} else {
		c.indexes = []index.Index{c.newIDIndex()}
	}
	return c
}

func (c *Collection) newIDIndex() index.Index {
	idx, err := index.New(idIndexName, document.NewDocumentFromMap(map[string]interface{}{"_id": 1}), true, false,
		index.WithNamespace(c.namespace()))
	if err != nil {
		panic(fmt.Sprintf("_id index: %v", err))
	}
	return idx
}

func (c *Collection) configure(opts *CollectionOptions) error {
	if opts.MaxDocuments > 0 {
		c.maxDocs = opts.MaxDocuments
	}
	if opts.Validator != nil && opts.Validator.Len() > 0 {
		q, err := c.db.compile(opts.Validator)
		if err != nil {
			return fmt.Errorf("invalid validator: %w", err)
		}
		c.validator = q
		c.validatorSpec = opts.Validator.Clone()
	}
	return nil
}

// Name returns the collection name
func (c *Collection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Collection) namespace() string {
	return c.db.name + "." + c.name
}

// Len returns the number of stored documents
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Insert stores copies of docs in order, assigning an ObjectID _id to
// documents without one. It stops at the first failure; documents before
// it stay inserted. The returned ids are those of the stored documents.
func (c *Collection) Insert(docs ...*document.Document) ([]*document.Value, error) {
	start := time.Now()
	watching := c.watching()

	c.mu.Lock()
	ids := make([]*document.Value, 0, len(docs))
	var events []ChangeEvent
	var err error
	for _, doc := range docs {
		var e entry
		if e, err = c.insertLocked(doc); err != nil {
			break
		}
		id := e.doc.ID()
		if id != nil {
			ids = append(ids, id.Clone())
		}
		if watching {
			events = append(events, ChangeEvent{
				OperationType: changestream.OperationTypeInsert,
				Collection:    c.name,
				DocumentKey:   id.Clone(),
				FullDocument:  e.doc.Clone(),
			})
		}
	}
	c.recordSize()
	c.unlockAndPublish(events)

	c.observe("insert", start, err, nil)
	return ids, err
}

// insertLocked validates and stores a copy of doc. The caller holds the
// write lock.
func (c *Collection) insertLocked(doc *document.Document) (entry, error) {
	if doc == nil {
		doc = document.NewDocument()
	}
	stored := doc.Clone()

	if !c.temp {
		// Generate _id if not provided; it always leads the document
		if id, ok := stored.GetValue("_id"); ok {
			if id.IsArray() {
				return entry{}, dberr.BadValuef("can't use an array for _id")
			}
			stored.Delete("_id")
			stored.Prepend("_id", id)
		} else {
			stored.Prepend("_id", document.NewValue(document.NewObjectID()))
		}
		if err := checkFieldNames(stored); err != nil {
			return entry{}, err
		}
		if err := c.checkDocument(stored); err != nil {
			return entry{}, err
		}
	}

	if len(c.docs) >= c.maxDocs {
		c.db.logger.Warn("collection is full", "collection", c.name, "max", c.maxDocs)
		return entry{}, dberr.New(dberr.BadValue, dberr.CodeCollectionFull, "collection is full")
	}

	// Insert into indexes
	id := c.nextID + 1
	if err := c.reindex(id, stored, nil); err != nil {
		return entry{}, err
	}

	// Store document
	c.nextID = id
	c.docs[id] = stored
	c.order = append(c.order, id)
	return entry{id: id, doc: stored}, nil
}

// checkDocument enforces the size limit and the validator
func (c *Collection) checkDocument(doc *document.Document) error {
	if size := document.BSONSize(doc); size > MaxDocumentSize {
		return dberr.New(dberr.BadValue, dberr.CodeDocumentTooLarge,
			"object to insert too large: %d bytes, max size is %d", size, MaxDocumentSize)
	}
	if c.validator != nil && !c.validator.Match(doc) {
		return dberr.New(dberr.BadValue, dberr.CodeDocumentValidation, "Document failed validation")
	}
	return nil
}

// checkFieldNames rejects empty, $-prefixed, dotted and NUL-bearing names
// at any depth
func checkFieldNames(doc *document.Document) error {
	var err error
	doc.Each(func(key string, v *document.Value) bool {
		switch {
		case key == "":
			err = dberr.FieldName("An empty string is not a valid field name")
		case strings.HasPrefix(key, "$"):
			err = dberr.FieldName("Document can't have $ prefixed field names: %s", key)
		case strings.Contains(key, "."):
			err = dberr.FieldName("can't have . in field names [%s]", key)
		case strings.ContainsRune(key, 0):
			err = dberr.FieldName("field names cannot contain null bytes")
		default:
			err = checkValueNames(v)
		}
		return err == nil
	})
	return err
}

func checkValueNames(v *document.Value) error {
	switch {
	case v.IsDocument():
		return checkFieldNames(v.Document())
	case v.IsArray():
		for _, item := range v.Array() {
			if err := checkValueNames(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// reindex moves id from old to doc in every index. On a conflict the
// indexes already updated are restored and the error returned.
func (c *Collection) reindex(id index.DocID, doc, old *document.Document) error {
	for i, idx := range c.indexes {
		if err := idx.AddOrUpdate(id, doc, old); err != nil {
			for _, done := range c.indexes[:i] {
				if old == nil {
					done.Remove(id, doc)
				} else {
					_ = done.AddOrUpdate(id, old, doc)
				}
			}
			return fmt.Errorf("failed to insert into index %s: %w", idx.Name(), err)
		}
	}
	return nil
}

// compile compiles a filter with the database options and, when the
// collection has one, the text index $text clauses search
func (c *Collection) compile(filter *document.Document) (*query.Query, error) {
	if filter == nil {
		filter = document.NewDocument()
	}
	opts := c.db.queryOptions()
	if ti := c.textIndex(); ti != nil {
		opts = append(opts, query.WithTextSearcher(ti))
	}
	return query.Compile(filter, opts...)
}

func (c *Collection) textIndex() *index.TextIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.textIndexLocked()
}

func (c *Collection) textIndexLocked() *index.TextIndex {
	for _, idx := range c.indexes {
		if ti, ok := idx.(*index.TextIndex); ok {
			return ti
		}
	}
	return nil
}

// candidates returns the ids the best index narrows q to, or every id in
// insertion order
func (c *Collection) candidates(q *query.Query) ([]index.DocID, index.Index) {
	if !q.IsEmpty() {
		if idx := index.Select(c.indexes, q.Spec()); idx != nil {
			if ids, ok := idx.Candidates(q.Spec()); ok {
				c.db.metrics.RecordScan(c.name, true)
				return ids, idx
			}
		}
	}
	if !c.temp {
		c.db.metrics.RecordScan(c.name, false)
	}
	return c.order, nil
}

// match returns the stored documents matching q in insertion order. The
// caller holds the lock.
func (c *Collection) match(q *query.Query) []entry {
	ids, _ := c.candidates(q)
	docs := make([]*document.Document, 0, len(ids))
	live := make([]index.DocID, 0, len(ids))
	for _, id := range ids {
		if doc, ok := c.docs[id]; ok {
			docs = append(docs, doc)
			live = append(live, id)
		}
	}

	matched := docs
	if !q.IsEmpty() {
		matched = c.db.filterPool().Filter(docs, q)
	}

	// Filter keeps input order, so one pass pairs matches with their ids
	out := make([]entry, 0, len(matched))
	j := 0
	for i, doc := range docs {
		if j < len(matched) && matched[j] == doc {
			out = append(out, entry{id: live[i], doc: doc})
			j++
		}
	}
	return out
}

// selectEntries matches, orders and pages stored documents. The caller
// holds the lock.
func (c *Collection) selectEntries(q *query.Query, sortSpec *query.SortSpec, skip, limit int) ([]entry, error) {
	if skip < 0 {
		return nil, dberr.BadValuef("skip value must be non-negative, got %d", skip)
	}

	es := c.match(q)
	if err := arrange(es, q, sortSpec); err != nil {
		return nil, err
	}

	if skip > 0 {
		if skip >= len(es) {
			return nil, nil
		}
		es = es[skip:]
	}
	if limit < 0 {
		limit = -limit
	}
	if limit > 0 && limit < len(es) {
		es = es[:limit]
	}
	return es, nil
}

// arrange orders matches by $near distance when the query has one, else
// by the sort spec, else keeps insertion order; unsorted _id $in queries
// come back ordered by _id
func arrange(es []entry, q *query.Query, sortSpec *query.SortSpec) error {
	if near := q.Near(); near != nil {
		dist := make(map[index.DocID]float64, len(es))
		for _, e := range es {
			d, _ := near.Distance(e.doc)
			dist[e.id] = d
		}
		sort.SliceStable(es, func(i, j int) bool { return dist[es[i].id] < dist[es[j].id] })
		return nil
	}

	if !sortSpec.IsEmpty() {
		if sortSpec.Natural() < 0 {
			for i, j := 0, len(es)-1; i < j; i, j = i+1, j-1 {
				es[i], es[j] = es[j], es[i]
			}
		}
		if len(sortSpec.Keys()) == 0 {
			return nil
		}
		var sortErr error
		sort.SliceStable(es, func(i, j int) bool {
			c, err := sortSpec.Compare(es[i].doc, es[j].doc)
			if err != nil && sortErr == nil {
				sortErr = err
			}
			return c < 0
		})
		return sortErr
	}

	if idIn(q.Spec()) {
		sort.SliceStable(es, func(i, j int) bool {
			return document.Compare(es[i].doc.ID(), es[j].doc.ID()) < 0
		})
	}
	return nil
}

// idIn reports whether the filter selects _id with $in
func idIn(spec *document.Document) bool {
	if spec == nil {
		return false
	}
	v, ok := spec.GetValue("_id")
	if !ok {
		return false
	}
	ops := v.Document()
	return ops != nil && ops.Has("$in")
}

// Find returns copies of the documents matching filter
func (c *Collection) Find(filter *document.Document, opts *FindOptions) ([]*document.Document, error) {
	start := time.Now()
	docs, err := c.find(filter, opts)
	c.observe("find", start, err, filter)
	return docs, err
}

func (c *Collection) find(filter *document.Document, opts *FindOptions) ([]*document.Document, error) {
	if opts == nil {
		opts = &FindOptions{}
	}
	q, err := c.compile(filter)
	if err != nil {
		return nil, err
	}
	proj, err := query.ParseProjection(opts.Projection, c.db.queryOptions()...)
	if err != nil {
		return nil, err
	}
	sortSpec, err := query.ParseSort(opts.Sort)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	es, err := c.selectEntries(q, sortSpec, opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, len(es))
	for i, e := range es {
		out[i] = proj.Apply(e.doc)
	}
	return out, nil
}

// FindOne returns the first matching document, or ErrNoDocuments
func (c *Collection) FindOne(filter *document.Document, opts *FindOptions) (*document.Document, error) {
	o := FindOptions{}
	if opts != nil {
		o = *opts
	}
	o.Limit = 1

	docs, err := c.Find(filter, &o)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs[0], nil
}

// Count returns the number of matching documents after skip and limit
func (c *Collection) Count(filter *document.Document, skip, limit int) (int, error) {
	start := time.Now()
	q, err := c.compile(filter)
	if err != nil {
		c.observe("count", start, err, filter)
		return 0, err
	}

	c.mu.RLock()
	n := len(c.docs)
	if !q.IsEmpty() {
		n = len(c.match(q))
	}
	c.mu.RUnlock()

	if skip > 0 {
		n = max(n-skip, 0)
	}
	if limit < 0 {
		limit = -limit
	}
	if limit > 0 && limit < n {
		n = limit
	}
	c.observe("count", start, nil, filter)
	return n, nil
}

// Distinct returns the distinct values of field among matching documents.
// Array values contribute their elements.
func (c *Collection) Distinct(field string, filter *document.Document) ([]*document.Value, error) {
	start := time.Now()
	q, err := c.compile(filter)
	if err != nil {
		c.observe("distinct", start, err, filter)
		return nil, err
	}

	c.mu.RLock()
	es := c.match(q)
	var out []*document.Value
	add := func(v *document.Value) {
		for _, seen := range out {
			if document.Equal(seen, v) {
				return
			}
		}
		out = append(out, v.Clone())
	}
	for _, e := range es {
		for _, v := range document.Resolve(e.doc, field) {
			if v.IsArray() {
				for _, item := range v.Array() {
					add(item)
				}
				continue
			}
			add(v)
		}
	}
	c.mu.RUnlock()

	c.observe("distinct", start, nil, filter)
	return out, nil
}

// Update applies upd to the first matching document, or to every match
// when multi is set. With upsert and no match, a document built from the
// filter's equality clauses is updated and inserted.
func (c *Collection) Update(filter, upd *document.Document, upsert, multi bool) (UpdateResult, error) {
	start := time.Now()
	res, err := c.update(filter, upd, upsert, multi)
	c.observe("update", start, err, filter)
	return res, err
}

func (c *Collection) update(filter, upd *document.Document, upsert, multi bool) (UpdateResult, error) {
	var res UpdateResult
	u, err := update.Compile(upd)
	if err != nil {
		return res, err
	}
	if multi && u.IsReplacement() {
		return res, dberr.New(dberr.BadOperatorUsage, dberr.CodeFailedToParse, "multi update only works with $ operators")
	}
	if filter == nil {
		filter = document.NewDocument()
	}
	q, err := c.compile(filter)
	if err != nil {
		return res, err
	}

	watching := c.watching()
	c.mu.Lock()
	var events []ChangeEvent
	defer func() { c.unlockAndPublish(events) }()

	for _, e := range c.match(q) {
		res.Matched++
		next, changed, err := c.modify(e, u, filter)
		if err != nil {
			return res, err
		}
		if changed {
			res.Modified++
			if watching {
				events = append(events, c.updateEvent(u, e.doc, next))
			}
		}
		if !multi {
			break
		}
	}

	// Nothing matched: insert the upsert document
	if res.Matched == 0 && upsert {
		e, err := c.upsert(filter, u)
		if err != nil {
			return res, err
		}
		res.UpsertedID = e.doc.ID().Clone()
		if watching {
			events = append(events, ChangeEvent{
				OperationType: changestream.OperationTypeInsert,
				Collection:    c.name,
				DocumentKey:   e.doc.ID().Clone(),
				FullDocument:  e.doc.Clone(),
			})
		}
		c.recordSize()
	}
	return res, nil
}

// modify applies u to a copy of one stored document and swaps it in. The
// stored document and indexes are untouched on error.
func (c *Collection) modify(e entry, u *update.Update, filter *document.Document) (*document.Document, bool, error) {
	next := e.doc.Clone()
	changed, err := u.Apply(next, filter, false)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return e.doc, false, nil
	}
	if u.IsReplacement() {
		if err := checkFieldNames(next); err != nil {
			return nil, false, err
		}
	}
	if err := c.checkDocument(next); err != nil {
		return nil, false, err
	}
	// Update indexes
	if err := c.reindex(e.id, next, e.doc); err != nil {
		return nil, false, err
	}
	c.docs[e.id] = next
	return next, true, nil
}

// upsert inserts the document an update synthesizes when nothing matched
func (c *Collection) upsert(filter *document.Document, u *update.Update) (entry, error) {
	doc := update.UpsertSeed(filter)
	if _, err := u.Apply(doc, filter, true); err != nil {
		return entry{}, err
	}
	return c.insertLocked(doc)
}

func (c *Collection) updateEvent(u *update.Update, before, after *document.Document) ChangeEvent {
	ev := ChangeEvent{
		OperationType: changestream.OperationTypeUpdate,
		Collection:    c.name,
		DocumentKey:   after.ID().Clone(),
		FullDocument:  after.Clone(),
	}
	if u.IsReplacement() {
		ev.OperationType = changestream.OperationTypeReplace
	} else {
		ev.UpdateDescription = changestream.Describe(before, after)
	}
	return ev
}

// UpdateOne updates the first matching document
func (c *Collection) UpdateOne(filter, upd *document.Document) (UpdateResult, error) {
	return c.Update(filter, upd, false, false)
}

// UpdateMany updates every matching document
func (c *Collection) UpdateMany(filter, upd *document.Document) (UpdateResult, error) {
	return c.Update(filter, upd, false, true)
}

// ReplaceOne replaces the first matching document, keeping its _id
func (c *Collection) ReplaceOne(filter, replacement *document.Document, upsert bool) (UpdateResult, error) {
	if replacement != nil {
		for _, k := range replacement.Keys() {
			if strings.HasPrefix(k, "$") {
				return UpdateResult{}, dberr.BadValuef("replacement document must not contain update operators")
			}
		}
	}
	return c.Update(filter, replacement, upsert, false)
}

// Remove deletes the first matching document, or all of them unless
// justOne is set. It returns the number removed.
func (c *Collection) Remove(filter *document.Document, justOne bool) (int, error) {
	start := time.Now()
	q, err := c.compile(filter)
	if err != nil {
		c.observe("remove", start, err, filter)
		return 0, err
	}

	watching := c.watching()
	c.mu.Lock()
	es := c.match(q)
	if justOne && len(es) > 1 {
		es = es[:1]
	}
	// Remove from the store and every index
	c.evict(es)
	c.recordSize()

	var events []ChangeEvent
	if watching {
		for _, e := range es {
			events = append(events, ChangeEvent{
				OperationType: changestream.OperationTypeDelete,
				Collection:    c.name,
				DocumentKey:   e.doc.ID().Clone(),
			})
		}
	}
	c.unlockAndPublish(events)

	c.observe("remove", start, nil, filter)
	return len(es), nil
}

// DeleteOne removes the first matching document
func (c *Collection) DeleteOne(filter *document.Document) (int, error) {
	return c.Remove(filter, true)
}

// DeleteMany removes every matching document
func (c *Collection) DeleteMany(filter *document.Document) (int, error) {
	return c.Remove(filter, false)
}

// evict drops entries from every index and the store
func (c *Collection) evict(es []entry) {
	if len(es) == 0 {
		return
	}
	gone := make(map[index.DocID]struct{}, len(es))
	for _, e := range es {
		for _, idx := range c.indexes {
			idx.Remove(e.id, e.doc)
		}
		delete(c.docs, e.id)
		gone[e.id] = struct{}{}
	}

	kept := make([]index.DocID, 0, len(c.order)-len(es))
	for _, id := range c.order {
		if _, ok := gone[id]; !ok {
			kept = append(kept, id)
		}
	}
	c.order = kept
}

// FindAndModify updates or removes the first document matching opts.Query
// in opts.Sort order and returns it, before the change unless ReturnNew is
// set. It returns nil when nothing matched and nothing was upserted.
func (c *Collection) FindAndModify(opts FindAndModifyOptions) (*document.Document, error) {
	start := time.Now()
	doc, err := c.findAndModify(opts)
	c.observe("findAndModify", start, err, opts.Query)
	return doc, err
}

func (c *Collection) findAndModify(opts FindAndModifyOptions) (*document.Document, error) {
	if opts.Remove == (opts.Update != nil) {
		return nil, dberr.New(dberr.BadValue, dberr.CodeFailedToParse, "Either an update or remove=true must be specified")
	}
	if opts.Remove && (opts.Upsert || opts.ReturnNew) {
		return nil, dberr.New(dberr.BadValue, dberr.CodeFailedToParse, "remove and returnNew can't co-exist")
	}

	filter := opts.Query
	if filter == nil {
		filter = document.NewDocument()
	}
	q, err := c.compile(filter)
	if err != nil {
		return nil, err
	}
	sortSpec, err := query.ParseSort(opts.Sort)
	if err != nil {
		return nil, err
	}
	proj, err := query.ParseProjection(opts.Fields, c.db.queryOptions()...)
	if err != nil {
		return nil, err
	}
	var u *update.Update
	if opts.Update != nil {
		if u, err = update.Compile(opts.Update); err != nil {
			return nil, err
		}
	}

	watching := c.watching()
	c.mu.Lock()
	var events []ChangeEvent
	defer func() { c.unlockAndPublish(events) }()

	es, err := c.selectEntries(q, sortSpec, 0, 1)
	if err != nil {
		return nil, err
	}

	if len(es) == 0 {
		if !opts.Upsert {
			return nil, nil
		}
		e, err := c.upsert(filter, u)
		if err != nil {
			return nil, err
		}
		c.recordSize()
		if watching {
			events = append(events, ChangeEvent{
				OperationType: changestream.OperationTypeInsert,
				Collection:    c.name,
				DocumentKey:   e.doc.ID().Clone(),
				FullDocument:  e.doc.Clone(),
			})
		}
		if !opts.ReturnNew {
			return nil, nil
		}
		return proj.Apply(e.doc), nil
	}

	e := es[0]
	if opts.Remove {
		c.evict(es)
		c.recordSize()
		if watching {
			events = append(events, ChangeEvent{
				OperationType: changestream.OperationTypeDelete,
				Collection:    c.name,
				DocumentKey:   e.doc.ID().Clone(),
			})
		}
		return proj.Apply(e.doc), nil
	}

	next, changed, err := c.modify(e, u, filter)
	if err != nil {
		return nil, err
	}
	if changed && watching {
		events = append(events, c.updateEvent(u, e.doc, next))
	}
	if opts.ReturnNew {
		return proj.Apply(next), nil
	}
	return proj.Apply(e.doc), nil
}

// CreateIndex builds an index over the existing documents and returns its
// name. Creating an index that already exists with the same key pattern
// and options does nothing.
func (c *Collection) CreateIndex(keyPattern *document.Document, opts IndexOptions) (string, error) {
	start := time.Now()
	name, err := c.createIndex(keyPattern, opts)
	c.observe("createIndex", start, err, nil)
	return name, err
}

func (c *Collection) createIndex(keyPattern *document.Document, opts IndexOptions) (string, error) {
	if c.temp {
		return "", dberr.New(dberr.BadValue, dberr.CodeInvalidOptions, "cannot index a temporary collection")
	}
	if keyPattern == nil || keyPattern.Len() == 0 {
		return "", dberr.IndexSpec(dberr.CodeBadIndexKeyPattern, "bad index key pattern { }")
	}
	name := opts.Name
	if name == "" {
		name = index.DefaultName(keyPattern)
	}

	watching := c.watching()
	c.mu.Lock()
	for _, idx := range c.indexes {
		sameKey := idx.Spec().Equal(keyPattern)
		if idx.Name() == name {
			if sameKey && idx.Unique() == opts.Unique && idx.Sparse() == opts.Sparse {
				c.mu.Unlock()
				return name, nil
			}
			c.mu.Unlock()
			return "", dberr.IndexSpec(dberr.CodeIndexOptionsConflict, "Index with name: %s already exists with different options", name)
		}
		if sameKey {
			c.mu.Unlock()
			return "", dberr.IndexSpec(dberr.CodeIndexOptionsConflict, "Index with pattern: %s already exists with a different name: %s", keyPattern, idx.Name())
		}
	}

	idx, err := index.New(name, keyPattern.Clone(), opts.Unique, opts.Sparse,
		index.WithNamespace(c.namespace()), index.WithGeometry(c.db.geometry))
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	if existing := c.textIndexLocked(); existing != nil && idx.Kind() == index.KindText {
		c.mu.Unlock()
		return "", dberr.IndexSpec(dberr.CodeIndexOptionsConflict,
			"only one text index per collection allowed, found existing text index %s", existing.Name())
	}

	// Build the index over the existing documents
	for _, id := range c.order {
		if err := idx.AddOrUpdate(id, c.docs[id], nil); err != nil {
			c.mu.Unlock()
			return "", err
		}
	}
	c.indexes = append(c.indexes, idx)

	var events []ChangeEvent
	if watching {
		events = append(events, ChangeEvent{OperationType: changestream.OperationTypeCreateIndex, Collection: c.name, IndexName: name})
	}
	c.unlockAndPublish(events)

	c.db.logger.Debug("index created", "collection", c.name, "index", name, "kind", idx.Kind().String(), "entries", idx.Size())
	return name, nil
}

// DropIndex drops an index by name; "*" drops every index except _id_
func (c *Collection) DropIndex(name string) error {
	if name == idIndexName {
		return dberr.IndexSpec(dberr.CodeInvalidOptions, "cannot drop _id index")
	}

	watching := c.watching()
	c.mu.Lock()
	var dropped []string
	if name == "*" {
		for _, idx := range c.indexes {
			if idx.Name() != idIndexName {
				dropped = append(dropped, idx.Name())
			}
		}
		c.indexes = c.indexes[:min(1, len(c.indexes))]
	} else {
		pos := -1
		for i, idx := range c.indexes {
			if idx.Name() == name {
				pos = i
				break
			}
		}
		if pos < 0 {
			c.mu.Unlock()
			return dberr.New(dberr.NotFound, dberr.CodeIndexNotFound, "index not found with name [%s]", name)
		}
		c.indexes = append(c.indexes[:pos:pos], c.indexes[pos+1:]...)
		dropped = append(dropped, name)
	}

	var events []ChangeEvent
	if watching {
		for _, n := range dropped {
			events = append(events, ChangeEvent{OperationType: changestream.OperationTypeDropIndex, Collection: c.name, IndexName: n})
		}
	}
	c.unlockAndPublish(events)

	c.db.logger.Debug("index dropped", "collection", c.name, "indexes", dropped)
	return nil
}

// Indexes describes the collection's indexes in creation order
func (c *Collection) Indexes() []IndexInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]IndexInfo, 0, len(c.indexes))
	for _, idx := range c.indexes {
		out = append(out, IndexInfo{
			Name:   idx.Name(),
			Key:    idx.Spec().Clone(),
			Kind:   idx.Kind().String(),
			Unique: idx.Unique(),
			Sparse: idx.Sparse(),
			Size:   idx.Size(),
		})
	}
	return out
}

// index returns the named index, or nil
func (c *Collection) index(name string) index.Index {
	for _, idx := range c.indexes {
		if idx.Name() == name {
			return idx
		}
	}
	return nil
}

// Drop removes the collection from its database
func (c *Collection) Drop() error {
	return c.db.DropCollection(c.Name())
}

// Stats returns collection statistics
func (c *Collection) Stats() CollectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := CollectionStats{
		Name:      c.name,
		Count:     len(c.docs),
		Indexes:   len(c.indexes),
		IndexInfo: make(map[string]map[string]interface{}, len(c.indexes)),
	}
	for _, doc := range c.docs {
		st.Size += document.BSONSize(doc)
	}
	for _, idx := range c.indexes {
		st.IndexInfo[idx.Name()] = idx.Stats().ToMap()
	}
	return st
}

// truncate removes every document, keeping the indexes. The caller holds
// the write lock.
func (c *Collection) truncate() {
	for _, idx := range c.indexes {
		idx.Clear()
	}
	c.docs = make(map[index.DocID]*document.Document)
	c.order = nil
}

// clear resets the collection to its freshly created state
func (c *Collection) clear() {
	c.truncate()
	if !c.temp {
		c.indexes = c.indexes[:min(1, len(c.indexes))]
	}
}

// rename rebuilds the indexes under the new namespace. The caller holds
// the write lock.
func (c *Collection) rename(newName string) error {
	oldName := c.name
	c.name = newName

	rebuilt := make([]index.Index, 0, len(c.indexes))
	for _, old := range c.indexes {
		idx, err := index.New(old.Name(), old.Spec(), old.Unique(), old.Sparse(),
			index.WithNamespace(c.namespace()), index.WithGeometry(c.db.geometry))
		if err == nil {
			for _, id := range c.order {
				if err = idx.AddOrUpdate(id, c.docs[id], nil); err != nil {
					break
				}
			}
		}
		if err != nil {
			c.name = oldName
			return fmt.Errorf("failed to rebuild index %s: %w", old.Name(), err)
		}
		rebuilt = append(rebuilt, idx)
	}
	c.indexes = rebuilt
	return nil
}

// watching reports whether mutations should build change events
func (c *Collection) watching() bool {
	return !c.temp && c.db.hub.Active()
}

// unlockAndPublish releases the write lock and delivers events. emitMu is
// taken before the lock is released so writers publish in commit order.
func (c *Collection) unlockAndPublish(events []ChangeEvent) {
	if len(events) == 0 {
		c.mu.Unlock()
		return
	}
	c.emitMu.Lock()
	c.mu.Unlock()
	c.db.hub.Publish(events...)
	c.emitMu.Unlock()
}

// observe records metrics and the slow operation log
func (c *Collection) observe(op string, start time.Time, err error, filter *document.Document) {
	if c.temp {
		return
	}
	c.db.metrics.Observe(c.name, op, start, err)
	if d := time.Since(start); c.db.slow.Exceeds(d) {
		entry := metrics.SlowEntry{Operation: op, Collection: c.name, Duration: d}
		if filter != nil {
			entry.Filter = filter.String()
		}
		c.db.slow.Record(entry)
	}
}

// recordSize publishes the document count gauge. The caller holds the
// lock.
func (c *Collection) recordSize() {
	if !c.temp {
		c.db.metrics.SetDocuments(c.name, len(c.docs))
	}
}
