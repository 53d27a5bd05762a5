// Package changestream delivers change events for committed mutations to
// in-process subscribers.
package changestream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/query"
)

// OperationType represents the type of change operation
type OperationType string

const (
	OperationTypeInsert           OperationType = "insert"
	OperationTypeUpdate           OperationType = "update"
	OperationTypeReplace          OperationType = "replace"
	OperationTypeDelete           OperationType = "delete"
	OperationTypeDropCollection   OperationType = "drop"
	OperationTypeDropDatabase     OperationType = "dropDatabase"
	OperationTypeRename           OperationType = "rename"
	OperationTypeCreateIndex      OperationType = "createIndex"
	OperationTypeDropIndex        OperationType = "dropIndex"
	OperationTypeCreateCollection OperationType = "createCollection"
)

// ChangeEvent represents a single committed change
type ChangeEvent struct {
	// Sequence orders events within one hub
	Sequence int64

	OperationType OperationType
	Timestamp     time.Time

	Database   string
	Collection string

	// DocumentKey is the _id of the changed document
	DocumentKey *document.Value

	// FullDocument is the document after insert, update or replace
	FullDocument *document.Document

	// UpdateDescription lists the top-level fields an update touched
	UpdateDescription *UpdateDescription

	// IndexName is set for index events; To for renames
	IndexName string
	To        string
}

// UpdateDescription describes what was updated in an update operation
type UpdateDescription struct {
	UpdatedFields *document.Document
	RemovedFields []string
}

// Describe diffs the top-level fields of before and after
func Describe(before, after *document.Document) *UpdateDescription {
	desc := &UpdateDescription{UpdatedFields: document.NewDocument()}
	after.Each(func(k string, v *document.Value) bool {
		if old, ok := before.GetValue(k); !ok || !document.Equal(old, v) || old.Type != v.Type {
			desc.UpdatedFields.SetValue(k, v.Clone())
		}
		return true
	})
	for _, k := range before.Keys() {
		if !after.Has(k) {
			desc.RemovedFields = append(desc.RemovedFields, k)
		}
	}
	return desc
}

// ToDocument renders the event in the change stream wire shape
func (e *ChangeEvent) ToDocument() *document.Document {
	doc := document.NewDocument()
	doc.Set("_id", e.Sequence)
	doc.Set("operationType", string(e.OperationType))
	doc.Set("clusterTime", e.Timestamp)

	ns := document.NewDocument()
	ns.Set("db", e.Database)
	if e.Collection != "" {
		ns.Set("coll", e.Collection)
	}
	doc.Set("ns", ns)

	if e.DocumentKey != nil {
		key := document.NewDocument()
		key.SetValue("_id", e.DocumentKey.Clone())
		doc.Set("documentKey", key)
	}
	if e.FullDocument != nil {
		doc.Set("fullDocument", e.FullDocument.Clone())
	}
	if e.UpdateDescription != nil {
		ud := document.NewDocument()
		ud.Set("updatedFields", e.UpdateDescription.UpdatedFields.Clone())
		removed := make([]interface{}, len(e.UpdateDescription.RemovedFields))
		for i, f := range e.UpdateDescription.RemovedFields {
			removed[i] = f
		}
		ud.Set("removedFields", removed)
		doc.Set("updateDescription", ud)
	}
	if e.IndexName != "" {
		doc.Set("indexName", e.IndexName)
	}
	if e.To != "" {
		doc.Set("to", e.To)
	}
	return doc
}

// Options narrows a subscription
type Options struct {
	// Collection limits events to one collection; empty means all
	Collection string
	// Filter is matched against ToDocument of each event
	Filter *document.Document
}

type subscriber struct {
	id         string
	collection string
	filter     query.Filter
	fn         func(ChangeEvent)
}

// Hub fans events out to subscribers. Publish calls subscribers
// synchronously, so they must not mutate the database they watch.
type Hub struct {
	database string
	seq      atomic.Int64

	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewHub creates a hub for the named database
func NewHub(database string) *Hub {
	return &Hub{database: database, subs: make(map[string]*subscriber)}
}

// Subscribe registers fn. The returned id identifies the subscription and
// cancel removes it.
func (h *Hub) Subscribe(opts Options, fn func(ChangeEvent)) (id string, cancel func(), err error) {
	sub := &subscriber{id: uuid.NewString(), collection: opts.Collection, fn: fn}
	if opts.Filter != nil && opts.Filter.Len() > 0 {
		q, err := query.Compile(opts.Filter)
		if err != nil {
			return "", nil, err
		}
		sub.filter = q
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.id, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub.id)
			h.mu.Unlock()
		})
	}, nil
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Active reports whether anyone is listening
func (h *Hub) Active() bool {
	return h != nil && h.Len() > 0
}

// Publish stamps and delivers events in order
func (h *Hub) Publish(events ...ChangeEvent) {
	if h == nil || len(events) == 0 {
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, ev := range events {
		ev.Sequence = h.seq.Add(1)
		ev.Database = h.database
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}

		var rendered *document.Document
		for _, s := range subs {
			if s.collection != "" && s.collection != ev.Collection {
				continue
			}
			if s.filter != nil {
				if rendered == nil {
					rendered = ev.ToDocument()
				}
				if !s.filter.Match(rendered) {
					continue
				}
			}
			s.fn(ev)
		}
	}
}

// Stream subscribes with a buffered channel that is closed when ctx ends.
// Events are dropped when the buffer is full.
func (h *Hub) Stream(ctx context.Context, opts Options, buffer int) (<-chan ChangeEvent, error) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan ChangeEvent, buffer)

	var mu sync.Mutex
	closed := false
	_, cancel, err := h.Subscribe(opts, func(ev ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		cancel()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}
