package handlers

import (
	"net/http"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
)

// InsertRequest is the body of an insert
type InsertRequest struct {
	Documents []*document.Document `json:"documents"`
}

// FindRequest is the body of find and findOne
type FindRequest struct {
	Filter     *document.Document `json:"filter"`
	Projection *document.Document `json:"projection"`
	Sort       *document.Document `json:"sort"`
	Skip       int                `json:"skip"`
	Limit      int                `json:"limit"`
}

// CountRequest is the body of count
type CountRequest struct {
	Filter *document.Document `json:"filter"`
	Skip   int                `json:"skip"`
	Limit  int                `json:"limit"`
}

// DistinctRequest is the body of distinct
type DistinctRequest struct {
	Key    string             `json:"key"`
	Filter *document.Document `json:"filter"`
}

// UpdateRequest is the body of update. Update is either an operator
// document or a replacement.
type UpdateRequest struct {
	Filter *document.Document `json:"filter"`
	Update *document.Document `json:"update"`
	Upsert bool               `json:"upsert"`
	Multi  bool               `json:"multi"`
}

// RemoveRequest is the body of remove
type RemoveRequest struct {
	Filter  *document.Document `json:"filter"`
	JustOne bool               `json:"justOne"`
}

// BulkWriteRequest is the body of bulk. Ordered defaults to true.
type BulkWriteRequest struct {
	Operations []database.BulkOperation `json:"operations"`
	Ordered    *bool                    `json:"ordered"`
}

// FindAndModifyRequest is the body of findAndModify
type FindAndModifyRequest struct {
	Query  *document.Document `json:"query"`
	Sort   *document.Document `json:"sort"`
	Update *document.Document `json:"update"`
	Remove bool               `json:"remove"`
	New    bool               `json:"new"`
	Upsert bool               `json:"upsert"`
	Fields *document.Document `json:"fields"`
}

// InsertDocuments inserts documents in order. A failure reports the error;
// documents before the failing one stay inserted.
func (h *Handlers) InsertDocuments(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req InsertRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, &BadRequestError{Message: "documents array is required"})
		return
	}

	ids, err := coll.Insert(req.Documents...)
	if err != nil {
		h.logger(r).Debug("insert failed", "collection", coll.Name(), "inserted", len(ids), "error", err)
		writeError(w, err)
		return
	}
	writeSuccessWithCount(w, map[string]interface{}{"insertedIds": ids}, len(ids))
}

// FindDocuments returns the matching documents
func (h *Handlers) FindDocuments(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req FindRequest
	if err := parseJSONBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	docs, err := coll.Find(req.Filter, &database.FindOptions{
		Projection: req.Projection,
		Sort:       req.Sort,
		Skip:       req.Skip,
		Limit:      req.Limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	writeSuccessWithCount(w, docs, len(docs))
}

// FindOneDocument returns the first matching document or 404
func (h *Handlers) FindOneDocument(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req FindRequest
	if err := parseJSONBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	doc, err := coll.FindOne(req.Filter, &database.FindOptions{
		Projection: req.Projection,
		Sort:       req.Sort,
		Skip:       req.Skip,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, doc)
}

// CountDocuments counts the matching documents
func (h *Handlers) CountDocuments(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CountRequest
	if err := parseJSONBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	n, err := coll.Count(req.Filter, req.Skip, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"count": n})
}

// DistinctValues returns the distinct values of a field
func (h *Handlers) DistinctValues(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req DistinctRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.Key == "" {
		writeError(w, &BadRequestError{Message: "key is required"})
		return
	}

	values, err := coll.Distinct(req.Key, req.Filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if values == nil {
		values = []*document.Value{}
	}
	writeSuccessWithCount(w, values, len(values))
}

// UpdateDocuments applies an update or replacement to the matching
// documents
func (h *Handlers) UpdateDocuments(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.Update == nil {
		writeError(w, &BadRequestError{Message: "update is required"})
		return
	}

	res, err := coll.Update(req.Filter, req.Update, req.Upsert, req.Multi)
	if err != nil {
		writeError(w, err)
		return
	}

	result := map[string]interface{}{
		"matched":  res.Matched,
		"modified": res.Modified,
	}
	if res.UpsertedID != nil {
		result["upsertedId"] = res.UpsertedID
	}
	writeSuccess(w, result)
}

// RemoveDocuments deletes the matching documents
func (h *Handlers) RemoveDocuments(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req RemoveRequest
	if err := parseJSONBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	n, err := coll.Remove(req.Filter, req.JustOne)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"removed": n})
}

// FindAndModify updates or removes one document and returns it
func (h *Handlers) FindAndModify(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req FindAndModifyRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	doc, err := coll.FindAndModify(database.FindAndModifyOptions{
		Query:     req.Query,
		Sort:      req.Sort,
		Update:    req.Update,
		Remove:    req.Remove,
		ReturnNew: req.New,
		Upsert:    req.Upsert,
		Fields:    req.Fields,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"value": doc})
}

// BulkWrite applies a list of insert, update, replace and remove
// operations. When some operations fail the response is 207 with the
// first error and the partial result.
func (h *Handlers) BulkWrite(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req BulkWriteRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, &BadRequestError{Message: "operations array is required"})
		return
	}
	ordered := req.Ordered == nil || *req.Ordered

	result, err := coll.BulkWrite(req.Operations, ordered)
	if err != nil {
		h.logger(r).Debug("bulk write failed", "collection", coll.Name(), "ordered", ordered, "errors", len(result.Errors), "error", err)
		writePartial(w, err, result)
		return
	}
	writeSuccess(w, result)
}
