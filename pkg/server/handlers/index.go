package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
)

// CreateIndexRequest represents an index creation request
type CreateIndexRequest struct {
	Key    *document.Document `json:"key"`
	Name   string             `json:"name"`
	Unique bool               `json:"unique"`
	Sparse bool               `json:"sparse"`
}

// CreateIndex builds an index over the existing documents
func (h *Handlers) CreateIndex(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CreateIndexRequest
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.Key == nil {
		writeError(w, &BadRequestError{Message: "key is required"})
		return
	}

	name, err := coll.CreateIndex(req.Key, database.IndexOptions{
		Name:   req.Name,
		Unique: req.Unique,
		Sparse: req.Sparse,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger(r).Info("index created", "collection", coll.Name(), "index", name)
	writeSuccess(w, map[string]interface{}{
		"collection": coll.Name(),
		"index":      name,
	})
}

// ListIndexes lists all indexes on a collection
func (h *Handlers) ListIndexes(w http.ResponseWriter, r *http.Request) {
	coll, err := h.existingCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ns := h.db.Name() + "." + coll.Name()
	infos := coll.Indexes()
	indexes := make([]*document.Document, 0, len(infos))
	for _, info := range infos {
		indexes = append(indexes, info.ToDocument(ns))
	}
	writeSuccessWithCount(w, indexes, len(indexes))
}

// DropIndex deletes an index by name; "*" drops every index but _id
func (h *Handlers) DropIndex(w http.ResponseWriter, r *http.Request) {
	coll, err := h.existingCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	name := chi.URLParam(r, "name")
	if err := coll.DropIndex(name); err != nil {
		writeError(w, err)
		return
	}

	h.logger(r).Info("index dropped", "collection", coll.Name(), "index", name)
	writeSuccess(w, map[string]interface{}{
		"collection": coll.Name(),
		"index":      name,
	})
}
