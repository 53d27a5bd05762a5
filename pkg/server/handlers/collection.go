package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
)

// CreateCollectionRequest carries the explicit create options
type CreateCollectionRequest struct {
	Validator *document.Document `json:"validator"`
	Max       int                `json:"max"`
}

// ListCollections returns the catalog entries of every collection
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	collections := h.db.ListCollections()
	writeSuccessWithCount(w, map[string]interface{}{"collections": collections}, len(collections))
}

// CreateCollection creates a collection, optionally with a validator and a
// document ceiling
func (h *Handlers) CreateCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	var req CreateCollectionRequest
	if err := parseJSONBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.db.CreateCollection(name, &database.CollectionOptions{
		Validator:    req.Validator,
		MaxDocuments: req.Max,
	}); err != nil {
		writeError(w, err)
		return
	}

	h.logger(r).Info("collection created", "collection", name)
	writeSuccess(w, map[string]interface{}{"collection": name})
}

// DropCollection deletes a collection with its documents and indexes
func (h *Handlers) DropCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if err := h.db.DropCollection(name); err != nil {
		writeError(w, err)
		return
	}

	h.logger(r).Info("collection dropped", "collection", name)
	writeSuccess(w, map[string]interface{}{"collection": name})
}

// RenameCollection moves a collection to the name in {"to": ...}
func (h *Handlers) RenameCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	var req struct {
		To string `json:"to"`
	}
	if err := parseJSONBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.To == "" {
		writeError(w, &BadRequestError{Message: "to is required"})
		return
	}

	if err := h.db.RenameCollection(name, req.To); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"from": name, "to": req.To})
}

// GetCollectionStats returns statistics for a specific collection
func (h *Handlers) GetCollectionStats(w http.ResponseWriter, r *http.Request) {
	coll, err := h.existingCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats := coll.Stats()
	writeSuccess(w, map[string]interface{}{
		"ns":           h.db.Name() + "." + stats.Name,
		"count":        stats.Count,
		"size":         stats.Size,
		"nindexes":     stats.Indexes,
		"indexDetails": stats.IndexInfo,
	})
}

// intParam reads an integer query parameter
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &BadRequestError{Message: "invalid " + name + ": " + raw}
	}
	return n, nil
}
