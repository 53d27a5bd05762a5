package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/logger"
)

// Handlers holds the database instance and provides HTTP handlers
type Handlers struct {
	db  *database.Database
	log *slog.Logger
}

// New creates a new Handlers instance
func New(db *database.Database, log *slog.Logger) *Handlers {
	if log == nil {
		log = logger.Discard()
	}
	return &Handlers{db: db, log: log}
}

// collection resolves the {collection} route parameter. Collections are
// created on first use, like the embedded API.
func (h *Handlers) collection(r *http.Request) (*database.Collection, error) {
	name := chi.URLParam(r, "collection")
	if name == "" {
		return nil, &BadRequestError{Message: "collection name is required"}
	}
	return h.db.Collection(name), nil
}

// existingCollection is collection without the implicit create
func (h *Handlers) existingCollection(r *http.Request) (*database.Collection, error) {
	name := chi.URLParam(r, "collection")
	if !h.db.HasCollection(name) {
		return nil, &CollectionNotFoundError{Collection: name}
	}
	return h.db.Collection(name), nil
}

func (h *Handlers) logger(r *http.Request) *slog.Logger {
	return logger.FromContext(r.Context(), h.log)
}

// parseJSONBody decodes an extended JSON request body into target. An empty
// body leaves target untouched when allowEmpty is set.
func parseJSONBody(r *http.Request, target interface{}, allowEmpty bool) error {
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(target)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		if allowEmpty {
			return nil
		}
		return &BadRequestError{Message: "request body is empty"}
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &RequestTooLargeError{Limit: tooLarge.Limit}
	}
	var dbErr *dberr.Error
	if errors.As(err, &dbErr) {
		return err
	}
	return &BadRequestError{Message: "invalid JSON: " + err.Error()}
}

// Error types for errors that do not come from the store

type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

type CollectionNotFoundError struct {
	Collection string
}

func (e *CollectionNotFoundError) Error() string {
	return "collection not found: " + e.Collection
}

type RequestTooLargeError struct {
	Limit int64
}

func (e *RequestTooLargeError) Error() string {
	return "request body too large"
}

// writeError maps err to a status code and writes the error envelope.
// Store errors keep their numeric code; other errors use the status.
func writeError(w http.ResponseWriter, err error) {
	status, body := errorEnvelope(err)
	writeJSON(w, status, body)
}

// writePartial writes the error envelope of err with the partial result
// of a request that was only partly applied
func writePartial(w http.ResponseWriter, err error, result interface{}) {
	_, body := errorEnvelope(err)
	body["result"] = result
	writeJSON(w, http.StatusMultiStatus, body)
}

func errorEnvelope(err error) (int, map[string]interface{}) {
	var (
		status  int
		code    int
		errType string
	)

	var dbErr *dberr.Error
	var badReq *BadRequestError
	var notFound *CollectionNotFoundError
	var tooLarge *RequestTooLargeError
	switch {
	case errors.As(err, &dbErr):
		code = dbErr.Code
		errType = dbErr.Kind.String()
		switch dbErr.Kind {
		case dberr.NotFound:
			status = http.StatusNotFound
		case dberr.DuplicateKey:
			status = http.StatusConflict
		default:
			status = http.StatusBadRequest
		}
	case errors.As(err, &badReq):
		status, errType = http.StatusBadRequest, "BadRequest"
	case errors.As(err, &notFound):
		status, code, errType = http.StatusNotFound, dberr.CodeNamespaceNotFound, "NotFound"
	case errors.As(err, &tooLarge):
		status, errType = http.StatusRequestEntityTooLarge, "RequestTooLarge"
	default:
		status, errType = http.StatusInternalServerError, "InternalError"
	}
	if code == 0 {
		code = status
	}

	return status, map[string]interface{}{
		"ok":      false,
		"code":    code,
		"error":   errType,
		"message": err.Error(),
	}
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
	})
}

// writeSuccessWithCount writes a success response with count
func writeSuccessWithCount(w http.ResponseWriter, result interface{}, count int) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
		"count":  count,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
