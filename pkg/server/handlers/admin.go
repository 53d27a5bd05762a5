package handlers

import (
	"net/http"
	"time"
)

// Health returns a health check handler
func (h *Handlers) Health(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, map[string]interface{}{
			"status":   "healthy",
			"database": h.db.Name(),
			"uptime":   time.Since(startTime).String(),
			"time":     time.Now().Format(time.RFC3339),
		})
	}
}

// GetDatabaseStats returns database statistics
func (h *Handlers) GetDatabaseStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.db.Stats())
}

// GetSlowOperations lists the slowest logged operations, ?limit=N
func (h *Handlers) GetSlowOperations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := h.db.SlowLog().Slowest(limit)
	writeSuccessWithCount(w, entries, len(entries))
}

// DropDatabase removes every collection
func (h *Handlers) DropDatabase(w http.ResponseWriter, r *http.Request) {
	h.db.Drop()
	h.logger(r).Info("database dropped", "database", h.db.Name())
	writeSuccess(w, map[string]interface{}{"dropped": h.db.Name()})
}
