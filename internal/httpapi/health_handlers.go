package httpapi

import (
	"net/http"

	"leadflow-engine/internal/store"
)

type HealthHandler struct {
	Store *store.Store
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	total, pending, err := h.Store.CountLeads(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{
		"ok":      true,
		"leads":   total,
		"pending": pending,
	})
}
