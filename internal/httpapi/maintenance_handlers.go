package httpapi

import (
	"net/http"
	"strconv"

	"leadflow-engine/internal/maintenance"
)

type MaintenanceHandler struct {
	Runner *maintenance.Runner
}

func (h MaintenanceHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "maintenance_disabled", "maintenance is not configured")
		return
	}
	if err := h.Runner.RunAll(r.Context()); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "maintenance_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (h MaintenanceHandler) Backup(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "maintenance_disabled", "maintenance is not configured")
		return
	}
	path, err := h.Runner.Backup(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "backup_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true, "path": path})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
