package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"leadflow-engine/internal/airsync"
	"leadflow-engine/internal/store"
)

type SyncHandler struct {
	Store  *store.Store
	Engine *airsync.Engine // nil when airtable is disabled
	Status *atomic.Value   // stores SyncStatus
}

func (h SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "sync_disabled", "airtable sync is not configured")
		return
	}

	h.setRunning(true)
	result, err := h.Engine.PushPending(r.Context())
	h.finish(result.Synced, result.Failed, err)

	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "sync_error", err.Error())
		return
	}
	writeJSON(w, result)
}

func (h SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "sync_disabled", "airtable sync is not configured")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	result, err := h.Engine.PullUpdates(r.Context(), force)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "sync_error", err.Error())
		return
	}
	writeJSON(w, result)
}

func (h SyncHandler) StatusGet(w http.ResponseWriter, r *http.Request) {
	st := SyncStatus{}
	if v := h.Status.Load(); v != nil {
		st = v.(SyncStatus)
	}

	total, pending, err := h.Store.CountLeads(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"status":  st,
		"total":   total,
		"pending": pending,
		"pool":    h.Store.Pool().Stats(),
	})
}

// Log serves the audit trail (/sync/log?n=100).
func (h SyncHandler) Log(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.RecentSyncLog(r.Context(), queryInt(r, "n", 100))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if entries == nil {
		entries = []store.SyncLogEntry{}
	}
	writeJSON(w, entries)
}

func (h SyncHandler) setRunning(running bool) {
	st := SyncStatus{}
	if v := h.Status.Load(); v != nil {
		st = v.(SyncStatus)
	}
	st.Running = running
	if running {
		st.LastRunAt = time.Now().UTC().Format(time.RFC3339)
	}
	h.Status.Store(st)
}

func (h SyncHandler) finish(synced, failed int, err error) {
	st := SyncStatus{}
	if v := h.Status.Load(); v != nil {
		st = v.(SyncStatus)
	}
	st.Running = false
	st.LastSynced = synced
	st.LastFailed = failed
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
		st.LastOkAt = time.Now().UTC().Format(time.RFC3339)
	}
	h.Status.Store(st)
}
