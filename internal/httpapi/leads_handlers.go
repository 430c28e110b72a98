package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"leadflow-engine/internal/store"
)

type LeadsHandler struct {
	Store *store.Store
}

// List serves /leads with optional exact-match query filters
// (?status=new&company=Acme). Unknown filter names are a 400.
func (h LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := make(map[string]any)
	for k, vs := range r.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		filters[k] = vs[0]
	}

	leads, err := h.Store.SearchLeads(r.Context(), filters)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			WriteError(w, r, http.StatusBadRequest, "bad_filter", err.Error())
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if leads == nil {
		leads = []store.Lead{}
	}
	writeJSON(w, leads)
}

// Create is the producer entrypoint: scrapers and enrichers POST here.
// Duplicate input merges rather than duplicating, so retries are safe.
func (h LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in store.LeadInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	id, merged, err := h.Store.AddLead(r.Context(), in)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			WriteError(w, r, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	WriteJSON(w, status, map[string]any{"id": id, "merged": merged})
}

// GetByPath serves /leads/{id-or-uuid}. Missing rows are a 404, not an error.
func (h LeadsHandler) GetByPath(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/leads/")
	lead, err := h.Store.GetLead(r.Context(), key)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if lead == nil {
		WriteError(w, r, http.StatusNotFound, "not_found", "no such lead")
		return
	}
	writeJSON(w, lead)
}

// PatchByPath applies a partial update. id/uuid in the body are ignored;
// sync-state fields are owned by the sync engine and rejected here.
func (h LeadsHandler) PatchByPath(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/leads/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}

	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	for _, k := range []string{"airtable_id", "airtableId", "sync_pending", "syncPending", "airtable_synced", "airtableSynced"} {
		if _, ok := updates[k]; ok {
			WriteError(w, r, http.StatusBadRequest, "sync_state_readonly", "sync-state fields are owned by the sync engine")
			return
		}
	}

	matched, err := h.Store.UpdateLead(r.Context(), id, updates)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !matched {
		WriteError(w, r, http.StatusNotFound, "not_found", "no such lead")
		return
	}
	writeJSON(w, map[string]any{"ok": true, "id": id})
}
