package httpapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"leadflow-engine/internal/config"
	"leadflow-engine/internal/secrets"
)

type SecretsHandler struct {
	CfgVal *atomic.Value // stores config.Config
}

type setAirtableTokenReq struct {
	Token string `json:"token"`
}

func (h SecretsHandler) SetAirtableToken(w http.ResponseWriter, r *http.Request) {
	var req setAirtableTokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cfg := h.CfgVal.Load().(config.Config)
	if err := secrets.SetAirtableToken(cfg.Airtable.BaseID, req.Token); err != nil {
		http.Error(w, "failed to store token: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
