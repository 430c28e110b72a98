package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux wires every handler. main() attaches middleware via Chain.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Leads
	lh := LeadsHandler{Store: d.Store}
	mux.HandleFunc("/leads", methodMux(map[string]http.HandlerFunc{
		http.MethodGet:  lh.List,
		http.MethodPost: lh.Create,
	}))
	mux.HandleFunc("/leads/search", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: lh.List,
	}))
	mux.HandleFunc("/leads/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet:   lh.GetByPath,   // /leads/{id-or-uuid}
		http.MethodPatch: lh.PatchByPath, // /leads/{id}
	}))

	// Sync
	sh := SyncHandler{Store: d.Store, Engine: d.Sync, Status: d.SyncStatus}
	mux.HandleFunc("/sync/push", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.Push,
	}))
	mux.HandleFunc("/sync/pull", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.Pull,
	}))
	mux.HandleFunc("/sync/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.StatusGet,
	}))
	mux.HandleFunc("/sync/log", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.Log,
	}))

	// Maintenance
	mh := MaintenanceHandler{Runner: d.Maint}
	mux.HandleFunc("/maintenance/run", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: mh.Run,
	}))
	mux.HandleFunc("/maintenance/backup", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: mh.Backup,
	}))

	// Config
	ch := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
	}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Get,
		http.MethodPut: ch.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Path,
	}))
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Validate,
	}))

	// Secrets (use cfgVal, NOT a snapshot cfg)
	seh := SecretsHandler{CfgVal: d.CfgVal}
	mux.HandleFunc("/api/secrets/airtable", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: seh.SetAirtableToken,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	// Health + metrics
	hh := HealthHandler{Store: d.Store}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
