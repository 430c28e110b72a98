package httpapi

import (
	"sync/atomic"

	"leadflow-engine/internal/airsync"
	"leadflow-engine/internal/config"
	"leadflow-engine/internal/events"
	"leadflow-engine/internal/maintenance"
	"leadflow-engine/internal/store"
)

type Deps struct {
	Store *store.Store

	Hub *events.Hub

	// Atomic stores
	CfgVal     *atomic.Value // stores config.Config
	SyncStatus *atomic.Value // stores httpapi.SyncStatus

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// nil when airtable.enabled=false
	Sync  *airsync.Engine
	Maint *maintenance.Runner
}

// SyncStatus is the last-run snapshot served on /sync/status.
type SyncStatus struct {
	Running    bool   `json:"running"`
	LastRunAt  string `json:"lastRunAt,omitempty"`
	LastOkAt   string `json:"lastOkAt,omitempty"`
	LastSynced int    `json:"lastSynced"`
	LastFailed int    `json:"lastFailed"`
	LastError  string `json:"lastError,omitempty"`
}
