package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/airsync"
	"leadflow-engine/internal/airtable"
	"leadflow-engine/internal/config"
	"leadflow-engine/internal/events"
	"leadflow-engine/internal/httpapi"
	"leadflow-engine/internal/maintenance"
	"leadflow-engine/internal/metrics"
	"leadflow-engine/internal/scheduler"
	"leadflow-engine/internal/secrets"
	"leadflow-engine/internal/store"
)

func main() {
	// .env is optional; real deployments use actual env vars
	_ = godotenv.Load()

	dataDir := os.Getenv("LEADFLOW_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	defaultCfgPath := filepath.Join("config", "config.yml")
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		log.Fatalf("config bootstrap failed: %v", err)
	}

	// Load config and keep it reloadable
	var cfgVal atomic.Value // stores config.Config
	loadCfg := func() (config.Config, error) {
		return config.Load(userCfgPath)
	}
	cfg, err := loadCfg()
	if err != nil {
		log.Fatalf("config load failed (%s): %v", userCfgPath, err)
	}
	cfg, vr := config.NormalizeAndValidate(cfg)
	for _, warn := range vr.Warnings {
		log.Printf("[config] warning: %s", warn)
	}
	if !vr.OK() {
		log.Fatalf("config invalid (%s): %v", userCfgPath, vr.Errors)
	}
	cfgVal.Store(cfg)

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "leads.db"
	}
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dataDir, dbPath)
	}

	pool, err := store.NewPool(dbPath, cfg.Database.PoolSize, cfg.AcquireTimeout(), cfg.IdleSweep())
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	if err := store.Migrate(pool.Raw()); err != nil {
		log.Fatal(err)
	}

	hub := events.NewHub()
	mgr := access.NewManager()

	policy := store.MergePolicy{
		PreferLonger:   cfg.Merge.PreferLonger,
		FieldOverrides: cfg.Merge.FieldOverrides,
	}
	st := store.New(pool, mgr, hub, policy)

	maint := maintenance.NewRunner(st, mgr, hub, dataDir, dbPath, cfg.Maintenance.KeepBackups)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var syncEngine *airsync.Engine
	if cfg.Airtable.Enabled {
		token, terr := secrets.GetAirtableToken(cfg.Airtable.BaseID)
		if terr != nil {
			log.Fatalf("airtable enabled but no token: %v", terr)
		}
		client := airtable.NewClient(token, cfg.Airtable.BaseID, cfg.Airtable.TableName, cfg.RateInterval())
		syncEngine = airsync.New(st, client, mgr, hub, airsync.Options{
			BatchSize:  cfg.Airtable.BatchSize,
			Conflict:   airsync.ConflictStrategy(cfg.Sync.ConflictStrategy),
			PullWindow: time.Duration(cfg.Sync.PullWindowHours) * time.Hour,
		})

		pushEvery := time.Duration(cfg.Sync.PushSeconds) * time.Second
		if pushEvery <= 0 {
			pushEvery = 5 * time.Minute
		}
		go scheduler.Every(ctx, pushEvery, "sync-push", func(ctx context.Context) error {
			res, err := syncEngine.PushPending(ctx)
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				log.Printf("[sync-push] partial: %d failed", res.Failed)
			}
			return nil
		})

		pullEvery := time.Duration(cfg.Sync.PullHours) * time.Hour
		if pullEvery <= 0 {
			pullEvery = 24 * time.Hour
		}
		go scheduler.Every(ctx, pullEvery, "sync-pull", func(ctx context.Context) error {
			_, err := syncEngine.PullUpdates(ctx, false)
			return err
		})
	} else {
		log.Printf("[engine] airtable sync disabled")
	}

	maintEvery := time.Duration(cfg.Maintenance.BackupHours) * time.Hour
	if maintEvery <= 0 {
		maintEvery = 24 * time.Hour
	}
	go scheduler.Every(ctx, maintEvery, "maintenance", maint.RunAll)

	var syncStatus atomic.Value
	syncStatus.Store(httpapi.SyncStatus{})

	mux := httpapi.NewMux(httpapi.Deps{
		Store:       st,
		Hub:         hub,
		CfgVal:      &cfgVal,
		SyncStatus:  &syncStatus,
		UserCfgPath: userCfgPath,
		LoadCfg:     loadCfg,
		Sync:        syncEngine,
		Maint:       maint,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("engine listening on http://%s (db=%s)", addr, dbPath)

	handler := httpapi.Chain(mux,
		httpapi.Recover,
		httpapi.RequestID,
		httpapi.Cors,
		metrics.Middleware,
		httpapi.AccessLog,
	)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Fatal(srv.Serve(ln))
}
