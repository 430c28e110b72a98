package airsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/airtable"
	"leadflow-engine/internal/events"
	"leadflow-engine/internal/metrics"
	"leadflow-engine/internal/store"
)

// ConflictStrategy decides who wins when both sides changed a field since
// the last sync.
type ConflictStrategy string

const (
	// NewestWins compares timestamps and takes the fresher side (default).
	NewestWins ConflictStrategy = "newest_wins"
	// LocalWins keeps local enrichment data; only engagement fields flow in.
	LocalWins ConflictStrategy = "local_wins"
	// RemoteWins applies everything the remote record carries.
	RemoteWins ConflictStrategy = "remote_wins"
)

// BatchError is one failed push batch. It is reported, not raised: the run
// continues with the remaining batches.
type BatchError struct {
	Batch int
	Count int
	Err   error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("sync batch %d (%d records): %v", e.Batch, e.Count, e.Err)
}

type PushResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

func (r PushResult) OK() bool { return r.Failed == 0 }

type PullResult struct {
	Fetched int      `json:"fetched"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Engine keeps the lead store and the Airtable table eventually consistent
// in both directions. Each run is serialized on the "airtable_sync" resource
// so the engine is effectively a single writer toward the remote table.
type Engine struct {
	store  *store.Store
	client *airtable.Client
	access *access.Manager
	hub    *events.Hub

	batchSize  int
	conflict   ConflictStrategy
	pullWindow time.Duration
}

type Options struct {
	BatchSize  int
	Conflict   ConflictStrategy
	PullWindow time.Duration
}

func New(st *store.Store, client *airtable.Client, mgr *access.Manager, hub *events.Hub, opts Options) *Engine {
	if opts.BatchSize <= 0 || opts.BatchSize > airtable.MaxBatchSize {
		opts.BatchSize = airtable.MaxBatchSize
	}
	switch opts.Conflict {
	case NewestWins, LocalWins, RemoteWins:
	default:
		opts.Conflict = NewestWins
	}
	if opts.PullWindow <= 0 {
		opts.PullWindow = 24 * time.Hour
	}
	return &Engine{
		store:      st,
		client:     client,
		access:     mgr,
		hub:        hub,
		batchSize:  opts.BatchSize,
		conflict:   opts.Conflict,
		pullWindow: opts.PullWindow,
	}
}

// PushPending pushes every sync_pending lead. Pass ids to push an explicit
// set instead. Partial failures land in the result, never in the error: the
// error is only for infrastructure problems (lock timeout, deadlock).
func (e *Engine) PushPending(ctx context.Context, ids ...int64) (PushResult, error) {
	start := time.Now()
	var result PushResult

	err := e.access.WithResources(ctx, "", access.PriorityNormal, []string{store.ResourceSync}, func(ctx context.Context) error {
		var (
			leads []store.Lead
			lerr  error
		)
		if len(ids) > 0 {
			leads, lerr = e.store.LeadsByIDs(ctx, ids)
		} else {
			leads, lerr = e.store.PendingLeads(ctx, 0)
		}
		if lerr != nil {
			return lerr
		}
		if len(leads) == 0 {
			return nil
		}

		// Leads already linked to a remote record are PATCHed in place;
		// re-creating on conflict is disallowed. The rest go out in batches.
		var fresh, linked []store.Lead
		for _, l := range leads {
			if l.AirtableID == "" {
				fresh = append(fresh, l)
			} else {
				linked = append(linked, l)
			}
		}

		e.pushCreates(ctx, fresh, &result)
		e.pushUpdates(ctx, linked, &result)
		return nil
	})
	if err != nil {
		e.store.RecordSyncRun(ctx, "push", "error", "", err.Error(), start)
		return result, err
	}

	detail := fmt.Sprintf("synced=%d failed=%d", result.Synced, result.Failed)
	status := "ok"
	if result.Failed > 0 {
		status = "partial"
	}
	e.store.RecordSyncRun(ctx, "push", status, detail, "", start)
	if e.hub != nil {
		e.hub.Publish(events.SyncCompleted("", result.Synced, result.Failed))
	}
	log.Printf("[sync] push %s took=%s", detail, time.Since(start))
	return result, nil
}

func (e *Engine) pushCreates(ctx context.Context, leads []store.Lead, result *PushResult) {
	for bi := 0; bi*e.batchSize < len(leads); bi++ {
		lo := bi * e.batchSize
		hi := lo + e.batchSize
		if hi > len(leads) {
			hi = len(leads)
		}
		batch := leads[lo:hi]

		fields := make([]map[string]any, 0, len(batch))
		for _, l := range batch {
			fields = append(fields, leadFields(l))
		}

		records, err := e.client.CreateRecords(ctx, fields)
		if err != nil {
			be := BatchError{Batch: bi + 1, Count: len(batch), Err: err}
			result.Failed += len(batch)
			result.Errors = append(result.Errors, be.Error())
			metrics.RecordSyncBatch("failed")
			metrics.RecordSyncRecords("failed", len(batch))
			for _, l := range batch {
				if merr := e.store.MarkSyncFailed(ctx, l.ID, err.Error()); merr != nil {
					log.Printf("[sync] mark failed id=%d: %v", l.ID, merr)
				}
			}
			log.Printf("[sync] %v", be)
			continue
		}

		// records come back in submission order
		for i, rec := range records {
			if err := e.store.MarkLeadSynced(ctx, batch[i].ID, rec.ID, batch[i].Rev); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
				metrics.RecordSyncRecords("failed", 1)
				continue
			}
			result.Synced++
		}
		metrics.RecordSyncBatch("ok")
		metrics.RecordSyncRecords("ok", len(records))
	}
}

func (e *Engine) pushUpdates(ctx context.Context, leads []store.Lead, result *PushResult) {
	for _, l := range leads {
		if err := e.client.UpdateRecord(ctx, l.AirtableID, leadFields(l)); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("lead %d: %v", l.ID, err))
			metrics.RecordSyncRecords("failed", 1)
			if merr := e.store.MarkSyncFailed(ctx, l.ID, err.Error()); merr != nil {
				log.Printf("[sync] mark failed id=%d: %v", l.ID, merr)
			}
			continue
		}
		if err := e.store.MarkLeadSynced(ctx, l.ID, l.AirtableID, l.Rev); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Synced++
		metrics.RecordSyncRecords("ok", 1)
	}
}
