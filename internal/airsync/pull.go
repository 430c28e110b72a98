package airsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/events"
	"leadflow-engine/internal/store"
)

// PullUpdates fetches remote records modified inside the pull window (all
// records when force is set) and folds them into the store: resolve by
// airtable id, then email; create a local lead when neither matches. Runs as
// a periodic batch job; humans edit Airtable at human speed.
func (e *Engine) PullUpdates(ctx context.Context, force bool) (PullResult, error) {
	start := time.Now()
	var result PullResult

	formula := ""
	if !force {
		cutoff := time.Now().UTC().Add(-e.pullWindow).Format(time.RFC3339)
		formula = fmt.Sprintf("IS_AFTER(LAST_MODIFIED_TIME(), '%s')", cutoff)
	}

	err := e.access.WithResources(ctx, "", access.PriorityLow, []string{store.ResourceSync}, func(ctx context.Context) error {
		records, err := e.client.ListRecords(ctx, formula)
		if err != nil {
			return err
		}
		result.Fetched = len(records)

		for _, rec := range records {
			if err := e.applyRecord(ctx, rec.ID, rec.Fields, &result); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("record %s: %v", rec.ID, err))
			}
		}
		return nil
	})
	if err != nil {
		e.store.RecordSyncRun(ctx, "pull", "error", "", err.Error(), start)
		return result, err
	}

	detail := fmt.Sprintf("fetched=%d created=%d updated=%d failed=%d",
		result.Fetched, result.Created, result.Updated, result.Failed)
	status := "ok"
	if result.Failed > 0 {
		status = "partial"
	}
	e.store.RecordSyncRun(ctx, "pull", status, detail, "", start)
	if e.hub != nil {
		e.hub.Publish(events.PullCompleted("", result.Created, result.Updated))
	}
	log.Printf("[sync] pull %s took=%s", detail, time.Since(start))
	return result, nil
}

func (e *Engine) applyRecord(ctx context.Context, recordID string, fields map[string]any, result *PullResult) error {
	lead, err := e.store.FindByAirtableID(ctx, recordID)
	if err != nil {
		return err
	}
	if lead == nil {
		if email := fieldString(fields, fieldEmail); email != "" {
			lead, err = e.store.FindByEmail(ctx, email)
			if err != nil {
				return err
			}
		}
	}

	if lead == nil {
		in := remoteInput(fields)
		if in.FullName == "" {
			return fmt.Errorf("remote record has no name; skipped")
		}
		in.Source = "airtable"
		id, _, aerr := e.store.AddLead(ctx, in)
		if aerr != nil {
			return aerr
		}
		if lerr := e.store.LinkAirtable(ctx, id, recordID); lerr != nil {
			return lerr
		}
		result.Created++
		return nil
	}

	updates := e.resolveConflict(lead, fields)
	if len(updates) == 0 {
		return nil
	}
	if _, uerr := e.store.ApplyRemote(ctx, lead.ID, updates); uerr != nil {
		return uerr
	}
	// the lead may have been matched by email before its first push
	if lead.AirtableID == "" {
		if lerr := e.store.LinkAirtable(ctx, lead.ID, recordID); lerr != nil {
			return lerr
		}
	}
	result.Updated++
	return nil
}

// resolveConflict picks which remote fields to apply. Local is authoritative
// for enrichment-derived data, Airtable for human-edited engagement state;
// the configured strategy arbitrates when both claim the same field.
func (e *Engine) resolveConflict(lead *store.Lead, fields map[string]any) map[string]any {
	switch e.conflict {
	case RemoteWins:
		return fullUpdates(fields)
	case LocalWins:
		return engagementUpdates(fields)
	default: // NewestWins
		remoteAt := fieldString(fields, fieldModified)
		if remoteAt == "" {
			// no modified stamp mapped; the record matched the
			// modified-since filter, so treat remote as fresher
			return fullUpdates(fields)
		}
		rt, err := time.Parse(time.RFC3339, remoteAt)
		if err != nil {
			return fullUpdates(fields)
		}
		lt, err := time.Parse(time.RFC3339, lead.UpdatedAt)
		if err != nil || rt.After(lt) {
			return fullUpdates(fields)
		}
		return engagementUpdates(fields)
	}
}
