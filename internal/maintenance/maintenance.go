package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/events"
	"leadflow-engine/internal/store"
)

// Runner owns the periodic housekeeping passes: backup, duplicate cleanup,
// field standardization. It only ever destroys rows after a successful
// backup in the same run.
type Runner struct {
	store       *store.Store
	access      *access.Manager
	hub         *events.Hub
	dataDir     string
	dbPath      string
	keepBackups int
}

func NewRunner(st *store.Store, mgr *access.Manager, hub *events.Hub, dataDir, dbPath string, keepBackups int) *Runner {
	return &Runner{
		store:       st,
		access:      mgr,
		hub:         hub,
		dataDir:     dataDir,
		dbPath:      dbPath,
		keepBackups: keepBackups,
	}
}

type Result struct {
	Backup            string `json:"backup"`
	DuplicatesRemoved int64  `json:"duplicatesRemoved"`
	Standardized      int64  `json:"standardized"`
	Error             string `json:"error,omitempty"`
}

// RunAll is the scheduled entrypoint: backup first, destructive cleanup only
// if the backup landed.
func (r *Runner) RunAll(ctx context.Context) error {
	start := time.Now()
	var res Result

	backup, err := r.Backup(ctx)
	if err != nil {
		return fmt.Errorf("maintenance: backup: %w", err)
	}
	res.Backup = backup

	removed, err := r.CleanupDuplicates(ctx)
	if err != nil {
		return fmt.Errorf("maintenance: dedup cleanup: %w", err)
	}
	res.DuplicatesRemoved = removed

	fixed, err := r.StandardizeFields(ctx)
	if err != nil {
		return fmt.Errorf("maintenance: standardize: %w", err)
	}
	res.Standardized = fixed

	if r.hub != nil {
		r.hub.Publish(events.MaintenanceCompleted("", res.Backup, res.DuplicatesRemoved))
	}
	log.Printf("[maintenance] done removed=%d standardized=%d took=%s",
		removed, fixed, time.Since(start))
	return nil
}

// CleanupDuplicates re-runs the dedup ladder across stored rows and folds
// each duplicate group into its oldest member. Losers are deleted only after
// their data has been merged back through the normal add path, so nothing is
// lost.
func (r *Runner) CleanupDuplicates(ctx context.Context) (int64, error) {
	var removed int64

	err := r.access.WithResources(ctx, "", access.PriorityLow, []string{"maintenance"}, func(ctx context.Context) error {
		for _, col := range []string{"linkedin_url", "email"} {
			n, err := r.cleanupColumn(ctx, col)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		r.store.RecordMigration(ctx, "dedup_cleanup", "error", err.Error())
		return removed, err
	}

	r.store.RecordMigration(ctx, "dedup_cleanup", "ok", fmt.Sprintf("removed=%d", removed))
	return removed, nil
}

func (r *Runner) cleanupColumn(ctx context.Context, col string) (int64, error) {
	losers, err := r.duplicateLosers(ctx, col)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, id := range losers {
		lead, err := r.store.GetLeadByID(ctx, id)
		if err != nil {
			return removed, err
		}
		if lead == nil {
			continue // already folded by an earlier group
		}
		if err := r.deleteLead(ctx, id); err != nil {
			return removed, err
		}
		// re-adding routes through dedup, which merges into the keeper
		if _, _, err := r.store.AddLead(ctx, inputFrom(lead)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// duplicateLosers returns every row that shares a non-empty value of col
// with an older row.
func (r *Runner) duplicateLosers(ctx context.Context, col string) ([]int64, error) {
	pc, err := r.store.Pool().Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.store.Pool().Release(pc)

	query := fmt.Sprintf(`
SELECT l.id
FROM leads l
JOIN (
  SELECT %s AS v, MIN(id) AS keeper
  FROM leads
  WHERE %s != ''
  GROUP BY %s
  HAVING COUNT(*) > 1
) d ON l.%s = d.v AND l.id != d.keeper
ORDER BY l.id;`, col, col, col, col)

	rows, err := pc.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Runner) deleteLead(ctx context.Context, id int64) error {
	return r.access.WithResources(ctx, "", access.PriorityLow, []string{store.ResourceLeads}, func(ctx context.Context) error {
		pc, err := r.store.Pool().Acquire(ctx)
		if err != nil {
			return err
		}
		defer r.store.Pool().Release(pc)
		_, err = pc.ExecContext(ctx, `DELETE FROM leads WHERE id = ?;`, id)
		return err
	})
}

func inputFrom(l *store.Lead) store.LeadInput {
	return store.LeadInput{
		FullName:    l.FullName,
		Email:       l.Email,
		Company:     l.Company,
		Title:       l.Title,
		LinkedInURL: l.LinkedInURL,
		Location:    l.Location,
		Industry:    l.Industry,
		CompanySize: l.CompanySize,
		Source:      l.Source,
		Status:      l.Status,
		RawData:     l.RawData,
		Verified:    l.Verified,
		Enriched:    l.Enriched,
		ScrapedAt:   l.ScrapedAt,
		EnrichedAt:  l.EnrichedAt,
	}
}
