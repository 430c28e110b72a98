package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

const leadColumns = `id, uuid, full_name, email, company, title, linkedin_url,
location, industry, company_size, source, raw_data, status, verified, enriched,
needs_enrichment, airtable_id, airtable_synced, sync_pending, last_sync_attempt,
sync_error, rev, created_at, updated_at, scraped_at, enriched_at`

// updatableColumns maps caller-facing field names to columns. id/uuid are
// deliberately absent: immutable after creation.
var updatableColumns = map[string]string{
	"full_name":        "full_name",
	"fullName":         "full_name",
	"email":            "email",
	"company":          "company",
	"title":            "title",
	"linkedin_url":     "linkedin_url",
	"linkedinUrl":      "linkedin_url",
	"location":         "location",
	"industry":         "industry",
	"company_size":     "company_size",
	"companySize":      "company_size",
	"source":           "source",
	"raw_data":         "raw_data",
	"rawData":          "raw_data",
	"status":           "status",
	"verified":         "verified",
	"enriched":         "enriched",
	"needs_enrichment": "needs_enrichment",
	"needsEnrichment":  "needs_enrichment",
	"scraped_at":       "scraped_at",
	"scrapedAt":        "scraped_at",
	"enriched_at":      "enriched_at",
	"enrichedAt":       "enriched_at",
}

var searchableColumns = func() map[string]string {
	m := make(map[string]string, len(updatableColumns)+4)
	for k, v := range updatableColumns {
		m[k] = v
	}
	m["uuid"] = "uuid"
	m["status"] = "status"
	m["airtable_id"] = "airtable_id"
	m["airtableId"] = "airtable_id"
	m["sync_pending"] = "sync_pending"
	m["syncPending"] = "sync_pending"
	return m
}()

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(r rowScanner) (*Lead, error) {
	var l Lead
	var verified, enriched, needsEnrichment, syncPending int
	err := r.Scan(
		&l.ID, &l.UUID, &l.FullName, &l.Email, &l.Company, &l.Title,
		&l.LinkedInURL, &l.Location, &l.Industry, &l.CompanySize, &l.Source,
		&l.RawData, &l.Status, &verified, &enriched, &needsEnrichment,
		&l.AirtableID, &l.AirtableSynced, &syncPending, &l.LastSyncAttempt,
		&l.SyncError, &l.Rev, &l.CreatedAt, &l.UpdatedAt, &l.ScrapedAt, &l.EnrichedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Verified = verified != 0
	l.Enriched = enriched != 0
	l.NeedsEnrichment = needsEnrichment != 0
	l.SyncPending = syncPending != 0
	return &l, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// applyUpdates writes the given column map plus a fresh updated_at and a
// rev bump.
func applyUpdates(ctx context.Context, q execer, id int64, updates map[string]any) error {
	_, err := execUpdate(ctx, q, id, updates)
	return err
}

func execUpdate(ctx context.Context, q execer, id int64, updates map[string]any) (sql.Result, error) {
	cols := make([]string, 0, len(updates))
	for c := range updates {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var (
		sets []string
		args []any
	)
	for _, c := range cols {
		v := updates[c]
		if b, ok := v.(bool); ok {
			v = boolInt(b)
		}
		sets = append(sets, c+" = ?")
		args = append(args, v)
	}
	sets = append(sets, "updated_at = ?", "rev = rev + 1")
	args = append(args, nowRFC3339(), id)

	query := fmt.Sprintf(`UPDATE leads SET %s WHERE id = ?;`, strings.Join(sets, ", "))
	return q.ExecContext(ctx, query, args...)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// findDuplicate runs the dedup ladder: linkedin url, then email, then the
// (name, company) pair as a last resort. First match wins.
func findDuplicate(ctx context.Context, q queryer, in LeadInput) (*Lead, string, error) {
	if in.LinkedInURL != "" {
		l, err := oneLead(ctx, q, `linkedin_url = ? AND linkedin_url != ''`, in.LinkedInURL)
		if err != nil {
			return nil, "", err
		}
		if l != nil {
			return l, "linkedin_url", nil
		}
	}
	if in.Email != "" {
		l, err := oneLead(ctx, q, `email = ? AND email != ''`, in.Email)
		if err != nil {
			return nil, "", err
		}
		if l != nil {
			return l, "email", nil
		}
	}
	if in.FullName != "" && in.Company != "" {
		l, err := oneLead(ctx, q, `full_name = ? AND company = ?`, in.FullName, in.Company)
		if err != nil {
			return nil, "", err
		}
		if l != nil {
			return l, "name_company", nil
		}
	}
	return nil, "", nil
}

func oneLead(ctx context.Context, q queryer, cond string, args ...any) (*Lead, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+cond+` LIMIT 1;`, args...)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}
