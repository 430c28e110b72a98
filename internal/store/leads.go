package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/events"
	"leadflow-engine/internal/metrics"
)

// Resource names declared to the access manager. Writers on the same name
// are totally ordered; disjoint names run in parallel.
const (
	ResourceLeads = "leads_table"
	ResourceSync  = "airtable_sync"
)

// Store is the authoritative CRUD + dedup layer over leads. All access goes
// through the pool; writes are serialized via the access manager so two
// concurrent inserts can't both miss each other's uncommitted duplicate.
type Store struct {
	pool   *Pool
	access *access.Manager
	hub    *events.Hub // optional
	merge  MergePolicy
}

func New(pool *Pool, mgr *access.Manager, hub *events.Hub, policy MergePolicy) *Store {
	return &Store{pool: pool, access: mgr, hub: hub, merge: policy}
}

func (s *Store) Pool() *Pool { return s.pool }

// LeadInput is what producers (scrapers, enrichers) hand us. Only FullName
// is required; RawData carries the unmodeled original payload.
type LeadInput struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	Company     string `json:"company"`
	Title       string `json:"title"`
	LinkedInURL string `json:"linkedinUrl"`
	Location    string `json:"location"`
	Industry    string `json:"industry"`
	CompanySize string `json:"companySize"`
	Source      string `json:"source"`
	Status      string `json:"status"`
	RawData     string `json:"rawData"`
	Verified    bool   `json:"verified"`
	Enriched    bool   `json:"enriched"`
	ScrapedAt   string `json:"scrapedAt"`
	EnrichedAt  string `json:"enrichedAt"`
}

func (in LeadInput) normalized() LeadInput {
	in.FullName = normalizeText(in.FullName)
	in.Email = normalizeEmail(in.Email)
	in.Company = normalizeText(in.Company)
	in.Title = normalizeText(in.Title)
	in.LinkedInURL = NormalizeLinkedInURL(in.LinkedInURL)
	in.Location = normalizeText(in.Location)
	in.Industry = normalizeText(in.Industry)
	in.Source = strings.TrimSpace(in.Source)
	in.Status = strings.TrimSpace(in.Status)
	return in
}

// AddLead inserts a new lead or, when dedup finds a match, merges into the
// existing row and returns its id with merged=true. Every call leaves a
// sync_log row behind, success or not.
func (s *Store) AddLead(ctx context.Context, in LeadInput) (id int64, merged bool, err error) {
	start := time.Now()
	in = in.normalized()

	if in.FullName == "" {
		s.logOp(ctx, "add_lead", 0, "error", "", "full_name is required", start)
		return 0, false, fmt.Errorf("%w: full_name is required", ErrValidation)
	}

	var matchedOn string
	err = s.access.WithResources(ctx, "", access.PriorityNormal, []string{ResourceLeads}, func(ctx context.Context) error {
		pc, aerr := s.pool.Acquire(ctx)
		if aerr != nil {
			return aerr
		}
		defer s.pool.Release(pc)

		tx, terr := pc.BeginTx(ctx)
		if terr != nil {
			return persistErr("add_lead: begin", 0, terr)
		}
		defer func() { _ = tx.Rollback() }()

		existing, on, derr := findDuplicate(ctx, tx, in)
		if derr != nil {
			return persistErr("add_lead: dedup", 0, derr)
		}

		if existing != nil {
			updates := mergeLead(existing, in, s.merge)
			updates["sync_pending"] = 1
			if uerr := applyUpdates(ctx, tx, existing.ID, updates); uerr != nil {
				return persistErr("add_lead: merge", existing.ID, uerr)
			}
			id, merged, matchedOn = existing.ID, true, on
			return tx.Commit()
		}

		now := nowRFC3339()
		needsEnrichment := 0
		if !in.Enriched {
			needsEnrichment = 1
		}
		status := in.Status
		if status == "" {
			status = "new"
		}
		res, ierr := tx.ExecContext(ctx, `
INSERT INTO leads (
  uuid, full_name, email, company, title, linkedin_url, location, industry,
  company_size, source, raw_data, status, verified, enriched, needs_enrichment,
  sync_pending, created_at, updated_at, scraped_at, enriched_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1,?,?,?,?);`,
			uuid.NewString(), in.FullName, in.Email, in.Company, in.Title,
			in.LinkedInURL, in.Location, in.Industry, in.CompanySize, in.Source,
			in.RawData, status, boolInt(in.Verified), boolInt(in.Enriched),
			needsEnrichment, now, now, in.ScrapedAt, in.EnrichedAt)
		if ierr != nil {
			return persistErr("add_lead: insert", 0, ierr)
		}
		id, _ = res.LastInsertId()
		return tx.Commit()
	})

	if err != nil {
		s.logOp(ctx, "add_lead", id, "error", "", err.Error(), start)
		log.Printf("[store] add_lead error took=%s: %v", time.Since(start), err)
		return 0, false, err
	}

	if merged {
		metrics.RecordLeadMerged(matchedOn)
		s.logOp(ctx, "add_lead", id, "merged", "matched_on="+matchedOn, "", start)
		s.publish(events.LeadMerged("", id, matchedOn))
	} else {
		metrics.RecordLeadAdded()
		s.logOp(ctx, "add_lead", id, "created", "", "", start)
		s.publish(events.LeadCreated("", id, ""))
	}
	log.Printf("[store] add_lead ok id=%d merged=%v took=%s", id, merged, time.Since(start))
	return id, merged, nil
}

// GetLead accepts either the numeric primary id or the uuid. A missing row
// is (nil, nil), never an error.
func (s *Store) GetLead(ctx context.Context, idOrUUID string) (*Lead, error) {
	idOrUUID = strings.TrimSpace(idOrUUID)
	if idOrUUID == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(idOrUUID, 10, 64); err == nil {
		return s.getWhere(ctx, "id = ?", n)
	}
	return s.getWhere(ctx, "uuid = ?", idOrUUID)
}

func (s *Store) GetLeadByID(ctx context.Context, id int64) (*Lead, error) {
	return s.getWhere(ctx, "id = ?", id)
}

// UpdateLead applies a partial update. Immutable keys (id, uuid) are dropped
// silently; updated_at is always refreshed and the row goes back to
// sync_pending. Returns false when no row matched.
func (s *Store) UpdateLead(ctx context.Context, id int64, updates map[string]any) (bool, error) {
	return s.update(ctx, id, updates, true)
}

// ApplyRemote is UpdateLead for the pull path: the change came from Airtable,
// so it must not be queued to go straight back out.
func (s *Store) ApplyRemote(ctx context.Context, id int64, updates map[string]any) (bool, error) {
	return s.update(ctx, id, updates, false)
}

func (s *Store) update(ctx context.Context, id int64, updates map[string]any, markPending bool) (bool, error) {
	start := time.Now()

	cols := make(map[string]any, len(updates))
	for k, v := range updates {
		col, ok := updatableColumns[k]
		if !ok {
			continue // id, uuid and unknown keys are ignored
		}
		if col == "linkedin_url" {
			if sv, ok := v.(string); ok {
				v = NormalizeLinkedInURL(sv)
			}
		}
		cols[col] = v
	}
	if markPending {
		cols["sync_pending"] = 1
	}

	var matched bool
	err := s.access.WithResources(ctx, "", access.PriorityNormal, []string{ResourceLeads}, func(ctx context.Context) error {
		pc, aerr := s.pool.Acquire(ctx)
		if aerr != nil {
			return aerr
		}
		defer s.pool.Release(pc)

		res, uerr := execUpdate(ctx, pc, id, cols)
		if uerr != nil {
			return persistErr("update_lead", id, uerr)
		}
		n, _ := res.RowsAffected()
		matched = n > 0
		return nil
	})

	op := "update_lead"
	if !markPending {
		op = "apply_remote"
	}
	if err != nil {
		s.logOp(ctx, op, id, "error", "", err.Error(), start)
		log.Printf("[store] %s error id=%d took=%s: %v", op, id, time.Since(start), err)
		return false, err
	}
	status := "ok"
	if !matched {
		status = "no_match"
	}
	s.logOp(ctx, op, id, status, fmt.Sprintf("fields=%d", len(cols)), "", start)
	if matched && markPending {
		s.publish(events.LeadUpdated("", id))
	}
	return matched, nil
}

// SearchLeads filters by exact match on every supplied field. A nil value
// matches both SQL NULL and empty string.
func (s *Store) SearchLeads(ctx context.Context, filters map[string]any) ([]Lead, error) {
	var (
		where []string
		args  []any
	)
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		col, ok := searchableColumns[k]
		if !ok {
			return nil, fmt.Errorf("%w: unknown filter field %q", ErrValidation, k)
		}
		v := filters[k]
		if v == nil {
			where = append(where, fmt.Sprintf("(%s IS NULL OR %s = '')", col, col))
			continue
		}
		where = append(where, col+" = ?")
		args = append(args, v)
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id;"

	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	rows, err := pc.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("search_leads", 0, err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, serr := scanLead(rows)
		if serr != nil {
			return nil, persistErr("search_leads: scan", 0, serr)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) getWhere(ctx context.Context, cond string, arg any) (*Lead, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	row := pc.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+cond+` LIMIT 1;`, arg)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get_lead", 0, err)
	}
	return l, nil
}

func (s *Store) publish(evt string) {
	if s.hub != nil {
		s.hub.Publish(evt)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
