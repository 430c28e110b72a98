package store

import (
	"context"
	"fmt"
)

// Sync-state accessors. These fields (airtable_id, sync_pending, ...) are
// owned by the sync engine; producers and consumers never write them.

// PendingLeads returns leads whose local state has not reached Airtable yet.
func (s *Store) PendingLeads(ctx context.Context, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 1000
	}
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	rows, err := pc.QueryContext(ctx, `
SELECT `+leadColumns+`
FROM leads
WHERE sync_pending = 1
ORDER BY id
LIMIT ?;`, limit)
	if err != nil {
		return nil, persistErr("pending_leads", 0, err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, serr := scanLead(rows)
		if serr != nil {
			return nil, persistErr("pending_leads: scan", 0, serr)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// LeadsByIDs loads an explicit set, preserving only rows that exist.
func (s *Store) LeadsByIDs(ctx context.Context, ids []int64) ([]Lead, error) {
	var out []Lead
	for _, id := range ids {
		l, err := s.GetLeadByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if l != nil {
			out = append(out, *l)
		}
	}
	return out, nil
}

// MarkLeadSynced records a confirmed push. airtable_id is written once and
// then left alone: re-pointing a lead at a different remote record is how
// you corrupt a sync, so the guard lives in the SQL itself. asOfRev is the
// row revision the push read; the pending flag clears only when the row still
// carries it, so an edit landing mid-push keeps the lead queued for the next
// run instead of silently never reaching Airtable.
func (s *Store) MarkLeadSynced(ctx context.Context, id int64, airtableID string, asOfRev int64) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	now := nowRFC3339()
	_, err = pc.ExecContext(ctx, `
UPDATE leads SET
  airtable_id = CASE WHEN airtable_id = '' THEN ? ELSE airtable_id END,
  airtable_synced = ?,
  sync_pending = CASE WHEN rev = ? THEN 0 ELSE sync_pending END,
  last_sync_attempt = ?,
  sync_error = ''
WHERE id = ?;`, airtableID, now, asOfRev, now, id)
	if err != nil {
		return persistErr("mark_synced", id, err)
	}
	return nil
}

// MarkSyncFailed records a failed push attempt; the lead stays pending.
func (s *Store) MarkSyncFailed(ctx context.Context, id int64, msg string) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	if len(msg) > 500 {
		msg = msg[:500]
	}
	_, err = pc.ExecContext(ctx, `
UPDATE leads SET last_sync_attempt = ?, sync_error = ?
WHERE id = ?;`, nowRFC3339(), msg, id)
	if err != nil {
		return persistErr("mark_sync_failed", id, err)
	}
	return nil
}

// FindByAirtableID resolves a remote record to its local lead.
func (s *Store) FindByAirtableID(ctx context.Context, airtableID string) (*Lead, error) {
	if airtableID == "" {
		return nil, nil
	}
	return s.getWhere(ctx, "airtable_id = ?", airtableID)
}

// FindByEmail is the pull path's fallback resolver.
func (s *Store) FindByEmail(ctx context.Context, email string) (*Lead, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return s.getWhere(ctx, "email = ? AND email != ''", email)
}

// LinkAirtable attaches a remote id to a lead created from a pulled record
// and clears its pending flag (the data came from Airtable; nothing to push).
func (s *Store) LinkAirtable(ctx context.Context, id int64, airtableID string) error {
	if airtableID == "" {
		return fmt.Errorf("%w: empty airtable id", ErrValidation)
	}
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	now := nowRFC3339()
	_, err = pc.ExecContext(ctx, `
UPDATE leads SET
  airtable_id = CASE WHEN airtable_id = '' THEN ? ELSE airtable_id END,
  airtable_synced = ?,
  sync_pending = 0
WHERE id = ?;`, airtableID, now, id)
	if err != nil {
		return persistErr("link_airtable", id, err)
	}
	return nil
}

// CountLeads is a cheap health/status figure.
func (s *Store) CountLeads(ctx context.Context) (total, pending int64, err error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.Release(pc)

	if err := pc.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads;`).Scan(&total); err != nil {
		return 0, 0, persistErr("count_leads", 0, err)
	}
	if err := pc.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE sync_pending = 1;`).Scan(&pending); err != nil {
		return 0, 0, persistErr("count_leads", 0, err)
	}
	return total, pending, nil
}
