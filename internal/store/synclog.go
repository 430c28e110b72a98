package store

import (
	"context"
	"log"
	"time"
)

// SyncLogEntry is one audit row. Every store/sync operation writes one,
// success or failure, so incidents can be reconstructed after the fact.
type SyncLogEntry struct {
	ID         int64  `json:"id"`
	Operation  string `json:"operation"`
	LeadID     int64  `json:"leadId"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
	Error      string `json:"error"`
	DurationMS int64  `json:"durationMs"`
	CreatedAt  string `json:"createdAt"`
}

// logOp records an operation in sync_log. Failures to audit never fail the
// operation itself; they only make noise in the process log.
func (s *Store) logOp(ctx context.Context, operation string, leadID int64, status, detail, errMsg string, start time.Time) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		log.Printf("[store] sync_log write skipped (%s): %v", operation, err)
		return
	}
	defer s.pool.Release(pc)

	_, err = pc.ExecContext(ctx, `
INSERT INTO sync_log (operation, lead_id, status, detail, error, duration_ms, created_at)
VALUES (?,?,?,?,?,?,?);`,
		operation, leadID, status, detail, errMsg,
		time.Since(start).Milliseconds(), nowRFC3339())
	if err != nil {
		log.Printf("[store] sync_log write failed (%s): %v", operation, err)
	}
}

// RecordSyncRun is the sync engine's audit hook for whole runs.
func (s *Store) RecordSyncRun(ctx context.Context, operation, status, detail, errMsg string, start time.Time) {
	s.logOp(ctx, operation, 0, status, detail, errMsg, start)
}

// RecentSyncLog returns the newest n audit rows.
func (s *Store) RecentSyncLog(ctx context.Context, n int) ([]SyncLogEntry, error) {
	if n <= 0 || n > 1000 {
		n = 100
	}
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	rows, err := pc.QueryContext(ctx, `
SELECT id, operation, lead_id, status, detail, error, duration_ms, created_at
FROM sync_log
ORDER BY id DESC
LIMIT ?;`, n)
	if err != nil {
		return nil, persistErr("sync_log: list", 0, err)
	}
	defer rows.Close()

	var out []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.Scan(&e.ID, &e.Operation, &e.LeadID, &e.Status, &e.Detail, &e.Error, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, persistErr("sync_log: scan", 0, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordMigration appends to migration_log (backups, dedup cleanup,
// consolidation events).
func (s *Store) RecordMigration(ctx context.Context, operation, status, detail string) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		log.Printf("[store] migration_log write skipped (%s): %v", operation, err)
		return
	}
	defer s.pool.Release(pc)

	_, err = pc.ExecContext(ctx, `
INSERT INTO migration_log (operation, status, detail, created_at)
VALUES (?,?,?,?);`, operation, status, detail, nowRFC3339())
	if err != nil {
		log.Printf("[store] migration_log write failed (%s): %v", operation, err)
	}
}
