package store

import (
	"database/sql"
	"fmt"
)

// Lead is one prospective contact moving through the pipeline. Timestamps are
// RFC3339 strings; empty string means unset. Rev increments on every data
// write so the sync engine can tell whether a row changed under a push.
type Lead struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	Title    string `json:"title"`

	LinkedInURL string `json:"linkedinUrl"`
	Location    string `json:"location"`
	Industry    string `json:"industry"`
	CompanySize string `json:"companySize"`
	Source      string `json:"source"`
	RawData     string `json:"rawData,omitempty"`

	Status          string `json:"status"`
	Verified        bool   `json:"verified"`
	Enriched        bool   `json:"enriched"`
	NeedsEnrichment bool   `json:"needsEnrichment"`

	AirtableID      string `json:"airtableId"`
	AirtableSynced  string `json:"airtableSynced"`
	SyncPending     bool   `json:"syncPending"`
	LastSyncAttempt string `json:"lastSyncAttempt"`
	SyncError       string `json:"syncError"`

	Rev        int64  `json:"rev"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
	ScrapedAt  string `json:"scrapedAt"`
	EnrichedAt string `json:"enrichedAt"`
}

func Migrate(db *sql.DB) error {

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	if v < 1 {
		if err := migrateV1(tx); err != nil {
			return err
		}
	}
	if v < 2 {
		if err := migrateV2(tx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func migrateV1(tx *sql.Tx) error {

	// ---- Schema v1: tables ----

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS leads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uuid TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  email TEXT NOT NULL DEFAULT '',
  company TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  linkedin_url TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  industry TEXT NOT NULL DEFAULT '',
  company_size TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT '',
  raw_data TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'new',
  verified INTEGER NOT NULL DEFAULT 0,
  enriched INTEGER NOT NULL DEFAULT 0,
  needs_enrichment INTEGER NOT NULL DEFAULT 1,
  airtable_id TEXT NOT NULL DEFAULT '',
  airtable_synced TEXT NOT NULL DEFAULT '',
  sync_pending INTEGER NOT NULL DEFAULT 1,
  last_sync_attempt TEXT NOT NULL DEFAULT '',
  sync_error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  scraped_at TEXT NOT NULL DEFAULT '',
  enriched_at TEXT NOT NULL DEFAULT ''
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sync_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  operation TEXT NOT NULL,
  lead_id INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  duration_ms INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS migration_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  operation TEXT NOT NULL,
  status TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
`); err != nil {
		return err
	}

	// ---- Schema v1: indexes ----
	// Dedup goes through these; partial so empty values never collide.

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_leads_linkedin_url
ON leads(linkedin_url)
WHERE linkedin_url != '';
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_leads_email
ON leads(email)
WHERE email != '';
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_leads_name_company
ON leads(full_name, company);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_leads_sync_pending
ON leads(sync_pending)
WHERE sync_pending = 1;
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_leads_airtable_id
ON leads(airtable_id)
WHERE airtable_id != '';
`); err != nil {
		return err
	}

	// Back-compat for dev DBs that predate these columns.
	if !columnExists(tx, "leads", "raw_data") {
		if _, err := tx.Exec(`ALTER TABLE leads ADD COLUMN raw_data TEXT NOT NULL DEFAULT '';`); err != nil {
			return err
		}
	}
	if !columnExists(tx, "leads", "company_size") {
		if _, err := tx.Exec(`ALTER TABLE leads ADD COLUMN company_size TEXT NOT NULL DEFAULT '';`); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1;`); err != nil {
		return err
	}
	return nil
}

// ---- Schema v2: per-row revision counter, bumped on every data write. ----

func migrateV2(tx *sql.Tx) error {
	if !columnExists(tx, "leads", "rev") {
		if _, err := tx.Exec(`ALTER TABLE leads ADD COLUMN rev INTEGER NOT NULL DEFAULT 0;`); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`PRAGMA user_version = 2;`); err != nil {
		return err
	}
	return nil
}

func columnExists(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, table, col string) bool {
	query := fmt.Sprintf(`
SELECT 1
FROM pragma_table_info('%s')
WHERE name = ?
LIMIT 1;
`, table)

	var one int
	err := q.QueryRow(query, col).Scan(&one)
	return err == nil
}
