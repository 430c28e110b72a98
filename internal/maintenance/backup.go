package maintenance

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// Backup snapshots the database file into backups/ with a timestamped name.
// A file lock guards the backup directory so two engine processes sharing a
// data dir can't copy over each other. Live writes keep flowing: the only
// contact with the live database is one WAL checkpoint.
func (r *Runner) Backup(ctx context.Context) (string, error) {
	backupDir := filepath.Join(r.dataDir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}

	fl := flock.New(filepath.Join(backupDir, ".backup.lock"))
	locked, err := fl.TryLockContext(ctx, 500*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("backup lock: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("backup lock held by another process")
	}
	defer func() { _ = fl.Unlock() }()

	// fold the WAL into the main file so the copy is complete on its own
	if _, err := r.store.Pool().Raw().ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return "", fmt.Errorf("wal checkpoint: %w", err)
	}

	name := fmt.Sprintf("leads-%s.db", time.Now().UTC().Format("20060102-150405"))
	dst := filepath.Join(backupDir, name)
	if err := copyFile(r.dbPath, dst); err != nil {
		r.store.RecordMigration(ctx, "backup", "error", err.Error())
		return "", err
	}

	r.pruneBackups(backupDir)
	r.store.RecordMigration(ctx, "backup", "ok", name)
	log.Printf("[maintenance] backup written: %s", name)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return out.Sync()
}

// pruneBackups keeps the newest keepBackups snapshots. Timestamped names
// sort chronologically, so lexical order is enough.
func (r *Runner) pruneBackups(dir string) {
	if r.keepBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".db" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= r.keepBackups {
		return
	}
	sort.Strings(names)
	for _, n := range names[:len(names)-r.keepBackups] {
		_ = os.Remove(filepath.Join(dir, n))
	}
}
