package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/store"
)

// StandardizeFields normalizes stored values into their canonical forms:
// LinkedIn URLs to one exact shape (so dedup keeps matching), and the
// whitespace mess scrapers leave in names and companies. The two passes
// touch disjoint columns and run in parallel.
func (r *Runner) StandardizeFields(ctx context.Context) (int64, error) {
	var fixed atomic.Int64

	err := r.access.WithResources(ctx, "", access.PriorityLow, []string{store.ResourceLeads}, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := r.standardizeColumn(gctx, "linkedin_url", store.NormalizeLinkedInURL)
			fixed.Add(n)
			return err
		})
		g.Go(func() error {
			collapse := func(s string) string {
				return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
			}
			for _, col := range []string{"full_name", "company", "title"} {
				n, err := r.standardizeColumn(gctx, col, collapse)
				fixed.Add(n)
				if err != nil {
					return err
				}
			}
			return nil
		})
		return g.Wait()
	})

	if err != nil {
		r.store.RecordMigration(ctx, "standardize_fields", "error", err.Error())
		return fixed.Load(), err
	}
	r.store.RecordMigration(ctx, "standardize_fields", "ok", fmt.Sprintf("fixed=%d", fixed.Load()))
	return fixed.Load(), nil
}

func (r *Runner) standardizeColumn(ctx context.Context, col string, canon func(string) string) (int64, error) {
	pc, err := r.store.Pool().Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer r.store.Pool().Release(pc)

	rows, err := pc.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, %s FROM leads WHERE %s != '';`, col, col))
	if err != nil {
		return 0, err
	}

	type fix struct {
		id int64
		v  string
	}
	var fixes []fix
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			rows.Close()
			return 0, err
		}
		if c := canon(v); c != v {
			fixes = append(fixes, fix{id, c})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, f := range fixes {
		if _, err := pc.ExecContext(ctx,
			fmt.Sprintf(`UPDATE leads SET %s = ? WHERE id = ?;`, col), f.v, f.id); err != nil {
			return int64(len(fixes)), err
		}
	}
	return int64(len(fixes)), nil
}
