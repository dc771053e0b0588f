// Package store is the persistence sink (spec.md §6): it is the only
// component in this repository allowed to talk to Postgres. Grounded
// on raito/internal/store/store.go's pooled-DB wrapper, rewritten
// against pgxpool directly (pgx/v5's native pool, not database/sql)
// since this sink has no sqlc-generated query layer to wrap — every
// query here is raw SQL issued through pgx.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waltagan/scraper-api/internal/metrics"
	"github.com/waltagan/scraper-api/internal/orchestrator"
)

// Store wraps a pooled pgx connection used for save_pages/save_status
// (spec.md §6's persistence contract).
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pgxpool.Pool to dsn.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// SavePages persists one company's scraped pages plus its subpage
// stats (spec.md §6: `save_pages(batch_id, company_id, pages, stats)`).
func (s *Store) SavePages(ctx context.Context, batchID, companyID string, result orchestrator.ScrapeResult) error {
	b := &pgxBatch{}
	for _, page := range result.Pages {
		b.queue(
			`INSERT INTO pages (batch_id, company_id, url, text, bytes, main_page_fail_reason, subpages_attempted, subpages_ok, subpages_failed)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			batchID, companyID, page.URL, page.Text, page.Bytes, string(result.MainPageFailReason),
			result.SubpageStats.Attempted, result.SubpageStats.OK, result.SubpageStats.Failed,
		)
	}
	if len(result.Pages) == 0 {
		b.queue(
			`INSERT INTO pages (batch_id, company_id, url, text, bytes, main_page_fail_reason, subpages_attempted, subpages_ok, subpages_failed)
			 VALUES ($1,$2,'','',0,$3,$4,$5,$6)`,
			batchID, companyID, string(result.MainPageFailReason),
			result.SubpageStats.Attempted, result.SubpageStats.OK, result.SubpageStats.Failed,
		)
	}
	return b.run(ctx, s.pool)
}

// SaveStatus upserts the batch's latest status snapshot (spec.md §6:
// `save_status(batch_id, snapshot)`). The whole snapshot is stored as
// JSONB so the stable status-object shape never needs a schema
// migration when metrics.Snapshot gains a field.
func (s *Store) SaveStatus(ctx context.Context, batchID string, snapshot metrics.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO batch_status (batch_id, snapshot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (batch_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()
	`, batchID, payload)
	if err != nil {
		return fmt.Errorf("store: save status: %w", err)
	}
	return nil
}

// LoadStatus fetches the last persisted snapshot for batchID, used to
// rehydrate a status endpoint response after a process restart.
func (s *Store) LoadStatus(ctx context.Context, batchID string) (metrics.Snapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM batch_status WHERE batch_id = $1`, batchID).Scan(&payload)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("store: load status: %w", err)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("store: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// pgxBatch defers a set of statements to a single transaction, so
// SavePages can build its statement set without holding a connection
// open while it iterates pages.
type pgxBatch struct {
	stmts []stmt
}

type stmt struct {
	sql  string
	args []any
}

func (b *pgxBatch) queue(sql string, args ...any) {
	b.stmts = append(b.stmts, stmt{sql: sql, args: args})
}

func (b *pgxBatch) run(ctx context.Context, pool *pgxpool.Pool) error {
	if len(b.stmts) == 0 {
		return nil
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, st := range b.stmts {
		if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
			return fmt.Errorf("store: exec: %w", err)
		}
	}
	return tx.Commit(ctx)
}
