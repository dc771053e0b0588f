package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// SavePages and SaveStatus need a live Postgres connection, so they are
// not covered here (no fake pgxpool.Pool exists to substitute). The
// pgxBatch statement-building logic they share is deterministic and
// pool-independent, so it is tested directly.

func TestPgxBatchQueueAccumulatesStatements(t *testing.T) {
	b := &pgxBatch{}
	require.Empty(t, b.stmts)

	b.queue(`INSERT INTO pages (url) VALUES ($1)`, "https://example.com")
	b.queue(`INSERT INTO pages (url) VALUES ($1)`, "https://example.com/about")

	require.Len(t, b.stmts, 2)
	require.Equal(t, []any{"https://example.com"}, b.stmts[0].args)
	require.Equal(t, []any{"https://example.com/about"}, b.stmts[1].args)
}

func TestPgxBatchRunNoopWhenEmpty(t *testing.T) {
	b := &pgxBatch{}
	// run(ctx, nil) must short-circuit before touching the pool when
	// there are no queued statements.
	require.NoError(t, b.run(nil, nil))
}
