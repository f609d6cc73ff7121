package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	unique := func(constraint string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: constraint, Message: "duplicate key"})
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ledger.ErrNotFound},
		{"active job index", unique(constraintActiveJob), ledger.ErrConnectionBusy},
		{"connection name", unique(constraintConnectionName), ledger.ErrDuplicateConnection},
		{"other unique", unique("transactions_pkey"), ledger.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}

	other := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	assert.Same(t, error(other), mapError(other))
	assert.NoError(t, mapError(nil))
}

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/ledger?sslmode=disable", migrationURL("postgres://u:p@db:5432/ledger?sslmode=disable"))
	assert.Equal(t, "pgx5://db/ledger", migrationURL("postgresql://db/ledger"))
	assert.Equal(t, "pgx5://db/ledger", migrationURL("pgx5://db/ledger"))
}

func TestAuditQuery(t *testing.T) {
	query, args := auditQuery(ledger.AuditFilter{
		TenantID: "t1",
		Event:    ledger.EventSyncFailed,
		Limit:    10,
		Offset:   20,
	})
	assert.Contains(t, query, "tenant_id = $1 AND event = $2 ORDER BY seq LIMIT $3 OFFSET $4")
	assert.Equal(t, []any{"t1", "sync.failed", 10, 20}, args)

	query, args = auditQuery(ledger.AuditFilter{TenantID: "t1"})
	assert.NotContains(t, query, "LIMIT")
	assert.Len(t, args, 1)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)
}

// openTestStore connects to LEDGERSYNC_TEST_DATABASE_URL, or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("LEDGERSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEDGERSYNC_TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, url, PoolConfig{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestStore_Integration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant := "it-" + uuid.NewString()

	conn := &ledger.Connection{TenantID: tenant, Name: "bank", Source: ledger.SourceFile}
	require.NoError(t, s.CreateConnection(ctx, conn))
	err := s.CreateConnection(ctx, &ledger.Connection{TenantID: tenant, Name: "bank", Source: ledger.SourceFile})
	require.ErrorIs(t, err, ledger.ErrDuplicateConnection)

	job := &ledger.Job{TenantID: tenant, ConnectionID: conn.ID, Kind: ledger.JobManual}
	require.NoError(t, s.CreateJob(ctx, job))
	err = s.CreateJob(ctx, &ledger.Job{TenantID: tenant, ConnectionID: conn.ID, Kind: ledger.JobManual})
	require.ErrorIs(t, err, ledger.ErrConnectionBusy)

	running := ledger.JobRunning
	require.NoError(t, s.UpdateJob(ctx, tenant, job.ID, ledger.JobUpdate{Status: &running}))
	pending := ledger.JobPending
	require.ErrorIs(t, s.UpdateJob(ctx, tenant, job.ID, ledger.JobUpdate{Status: &pending}), ledger.ErrInvalidTransition)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []ledger.Transaction{
		{ExternalID: "a", Date: day, Amount: decimal.RequireFromString("10.50"), Source: ledger.SourceFile, Metadata: map[string]any{"row": float64(2)}},
		{ExternalID: "b", Date: day, Amount: decimal.RequireFromString("-3"), Source: ledger.SourceFile},
	}
	res, err := s.UpsertTransactions(ctx, tenant, conn.ID, txs)
	require.NoError(t, err)
	assert.Equal(t, ledger.UpsertResult{Inserted: 2}, res)

	res, err = s.UpsertTransactions(ctx, tenant, conn.ID, txs[:1])
	require.NoError(t, err)
	assert.Equal(t, ledger.UpsertResult{Updated: 1}, res)

	stored, err := s.ListTransactions(ctx, tenant, conn.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, decimal.RequireFromString("10.5").Equal(stored[0].Amount))
	assert.Equal(t, float64(2), stored[0].Metadata["row"])

	deleted, res, err := s.ReplaceTransactions(ctx, tenant, conn.ID, txs[1:])
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 1, res.Inserted)

	_, ok, err := s.GetCursor(ctx, tenant, conn.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.SaveCursor(ctx, tenant, conn.ID, "c1"))
	value, ok, err := s.GetCursor(ctx, tenant, conn.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c1", value)

	_, err = s.GetConnection(ctx, "someone-else", conn.ID)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}
