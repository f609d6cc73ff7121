package memory

import (
	"context"
	"testing"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(t *testing.T, s *Store, tenant, name string) *ledger.Connection {
	t.Helper()
	c := &ledger.Connection{TenantID: tenant, Name: name, Source: ledger.SourceFile, ImportMode: ledger.ImportAppend}
	require.NoError(t, s.CreateConnection(context.Background(), c))
	return c
}

func TestConnections_TenantScoped(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := newConn(t, s, "t1", "bank")

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, ledger.ConnectionActive, c.Status)

	_, err := s.GetConnection(ctx, "t2", c.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	got, err := s.FindConnectionByName(ctx, "t1", "bank")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	err = s.CreateConnection(ctx, &ledger.Connection{TenantID: "t1", Name: "bank"})
	require.ErrorIs(t, err, ledger.ErrDuplicateConnection)

	// Same name in another tenant is fine.
	newConn(t, s, "t2", "bank")
}

func TestJobs_SingleActivePerConnection(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := newConn(t, s, "t1", "bank")

	first := &ledger.Job{TenantID: "t1", ConnectionID: c.ID}
	require.NoError(t, s.CreateJob(ctx, first))

	second := &ledger.Job{TenantID: "t1", ConnectionID: c.ID}
	require.ErrorIs(t, s.CreateJob(ctx, second), ledger.ErrConnectionBusy)
	assert.Empty(t, second.ID)

	failed := ledger.JobFailed
	require.NoError(t, s.UpdateJob(ctx, "t1", first.ID, ledger.JobUpdate{Status: &failed}))
	require.NoError(t, s.CreateJob(ctx, second))

	jobs, err := s.ListJobs(ctx, "t1", c.ID, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID, "newest first")
}

func TestJobs_UpdateEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := &ledger.Job{TenantID: "t1", ConnectionID: "c1"}
	require.NoError(t, s.CreateJob(ctx, job))

	completed := ledger.JobCompleted
	require.ErrorIs(t, s.UpdateJob(ctx, "t1", job.ID, ledger.JobUpdate{Status: &completed}), ledger.ErrInvalidTransition)

	running := ledger.JobRunning
	require.NoError(t, s.UpdateJob(ctx, "t1", job.ID, ledger.JobUpdate{Status: &running}))
	require.NoError(t, s.UpdateJob(ctx, "t1", job.ID, ledger.JobUpdate{Status: &completed}))
	require.ErrorIs(t, s.UpdateJob(ctx, "t1", job.ID, ledger.JobUpdate{Status: &running}), ledger.ErrInvalidTransition)

	require.ErrorIs(t, s.UpdateJob(ctx, "t2", job.ID, ledger.JobUpdate{}), ledger.ErrNotFound)
}

func TestTransactions_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	txs := []ledger.Transaction{
		{ExternalID: "a", Amount: decimal.NewFromInt(1)},
		{ExternalID: "b", Amount: decimal.NewFromInt(2)},
	}

	res, err := s.UpsertTransactions(ctx, "t1", "c1", txs)
	require.NoError(t, err)
	assert.Equal(t, ledger.UpsertResult{Inserted: 2}, res)

	txs[0].Amount = decimal.NewFromInt(10)
	res, err = s.UpsertTransactions(ctx, "t1", "c1", txs)
	require.NoError(t, err)
	assert.Equal(t, ledger.UpsertResult{Updated: 2}, res)

	stored, err := s.ListTransactions(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, decimal.NewFromInt(10).Equal(stored[0].Amount))
	assert.Equal(t, "t1", stored[0].TenantID)

	other, err := s.ListTransactions(ctx, "t2", "c1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestTransactions_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.UpsertTransactions(ctx, "t1", "c1", []ledger.Transaction{{ExternalID: "a"}, {ExternalID: "b"}})
	require.NoError(t, err)
	_, err = s.UpsertTransactions(ctx, "t1", "c2", []ledger.Transaction{{ExternalID: "a"}})
	require.NoError(t, err)

	deleted, res, err := s.ReplaceTransactions(ctx, "t1", "c1", []ledger.Transaction{{ExternalID: "z"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 1, res.Inserted)

	n, err := s.DeleteTransactions(ctx, "t1", "c2", []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, _ := s.ListTransactions(ctx, "t1", "c1")
	require.Len(t, left, 1)
	assert.Equal(t, "z", left[0].ExternalID)
}

func TestAccounts_KeepIDAcrossUpserts(t *testing.T) {
	ctx := context.Background()
	s := New()
	accts := []ledger.Account{{ExternalID: "x", Name: "Checking"}}

	_, err := s.UpsertAccounts(ctx, "t1", "c1", accts)
	require.NoError(t, err)
	firstID := accts[0].ID
	require.NotEmpty(t, firstID)

	again := []ledger.Account{{ExternalID: "x", Name: "Checking renamed"}}
	res, err := s.UpsertAccounts(ctx, "t1", "c1", again)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, firstID, again[0].ID)
}

func TestCursorAndAudit(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.GetCursor(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveCursor(ctx, "t1", "c1", "cur-1"))
	v, ok, _ := s.GetCursor(ctx, "t1", "c1")
	assert.True(t, ok)
	assert.Equal(t, "cur-1", v)

	for _, ev := range []ledger.AuditEvent{ledger.EventImportCompleted, ledger.EventImportFailed, ledger.EventImportCompleted} {
		require.NoError(t, s.AppendAudit(ctx, &ledger.AuditEntry{TenantID: "t1", ConnectionID: "c1", Event: ev}))
	}
	require.NoError(t, s.AppendAudit(ctx, &ledger.AuditEntry{TenantID: "t2", Event: ledger.EventImportCompleted}))

	all, _ := s.ListAudit(ctx, ledger.AuditFilter{TenantID: "t1"})
	assert.Len(t, all, 3)

	completed, _ := s.ListAudit(ctx, ledger.AuditFilter{TenantID: "t1", Event: ledger.EventImportCompleted})
	assert.Len(t, completed, 2)

	page, _ := s.ListAudit(ctx, ledger.AuditFilter{TenantID: "t1", Offset: 1, Limit: 1})
	require.Len(t, page, 1)
	assert.Equal(t, ledger.EventImportFailed, page[0].Event)
}
