package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist for the tenant.
	// Lookups across tenants also return it, so callers cannot discover ids belonging to other tenants.
	ErrNotFound = errors.New("not found")

	// ErrConnectionBusy is returned when a connection already has an
	// active (pending or running) job.
	ErrConnectionBusy = errors.New("connection already has an active job")

	// ErrInvalidTransition is returned when a job status update would move
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("unique constraint conflict")

	// ErrDuplicateConnection is returned when a connection name is taken.
	ErrDuplicateConnection = errors.New("connection name already exists")
)

// ConnectionStore persists Connections.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, tenantID, id string) (*Connection, error)
	FindConnectionByName(ctx context.Context, tenantID, name string) (*Connection, error)
	UpdateConnection(ctx context.Context, tenantID, id string, upd ConnectionUpdate) error

	// ListSyncableConnections returns active provider connections across
	// all tenants, for the scheduler.
	ListSyncableConnections(ctx context.Context) ([]Connection, error)
}

// JobStore persists Ingestion Jobs.
type JobStore interface {
	// CreateJob inserts a job. It must return ErrConnectionBusy when the
	// connection already has an active job, and create nothing in that case.
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, tenantID, id string) (*Job, error)

	// UpdateJob applies upd, returning ErrInvalidTransition for a status
	// that is not a forward step.
	UpdateJob(ctx context.Context, tenantID, id string, upd JobUpdate) error
	ListJobs(ctx context.Context, tenantID, connectionID string, limit int) ([]Job, error)
}

// RawStore persists write-once raw snapshots.
type RawStore interface {
	SaveRawData(ctx context.Context, raw *RawData) error
	ListRawData(ctx context.Context, tenantID, jobID string) ([]RawData, error)
}

// LedgerStore persists canonical transactions and accounts. Every method is
// scoped by tenant and connection.
type LedgerStore interface {
	UpsertTransactions(ctx context.Context, tenantID, connectionID string, txs []Transaction) (UpsertResult, error)
	DeleteTransactions(ctx context.Context, tenantID, connectionID string, externalIDs []string) (int64, error)
	DeleteTransactionsByConnection(ctx context.Context, tenantID, connectionID string) (int64, error)

	// ReplaceTransactions deletes every transaction of the connection and
	// inserts txs in one atomic unit.
	ReplaceTransactions(ctx context.Context, tenantID, connectionID string, txs []Transaction) (int64, UpsertResult, error)

	ListTransactions(ctx context.Context, tenantID, connectionID string) ([]Transaction, error)

	// UpsertAccounts inserts or updates by (tenant, connection, external id),
	// filling in each account's ID.
	UpsertAccounts(ctx context.Context, tenantID, connectionID string, accounts []Account) (UpsertResult, error)
	ListAccounts(ctx context.Context, tenantID, connectionID string) ([]Account, error)
}

// CursorStore persists sync cursors.
type CursorStore interface {
	// GetCursor returns the cursor value and whether one exists.
	GetCursor(ctx context.Context, tenantID, connectionID string) (string, bool, error)
	SaveCursor(ctx context.Context, tenantID, connectionID, value string) error
}

// AuditFilter narrows an audit query.
type AuditFilter struct {
	TenantID     string
	ConnectionID string
	JobID        string
	Event        AuditEvent
	Since        time.Time
	Limit        int
	Offset       int
}

// AuditStore appends and reads audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// Store is the full persistence collaborator.
type Store interface {
	ConnectionStore
	JobStore
	RawStore
	LedgerStore
	CursorStore
	AuditStore
}
