// Package ledger defines the canonical, tenant-scoped data model shared by the
// file importer, the provider adapters, the job controller, and the stores.
//
// It has no dependencies on other internal packages so that every layer can
// speak the same types without import cycles.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind identifies where a Connection's data comes from. The file kind
// is fixed; provider connections use the provider's registered name.
type SourceKind string

// SourceFile marks a connection fed by user-uploaded delimited files.
const SourceFile SourceKind = "file"

// IsFile reports whether the source is file based.
func (k SourceKind) IsFile() bool { return k == SourceFile }

// ImportMode controls how a file import treats existing data.
type ImportMode string

const (
	ImportAppend   ImportMode = "append"
	ImportOverride ImportMode = "override"
)

// Valid reports whether m is a known import mode.
func (m ImportMode) Valid() bool {
	return m == ImportAppend || m == ImportOverride
}

// ConnectionStatus is the health of a Connection.
type ConnectionStatus string

const (
	ConnectionActive ConnectionStatus = "active"
	ConnectionError  ConnectionStatus = "error"
)

// ColumnMapping maps a canonical field name ("date", "amount", ...) to the
// header of the column that carries it.
type ColumnMapping map[string]string

// FormatConfig describes how to read a delimited file.
type FormatConfig struct {
	// Delimiter is a single character; empty means auto-detect.
	Delimiter string `json:"delimiter,omitempty"`

	// DateFormat is a Go layout ("2006-01-02") or a token pattern
	// ("YYYY-MM-DD", "DD/MM/YYYY"). Empty means infer from the data.
	DateFormat string `json:"dateFormat,omitempty"`

	// DecimalSeparator is "." (default) or ",".
	DecimalSeparator string `json:"decimalSeparator,omitempty"`

	// Currency is used when no currency column is mapped or a cell is empty.
	Currency string `json:"currency,omitempty"`

	// SignedAmounts derives debit/credit from the amount sign when no type
	// column is mapped.
	SignedAmounts bool `json:"signedAmounts,omitempty"`

	// FallbackID selects how rows without a reference get an external id:
	// "fingerprint" (default) or "row".
	FallbackID string `json:"fallbackId,omitempty"`
}

// ConnectionConfig is the configuration blob stored with a Connection.
type ConnectionConfig struct {
	ColumnMapping  ColumnMapping `json:"columnMapping,omitempty"`
	Format         FormatConfig  `json:"format,omitempty"`
	AccountID      string        `json:"accountId,omitempty"`
	CredentialsRef string        `json:"credentialsRef,omitempty"`
	SyncAccounts   bool          `json:"syncAccounts,omitempty"`
}

// Connection is a configured data source for one tenant.
type Connection struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenantId"`
	Name       string           `json:"name"`
	Source     SourceKind       `json:"source"`
	Config     ConnectionConfig `json:"config"`
	ImportMode ImportMode       `json:"importMode"`
	Status     ConnectionStatus `json:"status"`
	LastError  string           `json:"lastError,omitempty"`
	CreatedBy  string           `json:"createdBy,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// ConnectionUpdate enumerates the only Connection fields that may change once
// the connection exists. Nil fields are left untouched.
type ConnectionUpdate struct {
	Status    *ConnectionStatus
	LastError *string
}

// JobKind tells whether a job was started by a user or by the scheduler.
type JobKind string

const (
	JobManual    JobKind = "manual"
	JobScheduled JobKind = "scheduled"
)

// JobStatus is the lifecycle state of an Ingestion Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Active reports whether the job still holds its connection.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// CanTransition reports whether moving from s to next is a forward step of
// pending -> running -> completed|failed. A pending job may fail directly.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// JobCounts aggregates record counts for a job.
type JobCounts struct {
	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	Imported  int `json:"imported"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Job is one execution attempt against a Connection.
type Job struct {
	ID           string          `json:"id"`
	ConnectionID string          `json:"connectionId"`
	TenantID     string          `json:"tenantId"`
	Kind         JobKind         `json:"kind"`
	Status       JobStatus       `json:"status"`
	Counts       JobCounts       `json:"counts"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ErrorDetails []string        `json:"errorDetails,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	TriggeredBy  string          `json:"triggeredBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// JobUpdate enumerates the mutable Job fields. Nil fields are left untouched.
// Stores reject a Status that is not a valid forward transition.
type JobUpdate struct {
	Status       *JobStatus
	Counts       *JobCounts
	ErrorMessage *string
	ErrorDetails []string
	Summary      json.RawMessage
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// RawKind classifies a raw snapshot.
type RawKind string

const (
	RawFile             RawKind = "file"
	RawProviderAccounts RawKind = "provider_accounts"
	RawProviderPage     RawKind = "provider_page"
)

// RawData is an untouched, write-once snapshot of job input. Content is kept
// inline unless an archive stored it elsewhere, in which case Location is set.
type RawData struct {
	ID           string    `json:"id"`
	JobID        string    `json:"jobId"`
	ConnectionID string    `json:"connectionId"`
	TenantID     string    `json:"tenantId"`
	Kind         RawKind   `json:"kind"`
	Sequence     int       `json:"sequence"`
	ContentType  string    `json:"contentType"`
	Checksum     string    `json:"checksum"`
	Size         int       `json:"size"`
	Content      []byte    `json:"-"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TxType is the direction of a transaction.
type TxType string

const (
	Debit  TxType = "debit"
	Credit TxType = "credit"
)

// Transaction is a canonical, tenant-scoped financial event. The tuple
// (TenantID, ConnectionID, ExternalID) is unique.
type Transaction struct {
	TenantID     string          `json:"tenantId"`
	AccountID    string          `json:"accountId"`
	ConnectionID string          `json:"connectionId"`
	ExternalID   string          `json:"externalId"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	Type         TxType          `json:"type"`
	Source       SourceKind      `json:"source"`
	JobID        string          `json:"jobId"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// Account is a canonical financial account.
type Account struct {
	ID           string           `json:"id"`
	TenantID     string           `json:"tenantId"`
	ConnectionID string           `json:"connectionId"`
	ExternalID   string           `json:"externalId"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	Currency     string           `json:"currency"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
	BalanceAsOf  *time.Time       `json:"balanceAsOf,omitempty"`
}

// Cursor is the persisted continuation token of a provider delta stream.
type Cursor struct {
	TenantID     string    `json:"tenantId"`
	ConnectionID string    `json:"connectionId"`
	Value        string    `json:"value"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AuditEvent names what an audit entry records.
type AuditEvent string

const (
	EventConnectionCreated AuditEvent = "connection.created"
	EventImportCompleted   AuditEvent = "import.completed"
	EventImportFailed      AuditEvent = "import.failed"
	EventSyncCompleted     AuditEvent = "sync.completed"
	EventSyncFailed        AuditEvent = "sync.failed"
)

// AuditEntry is an immutable record of what a job or user did.
type AuditEntry struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId"`
	ConnectionID string         `json:"connectionId,omitempty"`
	JobID        string         `json:"jobId,omitempty"`
	Event        AuditEvent     `json:"event"`
	Data         map[string]any `json:"data,omitempty"`
	Actor        string         `json:"actor"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// UpsertResult reports how an upsert batch landed.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Add accumulates another result.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
}

// Total is the number of rows written.
func (r UpsertResult) Total() int { return r.Inserted + r.Updated }
