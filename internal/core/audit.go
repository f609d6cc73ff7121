package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
)

// AuditWriter appends entries to the audit log. Entries are never updated.
type AuditWriter struct {
	store ledger.AuditStore
	now   func() time.Time
}

// NewAuditWriter creates an AuditWriter over store.
func NewAuditWriter(store ledger.AuditStore) *AuditWriter {
	return &AuditWriter{store: store, now: time.Now}
}

// Record appends entry. Actor and request metadata are filled from ctx when
// the entry does not carry them.
func (a *AuditWriter) Record(ctx context.Context, entry ledger.AuditEntry) error {
	if entry.Actor == "" {
		entry.Actor = GetActorFromContext(ctx)
	}
	if entry.Data == nil {
		entry.Data = map[string]any{}
	}
	if ip := GetIPAddressFromContext(ctx); ip != "" {
		entry.Data["ip_address"] = ip
	}
	if ua := GetUserAgentFromContext(ctx); ua != "" {
		entry.Data["user_agent"] = ua
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now().UTC()
	}

	if err := a.store.AppendAudit(ctx, &entry); err != nil {
		return fmt.Errorf("append audit %s: %w", entry.Event, err)
	}
	return nil
}

// ConnectionCreated records a new connection.
func (a *AuditWriter) ConnectionCreated(ctx context.Context, conn *ledger.Connection) error {
	return a.Record(ctx, ledger.AuditEntry{
		TenantID:     conn.TenantID,
		ConnectionID: conn.ID,
		Event:        ledger.EventConnectionCreated,
		Actor:        conn.CreatedBy,
		Data: map[string]any{
			"name":        conn.Name,
			"source":      string(conn.Source),
			"import_mode": string(conn.ImportMode),
		},
	})
}

// JobFinished records the terminal transition of job. It must be called
// exactly once per job, after the job reached completed or failed.
func (a *AuditWriter) JobFinished(ctx context.Context, conn *ledger.Connection, job *ledger.Job) error {
	if !job.Status.Terminal() {
		return fmt.Errorf("audit job %s: status %s is not terminal", job.ID, job.Status)
	}

	data := map[string]any{
		"status":    string(job.Status),
		"kind":      string(job.Kind),
		"source":    string(conn.Source),
		"fetched":   job.Counts.Fetched,
		"processed": job.Counts.Processed,
		"imported":  job.Counts.Imported,
		"skipped":   job.Counts.Skipped,
		"failed":    job.Counts.Failed,
	}
	if job.ErrorMessage != "" {
		data["error"] = job.ErrorMessage
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		data["duration_ms"] = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}

	return a.Record(ctx, ledger.AuditEntry{
		TenantID:     job.TenantID,
		ConnectionID: job.ConnectionID,
		JobID:        job.ID,
		Event:        jobEvent(conn.Source, job.Status),
		Actor:        job.TriggeredBy,
		Data:         data,
	})
}

func jobEvent(source ledger.SourceKind, status ledger.JobStatus) ledger.AuditEvent {
	switch {
	case source.IsFile() && status == ledger.JobCompleted:
		return ledger.EventImportCompleted
	case source.IsFile():
		return ledger.EventImportFailed
	case status == ledger.JobCompleted:
		return ledger.EventSyncCompleted
	default:
		return ledger.EventSyncFailed
	}
}
