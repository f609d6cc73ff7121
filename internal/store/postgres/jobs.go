package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, connection_id, tenant_id, kind, status,
	fetched, processed, imported, skipped, failed,
	error_message, error_details, summary, triggered_by,
	created_at, started_at, completed_at`

// CreateJob relies on the jobs_one_active_per_connection index, so two
// instances racing on one connection cannot both succeed.
func (s *Store) CreateJob(ctx context.Context, job *ledger.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = ledger.JobPending
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, connection_id, tenant_id, kind, status, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		job.ID, job.ConnectionID, job.TenantID, string(job.Kind), string(job.Status), job.TriggeredBy,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", mapError(err))
	}
	job.CreatedAt = job.CreatedAt.UTC()
	return nil
}

func (s *Store) GetJob(ctx context.Context, tenantID, id string) (*ledger.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return job, nil
}

// UpdateJob locks the row, applies the shared transition rules and writes
// the result back.
func (s *Store) UpdateJob(ctx context.Context, tenantID, id string, upd ledger.JobUpdate) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
		if err != nil {
			return notFound(err, "job", id)
		}
		if err := ledger.ApplyJobUpdate(job, upd); err != nil {
			return err
		}

		details, err := marshalNullable(job.ErrorDetails)
		if err != nil {
			return fmt.Errorf("encode error details: %w", err)
		}
		var summary any
		if len(job.Summary) > 0 {
			summary = []byte(job.Summary)
		}

		_, err = tx.Exec(ctx, `
			UPDATE jobs
			SET status = $3, fetched = $4, processed = $5, imported = $6, skipped = $7, failed = $8,
			    error_message = $9, error_details = $10, summary = $11,
			    started_at = $12, completed_at = $13
			WHERE tenant_id = $1 AND id = $2`,
			tenantID, id, string(job.Status),
			job.Counts.Fetched, job.Counts.Processed, job.Counts.Imported, job.Counts.Skipped, job.Counts.Failed,
			job.ErrorMessage, details, summary,
			nullTime(job.StartedAt), nullTime(job.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("update job %s: %w", id, mapError(err))
		}
		return nil
	})
}

// ListJobs returns the connection's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, tenantID, connectionID string, limit int) ([]ledger.Job, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE tenant_id = $1 AND connection_id = $2
		ORDER BY seq DESC
		LIMIT $3`,
		tenantID, connectionID, lim)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []ledger.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*ledger.Job, error) {
	var (
		j                      ledger.Job
		kind, status           string
		details, summary       []byte
		startedAt, completedAt *time.Time
	)
	err := row.Scan(&j.ID, &j.ConnectionID, &j.TenantID, &kind, &status,
		&j.Counts.Fetched, &j.Counts.Processed, &j.Counts.Imported, &j.Counts.Skipped, &j.Counts.Failed,
		&j.ErrorMessage, &details, &summary, &j.TriggeredBy,
		&j.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	j.Kind = ledger.JobKind(kind)
	j.Status = ledger.JobStatus(status)
	j.CreatedAt = j.CreatedAt.UTC()
	if details != nil {
		if err := json.Unmarshal(details, &j.ErrorDetails); err != nil {
			return nil, fmt.Errorf("decode error details: %w", err)
		}
	}
	if summary != nil {
		j.Summary = json.RawMessage(summary)
	}
	if startedAt != nil {
		t := startedAt.UTC()
		j.StartedAt = &t
	}
	if completedAt != nil {
		t := completedAt.UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}

func marshalNullable[T any](v []T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
