package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/google/uuid"
)

// SaveRawData inserts a snapshot. Rows are never updated; a repeated ID is
// a conflict.
func (s *Store) SaveRawData(ctx context.Context, raw *ledger.RawData) error {
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}
	var content []byte
	if raw.Location == "" {
		content = raw.Content
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO raw_data (id, job_id, connection_id, tenant_id, kind, sequence,
			content_type, checksum, size, content, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		raw.ID, raw.JobID, raw.ConnectionID, raw.TenantID, string(raw.Kind), raw.Sequence,
		raw.ContentType, raw.Checksum, raw.Size, content, raw.Location,
	).Scan(&raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("save raw data: %w", mapError(err))
	}
	raw.CreatedAt = raw.CreatedAt.UTC()
	return nil
}

func (s *Store) ListRawData(ctx context.Context, tenantID, jobID string) ([]ledger.RawData, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, connection_id, kind, sequence, content_type, checksum,
		       size, content, location, created_at
		FROM raw_data
		WHERE tenant_id = $1 AND job_id = $2
		ORDER BY kind, sequence`,
		tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("list raw data: %w", err)
	}
	defer rows.Close()

	var out []ledger.RawData
	for rows.Next() {
		var (
			r         ledger.RawData
			kind      string
			createdAt time.Time
		)
		err := rows.Scan(&r.ID, &r.JobID, &r.ConnectionID, &kind, &r.Sequence, &r.ContentType,
			&r.Checksum, &r.Size, &r.Content, &r.Location, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan raw data: %w", err)
		}
		r.TenantID = tenantID
		r.Kind = ledger.RawKind(kind)
		r.CreatedAt = createdAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
