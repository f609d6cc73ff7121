package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ----------------------------------------------------------------------------
// Cursors
// ----------------------------------------------------------------------------

func (s *Store) GetCursor(ctx context.Context, tenantID, connectionID string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM sync_cursors WHERE tenant_id = $1 AND connection_id = $2`,
		tenantID, connectionID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cursor: %w", err)
	}
	return value, true, nil
}

func (s *Store) SaveCursor(ctx context.Context, tenantID, connectionID, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (tenant_id, connection_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, connection_id) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()`,
		tenantID, connectionID, value)
	if err != nil {
		return fmt.Errorf("save cursor: %w", mapError(err))
	}
	return nil
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

func (s *Store) AppendAudit(ctx context.Context, entry *ledger.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var data []byte
	if entry.Data != nil {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("encode audit data: %w", err)
		}
		data = b
	}

	var createdAt any
	if !entry.CreatedAt.IsZero() {
		createdAt = entry.CreatedAt
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO audit_log (id, tenant_id, connection_id, job_id, event, data, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		RETURNING created_at`,
		entry.ID, entry.TenantID, entry.ConnectionID, entry.JobID, string(entry.Event),
		data, entry.Actor, createdAt,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", mapError(err))
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return nil
}

// ListAudit returns matching entries oldest first.
func (s *Store) ListAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query, args := auditQuery(f)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e         ledger.AuditEntry
			event     string
			data      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ConnectionID, &e.JobID, &event, &data, &e.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if data != nil {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("decode audit data: %w", err)
			}
		}
		e.Event = ledger.AuditEvent(event)
		e.CreatedAt = createdAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// auditQuery builds the filtered SELECT. Conditions are appended in a fixed
// order so the placeholder numbering is stable.
func auditQuery(f ledger.AuditFilter) (string, []any) {
	conds := []string{"tenant_id = $1"}
	args := []any{f.TenantID}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ConnectionID != "" {
		add("connection_id = $%d", f.ConnectionID)
	}
	if f.JobID != "" {
		add("job_id = $%d", f.JobID)
	}
	if f.Event != "" {
		add("event = $%d", string(f.Event))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, tenant_id, connection_id, job_id, event, data, actor, created_at FROM audit_log WHERE `)
	b.WriteString(strings.Join(conds, " AND "))
	b.WriteString(" ORDER BY seq")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
