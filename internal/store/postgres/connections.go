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

const connectionColumns = `id, tenant_id, name, source, config, import_mode, status,
	last_error, created_by, created_at, updated_at`

func (s *Store) CreateConnection(ctx context.Context, conn *ledger.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Status == "" {
		conn.Status = ledger.ConnectionActive
	}
	if conn.ImportMode == "" {
		conn.ImportMode = ledger.ImportAppend
	}
	cfg, err := json.Marshal(conn.Config)
	if err != nil {
		return fmt.Errorf("encode connection config: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO connections (id, tenant_id, name, source, config, import_mode, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		conn.ID, conn.TenantID, conn.Name, string(conn.Source), cfg,
		string(conn.ImportMode), string(conn.Status), conn.CreatedBy,
	).Scan(&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create connection %q: %w", conn.Name, mapError(err))
	}
	return nil
}

func (s *Store) GetConnection(ctx context.Context, tenantID, id string) (*ledger.Connection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, notFound(err, "connection", id)
	}
	return conn, nil
}

func (s *Store) FindConnectionByName(ctx context.Context, tenantID, name string) (*ledger.Connection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE tenant_id = $1 AND name = $2`,
		tenantID, name)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, notFound(err, "connection", fmt.Sprintf("%q", name))
	}
	return conn, nil
}

func (s *Store) UpdateConnection(ctx context.Context, tenantID, id string, upd ledger.ConnectionUpdate) error {
	var status, lastError *string
	if upd.Status != nil {
		v := string(*upd.Status)
		status = &v
	}
	if upd.LastError != nil {
		lastError = upd.LastError
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE connections
		SET status = COALESCE($3, status),
		    last_error = COALESCE($4, last_error),
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, status, lastError)
	if err != nil {
		return fmt.Errorf("update connection %s: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSyncableConnections(ctx context.Context) ([]ledger.Connection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+connectionColumns+`
		FROM connections
		WHERE source <> $1 AND status = $2
		ORDER BY tenant_id, name`,
		string(ledger.SourceFile), string(ledger.ConnectionActive))
	if err != nil {
		return nil, fmt.Errorf("list syncable connections: %w", err)
	}
	defer rows.Close()

	var out []ledger.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

func scanConnection(row pgx.Row) (*ledger.Connection, error) {
	var (
		c                    ledger.Connection
		source, mode, status string
		cfg                  []byte
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &source, &cfg, &mode, &status,
		&c.LastError, &c.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c.Config); err != nil {
			return nil, fmt.Errorf("decode connection config: %w", err)
		}
	}
	c.Source = ledger.SourceKind(source)
	c.ImportMode = ledger.ImportMode(mode)
	c.Status = ledger.ConnectionStatus(status)
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	return &c, nil
}
