package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
)

// DefaultListLimit caps list queries when the caller gives no limit.
const DefaultListLimit = 50

// MaxListLimit is the largest page a caller may request.
const MaxListLimit = 500

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// GetConnection returns a tenant's connection.
func (s *Service) GetConnection(ctx context.Context, tenantID, id string) (*ledger.Connection, error) {
	conn, err := s.store.GetConnection(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return conn, nil
}

// GetJob returns a tenant's job.
func (s *Service) GetJob(ctx context.Context, tenantID, id string) (*ledger.Job, error) {
	job, err := s.store.GetJob(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the job history of a connection, newest first.
func (s *Service) ListJobs(ctx context.Context, tenantID, connID string, limit int) ([]ledger.Job, error) {
	if _, err := s.GetConnection(ctx, tenantID, connID); err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobs(ctx, tenantID, connID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListTransactions returns the canonical transactions of a connection.
func (s *Service) ListTransactions(ctx context.Context, tenantID, connID string) ([]ledger.Transaction, error) {
	if _, err := s.GetConnection(ctx, tenantID, connID); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, tenantID, connID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// ListAccounts returns the canonical accounts of a connection.
func (s *Service) ListAccounts(ctx context.Context, tenantID, connID string) ([]ledger.Account, error) {
	if _, err := s.GetConnection(ctx, tenantID, connID); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, tenantID, connID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ListRawData returns the raw snapshots of a job, without inline content.
func (s *Service) ListRawData(ctx context.Context, tenantID, jobID string) ([]ledger.RawData, error) {
	if _, err := s.GetJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	raws, err := s.store.ListRawData(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("list raw data: %w", err)
	}
	return raws, nil
}

// GetRawContent returns one snapshot of a job with its verified content,
// fetched from the archive when it was not kept inline.
func (s *Service) GetRawContent(ctx context.Context, tenantID, jobID, rawID string) (*ledger.RawData, []byte, error) {
	raws, err := s.ListRawData(ctx, tenantID, jobID)
	if err != nil {
		return nil, nil, err
	}
	for i := range raws {
		if raws[i].ID != rawID {
			continue
		}
		content, err := s.raw.load(ctx, &raws[i])
		if err != nil {
			return nil, nil, err
		}
		return &raws[i], content, nil
	}
	return nil, nil, fmt.Errorf("raw data %s: %w", rawID, ledger.ErrNotFound)
}

// ListAudit returns audit entries matching f. TenantID is required.
func (s *Service) ListAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	f.Limit = clampLimit(f.Limit)
	entries, err := s.store.ListAudit(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}
