package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/logging"
	"github.com/JonMunkholm/ledgersync/internal/provider"
)

// CreateConnectionRequest registers a provider connection.
type CreateConnectionRequest struct {
	TenantID       string `json:"tenantId" validate:"required"`
	Name           string `json:"name" validate:"required,max=200"`
	Provider       string `json:"provider" validate:"required"`
	CredentialsRef string `json:"credentialsRef" validate:"required"`
	AccountID      string `json:"accountId"`
	SyncAccounts   bool   `json:"syncAccounts"`
	UserID         string `json:"userId" validate:"required"`
}

// SyncResult describes the terminal job of a sync run. It mirrors
// FileImportResult with the sync report as summary.
type SyncResult struct {
	Success    bool           `json:"success"`
	Connection *ConnectionRef `json:"connection,omitempty"`
	Job        *JobRef        `json:"job,omitempty"`
	Summary    *SyncReport    `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    []string       `json:"details,omitempty"`
}

// CreateConnection validates and stores a new provider connection.
func (s *Service) CreateConnection(ctx context.Context, req CreateConnectionRequest) (*ledger.Connection, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if req.Provider == string(ledger.SourceFile) {
		return nil, fmt.Errorf("%w: file connections are created by importing a file", ErrInvalidRequest)
	}
	if !s.providers.Has(req.Provider) {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, req.Provider)
	}

	conn := &ledger.Connection{
		TenantID: req.TenantID,
		Name:     req.Name,
		Source:   ledger.SourceKind(req.Provider),
		Config: ledger.ConnectionConfig{
			AccountID:      req.AccountID,
			CredentialsRef: req.CredentialsRef,
			SyncAccounts:   req.SyncAccounts,
		},
		ImportMode: ledger.ImportAppend,
		Status:     ledger.ConnectionActive,
		CreatedBy:  req.UserID,
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	ctx = ContextWithActor(ctx, req.UserID)
	if err := s.audit.ConnectionCreated(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// SyncConnection runs one incremental sync of a provider connection as a
// job. Like ImportFile, an error means no job was created.
func (s *Service) SyncConnection(ctx context.Context, tenantID, connID string, kind ledger.JobKind) (*SyncResult, error) {
	conn, err := s.store.GetConnection(ctx, tenantID, connID)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if conn.Source.IsFile() {
		return nil, fmt.Errorf("%w: file connections cannot be synced", ErrInvalidRequest)
	}
	adapter, err := s.providers.Get(string(conn.Source))
	if err != nil {
		return nil, err
	}

	if err := s.acquire(conn); err != nil {
		return nil, err
	}
	defer s.guard.Release(conn.ID)

	actor := GetActorFromContext(ctx)
	job, err := s.beginJob(ctx, conn, kind, actor)
	if err != nil {
		return nil, err
	}

	var report *SyncReport
	out := s.runJob(ctx, job, func(ctx context.Context) jobOutcome {
		var o jobOutcome
		report, o = s.syncContent(ctx, conn, job, adapter)
		return o
	})
	s.finishJob(ctx, conn, job, out)

	return &SyncResult{
		Success:    job.Status == ledger.JobCompleted,
		Connection: &ConnectionRef{ID: conn.ID, Name: conn.Name},
		Job:        &JobRef{ID: job.ID, Status: job.Status},
		Summary:    report,
		Error:      job.ErrorMessage,
		Details:    job.ErrorDetails,
	}, nil
}

// syncContent is the body of a sync job.
func (s *Service) syncContent(ctx context.Context, conn *ledger.Connection, job *ledger.Job, adapter provider.Adapter) (*SyncReport, jobOutcome) {
	creds, err := s.creds.Resolve(ctx, conn.Config.CredentialsRef)
	if err != nil {
		s.markConnection(ctx, conn, err)
		return nil, failed(err, ledger.JobCounts{}, nil, nil)
	}

	report, err := s.syncer.Run(ctx, conn, job, adapter, creds)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidCredentials) {
			s.markConnection(ctx, conn, err)
		}
		return report, failed(err, report.Counts(), report.PageErrors, report)
	}

	if conn.Status == ledger.ConnectionError {
		s.markConnection(ctx, conn, nil)
	}
	return report, completed(report.Counts(), report)
}

// markConnection sets the connection to error with cause, or back to active
// when cause is nil. Failures are logged; the job outcome does not depend
// on them.
func (s *Service) markConnection(ctx context.Context, conn *ledger.Connection, cause error) {
	status := ledger.ConnectionActive
	msg := ""
	if cause != nil {
		status = ledger.ConnectionError
		msg = cause.Error()
	}

	upd := ledger.ConnectionUpdate{Status: &status, LastError: &msg}
	if err := s.store.UpdateConnection(context.WithoutCancel(ctx), conn.TenantID, conn.ID, upd); err != nil {
		logging.WithFields(ctx, "connection_id", conn.ID).Error("failed to update connection status", "error", err)
		return
	}
	conn.Status = status
	conn.LastError = msg
}
