package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgersync/internal/csvimport"
	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/metrics"
)

// FileImportRequest is an upload of delimited content with a confirmed
// column mapping.
type FileImportRequest struct {
	Content        string               `json:"content" validate:"required"`
	ColumnMapping  ledger.ColumnMapping `json:"columnMapping" validate:"required,min=1"`
	Config         ledger.FormatConfig  `json:"config"`
	ConnectionName string               `json:"connectionName" validate:"required,max=200"`
	AccountID      string               `json:"accountId" validate:"required"`
	TenantID       string               `json:"tenantId" validate:"required"`
	ImportMode     ledger.ImportMode    `json:"importMode" validate:"omitempty,oneof=append override"`
	UserID         string               `json:"userId" validate:"required"`
}

// ConnectionRef identifies a connection in results.
type ConnectionRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JobRef identifies a job and its terminal status in results.
type JobRef struct {
	ID     string           `json:"id"`
	Status ledger.JobStatus `json:"status"`
}

// ImportSummary is the file import report returned to callers.
type ImportSummary struct {
	TotalRows int      `json:"totalRows"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
}

// FileImportResult describes the terminal job of an import. Success is false
// when the job failed; Error and Details then explain why.
type FileImportResult struct {
	Success    bool           `json:"success"`
	Connection *ConnectionRef `json:"connection,omitempty"`
	Job        *JobRef        `json:"job,omitempty"`
	Summary    *ImportSummary `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    []string       `json:"details,omitempty"`
}

// importSummary is stored as the job summary blob.
type importSummary struct {
	Mode       ledger.ImportMode    `json:"mode"`
	Parse      csvimport.Summary    `json:"parse"`
	Delimiter  string               `json:"delimiter,omitempty"`
	DateLayout string               `json:"dateLayout,omitempty"`
	Inserted   int                  `json:"inserted"`
	Updated    int                  `json:"updated"`
	Replaced   int64                `json:"replaced,omitempty"`
	Errors     []csvimport.RowIssue `json:"errors"`
	Warnings   []csvimport.RowIssue `json:"warnings"`
}

// ImportFile runs a file import as one job. An error is returned only when
// the request is rejected before a job exists (validation, size, busy
// connection); every job outcome, failed or not, is reported in the result.
func (s *Service) ImportFile(ctx context.Context, req FileImportRequest) (*FileImportResult, error) {
	if err := s.validateRequest(req); err != nil {
		metrics.JobsRejected.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if int64(len(req.Content)) > s.cfg.MaxFileSize {
		metrics.JobsRejected.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w (%d bytes)", csvimport.ErrFileTooLarge, s.cfg.MaxFileSize)
	}

	ctx = ContextWithActor(ctx, req.UserID)
	conn, err := s.fileConnection(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.ImportMode
	if mode == "" {
		mode = conn.ImportMode
	}
	if !mode.Valid() {
		mode = ledger.ImportAppend
	}

	if err := s.acquire(conn); err != nil {
		return nil, err
	}
	defer s.guard.Release(conn.ID)

	job, err := s.beginJob(ctx, conn, ledger.JobManual, req.UserID)
	if err != nil {
		return nil, err
	}

	var parsed *csvimport.Result
	out := s.runJob(ctx, job, func(ctx context.Context) jobOutcome {
		var o jobOutcome
		parsed, o = s.importContent(ctx, conn, job, req, mode)
		return o
	})
	s.finishJob(ctx, conn, job, out)

	return fileResult(conn, job, parsed, out), nil
}

// fileConnection finds the tenant's file connection by name or creates it.
func (s *Service) fileConnection(ctx context.Context, req FileImportRequest) (*ledger.Connection, error) {
	conn, err := s.store.FindConnectionByName(ctx, req.TenantID, req.ConnectionName)
	if err == nil {
		if !conn.Source.IsFile() {
			return nil, fmt.Errorf("%w: connection %q is a %s connection", ErrInvalidRequest, conn.Name, conn.Source)
		}
		return conn, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("find connection: %w", err)
	}

	mode := req.ImportMode
	if mode == "" {
		mode = ledger.ImportAppend
	}
	conn = &ledger.Connection{
		TenantID: req.TenantID,
		Name:     req.ConnectionName,
		Source:   ledger.SourceFile,
		Config: ledger.ConnectionConfig{
			ColumnMapping: req.ColumnMapping,
			Format:        req.Config,
			AccountID:     req.AccountID,
		},
		ImportMode: mode,
		Status:     ledger.ConnectionActive,
		CreatedBy:  req.UserID,
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		if errors.Is(err, ledger.ErrDuplicateConnection) {
			// Created concurrently by another request.
			return s.store.FindConnectionByName(ctx, req.TenantID, req.ConnectionName)
		}
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if err := s.audit.ConnectionCreated(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// importContent is the body of a file import job.
func (s *Service) importContent(ctx context.Context, conn *ledger.Connection, job *ledger.Job, req FileImportRequest, mode ledger.ImportMode) (*csvimport.Result, jobOutcome) {
	content := []byte(req.Content)

	if _, err := s.raw.save(ctx, job, ledger.RawFile, 0, "text/csv", content); err != nil {
		return nil, failed(err, ledger.JobCounts{}, nil, nil)
	}

	res, err := csvimport.Parse(content, req.ColumnMapping, req.Config)
	metrics.RowsParsed.WithLabelValues("valid").Add(float64(res.Summary.ValidRows))
	metrics.RowsParsed.WithLabelValues("invalid").Add(float64(res.Summary.InvalidRows))

	counts := ledger.JobCounts{
		Fetched:   res.Summary.TotalRows,
		Processed: res.Summary.TotalRows,
		Skipped:   res.Summary.InvalidRows,
	}
	summary := &importSummary{
		Mode:       mode,
		Parse:      res.Summary,
		Delimiter:  res.Delimiter,
		DateLayout: res.DateLayout,
		Errors:     res.Errors,
		Warnings:   res.Warnings,
	}
	if err != nil {
		return res, failed(err, counts, res.Details(), summary)
	}

	records := make([]ledger.Transaction, len(res.Records))
	for i, tx := range res.Records {
		tx.TenantID = conn.TenantID
		tx.ConnectionID = conn.ID
		tx.AccountID = req.AccountID
		tx.JobID = job.ID
		records[i] = tx
	}

	var written ledger.UpsertResult
	if mode == ledger.ImportOverride {
		summary.Replaced, written, err = s.writer.ReplaceTransactions(ctx, conn.TenantID, conn.ID, records)
	} else {
		written, err = s.writer.UpsertTransactions(ctx, conn.TenantID, conn.ID, records)
	}
	summary.Inserted = written.Inserted
	summary.Updated = written.Updated
	counts.Imported = written.Total()

	if err != nil {
		var batch *BatchError
		if errors.As(err, &batch) {
			counts.Imported = batch.Committed
		}
		counts.Failed = res.Summary.ValidRows - counts.Imported
		return res, failed(err, counts, res.Details(), summary)
	}
	return res, completed(counts, summary)
}

func fileResult(conn *ledger.Connection, job *ledger.Job, parsed *csvimport.Result, out jobOutcome) *FileImportResult {
	result := &FileImportResult{
		Success:    job.Status == ledger.JobCompleted,
		Connection: &ConnectionRef{ID: conn.ID, Name: conn.Name},
		Job:        &JobRef{ID: job.ID, Status: job.Status},
		Summary: &ImportSummary{
			TotalRows: job.Counts.Fetched,
			Imported:  job.Counts.Imported,
			Skipped:   job.Counts.Skipped,
			Errors:    []string{},
			Warnings:  []string{},
		},
	}
	if parsed != nil {
		for _, e := range parsed.Errors {
			result.Summary.Errors = append(result.Summary.Errors, e.String())
		}
		for _, w := range parsed.Warnings {
			result.Summary.Warnings = append(result.Summary.Warnings, w.String())
		}
	}
	if out.err != nil {
		result.Error = out.err.Error()
		result.Details = out.details
	}
	return result
}
