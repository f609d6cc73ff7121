package core

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/logging"
	"github.com/JonMunkholm/ledgersync/internal/metrics"
)

// finalizeTimeout bounds the terminal job write and audit entry, which run
// even when the job context was cancelled.
const finalizeTimeout = 10 * time.Second

// jobOutcome is what a job body hands back to the controller.
type jobOutcome struct {
	status  ledger.JobStatus
	counts  ledger.JobCounts
	err     error
	details []string
	summary any
}

func completed(counts ledger.JobCounts, summary any) jobOutcome {
	return jobOutcome{status: ledger.JobCompleted, counts: counts, summary: summary}
}

func failed(err error, counts ledger.JobCounts, details []string, summary any) jobOutcome {
	return jobOutcome{status: ledger.JobFailed, counts: counts, err: err, details: details, summary: summary}
}

// acquire claims conn for a job in this process.
func (s *Service) acquire(conn *ledger.Connection) error {
	if !s.guard.TryAcquire(conn.ID) {
		metrics.JobsRejected.WithLabelValues("busy").Inc()
		return fmt.Errorf("connection %s: %w", conn.ID, ledger.ErrConnectionBusy)
	}
	return nil
}

// beginJob creates a pending job and moves it to running. If the store
// refuses the job (another process holds the connection), no job exists.
func (s *Service) beginJob(ctx context.Context, conn *ledger.Connection, kind ledger.JobKind, actor string) (*ledger.Job, error) {
	job := &ledger.Job{
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		Kind:         kind,
		Status:       ledger.JobPending,
		TriggeredBy:  actor,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		metrics.JobsRejected.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("create job: %w", err)
	}

	running := ledger.JobRunning
	started := s.now().UTC()
	upd := ledger.JobUpdate{Status: &running, StartedAt: &started}
	if err := s.store.UpdateJob(ctx, job.TenantID, job.ID, upd); err != nil {
		// Close the job so the connection is freed.
		s.finishJob(ctx, conn, job, failed(fmt.Errorf("start job: %w", err), ledger.JobCounts{}, nil, nil))
		return nil, fmt.Errorf("start job: %w", err)
	}
	if err := ledger.ApplyJobUpdate(job, upd); err != nil {
		return nil, err
	}

	logging.ForJob(ctx, job).Info("job started", "source", string(conn.Source))
	return job, nil
}

// runJob executes body and converts a panic into a failed outcome, so
// nothing escapes the controller.
func (s *Service) runJob(ctx context.Context, job *ledger.Job, body func(ctx context.Context) jobOutcome) (out jobOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.ForJob(ctx, job).Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			out = failed(fmt.Errorf("internal error: %v", r), out.counts, []string{fmt.Sprint(r)}, nil)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	return body(ctx)
}

// finishJob writes the terminal state of job and emits its audit entry.
// It runs on a context detached from cancellation so a cancelled request
// still leaves a terminal job behind.
func (s *Service) finishJob(ctx context.Context, conn *ledger.Connection, job *ledger.Job, out jobOutcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	log := logging.ForJob(ctx, job)

	status := out.status
	counts := out.counts
	completedAt := s.now().UTC()
	upd := ledger.JobUpdate{
		Status:       &status,
		Counts:       &counts,
		CompletedAt:  &completedAt,
		ErrorDetails: out.details,
	}
	if out.err != nil {
		msg := out.err.Error()
		upd.ErrorMessage = &msg
	}
	if out.summary != nil {
		if b, err := json.Marshal(out.summary); err == nil {
			upd.Summary = b
		} else {
			log.Warn("job summary not serializable", "error", err)
		}
	}

	if err := s.store.UpdateJob(ctx, job.TenantID, job.ID, upd); err != nil {
		log.Error("failed to record terminal job state", "status", status, "error", err)
	}
	if err := ledger.ApplyJobUpdate(job, upd); err != nil {
		log.Error("job state diverged", "error", err)
	}

	if err := s.audit.JobFinished(ctx, conn, job); err != nil {
		log.Error("failed to write audit entry", "error", err)
	}

	source := "file"
	if !conn.Source.IsFile() {
		source = "provider"
	}
	metrics.JobsFinished.WithLabelValues(source, string(status)).Inc()
	if job.StartedAt != nil {
		metrics.JobDuration.WithLabelValues(source).Observe(completedAt.Sub(*job.StartedAt).Seconds())
	}

	attrs := []any{"status", status, "fetched", counts.Fetched, "imported", counts.Imported,
		"skipped", counts.Skipped, "failed", counts.Failed}
	if out.err != nil {
		log.Warn("job failed", append(attrs, "error", out.err)...)
		return
	}
	log.Info("job completed", attrs...)
}
