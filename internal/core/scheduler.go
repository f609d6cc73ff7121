package core

// scheduler.go runs provider syncs in the background.
//
// Every interval the scheduler lists active provider connections across all
// tenants and runs one scheduled SyncConnection for each, with at most
// Concurrency syncs in flight. Connections that are already busy (a manual
// sync, or another instance) are skipped until the next tick. Failures are
// logged and recorded on the job; they never stop the scheduler.

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// SchedulerConfig holds configuration for the sync scheduler.
type SchedulerConfig struct {
	Interval    time.Duration // How often to run (default: 15m)
	Concurrency int           // Parallel syncs (default: 4)
}

// Scheduler periodically syncs every active provider connection.
type Scheduler struct {
	svc *Service
	cfg SchedulerConfig
}

// RunStats summarizes one scheduler pass.
type RunStats struct {
	Connections int
	Completed   int
	Failed      int
	Skipped     int
}

// NewScheduler creates a Scheduler for svc.
func NewScheduler(svc *Service, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{svc: svc, cfg: cfg}
}

// Start runs a pass immediately, then every Interval, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("sync scheduler started",
		"interval", s.cfg.Interval.String(),
		"concurrency", s.cfg.Concurrency,
	)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce syncs every active provider connection once.
func (s *Scheduler) RunOnce(ctx context.Context) RunStats {
	start := time.Now()

	conns, err := s.svc.store.ListSyncableConnections(ctx)
	if err != nil {
		slog.Error("list syncable connections failed", "error", err)
		return RunStats{}
	}

	var completed, failed, skipped atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for _, conn := range conns {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			runCtx := ContextWithActor(ctx, SystemActor)
			res, err := s.svc.SyncConnection(runCtx, conn.TenantID, conn.ID, ledger.JobScheduled)
			switch {
			case errors.Is(err, ledger.ErrConnectionBusy):
				skipped.Add(1)
				slog.Debug("connection busy, skipping", "connection_id", conn.ID)
			case err != nil:
				failed.Add(1)
				slog.Error("scheduled sync rejected", "connection_id", conn.ID, "error", err)
			case res.Success:
				completed.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := RunStats{
		Connections: len(conns),
		Completed:   int(completed.Load()),
		Failed:      int(failed.Load()),
		Skipped:     int(skipped.Load()),
	}
	slog.Info("sync pass completed",
		"connections", stats.Connections,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats
}
