package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/logging"
	"github.com/JonMunkholm/ledgersync/internal/metrics"
	"github.com/JonMunkholm/ledgersync/internal/provider"
)

// SyncOptions bounds a single sync run. Zero values mean unlimited.
type SyncOptions struct {
	MaxPages   int
	TimeBudget time.Duration
}

// SyncReport aggregates the effects of one sync run. It is stored as the
// job summary.
type SyncReport struct {
	AccountsSynced int      `json:"accountsSynced"`
	Added          int      `json:"added"`
	Modified       int      `json:"modified"`
	Removed        int      `json:"removed"`
	Pages          int      `json:"pages"`
	ElapsedMs      int64    `json:"elapsedMs"`
	StartCursor    string   `json:"startCursor,omitempty"`
	EndCursor      string   `json:"endCursor,omitempty"`
	PageErrors     []string `json:"pageErrors,omitempty"`
	Partial        bool     `json:"partial,omitempty"`
	Note           string   `json:"note,omitempty"`

	fetched  int
	imported int
}

// Counts converts the report into job counts. Records of a page that failed
// after being fetched are counted as failed.
func (r *SyncReport) Counts() ledger.JobCounts {
	processed := r.Added + r.Modified + r.Removed
	return ledger.JobCounts{
		Fetched:   r.fetched,
		Processed: processed,
		Imported:  r.imported,
		Failed:    r.fetched - processed,
	}
}

// Syncer runs the incremental provider loop for one connection.
type Syncer struct {
	cursors  ledger.CursorStore
	accounts ledger.LedgerStore
	writer   *Writer
	raw      *rawRecorder
	opts     SyncOptions
	now      func() time.Time
}

// newSyncer creates a Syncer. Raw snapshots go through rec.
func newSyncer(store ledger.Store, writer *Writer, rec *rawRecorder, opts SyncOptions) *Syncer {
	return &Syncer{
		cursors:  store,
		accounts: store,
		writer:   writer,
		raw:      rec,
		opts:     opts,
		now:      time.Now,
	}
}

// Run syncs conn through adapter for job. A non-nil error means the job must
// fail: invalid credentials, or no page could be committed. Page errors after
// at least one committed page are reported in the SyncReport instead.
func (s *Syncer) Run(ctx context.Context, conn *ledger.Connection, job *ledger.Job, adapter provider.Adapter, creds provider.Credentials) (*SyncReport, error) {
	log := logging.ForJob(ctx, job).With("provider", adapter.Name())
	start := s.now()
	report := &SyncReport{}
	defer func() { report.ElapsedMs = s.now().Sub(start).Milliseconds() }()

	cursor, _, err := s.cursors.GetCursor(ctx, conn.TenantID, conn.ID)
	if err != nil {
		return report, fmt.Errorf("load cursor: %w", err)
	}
	report.StartCursor = cursor
	report.EndCursor = cursor
	if cursor == "" {
		log.Info("no cursor stored, running initial sync")
	}

	accountIDs, err := s.syncAccounts(ctx, conn, job, adapter, creds, report)
	if err != nil {
		return report, err
	}

	for seq := 1; ; seq++ {
		prev := cursor
		page, err := adapter.FetchTransactionDeltas(ctx, creds, cursor)
		if err != nil {
			if errors.Is(err, provider.ErrInvalidCredentials) {
				return report, err
			}
			s.pageFailed(log, adapter, report, seq, err)
			break
		}
		report.fetched += len(page.Added) + len(page.Modified) + len(page.Removed)

		if err := s.applyPage(ctx, conn, job, page, seq, accountIDs, report); err != nil {
			s.pageFailed(log, adapter, report, seq, err)
			break
		}

		if page.NextCursor != "" && page.NextCursor != cursor {
			if err := s.cursors.SaveCursor(ctx, conn.TenantID, conn.ID, page.NextCursor); err != nil {
				s.pageFailed(log, adapter, report, seq, fmt.Errorf("save cursor: %w", err))
				break
			}
			cursor = page.NextCursor
			report.EndCursor = cursor
		}
		report.Pages++
		metrics.SyncPages.WithLabelValues(adapter.Name(), "ok").Inc()
		log.Debug("page committed", "page", seq, "added", len(page.Added),
			"modified", len(page.Modified), "removed", len(page.Removed), "cursor", cursor)

		if !page.HasMore {
			break
		}
		if page.NextCursor == "" || page.NextCursor == prev {
			s.pageFailed(log, adapter, report, seq+1, errors.New("provider reported more pages without advancing the cursor"))
			break
		}
		if s.opts.MaxPages > 0 && report.Pages >= s.opts.MaxPages {
			report.Partial = true
			report.Note = fmt.Sprintf("stopped after %d pages; remaining pages resume from the saved cursor", report.Pages)
			break
		}
		if s.opts.TimeBudget > 0 && s.now().Sub(start) >= s.opts.TimeBudget {
			report.Partial = true
			report.Note = fmt.Sprintf("time budget of %s exhausted; remaining pages resume from the saved cursor", s.opts.TimeBudget)
			break
		}
	}

	if report.Pages == 0 && len(report.PageErrors) > 0 {
		return report, fmt.Errorf("sync made no progress: %s", report.PageErrors[0])
	}
	return report, nil
}

// syncAccounts upserts provider accounts when the connection asks for it and
// returns the external to canonical account id map.
func (s *Syncer) syncAccounts(ctx context.Context, conn *ledger.Connection, job *ledger.Job, adapter provider.Adapter, creds provider.Credentials, report *SyncReport) (map[string]string, error) {
	ids := make(map[string]string)

	if conn.Config.SyncAccounts {
		page, err := adapter.FetchAccounts(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("fetch accounts: %w", err)
		}
		if len(page.Raw) > 0 {
			if _, err := s.raw.save(ctx, job, ledger.RawProviderAccounts, 0, "application/json", page.Raw); err != nil {
				return nil, err
			}
		}

		accounts := make([]ledger.Account, len(page.Accounts))
		for i, a := range page.Accounts {
			a.TenantID = conn.TenantID
			a.ConnectionID = conn.ID
			accounts[i] = a
		}
		stored, res, err := s.writer.UpsertAccounts(ctx, conn.TenantID, conn.ID, accounts)
		if err != nil {
			return nil, fmt.Errorf("upsert accounts: %w", err)
		}
		report.AccountsSynced = res.Total()
		for _, a := range stored {
			ids[a.ExternalID] = a.ID
		}
		return ids, nil
	}

	existing, err := s.accounts.ListAccounts(ctx, conn.TenantID, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range existing {
		ids[a.ExternalID] = a.ID
	}
	return ids, nil
}

// applyPage snapshots and writes one delta page. The cursor is not touched.
func (s *Syncer) applyPage(ctx context.Context, conn *ledger.Connection, job *ledger.Job, page *provider.DeltaPage, seq int, accountIDs map[string]string, report *SyncReport) error {
	if len(page.Raw) > 0 {
		if _, err := s.raw.save(ctx, job, ledger.RawProviderPage, seq, "application/json", page.Raw); err != nil {
			return err
		}
	}

	txs := make([]ledger.Transaction, 0, len(page.Added)+len(page.Modified))
	for _, group := range [][]provider.Transaction{page.Added, page.Modified} {
		for _, ptx := range group {
			txs = append(txs, s.normalize(conn, job, ptx, accountIDs))
		}
	}

	res, err := s.writer.UpsertTransactions(ctx, conn.TenantID, conn.ID, txs)
	if err != nil {
		return fmt.Errorf("upsert page %d: %w", seq, err)
	}
	if _, err := s.writer.DeleteTransactions(ctx, conn.TenantID, conn.ID, page.Removed); err != nil {
		return fmt.Errorf("delete removed on page %d: %w", seq, err)
	}

	report.Added += len(page.Added)
	report.Modified += len(page.Modified)
	report.Removed += len(page.Removed)
	report.imported += res.Total()
	return nil
}

func (s *Syncer) normalize(conn *ledger.Connection, job *ledger.Job, ptx provider.Transaction, accountIDs map[string]string) ledger.Transaction {
	tx := ptx.Transaction
	tx.TenantID = conn.TenantID
	tx.ConnectionID = conn.ID
	tx.JobID = job.ID
	tx.Source = conn.Source

	if id, ok := accountIDs[ptx.AccountExternalID]; ok {
		tx.AccountID = id
	} else {
		tx.AccountID = conn.Config.AccountID
	}
	if ptx.AccountExternalID != "" {
		meta := make(map[string]any, len(tx.Metadata)+1)
		for k, v := range tx.Metadata {
			meta[k] = v
		}
		meta["account_external_id"] = ptx.AccountExternalID
		tx.Metadata = meta
	}
	return tx
}

func (s *Syncer) pageFailed(log *slog.Logger, adapter provider.Adapter, report *SyncReport, seq int, err error) {
	report.PageErrors = append(report.PageErrors, fmt.Sprintf("page %d: %v", seq, err))
	if report.Pages > 0 {
		report.Partial = true
		report.Note = fmt.Sprintf("stopped at page %d after an error; remaining pages resume from the saved cursor", seq)
	}
	metrics.SyncPages.WithLabelValues(adapter.Name(), "error").Inc()
	log.Warn("sync page failed, stopping at last committed cursor", "page", seq, "error", err)
}
