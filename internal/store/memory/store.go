// Package memory is an in-memory ledger.Store. It backs tests and the
// STORE_DRIVER=memory mode; data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/google/uuid"
)

type scopeKey struct {
	tenant string
	conn   string
}

type txKey struct {
	scopeKey
	external string
}

type seqJob struct {
	seq int64
	job ledger.Job
}

type seqAudit struct {
	seq   int64
	entry ledger.AuditEntry
}

// Store keeps every record in maps guarded by one RWMutex. Records are
// copied on the way in and out so callers cannot mutate stored state.
type Store struct {
	mu  sync.RWMutex
	seq int64

	connections map[string]ledger.Connection
	jobs        map[string]seqJob
	raw         []ledger.RawData
	txs         map[txKey]ledger.Transaction
	accounts    map[txKey]ledger.Account
	cursors     map[scopeKey]ledger.Cursor
	audit       []seqAudit
}

var _ ledger.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		connections: make(map[string]ledger.Connection),
		jobs:        make(map[string]seqJob),
		txs:         make(map[txKey]ledger.Transaction),
		accounts:    make(map[txKey]ledger.Account),
		cursors:     make(map[scopeKey]ledger.Cursor),
	}
}

func now() time.Time { return time.Now().UTC() }

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

func (s *Store) CreateConnection(ctx context.Context, conn *ledger.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.connections {
		if c.TenantID == conn.TenantID && c.Name == conn.Name {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateConnection, conn.Name)
		}
	}

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if _, exists := s.connections[conn.ID]; exists {
		return fmt.Errorf("%w: connection %s", ledger.ErrConflict, conn.ID)
	}
	ts := now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = ts
	}
	conn.UpdatedAt = ts
	if conn.Status == "" {
		conn.Status = ledger.ConnectionActive
	}

	s.connections[conn.ID] = copyConnection(*conn)
	return nil
}

func (s *Store) GetConnection(ctx context.Context, tenantID, id string) (*ledger.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connections[id]
	if !ok || c.TenantID != tenantID {
		return nil, fmt.Errorf("connection %s: %w", id, ledger.ErrNotFound)
	}
	out := copyConnection(c)
	return &out, nil
}

func (s *Store) FindConnectionByName(ctx context.Context, tenantID, name string) (*ledger.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.connections {
		if c.TenantID == tenantID && c.Name == name {
			out := copyConnection(c)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("connection %q: %w", name, ledger.ErrNotFound)
}

func (s *Store) UpdateConnection(ctx context.Context, tenantID, id string, upd ledger.ConnectionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[id]
	if !ok || c.TenantID != tenantID {
		return fmt.Errorf("connection %s: %w", id, ledger.ErrNotFound)
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.LastError != nil {
		c.LastError = *upd.LastError
	}
	c.UpdatedAt = now()
	s.connections[id] = c
	return nil
}

func (s *Store) ListSyncableConnections(ctx context.Context) ([]ledger.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Connection
	for _, c := range s.connections {
		if c.Source.IsFile() || c.Status != ledger.ConnectionActive {
			continue
		}
		out = append(out, copyConnection(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, job *ledger.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.job.ConnectionID == job.ConnectionID && j.job.Status.Active() {
			return fmt.Errorf("%w: job %s", ledger.ErrConnectionBusy, j.job.ID)
		}
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s", ledger.ErrConflict, job.ID)
	}
	if job.Status == "" {
		job.Status = ledger.JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}

	s.jobs[job.ID] = seqJob{seq: s.next(), job: copyJob(*job)}
	return nil
}

func (s *Store) GetJob(ctx context.Context, tenantID, id string) (*ledger.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok || j.job.TenantID != tenantID {
		return nil, fmt.Errorf("job %s: %w", id, ledger.ErrNotFound)
	}
	out := copyJob(j.job)
	return &out, nil
}

func (s *Store) UpdateJob(ctx context.Context, tenantID, id string, upd ledger.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.job.TenantID != tenantID {
		return fmt.Errorf("job %s: %w", id, ledger.ErrNotFound)
	}
	job := copyJob(j.job)
	if err := ledger.ApplyJobUpdate(&job, upd); err != nil {
		return err
	}
	j.job = job
	s.jobs[id] = j
	return nil
}

// ListJobs returns the connection's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, tenantID, connectionID string, limit int) ([]ledger.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []seqJob
	for _, j := range s.jobs {
		if j.job.TenantID == tenantID && j.job.ConnectionID == connectionID {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].seq > matched[b].seq })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]ledger.Job, len(matched))
	for i, j := range matched {
		out[i] = copyJob(j.job)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Raw data
// ---------------------------------------------------------------------------

func (s *Store) SaveRawData(ctx context.Context, raw *ledger.RawData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}
	for _, r := range s.raw {
		if r.ID == raw.ID {
			return fmt.Errorf("%w: raw data %s is write-once", ledger.ErrConflict, raw.ID)
		}
	}
	if raw.CreatedAt.IsZero() {
		raw.CreatedAt = now()
	}
	cp := *raw
	cp.Content = append([]byte(nil), raw.Content...)
	s.raw = append(s.raw, cp)
	return nil
}

func (s *Store) ListRawData(ctx context.Context, tenantID, jobID string) ([]ledger.RawData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.RawData
	for _, r := range s.raw {
		if r.TenantID == tenantID && r.JobID == jobID {
			cp := r
			cp.Content = append([]byte(nil), r.Content...)
			out = append(out, cp)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func (s *Store) UpsertTransactions(ctx context.Context, tenantID, connectionID string, txs []ledger.Transaction) (ledger.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(tenantID, connectionID, txs), nil
}

func (s *Store) upsertLocked(tenantID, connectionID string, txs []ledger.Transaction) ledger.UpsertResult {
	var res ledger.UpsertResult
	for _, tx := range txs {
		k := txKey{scopeKey{tenantID, connectionID}, tx.ExternalID}
		if _, exists := s.txs[k]; exists {
			res.Updated++
		} else {
			res.Inserted++
		}
		tx.TenantID = tenantID
		tx.ConnectionID = connectionID
		s.txs[k] = copyTx(tx)
	}
	return res
}

func (s *Store) DeleteTransactions(ctx context.Context, tenantID, connectionID string, externalIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range externalIDs {
		k := txKey{scopeKey{tenantID, connectionID}, id}
		if _, ok := s.txs[k]; ok {
			delete(s.txs, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteTransactionsByConnection(ctx context.Context, tenantID, connectionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteScopeLocked(scopeKey{tenantID, connectionID}), nil
}

func (s *Store) deleteScopeLocked(scope scopeKey) int64 {
	var n int64
	for k := range s.txs {
		if k.scopeKey == scope {
			delete(s.txs, k)
			n++
		}
	}
	return n
}

func (s *Store) ReplaceTransactions(ctx context.Context, tenantID, connectionID string, txs []ledger.Transaction) (int64, ledger.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := s.deleteScopeLocked(scopeKey{tenantID, connectionID})
	return deleted, s.upsertLocked(tenantID, connectionID, txs), nil
}

// ListTransactions returns the connection's transactions ordered by date
// then external id.
func (s *Store) ListTransactions(ctx context.Context, tenantID, connectionID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := scopeKey{tenantID, connectionID}
	var out []ledger.Transaction
	for k, tx := range s.txs {
		if k.scopeKey == scope {
			out = append(out, copyTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

func (s *Store) UpsertAccounts(ctx context.Context, tenantID, connectionID string, accounts []ledger.Account) (ledger.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ledger.UpsertResult
	for i := range accounts {
		a := accounts[i]
		k := txKey{scopeKey{tenantID, connectionID}, a.ExternalID}
		if existing, ok := s.accounts[k]; ok {
			a.ID = existing.ID
			res.Updated++
		} else {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			res.Inserted++
		}
		a.TenantID = tenantID
		a.ConnectionID = connectionID
		s.accounts[k] = a
		accounts[i].ID = a.ID
	}
	return res, nil
}

func (s *Store) ListAccounts(ctx context.Context, tenantID, connectionID string) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := scopeKey{tenantID, connectionID}
	var out []ledger.Account
	for k, a := range s.accounts {
		if k.scopeKey == scope {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Cursors
// ---------------------------------------------------------------------------

func (s *Store) GetCursor(ctx context.Context, tenantID, connectionID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[scopeKey{tenantID, connectionID}]
	return c.Value, ok, nil
}

func (s *Store) SaveCursor(ctx context.Context, tenantID, connectionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[scopeKey{tenantID, connectionID}] = ledger.Cursor{
		TenantID:     tenantID,
		ConnectionID: connectionID,
		Value:        value,
		UpdatedAt:    now(),
	}
	return nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func (s *Store) AppendAudit(ctx context.Context, entry *ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	cp := *entry
	cp.Data = copyMap(entry.Data)
	s.audit = append(s.audit, seqAudit{seq: s.next(), entry: cp})
	return nil
}

// ListAudit returns matching entries oldest first.
func (s *Store) ListAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.AuditEntry
	skipped := 0
	for _, a := range s.audit {
		e := a.entry
		if e.TenantID != f.TenantID ||
			(f.ConnectionID != "" && e.ConnectionID != f.ConnectionID) ||
			(f.JobID != "" && e.JobID != f.JobID) ||
			(f.Event != "" && e.Event != f.Event) ||
			(!f.Since.IsZero() && e.CreatedAt.Before(f.Since)) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		cp := e
		cp.Data = copyMap(e.Data)
		out = append(out, cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Copies
// ---------------------------------------------------------------------------

func copyConnection(c ledger.Connection) ledger.Connection {
	if c.Config.ColumnMapping != nil {
		m := make(ledger.ColumnMapping, len(c.Config.ColumnMapping))
		for k, v := range c.Config.ColumnMapping {
			m[k] = v
		}
		c.Config.ColumnMapping = m
	}
	return c
}

func copyJob(j ledger.Job) ledger.Job {
	if j.ErrorDetails != nil {
		j.ErrorDetails = append([]string(nil), j.ErrorDetails...)
	}
	if j.Summary != nil {
		j.Summary = append([]byte(nil), j.Summary...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

func copyTx(tx ledger.Transaction) ledger.Transaction {
	tx.Metadata = copyMap(tx.Metadata)
	return tx
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
