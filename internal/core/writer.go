package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/metrics"
)

// DefaultBatchSize is the number of records sent to the store per call.
const DefaultBatchSize = 500

var (
	// ErrTenantMismatch is returned when a record is not stamped with the
	// tenant and connection of the write call. Nothing is written.
	ErrTenantMismatch = errors.New("record tenant or connection does not match write scope")

	errMissingExternalID = errors.New("record has no external id")
)

// BatchError reports a failed upsert batch. Batches before it are durable.
type BatchError struct {
	Batch     int // zero-based index of the failed batch
	Committed int // records written by earlier batches
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("write batch %d failed after %d records committed: %v", e.Batch, e.Committed, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Writer applies normalized records to the ledger store. Every call is
// scoped to one tenant and connection.
type Writer struct {
	store     ledger.LedgerStore
	batchSize int
}

// NewWriter creates a Writer. A non-positive batchSize uses DefaultBatchSize.
func NewWriter(store ledger.LedgerStore, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{store: store, batchSize: batchSize}
}

// UpsertTransactions inserts or updates txs keyed by external id.
// Duplicates inside txs collapse to the last occurrence.
func (w *Writer) UpsertTransactions(ctx context.Context, tenantID, connID string, txs []ledger.Transaction) (ledger.UpsertResult, error) {
	var total ledger.UpsertResult

	if err := checkTransactions(tenantID, connID, txs); err != nil {
		return total, err
	}
	txs = dedupeTransactions(txs)

	for i, batch := range chunk(txs, w.batchSize) {
		res, err := w.store.UpsertTransactions(ctx, tenantID, connID, batch)
		if err != nil {
			return total, &BatchError{Batch: i, Committed: total.Total(), Err: err}
		}
		total.Add(res)
	}

	recordWrites("transaction", total)
	return total, nil
}

// UpsertAccounts inserts or updates accounts keyed by external id and returns
// them with canonical IDs filled in.
func (w *Writer) UpsertAccounts(ctx context.Context, tenantID, connID string, accounts []ledger.Account) ([]ledger.Account, ledger.UpsertResult, error) {
	var total ledger.UpsertResult

	for _, a := range accounts {
		if a.TenantID != tenantID || a.ConnectionID != connID {
			return nil, total, fmt.Errorf("account %q: %w", a.ExternalID, ErrTenantMismatch)
		}
		if a.ExternalID == "" {
			return nil, total, fmt.Errorf("account: %w", errMissingExternalID)
		}
	}
	accounts = dedupeAccounts(accounts)

	for i, batch := range chunk(accounts, w.batchSize) {
		res, err := w.store.UpsertAccounts(ctx, tenantID, connID, batch)
		if err != nil {
			return nil, total, &BatchError{Batch: i, Committed: total.Total(), Err: err}
		}
		total.Add(res)
	}

	recordWrites("account", total)
	return accounts, total, nil
}

// DeleteTransactions removes transactions by external id. Unknown ids are
// ignored, so replaying a removal is harmless.
func (w *Writer) DeleteTransactions(ctx context.Context, tenantID, connID string, externalIDs []string) (int64, error) {
	seen := make(map[string]struct{}, len(externalIDs))
	ids := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var deleted int64
	for i, batch := range chunk(ids, w.batchSize) {
		n, err := w.store.DeleteTransactions(ctx, tenantID, connID, batch)
		if err != nil {
			return deleted, &BatchError{Batch: i, Committed: int(deleted), Err: err}
		}
		deleted += n
	}

	metrics.RecordsWritten.WithLabelValues("transaction", "delete").Add(float64(deleted))
	return deleted, nil
}

// DeleteTransactionsByConnection removes every transaction of a connection.
func (w *Writer) DeleteTransactionsByConnection(ctx context.Context, tenantID, connID string) (int64, error) {
	n, err := w.store.DeleteTransactionsByConnection(ctx, tenantID, connID)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues("transaction", "delete").Add(float64(n))
	return n, nil
}

// ReplaceTransactions atomically swaps the connection's transactions for txs.
// On error the previous data is left untouched.
func (w *Writer) ReplaceTransactions(ctx context.Context, tenantID, connID string, txs []ledger.Transaction) (int64, ledger.UpsertResult, error) {
	if err := checkTransactions(tenantID, connID, txs); err != nil {
		return 0, ledger.UpsertResult{}, err
	}
	txs = dedupeTransactions(txs)

	deleted, res, err := w.store.ReplaceTransactions(ctx, tenantID, connID, txs)
	if err != nil {
		return 0, ledger.UpsertResult{}, &BatchError{Batch: 0, Committed: 0, Err: err}
	}

	metrics.RecordsWritten.WithLabelValues("transaction", "delete").Add(float64(deleted))
	recordWrites("transaction", res)
	return deleted, res, nil
}

func checkTransactions(tenantID, connID string, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if tx.TenantID != tenantID || tx.ConnectionID != connID {
			return fmt.Errorf("transaction %q: %w", tx.ExternalID, ErrTenantMismatch)
		}
		if tx.ExternalID == "" {
			return fmt.Errorf("transaction: %w", errMissingExternalID)
		}
	}
	return nil
}

// dedupeTransactions keeps the position of the first occurrence and the
// value of the last.
func dedupeTransactions(txs []ledger.Transaction) []ledger.Transaction {
	index := make(map[string]int, len(txs))
	out := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		if i, ok := index[tx.ExternalID]; ok {
			out[i] = tx
			continue
		}
		index[tx.ExternalID] = len(out)
		out = append(out, tx)
	}
	return out
}

func dedupeAccounts(accounts []ledger.Account) []ledger.Account {
	index := make(map[string]int, len(accounts))
	out := make([]ledger.Account, 0, len(accounts))
	for _, a := range accounts {
		if i, ok := index[a.ExternalID]; ok {
			out[i] = a
			continue
		}
		index[a.ExternalID] = len(out)
		out = append(out, a)
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func recordWrites(kind string, res ledger.UpsertResult) {
	metrics.RecordsWritten.WithLabelValues(kind, "insert").Add(float64(res.Inserted))
	metrics.RecordsWritten.WithLabelValues(kind, "update").Add(float64(res.Updated))
}
