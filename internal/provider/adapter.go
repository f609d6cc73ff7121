// Package provider defines the contract every account-aggregation provider
// implements, plus the concrete adapters and the registry the sync
// orchestrator looks them up in.
//
// Adapters own everything provider specific: wire formats, authentication,
// retry and circuit breaking. The orchestrator only sees normalized pages that
// either arrived or did not.
package provider

import (
	"context"
	"errors"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
)

var (
	// ErrInvalidCredentials is fatal for a sync run: retrying cannot help.
	ErrInvalidCredentials = errors.New("provider rejected credentials")

	// ErrUnavailable is a transient failure that survived the adapter's
	// own retries, or the circuit breaker is open.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrUnknownProvider is returned by the registry for unregistered names.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Credentials are what an adapter needs to call the provider for one
// connection. They are resolved per run and never stored with the job.
type Credentials struct {
	Ref   string
	Token string
}

// Transaction is a normalized provider transaction. AccountExternalID is the
// provider's account id; the orchestrator resolves it to a canonical account.
type Transaction struct {
	ledger.Transaction
	AccountExternalID string
}

// AccountsPage is a normalized account listing plus the untouched response.
type AccountsPage struct {
	Accounts []ledger.Account
	Raw      []byte
}

// DeltaPage is one page of changes after a cursor. Removed holds provider
// transaction ids. Raw is the untouched response for snapshotting.
type DeltaPage struct {
	Added      []Transaction
	Modified   []Transaction
	Removed    []string
	NextCursor string
	HasMore    bool
	Raw        []byte
}

// Adapter is implemented once per provider.
//
// FetchTransactionDeltas must be deterministic for a given cursor: asking
// again with the same cursor returns the same changes, so a page replayed
// after a crash is harmless. An empty cursor means a full initial sync.
type Adapter interface {
	Name() string
	FetchAccounts(ctx context.Context, creds Credentials) (*AccountsPage, error)
	FetchTransactionDeltas(ctx context.Context, creds Credentials, cursor string) (*DeltaPage, error)
}
