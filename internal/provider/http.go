package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// maxResponseSize bounds how much of a provider response is read.
const maxResponseSize = 16 << 20

// errRejected marks a 4xx other than an auth failure. The provider is up, so
// it does not trip the breaker, and retrying the same request is pointless.
var errRejected = errors.New("provider rejected request")

// HTTPAdapter talks to an aggregation API that exposes a cursor based
// transactions/sync endpoint and an accounts endpoint, both taking a JSON
// POST body and a bearer token.
type HTTPAdapter struct {
	name     string
	settings HTTPSettings
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time
}

// NewHTTPAdapter builds an adapter. A nil client gets one with the
// configured timeout.
func NewHTTPAdapter(name string, settings HTTPSettings, client *http.Client) *HTTPAdapter {
	settings = settings.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: settings.Timeout}
	}

	trip := settings.Breaker.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider-" + name,
		MaxRequests: 1,
		Timeout:     settings.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, errRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("provider circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &HTTPAdapter{
		name:     name,
		settings: settings,
		client:   client,
		breaker:  breaker,
		now:      time.Now,
	}
}

// Name implements Adapter.
func (a *HTTPAdapter) Name() string { return a.name }

// FetchAccounts implements Adapter.
func (a *HTTPAdapter) FetchAccounts(ctx context.Context, creds Credentials) (*AccountsPage, error) {
	raw, err := a.call(ctx, creds, a.settings.AccountsPath, map[string]any{})
	if err != nil {
		return nil, err
	}

	var resp wireAccounts
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode accounts: %w", a.name, err)
	}

	asOf := a.now().UTC()
	accounts := make([]ledger.Account, 0, len(resp.Accounts))
	for _, w := range resp.Accounts {
		acct, err := a.normalizeAccount(w, asOf)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return &AccountsPage{Accounts: accounts, Raw: raw}, nil
}

// FetchTransactionDeltas implements Adapter.
func (a *HTTPAdapter) FetchTransactionDeltas(ctx context.Context, creds Credentials, cursor string) (*DeltaPage, error) {
	body := map[string]any{"count": a.settings.PageSize}
	if cursor != "" {
		body["cursor"] = cursor
	}

	raw, err := a.call(ctx, creds, a.settings.DeltasPath, body)
	if err != nil {
		return nil, err
	}

	var resp wireDeltas
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode deltas: %w", a.name, err)
	}

	page := &DeltaPage{
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
		Raw:        raw,
	}
	if page.Added, err = a.normalizeTransactions(resp.Added); err != nil {
		return nil, err
	}
	if page.Modified, err = a.normalizeTransactions(resp.Modified); err != nil {
		return nil, err
	}
	for _, r := range resp.Removed {
		if r.TransactionID == "" {
			return nil, fmt.Errorf("%s: removed entry without transaction_id", a.name)
		}
		page.Removed = append(page.Removed, r.TransactionID)
	}
	if page.HasMore && page.NextCursor == "" {
		return nil, fmt.Errorf("%s: has_more without next_cursor", a.name)
	}
	return page, nil
}

// call posts body to path with retry and circuit breaking.
func (a *HTTPAdapter) call(ctx context.Context, creds Credentials, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var raw []byte
	op := func() error {
		out, err := a.breaker.Execute(func() (interface{}, error) {
			return a.do(ctx, creds, path, payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %s circuit open", ErrUnavailable, a.name))
			}
			return err
		}
		raw = out.([]byte)
		return nil
	}

	r := a.settings.Retry
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.InitialInterval
	exp.MaxInterval = r.MaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.MaxAttempts-1)), ctx)

	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		slog.Debug("provider request retry",
			"provider", a.name,
			"path", path,
			"wait", wait,
			"error", err,
		)
	})
	switch {
	case err == nil:
		return raw, nil
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnavailable), errors.Is(err, errRejected):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.name, err)
	}
}

// do performs one request. Errors that retrying cannot fix are wrapped in
// backoff.Permanent.
func (a *HTTPAdapter) do(ctx context.Context, creds Credentials, path string, payload []byte) ([]byte, error) {
	url := strings.TrimRight(a.settings.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return body, nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s returned %d", ErrInvalidCredentials, a.name, code))
	case code == http.StatusTooManyRequests || code >= 500:
		return nil, fmt.Errorf("%s returned %d", a.name, code)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s returned %d: %s", errRejected, a.name, code, snippet(body)))
	}
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// Wire shapes.

type wireAccounts struct {
	Accounts []wireAccount `json:"accounts"`
}

type wireAccount struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Balances  struct {
		Current  *decimal.Decimal `json:"current"`
		Currency string           `json:"iso_currency_code"`
	} `json:"balances"`
}

type wireTransaction struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Date          string          `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"iso_currency_code"`
	Name          string          `json:"name"`
	MerchantName  string          `json:"merchant_name"`
	Pending       bool            `json:"pending"`
	Category      []string        `json:"category"`
}

type wireDeltas struct {
	Added    []wireTransaction `json:"added"`
	Modified []wireTransaction `json:"modified"`
	Removed  []struct {
		TransactionID string `json:"transaction_id"`
	} `json:"removed"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func (a *HTTPAdapter) normalizeAccount(w wireAccount, asOf time.Time) (ledger.Account, error) {
	if w.AccountID == "" {
		return ledger.Account{}, fmt.Errorf("%s: account without account_id", a.name)
	}
	acct := ledger.Account{
		ExternalID: w.AccountID,
		Name:       w.Name,
		Type:       w.Type,
		Currency:   strings.ToUpper(w.Balances.Currency),
	}
	if w.Subtype != "" {
		acct.Type = w.Type + "/" + w.Subtype
	}
	if w.Balances.Current != nil {
		bal := *w.Balances.Current
		acct.Balance = &bal
		acct.BalanceAsOf = &asOf
	}
	return acct, nil
}

func (a *HTTPAdapter) normalizeTransactions(ws []wireTransaction) ([]Transaction, error) {
	out := make([]Transaction, 0, len(ws))
	for _, w := range ws {
		tx, err := a.normalizeTransaction(w)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// normalizeTransaction maps the provider's shape onto a canonical
// transaction. The provider reports outflows as positive amounts; the
// ledger stores them negative with type debit.
func (a *HTTPAdapter) normalizeTransaction(w wireTransaction) (Transaction, error) {
	if w.TransactionID == "" {
		return Transaction{}, fmt.Errorf("%s: transaction without transaction_id", a.name)
	}
	date, err := time.Parse("2006-01-02", w.Date)
	if err != nil {
		return Transaction{}, fmt.Errorf("%s: transaction %s: bad date %q", a.name, w.TransactionID, w.Date)
	}

	txType := ledger.Credit
	if w.Amount.IsPositive() {
		txType = ledger.Debit
	}
	desc := w.Name
	if desc == "" {
		desc = w.MerchantName
	}

	meta := map[string]any{"pending": w.Pending}
	if w.MerchantName != "" {
		meta["merchant"] = w.MerchantName
	}
	if len(w.Category) > 0 {
		meta["category"] = w.Category
	}

	return Transaction{
		AccountExternalID: w.AccountID,
		Transaction: ledger.Transaction{
			ExternalID:  w.TransactionID,
			Date:        date,
			Amount:      w.Amount.Neg(),
			Currency:    strings.ToUpper(w.Currency),
			Description: desc,
			Type:        txType,
			Source:      ledger.SourceKind(a.name),
			Metadata:    meta,
		},
	}, nil
}
