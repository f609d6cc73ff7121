package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/shopspring/decimal"
)

// SandboxSettings shapes the synthetic data a Sandbox serves.
type SandboxSettings struct {
	Accounts int    `yaml:"accounts"`
	Pages    int    `yaml:"pages"`
	PerPage  int    `yaml:"perPage"`
	Currency string `yaml:"currency"`

	// Token, when set, is the only credential accepted.
	Token string `yaml:"token"`

	// FailPages lists page numbers (0-based) that always fail as unavailable.
	FailPages []int `yaml:"failPages"`
}

// Sandbox is a deterministic in-process provider for demos and tests.
// Page n adds PerPage transactions, modifies the first transaction of page
// n-1, and removes the second transaction of page n-2.
type Sandbox struct {
	name     string
	settings SandboxSettings
	epoch    time.Time
}

// NewSandbox builds a sandbox adapter registered under name.
func NewSandbox(name string, s SandboxSettings) *Sandbox {
	if s.Accounts <= 0 {
		s.Accounts = 2
	}
	if s.Pages <= 0 {
		s.Pages = 3
	}
	if s.PerPage <= 0 {
		s.PerPage = 5
	}
	if s.Currency == "" {
		s.Currency = "USD"
	}
	return &Sandbox{
		name:     name,
		settings: s,
		epoch:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Name implements Adapter.
func (s *Sandbox) Name() string { return s.name }

// FetchAccounts implements Adapter.
func (s *Sandbox) FetchAccounts(ctx context.Context, creds Credentials) (*AccountsPage, error) {
	if err := s.check(ctx, creds); err != nil {
		return nil, err
	}

	page := &AccountsPage{}
	for i := 0; i < s.settings.Accounts; i++ {
		bal := decimal.NewFromInt(int64(i+1) * 1000)
		asOf := s.epoch
		page.Accounts = append(page.Accounts, ledger.Account{
			ExternalID:  s.accountID(i),
			Name:        fmt.Sprintf("Sandbox Account %d", i+1),
			Type:        "depository/checking",
			Currency:    s.settings.Currency,
			Balance:     &bal,
			BalanceAsOf: &asOf,
		})
	}
	page.Raw, _ = json.Marshal(map[string]any{"accounts": len(page.Accounts)})
	return page, nil
}

// FetchTransactionDeltas implements Adapter.
func (s *Sandbox) FetchTransactionDeltas(ctx context.Context, creds Credentials, cursor string) (*DeltaPage, error) {
	if err := s.check(ctx, creds); err != nil {
		return nil, err
	}

	n, err := s.pageNumber(cursor)
	if err != nil {
		return nil, err
	}
	for _, f := range s.settings.FailPages {
		if f == n {
			return nil, fmt.Errorf("%w: %s page %d", ErrUnavailable, s.name, n)
		}
	}

	page := &DeltaPage{NextCursor: cursor}
	if n < s.settings.Pages {
		for i := 0; i < s.settings.PerPage; i++ {
			page.Added = append(page.Added, s.transaction(n, i, ""))
		}
		if n >= 1 {
			page.Modified = append(page.Modified, s.transaction(n-1, 0, " (updated)"))
		}
		if n >= 2 && s.settings.PerPage > 1 {
			page.Removed = append(page.Removed, s.transactionID(n-2, 1))
		}
		page.NextCursor = s.cursor(n + 1)
		page.HasMore = n+1 < s.settings.Pages
	}

	page.Raw, _ = json.Marshal(map[string]any{
		"page":        n,
		"added":       len(page.Added),
		"modified":    len(page.Modified),
		"removed":     page.Removed,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
	return page, nil
}

func (s *Sandbox) check(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.settings.Token != "" && creds.Token != s.settings.Token {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, s.name)
	}
	return nil
}

func (s *Sandbox) pageNumber(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(cursor, "sbx-"))
	if err != nil || !strings.HasPrefix(cursor, "sbx-") || n < 0 {
		return 0, fmt.Errorf("%s: malformed cursor %q", s.name, cursor)
	}
	return n, nil
}

func (s *Sandbox) cursor(n int) string { return "sbx-" + strconv.Itoa(n) }

func (s *Sandbox) accountID(i int) string { return fmt.Sprintf("sbx-acct-%d", i) }

func (s *Sandbox) transactionID(page, i int) string { return fmt.Sprintf("sbx-tx-%d-%d", page, i) }

func (s *Sandbox) transaction(page, i int, suffix string) Transaction {
	amount := decimal.New(int64(page*100+i+1)*25, -2)
	txType := ledger.Credit
	if i%2 == 0 {
		amount = amount.Neg()
		txType = ledger.Debit
	}
	return Transaction{
		AccountExternalID: s.accountID(i % s.settings.Accounts),
		Transaction: ledger.Transaction{
			ExternalID:  s.transactionID(page, i),
			Date:        s.epoch.AddDate(0, 0, page),
			Amount:      amount,
			Currency:    s.settings.Currency,
			Description: fmt.Sprintf("Sandbox purchase %d-%d%s", page, i, suffix),
			Type:        txType,
			Source:      ledger.SourceKind(s.name),
		},
	}
}
