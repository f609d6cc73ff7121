package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// upsertTransactionsSQL writes one batch in a single statement. xmax is zero
// only for freshly inserted rows, which is how inserts are told apart from
// updates.
const upsertTransactionsSQL = `
	INSERT INTO transactions (tenant_id, connection_id, external_id, account_id, date, amount,
		currency, description, type, source, job_id, metadata)
	SELECT $1, $2, t.external_id, t.account_id, t.date, t.amount,
		t.currency, t.description, t.type, t.source, t.job_id, t.metadata
	FROM unnest($3::text[], $4::text[], $5::date[], $6::numeric[],
		$7::text[], $8::text[], $9::text[], $10::text[], $11::text[], $12::jsonb[])
		AS t(external_id, account_id, date, amount, currency, description, type, source, job_id, metadata)
	ON CONFLICT (tenant_id, connection_id, external_id) DO UPDATE SET
		account_id = EXCLUDED.account_id,
		date = EXCLUDED.date,
		amount = EXCLUDED.amount,
		currency = EXCLUDED.currency,
		description = EXCLUDED.description,
		type = EXCLUDED.type,
		source = EXCLUDED.source,
		job_id = EXCLUDED.job_id,
		metadata = EXCLUDED.metadata,
		updated_at = now()
	RETURNING (xmax = 0) AS inserted`

func (s *Store) UpsertTransactions(ctx context.Context, tenantID, connectionID string, txs []ledger.Transaction) (ledger.UpsertResult, error) {
	return upsertTransactions(ctx, s.pool, tenantID, connectionID, txs)
}

func upsertTransactions(ctx context.Context, db DBTX, tenantID, connectionID string, txs []ledger.Transaction) (ledger.UpsertResult, error) {
	var res ledger.UpsertResult
	if len(txs) == 0 {
		return res, nil
	}

	n := len(txs)
	var (
		externalIDs  = make([]string, n)
		accountIDs   = make([]string, n)
		dates        = make([]string, n)
		amounts      = make([]string, n)
		currencies   = make([]string, n)
		descriptions = make([]string, n)
		types        = make([]string, n)
		sources      = make([]string, n)
		jobIDs       = make([]string, n)
		metadata     = make([]string, n)
	)
	for i, tx := range txs {
		meta := []byte("{}")
		if len(tx.Metadata) > 0 {
			b, err := json.Marshal(tx.Metadata)
			if err != nil {
				return res, fmt.Errorf("encode metadata for %q: %w", tx.ExternalID, err)
			}
			meta = b
		}
		externalIDs[i] = tx.ExternalID
		accountIDs[i] = tx.AccountID
		dates[i] = tx.Date.Format(dateLayout)
		amounts[i] = tx.Amount.String()
		currencies[i] = tx.Currency
		descriptions[i] = tx.Description
		types[i] = string(tx.Type)
		sources[i] = string(tx.Source)
		jobIDs[i] = tx.JobID
		metadata[i] = string(meta)
	}

	rows, err := db.Query(ctx, upsertTransactionsSQL, tenantID, connectionID,
		externalIDs, accountIDs, dates, amounts, currencies, descriptions, types, sources, jobIDs, metadata)
	if err != nil {
		return res, fmt.Errorf("upsert transactions: %w", mapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return res, fmt.Errorf("scan upsert result: %w", err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return ledger.UpsertResult{}, fmt.Errorf("upsert transactions: %w", mapError(err))
	}
	return res, nil
}

func (s *Store) DeleteTransactions(ctx context.Context, tenantID, connectionID string, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM transactions
		WHERE tenant_id = $1 AND connection_id = $2 AND external_id = ANY($3)`,
		tenantID, connectionID, externalIDs)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteTransactionsByConnection(ctx context.Context, tenantID, connectionID string) (int64, error) {
	return deleteByConnection(ctx, s.pool, tenantID, connectionID)
}

func deleteByConnection(ctx context.Context, db DBTX, tenantID, connectionID string) (int64, error) {
	tag, err := db.Exec(ctx,
		`DELETE FROM transactions WHERE tenant_id = $1 AND connection_id = $2`,
		tenantID, connectionID)
	if err != nil {
		return 0, fmt.Errorf("delete connection transactions: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

// ReplaceTransactions deletes and reinserts inside one transaction; readers
// see either the old set or the new one.
func (s *Store) ReplaceTransactions(ctx context.Context, tenantID, connectionID string, txs []ledger.Transaction) (int64, ledger.UpsertResult, error) {
	var (
		deleted int64
		res     ledger.UpsertResult
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if deleted, err = deleteByConnection(ctx, tx, tenantID, connectionID); err != nil {
			return err
		}
		res, err = upsertTransactions(ctx, tx, tenantID, connectionID, txs)
		return err
	})
	if err != nil {
		return 0, ledger.UpsertResult{}, err
	}
	return deleted, res, nil
}

func (s *Store) ListTransactions(ctx context.Context, tenantID, connectionID string) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_id, account_id, date, amount::text, currency, description,
		       type, source, job_id, metadata
		FROM transactions
		WHERE tenant_id = $1 AND connection_id = $2
		ORDER BY date, external_id`,
		tenantID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx             ledger.Transaction
			date           pgtype.Date
			amount, txType string
			source         string
			meta           []byte
		)
		err := rows.Scan(&tx.ExternalID, &tx.AccountID, &date, &amount, &tx.Currency,
			&tx.Description, &txType, &source, &tx.JobID, &meta)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %q amount: %w", tx.ExternalID, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("transaction %q metadata: %w", tx.ExternalID, err)
			}
			if len(tx.Metadata) == 0 {
				tx.Metadata = nil
			}
		}
		tx.TenantID = tenantID
		tx.ConnectionID = connectionID
		tx.Date = date.Time
		tx.Type = ledger.TxType(txType)
		tx.Source = ledger.SourceKind(source)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// UpsertAccounts fills in each account's canonical ID; an existing row keeps
// the ID it was created with.
func (s *Store) UpsertAccounts(ctx context.Context, tenantID, connectionID string, accounts []ledger.Account) (ledger.UpsertResult, error) {
	var res ledger.UpsertResult
	if len(accounts) == 0 {
		return res, nil
	}

	n := len(accounts)
	var (
		ids         = make([]string, n)
		externalIDs = make([]string, n)
		names       = make([]string, n)
		types       = make([]string, n)
		currencies  = make([]string, n)
		balances    = make([]*string, n)
		asOf        = make([]*time.Time, n)
	)
	index := make(map[string]int, n)
	for i, a := range accounts {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id
		externalIDs[i] = a.ExternalID
		names[i] = a.Name
		types[i] = a.Type
		currencies[i] = a.Currency
		if a.Balance != nil {
			b := a.Balance.String()
			balances[i] = &b
		}
		asOf[i] = a.BalanceAsOf
		index[a.ExternalID] = i
	}

	rows, err := s.pool.Query(ctx, `
		INSERT INTO accounts (id, tenant_id, connection_id, external_id, name, type, currency, balance, balance_as_of)
		SELECT a.id, $1, $2, a.external_id, a.name, a.type, a.currency, a.balance, a.balance_as_of
		FROM unnest($3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::numeric[], $9::timestamptz[])
			AS a(id, external_id, name, type, currency, balance, balance_as_of)
		ON CONFLICT (tenant_id, connection_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			balance_as_of = EXCLUDED.balance_as_of,
			updated_at = now()
		RETURNING external_id, id, (xmax = 0) AS inserted`,
		tenantID, connectionID, ids, externalIDs, names, types, currencies, balances, asOf)
	if err != nil {
		return res, fmt.Errorf("upsert accounts: %w", mapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			externalID, id string
			inserted       bool
		)
		if err := rows.Scan(&externalID, &id, &inserted); err != nil {
			return res, fmt.Errorf("scan account upsert: %w", err)
		}
		if i, ok := index[externalID]; ok {
			accounts[i].ID = id
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return ledger.UpsertResult{}, fmt.Errorf("upsert accounts: %w", mapError(err))
	}
	return res, nil
}

func (s *Store) ListAccounts(ctx context.Context, tenantID, connectionID string) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_id, name, type, currency, balance::text, balance_as_of
		FROM accounts
		WHERE tenant_id = $1 AND connection_id = $2
		ORDER BY external_id`,
		tenantID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var (
			a       ledger.Account
			balance *string
			asOf    *time.Time
		)
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.Name, &a.Type, &a.Currency, &balance, &asOf); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if balance != nil {
			d, err := decimal.NewFromString(*balance)
			if err != nil {
				return nil, fmt.Errorf("account %q balance: %w", a.ExternalID, err)
			}
			a.Balance = &d
		}
		if asOf != nil {
			t := asOf.UTC()
			a.BalanceAsOf = &t
		}
		a.TenantID = tenantID
		a.ConnectionID = connectionID
		out = append(out, a)
	}
	return out, rows.Err()
}
