package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/chainfeed/internal/model"
)

// ErrNoAccounts is returned when the table holds no active account.
var ErrNoAccounts = errors.New("no active broker accounts")

const activeAccountsSQL = `
SELECT id, name, api_key, host, ws_url, priority
FROM broker_accounts
WHERE is_active
ORDER BY priority, id`

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AccountStore reads broker credentials.
type AccountStore struct {
	db     Querier
	logger *slog.Logger
}

// NewAccountStore creates a store over db.
func NewAccountStore(db Querier, logger *slog.Logger) *AccountStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountStore{db: db, logger: logger}
}

// Active returns every active account, lowest priority first.
func (s *AccountStore) Active(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.Query(ctx, activeAccountsSQL)
	if err != nil {
		return nil, fmt.Errorf("query broker accounts: %w", err)
	}

	accounts, err := pgx.CollectRows(rows, scanAccount)
	if err != nil {
		return nil, fmt.Errorf("scan broker accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	for _, a := range accounts {
		s.logger.Debug("loaded broker account",
			"id", a.ID,
			"name", a.Name,
			"key", a.MaskedKey(),
			"priority", a.Priority,
		)
	}
	return accounts, nil
}

func scanAccount(row pgx.CollectableRow) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Name, &a.APIKey, &a.Host, &a.WSURL, &a.Priority)
	return a, err
}
