/**
 * @description
 * The services tier's local cache: customers, logins and portfolio accounts created at
 * registration, plus replicas of ledger balances, transactions and mutations. Replica rows
 * are written only by upsert on their natural key, so applying the same ledger data twice
 * leaves the cache unchanged.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/shopspring/decimal: Money values.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/postgres"
)

// Schema is the services database schema, applied at startup.
//
//go:embed schema.sql
var Schema string

var (
	ErrNationalIDTaken = domain.NewError(domain.KindPolicyViolation, "national id already registered")
	ErrEmailTaken      = domain.NewError(domain.KindPolicyViolation, "email already registered")
	ErrUsernameTaken   = domain.NewError(domain.KindPolicyViolation, "username already taken")
	ErrLoginNotFound   = domain.NewError(domain.KindNotFound, "login not found")
)

// Login is a customer's credential row.
type Login struct {
	ID           int64
	CustomerID   int64
	Username     string
	PasswordHash string
}

// PortfolioAccount is a cached account row owned by a local customer.
type PortfolioAccount struct {
	CustomerID      int64           `json:"customer_id"`
	FullName        string          `json:"full_name"`
	AccountNumber   string          `json:"account_number"`
	CoreReferenceID string          `json:"core_reference_id,omitempty"`
	Balance         decimal.Decimal `json:"balance"`
	CurrencyCode    string          `json:"currency_code"`
	Status          string          `json:"status"`
	OpenDate        domain.Date     `json:"open_date"`
}

// Store defines the cache operations used by the services tier.
// Methods called inside TxManager.WithTransaction run on that transaction.
type Store interface {
	InsertCustomer(ctx context.Context, customer domain.Customer) (int64, error)
	InsertLogin(ctx context.Context, customerID int64, username, passwordHash string) error
	InsertPortfolioAccount(ctx context.Context, customerID int64, accountNumber, currencyCode string) error
	SetCoreReference(ctx context.Context, accountNumber, coreReferenceID string, openDate domain.Date) error
	GetLoginByUsername(ctx context.Context, username string) (*Login, error)
	TouchLastLogin(ctx context.Context, loginID int64) error

	// GetPortfolioAccount returns customerID's account. An empty accountNumber selects
	// the customer's first account.
	GetPortfolioAccount(ctx context.Context, customerID int64, accountNumber string) (*PortfolioAccount, error)

	// SetCachedBalance overwrites a cached balance and reports whether the account is local.
	SetCachedBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) (bool, error)
	UpdatePortfolio(ctx context.Context, customerID int64, accountNumber string, portfolio domain.Portfolio) error
	UpsertTransaction(ctx context.Context, txn domain.Transaction) error
	UpsertMutation(ctx context.Context, mutation domain.Mutation) error
}

// TxManager scopes store calls to one database transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertCustomer(ctx context.Context, customer domain.Customer) (int64, error) {
	var id int64
	err := postgres.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO customers (full_name, birth_date, national_id, address, phone_number, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		customer.FullName,
		customer.BirthDate,
		customer.NationalID,
		customer.Address,
		customer.Phone,
		customer.Email,
	).Scan(&id)
	if err != nil {
		switch postgres.UniqueConstraint(err) {
		case "customers_national_id_key":
			return 0, ErrNationalIDTaken
		case "customers_email_key":
			return 0, ErrEmailTaken
		}
		return 0, fmt.Errorf("failed to insert customer: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertLogin(ctx context.Context, customerID int64, username, passwordHash string) error {
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO logins (customer_id, username, password_hash) VALUES ($1, $2, $3)`,
		customerID, username, passwordHash,
	)
	if err != nil {
		if postgres.UniqueConstraint(err) == "logins_username_key" {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to insert login: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertPortfolioAccount(ctx context.Context, customerID int64, accountNumber, currencyCode string) error {
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO portfolio_accounts (customer_id, account_number, balance, currency_code, status)
		VALUES ($1, $2, 0, $3, $4)`,
		customerID, accountNumber, currencyCode, string(domain.AccountStatusActive),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return domain.ErrAccountAlreadyExists
		}
		return fmt.Errorf("failed to insert portfolio account: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetCoreReference(ctx context.Context, accountNumber, coreReferenceID string, openDate domain.Date) error {
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE portfolio_accounts SET core_reference_id = $2, open_date = $3 WHERE account_number = $1`,
		accountNumber, coreReferenceID, openDate,
	)
	if err != nil {
		return fmt.Errorf("failed to record core reference: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLoginByUsername(ctx context.Context, username string) (*Login, error) {
	var login Login
	err := postgres.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT id, customer_id, username, password_hash FROM logins WHERE username = $1`,
		username,
	).Scan(&login.ID, &login.CustomerID, &login.Username, &login.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoginNotFound
		}
		return nil, fmt.Errorf("failed to get login: %w", err)
	}
	return &login, nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, loginID int64) error {
	if _, err := postgres.Conn(ctx, s.pool).Exec(ctx, `UPDATE logins SET last_login = NOW() WHERE id = $1`, loginID); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPortfolioAccount(ctx context.Context, customerID int64, accountNumber string) (*PortfolioAccount, error) {
	query := `
		SELECT p.customer_id, c.full_name, p.account_number, COALESCE(p.core_reference_id, ''),
		       p.balance, p.currency_code, p.status, p.open_date
		FROM portfolio_accounts p
		JOIN customers c ON c.id = p.customer_id
		WHERE p.customer_id = $1 AND ($2 = '' OR p.account_number = $2)
		ORDER BY p.id ASC
		LIMIT 1`

	var account PortfolioAccount
	err := postgres.Conn(ctx, s.pool).QueryRow(ctx, query, customerID, accountNumber).Scan(
		&account.CustomerID,
		&account.FullName,
		&account.AccountNumber,
		&account.CoreReferenceID,
		&account.Balance,
		&account.CurrencyCode,
		&account.Status,
		&account.OpenDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get portfolio account: %w", err)
	}
	return &account, nil
}

func (s *PostgresStore) SetCachedBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) (bool, error) {
	tag, err := postgres.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE portfolio_accounts SET balance = $2 WHERE account_number = $1`,
		accountNumber, balance,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update cached balance: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdatePortfolio(ctx context.Context, customerID int64, accountNumber string, portfolio domain.Portfolio) error {
	tag, err := postgres.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE portfolio_accounts
		SET balance = $3, status = $4, currency_code = $5, open_date = $6
		WHERE customer_id = $1 AND account_number = $2`,
		customerID, accountNumber, portfolio.Balance, string(portfolio.Status), portfolio.CurrencyCode, portfolio.OpenDate,
	)
	if err != nil {
		return fmt.Errorf("failed to update portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO transactions (transaction_id, account_number, type, bank, target_account_number, amount, currency, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_id) DO UPDATE SET
			account_number = EXCLUDED.account_number,
			type = EXCLUDED.type,
			bank = EXCLUDED.bank,
			target_account_number = EXCLUDED.target_account_number,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			description = EXCLUDED.description,
			occurred_at = EXCLUDED.occurred_at`,
		txn.TransactionID,
		txn.AccountNumber,
		txn.Type,
		txn.Bank,
		txn.TargetAccountNumber,
		txn.Amount,
		txn.Currency,
		txn.Description,
		txn.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", txn.TransactionID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertMutation(ctx context.Context, mutation domain.Mutation) error {
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO mutations (mutation_id, transaction_id, account_number, type, amount, balance_after, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mutation_id) DO UPDATE SET
			transaction_id = EXCLUDED.transaction_id,
			account_number = EXCLUDED.account_number,
			type = EXCLUDED.type,
			amount = EXCLUDED.amount,
			balance_after = EXCLUDED.balance_after,
			description = EXCLUDED.description,
			occurred_at = EXCLUDED.occurred_at`,
		mutation.MutationID,
		mutation.TransactionID,
		mutation.AccountNumber,
		string(mutation.Type),
		mutation.Amount,
		mutation.BalanceAfter,
		mutation.Description,
		mutation.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mutation %s: %w", mutation.MutationID, err)
	}
	return nil
}
