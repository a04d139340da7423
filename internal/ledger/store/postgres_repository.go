package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/postgres"
)

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const accountColumns = `
	a.id, a.account_number, c.customer_ref, a.balance, a.currency_code, a.status, a.open_date`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.AccountNumber,
		&account.CustomerRef,
		&account.Balance,
		&account.CurrencyCode,
		&account.Status,
		&account.OpenDate,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// LockAccountPair locks source and target in sorted order so that two transfers over the
// same pair, in either direction, always acquire row locks in the same sequence.
func (r *PostgresRepository) LockAccountPair(ctx context.Context, source, target string) (*domain.Account, *domain.Account, error) {
	first, second := source, target
	if second < first {
		first, second = second, first
	}

	locked := make(map[string]*domain.Account, 2)
	for _, number := range []string{first, second} {
		account, err := r.lockAccount(ctx, number)
		if err != nil {
			return nil, nil, err
		}
		locked[number] = account
	}
	return locked[source], locked[target], nil
}

func (r *PostgresRepository) lockAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts a
		JOIN customers c ON c.id = a.customer_id
		WHERE a.account_number = $1
		FOR UPDATE OF a`

	account, err := scanAccount(postgres.Conn(ctx, r.pool).QueryRow(ctx, query, accountNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account %s: %w", accountNumber, err)
	}
	return account, nil
}

// UpdateBalance overwrites an account's balance. Callers hold the row lock.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error {
	tag, err := postgres.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE accounts SET balance = $2 WHERE account_number = $1`,
		accountNumber, balance,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// InsertTransaction appends one transaction row.
func (r *PostgresRepository) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions
			(transaction_id, account_number, type, bank, target_account_number, amount, currency, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := postgres.Conn(ctx, r.pool).Exec(ctx, query,
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
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// InsertMutations appends mutation rows in order.
func (r *PostgresRepository) InsertMutations(ctx context.Context, mutations []domain.Mutation) error {
	query := `
		INSERT INTO mutations
			(mutation_id, transaction_id, account_number, type, amount, balance_after, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	conn := postgres.Conn(ctx, r.pool)
	for _, m := range mutations {
		if _, err := conn.Exec(ctx, query,
			m.MutationID,
			m.TransactionID,
			m.AccountNumber,
			m.Type,
			m.Amount,
			m.BalanceAfter,
			m.Description,
			m.OccurredAt,
		); err != nil {
			return fmt.Errorf("failed to insert mutation %s: %w", m.MutationID, err)
		}
	}
	return nil
}

// CreateAccount inserts the customer and its account. Call it inside a transaction.
func (r *PostgresRepository) CreateAccount(ctx context.Context, req domain.OpenAccountRequest, coreReferenceID string) (*domain.OpenAccountResult, error) {
	conn := postgres.Conn(ctx, r.pool)

	var customerID int64
	err := conn.QueryRow(ctx, `
		INSERT INTO customers (customer_ref, full_name, birth_date, national_id, address, phone_number, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		req.CustomerRef,
		req.Customer.FullName,
		req.Customer.BirthDate,
		req.Customer.NationalID,
		req.Customer.Address,
		req.Customer.Phone,
		req.Customer.Email,
	).Scan(&customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert customer: %w", err)
	}

	result := domain.OpenAccountResult{AccountNumber: req.AccountNumber, CoreReferenceID: coreReferenceID}
	err = conn.QueryRow(ctx, `
		INSERT INTO accounts (account_number, customer_id, core_reference_id, balance, currency_code, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING open_date`,
		req.AccountNumber,
		customerID,
		coreReferenceID,
		req.OpeningBalance,
		req.CurrencyCode,
		req.Status,
	).Scan(&result.OpenDate)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, domain.ErrAccountAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	return &result, nil
}

// GetAccount returns an account and its customer.
func (r *PostgresRepository) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, *domain.Customer, error) {
	query := `SELECT` + accountColumns + `,
			c.full_name, c.birth_date, c.national_id, c.address, c.phone_number, c.email
		FROM accounts a
		JOIN customers c ON c.id = a.customer_id
		WHERE a.account_number = $1`

	var account domain.Account
	var customer domain.Customer
	err := postgres.Conn(ctx, r.pool).QueryRow(ctx, query, accountNumber).Scan(
		&account.ID,
		&account.AccountNumber,
		&account.CustomerRef,
		&account.Balance,
		&account.CurrencyCode,
		&account.Status,
		&account.OpenDate,
		&customer.FullName,
		&customer.BirthDate,
		&customer.NationalID,
		&customer.Address,
		&customer.Phone,
		&customer.Email,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrAccountNotFound
		}
		return nil, nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, &customer, nil
}

// ListTransactions returns the transactions owned by accountNumber, newest first.
// A non-positive limit returns every row.
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountNumber string, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT transaction_id, account_number, type, bank, target_account_number, amount, currency, description, occurred_at
		FROM transactions
		WHERE account_number = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`

	rows, err := postgres.Conn(ctx, r.pool).Query(ctx, query, accountNumber, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.TransactionID,
			&t.AccountNumber,
			&t.Type,
			&t.Bank,
			&t.TargetAccountNumber,
			&t.Amount,
			&t.Currency,
			&t.Description,
			&t.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}

// ListMutations returns the mutations of accountNumber, newest first.
func (r *PostgresRepository) ListMutations(ctx context.Context, accountNumber string, limit int) ([]domain.Mutation, error) {
	query := `
		SELECT mutation_id, transaction_id, account_number, type, amount, balance_after, description, occurred_at
		FROM mutations
		WHERE account_number = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`

	rows, err := postgres.Conn(ctx, r.pool).Query(ctx, query, accountNumber, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	mutations := []domain.Mutation{}
	for rows.Next() {
		var m domain.Mutation
		if err := rows.Scan(
			&m.MutationID,
			&m.TransactionID,
			&m.AccountNumber,
			&m.Type,
			&m.Amount,
			&m.BalanceAfter,
			&m.Description,
			&m.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		mutations = append(mutations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mutations: %w", err)
	}
	return mutations, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
