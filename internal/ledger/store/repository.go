/**
 * @description
 * This file defines the `Repository` interface for the ledger's data access. The transfer
 * executor and account service depend on it rather than on PostgreSQL directly, which
 * keeps them testable against an in-memory ledger.
 *
 * @dependencies
 * - internal/domain: Ledger models and error sentinels.
 */

package store

import (
	"context"
	_ "embed"

	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
)

// Schema is the ledger database schema, applied at startup.
//
//go:embed schema.sql
var Schema string

// Repository defines the set of methods for interacting with the ledger database.
// Methods called inside TxManager.WithTransaction run on that transaction.
type Repository interface {
	// LockAccountPair locks both accounts with SELECT ... FOR UPDATE in canonical
	// (sorted account number) order and returns them as (source, target).
	LockAccountPair(ctx context.Context, source, target string) (*domain.Account, *domain.Account, error)
	UpdateBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	InsertMutations(ctx context.Context, mutations []domain.Mutation) error

	CreateAccount(ctx context.Context, req domain.OpenAccountRequest, coreReferenceID string) (*domain.OpenAccountResult, error)
	GetAccount(ctx context.Context, accountNumber string) (*domain.Account, *domain.Customer, error)
	ListTransactions(ctx context.Context, accountNumber string, limit int) ([]domain.Transaction, error)
	ListMutations(ctx context.Context, accountNumber string, limit int) ([]domain.Mutation, error)
}

// TxManager scopes repository calls to one database transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	WithSnapshotRead(ctx context.Context, fn func(ctx context.Context) error) error
}
