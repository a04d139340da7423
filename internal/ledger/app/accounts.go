package app

import (
	"context"
	"strings"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/ledger/store"
	"github.com/transfa/corebank/internal/logging"
)

const defaultHistoryLimit = 100

// AccountService serves the ledger's read paths and account registration.
type AccountService struct {
	repo store.Repository
	tx   store.TxManager
	ids  IDGenerator
}

func NewAccountService(repo store.Repository, tx store.TxManager, ids IDGenerator) *AccountService {
	return &AccountService{repo: repo, tx: tx, ids: ids}
}

// OpenAccount inserts a customer and its account in one transaction.
func (s *AccountService) OpenAccount(ctx context.Context, req domain.OpenAccountRequest) (*domain.OpenAccountResult, error) {
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	req.CustomerRef = strings.TrimSpace(req.CustomerRef)
	req.Customer.FullName = strings.TrimSpace(req.Customer.FullName)
	if req.AccountNumber == "" || req.CustomerRef == "" || req.Customer.FullName == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "account_number, customer_ref and customer.full_name are required")
	}
	if req.OpeningBalance.IsNegative() || !req.OpeningBalance.Equal(req.OpeningBalance.Round(2)) {
		return nil, domain.NewError(domain.KindInvalidInput, "opening_balance must be non-negative with at most two decimal places")
	}
	req.CurrencyCode = strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	if req.CurrencyCode == "" {
		req.CurrencyCode = domain.DefaultCurrency
	}
	if req.Status == "" {
		req.Status = domain.AccountStatusActive
	}
	if !req.Status.Valid() {
		return nil, domain.NewError(domain.KindInvalidInput, "status must be Active, Closed or Frozen")
	}

	var result *domain.OpenAccountResult
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		result, err = s.repo.CreateAccount(txCtx, req, s.ids.CoreReferenceID())
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("component", "account_service").
		Str("account_number", result.AccountNumber).Str("core_reference_id", result.CoreReferenceID).
		Msg("account opened")
	return result, nil
}

// Snapshot reads an account's full ledger state at one point in time.
func (s *AccountService) Snapshot(ctx context.Context, accountNumber string) (*domain.Snapshot, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "account_number is required")
	}

	snapshot := &domain.Snapshot{AccountNumber: accountNumber}
	err := s.tx.WithSnapshotRead(ctx, func(txCtx context.Context) error {
		account, customer, err := s.repo.GetAccount(txCtx, accountNumber)
		if err != nil {
			return err
		}
		snapshot.Customer = *customer
		snapshot.Portfolio = domain.Portfolio{
			Balance:      account.Balance,
			Status:       account.Status,
			CurrencyCode: account.CurrencyCode,
			OpenDate:     account.OpenDate,
		}
		if snapshot.Transactions, err = s.repo.ListTransactions(txCtx, accountNumber, 0); err != nil {
			return err
		}
		snapshot.Mutations, err = s.repo.ListMutations(txCtx, accountNumber, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// History returns the most recent mutations of an account. limit <= 0 uses the default page.
func (s *AccountService) History(ctx context.Context, accountNumber string, limit int) ([]domain.Mutation, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "account_number is required")
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultHistoryLimit
	}
	if _, _, err := s.repo.GetAccount(ctx, accountNumber); err != nil {
		return nil, err
	}
	return s.repo.ListMutations(ctx, accountNumber, limit)
}
