package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/services/store"
)

// memStore is an in-memory store.Store + store.TxManager. A transaction copies the whole
// state on entry and puts it back when fn fails.
type memStore struct {
	mu    sync.Mutex
	state memState

	failMutations error
	touched       []int64
}

type memState struct {
	nextID       int64
	customers    map[int64]domain.Customer
	logins       map[string]store.Login
	accounts     map[string]store.PortfolioAccount
	order        []string
	transactions map[string]domain.Transaction
	mutations    map[string]domain.Mutation
}

var (
	_ store.Store     = (*memStore)(nil)
	_ store.TxManager = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{state: memState{
		customers:    map[int64]domain.Customer{},
		logins:       map[string]store.Login{},
		accounts:     map[string]store.PortfolioAccount{},
		transactions: map[string]domain.Transaction{},
		mutations:    map[string]domain.Mutation{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		nextID:       s.nextID,
		customers:    make(map[int64]domain.Customer, len(s.customers)),
		logins:       make(map[string]store.Login, len(s.logins)),
		accounts:     make(map[string]store.PortfolioAccount, len(s.accounts)),
		order:        append([]string(nil), s.order...),
		transactions: make(map[string]domain.Transaction, len(s.transactions)),
		mutations:    make(map[string]domain.Mutation, len(s.mutations)),
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.logins {
		c.logins[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.mutations {
		c.mutations[k] = v
	}
	return c
}

// dump serialises the replica tables so two states can be compared byte for byte.
func (s *memStore) dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := json.Marshal(map[string]interface{}{
		"accounts":     s.state.accounts,
		"transactions": s.state.transactions,
		"mutations":    s.state.mutations,
	})
	return string(b)
}

func (s *memStore) seedAccount(fullName, accountNumber string, balance string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextID++
	id := s.state.nextID
	s.state.customers[id] = domain.Customer{FullName: fullName}
	s.state.accounts[accountNumber] = store.PortfolioAccount{
		CustomerID:    id,
		FullName:      fullName,
		AccountNumber: accountNumber,
		Balance:       decimal.RequireFromString(balance),
		CurrencyCode:  domain.DefaultCurrency,
		Status:        string(domain.AccountStatusActive),
	}
	s.state.order = append(s.state.order, accountNumber)
	return id
}

func (s *memStore) balance(accountNumber string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.accounts[accountNumber].Balance
}

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	saved := s.state.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.state = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) InsertCustomer(ctx context.Context, customer domain.Customer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.customers {
		if c.NationalID != "" && c.NationalID == customer.NationalID {
			return 0, store.ErrNationalIDTaken
		}
		if c.Email != "" && c.Email == customer.Email {
			return 0, store.ErrEmailTaken
		}
	}
	s.state.nextID++
	s.state.customers[s.state.nextID] = customer
	return s.state.nextID, nil
}

func (s *memStore) InsertLogin(ctx context.Context, customerID int64, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.logins[username]; ok {
		return store.ErrUsernameTaken
	}
	s.state.logins[username] = store.Login{
		ID:           int64(len(s.state.logins) + 1),
		CustomerID:   customerID,
		Username:     username,
		PasswordHash: passwordHash,
	}
	return nil
}

func (s *memStore) InsertPortfolioAccount(ctx context.Context, customerID int64, accountNumber, currencyCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.accounts[accountNumber]; ok {
		return domain.ErrAccountAlreadyExists
	}
	s.state.accounts[accountNumber] = store.PortfolioAccount{
		CustomerID:    customerID,
		FullName:      s.state.customers[customerID].FullName,
		AccountNumber: accountNumber,
		Balance:       decimal.Zero,
		CurrencyCode:  currencyCode,
		Status:        string(domain.AccountStatusActive),
	}
	s.state.order = append(s.state.order, accountNumber)
	return nil
}

func (s *memStore) SetCoreReference(ctx context.Context, accountNumber, coreReferenceID string, openDate domain.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.state.accounts[accountNumber]
	account.CoreReferenceID = coreReferenceID
	account.OpenDate = openDate
	s.state.accounts[accountNumber] = account
	return nil
}

func (s *memStore) GetLoginByUsername(ctx context.Context, username string) (*store.Login, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.state.logins[username]
	if !ok {
		return nil, store.ErrLoginNotFound
	}
	return &login, nil
}

func (s *memStore) TouchLastLogin(ctx context.Context, loginID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, loginID)
	return nil
}

func (s *memStore) GetPortfolioAccount(ctx context.Context, customerID int64, accountNumber string) (*store.PortfolioAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.state.order {
		account := s.state.accounts[n]
		if account.CustomerID == customerID && (accountNumber == "" || n == accountNumber) {
			return &account, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (s *memStore) SetCachedBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.state.accounts[accountNumber]
	if !ok {
		return false, nil
	}
	account.Balance = balance
	s.state.accounts[accountNumber] = account
	return true, nil
}

func (s *memStore) UpdatePortfolio(ctx context.Context, customerID int64, accountNumber string, portfolio domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.state.accounts[accountNumber]
	if !ok || account.CustomerID != customerID {
		return domain.ErrAccountNotFound
	}
	account.Balance = portfolio.Balance
	account.Status = string(portfolio.Status)
	account.CurrencyCode = portfolio.CurrencyCode
	account.OpenDate = portfolio.OpenDate
	s.state.accounts[accountNumber] = account
	return nil
}

func (s *memStore) UpsertTransaction(ctx context.Context, txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.transactions[txn.TransactionID] = txn
	return nil
}

func (s *memStore) UpsertMutation(ctx context.Context, mutation domain.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMutations != nil {
		return s.failMutations
	}
	s.state.mutations[mutation.MutationID] = mutation
	return nil
}

// fakeRelay answers every relay call with canned values and counts transfer calls.
type fakeRelay struct {
	mu sync.Mutex

	result      *domain.TransferResult
	outcome     domain.Outcome
	transferErr error
	executed    []domain.ExecuteRequest

	snapshot    *domain.Snapshot
	snapshotErr error

	opened      *domain.OpenAccountResult
	registerErr error
	registered  []domain.OpenAccountRequest

	history json.RawMessage
}

func (f *fakeRelay) ExecuteTransfer(ctx context.Context, req domain.ExecuteRequest) (*domain.TransferResult, domain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req)
	return f.result, f.outcome, f.transferErr
}

func (f *fakeRelay) Snapshot(ctx context.Context, accountNumber string) (*domain.Snapshot, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeRelay) RegisterAccount(ctx context.Context, req domain.OpenAccountRequest) (*domain.OpenAccountResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, req)
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	if f.opened != nil {
		return f.opened, nil
	}
	return &domain.OpenAccountResult{AccountNumber: req.AccountNumber, CoreReferenceID: "CORE-" + req.CustomerRef}, nil
}

func (f *fakeRelay) MutationHistory(ctx context.Context, accountNumber string, limit int) (json.RawMessage, error) {
	if f.history == nil {
		return nil, errors.New("no history")
	}
	return f.history, nil
}

func (f *fakeRelay) executeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (l stubLimiter) Allow(ctx context.Context, customerID int64) (bool, time.Duration, error) {
	return l.allowed, time.Second, l.err
}

// countingLimiter records how many times Allow is consulted.
type countingLimiter struct {
	allowed bool
	calls   int
}

func (l *countingLimiter) Allow(ctx context.Context, customerID int64) (bool, time.Duration, error) {
	l.calls++
	return l.allowed, time.Second, nil
}
