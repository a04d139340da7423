package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/ledger/events"
	"github.com/transfa/corebank/internal/ledger/store"
)

// memLedger is an in-memory store.Repository + store.TxManager. Row locks are real mutexes
// held until the surrounding transaction ends, and writes are staged until commit, so the
// executor's locking and rollback behaviour can be exercised without Postgres.
type memLedger struct {
	mu           sync.Mutex
	accounts     map[string]*memAccount
	rowLocks     map[string]*sync.Mutex
	transactions []memRow[domain.Transaction]
	mutations    []memRow[domain.Mutation]
	seq          int64

	lockCalls       atomic.Int64
	lockOrders      [][]string
	failMutationsOn string
}

type memAccount struct {
	account  domain.Account
	customer domain.Customer
}

type memRow[T any] struct {
	id  int64
	row T
}

type memTx struct {
	held         []*sync.Mutex
	balances     map[string]decimal.Decimal
	transactions []domain.Transaction
	mutations    []domain.Mutation
	opened       []memAccount
}

type memTxKey struct{}

var (
	_ store.Repository = (*memLedger)(nil)
	_ store.TxManager  = (*memLedger)(nil)
)

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: map[string]*memAccount{},
		rowLocks: map[string]*sync.Mutex{},
	}
}

func (l *memLedger) addAccount(number, currency, balance string, status domain.AccountStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.accounts[number] = &memAccount{
		account: domain.Account{
			ID:            l.seq,
			AccountNumber: number,
			CustomerRef:   "cust-" + number,
			Balance:       decimal.RequireFromString(balance),
			CurrencyCode:  currency,
			Status:        status,
		},
		customer: domain.Customer{FullName: "Owner " + number},
	}
	l.rowLocks[number] = &sync.Mutex{}
}

func (l *memLedger) balance(number string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[number].account.Balance
}

func (l *memLedger) mutationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mutations)
}

func (l *memLedger) transactionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transactions)
}

func (l *memLedger) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &memTx{balances: map[string]decimal.Decimal{}}
	defer func() {
		for i := len(tx.held) - 1; i >= 0; i-- {
			tx.held[i].Unlock()
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, opened := range tx.opened {
		if _, exists := l.accounts[opened.account.AccountNumber]; exists {
			return domain.ErrAccountAlreadyExists
		}
	}
	for _, opened := range tx.opened {
		l.seq++
		acct := opened
		acct.account.ID = l.seq
		l.accounts[acct.account.AccountNumber] = &acct
		l.rowLocks[acct.account.AccountNumber] = &sync.Mutex{}
	}
	for number, bal := range tx.balances {
		l.accounts[number].account.Balance = bal
	}
	for _, t := range tx.transactions {
		l.seq++
		l.transactions = append(l.transactions, memRow[domain.Transaction]{id: l.seq, row: t})
	}
	for _, m := range tx.mutations {
		l.seq++
		l.mutations = append(l.mutations, memRow[domain.Mutation]{id: l.seq, row: m})
	}
	return nil
}

func (l *memLedger) WithSnapshotRead(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (l *memLedger) LockAccountPair(ctx context.Context, source, target string) (*domain.Account, *domain.Account, error) {
	l.lockCalls.Add(1)
	tx := txFrom(ctx)
	if tx == nil {
		return nil, nil, errors.New("LockAccountPair outside transaction")
	}
	order := []string{source, target}
	sort.Strings(order)

	l.mu.Lock()
	l.lockOrders = append(l.lockOrders, order)
	l.mu.Unlock()

	locked := map[string]*domain.Account{}
	for _, number := range order {
		l.mu.Lock()
		rowLock, ok := l.rowLocks[number]
		l.mu.Unlock()
		if !ok {
			return nil, nil, domain.ErrAccountNotFound
		}
		rowLock.Lock()
		tx.held = append(tx.held, rowLock)

		l.mu.Lock()
		acct := l.accounts[number].account
		l.mu.Unlock()
		locked[number] = &acct
	}
	return locked[source], locked[target], nil
}

func (l *memLedger) UpdateBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error {
	tx := txFrom(ctx)
	if tx == nil {
		return errors.New("UpdateBalance outside transaction")
	}
	if balance.IsNegative() {
		return errors.New("balance check constraint violated")
	}
	tx.balances[accountNumber] = balance
	return nil
}

func (l *memLedger) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	tx := txFrom(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.transactions {
		if existing.row.TransactionID == txn.TransactionID {
			return fmt.Errorf("duplicate transaction id %s", txn.TransactionID)
		}
	}
	tx.transactions = append(tx.transactions, *txn)
	return nil
}

func (l *memLedger) InsertMutations(ctx context.Context, mutations []domain.Mutation) error {
	tx := txFrom(ctx)
	for _, m := range mutations {
		if l.failMutationsOn != "" && m.AccountNumber == l.failMutationsOn {
			return errors.New("injected mutation insert failure")
		}
	}
	tx.mutations = append(tx.mutations, mutations...)
	return nil
}

func (l *memLedger) CreateAccount(ctx context.Context, req domain.OpenAccountRequest, coreReferenceID string) (*domain.OpenAccountResult, error) {
	tx := txFrom(ctx)
	l.mu.Lock()
	_, exists := l.accounts[req.AccountNumber]
	l.mu.Unlock()
	if exists {
		return nil, domain.ErrAccountAlreadyExists
	}
	openDate, _ := domain.ParseDate("2025-01-15")
	tx.opened = append(tx.opened, memAccount{
		account: domain.Account{
			AccountNumber: req.AccountNumber,
			CustomerRef:   req.CustomerRef,
			Balance:       req.OpeningBalance,
			CurrencyCode:  req.CurrencyCode,
			Status:        req.Status,
			OpenDate:      openDate,
		},
		customer: req.Customer,
	})
	return &domain.OpenAccountResult{AccountNumber: req.AccountNumber, CoreReferenceID: coreReferenceID, OpenDate: openDate}, nil
}

func (l *memLedger) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, *domain.Customer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[accountNumber]
	if !ok {
		return nil, nil, domain.ErrAccountNotFound
	}
	acct, cust := a.account, a.customer
	return &acct, &cust, nil
}

func (l *memLedger) ListTransactions(ctx context.Context, accountNumber string, limit int) ([]domain.Transaction, error) {
	l.mu.Lock()
	rows := filterRows(l.transactions, func(t domain.Transaction) bool { return t.AccountNumber == accountNumber })
	l.mu.Unlock()
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].row.OccurredAt.Equal(rows[j].row.OccurredAt) {
			return rows[i].row.OccurredAt.After(rows[j].row.OccurredAt)
		}
		return rows[i].id > rows[j].id
	})
	return unwrapRows(rows, limit), nil
}

func (l *memLedger) ListMutations(ctx context.Context, accountNumber string, limit int) ([]domain.Mutation, error) {
	l.mu.Lock()
	rows := filterRows(l.mutations, func(m domain.Mutation) bool { return m.AccountNumber == accountNumber })
	l.mu.Unlock()
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].row.OccurredAt.Equal(rows[j].row.OccurredAt) {
			return rows[i].row.OccurredAt.After(rows[j].row.OccurredAt)
		}
		return rows[i].id > rows[j].id
	})
	return unwrapRows(rows, limit), nil
}

func filterRows[T any](rows []memRow[T], keep func(T) bool) []memRow[T] {
	var out []memRow[T]
	for _, r := range rows {
		if keep(r.row) {
			out = append(out, r)
		}
	}
	return out
}

func unwrapRows[T any](rows []memRow[T], limit int) []T {
	out := []T{}
	for i, r := range rows {
		if limit > 0 && i >= limit {
			break
		}
		out = append(out, r.row)
	}
	return out
}

// seqIDs is a deterministic IDGenerator.
type seqIDs struct {
	n atomic.Int64
}

func (g *seqIDs) TransactionID() string {
	return fmt.Sprintf("TX-%d", g.n.Add(1))
}

func (g *seqIDs) CoreReferenceID() string {
	return fmt.Sprintf("CORE-%d", g.n.Add(1))
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	events chan events.TransferCommitted
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(chan events.TransferCommitted, 64)}
}

func (p *recordingPublisher) PublishTransferCommitted(_ context.Context, event events.TransferCommitted) error {
	p.events <- event
	return nil
}

func (p *recordingPublisher) Close() {}
