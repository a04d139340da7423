package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/ledger/app"
	"github.com/transfa/corebank/internal/ledger/store"
	"github.com/transfa/corebank/internal/postgres"
	"github.com/transfa/corebank/internal/testinfra"
)

// TestLedgerIntegration opens two accounts in a real PostgreSQL, runs concurrent
// transfers in both directions and checks balances, legs and the snapshot.
func TestLedgerIntegration(t *testing.T) {
	pool := testinfra.StartPostgres(t, store.Schema)
	ctx := context.Background()

	repo := store.NewPostgresRepository(pool)
	txm := postgres.NewTxManager(pool)
	ids, err := app.NewSnowflakeIDs(7)
	if err != nil {
		t.Fatalf("NewSnowflakeIDs: %v", err)
	}
	accounts := app.NewAccountService(repo, txm, ids)
	executor := app.NewTransferExecutor(repo, txm, ids, nil)

	for _, req := range []domain.OpenAccountRequest{
		{CustomerRef: "1", AccountNumber: "10000000011", Customer: domain.Customer{FullName: "Andi"}, OpeningBalance: decimal.RequireFromString("1000")},
		{CustomerRef: "2", AccountNumber: "10000000021", Customer: domain.Customer{FullName: "Budi"}, OpeningBalance: decimal.RequireFromString("1000")},
	} {
		if _, err := accounts.OpenAccount(ctx, req); err != nil {
			t.Fatalf("OpenAccount %s: %v", req.AccountNumber, err)
		}
	}
	if _, err := accounts.OpenAccount(ctx, domain.OpenAccountRequest{
		CustomerRef: "9", AccountNumber: "10000000011", Customer: domain.Customer{FullName: "Dup"},
	}); !errors.Is(err, domain.ErrAccountAlreadyExists) {
		t.Fatalf("expected duplicate account error, got %v", err)
	}

	// Opposite directions on the same pair would deadlock without canonical lock order.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := executor.Execute(ctx, app.TransferCommand{Source: "10000000011", Target: "10000000021", Amount: decimal.RequireFromString("10.50")})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := executor.Execute(ctx, app.TransferCommand{Source: "10000000021", Target: "10000000011", Amount: decimal.RequireFromString("0.50")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
	}

	snapA, err := accounts.Snapshot(ctx, "10000000011")
	if err != nil {
		t.Fatalf("Snapshot A: %v", err)
	}
	snapB, err := accounts.Snapshot(ctx, "10000000021")
	if err != nil {
		t.Fatalf("Snapshot B: %v", err)
	}
	if !snapA.Portfolio.Balance.Equal(decimal.RequireFromString("900")) {
		t.Errorf("expected A balance 900, got %s", snapA.Portfolio.Balance)
	}
	if !snapB.Portfolio.Balance.Equal(decimal.RequireFromString("1100")) {
		t.Errorf("expected B balance 1100, got %s", snapB.Portfolio.Balance)
	}
	if len(snapA.Transactions) != 10 || len(snapA.Mutations) != 20 {
		t.Errorf("A: expected 10 transactions and 20 mutations, got %d and %d", len(snapA.Transactions), len(snapA.Mutations))
	}
	if snapA.Customer.FullName != "Andi" || snapA.Portfolio.OpenDate.IsZero() {
		t.Errorf("unexpected customer %+v portfolio %+v", snapA.Customer, snapA.Portfolio)
	}

	_, err = executor.Execute(ctx, app.TransferCommand{Source: "10000000011", Target: "10000000021", Amount: decimal.RequireFromString("5000")})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	history, err := accounts.History(ctx, "10000000021", 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].OccurredAt.After(history[i-1].OccurredAt) {
			t.Fatalf("history not newest first: %v then %v", history[i-1].OccurredAt, history[i].OccurredAt)
		}
	}
}
