package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestExecutor(t *testing.T) (*TransferExecutor, *memLedger, *recordingPublisher) {
	t.Helper()
	ledger := newMemLedger()
	publisher := newRecordingPublisher()
	executor := NewTransferExecutor(ledger, ledger, &seqIDs{}, publisher)
	executor.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return executor, ledger, publisher
}

func TestExecute_ScenarioMovesMoneyAndWritesTwoLegs(t *testing.T) {
	executor, ledger, publisher := newTestExecutor(t)
	ledger.addAccount("A", "IDR", "1000000", domain.AccountStatusActive)
	ledger.addAccount("B", "IDR", "500000", domain.AccountStatusActive)

	result, err := executor.Execute(context.Background(), TransferCommand{Source: "A", Target: "B", Amount: d("250000"), Currency: "IDR"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !ledger.balance("A").Equal(d("750000")) || !ledger.balance("B").Equal(d("750000")) {
		t.Fatalf("unexpected balances A=%s B=%s", ledger.balance("A"), ledger.balance("B"))
	}
	if ledger.mutationCount() != 2 || ledger.transactionCount() != 1 {
		t.Fatalf("expected 1 transaction and 2 mutations, got %d and %d", ledger.transactionCount(), ledger.mutationCount())
	}

	debit, ok := result.Leg(domain.LegDebit)
	if !ok || debit.AccountNumber != "A" || !debit.BalanceAfter.Equal(d("750000")) || debit.MutationID != result.TransactionID+"-SRC" {
		t.Fatalf("unexpected debit leg %+v", debit)
	}
	credit, ok := result.Leg(domain.LegCredit)
	if !ok || credit.AccountNumber != "B" || !credit.BalanceAfter.Equal(d("750000")) || credit.MutationID != result.TransactionID+"-DST" {
		t.Fatalf("unexpected credit leg %+v", credit)
	}

	mutations, _ := ledger.ListMutations(context.Background(), "A", 0)
	if len(mutations) != 1 || mutations[0].Description != "Transfer to B" {
		t.Fatalf("unexpected source mutations %+v", mutations)
	}

	select {
	case event := <-publisher.events:
		if event.TransactionID != result.TransactionID || len(event.Legs) != 2 {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a TransferCommitted event")
	}
}

func TestExecute_LegsSumToZero(t *testing.T) {
	executor, ledger, _ := newTestExecutor(t)
	ledger.addAccount("A", "IDR", "100.50", domain.AccountStatusActive)
	ledger.addAccount("B", "IDR", "0", domain.AccountStatusActive)

	for _, amount := range []string{"0.01", "10", "33.33"} {
		if _, err := executor.Execute(context.Background(), TransferCommand{Source: "A", Target: "B", Amount: d(amount), Currency: "IDR"}); err != nil {
			t.Fatalf("transfer %s failed: %v", amount, err)
		}
	}

	byTxn := map[string][]domain.Mutation{}
	for _, number := range []string{"A", "B"} {
		rows, _ := ledger.ListMutations(context.Background(), number, 0)
		for _, m := range rows {
			byTxn[m.TransactionID] = append(byTxn[m.TransactionID], m)
		}
	}
	if len(byTxn) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(byTxn))
	}
	for txnID, legs := range byTxn {
		if len(legs) != 2 {
			t.Fatalf("%s: expected 2 legs, got %d", txnID, len(legs))
		}
		sum := decimal.Zero
		debits, credits := 0, 0
		for _, leg := range legs {
			switch leg.Type {
			case domain.LegDebit:
				debits++
				sum = sum.Sub(leg.Amount)
			case domain.LegCredit:
				credits++
				sum = sum.Add(leg.Amount)
			}
		}
		if debits != 1 || credits != 1 || !sum.IsZero() {
			t.Fatalf("%s: debits=%d credits=%d sum=%s", txnID, debits, credits, sum)
		}
	}
	if !ledger.balance("A").Add(ledger.balance("B")).Equal(d("100.50")) {
		t.Fatalf("money was created or destroyed: A=%s B=%s", ledger.balance("A"), ledger.balance("B"))
	}
}

func TestExecute_RejectsBeforeAnyLookup(t *testing.T) {
	tests := []struct {
		name   string
		cmd    TransferCommand
		kind   domain.Kind
		target error
	}{
		{"zero amount", TransferCommand{Source: "A", Target: "B", Amount: d("0")}, domain.KindInvalidInput, domain.ErrInvalidAmount},
		{"negative amount", TransferCommand{Source: "A", Target: "B", Amount: d("-5")}, domain.KindInvalidInput, domain.ErrInvalidAmount},
		{"sub-cent amount", TransferCommand{Source: "A", Target: "B", Amount: d("1.001")}, domain.KindInvalidInput, domain.ErrInvalidAmount},
		{"missing target", TransferCommand{Source: "A", Amount: d("5")}, domain.KindInvalidInput, domain.ErrMissingAccount},
		{"same account", TransferCommand{Source: "A", Target: "A", Amount: d("5")}, domain.KindPolicyViolation, domain.ErrSameAccount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			executor, ledger, _ := newTestExecutor(t)
			ledger.addAccount("A", "IDR", "100", domain.AccountStatusActive)
			ledger.addAccount("B", "IDR", "100", domain.AccountStatusActive)

			_, err := executor.Execute(context.Background(), tc.cmd)
			if !errors.Is(err, tc.target) || domain.KindOf(err) != tc.kind {
				t.Fatalf("expected %v (%s), got %v", tc.target, tc.kind, err)
			}
			if ledger.lockCalls.Load() != 0 {
				t.Fatal("expected no account lookup")
			}
		})
	}
}

func TestExecute_PolicyViolationsLeaveBalancesUntouched(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(l *memLedger)
		cmd    TransferCommand
		target error
	}{
		{
			name: "insufficient funds",
			setup: func(l *memLedger) {
				l.addAccount("A", "IDR", "100", domain.AccountStatusActive)
				l.addAccount("B", "IDR", "100", domain.AccountStatusActive)
			},
			cmd:    TransferCommand{Source: "A", Target: "B", Amount: d("100.01"), Currency: "IDR"},
			target: domain.ErrInsufficientFunds,
		},
		{
			name: "currency mismatch",
			setup: func(l *memLedger) {
				l.addAccount("A", "IDR", "100", domain.AccountStatusActive)
				l.addAccount("B", "USD", "100", domain.AccountStatusActive)
			},
			cmd:    TransferCommand{Source: "A", Target: "B", Amount: d("10"), Currency: "IDR"},
			target: domain.ErrCurrencyMismatch,
		},
		{
			name: "requested currency differs",
			setup: func(l *memLedger) {
				l.addAccount("A", "IDR", "100", domain.AccountStatusActive)
				l.addAccount("B", "IDR", "100", domain.AccountStatusActive)
			},
			cmd:    TransferCommand{Source: "A", Target: "B", Amount: d("10"), Currency: "USD"},
			target: domain.ErrCurrencyMismatch,
		},
		{
			name: "frozen target",
			setup: func(l *memLedger) {
				l.addAccount("A", "IDR", "100", domain.AccountStatusActive)
				l.addAccount("B", "IDR", "100", domain.AccountStatusFrozen)
			},
			cmd:    TransferCommand{Source: "A", Target: "B", Amount: d("10"), Currency: "IDR"},
			target: domain.ErrAccountInactive,
		},
		{
			name: "unknown target",
			setup: func(l *memLedger) {
				l.addAccount("A", "IDR", "100", domain.AccountStatusActive)
				l.addAccount("B", "IDR", "100", domain.AccountStatusActive)
			},
			cmd:    TransferCommand{Source: "A", Target: "Z", Amount: d("10"), Currency: "IDR"},
			target: domain.ErrAccountNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			executor, ledger, _ := newTestExecutor(t)
			tc.setup(ledger)

			_, err := executor.Execute(context.Background(), tc.cmd)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if !ledger.balance("A").Equal(d("100")) || !ledger.balance("B").Equal(d("100")) {
				t.Fatalf("balances changed: A=%s B=%s", ledger.balance("A"), ledger.balance("B"))
			}
			if ledger.mutationCount() != 0 || ledger.transactionCount() != 0 {
				t.Fatal("expected no ledger rows")
			}
		})
	}
}

func TestExecute_FailureMidTransactionRollsBack(t *testing.T) {
	executor, ledger, _ := newTestExecutor(t)
	ledger.addAccount("A", "IDR", "100", domain.AccountStatusActive)
	ledger.addAccount("B", "IDR", "100", domain.AccountStatusActive)
	ledger.failMutationsOn = "B"

	_, err := executor.Execute(context.Background(), TransferCommand{Source: "A", Target: "B", Amount: d("10"), Currency: "IDR"})
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !ledger.balance("A").Equal(d("100")) || ledger.transactionCount() != 0 {
		t.Fatal("expected full rollback")
	}
}

func TestExecute_CommitsEvenWhenCallerContextIsCanceled(t *testing.T) {
	executor, ledger, _ := newTestExecutor(t)
	ledger.addAccount("A", "IDR", "100", domain.AccountStatusActive)
	ledger.addAccount("B", "IDR", "0", domain.AccountStatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := executor.Execute(ctx, TransferCommand{Source: "A", Target: "B", Amount: d("40"), Currency: "IDR"}); err != nil {
		t.Fatalf("expected detached transaction to commit, got %v", err)
	}
	if !ledger.balance("B").Equal(d("40")) {
		t.Fatalf("expected B=40, got %s", ledger.balance("B"))
	}
}

func TestExecute_LocksInCanonicalOrder(t *testing.T) {
	executor, ledger, _ := newTestExecutor(t)
	ledger.addAccount("1000000021", "IDR", "100", domain.AccountStatusActive)
	ledger.addAccount("1000000011", "IDR", "100", domain.AccountStatusActive)

	if _, err := executor.Execute(context.Background(), TransferCommand{Source: "1000000021", Target: "1000000011", Amount: d("1"), Currency: "IDR"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ledger.lockOrders) != 1 || ledger.lockOrders[0][0] != "1000000011" {
		t.Fatalf("expected lower account number locked first, got %v", ledger.lockOrders)
	}
}

func TestExecute_ConcurrentDisjointTransfersAllCommit(t *testing.T) {
	executor, ledger, _ := newTestExecutor(t)
	const pairs = 20
	for i := 0; i < pairs; i++ {
		ledger.addAccount(fmt.Sprintf("S%02d", i), "IDR", "100", domain.AccountStatusActive)
		ledger.addAccount(fmt.Sprintf("T%02d", i), "IDR", "0", domain.AccountStatusActive)
	}

	var wg sync.WaitGroup
	errs := make(chan error, pairs)
	for i := 0; i < pairs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := executor.Execute(context.Background(), TransferCommand{
				Source: fmt.Sprintf("S%02d", i), Target: fmt.Sprintf("T%02d", i), Amount: d("60"), Currency: "IDR",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("disjoint transfer failed: %v", err)
		}
	}
	for i := 0; i < pairs; i++ {
		if !ledger.balance(fmt.Sprintf("T%02d", i)).Equal(d("60")) {
			t.Fatalf("pair %d not applied", i)
		}
	}
	if ledger.mutationCount() != 2*pairs {
		t.Fatalf("expected %d mutations, got %d", 2*pairs, ledger.mutationCount())
	}
}

func TestExecute_ConcurrentSamePairNeverOverdraws(t *testing.T) {
	executor, ledger, _ := newTestExecutor(t)
	ledger.addAccount("A", "IDR", "1000", domain.AccountStatusActive)
	ledger.addAccount("B", "IDR", "1000", domain.AccountStatusActive)

	const workers = 50
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := TransferCommand{Source: "A", Target: "B", Amount: d("70"), Currency: "IDR"}
			if i%2 == 1 {
				cmd.Source, cmd.Target = "B", "A"
			}
			_, err := executor.Execute(context.Background(), cmd)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	committed := 0
	for err := range results {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, domain.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	a, b := ledger.balance("A"), ledger.balance("B")
	if a.IsNegative() || b.IsNegative() {
		t.Fatalf("overdraft: A=%s B=%s", a, b)
	}
	if !a.Add(b).Equal(d("2000")) {
		t.Fatalf("total not conserved: A=%s B=%s", a, b)
	}
	if ledger.mutationCount() != 2*committed || ledger.transactionCount() != committed {
		t.Fatalf("expected %d transactions / %d mutations, got %d / %d", committed, 2*committed, ledger.transactionCount(), ledger.mutationCount())
	}
}

func TestCommandFromRequestAppliesDefaults(t *testing.T) {
	when := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("WIB", 7*3600))
	cmd := CommandFromRequest(domain.TransferRequest{
		SourceAccountNumber: " A ",
		TargetAccountNumber: "B",
		Amount:              d("1"),
		TransactionDate:     &when,
	})
	if cmd.Source != "A" || cmd.Currency != "IDR" || cmd.Description != domain.DefaultTransferDescription {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if !cmd.OccurredAt.Equal(when) || cmd.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC occurred_at, got %v", cmd.OccurredAt)
	}
}
