/**
 * @description
 * The transfer executor is the only code path that moves money. It validates a transfer,
 * then in one database transaction locks both accounts, rewrites both balances and appends
 * one transaction row plus its debit and credit mutations. A committed transfer is announced
 * on the event bus afterwards, best-effort.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Balance arithmetic.
 * - internal/ledger/store: Repository and transaction manager.
 * - internal/ledger/events: TransferCommitted publisher.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/ledger/events"
	"github.com/transfa/corebank/internal/ledger/store"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/metrics"
)

// TransferCommand moves Amount from Source to Target.
type TransferCommand struct {
	Source      string
	Target      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	OccurredAt  time.Time
}

// CommandFromRequest maps the wire payload onto a command, applying defaults.
func CommandFromRequest(req domain.TransferRequest) TransferCommand {
	req.Normalize()
	cmd := TransferCommand{
		Source:      req.SourceAccountNumber,
		Target:      req.TargetAccountNumber,
		Amount:      req.Amount,
		Currency:    req.CurrencyCode,
		Description: req.Description,
	}
	if req.TransactionDate != nil {
		cmd.OccurredAt = req.TransactionDate.UTC()
	}
	return cmd
}

// TransferExecutor applies internal transfers to the ledger.
type TransferExecutor struct {
	repo      store.Repository
	tx        store.TxManager
	ids       IDGenerator
	publisher events.Publisher
	now       func() time.Time
}

// NewTransferExecutor wires an executor. A nil publisher disables events.
func NewTransferExecutor(repo store.Repository, tx store.TxManager, ids IDGenerator, publisher events.Publisher) *TransferExecutor {
	if publisher == nil {
		publisher = events.FallbackProducer{}
	}
	return &TransferExecutor{
		repo:      repo,
		tx:        tx,
		ids:       ids,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// validate applies the checks that need no database access.
func (cmd *TransferCommand) validate() error {
	if err := domain.ValidateAmount(cmd.Amount); err != nil {
		return err
	}
	cmd.Source = strings.TrimSpace(cmd.Source)
	cmd.Target = strings.TrimSpace(cmd.Target)
	if cmd.Source == "" || cmd.Target == "" {
		return domain.ErrMissingAccount
	}
	if cmd.Source == cmd.Target {
		return domain.ErrSameAccount
	}
	cmd.Currency = strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if cmd.Currency == "" {
		cmd.Currency = domain.DefaultCurrency
	}
	if strings.TrimSpace(cmd.Description) == "" {
		cmd.Description = domain.DefaultTransferDescription
	}
	return nil
}

// Execute validates and atomically applies cmd. It returns the new balance of both legs.
//
// The database transaction runs on a context detached from ctx's cancellation: once begun,
// it always reaches commit or rollback even if the caller disconnects.
func (e *TransferExecutor) Execute(ctx context.Context, cmd TransferCommand) (*domain.TransferResult, error) {
	if err := cmd.validate(); err != nil {
		metrics.RecordTransfer(string(domain.KindOf(err)), 0)
		return nil, err
	}
	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = e.now()
	}
	// Postgres keeps microseconds; the result must match what a later snapshot returns.
	occurredAt = occurredAt.UTC().Truncate(time.Microsecond)
	transactionID := e.ids.TransactionID()

	var result *domain.TransferResult
	start := time.Now()
	err := e.tx.WithTransaction(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		source, target, err := e.repo.LockAccountPair(txCtx, cmd.Source, cmd.Target)
		if err != nil {
			return err
		}
		if source.CurrencyCode != cmd.Currency || target.CurrencyCode != cmd.Currency {
			return domain.ErrCurrencyMismatch
		}
		if source.Status != domain.AccountStatusActive || target.Status != domain.AccountStatusActive {
			return domain.ErrAccountInactive
		}
		if source.Balance.LessThan(cmd.Amount) {
			return domain.ErrInsufficientFunds
		}

		sourceAfter := source.Balance.Sub(cmd.Amount)
		targetAfter := target.Balance.Add(cmd.Amount)
		if err := e.repo.UpdateBalance(txCtx, source.AccountNumber, sourceAfter); err != nil {
			return fmt.Errorf("debit %s: %w", source.AccountNumber, err)
		}
		if err := e.repo.UpdateBalance(txCtx, target.AccountNumber, targetAfter); err != nil {
			return fmt.Errorf("credit %s: %w", target.AccountNumber, err)
		}

		if err := e.repo.InsertTransaction(txCtx, &domain.Transaction{
			TransactionID:       transactionID,
			AccountNumber:       source.AccountNumber,
			Type:                domain.TransactionTypeOverbooking,
			Bank:                domain.BankInternal,
			TargetAccountNumber: target.AccountNumber,
			Amount:              cmd.Amount,
			Currency:            cmd.Currency,
			Description:         cmd.Description,
			OccurredAt:          occurredAt,
		}); err != nil {
			return err
		}

		debit := domain.Mutation{
			MutationID:    domain.MutationID(transactionID, domain.LegDebit),
			TransactionID: transactionID,
			AccountNumber: source.AccountNumber,
			Type:          domain.LegDebit,
			Amount:        cmd.Amount,
			BalanceAfter:  sourceAfter,
			Description:   domain.LegDescription(domain.LegDebit, target.AccountNumber),
			OccurredAt:    occurredAt,
		}
		credit := domain.Mutation{
			MutationID:    domain.MutationID(transactionID, domain.LegCredit),
			TransactionID: transactionID,
			AccountNumber: target.AccountNumber,
			Type:          domain.LegCredit,
			Amount:        cmd.Amount,
			BalanceAfter:  targetAfter,
			Description:   domain.LegDescription(domain.LegCredit, source.AccountNumber),
			OccurredAt:    occurredAt,
		}
		if err := e.repo.InsertMutations(txCtx, []domain.Mutation{debit, credit}); err != nil {
			return err
		}

		result = &domain.TransferResult{
			TransactionID: transactionID,
			OccurredAt:    occurredAt,
			Legs: []domain.Leg{
				{AccountNumber: debit.AccountNumber, LegType: domain.LegDebit, BalanceAfter: sourceAfter, MutationID: debit.MutationID},
				{AccountNumber: credit.AccountNumber, LegType: domain.LegCredit, BalanceAfter: targetAfter, MutationID: credit.MutationID},
			},
		}
		return nil
	})
	if err != nil {
		metrics.RecordTransfer(string(domain.KindOf(err)), time.Since(start))
		if domain.KindOf(err) == domain.KindInternal {
			logging.Ctx(ctx).Error().Str("component", "transfer_executor").Err(err).
				Str("source", cmd.Source).Str("target", cmd.Target).Msg("transfer rolled back")
		}
		return nil, err
	}
	metrics.RecordTransfer("committed", time.Since(start))
	logging.Ctx(ctx).Info().Str("component", "transfer_executor").
		Str("transaction_id", transactionID).Str("amount", cmd.Amount.StringFixed(2)).
		Msg("transfer committed")

	e.publish(ctx, cmd, result)
	return result, nil
}

func (e *TransferExecutor) publish(ctx context.Context, cmd TransferCommand, result *domain.TransferResult) {
	event := events.TransferCommitted{
		TransactionID:       result.TransactionID,
		SourceAccountNumber: cmd.Source,
		TargetAccountNumber: cmd.Target,
		Amount:              cmd.Amount,
		CurrencyCode:        cmd.Currency,
		Legs:                result.Legs,
		OccurredAt:          result.OccurredAt,
	}
	publishCtx := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(publishCtx, 5*time.Second)
		defer cancel()
		if err := e.publisher.PublishTransferCommitted(ctx, event); err != nil {
			metrics.EventsPublishFailures.Inc()
			logging.Ctx(ctx).Warn().Str("component", "transfer_executor").Err(err).
				Str("transaction_id", event.TransactionID).Msg("transfer event publish failed")
		}
	}()
}
