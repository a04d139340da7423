/**
 * @description
 * The Reconciler keeps the services cache in line with the ledger. Customer transfers are
 * sent to the ledger through the relay and, once committed, the ledger's authoritative
 * result is written to the cache. Snapshot syncs pull an account's full ledger state and
 * upsert it. The cache never derives a balance on its own.
 */

package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/metrics"
	"github.com/transfa/corebank/internal/services/store"
)

// RelayClient is the services tier's view of the relay.
type RelayClient interface {
	ExecuteTransfer(ctx context.Context, req domain.ExecuteRequest) (*domain.TransferResult, domain.Outcome, error)
	Snapshot(ctx context.Context, accountNumber string) (*domain.Snapshot, error)
	RegisterAccount(ctx context.Context, req domain.OpenAccountRequest) (*domain.OpenAccountResult, error)
	MutationHistory(ctx context.Context, accountNumber string, limit int) (json.RawMessage, error)
}

// ErrTooManyTransfers is returned when a customer exceeds the transfer rate limit.
var ErrTooManyTransfers = domain.NewError(domain.KindPolicyViolation, "too many transfer requests; try again later")

// TransferOutcome is what a customer learns about a transfer.
type TransferOutcome struct {
	Outcome             domain.Outcome  `json:"outcome"`
	TransactionID       string          `json:"transaction_id,omitempty"`
	SourceAccountNumber string          `json:"source_account_number"`
	TargetAccountNumber string          `json:"target_account_number"`
	Amount              decimal.Decimal `json:"amount"`
	CurrencyCode        string          `json:"currency_code"`
	OccurredAt          *time.Time      `json:"occurred_at,omitempty"`
	Legs                []domain.Leg    `json:"legs,omitempty"`
}

// SyncSummary reports what a snapshot sync wrote.
type SyncSummary struct {
	AccountNumber     string           `json:"account_number"`
	Customer          domain.Customer  `json:"customer"`
	Portfolio         domain.Portfolio `json:"portfolio"`
	TransactionsCount int              `json:"transactions_count"`
	MutationsCount    int              `json:"mutations_count"`
}

// Reconciler applies ledger results to the local cache.
type Reconciler struct {
	store   store.Store
	tx      store.TxManager
	relay   RelayClient
	limiter TransferLimiter
}

// NewReconciler wires a Reconciler. A nil limiter disables rate limiting.
func NewReconciler(s store.Store, tx store.TxManager, relay RelayClient, limiter TransferLimiter) *Reconciler {
	if limiter == nil {
		limiter = (*RedisTransferLimiter)(nil)
	}
	return &Reconciler{store: s, tx: tx, relay: relay, limiter: limiter}
}

// Transfer sends a customer's transfer to the ledger and, when it commits, applies the
// ledger's result to the cache.
//
// An OutcomeUnknown result comes with a DownstreamUnreachable error: the transfer may or may
// not have happened and the caller should run a snapshot sync.
func (r *Reconciler) Transfer(ctx context.Context, customerID int64, req domain.TransferRequest) (*TransferOutcome, error) {
	log := logging.Ctx(ctx).With().Str("component", "reconciler").Int64("customer_id", customerID).Logger()

	req.Normalize()
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.TargetAccountNumber == "" {
		return nil, domain.ErrMissingAccount
	}

	source, err := r.store.GetPortfolioAccount(ctx, customerID, req.SourceAccountNumber)
	if err != nil {
		return nil, err
	}
	req.SourceAccountNumber = source.AccountNumber
	if req.SourceAccountNumber == req.TargetAccountNumber {
		return nil, domain.ErrSameAccount
	}

	// The cached balance can be stale, so passing this check proves nothing. Failing it
	// saves a round trip to the ledger.
	if source.Balance.LessThan(req.Amount) {
		metrics.ReconcileOutcomes.WithLabelValues(string(domain.OutcomeRejected)).Inc()
		return nil, domain.ErrInsufficientFunds
	}

	// Only requests that would reach the ledger count against the limit.
	allowed, retryAfter, err := r.limiter.Allow(ctx, customerID)
	if err != nil {
		log.Warn().Err(err).Msg("rate limiter unavailable; allowing transfer")
	} else if !allowed {
		log.Info().Dur("retry_after", retryAfter).Msg("transfer rate limited")
		return nil, ErrTooManyTransfers
	}

	result, outcome, err := r.relay.ExecuteTransfer(ctx, domain.ExecuteRequest{
		TransactionType: domain.TransactionTypeOverbooking,
		TransactionBank: domain.BankInternal,
		TransferRequest: req,
	})
	metrics.ReconcileOutcomes.WithLabelValues(string(outcome)).Inc()

	summary := &TransferOutcome{
		Outcome:             outcome,
		SourceAccountNumber: req.SourceAccountNumber,
		TargetAccountNumber: req.TargetAccountNumber,
		Amount:              req.Amount,
		CurrencyCode:        req.CurrencyCode,
	}

	switch outcome {
	case domain.OutcomeCommitted:
	case domain.OutcomeUnknown:
		log.Warn().Err(err).Str("source", req.SourceAccountNumber).Msg("transfer outcome unknown; cache left untouched")
		return summary, domain.Wrap(domain.KindDownstreamUnreachable, domain.ErrDownstreamUnreachable.Message, err)
	default:
		return nil, err
	}

	summary.TransactionID = result.TransactionID
	summary.Legs = result.Legs
	occurredAt := result.OccurredAt
	summary.OccurredAt = &occurredAt

	// The ledger has committed; a failed cache write is repaired by the next snapshot sync.
	if err := r.ApplyTransferResult(context.WithoutCancel(ctx), req, result); err != nil {
		log.Error().Err(err).Str("transaction_id", result.TransactionID).Msg("failed to apply committed transfer to cache")
	}
	return summary, nil
}

// ApplyTransferResult writes a committed transfer to the cache in one transaction. For each
// leg it overwrites the cached balance and upserts the mutation when the account is local; it
// then upserts the transaction row. Balances are taken from the result, never recomputed.
func (r *Reconciler) ApplyTransferResult(ctx context.Context, req domain.TransferRequest, result *domain.TransferResult) error {
	return r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, leg := range result.Legs {
			local, err := r.store.SetCachedBalance(txCtx, leg.AccountNumber, leg.BalanceAfter)
			if err != nil {
				return err
			}
			if !local {
				continue
			}
			counterparty := req.TargetAccountNumber
			if leg.LegType == domain.LegCredit {
				counterparty = req.SourceAccountNumber
			}
			if err := r.store.UpsertMutation(txCtx, domain.Mutation{
				MutationID:    leg.MutationID,
				TransactionID: result.TransactionID,
				AccountNumber: leg.AccountNumber,
				Type:          leg.LegType,
				Amount:        req.Amount,
				BalanceAfter:  leg.BalanceAfter,
				Description:   domain.LegDescription(leg.LegType, counterparty),
				OccurredAt:    result.OccurredAt,
			}); err != nil {
				return err
			}
		}

		return r.store.UpsertTransaction(txCtx, domain.Transaction{
			TransactionID:       result.TransactionID,
			AccountNumber:       req.SourceAccountNumber,
			Type:                domain.TransactionTypeOverbooking,
			Bank:                domain.BankInternal,
			TargetAccountNumber: req.TargetAccountNumber,
			Amount:              req.Amount,
			Currency:            req.CurrencyCode,
			Description:         req.Description,
			OccurredAt:          result.OccurredAt,
		})
	})
}

// SyncSnapshot replaces the cached state of one of the customer's accounts with the ledger's.
// Rows are upserted by natural key and nothing is deleted, so repeating a sync with no ledger
// change leaves the cache identical.
func (r *Reconciler) SyncSnapshot(ctx context.Context, customerID int64, accountNumber string) (*SyncSummary, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "account_number is required")
	}
	if _, err := r.store.GetPortfolioAccount(ctx, customerID, accountNumber); err != nil {
		return nil, err
	}

	snapshot, err := r.relay.Snapshot(ctx, accountNumber)
	if err != nil {
		metrics.SnapshotSyncs.WithLabelValues("fetch_failed").Inc()
		return nil, err
	}

	err = r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := r.store.UpdatePortfolio(txCtx, customerID, accountNumber, snapshot.Portfolio); err != nil {
			return err
		}
		for _, txn := range snapshot.Transactions {
			if txn.AccountNumber == "" {
				txn.AccountNumber = accountNumber
			}
			if err := r.store.UpsertTransaction(txCtx, txn); err != nil {
				return err
			}
		}
		for _, mutation := range snapshot.Mutations {
			if mutation.AccountNumber == "" {
				mutation.AccountNumber = accountNumber
			}
			if err := r.store.UpsertMutation(txCtx, mutation); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.SnapshotSyncs.WithLabelValues("apply_failed").Inc()
		return nil, err
	}
	metrics.SnapshotSyncs.WithLabelValues("ok").Inc()

	logging.Ctx(ctx).Info().Str("component", "reconciler").Str("account_number", accountNumber).
		Int("transactions", len(snapshot.Transactions)).Int("mutations", len(snapshot.Mutations)).
		Msg("snapshot synced")

	return &SyncSummary{
		AccountNumber:     accountNumber,
		Customer:          snapshot.Customer,
		Portfolio:         snapshot.Portfolio,
		TransactionsCount: len(snapshot.Transactions),
		MutationsCount:    len(snapshot.Mutations),
	}, nil
}

// Balance reads a customer's cached account. It may lag the ledger.
func (r *Reconciler) Balance(ctx context.Context, customerID int64, accountNumber string) (*store.PortfolioAccount, error) {
	return r.store.GetPortfolioAccount(ctx, customerID, strings.TrimSpace(accountNumber))
}

// MutationHistory returns the ledger's recent mutations of one of the customer's accounts.
func (r *Reconciler) MutationHistory(ctx context.Context, customerID int64, accountNumber string, limit int) (json.RawMessage, error) {
	account, err := r.store.GetPortfolioAccount(ctx, customerID, strings.TrimSpace(accountNumber))
	if err != nil {
		return nil, err
	}
	return r.relay.MutationHistory(ctx, account.AccountNumber, limit)
}
