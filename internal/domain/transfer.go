package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest is the ledger-shaped transfer payload (relay → core).
type TransferRequest struct {
	SourceAccountNumber string          `json:"source_account_number"`
	TargetAccountNumber string          `json:"target_account_number"`
	Amount              decimal.Decimal `json:"amount"`
	CurrencyCode        string          `json:"currency_code"`
	Description         string          `json:"description"`
	TransactionDate     *time.Time      `json:"transaction_date,omitempty"`
}

// ExecuteRequest is the customer-facing transfer payload (services → relay).
type ExecuteRequest struct {
	TransactionType string `json:"transaction_type"`
	TransactionBank string `json:"transaction_bank"`
	TransferRequest
}

// TransferResult is what the ledger returns for a committed transfer.
type TransferResult struct {
	TransactionID string    `json:"transaction_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Legs          []Leg     `json:"legs"`
}

// Leg returns the leg of the given type, if present.
func (r TransferResult) Leg(t LegType) (Leg, bool) {
	for _, l := range r.Legs {
		if l.LegType == t {
			return l, true
		}
	}
	return Leg{}, false
}

// Normalize trims identifiers and fills currency and description defaults.
func (r *TransferRequest) Normalize() {
	r.SourceAccountNumber = strings.TrimSpace(r.SourceAccountNumber)
	r.TargetAccountNumber = strings.TrimSpace(r.TargetAccountNumber)
	r.CurrencyCode = strings.ToUpper(strings.TrimSpace(r.CurrencyCode))
	if r.CurrencyCode == "" {
		r.CurrencyCode = DefaultCurrency
	}
	r.Description = strings.TrimSpace(r.Description)
	if r.Description == "" {
		r.Description = DefaultTransferDescription
	}
}

// ValidateAmount rejects zero, negative and sub-cent amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}

// Outcome is the caller-visible result of a transfer attempt that crossed tiers.
type Outcome string

const (
	// OutcomeCommitted means the ledger committed and returned its legs.
	OutcomeCommitted Outcome = "committed"
	// OutcomeRejected means the ledger (or a tier before it) definitely did not commit.
	OutcomeRejected Outcome = "rejected"
	// OutcomeUnknown means the response was lost; only a snapshot sync tells the truth.
	OutcomeUnknown Outcome = "unknown"
)
