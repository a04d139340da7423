/**
 * @description
 * Core domain models shared by every tier. The ledger owns these records; the services
 * tier stores structurally identical replicas of them. JSON tags describe the wire shape
 * used on every cross-tier call.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Fixed-point money, never float64.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money crosses every tier as a bare JSON number carrying the exact decimal digits.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// AccountStatus is the lifecycle state of a ledger account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "Active"
	AccountStatusClosed AccountStatus = "Closed"
	AccountStatusFrozen AccountStatus = "Frozen"
)

// Valid reports whether s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusClosed, AccountStatusFrozen:
		return true
	}
	return false
}

// LegType is one side of a double-entry transfer.
type LegType string

const (
	LegDebit  LegType = "Debit"
	LegCredit LegType = "Credit"
)

const (
	// TransactionTypeOverbooking is the wire code for an internal book transfer.
	TransactionTypeOverbooking = "TrfOvrbok"
	BankInternal               = "Internal"
	DefaultCurrency            = "IDR"
	DefaultTransferDescription = "Internal transfer"
)

// Account is a ledger account. Balance changes only inside a transfer.
type Account struct {
	ID            int64           `json:"-"`
	AccountNumber string          `json:"account_number"`
	CustomerRef   string          `json:"customer_ref"`
	Balance       decimal.Decimal `json:"balance"`
	CurrencyCode  string          `json:"currency_code"`
	Status        AccountStatus   `json:"status"`
	OpenDate      Date            `json:"open_date"`
}

// Customer holds the identity fields attached 1:1 to an account.
type Customer struct {
	FullName   string `json:"full_name"`
	BirthDate  Date   `json:"birth_date"`
	NationalID string `json:"national_id"`
	Address    string `json:"address"`
	Phone      string `json:"phone_number"`
	Email      string `json:"email"`
}

// Transaction is one row per transfer intent, owned by the source account.
type Transaction struct {
	TransactionID       string          `json:"transaction_id"`
	AccountNumber       string          `json:"account_number,omitempty"`
	Type                string          `json:"type"`
	Bank                string          `json:"bank"`
	TargetAccountNumber string          `json:"target_account_number"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Description         string          `json:"description"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

// Mutation is an immutable record of one balance-affecting leg.
type Mutation struct {
	MutationID    string          `json:"mutation_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	Type          LegType         `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Leg is the per-account result of an executed transfer.
type Leg struct {
	AccountNumber string          `json:"account_number"`
	LegType       LegType         `json:"leg_type"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	MutationID    string          `json:"mutation_id"`
}

// Portfolio is the balance-bearing projection of an account inside a snapshot.
type Portfolio struct {
	Balance      decimal.Decimal `json:"balance"`
	Status       AccountStatus   `json:"status"`
	CurrencyCode string          `json:"currency_code"`
	OpenDate     Date            `json:"open_date"`
}

// Snapshot is a full point-in-time read of one account's ledger state.
// Transactions and Mutations are ordered most recent first.
type Snapshot struct {
	AccountNumber string        `json:"account_number"`
	Customer      Customer      `json:"customer"`
	Portfolio     Portfolio     `json:"portfolio"`
	Transactions  []Transaction `json:"transactions"`
	Mutations     []Mutation    `json:"mutations"`
}

// OpenAccountRequest registers a customer and its single account at the ledger.
type OpenAccountRequest struct {
	CustomerRef    string          `json:"customer_ref"`
	AccountNumber  string          `json:"account_number"`
	Customer       Customer        `json:"customer"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrencyCode   string          `json:"currency_code"`
	Status         AccountStatus   `json:"status"`
}

// OpenAccountResult is the ledger's answer to a successful registration.
type OpenAccountResult struct {
	AccountNumber   string `json:"account_number"`
	CoreReferenceID string `json:"core_reference_id"`
	OpenDate        Date   `json:"open_date"`
}

// MutationID derives the id of a transfer leg from its transaction id.
func MutationID(transactionID string, leg LegType) string {
	if leg == LegDebit {
		return transactionID + "-SRC"
	}
	return transactionID + "-DST"
}

// LegDescription is the mutation description of a transfer leg. counterparty is the
// other account of the transfer.
func LegDescription(leg LegType, counterparty string) string {
	if leg == LegDebit {
		return "Transfer to " + counterparty
	}
	return "Transfer from " + counterparty
}
