package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/services/app"
	"github.com/transfa/corebank/internal/services/store"
)

// AuthService is the part of app.AuthService the handlers use.
type AuthService interface {
	TokenParser
	Register(ctx context.Context, in app.RegisterInput) (*app.Registration, error)
	Login(ctx context.Context, in app.LoginInput) (*app.Session, error)
}

// Ledger is the part of app.Reconciler the handlers use.
type Ledger interface {
	Transfer(ctx context.Context, customerID int64, req domain.TransferRequest) (*app.TransferOutcome, error)
	SyncSnapshot(ctx context.Context, customerID int64, accountNumber string) (*app.SyncSummary, error)
	Balance(ctx context.Context, customerID int64, accountNumber string) (*store.PortfolioAccount, error)
	MutationHistory(ctx context.Context, customerID int64, accountNumber string, limit int) (json.RawMessage, error)
}

// Handlers holds the customer-facing HTTP handlers.
type Handlers struct {
	auth   AuthService
	ledger Ledger
}

func NewHandlers(auth AuthService, ledger Ledger) *Handlers {
	return &Handlers{auth: auth, ledger: ledger}
}

type syncRequest struct {
	AccountNumber string `json:"account_number"`
}

// RegisterHandler creates a customer with its login and account.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var in app.RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	reg, err := h.auth.Register(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusCreated, reg)
}

// LoginHandler exchanges credentials for a bearer token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var in app.LoginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	session, err := h.auth.Login(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, session)
}

// TransferHandler moves money from one of the caller's accounts to any other account.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := CustomerIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, domain.ErrUnauthorized)
		return
	}
	var req domain.TransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	outcome, err := h.ledger.Transfer(r.Context(), customerID, req)
	if err != nil {
		if outcome != nil {
			httpx.WriteErrorWithData(w, r, err, outcome)
			return
		}
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, outcome)
}

// SyncHandler pulls the ledger's state of one of the caller's accounts into the cache.
// Without an account number the caller's first account is synced.
func (h *Handlers) SyncHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := CustomerIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, domain.ErrUnauthorized)
		return
	}
	var req syncRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	accountNumber := strings.TrimSpace(req.AccountNumber)
	if accountNumber == "" {
		account, err := h.ledger.Balance(r.Context(), customerID, "")
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		accountNumber = account.AccountNumber
	}

	summary, err := h.ledger.SyncSnapshot(r.Context(), customerID, accountNumber)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, summary)
}

// BalanceHandler returns the cached balance: ?account_number=...
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := CustomerIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, domain.ErrUnauthorized)
		return
	}

	account, err := h.ledger.Balance(r.Context(), customerID, r.URL.Query().Get("account_number"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, account)
}

// MutationHistoryHandler returns the ledger's recent mutations: ?account_number=...&limit=...
func (h *Handlers) MutationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := CustomerIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, domain.ErrUnauthorized)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(w, r, domain.NewError(domain.KindInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	history, err := h.ledger.MutationHistory(r.Context(), customerID, r.URL.Query().Get("account_number"), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, history)
}
