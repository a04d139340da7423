package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/ledger/app"
)

// TransferExecutor is the part of app.TransferExecutor the handlers use.
type TransferExecutor interface {
	Execute(ctx context.Context, cmd app.TransferCommand) (*domain.TransferResult, error)
}

// AccountService is the part of app.AccountService the handlers use.
type AccountService interface {
	OpenAccount(ctx context.Context, req domain.OpenAccountRequest) (*domain.OpenAccountResult, error)
	Snapshot(ctx context.Context, accountNumber string) (*domain.Snapshot, error)
	History(ctx context.Context, accountNumber string, limit int) ([]domain.Mutation, error)
}

// Handlers holds the core tier's HTTP handlers.
type Handlers struct {
	executor TransferExecutor
	accounts AccountService
}

func NewHandlers(executor TransferExecutor, accounts AccountService) *Handlers {
	return &Handlers{executor: executor, accounts: accounts}
}

type snapshotRequest struct {
	AccountNumber string `json:"account_number"`
}

// InternalTransferHandler executes one internal transfer.
func (h *Handlers) InternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	result, err := h.executor.Execute(r.Context(), app.CommandFromRequest(req))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, result)
}

// OpenAccountHandler registers a customer and account.
func (h *Handlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	result, err := h.accounts.OpenAccount(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusCreated, result)
}

// SnapshotHandler returns the full ledger state of one account.
func (h *Handlers) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	snapshot, err := h.accounts.Snapshot(r.Context(), req.AccountNumber)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, snapshot)
}

// MutationHistoryHandler lists recent mutations: ?account_number=...&limit=...
func (h *Handlers) MutationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	accountNumber := strings.TrimSpace(r.URL.Query().Get("account_number"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(w, r, domain.NewError(domain.KindInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	mutations, err := h.accounts.History(r.Context(), accountNumber, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, r, http.StatusOK, map[string]interface{}{
		"account_number": accountNumber,
		"mutations":      mutations,
	})
}
