package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/relay/app"
)

const maxInboundBytes = 1 << 20

// Forwarder is the part of app.Forwarder the handlers use.
type Forwarder interface {
	Forward(ctx context.Context, req app.ForwardRequest) (*app.Reply, error)
}

// Handlers translates inbound relay routes into ledger calls.
type Handlers struct {
	forwarder Forwarder
}

func NewHandlers(forwarder Forwarder) *Handlers {
	return &Handlers{forwarder: forwarder}
}

type accountRequest struct {
	AccountNumber string `json:"account_number"`
	Limit         int    `json:"limit,omitempty"`
}

// ExecuteTransferHandler accepts internal overbooking transfers only.
func (h *Handlers) ExecuteTransferHandler(w http.ResponseWriter, r *http.Request) {
	inbound, err := readBody(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req domain.ExecuteRequest
	if err := json.Unmarshal(inbound, &req); err != nil {
		httpx.WriteError(w, r, domain.Wrap(domain.KindInvalidInput, "invalid request body", err))
		return
	}
	if !strings.EqualFold(strings.TrimSpace(req.TransactionType), domain.TransactionTypeOverbooking) ||
		!strings.EqualFold(strings.TrimSpace(req.TransactionBank), domain.BankInternal) {
		httpx.WriteError(w, r, domain.ErrUnsupportedTransfer)
		return
	}

	transfer := req.TransferRequest
	transfer.Normalize()
	payload, err := json.Marshal(transfer)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	h.forward(w, r, app.ForwardRequest{
		Source:  "execute_transfer",
		Target:  app.TargetTransfer,
		Inbound: inbound,
		Payload: payload,
	})
}

// SnapshotHandler forwards a snapshot request for one account.
func (h *Handlers) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	inbound, req, err := readAccountRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	payload, err := json.Marshal(accountRequest{AccountNumber: req.AccountNumber})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	h.forward(w, r, app.ForwardRequest{
		Source:  "account_snapshot",
		Target:  app.TargetSnapshot,
		Inbound: inbound,
		Payload: payload,
	})
}

// RegisterAccountHandler forwards a new customer account to the ledger.
func (h *Handlers) RegisterAccountHandler(w http.ResponseWriter, r *http.Request) {
	inbound, err := readBody(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req domain.OpenAccountRequest
	if err := json.Unmarshal(inbound, &req); err != nil {
		httpx.WriteError(w, r, domain.Wrap(domain.KindInvalidInput, "invalid request body", err))
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	h.forward(w, r, app.ForwardRequest{
		Source:  "register_account",
		Target:  app.TargetRegister,
		Inbound: inbound,
		Payload: payload,
	})
}

// MutationHistoryHandler forwards a history lookup as a ledger GET.
func (h *Handlers) MutationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	inbound, req, err := readAccountRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	query := url.Values{}
	query.Set("account_number", req.AccountNumber)
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}

	h.forward(w, r, app.ForwardRequest{
		Source:  "mutation_history",
		Target:  app.TargetHistory,
		Query:   query.Encode(),
		Inbound: inbound,
	})
}

func (h *Handlers) forward(w http.ResponseWriter, r *http.Request, req app.ForwardRequest) {
	reply, err := h.forwarder.Forward(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writeRaw(w, reply)
}

func writeRaw(w http.ResponseWriter, reply *app.Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.StatusCode)
	_, _ = w.Write(reply.Body)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBytes))
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidInput, "failed to read request body", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "request body is required")
	}
	return body, nil
}

func readAccountRequest(r *http.Request) ([]byte, accountRequest, error) {
	var req accountRequest
	inbound, err := readBody(r)
	if err != nil {
		return nil, req, err
	}
	if err := json.Unmarshal(inbound, &req); err != nil {
		return nil, req, domain.Wrap(domain.KindInvalidInput, "invalid request body", err)
	}
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if req.AccountNumber == "" {
		return nil, req, domain.NewError(domain.KindInvalidInput, "account_number is required")
	}
	return inbound, req, nil
}
