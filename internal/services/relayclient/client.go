/**
 * @description
 * This package provides the services tier's client for the relay. Every call goes through a
 * circuit-breaking HTTP client; transfer calls additionally classify what the caller can know
 * about the ledger's state into a three-way outcome.
 */
package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/httpx"
)

// Client is a client for the relay.
type Client struct {
	http *httpx.Client
}

// NewClient creates a new relay client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{http: httpx.NewClient("relay", baseURL, apiKey, timeout)}
}

type accountRequest struct {
	AccountNumber string `json:"account_number"`
	Limit         int    `json:"limit,omitempty"`
}

// ExecuteTransfer asks the ledger, through the relay, to run req.
//
// OutcomeCommitted comes with the ledger's result. OutcomeRejected means the ledger (or the
// relay) definitely did not commit. OutcomeUnknown means the reply was lost or garbled; only
// a snapshot sync can tell whether the transfer happened.
func (c *Client) ExecuteTransfer(ctx context.Context, req domain.ExecuteRequest) (*domain.TransferResult, domain.Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.OutcomeRejected, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, "/api/v1/transactions/execute", body)
	if err != nil {
		return nil, domain.OutcomeUnknown, err
	}

	outcome := Classify(resp.StatusCode)
	if outcome != domain.OutcomeCommitted {
		return nil, outcome, errorFrom(resp)
	}

	var result domain.TransferResult
	if err := decodeData(resp, &result); err != nil || result.TransactionID == "" || len(result.Legs) == 0 {
		return nil, domain.OutcomeUnknown, domain.Wrap(domain.KindDownstreamUnreachable, domain.ErrDownstreamUnreachable.Message, err)
	}
	return &result, domain.OutcomeCommitted, nil
}

// Snapshot pulls the full ledger state of accountNumber.
func (c *Client) Snapshot(ctx context.Context, accountNumber string) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	if err := c.post(ctx, "/core/accounts/snapshot", accountRequest{AccountNumber: accountNumber}, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// RegisterAccount opens the ledger account for a newly registered customer.
func (c *Client) RegisterAccount(ctx context.Context, req domain.OpenAccountRequest) (*domain.OpenAccountResult, error) {
	var result domain.OpenAccountResult
	if err := c.post(ctx, "/core/accounts/register", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MutationHistory returns the ledger's recent mutations of accountNumber as sent by the relay.
func (c *Client) MutationHistory(ctx context.Context, accountNumber string, limit int) (json.RawMessage, error) {
	var data json.RawMessage
	if err := c.post(ctx, "/api/v1/history/mutations", accountRequest{AccountNumber: accountNumber, Limit: limit}, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, dst interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.http.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFrom(resp)
	}
	if err := decodeData(resp, dst); err != nil {
		return domain.Wrap(domain.KindInternal, "unreadable relay response", err)
	}
	return nil
}

// Classify maps a relay status code to a transfer outcome. 5xx is Unknown: the relay answers
// 502 when the ledger could not be reached, and a ledger 500 may follow a commit.
func Classify(status int) domain.Outcome {
	switch {
	case status >= 200 && status < 300:
		return domain.OutcomeCommitted
	case status >= 500:
		return domain.OutcomeUnknown
	default:
		return domain.OutcomeRejected
	}
}

func decodeData(resp *httpx.Response, dst interface{}) error {
	var env httpx.RawEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Status != httpx.StatusSuccess {
		return fmt.Errorf("unexpected envelope status %q", env.Status)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("response carries no data")
	}
	return json.Unmarshal(env.Data, dst)
}

func errorFrom(resp *httpx.Response) error {
	if resp.StatusCode >= 500 {
		return domain.ErrDownstreamUnreachable
	}
	var env httpx.RawEnvelope
	_ = json.Unmarshal(resp.Body, &env)
	return httpx.ErrorFromEnvelope(resp.StatusCode, env)
}
