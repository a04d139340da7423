/**
 * @description
 * The relay's forwarding logic. It audits each request, calls the ledger, finalizes the audit
 * row with whatever came back and hands the caller the ledger's status and body with the trace
 * id attached. The relay never interprets balances.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/metrics"
	"github.com/transfa/corebank/internal/relay/store"
)

// Downstream is the ledger client.
type Downstream interface {
	Do(ctx context.Context, method, path string, body []byte) (*httpx.Response, error)
}

// Target is a ledger endpoint.
type Target struct {
	Method string
	Path   string
}

var (
	TargetTransfer = Target{Method: http.MethodPost, Path: "/api/v1/transactions/internal"}
	TargetSnapshot = Target{Method: http.MethodPost, Path: "/api/v1/accounts/snapshot"}
	TargetRegister = Target{Method: http.MethodPost, Path: "/api/v1/accounts"}
	TargetHistory  = Target{Method: http.MethodGet, Path: "/api/v1/history/mutations"}
)

// ForwardRequest describes one inbound call to relay.
type ForwardRequest struct {
	// Source is the inbound route, recorded on the audit row.
	Source string
	Target Target
	// Query is appended to Target.Path, already encoded.
	Query string
	// Inbound is the body as the caller sent it.
	Inbound []byte
	// Payload is the translated body for the ledger; nil sends no body.
	Payload []byte
}

// Reply is what the relay returns to its caller.
type Reply struct {
	StatusCode int
	Body       []byte
}

// Forwarder relays requests to the ledger and keeps the audit trail.
type Forwarder struct {
	audit store.AuditStore
	core  Downstream
}

func NewForwarder(audit store.AuditStore, core Downstream) *Forwarder {
	return &Forwarder{audit: audit, core: core}
}

// Forward audits req, calls the ledger and finalizes the audit row. The returned error is
// set only when the audit row could not be opened, in which case nothing was forwarded.
// Every downstream failure becomes a 502 Reply.
func (f *Forwarder) Forward(ctx context.Context, req ForwardRequest) (*Reply, error) {
	traceID := logging.TraceIDFromContext(ctx)
	log := logging.Ctx(ctx).With().Str("component", "relay").Str("source", req.Source).Str("target", req.Target.Path).Logger()

	auditID, err := f.audit.Begin(ctx, store.AuditRecord{
		TraceID:     traceID,
		Source:      req.Source,
		Target:      req.Target.Method + " " + req.Target.Path,
		RequestJSON: AsJSON(req.Inbound),
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "failed to record audit entry", err)
	}

	path := req.Target.Path
	if req.Query != "" {
		path += "?" + req.Query
	}
	resp, callErr := f.core.Do(ctx, req.Target.Method, path, req.Payload)

	// The audit row is finalized even when the caller has gone away.
	finishCtx := context.WithoutCancel(ctx)

	if callErr != nil {
		metrics.RecordForward(req.Source, 0)
		log.Error().Err(callErr).Msg("ledger call failed")

		message := domain.PublicMessage(callErr)
		if domain.KindOf(callErr) != domain.KindDownstreamUnreachable {
			callErr = domain.Wrap(domain.KindDownstreamUnreachable, "core banking unreachable", callErr)
			message = domain.PublicMessage(callErr)
		}
		errorJSON, _ := json.Marshal(map[string]string{"error": errorText(callErr)})
		if err := f.audit.Finish(finishCtx, auditID, http.StatusBadGateway, errorJSON); err != nil {
			log.Error().Err(err).Int64("audit_id", auditID).Msg("failed to finalize audit row")
		}

		body, _ := json.Marshal(httpx.Envelope{
			Status:   httpx.StatusError,
			Category: domain.KindDownstreamUnreachable,
			Message:  message,
			TraceID:  traceID,
		})
		return &Reply{StatusCode: http.StatusBadGateway, Body: body}, nil
	}

	metrics.RecordForward(req.Source, resp.StatusCode)
	if err := f.audit.Finish(finishCtx, auditID, resp.StatusCode, AsJSON(resp.Body)); err != nil {
		log.Error().Err(err).Int64("audit_id", auditID).Msg("failed to finalize audit row")
	}
	log.Info().Int("status_code", resp.StatusCode).Msg("forwarded to ledger")

	return &Reply{StatusCode: resp.StatusCode, Body: WithTraceID(resp.Body, traceID)}, nil
}

// errorText unwraps to the transport error so the audit row keeps the real cause.
func errorText(err error) string {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) && domainErr.Cause != nil {
		return domainErr.Message + ": " + domainErr.Cause.Error()
	}
	return err.Error()
}

// AsJSON returns body when it is valid JSON and {"raw": body} otherwise. An empty body is nil.
func AsJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return wrapped
}

// WithTraceID adds "trace_id" to a JSON object body. Anything else is returned unchanged.
func WithTraceID(body []byte, traceID string) []byte {
	if traceID == "" {
		return body
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil || object == nil {
		return body
	}
	encoded, err := json.Marshal(traceID)
	if err != nil {
		return body
	}
	object["trace_id"] = encoded
	out, err := json.Marshal(object)
	if err != nil {
		return body
	}
	return out
}
