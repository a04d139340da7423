/**
 * @description
 * JSON envelope helpers shared by the three HTTP tiers. Every response body is
 * `{"status":"success"|"error","category","message","data"}` and every classified
 * domain error maps to one status code here.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 */

package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/logging"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	maxBodyBytes = 1 << 20
)

// Envelope is the response body written by every tier.
type Envelope struct {
	Status   string      `json:"status"`
	Category domain.Kind `json:"category,omitempty"`
	Message  string      `json:"message,omitempty"`
	TraceID  string      `json:"trace_id,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// RawEnvelope is Envelope as read by a client that decodes Data itself.
type RawEnvelope struct {
	Status   string          `json:"status"`
	Category domain.Kind     `json:"category,omitempty"`
	Message  string          `json:"message,omitempty"`
	TraceID  string          `json:"trace_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case domain.KindDownstreamUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus is the inverse of StatusFor, used when a peer answered without a category.
func KindForStatus(status int) domain.Kind {
	switch {
	case status == http.StatusBadRequest:
		return domain.KindInvalidInput
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindUnauthorized
	case status == http.StatusNotFound:
		return domain.KindNotFound
	case status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return domain.KindPolicyViolation
	case status == http.StatusBadGateway || status == http.StatusGatewayTimeout || status == http.StatusServiceUnavailable:
		return domain.KindDownstreamUnreachable
	default:
		return domain.KindInternal
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			l := logging.WithComponent("http")
			l.Error().Err(err).Msg("failed to encode response")
		}
	}
}

// WriteSuccess wraps data in a success envelope.
func WriteSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	WriteJSON(w, status, Envelope{
		Status:  StatusSuccess,
		TraceID: logging.TraceIDFromContext(r.Context()),
		Data:    data,
	})
}

// WriteError classifies err and writes the error envelope. Internal errors are logged
// with their detail and answered with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	WriteErrorWithData(w, r, err, nil)
}

// WriteErrorWithData is WriteError for failures that still have something to report, such
// as a transfer whose outcome is unknown.
func WriteErrorWithData(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	WriteJSON(w, StatusFor(kind), Envelope{
		Status:   StatusError,
		Category: kind,
		Message:  domain.PublicMessage(err),
		TraceID:  logging.TraceIDFromContext(r.Context()),
		Data:     data,
	})
}

// DecodeJSON reads a JSON request body into dst. Malformed bodies are InvalidInput.
func DecodeJSON(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewError(domain.KindInvalidInput, "request body is required")
		}
		return domain.Wrap(domain.KindInvalidInput, "invalid request body", err)
	}
	return nil
}

// ErrorFromEnvelope rebuilds a classified error from a peer's error response.
func ErrorFromEnvelope(status int, env RawEnvelope) error {
	kind := env.Category
	if kind == "" {
		kind = KindForStatus(status)
	}
	message := strings.TrimSpace(env.Message)
	if message == "" {
		message = fmt.Sprintf("downstream returned status %d", status)
	}
	return domain.NewError(kind, message)
}
