/**
 * @description
 * Audit persistence for the relay. Every forwarded request gets one row, inserted before the
 * ledger is called and finalized with the ledger's reply (or a transport error) afterwards.
 * Business logic never reads these rows.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 */

package store

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the relay database schema, applied at startup.
//
//go:embed schema.sql
var Schema string

// AuditRecord is the opening half of an audit row.
type AuditRecord struct {
	TraceID     string
	Source      string
	Target      string
	RequestJSON json.RawMessage
}

// AuditStore persists relay audit rows.
type AuditStore interface {
	Begin(ctx context.Context, rec AuditRecord) (int64, error)
	Finish(ctx context.Context, id int64, statusCode int, responseJSON json.RawMessage) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PostgresAuditStore is the PostgreSQL implementation of AuditStore.
type PostgresAuditStore struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool}
}

// Begin inserts the request half of an audit row and returns its id.
func (s *PostgresAuditStore) Begin(ctx context.Context, rec AuditRecord) (int64, error) {
	query := `
		INSERT INTO audit_logs (trace_id, source, target, request_json)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, query, rec.TraceID, rec.Source, rec.Target, jsonArg(rec.RequestJSON)).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert audit row: %w", err)
	}
	return id, nil
}

// Finish records the downstream reply on an audit row.
func (s *PostgresAuditStore) Finish(ctx context.Context, id int64, statusCode int, responseJSON json.RawMessage) error {
	query := `
		UPDATE audit_logs
		SET response_json = $2::jsonb, status_code = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, jsonArg(responseJSON), statusCode); err != nil {
		return fmt.Errorf("failed to finalize audit row %d: %w", id, err)
	}
	return nil
}

// Prune deletes audit rows created before the cutoff.
func (s *PostgresAuditStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// jsonArg passes JSON as text so the simple query protocol sends it as a literal.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(stripNUL(raw))
}

// stripNUL removes U+0000 from every string in raw. jsonb rejects the \u0000 escape, and a
// rejected audit insert would refuse an otherwise valid request.
func stripNUL(raw json.RawMessage) json.RawMessage {
	if !bytes.Contains(raw, []byte(`\u0000`)) {
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(withoutNUL(v)); err != nil {
		return raw
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func withoutNUL(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "\x00", "")
	case []any:
		for i := range t {
			t[i] = withoutNUL(t[i])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.ReplaceAll(k, "\x00", "")] = withoutNUL(val)
		}
		return out
	default:
		return v
	}
}
