// Package postgres implements audit.Store using the transactional outbox
// pattern. Events are written to the outbox table and relayed to Kafka by the
// outbox relay; the audit_events table materializes them for querying.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"capbridge/internal/audit"
	txcontext "capbridge/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure relayed to Kafka. Field names match
// audit.Event for proper deserialization by consumers.
type outboxPayload struct {
	ID         string `json:"ID"`
	Category   string `json:"Category"`
	Timestamp  string `json:"Timestamp"`
	CAPID      string `json:"CAPID,omitempty"`
	Domain     string `json:"Domain,omitempty"`
	AdvisorID  string `json:"AdvisorID,omitempty"`
	Action     string `json:"Action"`
	Decision   string `json:"Decision,omitempty"`
	Reason     string `json:"Reason,omitempty"`
	SchemaHash string `json:"SchemaHash,omitempty"`
	RequestID  string `json:"RequestID,omitempty"`
}

// EnsureSchema creates the outbox and audit_events tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS outbox (
			id UUID PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			relayed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			category TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			cap_id TEXT,
			domain TEXT,
			advisor_id TEXT,
			action TEXT NOT NULL,
			decision TEXT,
			reason TEXT,
			schema_hash TEXT,
			request_id TEXT
		);
		CREATE INDEX IF NOT EXISTS audit_events_cap_id_idx ON audit_events (cap_id);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Append writes an audit event to the outbox table for Kafka relaying and
// materializes it into audit_events in the same statement batch.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories map is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:         eventID.String(),
		Category:   string(category),
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		CAPID:      event.CAPID,
		Domain:     event.Domain,
		AdvisorID:  event.AdvisorID,
		Action:     event.Action,
		Decision:   event.Decision,
		Reason:     event.Reason,
		SchemaHash: event.SchemaHash,
		RequestID:  event.RequestID,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if event.CAPID != "" {
		aggregateType = "cap"
		aggregateID = event.CAPID
	}

	const insertOutbox = `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.execer(ctx).ExecContext(ctx, insertOutbox,
		eventID,
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}

	const insertEvent = `
		INSERT INTO audit_events (id, category, occurred_at, cap_id, domain, advisor_id, action, decision, reason, schema_hash, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.execer(ctx).ExecContext(ctx, insertEvent,
		eventID,
		string(category),
		event.Timestamp,
		nullable(event.CAPID),
		nullable(event.Domain),
		nullable(event.AdvisorID),
		event.Action,
		nullable(event.Decision),
		nullable(event.Reason),
		nullable(event.SchemaHash),
		nullable(event.RequestID),
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByCAP returns the audit trail for one CAP record in chronological order.
func (s *Store) ListByCAP(ctx context.Context, capID string) ([]audit.Event, error) {
	const query = `
		SELECT category, occurred_at, COALESCE(cap_id, ''), COALESCE(domain, ''),
		       COALESCE(advisor_id, ''), action, COALESCE(decision, ''),
		       COALESCE(reason, ''), COALESCE(schema_hash, ''), COALESCE(request_id, '')
		FROM audit_events
		WHERE cap_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, capID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var category string
		if err := rows.Scan(&category, &e.Timestamp, &e.CAPID, &e.Domain,
			&e.AdvisorID, &e.Action, &e.Decision, &e.Reason, &e.SchemaHash, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
