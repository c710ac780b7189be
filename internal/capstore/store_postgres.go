package capstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"capbridge/internal/cap"
	"capbridge/pkg/platform/sentinel"
)

// PostgresStore persists CAP records in Postgres. The opaque sub-documents
// are stored as JSONB so auditors can query into them.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the cap_records table when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS cap_records (
			cap_id TEXT PRIMARY KEY,
			record_timestamp TEXT NOT NULL,
			domain TEXT NOT NULL,
			context_mode TEXT NOT NULL,
			advisor_of_record TEXT NOT NULL,
			outputs JSONB,
			cap_extensions JSONB,
			integrity JSONB,
			received_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure cap_records schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record cap.Record) error {
	const query = `
		INSERT INTO cap_records (cap_id, record_timestamp, domain, context_mode, advisor_of_record, outputs, cap_extensions, integrity, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cap_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		record.CAPID,
		record.Timestamp,
		record.Domain,
		record.ContextMode,
		record.AdvisorOfRecord,
		rawOrNull(record.Outputs),
		rawOrNull(record.CAPExtensions),
		rawOrNull(record.Integrity),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert cap record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert cap record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cap record %q: %w", record.CAPID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, capID string) (cap.Record, error) {
	const query = `
		SELECT cap_id, record_timestamp, domain, context_mode, advisor_of_record, outputs, cap_extensions, integrity
		FROM cap_records
		WHERE cap_id = $1
	`
	var record cap.Record
	var outputs, extensions, integrity sql.NullString
	err := s.db.QueryRowContext(ctx, query, capID).Scan(
		&record.CAPID,
		&record.Timestamp,
		&record.Domain,
		&record.ContextMode,
		&record.AdvisorOfRecord,
		&outputs,
		&extensions,
		&integrity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return cap.Record{}, fmt.Errorf("cap record %q: %w", capID, sentinel.ErrNotFound)
	}
	if err != nil {
		return cap.Record{}, fmt.Errorf("query cap record: %w", err)
	}

	record.Outputs = rawFromNull(outputs)
	record.CAPExtensions = rawFromNull(extensions)
	record.Integrity = rawFromNull(integrity)
	return record, nil
}

func (s *PostgresStore) Exists(ctx context.Context, capID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM cap_records WHERE cap_id = $1)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, capID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check cap record existence: %w", err)
	}
	return exists, nil
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawFromNull(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return nil
	}
	return json.RawMessage(v.String)
}
