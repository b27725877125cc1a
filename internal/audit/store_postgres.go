package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
)

// PostgresStore persists audit records in PostgreSQL. The table is
// append-only by convention: no update statement exists in this package, and
// deletes only happen through the recorder's legal-hold path.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS audit_records (
			id              UUID PRIMARY KEY,
			subject_id      TEXT NOT NULL,
			timestamp       TIMESTAMPTZ NOT NULL,
			action          TEXT NOT NULL,
			resource        TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			origin          TEXT NOT NULL,
			session_id      TEXT NOT NULL,
			touched_fields  TEXT[] NOT NULL DEFAULT '{}',
			reason          TEXT NOT NULL DEFAULT '',
			severity        TEXT NOT NULL,
			request_id      TEXT NOT NULL DEFAULT '',
			retention_until TIMESTAMPTZ NOT NULL,
			integrity_tag   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records (timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_records_subject ON audit_records (subject_id, timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Append persists a record.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO audit_records (
			id, subject_id, timestamp, action, resource, outcome,
			origin, session_id, touched_fields, reason, severity,
			request_id, retention_until, integrity_tag
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SubjectID,
		rec.Timestamp,
		rec.Action,
		rec.Resource,
		string(rec.Outcome),
		rec.Origin,
		rec.SessionID,
		pq.Array(rec.TouchedFields),
		rec.Reason,
		string(rec.Severity),
		rec.RequestID,
		rec.RetentionUntil,
		rec.IntegrityTag,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

const selectColumns = `
	id, subject_id, timestamp, action, resource, outcome,
	origin, session_id, touched_fields, reason, severity,
	request_id, retention_until, integrity_tag
`

// Get returns a record by id.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM audit_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "audit record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return rec, nil
}

// Query returns matching records in timestamp order, paginated.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp < "+arg(f.To))
	}
	if f.SubjectID != "" {
		conds = append(conds, "subject_id = "+arg(f.SubjectID))
	}
	if f.Action != "" {
		conds = append(conds, "action = "+arg(f.Action))
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = "+arg(string(f.Outcome)))
	}
	if f.Severity != "" {
		conds = append(conds, "severity = "+arg(string(f.Severity)))
	}

	query := `SELECT ` + selectColumns + ` FROM audit_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// Delete removes a record. Only reachable through the recorder.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete audit record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete audit record: %w", err)
	}
	if affected == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "audit record %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec      Record
		outcome  string
		severity string
		fields   pq.StringArray
	)
	err := row.Scan(
		&rec.ID,
		&rec.SubjectID,
		&rec.Timestamp,
		&rec.Action,
		&rec.Resource,
		&outcome,
		&rec.Origin,
		&rec.SessionID,
		&fields,
		&rec.Reason,
		&severity,
		&rec.RequestID,
		&rec.RetentionUntil,
		&rec.IntegrityTag,
	)
	if err != nil {
		return nil, err
	}
	rec.Outcome = domain.Outcome(outcome)
	rec.Severity = Severity(severity)
	rec.TouchedFields = []string(fields)
	if len(rec.TouchedFields) == 0 {
		rec.TouchedFields = nil
	}
	return &rec, nil
}
