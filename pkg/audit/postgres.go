package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the narrow slice of pgxpool.Pool the store needs, kept as an
// interface so tests can stub it without a database.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const securityEventsSchema = `
CREATE TABLE IF NOT EXISTS security_events (
	id          UUID PRIMARY KEY,
	event_type  TEXT        NOT NULL,
	severity    TEXT        NOT NULL,
	tenant_id   TEXT        NOT NULL,
	session_id  TEXT        NOT NULL DEFAULT '',
	subject_id  TEXT        NOT NULL DEFAULT '',
	ip          TEXT        NOT NULL DEFAULT '',
	user_agent  TEXT        NOT NULL DEFAULT '',
	endpoint    TEXT        NOT NULL DEFAULT '',
	method      TEXT        NOT NULL DEFAULT '',
	status_code INT         NOT NULL DEFAULT 0,
	details     JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS security_events_tenant_created_idx
	ON security_events (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS security_events_type_idx
	ON security_events (event_type, created_at DESC);
`

// PostgresEventStore persists events to a security_events table
type PostgresEventStore struct {
	db DB
}

// NewPostgresEventStore wraps an existing pool or transaction
func NewPostgresEventStore(db DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// EnsureSchema creates the events table and indexes when missing
func (s *PostgresEventStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, securityEventsSchema); err != nil {
		return fmt.Errorf("failed to ensure security_events schema: %w", err)
	}
	return nil
}

// Insert implements EventStore. Inserting the same event ID twice is a
// no-op, retried writes after a timeout must not duplicate rows.
func (s *PostgresEventStore) Insert(ctx context.Context, event SecurityEvent) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO security_events(
			id, event_type, severity, tenant_id, session_id, subject_id,
			ip, user_agent, endpoint, method, status_code, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Type, event.Severity, event.TenantID, event.SessionID,
		event.SubjectID, event.IP, event.UserAgent, event.Endpoint, event.Method,
		event.StatusCode, details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

var _ EventStore = (*PostgresEventStore)(nil)
