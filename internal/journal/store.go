package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one journaled event.
type Row struct {
	SessionID  string
	Seq        int64
	Kind       string
	Type       string
	Status     string
	Payload    []byte // raw JSON, nil for status rows
	ReceivedAt time.Time
}

// Store persists journal rows.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, rows []Row) (inserted int, err error)
}

const schema = `
CREATE TABLE IF NOT EXISTS dashlink_events (
	session_id  UUID        NOT NULL,
	seq         BIGINT      NOT NULL,
	kind        TEXT        NOT NULL,
	msg_type    TEXT,
	status      TEXT,
	payload     JSONB,
	received_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS dashlink_events_received_at_idx ON dashlink_events (received_at DESC);
`

// PGStore writes rows to PostgreSQL/TimescaleDB.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a store on an existing pool.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the events table if it does not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Insert writes rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PGStore) Insert(ctx context.Context, rows []Row) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO dashlink_events (session_id, seq, kind, msg_type, status, payload, received_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
			ON CONFLICT (session_id, seq) DO NOTHING
		`, r.SessionID, r.Seq, r.Kind, r.Type, r.Status, r.Payload, r.ReceivedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert journal row: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}

	return inserted, nil
}
