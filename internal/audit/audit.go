// Package audit persists each session's confirmed-text history to a
// durable sink, when one is configured (AUDIT_DATABASE_URL), so transcripts
// survive process restarts independent of in-memory session state. This
// supplements spec §3's in-memory HistoryEntry slice; it is not itself part
// of the live streaming path.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one durable history row, mirroring session.HistoryEntry plus the
// session id it belongs to.
type Entry struct {
	SessionID    string
	TimestampSec float64
	Text         string
	Hiragana     string
	Translation  string
}

// Sink records finalized history entries. Implementations must be safe for
// concurrent use across sessions.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close()
}

// NoOp discards every entry. Used when AUDIT_DATABASE_URL is unset so
// callers never need a nil check.
type NoOp struct{}

func (NoOp) Record(ctx context.Context, e Entry) error { return nil }
func (NoOp) Close()                                    {}

const ddlHistoryEntries = `
CREATE TABLE IF NOT EXISTS transcript_history (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    timestamp_sec DOUBLE PRECISION NOT NULL,
    text          TEXT         NOT NULL,
    hiragana      TEXT         NOT NULL DEFAULT '',
    translation   TEXT         NOT NULL DEFAULT '',
    recorded_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_history_session_id
    ON transcript_history (session_id);
`

// Postgres is a pgx-backed Sink. One Postgres wraps a connection pool
// shared by every session in the process.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and ensures the transcript_history
// table exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to connect: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlHistoryEntries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: failed to migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Record inserts one history entry.
func (p *Postgres) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO transcript_history (session_id, timestamp_sec, text, hiragana, translation)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.pool.Exec(ctx, q, e.SessionID, e.TimestampSec, e.Text, e.Hiragana, e.Translation)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
