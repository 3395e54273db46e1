// Package history archives healing sessions in Postgres so outcomes can be
// audited and queried after the fact.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/healing"
)

// Record is one archived healing session.
type Record struct {
	ID        string                    `json:"id"`
	Script    string                    `json:"script"`
	Reason    healing.TerminationReason `json:"reason"`
	Healed    bool                      `json:"healed"`
	Attempts  int                       `json:"attempts"`
	Elapsed   time.Duration             `json:"elapsed"`
	Summary   string                    `json:"summary,omitempty"`
	PRURL     string                    `json:"pr_url,omitempty"`
	Detail    []healing.Attempt         `json:"detail,omitempty"`
	StartedAt time.Time                 `json:"started_at"`
}

// NewRecord builds a record from a session result.
func NewRecord(script string, result healing.Result, startedAt time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		Script:    script,
		Reason:    result.Reason,
		Healed:    result.Healed(),
		Attempts:  len(result.Attempts),
		Elapsed:   result.Elapsed,
		Summary:   healing.Summarize(result.Attempts),
		Detail:    result.Attempts,
		StartedAt: startedAt.UTC(),
	}
}

// querier is the subset of pgxpool.Pool the store uses. Interface for testing.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists session records.
type Store struct {
	db   querier
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to history database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{db: pool, pool: pool, log: log}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS healing_sessions (
	id         UUID PRIMARY KEY,
	script     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	healed     BOOLEAN NOT NULL,
	attempts   INTEGER NOT NULL,
	elapsed_ms BIGINT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	pr_url     TEXT NOT NULL DEFAULT '',
	detail     JSONB,
	started_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS healing_sessions_script_idx
	ON healing_sessions (script, started_at DESC);
`

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

const insertSQL = `
INSERT INTO healing_sessions
	(id, script, reason, healed, attempts, elapsed_ms, summary, pr_url, detail, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Save writes one session record.
func (s *Store) Save(ctx context.Context, r Record) error {
	detail, err := json.Marshal(r.Detail)
	if err != nil {
		return fmt.Errorf("encode session detail: %w", err)
	}
	_, err = s.db.Exec(ctx, insertSQL,
		r.ID, r.Script, string(r.Reason), r.Healed, r.Attempts,
		r.Elapsed.Milliseconds(), r.Summary, r.PRURL, detail, r.StartedAt)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

const recentSQL = `
SELECT id, script, reason, healed, attempts, elapsed_ms, summary, pr_url, started_at
FROM healing_sessions
WHERE ($1 = '' OR script = $1)
ORDER BY started_at DESC
LIMIT $2
`

// Recent returns the newest records, optionally filtered by script name.
func (s *Store) Recent(ctx context.Context, script string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, recentSQL, script, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var elapsedMS int64
		var reason string
		if err := rows.Scan(&r.ID, &r.Script, &reason, &r.Healed, &r.Attempts,
			&elapsedMS, &r.Summary, &r.PRURL, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Reason = healing.TerminationReason(reason)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}

const getSQL = `
SELECT id, script, reason, healed, attempts, elapsed_ms, summary, pr_url, detail, started_at
FROM healing_sessions
WHERE id::text LIKE $1 || '%'
ORDER BY started_at DESC
LIMIT 1
`

// Get returns a single record with full attempt detail. The id may be a
// unique prefix of the session UUID.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	rows, err := s.db.Query(ctx, getSQL, id)
	if err != nil {
		return Record{}, fmt.Errorf("query history record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Record{}, fmt.Errorf("query history record: %w", err)
		}
		return Record{}, fmt.Errorf("no session found for id %q", id)
	}

	var r Record
	var elapsedMS int64
	var reason string
	var detail []byte
	if err := rows.Scan(&r.ID, &r.Script, &reason, &r.Healed, &r.Attempts,
		&elapsedMS, &r.Summary, &r.PRURL, &detail, &r.StartedAt); err != nil {
		return Record{}, fmt.Errorf("scan history record: %w", err)
	}
	r.Reason = healing.TerminationReason(reason)
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &r.Detail); err != nil {
			return Record{}, fmt.Errorf("decode session detail: %w", err)
		}
	}
	return r, nil
}

// Prune deletes records older than the retention window and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	tag, err := s.db.Exec(ctx, `DELETE FROM healing_sessions WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.log.Info("pruned history records", zap.Int64("removed", n))
		return n, nil
	}
	return 0, nil
}
