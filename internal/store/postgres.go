package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a store with an existing *sql.DB.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects with the given DSN and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the dead-letter table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dead_letters (
			token          TEXT PRIMARY KEY,
			original_topic TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			exception_type TEXT NOT NULL DEFAULT '',
			retry_count    INT  NOT NULL DEFAULT 0,
			payload        JSONB,
			failed_at      TIMESTAMPTZ NOT NULL,
			archived_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("migrate dead_letters: %w", err)
	}
	return nil
}

func (p *PostgresStore) SaveDeadLetter(ctx context.Context, dl DeadLetter) error {
	if dl.ArchivedAt.IsZero() {
		dl.ArchivedAt = time.Now().UTC()
	}
	// Redelivered dead letters overwrite their previous archive row.
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dead_letters
			(token, original_topic, failure_reason, exception_type, retry_count, payload, failed_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token) DO UPDATE SET
			failure_reason = EXCLUDED.failure_reason,
			exception_type = EXCLUDED.exception_type,
			retry_count    = EXCLUDED.retry_count,
			payload        = EXCLUDED.payload,
			failed_at      = EXCLUDED.failed_at,
			archived_at    = EXCLUDED.archived_at`,
		dl.Token, dl.OriginalTopic, dl.FailureReason, dl.ExceptionType,
		dl.RetryCount, dl.Payload, dl.FailedAt, dl.ArchivedAt)
	if err != nil {
		return fmt.Errorf("save dead letter %s: %w", dl.Token, err)
	}
	return nil
}

func (p *PostgresStore) GetDeadLetter(ctx context.Context, token string) (DeadLetter, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT token, original_topic, failure_reason, exception_type, retry_count, payload, failed_at, archived_at
		FROM dead_letters WHERE token = $1`, token)
	var dl DeadLetter
	err := row.Scan(&dl.Token, &dl.OriginalTopic, &dl.FailureReason, &dl.ExceptionType,
		&dl.RetryCount, &dl.Payload, &dl.FailedAt, &dl.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetter{}, ErrNotFound
	}
	if err != nil {
		return DeadLetter{}, fmt.Errorf("get dead letter %s: %w", token, err)
	}
	return dl, nil
}

func (p *PostgresStore) ListDeadLetters(ctx context.Context, filter Filter) ([]DeadLetter, error) {
	query := `
		SELECT token, original_topic, failure_reason, exception_type, retry_count, payload, failed_at, archived_at
		FROM dead_letters WHERE 1=1`
	args := []any{}
	if filter.Topic != "" {
		args = append(args, filter.Topic)
		query += fmt.Sprintf(" AND original_topic = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND failed_at >= $%d", len(args))
	}
	query += " ORDER BY failed_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.Token, &dl.OriginalTopic, &dl.FailureReason, &dl.ExceptionType,
			&dl.RetryCount, &dl.Payload, &dl.FailedAt, &dl.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
