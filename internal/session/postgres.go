package session

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const sessionColumns = `id, user_id, book_id, plan, max_duration_seconds, status, started_at, ended_at, duration_seconds`

// PostgresStore persists the session ledger in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg StoreConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if cfg.Migrate {
		if err := migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO voice_sessions (id, user_id, book_id, plan, max_duration_seconds, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+sessionColumns,
		uuid.NewString(),
		req.UserID,
		req.BookID,
		req.Plan,
		req.MaxDurationSeconds,
		string(StatusActive),
		time.Now().UTC(),
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM voice_sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) End(ctx context.Context, id string, durationSeconds int) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE voice_sessions SET status=$2, ended_at=$3, duration_seconds=$4
		 WHERE id=$1 AND status=$5
		 RETURNING `+sessionColumns,
		id,
		string(StatusEnded),
		time.Now().UTC(),
		durationSeconds,
		string(StatusActive),
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown, or already ended or expired.
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM voice_sessions WHERE user_id=$1 AND started_at >= $2`,
		userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ExpireOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE voice_sessions SET status=$1, ended_at=$2, duration_seconds=max_duration_seconds
		 WHERE status=$3 AND started_at + make_interval(secs => max_duration_seconds + $4::int) <= $2
		 RETURNING `+sessionColumns,
		string(StatusExpired),
		now.UTC(),
		string(StatusActive),
		int(grace/time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("expire sessions: %w", err)
	}
	defer rows.Close()

	var expired []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired row: %w", err)
		}
		expired = append(expired, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired rows: %w", err)
	}
	return expired, nil
}

func (s *PostgresStore) ActiveCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM voice_sessions WHERE status=$1`, string(StatusActive)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess   Session
		status string
	)
	if err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.BookID,
		&sess.Plan,
		&sess.MaxDurationSeconds,
		&status,
		&sess.StartedAt,
		&sess.EndedAt,
		&sess.DurationSeconds,
	); err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	return &sess, nil
}
