package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id            BIGSERIAL PRIMARY KEY,
		request_id    TEXT NOT NULL,
		type          TEXT NOT NULL,
		success       BOOLEAN NOT NULL,
		attempts      INTEGER NOT NULL,
		used_fallback BOOLEAN NOT NULL,
		error         TEXT NOT NULL DEFAULT '',
		message       TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_request_id_idx ON notifications (request_id)`,
	`CREATE TABLE IF NOT EXISTS backend_status (
		url              TEXT PRIMARY KEY,
		healthy          BOOLEAN NOT NULL,
		version          TEXT NOT NULL DEFAULT '',
		status           INTEGER NOT NULL,
		response_time_ms BIGINT,
		reliability      DOUBLE PRECISION NOT NULL,
		error            TEXT NOT NULL DEFAULT '',
		checked_at       TIMESTAMPTZ NOT NULL
	)`,
}

const (
	insertNotification = `
		INSERT INTO notifications (request_id, type, success, attempts, used_fallback, error, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	upsertBackendStatus = `
		INSERT INTO backend_status (url, healthy, version, status, response_time_ms, reliability, error, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url) DO UPDATE SET
			healthy = EXCLUDED.healthy,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			response_time_ms = EXCLUDED.response_time_ms,
			reliability = EXCLUDED.reliability,
			error = EXCLUDED.error,
			checked_at = EXCLUDED.checked_at`
)

// Execer is the part of pgxpool.Pool the store writes through.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db   Execer
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("PostgresStore.New: parse dsn: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("PostgresStore.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgresStore.New: ping: %w", err)
	}

	return &PostgresStore{db: pool, pool: pool}, nil
}

// NewPostgresStoreWithDB wraps an existing connection or pool.
func NewPostgresStoreWithDB(db Execer) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("PostgresStore.EnsureSchema: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) SaveNotification(ctx context.Context, record NotificationRecord, requestID string) error {
	_, err := s.db.Exec(ctx, insertNotification,
		requestID, record.Type, record.Success, record.Attempts, record.UsedFallback,
		record.Error, record.Message, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("PostgresStore.SaveNotification: %w", err)
	}

	return nil
}

func (s *PostgresStore) SaveBackendStatus(ctx context.Context, status BackendStatus) error {
	_, err := s.db.Exec(ctx, upsertBackendStatus,
		status.URL, status.Healthy, status.Version, status.Status, status.ResponseTimeMs,
		status.Reliability, status.Error, status.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("PostgresStore.SaveBackendStatus: %w", err)
	}

	return nil
}

// Close closes the pool if the store owns one.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
