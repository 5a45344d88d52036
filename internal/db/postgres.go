package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a database connection pool from a Postgres connection URL
// (the DATABASE_URL convention). The pool is pinged before being returned;
// an unreachable database fails startup rather than the first request.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// Pool tuning for a messaging workload: every inbound turn holds a
	// connection briefly around each query, never across the generator call.
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 20 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	logger.Info("DB connection established",
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return &DB{
		pool:   pool,
		logger: logger,
	}, nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// schema is applied at startup. Statements are idempotent so restarts are
// safe; real migrations can replace this without touching callers.
//
// The partial unique index on threads is the one-active-thread-per-triple
// invariant. FindOrCreate still takes row locks; the index is the backstop
// that turns a lost race into a catchable 23505 instead of silent
// duplication.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		chatbot_instruction text NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id uuid PRIMARY KEY,
		company_id uuid NOT NULL REFERENCES companies(id),
		name text NOT NULL DEFAULT '',
		phone text NOT NULL DEFAULT '',
		email text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_company_phone
		ON customers (company_id, phone)`,
	`CREATE TABLE IF NOT EXISTS whatsapp_integrations (
		phone_number_id text PRIMARY KEY,
		company_id uuid NOT NULL REFERENCES companies(id),
		access_token text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id uuid PRIMARY KEY,
		company_id uuid NOT NULL REFERENCES companies(id),
		customer_id uuid NOT NULL REFERENCES customers(id),
		channel text NOT NULL,
		current_handler text NOT NULL DEFAULT 'bot',
		assigned_agent_id uuid,
		is_active boolean NOT NULL DEFAULT TRUE,
		created_at timestamptz NOT NULL DEFAULT now(),
		handover_to_agent_at timestamptz,
		handover_to_bot_at timestamptz,
		closed_at timestamptz
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_threads_active_triple
		ON threads (customer_id, company_id, channel)
		WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_threads_company_active
		ON threads (company_id, is_active)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id bigserial PRIMARY KEY,
		thread_id uuid NOT NULL REFERENCES threads(id),
		role text NOT NULL,
		content text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_created_id
		ON messages (thread_id, created_at, id)`,
}

// Migrate applies the schema. Called once at startup; failure is fatal.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	db.logger.Info("schema applied", zap.Int("statements", len(schema)))
	return nil
}
