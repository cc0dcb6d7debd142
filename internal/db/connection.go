package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func Connect(dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return p, nil
}

func TestConnection(p *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var now time.Time
	err := p.QueryRow(ctx, "SELECT NOW()").Scan(&now)
	if err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	slog.Info("database connection ok", "component", "db", "server_time", now.Format(time.RFC3339))
	return nil
}

// OpenSQLite opens or creates the ledger database at path and applies the schema.
// A single connection serialises writers so guarded updates never see SQLITE_BUSY.
func OpenSQLite(path string) (*sqlx.DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// MigratePostgres creates the ledger tables if they do not exist.
func MigratePostgres(ctx context.Context, p *pgxpool.Pool) error {
	if _, err := p.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	sell_at INTEGER NOT NULL,
	red INTEGER NOT NULL DEFAULT 0,
	white INTEGER NOT NULL DEFAULT 0,
	blue INTEGER NOT NULL DEFAULT 0,
	chroner INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	red INTEGER NOT NULL,
	white INTEGER NOT NULL,
	blue INTEGER NOT NULL,
	time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prices_time ON prices(time);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS players (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	sell_at INTEGER NOT NULL,
	red INTEGER NOT NULL DEFAULT 0,
	white INTEGER NOT NULL DEFAULT 0,
	blue INTEGER NOT NULL DEFAULT 0,
	chroner BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prices (
	id BIGSERIAL PRIMARY KEY,
	red INTEGER NOT NULL,
	white INTEGER NOT NULL,
	blue INTEGER NOT NULL,
	time BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prices_time ON prices(time);
`
