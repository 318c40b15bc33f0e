// Package postgres 以 PostgreSQL 實作觀看協定的儲存，帳本使用列鎖.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"snap-gateway/internal/constants"
)

// Options 連線池設定.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Open 透過 pgx 的 database/sql 驅動連線並確認可用.
func Open(dsn string, opts Options) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = constants.DefaultConnectTimeoutSecs * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	maxOpen, maxIdle := opts.MaxOpenConns, opts.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = constants.DefaultPostgresMaxOpenConns
	}
	if maxIdle <= 0 {
		maxIdle = constants.DefaultPostgresMaxIdleConns
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return conn, nil
}

// AutoMigrate 建立資料表.
func AutoMigrate(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE TABLE IF NOT EXISTS participants (
            conversation_id TEXT REFERENCES conversations(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (conversation_id, user_id)
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL,
            sender_id TEXT NOT NULL,
            kind VARCHAR(10) NOT NULL CHECK (kind IN ('text', 'image', 'video', 'snap', 'system')),
            viewing_duration INT NOT NULL DEFAULT 0,
            max_replays INT NOT NULL DEFAULT 0 CHECK (max_replays >= 0),
            expires_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE TABLE IF NOT EXISTS view_records (
            message_id TEXT NOT NULL,
            viewer_id TEXT NOT NULL,
            first_viewed_at TIMESTAMPTZ,
            replay_count INT NOT NULL DEFAULT 0 CHECK (replay_count >= 0),
            last_viewing_started_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (message_id, viewer_id)
        )`,

		`CREATE TABLE IF NOT EXISTS screenshot_events (
            id TEXT PRIMARY KEY,
            message_id TEXT NOT NULL,
            conversation_id TEXT NOT NULL,
            owner_id TEXT NOT NULL,
            screenshotter_id TEXT NOT NULL,
            occurred_at TIMESTAMPTZ NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL,
            acknowledged_at TIMESTAMPTZ
        )`,

		`CREATE INDEX IF NOT EXISTS screenshot_events_owner_time_idx
            ON screenshot_events (owner_id, occurred_at DESC, id DESC)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
