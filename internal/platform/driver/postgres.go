package driver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/storage/postgres"
)

var postgresDB *sql.DB

// InitPostgres 連接 PostgreSQL 並建立資料表.
func InitPostgres(ctx context.Context, cfg config.PostgresConfig) error {
	db, err := postgres.Open(cfg.DSN, postgres.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnectTimeout:  time.Duration(cfg.ConnectTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := postgres.AutoMigrate(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("PostgreSQL migration failed: %w", err)
	}

	postgresDB = db
	logger.Info(ctx, "PostgreSQL connected, schema ready")
	return nil
}

// GetPostgresDB 獲取 PostgreSQL 連線池.
func GetPostgresDB() *sql.DB {
	return postgresDB
}

// PingPostgres 健康檢查用.
func PingPostgres(ctx context.Context) error {
	if postgresDB == nil {
		return fmt.Errorf("PostgreSQL 未連接")
	}
	return postgresDB.PingContext(ctx)
}

// ClosePostgres 關閉連線池.
func ClosePostgres() error {
	if postgresDB == nil {
		return nil
	}
	err := postgresDB.Close()
	postgresDB = nil
	return err
}
