package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"filecollection/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// Connect 建立到 PostgreSQL 的连接，启动阶段数据库未就绪时按固定间隔重试。
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	for attempt := 1; ; attempt++ {
		err = ping(ctx, db)
		if err == nil {
			return db, nil
		}
		if attempt == connectAttempts {
			break
		}
		logger.Warn("postgres not ready", "attempt", attempt, "host", cfg.DBHost, "error", err)

		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff * time.Duration(attempt)):
		}
	}

	db.Close()
	return nil, fmt.Errorf("ping postgres: %w", err)
}

func ping(ctx context.Context, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(pingCtx)
}
