package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/qrave1/LiveClass/internal/application/config"
)

// NewPostgres открывает пул для журнала чата. ConnectContext сам делает ping.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, "pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to transcript db: %w", err)
	}

	// клиент пишет по сообщению за раз, большой пул не нужен
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("transcript db connected", slog.Int("max_open_conns", cfg.MaxOpenConns))

	return db, nil
}
