package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/roomcast/internal/config"
)

// PGPools is the pool set used in production.
type PGPools = Pools[*pgx.Conn]

// DialPostgres opens a single pgx connection. It is the production Dialer.
func DialPostgres(ctx context.Context, address string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return conn, nil
}

// NewPostgresPools creates pools sized from cfg. Connections are dialed lazily.
func NewPostgresPools(cfg config.DatabaseConfig, logger *slog.Logger) *PGPools {
	return NewPools[*pgx.Conn](PoolConfig{
		MaxSize:     cfg.PoolSize,
		MaxAge:      cfg.MaxConnAge,
		PingTimeout: cfg.PingTimeout,
	}, DialPostgres, logger)
}
