// Package db provides the PostgreSQL connection pool and pgtype helpers.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/config"
)

// Open creates a pgx connection pool from the Postgres config.
func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, DSN(cfg))
}
