package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolAdapter exposes the pool's health check behind a minimal interface so
// the HTTP layer does not depend on pgx.
type PoolAdapter struct {
	pool *pgxpool.Pool
}

func NewPoolAdapter(pool *pgxpool.Pool) *PoolAdapter {
	return &PoolAdapter{pool: pool}
}

func (a *PoolAdapter) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}
