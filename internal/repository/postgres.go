// Package repository implements the order and promotion repositories on top
// of PostgreSQL.
package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/db"
)

// DefaultConnectTimeout bounds how long NewPool waits for the database to
// accept connections.
const DefaultConnectTimeout = 30 * time.Second

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns. It retries the initial ping with exponential backoff
// for up to DefaultConnectTimeout.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}

	if err := waitReady(ctx, pool, DefaultConnectTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func waitReady(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	lg := zctx.From(ctx)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxElapsedTime = timeout

	err := backoff.RetryNotify(
		func() error { return pool.Ping(ctx) },
		backoff.WithContext(eb, ctx),
		func(err error, next time.Duration) {
			lg.Warn("Database not ready", zap.Error(err), zap.Duration("retry_in", next))
		},
	)
	if err != nil {
		return errors.Wrap(err, "ping database")
	}
	return nil
}

// RunMigrations executes the embedded migrations in file name order. Every
// migration is idempotent, so running them on each start is safe.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ms, err := db.Migrations()
	if err != nil {
		return err
	}
	for _, m := range ms {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return errors.Wrapf(err, "run migration %s", m.Name)
		}
		zctx.From(ctx).Debug("Migration applied", zap.String("name", m.Name))
	}
	return nil
}
