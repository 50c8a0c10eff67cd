// Package pgstore implements the engine's Store on Postgres via pgx.
// Transactions run at serializable isolation and retry on SQLSTATE 40001
// with capped exponential backoff.
package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketbot/internal/market"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	queries
	pool *pgxpool.Pool
	log  *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: queries{q: pool}, pool: pool, log: logger}
}

const maxTxAttempts = 8

// Transact runs fn in a serializable transaction, retrying serialization
// conflicts. fn may run more than once.
func (s *Store) Transact(ctx context.Context, fn func(tx market.Tx) error) error {
	retryDelay := 75 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(&queries{q: tx}); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		lastErr = err
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return lastErr
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Migrate creates the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

const ddl = `
CREATE SCHEMA IF NOT EXISTS market;

CREATE TABLE IF NOT EXISTS market.stocks (
    guild_id     TEXT NOT NULL,
    symbol       TEXT NOT NULL,
    name         TEXT NOT NULL,
    price        NUMERIC(20,4) NOT NULL,
    volatility   DOUBLE PRECISION NOT NULL DEFAULT 1,
    status       TEXT NOT NULL DEFAULT 'active',
    total_shares BIGINT NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (guild_id, symbol)
);

CREATE TABLE IF NOT EXISTS market.accounts (
    guild_id          TEXT NOT NULL,
    user_id           TEXT NOT NULL,
    balance           NUMERIC(20,4) NOT NULL,
    frozen            BOOLEAN NOT NULL DEFAULT false,
    trading_suspended BOOLEAN NOT NULL DEFAULT false,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (guild_id, user_id)
);

CREATE TABLE IF NOT EXISTS market.holdings (
    guild_id  TEXT NOT NULL,
    user_id   TEXT NOT NULL,
    symbol    TEXT NOT NULL,
    shares    BIGINT NOT NULL,
    avg_price NUMERIC(20,4) NOT NULL,
    PRIMARY KEY (guild_id, user_id, symbol)
);

CREATE TABLE IF NOT EXISTS market.stock_transactions (
    id           BIGSERIAL PRIMARY KEY,
    guild_id     TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    symbol       TEXT NOT NULL,
    side         TEXT NOT NULL,
    shares       BIGINT NOT NULL,
    price        NUMERIC(20,4) NOT NULL,
    total_amount NUMERIC(20,4) NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS stock_transactions_symbol_time
    ON market.stock_transactions (guild_id, symbol, created_at);

CREATE TABLE IF NOT EXISTS market.ledger_entries (
    id          BIGSERIAL PRIMARY KEY,
    tx_group_id TEXT NOT NULL,
    guild_id    TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    kind        TEXT NOT NULL,
    amount      NUMERIC(20,4) NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS market.candlesticks (
    guild_id  TEXT NOT NULL,
    symbol    TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    bucket    TIMESTAMPTZ NOT NULL,
    open      NUMERIC(20,4) NOT NULL,
    high      NUMERIC(20,4) NOT NULL,
    low       NUMERIC(20,4) NOT NULL,
    close     NUMERIC(20,4) NOT NULL,
    volume    BIGINT NOT NULL,
    PRIMARY KEY (guild_id, symbol, timeframe, bucket)
);

CREATE TABLE IF NOT EXISTS market.limit_orders (
    id              TEXT NOT NULL,
    guild_id        TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    symbol          TEXT NOT NULL,
    side            TEXT NOT NULL,
    shares          BIGINT NOT NULL,
    target_price    NUMERIC(20,4) NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    total_amount    NUMERIC(20,4) NOT NULL,
    reserved_amount NUMERIC(20,4) NOT NULL DEFAULT 0,
    expires_at      TIMESTAMPTZ NOT NULL,
    executed_price  NUMERIC(20,4),
    executed_shares BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (guild_id, id)
);
CREATE INDEX IF NOT EXISTS limit_orders_pending_symbol
    ON market.limit_orders (guild_id, symbol, status);
CREATE INDEX IF NOT EXISTS limit_orders_pending_expiry
    ON market.limit_orders (status, expires_at);
`
