// Package dal implements the relational sink and the read-side queries over
// the primary immunization dataset.
package dal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// runLockKey is the advisory lock key guarding at-most-one ETL run against
// the dataset table.
const runLockKey = 710525

// NewPool creates a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", maxConns).
		Int32("min_conns", minConns).
		Msg("Postgres connection pool initialized")

	return pool, nil
}

// lockConn is the slice of a pooled connection the run lock needs. Advisory
// locks are session-scoped, so every lock statement must run on this one
// connection, which stays out of the pool while the lock is held.
type lockConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// RunLock holds the advisory run lock on one dedicated connection until
// Release is called.
type RunLock struct {
	conn lockConn
}

// AcquireRunLock takes the advisory lock guarding ETL runs on a dedicated
// connection. It returns (nil, false, nil) when another run holds the lock;
// on success the returned RunLock keeps the connection checked out and must
// be Released when the run finishes.
func (m *DatasetModel) AcquireRunLock(ctx context.Context) (*RunLock, bool, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}
	return acquireRunLock(ctx, conn)
}

func acquireRunLock(ctx context.Context, conn lockConn) (*RunLock, bool, error) {
	var acquired bool
	err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", runLockKey).Scan(&acquired)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}
	return &RunLock{conn: conn}, true, nil
}

// Release unlocks the advisory lock on the connection that took it, then
// returns the connection to the pool. Safe to call once per acquired lock.
func (l *RunLock) Release(ctx context.Context) {
	if l.conn == nil {
		return
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	var released bool
	err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", runLockKey).Scan(&released)
	if err != nil {
		log.Error().Err(err).Msg("Failed to release run lock")
		return
	}
	if !released {
		log.Warn().Msg("Run lock was not held at release")
	}
}
