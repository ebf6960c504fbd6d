package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the capability surface the pool needs from a physical database
// connection. *pgx.Conn satisfies it; tests substitute their own dialer.
type Conn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	IsClosed() bool
	Close(ctx context.Context) error
}

// DialFunc opens one physical database connection.
type DialFunc func(ctx context.Context) (Conn, error)

// PostgresDialer returns a DialFunc that opens pgx connections against the
// given database URL.
func PostgresDialer(databaseURL string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return conn, nil
	}
}

// PooledConn wraps a physical connection owned by a Pool. While checked out
// it belongs to the caller; Close returns it to the pool instead of closing
// the underlying connection. A PooledConn that is never closed is leaked.
type PooledConn struct {
	conn    Conn
	pool    *Pool
	checkin time.Time
	broken  bool
}

// BeginTx starts a transaction on the underlying connection.
func (pc *PooledConn) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	tx, err := pc.conn.BeginTx(ctx, opts)
	if err != nil {
		pc.broken = true
		return nil, err
	}
	return tx, nil
}

// Exec runs a statement outside any transaction.
func (pc *PooledConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pc.conn.Exec(ctx, sql, args...)
}

// Query runs a query outside any transaction.
func (pc *PooledConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return pc.conn.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query outside any transaction.
func (pc *PooledConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return pc.conn.QueryRow(ctx, sql, args...)
}

// MarkBroken flags the connection so Release discards it instead of
// recycling it. Used when a transaction left the connection in an
// indeterminate state.
func (pc *PooledConn) MarkBroken() {
	pc.broken = true
}

// Close returns the connection to its pool. It never fails: release
// housekeeping errors are logged by the pool and swallowed.
func (pc *PooledConn) Close(ctx context.Context) error {
	pc.pool.Release(ctx, pc)
	return nil
}
