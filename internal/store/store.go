// Package store executes parameterized reads and writes against the bank's
// Postgres schema. Every method takes a Querier so the caller decides the
// transactional scope: the transaction engine passes its open pgx.Tx, while
// the standalone wrappers borrow a connection from the pool for the duration
// of a single call.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bankcore/internal/pool"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic-concurrency check fails.
	ErrConflict = errors.New("concurrent modification")

	// ErrBlocked is returned when a status change is rejected because a
	// linked entity is blocked.
	ErrBlocked = errors.New("linked account is blocked")
)

// Querier is the statement surface shared by an open transaction and a
// pooled connection.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides database access backed by the connection pool.
type Repository struct {
	pool *pool.Pool
}

// NewRepository creates a Repository on top of an existing pool.
func NewRepository(p *pool.Pool) *Repository {
	return &Repository{pool: p}
}

// withConn borrows a connection for a single standalone call.
func (r *Repository) withConn(ctx context.Context, fn func(q Querier) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close(ctx)
	return fn(conn)
}

// Ping verifies that the pool can supply a usable connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.withConn(ctx, func(q Querier) error {
		var one int
		return q.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
}
