package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
)

// The system income balance lives in a single-row table and is mutated only
// through the same debit/credit primitives as customer accounts, keyed by
// the domain.SystemIncomeID sentinel.

// AddToIncome applies a signed delta to the system income balance and
// returns the resulting balance.
func (r *Repository) AddToIncome(ctx context.Context, q Querier, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx,
		"UPDATE system_income SET balance = balance + $1 WHERE id = 1 RETURNING balance",
		domain.Scale(delta),
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("update income: %w", err)
	}
	return balance, nil
}

// IncomeBalance returns the accumulated system income.
func (r *Repository) IncomeBalance(ctx context.Context, q Querier) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx, "SELECT balance FROM system_income WHERE id = 1").Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get income: %w", err)
	}
	return balance, nil
}

// SystemIncome is the standalone form of IncomeBalance.
func (r *Repository) SystemIncome(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.withConn(ctx, func(q Querier) error {
		var err error
		balance, err = r.IncomeBalance(ctx, q)
		return err
	})
	return balance, err
}
