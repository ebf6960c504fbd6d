package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
)

// RecordPayment appends one immutable ledger row inside the caller's open
// transaction; it never opens its own. The amount is always written at
// two-decimal half-up scale regardless of the scale passed in. Ledger rows
// are never updated or deleted afterwards.
func (r *Repository) RecordPayment(ctx context.Context, q Querier, p *domain.Payment) error {
	if p == nil {
		return fmt.Errorf("record payment: payment is nil")
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("record payment: amount %s is not positive", p.Amount)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO payments (id, amount, payer_id, receiver_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, domain.Scale(p.Amount), p.PayerID, p.ReceiverID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// PaymentsByAccount returns the most recent ledger rows where the account
// is payer or receiver.
func (r *Repository) PaymentsByAccount(ctx context.Context, q Querier, accountID int64, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := q.Query(ctx, `
		SELECT id, amount, payer_id, receiver_id, created_at
		FROM payments
		WHERE payer_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.Amount, &p.PayerID, &p.ReceiverID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return payments, nil
}

// SumTopUpsSince returns the total amount credited to an account from the
// system income sentinel since the given time. Used to enforce the
// per-period top-up limit.
func (r *Repository) SumTopUpsSince(ctx context.Context, q Querier, accountID int64, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE payer_id = $1 AND receiver_id = $2 AND created_at >= $3
	`, domain.SystemIncomeID, accountID, since).Scan(&sum)
	if err != nil {
		return sum, fmt.Errorf("sum top-ups: %w", err)
	}
	return sum, nil
}

// ListPaymentsByAccount is the standalone form of PaymentsByAccount.
func (r *Repository) ListPaymentsByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := r.withConn(ctx, func(q Querier) error {
		var err error
		payments, err = r.PaymentsByAccount(ctx, q, accountID, limit)
		return err
	})
	return payments, err
}
