package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
)

const accountColumns = "id, owner_id, balance, status, registered_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acct domain.Account
	var status string
	err := row.Scan(&acct.ID, &acct.OwnerID, &acct.Balance, &status, &acct.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	acct.Status = domain.AccountStatus(status)
	return &acct, nil
}

// GetAccount returns the account with the given id.
func (r *Repository) GetAccount(ctx context.Context, q Querier, id int64) (*domain.Account, error) {
	return scanAccount(q.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

// GetAccountForUpdate returns the account with its row locked for the
// duration of the caller's transaction. Callers locking several accounts
// must lock them in ascending id order to avoid deadlock.
func (r *Repository) GetAccountForUpdate(ctx context.Context, q Querier, id int64) (*domain.Account, error) {
	return scanAccount(q.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
}

// AddToBalance applies a signed delta to an account balance and returns the
// resulting balance. A delta that would drive the balance negative fails the
// schema's non-negative constraint and surfaces as an error.
func (r *Repository) AddToBalance(ctx context.Context, q Querier, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance",
		domain.Scale(delta), id,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("update balance: %w", err)
	}
	return balance, nil
}

// CreateAccount inserts a new account for an owner and returns its id.
func (r *Repository) CreateAccount(ctx context.Context, q Querier, ownerID int64) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		"INSERT INTO accounts (owner_id) VALUES ($1) RETURNING id", ownerID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// AccountsByOwner returns all accounts owned by a person, oldest first.
func (r *Repository) AccountsByOwner(ctx context.Context, q Querier, ownerID int64) ([]domain.Account, error) {
	rows, err := q.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE owner_id = $1 ORDER BY id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var acct domain.Account
		var status string
		if err := rows.Scan(&acct.ID, &acct.OwnerID, &acct.Balance, &status, &acct.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acct.Status = domain.AccountStatus(status)
		accounts = append(accounts, acct)
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return accounts, nil
}

// CountAccountsByOwner returns the number of accounts a person owns.
func (r *Repository) CountAccountsByOwner(ctx context.Context, q Querier, ownerID int64) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		"SELECT COUNT(*) FROM accounts WHERE owner_id = $1", ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// DeleteAccount removes an account row.
func (r *Repository) DeleteAccount(ctx context.Context, q Querier, id int64) error {
	tag, err := q.Exec(ctx, "DELETE FROM accounts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AccountExists checks if an account with the given id exists.
func (r *Repository) AccountExists(ctx context.Context, q Querier, id int64) (bool, error) {
	var count int
	err := q.QueryRow(ctx,
		"SELECT COUNT(*) FROM accounts WHERE id = $1", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return count > 0, nil
}

// SetAccountStatus flips an account's status. Status changes move no money
// and may run outside the transaction engine.
func (r *Repository) SetAccountStatus(ctx context.Context, q Querier, id int64, status domain.AccountStatus) error {
	tag, err := q.Exec(ctx,
		"UPDATE accounts SET status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AccountByID is the standalone form of GetAccount.
func (r *Repository) AccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	var acct *domain.Account
	err := r.withConn(ctx, func(q Querier) error {
		var err error
		acct, err = r.GetAccount(ctx, q, id)
		return err
	})
	return acct, err
}

// UpdateAccountStatus is the standalone form of SetAccountStatus.
func (r *Repository) UpdateAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	return r.withConn(ctx, func(q Querier) error {
		return r.SetAccountStatus(ctx, q, id, status)
	})
}

// ListAccountsByOwner is the standalone form of AccountsByOwner.
func (r *Repository) ListAccountsByOwner(ctx context.Context, ownerID int64) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.withConn(ctx, func(q Querier) error {
		var err error
		accounts, err = r.AccountsByOwner(ctx, q, ownerID)
		return err
	})
	return accounts, err
}
