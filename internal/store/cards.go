package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bankcore/internal/domain"
)

const cardColumns = "id, owner_id, account_id, network, code_hash, expires_at, status"

// CreateCard inserts a card record. The verification code must already be
// hashed; plaintext codes never reach this layer.
func (r *Repository) CreateCard(ctx context.Context, q Querier, card *domain.Card) error {
	_, err := q.Exec(ctx, `
		INSERT INTO cards (id, owner_id, account_id, network, code_hash, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, card.ID, card.OwnerID, card.AccountID, string(card.Network),
		card.CodeHash, card.ExpiresAt, string(card.Status))
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	return nil
}

// CountCardsByAccount returns the number of cards linked to an account.
func (r *Repository) CountCardsByAccount(ctx context.Context, q Querier, accountID int64) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		"SELECT COUNT(*) FROM cards WHERE account_id = $1", accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return count, nil
}

// DeleteCardsByAccount removes all cards linked to an account and returns
// how many were deleted.
func (r *Repository) DeleteCardsByAccount(ctx context.Context, q Querier, accountID int64) (int64, error) {
	tag, err := q.Exec(ctx, "DELETE FROM cards WHERE account_id = $1", accountID)
	if err != nil {
		return 0, fmt.Errorf("delete cards: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CardsByAccount returns all cards linked to an account.
func (r *Repository) CardsByAccount(ctx context.Context, q Querier, accountID int64) ([]domain.Card, error) {
	rows, err := q.Query(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE account_id = $1 ORDER BY expires_at", accountID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		var c domain.Card
		var network, status string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.AccountID, &network, &c.CodeHash, &c.ExpiresAt, &status); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		c.Network = domain.CardNetwork(network)
		c.Status = domain.CardStatus(status)
		cards = append(cards, c)
	}
	if cards == nil {
		cards = []domain.Card{}
	}
	return cards, nil
}

// SetCardStatus flips a card's status. A card may be active only while its
// linked account is not blocked; activating a card on a blocked account is
// rejected.
func (r *Repository) SetCardStatus(ctx context.Context, q Querier, id string, status domain.CardStatus) error {
	if status == domain.CardActive {
		var accountStatus string
		err := q.QueryRow(ctx, `
			SELECT a.status FROM accounts a
			JOIN cards c ON c.account_id = a.id
			WHERE c.id = $1
		`, id).Scan(&accountStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check linked account: %w", err)
		}
		if domain.AccountStatus(accountStatus) == domain.AccountBlocked {
			return fmt.Errorf("card %s: %w", id, ErrBlocked)
		}
	}
	tag, err := q.Exec(ctx,
		"UPDATE cards SET status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("set card status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCardStatus is the standalone form of SetCardStatus.
func (r *Repository) UpdateCardStatus(ctx context.Context, id string, status domain.CardStatus) error {
	return r.withConn(ctx, func(q Querier) error {
		return r.SetCardStatus(ctx, q, id, status)
	})
}

// ListCardsByAccount is the standalone form of CardsByAccount.
func (r *Repository) ListCardsByAccount(ctx context.Context, accountID int64) ([]domain.Card, error) {
	var cards []domain.Card
	err := r.withConn(ctx, func(q Querier) error {
		var err error
		cards, err = r.CardsByAccount(ctx, q, accountID)
		return err
	})
	return cards, err
}
