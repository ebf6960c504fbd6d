package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bankcore/internal/domain"
)

const personColumns = "id, login, password_hash, role, status, registered_at"

func scanPerson(row pgx.Row) (*domain.Person, error) {
	var p domain.Person
	var role, status string
	err := row.Scan(&p.ID, &p.Login, &p.PasswordHash, &role, &status, &p.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan person: %w", err)
	}
	p.Role = domain.Role(role)
	p.Status = domain.PersonStatus(status)
	return &p, nil
}

// GetPerson returns the person with the given id.
func (r *Repository) GetPerson(ctx context.Context, q Querier, id int64) (*domain.Person, error) {
	return scanPerson(q.QueryRow(ctx,
		"SELECT "+personColumns+" FROM persons WHERE id = $1", id))
}

// CreatePerson inserts a new person and returns its id.
func (r *Repository) CreatePerson(ctx context.Context, q Querier, p *domain.Person) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		"INSERT INTO persons (login, password_hash, role, status) VALUES ($1, $2, $3, $4) RETURNING id",
		p.Login, p.PasswordHash, string(p.Role), string(p.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create person: %w", err)
	}
	return id, nil
}

// UpdatePerson updates a person's mutable fields. expectedHash is the
// optimistic-concurrency token computed from the person as last read; if
// the row has changed since, the update is rejected with ErrConflict and
// nothing is written.
func (r *Repository) UpdatePerson(ctx context.Context, q Querier, p *domain.Person, expectedHash string) error {
	current, err := r.GetPerson(ctx, q, p.ID)
	if err != nil {
		return err
	}
	if current.ConcurrencyHash() != expectedHash {
		return fmt.Errorf("%w: person %d changed since read", ErrConflict, p.ID)
	}
	_, err = q.Exec(ctx,
		"UPDATE persons SET login = $1, password_hash = $2, role = $3, status = $4 WHERE id = $5",
		p.Login, p.PasswordHash, string(p.Role), string(p.Status), p.ID)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	return nil
}

// DeletePersonRow removes a person row. Accounts and cards must already be
// gone: the schema's foreign keys reject orphaning them.
func (r *Repository) DeletePersonRow(ctx context.Context, q Querier, id int64) error {
	tag, err := q.Exec(ctx, "DELETE FROM persons WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePersonProfile is the standalone form of UpdatePerson.
func (r *Repository) UpdatePersonProfile(ctx context.Context, p *domain.Person, expectedHash string) error {
	return r.withConn(ctx, func(q Querier) error {
		return r.UpdatePerson(ctx, q, p, expectedHash)
	})
}

// PersonByID is the standalone form of GetPerson.
func (r *Repository) PersonByID(ctx context.Context, id int64) (*domain.Person, error) {
	var p *domain.Person
	err := r.withConn(ctx, func(q Querier) error {
		var err error
		p, err = r.GetPerson(ctx, q, id)
		return err
	})
	return p, err
}
