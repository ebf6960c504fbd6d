package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bankcore/internal/domain"
)

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

// fakeQuerier serves canned results for single-statement repository calls.
type fakeQuerier struct {
	row     pgx.Row
	tag     pgconn.CommandTag
	execErr error
}

func (q fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return q.tag, q.execErr
}

func (q fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeQuerier: queries not supported")
}

func (q fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.row
}

func TestSetCardStatusMissingCardOnActivate(t *testing.T) {
	r := NewRepository(nil)

	// Activation looks up the linked account first; a card that does not
	// exist must surface as not-found, not as a lookup failure.
	q := fakeQuerier{row: errRow{err: pgx.ErrNoRows}}
	err := r.SetCardStatus(context.Background(), q, "no-such-card", domain.CardActive)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetCardStatusMissingCardOnDeactivate(t *testing.T) {
	r := NewRepository(nil)

	// Deactivation skips the account lookup; a zero-row update means the
	// card does not exist.
	q := fakeQuerier{}
	err := r.SetCardStatus(context.Background(), q, "no-such-card", domain.CardBlocked)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
