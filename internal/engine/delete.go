package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bankcore/internal/domain"
	"bankcore/internal/store"
)

// DeleteAccount removes an account, its cards, and settles any remaining
// balance into system income, all in one transaction. It reports success
// only after a post-delete existence check confirms the row is gone.
func (e *Engine) DeleteAccount(ctx context.Context, id int64) error {
	if id <= 0 {
		return &ParameterError{Reason: "account id must be positive"}
	}

	err := e.withTx(ctx, "delete_account", func(tx pgx.Tx) error {
		return e.deleteAccountInTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	e.logger.Info().Int64("account", id).Msg("account deleted")
	return nil
}

// DeletePerson removes a person and cascades over every account they own:
// cards are deleted, positive balances are settled into system income, and
// the account rows are removed, before the person row itself goes. The
// whole cascade is one transaction; settlement reuses the in-transaction
// payment primitive rather than opening a nested transaction.
func (e *Engine) DeletePerson(ctx context.Context, id int64) error {
	if id <= 0 {
		return &ParameterError{Reason: "person id must be positive"}
	}

	err := e.withTx(ctx, "delete_person", func(tx pgx.Tx) error {
		if _, err := e.ledger.GetPerson(ctx, tx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &RuleError{Reason: fmt.Sprintf("person %d does not exist", id)}
			}
			return err
		}

		accounts, err := e.ledger.AccountsByOwner(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, acct := range accounts {
			if err := e.deleteAccountInTx(ctx, tx, acct.ID); err != nil {
				return err
			}
		}

		return e.ledger.DeletePersonRow(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	e.logger.Info().Int64("person", id).Msg("person deleted")
	return nil
}

// deleteAccountInTx runs the card purge, settlement, delete, and existence
// check for one account inside the caller's open transaction.
func (e *Engine) deleteAccountInTx(ctx context.Context, tx pgx.Tx, id int64) error {
	acct, err := e.ledger.GetAccountForUpdate(ctx, tx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &RuleError{Reason: fmt.Sprintf("account %d does not exist", id)}
	}
	if err != nil {
		return err
	}

	if _, err := e.ledger.DeleteCardsByAccount(ctx, tx, id); err != nil {
		return err
	}

	// Settlement must happen before the row goes: the balance is moved to
	// system income through the same primitives as any payment.
	if acct.Balance.IsPositive() {
		if err := e.transfer(ctx, tx, acct.Balance, id, domain.SystemIncomeID); err != nil {
			return err
		}
	}

	if err := e.ledger.DeleteAccount(ctx, tx, id); err != nil {
		return err
	}

	exists, err := e.ledger.AccountExists(ctx, tx, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("account %d still present after delete", id)
	}
	return nil
}
